package websocket

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/tether"
)

// DefaultPath is the HTTP path on which the server accepts WebSocket upgrades.
const DefaultPath = "/ws"

// EventHandler receives the lifecycle events of every connection.
//
// OnConnect is called once before the first OnMessage. OnMessage is called sequentially
// for a connection, in the order frames arrive. OnDisconnect is called exactly once,
// after the last OnMessage.
type EventHandler interface {
	OnConnect(connectionID string)
	OnMessage(connectionID string, data []byte)
	OnDisconnect(connectionID string)
}

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
// Use this to implement CORS policies for your WebSocket server.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is an optional observer called when a new connection has been registered
// and before its first message is read. It is the place to send welcome messages.
//
// Note: This function is called synchronously during connection setup.
// Avoid long-running operations that could block the connection.
type OnConnectFn = func(conn *Connection)

// OnClientDisconnectFn is an optional observer called after a connection has been removed.
// voluntary is true when the peer closed the connection or the read side failed, and
// false when the server closed it or a write to the peer failed.
type OnClientDisconnectFn = func(conn *Connection, voluntary bool)

// ServerConfig configures the transport.
type ServerConfig struct {
	Addr               string
	Path               string
	RateLimitConfig    *RateLimitConfig
	CheckOrigin        CheckOriginFn
	OnConnect          OnConnectFn
	OnClientDisconnect OnClientDisconnectFn
	Events             EventHandler
	Logger             logrus.FieldLogger
}

// RateLimitConfig defines rate limiting configuration for connections
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a client can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// Server accepts WebSocket connections and reports their events to an EventHandler.
type Server struct {
	addr   string
	path   string
	server *http.Server
	conns  sync.Map // map[string]*Connection
	events EventHandler
	log    logrus.FieldLogger

	rateLimitConfig *RateLimitConfig

	mu           sync.RWMutex
	running      bool
	stopped      chan struct{}
	upgrader     websocket.Upgrader
	onConnect    OnConnectFn
	onDisconnect OnClientDisconnectFn
}

// New creates a new WebSocket server instance with the specified configuration.
//
// A nil RateLimitConfig selects DefaultRateLimitConfig(). An empty Path selects DefaultPath.
// The server uses the Gorilla WebSocket library with read/write buffer sizes of 1024 bytes.
func New(cfg *ServerConfig) *Server {
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = DefaultRateLimitConfig()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}

	log := cfg.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}

	return &Server{
		addr:            cfg.Addr,
		path:            cfg.Path,
		events:          cfg.Events,
		log:             log,
		rateLimitConfig: cfg.RateLimitConfig,
		onConnect:       cfg.OnConnect,
		onDisconnect:    cfg.OnClientDisconnect,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

// SetEvents sets the receiver of connection events. It must be called before Start.
func (s *Server) SetEvents(events EventHandler) {
	s.events = events
}

// Start starts the WebSocket server
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return tether.ErrServerAlreadyRunning
	}
	s.running = true
	stopped := make(chan struct{})
	s.stopped = stopped
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.Handle(s.path, s)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Check for immediate startup errors with a small timeout
	select {
	case err := <-errChan:
		// Reset running state without calling Stop to avoid deadlock
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(stopCtx)
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		s.log.WithFields(logrus.Fields{"addr": s.addr, "path": s.path}).Info("WebSocket server listening")
		go s.stopOnDone(ctx, stopped)
		return nil
	}
}

// stopOnDone stops the server when ctx ends, unless Stop was called first.
func (s *Server) stopOnDone(ctx context.Context, stopped <-chan struct{}) {
	select {
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Stop(stopCtx); err != nil {
			s.log.WithError(err).Warn("Failed to stop server")
		}
	case <-stopped:
	}
}

// Stop stops the WebSocket server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopped)
	s.mu.Unlock()

	s.conns.Range(func(key, value interface{}) bool {
		if conn, ok := value.(*Connection); ok {
			conn.CloseWithCode(ctx, websocket.CloseGoingAway, "server shutting down")
		}
		return true
	})

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an error response.
		s.log.WithField("remote_addr", r.RemoteAddr).WithError(err).Debug("Failed to upgrade connection")
		return
	}

	conn := NewConnection(wsConn, uuid.NewString(), r.RemoteAddr, s.rateLimitConfig)
	s.conns.Store(conn.ID(), conn)

	go s.handleConnection(conn)
}

// handleConnection reads frames from a connection until it closes
func (s *Server) handleConnection(conn *Connection) {
	entry := s.log.WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"remote_addr":   conn.RemoteAddr(),
	})

	if s.events != nil {
		s.events.OnConnect(conn.ID())
	}
	entry.Info("Client connected")

	defer func() {
		voluntary := conn.IsAlive()

		s.conns.Delete(conn.ID())
		if s.events != nil {
			s.events.OnDisconnect(conn.ID())
		}
		if s.onDisconnect != nil {
			s.onDisconnect(conn, voluntary)
		}
		conn.Close(context.Background())
		entry.WithField("voluntary", voluntary).Info("Client disconnected")
	}()

	if s.onConnect != nil {
		s.onConnect(conn)
	}

	readLoop(conn, s.events, entry)
}

// readLoop delivers frames to events until the connection fails or is closed.
func readLoop(conn *Connection, events EventHandler, entry logrus.FieldLogger) {
	conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.conn.SetPongHandler(func(string) error {
		conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		select {
		case <-conn.Context().Done():
			return
		default:
			_, data, err := conn.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					entry.WithError(err).Warn("Unexpected WebSocket close error")
				}
				return
			}

			conn.conn.SetReadDeadline(time.Now().Add(readTimeout))

			if !conn.CheckRateLimit() {
				entry.Warn("Rate limit exceeded")
				conn.CloseWithCode(context.Background(), websocket.ClosePolicyViolation, "Rate limit exceeded")
				return
			}

			if events != nil {
				events.OnMessage(conn.ID(), data)
			}
		}
	}
}

// GetConnection returns a connection by ID
func (s *Server) GetConnection(id string) (*Connection, bool) {
	if conn, ok := s.conns.Load(id); ok {
		return conn.(*Connection), true
	}
	return nil, false
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	n := 0
	s.conns.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// SendRaw queues an encoded frame for the connection.
func (s *Server) SendRaw(ctx context.Context, connectionID string, data []byte) error {
	conn, ok := s.GetConnection(connectionID)
	if !ok {
		return fmt.Errorf("%w: %s", tether.ErrUnknownConnection, connectionID)
	}
	return conn.Send(ctx, data)
}
