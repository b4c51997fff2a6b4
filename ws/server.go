package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/luciancaetano/tether"
	"github.com/luciancaetano/tether/internal/dispatch"
	"github.com/luciancaetano/tether/internal/timesync"
	"github.com/luciancaetano/tether/internal/websocket"
)

type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn
type OnConnectFn = websocket.OnConnectFn
type OnDisconnectFn = websocket.OnClientDisconnectFn
type Connection = websocket.Connection

// Config configures a server created by New.
type Config struct {
	// Addr is the listen address used by Start, e.g. ":8080".
	Addr string
	// Path accepting WebSocket upgrades. Defaults to "/ws".
	Path string
	// RateLimit limits inbound frames per connection. Nil selects DefaultRateLimitConfig().
	RateLimit *RateLimitConfig
	// CheckOrigin validates the Origin header. Nil accepts same-origin requests only.
	CheckOrigin CheckOriginFn
	// OnConnect runs after a connection is registered and before its first message is read.
	OnConnect OnConnectFn
	// OnDisconnect runs after a connection is gone.
	OnDisconnect OnDisconnectFn
	// TimeSyncInterval enables periodic round trip measurement. Zero disables it.
	TimeSyncInterval time.Duration
	// Logger receives the server logs. Nil discards them.
	Logger logrus.FieldLogger
	// Clock stamps outgoing requests. Nil measures uptime from New.
	Clock tether.Clock
}

// NewConfig returns a configuration with the most common options set.
func NewConfig(addr string, rateLimitConfig *RateLimitConfig, checkOrigin CheckOriginFn, onConnect OnConnectFn, onDisconnect OnDisconnectFn) *Config {
	return &Config{
		Addr:         addr,
		RateLimit:    rateLimitConfig,
		CheckOrigin:  checkOrigin,
		OnConnect:    onConnect,
		OnDisconnect: onDisconnect,
	}
}

type server struct {
	*dispatch.Dispatcher

	transport *websocket.Server
	syncer    *timesync.Syncer

	mu         sync.Mutex
	cancelSync context.CancelFunc
}

// New creates a WebSocket server.
//
// The returned server also implements http.Handler, so it can be mounted on an existing
// mux instead of calling Start.
//
// Example:
//
//	server := ws.New(ws.NewConfig(":8080", ws.DefaultRateLimitConfig(), ws.AllOrigins(), func(conn *ws.Connection) {
//	    log.Printf("Client connected: %s", conn.ID())
//	}, nil))
func New(cfg *Config) tether.Server {
	if cfg == nil {
		cfg = &Config{}
	}

	d := dispatch.New(dispatch.Config{Clock: cfg.Clock, Logger: cfg.Logger})
	transport := websocket.New(&websocket.ServerConfig{
		Addr:               cfg.Addr,
		Path:               cfg.Path,
		RateLimitConfig:    cfg.RateLimit,
		CheckOrigin:        cfg.CheckOrigin,
		OnConnect:          cfg.OnConnect,
		OnClientDisconnect: cfg.OnDisconnect,
		Events:             d,
		Logger:             cfg.Logger,
	})
	d.SetTransport(transport)

	return &server{
		Dispatcher: d,
		transport:  transport,
		syncer:     timesync.New(d, d.Clock(), cfg.TimeSyncInterval, cfg.Logger),
	}
}

// Start listens on the configured address and starts the time sync loop. Both stop
// when ctx is done or Stop is called.
func (s *server) Start(ctx context.Context) error {
	if err := s.transport.Start(ctx); err != nil {
		return err
	}

	syncCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelSync = cancel
	s.mu.Unlock()

	go s.syncer.Run(syncCtx)
	return nil
}

// Stop stops the time sync loop and closes every connection.
func (s *server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cancelSync != nil {
		s.cancelSync()
		s.cancelSync = nil
	}
	s.mu.Unlock()

	return s.transport.Stop(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.transport.ServeHTTP(w, r)
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}
