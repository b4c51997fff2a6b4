package websocket

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/luciancaetano/tether"
)

// ServerConnectionID is the connection ID a dialed transport reports for its only connection.
const ServerConnectionID = "server"

// DialConfig configures the client side of a connection.
type DialConfig struct {
	Header           http.Header
	HandshakeTimeout time.Duration
	Events           EventHandler
	Logger           logrus.FieldLogger
}

// ClientTransport is a transport holding a single connection to a server.
type ClientTransport struct {
	conn   *Connection
	events EventHandler
	log    logrus.FieldLogger
	start  sync.Once
	done   chan struct{}
}

// Dial connects to url. Events must be set. No frame is read until Start is called.
func Dial(ctx context.Context, url string, cfg *DialConfig) (*ClientTransport, error) {
	if cfg == nil || cfg.Events == nil {
		return nil, fmt.Errorf("dial %s: no event handler configured", url)
	}

	timeout := cfg.HandshakeTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	dialer := &websocket.Dialer{
		HandshakeTimeout: timeout,
	}

	wsConn, resp, err := dialer.DialContext(ctx, url, cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	log := cfg.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}

	t := &ClientTransport{
		conn:   NewConnection(wsConn, ServerConnectionID, wsConn.RemoteAddr().String(), nil),
		events: cfg.Events,
		log:    log.WithField("url", url),
		done:   make(chan struct{}),
	}

	return t, nil
}

// Start reports the connection to the event handler and starts delivering frames
// from a background goroutine.
func (t *ClientTransport) Start() {
	t.start.Do(func() {
		t.events.OnConnect(ServerConnectionID)
		go t.run()
	})
}

func (t *ClientTransport) run() {
	defer func() {
		t.events.OnDisconnect(ServerConnectionID)
		t.conn.Close(context.Background())
		close(t.done)
		t.log.Info("Disconnected from server")
	}()

	readLoop(t.conn, t.events, t.log)
}

// SendRaw queues an encoded frame for the server.
func (t *ClientTransport) SendRaw(ctx context.Context, connectionID string, data []byte) error {
	if connectionID != ServerConnectionID {
		return fmt.Errorf("%w: %s", tether.ErrUnknownConnection, connectionID)
	}
	return t.conn.Send(ctx, data)
}

// Close closes the connection and waits for the read loop to finish.
func (t *ClientTransport) Close(ctx context.Context) error {
	err := t.conn.Close(ctx)
	// Never started: no read loop will close done.
	t.start.Do(func() { close(t.done) })
	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// Done is closed once the connection is gone and OnDisconnect has returned.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.done
}
