package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/tether"
	"github.com/luciancaetano/tether/internal/protocol"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
	sendBuffer   = 256
)

// Connection is one WebSocket connection with its own write pump.
type Connection struct {
	id          string
	conn        *websocket.Conn
	remoteAddr  string
	ctx         context.Context
	cancel      context.CancelFunc
	sendCh      chan []byte
	mu          sync.RWMutex
	closed      bool
	rateLimiter *rate.Limiter // Rate limiter for incoming messages
}

// NewConnection wraps conn and starts its write pump.
func NewConnection(conn *websocket.Conn, id, remoteAddr string, rateLimitConfig *RateLimitConfig) *Connection {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Connection{
		id:          id,
		conn:        conn,
		remoteAddr:  remoteAddr,
		ctx:         ctx,
		cancel:      cancel,
		sendCh:      make(chan []byte, sendBuffer),
		rateLimiter: newLimiter(rateLimitConfig),
	}

	conn.SetReadLimit(protocol.MaxFrameSize)

	go c.writePump()

	return c
}

// newLimiter returns nil when rate limiting is disabled.
func newLimiter(cfg *RateLimitConfig) *rate.Limiter {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return rate.NewLimiter(cfg.MessagesPerSecond, cfg.Burst)
}

// ID returns the identifier assigned to the connection.
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr returns the peer's network address.
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// Context returns the connection's lifecycle context, cancelled when it closes.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Send queues an encoded frame for delivery.
func (c *Connection) Send(ctx context.Context, frame []byte) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return fmt.Errorf("%w: %s", tether.ErrConnectionClosed, c.id)
	}

	// Keep the lock while sending to prevent race with Close()
	select {
	case c.sendCh <- frame:
		c.mu.RUnlock()
		return nil
	case <-ctx.Done():
		c.mu.RUnlock()
		return ctx.Err()
	case <-c.ctx.Done():
		c.mu.RUnlock()
		return fmt.Errorf("%w: %s", tether.ErrConnectionClosed, c.id)
	}
}

// Close closes the connection gracefully.
func (c *Connection) Close(ctx context.Context) error {
	return c.CloseWithCode(ctx, websocket.CloseNormalClosure, "")
}

// CloseWithCode closes the connection with a close code and optional reason
func (c *Connection) CloseWithCode(ctx context.Context, code int, reason string) error {
	// Cancel first so a Send blocked on a full buffer releases its read lock.
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	message := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(time.Second)
	c.conn.WriteControl(websocket.CloseMessage, message, deadline)

	close(c.sendCh)

	// The write pump may have closed the socket already.
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// IsAlive returns true if the connection is still active. A connection whose write
// pump failed is no longer alive even before Close is called.
func (c *Connection) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed && c.ctx.Err() == nil
}

// CheckRateLimit reports whether another inbound frame is allowed.
func (c *Connection) CheckRateLimit() bool {
	if c.rateLimiter == nil {
		return true
	}
	return c.rateLimiter.Allow()
}

// writePump pumps frames from the send channel to the websocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		// Nothing drains sendCh any more; unblock senders.
		c.cancel()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}
