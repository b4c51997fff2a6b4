package ws

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/luciancaetano/tether"
	"github.com/luciancaetano/tether/internal/dispatch"
	"github.com/luciancaetano/tether/internal/timesync"
	"github.com/luciancaetano/tether/internal/websocket"
)

// DialOptions configures a peer created by Dial.
type DialOptions struct {
	// Header is sent with the handshake request.
	Header http.Header
	// HandshakeTimeout defaults to five seconds.
	HandshakeTimeout time.Duration
	// Handlers are registered before the first frame is read.
	Handlers map[string]tether.HandlerFunc
	Logger   logrus.FieldLogger
	Clock    tether.Clock
}

type peer struct {
	d *dispatch.Dispatcher
	t *websocket.ClientTransport
}

// Dial connects to a tether server at url, e.g. "ws://localhost:8080/ws".
//
// The peer answers the server's time sync requests on its own. Handlers that must see the
// first requests of the server belong in opts.Handlers.
func Dial(ctx context.Context, url string, opts *DialOptions) (tether.Peer, error) {
	if opts == nil {
		opts = &DialOptions{}
	}

	d := dispatch.New(dispatch.Config{Clock: opts.Clock, Logger: opts.Logger})
	if err := d.RegisterHandler(timesync.MessageType, timesync.Handler()); err != nil {
		return nil, err
	}
	for msgType, fn := range opts.Handlers {
		if err := d.RegisterHandler(msgType, fn); err != nil {
			return nil, fmt.Errorf("registering %s: %w", msgType, err)
		}
	}

	t, err := websocket.Dial(ctx, url, &websocket.DialConfig{
		Header:           opts.Header,
		HandshakeTimeout: opts.HandshakeTimeout,
		Events:           d,
		Logger:           opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	d.SetTransport(t)
	t.Start()

	return &peer{d: d, t: t}, nil
}

func (p *peer) RegisterHandler(msgType string, fn tether.HandlerFunc) error {
	return p.d.RegisterHandler(msgType, fn)
}

func (p *peer) Send(ctx context.Context, msgType string, data any, cb tether.Callback) (string, error) {
	return p.d.Send(ctx, websocket.ServerConnectionID, msgType, data, cb)
}

func (p *peer) Close(ctx context.Context) error {
	return p.t.Close(ctx)
}

func (p *peer) Done() <-chan struct{} {
	return p.t.Done()
}
