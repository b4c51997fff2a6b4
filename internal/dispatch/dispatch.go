// Package dispatch routes decoded envelopes to pending callbacks or registered handlers,
// and sends correlated messages to one, many or all connections.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/luciancaetano/tether"
	"github.com/luciancaetano/tether/internal/handlers"
	"github.com/luciancaetano/tether/internal/idgen"
	"github.com/luciancaetano/tether/internal/protocol"
	"github.com/luciancaetano/tether/internal/registry"
	"github.com/luciancaetano/tether/internal/uptime"
)

var errInvalidRawPayload = errors.New("invalid raw JSON payload")

// Transport delivers encoded frames to a connection.
type Transport interface {
	SendRaw(ctx context.Context, connectionID string, data []byte) error
}

// Config holds the collaborators of a Dispatcher. Only Transport is required.
type Config struct {
	Transport Transport
	Registry  *registry.Registry
	Handlers  *handlers.Table
	Clock     tether.Clock
	IDs       idgen.Generator
	Logger    logrus.FieldLogger
}

// Dispatcher implements the inbound state machine and the outbound send paths.
//
// OnMessage must not be called concurrently for the same connection; the transport runs
// one read loop per connection, which keeps messages of a connection in receipt order.
type Dispatcher struct {
	transport Transport
	registry  *registry.Registry
	handlers  *handlers.Table
	clock     tether.Clock
	ids       idgen.Generator
	log       logrus.FieldLogger

	sessions sync.Map // map[string]*session
}

// session carries the lifetime of a connection to its handlers.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a dispatcher. Missing collaborators get their default implementation.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		transport: cfg.Transport,
		registry:  cfg.Registry,
		handlers:  cfg.Handlers,
		clock:     cfg.Clock,
		ids:       cfg.IDs,
		log:       cfg.Logger,
	}

	if d.registry == nil {
		d.registry = registry.New()
	}
	if d.handlers == nil {
		d.handlers = handlers.New()
	}
	if d.clock == nil {
		d.clock = uptime.New()
	}
	if d.ids == nil {
		d.ids = idgen.New()
	}
	if d.log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		d.log = discard
	}
	return d
}

// SetTransport replaces the transport. It must be called before the first connection.
func (d *Dispatcher) SetTransport(t Transport) {
	d.transport = t
}

// RegisterHandler binds fn to msgType.
func (d *Dispatcher) RegisterHandler(msgType string, fn tether.HandlerFunc) error {
	return d.handlers.Register(msgType, fn)
}

// OnConnect registers a new connection.
func (d *Dispatcher) OnConnect(connID string) {
	if err := d.registry.Add(connID); err != nil {
		d.log.WithField("connection_id", connID).WithError(err).Error("Failed to register connection")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.sessions.Store(connID, &session{ctx: ctx, cancel: cancel})
	d.log.WithField("connection_id", connID).Debug("Connection registered")
}

// OnDisconnect removes the connection. Its pending callbacks are discarded without being invoked.
func (d *Dispatcher) OnDisconnect(connID string) {
	if value, ok := d.sessions.LoadAndDelete(connID); ok {
		value.(*session).cancel()
	}

	if d.registry.Remove(connID) {
		d.log.WithField("connection_id", connID).Debug("Connection removed")
	}
}

// OnMessage processes one inbound frame of the connection. It never panics and never
// reports an error: failures are logged and the frame is dropped.
func (d *Dispatcher) OnMessage(connID string, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		d.log.WithFields(logrus.Fields{
			"connection_id": connID,
			"message":       string(raw),
		}).WithError(err).Warn("Dropping malformed message")
		return
	}

	if env.IsRequest() {
		d.handle(connID, env, raw)
		return
	}
	d.resolve(connID, env, raw)
}

func (d *Dispatcher) resolve(connID string, env *protocol.Envelope, raw []byte) {
	cb, ok := d.registry.ResolvePending(connID, env.ID)
	if !ok {
		d.log.WithFields(logrus.Fields{
			"connection_id": connID,
			"message":       string(raw),
		}).Warn("Invalid callback")
		return
	}

	msg := &tether.Message{
		ID:           env.ID,
		ConnectionID: connID,
		Data:         env.Data,
		SentUptime:   env.SentUptime,
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(logrus.Fields{
				"connection_id": connID,
				"message":       string(raw),
			}).Errorf("Callback panicked: %v", r)
		}
	}()
	cb(msg)
}

func (d *Dispatcher) handle(connID string, env *protocol.Envelope, raw []byte) {
	fn, ok := d.handlers.Lookup(env.Type)
	if !ok {
		d.log.WithFields(logrus.Fields{
			"connection_id": connID,
			"message":       string(raw),
		}).Warn("Invalid message type")
		return
	}

	ctx := d.connectionContext(connID)
	msg := &tether.Message{
		ID:           env.ID,
		ConnectionID: connID,
		Type:         env.Type,
		Data:         env.Data,
		SentUptime:   env.SentUptime,
	}

	result, err := invoke(ctx, fn, msg)
	if err == nil && env.CallbackPending {
		var data json.RawMessage
		if data, err = encodeData(result); err == nil {
			d.respond(ctx, connID, env, data)
			return
		}
		err = fmt.Errorf("%w: encoding result: %w", tether.ErrHandlerFailure, err)
	}

	if err != nil {
		d.log.WithFields(logrus.Fields{
			"connection_id": connID,
			"message":       string(raw),
		}).WithError(err).Error("Handler failed")
	}
}

func (d *Dispatcher) respond(ctx context.Context, connID string, req *protocol.Envelope, data json.RawMessage) {
	frame, err := protocol.Encode(protocol.NewResponse(req, data))
	if err != nil {
		d.log.WithFields(logrus.Fields{
			"connection_id": connID,
			"message_id":    req.ID,
		}).WithError(err).Error("Failed to encode response")
		return
	}
	d.transmit(ctx, connID, req.ID, frame, nil)
}

// invoke runs the handler, converting returned errors and panics to ErrHandlerFailure.
func invoke(ctx context.Context, fn tether.HandlerFunc, msg *tether.Message) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: panic: %v", tether.ErrHandlerFailure, r)
		}
	}()

	result, err = fn(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tether.ErrHandlerFailure, err)
	}
	return result, nil
}

// encodeData turns an application value into the data of an envelope.
// A nil value, or one that encodes to null, yields no data.
func encodeData(v any) (json.RawMessage, error) {
	var data json.RawMessage
	switch val := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(val) == 0 {
			return nil, nil
		}
		if !json.Valid(val) {
			return nil, errInvalidRawPayload
		}
		data = val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		data = b
	}

	if string(data) == "null" {
		return nil, nil
	}
	return data, nil
}

func (d *Dispatcher) connectionContext(connID string) context.Context {
	if value, ok := d.sessions.Load(connID); ok {
		return value.(*session).ctx
	}
	return context.Background()
}

// Send sends a message to a single connection and returns its correlation ID.
func (d *Dispatcher) Send(ctx context.Context, connID, msgType string, data any, cb tether.Callback) (string, error) {
	id, frame, err := d.newRequest(msgType, data, cb != nil)
	if err != nil {
		return "", err
	}

	d.transmit(ctx, connID, id, frame, cb)
	return id, nil
}

// Multicast sends one message, under one correlation ID, to every listed connection.
func (d *Dispatcher) Multicast(ctx context.Context, connIDs []string, msgType string, data any, cb tether.Callback) (string, error) {
	id, frame, err := d.newRequest(msgType, data, cb != nil)
	if err != nil {
		return "", err
	}

	for _, connID := range connIDs {
		d.transmit(ctx, connID, id, frame, cb)
	}
	return id, nil
}

// Broadcast sends one message, under one correlation ID, to every registered connection.
func (d *Dispatcher) Broadcast(ctx context.Context, msgType string, data any, cb tether.Callback) error {
	id, frame, err := d.newRequest(msgType, data, cb != nil)
	if err != nil {
		return err
	}

	for _, connID := range d.registry.IDs() {
		d.transmit(ctx, connID, id, frame, cb)
	}
	return nil
}

func (d *Dispatcher) newRequest(msgType string, data any, wantResponse bool) (string, []byte, error) {
	if msgType == "" {
		return "", nil, fmt.Errorf("%w: empty message type", tether.ErrMalformedMessage)
	}

	payload, err := encodeData(data)
	if err != nil {
		return "", nil, fmt.Errorf("encoding %s payload: %w", msgType, err)
	}

	id := d.ids.NewID()
	sentUptime := uptime.Millis(d.clock.Uptime())
	frame, err := protocol.Encode(protocol.NewRequest(id, msgType, payload, sentUptime, wantResponse))
	if err != nil {
		return "", nil, err
	}
	return id, frame, nil
}

// transmit is the single path every outbound frame takes. A missing connection makes it a
// no-op. The callback, when given, is registered before the frame leaves.
func (d *Dispatcher) transmit(ctx context.Context, connID, msgID string, frame []byte, cb tether.Callback) {
	entry := d.log.WithFields(logrus.Fields{
		"connection_id": connID,
		"message_id":    msgID,
	})

	if !d.registry.Has(connID) {
		entry.Debug("Skipping send to unknown connection")
		return
	}

	if cb != nil {
		if err := d.registry.RegisterPending(connID, msgID, cb); err != nil {
			entry.WithError(err).Debug("Connection left before send")
			return
		}
	}

	if err := d.transport.SendRaw(ctx, connID, frame); err != nil {
		if cb != nil {
			d.registry.DropPending(connID, msgID)
		}
		if errors.Is(err, tether.ErrUnknownConnection) {
			entry.WithError(err).Debug("Connection left before send")
			return
		}
		entry.WithError(err).Warn("Failed to send message")
	}
}

// Latency returns the last latency recorded for the connection.
func (d *Dispatcher) Latency(connID string) (time.Duration, error) {
	return d.registry.Latency(connID)
}

// SetLatency records the latency of the connection.
func (d *Dispatcher) SetLatency(connID string, v time.Duration) error {
	return d.registry.SetLatency(connID, v)
}

// RoundTrip returns the last round trip recorded for the connection.
func (d *Dispatcher) RoundTrip(connID string) (time.Duration, error) {
	return d.registry.RoundTrip(connID)
}

// SetRoundTrip records the round trip of the connection.
func (d *Dispatcher) SetRoundTrip(connID string, v time.Duration) error {
	return d.registry.SetRoundTrip(connID, v)
}

// Connections returns the IDs of the registered connections.
func (d *Dispatcher) Connections() []string {
	return d.registry.IDs()
}

// Clock returns the time source used to stamp outgoing requests.
func (d *Dispatcher) Clock() tether.Clock {
	return d.clock
}
