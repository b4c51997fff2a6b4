package tether

import (
	"context"
	"encoding/json"
	"time"
)

// Message is the application view of an envelope delivered to a handler or a callback.
//
// For a handler, Message describes the fresh request. For a callback, it describes the
// response that resolved a request previously sent by this side.
type Message struct {
	// ID is the correlation identifier. Responses carry the ID of the request they answer.
	ID string

	// ConnectionID identifies the connection the message arrived on.
	ConnectionID string

	// Type names the requested operation. Empty for responses.
	Type string

	// Data is the raw JSON payload. It may be empty.
	Data json.RawMessage

	// SentUptime is the sender's uptime in milliseconds when the request was created.
	// Responses echo the value of the request, so the original sender can compute a
	// round trip from it.
	SentUptime int64
}

// Decode unmarshals the message payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// HandlerFunc processes a fresh request of a registered type.
//
// The returned value becomes the data of the response when the peer asked for one.
// Returning a non-nil error (or panicking) suppresses the response; the failure is
// logged and the connection stays open.
type HandlerFunc func(ctx context.Context, msg *Message) (any, error)

// Callback is invoked once when the response to a request arrives.
// It is never invoked for a connection that disconnected before responding.
type Callback func(msg *Message)

// Clock supplies the process uptime used to stamp outgoing requests.
type Clock interface {
	Uptime() time.Duration
}

// Server is the central side of the messaging layer. It accepts many WebSocket
// connections and lets the application exchange correlated messages with them.
//
// Example usage:
//
//	import "github.com/luciancaetano/tether/ws"
//
//	server := ws.New(ws.NewConfig(":8080", ws.DefaultRateLimitConfig(), ws.AllOrigins(), nil, nil))
//
//	server.RegisterHandler("echo", func(ctx context.Context, msg *tether.Message) (any, error) {
//	    return msg.Data, nil
//	})
//
//	server.Start(ctx)
type Server interface {
	// Start starts the WebSocket server and begins listening for connections.
	// The server will continue running until Stop is called or the context is cancelled.
	//
	// Returns an error if the server is already running, if there's a problem
	// binding to the network address, or if ctx ends before the server is listening.
	Start(ctx context.Context) error

	// Stop gracefully stops the WebSocket server and closes all client connections.
	Stop(ctx context.Context) error

	// RegisterHandler registers fn for messages of the given type.
	//
	// Handlers are registered during setup. Registering the same type twice returns
	// ErrDuplicateType.
	//
	// Handlers for one connection run one at a time in receipt order. Handlers for
	// different connections run concurrently.
	RegisterHandler(msgType string, fn HandlerFunc) error

	// Send sends a message to a single connection and returns its correlation ID.
	//
	// When cb is not nil the peer is asked for a response, and cb runs when it arrives.
	// Sending to a connection that is gone is a silent no-op.
	Send(ctx context.Context, connectionID string, msgType string, data any, cb Callback) (string, error)

	// Multicast sends the same message to every listed connection. All destinations
	// share one correlation ID, which is returned. cb runs once per responding peer.
	Multicast(ctx context.Context, connectionIDs []string, msgType string, data any, cb Callback) (string, error)

	// Broadcast sends the same message to every connected client. All destinations share
	// one correlation ID. The returned error only reports that the payload could not be
	// encoded.
	Broadcast(ctx context.Context, msgType string, data any, cb Callback) error

	// Latency returns the last latency recorded for the connection.
	Latency(connectionID string) (time.Duration, error)

	// SetLatency records the latency of the connection.
	SetLatency(connectionID string, d time.Duration) error

	// RoundTrip returns the last round trip recorded for the connection.
	RoundTrip(connectionID string) (time.Duration, error)

	// SetRoundTrip records the round trip of the connection.
	SetRoundTrip(connectionID string, d time.Duration) error

	// Connections returns the IDs of the currently connected clients.
	Connections() []string
}

// Peer is the client side of the messaging layer: a single connection to a Server.
type Peer interface {
	// RegisterHandler registers fn for requests of the given type sent by the server.
	RegisterHandler(msgType string, fn HandlerFunc) error

	// Send sends a message to the server and returns its correlation ID.
	// When cb is not nil the server is asked for a response.
	Send(ctx context.Context, msgType string, data any, cb Callback) (string, error)

	// Close closes the connection. Pending callbacks are discarded.
	Close(ctx context.Context) error

	// Done is closed once the connection is gone.
	Done() <-chan struct{}
}
