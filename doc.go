// Package tether provides correlated, bidirectional messaging between a central WebSocket
// server and many clients.
//
// Either side can send a typed message to the other. A message may ask for a response,
// in which case the sender registers a callback under the message's correlation ID and the
// callback runs when the matching response arrives on the same connection.
//
// # Architecture
//
// Inbound frames go through a small pipeline:
//
//	transport -> codec -> dispatcher -> { pending callback | registered handler }
//
// The dispatcher classifies every decoded envelope. Responses (is_callback) resolve the
// pending callback registered for their ID on that connection. Fresh requests are routed to
// the handler registered for their type, and the handler's return value is sent back when
// the request carried callback_pending.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/tether"
//	    "github.com/luciancaetano/tether/ws"
//	)
//
//	server := ws.New(ws.NewConfig(":8080", ws.DefaultRateLimitConfig(), ws.AllOrigins(), nil, nil))
//
//	server.RegisterHandler("echo", func(ctx context.Context, msg *tether.Message) (any, error) {
//	    return msg.Data, nil
//	})
//
//	server.Start(ctx)
//
//	// Ask every client for its status
//	server.Broadcast(ctx, "status", nil, func(resp *tether.Message) {
//	    log.Printf("%s answered %s", resp.ConnectionID, resp.Data)
//	})
//
// # Protocol Format
//
// Every frame is a WebSocket text message holding one JSON envelope:
//
//	{"id":"<uuid>","type":"echo","data":{...},"sent_uptime":1234,"callback_pending":true}
//	{"id":"<uuid>","data":{...},"sent_uptime":1234,"is_callback":true}
//
// Maximum frame: 10MB.
//
// # Failure Policy
//
// Malformed frames, unknown types, orphaned responses and failing handlers are logged and
// dropped. The peer observes silence and must implement its own timeout if it needs one.
// Pending callbacks of a connection that disconnects are discarded without being invoked.
//
// # Important
//
//   - Messages of one connection are handled in receipt order, one at a time
//   - Handlers of different connections run concurrently
//   - A handler must not wait for a response from its own connection; that response is read only after it returns
//   - Configure CheckOriginFn in production (never use ws.AllOrigins() in production)
package tether
