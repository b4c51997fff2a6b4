package tether

import "errors"

// Errors returned by the messaging layer. Wrapped errors can be matched with errors.Is.
var (
	// ErrMalformedMessage is returned when an inbound frame can not be decoded into a
	// well-formed envelope. The frame is dropped and the connection stays open.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrUnknownConnection is returned by operations that reference a connection which
	// is not registered, usually because it just disconnected.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrDuplicateConnection is returned when a connection ID is registered twice.
	ErrDuplicateConnection = errors.New("duplicate connection")

	// ErrDuplicateType is returned when a handler is registered twice for the same type.
	ErrDuplicateType = errors.New("message type already registered")

	// ErrInvalidHandler is returned when a handler is registered with an empty type or a nil function.
	ErrInvalidHandler = errors.New("invalid handler")

	// ErrHandlerFailure wraps errors and panics raised by application handlers.
	ErrHandlerFailure = errors.New("handler failure")

	// ErrServerAlreadyRunning is returned by Start when the server is already listening.
	ErrServerAlreadyRunning = errors.New("server already running")

	// ErrConnectionClosed is returned when writing to a connection that has been closed.
	ErrConnectionClosed = errors.New("connection is closed")
)
