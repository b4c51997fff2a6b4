package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/luciancaetano/tether"
)

const (
	MaxFrameSize = 10 * 1024 * 1024 // 10MB max frame size
)

// Envelope is the unit of wire exchange between peers.
type Envelope struct {
	ID              string          `json:"id,omitempty"`
	Type            string          `json:"type,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	SentUptime      int64           `json:"sent_uptime"`
	IsCallback      bool            `json:"is_callback,omitempty"`
	CallbackPending bool            `json:"callback_pending,omitempty"`
}

// NewRequest builds a fresh request envelope.
func NewRequest(id, msgType string, data json.RawMessage, sentUptime int64, wantResponse bool) *Envelope {
	return &Envelope{
		ID:              id,
		Type:            msgType,
		Data:            data,
		SentUptime:      sentUptime,
		CallbackPending: wantResponse,
	}
}

// NewResponse builds the response to req carrying data.
// The ID and sent uptime of the request are echoed back.
func NewResponse(req *Envelope, data json.RawMessage) *Envelope {
	return &Envelope{
		ID:         req.ID,
		Data:       data,
		SentUptime: req.SentUptime,
		IsCallback: true,
	}
}

// IsRequest reports whether the envelope is a fresh request rather than a response.
func (e *Envelope) IsRequest() bool {
	return !e.IsCallback
}

// Encode serializes the envelope to its JSON wire form.
// The caller guarantees a well-formed envelope; the only failure is an oversized frame.
func Encode(env *Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("encoding envelope %s: %w", env.ID, err)
	}

	out := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	if len(out) > MaxFrameSize {
		return nil, fmt.Errorf("frame size %d exceeds maximum %d bytes", len(out), MaxFrameSize)
	}
	return out, nil
}

// Decode parses a frame into an envelope and validates its shape.
// Every failure wraps tether.ErrMalformedMessage.
func Decode(data []byte) (*Envelope, error) {
	if len(data) > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame size %d exceeds maximum %d bytes", tether.ErrMalformedMessage, len(data), MaxFrameSize)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", tether.ErrMalformedMessage, err)
	}

	if err := validate(&env); err != nil {
		return nil, err
	}

	// Keep data comparable regardless of the peer's formatting.
	if len(env.Data) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, env.Data); err != nil {
			return nil, fmt.Errorf("%w: %v", tether.ErrMalformedMessage, err)
		}
		env.Data = buf.Bytes()
		if bytes.Equal(env.Data, []byte("null")) {
			env.Data = nil
		}
	}

	return &env, nil
}

func validate(env *Envelope) error {
	switch {
	case env.IsCallback && env.ID == "":
		return fmt.Errorf("%w: response without id", tether.ErrMalformedMessage)
	case env.IsCallback && env.CallbackPending:
		return fmt.Errorf("%w: response can not request a response", tether.ErrMalformedMessage)
	case !env.IsCallback && env.Type == "":
		return fmt.Errorf("%w: request without type", tether.ErrMalformedMessage)
	case env.CallbackPending && env.ID == "":
		return fmt.Errorf("%w: request awaiting response without id", tether.ErrMalformedMessage)
	}
	return nil
}
