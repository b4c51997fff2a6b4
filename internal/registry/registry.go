// Package registry tracks the active connections of a server together with the callbacks
// awaiting a response on each of them.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/luciancaetano/tether"
)

// Registry is safe for concurrent use. Operations on different connections never contend
// on a shared lock; each connection guards its own state.
type Registry struct {
	conns sync.Map // map[string]*connection
}

type connection struct {
	mu        sync.Mutex
	removed   bool
	pending   map[string]tether.Callback
	latency   time.Duration
	roundTrip time.Duration
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

// Add creates an empty record for the connection.
func (r *Registry) Add(id string) error {
	conn := &connection{pending: make(map[string]tether.Callback)}
	if _, loaded := r.conns.LoadOrStore(id, conn); loaded {
		return fmt.Errorf("%w: %s", tether.ErrDuplicateConnection, id)
	}
	return nil
}

// Remove deletes the connection and discards its pending callbacks without invoking them.
// It reports whether the connection was registered.
func (r *Registry) Remove(id string) bool {
	value, ok := r.conns.LoadAndDelete(id)
	if !ok {
		return false
	}

	conn := value.(*connection)
	conn.mu.Lock()
	conn.removed = true
	conn.pending = nil
	conn.mu.Unlock()
	return true
}

// Has reports whether the connection is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.conns.Load(id)
	return ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	n := 0
	r.conns.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// IDs returns the registered connection IDs in lexical order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0)
	r.conns.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	sort.Strings(ids)
	return ids
}

// RegisterPending stores cb under msgID for the connection.
// A registration racing with Remove fails with ErrUnknownConnection.
func (r *Registry) RegisterPending(id, msgID string, cb tether.Callback) error {
	conn, err := r.lookup(id)
	if err != nil {
		return err
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.removed {
		return fmt.Errorf("%w: %s", tether.ErrUnknownConnection, id)
	}
	conn.pending[msgID] = cb
	return nil
}

// ResolvePending removes and returns the callback stored under msgID.
// It returns false when the connection is gone or nothing is pending under msgID,
// which covers late, duplicate and forged responses.
func (r *Registry) ResolvePending(id, msgID string) (tether.Callback, bool) {
	value, ok := r.conns.Load(id)
	if !ok {
		return nil, false
	}

	conn := value.(*connection)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.removed {
		return nil, false
	}

	cb, ok := conn.pending[msgID]
	if !ok {
		return nil, false
	}
	delete(conn.pending, msgID)
	return cb, true
}

// DropPending discards the callback stored under msgID without invoking it.
func (r *Registry) DropPending(id, msgID string) {
	_, _ = r.ResolvePending(id, msgID)
}

// PendingCount returns how many callbacks await a response on the connection.
func (r *Registry) PendingCount(id string) int {
	value, ok := r.conns.Load(id)
	if !ok {
		return 0
	}

	conn := value.(*connection)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return len(conn.pending)
}

// Latency returns the last latency recorded for the connection.
func (r *Registry) Latency(id string) (time.Duration, error) {
	conn, err := r.lookup(id)
	if err != nil {
		return 0, err
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.latency, nil
}

// SetLatency records the latency of the connection.
func (r *Registry) SetLatency(id string, d time.Duration) error {
	conn, err := r.lookup(id)
	if err != nil {
		return err
	}

	conn.mu.Lock()
	conn.latency = d
	conn.mu.Unlock()
	return nil
}

// RoundTrip returns the last round trip recorded for the connection.
func (r *Registry) RoundTrip(id string) (time.Duration, error) {
	conn, err := r.lookup(id)
	if err != nil {
		return 0, err
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.roundTrip, nil
}

// SetRoundTrip records the round trip of the connection.
func (r *Registry) SetRoundTrip(id string, d time.Duration) error {
	conn, err := r.lookup(id)
	if err != nil {
		return err
	}

	conn.mu.Lock()
	conn.roundTrip = d
	conn.mu.Unlock()
	return nil
}

func (r *Registry) lookup(id string) (*connection, error) {
	value, ok := r.conns.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", tether.ErrUnknownConnection, id)
	}
	return value.(*connection), nil
}
