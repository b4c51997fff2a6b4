// Package handlers maps message type names to the functions that process them.
package handlers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/luciancaetano/tether"
)

// Table is filled during setup and read on every inbound request.
// Lookups do not take a lock.
type Table struct {
	fns sync.Map // map[string]tether.HandlerFunc
}

// New creates an empty handler table.
func New() *Table {
	return &Table{}
}

// Register binds fn to msgType.
func (t *Table) Register(msgType string, fn tether.HandlerFunc) error {
	if msgType == "" {
		return fmt.Errorf("%w: empty message type", tether.ErrInvalidHandler)
	}
	if fn == nil {
		return fmt.Errorf("%w: nil function for %q", tether.ErrInvalidHandler, msgType)
	}

	if _, loaded := t.fns.LoadOrStore(msgType, fn); loaded {
		return fmt.Errorf("%w: %q", tether.ErrDuplicateType, msgType)
	}
	return nil
}

// Lookup returns the handler registered for msgType.
func (t *Table) Lookup(msgType string) (tether.HandlerFunc, bool) {
	fn, ok := t.fns.Load(msgType)
	if !ok {
		return nil, false
	}
	return fn.(tether.HandlerFunc), true
}

// Types returns the registered message types in lexical order.
func (t *Table) Types() []string {
	types := make([]string, 0)
	t.fns.Range(func(key, _ any) bool {
		types = append(types, key.(string))
		return true
	})
	sort.Strings(types)
	return types
}
