// Package uptime provides the clocks used to stamp outgoing requests.
package uptime

import (
	"sync/atomic"
	"time"
)

// Clock measures the time elapsed since it was created.
type Clock struct {
	start time.Time
}

// New starts a clock at the current instant.
func New() *Clock {
	return &Clock{start: time.Now()}
}

// Uptime returns the elapsed time since New.
func (c *Clock) Uptime() time.Duration {
	return time.Since(c.start)
}

// Millis converts an uptime to the millisecond value carried on the wire.
func Millis(d time.Duration) int64 {
	return d.Milliseconds()
}

// Fixed is a manually driven clock for tests.
type Fixed struct {
	now atomic.Int64
}

// NewFixed returns a clock frozen at d.
func NewFixed(d time.Duration) *Fixed {
	f := &Fixed{}
	f.Set(d)
	return f
}

// Uptime returns the current value of the clock.
func (f *Fixed) Uptime() time.Duration {
	return time.Duration(f.now.Load())
}

// Set moves the clock to d.
func (f *Fixed) Set(d time.Duration) {
	f.now.Store(int64(d))
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.now.Add(int64(d))
}
