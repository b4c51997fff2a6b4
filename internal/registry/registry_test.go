package registry_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/tether"
	"github.com/luciancaetano/tether/internal/registry"
)

func noop(*tether.Message) {}

func TestAddRemove(t *testing.T) {
	r := registry.New()

	require.NoError(t, r.Add("c1"))
	require.NoError(t, r.Add("c2"))
	assert.True(t, r.Has("c1"))
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"c1", "c2"}, r.IDs())

	assert.True(t, r.Remove("c1"))
	assert.False(t, r.Has("c1"))
	assert.False(t, r.Remove("c1"))
	assert.Equal(t, []string{"c2"}, r.IDs())
}

func TestAddDuplicate(t *testing.T) {
	r := registry.New()

	require.NoError(t, r.Add("c1"))
	err := r.Add("c1")
	assert.ErrorIs(t, err, tether.ErrDuplicateConnection)
}

func TestResolvePendingExactlyOnce(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Add("c1"))

	calls := 0
	require.NoError(t, r.RegisterPending("c1", "m1", func(*tether.Message) { calls++ }))
	assert.Equal(t, 1, r.PendingCount("c1"))

	cb, ok := r.ResolvePending("c1", "m1")
	require.True(t, ok)
	cb(nil)
	assert.Equal(t, 1, calls)

	_, ok = r.ResolvePending("c1", "m1")
	assert.False(t, ok, "second resolution must not find the callback")
	assert.Equal(t, 0, r.PendingCount("c1"))
}

func TestResolvePendingNotFound(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Add("c1"))

	_, ok := r.ResolvePending("c1", "never-registered")
	assert.False(t, ok)

	_, ok = r.ResolvePending("unknown", "m1")
	assert.False(t, ok)
}

func TestPendingIsScopedPerConnection(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Add("c1"))
	require.NoError(t, r.Add("c2"))

	var got []string
	require.NoError(t, r.RegisterPending("c1", "shared", func(*tether.Message) { got = append(got, "c1") }))
	require.NoError(t, r.RegisterPending("c2", "shared", func(*tether.Message) { got = append(got, "c2") }))

	cb, ok := r.ResolvePending("c2", "shared")
	require.True(t, ok)
	cb(nil)

	cb, ok = r.ResolvePending("c1", "shared")
	require.True(t, ok)
	cb(nil)

	assert.Equal(t, []string{"c2", "c1"}, got)
}

func TestRemoveDiscardsPending(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Add("c1"))

	invoked := false
	require.NoError(t, r.RegisterPending("c1", "m1", func(*tether.Message) { invoked = true }))

	r.Remove("c1")

	_, ok := r.ResolvePending("c1", "m1")
	assert.False(t, ok)
	assert.False(t, invoked, "pending callbacks must not run on removal")
	assert.Equal(t, 0, r.PendingCount("c1"))
}

func TestRegisterPendingUnknownConnection(t *testing.T) {
	r := registry.New()

	err := r.RegisterPending("gone", "m1", noop)
	assert.ErrorIs(t, err, tether.ErrUnknownConnection)

	require.NoError(t, r.Add("c1"))
	r.Remove("c1")
	err = r.RegisterPending("c1", "m1", noop)
	assert.ErrorIs(t, err, tether.ErrUnknownConnection)
}

func TestReAddedConnectionStartsEmpty(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Add("c1"))
	require.NoError(t, r.RegisterPending("c1", "m1", noop))
	require.NoError(t, r.SetLatency("c1", time.Second))

	r.Remove("c1")
	require.NoError(t, r.Add("c1"))

	_, ok := r.ResolvePending("c1", "m1")
	assert.False(t, ok)
	latency, err := r.Latency("c1")
	require.NoError(t, err)
	assert.Zero(t, latency)
}

func TestDropPending(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Add("c1"))
	require.NoError(t, r.RegisterPending("c1", "m1", noop))

	r.DropPending("c1", "m1")
	r.DropPending("c1", "m1")
	r.DropPending("unknown", "m1")

	_, ok := r.ResolvePending("c1", "m1")
	assert.False(t, ok)
}

func TestLatencyAndRoundTrip(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Add("c1"))

	latency, err := r.Latency("c1")
	require.NoError(t, err)
	assert.Zero(t, latency)

	require.NoError(t, r.SetLatency("c1", 25*time.Millisecond))
	require.NoError(t, r.SetRoundTrip("c1", 50*time.Millisecond))

	latency, err = r.Latency("c1")
	require.NoError(t, err)
	assert.Equal(t, 25*time.Millisecond, latency)

	roundTrip, err := r.RoundTrip("c1")
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, roundTrip)
}

func TestLatencyUnknownConnection(t *testing.T) {
	r := registry.New()

	_, err := r.Latency("gone")
	assert.ErrorIs(t, err, tether.ErrUnknownConnection)
	assert.ErrorIs(t, r.SetLatency("gone", time.Millisecond), tether.ErrUnknownConnection)
	_, err = r.RoundTrip("gone")
	assert.ErrorIs(t, err, tether.ErrUnknownConnection)
	assert.ErrorIs(t, r.SetRoundTrip("gone", time.Millisecond), tether.ErrUnknownConnection)
}

func TestConcurrentAccess(t *testing.T) {
	r := registry.New()

	const conns = 16
	const msgs = 200

	var wg sync.WaitGroup
	for c := 0; c < conns; c++ {
		id := fmt.Sprintf("c%d", c)
		require.NoError(t, r.Add(id))

		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := 0; m < msgs; m++ {
				msgID := fmt.Sprintf("m%d", m)
				if err := r.RegisterPending(id, msgID, noop); err != nil {
					t.Errorf("RegisterPending(%s, %s) error = %v", id, msgID, err)
					return
				}
				if _, ok := r.ResolvePending(id, msgID); !ok {
					t.Errorf("ResolvePending(%s, %s) not found", id, msgID)
					return
				}
				_ = r.SetRoundTrip(id, time.Duration(m))
			}
		}()
	}
	wg.Wait()

	for c := 0; c < conns; c++ {
		assert.Equal(t, 0, r.PendingCount(fmt.Sprintf("c%d", c)))
	}
}

func TestConcurrentRemoveAndRegister(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Add("c1"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = r.RegisterPending("c1", fmt.Sprintf("m%d", i), noop)
		}
	}()
	go func() {
		defer wg.Done()
		r.Remove("c1")
	}()
	wg.Wait()

	assert.False(t, r.Has("c1"))
	for i := 0; i < 500; i++ {
		_, ok := r.ResolvePending("c1", fmt.Sprintf("m%d", i))
		assert.False(t, ok)
	}
}
