// Package timesync measures the round trip to every connected peer.
//
// A Syncer periodically broadcasts a time_sync request. Peers answer with an empty
// response, and the echoed sent uptime gives the round trip on arrival. Latency is
// taken as half the round trip.
package timesync

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/luciancaetano/tether"
)

// MessageType is the type of the time sync request.
const MessageType = "time_sync"

// Broadcaster is the part of the messaging layer the syncer drives.
type Broadcaster interface {
	Broadcast(ctx context.Context, msgType string, data any, cb tether.Callback) error
	SetLatency(connectionID string, d time.Duration) error
	SetRoundTrip(connectionID string, d time.Duration) error
}

// Syncer broadcasts time sync requests at a fixed interval.
type Syncer struct {
	b        Broadcaster
	clock    tether.Clock
	interval time.Duration
	log      logrus.FieldLogger
}

// New creates a syncer. A zero interval disables the periodic loop; Sync can still be
// called directly.
func New(b Broadcaster, clock tether.Clock, interval time.Duration, log logrus.FieldLogger) *Syncer {
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return &Syncer{
		b:        b,
		clock:    clock,
		interval: interval,
		log:      log.WithField("component", "timesync"),
	}
}

// Run sends a time sync every interval until ctx is done.
func (s *Syncer) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				s.log.WithError(err).Warn("Time sync failed")
			}
		}
	}
}

// Sync broadcasts one time sync request.
func (s *Syncer) Sync(ctx context.Context) error {
	return s.b.Broadcast(ctx, MessageType, nil, s.record)
}

func (s *Syncer) record(msg *tether.Message) {
	roundTrip := s.clock.Uptime() - time.Duration(msg.SentUptime)*time.Millisecond
	if roundTrip < 0 {
		roundTrip = 0
	}

	entry := s.log.WithField("connection_id", msg.ConnectionID)

	// The connection may have gone between the response and this callback.
	if err := s.b.SetRoundTrip(msg.ConnectionID, roundTrip); err != nil {
		entry.WithError(err).Debug("Dropping round trip")
		return
	}
	if err := s.b.SetLatency(msg.ConnectionID, roundTrip/2); err != nil {
		entry.WithError(err).Debug("Dropping latency")
		return
	}

	entry.WithField("round_trip", roundTrip).Debug("Time sync")
}

// Handler answers time sync requests with an empty response.
func Handler() tether.HandlerFunc {
	return func(ctx context.Context, msg *tether.Message) (any, error) {
		return nil, nil
	}
}
