package broker

import (
	"sync"

	"github.com/google/uuid"

	"github.com/xiaden/nomarr/pkg/metrics"
	"github.com/xiaden/nomarr/pkg/types"
)

// Subscription is one subscriber's handle: a set of topic patterns and a
// bounded delivery queue. Delivery is lossy with backpressure: when the
// buffer is full the oldest events are dropped and a single coalesced
// lagged:N marker is emitted ahead of the surviving events.
type Subscription struct {
	id       uuid.UUID
	patterns []string

	mu      sync.Mutex
	ring    []types.Event
	lagged  int
	closed  bool
	notify  chan struct{}
	closeCh chan struct{}
	out     chan types.Event
	buf     int
}

func newSubscription(patterns []string, buf int) *Subscription {
	if buf < 1 {
		buf = 1
	}
	s := &Subscription{
		id:       uuid.New(),
		patterns: patterns,
		ring:     make([]types.Event, 0, buf),
		notify:   make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
		out:      make(chan types.Event),
		buf:      buf,
	}
	go s.pump()
	return s
}

// ID returns the opaque subscription id
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Events returns the delivery channel. It is closed after Close once the
// buffered events have drained.
func (s *Subscription) Events() <-chan types.Event {
	return s.out
}

// matches reports whether any pattern covers topic
func (s *Subscription) matches(topic string) bool {
	for _, p := range s.patterns {
		if types.TopicMatches(p, topic) {
			return true
		}
	}
	return false
}

// deliver enqueues one event, dropping the oldest when full. Never blocks:
// the poller must not stall on a slow subscriber.
func (s *Subscription) deliver(e types.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.ring) >= s.buf {
		s.ring = s.ring[1:]
		s.lagged++
		metrics.BrokerDroppedTotal.Inc()
	}
	s.ring = append(s.ring, e)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Close tears the subscription down. Safe to call multiple times.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.closeCh)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump moves events from the ring to the delivery channel. Blocking on a
// slow consumer is fine here; only the ring side must stay non-blocking.
func (s *Subscription) pump() {
	for {
		s.mu.Lock()
		var ev types.Event
		var ok bool
		switch {
		case s.lagged > 0:
			// Dropped events preceded everything still in the ring, so the
			// marker goes out first.
			ev = types.Event{
				Type:      types.EventLagged,
				Topic:     "",
				Payload:   types.LagEvent{Dropped: s.lagged},
				Timestamp: types.NowMS(),
			}
			s.lagged = 0
			ok = true
		case len(s.ring) > 0:
			ev = s.ring[0]
			s.ring = s.ring[1:]
			ok = true
		case s.closed:
			s.mu.Unlock()
			close(s.out)
			return
		}
		s.mu.Unlock()

		if !ok {
			select {
			case <-s.notify:
			case <-s.closeCh:
			}
			continue
		}

		select {
		case s.out <- ev:
		case <-s.closeCh:
			// Drain silently; the subscriber is gone.
		}
	}
}
