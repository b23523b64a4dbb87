package events

import (
	"sync"
	"sync/atomic"
)

// Subscription is one consumer's bounded view of the bus. Delivery is
// non-blocking: when the subscriber falls behind, events are dropped and
// counted rather than stalling dispatch.
type Subscription struct {
	id      string
	buildID string // "" for catch-all subscriptions
	ch      chan Event

	mu      sync.Mutex
	closed  bool
	dropped atomic.Int64
}

// Events is the subscriber's receive channel. It is closed when the
// subscription is cancelled or the bus stops.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// BuildID returns the build this subscription follows, empty for
// catch-all subscriptions.
func (s *Subscription) BuildID() string {
	return s.buildID
}

// Dropped returns how many events this subscriber missed due to a full
// buffer.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// deliver attempts a non-blocking send. The mutex excludes close, so a
// concurrent Unsubscribe can never turn this into a send on a closed
// channel.
func (s *Subscription) deliver(evt Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// close marks the subscription closed and closes the channel exactly once.
func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
