package stream

import "sync"

// Subscription is the ephemeral attach/replay/detach contract between
// one consumer and one Handle. It is closed exactly once: on stream
// completion, failure, cancellation, or an explicit Cancel by the
// consumer.
type Subscription struct {
	handle    *Handle
	id        int64
	sessionID string
	threadID  string

	updates   chan Update
	closeOnce sync.Once
}

// SessionID returns the session this subscription observes.
func (s *Subscription) SessionID() string { return s.sessionID }

// ThreadID returns the exchange this subscription observes.
func (s *Subscription) ThreadID() string { return s.threadID }

// Updates returns the snapshot channel. It is closed when the stream
// reaches a terminal state or the subscription is cancelled; the final
// update (State != StateStreaming) is always delivered before close.
func (s *Subscription) Updates() <-chan Update {
	return s.updates
}

// Cancel detaches from the handle. Safe to call multiple times and
// concurrently with stream termination.
func (s *Subscription) Cancel() {
	s.handle.unsubscribe(s.id)
}

// deliver enqueues an update without blocking the producer. When the
// buffer is full the oldest pending snapshot is dropped: snapshots are
// cumulative prefixes, so conflation loses no information. Only the
// handle goroutine calls deliver (under the handle mutex), which makes
// the drain-then-send below race-free against the consumer.
func (s *Subscription) deliver(u Update) {
	select {
	case s.updates <- u:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- u:
	default:
	}
}

// closeLocked closes the channel. Callers must have already removed the
// subscription from the handle's set (h.mu held) so no further deliver
// can race the close.
func (s *Subscription) closeLocked() {
	s.closeOnce.Do(func() {
		close(s.updates)
	})
}
