package stream

import (
	"context"
	"strings"
	"sync"
	"time"
)

// State is the lifecycle state of a Handle. Terminal states are
// absorbing: once reached, no further chunk may be appended.
type State string

const (
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Update is one consumer-visible snapshot of an in-flight stream. The
// Content always carries the full joined chunk sequence so far, so every
// delivered Update is a monotone, gap-free prefix extension of the last:
// slow consumers can be conflated to the latest snapshot without ever
// observing a reorder or rollback.
type Update struct {
	SessionID string
	ThreadID  string
	Content   string
	State     State
	Err       error
}

// Final reports whether this is the terminal update of the stream.
func (u Update) Final() bool {
	return u.State != StateStreaming
}

// Handle is the mutable record of one in-flight exchange for one
// session. All mutation happens under the handle's own mutex; there is
// no lock shared across sessions.
type Handle struct {
	threadID  string
	sessionID string
	startedAt time.Time
	subBuffer int

	cancelOnce sync.Once
	cancel     context.CancelFunc

	mu          sync.Mutex
	chunks      []string
	state       State
	err         error
	subscribers map[int64]*Subscription
	nextSubID   int64
}

func newHandle(sessionID, threadID string, subBuffer int, cancel context.CancelFunc) *Handle {
	if subBuffer < 1 {
		subBuffer = 1
	}
	return &Handle{
		threadID:    threadID,
		sessionID:   sessionID,
		startedAt:   time.Now(),
		subBuffer:   subBuffer,
		cancel:      cancel,
		state:       StateStreaming,
		subscribers: make(map[int64]*Subscription),
	}
}

// ThreadID returns the unique id of this exchange.
func (h *Handle) ThreadID() string { return h.threadID }

// SessionID returns the owning session.
func (h *Handle) SessionID() string { return h.sessionID }

// StartedAt returns when the exchange was registered.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// IsTerminal reports whether the stream reached a terminal state.
func (h *Handle) IsTerminal() bool {
	return h.State() != StateStreaming
}

// Content returns the joined chunk sequence buffered so far.
func (h *Handle) Content() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return strings.Join(h.chunks, "")
}

// Chunks returns a copy of the append-only chunk log.
func (h *Handle) Chunks() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.chunks))
	copy(out, h.chunks)
	return out
}

// append adds one chunk and publishes the new joined snapshot to all
// subscribers. It reports false when the handle is already terminal, in
// which case the chunk is discarded.
func (h *Handle) append(chunk string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateStreaming {
		return false
	}
	h.chunks = append(h.chunks, chunk)
	h.publishLocked(Update{
		SessionID: h.sessionID,
		ThreadID:  h.threadID,
		Content:   strings.Join(h.chunks, ""),
		State:     StateStreaming,
	})
	return true
}

// finish moves the handle to a terminal state, publishes the final
// update, and closes every subscription. Only the first call wins.
func (h *Handle) finish(state State, err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateStreaming {
		return false
	}
	h.state = state
	h.err = err

	final := Update{
		SessionID: h.sessionID,
		ThreadID:  h.threadID,
		Content:   strings.Join(h.chunks, ""),
		State:     state,
		Err:       err,
	}
	h.publishLocked(final)
	for id, sub := range h.subscribers {
		delete(h.subscribers, id)
		sub.closeLocked()
	}
	return true
}

// publishLocked delivers an update to every subscriber without ever
// blocking the producer. A full subscriber buffer is conflated: the
// oldest pending snapshot is dropped in favor of the newest. h.mu must
// be held.
func (h *Handle) publishLocked(u Update) {
	for _, sub := range h.subscribers {
		sub.deliver(u)
	}
}

// requestCancel flips the cooperative cancellation signal exactly once.
// The production task observes it between tokens.
func (h *Handle) requestCancel() {
	h.cancelOnce.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
	})
}

// Subscribe attaches a consumer to this handle. If chunks were already
// buffered, the first update replays the full joined prefix so a late
// subscriber never misses history; live snapshots follow. When the
// handle is already terminal the subscription carries the final snapshot
// and is closed immediately.
func (h *Handle) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSubID++
	sub := &Subscription{
		handle:    h,
		id:        h.nextSubID,
		sessionID: h.sessionID,
		threadID:  h.threadID,
		updates:   make(chan Update, h.subBuffer),
	}

	snapshot := Update{
		SessionID: h.sessionID,
		ThreadID:  h.threadID,
		Content:   strings.Join(h.chunks, ""),
		State:     h.state,
		Err:       h.err,
	}

	if h.state != StateStreaming {
		sub.deliver(snapshot)
		sub.closeLocked()
		return sub
	}

	if len(h.chunks) > 0 {
		sub.deliver(snapshot)
	}
	h.subscribers[sub.id] = sub
	return sub
}

// unsubscribe detaches a subscription and closes its channel.
func (h *Handle) unsubscribe(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subscribers[id]
	if !ok {
		return
	}
	delete(h.subscribers, id)
	sub.closeLocked()
}
