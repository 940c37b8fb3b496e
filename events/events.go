package events

import "time"

// EventType identifies a stream lifecycle event.
type EventType string

const (
	EventStreamStarted   EventType = "stream_started"
	EventStreamCompleted EventType = "stream_completed"
	EventStreamFailed    EventType = "stream_failed"
	EventStreamCancelled EventType = "stream_cancelled"
)

// Event is a stream lifecycle notification.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// StreamStarted is emitted after a handle is registered, before the
// first token arrives.
type StreamStarted struct {
	SessionID string
	ThreadID  string
	At        time.Time
}

func (e StreamStarted) Type() EventType      { return EventStreamStarted }
func (e StreamStarted) Timestamp() time.Time { return e.At }

// StreamCompleted is emitted once after the full response is persisted.
type StreamCompleted struct {
	SessionID string
	ThreadID  string
	Response  string
	Duration  time.Duration
	At        time.Time
}

func (e StreamCompleted) Type() EventType      { return EventStreamCompleted }
func (e StreamCompleted) Timestamp() time.Time { return e.At }

// StreamFailed is emitted when the provider call raises mid-stream.
// PartialResponse carries whatever content was buffered before failure.
type StreamFailed struct {
	SessionID       string
	ThreadID        string
	Err             error
	PartialResponse string
	At              time.Time
}

func (e StreamFailed) Type() EventType      { return EventStreamFailed }
func (e StreamFailed) Timestamp() time.Time { return e.At }

// StreamCancelled is emitted after an explicit user or system stop.
// Cancellation is distinct from failure: nothing is persisted and the
// partial content stays UI-only.
type StreamCancelled struct {
	SessionID       string
	ThreadID        string
	PartialResponse string
	At              time.Time
}

func (e StreamCancelled) Type() EventType      { return EventStreamCancelled }
func (e StreamCancelled) Timestamp() time.Time { return e.At }

// Sink receives lifecycle events. Publish must never block the caller.
type Sink interface {
	Publish(event Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Publish(Event) {}
