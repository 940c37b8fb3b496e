package events

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// subscriptionCounter generates unique subscription IDs.
var subscriptionCounter int64

// Handler processes one event. Handlers run on their own goroutines and
// must not assume any ordering across event types.
type Handler func(Event)

// Bus is a buffered asynchronous event bus. A full buffer drops the
// event; the drop warning is rate-limited so a stalled consumer cannot
// flood the log.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType]map[string]Handler
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
	dropWarn *rate.Limiter
	logger   *zap.Logger
}

// NewBus creates an event bus and starts its dispatch loop.
func NewBus(bufferSize int, logger *zap.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 128
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		handlers: make(map[EventType]map[string]Handler),
		events:   make(chan Event, bufferSize),
		done:     make(chan struct{}),
		dropWarn: rate.NewLimiter(rate.Limit(1), 3),
		logger:   logger.With(zap.String("component", "event_bus")),
	}
	go b.dispatch()
	return b
}

// Publish implements Sink. It never blocks: when the buffer is full the
// event is dropped.
func (b *Bus) Publish(event Event) {
	select {
	case b.events <- event:
	case <-b.done:
	default:
		if b.dropWarn.Allow() {
			b.logger.Warn("event buffer full, dropping event",
				zap.String("type", string(event.Type())))
		}
	}
}

// Subscribe registers a handler for one event type and returns the
// subscription ID for Unsubscribe.
func (b *Bus) Subscribe(eventType EventType, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]Handler)
	}
	id := fmt.Sprintf("%s-%d", eventType, atomic.AddInt64(&subscriptionCounter, 1))
	b.handlers[eventType][id] = handler
	return id
}

// Unsubscribe removes a subscription by ID. Unknown IDs are ignored.
func (b *Bus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, handlers := range b.handlers {
		if _, ok := handlers[subscriptionID]; ok {
			delete(handlers, subscriptionID)
			if len(handlers) == 0 {
				delete(b.handlers, eventType)
			}
			return
		}
	}
}

func (b *Bus) dispatch() {
	for {
		select {
		case event := <-b.events:
			b.mu.RLock()
			src := b.handlers[event.Type()]
			handlers := make([]Handler, 0, len(src))
			for _, h := range src {
				handlers = append(handlers, h)
			}
			b.mu.RUnlock()

			for _, handler := range handlers {
				h := handler
				go func() {
					defer func() {
						if r := recover(); r != nil {
							b.logger.Error("event handler panicked", zap.Any("recover", r))
						}
					}()
					h(event)
				}()
			}
		case <-b.done:
			return
		}
	}
}

// Stop shuts down the dispatch loop. Pending buffered events are dropped.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
}
