package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/quillchat/quill/events"
	"github.com/quillchat/quill/internal/metrics"
	"github.com/quillchat/quill/internal/pool"
	"github.com/quillchat/quill/llm"
	"github.com/quillchat/quill/persistence"
	"github.com/quillchat/quill/prompt"
	"github.com/quillchat/quill/types"
)

const tracerName = "github.com/quillchat/quill/stream"

// Config tunes the orchestrator.
type Config struct {
	// MaxConcurrentStreams bounds live handles across all sessions.
	MaxConcurrentStreams int `yaml:"max_concurrent_streams" json:"max_concurrent_streams"`

	// SubscriberBuffer sizes each subscription's update channel. Slow
	// consumers beyond this depth are conflated to the latest snapshot.
	SubscriberBuffer int `yaml:"subscriber_buffer" json:"subscriber_buffer"`

	// HistoryLimit caps how many prior transcript messages feed the
	// outgoing prompt. <= 0 loads the full transcript.
	HistoryLimit int `yaml:"history_limit" json:"history_limit"`

	// Model and sampling parameters forwarded to the provider.
	Model       string  `yaml:"model" json:"model"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature float32 `yaml:"temperature" json:"temperature"`

	// Pool sizes the shared worker pool running production tasks.
	Pool pool.Config `yaml:"pool" json:"pool"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentStreams: 20,
		SubscriberBuffer:     64,
		HistoryLimit:         50,
		Pool:                 pool.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxConcurrentStreams <= 0 {
		return fmt.Errorf("max_concurrent_streams must be positive, got %d", c.MaxConcurrentStreams)
	}
	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("subscriber_buffer must be positive, got %d", c.SubscriberBuffer)
	}
	return nil
}

// Deps are the collaborators of the orchestrator. Provider and Store are
// required; the rest default to no-ops.
type Deps struct {
	Provider llm.Provider
	Store    persistence.TranscriptStore
	Events   events.Sink
	Prompt   *prompt.Builder
	Metrics  *metrics.Collector
	Logger   *zap.Logger
}

// Orchestrator is the registry of at most one live Handle per session.
// It enforces the global concurrency bound, drives the background
// production task for every send, and guarantees exactly-once cleanup
// regardless of the terminal path taken.
type Orchestrator struct {
	cfg      Config
	provider llm.Provider
	store    persistence.TranscriptStore
	sink     events.Sink
	builder  *prompt.Builder
	workers  *pool.WorkerPool
	sem      *semaphore.Weighted
	metrics  *metrics.Collector
	tracer   trace.Tracer
	logger   *zap.Logger

	mu      sync.RWMutex
	handles map[string]*Handle
	closed  bool
	wg      sync.WaitGroup
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if deps.Events == nil {
		deps.Events = events.NopSink{}
	}
	if deps.Prompt == nil {
		deps.Prompt = prompt.NewBuilder("", 0, nil)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector("quill", nil)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	o := &Orchestrator{
		cfg:      cfg,
		provider: deps.Provider,
		store:    deps.Store,
		sink:     deps.Events,
		builder:  deps.Prompt,
		workers:  pool.New(cfg.Pool, deps.Logger),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentStreams)),
		metrics:  deps.Metrics,
		tracer:   otel.Tracer(tracerName),
		logger:   deps.Logger.With(zap.String("component", "stream_orchestrator")),
	}
	o.handles = make(map[string]*Handle)
	return o, nil
}

// SendMessage starts one exchange for the session. The user message is
// durably recorded before any background work begins; the returned
// thread ID identifies the registered handle. types.ErrSessionBusy and
// types.ErrCapacityExceeded are non-fatal rejections the UI surfaces
// directly.
func (o *Orchestrator) SendMessage(ctx context.Context, sessionID, text string) (string, error) {
	if sessionID == "" || text == "" {
		return "", types.NewError(types.CodeInvalidInput, "session id and message must be non-empty")
	}

	// Reserve the session slot and a capacity slot atomically so that
	// concurrent sends for the same session cannot both pass the check.
	streamCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel()
		return "", types.ErrShuttingDown
	}
	if _, busy := o.handles[sessionID]; busy {
		o.mu.Unlock()
		cancel()
		o.metrics.StreamRejected("session_busy")
		o.logger.Debug("send rejected, stream already active",
			zap.String("session_id", sessionID))
		return "", types.ErrSessionBusy
	}
	if !o.sem.TryAcquire(1) {
		o.mu.Unlock()
		cancel()
		o.metrics.StreamRejected("capacity")
		o.logger.Warn("send rejected, concurrent stream capacity reached",
			zap.String("session_id", sessionID),
			zap.Int("max_concurrent_streams", o.cfg.MaxConcurrentStreams))
		return "", types.ErrCapacityExceeded
	}
	h := newHandle(sessionID, uuid.NewString(), o.cfg.SubscriberBuffer, cancel)
	o.handles[sessionID] = h
	o.mu.Unlock()

	// Prepare the outgoing prompt. History is advisory context: a failed
	// read degrades to an empty window instead of failing the send.
	history, err := o.store.History(ctx, sessionID, o.cfg.HistoryLimit)
	if err != nil {
		o.logger.Warn("history load failed, sending without context",
			zap.String("session_id", sessionID), zap.Error(err))
		history = nil
	}
	promptText := o.builder.Build(history, text)

	// The user message must be durable before streaming starts.
	if err := o.store.RecordUserMessage(ctx, sessionID, text); err != nil {
		o.release(h)
		return "", err
	}

	o.metrics.StreamStarted()
	o.sink.Publish(events.StreamStarted{
		SessionID: sessionID,
		ThreadID:  h.ThreadID(),
		At:        time.Now(),
	})
	o.logger.Info("stream started",
		zap.String("session_id", sessionID),
		zap.String("thread_id", h.ThreadID()))

	o.wg.Add(1)
	if err := o.workers.Submit(streamCtx, func(tctx context.Context) {
		o.produce(tctx, h, promptText)
	}); err != nil {
		o.wg.Done()
		o.release(h)
		o.metrics.StreamFinished(metrics.OutcomeFailed, time.Since(h.StartedAt()))
		o.sink.Publish(events.StreamFailed{
			SessionID: sessionID,
			ThreadID:  h.ThreadID(),
			Err:       err,
			At:        time.Now(),
		})
		return "", types.WrapError(types.CodeCapacityExceeded, "worker pool rejected production task", err)
	}

	return h.ThreadID(), nil
}

// ActiveThread returns the live handle for the session, or nil. Pure
// lookup, no mutation.
func (o *Orchestrator) ActiveThread(sessionID string) *Handle {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.handles[sessionID]
}

// HasActiveStream reports whether the session has a registered handle.
// The view cache consults this before evicting.
func (o *Orchestrator) HasActiveStream(sessionID string) bool {
	return o.ActiveThread(sessionID) != nil
}

// ActiveCount returns the number of registered handles.
func (o *Orchestrator) ActiveCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.handles)
}

// StopStream signals cooperative cancellation and removes the handle
// from the registry immediately, without waiting for the production
// task to observe it. Idempotent: stopping a session with no active
// handle is a logged no-op.
func (o *Orchestrator) StopStream(sessionID string) {
	o.mu.Lock()
	h, ok := o.handles[sessionID]
	if ok {
		delete(o.handles, sessionID)
	}
	o.mu.Unlock()

	if !ok {
		o.logger.Debug("stop requested for session with no active stream",
			zap.String("session_id", sessionID))
		return
	}
	o.logger.Info("stream stop requested",
		zap.String("session_id", sessionID),
		zap.String("thread_id", h.ThreadID()))
	h.requestCancel()
}

// Shutdown cancels every active stream, waits for production tasks to
// finish, and closes the worker pool. Invoked once on the host
// program's controlled exit path.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	live := make([]*Handle, 0, len(o.handles))
	for _, h := range o.handles {
		live = append(live, h)
	}
	o.mu.Unlock()

	o.logger.Info("orchestrator shutting down", zap.Int("active_streams", len(live)))
	for _, h := range live {
		h.requestCancel()
	}
	o.wg.Wait()
	o.workers.Close()
}

// release deregisters a handle and frees its capacity slot. Each handle
// passes through release exactly once: either from the SendMessage
// unwind paths before the production task starts, or from the produce
// finalizer afterwards.
func (o *Orchestrator) release(h *Handle) {
	o.mu.Lock()
	if cur, ok := o.handles[h.SessionID()]; ok && cur == h {
		delete(o.handles, h.SessionID())
	}
	o.mu.Unlock()
	h.requestCancel()
	o.sem.Release(1)
}

// produce is the background production task for one handle. It runs on
// the shared worker pool; every terminal path funnels through the
// deferred finalizer so registry removal and capacity release happen
// exactly once.
func (o *Orchestrator) produce(ctx context.Context, h *Handle, promptText string) {
	defer o.wg.Done()
	defer o.release(h)

	_, span := o.tracer.Start(ctx, "stream.produce",
		trace.WithAttributes(
			attribute.String("session_id", h.SessionID()),
			attribute.String("thread_id", h.ThreadID()),
		))
	defer span.End()

	final, err := o.provider.StreamResponse(ctx, llm.CompletionRequest{
		Model:       o.cfg.Model,
		Prompt:      promptText,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	}, func(token string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !h.append(token) {
			return context.Canceled
		}
		o.metrics.ChunkAppended()
		return nil
	})

	duration := time.Since(h.StartedAt())

	switch {
	case err == nil:
		h.finish(StateCompleted, nil)
		if perr := o.store.SaveAssistantResponse(context.Background(), h.SessionID(), final, false); perr != nil {
			o.logger.Error("failed to persist completed response",
				zap.String("session_id", h.SessionID()), zap.Error(perr))
		}
		o.metrics.StreamFinished(metrics.OutcomeCompleted, duration)
		o.sink.Publish(events.StreamCompleted{
			SessionID: h.SessionID(),
			ThreadID:  h.ThreadID(),
			Response:  final,
			Duration:  duration,
			At:        time.Now(),
		})
		span.SetStatus(otelcodes.Ok, "")
		o.logger.Info("stream completed",
			zap.String("session_id", h.SessionID()),
			zap.String("thread_id", h.ThreadID()),
			zap.Duration("duration", duration))

	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		// Explicit stop: partial content stays UI-only, nothing is
		// persisted as an answer.
		partial := h.Content()
		h.finish(StateCancelled, err)
		o.metrics.StreamFinished(metrics.OutcomeCancelled, duration)
		o.sink.Publish(events.StreamCancelled{
			SessionID:       h.SessionID(),
			ThreadID:        h.ThreadID(),
			PartialResponse: partial,
			At:              time.Now(),
		})
		span.SetStatus(otelcodes.Error, "cancelled")
		o.logger.Info("stream cancelled",
			zap.String("session_id", h.SessionID()),
			zap.String("thread_id", h.ThreadID()))

	default:
		// Provider failure is fully contained: the buffered partial is
		// persisted with a failure marker and unrelated sessions keep
		// streaming.
		partial := h.Content()
		h.finish(StateFailed, err)
		if perr := o.store.SaveAssistantResponse(context.Background(), h.SessionID(), partial, true); perr != nil {
			o.logger.Error("failed to persist failed response",
				zap.String("session_id", h.SessionID()), zap.Error(perr))
		}
		o.metrics.StreamFinished(metrics.OutcomeFailed, duration)
		o.sink.Publish(events.StreamFailed{
			SessionID:       h.SessionID(),
			ThreadID:        h.ThreadID(),
			Err:             err,
			PartialResponse: partial,
			At:              time.Now(),
		})
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "provider failure")
		o.logger.Error("stream failed",
			zap.String("session_id", h.SessionID()),
			zap.String("thread_id", h.ThreadID()),
			zap.Error(err))
	}
}
