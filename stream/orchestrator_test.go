package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillchat/quill/events"
	"github.com/quillchat/quill/llm"
	"github.com/quillchat/quill/persistence"
	"github.com/quillchat/quill/types"
)

// gatedProvider streams tokens pushed through emit and returns when emit
// closes, so tests control exactly when a stream is live and how it
// terminates.
type gatedProvider struct {
	emit    chan string
	started chan struct{}
	err     error

	startOnce sync.Once
}

func newGatedProvider() *gatedProvider {
	return &gatedProvider{
		emit:    make(chan string),
		started: make(chan struct{}),
	}
}

func (p *gatedProvider) Name() string { return "gated" }

func (p *gatedProvider) StreamResponse(ctx context.Context, _ llm.CompletionRequest, onToken llm.TokenFunc) (string, error) {
	p.startOnce.Do(func() { close(p.started) })
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case tok, ok := <-p.emit:
			if !ok {
				return sb.String(), p.err
			}
			if err := onToken(tok); err != nil {
				return sb.String(), err
			}
			sb.WriteString(tok)
		}
	}
}

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordedEvents) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordedEvents) eventTypes() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type()
	}
	return out
}

func newTestOrchestrator(t *testing.T, cfg Config, provider llm.Provider) (*Orchestrator, *persistence.MemoryStore, *recordedEvents) {
	t.Helper()
	store := persistence.NewMemoryStore()
	sink := &recordedEvents{}
	o, err := NewOrchestrator(cfg, Deps{
		Provider: provider,
		Store:    store,
		Events:   sink,
	})
	require.NoError(t, err)
	t.Cleanup(o.Shutdown)
	return o, store, sink
}

func waitIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	require.Eventually(t, func() bool { return o.ActiveCount() == 0 },
		2*time.Second, 5*time.Millisecond)
}

func TestSendMessageStreamsToCompletion(t *testing.T) {
	provider := newGatedProvider()
	o, store, sink := newTestOrchestrator(t, DefaultConfig(), provider)

	threadID, err := o.SendMessage(context.Background(), "alpha", "hi")
	require.NoError(t, err)
	require.NotEmpty(t, threadID)
	<-provider.started

	h := o.ActiveThread("alpha")
	require.NotNil(t, h)
	assert.Equal(t, threadID, h.ThreadID())
	sub := h.Subscribe()

	provider.emit <- "Hel"
	provider.emit <- "lo"
	close(provider.emit)
	waitIdle(t, o)

	var last Update
	for u := range sub.Updates() {
		assert.True(t, strings.HasPrefix("Hello", u.Content))
		last = u
	}
	assert.Equal(t, StateCompleted, last.State)
	assert.Equal(t, "Hello", last.Content)

	// User message persisted before streaming, response after.
	history, err := store.History(context.Background(), "alpha", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, types.RoleUser, history[0].Role)
	assert.Equal(t, "hi", history[0].Content)
	assert.Equal(t, types.RoleAssistant, history[1].Role)
	assert.Equal(t, "Hello", history[1].Content)
	assert.False(t, history[1].Failed)

	assert.Equal(t, []events.EventType{events.EventStreamStarted, events.EventStreamCompleted}, sink.eventTypes())
}

func TestSendMessageRejectsEmptyInput(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, DefaultConfig(), newGatedProvider())

	_, err := o.SendMessage(context.Background(), "", "hi")
	assert.True(t, types.IsCode(err, types.CodeInvalidInput))
	_, err = o.SendMessage(context.Background(), "alpha", "")
	assert.True(t, types.IsCode(err, types.CodeInvalidInput))
}

func TestSecondSendOnBusySessionIsRejected(t *testing.T) {
	provider := newGatedProvider()
	o, store, _ := newTestOrchestrator(t, DefaultConfig(), provider)

	_, err := o.SendMessage(context.Background(), "alpha", "first")
	require.NoError(t, err)
	<-provider.started

	_, err = o.SendMessage(context.Background(), "alpha", "second")
	require.ErrorIs(t, err, types.ErrSessionBusy)

	// The rejected message must not reach the transcript.
	history, err := store.History(context.Background(), "alpha", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "first", history[0].Content)

	close(provider.emit)
	waitIdle(t, o)

	// After completion the session accepts sends again.
	_, err = o.SendMessage(context.Background(), "alpha", "third")
	require.NoError(t, err)
}

func TestConcurrentSendsSameSessionHaveOneWinner(t *testing.T) {
	provider := newGatedProvider()
	o, _, _ := newTestOrchestrator(t, DefaultConfig(), provider)

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.SendMessage(context.Background(), "alpha", "race")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	winners, busy := 0, 0
	for err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, types.ErrSessionBusy):
			busy++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, attempts-1, busy)

	close(provider.emit)
	waitIdle(t, o)
}

func TestGlobalCapacityBound(t *testing.T) {
	provider := newGatedProvider()
	cfg := DefaultConfig()
	cfg.MaxConcurrentStreams = 2
	o, _, _ := newTestOrchestrator(t, cfg, provider)

	_, err := o.SendMessage(context.Background(), "alpha", "one")
	require.NoError(t, err)
	_, err = o.SendMessage(context.Background(), "beta", "two")
	require.NoError(t, err)

	_, err = o.SendMessage(context.Background(), "gamma", "three")
	require.ErrorIs(t, err, types.ErrCapacityExceeded)

	// Finishing a stream frees its slot.
	close(provider.emit)
	waitIdle(t, o)
	_, err = o.SendMessage(context.Background(), "gamma", "three again")
	require.NoError(t, err)
}

func TestProviderFailurePersistsPartialWithMarker(t *testing.T) {
	provider := newGatedProvider()
	provider.err = errors.New("upstream 500")
	o, store, sink := newTestOrchestrator(t, DefaultConfig(), provider)

	_, err := o.SendMessage(context.Background(), "alpha", "hi")
	require.NoError(t, err)
	<-provider.started

	h := o.ActiveThread("alpha")
	require.NotNil(t, h)
	sub := h.Subscribe()

	provider.emit <- "part"
	provider.emit <- "ial"
	close(provider.emit)
	waitIdle(t, o)

	var last Update
	for u := range sub.Updates() {
		last = u
	}
	assert.Equal(t, StateFailed, last.State)
	assert.Equal(t, "partial", last.Content)
	require.Error(t, last.Err)

	history, err := store.History(context.Background(), "alpha", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "partial", history[1].Content)
	assert.True(t, history[1].Failed)

	tys := sink.eventTypes()
	require.Len(t, tys, 2)
	assert.Equal(t, events.EventStreamFailed, tys[1])
}

func TestFailureIsIsolatedPerSession(t *testing.T) {
	failing := newGatedProvider()
	failing.err = errors.New("boom")
	o, _, _ := newTestOrchestrator(t, DefaultConfig(), failing)

	_, err := o.SendMessage(context.Background(), "alpha", "will fail")
	require.NoError(t, err)
	_, err = o.SendMessage(context.Background(), "beta", "unaffected")
	require.NoError(t, err)

	betaHandle := o.ActiveThread("beta")
	require.NotNil(t, betaHandle)

	// Terminate both; the orchestrator must survive one stream failing
	// while the other runs.
	close(failing.emit)
	waitIdle(t, o)

	assert.Equal(t, StateFailed, betaHandle.State())
}

func TestStopStreamCancelsWithoutPersisting(t *testing.T) {
	provider := newGatedProvider()
	o, store, sink := newTestOrchestrator(t, DefaultConfig(), provider)

	_, err := o.SendMessage(context.Background(), "alpha", "hi")
	require.NoError(t, err)
	<-provider.started

	h := o.ActiveThread("alpha")
	require.NotNil(t, h)
	sub := h.Subscribe()
	provider.emit <- "partial "

	o.StopStream("alpha")

	// The handle is deregistered immediately, before the producer winds
	// down.
	assert.Nil(t, o.ActiveThread("alpha"))
	waitIdle(t, o)

	var last Update
	for u := range sub.Updates() {
		last = u
	}
	assert.Equal(t, StateCancelled, last.State)

	// A user stop is not a failure: only the user message is recorded.
	history, err := store.History(context.Background(), "alpha", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, types.RoleUser, history[0].Role)

	tys := sink.eventTypes()
	require.Len(t, tys, 2)
	assert.Equal(t, events.EventStreamCancelled, tys[1])
}

func TestStopStreamWithoutActiveStreamIsNoop(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, DefaultConfig(), newGatedProvider())
	o.StopStream("nobody-home")
	assert.Equal(t, 0, o.ActiveCount())
}

func TestCancelledStreamFreesCapacity(t *testing.T) {
	provider := newGatedProvider()
	cfg := DefaultConfig()
	cfg.MaxConcurrentStreams = 1
	o, _, _ := newTestOrchestrator(t, cfg, provider)

	_, err := o.SendMessage(context.Background(), "alpha", "hi")
	require.NoError(t, err)
	<-provider.started

	o.StopStream("alpha")
	waitIdle(t, o)

	_, err = o.SendMessage(context.Background(), "beta", "next")
	require.NoError(t, err)
}

func TestShutdownCancelsActiveStreamsAndRejectsSends(t *testing.T) {
	provider := newGatedProvider()
	o, _, _ := newTestOrchestrator(t, DefaultConfig(), provider)

	_, err := o.SendMessage(context.Background(), "alpha", "hi")
	require.NoError(t, err)
	<-provider.started
	h := o.ActiveThread("alpha")
	require.NotNil(t, h)

	o.Shutdown()

	assert.Equal(t, StateCancelled, h.State())
	_, err = o.SendMessage(context.Background(), "beta", "too late")
	require.ErrorIs(t, err, types.ErrShuttingDown)
}

func TestHasActiveStream(t *testing.T) {
	provider := newGatedProvider()
	o, _, _ := newTestOrchestrator(t, DefaultConfig(), provider)

	assert.False(t, o.HasActiveStream("alpha"))
	_, err := o.SendMessage(context.Background(), "alpha", "hi")
	require.NoError(t, err)
	assert.True(t, o.HasActiveStream("alpha"))

	close(provider.emit)
	waitIdle(t, o)
	assert.False(t, o.HasActiveStream("alpha"))
}
