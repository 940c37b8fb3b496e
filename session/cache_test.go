package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillchat/quill/persistence"
	"github.com/quillchat/quill/stream"
)

// stubController simulates the orchestrator's registry surface without
// running real streams: tests toggle which sessions count as live.
type stubController struct {
	mu       sync.Mutex
	live     map[string]bool
	stopped  []string
	shutdown bool
}

func newStubController() *stubController {
	return &stubController{live: make(map[string]bool)}
}

func (c *stubController) setLive(sessionID string, live bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live[sessionID] = live
}

func (c *stubController) ActiveThread(string) *stream.Handle { return nil }

func (c *stubController) HasActiveStream(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live[sessionID]
}

func (c *stubController) StopStream(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = append(c.stopped, sessionID)
	c.live[sessionID] = false
}

func (c *stubController) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdown = true
}

func newTestCache(t *testing.T, capacity int, ctrl StreamController) (*ViewCache, *persistence.MemoryStore) {
	t.Helper()
	store := persistence.NewMemoryStore()
	cache, err := NewViewCache(capacity, 0, ctrl, store, nil, nil)
	require.NoError(t, err)
	return cache, store
}

func TestNewViewCacheValidation(t *testing.T) {
	store := persistence.NewMemoryStore()
	_, err := NewViewCache(0, 0, newStubController(), store, nil, nil)
	assert.Error(t, err)
	_, err = NewViewCache(4, 0, nil, store, nil, nil)
	assert.Error(t, err)
	_, err = NewViewCache(4, 0, newStubController(), nil, nil, nil)
	assert.Error(t, err)
}

func TestGetOrCreateHitReturnsSameEntry(t *testing.T) {
	cache, _ := newTestCache(t, 4, newStubController())

	a, err := cache.GetOrCreate(context.Background(), "alpha")
	require.NoError(t, err)
	b, err := cache.GetOrCreate(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = cache.GetOrCreate(context.Background(), "")
	assert.Error(t, err)
}

func TestGetOrCreateHydratesFromTranscript(t *testing.T) {
	cache, store := newTestCache(t, 4, newStubController())
	ctx := context.Background()
	require.NoError(t, store.RecordUserMessage(ctx, "alpha", "hello"))
	require.NoError(t, store.SaveAssistantResponse(ctx, "alpha", "hi there", false))

	view, err := cache.GetOrCreate(ctx, "alpha")
	require.NoError(t, err)
	msgs := view.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "hi there", msgs[1].Content)
}

func TestEvictionPrefersOldestSafeEntry(t *testing.T) {
	ctrl := newStubController()
	cache, _ := newTestCache(t, 2, ctrl)
	ctx := context.Background()

	a, err := cache.GetOrCreate(ctx, "alpha")
	require.NoError(t, err)
	_, err = cache.GetOrCreate(ctx, "beta")
	require.NoError(t, err)

	// Third session forces the oldest inactive entry out.
	_, err = cache.GetOrCreate(ctx, "gamma")
	require.NoError(t, err)

	d := cache.Diagnostics()
	assert.Equal(t, 2, d.TotalCached)

	// The evicted entry was cleaned: mutations become no-ops.
	a.AppendUserMessage("ghost write")
	assert.Empty(t, a.Messages())

	// A fresh lookup for the evicted id builds a new entry.
	a2, err := cache.GetOrCreate(ctx, "alpha")
	require.NoError(t, err)
	assert.NotSame(t, a, a2)
}

func TestEvictionSkipsStreamingAndActiveEntries(t *testing.T) {
	ctrl := newStubController()
	cache, _ := newTestCache(t, 2, ctrl)
	ctx := context.Background()

	// alpha has a live stream; beta is the active session.
	_, err := cache.GetOrCreate(ctx, "alpha")
	require.NoError(t, err)
	ctrl.setLive("alpha", true)
	_, err = cache.SwitchToSession(ctx, "beta")
	require.NoError(t, err)

	// No safe candidate: the cache must overflow rather than orphan
	// either entry.
	_, err = cache.GetOrCreate(ctx, "gamma")
	require.NoError(t, err)
	assert.Equal(t, 3, cache.Diagnostics().TotalCached)

	// Once alpha's stream ends it becomes evictable; the next insert
	// shrinks the cache back toward capacity, oldest safe entries first.
	ctrl.setLive("alpha", false)
	_, err = cache.GetOrCreate(ctx, "delta")
	require.NoError(t, err)
	d := cache.Diagnostics()
	assert.Equal(t, 2, d.TotalCached)

	// beta survived both rounds: the active session is never evicted.
	b, err := cache.GetOrCreate(ctx, "beta")
	require.NoError(t, err)
	b.AppendUserMessage("still here")
	assert.Len(t, b.Messages(), 1)
}

func TestSwitchToSessionTracksActive(t *testing.T) {
	cache, _ := newTestCache(t, 4, newStubController())
	ctx := context.Background()

	_, err := cache.SwitchToSession(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", cache.ActiveSession())

	_, err = cache.SwitchToSession(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, "beta", cache.ActiveSession())
}

func TestCloseSessionStopsStreamAndDropsEntry(t *testing.T) {
	ctrl := newStubController()
	cache, _ := newTestCache(t, 4, ctrl)
	ctx := context.Background()

	view, err := cache.SwitchToSession(ctx, "alpha")
	require.NoError(t, err)

	cache.CloseSession("alpha")

	assert.Equal(t, []string{"alpha"}, ctrl.stopped)
	assert.Equal(t, "", cache.ActiveSession())
	assert.Equal(t, 0, cache.Diagnostics().TotalCached)

	// Entry is cleaned, not merely unlinked.
	view.AppendUserMessage("ghost")
	assert.Empty(t, view.Messages())
}

func TestCloseSessionUnknownIDIsSafe(t *testing.T) {
	ctrl := newStubController()
	cache, _ := newTestCache(t, 4, ctrl)
	cache.CloseSession("never-seen")
	assert.Equal(t, []string{"never-seen"}, ctrl.stopped)
}

func TestShutdownCleansEverything(t *testing.T) {
	ctrl := newStubController()
	cache, _ := newTestCache(t, 4, ctrl)
	ctx := context.Background()

	_, err := cache.GetOrCreate(ctx, "alpha")
	require.NoError(t, err)
	_, err = cache.GetOrCreate(ctx, "beta")
	require.NoError(t, err)

	cache.Shutdown()

	assert.True(t, ctrl.shutdown)
	assert.Equal(t, 0, cache.Diagnostics().TotalCached)
	assert.Equal(t, "", cache.ActiveSession())
}

func TestDiagnosticsCountsStreamingSessions(t *testing.T) {
	ctrl := newStubController()
	cache, _ := newTestCache(t, 8, ctrl)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := cache.GetOrCreate(ctx, id)
		require.NoError(t, err)
	}
	ctrl.setLive("b", true)

	d := cache.Diagnostics()
	assert.Equal(t, 3, d.TotalCached)
	assert.Equal(t, 1, d.ActiveCount)
	assert.Equal(t, 2, d.InactiveCount)
	assert.Equal(t, 8, d.MaxCapacity)
}
