package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/quillchat/quill/internal/metrics"
	"github.com/quillchat/quill/persistence"
	"github.com/quillchat/quill/stream"
)

// StreamController is the slice of the orchestrator the cache consumes.
type StreamController interface {
	ActiveThread(sessionID string) *stream.Handle
	HasActiveStream(sessionID string) bool
	StopStream(sessionID string)
	Shutdown()
}

// Diagnostics is the cache state snapshot exposed to the UI layer.
type Diagnostics struct {
	TotalCached   int `json:"total_cached"`
	ActiveCount   int `json:"active_count"`
	InactiveCount int `json:"inactive_count"`
	MaxCapacity   int `json:"max_capacity"`
}

// ViewCache is the bounded per-session view-state cache. Eviction is
// deterministic and safety-constrained: an entry is only ever dropped
// when it is neither the active session nor backed by a live stream.
// When no such entry exists the cache overflows its capacity instead of
// orphaning a running stream's UI state, and shrinks back as soon as a
// safe candidate reappears.
type ViewCache struct {
	capacity     int
	historyLimit int
	streams      StreamController
	store        persistence.TranscriptStore
	metrics      *metrics.Collector
	logger       *zap.Logger

	mu      sync.Mutex
	entries map[string]*ViewState
	order   []string
	active  string
}

// NewViewCache creates a cache holding at most capacity entries.
func NewViewCache(capacity, historyLimit int, streams StreamController, store persistence.TranscriptStore, collector *metrics.Collector, logger *zap.Logger) (*ViewCache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}
	if streams == nil {
		return nil, fmt.Errorf("stream controller cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if collector == nil {
		collector = metrics.NewCollector("quill", nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ViewCache{
		capacity:     capacity,
		historyLimit: historyLimit,
		streams:      streams,
		store:        store,
		metrics:      collector,
		logger:       logger.With(zap.String("component", "view_cache")),
		entries:      make(map[string]*ViewState),
	}, nil
}

// GetOrCreate returns the cached view state for the session, creating
// and hydrating a fresh one on miss. At capacity, exactly one safe
// entry is evicted first when one exists.
func (c *ViewCache) GetOrCreate(ctx context.Context, sessionID string) (*ViewState, error) {
	if sessionID == "" {
		return nil, persistence.ErrInvalidInput
	}

	c.mu.Lock()
	if entry, ok := c.entries[sessionID]; ok {
		c.mu.Unlock()
		c.metrics.CacheHit()
		return entry, nil
	}
	c.metrics.CacheMiss()

	var evicted []*ViewState
	for len(c.entries) >= c.capacity {
		victim := c.evictOneLocked()
		if victim == nil {
			c.logger.Warn("no safe eviction candidate, cache exceeding capacity",
				zap.Int("capacity", c.capacity),
				zap.Int("cached", len(c.entries)))
			break
		}
		evicted = append(evicted, victim)
	}

	entry := newViewState(sessionID, c.logger)
	c.entries[sessionID] = entry
	c.order = append(c.order, sessionID)
	c.metrics.SetCachedSessions(len(c.entries))
	c.mu.Unlock()

	for _, victim := range evicted {
		victim.cleanup()
	}

	if err := entry.LoadHistory(ctx, c.store, c.historyLimit); err != nil {
		c.logger.Warn("view history hydration failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	return entry, nil
}

// evictOneLocked removes and returns the first entry in insertion order
// that is neither the active session nor backing a live stream. It
// returns nil when the safe set is empty; the caller then overflows
// rather than evicting mid-stream state. c.mu must be held.
func (c *ViewCache) evictOneLocked() *ViewState {
	for i, id := range c.order {
		if id == c.active || c.streams.HasActiveStream(id) {
			continue
		}
		entry := c.entries[id]
		delete(c.entries, id)
		c.order = append(c.order[:i], c.order[i+1:]...)
		c.metrics.CacheEviction("safe")
		c.metrics.SetCachedSessions(len(c.entries))
		c.logger.Debug("evicting session view",
			zap.String("session_id", id))
		return entry
	}
	return nil
}

// SwitchToSession marks the session active, detaches the previously
// active session's subscription, and attaches the view to any live
// stream so the UI resumes with replay plus live updates.
func (c *ViewCache) SwitchToSession(ctx context.Context, sessionID string) (*ViewState, error) {
	entry, err := c.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	prevID := c.active
	c.active = sessionID
	var prev *ViewState
	if prevID != "" && prevID != sessionID {
		prev = c.entries[prevID]
	}
	c.mu.Unlock()

	if prev != nil {
		prev.DetachStream()
	}
	entry.AttachStream(c.streams)
	return entry, nil
}

// ActiveSession returns the currently active session id, if any.
func (c *ViewCache) ActiveSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// CloseSession stops any active stream for the session, drops and
// cleans its cache entry, and clears the active marker if it pointed at
// this session. Used when a collaborator permanently deletes the
// session.
func (c *ViewCache) CloseSession(sessionID string) {
	c.streams.StopStream(sessionID)

	c.mu.Lock()
	entry, ok := c.entries[sessionID]
	if ok {
		delete(c.entries, sessionID)
		c.removeFromOrderLocked(sessionID)
	}
	if c.active == sessionID {
		c.active = ""
	}
	c.metrics.SetCachedSessions(len(c.entries))
	c.mu.Unlock()

	if ok {
		entry.cleanup()
	}
	c.logger.Info("session closed", zap.String("session_id", sessionID))
}

// Shutdown cancels every active stream and cleans up every cached
// entry. Invoked once at process termination so no background work
// outlives the process.
func (c *ViewCache) Shutdown() {
	c.streams.Shutdown()

	c.mu.Lock()
	entries := make([]*ViewState, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	c.entries = make(map[string]*ViewState)
	c.order = nil
	c.active = ""
	c.metrics.SetCachedSessions(0)
	c.mu.Unlock()

	for _, entry := range entries {
		entry.cleanup()
	}
	c.logger.Info("view cache shut down", zap.Int("cleaned_entries", len(entries)))
}

// Diagnostics returns the cache state snapshot for the UI.
func (c *ViewCache) Diagnostics() Diagnostics {
	c.mu.Lock()
	ids := make([]string, len(c.order))
	copy(ids, c.order)
	total := len(c.entries)
	c.mu.Unlock()

	active := 0
	for _, id := range ids {
		if c.streams.HasActiveStream(id) {
			active++
		}
	}
	return Diagnostics{
		TotalCached:   total,
		ActiveCount:   active,
		InactiveCount: total - active,
		MaxCapacity:   c.capacity,
	}
}

func (c *ViewCache) removeFromOrderLocked(sessionID string) {
	for i, id := range c.order {
		if id == sessionID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
