package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quillchat/quill/persistence"
	"github.com/quillchat/quill/stream"
	"github.com/quillchat/quill/types"
)

// ViewState is the cached UI state for one session: the message list
// the UI renders, a pagination cursor, search state, and the consumer's
// own stream subscription. All mutation is serialized by the entry's
// mutex; the UI reads copies.
type ViewState struct {
	sessionID string
	createdAt time.Time
	logger    *zap.Logger

	mu       sync.Mutex
	messages []types.ChatMessage
	cursor   int
	query    string
	hits     []int
	sub      *stream.Subscription
	cleaned  bool

	wg sync.WaitGroup
}

func newViewState(sessionID string, logger *zap.Logger) *ViewState {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ViewState{
		sessionID: sessionID,
		createdAt: time.Now(),
		logger: logger.With(
			zap.String("component", "session_view"),
			zap.String("session_id", sessionID)),
	}
}

// SessionID returns the owning session.
func (v *ViewState) SessionID() string { return v.sessionID }

// LoadHistory hydrates the message list from the transcript store.
// Streaming state attached afterwards replaces or extends the tail.
func (v *ViewState) LoadHistory(ctx context.Context, store persistence.TranscriptStore, limit int) error {
	msgs, err := store.History(ctx, v.sessionID, limit)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cleaned {
		return nil
	}
	v.messages = msgs
	return nil
}

// Messages returns a copy of the UI message list.
func (v *ViewState) Messages() []types.ChatMessage {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]types.ChatMessage, len(v.messages))
	copy(out, v.messages)
	return out
}

// AppendUserMessage echoes the user's outgoing message into the view
// immediately, ahead of the round trip through persistence.
func (v *ViewState) AppendUserMessage(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cleaned {
		return
	}
	v.messages = append(v.messages, types.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: v.sessionID,
		Role:      types.RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
	})
}

// SetCursor positions the pagination cursor. Out-of-range values clamp.
func (v *ViewState) SetCursor(cursor int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(v.messages) {
		cursor = len(v.messages)
	}
	v.cursor = cursor
}

// Page returns up to size messages starting at the cursor and advances
// the cursor past them.
func (v *ViewState) Page(size int) []types.ChatMessage {
	v.mu.Lock()
	defer v.mu.Unlock()
	if size <= 0 || v.cursor >= len(v.messages) {
		return nil
	}
	end := v.cursor + size
	if end > len(v.messages) {
		end = len(v.messages)
	}
	out := make([]types.ChatMessage, end-v.cursor)
	copy(out, v.messages[v.cursor:end])
	v.cursor = end
	return out
}

// Search records the query and the indexes of matching messages.
func (v *ViewState) Search(query string) []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.query = query
	v.hits = v.hits[:0]
	if query == "" {
		return nil
	}
	needle := strings.ToLower(query)
	for i, msg := range v.messages {
		if strings.Contains(strings.ToLower(msg.Content), needle) {
			v.hits = append(v.hits, i)
		}
	}
	out := make([]int, len(v.hits))
	copy(out, v.hits)
	return out
}

// SearchState returns the current query and match indexes.
func (v *ViewState) SearchState() (string, []int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]int, len(v.hits))
	copy(out, v.hits)
	return v.query, out
}

// ThreadLookup is the slice of the orchestrator the view consumes.
type ThreadLookup interface {
	ActiveThread(sessionID string) *stream.Handle
}

// AttachStream subscribes this view to the session's live stream, if
// any. A prior subscription under the same key is cancelled first, so
// at most one subscription per (consumer, session) is ever live. The
// first update replays buffered history; live snapshots follow, each
// replacing the trailing pending assistant entry rather than appending.
func (v *ViewState) AttachStream(lookup ThreadLookup) bool {
	h := lookup.ActiveThread(v.sessionID)
	if h == nil {
		return false
	}

	v.mu.Lock()
	if v.cleaned {
		v.mu.Unlock()
		return false
	}
	if v.sub != nil {
		v.sub.Cancel()
		v.sub = nil
	}
	sub := h.Subscribe()
	v.sub = sub
	v.wg.Add(1)
	v.mu.Unlock()

	go v.consume(sub)
	return true
}

// DetachStream cancels the current subscription, if any. Called when
// the consumer switches to another session.
func (v *ViewState) DetachStream() {
	v.mu.Lock()
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

func (v *ViewState) consume(sub *stream.Subscription) {
	defer v.wg.Done()
	for u := range sub.Updates() {
		v.apply(sub, u)
	}
	// Exactly-once detach when the channel closes, whichever side
	// closed it.
	v.mu.Lock()
	if v.sub == sub {
		v.sub = nil
	}
	v.mu.Unlock()
}

// apply folds one stream snapshot into the message list. It re-checks
// that this subscription is still the view's current one before
// mutating, guarding against a stale, previously-abandoned observer
// reacting to a late notification.
func (v *ViewState) apply(sub *stream.Subscription, u stream.Update) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.cleaned || v.sub != sub {
		return
	}
	// The active session can change between handle lookup and delivery;
	// drop anything not addressed to this session.
	if u.SessionID != v.sessionID {
		v.logger.Warn("dropping stream update for foreign session",
			zap.String("update_session_id", u.SessionID))
		return
	}

	last := len(v.messages) - 1
	if last >= 0 && v.messages[last].Role == types.RoleAssistant && v.messages[last].Pending {
		v.messages[last].Content = u.Content
	} else {
		v.messages = append(v.messages, types.ChatMessage{
			ID:        u.ThreadID,
			SessionID: v.sessionID,
			Role:      types.RoleAssistant,
			Content:   u.Content,
			Pending:   true,
			CreatedAt: time.Now(),
		})
		last = len(v.messages) - 1
	}

	if u.Final() {
		v.messages[last].Pending = false
		v.messages[last].Failed = u.State == stream.StateFailed
		// A cancelled stream keeps its partial text visible but is not
		// a finalized answer; an empty cancelled entry is dropped.
		if u.State == stream.StateCancelled && v.messages[last].Content == "" {
			v.messages = v.messages[:last]
		}
	}
}

// cleanup cancels the subscription and waits for the consumer goroutine
// to drain, then drops buffered state. Called exactly once by the cache
// on eviction, close, or shutdown.
func (v *ViewState) cleanup() {
	v.mu.Lock()
	if v.cleaned {
		v.mu.Unlock()
		return
	}
	v.cleaned = true
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	v.wg.Wait()

	v.mu.Lock()
	v.messages = nil
	v.hits = nil
	v.mu.Unlock()
}
