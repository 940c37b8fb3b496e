package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quillchat/quill/types"
)

// MemoryStore is an in-memory TranscriptStore for tests and development.
// Data does not survive process restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]types.ChatMessage
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]types.ChatMessage)}
}

// RecordUserMessage implements TranscriptStore.
func (s *MemoryStore) RecordUserMessage(ctx context.Context, sessionID, content string) error {
	return s.append(sessionID, types.RoleUser, content, false)
}

// SaveAssistantResponse implements TranscriptStore.
func (s *MemoryStore) SaveAssistantResponse(ctx context.Context, sessionID, content string, failed bool) error {
	return s.append(sessionID, types.RoleAssistant, content, failed)
}

func (s *MemoryStore) append(sessionID string, role types.Role, content string, failed bool) error {
	if sessionID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], types.ChatMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Failed:    failed,
		CreatedAt: time.Now(),
	})
	return nil
}

// History implements TranscriptStore.
func (s *MemoryStore) History(ctx context.Context, sessionID string, limit int) ([]types.ChatMessage, error) {
	if sessionID == "" {
		return nil, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.sessions[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]types.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Close implements TranscriptStore.
func (s *MemoryStore) Close() error {
	return nil
}
