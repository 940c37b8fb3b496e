package persistence

import (
	"context"
	"errors"

	"github.com/quillchat/quill/types"
)

// ErrInvalidInput is returned for empty session IDs or nil arguments.
var ErrInvalidInput = errors.New("invalid input")

// TranscriptStore persists session transcripts.
//
// RecordUserMessage is called synchronously before any streaming work
// starts, so "user message saved" always orders before "response
// streaming" even under a crash. SaveAssistantResponse is called exactly
// once at stream termination; failed marks a partial response whose
// stream raised mid-way.
type TranscriptStore interface {
	RecordUserMessage(ctx context.Context, sessionID, content string) error
	SaveAssistantResponse(ctx context.Context, sessionID, content string, failed bool) error

	// History returns up to limit transcript messages for the session,
	// ordered oldest first. limit <= 0 means no limit.
	History(ctx context.Context, sessionID string, limit int) ([]types.ChatMessage, error)

	Close() error
}
