package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quillchat/quill/types"
)

// transcriptMessage is the GORM model backing one transcript entry.
type transcriptMessage struct {
	ID        string `gorm:"primaryKey;size:36"`
	SessionID string `gorm:"index;size:128;not null"`
	Role      string `gorm:"size:16;not null"`
	Content   string `gorm:"type:text"`
	Failed    bool
	CreatedAt time.Time `gorm:"index"`
}

// TableName implements the GORM table-name convention.
func (transcriptMessage) TableName() string { return "transcript_messages" }

// GormStore is a SQL TranscriptStore backed by GORM.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore wraps an opened *gorm.DB. It does not migrate; callers
// that own the schema lifecycle run Migrate once at startup.
func NewGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "transcript_store")),
	}, nil
}

// Migrate creates or updates the transcript schema.
func (s *GormStore) Migrate() error {
	if err := s.db.AutoMigrate(&transcriptMessage{}); err != nil {
		return fmt.Errorf("migrate transcript schema: %w", err)
	}
	return nil
}

// RecordUserMessage implements TranscriptStore.
func (s *GormStore) RecordUserMessage(ctx context.Context, sessionID, content string) error {
	return s.insert(ctx, sessionID, types.RoleUser, content, false)
}

// SaveAssistantResponse implements TranscriptStore.
func (s *GormStore) SaveAssistantResponse(ctx context.Context, sessionID, content string, failed bool) error {
	return s.insert(ctx, sessionID, types.RoleAssistant, content, failed)
}

func (s *GormStore) insert(ctx context.Context, sessionID string, role types.Role, content string, failed bool) error {
	if sessionID == "" {
		return ErrInvalidInput
	}
	rec := transcriptMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      string(role),
		Content:   content,
		Failed:    failed,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		s.logger.Error("transcript insert failed",
			zap.String("session_id", sessionID),
			zap.String("role", string(role)),
			zap.Error(err))
		return types.WrapError(types.CodeStoreFailure, "save transcript message", err)
	}
	return nil
}

// History implements TranscriptStore.
func (s *GormStore) History(ctx context.Context, sessionID string, limit int) ([]types.ChatMessage, error) {
	if sessionID == "" {
		return nil, ErrInvalidInput
	}

	q := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var recs []transcriptMessage
	if err := q.Find(&recs).Error; err != nil {
		return nil, types.WrapError(types.CodeStoreFailure, "load transcript history", err)
	}

	// Newest-first from the query; reverse to oldest-first.
	out := make([]types.ChatMessage, len(recs))
	for i, rec := range recs {
		out[len(recs)-1-i] = types.ChatMessage{
			ID:        rec.ID,
			SessionID: rec.SessionID,
			Role:      types.Role(rec.Role),
			Content:   rec.Content,
			Failed:    rec.Failed,
			CreatedAt: rec.CreatedAt,
		}
	}
	return out, nil
}

// Close implements TranscriptStore.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
