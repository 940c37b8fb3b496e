package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quillchat/quill/types"
)

// RedisStore is a Redis-backed TranscriptStore. Each session transcript
// lives in one list keyed by session ID, entries appended as JSON.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// RedisConfig configures the Redis transcript store.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "quill:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client:    client,
		keyPrefix: prefix + "transcript:",
		logger:    logger.With(zap.String("component", "transcript_store")),
	}, nil
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return s.keyPrefix + sessionID
}

// RecordUserMessage implements TranscriptStore.
func (s *RedisStore) RecordUserMessage(ctx context.Context, sessionID, content string) error {
	return s.append(ctx, sessionID, types.RoleUser, content, false)
}

// SaveAssistantResponse implements TranscriptStore.
func (s *RedisStore) SaveAssistantResponse(ctx context.Context, sessionID, content string, failed bool) error {
	return s.append(ctx, sessionID, types.RoleAssistant, content, failed)
}

func (s *RedisStore) append(ctx context.Context, sessionID string, role types.Role, content string, failed bool) error {
	if sessionID == "" {
		return ErrInvalidInput
	}
	msg := types.ChatMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Failed:    failed,
		CreatedAt: time.Now(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript message: %w", err)
	}
	if err := s.client.RPush(ctx, s.sessionKey(sessionID), data).Err(); err != nil {
		s.logger.Error("transcript append failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return types.WrapError(types.CodeStoreFailure, "save transcript message", err)
	}
	return nil
}

// History implements TranscriptStore.
func (s *RedisStore) History(ctx context.Context, sessionID string, limit int) ([]types.ChatMessage, error) {
	if sessionID == "" {
		return nil, ErrInvalidInput
	}

	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.client.LRange(ctx, s.sessionKey(sessionID), start, -1).Result()
	if err != nil {
		return nil, types.WrapError(types.CodeStoreFailure, "load transcript history", err)
	}

	out := make([]types.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg types.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			s.logger.Warn("skipping malformed transcript entry",
				zap.String("session_id", sessionID),
				zap.Error(err))
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Close implements TranscriptStore.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
