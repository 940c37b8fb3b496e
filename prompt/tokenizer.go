package prompt

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// TokenCounter counts tokens for budget trimming. Counting is advisory:
// a failed count falls back to an estimate rather than failing the send.
type TokenCounter interface {
	CountTokens(text string) int
}

// TiktokenCounter counts tokens with a tiktoken encoding, lazily
// initialized (the encoding data may be downloaded on first use). On
// init or encode failure it falls back to a chars/4 estimate and logs a
// warning once.
type TiktokenCounter struct {
	encoding string
	logger   *zap.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
	warned  sync.Once
}

// NewTiktokenCounter creates a counter for the given encoding name
// (e.g. "cl100k_base", "o200k_base").
func NewTiktokenCounter(encoding string, logger *zap.Logger) *TiktokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TiktokenCounter{encoding: encoding, logger: logger}
}

func (t *TiktokenCounter) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens implements TokenCounter.
func (t *TiktokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if err := t.init(); err != nil {
		t.warned.Do(func() {
			t.logger.Warn("tiktoken unavailable, falling back to estimate", zap.Error(err))
		})
		return estimateTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// EstimatorCounter is a dependency-free fallback counter.
type EstimatorCounter struct{}

// CountTokens implements TokenCounter.
func (EstimatorCounter) CountTokens(text string) int {
	return estimateTokens(text)
}

func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}
