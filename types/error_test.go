package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	e := NewError(CodeSessionBusy, "busy")
	assert.Equal(t, "[SESSION_BUSY] busy", e.Error())

	wrapped := WrapError(CodeStoreFailure, "insert", errors.New("disk full"))
	assert.Equal(t, "[STORE_FAILURE] insert: disk full", wrapped.Error())
}

func TestWrapErrorUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapError(CodeProviderFailure, "stream aborted", cause)
	assert.ErrorIs(t, err, cause)
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, CodeCapacityExceeded, GetErrorCode(ErrCapacityExceeded))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(nil))

	// Codes survive fmt wrapping.
	deep := fmt.Errorf("outer: %w", NewError(CodeCancelled, "stopped"))
	assert.Equal(t, CodeCancelled, GetErrorCode(deep))
	assert.True(t, IsCode(deep, CodeCancelled))
	assert.False(t, IsCode(deep, CodeSessionBusy))
}

func TestChatMessageIsFinal(t *testing.T) {
	pending := ChatMessage{Role: RoleAssistant, Pending: true}
	assert.False(t, pending.IsFinal())
	settled := ChatMessage{Role: RoleAssistant}
	assert.True(t, settled.IsFinal())
}
