package types

import "time"

// Role identifies the author of a transcript message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one entry of a session transcript as the UI sees it.
// Pending marks an assistant entry that is still being streamed and is
// replaced in place by each live update; Failed marks an assistant entry
// whose stream terminated with a provider error.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Pending   bool      `json:"pending,omitempty"`
	Failed    bool      `json:"failed,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IsFinal reports whether the message is settled and will not change.
func (m *ChatMessage) IsFinal() bool {
	return !m.Pending
}
