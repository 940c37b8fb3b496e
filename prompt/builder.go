package prompt

import (
	"fmt"
	"strings"

	"github.com/quillchat/quill/types"
)

// Builder assembles the prompt text for one exchange. History is trimmed
// oldest-first so the newest turns always survive the token budget; the
// system prompt and the new user message are never trimmed.
type Builder struct {
	systemPrompt string
	tokenBudget  int
	counter      TokenCounter
}

// NewBuilder creates a Builder. A zero or negative tokenBudget disables
// trimming. A nil counter falls back to the character estimator.
func NewBuilder(systemPrompt string, tokenBudget int, counter TokenCounter) *Builder {
	if counter == nil {
		counter = EstimatorCounter{}
	}
	return &Builder{
		systemPrompt: systemPrompt,
		tokenBudget:  tokenBudget,
		counter:      counter,
	}
}

// Build renders the prompt from prior transcript history plus the new
// user message. History must be ordered oldest first.
func (b *Builder) Build(history []types.ChatMessage, userMessage string) string {
	var fixed strings.Builder
	if b.systemPrompt != "" {
		fixed.WriteString(renderTurn(types.RoleSystem, b.systemPrompt))
	}
	userTurn := renderTurn(types.RoleUser, userMessage)

	kept := history
	if b.tokenBudget > 0 {
		budget := b.tokenBudget - b.counter.CountTokens(fixed.String()) - b.counter.CountTokens(userTurn)
		kept = b.trim(history, budget)
	}

	var sb strings.Builder
	sb.WriteString(fixed.String())
	for _, msg := range kept {
		sb.WriteString(renderTurn(msg.Role, msg.Content))
	}
	sb.WriteString(userTurn)
	return strings.TrimRight(sb.String(), "\n")
}

// trim keeps the newest suffix of history that fits the budget.
func (b *Builder) trim(history []types.ChatMessage, budget int) []types.ChatMessage {
	if budget <= 0 {
		return nil
	}
	total := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := b.counter.CountTokens(renderTurn(history[i].Role, history[i].Content))
		if total+cost > budget {
			break
		}
		total += cost
		start = i
	}
	return history[start:]
}

func renderTurn(role types.Role, content string) string {
	return fmt.Sprintf("%s: %s\n", role, content)
}
