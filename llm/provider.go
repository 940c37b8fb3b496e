package llm

import "context"

// TokenFunc receives one incremental token of assistant output.
// Returning a non-nil error aborts the stream; the provider must stop
// emitting tokens and return that error from StreamResponse.
type TokenFunc func(token string) error

// CompletionRequest carries the prepared prompt for one exchange.
type CompletionRequest struct {
	Model       string  `json:"model,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

// Provider produces a streamed completion for one request. Tokens are
// emitted sequentially through onToken; on success the final aggregate
// text is returned. Implementations must honor ctx cancellation between
// tokens.
type Provider interface {
	// Name identifies the provider for logging and metrics.
	Name() string

	// StreamResponse performs one exchange, yielding tokens via onToken
	// and returning the full response text on success.
	StreamResponse(ctx context.Context, req CompletionRequest, onToken TokenFunc) (string, error)
}
