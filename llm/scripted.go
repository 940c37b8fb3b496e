package llm

import (
	"context"
	"strings"
	"time"
)

// ScriptedProvider is a local, deterministic Provider used in development
// mode and tests. It echoes the tail of the prompt back in fixed-size
// chunks, pacing tokens by Delay when set.
type ScriptedProvider struct {
	ProviderName string
	ChunkSize    int
	Delay        time.Duration

	// Script, when non-empty, is streamed instead of the echo response.
	Script []string
}

// NewScriptedProvider returns a ScriptedProvider with sensible defaults.
func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{ProviderName: "scripted", ChunkSize: 8}
}

// Name implements Provider.
func (p *ScriptedProvider) Name() string {
	if p.ProviderName == "" {
		return "scripted"
	}
	return p.ProviderName
}

// StreamResponse implements Provider.
func (p *ScriptedProvider) StreamResponse(ctx context.Context, req CompletionRequest, onToken TokenFunc) (string, error) {
	chunks := p.Script
	if len(chunks) == 0 {
		chunks = p.chunk(p.echoText(req.Prompt))
	}

	var sb strings.Builder
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if p.Delay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(p.Delay):
			}
		}
		if err := onToken(c); err != nil {
			return "", err
		}
		sb.WriteString(c)
	}
	return sb.String(), nil
}

func (p *ScriptedProvider) echoText(prompt string) string {
	// Echo only the last line so the dev response stays readable when the
	// prompt carries the whole trimmed history.
	lines := strings.Split(strings.TrimRight(prompt, "\n"), "\n")
	last := lines[len(lines)-1]
	return "echo: " + last
}

func (p *ScriptedProvider) chunk(text string) []string {
	size := p.ChunkSize
	if size <= 0 {
		size = 8
	}
	runes := []rune(text)
	var out []string
	for len(runes) > 0 {
		n := size
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}
