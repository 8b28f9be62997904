// Package synthesis composes the customer-facing reply from a dispatch
// plan's branch results. Composition is deterministic; an optional
// text-completion backend rephrases the composed facts conversationally but
// never invents new ones.
package synthesis

import (
	"context"
	"fmt"

	"github.com/ntg2208/production-ai-customer-support/internal/config"
)

// Completer is the text-completion capability used to phrase replies.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	Name() string
}

// NewCompleter builds a completer from configuration. Provider is "genai"
// or "openai".
func NewCompleter(ctx context.Context, cfg config.LLMConfig) (Completer, error) {
	switch cfg.Provider {
	case "genai":
		return NewGenAICompleter(ctx, cfg.APIKey, cfg.Model)
	case "openai":
		return NewOpenAICompleter(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s (use 'genai' or 'openai')", cfg.Provider)
	}
}
