package driven

import (
	"context"
	"fmt"
)

// ProviderRole tags a text-generation provider as the first or second choice.
type ProviderRole string

const (
	RolePrimary  ProviderRole = "primary"
	RoleFallback ProviderRole = "fallback"
)

// Prompt is one request to a text-generation provider.
type Prompt struct {
	System    string
	User      string
	MaxTokens int
}

// Completion is a provider response with its token usage.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider defines the driven port for a text-generation service.
// Complete must honor ctx cancellation by aborting the in-flight request.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, p Prompt) (Completion, error)
}

// ProviderStatusError is a non-success HTTP response from a provider. Rate
// limit responses are reported as *RateLimitedError instead.
type ProviderStatusError struct {
	Provider   string
	StatusCode int
	Type       string // Provider error type, e.g. "overloaded_error".
	Message    string
}

func (e *ProviderStatusError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: HTTP %d: %s: %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}
