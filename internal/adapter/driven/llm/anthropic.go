package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

const (
	defaultAnthropicModel   = "claude-sonnet-4-5"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

// Compile-time interface satisfaction check.
var _ driven.Provider = (*Anthropic)(nil)

// Anthropic implements driven.Provider for the Anthropic Messages API.
type Anthropic struct {
	client
}

// NewAnthropic creates an Anthropic provider. Model and BaseURL default to
// claude-sonnet-4-5 and https://api.anthropic.com.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	c, err := newClient("anthropic", defaultAnthropicModel, defaultAnthropicBaseURL, cfg)
	if err != nil {
		return nil, err
	}
	return &Anthropic{client: c}, nil
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends a single non-streaming Messages request.
func (a *Anthropic) Complete(ctx context.Context, p driven.Prompt) (driven.Completion, error) {
	req := anthropicRequest{
		Model:     a.model,
		MaxTokens: p.MaxTokens,
		System:    p.System,
		Messages:  []anthropicMessage{{Role: "user", Content: p.User}},
	}
	headers := map[string]string{
		"X-API-Key":         a.apiKey,
		"Anthropic-Version": anthropicVersion,
	}

	var resp anthropicResponse
	if err := a.post(ctx, "/v1/messages", headers, req, &resp); err != nil {
		return driven.Completion{}, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return driven.Completion{}, errors.New("anthropic: empty response content")
	}

	model := resp.Model
	if model == "" {
		model = a.model
	}

	return driven.Completion{
		Text:         text.String(),
		Model:        model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}
