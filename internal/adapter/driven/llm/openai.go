package llm

import (
	"context"
	"errors"

	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

const (
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultOpenAIBaseURL = "https://api.openai.com"
)

// Compile-time interface satisfaction check.
var _ driven.Provider = (*OpenAI)(nil)

// OpenAI implements driven.Provider for the OpenAI Chat Completions API and
// compatible servers.
type OpenAI struct {
	client
}

// NewOpenAI creates an OpenAI provider. Model and BaseURL default to
// gpt-4o-mini and https://api.openai.com.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	c, err := newClient("openai", defaultOpenAIModel, defaultOpenAIBaseURL, cfg)
	if err != nil {
		return nil, err
	}
	return &OpenAI{client: c}, nil
}

type openAIRequest struct {
	Model          string          `json:"model"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Messages       []openAIMessage `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends a single chat completion request in JSON mode.
func (o *OpenAI) Complete(ctx context.Context, p driven.Prompt) (driven.Completion, error) {
	req := openAIRequest{
		Model:          o.model,
		MaxTokens:      p.MaxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	if p.System != "" {
		req.Messages = append(req.Messages, openAIMessage{Role: "system", Content: p.System})
	}
	req.Messages = append(req.Messages, openAIMessage{Role: "user", Content: p.User})

	headers := map[string]string{"Authorization": "Bearer " + o.apiKey}

	var resp openAIResponse
	if err := o.post(ctx, "/v1/chat/completions", headers, req, &resp); err != nil {
		return driven.Completion{}, err
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return driven.Completion{}, errors.New("openai: empty response content")
	}

	model := resp.Model
	if model == "" {
		model = o.model
	}

	return driven.Completion{
		Text:         resp.Choices[0].Message.Content,
		Model:        model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}
