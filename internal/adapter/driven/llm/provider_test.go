package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/decisionlog/internal/adapter/driven/llm"
	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

var testPrompt = driven.Prompt{System: "You extract decisions.", User: "<untrusted_artifact>...</untrusted_artifact>", MaxTokens: 2048}

func TestAnthropic_Complete(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("X-API-Key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("Anthropic-Version"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-test", body["model"])
		assert.Equal(t, "You extract decisions.", body["system"])
		assert.EqualValues(t, 2048, body["max_tokens"])

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"model": "claude-test-20260101",
			"content": [{"type": "text", "text": "{\"decisions\":"}, {"type": "text", "text": "[]}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 1200, "output_tokens": 85}
		}`)
	})

	provider, err := llm.NewAnthropic(llm.Config{APIKey: "sk-ant-test", Model: "claude-test", BaseURL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", provider.Name())
	assert.Equal(t, "claude-test", provider.Model())

	got, err := provider.Complete(context.Background(), testPrompt)
	require.NoError(t, err)
	assert.Equal(t, `{"decisions":[]}`, got.Text)
	assert.Equal(t, "claude-test-20260101", got.Model)
	assert.Equal(t, 1200, got.InputTokens)
	assert.Equal(t, 85, got.OutputTokens)
}

func TestAnthropic_RequiresAPIKey(t *testing.T) {
	_, err := llm.NewAnthropic(llm.Config{})
	assert.Error(t, err)
}

func TestAnthropic_StatusError(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		fmt.Fprint(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	})

	provider, err := llm.NewAnthropic(llm.Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = provider.Complete(context.Background(), testPrompt)

	var statusErr *driven.ProviderStatusError
	require.True(t, errors.As(err, &statusErr), "got %T: %v", err, err)
	assert.Equal(t, 529, statusErr.StatusCode)
	assert.Equal(t, "overloaded_error", statusErr.Type)
	assert.Equal(t, "Overloaded", statusErr.Message)
}

func TestAnthropic_RateLimited(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"type":"rate_limit_error","message":"slow down"}}`)
	})

	provider, err := llm.NewAnthropic(llm.Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = provider.Complete(context.Background(), testPrompt)

	var rlErr *driven.RateLimitedError
	require.True(t, errors.As(err, &rlErr), "got %T: %v", err, err)
	assert.Equal(t, 12*time.Second, rlErr.RetryAfter)
}

func TestAnthropic_EmptyContent(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"content":[],"usage":{"input_tokens":10,"output_tokens":0}}`)
	})

	provider, err := llm.NewAnthropic(llm.Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = provider.Complete(context.Background(), testPrompt)
	assert.ErrorContains(t, err, "empty response")
}

func TestAnthropic_DeadlineAbortsRequest(t *testing.T) {
	release := make(chan struct{})

	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	// Registered after newServer so it runs before server.Close (LIFO).
	t.Cleanup(func() { close(release) })

	provider, err := llm.NewAnthropic(llm.Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = provider.Complete(ctx, testPrompt)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestOpenAI_Complete(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body struct {
			Model          string `json:"model"`
			ResponseFormat struct {
				Type string `json:"type"`
			} `json:"response_format"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body.Model)
		assert.Equal(t, "json_object", body.ResponseFormat.Type)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "user", body.Messages[1].Role)

		fmt.Fprint(w, `{
			"model": "gpt-4o-mini-2024-07-18",
			"choices": [{"message": {"role": "assistant", "content": "{\"decisions\":[]}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 900, "completion_tokens": 40}
		}`)
	})

	provider, err := llm.NewOpenAI(llm.Config{APIKey: "sk-test", BaseURL: server.URL + "/"})
	require.NoError(t, err)
	assert.Equal(t, "openai", provider.Name())

	got, err := provider.Complete(context.Background(), testPrompt)
	require.NoError(t, err)
	assert.Equal(t, `{"decisions":[]}`, got.Text)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", got.Model)
	assert.Equal(t, 900, got.InputTokens)
	assert.Equal(t, 40, got.OutputTokens)
}

func TestOpenAI_StatusErrorWithoutEnvelope(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream unavailable")
	})

	provider, err := llm.NewOpenAI(llm.Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = provider.Complete(context.Background(), testPrompt)

	var statusErr *driven.ProviderStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Equal(t, "upstream unavailable", statusErr.Message)
}

func TestOpenAI_NoChoices(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})

	provider, err := llm.NewOpenAI(llm.Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = provider.Complete(context.Background(), testPrompt)
	assert.ErrorContains(t, err, "empty response")
}
