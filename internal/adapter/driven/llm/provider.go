// Package llm implements the Provider port over the Anthropic Messages and
// OpenAI Chat Completions HTTP APIs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

const (
	defaultRequestsPerMinute = 50
	defaultBurst             = 5
	maxErrorBody             = 4096
)

// Config holds the settings shared by every provider.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	// RequestsPerMinute bounds client-side request rate. Zero uses the default.
	RequestsPerMinute int

	// HTTPClient overrides the transport. Deadlines come from the caller's
	// context, so the client carries no timeout of its own.
	HTTPClient *http.Client
}

// client is the HTTP plumbing shared by the concrete providers.
type client struct {
	name       string
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newClient(name, defaultModel, defaultBaseURL string, cfg Config) (client, error) {
	if cfg.APIKey == "" {
		return client{}, fmt.Errorf("%s API key required", name)
	}

	c := client{
		name:       name,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}
	c.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60), defaultBurst)

	return c, nil
}

// Name returns the provider name recorded in provenance and cost rows.
func (c client) Name() string { return c.name }

// Model returns the configured model identifier.
func (c client) Model() string { return c.model }

// post waits for the rate limiter, sends body as JSON and decodes a 200
// response into out. Context cancellation aborts the request in flight.
func (c client) post(ctx context.Context, path string, headers map[string]string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", c.name, err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshaling request: %w", c.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: sending request: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.readError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", c.name, err)
	}
	return nil
}

// readError parses the {"error":{"type","message"}} envelope both vendors use.
func (c client) readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var wire struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &wire) == nil && wire.Error.Message != "" {
		message = wire.Error.Message
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		var retry time.Duration
		if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
			retry = time.Duration(seconds) * time.Second
		}
		return &driven.RateLimitedError{
			Resource:   c.name,
			RetryAfter: retry,
			Err:        &driven.ProviderStatusError{Provider: c.name, StatusCode: resp.StatusCode, Type: wire.Error.Type, Message: message},
		}
	}

	return &driven.ProviderStatusError{
		Provider:   c.name,
		StatusCode: resp.StatusCode,
		Type:       wire.Error.Type,
		Message:    message,
	}
}
