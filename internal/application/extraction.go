package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/decisionlog/internal/domain/model"
	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

// DefaultProviderTimeout is the wall-clock limit for one provider call.
const DefaultProviderTimeout = 60 * time.Second

// batchStorageAllowance covers the store reads and writes around the
// provider calls of one batch.
const batchStorageAllowance = 15 * time.Second

// MaxBatchDuration bounds one ExtractBatch call when each provider call is
// limited to providerTimeout: primary and fallback both time out, then the
// failure is recorded.
func MaxBatchDuration(providerTimeout time.Duration) time.Duration {
	if providerTimeout <= 0 {
		providerTimeout = DefaultProviderTimeout
	}
	return 2*providerTimeout + batchStorageAllowance
}

// Rate is a provider price in USD per million tokens.
type Rate struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// RateTable prices provider calls. Keys are "<provider>/<model>"; a key
// matches a reported model that starts with it, so dated snapshots such as
// "gpt-4o-mini-2024-07-18" resolve to "openai/gpt-4o-mini".
type RateTable map[string]Rate

// DefaultRates holds list prices for the models the service ships with.
var DefaultRates = RateTable{
	"anthropic/claude-opus-4":   {InputPerMTok: 15, OutputPerMTok: 75},
	"anthropic/claude-sonnet-4": {InputPerMTok: 3, OutputPerMTok: 15},
	"anthropic/claude-haiku-4":  {InputPerMTok: 1, OutputPerMTok: 5},
	"openai/gpt-4o-mini":        {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"openai/gpt-4o":             {InputPerMTok: 2.50, OutputPerMTok: 10},
	"openai/gpt-4.1-mini":       {InputPerMTok: 0.40, OutputPerMTok: 1.60},
	"openai/gpt-4.1":            {InputPerMTok: 2, OutputPerMTok: 8},
}

// Cost returns the USD cost of a call. The longest matching key wins.
// Unknown models cost zero and are logged.
func (t RateTable) Cost(provider, modelName string, inputTokens, outputTokens int) float64 {
	key := provider + "/" + modelName
	var best string
	for k := range t {
		if strings.HasPrefix(key, k) && len(k) > len(best) {
			best = k
		}
	}
	if best == "" {
		slog.Warn("no rate for model, recording zero cost", "provider", provider, "model", modelName)
		return 0
	}
	r := t[best]
	return (float64(inputTokens)*r.InputPerMTok + float64(outputTokens)*r.OutputPerMTok) / 1_000_000
}

// BatchOutcome reports what one extraction batch did.
type BatchOutcome struct {
	Extracted        int
	Failed           int
	DecisionsCreated int
	Provider         string
	Cost             *model.ExtractionCost
}

// ExtractorDeps groups the Extractor's collaborators.
type ExtractorDeps struct {
	Primary    driven.Provider
	Fallback   driven.Provider // Optional.
	Candidates driven.CandidateStore
	Decisions  driven.DecisionStore
	Artifacts  driven.ArtifactStore
	Costs      driven.CostStore
	Redactor   Redactor // Optional.
	Rates      RateTable
	Timeout    time.Duration
}

// Extractor turns candidate batches into decisions: one primary attempt and
// at most one fallback attempt per batch, both strictly validated.
type Extractor struct {
	primary    driven.Provider
	fallback   driven.Provider
	candidates driven.CandidateStore
	decisions  driven.DecisionStore
	artifacts  driven.ArtifactStore
	costs      driven.CostStore
	redactor   Redactor
	rates      RateTable
	timeout    time.Duration
	now        func() time.Time
	newBatchID func() string
}

// NewExtractor creates an Extractor. Zero Timeout uses DefaultProviderTimeout
// and a nil Rates uses DefaultRates.
func NewExtractor(deps ExtractorDeps) *Extractor {
	x := &Extractor{
		primary:    deps.Primary,
		fallback:   deps.Fallback,
		candidates: deps.Candidates,
		decisions:  deps.Decisions,
		artifacts:  deps.Artifacts,
		costs:      deps.Costs,
		redactor:   deps.Redactor,
		rates:      deps.Rates,
		timeout:    deps.Timeout,
		now:        time.Now,
		newBatchID: func() string { return uuid.NewString() },
	}
	if x.timeout <= 0 {
		x.timeout = DefaultProviderTimeout
	}
	if x.rates == nil {
		x.rates = DefaultRates
	}
	return x
}

// MaxBatchDuration is the longest one ExtractBatch call may take.
func (x *Extractor) MaxBatchDuration() time.Duration {
	return MaxBatchDuration(x.timeout)
}

// ExtractBatch extracts decisions for at most ExtractionBatchSize items.
//
// When both providers fail it marks every candidate failed with the combined
// error text, marks the artifacts extract_failed and returns *ExtractionError.
// Storage failures come back as *driven.StorageError.
func (x *Extractor) ExtractBatch(ctx context.Context, repo model.Repository, items []ExtractionItem) (BatchOutcome, error) {
	if len(items) == 0 {
		return BatchOutcome{}, nil
	}
	if len(items) > ExtractionBatchSize {
		return BatchOutcome{}, &driven.ValidationError{Field: "batch", Reason: fmt.Sprintf("%d items exceeds batch size %d", len(items), ExtractionBatchSize)}
	}

	refs := make([]int64, len(items))
	artifactIDs := make([]int64, len(items))
	for i, item := range items {
		refs[i] = item.Candidate.ID
		artifactIDs[i] = item.Artifact.ID
	}

	prompt := BuildPrompt(items, x.redactor)
	provider, completion, parsed, err := x.complete(ctx, prompt, refs)
	if err != nil {
		extractionFailures.Add(float64(len(items)))
		if markErr := x.markFailed(ctx, refs, artifactIDs, err); markErr != nil {
			return BatchOutcome{Failed: len(items)}, markErr
		}
		return BatchOutcome{Failed: len(items)}, err
	}

	outcome := BatchOutcome{Provider: provider.Name()}
	extractedBy := provider.Name() + "/" + completion.Model
	createdAt := x.now().UTC()

	for _, item := range items {
		d := parsed[item.Candidate.ID]
		created, err := x.decisions.CreateIfAbsent(ctx, model.Decision{
			CandidateID:  item.Candidate.ID,
			RepoID:       repo.ID,
			Title:        strings.TrimSpace(d.Title),
			Context:      d.Context,
			Decision:     d.Decision,
			Reasoning:    d.Reasoning,
			Consequences: d.Consequences,
			Alternatives: d.Alternatives,
			Tags:         normalizeTags(d.Tags),
			Significance: *d.Significance,
			ExtractedBy:  extractedBy,
			RawResponse:  completion.Text,
			CreatedAt:    createdAt,
		})
		if err != nil {
			return outcome, &driven.StorageError{Op: "create decision", Err: err}
		}
		if created {
			outcome.DecisionsCreated++
		}
	}

	if err := x.candidates.MarkExtracted(ctx, refs); err != nil {
		return outcome, &driven.StorageError{Op: "mark candidates extracted", Err: err}
	}
	if err := x.artifacts.UpdateStatus(ctx, artifactIDs, model.ProcessingExtracted); err != nil {
		return outcome, &driven.StorageError{Op: "mark artifacts extracted", Err: err}
	}
	outcome.Extracted = len(items)

	cost := model.ExtractionCost{
		BatchID:      x.newBatchID(),
		RepoID:       repo.ID,
		UserID:       repo.UserID,
		Provider:     provider.Name(),
		Model:        completion.Model,
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
		CostUSD:      x.rates.Cost(provider.Name(), completion.Model, completion.InputTokens, completion.OutputTokens),
		BatchSize:    len(items),
		CandidateIDs: refs,
		CreatedAt:    createdAt,
	}
	if err := x.costs.Record(ctx, cost); err != nil {
		return outcome, &driven.StorageError{Op: "record extraction cost", Err: err}
	}
	outcome.Cost = &cost

	extractionCostUSD.WithLabelValues(provider.Name()).Add(cost.CostUSD)
	slog.Info("extraction batch complete",
		"repo", repo.FullName,
		"batch_id", cost.BatchID,
		"provider", provider.Name(),
		"model", completion.Model,
		"items", len(items),
		"decisions_created", outcome.DecisionsCreated,
		"cost_usd", cost.CostUSD,
	)

	return outcome, nil
}

// complete runs the primary attempt and, on any failure, exactly one
// fallback attempt.
func (x *Extractor) complete(ctx context.Context, prompt driven.Prompt, refs []int64) (driven.Provider, driven.Completion, map[int64]ExtractedDecision, error) {
	completion, parsed, primaryErr := x.attempt(ctx, driven.RolePrimary, x.primary, prompt, refs)
	if primaryErr == nil {
		return x.primary, completion, parsed, nil
	}
	slog.Warn("primary provider failed", "provider", x.primary.Name(), "error", primaryErr)

	if x.fallback == nil {
		return nil, driven.Completion{}, nil, &ExtractionError{Primary: primaryErr}
	}

	completion, parsed, fallbackErr := x.attempt(ctx, driven.RoleFallback, x.fallback, prompt, refs)
	if fallbackErr == nil {
		return x.fallback, completion, parsed, nil
	}
	slog.Warn("fallback provider failed", "provider", x.fallback.Name(), "error", fallbackErr)

	return nil, driven.Completion{}, nil, &ExtractionError{Primary: primaryErr, Fallback: fallbackErr}
}

// attempt makes one provider call under the wall-clock timeout and validates
// the output.
func (x *Extractor) attempt(ctx context.Context, role driven.ProviderRole, p driven.Provider, prompt driven.Prompt, refs []int64) (driven.Completion, map[int64]ExtractedDecision, error) {
	callCtx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	start := time.Now()
	completion, err := p.Complete(callCtx, prompt)
	providerLatency.WithLabelValues(p.Name(), string(role)).Observe(time.Since(start).Seconds())

	if err != nil {
		kind := KindTransport
		var rateErr *driven.RateLimitedError
		var statusErr *driven.ProviderStatusError
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
			kind = KindTimeout
		case errors.As(err, &rateErr):
			kind = KindRateLimited
		case errors.As(err, &statusErr):
			kind = KindStatus
		}
		providerFailures.WithLabelValues(p.Name(), string(role), string(kind)).Inc()
		return driven.Completion{}, nil, &ProviderError{Role: role, Provider: p.Name(), Kind: kind, Err: err}
	}

	if completion.Model == "" {
		completion.Model = p.Model()
	}

	parsed, err := ParseDecisions(completion.Text, refs)
	if err != nil {
		kind := KindSchema
		if errors.Is(err, errMalformed) {
			kind = KindMalformed
		}
		providerFailures.WithLabelValues(p.Name(), string(role), string(kind)).Inc()
		return driven.Completion{}, nil, &ProviderError{Role: role, Provider: p.Name(), Kind: kind, Err: err}
	}

	return completion, parsed, nil
}

func (x *Extractor) markFailed(ctx context.Context, candidateIDs, artifactIDs []int64, cause error) error {
	if err := x.candidates.MarkFailed(ctx, candidateIDs, cause.Error()); err != nil {
		return &driven.StorageError{Op: "mark candidates failed", Err: err}
	}
	if err := x.artifacts.UpdateStatus(ctx, artifactIDs, model.ProcessingExtractFailed); err != nil {
		return &driven.StorageError{Op: "mark artifacts extract_failed", Err: err}
	}
	return nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
