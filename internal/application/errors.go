package application

import (
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

// ErrSyncInProgress is returned when another run holds the repository lock.
var ErrSyncInProgress = errors.New("sync already in progress")

// BudgetExceededError reports that the daily extraction budget is spent.
// It is non-fatal to a sync: fetch and sieve still complete.
type BudgetExceededError struct {
	RepoID  int64
	ResetAt time.Time
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("extraction budget exceeded for repo %d: resets at %s", e.RepoID, e.ResetAt.UTC().Format(time.RFC3339))
}

// ProviderErrorKind classifies why a single provider attempt failed.
type ProviderErrorKind string

const (
	KindTimeout     ProviderErrorKind = "timeout"
	KindTransport   ProviderErrorKind = "transport"
	KindStatus      ProviderErrorKind = "status"
	KindRateLimited ProviderErrorKind = "rate_limited"
	KindMalformed   ProviderErrorKind = "malformed"
	KindSchema      ProviderErrorKind = "schema"
)

// ProviderError is one failed attempt against a primary or fallback provider.
type ProviderError struct {
	Role     driven.ProviderRole
	Provider string
	Kind     ProviderErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider %s: %s: %v", e.Role, e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ExtractionError means both providers failed for a batch. Fallback is nil
// when no fallback provider is configured.
type ExtractionError struct {
	Primary  error
	Fallback error
}

func (e *ExtractionError) Error() string {
	if e.Fallback == nil {
		return fmt.Sprintf("extraction failed: primary: %v; no fallback configured", e.Primary)
	}
	return fmt.Sprintf("extraction failed: primary: %v; fallback: %v", e.Primary, e.Fallback)
}

// Unwrap exposes both attempts to errors.Is and errors.As.
func (e *ExtractionError) Unwrap() []error {
	if e.Fallback == nil {
		return []error{e.Primary}
	}
	return []error{e.Primary, e.Fallback}
}
