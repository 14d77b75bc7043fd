package application

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

// Extraction budget constants.
const (
	// DailyExtractionLimit is the number of provider calls a repository may
	// make per UTC day.
	DailyExtractionLimit = 20

	// ExtractionBatchSize is the number of candidates sent per provider call.
	ExtractionBatchSize = 5

	// FirstSyncItemLimit caps the items read by a repository's first sync.
	FirstSyncItemLimit = 100

	// FirstSyncLookback bounds how far back a first sync reaches.
	FirstSyncLookback = 90 * 24 * time.Hour
)

// Budget is a point-in-time view of a repository's extraction allowance.
type Budget struct {
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Allowed   bool      `json:"allowed"`
	ResetAt   time.Time `json:"reset_at"`
}

// Governor enforces the per-repository daily extraction budget. Resets and
// increments are single conditional updates in the store, so concurrent
// callers never lose counts.
type Governor struct {
	store driven.BudgetStore
	limit int
	now   func() time.Time
}

// NewGovernor creates a Governor. A non-positive limit uses DailyExtractionLimit.
func NewGovernor(store driven.BudgetStore, limit int) *Governor {
	if limit <= 0 {
		limit = DailyExtractionLimit
	}
	return &Governor{store: store, limit: limit, now: time.Now}
}

// Check resets the counter when its reset time has passed and reports the
// remaining budget.
func (g *Governor) Check(ctx context.Context, repoID int64) (Budget, error) {
	now := g.now().UTC()

	if err := g.store.ResetBudgetIfDue(ctx, repoID, now, nextUTCMidnight(now)); err != nil {
		return Budget{}, fmt.Errorf("resetting budget for repo %d: %w", repoID, err)
	}

	used, resetAt, err := g.store.GetBudget(ctx, repoID)
	if err != nil {
		return Budget{}, fmt.Errorf("reading budget for repo %d: %w", repoID, err)
	}

	remaining := max(g.limit-used, 0)

	return Budget{
		Used:      used,
		Limit:     g.limit,
		Remaining: remaining,
		Allowed:   remaining > 0,
		ResetAt:   resetAt,
	}, nil
}

// Increment records n provider calls against the repository.
func (g *Governor) Increment(ctx context.Context, repoID int64, n int) error {
	if n <= 0 {
		return nil
	}
	if err := g.store.IncrementExtractions(ctx, repoID, n); err != nil {
		return fmt.Errorf("incrementing budget for repo %d: %w", repoID, err)
	}
	return nil
}

// Exceeded builds the typed error for an exhausted budget.
func (b Budget) Exceeded(repoID int64) *BudgetExceededError {
	return &BudgetExceededError{RepoID: repoID, ResetAt: b.ResetAt}
}

// nextUTCMidnight returns the first UTC midnight strictly after t.
func nextUTCMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}
