package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/decisionlog/internal/domain/model"
)

// RepoStore defines the driven port for repository persistence.
// Add returns ErrRepoAlreadyExists if the repository already exists.
// Remove returns ErrRepoNotFound if the repository does not exist.
// Get methods return (nil, nil) when the repository is absent.
type RepoStore interface {
	Add(ctx context.Context, repo model.Repository) (model.Repository, error)
	Remove(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*model.Repository, error)
	GetByFullName(ctx context.Context, fullName string) (*model.Repository, error)
	ListAll(ctx context.Context) ([]model.Repository, error)

	// UpdateCursor stores the advanced fetch cursor and most recent merge time.
	UpdateCursor(ctx context.Context, id int64, cursor string, lastMergedAt time.Time) error
}

// SyncLock is the per-repository mutual exclusion used by every run that
// fetches or extracts.
type SyncLock interface {
	// TryAcquireSync moves the repository from idle to syncing in a single
	// conditional update. It returns false, without other writes, when the
	// repository is already syncing. It returns ErrRepoNotFound for unknown ids.
	TryAcquireSync(ctx context.Context, id int64, now time.Time) (bool, error)

	// ReleaseSync returns the repository to idle.
	ReleaseSync(ctx context.Context, id int64) error

	// ReleaseStaleSyncs resets repositories that have been syncing since
	// before the cutoff and returns how many were reset.
	ReleaseStaleSyncs(ctx context.Context, startedBefore time.Time) (int64, error)
}

// BudgetStore holds the per-repository daily extraction counter.
type BudgetStore interface {
	// ResetBudgetIfDue zeroes the counter and sets the next reset time when
	// the stored reset time is unset or not after now. It is a single
	// conditional update, so concurrent callers reset at most once.
	ResetBudgetIfDue(ctx context.Context, id int64, now, nextReset time.Time) error

	// GetBudget returns the counter and its reset time.
	GetBudget(ctx context.Context, id int64) (used int, resetAt time.Time, err error)

	// IncrementExtractions adds n to the counter in a single update.
	IncrementExtractions(ctx context.Context, id int64, n int) error
}
