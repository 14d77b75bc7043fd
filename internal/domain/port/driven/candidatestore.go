package driven

import (
	"context"

	"github.com/ericfisherdev/decisionlog/internal/domain/model"
)

// CandidateStore defines the driven port for sieve candidate persistence.
type CandidateStore interface {
	// CreateIfAbsent inserts c unless a candidate with the same dedupe key
	// exists. On first creation it also increments the repository's candidate
	// counter in the same transaction. It returns the stored candidate id and
	// whether this call created it.
	CreateIfAbsent(ctx context.Context, c model.Candidate) (id int64, created bool, err error)

	// GetByID returns (nil, nil) if the candidate does not exist.
	GetByID(ctx context.Context, id int64) (*model.Candidate, error)

	// ListByRepo returns the repository's candidates, highest score first.
	// An empty status lists every status.
	ListByRepo(ctx context.Context, repoID int64, status model.CandidateStatus) ([]model.Candidate, error)

	// ListPending returns up to limit pending candidates, highest score first.
	ListPending(ctx context.Context, repoID int64, limit int) ([]model.Candidate, error)

	// MarkExtracted sets the given candidates to extracted and clears any error.
	MarkExtracted(ctx context.Context, ids []int64) error

	// MarkFailed sets the given candidates to failed with the error text.
	MarkFailed(ctx context.Context, ids []int64, errText string) error

	// Dismiss sets a candidate to dismissed with the reason. It returns
	// ErrCandidateNotFound for unknown ids.
	Dismiss(ctx context.Context, id int64, reason string) error
}
