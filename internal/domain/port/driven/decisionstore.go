package driven

import (
	"context"

	"github.com/ericfisherdev/decisionlog/internal/domain/model"
)

// DecisionStore defines the driven port for extracted decision persistence.
// At most one decision exists per candidate.
type DecisionStore interface {
	// CreateIfAbsent inserts d unless its candidate already has a decision.
	// On first creation it increments the repository's decision counter in
	// the same transaction.
	CreateIfAbsent(ctx context.Context, d model.Decision) (created bool, err error)

	// GetByCandidate returns (nil, nil) if the candidate has no decision.
	GetByCandidate(ctx context.Context, candidateID int64) (*model.Decision, error)

	// ListByRepo returns a repository's decisions, oldest first.
	ListByRepo(ctx context.Context, repoID int64) ([]model.Decision, error)
}

// CostStore records extraction spend. Records are append-only.
type CostStore interface {
	Record(ctx context.Context, cost model.ExtractionCost) error
	ListByRepo(ctx context.Context, repoID int64) ([]model.ExtractionCost, error)
}

// SyncOperationStore records orchestrator runs. Records are append-only.
type SyncOperationStore interface {
	Record(ctx context.Context, op model.SyncOperation) (int64, error)
	// Latest returns (nil, nil) if the repository has never been synced.
	Latest(ctx context.Context, repoID int64) (*model.SyncOperation, error)
	ListByRepo(ctx context.Context, repoID int64, limit int) ([]model.SyncOperation, error)
}
