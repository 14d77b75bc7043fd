package driven

import (
	"context"

	"github.com/ericfisherdev/decisionlog/internal/domain/model"
)

// ArtifactStore defines the driven port for fetched artifact persistence.
type ArtifactStore interface {
	// Upsert inserts or refreshes an artifact by (repo, external id, type) and
	// returns its row id. Content fields are refreshed; a processing status
	// that has moved past pending is never reset.
	Upsert(ctx context.Context, a model.Artifact) (int64, error)

	// GetByID returns (nil, nil) if the artifact does not exist.
	GetByID(ctx context.Context, id int64) (*model.Artifact, error)

	// ListByStatus returns up to limit artifacts of a repository in the given
	// status, oldest merge first. limit <= 0 means no limit.
	ListByStatus(ctx context.Context, repoID int64, status model.ProcessingStatus, limit int) ([]model.Artifact, error)

	// UpdateStatus moves the given artifacts to status. Rows whose current
	// status ranks above the target are left unchanged.
	UpdateStatus(ctx context.Context, ids []int64, status model.ProcessingStatus) error
}
