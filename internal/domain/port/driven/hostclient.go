package driven

import (
	"context"

	"github.com/ericfisherdev/decisionlog/internal/domain/model"
)

// PullRequestPage is one page of closed pull requests in descending update order.
// Items carry list-level fields only; counts and diffs come from the detail calls.
type PullRequestPage struct {
	Items    []model.Artifact
	NextPage int // Zero when there are no further pages.
}

// PullRequestDetail holds the uncapped change counts for one pull request.
type PullRequestDetail struct {
	Body         string
	Additions    int
	Deletions    int
	ChangedFiles int
}

// ChangedFile is one file entry of a pull request's file list.
type ChangedFile struct {
	Path         string
	PreviousPath string // Set for renames.
	Status       string // "added", "modified", "removed", "renamed", ...
	Additions    int
	Deletions    int
	Patch        string // Empty for binary or oversized files.
}

// HostClient defines the driven port for reading repository history from the
// code host. Implementations classify failures as *AccessRevokedError,
// *NotFoundError or *RateLimitedError.
type HostClient interface {
	// ListClosedPullRequests returns one page (1-based) of closed pull requests
	// sorted by update time, newest first. Unmerged items are included;
	// callers filter on MergedAt.
	ListClosedPullRequests(ctx context.Context, repoFullName string, page int) (PullRequestPage, error)

	// FetchPullRequestDetail returns uncapped diff statistics for one pull request.
	FetchPullRequestDetail(ctx context.Context, repoFullName string, number int) (*PullRequestDetail, error)

	// FetchPullRequestFiles returns the changed files of one pull request,
	// reading at most MaxFilePages pages.
	FetchPullRequestFiles(ctx context.Context, repoFullName string, number int) ([]ChangedFile, error)

	// AuthenticatedUser returns the login the client's token belongs to.
	AuthenticatedUser(ctx context.Context) (string, error)
}

// MaxFilePages bounds the file list pages read per pull request.
const MaxFilePages = 3

// HostClientFactory builds a HostClient for a user's access token.
type HostClientFactory interface {
	ForToken(token string) HostClient
}
