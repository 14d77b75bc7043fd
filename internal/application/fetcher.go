package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ericfisherdev/decisionlog/internal/domain/model"
	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

// MaxFetchPages bounds the list pages read by one fetch.
const MaxFetchPages = 10

// ItemFailure records one artifact that could not be fetched or stored.
type ItemFailure struct {
	ExternalID string
	Err        error
}

func (f ItemFailure) String() string {
	return fmt.Sprintf("item %s: %v", f.ExternalID, f.Err)
}

// FetchResult summarizes one fetch. EndCursor equals StartCursor unless
// Advanced is true.
type FetchResult struct {
	Pages        int
	Fetched      int
	Stored       int
	Failures     []ItemFailure
	StartCursor  model.Cursor
	EndCursor    model.Cursor
	Advanced     bool
	Truncated    bool // Stopped by the item limit or page cap before reaching the cursor.
	LastMergedAt time.Time

	// SkippedBacklog is set when an incremental run was truncated yet moved
	// the cursor. Items between the old cursor and the oldest item read are
	// never fetched.
	SkippedBacklog bool
}

// Fetcher pages the host's closed pull requests, keeps merged items newer
// than the repository cursor and upserts them as artifacts.
type Fetcher struct {
	artifacts driven.ArtifactStore
	now       func() time.Time
}

// NewFetcher creates a Fetcher writing to the given artifact store.
func NewFetcher(artifacts driven.ArtifactStore) *Fetcher {
	return &Fetcher{artifacts: artifacts, now: time.Now}
}

// Fetch reads new merged items for repo. A non-positive limit leaves only the
// page cap in force, except on a first sync where FirstSyncItemLimit and
// FirstSyncLookback apply.
//
// Per-item failures are collected in the result. The returned error is set
// only when paging itself failed or the host refused further calls; items
// stored before that point stay stored. The cursor advances only when every
// retained item was stored.
func (f *Fetcher) Fetch(ctx context.Context, client driven.HostClient, repo model.Repository, limit int) (FetchResult, error) {
	cursor, err := model.ParseCursor(repo.Cursor)
	if err != nil {
		return FetchResult{}, &driven.ValidationError{Field: "cursor", Reason: err.Error()}
	}

	now := f.now()
	result := FetchResult{StartCursor: cursor, EndCursor: cursor}

	var lookback time.Time
	if cursor.IsZero() {
		if limit <= 0 || limit > FirstSyncItemLimit {
			limit = FirstSyncItemLimit
		}
		lookback = now.Add(-FirstSyncLookback)
	}

	var positions []model.Position
	page := 1
	done := false

	for !done {
		if result.Pages >= MaxFetchPages {
			result.Truncated = true
			break
		}

		listing, err := client.ListClosedPullRequests(ctx, repo.FullName, page)
		if err != nil {
			return result, err
		}
		result.Pages++

		for _, item := range listing.Items {
			if reachedCursor(cursor, item) || (!lookback.IsZero() && item.UpdatedAt.Before(lookback)) {
				done = true
				break
			}
			if item.MergedAt.IsZero() {
				continue
			}
			if cursor.Type == model.CursorPR && !cursor.Admits(model.Position{Type: model.CursorPR, Number: item.Number}) {
				continue
			}
			if limit > 0 && result.Fetched >= limit {
				result.Truncated = true
				done = true
				break
			}

			result.Fetched++
			stored, err := f.storeItem(ctx, client, repo, item, now)
			if err != nil {
				result.Failures = append(result.Failures, ItemFailure{ExternalID: item.ExternalID, Err: err})
				slog.Warn("fetch item failed", "repo", repo.FullName, "item", item.ExternalID, "error", err)

				if isHostRefusal(err) {
					return result, err
				}
				continue
			}

			result.Stored++
			positions = append(positions, stored.Position())
			if stored.MergedAt.After(result.LastMergedAt) {
				result.LastMergedAt = stored.MergedAt
			}
		}

		if listing.NextPage == 0 {
			break
		}
		page = listing.NextPage
	}

	if len(result.Failures) == 0 && len(positions) > 0 {
		latest := model.LatestFrom(positions)
		cmp, err := model.CompareCursors(latest, cursor)
		if err != nil || cmp > 0 {
			result.EndCursor = latest
			result.Advanced = true
		}
	}

	if result.Truncated && result.Advanced && !cursor.IsZero() {
		result.SkippedBacklog = true
		fetchBacklogSkipped.Inc()
		slog.Warn("fetch truncated, older items skipped",
			"repo", repo.FullName,
			"from_cursor", cursor.String(),
			"to_cursor", result.EndCursor.String(),
			"pages", result.Pages,
			"fetched", result.Fetched,
		)
	}

	slog.Info("fetch complete",
		"repo", repo.FullName,
		"pages", result.Pages,
		"fetched", result.Fetched,
		"stored", result.Stored,
		"failed", len(result.Failures),
		"cursor", result.EndCursor.String(),
		"truncated", result.Truncated,
	)

	return result, nil
}

// storeItem completes a listed item with its detail and file list, then
// upserts it.
func (f *Fetcher) storeItem(ctx context.Context, client driven.HostClient, repo model.Repository, item model.Artifact, now time.Time) (model.Artifact, error) {
	detail, err := client.FetchPullRequestDetail(ctx, repo.FullName, item.Number)
	if err != nil {
		return model.Artifact{}, err
	}
	files, err := client.FetchPullRequestFiles(ctx, repo.FullName, item.Number)
	if err != nil {
		return model.Artifact{}, err
	}

	a := item
	a.RepoID = repo.ID
	a.FetchedAt = now
	a.ProcessingStatus = model.ProcessingPending
	if detail != nil {
		if detail.Body != "" {
			a.Body = detail.Body
		}
		a.Additions = detail.Additions
		a.Deletions = detail.Deletions
		a.ChangedFiles = detail.ChangedFiles
	}
	if a.ChangedFiles == 0 {
		a.ChangedFiles = len(files)
	}

	a.FilePaths = make([]string, 0, len(files))
	for _, file := range files {
		a.FilePaths = append(a.FilePaths, file.Path)
	}
	a.Diff, a.DiffTruncated = model.TruncateDiff(assembleDiff(files))

	id, err := f.artifacts.Upsert(ctx, a)
	if err != nil {
		return model.Artifact{}, &driven.StorageError{Op: "upsert artifact", Err: err}
	}
	a.ID = id

	return a, nil
}

// reachedCursor reports whether item is not newer than a timestamp cursor.
// The list is ordered by update time, so every later item is older too.
func reachedCursor(cursor model.Cursor, item model.Artifact) bool {
	if cursor.Type != model.CursorTimestamp {
		return false
	}
	return !cursor.Admits(model.Position{Type: model.CursorTimestamp, At: item.UpdatedAt})
}

// isHostRefusal reports errors after which further host calls in this run
// would fail the same way.
func isHostRefusal(err error) bool {
	var rateErr *driven.RateLimitedError
	var revoked *driven.AccessRevokedError
	return errors.As(err, &rateErr) || errors.As(err, &revoked) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// assembleDiff renders the file list as a unified diff with git headers.
func assembleDiff(files []driven.ChangedFile) string {
	var b strings.Builder
	for _, file := range files {
		from := file.Path
		if file.PreviousPath != "" {
			from = file.PreviousPath
		}
		fmt.Fprintf(&b, "diff --git a/%s b/%s\n", from, file.Path)

		switch file.Status {
		case "added":
			fmt.Fprintf(&b, "--- /dev/null\n+++ b/%s\n", file.Path)
		case "removed":
			fmt.Fprintf(&b, "--- a/%s\n+++ /dev/null\n", from)
		default:
			fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", from, file.Path)
		}

		if file.Patch != "" {
			b.WriteString(file.Patch)
			if !strings.HasSuffix(file.Patch, "\n") {
				b.WriteByte('\n')
			}
		}
	}
	return b.String()
}
