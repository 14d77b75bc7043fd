package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/decisionlog/internal/application"
	"github.com/ericfisherdev/decisionlog/internal/domain/model"
	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

func TestFetcher_FirstSyncStoresMergedItemsAndAdvances(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	unmerged := mergedPR(1, 3, "Abandoned", time.Time{})
	unmerged.UpdatedAt = now.Add(-30 * time.Minute)

	host := &mockHostClient{
		pages: map[int]driven.PullRequestPage{
			1: {Items: []model.Artifact{
				mergedPR(1, 5, "Newest", now.Add(-time.Hour)),
				unmerged,
				mergedPR(1, 2, "Older", now.Add(-48*time.Hour)),
			}},
		},
		detail: map[int]*driven.PullRequestDetail{
			5: {Body: "full body", Additions: 120, Deletions: 30, ChangedFiles: 2},
		},
		files: map[int][]driven.ChangedFile{
			5: {
				{Path: "db/migrations/001.sql", Status: "added", Patch: "@@ -0,0 +1 @@\n+CREATE TABLE x;"},
				{Path: "internal/new.go", PreviousPath: "internal/old.go", Status: "renamed"},
			},
		},
	}
	artifacts := newMemArtifacts()
	fetcher := application.NewFetcher(artifacts)

	res, err := fetcher.Fetch(context.Background(), host, model.Repository{ID: 1, FullName: "acme/api"}, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 2, res.Stored)
	assert.Empty(t, res.Failures)
	assert.True(t, res.Advanced)
	assert.Equal(t, model.TimestampCursor(now.Add(-time.Hour)), res.EndCursor)
	assert.Equal(t, now.Add(-time.Hour), res.LastMergedAt)

	stored := artifacts.all()
	require.Len(t, stored, 2)

	newest := stored[0]
	assert.Equal(t, 5, newest.Number)
	assert.Equal(t, "full body", newest.Body)
	assert.Equal(t, 120, newest.Additions)
	assert.Equal(t, []string{"db/migrations/001.sql", "internal/new.go"}, newest.FilePaths)
	assert.Contains(t, newest.Diff, "diff --git a/db/migrations/001.sql b/db/migrations/001.sql\n--- /dev/null\n+++ b/db/migrations/001.sql\n")
	assert.Contains(t, newest.Diff, "diff --git a/internal/old.go b/internal/new.go\n")
	assert.Equal(t, model.ProcessingPending, newest.ProcessingStatus)
}

func TestFetcher_StopsAtTimestampCursor(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	cursorAt := now.Add(-24 * time.Hour)

	host := &mockHostClient{
		pages: map[int]driven.PullRequestPage{
			1: {Items: []model.Artifact{
				mergedPR(1, 9, "New", now.Add(-time.Hour)),
				mergedPR(1, 8, "At cursor", cursorAt),
				mergedPR(1, 7, "Before cursor", cursorAt.Add(-time.Hour)),
			}, NextPage: 2},
		},
	}
	artifacts := newMemArtifacts()

	repo := model.Repository{ID: 1, FullName: "acme/api", Cursor: model.TimestampCursor(cursorAt).String()}
	res, err := application.NewFetcher(artifacts).Fetch(context.Background(), host, repo, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 1, host.listCalls, "must not page past the cursor")
	assert.Equal(t, model.TimestampCursor(now.Add(-time.Hour)), res.EndCursor)
}

func TestFetcher_NoNewItemsKeepsCursor(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	cursor := model.TimestampCursor(now)

	host := &mockHostClient{
		pages: map[int]driven.PullRequestPage{
			1: {Items: []model.Artifact{mergedPR(1, 4, "Old", now.Add(-time.Hour))}},
		},
	}

	res, err := application.NewFetcher(newMemArtifacts()).Fetch(context.Background(), host,
		model.Repository{ID: 1, FullName: "acme/api", Cursor: cursor.String()}, 0)
	require.NoError(t, err)

	assert.Zero(t, res.Fetched)
	assert.False(t, res.Advanced)
	assert.Equal(t, cursor, res.EndCursor)
}

func TestFetcher_PRCursorSkipsOlderNumbers(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	host := &mockHostClient{
		pages: map[int]driven.PullRequestPage{
			1: {Items: []model.Artifact{
				mergedPR(1, 12, "Newer", now.Add(-time.Hour)),
				mergedPR(1, 10, "At cursor", now.Add(-2*time.Hour)),
				mergedPR(1, 4, "Older", now.Add(-3*time.Hour)),
			}},
		},
	}

	repo := model.Repository{ID: 1, FullName: "acme/api", Cursor: model.PRCursor(10).String()}
	res, err := application.NewFetcher(newMemArtifacts()).Fetch(context.Background(), host, repo, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Fetched)
	assert.True(t, res.Advanced)
	assert.Equal(t, model.CursorTimestamp, res.EndCursor.Type)
}

func TestFetcher_FailedItemHoldsCursor(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	host := &mockHostClient{
		pages: map[int]driven.PullRequestPage{
			1: {Items: []model.Artifact{
				mergedPR(1, 5, "Good", now.Add(-time.Hour)),
				mergedPR(1, 4, "Bad", now.Add(-2*time.Hour)),
			}},
		},
		detailErr: func(number int) error {
			if number == 4 {
				return &driven.NotFoundError{Resource: "acme/api#4", Err: errors.New("404")}
			}
			return nil
		},
	}
	artifacts := newMemArtifacts()

	res, err := application.NewFetcher(artifacts).Fetch(context.Background(), host, model.Repository{ID: 1, FullName: "acme/api"}, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 1, res.Stored)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "4", res.Failures[0].ExternalID)
	assert.False(t, res.Advanced)
	assert.True(t, res.EndCursor.IsZero())
	assert.Len(t, artifacts.all(), 1)
}

func TestFetcher_RateLimitStopsEarly(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	host := &mockHostClient{
		pages: map[int]driven.PullRequestPage{
			1: {Items: []model.Artifact{
				mergedPR(1, 5, "First", now.Add(-time.Hour)),
				mergedPR(1, 4, "Second", now.Add(-2*time.Hour)),
				mergedPR(1, 3, "Third", now.Add(-3*time.Hour)),
			}},
		},
		detailErr: func(number int) error {
			if number == 4 {
				return &driven.RateLimitedError{Resource: "acme/api#4", ResetAt: now.Add(time.Hour)}
			}
			return nil
		},
	}

	res, err := application.NewFetcher(newMemArtifacts()).Fetch(context.Background(), host, model.Repository{ID: 1, FullName: "acme/api"}, 0)

	var rateErr *driven.RateLimitedError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, 1, res.Stored)
	assert.Equal(t, 2, host.detailCalls, "no calls after the host refused")
	assert.False(t, res.Advanced)
}

func TestFetcher_StorageFailureIsTyped(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	host := &mockHostClient{
		pages: map[int]driven.PullRequestPage{
			1: {Items: []model.Artifact{mergedPR(1, 5, "First", now.Add(-time.Hour))}},
		},
	}
	artifacts := newMemArtifacts()
	artifacts.upsertErr = func(model.Artifact) error { return errors.New("disk full") }

	res, err := application.NewFetcher(artifacts).Fetch(context.Background(), host, model.Repository{ID: 1, FullName: "acme/api"}, 0)
	require.NoError(t, err)

	require.Len(t, res.Failures, 1)
	var storageErr *driven.StorageError
	assert.ErrorAs(t, res.Failures[0].Err, &storageErr)
}

func TestFetcher_ItemLimitTruncates(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	var items []model.Artifact
	for i := 10; i > 0; i-- {
		items = append(items, mergedPR(1, i, "PR", now.Add(-time.Duration(11-i)*time.Hour)))
	}
	host := &mockHostClient{pages: map[int]driven.PullRequestPage{1: {Items: items}}}

	res, err := application.NewFetcher(newMemArtifacts()).Fetch(context.Background(), host, model.Repository{ID: 1, FullName: "acme/api"}, 3)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Fetched)
	assert.True(t, res.Truncated)
	assert.Equal(t, model.TimestampCursor(now.Add(-time.Hour)), res.EndCursor)
}

func TestFetcher_FirstSyncLookback(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	host := &mockHostClient{
		pages: map[int]driven.PullRequestPage{
			1: {Items: []model.Artifact{
				mergedPR(1, 5, "Recent", now.Add(-24*time.Hour)),
				mergedPR(1, 1, "Ancient", now.Add(-120*24*time.Hour)),
			}, NextPage: 2},
		},
	}

	res, err := application.NewFetcher(newMemArtifacts()).Fetch(context.Background(), host, model.Repository{ID: 1, FullName: "acme/api"}, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 1, host.listCalls)
}

func TestFetcher_PageCap(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	host := &mockHostClient{pages: map[int]driven.PullRequestPage{}}
	for p := 1; p <= application.MaxFetchPages+2; p++ {
		host.pages[p] = driven.PullRequestPage{
			Items:    []model.Artifact{mergedPR(1, 1000-p, "PR", now.Add(-time.Duration(p)*time.Minute))},
			NextPage: p + 1,
		}
	}

	repo := model.Repository{ID: 1, FullName: "acme/api", Cursor: model.TimestampCursor(now.Add(-24 * time.Hour)).String()}
	res, err := application.NewFetcher(newMemArtifacts()).Fetch(context.Background(), host, repo, 0)
	require.NoError(t, err)

	assert.Equal(t, application.MaxFetchPages, host.listCalls)
	assert.Equal(t, application.MaxFetchPages, res.Fetched)
	assert.True(t, res.Truncated)
	assert.True(t, res.Advanced)
	assert.True(t, res.SkippedBacklog, "the cursor moved past pages that were never read")
}

func TestFetcher_FirstSyncTruncationIsNotSkippedBacklog(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	var items []model.Artifact
	for i := 10; i > 0; i-- {
		items = append(items, mergedPR(1, i, "PR", now.Add(-time.Duration(11-i)*time.Hour)))
	}
	host := &mockHostClient{pages: map[int]driven.PullRequestPage{1: {Items: items}}}

	res, err := application.NewFetcher(newMemArtifacts()).Fetch(context.Background(), host, model.Repository{ID: 1, FullName: "acme/api"}, 3)
	require.NoError(t, err)

	assert.True(t, res.Truncated)
	assert.False(t, res.SkippedBacklog)
}

func TestFetcher_InvalidCursor(t *testing.T) {
	_, err := application.NewFetcher(newMemArtifacts()).Fetch(context.Background(), &mockHostClient{},
		model.Repository{ID: 1, FullName: "acme/api", Cursor: "bogus"}, 0)

	var vErr *driven.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "cursor", vErr.Field)
}
