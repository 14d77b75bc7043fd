package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/decisionlog/internal/domain/model"
)

func TestCostRepo_RecordAndList(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCostRepo(db)
	ctx := context.Background()
	r := seedRepo(t, db, "octocat/hello-world")

	cost := model.ExtractionCost{
		BatchID:      "5f0c6f5e-3c1e-4a53-9d55-6a7f0b2f2b11",
		RepoID:       r.ID,
		UserID:       "user-1",
		Provider:     "anthropic",
		Model:        "claude-sonnet-4-5",
		InputTokens:  12000,
		OutputTokens: 1500,
		CostUSD:      0.0585,
		BatchSize:    3,
		CandidateIDs: []int64{4, 5, 6},
	}
	require.NoError(t, repo.Record(ctx, cost))

	costs, err := repo.ListByRepo(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, costs, 1)
	assert.Equal(t, cost.BatchID, costs[0].BatchID)
	assert.Equal(t, []int64{4, 5, 6}, costs[0].CandidateIDs)
	assert.InDelta(t, 0.0585, costs[0].CostUSD, 1e-9)
	assert.False(t, costs[0].CreatedAt.IsZero())
}

func TestSyncOperationRepo_RecordAndLatest(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSyncOperationRepo(db)
	ctx := context.Background()
	r := seedRepo(t, db, "octocat/hello-world")

	latest, err := repo.Latest(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	started := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	first := model.SyncOperation{
		RepoID:     r.ID,
		UserID:     "user-1",
		Trigger:    model.TriggerManual,
		Outcome:    model.SyncOutcomeError,
		Errors:     []string{"fetch: access revoked"},
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
	}
	_, err = repo.Record(ctx, first)
	require.NoError(t, err)

	reset := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	second := model.SyncOperation{
		RepoID:         r.ID,
		UserID:         "user-1",
		Trigger:        model.TriggerScheduled,
		Outcome:        model.SyncOutcomePartial,
		Counts:         model.SyncCounts{Fetched: 12, Stored: 12, SievedIn: 3, SievedOut: 9, CandidatesCreated: 3},
		BudgetExceeded: true,
		BudgetResetAt:  reset,
		StartCursor:    "",
		EndCursor:      "timestamp:2026-02-28T10:00:00Z",
		StartedAt:      started.Add(time.Hour),
		FinishedAt:     started.Add(time.Hour + time.Minute),
	}
	id, err := repo.Record(ctx, second)
	require.NoError(t, err)

	latest, err = repo.Latest(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, id, latest.ID)
	assert.Equal(t, model.TriggerScheduled, latest.Trigger)
	assert.Equal(t, model.SyncOutcomePartial, latest.Outcome)
	assert.Equal(t, second.Counts, latest.Counts)
	assert.True(t, latest.BudgetExceeded)
	assert.Equal(t, reset, latest.BudgetResetAt)
	assert.Equal(t, "timestamp:2026-02-28T10:00:00Z", latest.EndCursor)
	assert.Empty(t, latest.Errors)

	ops, err := repo.ListByRepo(ctx, r.ID, 10)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, []string{"fetch: access revoked"}, ops[1].Errors)
}
