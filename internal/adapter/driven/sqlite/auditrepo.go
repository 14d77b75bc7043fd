package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/decisionlog/internal/domain/model"
	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.CostStore          = (*CostRepo)(nil)
	_ driven.SyncOperationStore = (*SyncOperationRepo)(nil)
)

// CostRepo is the SQLite implementation of the CostStore port interface.
type CostRepo struct {
	db *DB
}

// NewCostRepo creates a new CostRepo backed by the given DB.
func NewCostRepo(db *DB) *CostRepo {
	return &CostRepo{db: db}
}

// Record appends an extraction cost row. Candidate ids are stored as JSON.
func (r *CostRepo) Record(ctx context.Context, cost model.ExtractionCost) error {
	const query = `
		INSERT INTO extraction_costs (
			batch_id, repo_id, user_id, provider, model, input_tokens, output_tokens,
			cost_usd, batch_size, candidate_ids, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	ids := cost.CandidateIDs
	if ids == nil {
		ids = []int64{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal candidate ids: %w", err)
	}

	createdAt := cost.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = r.db.Writer.ExecContext(ctx, query,
		cost.BatchID, cost.RepoID, cost.UserID, cost.Provider, cost.Model, cost.InputTokens, cost.OutputTokens,
		cost.CostUSD, cost.BatchSize, string(idsJSON), formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("record extraction cost for batch %s: %w", cost.BatchID, err)
	}
	return nil
}

// ListByRepo returns a repository's cost rows in insertion order.
func (r *CostRepo) ListByRepo(ctx context.Context, repoID int64) ([]model.ExtractionCost, error) {
	const query = `
		SELECT id, batch_id, repo_id, user_id, provider, model, input_tokens, output_tokens,
		       cost_usd, batch_size, candidate_ids, created_at
		FROM extraction_costs
		WHERE repo_id = ?
		ORDER BY id
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, repoID)
	if err != nil {
		return nil, fmt.Errorf("list extraction costs for repository %d: %w", repoID, err)
	}
	defer rows.Close()

	var costs []model.ExtractionCost
	for rows.Next() {
		var c model.ExtractionCost
		var idsJSON, createdAt string
		if err := rows.Scan(
			&c.ID, &c.BatchID, &c.RepoID, &c.UserID, &c.Provider, &c.Model, &c.InputTokens, &c.OutputTokens,
			&c.CostUSD, &c.BatchSize, &idsJSON, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan extraction cost: %w", err)
		}
		if err := json.Unmarshal([]byte(idsJSON), &c.CandidateIDs); err != nil {
			return nil, fmt.Errorf("unmarshal candidate ids: %w", err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		costs = append(costs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate extraction costs: %w", err)
	}

	return costs, nil
}

// SyncOperationRepo is the SQLite implementation of the SyncOperationStore port interface.
type SyncOperationRepo struct {
	db *DB
}

// NewSyncOperationRepo creates a new SyncOperationRepo backed by the given DB.
func NewSyncOperationRepo(db *DB) *SyncOperationRepo {
	return &SyncOperationRepo{db: db}
}

const syncOperationColumns = `id, repo_id, user_id, sync_trigger, outcome, counts, budget_exceeded,
	budget_reset_at, errors, start_cursor, end_cursor, started_at, finished_at`

// Record appends a sync operation and returns its id.
func (r *SyncOperationRepo) Record(ctx context.Context, op model.SyncOperation) (int64, error) {
	const query = `
		INSERT INTO sync_operations (
			repo_id, user_id, sync_trigger, outcome, counts, budget_exceeded,
			budget_reset_at, errors, start_cursor, end_cursor, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	counts, err := json.Marshal(op.Counts)
	if err != nil {
		return 0, fmt.Errorf("marshal counts: %w", err)
	}
	errs, err := marshalStrings(op.Errors)
	if err != nil {
		return 0, fmt.Errorf("marshal errors: %w", err)
	}

	budgetExceeded := 0
	if op.BudgetExceeded {
		budgetExceeded = 1
	}

	result, err := r.db.Writer.ExecContext(ctx, query,
		op.RepoID, op.UserID, string(op.Trigger), string(op.Outcome), string(counts), budgetExceeded,
		nullableTime(op.BudgetResetAt), errs, op.StartCursor, op.EndCursor,
		formatTime(op.StartedAt), formatTime(op.FinishedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("record sync operation for repository %d: %w", op.RepoID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read sync operation id: %w", err)
	}
	return id, nil
}

// Latest returns the most recent sync operation, or nil, nil if none exists.
func (r *SyncOperationRepo) Latest(ctx context.Context, repoID int64) (*model.SyncOperation, error) {
	query := `SELECT ` + syncOperationColumns + ` FROM sync_operations WHERE repo_id = ? ORDER BY id DESC LIMIT 1`

	op, err := scanSyncOperation(r.db.Reader.QueryRowContext(ctx, query, repoID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest sync operation for repository %d: %w", repoID, err)
	}
	return op, nil
}

// ListByRepo returns up to limit sync operations, newest first.
func (r *SyncOperationRepo) ListByRepo(ctx context.Context, repoID int64, limit int) ([]model.SyncOperation, error) {
	query := `SELECT ` + syncOperationColumns + ` FROM sync_operations WHERE repo_id = ? ORDER BY id DESC LIMIT ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, repoID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync operations for repository %d: %w", repoID, err)
	}
	defer rows.Close()

	var ops []model.SyncOperation
	for rows.Next() {
		op, err := scanSyncOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync operation: %w", err)
		}
		ops = append(ops, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync operations: %w", err)
	}

	return ops, nil
}

func scanSyncOperation(s scanner) (*model.SyncOperation, error) {
	var op model.SyncOperation
	var trigger, outcome, counts, errs, startedAt, finishedAt string
	var budgetExceeded int
	var budgetResetAt sql.NullString

	err := s.Scan(
		&op.ID, &op.RepoID, &op.UserID, &trigger, &outcome, &counts, &budgetExceeded,
		&budgetResetAt, &errs, &op.StartCursor, &op.EndCursor, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	op.Trigger = model.SyncTrigger(trigger)
	op.Outcome = model.SyncOutcome(outcome)
	op.BudgetExceeded = budgetExceeded != 0

	if err := json.Unmarshal([]byte(counts), &op.Counts); err != nil {
		return nil, fmt.Errorf("unmarshal counts: %w", err)
	}
	if op.Errors, err = unmarshalStrings(errs); err != nil {
		return nil, fmt.Errorf("unmarshal errors: %w", err)
	}
	if op.BudgetResetAt, err = parseNullTime(budgetResetAt); err != nil {
		return nil, fmt.Errorf("parse budget_reset_at: %w", err)
	}
	if op.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if op.FinishedAt, err = parseTime(finishedAt); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}

	return &op, nil
}
