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

// Compile-time interface satisfaction check.
var _ driven.CandidateStore = (*CandidateRepo)(nil)

// CandidateRepo is the SQLite implementation of the CandidateStore port interface.
type CandidateRepo struct {
	db *DB
}

// NewCandidateRepo creates a new CandidateRepo backed by the given DB.
func NewCandidateRepo(db *DB) *CandidateRepo {
	return &CandidateRepo{db: db}
}

const candidateColumns = `id, repo_id, artifact_id, dedupe_key, sieve_score, breakdown, status,
	error, dismiss_reason, created_at, updated_at`

// CreateIfAbsent inserts the candidate unless its dedupe key exists. The
// repository's candidate counter is bumped in the same transaction, only
// when a row was actually inserted.
func (r *CandidateRepo) CreateIfAbsent(ctx context.Context, c model.Candidate) (int64, bool, error) {
	breakdown, err := json.Marshal(c.Breakdown)
	if err != nil {
		return 0, false, fmt.Errorf("marshal breakdown: %w", err)
	}

	status := c.Status
	if status == "" {
		status = model.CandidatePending
	}
	now := formatTime(time.Now())

	var id int64
	var created bool
	err = r.db.withTx(ctx, func(tx *sql.Tx) error {
		const insert = `
			INSERT INTO candidates (repo_id, artifact_id, dedupe_key, sieve_score, breakdown, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`
		result, err := tx.ExecContext(ctx, insert,
			c.RepoID, c.ArtifactID, c.DedupeKey, c.SieveScore, string(breakdown), string(status), now, now,
		)
		if err != nil {
			return fmt.Errorf("insert candidate %s: %w", c.DedupeKey, err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check rows affected: %w", err)
		}

		if rows == 0 {
			err := tx.QueryRowContext(ctx, `SELECT id FROM candidates WHERE dedupe_key = ?`, c.DedupeKey).Scan(&id)
			if err != nil {
				return fmt.Errorf("find existing candidate %s: %w", c.DedupeKey, err)
			}
			return nil
		}

		if id, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("read candidate id: %w", err)
		}
		created = true

		const bump = `UPDATE repositories SET candidate_count = candidate_count + 1 WHERE id = ?`
		if _, err := tx.ExecContext(ctx, bump, c.RepoID); err != nil {
			return fmt.Errorf("increment candidate count for repository %d: %w", c.RepoID, err)
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}

	return id, created, nil
}

// GetByID retrieves a candidate by id. Returns nil, nil if it does not exist.
func (r *CandidateRepo) GetByID(ctx context.Context, id int64) (*model.Candidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM candidates WHERE id = ?`

	c, err := scanCandidate(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get candidate %d: %w", id, err)
	}
	return c, nil
}

// ListByRepo returns candidates for a repository, highest score first.
func (r *CandidateRepo) ListByRepo(ctx context.Context, repoID int64, status model.CandidateStatus) ([]model.Candidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM candidates WHERE repo_id = ?`
	args := []any{repoID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY sieve_score DESC, id`

	return r.queryCandidates(ctx, query, args...)
}

// ListPending returns up to limit pending candidates, highest score first.
func (r *CandidateRepo) ListPending(ctx context.Context, repoID int64, limit int) ([]model.Candidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM candidates
		WHERE repo_id = ? AND status = 'pending'
		ORDER BY sieve_score DESC, id
		LIMIT ?`

	return r.queryCandidates(ctx, query, repoID, limit)
}

// MarkExtracted sets candidates to extracted and clears the failure text.
func (r *CandidateRepo) MarkExtracted(ctx context.Context, ids []int64) error {
	return r.setStatus(ctx, ids, model.CandidateExtracted, "")
}

// MarkFailed sets candidates to failed with the combined error text.
func (r *CandidateRepo) MarkFailed(ctx context.Context, ids []int64, errText string) error {
	return r.setStatus(ctx, ids, model.CandidateFailed, errText)
}

func (r *CandidateRepo) setStatus(ctx context.Context, ids []int64, status model.CandidateStatus, errText string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders, idArgs := inClause(ids)
	query := `UPDATE candidates SET status = ?, error = ?, updated_at = ? WHERE id IN (` + placeholders + `)`

	args := append([]any{string(status), errText, formatTime(time.Now())}, idArgs...)
	if _, err := r.db.Writer.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set %d candidates to %s: %w", len(ids), status, err)
	}
	return nil
}

// Dismiss sets a candidate to dismissed with the given reason.
func (r *CandidateRepo) Dismiss(ctx context.Context, id int64, reason string) error {
	const query = `UPDATE candidates SET status = 'dismissed', dismiss_reason = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, reason, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("dismiss candidate %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("dismiss candidate %d: %w", id, driven.ErrCandidateNotFound)
	}
	return nil
}

func (r *CandidateRepo) queryCandidates(ctx context.Context, query string, args ...any) ([]model.Candidate, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []model.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}

	return candidates, nil
}

func scanCandidate(s scanner) (*model.Candidate, error) {
	var c model.Candidate
	var breakdown, status, createdAt, updatedAt string

	err := s.Scan(
		&c.ID, &c.RepoID, &c.ArtifactID, &c.DedupeKey, &c.SieveScore, &breakdown, &status,
		&c.Error, &c.DismissReason, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = model.CandidateStatus(status)
	if err := json.Unmarshal([]byte(breakdown), &c.Breakdown); err != nil {
		return nil, fmt.Errorf("unmarshal breakdown: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &c, nil
}
