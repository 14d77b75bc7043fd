package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/decisionlog/internal/domain/model"
	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.DecisionStore = (*DecisionRepo)(nil)

// DecisionRepo is the SQLite implementation of the DecisionStore port interface.
type DecisionRepo struct {
	db *DB
}

// NewDecisionRepo creates a new DecisionRepo backed by the given DB.
func NewDecisionRepo(db *DB) *DecisionRepo {
	return &DecisionRepo{db: db}
}

const decisionColumns = `id, candidate_id, repo_id, title, context, decision, reasoning, consequences,
	alternatives, tags, significance, extracted_by, raw_response, created_at`

// CreateIfAbsent inserts the decision unless its candidate already has one.
// The repository's decision counter is bumped only on first creation.
func (r *DecisionRepo) CreateIfAbsent(ctx context.Context, d model.Decision) (bool, error) {
	alternatives, err := marshalStrings(d.Alternatives)
	if err != nil {
		return false, fmt.Errorf("marshal alternatives: %w", err)
	}
	tags, err := marshalStrings(d.Tags)
	if err != nil {
		return false, fmt.Errorf("marshal tags: %w", err)
	}

	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var created bool
	err = r.db.withTx(ctx, func(tx *sql.Tx) error {
		const insert = `
			INSERT INTO decisions (
				candidate_id, repo_id, title, context, decision, reasoning, consequences,
				alternatives, tags, significance, extracted_by, raw_response, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(candidate_id) DO NOTHING
		`
		result, err := tx.ExecContext(ctx, insert,
			d.CandidateID, d.RepoID, d.Title, d.Context, d.Decision, d.Reasoning, d.Consequences,
			alternatives, tags, d.Significance, d.ExtractedBy, d.RawResponse, formatTime(createdAt),
		)
		if err != nil {
			return fmt.Errorf("insert decision for candidate %d: %w", d.CandidateID, err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check rows affected: %w", err)
		}
		if rows == 0 {
			return nil
		}
		created = true

		const bump = `UPDATE repositories SET decision_count = decision_count + 1 WHERE id = ?`
		if _, err := tx.ExecContext(ctx, bump, d.RepoID); err != nil {
			return fmt.Errorf("increment decision count for repository %d: %w", d.RepoID, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	return created, nil
}

// GetByCandidate returns the candidate's decision, or nil, nil if none exists.
func (r *DecisionRepo) GetByCandidate(ctx context.Context, candidateID int64) (*model.Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM decisions WHERE candidate_id = ?`

	d, err := scanDecision(r.db.Reader.QueryRowContext(ctx, query, candidateID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get decision for candidate %d: %w", candidateID, err)
	}
	return d, nil
}

// ListByRepo returns a repository's decisions in creation order.
func (r *DecisionRepo) ListByRepo(ctx context.Context, repoID int64) ([]model.Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM decisions WHERE repo_id = ? ORDER BY created_at, id`

	rows, err := r.db.Reader.QueryContext(ctx, query, repoID)
	if err != nil {
		return nil, fmt.Errorf("list decisions for repository %d: %w", repoID, err)
	}
	defer rows.Close()

	var decisions []model.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		decisions = append(decisions, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}

	return decisions, nil
}

func scanDecision(s scanner) (*model.Decision, error) {
	var d model.Decision
	var alternatives, tags, createdAt string

	err := s.Scan(
		&d.ID, &d.CandidateID, &d.RepoID, &d.Title, &d.Context, &d.Decision, &d.Reasoning, &d.Consequences,
		&alternatives, &tags, &d.Significance, &d.ExtractedBy, &d.RawResponse, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if d.Alternatives, err = unmarshalStrings(alternatives); err != nil {
		return nil, fmt.Errorf("unmarshal alternatives: %w", err)
	}
	if d.Tags, err = unmarshalStrings(tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &d, nil
}
