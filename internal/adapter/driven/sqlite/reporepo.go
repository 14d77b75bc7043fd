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

// Compile-time interface satisfaction checks.
var (
	_ driven.RepoStore   = (*RepoRepo)(nil)
	_ driven.SyncLock    = (*RepoRepo)(nil)
	_ driven.BudgetStore = (*RepoRepo)(nil)
)

// RepoRepo is the SQLite implementation of the RepoStore, SyncLock and
// BudgetStore port interfaces. All three operate on the repositories table.
type RepoRepo struct {
	db *DB
}

// NewRepoRepo creates a new RepoRepo backed by the given DB.
func NewRepoRepo(db *DB) *RepoRepo {
	return &RepoRepo{db: db}
}

const repoColumns = `id, full_name, owner, name, user_id, added_at, cursor, sync_status, sync_started_at,
	extractions_today, extractions_reset_at, candidate_count, decision_count, last_merged_at`

// Add inserts a new repository in the idle state and returns it with its id.
// Returns ErrRepoAlreadyExists if a repository with the same full_name exists.
func (r *RepoRepo) Add(ctx context.Context, repo model.Repository) (model.Repository, error) {
	const query = `INSERT INTO repositories (full_name, owner, name, user_id, added_at) VALUES (?, ?, ?, ?, ?)`

	if repo.AddedAt.IsZero() {
		repo.AddedAt = time.Now().UTC()
	}

	result, err := r.db.Writer.ExecContext(ctx, query, repo.FullName, repo.Owner, repo.Name, repo.UserID, formatTime(repo.AddedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Repository{}, fmt.Errorf("add repository %s: %w", repo.FullName, driven.ErrRepoAlreadyExists)
		}
		return model.Repository{}, fmt.Errorf("add repository %s: %w", repo.FullName, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return model.Repository{}, fmt.Errorf("read repository id: %w", err)
	}

	repo.ID = id
	repo.SyncStatus = model.SyncStatusIdle
	return repo, nil
}

// Remove deletes a repository by id. Due to foreign key cascade, its
// artifacts, candidates, decisions and audit rows are also deleted.
func (r *RepoRepo) Remove(ctx context.Context, id int64) error {
	const query = `DELETE FROM repositories WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("remove repository %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("remove repository %d: %w", id, driven.ErrRepoNotFound)
	}

	return nil
}

// GetByID retrieves a repository by id. Returns nil, nil if it does not exist.
func (r *RepoRepo) GetByID(ctx context.Context, id int64) (*model.Repository, error) {
	query := `SELECT ` + repoColumns + ` FROM repositories WHERE id = ?`

	repo, err := scanRepository(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repository %d: %w", id, err)
	}

	return repo, nil
}

// GetByFullName retrieves a repository by its full name. Returns nil, nil if
// the repository does not exist.
func (r *RepoRepo) GetByFullName(ctx context.Context, fullName string) (*model.Repository, error) {
	query := `SELECT ` + repoColumns + ` FROM repositories WHERE full_name = ?`

	repo, err := scanRepository(r.db.Reader.QueryRowContext(ctx, query, fullName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repository %s: %w", fullName, err)
	}

	return repo, nil
}

// ListAll returns all repositories ordered by full name.
func (r *RepoRepo) ListAll(ctx context.Context) ([]model.Repository, error) {
	query := `SELECT ` + repoColumns + ` FROM repositories ORDER BY full_name`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, *repo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repositories: %w", err)
	}

	return repos, nil
}

// UpdateCursor stores the advanced cursor. lastMergedAt only moves forward.
func (r *RepoRepo) UpdateCursor(ctx context.Context, id int64, cursor string, lastMergedAt time.Time) error {
	const query = `
		UPDATE repositories
		SET cursor = ?,
		    last_merged_at = CASE
		        WHEN ? IS NULL THEN last_merged_at
		        WHEN last_merged_at IS NULL OR last_merged_at < ? THEN ?
		        ELSE last_merged_at
		    END
		WHERE id = ?
	`

	merged := nullableTime(lastMergedAt)
	result, err := r.db.Writer.ExecContext(ctx, query, cursor, merged, merged, merged, id)
	if err != nil {
		return fmt.Errorf("update cursor for repository %d: %w", id, err)
	}
	return requireRow(result, id)
}

// TryAcquireSync moves the repository from idle to syncing with a single
// conditional update. A false result means another run holds the lock.
func (r *RepoRepo) TryAcquireSync(ctx context.Context, id int64, now time.Time) (bool, error) {
	const query = `
		UPDATE repositories
		SET sync_status = 'syncing', sync_started_at = ?
		WHERE id = ? AND sync_status = 'idle'
	`

	result, err := r.db.Writer.ExecContext(ctx, query, formatTime(now), id)
	if err != nil {
		return false, fmt.Errorf("acquire sync lock for repository %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 1 {
		return true, nil
	}

	// Zero rows: either locked or missing. Distinguish with a read on the
	// writer so it is ordered after the update.
	var exists int
	err = r.db.Writer.QueryRowContext(ctx, `SELECT 1 FROM repositories WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("acquire sync lock for repository %d: %w", id, driven.ErrRepoNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("check repository %d: %w", id, err)
	}
	return false, nil
}

// ReleaseSync returns the repository to idle.
func (r *RepoRepo) ReleaseSync(ctx context.Context, id int64) error {
	const query = `UPDATE repositories SET sync_status = 'idle', sync_started_at = NULL WHERE id = ?`

	if _, err := r.db.Writer.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("release sync lock for repository %d: %w", id, err)
	}
	return nil
}

// ReleaseStaleSyncs resets repositories stuck in syncing since before the cutoff.
func (r *RepoRepo) ReleaseStaleSyncs(ctx context.Context, startedBefore time.Time) (int64, error) {
	const query = `
		UPDATE repositories
		SET sync_status = 'idle', sync_started_at = NULL
		WHERE sync_status = 'syncing'
		  AND (sync_started_at IS NULL OR sync_started_at < ?)
	`

	result, err := r.db.Writer.ExecContext(ctx, query, formatTime(startedBefore))
	if err != nil {
		return 0, fmt.Errorf("release stale sync locks: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return rows, nil
}

// ResetBudgetIfDue zeroes the extraction counter when the reset time is
// unset or has passed. The condition lives in the WHERE clause so that only
// one of several concurrent callers performs the reset.
func (r *RepoRepo) ResetBudgetIfDue(ctx context.Context, id int64, now, nextReset time.Time) error {
	const query = `
		UPDATE repositories
		SET extractions_today = 0, extractions_reset_at = ?
		WHERE id = ? AND (extractions_reset_at IS NULL OR extractions_reset_at <= ?)
	`

	if _, err := r.db.Writer.ExecContext(ctx, query, formatTime(nextReset), id, formatTime(now)); err != nil {
		return fmt.Errorf("reset extraction budget for repository %d: %w", id, err)
	}
	return nil
}

// GetBudget returns the extraction counter and its reset time.
func (r *RepoRepo) GetBudget(ctx context.Context, id int64) (int, time.Time, error) {
	const query = `SELECT extractions_today, extractions_reset_at FROM repositories WHERE id = ?`

	var used int
	var resetAt sql.NullString
	err := r.db.Reader.QueryRowContext(ctx, query, id).Scan(&used, &resetAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, fmt.Errorf("get budget for repository %d: %w", id, driven.ErrRepoNotFound)
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("get budget for repository %d: %w", id, err)
	}

	at, err := parseNullTime(resetAt)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse extractions_reset_at: %w", err)
	}
	return used, at, nil
}

// IncrementExtractions adds n to the counter in a single relative update.
func (r *RepoRepo) IncrementExtractions(ctx context.Context, id int64, n int) error {
	const query = `UPDATE repositories SET extractions_today = extractions_today + ? WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, n, id)
	if err != nil {
		return fmt.Errorf("increment extractions for repository %d: %w", id, err)
	}
	return requireRow(result, id)
}

func requireRow(result sql.Result, id int64) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("repository %d: %w", id, driven.ErrRepoNotFound)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRepository(s scanner) (*model.Repository, error) {
	var repo model.Repository
	var addedAt string
	var status string
	var syncStartedAt, resetAt, lastMergedAt sql.NullString

	err := s.Scan(
		&repo.ID, &repo.FullName, &repo.Owner, &repo.Name, &repo.UserID, &addedAt,
		&repo.Cursor, &status, &syncStartedAt,
		&repo.ExtractionsToday, &resetAt, &repo.CandidateCount, &repo.DecisionCount, &lastMergedAt,
	)
	if err != nil {
		return nil, err
	}
	repo.SyncStatus = model.SyncStatus(status)

	if repo.AddedAt, err = parseTime(addedAt); err != nil {
		return nil, fmt.Errorf("parse added_at: %w", err)
	}
	if repo.SyncStartedAt, err = parseNullTime(syncStartedAt); err != nil {
		return nil, fmt.Errorf("parse sync_started_at: %w", err)
	}
	if repo.ExtractionsResetAt, err = parseNullTime(resetAt); err != nil {
		return nil, fmt.Errorf("parse extractions_reset_at: %w", err)
	}
	if repo.LastMergedAt, err = parseNullTime(lastMergedAt); err != nil {
		return nil, fmt.Errorf("parse last_merged_at: %w", err)
	}

	return &repo, nil
}
