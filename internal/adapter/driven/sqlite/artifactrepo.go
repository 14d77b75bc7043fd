package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/decisionlog/internal/domain/model"
	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ArtifactStore = (*ArtifactRepo)(nil)

// ArtifactRepo is the SQLite implementation of the ArtifactStore port interface.
type ArtifactRepo struct {
	db *DB
}

// NewArtifactRepo creates a new ArtifactRepo backed by the given DB.
func NewArtifactRepo(db *DB) *ArtifactRepo {
	return &ArtifactRepo{db: db}
}

// statusRank mirrors model.ProcessingStatus.Rank in SQL.
func statusRank(expr string) string {
	return fmt.Sprintf(
		"(CASE %s WHEN 'pending' THEN 0 WHEN 'sieved_in' THEN 1 WHEN 'sieved_out' THEN 1 ELSE 2 END)",
		expr,
	)
}

const artifactColumns = `id, repo_id, external_id, type, number, title, body, author, url, base_branch,
	labels, file_paths, diff, diff_truncated, additions, deletions, changed_files,
	created_at, updated_at, merged_at, processing_status, fetched_at`

// Upsert inserts or refreshes an artifact keyed by (repo_id, external_id, type).
// Labels and file paths are serialized as JSON arrays in TEXT columns. The
// processing status only ever moves to a higher rank.
func (r *ArtifactRepo) Upsert(ctx context.Context, a model.Artifact) (int64, error) {
	query := `
		INSERT INTO artifacts (
			repo_id, external_id, type, number, title, body, author, url, base_branch,
			labels, file_paths, diff, diff_truncated, additions, deletions, changed_files,
			created_at, updated_at, merged_at, processing_status, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, external_id, type) DO UPDATE SET
			number = excluded.number,
			title = excluded.title,
			body = excluded.body,
			author = excluded.author,
			url = excluded.url,
			base_branch = excluded.base_branch,
			labels = excluded.labels,
			file_paths = excluded.file_paths,
			diff = excluded.diff,
			diff_truncated = excluded.diff_truncated,
			additions = excluded.additions,
			deletions = excluded.deletions,
			changed_files = excluded.changed_files,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			merged_at = excluded.merged_at,
			processing_status = CASE
				WHEN ` + statusRank("excluded.processing_status") + ` > ` + statusRank("artifacts.processing_status") + `
				THEN excluded.processing_status
				ELSE artifacts.processing_status
			END,
			fetched_at = excluded.fetched_at
		RETURNING id
	`

	labelsJSON, err := marshalStrings(a.Labels)
	if err != nil {
		return 0, fmt.Errorf("marshal labels: %w", err)
	}
	pathsJSON, err := marshalStrings(a.FilePaths)
	if err != nil {
		return 0, fmt.Errorf("marshal file paths: %w", err)
	}

	status := a.ProcessingStatus
	if status == "" {
		status = model.ProcessingPending
	}
	fetchedAt := a.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}

	diffTruncated := 0
	if a.DiffTruncated {
		diffTruncated = 1
	}

	var id int64
	err = r.db.Writer.QueryRowContext(ctx, query,
		a.RepoID, a.ExternalID, string(a.Type), a.Number, a.Title, a.Body, a.Author, a.URL, a.BaseBranch,
		labelsJSON, pathsJSON, a.Diff, diffTruncated, a.Additions, a.Deletions, a.ChangedFiles,
		nullableTime(a.CreatedAt), nullableTime(a.UpdatedAt), nullableTime(a.MergedAt),
		string(status), formatTime(fetchedAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert artifact %s: %w", a.DedupeKey(), err)
	}

	return id, nil
}

// GetByID retrieves an artifact by id. Returns nil, nil if it does not exist.
func (r *ArtifactRepo) GetByID(ctx context.Context, id int64) (*model.Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE id = ?`

	a, err := scanArtifact(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact %d: %w", id, err)
	}
	return a, nil
}

// ListByStatus returns artifacts in the given status, oldest merge first.
func (r *ArtifactRepo) ListByStatus(ctx context.Context, repoID int64, status model.ProcessingStatus, limit int) ([]model.Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts
		WHERE repo_id = ? AND processing_status = ?
		ORDER BY COALESCE(merged_at, updated_at, fetched_at), id`
	args := []any{repoID, string(status)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts for repository %d: %w", repoID, err)
	}
	defer rows.Close()

	var artifacts []model.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}

	return artifacts, nil
}

// UpdateStatus moves artifacts to status unless their current status ranks higher.
func (r *ArtifactRepo) UpdateStatus(ctx context.Context, ids []int64, status model.ProcessingStatus) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders, args := inClause(ids)
	query := `UPDATE artifacts SET processing_status = ?
		WHERE id IN (` + placeholders + `)
		AND ` + statusRank("processing_status") + ` <= ` + statusRank("?")

	execArgs := make([]any, 0, len(args)+2)
	execArgs = append(execArgs, string(status))
	execArgs = append(execArgs, args...)
	execArgs = append(execArgs, string(status))

	if _, err := r.db.Writer.ExecContext(ctx, query, execArgs...); err != nil {
		return fmt.Errorf("update status of %d artifacts to %s: %w", len(ids), status, err)
	}
	return nil
}

func scanArtifact(s scanner) (*model.Artifact, error) {
	var a model.Artifact
	var artifactType, status, labelsJSON, pathsJSON, fetchedAt string
	var diffTruncated int
	var createdAt, updatedAt, mergedAt sql.NullString

	err := s.Scan(
		&a.ID, &a.RepoID, &a.ExternalID, &artifactType, &a.Number, &a.Title, &a.Body, &a.Author, &a.URL, &a.BaseBranch,
		&labelsJSON, &pathsJSON, &a.Diff, &diffTruncated, &a.Additions, &a.Deletions, &a.ChangedFiles,
		&createdAt, &updatedAt, &mergedAt, &status, &fetchedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Type = model.ArtifactType(artifactType)
	a.ProcessingStatus = model.ProcessingStatus(status)
	a.DiffTruncated = diffTruncated != 0

	if a.Labels, err = unmarshalStrings(labelsJSON); err != nil {
		return nil, fmt.Errorf("unmarshal labels: %w", err)
	}
	if a.FilePaths, err = unmarshalStrings(pathsJSON); err != nil {
		return nil, fmt.Errorf("unmarshal file paths: %w", err)
	}
	if a.CreatedAt, err = parseNullTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if a.UpdatedAt, err = parseNullTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if a.MergedAt, err = parseNullTime(mergedAt); err != nil {
		return nil, fmt.Errorf("parse merged_at: %w", err)
	}
	if a.FetchedAt, err = parseTime(fetchedAt); err != nil {
		return nil, fmt.Errorf("parse fetched_at: %w", err)
	}

	return &a, nil
}

// marshalStrings encodes a string slice as a JSON array; nil encodes as [].
func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalStrings(s string) ([]string, error) {
	values := []string{}
	if s == "" {
		return values, nil
	}
	if err := json.Unmarshal([]byte(s), &values); err != nil {
		return nil, err
	}
	return values, nil
}

// inClause returns "?, ?, ?" and the matching argument list for ids.
func inClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), args
}
