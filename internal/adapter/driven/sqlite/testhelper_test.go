package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/decisionlog/internal/domain/model"
)

// setupTestDB creates a named shared in-memory SQLite database for testing.
// Writer and reader connections share the same in-memory database via cache=shared.
// A unique name derived from t.Name() ensures isolation between parallel tests.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// Percent-encode the test name so it's a safe SQLite URI filename component
	// and cannot be misinterpreted as query parameters in the "file:%s?..." DSN.
	safeName := url.PathEscape(t.Name())
	// WAL mode is not applicable to in-memory databases; omit journal_mode pragma.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		safeName,
	)

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("create test db writer: %v", err)
	}
	writer.SetMaxOpenConns(1)
	if err := writer.PingContext(context.Background()); err != nil {
		_ = writer.Close()
		t.Fatalf("ping test db writer: %v", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		t.Fatalf("create test db reader: %v", err)
	}
	reader.SetMaxOpenConns(4)
	if err := reader.PingContext(context.Background()); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		t.Fatalf("ping test db reader: %v", err)
	}

	db := &DB{Writer: writer, Reader: reader, path: dsn}

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// seedRepo inserts an idle repository owned by "user-1" and returns it.
func seedRepo(t *testing.T, db *DB, fullName string) model.Repository {
	t.Helper()

	owner, name := splitFullName(fullName)
	repo, err := NewRepoRepo(db).Add(context.Background(), model.Repository{
		FullName: fullName,
		Owner:    owner,
		Name:     name,
		UserID:   "user-1",
		AddedAt:  time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return repo
}

// seedArtifact upserts a merged pull request artifact with the given number.
func seedArtifact(t *testing.T, db *DB, repoID int64, number int) model.Artifact {
	t.Helper()

	a := makeArtifact(repoID, number)
	id, err := NewArtifactRepo(db).Upsert(context.Background(), a)
	require.NoError(t, err)
	a.ID = id
	return a
}

func makeArtifact(repoID int64, number int) model.Artifact {
	merged := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(number) * time.Hour)
	return model.Artifact{
		RepoID:           repoID,
		ExternalID:       fmt.Sprintf("%d", number),
		Type:             model.ArtifactTypePR,
		Number:           number,
		Title:            fmt.Sprintf("Change %d", number),
		Body:             "body",
		Author:           "octocat",
		URL:              fmt.Sprintf("https://github.com/octocat/hello-world/pull/%d", number),
		BaseBranch:       "main",
		Labels:           []string{"architecture"},
		FilePaths:        []string{"internal/app.go"},
		Diff:             "diff --git a/internal/app.go b/internal/app.go\n",
		Additions:        10,
		Deletions:        2,
		ChangedFiles:     1,
		CreatedAt:        merged.Add(-48 * time.Hour),
		UpdatedAt:        merged,
		MergedAt:         merged,
		ProcessingStatus: model.ProcessingPending,
		FetchedAt:        merged.Add(time.Hour),
	}
}

func splitFullName(fullName string) (string, string) {
	for i := 0; i < len(fullName); i++ {
		if fullName[i] == '/' {
			return fullName[:i], fullName[i+1:]
		}
	}
	return fullName, ""
}
