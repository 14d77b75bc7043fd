package sieve_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/decisionlog/internal/domain/model"
	"github.com/ericfisherdev/decisionlog/internal/domain/sieve"
)

func TestScore_NoiseTitlesScoreZero(t *testing.T) {
	titles := []string{
		"Bump lodash from 4.17.20 to 4.17.21",
		"chore(deps): update module github.com/spf13/cobra to v1.9.0",
		"Fix typo in README",
		"typo",
		"style: run prettier",
		"ci: bump actions/checkout",
		"Merge branch 'main' into feature",
		"Merge pull request #12 from org/branch",
		"v1.4.2",
		"Release 2.0.0",
	}

	for _, title := range titles {
		t.Run(title, func(t *testing.T) {
			// Everything else about the artifact would score highly.
			a := model.Artifact{
				Title:        title,
				Body:         "Migrate the database architecture because of performance reasons.",
				Labels:       []string{"architecture", "database", "breaking-change"},
				ChangedFiles: 30,
				Additions:    900,
			}

			r := sieve.Score(a)
			assert.Equal(t, 0.0, r.Total)
			assert.True(t, r.Noise)
			assert.False(t, r.Passed())
			require.Len(t, r.Breakdown.Penalties, 1)
			assert.Contains(t, r.Breakdown.Penalties[0], "noise")
		})
	}
}

func TestScore_BotAuthorIsNoise(t *testing.T) {
	r := sieve.Score(model.Artifact{
		Title:  "Refactor database layer",
		Author: "renovate[bot]",
	})
	assert.Equal(t, 0.0, r.Total)
	assert.True(t, r.Noise)
}

func TestScore_LabeledMigrationPassesHigh(t *testing.T) {
	a := model.Artifact{
		Title:        "Migrate database from MySQL to PostgreSQL",
		Labels:       []string{"architecture", "breaking-change", "database"},
		ChangedFiles: 25,
	}

	r := sieve.Score(a)
	assert.GreaterOrEqual(t, r.Total, 0.7)
	assert.True(t, r.Passed())
	assert.False(t, r.Noise)
	assert.Equal(t, 0.35, r.Breakdown.Keywords)
	assert.Equal(t, 0.30, r.Breakdown.Labels)
	assert.Equal(t, 0.15, r.Breakdown.ChangeSize)
	assert.NotEmpty(t, r.Breakdown.Signals)
	assert.Contains(t, r.Breakdown.Reasoning, "meets threshold")
}

func TestScore_FamilyCaps(t *testing.T) {
	body := strings.Repeat("We replace the monolith with microservices because the schema design "+
		"and API architecture need a cache layer for performance and security. ", 10)

	a := model.Artifact{
		Title: "Architecture overhaul",
		Body:  body,
		Labels: []string{
			"architecture", "database", "migration", "api", "design", "security",
		},
		ChangedFiles: 60,
		Additions:    3000,
		FilePaths: []string{
			"config/app.yaml",
			"migrations/0002_users.sql",
			"api/openapi.yaml",
			"deploy/Dockerfile",
			"internal/service/user.go",
		},
	}

	r := sieve.Score(a)
	assert.LessOrEqual(t, r.Breakdown.Keywords, 0.40)
	assert.LessOrEqual(t, r.Breakdown.Labels, 0.30)
	assert.LessOrEqual(t, r.Breakdown.ChangeSize, 0.20)
	assert.LessOrEqual(t, r.Breakdown.DiffContent, 0.20)
	assert.LessOrEqual(t, r.Total, 1.0)
	assert.Equal(t, 0.0, r.Breakdown.Penalty)
	assert.Equal(t, 1.0, r.Total)
}

func TestScore_ExcessiveChangePenalized(t *testing.T) {
	base := model.Artifact{
		Title:        "Restructure packages",
		ChangedFiles: 40,
		Additions:    600,
	}
	huge := base
	huge.ChangedFiles = 450
	huge.Additions = 20000

	normal := sieve.Score(base)
	mass := sieve.Score(huge)

	assert.Less(t, mass.Total, normal.Total)
	assert.Equal(t, 0.15, mass.Breakdown.Penalty)
	require.Len(t, mass.Breakdown.Penalties, 1)
	assert.Contains(t, mass.Breakdown.Penalties[0], "excessively large")
}

func TestScore_TestDominatedDiffPenalized(t *testing.T) {
	a := model.Artifact{
		Title: "Add coverage for cache adapter",
		FilePaths: []string{
			"internal/cache/cache_test.go",
			"internal/cache/lru_test.go",
			"internal/cache/testdata/fixture.json",
			"web/src/cache.spec.ts",
		},
	}

	r := sieve.Score(a)
	assert.Equal(t, 0.10, r.Breakdown.Penalty)
	assert.Contains(t, r.Breakdown.Penalties[0], "test-dominated")
}

func TestScore_LockfileOnlyPenalized(t *testing.T) {
	a := model.Artifact{
		Title:     "Refresh dependency graph",
		FilePaths: []string{"go.sum", "web/package-lock.json"},
	}

	r := sieve.Score(a)
	assert.Equal(t, 0.15, r.Breakdown.Penalty)
	assert.Equal(t, 0.0, r.Total)
}

func TestScore_YamlLockfileIsNotConfig(t *testing.T) {
	r := sieve.Score(model.Artifact{
		Title:     "Refresh dependency graph",
		FilePaths: []string{"pnpm-lock.yaml"},
	})
	assert.Equal(t, 0.0, r.Breakdown.DiffContent)
	assert.NotContains(t, r.Breakdown.Signals, "configuration changes")
	assert.Equal(t, 0.15, r.Breakdown.Penalty)

	r = sieve.Score(model.Artifact{
		Title:     "Refresh dependency graph",
		FilePaths: []string{"pnpm-lock.yaml", "config.yaml"},
	})
	assert.Equal(t, 0.05, r.Breakdown.DiffContent)
	assert.Contains(t, r.Breakdown.Signals, "configuration changes")
}

func TestScore_PathsRecoveredFromDiff(t *testing.T) {
	diff := "diff --git a/migrations/0003_orders.sql b/migrations/0003_orders.sql\n" +
		"+CREATE TABLE orders (id INTEGER PRIMARY KEY);\n"

	r := sieve.Score(model.Artifact{Title: "Orders", Diff: diff})
	assert.Equal(t, 0.10, r.Breakdown.DiffContent)
	assert.Contains(t, r.Breakdown.Signals, "schema or migration changes")
}

func TestScore_LabelNormalization(t *testing.T) {
	r := sieve.Score(model.Artifact{
		Title:  "Tidy handlers",
		Labels: []string{"type: Architecture", "area/Breaking Change", "ARCHITECTURE", "good first issue"},
	})
	// Duplicate architecture label counted once.
	assert.Equal(t, 0.20, r.Breakdown.Labels)
}

func TestScore_RangeAndDeterminism(t *testing.T) {
	titles := []string{
		"", "Add", "Introduce event-driven order pipeline", "Bump x",
		"Switch caching from memcached to Redis", "Update README",
	}
	labels := [][]string{nil, {"api"}, {"architecture", "rfc", "adr", "design"}}
	sizes := []int{0, 3, 12, 150}

	for i, title := range titles {
		for j, ls := range labels {
			for k, files := range sizes {
				a := model.Artifact{
					Title:        title,
					Body:         strings.Repeat("because ", i*40),
					Labels:       ls,
					ChangedFiles: files,
					Additions:    files * 30,
				}
				name := fmt.Sprintf("%d/%d/%d", i, j, k)

				first := sieve.Score(a)
				second := sieve.Score(a)
				assert.Equal(t, first, second, name)
				assert.GreaterOrEqual(t, first.Total, 0.0, name)
				assert.LessOrEqual(t, first.Total, sieve.MaxScore, name)
				assert.Equal(t, first.Total >= sieve.Threshold, first.Passed(), name)
			}
		}
	}
}

func TestScore_EmptyArtifact(t *testing.T) {
	r := sieve.Score(model.Artifact{})
	assert.Equal(t, 0.0, r.Total)
	assert.False(t, r.Noise)
	assert.NotNil(t, r.Breakdown.Signals)
	assert.NotNil(t, r.Breakdown.Penalties)
	assert.Contains(t, r.Breakdown.Reasoning, "below threshold")
}
