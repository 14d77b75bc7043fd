package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

func TestClassifyActivity(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		elapsed  time.Duration
		wantTier ActivityTier
	}{
		{"1 hour ago is hot", time.Hour, TierHot},
		{"23 hours ago is hot (boundary)", 23 * time.Hour, TierHot},
		{"25 hours ago is active (boundary)", 25 * time.Hour, TierActive},
		{"6 days ago is active", 6 * 24 * time.Hour, TierActive},
		{"8 days ago is warm", 8 * 24 * time.Hour, TierWarm},
		{"29 days ago is warm", 29 * 24 * time.Hour, TierWarm},
		{"31 days ago is stale", 31 * 24 * time.Hour, TierStale},
		{"never merged is hot", 0, TierHot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var lastMerged time.Time
			if tt.elapsed > 0 {
				lastMerged = now.Add(-tt.elapsed)
			}
			assert.Equal(t, tt.wantTier, classifyActivity(lastMerged, now))
		})
	}
}

func TestTierMultiplier(t *testing.T) {
	tests := []struct {
		tier ActivityTier
		want int
	}{
		{TierHot, 1},
		{TierActive, 2},
		{TierWarm, 6},
		{TierStale, 24},
		{ActivityTier(99), 2},
	}

	for _, tt := range tests {
		t.Run(tt.tier.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tierMultiplier(tt.tier))
		})
	}
}

func TestNextUTCMidnight(t *testing.T) {
	at := time.Date(2025, 3, 31, 23, 59, 59, 0, time.FixedZone("EST", -5*3600))

	got := nextUTCMidnight(at)
	assert.Equal(t, time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC), got)

	exact := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC), nextUTCMidnight(exact))
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
	assert.Equal(t, "```", stripCodeFence("```"))
}

func TestAssembleDiff_RemovedFile(t *testing.T) {
	got := assembleDiff(nil)
	assert.Empty(t, got)

	got = assembleDiff([]driven.ChangedFile{{Path: "old.go", Status: "removed", Patch: "@@ -1 +0,0 @@\n-package old"}})
	assert.Equal(t, "diff --git a/old.go b/old.go\n--- a/old.go\n+++ /dev/null\n@@ -1 +0,0 @@\n-package old\n", got)
}
