package model_test

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/ericfisherdev/decisionlog/internal/domain/model"
)

func TestTruncateDiff_UnderCap(t *testing.T) {
	diff, truncated := model.TruncateDiff("+added line\n")
	assert.False(t, truncated)
	assert.Equal(t, "+added line\n", diff)
}

func TestTruncateDiff_OverCapKeepsValidUTF8(t *testing.T) {
	// Each "é" is two bytes; an odd prefix forces the cut into a sequence.
	raw := "x" + strings.Repeat("é", model.MaxDiffBytes)

	diff, truncated := model.TruncateDiff(raw)

	assert.True(t, truncated)
	assert.LessOrEqual(t, len(diff), model.MaxDiffBytes)
	assert.True(t, utf8.ValidString(diff))
}

func TestArtifact_DedupeKey(t *testing.T) {
	a := model.Artifact{RepoID: 7, Type: model.ArtifactTypePR, ExternalID: "42"}
	assert.Equal(t, "7:pr:42", a.DedupeKey())
}

func TestArtifact_PositionPrefersMergeTime(t *testing.T) {
	merged := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	a := model.Artifact{Number: 3, MergedAt: merged, UpdatedAt: merged.Add(time.Hour)}

	p := a.Position()
	assert.Equal(t, model.CursorTimestamp, p.Type)
	assert.Equal(t, merged, p.At)
}

func TestProcessingStatus_Rank(t *testing.T) {
	assert.Less(t, model.ProcessingPending.Rank(), model.ProcessingSievedIn.Rank())
	assert.Less(t, model.ProcessingSievedOut.Rank(), model.ProcessingExtracted.Rank())
	assert.Equal(t, model.ProcessingExtracted.Rank(), model.ProcessingExtractFailed.Rank())
}
