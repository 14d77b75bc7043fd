package model

import (
	"fmt"
	"time"
)

// MaxDiffBytes caps the diff text stored on an Artifact. Counts on the
// Artifact (additions, deletions, changed files) are never capped.
const MaxDiffBytes = 100 * 1024

// Artifact represents one merged pull request or commit fetched from the host.
// Its identity (RepoID, ExternalID, Type) is stable across re-fetches.
type Artifact struct {
	ID            int64
	RepoID        int64
	ExternalID    string // PR number or commit SHA, as the host reports it.
	Type          ArtifactType
	Number        int // PR number; zero for commits.
	Title         string
	Body          string
	Author        string
	URL           string
	BaseBranch    string
	Labels        []string
	FilePaths     []string
	Diff          string // Truncated to MaxDiffBytes.
	DiffTruncated bool
	Additions     int
	Deletions     int
	ChangedFiles  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	MergedAt      time.Time

	ProcessingStatus ProcessingStatus
	FetchedAt        time.Time
}

// DedupeKey derives the Candidate dedupe key from the artifact identity.
func (a Artifact) DedupeKey() string {
	return fmt.Sprintf("%d:%s:%s", a.RepoID, a.Type, a.ExternalID)
}

// LinesChanged returns the uncapped additions plus deletions.
func (a Artifact) LinesChanged() int {
	return a.Additions + a.Deletions
}

// Position returns the cursor position this artifact occupies. Merged items
// are positioned by merge time so the cursor follows merge order.
func (a Artifact) Position() Position {
	at := a.MergedAt
	if at.IsZero() {
		at = a.UpdatedAt
	}
	return Position{Type: CursorTimestamp, Number: a.Number, At: at}
}

// TruncateDiff cuts diff to at most MaxDiffBytes without splitting a UTF-8
// sequence. It reports whether anything was removed.
func TruncateDiff(diff string) (string, bool) {
	if len(diff) <= MaxDiffBytes {
		return diff, false
	}
	cut := MaxDiffBytes
	for cut > 0 && !isRuneStart(diff[cut]) {
		cut--
	}
	return diff[:cut], true
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
