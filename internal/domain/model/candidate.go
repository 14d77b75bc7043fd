package model

import "time"

// ScoreBreakdown is the stored explanation of a sieve score. It is kept on the
// Candidate for debugging and threshold tuning.
type ScoreBreakdown struct {
	Keywords    float64  `json:"keywords"`
	Labels      float64  `json:"labels"`
	ChangeSize  float64  `json:"change_size"`
	DiffContent float64  `json:"diff_content"`
	Penalty     float64  `json:"penalty"`
	Signals     []string `json:"signals"`
	Penalties   []string `json:"penalties"`
	Reasoning   string   `json:"reasoning"`
}

// Candidate is an Artifact that passed the sieve and awaits, or holds, an
// extraction outcome.
type Candidate struct {
	ID            int64
	RepoID        int64
	ArtifactID    int64
	DedupeKey     string
	SieveScore    float64
	Breakdown     ScoreBreakdown
	Status        CandidateStatus
	Error         string // Populated when Status is CandidateFailed.
	DismissReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
