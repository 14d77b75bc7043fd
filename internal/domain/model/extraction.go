package model

import "time"

// ExtractionCost is an append-only audit record of one extraction batch.
type ExtractionCost struct {
	ID           int64
	BatchID      string
	RepoID       int64
	UserID       string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	BatchSize    int
	CandidateIDs []int64
	CreatedAt    time.Time
}
