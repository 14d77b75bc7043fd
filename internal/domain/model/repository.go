package model

import "time"

// Repository represents a GitHub repository whose history is mined for decisions.
type Repository struct {
	ID       int64
	FullName string
	Owner    string
	Name     string
	UserID   string // Owning user; selects the vault token and is billed for extraction.
	AddedAt  time.Time

	Cursor        string // Serialized Cursor; empty before the first successful fetch.
	SyncStatus    SyncStatus
	SyncStartedAt time.Time // Zero when idle.

	ExtractionsToday   int
	ExtractionsResetAt time.Time // Zero until the first budget check.

	CandidateCount int
	DecisionCount  int
	LastMergedAt   time.Time // Most recent merge seen by the fetcher.
}
