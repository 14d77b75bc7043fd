package model

import "time"

// SyncCounts aggregates the work done by one orchestrator run.
type SyncCounts struct {
	Fetched           int `json:"fetched"`
	Stored            int `json:"stored"`
	FetchFailed       int `json:"fetch_failed"`
	SievedIn          int `json:"sieved_in"`
	SievedOut         int `json:"sieved_out"`
	CandidatesCreated int `json:"candidates_created"`
	Extracted         int `json:"extracted"`
	ExtractionFailed  int `json:"extraction_failed"`
	BudgetRemaining   int `json:"budget_remaining"`
}

// SyncOperation is the append-only audit record of one orchestrator run.
type SyncOperation struct {
	ID             int64
	RepoID         int64
	UserID         string
	Trigger        SyncTrigger
	Outcome        SyncOutcome
	Counts         SyncCounts
	BudgetExceeded bool
	BudgetResetAt  time.Time
	Errors         []string
	StartCursor    string
	EndCursor      string
	StartedAt      time.Time
	FinishedAt     time.Time
}
