package model

import "time"

// Decision is the structured architectural decision record extracted for a
// Candidate. RawResponse is an immutable audit copy of the provider output and
// is never read back into the structured fields.
type Decision struct {
	ID           int64
	CandidateID  int64
	RepoID       int64
	Title        string
	Context      string
	Decision     string
	Reasoning    string
	Consequences string
	Alternatives []string
	Tags         []string
	Significance float64
	ExtractedBy  string // "<provider>/<model>"
	RawResponse  string
	CreatedAt    time.Time
}
