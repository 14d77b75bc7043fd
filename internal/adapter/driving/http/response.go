package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/decisionlog/internal/application"
	"github.com/ericfisherdev/decisionlog/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// RepoResponse is the JSON representation of a tracked repository.
type RepoResponse struct {
	ID             int64  `json:"id"`
	FullName       string `json:"full_name"`
	Owner          string `json:"owner"`
	Name           string `json:"name"`
	UserID         string `json:"user_id"`
	AddedAt        string `json:"added_at"`
	SyncStatus     string `json:"sync_status"`
	Cursor         string `json:"cursor"`
	CandidateCount int    `json:"candidate_count"`
	DecisionCount  int    `json:"decision_count"`
	LastMergedAt   string `json:"last_merged_at,omitempty"`
}

// CandidateResponse is the JSON representation of a sieved candidate.
type CandidateResponse struct {
	ID            int64                `json:"id"`
	RepoID        int64                `json:"repo_id"`
	ArtifactID    int64                `json:"artifact_id"`
	SieveScore    float64              `json:"sieve_score"`
	Breakdown     model.ScoreBreakdown `json:"breakdown"`
	Status        string               `json:"status"`
	Error         string               `json:"error,omitempty"`
	DismissReason string               `json:"dismiss_reason,omitempty"`
	CreatedAt     string               `json:"created_at"`
	UpdatedAt     string               `json:"updated_at"`
}

// DecisionResponse is the JSON representation of an extracted decision.
type DecisionResponse struct {
	ID           int64    `json:"id"`
	CandidateID  int64    `json:"candidate_id"`
	RepoID       int64    `json:"repo_id"`
	Title        string   `json:"title"`
	Context      string   `json:"context"`
	Decision     string   `json:"decision"`
	Reasoning    string   `json:"reasoning"`
	Consequences string   `json:"consequences"`
	Alternatives []string `json:"alternatives"`
	Tags         []string `json:"tags"`
	Significance float64  `json:"significance"`
	ExtractedBy  string   `json:"extracted_by"`
	CreatedAt    string   `json:"created_at"`
}

// SyncOperationResponse is the JSON representation of one sync run.
type SyncOperationResponse struct {
	ID             int64            `json:"id"`
	RepoID         int64            `json:"repo_id"`
	Trigger        string           `json:"trigger"`
	Outcome        string           `json:"outcome"`
	Counts         model.SyncCounts `json:"counts"`
	BudgetExceeded bool             `json:"budget_exceeded"`
	BudgetResetAt  string           `json:"budget_reset_at,omitempty"`
	Errors         []string         `json:"errors"`
	StartCursor    string           `json:"start_cursor"`
	EndCursor      string           `json:"end_cursor"`
	StartedAt      string           `json:"started_at"`
	FinishedAt     string           `json:"finished_at"`
}

// SyncStatusResponse reports the lock state alongside the latest run.
type SyncStatusResponse struct {
	RepoID        int64                  `json:"repo_id"`
	Status        string                 `json:"status"`
	SyncStartedAt string                 `json:"sync_started_at,omitempty"`
	Cursor        string                 `json:"cursor"`
	Last          *SyncOperationResponse `json:"last"`
	Budget        application.Budget     `json:"budget"`
	Tier          string                 `json:"tier,omitempty"`
	NextSyncAt    string                 `json:"next_sync_at,omitempty"`
}

// BudgetResponse adds a countdown to the budget view.
type BudgetResponse struct {
	application.Budget
	ResetsInSeconds int `json:"resets_in_seconds"`
}

// StartSyncResponse is returned by the sync trigger endpoint.
type StartSyncResponse struct {
	Result string `json:"result"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// AddRepoRequest is the expected JSON body for adding a repository.
type AddRepoRequest struct {
	FullName string `json:"full_name"`
	UserID   string `json:"user_id"`
}

// DismissRequest is the optional JSON body for dismissing a candidate.
type DismissRequest struct {
	Reason string `json:"reason"`
}

// SetTokenRequest is the expected JSON body for storing a GitHub token.
type SetTokenRequest struct {
	Token string `json:"token"`
}

// SetTokenResponse echoes the login the token authenticates as.
type SetTokenResponse struct {
	Login string `json:"login"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toRepoResponse(r model.Repository) RepoResponse {
	return RepoResponse{
		ID:             r.ID,
		FullName:       r.FullName,
		Owner:          r.Owner,
		Name:           r.Name,
		UserID:         r.UserID,
		AddedAt:        formatTime(r.AddedAt),
		SyncStatus:     string(r.SyncStatus),
		Cursor:         r.Cursor,
		CandidateCount: r.CandidateCount,
		DecisionCount:  r.DecisionCount,
		LastMergedAt:   formatTime(r.LastMergedAt),
	}
}

func toCandidateResponse(c model.Candidate) CandidateResponse {
	return CandidateResponse{
		ID:            c.ID,
		RepoID:        c.RepoID,
		ArtifactID:    c.ArtifactID,
		SieveScore:    c.SieveScore,
		Breakdown:     c.Breakdown,
		Status:        string(c.Status),
		Error:         c.Error,
		DismissReason: c.DismissReason,
		CreatedAt:     formatTime(c.CreatedAt),
		UpdatedAt:     formatTime(c.UpdatedAt),
	}
}

func toDecisionResponse(d model.Decision) DecisionResponse {
	alternatives := d.Alternatives
	if alternatives == nil {
		alternatives = []string{}
	}
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}

	return DecisionResponse{
		ID:           d.ID,
		CandidateID:  d.CandidateID,
		RepoID:       d.RepoID,
		Title:        d.Title,
		Context:      d.Context,
		Decision:     d.Decision,
		Reasoning:    d.Reasoning,
		Consequences: d.Consequences,
		Alternatives: alternatives,
		Tags:         tags,
		Significance: d.Significance,
		ExtractedBy:  d.ExtractedBy,
		CreatedAt:    formatTime(d.CreatedAt),
	}
}

func toSyncOperationResponse(op model.SyncOperation) SyncOperationResponse {
	errs := op.Errors
	if errs == nil {
		errs = []string{}
	}

	return SyncOperationResponse{
		ID:             op.ID,
		RepoID:         op.RepoID,
		Trigger:        string(op.Trigger),
		Outcome:        string(op.Outcome),
		Counts:         op.Counts,
		BudgetExceeded: op.BudgetExceeded,
		BudgetResetAt:  formatTime(op.BudgetResetAt),
		Errors:         errs,
		StartCursor:    op.StartCursor,
		EndCursor:      op.EndCursor,
		StartedAt:      formatTime(op.StartedAt),
		FinishedAt:     formatTime(op.FinishedAt),
	}
}

func toSyncStatusResponse(s application.SyncStatus) SyncStatusResponse {
	resp := SyncStatusResponse{
		RepoID:        s.RepoID,
		Status:        string(s.Status),
		SyncStartedAt: formatTime(s.SyncStartedAt),
		Cursor:        s.Cursor,
		Budget:        s.Budget,
	}
	if s.Last != nil {
		last := toSyncOperationResponse(*s.Last)
		resp.Last = &last
	}
	return resp
}

func toBudgetResponse(b application.Budget, now time.Time) BudgetResponse {
	secs := 0
	if b.ResetAt.After(now) {
		secs = int(b.ResetAt.Sub(now).Seconds())
	}
	return BudgetResponse{Budget: b, ResetsInSeconds: secs}
}
