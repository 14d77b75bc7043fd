package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericfisherdev/decisionlog/internal/application"
	"github.com/ericfisherdev/decisionlog/internal/domain/model"
	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// SyncService is the pipeline surface the handler drives.
type SyncService interface {
	StartSync(ctx context.Context, repoID int64, trigger model.SyncTrigger) (application.StartResult, error)
	GetSyncStatus(ctx context.Context, repoID int64) (application.SyncStatus, error)
	ListSyncOperations(ctx context.Context, repoID int64, limit int) ([]model.SyncOperation, error)
	Budget(ctx context.Context, repoID int64) (application.Budget, error)
	ListCandidates(ctx context.Context, repoID int64, status model.CandidateStatus) ([]model.Candidate, error)
	ApproveCandidate(ctx context.Context, candidateID int64) (*model.Decision, error)
	DismissCandidate(ctx context.Context, candidateID int64, reason string) error
}

// RepoService manages tracked repositories.
type RepoService interface {
	Add(ctx context.Context, fullName, userID string) (model.Repository, error)
	Remove(ctx context.Context, id int64) error
	List(ctx context.Context) ([]model.Repository, error)
}

// Exporter renders a repository's decisions.
type Exporter interface {
	Export(ctx context.Context, repoID int64, format application.ExportFormat) ([]byte, error)
}

// CredentialService stores per-user host tokens.
type CredentialService interface {
	SetGitHubToken(ctx context.Context, userID, token string) (string, error)
	DeleteGitHubToken(ctx context.Context, userID string) error
}

// ScheduleReader reports the scheduler's plan for a repository.
type ScheduleReader interface {
	Schedule(repoID int64) (application.ScheduleInfo, bool)
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	syncs       SyncService
	repos       RepoService
	exporter    Exporter
	credentials CredentialService
	schedules   ScheduleReader // Nil when scheduled syncs are disabled.
	db          Pinger
	logger      *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	syncs SyncService,
	repos RepoService,
	exporter Exporter,
	credentials CredentialService,
	schedules ScheduleReader,
	db Pinger,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		syncs:       syncs,
		repos:       repos,
		exporter:    exporter,
		credentials: credentials,
		schedules:   schedules,
		db:          db,
		logger:      logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/repos", h.ListRepos)
	mux.HandleFunc("POST /api/v1/repos", h.AddRepo)
	mux.HandleFunc("DELETE /api/v1/repos/{id}", h.RemoveRepo)

	mux.HandleFunc("POST /api/v1/repos/{id}/sync", h.StartSync)
	mux.HandleFunc("GET /api/v1/repos/{id}/sync", h.GetSyncStatus)
	mux.HandleFunc("GET /api/v1/repos/{id}/syncs", h.ListSyncOperations)
	mux.HandleFunc("GET /api/v1/repos/{id}/budget", h.GetBudget)
	mux.HandleFunc("GET /api/v1/repos/{id}/candidates", h.ListCandidates)
	mux.HandleFunc("GET /api/v1/repos/{id}/decisions/export", h.ExportDecisions)

	mux.HandleFunc("POST /api/v1/candidates/{id}/approve", h.ApproveCandidate)
	mux.HandleFunc("POST /api/v1/candidates/{id}/dismiss", h.DismissCandidate)

	mux.HandleFunc("PUT /api/v1/users/{user}/credentials/github", h.SetGitHubToken)
	mux.HandleFunc("DELETE /api/v1/users/{user}/credentials/github", h.DeleteGitHubToken)

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// ListRepos returns all tracked repositories.
func (h *Handler) ListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := h.repos.List(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "failed to list repos")
		return
	}

	resp := make([]RepoResponse, 0, len(repos))
	for _, repo := range repos {
		resp = append(resp, toRepoResponse(repo))
	}

	writeJSON(w, http.StatusOK, resp)
}

// AddRepo starts tracking a repository and kicks off its first sync.
func (h *Handler) AddRepo(w http.ResponseWriter, r *http.Request) {
	var req AddRepoRequest
	if !decodeBody(w, r, &req) {
		return
	}

	repo, err := h.repos.Add(r.Context(), req.FullName, req.UserID)
	if err != nil {
		h.writeServiceError(w, err, "failed to add repo", "repo", req.FullName)
		return
	}

	// The first sync is best-effort; its outcome is visible via the sync
	// status endpoint.
	if _, err := h.syncs.StartSync(r.Context(), repo.ID, model.TriggerManual); err != nil {
		h.logger.Warn("initial sync not started", "repo", repo.FullName, "error", err)
	}

	writeJSON(w, http.StatusCreated, toRepoResponse(repo))
}

// RemoveRepo stops tracking a repository.
func (h *Handler) RemoveRepo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.repos.Remove(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "failed to remove repo", "repo_id", id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// StartSync begins a background sync. It answers 202 when started and 409
// when another sync holds the repository.
func (h *Handler) StartSync(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	result, err := h.syncs.StartSync(r.Context(), id, model.TriggerManual)
	if err != nil {
		h.writeServiceError(w, err, "failed to start sync", "repo_id", id)
		return
	}

	status := http.StatusAccepted
	if result == application.SyncAlreadyRunning {
		status = http.StatusConflict
	}
	writeJSON(w, status, StartSyncResponse{Result: string(result)})
}

// GetSyncStatus reports the lock state, the latest run and the budget.
func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	status, err := h.syncs.GetSyncStatus(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to get sync status", "repo_id", id)
		return
	}

	resp := toSyncStatusResponse(status)
	if h.schedules != nil {
		if info, ok := h.schedules.Schedule(id); ok {
			resp.Tier = info.Tier.String()
			resp.NextSyncAt = formatTime(info.NextSyncAt)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListSyncOperations returns recent runs, newest first.
func (h *Handler) ListSyncOperations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	ops, err := h.syncs.ListSyncOperations(r.Context(), id, limit)
	if err != nil {
		h.writeServiceError(w, err, "failed to list sync operations", "repo_id", id)
		return
	}

	resp := make([]SyncOperationResponse, 0, len(ops))
	for _, op := range ops {
		resp = append(resp, toSyncOperationResponse(op))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetBudget returns the extraction budget with a countdown to the reset.
func (h *Handler) GetBudget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	budget, err := h.syncs.Budget(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to get budget", "repo_id", id)
		return
	}

	writeJSON(w, http.StatusOK, toBudgetResponse(budget, time.Now()))
}

// ListCandidates returns a repository's candidates, optionally by status.
func (h *Handler) ListCandidates(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	status := model.CandidateStatus(r.URL.Query().Get("status"))
	candidates, err := h.syncs.ListCandidates(r.Context(), id, status)
	if err != nil {
		h.writeServiceError(w, err, "failed to list candidates", "repo_id", id)
		return
	}

	resp := make([]CandidateResponse, 0, len(candidates))
	for _, c := range candidates {
		resp = append(resp, toCandidateResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ApproveCandidate extracts a single candidate and returns its decision.
func (h *Handler) ApproveCandidate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	decision, err := h.syncs.ApproveCandidate(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to approve candidate", "candidate_id", id)
		return
	}
	if decision == nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toDecisionResponse(*decision))
}

// DismissCandidate marks a candidate as not a decision.
func (h *Handler) DismissCandidate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req DismissRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	if err := h.syncs.DismissCandidate(r.Context(), id, req.Reason); err != nil {
		h.writeServiceError(w, err, "failed to dismiss candidate", "candidate_id", id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ExportDecisions downloads the decision log as JSON, Markdown or HTML.
func (h *Handler) ExportDecisions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	format, err := application.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.writeServiceError(w, err, "invalid export format")
		return
	}

	body, err := h.exporter.Export(r.Context(), id, format)
	if err != nil {
		h.writeServiceError(w, err, "failed to export decisions", "repo_id", id)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="decisions-%d.%s"`, id, format.Extension()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// SetGitHubToken validates and stores a user's GitHub token.
func (h *Handler) SetGitHubToken(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")

	var req SetTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}

	login, err := h.credentials.SetGitHubToken(r.Context(), user, req.Token)
	if err != nil {
		h.writeServiceError(w, err, "failed to store github token", "user", user)
		return
	}

	writeJSON(w, http.StatusOK, SetTokenResponse{Login: login})
}

// DeleteGitHubToken removes a user's stored GitHub token.
func (h *Handler) DeleteGitHubToken(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")

	if err := h.credentials.DeleteGitHubToken(r.Context(), user); err != nil {
		h.writeServiceError(w, err, "failed to delete github token", "user", user)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Health reports ok when the database answers a ping.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.logger.Error("health check failed", "error", err)
			status, code = "unavailable", http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, HealthResponse{
		Status: status,
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// writeServiceError maps application and port errors to HTTP responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string, attrs ...any) {
	var (
		vErr      *driven.ValidationError
		revoked   *driven.AccessRevokedError
		notFound  *driven.NotFoundError
		rateErr   *driven.RateLimitedError
		budgetErr *application.BudgetExceededError
		extErr    *application.ExtractionError
	)

	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, driven.ErrRepoNotFound):
		writeError(w, http.StatusNotFound, "repository not found")
	case errors.Is(err, driven.ErrCandidateNotFound):
		writeError(w, http.StatusNotFound, "candidate not found")
	case errors.Is(err, driven.ErrNoCredential):
		writeError(w, http.StatusNotFound, "no github token stored for this user")
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &revoked):
		writeError(w, http.StatusForbidden, "github access revoked: re-authorize the token")
	case errors.Is(err, application.ErrSyncInProgress):
		writeError(w, http.StatusConflict, "sync already in progress")
	case errors.Is(err, driven.ErrRepoAlreadyExists):
		writeError(w, http.StatusConflict, "repository already exists")
	case errors.As(err, &budgetErr):
		setRetryAfter(w, time.Until(budgetErr.ResetAt))
		writeError(w, http.StatusTooManyRequests, budgetErr.Error())
	case errors.As(err, &rateErr):
		setRetryAfter(w, rateErr.Wait(time.Now()))
		writeError(w, http.StatusTooManyRequests, rateErr.Error())
	case errors.As(err, &extErr):
		h.logger.Warn(msg, append(attrs, "error", err)...)
		writeError(w, http.StatusBadGateway, extErr.Error())
	default:
		h.logger.Error(msg, append(attrs, "error", err)...)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	secs := int(math.Ceil(d.Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
}

// pathID parses the {id} path value, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
