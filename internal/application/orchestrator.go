package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ericfisherdev/decisionlog/internal/domain/model"
	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
	"github.com/ericfisherdev/decisionlog/internal/domain/sieve"
)

// Orchestrator defaults.
const (
	// DefaultStaleSyncAfter is how long a repository may stay syncing before
	// startup recovery returns it to idle.
	DefaultStaleSyncAfter = 30 * time.Minute

	// GitHubService names the vault entry holding a user's GitHub token.
	GitHubService = "github"

	finishTimeout   = 10 * time.Second
	maxDismissChars = 500
)

// StartResult is the outcome of StartSync.
type StartResult string

const (
	SyncStarted        StartResult = "started"
	SyncAlreadyRunning StartResult = "already_running"
)

// SyncStatus is the read model returned by GetSyncStatus.
type SyncStatus struct {
	RepoID        int64                `json:"repo_id"`
	Status        model.SyncStatus     `json:"status"`
	SyncStartedAt time.Time            `json:"sync_started_at,omitzero"`
	Cursor        string               `json:"cursor"`
	Last          *model.SyncOperation `json:"last,omitempty"`
	Budget        Budget               `json:"budget"`
}

// OrchestratorDeps groups the Orchestrator's collaborators.
type OrchestratorDeps struct {
	Repos       driven.RepoStore
	Lock        driven.SyncLock
	Artifacts   driven.ArtifactStore
	Candidates  driven.CandidateStore
	Decisions   driven.DecisionStore
	Operations  driven.SyncOperationStore
	Credentials driven.CredentialStore
	Hosts       driven.HostClientFactory
	Fetcher     *Fetcher
	Governor    *Governor
	Extractor   *Extractor // Nil disables extraction.

	// AutoExtract runs extraction at the end of every sync while the
	// budget allows. Otherwise extraction happens only on approval.
	AutoExtract    bool
	StaleSyncAfter time.Duration
}

// Orchestrator runs the fetch, sieve and extract pipeline for one repository
// at a time under the per-repository sync lock.
type Orchestrator struct {
	repos       driven.RepoStore
	lock        driven.SyncLock
	artifacts   driven.ArtifactStore
	candidates  driven.CandidateStore
	decisions   driven.DecisionStore
	operations  driven.SyncOperationStore
	credentials driven.CredentialStore
	hosts       driven.HostClientFactory
	fetcher     *Fetcher
	governor    *Governor
	extractor   *Extractor
	autoExtract bool
	staleAfter  time.Duration
	now         func() time.Time

	wg sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	o := &Orchestrator{
		repos:       deps.Repos,
		lock:        deps.Lock,
		artifacts:   deps.Artifacts,
		candidates:  deps.Candidates,
		decisions:   deps.Decisions,
		operations:  deps.Operations,
		credentials: deps.Credentials,
		hosts:       deps.Hosts,
		fetcher:     deps.Fetcher,
		governor:    deps.Governor,
		extractor:   deps.Extractor,
		autoExtract: deps.AutoExtract,
		staleAfter:  deps.StaleSyncAfter,
		now:         time.Now,
	}
	if o.staleAfter <= 0 {
		o.staleAfter = DefaultStaleSyncAfter
	}
	return o
}

// Sync runs one full pipeline pass for the repository. It returns
// ErrSyncInProgress, with no other writes, when another run holds the lock.
// The returned operation has already been persisted.
func (o *Orchestrator) Sync(ctx context.Context, repoID int64, trigger model.SyncTrigger) (model.SyncOperation, error) {
	repo, err := o.acquire(ctx, repoID)
	if err != nil {
		return model.SyncOperation{}, err
	}
	return o.runLocked(ctx, *repo, trigger, o.syncPipeline)
}

// StartSync takes the lock synchronously and runs the pipeline in the
// background. The background run is detached from ctx cancellation.
func (o *Orchestrator) StartSync(ctx context.Context, repoID int64, trigger model.SyncTrigger) (StartResult, error) {
	repo, err := o.acquire(ctx, repoID)
	if errors.Is(err, ErrSyncInProgress) {
		return SyncAlreadyRunning, nil
	}
	if err != nil {
		return "", err
	}

	runCtx := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if _, err := o.runLocked(runCtx, *repo, trigger, o.syncPipeline); err != nil {
			slog.Error("background sync failed", "repo", repo.FullName, "error", err)
		}
	}()

	return SyncStarted, nil
}

// Wait blocks until every background sync started by StartSync has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// GetSyncStatus reports the lock state, the latest run and the budget.
func (o *Orchestrator) GetSyncStatus(ctx context.Context, repoID int64) (SyncStatus, error) {
	repo, err := o.getRepo(ctx, repoID)
	if err != nil {
		return SyncStatus{}, err
	}

	last, err := o.operations.Latest(ctx, repoID)
	if err != nil {
		return SyncStatus{}, fmt.Errorf("reading latest sync for repo %d: %w", repoID, err)
	}

	budget, err := o.governor.Check(ctx, repoID)
	if err != nil {
		return SyncStatus{}, err
	}

	return SyncStatus{
		RepoID:        repo.ID,
		Status:        repo.SyncStatus,
		SyncStartedAt: repo.SyncStartedAt,
		Cursor:        repo.Cursor,
		Last:          last,
		Budget:        budget,
	}, nil
}

// ListSyncOperations returns recent runs for a repository, newest first.
func (o *Orchestrator) ListSyncOperations(ctx context.Context, repoID int64, limit int) ([]model.SyncOperation, error) {
	if _, err := o.getRepo(ctx, repoID); err != nil {
		return nil, err
	}
	return o.operations.ListByRepo(ctx, repoID, limit)
}

// Budget reports the repository's extraction budget.
func (o *Orchestrator) Budget(ctx context.Context, repoID int64) (Budget, error) {
	if _, err := o.getRepo(ctx, repoID); err != nil {
		return Budget{}, err
	}
	return o.governor.Check(ctx, repoID)
}

// ListCandidates returns a repository's candidates, optionally filtered by status.
func (o *Orchestrator) ListCandidates(ctx context.Context, repoID int64, status model.CandidateStatus) ([]model.Candidate, error) {
	if status != "" && !status.Valid() {
		return nil, &driven.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown candidate status %q", status)}
	}
	if _, err := o.getRepo(ctx, repoID); err != nil {
		return nil, err
	}
	return o.candidates.ListByRepo(ctx, repoID, status)
}

// DismissCandidate marks a candidate dismissed with an optional reason.
func (o *Orchestrator) DismissCandidate(ctx context.Context, candidateID int64, reason string) error {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > maxDismissChars {
		return &driven.ValidationError{Field: "reason", Reason: fmt.Sprintf("longer than %d characters", maxDismissChars)}
	}
	return o.candidates.Dismiss(ctx, candidateID, reason)
}

// ApproveCandidate extracts a single candidate under the repository lock.
// An already extracted candidate returns its existing decision. Exhausted
// budgets return *BudgetExceededError and double failures *ExtractionError.
func (o *Orchestrator) ApproveCandidate(ctx context.Context, candidateID int64) (*model.Decision, error) {
	c, err := o.candidates.GetByID(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("reading candidate %d: %w", candidateID, err)
	}
	if c == nil {
		return nil, driven.ErrCandidateNotFound
	}

	switch c.Status {
	case model.CandidateExtracted:
		return o.decisionFor(ctx, c.ID)
	case model.CandidateDismissed:
		return nil, errDismissedApproval()
	}

	if o.extractor == nil {
		return nil, &driven.ValidationError{Field: "candidate", Reason: "no extraction provider configured"}
	}

	repo, err := o.acquire(ctx, c.RepoID)
	if err != nil {
		return nil, err
	}

	// The budget unit is charged before the provider call, so the run must
	// finish even if the caller goes away.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.extractor.MaxBatchDuration())
	defer cancel()

	_, err = o.runLocked(runCtx, *repo, model.TriggerApproval, func(ctx context.Context, repo model.Repository, op *model.SyncOperation) error {
		return o.approveLocked(ctx, repo, c.ID, op)
	})
	if err != nil {
		return nil, err
	}
	return o.decisionFor(ctx, c.ID)
}

// RecoverStaleLocks returns repositories stuck in syncing to idle. It runs
// at startup, when no run of this process can hold a lock.
func (o *Orchestrator) RecoverStaleLocks(ctx context.Context) (int64, error) {
	n, err := o.lock.ReleaseStaleSyncs(ctx, o.now().Add(-o.staleAfter))
	if err != nil {
		return 0, fmt.Errorf("releasing stale syncs: %w", err)
	}
	if n > 0 {
		slog.Warn("released stale sync locks", "count", n, "older_than", o.staleAfter)
	}
	return n, nil
}

func (o *Orchestrator) getRepo(ctx context.Context, repoID int64) (*model.Repository, error) {
	repo, err := o.repos.GetByID(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("reading repo %d: %w", repoID, err)
	}
	if repo == nil {
		return nil, driven.ErrRepoNotFound
	}
	return repo, nil
}

// acquire takes the sync lock and returns the repository as it was read
// after locking.
func (o *Orchestrator) acquire(ctx context.Context, repoID int64) (*model.Repository, error) {
	ok, err := o.lock.TryAcquireSync(ctx, repoID, o.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		syncRejected.Inc()
		return nil, ErrSyncInProgress
	}

	repo, err := o.getRepo(ctx, repoID)
	if err != nil {
		o.release(repoID)
		return nil, err
	}
	return repo, nil
}

type lockedStep func(ctx context.Context, repo model.Repository, op *model.SyncOperation) error

// runLocked runs step while the lock is held. Whatever happens in step,
// including a panic, the operation is recorded and the lock is released on a
// fresh context.
func (o *Orchestrator) runLocked(ctx context.Context, repo model.Repository, trigger model.SyncTrigger, step lockedStep) (op model.SyncOperation, err error) {
	op = model.SyncOperation{
		RepoID:      repo.ID,
		UserID:      repo.UserID,
		Trigger:     trigger,
		StartCursor: repo.Cursor,
		EndCursor:   repo.Cursor,
		StartedAt:   o.now().UTC(),
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync panicked: %v", r)
			slog.Error("sync panicked", "repo", repo.FullName, "panic", r)
		}

		var budgetErr *BudgetExceededError
		switch {
		case err != nil && errors.As(err, &budgetErr):
			op.Outcome = model.SyncOutcomePartial
			op.Errors = append(op.Errors, err.Error())
		case err != nil:
			op.Outcome = model.SyncOutcomeError
			op.Errors = append(op.Errors, err.Error())
		case len(op.Errors) > 0 || op.BudgetExceeded:
			op.Outcome = model.SyncOutcomePartial
		default:
			op.Outcome = model.SyncOutcomeSuccess
		}

		o.finish(repo, &op)
	}()

	err = step(ctx, repo, &op)
	return op, err
}

// finish persists the operation and releases the lock. It must not depend on
// the run's context, which may already be cancelled.
func (o *Orchestrator) finish(repo model.Repository, op *model.SyncOperation) {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	op.FinishedAt = o.now().UTC()

	id, err := o.operations.Record(ctx, *op)
	if err != nil {
		slog.Error("recording sync operation", "repo", repo.FullName, "error", err)
	}
	op.ID = id

	if err := o.lock.ReleaseSync(ctx, repo.ID); err != nil {
		slog.Error("releasing sync lock", "repo", repo.FullName, "error", err)
	}

	syncRuns.WithLabelValues(string(op.Trigger), string(op.Outcome)).Inc()
	syncDuration.Observe(op.FinishedAt.Sub(op.StartedAt).Seconds())

	slog.Info("sync finished",
		"repo", repo.FullName,
		"trigger", op.Trigger,
		"outcome", op.Outcome,
		"fetched", op.Counts.Fetched,
		"sieved_in", op.Counts.SievedIn,
		"candidates_created", op.Counts.CandidatesCreated,
		"extracted", op.Counts.Extracted,
		"errors", len(op.Errors),
		"duration", op.FinishedAt.Sub(op.StartedAt).Round(time.Millisecond),
	)
}

func (o *Orchestrator) release(repoID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()
	if err := o.lock.ReleaseSync(ctx, repoID); err != nil {
		slog.Error("releasing sync lock", "repo_id", repoID, "error", err)
	}
}

// syncPipeline is the body of a full sync: fetch, sieve, then extract.
func (o *Orchestrator) syncPipeline(ctx context.Context, repo model.Repository, op *model.SyncOperation) error {
	token, err := o.credentials.Get(ctx, repo.UserID, GitHubService)
	if err != nil {
		return fmt.Errorf("loading github token for %s: %w", repo.UserID, err)
	}
	client := o.hosts.ForToken(token)

	fetched, err := o.fetcher.Fetch(ctx, client, repo, 0)
	op.Counts.Fetched = fetched.Fetched
	op.Counts.Stored = fetched.Stored
	op.Counts.FetchFailed = len(fetched.Failures)
	for _, f := range fetched.Failures {
		op.Errors = append(op.Errors, "fetch "+f.String())
	}
	if err != nil {
		return fmt.Errorf("fetching %s: %w", repo.FullName, err)
	}
	if fetched.SkippedBacklog {
		op.Errors = append(op.Errors, fmt.Sprintf("fetch truncated after %d pages: unread items after %s were skipped",
			fetched.Pages, fetched.StartCursor))
	}

	if fetched.Advanced {
		if err := o.repos.UpdateCursor(ctx, repo.ID, fetched.EndCursor.String(), fetched.LastMergedAt); err != nil {
			return &driven.StorageError{Op: "update cursor", Err: err}
		}
		op.EndCursor = fetched.EndCursor.String()
	}

	if err := o.sievePending(ctx, repo, op); err != nil {
		return err
	}

	if o.autoExtract && o.extractor != nil {
		return o.extractPending(ctx, repo, op)
	}

	budget, err := o.governor.Check(ctx, repo.ID)
	if err != nil {
		return err
	}
	op.Counts.BudgetRemaining = budget.Remaining
	return nil
}

// sievePending scores every artifact still pending and creates candidates
// for those that pass. An artifact whose candidate could not be stored stays
// pending and is scored again next run.
func (o *Orchestrator) sievePending(ctx context.Context, repo model.Repository, op *model.SyncOperation) error {
	pending, err := o.artifacts.ListByStatus(ctx, repo.ID, model.ProcessingPending, 0)
	if err != nil {
		return &driven.StorageError{Op: "list pending artifacts", Err: err}
	}

	var in, out []int64
	for _, a := range pending {
		result := sieve.Score(a)
		if !result.Passed() {
			out = append(out, a.ID)
			if result.Noise {
				sieveResults.WithLabelValues("noise").Inc()
			} else {
				sieveResults.WithLabelValues("out").Inc()
			}
			continue
		}

		_, created, err := o.candidates.CreateIfAbsent(ctx, model.Candidate{
			RepoID:     repo.ID,
			ArtifactID: a.ID,
			DedupeKey:  a.DedupeKey(),
			SieveScore: result.Total,
			Breakdown:  result.Breakdown,
			Status:     model.CandidatePending,
		})
		if err != nil {
			op.Errors = append(op.Errors, fmt.Sprintf("create candidate for %s: %v", a.DedupeKey(), err))
			continue
		}
		if created {
			op.Counts.CandidatesCreated++
		}
		in = append(in, a.ID)
		sieveResults.WithLabelValues("in").Inc()
	}

	if err := o.artifacts.UpdateStatus(ctx, in, model.ProcessingSievedIn); err != nil {
		return &driven.StorageError{Op: "mark artifacts sieved_in", Err: err}
	}
	if err := o.artifacts.UpdateStatus(ctx, out, model.ProcessingSievedOut); err != nil {
		return &driven.StorageError{Op: "mark artifacts sieved_out", Err: err}
	}

	op.Counts.SievedIn = len(in)
	op.Counts.SievedOut = len(out)
	return nil
}

// extractPending drains pending candidates in batches while the budget
// allows. Exhaustion ends the loop without failing the run.
func (o *Orchestrator) extractPending(ctx context.Context, repo model.Repository, op *model.SyncOperation) error {
	for ctx.Err() == nil {
		pending, err := o.candidates.ListPending(ctx, repo.ID, ExtractionBatchSize)
		if err != nil {
			return &driven.StorageError{Op: "list pending candidates", Err: err}
		}
		if len(pending) == 0 {
			break
		}

		budget, err := o.governor.Check(ctx, repo.ID)
		if err != nil {
			return err
		}
		if !budget.Allowed {
			o.noteBudgetExceeded(repo, op, budget)
			break
		}

		if err := o.extractBatch(ctx, repo, pending, op); err != nil {
			return err
		}
	}

	budget, err := o.governor.Check(ctx, repo.ID)
	if err != nil {
		return err
	}
	op.Counts.BudgetRemaining = budget.Remaining
	return nil
}

// extractBatch charges one call to the budget and extracts the candidates.
// Extraction failures are recorded on the operation; storage failures end
// the run.
func (o *Orchestrator) extractBatch(ctx context.Context, repo model.Repository, candidates []model.Candidate, op *model.SyncOperation) error {
	err := o.runBatch(ctx, repo, candidates, op)
	var extErr *ExtractionError
	if errors.As(err, &extErr) {
		op.Errors = append(op.Errors, err.Error())
		return nil
	}
	return err
}

func (o *Orchestrator) runBatch(ctx context.Context, repo model.Repository, candidates []model.Candidate, op *model.SyncOperation) error {
	items := make([]ExtractionItem, 0, len(candidates))
	for _, c := range candidates {
		a, err := o.artifacts.GetByID(ctx, c.ArtifactID)
		if err != nil {
			return &driven.StorageError{Op: "read artifact", Err: err}
		}
		if a == nil {
			return &driven.StorageError{Op: "read artifact", Err: fmt.Errorf("artifact %d for candidate %d missing", c.ArtifactID, c.ID)}
		}
		items = append(items, ExtractionItem{Candidate: c, Artifact: *a})
	}

	if err := o.governor.Increment(ctx, repo.ID, 1); err != nil {
		return err
	}

	outcome, err := o.extractor.ExtractBatch(ctx, repo, items)
	op.Counts.Extracted += outcome.Extracted
	op.Counts.ExtractionFailed += outcome.Failed
	return err
}

func (o *Orchestrator) approveLocked(ctx context.Context, repo model.Repository, candidateID int64, op *model.SyncOperation) error {
	// Re-read under the lock: a sync may have extracted it meanwhile.
	c, err := o.candidates.GetByID(ctx, candidateID)
	if err != nil {
		return fmt.Errorf("reading candidate %d: %w", candidateID, err)
	}
	if c == nil {
		return driven.ErrCandidateNotFound
	}
	switch c.Status {
	case model.CandidateExtracted:
		return nil
	case model.CandidateDismissed:
		return errDismissedApproval()
	}

	budget, err := o.governor.Check(ctx, repo.ID)
	if err != nil {
		return err
	}
	if !budget.Allowed {
		o.noteBudgetExceeded(repo, op, budget)
		return budget.Exceeded(repo.ID)
	}

	op.Counts.BudgetRemaining = max(budget.Remaining-1, 0)
	return o.runBatch(ctx, repo, []model.Candidate{*c}, op)
}

func errDismissedApproval() error {
	return &driven.ValidationError{Field: "candidate", Reason: "dismissed candidates cannot be approved"}
}

func (o *Orchestrator) noteBudgetExceeded(repo model.Repository, op *model.SyncOperation, budget Budget) {
	op.BudgetExceeded = true
	op.BudgetResetAt = budget.ResetAt
	op.Counts.BudgetRemaining = 0
	budgetExhausted.Inc()
	slog.Info("extraction budget exhausted", "repo", repo.FullName, "reset_at", budget.ResetAt)
}

func (o *Orchestrator) decisionFor(ctx context.Context, candidateID int64) (*model.Decision, error) {
	d, err := o.decisions.GetByCandidate(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("reading decision for candidate %d: %w", candidateID, err)
	}
	return d, nil
}
