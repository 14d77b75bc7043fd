package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/decisionlog/internal/domain/model"
	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

// ActivityTier classifies a repository by how recently a pull request was
// merged into it.
type ActivityTier int

const (
	// TierHot indicates a merge within the last day. Syncs every interval.
	TierHot ActivityTier = iota
	// TierActive indicates a merge within the last 7 days. Syncs every 2 intervals.
	TierActive
	// TierWarm indicates a merge within the last 30 days. Syncs every 6 intervals.
	TierWarm
	// TierStale indicates no merge for 30+ days. Syncs every 24 intervals.
	TierStale
)

// DefaultSyncConcurrency bounds how many repositories sync at once.
const DefaultSyncConcurrency = 4

// String returns a human-readable name for the activity tier.
func (t ActivityTier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierActive:
		return "active"
	case TierWarm:
		return "warm"
	case TierStale:
		return "stale"
	default:
		return "unknown"
	}
}

// tierMultiplier returns how many base intervals pass between syncs.
func tierMultiplier(tier ActivityTier) int {
	switch tier {
	case TierHot:
		return 1
	case TierActive:
		return 2
	case TierWarm:
		return 6
	case TierStale:
		return 24
	default:
		return 2
	}
}

// classifyActivity determines the tier from the last merge time. A zero time
// means nothing has been fetched yet and classifies as TierHot so the first
// sync happens promptly.
func classifyActivity(lastMerged, now time.Time) ActivityTier {
	if lastMerged.IsZero() {
		return TierHot
	}

	elapsed := now.Sub(lastMerged)

	switch {
	case elapsed < 24*time.Hour:
		return TierHot
	case elapsed < 7*24*time.Hour:
		return TierActive
	case elapsed < 30*24*time.Hour:
		return TierWarm
	default:
		return TierStale
	}
}

// repoSchedule tracks per-repository scheduling state.
type repoSchedule struct {
	tier       ActivityTier
	nextSyncAt time.Time
	lastSynced time.Time
}

// ScheduleInfo is an exported view of a repo's schedule, used for
// observability and testing.
type ScheduleInfo struct {
	Tier       ActivityTier
	NextSyncAt time.Time
	LastSynced time.Time
}

// SyncRunner runs one sync for a repository.
type SyncRunner interface {
	Sync(ctx context.Context, repoID int64, trigger model.SyncTrigger) (model.SyncOperation, error)
}

// Scheduler periodically syncs every tracked repository, spacing quiet
// repositories out by activity tier.
type Scheduler struct {
	repos       driven.RepoStore
	runner      SyncRunner
	interval    time.Duration
	concurrency int
	now         func() time.Time

	mu        sync.Mutex
	schedules map[int64]*repoSchedule
}

// NewScheduler creates a Scheduler that wakes every interval.
func NewScheduler(repos driven.RepoStore, runner SyncRunner, interval time.Duration, concurrency int) *Scheduler {
	if concurrency <= 0 {
		concurrency = DefaultSyncConcurrency
	}
	return &Scheduler{
		repos:       repos,
		runner:      runner,
		interval:    interval,
		concurrency: concurrency,
		now:         time.Now,
		schedules:   make(map[int64]*repoSchedule),
	}
}

// Start runs an immediate pass and then one pass per interval. It blocks
// until the context is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	if err := s.RunDue(ctx); err != nil {
		slog.Error("initial scheduled sync failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			if err := s.RunDue(ctx); err != nil {
				slog.Error("scheduled sync cycle failed", "error", err)
			}
		}
	}
}

// RunDue syncs every repository whose next sync time has passed. Individual
// sync failures are logged; only listing repositories can fail the pass.
func (s *Scheduler) RunDue(ctx context.Context) error {
	start := s.now()

	repos, err := s.repos.ListAll(ctx)
	if err != nil {
		return err
	}

	s.prune(repos)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	var due int
	for _, repo := range repos {
		if !s.isDue(repo.ID, start) {
			continue
		}
		due++
		g.Go(func() error {
			s.syncOne(gctx, repo)
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("scheduled sync cycle complete",
		"repos", len(repos),
		"due", due,
		"duration", s.now().Sub(start).Round(time.Millisecond),
	)

	return ctx.Err()
}

// Schedule returns the schedule for a repository, if it has synced.
func (s *Scheduler) Schedule(repoID int64) (ScheduleInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[repoID]
	if !ok {
		return ScheduleInfo{}, false
	}
	return ScheduleInfo{
		Tier:       sched.tier,
		NextSyncAt: sched.nextSyncAt,
		LastSynced: sched.lastSynced,
	}, true
}

func (s *Scheduler) syncOne(ctx context.Context, repo model.Repository) {
	op, err := s.runner.Sync(ctx, repo.ID, model.TriggerScheduled)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		slog.Debug("scheduled sync skipped, already running", "repo", repo.FullName)
		return
	case err != nil:
		slog.Error("scheduled sync failed", "repo", repo.FullName, "outcome", op.Outcome, "error", err)
	}

	// The run may have moved LastMergedAt; re-read for classification.
	lastMerged := repo.LastMergedAt
	if fresh, readErr := s.repos.GetByID(ctx, repo.ID); readErr == nil && fresh != nil {
		lastMerged = fresh.LastMergedAt
	}

	s.reschedule(repo.ID, lastMerged)
}

func (s *Scheduler) isDue(repoID int64, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[repoID]
	return !ok || !now.Before(sched.nextSyncAt)
}

func (s *Scheduler) reschedule(repoID int64, lastMerged time.Time) {
	now := s.now()
	tier := classifyActivity(lastMerged, now)

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.schedules[repoID]
	s.schedules[repoID] = &repoSchedule{
		tier:       tier,
		nextSyncAt: now.Add(time.Duration(tierMultiplier(tier)) * s.interval),
		lastSynced: now,
	}

	if existed && prev.tier != tier {
		slog.Info("repo activity tier changed", "repo_id", repoID, "from", prev.tier, "to", tier)
	}
}

// prune drops schedules for repositories that are no longer tracked.
func (s *Scheduler) prune(repos []model.Repository) {
	live := make(map[int64]bool, len(repos))
	for _, r := range repos {
		live[r.ID] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.schedules {
		if !live[id] {
			delete(s.schedules, id)
		}
	}
}
