package application_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ericfisherdev/decisionlog/internal/domain/model"
	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

// --- In-memory stores ---

type memRepos struct {
	mu    sync.Mutex
	repos map[int64]*model.Repository
	next  int64

	acquireHook func() // Runs inside TryAcquireSync after the lock is taken.
}

func newMemRepos(repos ...model.Repository) *memRepos {
	m := &memRepos{repos: make(map[int64]*model.Repository)}
	for _, r := range repos {
		r := r
		if r.SyncStatus == "" {
			r.SyncStatus = model.SyncStatusIdle
		}
		m.repos[r.ID] = &r
		m.next = max(m.next, r.ID)
	}
	return m
}

func (m *memRepos) Add(_ context.Context, repo model.Repository) (model.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.repos {
		if r.FullName == repo.FullName {
			return model.Repository{}, driven.ErrRepoAlreadyExists
		}
	}
	m.next++
	repo.ID = m.next
	m.repos[repo.ID] = &repo
	return repo, nil
}

func (m *memRepos) Remove(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.repos[id]; !ok {
		return driven.ErrRepoNotFound
	}
	delete(m.repos, id)
	return nil
}

func (m *memRepos) GetByID(_ context.Context, id int64) (*model.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memRepos) GetByFullName(_ context.Context, fullName string) (*model.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.repos {
		if r.FullName == fullName {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRepos) ListAll(_ context.Context) ([]model.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Repository, 0, len(m.repos))
	for _, r := range m.repos {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepos) UpdateCursor(_ context.Context, id int64, cursor string, lastMergedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[id]
	if !ok {
		return driven.ErrRepoNotFound
	}
	r.Cursor = cursor
	if lastMergedAt.After(r.LastMergedAt) {
		r.LastMergedAt = lastMergedAt
	}
	return nil
}

func (m *memRepos) TryAcquireSync(_ context.Context, id int64, now time.Time) (bool, error) {
	m.mu.Lock()
	r, ok := m.repos[id]
	if !ok {
		m.mu.Unlock()
		return false, driven.ErrRepoNotFound
	}
	if r.SyncStatus != model.SyncStatusIdle {
		m.mu.Unlock()
		return false, nil
	}
	r.SyncStatus = model.SyncStatusSyncing
	r.SyncStartedAt = now
	hook := m.acquireHook
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return true, nil
}

func (m *memRepos) ReleaseSync(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.repos[id]; ok {
		r.SyncStatus = model.SyncStatusIdle
		r.SyncStartedAt = time.Time{}
	}
	return nil
}

func (m *memRepos) ReleaseStaleSyncs(_ context.Context, startedBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.repos {
		if r.SyncStatus == model.SyncStatusSyncing && r.SyncStartedAt.Before(startedBefore) {
			r.SyncStatus = model.SyncStatusIdle
			r.SyncStartedAt = time.Time{}
			n++
		}
	}
	return n, nil
}

func (m *memRepos) ResetBudgetIfDue(_ context.Context, id int64, now, nextReset time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[id]
	if !ok {
		return driven.ErrRepoNotFound
	}
	if r.ExtractionsResetAt.IsZero() || !now.Before(r.ExtractionsResetAt) {
		r.ExtractionsToday = 0
		r.ExtractionsResetAt = nextReset
	}
	return nil
}

func (m *memRepos) GetBudget(_ context.Context, id int64) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[id]
	if !ok {
		return 0, time.Time{}, driven.ErrRepoNotFound
	}
	return r.ExtractionsToday, r.ExtractionsResetAt, nil
}

func (m *memRepos) IncrementExtractions(_ context.Context, id int64, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[id]
	if !ok {
		return driven.ErrRepoNotFound
	}
	r.ExtractionsToday += n
	return nil
}

func (m *memRepos) get(id int64) model.Repository {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.repos[id]
}

type memArtifacts struct {
	mu        sync.Mutex
	artifacts map[int64]*model.Artifact
	next      int64

	upsertErr func(a model.Artifact) error
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{artifacts: make(map[int64]*model.Artifact)}
}

func (m *memArtifacts) Upsert(_ context.Context, a model.Artifact) (int64, error) {
	if m.upsertErr != nil {
		if err := m.upsertErr(a); err != nil {
			return 0, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.artifacts {
		if existing.RepoID == a.RepoID && existing.ExternalID == a.ExternalID && existing.Type == a.Type {
			status := existing.ProcessingStatus
			a.ID = id
			if status.Rank() > a.ProcessingStatus.Rank() {
				a.ProcessingStatus = status
			}
			m.artifacts[id] = &a
			return id, nil
		}
	}
	m.next++
	a.ID = m.next
	m.artifacts[a.ID] = &a
	return a.ID, nil
}

func (m *memArtifacts) GetByID(_ context.Context, id int64) (*model.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memArtifacts) ListByStatus(_ context.Context, repoID int64, status model.ProcessingStatus, limit int) ([]model.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Artifact
	for _, a := range m.artifacts {
		if a.RepoID == repoID && a.ProcessingStatus == status {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memArtifacts) UpdateStatus(_ context.Context, ids []int64, status model.ProcessingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if a, ok := m.artifacts[id]; ok {
			a.ProcessingStatus = status
		}
	}
	return nil
}

func (m *memArtifacts) all() []model.Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Artifact, 0, len(m.artifacts))
	for _, a := range m.artifacts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memCandidates struct {
	mu         sync.Mutex
	candidates map[int64]*model.Candidate
	next       int64
}

func newMemCandidates() *memCandidates {
	return &memCandidates{candidates: make(map[int64]*model.Candidate)}
}

func (m *memCandidates) CreateIfAbsent(_ context.Context, c model.Candidate) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.candidates {
		if existing.DedupeKey == c.DedupeKey {
			return id, false, nil
		}
	}
	m.next++
	c.ID = m.next
	m.candidates[c.ID] = &c
	return c.ID, true, nil
}

func (m *memCandidates) GetByID(_ context.Context, id int64) (*model.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memCandidates) ListByRepo(_ context.Context, repoID int64, status model.CandidateStatus) ([]model.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Candidate
	for _, c := range m.candidates {
		if c.RepoID == repoID && (status == "" || c.Status == status) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memCandidates) ListPending(ctx context.Context, repoID int64, limit int) ([]model.Candidate, error) {
	out, _ := m.ListByRepo(ctx, repoID, model.CandidatePending)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memCandidates) MarkExtracted(_ context.Context, ids []int64) error {
	return m.set(ids, model.CandidateExtracted, "")
}

func (m *memCandidates) MarkFailed(_ context.Context, ids []int64, errText string) error {
	return m.set(ids, model.CandidateFailed, errText)
}

func (m *memCandidates) set(ids []int64, status model.CandidateStatus, errText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if c, ok := m.candidates[id]; ok {
			c.Status = status
			c.Error = errText
		}
	}
	return nil
}

func (m *memCandidates) Dismiss(_ context.Context, id int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[id]
	if !ok {
		return fmt.Errorf("dismiss candidate %d: %w", id, driven.ErrCandidateNotFound)
	}
	c.Status = model.CandidateDismissed
	c.DismissReason = reason
	return nil
}

func (m *memCandidates) get(id int64) model.Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.candidates[id]
}

// add stores an artifact and a pending candidate for it.
func (m *memCandidates) add(artifacts *memArtifacts, a model.Artifact) (model.Candidate, model.Artifact) {
	a.ProcessingStatus = model.ProcessingSievedIn
	id, _ := artifacts.Upsert(context.Background(), a)
	a.ID = id
	cid, _, _ := m.CreateIfAbsent(context.Background(), model.Candidate{
		RepoID:     a.RepoID,
		ArtifactID: a.ID,
		DedupeKey:  a.DedupeKey(),
		SieveScore: 0.8,
		Status:     model.CandidatePending,
	})
	return m.get(cid), a
}

type memDecisions struct {
	mu        sync.Mutex
	decisions map[int64]*model.Decision // Keyed by candidate.
	next      int64
}

func newMemDecisions() *memDecisions {
	return &memDecisions{decisions: make(map[int64]*model.Decision)}
}

func (m *memDecisions) CreateIfAbsent(_ context.Context, d model.Decision) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.decisions[d.CandidateID]; ok {
		return false, nil
	}
	m.next++
	d.ID = m.next
	m.decisions[d.CandidateID] = &d
	return true, nil
}

func (m *memDecisions) GetByCandidate(_ context.Context, candidateID int64) (*model.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decisions[candidateID]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (m *memDecisions) ListByRepo(_ context.Context, repoID int64) ([]model.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Decision
	for _, d := range m.decisions {
		if d.RepoID == repoID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memDecisions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.decisions)
}

type memCosts struct {
	mu    sync.Mutex
	costs []model.ExtractionCost
}

func (m *memCosts) Record(_ context.Context, cost model.ExtractionCost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.costs = append(m.costs, cost)
	return nil
}

func (m *memCosts) ListByRepo(_ context.Context, repoID int64) ([]model.ExtractionCost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ExtractionCost
	for _, c := range m.costs {
		if c.RepoID == repoID {
			out = append(out, c)
		}
	}
	return out, nil
}

type memOps struct {
	mu  sync.Mutex
	ops []model.SyncOperation
}

func (m *memOps) Record(_ context.Context, op model.SyncOperation) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op.ID = int64(len(m.ops) + 1)
	m.ops = append(m.ops, op)
	return op.ID, nil
}

func (m *memOps) Latest(_ context.Context, repoID int64) (*model.SyncOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.ops) - 1; i >= 0; i-- {
		if m.ops[i].RepoID == repoID {
			op := m.ops[i]
			return &op, nil
		}
	}
	return nil, nil
}

func (m *memOps) ListByRepo(_ context.Context, repoID int64, limit int) ([]model.SyncOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SyncOperation
	for i := len(m.ops) - 1; i >= 0; i-- {
		if m.ops[i].RepoID == repoID {
			out = append(out, m.ops[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memOps) all() []model.SyncOperation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.SyncOperation(nil), m.ops...)
}

type memCreds struct {
	mu    sync.Mutex
	creds map[string]string
}

func newMemCreds() *memCreds {
	return &memCreds{creds: make(map[string]string)}
}

func (m *memCreds) Set(_ context.Context, userID, service, plaintext string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[userID+"/"+service] = plaintext
	return nil
}

func (m *memCreds) Get(_ context.Context, userID, service string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.creds[userID+"/"+service]
	if !ok {
		return "", driven.ErrNoCredential
	}
	return v, nil
}

func (m *memCreds) Delete(_ context.Context, userID, service string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, userID+"/"+service)
	return nil
}

// --- Host and provider mocks ---

type mockHostClient struct {
	mu     sync.Mutex
	pages  map[int]driven.PullRequestPage
	detail map[int]*driven.PullRequestDetail
	files  map[int][]driven.ChangedFile

	listErr   error
	detailErr func(number int) error
	onList    func(page int)

	listCalls   int
	detailCalls int
}

func (m *mockHostClient) ListClosedPullRequests(_ context.Context, _ string, page int) (driven.PullRequestPage, error) {
	m.mu.Lock()
	m.listCalls++
	onList := m.onList
	m.mu.Unlock()

	if onList != nil {
		onList(page)
	}
	if m.listErr != nil {
		return driven.PullRequestPage{}, m.listErr
	}
	return m.pages[page], nil
}

func (m *mockHostClient) FetchPullRequestDetail(_ context.Context, _ string, number int) (*driven.PullRequestDetail, error) {
	m.mu.Lock()
	m.detailCalls++
	m.mu.Unlock()

	if m.detailErr != nil {
		if err := m.detailErr(number); err != nil {
			return nil, err
		}
	}
	if d, ok := m.detail[number]; ok {
		return d, nil
	}
	return &driven.PullRequestDetail{}, nil
}

func (m *mockHostClient) FetchPullRequestFiles(_ context.Context, _ string, number int) ([]driven.ChangedFile, error) {
	return m.files[number], nil
}

func (m *mockHostClient) AuthenticatedUser(_ context.Context) (string, error) {
	return "octocat", nil
}

type mockHostFactory struct {
	client driven.HostClient
	tokens []string
}

func (f *mockHostFactory) ForToken(token string) driven.HostClient {
	f.tokens = append(f.tokens, token)
	return f.client
}

type mockProvider struct {
	name     string
	model    string
	complete func(ctx context.Context, p driven.Prompt) (driven.Completion, error)
	calls    atomic.Int32
}

func (m *mockProvider) Name() string  { return m.name }
func (m *mockProvider) Model() string { return m.model }

func (m *mockProvider) Complete(ctx context.Context, p driven.Prompt) (driven.Completion, error) {
	m.calls.Add(1)
	return m.complete(ctx, p)
}

// --- Fixtures ---

func mergedPR(repoID int64, number int, title string, mergedAt time.Time) model.Artifact {
	return model.Artifact{
		RepoID:     repoID,
		ExternalID: fmt.Sprintf("%d", number),
		Type:       model.ArtifactTypePR,
		Number:     number,
		Title:      title,
		Author:     "alice",
		URL:        fmt.Sprintf("https://github.com/acme/api/pull/%d", number),
		CreatedAt:  mergedAt.Add(-time.Hour),
		UpdatedAt:  mergedAt,
		MergedAt:   mergedAt,
	}
}

// decisionsJSON renders a valid provider response for the given refs.
func decisionsJSON(refs ...int64) string {
	out := `{"decisions":[`
	for i, ref := range refs {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"ref":%d,"title":"Adopt event sourcing %d","context":"Orders needed an audit trail.","decision":"Store order events.","reasoning":"Replays rebuild state.","consequences":"More storage.","alternatives":["CDC"],"tags":["Architecture","storage"],"significance":0.8}`, ref, ref)
	}
	return out + `]}`
}
