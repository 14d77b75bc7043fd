package model

// ArtifactType identifies the kind of repository artifact an Artifact holds.
type ArtifactType string

const (
	ArtifactTypePR     ArtifactType = "pr"
	ArtifactTypeCommit ArtifactType = "commit"
)

// ProcessingStatus tracks how far an Artifact has moved through the pipeline.
// Transitions only move forward; see ProcessingStatus.Rank.
type ProcessingStatus string

const (
	ProcessingPending       ProcessingStatus = "pending"
	ProcessingSievedIn      ProcessingStatus = "sieved_in"
	ProcessingSievedOut     ProcessingStatus = "sieved_out"
	ProcessingExtracted     ProcessingStatus = "extracted"
	ProcessingExtractFailed ProcessingStatus = "extract_failed"
)

// Rank orders processing statuses so stores can refuse regressions.
// Pending is the only rank-0 status; terminal statuses share the top rank
// because a failed extraction may later succeed on re-approval.
func (s ProcessingStatus) Rank() int {
	switch s {
	case ProcessingPending:
		return 0
	case ProcessingSievedIn, ProcessingSievedOut:
		return 1
	case ProcessingExtracted, ProcessingExtractFailed:
		return 2
	default:
		return -1
	}
}

// SyncStatus is the per-repository lock state.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
)

// CandidateStatus represents the extraction outcome of a Candidate.
type CandidateStatus string

const (
	CandidatePending   CandidateStatus = "pending"
	CandidateExtracted CandidateStatus = "extracted"
	CandidateDismissed CandidateStatus = "dismissed"
	CandidateFailed    CandidateStatus = "failed"
)

// Valid reports whether s is one of the known candidate statuses.
func (s CandidateStatus) Valid() bool {
	switch s {
	case CandidatePending, CandidateExtracted, CandidateDismissed, CandidateFailed:
		return true
	}
	return false
}

// SyncOutcome is the terminal status recorded on a SyncOperation.
type SyncOutcome string

const (
	SyncOutcomeSuccess SyncOutcome = "success"
	SyncOutcomePartial SyncOutcome = "partial"
	SyncOutcomeError   SyncOutcome = "error"
)

// SyncTrigger records what started a locked run.
type SyncTrigger string

const (
	TriggerManual    SyncTrigger = "manual"
	TriggerScheduled SyncTrigger = "scheduled"
	TriggerApproval  SyncTrigger = "approval"
)
