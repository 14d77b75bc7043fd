// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared by store implementations.
var (
	// ErrRepoNotFound indicates the requested repository does not exist.
	ErrRepoNotFound = errors.New("repository not found")

	// ErrRepoAlreadyExists indicates a repository with the same name already exists.
	ErrRepoAlreadyExists = errors.New("repository already exists")

	// ErrCandidateNotFound indicates the requested candidate does not exist.
	ErrCandidateNotFound = errors.New("candidate not found")

	// ErrNoCredential indicates the user has no stored credential for a service.
	ErrNoCredential = errors.New("no credential stored")
)

// ValidationError reports caller input or provider output that violates a
// structural rule. Field names the offending input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// AccessRevokedError means the host rejected the credential (401, or 403
// without rate limit exhaustion). The user must re-authorize.
type AccessRevokedError struct {
	Resource string
	Err      error
}

func (e *AccessRevokedError) Error() string {
	return fmt.Sprintf("access revoked for %s: %v", e.Resource, e.Err)
}

func (e *AccessRevokedError) Unwrap() error { return e.Err }

// NotFoundError means the host has no such resource, or hides it from the caller.
type NotFoundError struct {
	Resource string
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %v", e.Resource, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// RateLimitedError means the host throttled the caller. RetryAfter is set
// for secondary limits; ResetAt for primary quota exhaustion. Either may be zero.
type RateLimitedError struct {
	Resource   string
	RetryAfter time.Duration
	ResetAt    time.Time
	Err        error
}

func (e *RateLimitedError) Error() string {
	switch {
	case e.RetryAfter > 0:
		return fmt.Sprintf("rate limited on %s: retry after %s", e.Resource, e.RetryAfter)
	case !e.ResetAt.IsZero():
		return fmt.Sprintf("rate limited on %s: quota resets at %s", e.Resource, e.ResetAt.UTC().Format(time.RFC3339))
	default:
		return fmt.Sprintf("rate limited on %s: %v", e.Resource, e.Err)
	}
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// Wait returns how long a caller should back off before retrying.
func (e *RateLimitedError) Wait(now time.Time) time.Duration {
	if e.RetryAfter > 0 {
		return e.RetryAfter
	}
	if d := e.ResetAt.Sub(now); d > 0 {
		return d
	}
	return time.Minute
}

// StorageError wraps a store failure so callers can tell persistence faults
// apart from host or provider faults.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
