package driven

import (
	"context"
	"errors"
)

// ErrEncryptionKeyNotSet is returned by CredentialStore operations when
// DECISIONLOG_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set DECISIONLOG_SECRET_KEY")

// CredentialStore defines the driven port for the per-user credential vault.
// The adapter layer is responsible for encryption/decryption; this interface
// operates on plaintext values at the domain boundary.
type CredentialStore interface {
	// Set stores or replaces the user's credential for the service.
	// Returns ErrEncryptionKeyNotSet if the adapter has no encryption key.
	Set(ctx context.Context, userID, service, plaintext string) error

	// Get returns the plaintext credential, or ErrNoCredential if none is stored.
	Get(ctx context.Context, userID, service string) (string, error)

	// Delete removes the user's credential for the service.
	Delete(ctx context.Context, userID, service string) error
}
