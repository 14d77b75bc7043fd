package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

// CredentialService manages per-user host tokens in the vault.
type CredentialService struct {
	store    driven.CredentialStore
	factory  driven.HostClientFactory
	provider *HostClientProvider
}

// NewCredentialService creates a CredentialService. Tokens are validated
// with clients from factory; provider, if set, has stale clients evicted
// when a token changes.
func NewCredentialService(store driven.CredentialStore, factory driven.HostClientFactory, provider *HostClientProvider) *CredentialService {
	return &CredentialService{
		store:    store,
		factory:  factory,
		provider: provider,
	}
}

// SetGitHubToken validates token against the host and stores it for the
// user. It returns the login the token authenticates as.
func (s *CredentialService) SetGitHubToken(ctx context.Context, userID, token string) (string, error) {
	userID = strings.TrimSpace(userID)
	token = strings.TrimSpace(token)
	if userID == "" {
		return "", &driven.ValidationError{Field: "user", Reason: "required"}
	}
	if token == "" {
		return "", &driven.ValidationError{Field: "token", Reason: "required"}
	}

	login, err := s.factory.ForToken(token).AuthenticatedUser(ctx)
	if err != nil {
		return "", fmt.Errorf("validating github token: %w", err)
	}

	previous, err := s.store.Get(ctx, userID, GitHubService)
	if err != nil && !errors.Is(err, driven.ErrNoCredential) {
		return "", fmt.Errorf("reading current github token: %w", err)
	}

	if err := s.store.Set(ctx, userID, GitHubService, token); err != nil {
		return "", fmt.Errorf("storing github token: %w", err)
	}

	if previous != "" && previous != token && s.provider != nil {
		s.provider.Forget(previous)
	}

	slog.Info("github token stored", "user", userID, "login", login)
	return login, nil
}

// DeleteGitHubToken removes the user's token from the vault.
func (s *CredentialService) DeleteGitHubToken(ctx context.Context, userID string) error {
	previous, err := s.store.Get(ctx, userID, GitHubService)
	if err != nil {
		return fmt.Errorf("reading current github token: %w", err)
	}
	if err := s.store.Delete(ctx, userID, GitHubService); err != nil {
		return fmt.Errorf("deleting github token: %w", err)
	}
	if s.provider != nil {
		s.provider.Forget(previous)
	}
	return nil
}
