package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/decisionlog/internal/domain/model"
	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

// RepoService manages the set of tracked repositories.
type RepoService struct {
	repos driven.RepoStore
	now   func() time.Time
}

// NewRepoService creates a RepoService.
func NewRepoService(repos driven.RepoStore) *RepoService {
	return &RepoService{repos: repos, now: time.Now}
}

// Add starts tracking fullName ("owner/repo") on behalf of userID, whose
// vault token is used for fetching and whose budget is charged.
func (s *RepoService) Add(ctx context.Context, fullName, userID string) (model.Repository, error) {
	fullName = strings.TrimSpace(fullName)
	if !IsValidRepoName(fullName) {
		return model.Repository{}, &driven.ValidationError{Field: "full_name", Reason: "expected owner/repo format"}
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return model.Repository{}, &driven.ValidationError{Field: "user_id", Reason: "required"}
	}

	owner, name, _ := strings.Cut(fullName, "/")
	return s.repos.Add(ctx, model.Repository{
		FullName:   fullName,
		Owner:      owner,
		Name:       name,
		UserID:     userID,
		AddedAt:    s.now().UTC(),
		SyncStatus: model.SyncStatusIdle,
	})
}

// Remove stops tracking a repository and deletes its mined data.
func (s *RepoService) Remove(ctx context.Context, id int64) error {
	if err := s.repos.Remove(ctx, id); err != nil {
		return fmt.Errorf("removing repo %d: %w", id, err)
	}
	return nil
}

// List returns every tracked repository.
func (s *RepoService) List(ctx context.Context) ([]model.Repository, error) {
	return s.repos.ListAll(ctx)
}

// Get returns one repository or driven.ErrRepoNotFound.
func (s *RepoService) Get(ctx context.Context, id int64) (*model.Repository, error) {
	repo, err := s.repos.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading repo %d: %w", id, err)
	}
	if repo == nil {
		return nil, driven.ErrRepoNotFound
	}
	return repo, nil
}

// IsValidRepoName reports whether name is in owner/repo format where each
// part contains only alphanumeric characters, hyphens, dots, or underscores.
func IsValidRepoName(name string) bool {
	parts := strings.SplitN(name, "/", 3)
	if len(parts) != 2 {
		return false
	}

	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return false
		}
		for _, ch := range part {
			if !isValidRepoChar(ch) {
				return false
			}
		}
	}

	return true
}

func isValidRepoChar(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') ||
		(ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9') ||
		ch == '-' || ch == '.' || ch == '_'
}
