// Package github implements the HostClient port using the go-github library.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit/github_secondary_ratelimit"

	"github.com/ericfisherdev/decisionlog/internal/domain/model"
	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.HostClient = (*Client)(nil)

const perPage = 100

// Client implements the driven.HostClient port using the go-github library.
type Client struct {
	gh *gh.Client
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (primary and secondary limit detection; never sleeps
//     or retries, so limits surface as driven.RateLimitedError)
//  3. go-github (GitHub REST API client with PAT auth)
//
// An empty baseURL targets api.github.com; otherwise it names a GitHub
// Enterprise API root such as "https://ghe.example.com/api/v3/".
func NewClient(token, baseURL string) (*Client, error) {
	var base *url.URL
	if baseURL != "" {
		u, err := parseBaseURL(baseURL)
		if err != nil {
			return nil, err
		}
		base = u
	}
	return newClient(token, base), nil
}

func newClient(token string, base *url.URL) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport,
		github_secondary_ratelimit.WithSingleSleepLimit(0, logSecondaryLimit),
	)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)
	if base != nil {
		client.BaseURL = base
	}
	return &Client{gh: client}
}

// logSecondaryLimit records a secondary limit the transport declined to wait
// out. The response still reaches go-github and is classified by the caller.
func logSecondaryLimit(cb *github_secondary_ratelimit.CallbackContext) {
	attrs := []any{}
	if cb.Request != nil {
		attrs = append(attrs, "url", cb.Request.URL.Path)
	}
	if cb.ResetTime != nil {
		attrs = append(attrs, "retry_at", cb.ResetTime.UTC())
	}
	slog.Warn("github secondary rate limit", attrs...)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, token string) (*Client, error) {
	client := gh.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}

	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	client.BaseURL = u

	return &Client{gh: client}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	return u, nil
}

// ListClosedPullRequests returns one page of closed pull requests, most
// recently updated first.
func (c *Client) ListClosedPullRequests(ctx context.Context, repoFullName string, page int) (driven.PullRequestPage, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return driven.PullRequestPage{}, err
	}

	opts := &gh.PullRequestListOptions{
		State:     "closed",
		Sort:      "updated",
		Direction: "desc",
		ListOptions: gh.ListOptions{
			Page:    page,
			PerPage: perPage,
		},
	}

	prs, resp, err := c.gh.PullRequests.List(ctx, owner, repo, opts)
	if err != nil {
		return driven.PullRequestPage{}, classifyError(repoFullName, fmt.Errorf("listing pull requests for %s (page %d): %w", repoFullName, page, err))
	}

	logRateLimit(resp, repoFullName, page, len(prs))

	items := make([]model.Artifact, 0, len(prs))
	for _, pr := range prs {
		items = append(items, mapPullRequest(pr))
	}

	return driven.PullRequestPage{Items: items, NextPage: resp.NextPage}, nil
}

// FetchPullRequestDetail returns the body and uncapped diff stats for a single PR.
func (c *Client) FetchPullRequestDetail(ctx context.Context, repoFullName string, number int) (*driven.PullRequestDetail, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	resource := fmt.Sprintf("%s#%d", repoFullName, number)
	pr, resp, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, classifyError(resource, fmt.Errorf("fetching PR detail for %s: %w", resource, err))
	}

	logRateLimit(resp, repoFullName+"/pr-detail", 0, 1)

	return &driven.PullRequestDetail{
		Body:         pr.GetBody(),
		Additions:    pr.GetAdditions(),
		Deletions:    pr.GetDeletions(),
		ChangedFiles: pr.GetChangedFiles(),
	}, nil
}

// FetchPullRequestFiles retrieves the changed files of a pull request,
// stopping after driven.MaxFilePages pages.
func (c *Client) FetchPullRequestFiles(ctx context.Context, repoFullName string, number int) ([]driven.ChangedFile, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	resource := fmt.Sprintf("%s#%d", repoFullName, number)
	opts := &gh.ListOptions{PerPage: perPage}
	var all []driven.ChangedFile

	for pages := 0; pages < driven.MaxFilePages; pages++ {
		files, resp, err := c.gh.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, classifyError(resource, fmt.Errorf("listing files for %s (page %d): %w", resource, opts.Page, err))
		}

		logRateLimit(resp, repoFullName+"/pr-files", opts.Page, len(files))

		for _, f := range files {
			all = append(all, driven.ChangedFile{
				Path:         f.GetFilename(),
				PreviousPath: f.GetPreviousFilename(),
				Status:       f.GetStatus(),
				Additions:    f.GetAdditions(),
				Deletions:    f.GetDeletions(),
				Patch:        f.GetPatch(),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// AuthenticatedUser returns the login of the token owner.
func (c *Client) AuthenticatedUser(ctx context.Context) (string, error) {
	user, resp, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return "", classifyError("user", fmt.Errorf("fetching authenticated user: %w", err))
	}

	logRateLimit(resp, "user", 0, 1)

	return user.GetLogin(), nil
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// mapPullRequest converts a go-github PullRequest to a domain Artifact.
// It uses GetXxx() helper methods exclusively to avoid nil pointer panics.
// Change counts are absent from list responses and are filled in from the
// detail call.
func mapPullRequest(pr *gh.PullRequest) model.Artifact {
	labels := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, l.GetName())
	}

	return model.Artifact{
		ExternalID:       strconv.Itoa(pr.GetNumber()),
		Type:             model.ArtifactTypePR,
		Number:           pr.GetNumber(),
		Title:            pr.GetTitle(),
		Body:             pr.GetBody(),
		Author:           pr.GetUser().GetLogin(),
		URL:              pr.GetHTMLURL(),
		BaseBranch:       pr.GetBase().GetRef(),
		Labels:           labels,
		CreatedAt:        pr.GetCreatedAt().Time,
		UpdatedAt:        pr.GetUpdatedAt().Time,
		MergedAt:         pr.GetMergedAt().Time,
		ProcessingStatus: model.ProcessingPending,
	}
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &driven.ValidationError{Field: "repository", Reason: fmt.Sprintf("invalid repo name %q: expected owner/repo", fullName)}
	}
	return parts[0], parts[1], nil
}
