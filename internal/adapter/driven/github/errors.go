package github

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit/github_primary_ratelimit"
	gh "github.com/google/go-github/v82/github"

	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

// classifyError maps a go-github failure onto the typed port errors. Quota
// exhaustion, revoked access and missing resources are kept apart because
// callers react to each differently. Unrecognized errors pass through.
func classifyError(resource string, err error) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return &driven.RateLimitedError{Resource: resource, ResetAt: rateErr.Rate.Reset.Time, Err: err}
	}

	// The transport short-circuits primary exhaustion before go-github sees
	// the response, and keeps refusing requests until the reset.
	var reachedErr *github_primary_ratelimit.RateLimitReachedError
	if errors.As(err, &reachedErr) {
		var reset time.Time
		if reachedErr.ResetTime != nil {
			reset = reachedErr.ResetTime.UTC()
		}
		return &driven.RateLimitedError{Resource: resource, ResetAt: reset, Err: err}
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		retry := abuseErr.GetRetryAfter()
		if retry == 0 {
			retry = retryAfter(abuseErr.Response)
		}
		return &driven.RateLimitedError{Resource: resource, RetryAfter: retry, Err: err}
	}

	var respErr *gh.ErrorResponse
	if !errors.As(err, &respErr) || respErr.Response == nil {
		return err
	}

	resp := respErr.Response
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &driven.RateLimitedError{Resource: resource, RetryAfter: retryAfter(resp), Err: err}
	case http.StatusForbidden:
		if resp.Header.Get("X-RateLimit-Remaining") == "0" {
			return &driven.RateLimitedError{Resource: resource, RetryAfter: retryAfter(resp), ResetAt: resetAt(resp), Err: err}
		}
		return &driven.AccessRevokedError{Resource: resource, Err: err}
	case http.StatusUnauthorized:
		return &driven.AccessRevokedError{Resource: resource, Err: err}
	case http.StatusNotFound:
		return &driven.NotFoundError{Resource: resource, Err: err}
	default:
		return err
	}
}

// retryAfter reads the Retry-After header in seconds. Zero when absent.
func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}

// resetAt reads the X-RateLimit-Reset unix timestamp. Zero when absent.
func resetAt(resp *http.Response) time.Time {
	if resp == nil {
		return time.Time{}
	}
	unix, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil || unix <= 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}
