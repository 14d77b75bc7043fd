package application

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// SecretRedactor scrubs credentials from artifact text with the gitleaks
// default rule set.
type SecretRedactor struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewSecretRedactor loads the gitleaks default configuration.
func NewSecretRedactor() (*SecretRedactor, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks config: %w", err)
	}
	return &SecretRedactor{detector: detector}, nil
}

// Redact replaces every detected secret with a [REDACTED:<rule>] marker.
func (r *SecretRedactor) Redact(s string) string {
	if s == "" {
		return s
	}

	r.mu.Lock()
	findings := r.detector.DetectString(s)
	r.mu.Unlock()

	if len(findings) == 0 {
		return s
	}

	// Longest first so a secret that contains another is replaced whole.
	sort.Slice(findings, func(i, j int) bool {
		return len(findings[i].Secret) > len(findings[j].Secret)
	})
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, f.Secret, "[REDACTED:"+f.RuleID+"]")
	}
	return s
}
