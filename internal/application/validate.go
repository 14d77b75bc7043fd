package application

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

// Decision schema bounds.
const (
	maxTitleChars       = 200
	maxSectionChars     = 4000
	maxAlternatives     = 10
	maxAlternativeChars = 500
	minTags             = 1
	maxTags             = 5
	maxTagChars         = 50
)

// errMalformed marks output that is not a single decodable JSON object.
var errMalformed = errors.New("malformed provider output")

// ExtractedDecision is one validated decision from provider output.
type ExtractedDecision struct {
	Ref          int64    `json:"ref"`
	Title        string   `json:"title"`
	Context      string   `json:"context"`
	Decision     string   `json:"decision"`
	Reasoning    string   `json:"reasoning"`
	Consequences string   `json:"consequences"`
	Alternatives []string `json:"alternatives,omitempty"`
	Tags         []string `json:"tags"`
	Significance *float64 `json:"significance"`
}

type extractionEnvelope struct {
	Decisions []ExtractedDecision `json:"decisions"`
}

// ParseDecisions strictly decodes provider output and validates it against
// the decision schema. It tolerates one enclosing code fence and nothing
// else: unknown fields, trailing data and missing or extra refs are rejected.
// Decode failures wrap errMalformed; schema violations are *driven.ValidationError.
func ParseDecisions(raw string, refs []int64) (map[int64]ExtractedDecision, error) {
	body := stripCodeFence(strings.TrimSpace(raw))

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()

	var env extractionEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON object", errMalformed)
	}

	if env.Decisions == nil {
		return nil, &driven.ValidationError{Field: "decisions", Reason: "missing"}
	}

	want := make(map[int64]bool, len(refs))
	for _, ref := range refs {
		want[ref] = true
	}

	out := make(map[int64]ExtractedDecision, len(env.Decisions))
	for i, d := range env.Decisions {
		if !want[d.Ref] {
			return nil, &driven.ValidationError{Field: fmt.Sprintf("decisions[%d].ref", i), Reason: fmt.Sprintf("unknown ref %d", d.Ref)}
		}
		if _, dup := out[d.Ref]; dup {
			return nil, &driven.ValidationError{Field: fmt.Sprintf("decisions[%d].ref", i), Reason: fmt.Sprintf("duplicate ref %d", d.Ref)}
		}
		if err := validateDecision(d); err != nil {
			var vErr *driven.ValidationError
			if errors.As(err, &vErr) {
				vErr.Field = fmt.Sprintf("decisions[%d].%s", i, vErr.Field)
			}
			return nil, err
		}
		out[d.Ref] = d
	}

	for _, ref := range refs {
		if _, ok := out[ref]; !ok {
			return nil, &driven.ValidationError{Field: "decisions", Reason: fmt.Sprintf("no decision for ref %d", ref)}
		}
	}

	return out, nil
}

func validateDecision(d ExtractedDecision) error {
	if err := checkText("title", d.Title, maxTitleChars); err != nil {
		return err
	}
	for _, f := range []struct {
		name, value string
	}{
		{"context", d.Context},
		{"decision", d.Decision},
		{"reasoning", d.Reasoning},
		{"consequences", d.Consequences},
	} {
		if err := checkText(f.name, f.value, maxSectionChars); err != nil {
			return err
		}
	}

	if len(d.Alternatives) > maxAlternatives {
		return &driven.ValidationError{Field: "alternatives", Reason: fmt.Sprintf("%d entries exceeds %d", len(d.Alternatives), maxAlternatives)}
	}
	for i, alt := range d.Alternatives {
		if err := checkText(fmt.Sprintf("alternatives[%d]", i), alt, maxAlternativeChars); err != nil {
			return err
		}
	}

	if len(d.Tags) < minTags || len(d.Tags) > maxTags {
		return &driven.ValidationError{Field: "tags", Reason: fmt.Sprintf("need %d to %d tags, got %d", minTags, maxTags, len(d.Tags))}
	}
	for i, tag := range d.Tags {
		if err := checkText(fmt.Sprintf("tags[%d]", i), tag, maxTagChars); err != nil {
			return err
		}
	}

	if d.Significance == nil {
		return &driven.ValidationError{Field: "significance", Reason: "missing"}
	}
	if s := *d.Significance; math.IsNaN(s) || s < 0 || s > 1 {
		return &driven.ValidationError{Field: "significance", Reason: fmt.Sprintf("%v outside [0, 1]", s)}
	}

	return nil
}

func checkText(field, value string, limit int) error {
	n := utf8.RuneCountInString(strings.TrimSpace(value))
	if n == 0 {
		return &driven.ValidationError{Field: field, Reason: "empty"}
	}
	if utf8.RuneCountInString(value) > limit {
		return &driven.ValidationError{Field: field, Reason: fmt.Sprintf("longer than %d characters", limit)}
	}
	return nil
}

// stripCodeFence removes a single ``` or ```json fence around the whole body.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	inner := s[3 : len(s)-3]
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
		lang := strings.TrimSpace(inner[:nl])
		if lang == "" || strings.EqualFold(lang, "json") {
			inner = inner[nl+1:]
		}
	}
	return strings.TrimSpace(inner)
}
