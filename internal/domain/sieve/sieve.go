// Package sieve scores fetched artifacts for architectural significance.
//
// Score is a pure function: it performs no I/O, reads no clock and keeps no
// state, so the same artifact always yields the same Result. Scores are on a
// 0-1 scale rounded to two decimals; Threshold separates artifacts that become
// Candidates from those that are sieved out.
//
// Rule families are additive and each is capped before the global cap:
//
//   - noise: title (or bot author) matches a noise pattern, score 0, nothing else runs
//   - keywords: architectural vocabulary density plus detail and causal language
//   - labels: architecture-related labels on the pull request
//   - change size: moderate-to-large footprint rewarded, excessive footprint penalized
//   - diff content: config, schema, API and infrastructure changes rewarded;
//     test-dominated and lockfile-only diffs penalized
package sieve

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/ericfisherdev/decisionlog/internal/domain/model"
)

// Threshold is the minimum Total for an artifact to become a Candidate.
const Threshold = 0.40

// MaxScore is the global cap applied after all families are summed.
const MaxScore = 1.0

// Family caps.
const (
	keywordCap     = 0.40
	labelCap       = 0.30
	changeSizeCap  = 0.20
	diffContentCap = 0.20
)

// Change-size tiers. Files beyond excessiveFiles or lines beyond
// excessiveLines are treated as mass edits (renames, reformatting, vendoring).
const (
	excessiveFiles = 100
	excessiveLines = 5000
	largeLines     = 200
	detailedBody   = 500
)

// Result is the outcome of scoring one artifact.
type Result struct {
	Total     float64
	Breakdown model.ScoreBreakdown
	Noise     bool
}

// Passed reports whether the artifact clears Threshold.
func (r Result) Passed() bool {
	return r.Total >= Threshold
}

// Score computes the significance score for a.
func Score(a model.Artifact) Result {
	if reason, ok := matchNoise(a); ok {
		return Result{
			Total: 0,
			Noise: true,
			Breakdown: model.ScoreBreakdown{
				Signals:   []string{},
				Penalties: []string{"noise: " + reason},
				Reasoning: fmt.Sprintf("score 0.00: noise pattern %q matched, other rules skipped", reason),
			},
		}
	}

	var sc scorecard
	sc.keywords = scoreKeywords(a, &sc)
	sc.labels = scoreLabels(a, &sc)
	sc.changeSize = scoreChangeSize(a, &sc)
	sc.diffContent = scoreDiffContent(a, &sc)

	raw := sc.keywords + sc.labels + sc.changeSize + sc.diffContent - sc.penalty
	total := round2(math.Max(0, math.Min(MaxScore, raw)))

	verdict := "below"
	if total >= Threshold {
		verdict = "meets"
	}

	signals := sc.signals
	if signals == nil {
		signals = []string{}
	}
	penalties := sc.penalties
	if penalties == nil {
		penalties = []string{}
	}

	return Result{
		Total: total,
		Breakdown: model.ScoreBreakdown{
			Keywords:    round2(sc.keywords),
			Labels:      round2(sc.labels),
			ChangeSize:  round2(sc.changeSize),
			DiffContent: round2(sc.diffContent),
			Penalty:     round2(sc.penalty),
			Signals:     signals,
			Penalties:   penalties,
			Reasoning: fmt.Sprintf(
				"score %.2f %s threshold %.2f (keywords %.2f, labels %.2f, change size %.2f, diff content %.2f, penalties -%.2f)",
				total, verdict, Threshold, sc.keywords, sc.labels, sc.changeSize, sc.diffContent, sc.penalty,
			),
		},
	}
}

// scorecard accumulates family scores and the human-readable explanation.
type scorecard struct {
	keywords    float64
	labels      float64
	changeSize  float64
	diffContent float64
	penalty     float64
	signals     []string
	penalties   []string
}

func (sc *scorecard) signal(format string, args ...any) {
	sc.signals = append(sc.signals, fmt.Sprintf(format, args...))
}

func (sc *scorecard) penalize(amount float64, format string, args ...any) {
	sc.penalty += amount
	sc.penalties = append(sc.penalties, fmt.Sprintf(format, args...)+fmt.Sprintf(" (-%.2f)", amount))
}

func scoreKeywords(a model.Artifact, sc *scorecard) float64 {
	text := a.Title + "\n" + a.Body

	var matched []string
	for _, term := range vocabulary {
		if term.re.MatchString(text) {
			matched = append(matched, term.name)
		}
	}

	var score float64
	switch n := len(matched); {
	case n >= 3:
		score = 0.35
	case n == 2:
		score = 0.25
	case n == 1:
		score = 0.15
	}
	if len(matched) > 0 {
		sc.signal("architectural vocabulary: %s", strings.Join(matched, ", "))
	}

	if len(strings.TrimSpace(a.Body)) >= detailedBody {
		score += 0.05
		sc.signal("detailed description (%d chars)", len(strings.TrimSpace(a.Body)))
	}

	if causalLanguage.MatchString(a.Body) || causalLanguage.MatchString(a.Title) {
		score += 0.05
		sc.signal("causal language explains the change")
	}

	return math.Min(score, keywordCap)
}

func scoreLabels(a model.Artifact, sc *scorecard) float64 {
	var score float64
	seen := make(map[string]bool, len(a.Labels))
	for _, raw := range a.Labels {
		label := normalizeLabel(raw)
		if !architecturalLabels[label] || seen[label] {
			continue
		}
		seen[label] = true
		score += 0.10
		sc.signal("label %q", raw)
	}
	return math.Min(score, labelCap)
}

// normalizeLabel lowercases a label, strips a "type:" or "area/" style prefix
// and joins words with hyphens.
func normalizeLabel(raw string) string {
	label := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.LastIndexAny(label, ":/"); i >= 0 {
		label = strings.TrimSpace(label[i+1:])
	}
	label = strings.NewReplacer(" ", "-", "_", "-").Replace(label)
	return label
}

func scoreChangeSize(a model.Artifact, sc *scorecard) float64 {
	files := a.ChangedFiles
	if files == 0 {
		files = len(a.FilePaths)
	}
	lines := a.LinesChanged()

	var score float64
	switch {
	case files >= 20:
		score = 0.15
	case files >= 10:
		score = 0.10
	case files >= 5:
		score = 0.05
	}
	if score > 0 {
		sc.signal("%d files changed", files)
	}
	if lines >= largeLines {
		score += 0.05
		sc.signal("%d lines changed", lines)
	}

	if files > excessiveFiles || lines > excessiveLines {
		sc.penalize(0.15, "excessively large change (%d files, %d lines)", files, lines)
	}

	return math.Min(score, changeSizeCap)
}

func scoreDiffContent(a model.Artifact, sc *scorecard) float64 {
	paths := a.FilePaths
	if len(paths) == 0 {
		paths = pathsFromDiff(a.Diff)
	}

	var score float64
	for _, rule := range contentRules {
		if rule.matches(paths, a.Diff) {
			score += rule.weight
			sc.signal("%s", rule.name)
		}
	}

	if len(paths) > 0 {
		tests, locks := 0, 0
		for _, p := range paths {
			if testFile.MatchString(p) {
				tests++
			}
			if lockFile.MatchString(p) {
				locks++
			}
		}

		if ratio := float64(tests) / float64(len(paths)); ratio > 0.7 {
			sc.penalize(0.10, "test-dominated diff (%d of %d files are tests)", tests, len(paths))
		}
		if locks == len(paths) {
			sc.penalize(0.15, "lockfile-only diff")
		}
	}

	return math.Min(score, diffContentCap)
}

var diffGitHeader = regexp.MustCompile(`(?m)^diff --git a/(\S+) b/`)

// pathsFromDiff recovers file paths from unified diff headers when the
// artifact carries no explicit file list.
func pathsFromDiff(diff string) []string {
	matches := diffGitHeader.FindAllStringSubmatch(diff, -1)
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, m[1])
	}
	return paths
}

func matchNoise(a model.Artifact) (string, bool) {
	title := strings.TrimSpace(a.Title)
	for _, p := range noisePatterns {
		if p.re.MatchString(title) {
			return p.name, true
		}
	}
	if botAuthor.MatchString(a.Author) {
		return "automation bot author", true
	}
	return "", false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
