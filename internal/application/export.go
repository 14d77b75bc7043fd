package application

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/ericfisherdev/decisionlog/internal/domain/model"
	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

// ExportFormat selects the decision export rendering.
type ExportFormat string

const (
	ExportJSON     ExportFormat = "json"
	ExportMarkdown ExportFormat = "markdown"
	ExportHTML     ExportFormat = "html"
)

// ParseExportFormat validates a format name. Empty defaults to JSON.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return ExportJSON, nil
	case ExportJSON, ExportMarkdown, ExportHTML:
		return f, nil
	case "md":
		return ExportMarkdown, nil
	}
	return "", &driven.ValidationError{Field: "format", Reason: fmt.Sprintf("unsupported export format %q", s)}
}

// ContentType returns the MIME type of the rendered export.
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportMarkdown:
		return "text/markdown; charset=utf-8"
	case ExportHTML:
		return "text/html; charset=utf-8"
	default:
		return "application/json"
	}
}

// Extension returns the file extension for downloads.
func (f ExportFormat) Extension() string {
	switch f {
	case ExportMarkdown:
		return "md"
	case ExportHTML:
		return "html"
	default:
		return "json"
	}
}

// ExportedDecision is the export view of a decision with its source.
type ExportedDecision struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Context      string    `json:"context"`
	Decision     string    `json:"decision"`
	Reasoning    string    `json:"reasoning"`
	Consequences string    `json:"consequences"`
	Alternatives []string  `json:"alternatives"`
	Tags         []string  `json:"tags"`
	Significance float64   `json:"significance"`
	ExtractedBy  string    `json:"extracted_by"`
	CreatedAt    time.Time `json:"created_at"`
	SourceURL    string    `json:"source_url,omitempty"`
	SourceNumber int       `json:"source_number,omitempty"`
	MergedAt     time.Time `json:"merged_at,omitzero"`
}

type exportDocument struct {
	Repository string             `json:"repository"`
	ExportedAt time.Time          `json:"exported_at"`
	Decisions  []ExportedDecision `json:"decisions"`
}

var (
	mdRenderer    goldmark.Markdown
	htmlSanitizer *bluemonday.Policy
)

func init() {
	mdRenderer = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
	)

	htmlSanitizer = bluemonday.UGCPolicy()
}

// ExportService renders a repository's decision log.
type ExportService struct {
	repos      driven.RepoStore
	decisions  driven.DecisionStore
	candidates driven.CandidateStore
	artifacts  driven.ArtifactStore
	now        func() time.Time
}

// NewExportService creates an ExportService.
func NewExportService(repos driven.RepoStore, decisions driven.DecisionStore, candidates driven.CandidateStore, artifacts driven.ArtifactStore) *ExportService {
	return &ExportService{
		repos:      repos,
		decisions:  decisions,
		candidates: candidates,
		artifacts:  artifacts,
		now:        time.Now,
	}
}

// Export renders every decision of the repository in the given format.
func (s *ExportService) Export(ctx context.Context, repoID int64, format ExportFormat) ([]byte, error) {
	repo, err := s.repos.GetByID(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("reading repo %d: %w", repoID, err)
	}
	if repo == nil {
		return nil, driven.ErrRepoNotFound
	}

	decisions, err := s.decisions.ListByRepo(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("listing decisions for repo %d: %w", repoID, err)
	}

	doc := exportDocument{
		Repository: repo.FullName,
		ExportedAt: s.now().UTC(),
		Decisions:  make([]ExportedDecision, 0, len(decisions)),
	}
	for _, d := range decisions {
		ed, err := s.withSource(ctx, d)
		if err != nil {
			return nil, err
		}
		doc.Decisions = append(doc.Decisions, ed)
	}

	switch format {
	case ExportMarkdown:
		return []byte(renderMarkdown(doc)), nil
	case ExportHTML:
		return []byte(renderHTML(doc)), nil
	default:
		return json.MarshalIndent(doc, "", "  ")
	}
}

func (s *ExportService) withSource(ctx context.Context, d model.Decision) (ExportedDecision, error) {
	ed := ExportedDecision{
		ID:           d.ID,
		Title:        d.Title,
		Context:      d.Context,
		Decision:     d.Decision,
		Reasoning:    d.Reasoning,
		Consequences: d.Consequences,
		Alternatives: d.Alternatives,
		Tags:         d.Tags,
		Significance: d.Significance,
		ExtractedBy:  d.ExtractedBy,
		CreatedAt:    d.CreatedAt,
	}
	if ed.Alternatives == nil {
		ed.Alternatives = []string{}
	}

	c, err := s.candidates.GetByID(ctx, d.CandidateID)
	if err != nil {
		return ed, fmt.Errorf("reading candidate %d: %w", d.CandidateID, err)
	}
	if c == nil {
		return ed, nil
	}
	a, err := s.artifacts.GetByID(ctx, c.ArtifactID)
	if err != nil {
		return ed, fmt.Errorf("reading artifact %d: %w", c.ArtifactID, err)
	}
	if a != nil {
		ed.SourceURL = a.URL
		ed.SourceNumber = a.Number
		ed.MergedAt = a.MergedAt
	}
	return ed, nil
}

func renderMarkdown(doc exportDocument) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Decision log: %s\n\n", doc.Repository)
	fmt.Fprintf(&b, "_Exported %s, %d decisions._\n", doc.ExportedAt.Format(time.RFC3339), len(doc.Decisions))

	for i, d := range doc.Decisions {
		fmt.Fprintf(&b, "\n## %d. %s\n\n", i+1, d.Title)

		var meta []string
		if d.SourceURL != "" {
			meta = append(meta, fmt.Sprintf("Source: [#%d](%s)", d.SourceNumber, d.SourceURL))
		}
		if !d.MergedAt.IsZero() {
			meta = append(meta, "Merged: "+d.MergedAt.Format("2006-01-02"))
		}
		meta = append(meta, fmt.Sprintf("Significance: %.2f", d.Significance))
		if len(d.Tags) > 0 {
			meta = append(meta, "Tags: "+strings.Join(d.Tags, ", "))
		}
		b.WriteString(strings.Join(meta, " | "))
		b.WriteString("\n")

		writeSection(&b, "Context", d.Context)
		writeSection(&b, "Decision", d.Decision)
		writeSection(&b, "Reasoning", d.Reasoning)
		writeSection(&b, "Consequences", d.Consequences)

		if len(d.Alternatives) > 0 {
			b.WriteString("\n### Alternatives considered\n\n")
			for _, alt := range d.Alternatives {
				fmt.Fprintf(&b, "- %s\n", alt)
			}
		}
	}

	return b.String()
}

func writeSection(b *strings.Builder, heading, body string) {
	fmt.Fprintf(b, "\n### %s\n\n%s\n", heading, strings.TrimSpace(body))
}

// renderHTML converts the markdown export to a standalone sanitized page.
// Provider output is untrusted, so the converted body always passes through
// the sanitizer.
func renderHTML(doc exportDocument) string {
	src := renderMarkdown(doc)

	var buf bytes.Buffer
	var body string
	if err := mdRenderer.Convert([]byte(src), &buf); err != nil {
		body = htmlSanitizer.Sanitize(src)
	} else {
		body = htmlSanitizer.Sanitize(buf.String())
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>Decision log: %s</title>\n", html.EscapeString(doc.Repository))
	b.WriteString("</head>\n<body>\n")
	b.WriteString(body)
	b.WriteString("</body>\n</html>\n")
	return b.String()
}
