package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/quillforge/quill/internal/errors"
)

// Pass is a static descriptor in a pass catalog.
type Pass struct {
	Ordinal     int    `json:"ordinal" yaml:"ordinal"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// SixPassCatalog returns the fixed catalog of the six-pass ritual.
// Each call returns a fresh slice.
func SixPassCatalog() []Pass {
	return []Pass{
		{Ordinal: 1, Name: "sensory-anchoring", Description: "Ground each beat in concrete sensory detail."},
		{Ordinal: 2, Name: "verb-promotion", Description: "Replace weak verb and adverb pairs with strong verbs."},
		{Ordinal: 3, Name: "filter-word-removal", Description: "Strip filter words (saw, felt, noticed) that distance the reader."},
		{Ordinal: 4, Name: "dialogue-tightening", Description: "Cut dialogue padding and redundant tags."},
		{Ordinal: 5, Name: "rhythm-variation", Description: "Vary sentence length and structure for pacing."},
		{Ordinal: 6, Name: "cliche-sweep", Description: "Replace stock phrases with specific images."},
	}
}

// ValidateCatalog checks that catalog is non-empty with ordinals exactly 1..N
// in ascending order and non-empty names.
func ValidateCatalog(catalog []Pass) error {
	if len(catalog) == 0 {
		return errors.NewValidationError("pass catalog is empty").WithField("catalog")
	}
	for i, p := range catalog {
		if p.Ordinal != i+1 {
			return errors.NewValidationError(
				fmt.Sprintf("pass at position %d has ordinal %d, want %d", i+1, p.Ordinal, i+1)).
				WithField("catalog.ordinal").WithValue(p.Ordinal)
		}
		if p.Name == "" {
			return errors.NewValidationError(fmt.Sprintf("pass %d has no name", p.Ordinal)).
				WithField("catalog.name")
		}
	}
	return nil
}

// Output is what the Applier returns for one pass.
type Output struct {
	Content     string `json:"content"`
	ChangesMade int    `json:"changes_made"`
}

// Applier applies one transformation pass. It must not retain or mutate content.
type Applier interface {
	ApplyPass(ctx context.Context, content string, pass Pass) (Output, error)
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(ctx context.Context, content string, pass Pass) (Output, error)

// ApplyPass implements Applier.
func (f ApplierFunc) ApplyPass(ctx context.Context, content string, pass Pass) (Output, error) {
	return f(ctx, content, pass)
}

// PassResult is the recorded outcome of one pass. Results are appended and never modified.
type PassResult struct {
	Ordinal     int           `yaml:"ordinal"`
	Name        string        `yaml:"name"`
	ChangesMade int           `yaml:"changes_made"`
	Content     string        `yaml:"content"`
	Score       *float64      `yaml:"score,omitempty"`
	Duration    time.Duration `yaml:"duration"`
}

// Outcome is the final state of a Run.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Run is the record of one pipeline execution.
type Run struct {
	ArtifactID    string       `yaml:"artifact_id"`
	Results       []PassResult `yaml:"results"`
	TotalChanges  int          `yaml:"total_changes"`
	OriginalScore *float64     `yaml:"original_score,omitempty"`
	FinalScore    *float64     `yaml:"final_score,omitempty"`
	Improvement   *float64     `yaml:"improvement,omitempty"`
	Outcome       Outcome      `yaml:"outcome"`
	FailedPass    int          `yaml:"failed_pass,omitempty"`
	Reason        string       `yaml:"reason,omitempty"`
	Warnings      []string     `yaml:"warnings,omitempty"`
	StartedAt     time.Time    `yaml:"started_at"`
	FinishedAt    time.Time    `yaml:"finished_at"`
}

// Failed reports whether the run halted before completing every pass.
func (r *Run) Failed() bool {
	return r.Outcome == OutcomeFailed
}

// NextOrdinal returns the ordinal a resumed run would start from.
func (r *Run) NextOrdinal() int {
	return len(r.Results) + 1
}

// LastContent returns the content snapshot of the last recorded pass, or
// ok=false when no pass has completed.
func (r *Run) LastContent() (string, bool) {
	if len(r.Results) == 0 {
		return "", false
	}
	return r.Results[len(r.Results)-1].Content, true
}
