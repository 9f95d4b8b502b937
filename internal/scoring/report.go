package scoring

import (
	"context"
	"sort"
)

// Severity tiers a violation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// SubScore is one named scoring category.
type SubScore struct {
	Points float64 `json:"points" yaml:"points"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// Violation is one matched anti-pattern in the scored text.
type Violation struct {
	Pattern  string   `json:"pattern" yaml:"pattern"`
	Severity Severity `json:"severity" yaml:"severity"`
	Span     string   `json:"span" yaml:"span"`
	Penalty  float64  `json:"penalty" yaml:"penalty"`
}

// Report is the structured result of scoring a scene. Treat it as immutable.
type Report struct {
	Total           float64             `json:"total" yaml:"total"`
	Categories      map[string]SubScore `json:"categories,omitempty" yaml:"categories,omitempty"`
	Violations      []Violation         `json:"violations,omitempty" yaml:"violations,omitempty"`
	RecommendedMode Mode                `json:"recommended_mode" yaml:"recommended_mode"`
}

// Normalize clamps Total and derives RecommendedMode from it. It reports
// whether the incoming RecommendedMode disagreed with Classify.
func Normalize(r Report) (Report, bool) {
	r.Total = Clamp(r.Total)
	mode := Classify(r.Total)
	mismatch := r.RecommendedMode != "" && r.RecommendedMode != mode
	r.RecommendedMode = mode
	return r, mismatch
}

// CategoryNames returns the category keys in lexical order.
func (r Report) CategoryNames() []string {
	names := make([]string, 0, len(r.Categories))
	for name := range r.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ViolationsBySeverity counts violations per tier.
func (r Report) ViolationsBySeverity() map[Severity]int {
	counts := make(map[Severity]int, 3)
	for _, v := range r.Violations {
		counts[v.Severity]++
	}
	return counts
}

// Scorer scores scene content. Implementations return a Report whose Total
// is in [0,100]; callers still pass results through Normalize.
type Scorer interface {
	Score(ctx context.Context, content string) (Report, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, content string) (Report, error)

// Score implements Scorer.
func (f ScorerFunc) Score(ctx context.Context, content string) (Report, error) {
	return f(ctx, content)
}
