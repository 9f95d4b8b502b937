// Package agents expands agent selections against the configured roster.
package agents

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gobwas/glob"

	"github.com/quillforge/quill/internal/errors"
)

// Roster is the ordered set of known agent IDs.
type Roster struct {
	ids []string
}

// NewRoster builds a Roster, dropping blanks and duplicates while keeping
// first-seen order.
func NewRoster(ids []string) *Roster {
	r := &Roster{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(r.ids, id) {
			continue
		}
		r.ids = append(r.ids, id)
	}
	return r
}

// IDs returns a copy of the roster.
func (r *Roster) IDs() []string {
	return slices.Clone(r.ids)
}

// Len returns the number of known agents.
func (r *Roster) Len() int {
	return len(r.ids)
}

// isPattern reports whether s uses glob syntax.
func isPattern(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// Select expands patterns into distinct agent IDs. Roster members come
// first in roster order. Literal IDs not on the roster are kept and
// appended in the order given. A glob that matches nothing is an error.
func (r *Roster) Select(patterns []string) ([]string, error) {
	picked := make(map[string]bool)
	var extra []string

	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !isPattern(p) {
			if slices.Contains(r.ids, p) {
				picked[p] = true
			} else if !slices.Contains(extra, p) {
				extra = append(extra, p)
			}
			continue
		}

		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.NewValidationError(fmt.Sprintf("invalid agent pattern %q", p)).
				WithField("agent_ids").WithValue(p).WithCause(err)
		}
		matched := false
		for _, id := range r.ids {
			if g.Match(id) {
				picked[id] = true
				matched = true
			}
		}
		if !matched {
			return nil, errors.NewValidationError(fmt.Sprintf("agent pattern %q matches no known agent", p)).
				WithField("agent_ids").WithValue(p)
		}
	}

	out := make([]string, 0, len(picked)+len(extra))
	for _, id := range r.ids {
		if picked[id] {
			out = append(out, id)
		}
	}
	return append(out, extra...), nil
}
