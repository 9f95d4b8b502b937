// Package tournament coordinates a competitive multi-candidate generation
// round: submit a job, poll it until candidates are ready, let the user
// pick a winner, and generate the downstream bundle for that winner.
package tournament

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/quillforge/quill/internal/errors"
)

// State represents the coordinator's current phase.
type State string

const (
	// StateIdle - nothing submitted, or reset
	StateIdle State = "idle"
	// StateRunning - job submitted, poller active
	StateRunning State = "running"
	// StateAwaitingSelection - candidates fetched, waiting for the user
	StateAwaitingSelection State = "awaiting_selection"
	// StateFailed - the job failed or polling gave up
	StateFailed State = "failed"
	// StateSelectingWinner - a candidate is chosen but not confirmed
	StateSelectingWinner State = "selecting_winner"
	// StateGeneratingBundle - bundle generation in flight
	StateGeneratingBundle State = "generating_bundle"
	// StateComplete - bundle generated
	StateComplete State = "complete"
)

// JobStatus is the remote status of a tournament job.
type JobStatus string

const (
	JobRunning           JobStatus = "running"
	JobAwaitingSelection JobStatus = "awaiting_selection"
	JobFailed            JobStatus = "failed"
	JobComplete          JobStatus = "complete"
)

// ParseJobStatus converts a wire status string. Unknown values are errors.
func ParseJobStatus(s string) (JobStatus, error) {
	switch st := JobStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case JobRunning, JobAwaitingSelection, JobFailed, JobComplete:
		return st, nil
	default:
		return "", fmt.Errorf("unknown job status %q", s)
	}
}

// Terminal reports whether polling should stop at this status.
func (s JobStatus) Terminal() bool {
	return s != JobRunning
}

// Config is the request for a new tournament round.
type Config struct {
	SceneID          string   `json:"scene_id" yaml:"scene_id"`
	Brief            string   `json:"brief" yaml:"brief"`
	AgentIDs         []string `json:"agent_ids" yaml:"agent_ids"`
	Strategies       []string `json:"strategies" yaml:"strategies"`
	VariantsPerAgent int      `json:"variants_per_agent" yaml:"variants_per_agent"`
}

// ExpectedCandidates is the number of candidates the round should produce.
func (c Config) ExpectedCandidates() int {
	return len(c.AgentIDs) * len(c.Strategies) * c.VariantsPerAgent
}

// Validate checks cfg against minAgents (never less than MinAgents) and
// returns the normalized config. Empty strategies and a zero variant count
// take the supplied defaults.
func (c Config) Validate(minAgents int, defaultStrategies []string, defaultVariants int) (Config, error) {
	if minAgents < MinAgents {
		minAgents = MinAgents
	}
	out := Config{
		SceneID:          strings.TrimSpace(c.SceneID),
		Brief:            strings.TrimSpace(c.Brief),
		VariantsPerAgent: c.VariantsPerAgent,
	}

	if out.SceneID == "" {
		return Config{}, errors.NewValidationError("scene id is required").WithField("scene_id")
	}
	if out.Brief == "" {
		return Config{}, errors.NewValidationError("brief is required").WithField("brief")
	}

	agents, err := cleanList("agent_ids", "agent id", c.AgentIDs)
	if err != nil {
		return Config{}, err
	}
	if len(agents) < minAgents {
		return Config{}, errors.NewValidationError(
			fmt.Sprintf("at least %d agents are required, got %d", minAgents, len(agents))).
			WithField("agent_ids").WithValue(len(agents))
	}
	out.AgentIDs = agents

	strategies := c.Strategies
	if len(strategies) == 0 {
		strategies = defaultStrategies
	}
	strategies, err = cleanList("strategies", "strategy", strategies)
	if err != nil {
		return Config{}, err
	}
	if len(strategies) == 0 {
		return Config{}, errors.NewValidationError("at least one strategy is required").WithField("strategies")
	}
	out.Strategies = strategies

	if out.VariantsPerAgent == 0 {
		out.VariantsPerAgent = defaultVariants
	}
	if out.VariantsPerAgent < 1 {
		return Config{}, errors.NewValidationError("variants per agent must be at least 1").
			WithField("variants_per_agent").WithValue(c.VariantsPerAgent)
	}
	return out, nil
}

// cleanList trims entries and rejects blanks and duplicates.
func cleanList(field, noun string, in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, errors.NewValidationError(noun + " must not be blank").WithField(field)
		}
		if seen[v] {
			return nil, errors.NewValidationError("duplicate " + noun).WithField(field).WithValue(v)
		}
		seen[v] = true
		out = append(out, v)
	}
	return out, nil
}

// Job is a submitted tournament round.
type Job struct {
	ID               string    `json:"id" yaml:"id"`
	SceneID          string    `json:"scene_id" yaml:"scene_id"`
	AgentIDs         []string  `json:"agent_ids" yaml:"agent_ids"`
	Strategies       []string  `json:"strategies" yaml:"strategies"`
	VariantsPerAgent int       `json:"variants_per_agent" yaml:"variants_per_agent"`
	Status           JobStatus `json:"status" yaml:"status"`
	SubmittedAt      time.Time `json:"submitted_at" yaml:"submitted_at"`
}

// StatusReport is one poll result.
type StatusReport struct {
	Status  JobStatus `json:"status"`
	Message string    `json:"message,omitempty"`
}

// Candidate is one generated variant. Candidates are read-only once fetched.
type Candidate struct {
	ID        string   `json:"id" yaml:"id"`
	AgentID   string   `json:"agent_id" yaml:"agent_id"`
	Strategy  string   `json:"strategy" yaml:"strategy"`
	Content   string   `json:"content" yaml:"content"`
	WordCount int      `json:"word_count" yaml:"word_count"`
	Score     *float64 `json:"score,omitempty" yaml:"score,omitempty"`
}

// Selection is the chosen candidate plus the user's manual refinement.
type Selection struct {
	Candidate     Candidate `json:"candidate" yaml:"candidate"`
	Notes         string    `json:"notes,omitempty" yaml:"notes,omitempty"`
	EditedContent string    `json:"edited_content,omitempty" yaml:"edited_content,omitempty"`
}

// Content returns the edited content when present, otherwise the candidate's.
func (s Selection) Content() string {
	if strings.TrimSpace(s.EditedContent) != "" {
		return s.EditedContent
	}
	return s.Candidate.Content
}

// Backend is the remote service a Coordinator drives.
type Backend interface {
	Submit(ctx context.Context, cfg Config) (Job, error)
	// FetchStatus must return promptly and must not retry internally.
	FetchStatus(ctx context.Context, jobID string) (StatusReport, error)
	// ListCandidates is only called once the job awaits selection.
	ListCandidates(ctx context.Context, jobID string) ([]Candidate, error)
	// GenerateBundle may be retried for the same selection.
	GenerateBundle(ctx context.Context, jobID string, sel Selection) ([]string, error)
}

// Callbacks holds callbacks for coordinator events. All are invoked
// without the coordinator lock held.
type Callbacks struct {
	// OnStateChange is called after every state change
	OnStateChange func(from, to State)

	// OnCandidatesReady is called when the candidate list has been fetched
	OnCandidatesReady func(candidates []Candidate)

	// OnBundleReady is called when bundle generation succeeds
	OnBundleReady func(refs []string)

	// OnFailed is called when the round lands in failed, and when bundle
	// generation fails (the state then returns to selecting_winner)
	OnFailed func(reason string)
}

// Snapshot is a consistent copy of the coordinator's state.
type Snapshot struct {
	State      State
	Job        *Job
	LastStatus *StatusReport
	Candidates []Candidate
	Selection  *Selection
	BundleRefs []string
	// Failure is the reason the round failed. Set only in StateFailed.
	Failure string
	// LastError is the most recent bundle generation error.
	LastError string
}

// Rank returns a copy of cands ordered by score, highest first. Unscored
// candidates sort last and ties keep their original order.
func Rank(cands []Candidate) []Candidate {
	ranked := slices.Clone(cands)
	slices.SortStableFunc(ranked, func(a, b Candidate) int {
		switch {
		case a.Score == nil && b.Score == nil:
			return 0
		case a.Score == nil:
			return 1
		case b.Score == nil:
			return -1
		}
		return cmp.Compare(*b.Score, *a.Score)
	})
	return ranked
}
