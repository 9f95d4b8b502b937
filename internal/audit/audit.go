// Package audit turns a pipeline run into a per-pass change report and
// persists it as YAML. A saved report is also the checkpoint a failed run
// resumes from.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"gopkg.in/yaml.v3"

	"github.com/quillforge/quill/internal/pipeline"
)

// FormatVersion is the report file format version.
const FormatVersion = "1"

// PassDiff summarizes what one pass changed relative to the snapshot before it.
type PassDiff struct {
	Ordinal int    `yaml:"ordinal"`
	Name    string `yaml:"name"`
	// ChangesMade is what the collaborator reported.
	ChangesMade int `yaml:"changes_made"`
	// Inserted and Deleted count characters in the semantic-cleaned diff.
	Inserted int `yaml:"inserted"`
	Deleted  int `yaml:"deleted"`
	// Edits is the number of insert or delete hunks.
	Edits int    `yaml:"edits"`
	Patch string `yaml:"patch,omitempty"`
}

// Unchanged reports whether the pass left the text as it was.
func (d PassDiff) Unchanged() bool {
	return d.Edits == 0
}

// Report is the audit trail of one run.
type Report struct {
	Version     string        `yaml:"version"`
	ArtifactID  string        `yaml:"artifact_id"`
	GeneratedAt time.Time     `yaml:"generated_at"`
	Original    string        `yaml:"original"`
	Passes      []PassDiff    `yaml:"passes"`
	Run         *pipeline.Run `yaml:"run"`
}

// TotalInserted sums inserted characters over all passes.
func (r *Report) TotalInserted() int {
	n := 0
	for _, p := range r.Passes {
		n += p.Inserted
	}
	return n
}

// TotalDeleted sums deleted characters over all passes.
func (r *Report) TotalDeleted() int {
	n := 0
	for _, p := range r.Passes {
		n += p.Deleted
	}
	return n
}

// Resumable reports whether the checkpoint holds a run that stopped early.
func (r *Report) Resumable() bool {
	return r.Run != nil && r.Run.Failed()
}

// Build diffs each recorded pass against the snapshot before it, starting
// from original.
func Build(run *pipeline.Run, original string) *Report {
	r := &Report{
		Version:     FormatVersion,
		GeneratedAt: time.Now().UTC(),
		Original:    original,
		Run:         run,
	}
	if run == nil {
		return r
	}
	r.ArtifactID = run.ArtifactID

	dmp := diffmatchpatch.New()
	prev := original
	for _, res := range run.Results {
		d := diffPass(dmp, prev, res.Content)
		d.Ordinal = res.Ordinal
		d.Name = res.Name
		d.ChangesMade = res.ChangesMade
		r.Passes = append(r.Passes, d)
		prev = res.Content
	}
	return r
}

func diffPass(dmp *diffmatchpatch.DiffMatchPatch, before, after string) PassDiff {
	if before == after {
		return PassDiff{}
	}
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var d PassDiff
	for _, diff := range diffs {
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			d.Inserted += len([]rune(diff.Text))
			d.Edits++
		case diffmatchpatch.DiffDelete:
			d.Deleted += len([]rune(diff.Text))
			d.Edits++
		}
	}
	d.Patch = dmp.PatchToText(dmp.PatchMake(before, diffs))
	return d
}

// WriteYAML writes the report to path, creating parent directories.
func WriteYAML(path string, r *Report) error {
	if r == nil {
		return fmt.Errorf("report is nil")
	}
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating report directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// ReadYAML loads a report written by WriteYAML.
func ReadYAML(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing report: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report: %w", err)
	}
	return &r, nil
}

// Validate checks that a loaded report is usable.
func (r *Report) Validate() error {
	if r.Version != FormatVersion {
		return fmt.Errorf("unsupported report version: %q (supported: %s)", r.Version, FormatVersion)
	}
	if r.Run == nil {
		return fmt.Errorf("report has no run")
	}
	if r.Run.ArtifactID != "" && r.ArtifactID != "" && r.Run.ArtifactID != r.ArtifactID {
		return fmt.Errorf("artifact id mismatch: %s vs %s", r.ArtifactID, r.Run.ArtifactID)
	}
	for i, res := range r.Run.Results {
		if res.Ordinal != i+1 {
			return fmt.Errorf("result %d has ordinal %d", i, res.Ordinal)
		}
	}
	return nil
}

// Summary is a one-line description of the report.
func (r *Report) Summary() string {
	if r.Run == nil {
		return "no run"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d passes, +%d/-%d chars", len(r.Passes), r.TotalInserted(), r.TotalDeleted())
	if r.Run.Failed() {
		fmt.Fprintf(&b, ", failed at pass %d: %s", r.Run.FailedPass, r.Run.Reason)
	}
	return b.String()
}
