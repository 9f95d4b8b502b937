package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quillforge/quill/internal/tournament"
	"github.com/quillforge/quill/internal/workflow"
)

// bundleManifest is written to the output directory when a workflow completes.
type bundleManifest struct {
	WorkflowID  string                `yaml:"workflow_id"`
	Ritual      workflow.Ritual       `yaml:"ritual"`
	JobID       string                `yaml:"job_id,omitempty"`
	Selection   *tournament.Selection `yaml:"selection,omitempty"`
	Refs        []string              `yaml:"refs"`
	GeneratedAt time.Time             `yaml:"generated_at"`
}

// selectionTracker remembers the selection that was last sent to bundle
// generation and the job it came from.
type selectionTracker struct {
	mu        sync.Mutex
	jobID     string
	selection *tournament.Selection
}

func (t *selectionTracker) observe(tr workflow.Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch to := tr.To.(type) {
	case workflow.Running:
		t.jobID = to.JobID
	case workflow.GeneratingBundle:
		sel := to.Selection
		t.selection = &sel
	case workflow.Setup:
		t.jobID = ""
		t.selection = nil
	}
}

func (t *selectionTracker) manifest(id string, ritual workflow.Ritual, refs []string, now time.Time) bundleManifest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return bundleManifest{
		WorkflowID:  id,
		Ritual:      ritual,
		JobID:       t.jobID,
		Selection:   t.selection,
		Refs:        refs,
		GeneratedAt: now.UTC(),
	}
}

// writeManifest writes m to dir/<workflow id>.bundle.yaml and returns the path.
func writeManifest(dir string, m bundleManifest) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode bundle manifest: %w", err)
	}
	path := filepath.Join(dir, m.WorkflowID+".bundle.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write bundle manifest: %w", err)
	}
	return path, nil
}
