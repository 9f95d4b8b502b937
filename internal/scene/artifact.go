// Package scene defines the Artifact under refinement and helpers to load
// and save it.
package scene

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/quillforge/quill/internal/scoring"
)

// Artifact is one scene being scored and refined. Content and Score are
// guarded so the pipeline can update them while a UI reads them.
type Artifact struct {
	ID string

	mu      sync.RWMutex
	content string
	score   *float64
	path    string
}

// New creates an unscored Artifact.
func New(id, content string) *Artifact {
	return &Artifact{ID: id, content: content}
}

// Load reads a scene file. The artifact ID is the file name without extension.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene: %w", err)
	}
	base := filepath.Base(path)
	a := New(strings.TrimSuffix(base, filepath.Ext(base)), string(data))
	a.path = path
	return a, nil
}

// Path returns the file the artifact was loaded from, if any.
func (a *Artifact) Path() string {
	return a.path
}

// Content returns the current text.
func (a *Artifact) Content() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.content
}

// SetContent replaces the current text.
func (a *Artifact) SetContent(content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.content = content
}

// Score returns the current score, or nil if the artifact has not been scored.
func (a *Artifact) Score() *float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.score == nil {
		return nil
	}
	s := *a.score
	return &s
}

// SetScore records a score, clamped to the valid range.
func (a *Artifact) SetScore(score float64) {
	s := scoring.Clamp(score)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.score = &s
}

// ClearScore marks the artifact as unscored, e.g. after its content was rewritten.
func (a *Artifact) ClearScore() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.score = nil
}

// WordCount counts whitespace-separated words in the current content.
func (a *Artifact) WordCount() int {
	return WordCount(a.Content())
}

// Save writes the current content to path atomically.
func (a *Artifact) Save(path string) error {
	if path == "" {
		path = a.path
	}
	if path == "" {
		return fmt.Errorf("artifact %s has no path", a.ID)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".quill-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(a.Content()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write scene: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace scene: %w", err)
	}
	return nil
}

// WordCount counts whitespace-separated words in s.
func WordCount(s string) int {
	return len(strings.FieldsFunc(s, unicode.IsSpace))
}
