// Package scaffold holds the types and collaborators of the scaffold
// ritual: generate a scene scaffold from a premise and beats, review it,
// then enrich the confirmed scaffold into bundle files.
package scaffold

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/quillforge/quill/internal/errors"
)

// Request asks the remote service for a scaffold.
type Request struct {
	ID      string   `json:"id" yaml:"id"`
	SceneID string   `json:"scene_id,omitempty" yaml:"scene_id,omitempty"`
	Premise string   `json:"premise" yaml:"premise"`
	Beats   []string `json:"beats" yaml:"beats"`
	Tone    string   `json:"tone,omitempty" yaml:"tone,omitempty"`
}

// Normalize trims fields, drops blank beats and assigns an ID when missing.
// A request without a premise or without beats is a validation error.
func (r Request) Normalize() (Request, error) {
	out := Request{
		ID:      strings.TrimSpace(r.ID),
		SceneID: strings.TrimSpace(r.SceneID),
		Premise: strings.TrimSpace(r.Premise),
		Tone:    strings.TrimSpace(r.Tone),
	}
	if out.Premise == "" {
		return Request{}, errors.NewValidationError("premise is required").WithField("premise")
	}
	for _, b := range r.Beats {
		if b = strings.TrimSpace(b); b != "" {
			out.Beats = append(out.Beats, b)
		}
	}
	if len(out.Beats) == 0 {
		return Request{}, errors.NewValidationError("at least one beat is required").WithField("beats")
	}
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	return out, nil
}

// Scaffold is a generated scene skeleton.
type Scaffold struct {
	ID        string   `json:"id" yaml:"id"`
	RequestID string   `json:"request_id" yaml:"request_id"`
	Title     string   `json:"title,omitempty" yaml:"title,omitempty"`
	Beats     []string `json:"beats" yaml:"beats"`
	Content   string   `json:"content" yaml:"content"`
}

// EnrichRequest is the confirmed scaffold plus the user's refinements.
type EnrichRequest struct {
	Scaffold      Scaffold `json:"scaffold"`
	Notes         string   `json:"notes,omitempty"`
	EditedContent string   `json:"edited_content,omitempty"`
}

// Generator produces a scaffold for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (Scaffold, error)
}

// Enricher expands a confirmed scaffold into bundle files and returns
// their references.
type Enricher interface {
	Enrich(ctx context.Context, req EnrichRequest) ([]string, error)
}
