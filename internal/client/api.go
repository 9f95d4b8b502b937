package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/quillforge/quill/internal/enhance"
	"github.com/quillforge/quill/internal/errors"
	"github.com/quillforge/quill/internal/pipeline"
	"github.com/quillforge/quill/internal/scaffold"
	"github.com/quillforge/quill/internal/scoring"
	"github.com/quillforge/quill/internal/tournament"
)

var (
	_ scoring.Scorer         = (*Client)(nil)
	_ pipeline.Applier       = (*Client)(nil)
	_ tournament.Backend     = (*Client)(nil)
	_ scaffold.Generator     = (*Client)(nil)
	_ scaffold.Enricher      = (*Client)(nil)
	_ enhance.ActionPrompter = (*Client)(nil)
	_ enhance.Rewriter       = (*Client)(nil)
)

type contentRequest struct {
	Content string          `json:"content"`
	Report  *scoring.Report `json:"report,omitempty"`
}

type passRequest struct {
	Content string        `json:"content"`
	Pass    pipeline.Pass `json:"pass"`
}

type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type candidatesResponse struct {
	Candidates []tournament.Candidate `json:"candidates"`
}

type bundleRequest struct {
	CandidateID   string `json:"candidate_id"`
	Notes         string `json:"notes,omitempty"`
	EditedContent string `json:"edited_content,omitempty"`
}

type refsResponse struct {
	Refs []string `json:"refs"`
}

type promptResponse struct {
	Prompt string `json:"prompt"`
}

type rewriteResponse struct {
	Content string `json:"content"`
}

// Score implements scoring.Scorer. The returned report is normalized so
// RecommendedMode always follows the local thresholds.
func (c *Client) Score(ctx context.Context, content string) (scoring.Report, error) {
	var report scoring.Report
	if err := c.doJSON(ctx, http.MethodPost, "/v1/score", "score", contentRequest{Content: content}, &report); err != nil {
		return scoring.Report{}, err
	}
	normalized, mismatch := scoring.Normalize(report)
	if mismatch || normalized.Total != report.Total {
		c.logger.Warn("score report disagrees with local thresholds",
			"remote_total", report.Total,
			"remote_mode", string(report.RecommendedMode),
			"mode", string(normalized.RecommendedMode),
		)
	}
	return normalized, nil
}

// ApplyPass implements pipeline.Applier.
func (c *Client) ApplyPass(ctx context.Context, content string, pass pipeline.Pass) (pipeline.Output, error) {
	var out pipeline.Output
	path := fmt.Sprintf("/v1/passes/%d", pass.Ordinal)
	if err := c.doJSON(ctx, http.MethodPost, path, "applyPass", passRequest{Content: content, Pass: pass}, &out); err != nil {
		var collabErr *errors.CollaboratorError
		if errors.As(err, &collabErr) {
			collabErr.WithPass(pass.Ordinal)
		}
		return pipeline.Output{}, err
	}
	if out.ChangesMade < 0 {
		return pipeline.Output{}, errors.NewCollaboratorError("negative changes_made", nil).
			WithCollaborator("applyPass").WithPass(pass.Ordinal).WithRetryable(false)
	}
	return out, nil
}

// Submit implements tournament.Backend.
func (c *Client) Submit(ctx context.Context, cfg tournament.Config) (tournament.Job, error) {
	var resp jobResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/tournaments", "submit", cfg, &resp); err != nil {
		return tournament.Job{}, err
	}
	if resp.ID == "" {
		return tournament.Job{}, errors.NewCollaboratorError("response has no job id", nil).
			WithCollaborator("submit").WithRetryable(false)
	}
	job := tournament.Job{ID: resp.ID, Status: tournament.JobRunning}
	if resp.Status != "" {
		status, err := tournament.ParseJobStatus(resp.Status)
		if err != nil {
			return tournament.Job{}, errors.NewCollaboratorError("invalid job status", err).
				WithCollaborator("submit").WithJobID(resp.ID).WithRetryable(false)
		}
		job.Status = status
	}
	return job, nil
}

// FetchStatus implements tournament.Backend. It makes exactly one request.
func (c *Client) FetchStatus(ctx context.Context, jobID string) (tournament.StatusReport, error) {
	var resp statusResponse
	path := "/v1/tournaments/" + url.PathEscape(jobID) + "/status"
	if err := c.doJSON(ctx, http.MethodGet, path, "fetchStatus", nil, &resp); err != nil {
		return tournament.StatusReport{}, withJob(err, jobID)
	}
	status, err := tournament.ParseJobStatus(resp.Status)
	if err != nil {
		return tournament.StatusReport{}, errors.NewCollaboratorError("invalid job status", err).
			WithCollaborator("fetchStatus").WithJobID(jobID).WithRetryable(false)
	}
	return tournament.StatusReport{Status: status, Message: resp.Message}, nil
}

// ListCandidates implements tournament.Backend.
func (c *Client) ListCandidates(ctx context.Context, jobID string) ([]tournament.Candidate, error) {
	var resp candidatesResponse
	path := "/v1/tournaments/" + url.PathEscape(jobID) + "/candidates"
	if err := c.doJSON(ctx, http.MethodGet, path, "listCandidates", nil, &resp); err != nil {
		return nil, withJob(err, jobID)
	}
	return resp.Candidates, nil
}

// GenerateBundle implements tournament.Backend.
func (c *Client) GenerateBundle(ctx context.Context, jobID string, sel tournament.Selection) ([]string, error) {
	req := bundleRequest{
		CandidateID:   sel.Candidate.ID,
		Notes:         sel.Notes,
		EditedContent: sel.EditedContent,
	}
	var resp refsResponse
	path := "/v1/tournaments/" + url.PathEscape(jobID) + "/bundle"
	if err := c.doJSON(ctx, http.MethodPost, path, "generateBundle", req, &resp); err != nil {
		return nil, withJob(err, jobID)
	}
	return resp.Refs, nil
}

// Generate implements scaffold.Generator.
func (c *Client) Generate(ctx context.Context, req scaffold.Request) (scaffold.Scaffold, error) {
	var sc scaffold.Scaffold
	if err := c.doJSON(ctx, http.MethodPost, "/v1/scaffolds", "generate", req, &sc); err != nil {
		return scaffold.Scaffold{}, err
	}
	return sc, nil
}

// Enrich implements scaffold.Enricher.
func (c *Client) Enrich(ctx context.Context, req scaffold.EnrichRequest) ([]string, error) {
	var resp refsResponse
	path := "/v1/scaffolds/" + url.PathEscape(req.Scaffold.ID) + "/enrich"
	if err := c.doJSON(ctx, http.MethodPost, path, "enrich", req, &resp); err != nil {
		return nil, err
	}
	return resp.Refs, nil
}

// ActionPrompt implements enhance.ActionPrompter.
func (c *Client) ActionPrompt(ctx context.Context, content string, report scoring.Report) (string, error) {
	var resp promptResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/action-prompt", "actionPrompt", contentRequest{Content: content, Report: &report}, &resp); err != nil {
		return "", err
	}
	return resp.Prompt, nil
}

// Rewrite implements enhance.Rewriter.
func (c *Client) Rewrite(ctx context.Context, content string, report scoring.Report) (string, error) {
	var resp rewriteResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/rewrite", "rewrite", contentRequest{Content: content, Report: &report}, &resp); err != nil {
		return "", err
	}
	if resp.Content == "" {
		return "", errors.NewCollaboratorError("rewrite returned empty content", nil).
			WithCollaborator("rewrite").WithRetryable(false)
	}
	return resp.Content, nil
}

func withJob(err error, jobID string) error {
	var collabErr *errors.CollaboratorError
	if errors.As(err, &collabErr) {
		collabErr.WithJobID(jobID)
	}
	return err
}
