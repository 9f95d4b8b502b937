// Package enhance implements the enhance ritual: score a scene, classify it
// and dispatch it to the matching remediation.
package enhance

import (
	"context"

	"github.com/quillforge/quill/internal/errors"
	"github.com/quillforge/quill/internal/logging"
	"github.com/quillforge/quill/internal/pipeline"
	"github.com/quillforge/quill/internal/scene"
	"github.com/quillforge/quill/internal/scoring"
)

// ActionPrompter produces a targeted prompt for a scene that is close to done.
type ActionPrompter interface {
	ActionPrompt(ctx context.Context, content string, report scoring.Report) (string, error)
}

// Rewriter produces a full rewrite of a scene.
type Rewriter interface {
	Rewrite(ctx context.Context, content string, report scoring.Report) (string, error)
}

// Config holds the collaborators of an Enhancer. Only the ones needed by
// the dispatched mode are required.
type Config struct {
	Scorer         scoring.Scorer
	Executor       *pipeline.Executor
	ActionPrompter ActionPrompter
	Rewriter       Rewriter
	Logger         *logging.Logger
	// Catalog defaults to pipeline.SixPassCatalog.
	Catalog []pipeline.Pass
}

// Enhancer runs the enhance ritual.
type Enhancer struct {
	cfg    Config
	logger *logging.Logger
}

// New creates an Enhancer.
func New(cfg Config) *Enhancer {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	if len(cfg.Catalog) == 0 {
		cfg.Catalog = pipeline.SixPassCatalog()
	}
	return &Enhancer{cfg: cfg, logger: logger.WithPhase("enhance")}
}

// Result is the outcome of one enhance run.
type Result struct {
	// Mode is the mode that was dispatched.
	Mode scoring.Mode
	// Recommended is what Classify returned for the initial score.
	Recommended scoring.Mode
	Report      scoring.Report
	// ActionPrompt is set in ModeActionPrompt.
	ActionPrompt string
	// Pipeline is set in ModeSixPass, also when the run failed part way.
	Pipeline *pipeline.Run
	// Rewritten is true once a rewrite replaced the content.
	Rewritten bool
	// FinalReport is the re-score after a rewrite, when one succeeded.
	FinalReport *scoring.Report
}

type runConfig struct {
	mode   scoring.Mode
	report *scoring.Report
	resume *pipeline.Run
}

// RunOption configures a single Run.
type RunOption func(*runConfig)

// WithMode forces the dispatched mode. The recommended mode is still reported.
func WithMode(m scoring.Mode) RunOption {
	return func(c *runConfig) { c.mode = m }
}

// WithReport skips the initial scoring call.
func WithReport(r scoring.Report) RunOption {
	return func(c *runConfig) { c.report = &r }
}

// WithResume continues a failed six-pass run instead of starting over.
func WithResume(prior *pipeline.Run) RunOption {
	return func(c *runConfig) { c.resume = prior }
}

// Run scores artifact when needed, classifies it and dispatches it. On a
// six-pass failure both the partial Result and the error are returned.
func (e *Enhancer) Run(ctx context.Context, artifact *scene.Artifact, opts ...RunOption) (*Result, error) {
	if artifact == nil {
		return nil, errors.NewValidationError("artifact is required").WithField("artifact")
	}
	var rc runConfig
	for _, opt := range opts {
		opt(&rc)
	}
	if rc.mode != "" && !rc.mode.Valid() {
		return nil, errors.NewValidationError("unknown mode").WithField("mode").WithValue(string(rc.mode))
	}

	logger := e.logger.With("artifact_id", artifact.ID)

	report, err := e.initialReport(ctx, artifact, rc.report)
	if err != nil {
		return nil, err
	}
	artifact.SetScore(report.Total)

	res := &Result{
		Recommended: scoring.Classify(report.Total),
		Report:      report,
	}
	res.Mode = res.Recommended
	if rc.mode != "" {
		res.Mode = rc.mode
	}
	logger.Info("dispatching", "score", report.Total, "recommended", string(res.Recommended), "mode", string(res.Mode))

	switch res.Mode {
	case scoring.ModeActionPrompt:
		err = e.actionPrompt(ctx, artifact, res)
	case scoring.ModeSixPass:
		err = e.sixPass(ctx, artifact, res, rc.resume)
	case scoring.ModeRewrite:
		err = e.rewrite(ctx, artifact, res, logger)
	}
	if err != nil {
		logger.Error("enhance failed", "mode", string(res.Mode), "error", err)
	}
	return res, err
}

func (e *Enhancer) initialReport(ctx context.Context, artifact *scene.Artifact, given *scoring.Report) (scoring.Report, error) {
	if given != nil {
		r, _ := scoring.Normalize(*given)
		return r, nil
	}
	if e.cfg.Scorer == nil {
		if s := artifact.Score(); s != nil {
			return scoring.Report{Total: *s, RecommendedMode: scoring.Classify(*s)}, nil
		}
		return scoring.Report{}, errors.NewValidationError("a scorer is required for an unscored scene").WithField("scorer")
	}
	r, err := e.cfg.Scorer.Score(ctx, artifact.Content())
	if err != nil {
		return scoring.Report{}, asCollaborator("score", "score scene failed", err)
	}
	r, _ = scoring.Normalize(r)
	return r, nil
}

func (e *Enhancer) actionPrompt(ctx context.Context, artifact *scene.Artifact, res *Result) error {
	if e.cfg.ActionPrompter == nil {
		return errors.NewValidationError("action prompt mode is not configured").WithField("mode")
	}
	prompt, err := e.cfg.ActionPrompter.ActionPrompt(ctx, artifact.Content(), res.Report)
	if err != nil {
		return asCollaborator("actionPrompt", "action prompt failed", err)
	}
	res.ActionPrompt = prompt
	return nil
}

func (e *Enhancer) sixPass(ctx context.Context, artifact *scene.Artifact, res *Result, prior *pipeline.Run) error {
	if e.cfg.Executor == nil {
		return errors.NewValidationError("six-pass mode is not configured").WithField("mode")
	}
	var (
		run *pipeline.Run
		err error
	)
	if prior != nil {
		run, err = e.cfg.Executor.Resume(ctx, artifact, e.cfg.Catalog, prior)
	} else {
		run, err = e.cfg.Executor.Run(ctx, artifact, e.cfg.Catalog)
	}
	res.Pipeline = run
	return err
}

func (e *Enhancer) rewrite(ctx context.Context, artifact *scene.Artifact, res *Result, logger *logging.Logger) error {
	if e.cfg.Rewriter == nil {
		return errors.NewValidationError("rewrite mode is not configured").WithField("mode")
	}
	content, err := e.cfg.Rewriter.Rewrite(ctx, artifact.Content(), res.Report)
	if err != nil {
		return asCollaborator("rewrite", "rewrite failed", err)
	}
	artifact.SetContent(content)
	artifact.ClearScore()
	res.Rewritten = true

	if e.cfg.Scorer == nil {
		return nil
	}
	final, err := e.cfg.Scorer.Score(ctx, content)
	if err != nil {
		// The rewrite stands; only the new score is missing.
		logger.Warn("re-score after rewrite failed", "error", err)
		return nil
	}
	final, _ = scoring.Normalize(final)
	artifact.SetScore(final.Total)
	res.FinalReport = &final
	return nil
}

func asCollaborator(name, msg string, err error) *errors.CollaboratorError {
	var collabErr *errors.CollaboratorError
	if errors.As(err, &collabErr) {
		return collabErr
	}
	return errors.NewCollaboratorError(msg, err).WithCollaborator(name)
}
