package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quillforge/quill/internal/errors"
	"github.com/quillforge/quill/internal/event"
	"github.com/quillforge/quill/internal/logging"
	"github.com/quillforge/quill/internal/scene"
	"github.com/quillforge/quill/internal/scoring"
)

// Executor runs pass catalogs against artifacts, one pass at a time.
// An Executor may be shared, but a given artifact can only be inside one
// run at a time.
type Executor struct {
	applier Applier
	cfg     executorConfig

	mu   sync.Mutex
	busy map[string]struct{} // artifact IDs with a run in progress
}

// NewExecutor creates an Executor that applies passes through applier.
func NewExecutor(applier Applier, opts ...Option) *Executor {
	cfg := executorConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	cfg.logger = cfg.logger.WithPhase("pipeline")

	return &Executor{
		applier: applier,
		cfg:     cfg,
		busy:    make(map[string]struct{}),
	}
}

// Run executes every pass in catalog against artifact in ascending ordinal
// order. On a pass failure the returned Run holds the results recorded so
// far and the error is a *errors.CollaboratorError naming the pass. Catalog
// and ownership problems return a nil Run.
func (e *Executor) Run(ctx context.Context, artifact *scene.Artifact, catalog []Pass) (*Run, error) {
	return e.execute(ctx, artifact, catalog, nil)
}

// Resume continues a failed run from the first pass missing in prior,
// keeping prior's results. The artifact content is reset to the last
// recorded snapshot before continuing. Runs are never resumed implicitly.
func (e *Executor) Resume(ctx context.Context, artifact *scene.Artifact, catalog []Pass, prior *Run) (*Run, error) {
	if prior == nil {
		return e.execute(ctx, artifact, catalog, nil)
	}
	if prior.ArtifactID != "" && prior.ArtifactID != artifact.ID {
		return nil, errors.NewValidationError("checkpoint belongs to a different artifact").
			WithField("artifact_id").WithValue(prior.ArtifactID)
	}
	if len(prior.Results) > len(catalog) {
		return nil, errors.NewValidationError("checkpoint has more passes than the catalog").
			WithField("results").WithValue(len(prior.Results))
	}
	for i, r := range prior.Results {
		if r.Ordinal != catalog[i].Ordinal || r.Name != catalog[i].Name {
			return nil, errors.NewValidationError(
				fmt.Sprintf("checkpoint pass %d (%s) does not match catalog pass %d (%s)",
					r.Ordinal, r.Name, catalog[i].Ordinal, catalog[i].Name)).
				WithField("results")
		}
	}
	return e.execute(ctx, artifact, catalog, prior)
}

func (e *Executor) execute(ctx context.Context, artifact *scene.Artifact, catalog []Pass, prior *Run) (*Run, error) {
	if artifact == nil {
		return nil, errors.NewValidationError("artifact is required").WithField("artifact")
	}
	if err := ValidateCatalog(catalog); err != nil {
		return nil, err
	}
	if !e.acquire(artifact.ID) {
		return nil, errors.NewSequenceViolationError("run", "busy").WithCause(errors.ErrArtifactBusy)
	}
	defer e.release(artifact.ID)

	logger := e.cfg.logger.With("artifact_id", artifact.ID)
	run := e.newRun(artifact, prior)
	if content, ok := run.LastContent(); ok {
		artifact.SetContent(content)
	}

	start := run.NextOrdinal()
	logger.Info("pipeline started", "passes", len(catalog), "from_pass", start)

	for _, pass := range catalog[start-1:] {
		if err := ctx.Err(); err != nil {
			return e.fail(run, pass, "canceled", fmt.Errorf("%w: %w", errors.ErrCanceled, err), logger)
		}

		began := e.cfg.now()
		out, err := e.applier.ApplyPass(ctx, artifact.Content(), pass)
		elapsed := e.cfg.now().Sub(began)
		e.observePass(pass.Name, err, elapsed)

		if err != nil {
			collabErr := asCollaboratorError(err).WithPass(pass.Ordinal)
			return e.fail(run, pass, errors.Reason(collabErr), collabErr, logger)
		}

		run.Results = append(run.Results, PassResult{
			Ordinal:     pass.Ordinal,
			Name:        pass.Name,
			ChangesMade: out.ChangesMade,
			Content:     out.Content,
			Duration:    elapsed,
		})
		run.TotalChanges += out.ChangesMade
		artifact.SetContent(out.Content)

		logger.Debug("pass completed",
			"pass", pass.Ordinal, "name", pass.Name,
			"changes", out.ChangesMade, "duration_ms", elapsed.Milliseconds())
		e.publish(event.NewPassCompletedEvent(artifact.ID, pass.Ordinal, pass.Name, out.ChangesMade, run.TotalChanges))
	}

	e.rescore(ctx, artifact, run, logger)

	run.Outcome = OutcomeSucceeded
	run.FinishedAt = e.cfg.now()
	e.finish(run, logger)
	return run, nil
}

func (e *Executor) newRun(artifact *scene.Artifact, prior *Run) *Run {
	run := &Run{
		ArtifactID:    artifact.ID,
		OriginalScore: artifact.Score(),
		StartedAt:     e.cfg.now(),
	}
	if prior == nil {
		return run
	}

	run.Results = append([]PassResult(nil), prior.Results...)
	for _, r := range run.Results {
		run.TotalChanges += r.ChangesMade
	}
	if prior.OriginalScore != nil {
		s := *prior.OriginalScore
		run.OriginalScore = &s
	}
	if !prior.StartedAt.IsZero() {
		run.StartedAt = prior.StartedAt
	}
	return run
}

// rescore updates FinalScore and Improvement. A failed re-score only adds a warning.
func (e *Executor) rescore(ctx context.Context, artifact *scene.Artifact, run *Run, logger *logging.Logger) {
	if !e.cfg.rescore || e.cfg.scorer == nil {
		return
	}

	report, err := e.cfg.scorer.Score(ctx, artifact.Content())
	if err != nil {
		msg := fmt.Sprintf("re-score failed: %v", err)
		run.Warnings = append(run.Warnings, msg)
		logger.Warn("re-score failed", "error", err)
		return
	}

	report, _ = scoring.Normalize(report)
	final := report.Total
	run.FinalScore = &final
	artifact.SetScore(final)
	if n := len(run.Results); n > 0 {
		s := final
		run.Results[n-1].Score = &s
	}
	if run.OriginalScore != nil {
		improvement := final - *run.OriginalScore
		run.Improvement = &improvement
	}
}

func (e *Executor) fail(run *Run, pass Pass, reason string, err error, logger *logging.Logger) (*Run, error) {
	run.Outcome = OutcomeFailed
	run.FailedPass = pass.Ordinal
	run.Reason = fmt.Sprintf("pass %d (%s) failed: %s", pass.Ordinal, pass.Name, reason)
	run.FinishedAt = e.cfg.now()

	logger.Error("pass failed", "pass", pass.Ordinal, "name", pass.Name, "error", err)
	e.publish(event.NewPassFailedEvent(run.ArtifactID, pass.Ordinal, run.Reason))
	e.finish(run, logger)
	return run, err
}

func (e *Executor) finish(run *Run, logger *logging.Logger) {
	if e.cfg.recorder != nil {
		e.cfg.recorder.PipelineFinished(string(run.Outcome))
	}
	logger.Info("pipeline finished",
		"outcome", run.Outcome, "passes", len(run.Results), "total_changes", run.TotalChanges)
	e.publish(event.NewPipelineFinishedEvent(run.ArtifactID, string(run.Outcome), len(run.Results), run.TotalChanges, run.FinalScore))
}

func (e *Executor) observePass(name string, err error, d time.Duration) {
	if e.cfg.recorder != nil {
		e.cfg.recorder.PassObserved(name, err, d)
	}
}

func (e *Executor) publish(ev event.Event) {
	if e.cfg.bus != nil {
		e.cfg.bus.Publish(ev)
	}
}

func (e *Executor) acquire(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.busy[id]; ok {
		return false
	}
	e.busy[id] = struct{}{}
	return true
}

func (e *Executor) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.busy, id)
}

// asCollaboratorError keeps an existing *errors.CollaboratorError (so HTTP
// status codes survive) and wraps anything else.
func asCollaboratorError(err error) *errors.CollaboratorError {
	var collabErr *errors.CollaboratorError
	if errors.As(err, &collabErr) {
		return collabErr
	}
	return errors.NewCollaboratorError("apply pass failed", err).WithCollaborator("applyPass")
}
