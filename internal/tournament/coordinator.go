package tournament

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quillforge/quill/internal/errors"
	"github.com/quillforge/quill/internal/event"
	"github.com/quillforge/quill/internal/logging"
	"github.com/quillforge/quill/internal/poller"
	"github.com/quillforge/quill/internal/scene"
)

// MinAgents is the smallest roster a round may be submitted with.
const MinAgents = 3

// CoordinatorConfig holds configuration for creating a Coordinator.
type CoordinatorConfig struct {
	Backend Backend
	Logger  *logging.Logger
	Bus     *event.Bus

	// MinAgents raises the agent minimum. Values below MinAgents are ignored.
	MinAgents         int
	DefaultStrategies []string
	DefaultVariants   int

	PollInterval   time.Duration
	ErrorThreshold int
	Clock          poller.Clock
	PollRecorder   poller.Recorder
}

// Coordinator orchestrates one tournament round at a time.
type Coordinator struct {
	backend Backend
	cfg     CoordinatorConfig
	logger  *logging.Logger
	bus     *event.Bus

	ctx        context.Context
	cancelFunc context.CancelFunc

	mu           sync.Mutex
	callbacks    *Callbacks
	state        State
	epoch        uint64 // bumped by Reset and Close; async results from older epochs are dropped
	submitting   bool
	closed       bool
	job          *Job
	lastStatus   *StatusReport
	candidates   []Candidate
	selection    *Selection
	bundleRefs   []string
	failure      string
	lastError    string
	poll         *poller.Handle[StatusReport]
	bundleCancel context.CancelFunc
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	if cfg.MinAgents < MinAgents {
		cfg.MinAgents = MinAgents
	}
	if cfg.DefaultVariants < 1 {
		cfg.DefaultVariants = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		backend:    cfg.Backend,
		cfg:        cfg,
		logger:     logger.WithPhase("tournament-coordinator"),
		bus:        cfg.Bus,
		ctx:        ctx,
		cancelFunc: cancel,
		state:      StateIdle,
	}
}

// SetCallbacks sets the coordinator callbacks
func (c *Coordinator) SetCallbacks(cb *Callbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = cb
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of everything the coordinator currently holds.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		State:      c.state,
		Candidates: slices.Clone(c.candidates),
		BundleRefs: slices.Clone(c.bundleRefs),
		Failure:    c.failure,
		LastError:  c.lastError,
	}
	if c.job != nil {
		j := *c.job
		s.Job = &j
	}
	if c.lastStatus != nil {
		st := *c.lastStatus
		s.LastStatus = &st
	}
	if c.selection != nil {
		sel := *c.selection
		s.Selection = &sel
	}
	return s
}

// Candidates returns the fetched candidates in backend order.
func (c *Coordinator) Candidates() []Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.candidates)
}

// RankedCandidates returns the candidates ordered for display. Ranking
// never selects a winner.
func (c *Coordinator) RankedCandidates() []Candidate {
	return Rank(c.Candidates())
}

// BundleRefs returns the generated bundle references once complete.
func (c *Coordinator) BundleRefs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.bundleRefs)
}

// Submit validates cfg, submits the round and starts polling it. It is only
// valid from idle. Invalid input is rejected before any backend call; a
// backend error leaves the coordinator idle.
func (c *Coordinator) Submit(ctx context.Context, cfg Config) (Job, error) {
	c.mu.Lock()
	if err := c.checkLocked("submit", StateIdle); err != nil {
		c.mu.Unlock()
		return Job{}, err
	}
	if c.submitting {
		c.mu.Unlock()
		return Job{}, errors.NewSequenceViolationError("submit", "submitting")
	}
	cfg, err := cfg.Validate(c.cfg.MinAgents, c.cfg.DefaultStrategies, c.cfg.DefaultVariants)
	if err != nil {
		c.mu.Unlock()
		return Job{}, err
	}
	c.submitting = true
	epoch := c.epoch
	c.mu.Unlock()

	c.logger.Info("submitting tournament",
		"scene_id", cfg.SceneID,
		"agents", len(cfg.AgentIDs),
		"strategies", len(cfg.Strategies),
		"expected_candidates", cfg.ExpectedCandidates(),
	)

	job, err := c.backend.Submit(ctx, cfg)

	c.mu.Lock()
	if epoch != c.epoch || c.closed {
		c.mu.Unlock()
		if err == nil {
			c.logger.Warn("dropping job submitted before reset", "job_id", job.ID)
			c.publish(event.NewTournamentOrphanedEvent(job.ID))
		}
		return Job{}, fmt.Errorf("submit: %w", errors.ErrCanceled)
	}
	c.submitting = false
	if err != nil {
		c.mu.Unlock()
		c.logger.Error("tournament submit failed", "error", err)
		return Job{}, collaboratorError("submit", "", "submit tournament failed", err)
	}

	job.SceneID = cfg.SceneID
	job.AgentIDs = slices.Clone(cfg.AgentIDs)
	job.Strategies = slices.Clone(cfg.Strategies)
	job.VariantsPerAgent = cfg.VariantsPerAgent
	if job.Status == "" {
		job.Status = JobRunning
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	stored := job
	c.job = &stored
	change := c.transitionLocked(StateRunning)
	c.mu.Unlock()

	// Observers see running before any poll outcome.
	c.notifyStateChange(change)

	c.mu.Lock()
	if epoch == c.epoch && !c.closed && c.state == StateRunning {
		c.poll = c.startPollerLocked(job.ID, epoch)
	}
	c.mu.Unlock()
	return job, nil
}

func (c *Coordinator) startPollerLocked(jobID string, epoch uint64) *poller.Handle[StatusReport] {
	return poller.Start(c.ctx, jobID, c.backend.FetchStatus, poller.Options[StatusReport]{
		Interval:       c.cfg.PollInterval,
		IsTerminal:     func(s StatusReport) bool { return s.Status.Terminal() },
		ErrorThreshold: c.cfg.ErrorThreshold,
		Clock:          c.cfg.Clock,
		Logger:         c.logger,
		Recorder:       c.cfg.PollRecorder,
		OnStatus: func(s StatusReport) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if epoch == c.epoch && c.job != nil {
				c.lastStatus = &s
				c.job.Status = s.Status
			}
		},
		OnDone: func(out poller.Outcome[StatusReport]) {
			c.handlePollDone(epoch, jobID, out)
		},
	})
}

// handlePollDone runs on the poller goroutine once the job reached a
// terminal status or polling gave up.
func (c *Coordinator) handlePollDone(epoch uint64, jobID string, out poller.Outcome[StatusReport]) {
	c.mu.Lock()
	if epoch != c.epoch || c.closed || c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.poll = nil

	if out.Err != nil {
		reason := "status polling gave up: " + errors.Reason(out.Err)
		c.failAndNotifyLocked(jobID, errors.NewJobFailureError(jobID, reason).WithCause(out.Err))
		return
	}

	switch out.Status.Status {
	case JobFailed:
		reason := out.Status.Message
		if reason == "" {
			reason = "job reported failure"
		}
		c.failAndNotifyLocked(jobID, errors.NewJobFailureError(jobID, reason))
		return
	case JobComplete:
		// No selection has been made here, so complete is treated like
		// awaiting_selection.
		c.logger.Warn("job reported complete before a winner was selected", "job_id", jobID)
	}
	c.mu.Unlock()

	candidates, err := c.backend.ListCandidates(c.ctx, jobID)

	c.mu.Lock()
	if epoch != c.epoch || c.closed || c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	if err != nil {
		collabErr := collaboratorError("listCandidates", jobID, "list candidates failed", err)
		c.failAndNotifyLocked(jobID, errors.NewJobFailureError(jobID, errors.Reason(collabErr)).WithCause(collabErr))
		return
	}

	candidates = normalizeCandidates(candidates)
	if c.job != nil {
		if want := c.expectedLocked(); want > 0 && want != len(candidates) {
			c.logger.Warn("candidate count differs from request", "got", len(candidates), "want", want)
		}
	}
	c.candidates = candidates
	change := c.transitionLocked(StateAwaitingSelection)
	cb := c.callbacks
	c.mu.Unlock()

	c.notifyStateChange(change)
	c.logger.Info("candidates ready", "count", len(candidates))
	c.publish(event.NewTournamentCandidatesEvent(jobID, len(candidates)))
	if cb != nil && cb.OnCandidatesReady != nil {
		cb.OnCandidatesReady(slices.Clone(candidates))
	}
}

func (c *Coordinator) expectedLocked() int {
	return len(c.job.AgentIDs) * len(c.job.Strategies) * c.job.VariantsPerAgent
}

// normalizeCandidates fills in missing IDs and word counts.
func normalizeCandidates(in []Candidate) []Candidate {
	out := make([]Candidate, len(in))
	for i, cand := range in {
		if cand.ID == "" {
			cand.ID = uuid.NewString()
		}
		if cand.WordCount == 0 {
			cand.WordCount = scene.WordCount(cand.Content)
		}
		out[i] = cand
	}
	return out
}

// SelectCandidate records the user's choice. It is only valid while
// awaiting selection.
func (c *Coordinator) SelectCandidate(candidateID, notes, editedContent string) (Selection, error) {
	c.mu.Lock()
	if err := c.checkLocked("select candidate", StateAwaitingSelection); err != nil {
		c.mu.Unlock()
		return Selection{}, err
	}
	idx := slices.IndexFunc(c.candidates, func(cand Candidate) bool { return cand.ID == candidateID })
	if idx < 0 {
		c.mu.Unlock()
		return Selection{}, errors.NewValidationError("unknown candidate").
			WithField("candidate_id").WithValue(candidateID)
	}
	sel := Selection{
		Candidate:     c.candidates[idx],
		Notes:         notes,
		EditedContent: editedContent,
	}
	c.selection = &sel
	change := c.transitionLocked(StateSelectingWinner)
	c.mu.Unlock()

	c.logger.Info("candidate selected",
		"candidate_id", candidateID,
		"agent_id", sel.Candidate.AgentID,
		"strategy", sel.Candidate.Strategy,
		"edited", editedContent != "",
	)
	c.notifyStateChange(change)
	return sel, nil
}

// ConfirmWinner moves to generating_bundle and generates the bundle in the
// background. The result is applied as OnBundleComplete or OnBundleError.
// Canceling ctx cancels bundle generation.
func (c *Coordinator) ConfirmWinner(ctx context.Context) error {
	c.mu.Lock()
	if err := c.checkLocked("confirm winner", StateSelectingWinner); err != nil {
		c.mu.Unlock()
		return err
	}
	sel := *c.selection
	jobID := c.job.ID
	epoch := c.epoch
	bctx, cancel := context.WithCancel(c.ctx)
	stop := context.AfterFunc(ctx, cancel)
	c.bundleCancel = cancel
	c.lastError = ""
	change := c.transitionLocked(StateGeneratingBundle)
	c.mu.Unlock()

	c.notifyStateChange(change)

	go func() {
		defer stop()
		defer cancel()

		refs, err := c.backend.GenerateBundle(bctx, jobID, sel)
		if err != nil {
			collabErr := collaboratorError("generateBundle", jobID, "generate bundle failed", err)
			err = c.resolveBundle(epoch, nil, errors.Reason(collabErr))
		} else {
			err = c.resolveBundle(epoch, refs, "")
		}
		if err != nil {
			c.logger.Debug("bundle result not applied", "error", err)
		}
	}()
	return nil
}

// OnBundleComplete moves generating_bundle to complete.
func (c *Coordinator) OnBundleComplete(refs []string) error {
	return c.resolveBundle(c.currentEpoch(), refs, "")
}

// OnBundleError moves generating_bundle back to selecting_winner, keeping
// the selection so the user can confirm again.
func (c *Coordinator) OnBundleError(reason string) error {
	if reason == "" {
		reason = "bundle generation failed"
	}
	return c.resolveBundle(c.currentEpoch(), nil, reason)
}

func (c *Coordinator) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *Coordinator) resolveBundle(epoch uint64, refs []string, reason string) error {
	op := "bundle complete"
	if reason != "" {
		op = "bundle error"
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", op, errors.ErrCanceled)
	}
	if err := c.checkLocked(op, StateGeneratingBundle); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.bundleCancel != nil {
		c.bundleCancel()
		c.bundleCancel = nil
	}
	jobID := c.job.ID
	var change stateChange
	if reason != "" {
		c.lastError = reason
		change = c.transitionLocked(StateSelectingWinner)
	} else {
		c.bundleRefs = slices.Clone(refs)
		c.job.Status = JobComplete
		change = c.transitionLocked(StateComplete)
	}
	cb := c.callbacks
	c.mu.Unlock()

	c.notifyStateChange(change)
	if reason != "" {
		c.logger.Warn("bundle generation failed", "reason", reason)
		if cb != nil && cb.OnFailed != nil {
			cb.OnFailed(reason)
		}
		return nil
	}

	c.logger.Info("bundle generated", "refs", len(refs))
	c.publish(event.NewTournamentBundleEvent(jobID, slices.Clone(refs)))
	if cb != nil && cb.OnBundleReady != nil {
		cb.OnBundleReady(slices.Clone(refs))
	}
	return nil
}

// Reset cancels any active poller or bundle generation and returns to idle.
// It is valid from every state and is the only way out of failed.
func (c *Coordinator) Reset() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.NewSequenceViolationError("reset", "closed").WithCause(errors.ErrClosed)
	}
	c.stopWorkLocked()
	c.epoch++
	c.submitting = false
	c.job = nil
	c.lastStatus = nil
	c.candidates = nil
	c.selection = nil
	c.bundleRefs = nil
	c.failure = ""
	c.lastError = ""
	change := c.transitionLocked(StateIdle)
	c.mu.Unlock()

	c.logger.Info("tournament reset")
	c.notifyStateChange(change)
	return nil
}

// Close cancels the poller first, then any other background work. Every
// later operation is a sequence violation.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stopWorkLocked()
	c.cancelFunc()
	c.epoch++
	c.closed = true
}

func (c *Coordinator) stopWorkLocked() {
	if c.poll != nil {
		c.poll.Cancel()
		c.poll = nil
	}
	if c.bundleCancel != nil {
		c.bundleCancel()
		c.bundleCancel = nil
	}
}

func (c *Coordinator) checkLocked(op string, want State) error {
	if c.closed {
		return errors.NewSequenceViolationError(op, "closed").WithCause(errors.ErrClosed)
	}
	if c.state != want {
		return errors.NewSequenceViolationError(op, string(c.state))
	}
	return nil
}

// failAndNotifyLocked moves to failed and releases the lock.
func (c *Coordinator) failAndNotifyLocked(jobID string, err *errors.JobFailureError) {
	c.failure = err.Reason
	if c.job != nil {
		c.job.Status = JobFailed
	}
	change := c.transitionLocked(StateFailed)
	cb := c.callbacks
	c.mu.Unlock()

	c.logger.Error("tournament failed", "job_id", jobID, "reason", err.Reason, "error", err)
	c.notifyStateChange(change)
	c.publish(event.NewTournamentFailedEvent(jobID, err.Reason))
	if cb != nil && cb.OnFailed != nil {
		cb.OnFailed(err.Reason)
	}
}

type stateChange struct {
	from, to State
	jobID    string
	cb       *Callbacks
}

func (c *Coordinator) transitionLocked(to State) stateChange {
	ch := stateChange{from: c.state, to: to, cb: c.callbacks}
	if c.job != nil {
		ch.jobID = c.job.ID
	}
	c.state = to
	return ch
}

// notifyStateChange notifies callbacks of state change
func (c *Coordinator) notifyStateChange(ch stateChange) {
	if ch.from == ch.to {
		return
	}
	c.logger.Info("state changed",
		"from_state", string(ch.from),
		"to_state", string(ch.to),
		"job_id", ch.jobID,
	)
	c.publish(event.NewTournamentStateEvent(ch.jobID, string(ch.from), string(ch.to)))
	if ch.cb != nil && ch.cb.OnStateChange != nil {
		ch.cb.OnStateChange(ch.from, ch.to)
	}
}

func (c *Coordinator) publish(e event.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

// collaboratorError keeps an existing *errors.CollaboratorError so the
// status code survives, and wraps anything else.
func collaboratorError(collaborator, jobID, msg string, err error) *errors.CollaboratorError {
	var collabErr *errors.CollaboratorError
	if !errors.As(err, &collabErr) {
		collabErr = errors.NewCollaboratorError(msg, err).WithCollaborator(collaborator)
	}
	if jobID != "" && collabErr.JobID == "" {
		collabErr = collabErr.WithJobID(jobID)
	}
	return collabErr
}
