package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quillforge/quill/internal/errors"
	"github.com/quillforge/quill/internal/event"
	"github.com/quillforge/quill/internal/logging"
	"github.com/quillforge/quill/internal/scaffold"
	"github.com/quillforge/quill/internal/scene"
	"github.com/quillforge/quill/internal/tournament"
)

const causeReset = "reset"

// Recorder counts transitions. *metrics.Metrics implements it.
type Recorder interface {
	Transition(from, to string)
}

// Config holds the collaborators of a Machine. Coordinator enables the
// tournament ritual; Generator and Enricher enable the scaffold ritual.
type Config struct {
	ID          string
	Coordinator *tournament.Coordinator
	Generator   scaffold.Generator
	Enricher    scaffold.Enricher
	Logger      *logging.Logger
	Bus         *event.Bus
	Recorder    Recorder
	Now         func() time.Time
}

// Machine is the single owner of one workflow's State. Commands move it
// along the allowed edges; anything else is a sequence violation that
// leaves the state untouched.
type Machine struct {
	id       string
	coord    *tournament.Coordinator
	gen      scaffold.Generator
	enricher scaffold.Enricher
	logger   *logging.Logger
	bus      *event.Bus
	recorder Recorder
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	ritual     Ritual
	epoch      uint64 // bumped by Reset and Close; background results from older epochs are dropped
	pending    bool   // a delegated coordinator call is in progress
	closed     bool
	scaffold   *scaffold.Scaffold
	stepCancel context.CancelFunc
	subs       map[uint64]func(Transition)
	nextSub    uint64
}

// New creates a Machine in Setup. The machine takes ownership of
// cfg.Coordinator and replaces its callbacks.
func New(cfg Config) *Machine {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Machine{
		id:       cfg.ID,
		coord:    cfg.Coordinator,
		gen:      cfg.Generator,
		enricher: cfg.Enricher,
		logger:   cfg.Logger.WithWorkflow(cfg.ID).WithPhase("workflow"),
		bus:      cfg.Bus,
		recorder: cfg.Recorder,
		now:      cfg.Now,
		ctx:      ctx,
		cancel:   cancel,
		state:    Setup{},
		subs:     make(map[uint64]func(Transition)),
	}
	if m.coord != nil {
		m.coord.SetCallbacks(&tournament.Callbacks{OnStateChange: m.mirror})
	}
	return m
}

// ID returns the workflow identifier.
func (m *Machine) ID() string {
	return m.id
}

// State returns a copy of the live state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyState(m.state)
}

// Ritual returns the flow currently driven, or RitualNone in Setup.
func (m *Machine) Ritual() Ritual {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ritual
}

// Coordinator returns the owned tournament coordinator, if any.
func (m *Machine) Coordinator() *tournament.Coordinator {
	return m.coord
}

// Subscribe registers fn for every transition. The returned function
// removes the subscription.
func (m *Machine) Subscribe(fn func(Transition)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Fire applies cmd. Commands are rejected, never queued, while a previous
// step is still outstanding.
func (m *Machine) Fire(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case Reset:
		return m.reset()
	case Submit:
		return m.submitTournament(ctx, c)
	case SubmitScaffold:
		return m.submitScaffold(c)
	case Select:
		return m.selectCandidate(c)
	case Confirm:
		return m.confirm()
	default:
		return errors.NewValidationError("unknown command").WithValue(fmt.Sprintf("%T", cmd))
	}
}

// Close cancels the owned poller first, then any background step. Later
// commands are sequence violations.
func (m *Machine) Close() {
	if m.coord != nil {
		m.coord.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.epoch++
	if m.stepCancel != nil {
		m.stepCancel()
		m.stepCancel = nil
	}
	m.cancel()
}

func (m *Machine) checkLocked(op string, want Kind) error {
	if m.closed {
		return errors.NewSequenceViolationError(op, "closed").WithCause(errors.ErrClosed)
	}
	if m.pending {
		return errors.NewSequenceViolationError(op, "busy")
	}
	if kind := m.state.Kind(); kind != want {
		return errors.NewSequenceViolationError(op, string(kind))
	}
	return nil
}

// delegate runs a synchronous coordinator call with the machine marked
// busy. The coordinator's callbacks move the state.
func (m *Machine) delegate(op string, want Kind, call func() error) error {
	m.mu.Lock()
	if err := m.checkLocked(op, want); err != nil {
		m.mu.Unlock()
		return err
	}
	m.pending = true
	m.mu.Unlock()

	err := call()

	m.mu.Lock()
	m.pending = false
	m.mu.Unlock()
	return err
}

func (m *Machine) submitTournament(ctx context.Context, c Submit) error {
	m.mu.Lock()
	err := m.checkLocked("submit", KindSetup)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if m.coord == nil {
		return errors.NewValidationError("tournament ritual is not configured")
	}
	return m.delegate("submit", KindSetup, func() error {
		m.mu.Lock()
		m.ritual = RitualTournament
		m.mu.Unlock()

		_, err := m.coord.Submit(ctx, c.Tournament)
		if err != nil {
			m.mu.Lock()
			if m.state.Kind() == KindSetup {
				m.ritual = RitualNone
			}
			m.mu.Unlock()
		}
		return err
	})
}

func (m *Machine) submitScaffold(c SubmitScaffold) error {
	m.mu.Lock()
	if err := m.checkLocked("submit scaffold", KindSetup); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.gen == nil {
		m.mu.Unlock()
		return errors.NewValidationError("scaffold ritual is not configured")
	}
	req, err := c.Request.Normalize()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.ritual = RitualScaffold
	tr, err := m.transitionLocked(Running{JobID: req.ID}, "scaffold:submit")
	if err != nil {
		m.mu.Unlock()
		return err
	}
	epoch := m.epoch
	stepCtx, cancel := context.WithCancel(m.ctx)
	m.stepCancel = cancel
	m.mu.Unlock()

	m.deliver(tr)
	go m.runGenerate(stepCtx, cancel, epoch, req)
	return nil
}

func (m *Machine) runGenerate(ctx context.Context, cancel context.CancelFunc, epoch uint64, req scaffold.Request) {
	defer cancel()
	sc, err := m.gen.Generate(ctx, req)

	m.mu.Lock()
	if epoch != m.epoch || m.closed {
		m.mu.Unlock()
		return
	}
	m.stepCancel = nil

	var target State
	if err != nil {
		reason := errors.Reason(asCollaborator("generate", "scaffold generation failed", err))
		m.logger.Error("scaffold generation failed", "request_id", req.ID, "error", err)
		target = Failed{Reason: reason}
	} else {
		if sc.ID == "" {
			sc.ID = req.ID
		}
		sc.RequestID = req.ID
		m.scaffold = &sc
		target = Review{Candidates: []tournament.Candidate{scaffoldCandidate(sc)}}
	}
	tr, terr := m.transitionLocked(target, "scaffold:generated")
	m.mu.Unlock()

	if terr != nil {
		m.logger.Error("scaffold result rejected", "error", terr)
		return
	}
	m.deliver(tr)
}

func scaffoldCandidate(sc scaffold.Scaffold) tournament.Candidate {
	return tournament.Candidate{
		ID:        sc.ID,
		AgentID:   "scaffold",
		Strategy:  "scaffold",
		Content:   sc.Content,
		WordCount: scene.WordCount(sc.Content),
	}
}

func (m *Machine) selectCandidate(c Select) error {
	if m.Ritual() == RitualTournament {
		return m.delegate("select", KindReview, func() error {
			_, err := m.coord.SelectCandidate(c.CandidateID, c.Notes, c.EditedContent)
			return err
		})
	}

	m.mu.Lock()
	if err := m.checkLocked("select", KindReview); err != nil {
		m.mu.Unlock()
		return err
	}
	review := m.state.(Review)
	var chosen *tournament.Candidate
	for i := range review.Candidates {
		if review.Candidates[i].ID == c.CandidateID {
			chosen = &review.Candidates[i]
			break
		}
	}
	if chosen == nil {
		m.mu.Unlock()
		return errors.NewValidationError("unknown candidate").
			WithField("candidate_id").WithValue(c.CandidateID)
	}
	tr, err := m.transitionLocked(SelectWinner{Selection: tournament.Selection{
		Candidate:     *chosen,
		Notes:         c.Notes,
		EditedContent: c.EditedContent,
	}}, "scaffold:select")
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.deliver(tr)
	return nil
}

func (m *Machine) confirm() error {
	m.mu.Lock()
	if err := m.checkLocked("confirm", KindSelectWinner); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.ritual == RitualTournament {
		m.mu.Unlock()
		return m.delegate("confirm", KindSelectWinner, func() error {
			return m.coord.ConfirmWinner(m.ctx)
		})
	}
	if m.enricher == nil {
		m.mu.Unlock()
		return errors.NewValidationError("scaffold enrichment is not configured")
	}
	sel := m.state.(SelectWinner).Selection
	req := scaffold.EnrichRequest{
		Scaffold:      *m.scaffold,
		Notes:         sel.Notes,
		EditedContent: sel.EditedContent,
	}
	tr, err := m.transitionLocked(GeneratingBundle{Selection: sel}, "scaffold:confirm")
	if err != nil {
		m.mu.Unlock()
		return err
	}
	epoch := m.epoch
	stepCtx, cancel := context.WithCancel(m.ctx)
	m.stepCancel = cancel
	m.mu.Unlock()

	m.deliver(tr)
	go m.runEnrich(stepCtx, cancel, epoch, sel, req)
	return nil
}

func (m *Machine) runEnrich(ctx context.Context, cancel context.CancelFunc, epoch uint64, sel tournament.Selection, req scaffold.EnrichRequest) {
	defer cancel()
	refs, err := m.enricher.Enrich(ctx, req)

	m.mu.Lock()
	if epoch != m.epoch || m.closed {
		m.mu.Unlock()
		return
	}
	m.stepCancel = nil

	var target State
	if err != nil {
		reason := errors.Reason(asCollaborator("enrich", "scaffold enrichment failed", err))
		m.logger.Warn("scaffold enrichment failed", "scaffold_id", req.Scaffold.ID, "error", err)
		target = SelectWinner{Selection: sel, LastError: reason}
	} else {
		target = Complete{BundleRefs: refs}
	}
	tr, terr := m.transitionLocked(target, "scaffold:enriched")
	m.mu.Unlock()

	if terr != nil {
		m.logger.Error("enrichment result rejected", "error", terr)
		return
	}
	m.deliver(tr)
}

func (m *Machine) reset() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.NewSequenceViolationError("reset", "closed").WithCause(errors.ErrClosed)
	}
	m.epoch++
	if m.stepCancel != nil {
		m.stepCancel()
		m.stepCancel = nil
	}
	m.ritual = RitualNone
	m.scaffold = nil
	m.mu.Unlock()

	// The poller goes first.
	if m.coord != nil {
		if err := m.coord.Reset(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	if m.state.Kind() == KindSetup {
		m.mu.Unlock()
		return nil
	}
	tr := m.setLocked(Setup{}, causeReset)
	m.mu.Unlock()

	m.deliver(tr)
	return nil
}

// mirror follows the coordinator into the matching workflow state.
func (m *Machine) mirror(_, to tournament.State) {
	snap := m.coord.Snapshot()
	if snap.State != to {
		return
	}
	target, ok := fromSnapshot(snap)
	if !ok {
		return
	}

	m.mu.Lock()
	if m.closed || m.ritual != RitualTournament {
		m.mu.Unlock()
		return
	}
	tr, err := m.transitionLocked(target, "tournament:"+string(to))
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("coordinator change rejected", "to", string(to), "error", err)
		return
	}
	m.deliver(tr)
}

func (m *Machine) transitionLocked(to State, cause string) (Transition, error) {
	from := m.state.Kind()
	if !CanTransition(from, to.Kind()) {
		return Transition{}, errors.NewSequenceViolationError("transition to "+string(to.Kind()), string(from))
	}
	return m.setLocked(to, cause), nil
}

func (m *Machine) setLocked(to State, cause string) Transition {
	tr := Transition{From: m.state, To: copyState(to), Cause: cause, At: m.now()}
	m.state = tr.To
	return tr
}

// deliver reports tr to the log, metrics, bus and subscribers. Called
// without the lock held.
func (m *Machine) deliver(tr Transition) {
	from, to := string(tr.From.Kind()), string(tr.To.Kind())
	m.logger.Info("workflow transition", "from", from, "to", to, "cause", tr.Cause)

	if m.recorder != nil {
		m.recorder.Transition(from, to)
	}
	if m.bus != nil {
		m.bus.Publish(event.NewWorkflowTransitionEvent(m.id, from, to, tr.Cause))
	}

	m.mu.Lock()
	subs := make([]func(Transition), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(Transition{From: copyState(tr.From), To: copyState(tr.To), Cause: tr.Cause, At: tr.At})
	}
}

func asCollaborator(name, msg string, err error) *errors.CollaboratorError {
	var collabErr *errors.CollaboratorError
	if errors.As(err, &collabErr) {
		return collabErr
	}
	return errors.NewCollaboratorError(msg, err).WithCollaborator(name)
}
