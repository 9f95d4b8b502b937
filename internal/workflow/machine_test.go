package workflow

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/quillforge/quill/internal/errors"
	"github.com/quillforge/quill/internal/event"
	"github.com/quillforge/quill/internal/scaffold"
	"github.com/quillforge/quill/internal/testutil"
	"github.com/quillforge/quill/internal/tournament"
)

const waitTimeout = 2 * time.Second

// fakeBackend is a tournament backend with a fixed status script.
type fakeBackend struct {
	mu          sync.Mutex
	status      tournament.StatusReport
	candidates  []tournament.Candidate
	refs        []string
	statusCalls int
}

func (f *fakeBackend) Submit(_ context.Context, _ tournament.Config) (tournament.Job, error) {
	return tournament.Job{ID: "job-1"}, nil
}

func (f *fakeBackend) FetchStatus(_ context.Context, _ string) (tournament.StatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	return f.status, nil
}

func (f *fakeBackend) ListCandidates(_ context.Context, _ string) ([]tournament.Candidate, error) {
	return slices.Clone(f.candidates), nil
}

func (f *fakeBackend) GenerateBundle(_ context.Context, _ string, _ tournament.Selection) ([]string, error) {
	return f.refs, nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

type fakeGenerator struct {
	err     error
	block   bool
	started chan struct{}
}

func (g *fakeGenerator) Generate(ctx context.Context, req scaffold.Request) (scaffold.Scaffold, error) {
	if g.started != nil {
		close(g.started)
	}
	if g.block {
		<-ctx.Done()
		return scaffold.Scaffold{}, ctx.Err()
	}
	if g.err != nil {
		return scaffold.Scaffold{}, g.err
	}
	return scaffold.Scaffold{ID: "sc-1", Beats: req.Beats, Content: "Rain. The letter. A choice."}, nil
}

type fakeEnricher struct {
	mu    sync.Mutex
	errs  []error
	calls int
	last  scaffold.EnrichRequest
}

func (e *fakeEnricher) Enrich(_ context.Context, req scaffold.EnrichRequest) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.last = req
	if e.calls <= len(e.errs) && e.errs[e.calls-1] != nil {
		return nil, e.errs[e.calls-1]
	}
	return []string{"bundle/outline.md", "bundle/scene.md"}, nil
}

type countingRecorder struct {
	mu    sync.Mutex
	edges []string
}

func (r *countingRecorder) Transition(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges = append(r.edges, from+"->"+to)
}

func candidates() []tournament.Candidate {
	var out []tournament.Candidate
	for _, agent := range []string{"claude", "gpt", "gemini"} {
		for _, strategy := range []string{"action", "dialogue", "interiority"} {
			out = append(out, tournament.Candidate{ID: agent + "/" + strategy, AgentID: agent, Strategy: strategy, Content: "text"})
		}
	}
	return out
}

func tournamentConfig() tournament.Config {
	return tournament.Config{
		SceneID:    "s1",
		Brief:      "brief",
		AgentIDs:   []string{"claude", "gpt", "gemini"},
		Strategies: []string{"action", "dialogue", "interiority"},
	}
}

func newTournamentMachine(t *testing.T, backend *fakeBackend) *Machine {
	t.Helper()
	coord := tournament.NewCoordinator(tournament.CoordinatorConfig{
		Backend: backend,
		Clock:   testutil.NewFakeClock(),
	})
	m := New(Config{Coordinator: coord})
	t.Cleanup(m.Close)
	return m
}

func waitKind(t *testing.T, m *Machine, want Kind) {
	t.Helper()
	testutil.WaitFor(t, waitTimeout, "state "+string(want), func() bool {
		return m.State().Kind() == want
	})
}

func TestCanTransition(t *testing.T) {
	all := []Kind{KindSetup, KindRunning, KindReview, KindSelectWinner, KindGeneratingBundle, KindComplete, KindFailed}
	allowed := map[[2]Kind]bool{
		{KindSetup, KindRunning}:                 true,
		{KindRunning, KindReview}:                true,
		{KindRunning, KindFailed}:                true,
		{KindReview, KindSelectWinner}:           true,
		{KindSelectWinner, KindGeneratingBundle}: true,
		{KindGeneratingBundle, KindComplete}:     true,
		{KindGeneratingBundle, KindSelectWinner}: true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Kind{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestMachine_TournamentRitual(t *testing.T) {
	backend := &fakeBackend{
		status:     tournament.StatusReport{Status: tournament.JobAwaitingSelection},
		candidates: candidates(),
		refs:       []string{"a.md", "b.md"},
	}
	bus := event.NewBus(nil)
	var busMu sync.Mutex
	var busEvents []event.WorkflowTransitionEvent
	bus.Subscribe(event.TypeWorkflowTransition, func(e event.Event) {
		busMu.Lock()
		busEvents = append(busEvents, e.(event.WorkflowTransitionEvent))
		busMu.Unlock()
	})
	rec := &countingRecorder{}

	coord := tournament.NewCoordinator(tournament.CoordinatorConfig{Backend: backend, Clock: testutil.NewFakeClock()})
	m := New(Config{ID: "wf-1", Coordinator: coord, Bus: bus, Recorder: rec})
	defer m.Close()

	var mu sync.Mutex
	var kinds []Kind
	m.Subscribe(func(tr Transition) {
		mu.Lock()
		kinds = append(kinds, tr.To.Kind())
		mu.Unlock()
	})

	ctx := context.Background()
	if err := m.Fire(ctx, Submit{Tournament: tournamentConfig()}); err != nil {
		t.Fatalf("Fire(Submit) error = %v", err)
	}
	waitKind(t, m, KindReview)

	review := m.State().(Review)
	if len(review.Candidates) != 9 {
		t.Fatalf("Review candidates = %d, want 9", len(review.Candidates))
	}

	if err := m.Fire(ctx, Select{CandidateID: review.Candidates[2].ID, Notes: "keep the rain"}); err != nil {
		t.Fatalf("Fire(Select) error = %v", err)
	}
	sw, ok := m.State().(SelectWinner)
	if !ok {
		t.Fatalf("State() = %T, want SelectWinner", m.State())
	}
	if sw.Selection.Candidate.ID != review.Candidates[2].ID || sw.Selection.Notes != "keep the rain" {
		t.Errorf("Selection = %+v", sw.Selection)
	}

	if err := m.Fire(ctx, Confirm{}); err != nil {
		t.Fatalf("Fire(Confirm) error = %v", err)
	}
	waitKind(t, m, KindComplete)

	complete := m.State().(Complete)
	if diff := cmp.Diff([]string{"a.md", "b.md"}, complete.BundleRefs); diff != "" {
		t.Errorf("BundleRefs mismatch (-want +got):\n%s", diff)
	}

	want := []Kind{KindRunning, KindReview, KindSelectWinner, KindGeneratingBundle, KindComplete}
	testutil.WaitFor(t, waitTimeout, "all transitions delivered", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) == len(want)
	})
	mu.Lock()
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
	mu.Unlock()

	busMu.Lock()
	if len(busEvents) != len(want) || busEvents[0].WorkflowID != "wf-1" {
		t.Errorf("bus events = %+v", busEvents)
	}
	busMu.Unlock()

	rec.mu.Lock()
	if len(rec.edges) == 0 || rec.edges[0] != "setup->running" {
		t.Errorf("recorded edges = %v", rec.edges)
	}
	rec.mu.Unlock()
}

func TestMachine_ResetFromFailed(t *testing.T) {
	backend := &fakeBackend{status: tournament.StatusReport{Status: tournament.JobFailed, Message: "all agents timed out"}}
	m := newTournamentMachine(t, backend)

	if err := m.Fire(context.Background(), Submit{Tournament: tournamentConfig()}); err != nil {
		t.Fatalf("Fire(Submit) error = %v", err)
	}
	waitKind(t, m, KindFailed)
	if got := m.State().(Failed).Reason; got != "all agents timed out" {
		t.Errorf("Failed.Reason = %q", got)
	}

	// Failed has no forward edges.
	if err := m.Fire(context.Background(), Confirm{}); !errors.Is(err, errors.ErrSequenceViolation) {
		t.Errorf("Fire(Confirm) from Failed error = %v, want sequence violation", err)
	}

	if err := m.Fire(context.Background(), Reset{}); err != nil {
		t.Fatalf("Fire(Reset) error = %v", err)
	}
	if _, ok := m.State().(Setup); !ok {
		t.Fatalf("State() = %T, want Setup", m.State())
	}
	if m.Coordinator().State() != tournament.StateIdle {
		t.Errorf("coordinator state = %v, want idle", m.Coordinator().State())
	}

	err := m.Fire(context.Background(), Select{CandidateID: "claude/action"})
	if !errors.Is(err, errors.ErrSequenceViolation) {
		t.Errorf("Fire(Select) after reset error = %v, want sequence violation", err)
	}
	if _, ok := m.State().(Setup); !ok {
		t.Errorf("State() = %T after rejected command, want Setup", m.State())
	}
}

func TestMachine_SecondSubmitRejected(t *testing.T) {
	backend := &fakeBackend{status: tournament.StatusReport{Status: tournament.JobRunning}}
	m := newTournamentMachine(t, backend)

	if err := m.Fire(context.Background(), Submit{Tournament: tournamentConfig()}); err != nil {
		t.Fatalf("Fire(Submit) error = %v", err)
	}
	waitKind(t, m, KindRunning)

	err := m.Fire(context.Background(), Submit{Tournament: tournamentConfig()})
	if !errors.Is(err, errors.ErrSequenceViolation) {
		t.Errorf("second Fire(Submit) error = %v, want sequence violation", err)
	}
	err = m.Fire(context.Background(), SubmitScaffold{Request: scaffold.Request{Premise: "p", Beats: []string{"b"}}})
	if !errors.Is(err, errors.ErrSequenceViolation) {
		t.Errorf("Fire(SubmitScaffold) while running error = %v, want sequence violation", err)
	}
	if got := m.State().(Running).JobID; got != "job-1" {
		t.Errorf("Running.JobID = %q, want job-1", got)
	}
}

func TestMachine_SubmitValidationLeavesSetup(t *testing.T) {
	backend := &fakeBackend{}
	m := newTournamentMachine(t, backend)

	cfg := tournamentConfig()
	cfg.AgentIDs = cfg.AgentIDs[:2]
	if err := m.Fire(context.Background(), Submit{Tournament: cfg}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Fatalf("Fire(Submit) error = %v, want validation error", err)
	}
	if _, ok := m.State().(Setup); !ok {
		t.Errorf("State() = %T, want Setup", m.State())
	}
	if m.Ritual() != RitualNone {
		t.Errorf("Ritual() = %q, want none", m.Ritual())
	}
	if backend.calls() != 0 {
		t.Errorf("status calls = %d, want 0", backend.calls())
	}
}

func TestMachine_ScaffoldRitual(t *testing.T) {
	enricher := &fakeEnricher{errs: []error{fmt.Errorf("enrich timeout")}}
	m := New(Config{Generator: &fakeGenerator{}, Enricher: enricher})
	defer m.Close()
	ctx := context.Background()

	err := m.Fire(ctx, SubmitScaffold{Request: scaffold.Request{ID: "req-1", Premise: "A keeper finds a letter.", Beats: []string{"arrival", "letter"}}})
	if err != nil {
		t.Fatalf("Fire(SubmitScaffold) error = %v", err)
	}
	waitKind(t, m, KindReview)
	if m.Ritual() != RitualScaffold {
		t.Errorf("Ritual() = %q, want scaffold", m.Ritual())
	}

	review := m.State().(Review)
	if len(review.Candidates) != 1 || review.Candidates[0].ID != "sc-1" {
		t.Fatalf("Review = %+v, want the single scaffold", review)
	}
	if review.Candidates[0].WordCount != 5 {
		t.Errorf("WordCount = %d, want 5", review.Candidates[0].WordCount)
	}

	if err := m.Fire(ctx, Select{CandidateID: "other"}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Fire(Select unknown) error = %v, want validation error", err)
	}
	if err := m.Fire(ctx, Select{CandidateID: "sc-1", Notes: "more weather", EditedContent: "Rain."}); err != nil {
		t.Fatalf("Fire(Select) error = %v", err)
	}

	if err := m.Fire(ctx, Confirm{}); err != nil {
		t.Fatalf("Fire(Confirm) error = %v", err)
	}
	testutil.WaitFor(t, waitTimeout, "enrich failure", func() bool {
		sw, ok := m.State().(SelectWinner)
		return ok && sw.LastError != ""
	})
	if sw := m.State().(SelectWinner); sw.Selection.Notes != "more weather" {
		t.Errorf("selection lost after enrich failure: %+v", sw.Selection)
	}

	if err := m.Fire(ctx, Confirm{}); err != nil {
		t.Fatalf("retry Fire(Confirm) error = %v", err)
	}
	waitKind(t, m, KindComplete)
	if diff := cmp.Diff([]string{"bundle/outline.md", "bundle/scene.md"}, m.State().(Complete).BundleRefs); diff != "" {
		t.Errorf("BundleRefs mismatch (-want +got):\n%s", diff)
	}

	enricher.mu.Lock()
	defer enricher.mu.Unlock()
	if enricher.last.EditedContent != "Rain." || enricher.last.Scaffold.RequestID != "req-1" {
		t.Errorf("enrich request = %+v", enricher.last)
	}
}

func TestMachine_ScaffoldGenerateFailure(t *testing.T) {
	gen := &fakeGenerator{err: errors.NewCollaboratorError("upstream overloaded", nil).WithStatusCode(503)}
	m := New(Config{Generator: gen})
	defer m.Close()

	err := m.Fire(context.Background(), SubmitScaffold{Request: scaffold.Request{Premise: "p", Beats: []string{"b"}}})
	if err != nil {
		t.Fatalf("Fire(SubmitScaffold) error = %v", err)
	}
	waitKind(t, m, KindFailed)
	if m.State().(Failed).Reason == "" {
		t.Error("Failed.Reason should be set")
	}
}

func TestMachine_CommandsOutOfOrder(t *testing.T) {
	m := New(Config{Generator: &fakeGenerator{}, Enricher: &fakeEnricher{}})
	defer m.Close()

	for _, cmd := range []Command{Select{CandidateID: "x"}, Confirm{}} {
		if err := m.Fire(context.Background(), cmd); !errors.Is(err, errors.ErrSequenceViolation) {
			t.Errorf("Fire(%T) from Setup error = %v, want sequence violation", cmd, err)
		}
	}
	if err := m.Fire(context.Background(), Reset{}); err != nil {
		t.Errorf("Fire(Reset) from Setup error = %v, want nil", err)
	}
	if err := m.Fire(context.Background(), Submit{Tournament: tournamentConfig()}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Fire(Submit) without coordinator error = %v, want validation error", err)
	}
	if err := m.Fire(context.Background(), nil); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Fire(nil) error = %v, want validation error", err)
	}
}

func TestMachine_StateCheckedBeforeConfig(t *testing.T) {
	m := newTournamentMachine(t, &fakeBackend{})
	defer m.Close()

	err := m.Fire(context.Background(), Confirm{})
	if !errors.Is(err, errors.ErrSequenceViolation) {
		t.Errorf("Fire(Confirm) from Setup error = %v, want sequence violation", err)
	}
	if errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Fire(Confirm) from Setup error = %v, want no validation error", err)
	}

	gen := &fakeGenerator{block: true, started: make(chan struct{})}
	sm := New(Config{Generator: gen})
	defer sm.Close()
	if err := sm.Fire(context.Background(), SubmitScaffold{Request: scaffold.Request{Premise: "p", Beats: []string{"b"}}}); err != nil {
		t.Fatalf("Fire(SubmitScaffold) error = %v", err)
	}
	testutil.Recv(t, gen.started, waitTimeout)

	err = sm.Fire(context.Background(), SubmitScaffold{Request: scaffold.Request{}})
	if !errors.Is(err, errors.ErrSequenceViolation) {
		t.Errorf("Fire(empty SubmitScaffold) while Running error = %v, want sequence violation", err)
	}
	err = sm.Fire(context.Background(), Submit{Tournament: tournamentConfig()})
	if !errors.Is(err, errors.ErrSequenceViolation) {
		t.Errorf("Fire(Submit) while Running without coordinator error = %v, want sequence violation", err)
	}
}

func TestMachine_CloseCancelsBackgroundStep(t *testing.T) {
	gen := &fakeGenerator{block: true, started: make(chan struct{})}
	m := New(Config{Generator: gen})

	if err := m.Fire(context.Background(), SubmitScaffold{Request: scaffold.Request{Premise: "p", Beats: []string{"b"}}}); err != nil {
		t.Fatalf("Fire(SubmitScaffold) error = %v", err)
	}
	testutil.Recv(t, gen.started, waitTimeout)
	m.Close()
	m.Close()

	time.Sleep(10 * time.Millisecond)
	if _, ok := m.State().(Running); !ok {
		t.Errorf("State() = %T, want Running left untouched after close", m.State())
	}
	if err := m.Fire(context.Background(), Reset{}); !errors.Is(err, errors.ErrClosed) {
		t.Errorf("Fire(Reset) after Close error = %v, want ErrClosed", err)
	}
}

func TestMachine_CloseStopsPoller(t *testing.T) {
	clock := testutil.NewFakeClock()
	backend := &fakeBackend{status: tournament.StatusReport{Status: tournament.JobRunning}}
	coord := tournament.NewCoordinator(tournament.CoordinatorConfig{Backend: backend, Clock: clock})
	m := New(Config{Coordinator: coord})

	if err := m.Fire(context.Background(), Submit{Tournament: tournamentConfig()}); err != nil {
		t.Fatalf("Fire(Submit) error = %v", err)
	}
	clock.BlockUntil(1)
	m.Close()
	clock.Advance(time.Minute)

	if got := backend.calls(); got != 1 {
		t.Errorf("status calls after close = %d, want 1", got)
	}
}

func TestMachine_SubscribeCancel(t *testing.T) {
	m := New(Config{Generator: &fakeGenerator{}})
	defer m.Close()

	var mu sync.Mutex
	count := 0
	cancel := m.Subscribe(func(Transition) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	cancel()
	cancel()

	if err := m.Fire(context.Background(), SubmitScaffold{Request: scaffold.Request{Premise: "p", Beats: []string{"b"}}}); err != nil {
		t.Fatalf("Fire(SubmitScaffold) error = %v", err)
	}
	waitKind(t, m, KindReview)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("canceled subscriber called %d times", count)
	}
}
