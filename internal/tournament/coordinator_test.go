package tournament

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
	"github.com/quillforge/quill/internal/testutil"
)

const waitTimeout = 2 * time.Second

// Mock implementations for coordinator tests

type mockBackend struct {
	mu sync.Mutex

	submitErr  error
	statuses   []StatusReport // repeats the last entry
	statusErr  error
	candidates []Candidate
	listErr    error
	bundleRefs []string
	bundleErr  error
	// bundleRelease, when set, blocks GenerateBundle until closed.
	bundleRelease chan struct{}
	// submitRelease, when set, blocks Submit until closed. submitStarted
	// is closed when Submit is entered.
	submitRelease chan struct{}
	submitStarted chan struct{}

	submitCalls int
	statusCalls int
	listCalls   int
	bundleCalls int
	lastConfig  Config
	lastSel     Selection
}

func (m *mockBackend) Submit(_ context.Context, cfg Config) (Job, error) {
	if m.submitStarted != nil {
		close(m.submitStarted)
	}
	if m.submitRelease != nil {
		<-m.submitRelease
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitCalls++
	m.lastConfig = cfg
	if m.submitErr != nil {
		return Job{}, m.submitErr
	}
	return Job{ID: fmt.Sprintf("job-%d", m.submitCalls), Status: JobRunning}, nil
}

func (m *mockBackend) FetchStatus(_ context.Context, _ string) (StatusReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCalls++
	if m.statusErr != nil {
		return StatusReport{}, m.statusErr
	}
	i := min(m.statusCalls, len(m.statuses)) - 1
	return m.statuses[i], nil
}

func (m *mockBackend) ListCandidates(_ context.Context, _ string) ([]Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	return slices.Clone(m.candidates), nil
}

func (m *mockBackend) GenerateBundle(ctx context.Context, _ string, sel Selection) ([]string, error) {
	m.mu.Lock()
	m.bundleCalls++
	m.lastSel = sel
	release := m.bundleRelease
	refs, err := m.bundleRefs, m.bundleErr
	m.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return refs, err
}

func (m *mockBackend) counts() (submit, status, list, bundle int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitCalls, m.statusCalls, m.listCalls, m.bundleCalls
}

func nineCandidates() []Candidate {
	var out []Candidate
	for _, agent := range []string{"claude", "gpt", "gemini"} {
		for _, strategy := range []string{"action", "dialogue", "interiority"} {
			out = append(out, Candidate{
				ID:       agent + "-" + strategy,
				AgentID:  agent,
				Strategy: strategy,
				Content:  "The door opened onto " + strategy + ".",
			})
		}
	}
	return out
}

func validConfig() Config {
	return Config{
		SceneID:    "ch03-s02",
		Brief:      "Raise the stakes before the storm.",
		AgentIDs:   []string{"claude", "gpt", "gemini"},
		Strategies: []string{"action", "dialogue", "interiority"},
	}
}

func newTestCoordinator(t *testing.T, backend *mockBackend, clock *testutil.FakeClock) *Coordinator {
	t.Helper()
	c := NewCoordinator(CoordinatorConfig{
		Backend:        backend,
		PollInterval:   2 * time.Second,
		ErrorThreshold: 2,
		Clock:          clock,
	})
	t.Cleanup(c.Close)
	return c
}

func waitState(t *testing.T, c *Coordinator, want State) {
	t.Helper()
	testutil.WaitFor(t, waitTimeout, "state "+string(want), func() bool {
		return c.State() == want
	})
}

func TestCoordinator_EndToEnd(t *testing.T) {
	clock := testutil.NewFakeClock()
	release := make(chan struct{})
	backend := &mockBackend{
		statuses:      []StatusReport{{Status: JobRunning}, {Status: JobAwaitingSelection}},
		candidates:    nineCandidates(),
		bundleRefs:    []string{"a.md", "b.md"},
		bundleRelease: release,
	}
	bus := event.NewBus(nil)
	var mu sync.Mutex
	var eventTypes []string
	bus.SubscribeAll(func(e event.Event) {
		mu.Lock()
		eventTypes = append(eventTypes, e.EventType())
		mu.Unlock()
	})

	c := NewCoordinator(CoordinatorConfig{Backend: backend, Bus: bus, Clock: clock})
	defer c.Close()

	var transitions []string
	var ready []Candidate
	c.SetCallbacks(&Callbacks{
		OnStateChange: func(from, to State) {
			mu.Lock()
			transitions = append(transitions, string(from)+"->"+string(to))
			mu.Unlock()
		},
		OnCandidatesReady: func(cands []Candidate) {
			mu.Lock()
			ready = cands
			mu.Unlock()
		},
	})

	job, err := c.Submit(context.Background(), validConfig())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if job.ID != "job-1" {
		t.Errorf("job.ID = %q, want %q", job.ID, "job-1")
	}
	if c.State() != StateRunning {
		t.Fatalf("State() = %v, want %v", c.State(), StateRunning)
	}

	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)
	waitState(t, c, StateAwaitingSelection)
	testutil.WaitFor(t, waitTimeout, "candidates callback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ready != nil
	})

	cands := c.Candidates()
	if len(cands) != 9 {
		t.Fatalf("len(Candidates()) = %d, want 9", len(cands))
	}
	if _, status, list, _ := backend.counts(); status != 2 || list != 1 {
		t.Errorf("status calls = %d, list calls = %d, want 2 and 1", status, list)
	}

	sel, err := c.SelectCandidate(cands[2].ID, "tighten the last line", "")
	if err != nil {
		t.Fatalf("SelectCandidate() error = %v", err)
	}
	if sel.Candidate.ID != cands[2].ID {
		t.Errorf("selected %q, want %q", sel.Candidate.ID, cands[2].ID)
	}
	if c.State() != StateSelectingWinner {
		t.Fatalf("State() = %v, want %v", c.State(), StateSelectingWinner)
	}

	if err := c.ConfirmWinner(context.Background()); err != nil {
		t.Fatalf("ConfirmWinner() error = %v", err)
	}
	if c.State() != StateGeneratingBundle {
		t.Fatalf("State() = %v, want %v", c.State(), StateGeneratingBundle)
	}

	close(release)
	waitState(t, c, StateComplete)

	if diff := cmp.Diff([]string{"a.md", "b.md"}, c.BundleRefs()); diff != "" {
		t.Errorf("BundleRefs() mismatch (-want +got):\n%s", diff)
	}
	backend.mu.Lock()
	if backend.lastSel.Notes != "tighten the last line" {
		t.Errorf("bundle selection notes = %q", backend.lastSel.Notes)
	}
	backend.mu.Unlock()

	testutil.WaitFor(t, waitTimeout, "bundle notifications", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) == 5 && slices.Contains(eventTypes, event.TypeTournamentBundleReady)
	})

	mu.Lock()
	defer mu.Unlock()
	wantTransitions := []string{
		"idle->running",
		"running->awaiting_selection",
		"awaiting_selection->selecting_winner",
		"selecting_winner->generating_bundle",
		"generating_bundle->complete",
	}
	if diff := cmp.Diff(wantTransitions, transitions); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
	if len(ready) != 9 {
		t.Errorf("OnCandidatesReady got %d candidates, want 9", len(ready))
	}
	if !slices.Contains(eventTypes, event.TypeTournamentCandidates) || !slices.Contains(eventTypes, event.TypeTournamentBundleReady) {
		t.Errorf("bus events = %v, want candidates and bundle events", eventTypes)
	}
}

func TestCoordinator_OnBundleCompleteDirect(t *testing.T) {
	clock := testutil.NewFakeClock()
	release := make(chan struct{})
	defer close(release)
	backend := &mockBackend{
		statuses:      []StatusReport{{Status: JobAwaitingSelection}},
		candidates:    nineCandidates(),
		bundleRefs:    []string{"late.md"},
		bundleRelease: release,
	}
	c := newTestCoordinator(t, backend, clock)

	if _, err := c.Submit(context.Background(), validConfig()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitState(t, c, StateAwaitingSelection)
	if _, err := c.SelectCandidate(c.Candidates()[2].ID, "", ""); err != nil {
		t.Fatalf("SelectCandidate() error = %v", err)
	}
	if err := c.ConfirmWinner(context.Background()); err != nil {
		t.Fatalf("ConfirmWinner() error = %v", err)
	}

	if err := c.OnBundleComplete([]string{"a.md", "b.md"}); err != nil {
		t.Fatalf("OnBundleComplete() error = %v", err)
	}
	if c.State() != StateComplete {
		t.Fatalf("State() = %v, want %v", c.State(), StateComplete)
	}
	if diff := cmp.Diff([]string{"a.md", "b.md"}, c.BundleRefs()); diff != "" {
		t.Errorf("BundleRefs() mismatch (-want +got):\n%s", diff)
	}

	err := c.OnBundleComplete([]string{"x.md"})
	if !errors.Is(err, errors.ErrSequenceViolation) {
		t.Errorf("second OnBundleComplete() error = %v, want sequence violation", err)
	}
}

func TestCoordinator_SubmitValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{
			name:   "two agents",
			mutate: func(c *Config) { c.AgentIDs = []string{"claude", "gpt"} },
			field:  "agent_ids",
		},
		{
			name:   "blank brief",
			mutate: func(c *Config) { c.Brief = "   " },
			field:  "brief",
		},
		{
			name:   "missing scene",
			mutate: func(c *Config) { c.SceneID = "" },
			field:  "scene_id",
		},
		{
			name:   "duplicate agent",
			mutate: func(c *Config) { c.AgentIDs = []string{"claude", "gpt", "claude"} },
			field:  "agent_ids",
		},
		{
			name:   "blank strategy",
			mutate: func(c *Config) { c.Strategies = []string{"action", ""} },
			field:  "strategies",
		},
		{
			name:   "negative variants",
			mutate: func(c *Config) { c.VariantsPerAgent = -1 },
			field:  "variants_per_agent",
		},
		{
			name:   "no strategies and no defaults",
			mutate: func(c *Config) { c.Strategies = nil },
			field:  "strategies",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &mockBackend{}
			c := newTestCoordinator(t, backend, testutil.NewFakeClock())

			cfg := validConfig()
			tt.mutate(&cfg)
			_, err := c.Submit(context.Background(), cfg)

			var valErr *errors.ValidationError
			if !errors.As(err, &valErr) {
				t.Fatalf("Submit() error = %v, want ValidationError", err)
			}
			if valErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", valErr.Field, tt.field)
			}
			if !errors.Is(err, errors.ErrInvalidInput) {
				t.Error("validation error should match ErrInvalidInput")
			}
			if submit, status, list, bundle := backend.counts(); submit+status+list+bundle != 0 {
				t.Errorf("backend calls = %d/%d/%d/%d, want none", submit, status, list, bundle)
			}
			if c.State() != StateIdle {
				t.Errorf("State() = %v, want %v", c.State(), StateIdle)
			}
		})
	}
}

func TestCoordinator_MinAgentsConfig(t *testing.T) {
	backend := &mockBackend{}
	c := NewCoordinator(CoordinatorConfig{Backend: backend, MinAgents: 4, Clock: testutil.NewFakeClock()})
	defer c.Close()

	if _, err := c.Submit(context.Background(), validConfig()); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Submit() with 3 agents and MinAgents=4 error = %v, want validation error", err)
	}

	low := NewCoordinator(CoordinatorConfig{Backend: backend, MinAgents: 1})
	defer low.Close()
	cfg := validConfig()
	cfg.AgentIDs = cfg.AgentIDs[:2]
	if _, err := low.Submit(context.Background(), cfg); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("MinAgents below 3 must not lower the floor, error = %v", err)
	}
}

func TestCoordinator_DefaultStrategies(t *testing.T) {
	backend := &mockBackend{statuses: []StatusReport{{Status: JobRunning}}}
	c := NewCoordinator(CoordinatorConfig{
		Backend:           backend,
		Clock:             testutil.NewFakeClock(),
		DefaultStrategies: []string{"action", "dialogue"},
	})
	defer c.Close()

	cfg := validConfig()
	cfg.Strategies = nil
	job, err := c.Submit(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if diff := cmp.Diff([]string{"action", "dialogue"}, job.Strategies); diff != "" {
		t.Errorf("Strategies mismatch (-want +got):\n%s", diff)
	}
	if job.VariantsPerAgent != 1 {
		t.Errorf("VariantsPerAgent = %d, want 1", job.VariantsPerAgent)
	}
}

func TestCoordinator_SubmitBackendError(t *testing.T) {
	backend := &mockBackend{
		submitErr: errors.NewCollaboratorError("service unavailable", nil).WithStatusCode(503),
	}
	c := newTestCoordinator(t, backend, testutil.NewFakeClock())

	_, err := c.Submit(context.Background(), validConfig())
	var collabErr *errors.CollaboratorError
	if !errors.As(err, &collabErr) {
		t.Fatalf("Submit() error = %v, want CollaboratorError", err)
	}
	if collabErr.StatusCode != 503 {
		t.Errorf("StatusCode = %d, want 503", collabErr.StatusCode)
	}
	if c.State() != StateIdle {
		t.Errorf("State() = %v, want %v", c.State(), StateIdle)
	}

	backend.mu.Lock()
	backend.submitErr = nil
	backend.statuses = []StatusReport{{Status: JobRunning}}
	backend.mu.Unlock()
	if _, err := c.Submit(context.Background(), validConfig()); err != nil {
		t.Errorf("Submit() after backend error = %v, want nil", err)
	}
}

func TestCoordinator_SecondSubmitRejected(t *testing.T) {
	backend := &mockBackend{statuses: []StatusReport{{Status: JobRunning}}}
	c := newTestCoordinator(t, backend, testutil.NewFakeClock())

	if _, err := c.Submit(context.Background(), validConfig()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	_, err := c.Submit(context.Background(), validConfig())
	if !errors.Is(err, errors.ErrSequenceViolation) {
		t.Errorf("second Submit() error = %v, want sequence violation", err)
	}
	if submit, _, _, _ := backend.counts(); submit != 1 {
		t.Errorf("submit calls = %d, want 1", submit)
	}
}

func TestCoordinator_JobFailedThenReset(t *testing.T) {
	backend := &mockBackend{
		statuses: []StatusReport{{Status: JobFailed, Message: "quota exceeded"}},
	}
	c := newTestCoordinator(t, backend, testutil.NewFakeClock())

	failed := make(chan string, 1)
	c.SetCallbacks(&Callbacks{OnFailed: func(reason string) { failed <- reason }})

	if _, err := c.Submit(context.Background(), validConfig()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if reason := testutil.Recv(t, failed, waitTimeout); reason != "quota exceeded" {
		t.Errorf("OnFailed reason = %q, want %q", reason, "quota exceeded")
	}
	snap := c.Snapshot()
	if snap.State != StateFailed || snap.Failure != "quota exceeded" {
		t.Errorf("Snapshot = %+v", snap)
	}
	if _, _, list, _ := backend.counts(); list != 0 {
		t.Errorf("list calls = %d, want 0", list)
	}

	// Failed only leaves through Reset.
	if _, err := c.Submit(context.Background(), validConfig()); !errors.Is(err, errors.ErrSequenceViolation) {
		t.Errorf("Submit() from failed error = %v, want sequence violation", err)
	}

	if err := c.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if c.State() != StateIdle {
		t.Errorf("State() = %v, want %v", c.State(), StateIdle)
	}
	if _, err := c.SelectCandidate("claude-action", "", ""); !errors.Is(err, errors.ErrSequenceViolation) {
		t.Errorf("SelectCandidate() after reset error = %v, want sequence violation", err)
	}
	if snap := c.Snapshot(); snap.Failure != "" || snap.Job != nil {
		t.Errorf("Snapshot after reset = %+v, want cleared", snap)
	}
}

func TestCoordinator_PollErrorThreshold(t *testing.T) {
	clock := testutil.NewFakeClock()
	backend := &mockBackend{statusErr: fmt.Errorf("connection refused")}
	c := newTestCoordinator(t, backend, clock)

	if _, err := c.Submit(context.Background(), validConfig()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)
	waitState(t, c, StateFailed)

	snap := c.Snapshot()
	if snap.Failure == "" {
		t.Error("Failure should carry a reason")
	}
	if _, status, _, _ := backend.counts(); status != 2 {
		t.Errorf("status calls = %d, want 2", status)
	}
}

func TestCoordinator_ListCandidatesFailure(t *testing.T) {
	backend := &mockBackend{
		statuses: []StatusReport{{Status: JobAwaitingSelection}},
		listErr:  fmt.Errorf("bad gateway"),
	}
	c := newTestCoordinator(t, backend, testutil.NewFakeClock())

	if _, err := c.Submit(context.Background(), validConfig()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitState(t, c, StateFailed)
	if len(c.Candidates()) != 0 {
		t.Error("no candidates should be stored after a list failure")
	}
}

func TestCoordinator_CompleteBeforeSelectionListsCandidates(t *testing.T) {
	backend := &mockBackend{
		statuses:   []StatusReport{{Status: JobComplete}},
		candidates: nineCandidates(),
	}
	c := newTestCoordinator(t, backend, testutil.NewFakeClock())

	if _, err := c.Submit(context.Background(), validConfig()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitState(t, c, StateAwaitingSelection)
	if len(c.Candidates()) != 9 {
		t.Errorf("len(Candidates()) = %d, want 9", len(c.Candidates()))
	}
}

func TestCoordinator_BundleErrorKeepsSelection(t *testing.T) {
	backend := &mockBackend{
		statuses:   []StatusReport{{Status: JobAwaitingSelection}},
		candidates: nineCandidates(),
		bundleErr:  errors.NewCollaboratorError("bundle service down", nil).WithStatusCode(502),
	}
	c := newTestCoordinator(t, backend, testutil.NewFakeClock())

	if _, err := c.Submit(context.Background(), validConfig()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitState(t, c, StateAwaitingSelection)
	want := c.Candidates()[4]
	if _, err := c.SelectCandidate(want.ID, "notes", "edited text"); err != nil {
		t.Fatalf("SelectCandidate() error = %v", err)
	}
	if err := c.ConfirmWinner(context.Background()); err != nil {
		t.Fatalf("ConfirmWinner() error = %v", err)
	}
	waitState(t, c, StateSelectingWinner)

	snap := c.Snapshot()
	if snap.Selection == nil || snap.Selection.Candidate.ID != want.ID {
		t.Fatalf("Selection = %+v, want candidate %q kept", snap.Selection, want.ID)
	}
	if snap.Selection.Content() != "edited text" {
		t.Errorf("Selection.Content() = %q, want edited text", snap.Selection.Content())
	}
	if snap.LastError == "" {
		t.Error("LastError should be set after a bundle failure")
	}

	backend.mu.Lock()
	backend.bundleErr = nil
	backend.bundleRefs = []string{"bundle/scene.md"}
	backend.mu.Unlock()

	if err := c.ConfirmWinner(context.Background()); err != nil {
		t.Fatalf("retry ConfirmWinner() error = %v", err)
	}
	waitState(t, c, StateComplete)
	if _, _, _, bundle := backend.counts(); bundle != 2 {
		t.Errorf("bundle calls = %d, want 2", bundle)
	}
}

func TestCoordinator_SelectUnknownCandidate(t *testing.T) {
	backend := &mockBackend{
		statuses:   []StatusReport{{Status: JobAwaitingSelection}},
		candidates: nineCandidates(),
	}
	c := newTestCoordinator(t, backend, testutil.NewFakeClock())

	if _, err := c.Submit(context.Background(), validConfig()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitState(t, c, StateAwaitingSelection)

	if _, err := c.SelectCandidate("nope", "", ""); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("SelectCandidate(unknown) error = %v, want validation error", err)
	}
	if c.State() != StateAwaitingSelection {
		t.Errorf("State() = %v, want unchanged", c.State())
	}
	if err := c.ConfirmWinner(context.Background()); !errors.Is(err, errors.ErrSequenceViolation) {
		t.Errorf("ConfirmWinner() before selection error = %v, want sequence violation", err)
	}
}

func TestCoordinator_ResetStopsPolling(t *testing.T) {
	clock := testutil.NewFakeClock()
	backend := &mockBackend{statuses: []StatusReport{{Status: JobRunning}}}
	c := newTestCoordinator(t, backend, clock)

	if _, err := c.Submit(context.Background(), validConfig()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	clock.BlockUntil(1)
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	clock.Advance(time.Minute)

	if _, status, _, _ := backend.counts(); status != 1 {
		t.Errorf("status calls after reset = %d, want 1", status)
	}
	if c.State() != StateIdle {
		t.Errorf("State() = %v, want %v", c.State(), StateIdle)
	}
}

func TestCoordinator_ResetDropsInFlightBundle(t *testing.T) {
	release := make(chan struct{})
	backend := &mockBackend{
		statuses:      []StatusReport{{Status: JobAwaitingSelection}},
		candidates:    nineCandidates(),
		bundleRefs:    []string{"stale.md"},
		bundleRelease: release,
	}
	c := newTestCoordinator(t, backend, testutil.NewFakeClock())

	if _, err := c.Submit(context.Background(), validConfig()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitState(t, c, StateAwaitingSelection)
	if _, err := c.SelectCandidate(c.Candidates()[0].ID, "", ""); err != nil {
		t.Fatalf("SelectCandidate() error = %v", err)
	}
	if err := c.ConfirmWinner(context.Background()); err != nil {
		t.Fatalf("ConfirmWinner() error = %v", err)
	}
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	close(release)

	time.Sleep(20 * time.Millisecond)
	if c.State() != StateIdle {
		t.Errorf("State() = %v, want %v", c.State(), StateIdle)
	}
	if refs := c.BundleRefs(); len(refs) != 0 {
		t.Errorf("BundleRefs() = %v, want none", refs)
	}
}

func TestCoordinator_ResetDuringSubmitReportsOrphanedJob(t *testing.T) {
	backend := &mockBackend{
		statuses:      []StatusReport{{Status: JobRunning}},
		submitRelease: make(chan struct{}),
		submitStarted: make(chan struct{}),
	}
	bus := event.NewBus(nil)
	orphaned := make(chan string, 1)
	bus.Subscribe(event.TypeTournamentOrphaned, func(e event.Event) {
		orphaned <- e.(event.TournamentOrphanedEvent).JobID
	})
	c := NewCoordinator(CoordinatorConfig{Backend: backend, Bus: bus, Clock: testutil.NewFakeClock()})
	t.Cleanup(c.Close)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), validConfig())
		errc <- err
	}()
	testutil.Recv(t, backend.submitStarted, waitTimeout)
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	close(backend.submitRelease)

	if err := testutil.Recv(t, errc, waitTimeout); !errors.Is(err, errors.ErrCanceled) {
		t.Errorf("Submit() error = %v, want ErrCanceled", err)
	}
	if got := testutil.Recv(t, orphaned, waitTimeout); got != "job-1" {
		t.Errorf("orphaned job ID = %q, want %q", got, "job-1")
	}
	if c.State() != StateIdle {
		t.Errorf("State() = %v, want %v", c.State(), StateIdle)
	}
	if _, status, _, _ := backend.counts(); status != 0 {
		t.Errorf("status calls = %d, want 0 for an orphaned job", status)
	}
}

func TestCoordinator_Close(t *testing.T) {
	clock := testutil.NewFakeClock()
	backend := &mockBackend{statuses: []StatusReport{{Status: JobRunning}}}
	c := NewCoordinator(CoordinatorConfig{Backend: backend, Clock: clock})

	if _, err := c.Submit(context.Background(), validConfig()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	clock.BlockUntil(1)
	c.Close()
	c.Close()

	if _, err := c.Submit(context.Background(), validConfig()); !errors.Is(err, errors.ErrClosed) {
		t.Errorf("Submit() after Close error = %v, want ErrClosed", err)
	}
	if err := c.Reset(); !errors.Is(err, errors.ErrClosed) {
		t.Errorf("Reset() after Close error = %v, want ErrClosed", err)
	}
}

func TestCoordinator_RankedCandidatesNeverSelects(t *testing.T) {
	score := func(v float64) *float64 { return &v }
	backend := &mockBackend{
		statuses: []StatusReport{{Status: JobAwaitingSelection}},
		candidates: []Candidate{
			{ID: "a", Content: "one", Score: score(80)},
			{ID: "b", Content: "two"},
			{ID: "c", Content: "three", Score: score(91)},
			{ID: "d", Content: "four", Score: score(80)},
		},
	}
	c := newTestCoordinator(t, backend, testutil.NewFakeClock())

	if _, err := c.Submit(context.Background(), validConfig()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitState(t, c, StateAwaitingSelection)

	var ids []string
	for _, cand := range c.RankedCandidates() {
		ids = append(ids, cand.ID)
	}
	if diff := cmp.Diff([]string{"c", "a", "d", "b"}, ids); diff != "" {
		t.Errorf("RankedCandidates() order mismatch (-want +got):\n%s", diff)
	}
	if c.State() != StateAwaitingSelection {
		t.Errorf("ranking changed state to %v", c.State())
	}
	if snap := c.Snapshot(); snap.Selection != nil {
		t.Error("ranking must not select a candidate")
	}
	if got := c.Candidates()[0].WordCount; got != 1 {
		t.Errorf("WordCount filled = %d, want 1", got)
	}
}

func TestParseJobStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    JobStatus
		wantErr bool
	}{
		{in: "running", want: JobRunning},
		{in: "AWAITING_SELECTION", want: JobAwaitingSelection},
		{in: " failed ", want: JobFailed},
		{in: "complete", want: JobComplete},
		{in: "queued", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseJobStatus(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseJobStatus(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseJobStatus(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
