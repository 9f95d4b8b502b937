package workflow

import (
	"slices"
	"time"

	"github.com/quillforge/quill/internal/tournament"
)

// Kind names a State variant.
type Kind string

const (
	KindSetup            Kind = "setup"
	KindRunning          Kind = "running"
	KindReview           Kind = "review"
	KindSelectWinner     Kind = "select_winner"
	KindGeneratingBundle Kind = "generating_bundle"
	KindComplete         Kind = "complete"
	KindFailed           Kind = "failed"
)

// State is the live step of a workflow. The variants below are the only
// implementations.
type State interface {
	Kind() Kind
	isState()
}

// Setup is the initial state, and the state after Reset.
type Setup struct{}

// Running means a job or scaffold generation is in flight.
type Running struct {
	JobID string
}

// Review holds the candidates awaiting a choice.
type Review struct {
	Candidates []tournament.Candidate
}

// SelectWinner holds the chosen candidate before confirmation. LastError
// is set when a previous bundle attempt failed.
type SelectWinner struct {
	Selection tournament.Selection
	LastError string
}

// GeneratingBundle means the confirmed selection is being turned into a bundle.
type GeneratingBundle struct {
	Selection tournament.Selection
}

// Complete holds the generated bundle references.
type Complete struct {
	BundleRefs []string
}

// Failed holds a human-readable reason. Only Reset leaves it.
type Failed struct {
	Reason string
}

func (Setup) Kind() Kind            { return KindSetup }
func (Running) Kind() Kind          { return KindRunning }
func (Review) Kind() Kind           { return KindReview }
func (SelectWinner) Kind() Kind     { return KindSelectWinner }
func (GeneratingBundle) Kind() Kind { return KindGeneratingBundle }
func (Complete) Kind() Kind         { return KindComplete }
func (Failed) Kind() Kind           { return KindFailed }

func (Setup) isState()            {}
func (Running) isState()          {}
func (Review) isState()           {}
func (SelectWinner) isState()     {}
func (GeneratingBundle) isState() {}
func (Complete) isState()         {}
func (Failed) isState()           {}

// edges lists every forward transition. Reset to Setup is allowed from any
// state and is not listed.
var edges = map[Kind][]Kind{
	KindSetup:            {KindRunning},
	KindRunning:          {KindReview, KindFailed},
	KindReview:           {KindSelectWinner},
	KindSelectWinner:     {KindGeneratingBundle},
	KindGeneratingBundle: {KindComplete, KindSelectWinner},
}

// CanTransition reports whether from -> to is a forward edge.
func CanTransition(from, to Kind) bool {
	return slices.Contains(edges[from], to)
}

// Transition describes one state change.
type Transition struct {
	From  State
	To    State
	Cause string
	At    time.Time
}

// copyState returns a copy that shares no slices with s.
func copyState(s State) State {
	switch v := s.(type) {
	case Review:
		return Review{Candidates: slices.Clone(v.Candidates)}
	case Complete:
		return Complete{BundleRefs: slices.Clone(v.BundleRefs)}
	default:
		return s
	}
}

// fromSnapshot maps a coordinator snapshot to the mirrored workflow state.
// Idle has no mirror; the machine handles reset itself.
func fromSnapshot(s tournament.Snapshot) (State, bool) {
	switch s.State {
	case tournament.StateRunning:
		var id string
		if s.Job != nil {
			id = s.Job.ID
		}
		return Running{JobID: id}, true
	case tournament.StateAwaitingSelection:
		return Review{Candidates: s.Candidates}, true
	case tournament.StateFailed:
		return Failed{Reason: s.Failure}, true
	case tournament.StateSelectingWinner:
		if s.Selection == nil {
			return nil, false
		}
		return SelectWinner{Selection: *s.Selection, LastError: s.LastError}, true
	case tournament.StateGeneratingBundle:
		if s.Selection == nil {
			return nil, false
		}
		return GeneratingBundle{Selection: *s.Selection}, true
	case tournament.StateComplete:
		return Complete{BundleRefs: s.BundleRefs}, true
	default:
		return nil, false
	}
}
