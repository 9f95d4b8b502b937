package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "pass.completed", "workflow.transition")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypePassCompleted         = "pass.completed"
	TypePassFailed            = "pass.failed"
	TypePipelineFinished      = "pipeline.finished"
	TypeTournamentState       = "tournament.state_changed"
	TypeTournamentCandidates  = "tournament.candidates_ready"
	TypeTournamentBundleReady = "tournament.bundle_ready"
	TypeTournamentFailed      = "tournament.failed"
	TypeTournamentOrphaned    = "tournament.orphaned"
	TypeWorkflowTransition    = "workflow.transition"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Pipeline Events
// -----------------------------------------------------------------------------

// PassCompletedEvent is emitted after each pass of a pipeline run returns.
type PassCompletedEvent struct {
	baseEvent
	ArtifactID   string
	Ordinal      int
	Name         string
	ChangesMade  int
	TotalChanges int // Running total including this pass
}

// NewPassCompletedEvent creates a PassCompletedEvent.
func NewPassCompletedEvent(artifactID string, ordinal int, name string, changesMade, totalChanges int) PassCompletedEvent {
	return PassCompletedEvent{
		baseEvent:    newBaseEvent(TypePassCompleted),
		ArtifactID:   artifactID,
		Ordinal:      ordinal,
		Name:         name,
		ChangesMade:  changesMade,
		TotalChanges: totalChanges,
	}
}

// PassFailedEvent is emitted when a pass halts a pipeline run.
type PassFailedEvent struct {
	baseEvent
	ArtifactID string
	Ordinal    int
	Reason     string
}

// NewPassFailedEvent creates a PassFailedEvent.
func NewPassFailedEvent(artifactID string, ordinal int, reason string) PassFailedEvent {
	return PassFailedEvent{
		baseEvent:  newBaseEvent(TypePassFailed),
		ArtifactID: artifactID,
		Ordinal:    ordinal,
		Reason:     reason,
	}
}

// PipelineFinishedEvent is emitted once per run, successful or not.
type PipelineFinishedEvent struct {
	baseEvent
	ArtifactID   string
	Outcome      string // "succeeded" or "failed"
	Passes       int    // Number of recorded pass results
	TotalChanges int
	FinalScore   *float64
}

// NewPipelineFinishedEvent creates a PipelineFinishedEvent.
func NewPipelineFinishedEvent(artifactID, outcome string, passes, totalChanges int, finalScore *float64) PipelineFinishedEvent {
	return PipelineFinishedEvent{
		baseEvent:    newBaseEvent(TypePipelineFinished),
		ArtifactID:   artifactID,
		Outcome:      outcome,
		Passes:       passes,
		TotalChanges: totalChanges,
		FinalScore:   finalScore,
	}
}

// -----------------------------------------------------------------------------
// Tournament Events
// -----------------------------------------------------------------------------

// TournamentStateEvent is emitted on every coordinator state change.
type TournamentStateEvent struct {
	baseEvent
	JobID    string
	Previous string
	Current  string
}

// NewTournamentStateEvent creates a TournamentStateEvent.
func NewTournamentStateEvent(jobID, previous, current string) TournamentStateEvent {
	return TournamentStateEvent{
		baseEvent: newBaseEvent(TypeTournamentState),
		JobID:     jobID,
		Previous:  previous,
		Current:   current,
	}
}

// TournamentCandidatesEvent is emitted once the candidate list has been fetched.
type TournamentCandidatesEvent struct {
	baseEvent
	JobID string
	Count int
}

// NewTournamentCandidatesEvent creates a TournamentCandidatesEvent.
func NewTournamentCandidatesEvent(jobID string, count int) TournamentCandidatesEvent {
	return TournamentCandidatesEvent{
		baseEvent: newBaseEvent(TypeTournamentCandidates),
		JobID:     jobID,
		Count:     count,
	}
}

// TournamentBundleEvent is emitted when bundle generation succeeds.
type TournamentBundleEvent struct {
	baseEvent
	JobID string
	Refs  []string
}

// NewTournamentBundleEvent creates a TournamentBundleEvent.
func NewTournamentBundleEvent(jobID string, refs []string) TournamentBundleEvent {
	return TournamentBundleEvent{
		baseEvent: newBaseEvent(TypeTournamentBundleReady),
		JobID:     jobID,
		Refs:      refs,
	}
}

// TournamentFailedEvent is emitted when a tournament lands in failed.
type TournamentFailedEvent struct {
	baseEvent
	JobID  string
	Reason string
}

// NewTournamentFailedEvent creates a TournamentFailedEvent.
func NewTournamentFailedEvent(jobID, reason string) TournamentFailedEvent {
	return TournamentFailedEvent{
		baseEvent: newBaseEvent(TypeTournamentFailed),
		JobID:     jobID,
		Reason:    reason,
	}
}

// TournamentOrphanedEvent is emitted when the backend accepted a job whose
// submit was overtaken by a reset or close. Nothing polls the job afterwards
// and it is not canceled remotely.
type TournamentOrphanedEvent struct {
	baseEvent
	JobID string
}

// NewTournamentOrphanedEvent creates a TournamentOrphanedEvent.
func NewTournamentOrphanedEvent(jobID string) TournamentOrphanedEvent {
	return TournamentOrphanedEvent{
		baseEvent: newBaseEvent(TypeTournamentOrphaned),
		JobID:     jobID,
	}
}

// -----------------------------------------------------------------------------
// Workflow Events
// -----------------------------------------------------------------------------

// WorkflowTransitionEvent is emitted for each workflow state transition.
type WorkflowTransitionEvent struct {
	baseEvent
	WorkflowID string
	From       string
	To         string
	Cause      string // Command or async result that triggered the edge
}

// NewWorkflowTransitionEvent creates a WorkflowTransitionEvent.
func NewWorkflowTransitionEvent(workflowID, from, to, cause string) WorkflowTransitionEvent {
	return WorkflowTransitionEvent{
		baseEvent:  newBaseEvent(TypeWorkflowTransition),
		WorkflowID: workflowID,
		From:       from,
		To:         to,
		Cause:      cause,
	}
}
