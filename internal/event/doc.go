// Package event provides the synchronous pub-sub bus that carries workflow
// change notifications to the TUI and CLI.
//
// Components publish typed events; presentation code subscribes and renders.
// Nothing outside the owning component writes workflow state directly.
//
// # Event Categories
//
// Pipeline:
//   - [PassCompletedEvent]: a pass returned and its result was recorded
//   - [PassFailedEvent]: a pass failed and halted the run
//   - [PipelineFinishedEvent]: a run ended
//
// Tournament:
//   - [TournamentStateEvent]: coordinator state changed
//   - [TournamentCandidatesEvent]: candidates were fetched
//   - [TournamentBundleEvent]: bundle generation succeeded
//   - [TournamentFailedEvent]: the job or candidate fetch failed
//
// Workflow:
//   - [WorkflowTransitionEvent]: the top-level state machine moved along an edge
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers run synchronously on the
// publishing goroutine and a panicking handler does not stop delivery to
// the rest.
//
//	bus := event.NewBus(logger)
//	id := bus.Subscribe(event.TypeWorkflowTransition, func(e event.Event) {
//	    tr := e.(event.WorkflowTransitionEvent)
//	    fmt.Println(tr.From, "->", tr.To)
//	})
//	defer bus.Unsubscribe(id)
package event
