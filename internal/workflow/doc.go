// Package workflow sequences the user-facing steps of a ritual.
//
// A [Machine] owns exactly one [State] at a time. The states are a closed
// set of variants, each carrying its own payload, and the only way to
// change the live state is to [Machine.Fire] a [Command]:
//
//	Setup            -> Running
//	Running          -> Review | Failed
//	Review           -> SelectWinner
//	SelectWinner     -> GeneratingBundle
//	GeneratingBundle -> Complete | SelectWinner
//	any              -> Setup (Reset only)
//
// The tournament ritual delegates to a tournament.Coordinator and mirrors
// its state changes. The scaffold ritual drives a scaffold.Generator and
// scaffold.Enricher directly. Every transition is logged, counted, published
// on the event bus as "workflow.transition" and delivered to subscribers.
package workflow
