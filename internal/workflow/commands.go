package workflow

import (
	"github.com/quillforge/quill/internal/scaffold"
	"github.com/quillforge/quill/internal/tournament"
)

// Command is a request to move the workflow forward. The types below are
// the only implementations.
type Command interface {
	commandName() string
}

// Submit starts the tournament ritual.
type Submit struct {
	Tournament tournament.Config
}

// SubmitScaffold starts the scaffold ritual.
type SubmitScaffold struct {
	Request scaffold.Request
}

// Select chooses a candidate under review.
type Select struct {
	CandidateID   string
	Notes         string
	EditedContent string
}

// Confirm confirms the selected winner and starts bundle generation.
type Confirm struct{}

// Reset abandons the current run and returns to Setup.
type Reset struct{}

func (Submit) commandName() string         { return "submit" }
func (SubmitScaffold) commandName() string { return "submit scaffold" }
func (Select) commandName() string         { return "select" }
func (Confirm) commandName() string        { return "confirm" }
func (Reset) commandName() string          { return "reset" }

// Ritual identifies which flow a Machine is driving.
type Ritual string

const (
	RitualNone       Ritual = ""
	RitualTournament Ritual = "tournament"
	RitualScaffold   Ritual = "scaffold"
)
