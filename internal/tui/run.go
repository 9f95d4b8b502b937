package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/quillforge/quill/internal/workflow"
)

// Run shows the review screen until the user quits or ctx is done and
// returns the last state the screen saw.
func Run(ctx context.Context, d Driver) (workflow.State, error) {
	// Subscribe before reading the initial state so no transition is lost.
	var program *tea.Program
	ready := make(chan struct{})
	unsubscribe := d.Subscribe(func(tr workflow.Transition) {
		<-ready
		program.Send(TransitionMsg{Transition: tr})
	})
	defer unsubscribe()

	model := NewModel(ctx, d)
	program = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	close(ready)

	final, err := program.Run()
	if err != nil && ctx.Err() == nil {
		return d.State(), fmt.Errorf("review screen: %w", err)
	}
	if m, ok := final.(Model); ok {
		return m.State(), nil
	}
	return d.State(), nil
}
