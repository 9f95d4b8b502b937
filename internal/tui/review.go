// Package tui is the terminal review screen for tournament and scaffold
// workflows.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/quillforge/quill/internal/errors"
	"github.com/quillforge/quill/internal/scoring"
	"github.com/quillforge/quill/internal/tournament"
	"github.com/quillforge/quill/internal/tui/styles"
	"github.com/quillforge/quill/internal/util"
	"github.com/quillforge/quill/internal/workflow"
)

// Driver is the part of a workflow machine the review screen needs.
type Driver interface {
	State() workflow.State
	Fire(ctx context.Context, cmd workflow.Command) error
	Subscribe(fn func(workflow.Transition)) (cancel func())
}

// TransitionMsg carries a workflow transition into the program.
type TransitionMsg struct {
	Transition workflow.Transition
}

// fireResultMsg reports the outcome of a command fired from a key press.
type fireResultMsg struct {
	command string
	err     error
}

// maxHistory bounds the transition log shown under the main view.
const maxHistory = 5

// previewLines bounds the candidate preview.
const previewLines = 8

// Model is the Bubbletea model for the review screen.
type Model struct {
	ctx    context.Context
	driver Driver

	state      workflow.State
	candidates []tournament.Candidate
	cursor     int

	notes   textinput.Model
	editing bool

	errMsg   string
	history  []string
	width    int
	height   int
	quitting bool
}

// NewModel creates a review model showing the driver's current state.
func NewModel(ctx context.Context, d Driver) Model {
	ti := textinput.New()
	ti.Placeholder = "refinement notes (optional)"
	ti.CharLimit = 500
	ti.Width = 60

	m := Model{ctx: ctx, driver: d, notes: ti}
	m.setState(d.State())
	return m
}

// State returns the last workflow state the model saw.
func (m Model) State() workflow.State {
	return m.state
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TransitionMsg:
		tr := msg.Transition
		m.setState(tr.To)
		m.history = append(m.history, fmt.Sprintf("%s → %s (%s)", tr.From.Kind(), tr.To.Kind(), tr.Cause))
		if len(m.history) > maxHistory {
			m.history = m.history[len(m.history)-maxHistory:]
		}
		if s, ok := tr.To.(workflow.SelectWinner); ok && s.LastError != "" {
			m.errMsg = "bundle failed: " + s.LastError
		}
		return m, nil

	case fireResultMsg:
		if msg.err != nil {
			m.errMsg = fmt.Sprintf("%s: %s", msg.command, errors.Reason(msg.err))
		}
		return m, nil

	case tea.KeyMsg:
		if m.editing {
			return m.updateNotes(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.quitting = true
		return m, tea.Quit
	}

	kind := m.state.Kind()
	switch kind {
	case workflow.KindReview:
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.candidates)-1 {
				m.cursor++
			}
		case "enter":
			if len(m.candidates) > 0 {
				m.editing = true
				m.errMsg = ""
				m.notes.SetValue("")
				return m, m.notes.Focus()
			}
		}
	case workflow.KindSelectWinner:
		switch msg.String() {
		case "enter", "c":
			m.errMsg = ""
			return m, m.fire(workflow.Confirm{})
		}
	case workflow.KindComplete:
		if msg.String() == "enter" {
			m.quitting = true
			return m, tea.Quit
		}
	}

	if msg.String() == "r" && kind != workflow.KindSetup {
		m.errMsg = ""
		return m, m.fire(workflow.Reset{})
	}
	return m, nil
}

func (m Model) updateNotes(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.editing = false
		m.notes.Blur()
		return m, nil
	case tea.KeyEnter:
		m.editing = false
		m.notes.Blur()
		if m.cursor >= len(m.candidates) {
			return m, nil
		}
		return m, m.fire(workflow.Select{
			CandidateID: m.candidates[m.cursor].ID,
			Notes:       strings.TrimSpace(m.notes.Value()),
		})
	case tea.KeyCtrlC:
		m.quitting = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.notes, cmd = m.notes.Update(msg)
	return m, cmd
}

// fire runs cmd off the update loop; the resulting transition arrives as
// a TransitionMsg.
func (m Model) fire(cmd workflow.Command) tea.Cmd {
	ctx, d := m.ctx, m.driver
	name := fmt.Sprintf("%T", cmd)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = strings.ToLower(name[i+1:])
	}
	return func() tea.Msg {
		return fireResultMsg{command: name, err: d.Fire(ctx, cmd)}
	}
}

func (m *Model) setState(s workflow.State) {
	m.state = s
	if r, ok := s.(workflow.Review); ok {
		m.candidates = tournament.Rank(r.Candidates)
		m.cursor = min(m.cursor, max(len(m.candidates)-1, 0))
		return
	}
	if m.state.Kind() == workflow.KindSetup {
		m.candidates = nil
		m.cursor = 0
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder

	kind := string(m.state.Kind())
	badge := styles.StatusBadge.Background(styles.StateColor(kind)).
		Render(styles.StateIcon(kind) + " " + kind)
	b.WriteString(styles.Title.Render("quill review") + badge + "\n")

	switch s := m.state.(type) {
	case workflow.Setup:
		b.WriteString(styles.Subtitle.Render("Nothing in progress.") + "\n")
	case workflow.Running:
		b.WriteString(styles.Subtitle.Render("Waiting for job "+s.JobID+" ...") + "\n")
	case workflow.Review:
		b.WriteString(m.viewCandidates())
	case workflow.SelectWinner:
		b.WriteString(m.viewSelection(s.Selection))
	case workflow.GeneratingBundle:
		b.WriteString(styles.Subtitle.Render("Generating bundle for "+s.Selection.Candidate.ID+" ...") + "\n")
	case workflow.Complete:
		b.WriteString(styles.SuccessMsg.Render("Bundle ready") + "\n")
		for _, ref := range s.BundleRefs {
			b.WriteString("  " + ref + "\n")
		}
	case workflow.Failed:
		b.WriteString(styles.ErrorMsg.Render("Failed: "+s.Reason) + "\n")
	}

	if m.errMsg != "" {
		b.WriteString("\n" + styles.ErrorMsg.Render(m.errMsg) + "\n")
	}
	if len(m.history) > 0 {
		b.WriteString("\n" + styles.Muted.Render(strings.Join(m.history, "\n")) + "\n")
	}
	b.WriteString(styles.HelpBar.Render(m.helpText()))
	return b.String()
}

func (m Model) viewCandidates() string {
	var b strings.Builder
	for i, c := range m.candidates {
		score := styles.Muted.Render("  -  ")
		if c.Score != nil {
			score = styles.ModeStyle(string(scoring.Classify(*c.Score))).Render(fmt.Sprintf("%5.1f", *c.Score))
		}
		line := fmt.Sprintf("%-12s %-12s %5dw", util.Truncate(c.AgentID, 12), util.Truncate(c.Strategy, 12), c.WordCount)
		row := styles.CandidateRow
		if i == m.cursor {
			row = styles.CandidateRowActive
		}
		b.WriteString(score + " " + row.Render(line) + "\n")
	}
	if m.cursor < len(m.candidates) {
		b.WriteString(m.preview(m.candidates[m.cursor].Content))
	}
	if m.editing {
		b.WriteString("\n" + m.notes.View() + "\n")
	}
	return b.String()
}

func (m Model) viewSelection(sel tournament.Selection) string {
	var b strings.Builder
	b.WriteString(styles.Text.Render(fmt.Sprintf("Selected %s (%s, %s)", sel.Candidate.ID, sel.Candidate.AgentID, sel.Candidate.Strategy)) + "\n")
	if sel.Notes != "" {
		b.WriteString(styles.Muted.Render("Notes: "+sel.Notes) + "\n")
	}
	b.WriteString(m.preview(sel.Content()))
	return b.String()
}

func (m Model) preview(content string) string {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) > previewLines {
		lines = append(lines[:previewLines], "…")
	}
	box := styles.ContentBox
	if m.width > 4 {
		box = box.Width(m.width - 4)
	}
	return box.Render(strings.Join(lines, "\n")) + "\n"
}

func (m Model) helpText() string {
	key := styles.HelpKey.Render
	var parts []string
	switch {
	case m.editing:
		parts = []string{key("enter") + " select", key("esc") + " cancel"}
	case m.state.Kind() == workflow.KindReview:
		parts = []string{key("↑/↓") + " move", key("enter") + " choose", key("r") + " reset"}
	case m.state.Kind() == workflow.KindSelectWinner:
		parts = []string{key("c") + " confirm", key("r") + " reset"}
	case m.state.Kind() == workflow.KindFailed, m.state.Kind() == workflow.KindRunning, m.state.Kind() == workflow.KindGeneratingBundle:
		parts = []string{key("r") + " reset"}
	case m.state.Kind() == workflow.KindComplete:
		parts = []string{key("enter") + " done"}
	}
	parts = append(parts, key("q")+" quit")
	return lipgloss.JoinHorizontal(lipgloss.Top, strings.Join(parts, "  "))
}
