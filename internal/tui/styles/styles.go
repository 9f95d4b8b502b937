package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Colors - all colors meet WCAG AA contrast (4.5:1) on both black and dark surfaces
	PrimaryColor   = lipgloss.Color("#A78BFA") // Purple (violet-400)
	SecondaryColor = lipgloss.Color("#10B981") // Green
	WarningColor   = lipgloss.Color("#F59E0B") // Amber
	ErrorColor     = lipgloss.Color("#F87171") // Red (red-400)
	MutedColor     = lipgloss.Color("#9CA3AF") // Gray
	SurfaceColor   = lipgloss.Color("#1F2937") // Dark surface
	TextColor      = lipgloss.Color("#F9FAFB") // Light text
	BorderColor    = lipgloss.Color("#6B7280") // Gray (gray-500)
	BlueColor      = lipgloss.Color("#60A5FA") // Blue

	// Convenience styles for colors
	Primary   = lipgloss.NewStyle().Foreground(PrimaryColor)
	Secondary = lipgloss.NewStyle().Foreground(SecondaryColor)
	Warning   = lipgloss.NewStyle().Foreground(WarningColor)
	Error     = lipgloss.NewStyle().Foreground(ErrorColor)
	Muted     = lipgloss.NewStyle().Foreground(MutedColor)
	Text      = lipgloss.NewStyle().Foreground(TextColor)

	// Base styles
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor).
		MarginBottom(1)

	Subtitle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true)

	// Workflow state badge
	StatusBadge = lipgloss.NewStyle().
			Bold(true).
			Foreground(SurfaceColor).
			Padding(0, 1).
			MarginLeft(1)

	// Candidate list
	CandidateRow = lipgloss.NewStyle().
			Padding(0, 1)

	CandidateRowActive = lipgloss.NewStyle().
				Bold(true).
				Foreground(TextColor).
				Background(PrimaryColor).
				Padding(0, 1)

	ScoreHigh = lipgloss.NewStyle().Foreground(SecondaryColor).Bold(true)
	ScoreMid  = lipgloss.NewStyle().Foreground(WarningColor)
	ScoreLow  = lipgloss.NewStyle().Foreground(ErrorColor)

	// Content area
	ContentBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(0, 1)

	// Help bar
	HelpBar = lipgloss.NewStyle().
		Foreground(MutedColor).
		MarginTop(1)

	HelpKey = lipgloss.NewStyle().
		Bold(true).
		Foreground(SecondaryColor)

	// Error message
	ErrorMsg = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	// Success message
	SuccessMsg = lipgloss.NewStyle().
			Foreground(SecondaryColor).
			Bold(true)
)

// StateColor returns the badge color for a workflow state name.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "running", "generating_bundle":
		return BlueColor
	case "review", "select_winner":
		return WarningColor
	case "complete":
		return SecondaryColor
	case "failed":
		return ErrorColor
	default:
		return MutedColor
	}
}

// StateIcon returns an icon for a workflow state name.
func StateIcon(state string) string {
	switch state {
	case "running", "generating_bundle":
		return "●"
	case "review":
		return "?"
	case "select_winner":
		return "★"
	case "complete":
		return "✓"
	case "failed":
		return "✗"
	default:
		return "○"
	}
}

// ModeStyle picks the score style for a remediation mode name.
func ModeStyle(mode string) lipgloss.Style {
	switch mode {
	case "action_prompt":
		return ScoreHigh
	case "six_pass":
		return ScoreMid
	default:
		return ScoreLow
	}
}
