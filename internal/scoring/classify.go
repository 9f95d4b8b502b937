// Package scoring holds the score report model, the mode classifier and the
// Scorer collaborator contract.
package scoring

import "math"

// Mode is the remediation path chosen for a scored scene.
type Mode string

const (
	// ModeActionPrompt means the scene is close to done and only needs a targeted prompt.
	ModeActionPrompt Mode = "action_prompt"
	// ModeSixPass means the scene runs through the six-pass pipeline.
	ModeSixPass Mode = "six_pass"
	// ModeRewrite means the scene is rewritten from the brief.
	ModeRewrite Mode = "rewrite"
)

// Thresholds for Classify. Nothing else in quill compares scores against
// literal numbers.
const (
	ActionPromptThreshold = 85.0
	SixPassThreshold      = 70.0
)

// MinScore and MaxScore bound every score quill handles.
const (
	MinScore = 0.0
	MaxScore = 100.0
)

// Classify maps a score to its remediation mode. Boundary scores land in
// the upper bucket. Out-of-range input is clamped and NaN counts as 0.
func Classify(score float64) Mode {
	s := Clamp(score)
	switch {
	case s >= ActionPromptThreshold:
		return ModeActionPrompt
	case s >= SixPassThreshold:
		return ModeSixPass
	default:
		return ModeRewrite
	}
}

// Clamp limits score to [MinScore, MaxScore]. NaN becomes MinScore.
func Clamp(score float64) float64 {
	if math.IsNaN(score) {
		return MinScore
	}
	return math.Max(MinScore, math.Min(MaxScore, score))
}

// Valid reports whether m is one of the three known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeActionPrompt, ModeSixPass, ModeRewrite:
		return true
	}
	return false
}

// Label returns the human-readable name shown in the CLI.
func (m Mode) Label() string {
	switch m {
	case ModeActionPrompt:
		return "Action prompt"
	case ModeSixPass:
		return "Six-pass"
	case ModeRewrite:
		return "Rewrite"
	default:
		return string(m)
	}
}

// ParseMode converts a CLI or wire value into a Mode.
func ParseMode(s string) (Mode, bool) {
	m := Mode(s)
	switch s {
	case "action-prompt", "actionprompt":
		m = ModeActionPrompt
	case "six-pass", "sixpass":
		m = ModeSixPass
	}
	return m, m.Valid()
}
