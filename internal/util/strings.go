// Package util provides text helpers shared by the CLI and the review screen.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Ellipsis marks truncated text.
const Ellipsis = "…"

// Truncate shortens s to maxWidth terminal columns, ending in Ellipsis when
// cut. Escape codes and wide characters are measured the way the terminal
// draws them.
func Truncate(s string, maxWidth int) string {
	if maxWidth < 1 {
		return ""
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, Ellipsis)
}

// Excerpt collapses all whitespace in s to single spaces and truncates the
// result to maxWidth columns. Used for one-line previews of scene text.
func Excerpt(s string, maxWidth int) string {
	return Truncate(strings.Join(strings.Fields(s), " "), maxWidth)
}
