// Package tui provides the styles and terminal detection shared by the job watcher.
package tui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Color palette
var (
	ColorPrimary   = lipgloss.AdaptiveColor{Light: "#5A67D8", Dark: "#7C3AED"}
	ColorSecondary = lipgloss.AdaptiveColor{Light: "#38B2AC", Dark: "#4FD1C5"}
	ColorSuccess   = lipgloss.AdaptiveColor{Light: "#38A169", Dark: "#48BB78"}
	ColorWarning   = lipgloss.AdaptiveColor{Light: "#D69E2E", Dark: "#F6E05E"}
	ColorError     = lipgloss.AdaptiveColor{Light: "#E53E3E", Dark: "#FC8181"}
	ColorMuted     = lipgloss.AdaptiveColor{Light: "#718096", Dark: "#A0AEC0"}
	ColorText      = lipgloss.AdaptiveColor{Light: "#1A202C", Dark: "#F7FAFC"}
)

var (
	// TitleStyle for the watcher header
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			MarginBottom(1)

	// LabelStyle for key names in key-value pairs
	LabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorMuted)

	ValueStyle   = lipgloss.NewStyle().Foreground(ColorText)
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorError)
	MutedStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
	SpinnerStyle = lipgloss.NewStyle().Foreground(ColorSecondary)
)

var (
	progressFilled = lipgloss.NewStyle().Foreground(ColorSuccess)
	progressEmpty  = lipgloss.NewStyle().Foreground(ColorMuted)
)

// IsTTY returns true if stdout is a terminal
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseInteractive reports whether the bubbletea watcher should run. Pipes,
// scripts and --plain get line output.
func ShouldUseInteractive(plain bool) bool {
	if plain {
		return false
	}
	return IsTTY()
}

// ProgressBar renders percent (0-100) as a bar of the given width
func ProgressBar(percent float64, width int) string {
	if width <= 0 {
		width = 20
	}
	filled := min(max(int(percent/100.0*float64(width)), 0), width)

	return progressFilled.Render(strings.Repeat("█", filled)) +
		progressEmpty.Render(strings.Repeat("░", width-filled))
}

// FormatKeyValue formats a key-value pair
func FormatKeyValue(key, value string) string {
	return LabelStyle.Render(key+":") + " " + ValueStyle.Render(value)
}
