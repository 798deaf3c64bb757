package main

import (
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/dgnsrekt/streamtts/internal/playback"
)

var (
	keyword = lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#04B575"}).
		Render

	paragraph = lipgloss.NewStyle().
			Width(78).
			Padding(0, 0, 0, 2).
			Render

	faint = lipgloss.NewStyle().Faint(true).Render

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#C88800", Dark: "#ECFD65"})
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
)

// stdoutIsTerminal gates colored output.
var stdoutIsTerminal = term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec

func styled(render func(...string) string, s string) string {
	if !stdoutIsTerminal {
		return s
	}
	return render(s)
}

func stateLabel(s playback.State) string {
	switch s {
	case playback.StateCompleted, playback.StatePlaying:
		return styled(okStyle.Render, s.String())
	case playback.StateFailed:
		return styled(failStyle.Render, s.String())
	case playback.StateCancelled, playback.StatePaused:
		return styled(warnStyle.Render, s.String())
	default:
		return s.String()
	}
}

// formatDuration renders d at a precision suited to speech, e.g. 1.5s or
// 2m3s.
func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}
