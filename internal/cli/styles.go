package cli

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

type styles struct {
	enabled bool

	Agent   lipgloss.Style
	User    lipgloss.Style
	Muted   lipgloss.Style
	Steps   lipgloss.Style
	Pending lipgloss.Style
	Failed  lipgloss.Style
	Status  lipgloss.Style
	Error   lipgloss.Style
	Header  lipgloss.Style
}

func newStyles(enabled bool) styles {
	if !enabled {
		plain := lipgloss.NewStyle()
		return styles{
			Agent: plain, User: plain, Muted: plain, Steps: plain, Pending: plain,
			Failed: plain, Status: plain, Error: plain, Header: plain,
		}
	}
	return styles{
		enabled: true,
		Agent:   lipgloss.NewStyle().Foreground(lipgloss.Color("#7aa2f7")).Bold(true),
		User:    lipgloss.NewStyle().Foreground(lipgloss.Color("#9ece6a")).Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("#565f89")),
		Steps:   lipgloss.NewStyle().Foreground(lipgloss.Color("#bb9af7")),
		Pending: lipgloss.NewStyle().Foreground(lipgloss.Color("#e0af68")).Italic(true),
		Failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#f7768e")).Bold(true),
		Status:  lipgloss.NewStyle().Foreground(lipgloss.Color("#1a1b26")).Background(lipgloss.Color("#7dcfff")).Padding(0, 1),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("#f7768e")),
		Header:  lipgloss.NewStyle().Bold(true).Underline(true),
	}
}

func (s styles) render(style lipgloss.Style, text string) string {
	if !s.enabled {
		return text
	}
	return style.Render(text)
}

// outputStyles styles stdout only when it is a terminal.
func outputStyles() styles {
	return newStyles(!noColor && !IsJSONOutput() && isTerminal(os.Stdout))
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
