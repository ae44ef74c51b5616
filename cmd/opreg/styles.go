package main

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2563EB"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#64748B"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#CA8A04"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#DC2626"))
)

// printer styles text only when writing to a terminal.
type printer struct {
	styled bool
}

func newPrinter(writer io.Writer) printer {
	return printer{styled: isTerminal(writer)}
}

func (p printer) render(style lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return style.Render(text)
}

func (p printer) heading(text string) string { return p.render(headingStyle, text) }
func (p printer) muted(text string) string   { return p.render(mutedStyle, text) }
func (p printer) warn(text string) string    { return p.render(warnStyle, text) }
func (p printer) failure(text string) string { return p.render(errorStyle, text) }

func isTerminal(writer any) bool {
	if file, ok := writer.(*os.File); ok {
		return term.IsTerminal(int(file.Fd()))
	}
	return false
}
