package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	stepStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	lineStyle = lipgloss.NewStyle().Faint(true)
	okStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

func stepBanner(i, n int, s step) string {
	return stepStyle.Render(fmt.Sprintf("[%d/%d] %s", i, n, s.Name)) + " " + lineStyle.Render(s.Send)
}

func failBanner(s step, err error) string {
	return failStyle.Render("FAILED "+s.Name) + ": " + err.Error()
}

func doneBanner(msg string) string {
	return okStyle.Render("DONE") + " " + msg
}
