package cli

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/davarch/ci-runner/internal/domain"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

// statusText colours a run or job status for terminal output. Colours are
// dropped when stdout is not a terminal.
func statusText(s string) string {
	switch s {
	case string(domain.RunSucceeded):
		return okStyle.Render(s)
	case string(domain.RunFailed), string(domain.JobTimedOut):
		return failStyle.Render(s)
	case string(domain.RunCancelled):
		return warnStyle.Render(s)
	case string(domain.RunPending):
		return dimStyle.Render(s)
	default:
		return s
	}
}
