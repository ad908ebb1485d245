// internal/report/style.go
package report

import "github.com/charmbracelet/lipgloss"

var (
	cyan    = lipgloss.Color("#00E5FF")
	green   = lipgloss.Color("#2AFFAA")
	red     = lipgloss.Color("#FF5555")
	yellow  = lipgloss.Color("#FFB500")
	muted   = lipgloss.Color("#6C7280")
	primary = lipgloss.Color("#ECEFF4")
)

var (
	titleStyle    = lipgloss.NewStyle().Foreground(cyan).Bold(true)
	labelStyle    = lipgloss.NewStyle().Foreground(muted)
	valueStyle    = lipgloss.NewStyle().Foreground(primary)
	runningStyle  = lipgloss.NewStyle().Foreground(green).Bold(true)
	stoppedStyle  = lipgloss.NewStyle().Foreground(yellow).Bold(true)
	positiveStyle = lipgloss.NewStyle().Foreground(green)
	negativeStyle = lipgloss.NewStyle().Foreground(red)
	headerStyle   = lipgloss.NewStyle().Foreground(cyan).Bold(true).Padding(0, 1)
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(cyan).Padding(0, 1)
)

func pnlStyle(v float64) lipgloss.Style {
	switch {
	case v > 0:
		return positiveStyle
	case v < 0:
		return negativeStyle
	}
	return valueStyle
}
