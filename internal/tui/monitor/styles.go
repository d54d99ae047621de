package monitor

import (
	"github.com/charmbracelet/lipgloss"

	xpsync "github.com/elena/xp/internal/sync"
)

var (
	// Base colors
	primaryColor = lipgloss.Color("212")
	mutedColor   = lipgloss.Color("241")
	successColor = lipgloss.Color("42")
	warningColor = lipgloss.Color("214")
	errorColor   = lipgloss.Color("196")

	// Panel styles
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	// Text styles
	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle      = lipgloss.NewStyle().Foreground(mutedColor)
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle     = lipgloss.NewStyle().Foreground(errorColor)
	warningStyle   = lipgloss.NewStyle().Foreground(warningColor)
	spinnerStyle   = lipgloss.NewStyle().Foreground(primaryColor)

	// Budget styles
	overBudgetStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	underBudgetStyle  = lipgloss.NewStyle().Foreground(successColor)
	uncategorizedTint = lipgloss.NewStyle().Foreground(mutedColor)

	// Sync activity arrows
	pushArrowStyle = lipgloss.NewStyle().Foreground(successColor)
	pullArrowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))

	// Phase styles for the sync panel
	phaseStyles = map[xpsync.Phase]lipgloss.Style{
		xpsync.PhaseIdle:       lipgloss.NewStyle().Foreground(mutedColor),
		xpsync.PhasePushing:    lipgloss.NewStyle().Foreground(warningColor),
		xpsync.PhasePulling:    lipgloss.NewStyle().Foreground(warningColor),
		xpsync.PhaseConverging: lipgloss.NewStyle().Foreground(warningColor),
		xpsync.PhaseSettled:    lipgloss.NewStyle().Foreground(successColor),
		xpsync.PhaseTimedOut:   lipgloss.NewStyle().Foreground(warningColor),
		xpsync.PhaseFailed:     lipgloss.NewStyle().Foreground(errorColor).Bold(true),
	}

	// Prominent footer alerts
	conflictAlertStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("214"))

	pendingAlertStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("45"))
)

// formatPhase renders a sync phase with color
func formatPhase(p xpsync.Phase) string {
	style, ok := phaseStyles[p]
	if !ok {
		return string(p)
	}
	return style.Render(string(p))
}
