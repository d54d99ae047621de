package monitor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/shopspring/decimal"

	"github.com/elena/xp/internal/db"
	"github.com/elena/xp/internal/models"
	"github.com/elena/xp/internal/output"
	xpsync "github.com/elena/xp/internal/sync"
)

// renderView renders the complete TUI view
func (m Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return "Loading..."
	}

	// Handle small terminal sizes gracefully
	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}

	if m.Err != nil {
		return m.renderError()
	}

	if m.ShowHelp {
		return m.renderHelp()
	}

	// Calculate panel heights (3 panels + footer)
	availableHeight := m.Height - 3
	panelHeight := availableHeight / 3

	month := m.renderMonthPanel(panelHeight)
	activity := m.renderActivityPanel(panelHeight)
	syncPanel := m.renderSyncPanel(panelHeight)

	panels := lipgloss.JoinVertical(lipgloss.Left,
		month,
		activity,
		syncPanel,
	)

	footer := m.renderFooter()

	return lipgloss.JoinVertical(lipgloss.Left, panels, footer)
}

// renderCompact renders a minimal view for small terminals
func (m Model) renderCompact() string {
	var s strings.Builder

	s.WriteString("xp monitor (resize for full view)\n\n")

	if m.Month.Stats != nil {
		s.WriteString(fmt.Sprintf("%s: %d expenses\n", m.Month.Label, m.Month.Stats.Count))
		for _, line := range currencyLines(m.Month.Stats.ByCurrency) {
			s.WriteString(line + "\n")
		}
	}
	s.WriteString(fmt.Sprintf("Pending: %d | Conflicts: %d\n", m.Sync.Pending, m.Sync.Conflicts))
	s.WriteString(fmt.Sprintf("Sync: %s\n", m.Phase))

	s.WriteString("\nq:quit r:refresh ?:help")

	return s.String()
}

// renderError renders an error message
func (m Model) renderError() string {
	return fmt.Sprintf("Error: %v\n\nPress r to retry, q to quit", m.Err)
}

// renderMonthPanel renders the current-month summary (Panel 1)
func (m Model) renderMonthPanel(height int) string {
	var content strings.Builder

	title := fmt.Sprintf("THIS MONTH · %s", m.Month.Label)

	if m.Month.Stats == nil || m.Month.Stats.Count == 0 {
		content.WriteString(subtleStyle.Render("No expenses recorded this month"))
		content.WriteString("\n")
		return m.wrapPanel(title, content.String(), height, PanelMonth)
	}

	stats := m.Month.Stats

	totals := strings.Join(currencyLines(stats.ByCurrency), "  ")
	content.WriteString(titleStyle.Render(totals))
	content.WriteString(subtleStyle.Render(fmt.Sprintf("  across %d expenses", stats.Count)))
	content.WriteString("\n")

	if stats.LargestSpend != nil {
		content.WriteString(subtleStyle.Render("largest ") + output.ExpenseOneLiner(stats.LargestSpend))
		content.WriteString("\n")
	}

	// Budget lines, biggest spend first
	rows := budgetRows(stats, m.Month.Categories)
	if len(rows) > 0 {
		content.WriteString("\n")
		for _, r := range rows {
			content.WriteString(r)
			content.WriteString("\n")
		}
	}

	return m.wrapPanel(title, content.String(), height, PanelMonth)
}

// renderActivityPanel renders the sync activity feed (Panel 2)
func (m Model) renderActivityPanel(height int) string {
	var content strings.Builder

	if len(m.History) == 0 {
		content.WriteString(subtleStyle.Render("No sync activity recorded"))
	} else {
		offset := m.ScrollOffset[PanelActivity]
		if offset >= len(m.History) {
			offset = len(m.History) - 1
		}
		visible := m.visibleItems(len(m.History), offset, height-2)

		for i := offset; i < offset+visible && i < len(m.History); i++ {
			content.WriteString(m.formatHistoryEntry(m.History[i]))
			content.WriteString("\n")
		}
	}

	return m.wrapPanel("SYNC ACTIVITY", content.String(), height, PanelActivity)
}

// renderSyncPanel renders the replication state (Panel 3)
func (m Model) renderSyncPanel(height int) string {
	var content strings.Builder

	switch {
	case !m.Sync.Available:
		content.WriteString(subtleStyle.Render("Replication is not built into this binary"))
		content.WriteString("\n")
	case !m.Sync.Enabled:
		content.WriteString(subtleStyle.Render("Sync disabled (run: xp sync enable)"))
		content.WriteString("\n")
	case m.Sync.State == nil || m.Sync.State.LedgerID == "":
		content.WriteString(subtleStyle.Render("Ledger not linked (run: xp link)"))
		content.WriteString("\n")
	default:
		state := m.Sync.State

		phase := formatPhase(m.Phase)
		if !m.Phase.Terminal() && m.Phase != xpsync.PhaseIdle {
			phase = m.Spinner.View() + " " + phase
		}
		content.WriteString(titleStyle.Render("Ledger ") + state.LedgerID)
		content.WriteString("\n")
		content.WriteString(titleStyle.Render("Run    ") + phase)
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Cursor pushed:%d pulled:%d", state.LastPushedActionID, state.LastPulledServerSeq))
		content.WriteString("\n")

		if out := m.LastOutcome; out != nil {
			line := fmt.Sprintf("Last   %s %d↑ %d↓", out.Trigger, out.Pushed, out.Pulled)
			if out.Conflicts > 0 {
				line += fmt.Sprintf(" %d conflicts", out.Conflicts)
			}
			if out.Converged {
				line += " " + underBudgetStyle.Render("converged")
			} else {
				line += " " + subtleStyle.Render("not converged")
			}
			if out.Err != nil {
				line += " " + errorStyle.Render(out.Err.Error())
			}
			content.WriteString(line)
			content.WriteString("\n")
		}
		if state.LastSyncAt != nil {
			content.WriteString(subtleStyle.Render("Synced " + output.FormatTimeAgo(*state.LastSyncAt)))
			content.WriteString("\n")
		}
	}

	content.WriteString(fmt.Sprintf("Pending %d", m.Sync.Pending))
	if m.Sync.Conflicts > 0 {
		content.WriteString("  " + conflictAlertStyle.Render(fmt.Sprintf(" %d conflicts ", m.Sync.Conflicts)))
	}
	content.WriteString("\n")

	if m.RestartHint {
		content.WriteString(errorStyle.Render("Replication preference changed, restart to apply"))
		content.WriteString("\n")
	}

	return m.wrapPanel("REPLICATION", content.String(), height, PanelSync)
}

// renderFooter renders the footer with key bindings and refresh time
func (m Model) renderFooter() string {
	keys := helpStyle.Render("q:quit  tab:switch  j/k:scroll  r:refresh  s:sync  ?:help")

	pendingAlert := ""
	if m.Sync.Pending > 0 {
		pendingAlert = pendingAlertStyle.Render(fmt.Sprintf(" %d PENDING ", m.Sync.Pending))
	}
	conflictAlert := ""
	if m.Sync.Conflicts > 0 {
		conflictAlert = conflictAlertStyle.Render(fmt.Sprintf(" %d CONFLICTS ", m.Sync.Conflicts))
	}

	version := subtleStyle.Render(m.Version)
	if m.UpdateAvail != nil {
		version = warningStyle.Render(fmt.Sprintf("%s (update: %s)", m.Version, m.UpdateAvail.LatestVersion))
	}
	refresh := timestampStyle.Render(fmt.Sprintf("Last: %s", m.LastRefresh.Format("15:04:05")))

	padding := m.Width - lipgloss.Width(keys) - lipgloss.Width(pendingAlert) -
		lipgloss.Width(conflictAlert) - lipgloss.Width(version) - lipgloss.Width(refresh) - 3
	if padding < 0 {
		padding = 0
	}

	return fmt.Sprintf(" %s%s%s%s%s %s", keys, strings.Repeat(" ", padding), pendingAlert, conflictAlert, version, refresh)
}

// renderHelp renders the help overlay
func (m Model) renderHelp() string {
	help := `
xp monitor - Key Bindings

NAVIGATION:
  Tab / Shift+Tab   Switch between panels
  1 / 2 / 3         Jump to panel
  j / k             Scroll the active panel

ACTIONS:
  s                 Trigger a sync run
  r                 Force refresh
  q / Ctrl+C        Quit

Press ? to close help
`
	return helpStyle.Render(help)
}

// wrapPanel wraps content in a panel with title and border
func (m Model) wrapPanel(title, content string, height int, panel Panel) string {
	style := panelStyle
	if m.ActivePanel == panel {
		style = activePanelStyle
	}

	titleStr := panelTitleStyle.Render(title)

	contentWidth := m.Width - 4

	lines := strings.Split(content, "\n")
	contentHeight := height - 3

	for len(lines) < contentHeight {
		lines = append(lines, "")
	}
	if len(lines) > contentHeight {
		lines = lines[:contentHeight]
	}

	for i, line := range lines {
		if lipgloss.Width(line) > contentWidth {
			lines[i] = truncateString(line, contentWidth)
		}
	}

	body := strings.Join(lines, "\n")

	inner := lipgloss.JoinVertical(lipgloss.Left, titleStr, body)

	return style.Width(m.Width - 2).Render(inner)
}

// formatHistoryEntry formats one sync history row for the activity feed
func (m Model) formatHistoryEntry(e db.SyncHistoryEntry) string {
	arrow := pullArrowStyle.Render("←")
	if e.Direction == db.HistoryPush {
		arrow = pushArrowStyle.Render("→")
	}

	ts := timestampStyle.Render(e.Timestamp.Format("15:04:05"))
	line := fmt.Sprintf("%s %s %s/%s (%s) seq:%d",
		ts, arrow, e.EntityType, truncateString(e.EntityID, 16), e.ActionType, e.ServerSeq)

	if e.Direction == db.HistoryPull && e.DeviceID != "" {
		line += subtleStyle.Render(" from:" + truncateString(e.DeviceID, 12))
	}
	return line
}

// budgetRows renders one line per category with month spend against budget,
// sorted by spend descending. The uncategorized bucket comes last.
func budgetRows(stats *models.SpendStats, categories []models.Category) []string {
	byID := make(map[string]models.Category, len(categories))
	for _, c := range categories {
		byID[c.ID] = c
	}

	type row struct {
		name  string
		spent decimal.Decimal
		line  string
	}
	var rows []row
	var uncategorized *row

	for id, spent := range stats.ByCategory {
		if id == "" {
			r := row{name: "uncategorized", spent: spent}
			r.line = uncategorizedTint.Render(fmt.Sprintf("%-16s %s", "uncategorized", spent.StringFixed(2)))
			uncategorized = &r
			continue
		}

		c, ok := byID[id]
		name := id
		if ok {
			name = c.Name
		}

		line := fmt.Sprintf("%-16s %s", truncateString(name, 16), spent.StringFixed(2))
		if ok && c.MonthlyBudget.IsPositive() {
			line += subtleStyle.Render(" / " + c.MonthlyBudget.StringFixed(2))
			if spent.GreaterThan(c.MonthlyBudget) {
				line += " " + overBudgetStyle.Render("OVER")
			} else {
				line += " " + underBudgetStyle.Render("ok")
			}
		}
		rows = append(rows, row{name: name, spent: spent, line: line})
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].spent.Equal(rows[j].spent) {
			return rows[i].spent.GreaterThan(rows[j].spent)
		}
		return rows[i].name < rows[j].name
	})

	out := make([]string, 0, len(rows)+1)
	for _, r := range rows {
		out = append(out, r.line)
	}
	if uncategorized != nil {
		out = append(out, uncategorized.line)
	}
	return out
}

// currencyLines renders per-currency totals sorted by currency code
func currencyLines(byCurrency map[models.Currency]decimal.Decimal) []string {
	codes := make([]string, 0, len(byCurrency))
	for c := range byCurrency {
		codes = append(codes, string(c))
	}
	sort.Strings(codes)

	lines := make([]string, 0, len(codes))
	for _, c := range codes {
		lines = append(lines, output.FormatAmountPlain(byCurrency[models.Currency(c)], models.Currency(c)))
	}
	return lines
}

// visibleItems calculates how many items can be shown given scroll offset and height
func (m Model) visibleItems(total, offset, height int) int {
	remaining := total - offset
	if remaining > height {
		return height
	}
	return remaining
}

// truncateString truncates a string to maxLen display cells with ellipsis,
// without splitting styled or wide runes.
func truncateString(s string, maxLen int) string {
	if maxLen <= 3 || lipgloss.Width(s) <= maxLen {
		return s
	}
	return ansi.Truncate(s, maxLen, "...")
}
