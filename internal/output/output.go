// Package output provides styled terminal output helpers (success, error,
// warning, expense formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/elena/xp/internal/models"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	amountStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	overStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

// OutputMode determines output format
type OutputMode int

const (
	ModeShort OutputMode = iota
	ModeLong
	ModeJSON
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound      = "not_found"
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeConflict      = "conflict"
	ErrCodeDatabaseError = "database_error"
	ErrCodeSyncDisabled  = "sync_disabled"
	ErrCodeNotLinked     = "not_linked"
	ErrCodeAuthRequired  = "auth_required"
	ErrCodeSyncError     = "sync_error"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	fmt.Printf(`{"error":{"code":"%s","message":"%s"}}`, code, message)
	fmt.Println()
}

// JSONErrorWithDetails outputs an error as JSON with additional context
func JSONErrorWithDetails(code, message string, details map[string]interface{}) {
	errObj := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if len(details) > 0 {
		errObj["details"] = details
	}
	result := map[string]interface{}{
		"error": errObj,
	}
	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(data))
}

// FormatAmount formats a monetary amount with its currency code.
// Always two decimal places: "9.50 USD".
func FormatAmount(amount decimal.Decimal, currency models.Currency) string {
	return amountStyle.Render(fmt.Sprintf("%s %s", amount.StringFixed(2), currency))
}

// FormatAmountPlain formats an amount without styling (for JSON-adjacent or
// report markdown contexts).
func FormatAmountPlain(amount decimal.Decimal, currency models.Currency) string {
	return fmt.Sprintf("%s %s", amount.StringFixed(2), currency)
}

// FormatBudget renders spent-vs-budget with percentage, highlighting overruns.
// e.g. "45.25 / 300.00 (15%)"
func FormatBudget(spent, budget decimal.Decimal) string {
	if budget.IsZero() {
		return spent.StringFixed(2)
	}
	pct := spent.Div(budget).Mul(decimal.NewFromInt(100)).IntPart()
	s := fmt.Sprintf("%s / %s (%d%%)", spent.StringFixed(2), budget.StringFixed(2), pct)
	if spent.GreaterThan(budget) {
		return overStyle.Render(s)
	}
	return s
}

// FormatExpenseShort formats an expense in short format. The category name
// is resolved by the caller; empty means uncategorized.
func FormatExpenseShort(e *models.Expense, categoryName string) string {
	var parts []string
	parts = append(parts, titleStyle.Render(e.ID))
	parts = append(parts, FormatAmount(e.Amount, e.Currency))
	if e.Merchant != "" {
		parts = append(parts, e.Merchant)
	}
	parts = append(parts, subtleStyle.Render(e.SpentOn))
	if categoryName != "" {
		parts = append(parts, subtleStyle.Render(categoryName))
	}
	return strings.Join(parts, "  ")
}

// FormatExpenseDeleted formats a deleted expense showing [deleted] instead
// of the category.
func FormatExpenseDeleted(e *models.Expense) string {
	var parts []string
	parts = append(parts, titleStyle.Render(e.ID))
	parts = append(parts, FormatAmount(e.Amount, e.Currency))
	if e.Merchant != "" {
		parts = append(parts, e.Merchant)
	}
	parts = append(parts, subtleStyle.Render(e.SpentOn))
	parts = append(parts, errorStyle.Render("[deleted]"))
	return strings.Join(parts, "  ")
}

// FormatExpenseLong formats an expense in long format for xp show.
func FormatExpenseLong(e *models.Expense, categoryName, poolName string) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s: %s %s", e.ID, e.Amount.StringFixed(2), e.Currency)))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Spent on: %s\n", e.SpentOn))
	if e.Merchant != "" {
		sb.WriteString(fmt.Sprintf("Merchant: %s\n", e.Merchant))
	}
	if categoryName != "" {
		sb.WriteString(fmt.Sprintf("Category: %s\n", categoryName))
	}
	if poolName != "" {
		sb.WriteString(fmt.Sprintf("Pool: %s\n", poolName))
	}
	if e.Note != "" {
		sb.WriteString("\n")
		sb.WriteString(subtleStyle.Render("Note:"))
		sb.WriteString("\n")
		sb.WriteString(e.Note)
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(subtleStyle.Render(fmt.Sprintf("Created %s", FormatTimeAgo(e.CreatedAt))))
	if !e.UpdatedAt.Equal(e.CreatedAt) {
		sb.WriteString(subtleStyle.Render(fmt.Sprintf(", updated %s", FormatTimeAgo(e.UpdatedAt))))
	}
	if e.UpdatedBy != "" {
		sb.WriteString(subtleStyle.Render(fmt.Sprintf(" by %s", e.UpdatedBy)))
	}
	sb.WriteString("\n")

	if e.Deleted() {
		sb.WriteString(errorStyle.Render("[deleted]"))
		sb.WriteString(subtleStyle.Render(fmt.Sprintf(" %s — restore with xp restore %s", FormatTimeAgo(*e.DeletedAt), e.ID)))
		sb.WriteString("\n")
	}

	return sb.String()
}

// ExpenseOneLiner returns a concise single-line expense representation.
func ExpenseOneLiner(e *models.Expense) string {
	desc := e.Merchant
	if desc == "" {
		desc = e.Note
	}
	if desc == "" {
		return fmt.Sprintf("%s %s %s", e.ID, e.Amount.StringFixed(2), e.Currency)
	}
	return fmt.Sprintf("%s %s %s %q", e.ID, e.Amount.StringFixed(2), e.Currency, desc)
}

// FormatCategoryShort formats a category in short format.
func FormatCategoryShort(c *models.Category) string {
	var parts []string
	parts = append(parts, titleStyle.Render(c.ID))
	name := c.Name
	if c.Icon != "" {
		name = c.Icon + " " + name
	}
	parts = append(parts, name)
	if !c.MonthlyBudget.IsZero() {
		parts = append(parts, subtleStyle.Render(fmt.Sprintf("budget %s/mo", c.MonthlyBudget.StringFixed(2))))
	}
	return strings.Join(parts, "  ")
}

// FormatPoolShort formats a pool in short format.
func FormatPoolShort(p *models.Pool) string {
	var parts []string
	parts = append(parts, titleStyle.Render(p.ID))
	parts = append(parts, p.Name)
	if len(p.Members) > 0 {
		parts = append(parts, subtleStyle.Render(fmt.Sprintf("%d members", len(p.Members))))
	}
	if !p.TargetTotal.IsZero() {
		parts = append(parts, subtleStyle.Render(fmt.Sprintf("target %s %s", p.TargetTotal.StringFixed(2), p.Currency)))
	}
	return strings.Join(parts, "  ")
}

// FormatPoolLong formats a pool in long format for xp pool show.
func FormatPoolLong(p *models.Pool, total decimal.Decimal) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s: %s", p.ID, p.Name)))
	sb.WriteString("\n")
	if p.StartedOn != "" {
		sb.WriteString(fmt.Sprintf("Started: %s\n", p.StartedOn))
	}
	if len(p.Members) > 0 {
		sb.WriteString(fmt.Sprintf("Members: %s\n", strings.Join(p.Members, ", ")))
	}
	if !p.TargetTotal.IsZero() {
		sb.WriteString(fmt.Sprintf("Target: %s\n", FormatBudget(total, p.TargetTotal)))
	} else {
		sb.WriteString(fmt.Sprintf("Total: %s %s\n", total.StringFixed(2), p.Currency))
	}
	if p.Note != "" {
		sb.WriteString(fmt.Sprintf("Note: %s\n", p.Note))
	}
	return sb.String()
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nCATEGORIES:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentLines indents each line by the specified number of spaces
func IndentLines(lines []string, spaces int) []string {
	indent := strings.Repeat(" ", spaces)
	result := make([]string, len(lines))
	for i, line := range lines {
		result[i] = indent + line
	}
	return result
}

// IndentString indents each line in a string by the specified number of spaces
func IndentString(s string, spaces int) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	indented := IndentLines(lines, spaces)
	return strings.Join(indented, "\n")
}

// BulletList formats items as a bulleted list with optional indentation
func BulletList(items []string, indent int) []string {
	prefix := strings.Repeat(" ", indent)
	result := make([]string, len(items))
	for i, item := range items {
		result[i] = prefix + "- " + item
	}
	return result
}
