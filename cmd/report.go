package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/elena/xp/internal/db"
	"github.com/elena/xp/internal/models"
	"github.com/elena/xp/internal/output"
)

var reportCmd = &cobra.Command{
	Use:     "report [month]",
	Aliases: []string{"rep"},
	Short:   "Render a monthly spending report",
	Long: `Render a spending report for a calendar month (default: the current one).

The report shows per-category totals against budgets, pool totals, and a daily
spend chart, rendered as markdown in the terminal.`,
	GroupID: "planning",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		month := "this"
		if len(args) > 0 {
			month = args[0]
		}
		from, to, err := monthBounds(month)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		stats, err := h.DB.GetSpendStats(db.ExpenseFilter{From: from, To: to})
		if err != nil {
			output.Error("failed to aggregate: %v", err)
			return err
		}
		daily, err := h.DB.GetDailyTotals(from, to)
		if err != nil {
			output.Error("failed to aggregate daily totals: %v", err)
			return err
		}
		categories, err := h.DB.ListCategories(false)
		if err != nil {
			output.Error("failed to list categories: %v", err)
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(map[string]any{
				"from":  from,
				"to":    to,
				"stats": stats,
				"daily": daily,
			})
		}

		label := monthLabel(from)
		markdown := buildReportMarkdown(label, stats, categories, poolNameIndex(h.DB), daily)

		if plain, _ := cmd.Flags().GetBool("plain"); plain {
			fmt.Print(markdown)
			return nil
		}

		rendered, err := output.RenderMarkdown(markdown)
		if err != nil {
			fmt.Print(markdown)
			return nil
		}
		fmt.Print(rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().Bool("json", false, "JSON output")
	reportCmd.Flags().Bool("plain", false, "Raw markdown without terminal rendering")
}

// monthLabel turns "2026-03-01" into "March 2026".
func monthLabel(from string) string {
	t, err := time.Parse(models.DateLayout, from)
	if err != nil {
		return from
	}
	return t.Format("January 2006")
}

// buildReportMarkdown assembles the report document. Section order is fixed:
// summary, categories, pools, daily chart, notables.
func buildReportMarkdown(label string, stats *models.SpendStats, categories []models.Category, poolNames map[string]string, daily []db.DailyTotal) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Spending: %s\n\n", label)

	if stats.Count == 0 {
		b.WriteString("No expenses recorded this month.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "**%s** across %d expenses.\n\n", currencyTotals(stats.ByCurrency), stats.Count)

	// Categories, biggest spend first, uncategorized last
	b.WriteString("## Categories\n\n")
	b.WriteString("| Category | Spent | Budget |\n")
	b.WriteString("|----------|------:|-------:|\n")
	byName := make(map[string]*models.Category)
	for i := range categories {
		byName[categories[i].ID] = &categories[i]
	}
	type catRow struct {
		name   string
		spent  decimal.Decimal
		budget decimal.Decimal
	}
	var rows []catRow
	for id, spent := range stats.ByCategory {
		if id == "" {
			continue
		}
		row := catRow{name: id, spent: spent}
		if c, ok := byName[id]; ok {
			row.name = c.Name
			row.budget = c.MonthlyBudget
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].spent.Equal(rows[j].spent) {
			return rows[i].spent.GreaterThan(rows[j].spent)
		}
		return rows[i].name < rows[j].name
	})
	for _, row := range rows {
		budget := ""
		if row.budget.IsPositive() {
			budget = row.budget.StringFixed(2)
			if row.spent.GreaterThan(row.budget) {
				budget += " (over)"
			}
		}
		fmt.Fprintf(&b, "| %s | %s | %s |\n", row.name, row.spent.StringFixed(2), budget)
	}
	if uncat, ok := stats.ByCategory[""]; ok && uncat.Sign() > 0 {
		fmt.Fprintf(&b, "| (uncategorized) | %s | |\n", uncat.StringFixed(2))
	}
	b.WriteString("\n")

	if len(stats.ByPool) > 0 {
		b.WriteString("## Pools\n\n")
		b.WriteString("| Pool | Spent |\n")
		b.WriteString("|------|------:|\n")
		var poolIDs []string
		for id := range stats.ByPool {
			poolIDs = append(poolIDs, id)
		}
		sort.Slice(poolIDs, func(i, j int) bool {
			return stats.ByPool[poolIDs[i]].GreaterThan(stats.ByPool[poolIDs[j]])
		})
		for _, id := range poolIDs {
			name := poolNames[id]
			if name == "" {
				name = id
			}
			fmt.Fprintf(&b, "| %s | %s |\n", name, stats.ByPool[id].StringFixed(2))
		}
		b.WriteString("\n")
	}

	if len(daily) > 0 {
		b.WriteString("## Daily\n\n```\n")
		b.WriteString(dailyChart(daily, 30))
		b.WriteString("```\n\n")
	}

	b.WriteString("## Notables\n\n")
	if e := stats.LargestSpend; e != nil {
		fmt.Fprintf(&b, "- Largest: %s\n", output.ExpenseOneLiner(e))
	}
	if e := stats.LatestSpend; e != nil {
		fmt.Fprintf(&b, "- Latest: %s\n", output.ExpenseOneLiner(e))
	}

	return b.String()
}

// currencyTotals formats per-currency totals as "132.50 USD + 40.00 EUR".
func currencyTotals(byCurrency map[models.Currency]decimal.Decimal) string {
	var currencies []models.Currency
	for c := range byCurrency {
		currencies = append(currencies, c)
	}
	sort.Slice(currencies, func(i, j int) bool { return currencies[i] < currencies[j] })
	parts := make([]string, 0, len(currencies))
	for _, c := range currencies {
		parts = append(parts, output.FormatAmountPlain(byCurrency[c], c))
	}
	if len(parts) == 0 {
		return "0.00"
	}
	return strings.Join(parts, " + ")
}

// dailyChart renders one bar per day, scaled to width columns at the peak.
func dailyChart(daily []db.DailyTotal, width int) string {
	max := decimal.Zero
	for _, d := range daily {
		if d.Total.GreaterThan(max) {
			max = d.Total
		}
	}
	if !max.IsPositive() {
		return ""
	}

	var b strings.Builder
	for _, d := range daily {
		cols := int(d.Total.Div(max).Mul(decimal.NewFromInt(int64(width))).IntPart())
		if cols < 1 {
			cols = 1
		}
		fmt.Fprintf(&b, "%s  %s %s\n", d.Date, strings.Repeat("▇", cols), d.Total.StringFixed(2))
	}
	return b.String()
}
