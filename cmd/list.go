package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/elena/xp/internal/dateparse"
	"github.com/elena/xp/internal/db"
	"github.com/elena/xp/internal/models"
	"github.com/elena/xp/internal/output"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls", "l"},
	Short:   "List expenses",
	Long: `List expenses, newest spend date first.

Filters combine: --month narrows to a calendar month, --from/--to take natural
language dates, --category and --pool accept names or IDs.`,
	GroupID: "expenses",
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		var filter db.ExpenseFilter
		filter.Limit, _ = cmd.Flags().GetInt("limit")

		if month, _ := cmd.Flags().GetString("month"); month != "" {
			from, to, err := monthBounds(month)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			filter.From, filter.To = from, to
		}
		if from, _ := cmd.Flags().GetString("from"); from != "" {
			parsed, err := dateparse.ParseDate(from)
			if err != nil {
				output.Error("invalid --from date: %v", err)
				return err
			}
			filter.From = parsed
		}
		if to, _ := cmd.Flags().GetString("to"); to != "" {
			parsed, err := dateparse.ParseDate(to)
			if err != nil {
				output.Error("invalid --to date: %v", err)
				return err
			}
			filter.To = parsed
		}

		if cat, _ := cmd.Flags().GetString("category"); cat != "" {
			c, err := resolveCategory(h.DB, cat)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			filter.CategoryID = c.ID
		}
		if pool, _ := cmd.Flags().GetString("pool"); pool != "" {
			p, err := resolvePool(h.DB, pool)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			filter.PoolID = p.ID
		}

		deletedOnly, _ := cmd.Flags().GetBool("deleted")
		all, _ := cmd.Flags().GetBool("all")
		filter.IncludeDeleted = deletedOnly || all

		expenses, err := h.DB.ListExpenses(filter)
		if err != nil {
			output.Error("failed to list expenses: %v", err)
			return err
		}
		if deletedOnly {
			var kept []models.Expense
			for _, e := range expenses {
				if e.Deleted() {
					kept = append(kept, e)
				}
			}
			expenses = kept
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(expenses)
		}

		if len(expenses) == 0 {
			fmt.Println("No expenses found")
			return nil
		}

		categoryNames := categoryNameIndex(h.DB)
		poolNames := poolNameIndex(h.DB)
		long, _ := cmd.Flags().GetBool("long")

		for i := range expenses {
			e := &expenses[i]
			switch {
			case e.Deleted():
				fmt.Println(output.FormatExpenseDeleted(e))
			case long:
				fmt.Println(output.FormatExpenseLong(e, categoryNames[e.CategoryID], poolNames[e.PoolID]))
				fmt.Println()
			default:
				fmt.Println(output.FormatExpenseShort(e, categoryNames[e.CategoryID]))
			}
		}

		if !long {
			fmt.Printf("\n%d expenses · %s\n", len(expenses), sumByCurrency(expenses))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().String("month", "", "Calendar month (YYYY-MM, \"this\", \"last\")")
	listCmd.Flags().String("from", "", "Earliest spend date (natural language or YYYY-MM-DD)")
	listCmd.Flags().String("to", "", "Latest spend date (natural language or YYYY-MM-DD)")
	listCmd.Flags().StringP("category", "c", "", "Filter by category name or ID")
	listCmd.Flags().StringP("pool", "p", "", "Filter by pool name or ID")
	listCmd.Flags().Bool("deleted", false, "Show only deleted expenses")
	listCmd.Flags().BoolP("all", "a", false, "Include deleted expenses")
	listCmd.Flags().IntP("limit", "n", 50, "Maximum rows (0 for no limit)")
	listCmd.Flags().Bool("json", false, "JSON output")
	listCmd.Flags().Bool("long", false, "Full detail per expense")
}

// monthBounds expands "YYYY-MM" (or "this"/"last") into inclusive from/to dates.
func monthBounds(month string) (string, string, error) {
	var start time.Time
	now := time.Now()
	switch strings.ToLower(month) {
	case "this":
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.Local)
	case "last":
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.Local).AddDate(0, -1, 0)
	default:
		parsed, err := time.Parse("2006-01", month)
		if err != nil {
			return "", "", fmt.Errorf("invalid month %q (want YYYY-MM, \"this\", or \"last\")", month)
		}
		start = parsed
	}
	end := start.AddDate(0, 1, 0).AddDate(0, 0, -1)
	return start.Format(models.DateLayout), end.Format(models.DateLayout), nil
}

// sumByCurrency totals live expenses per currency, e.g. "132.50 USD + 40.00 EUR".
func sumByCurrency(expenses []models.Expense) string {
	totals := make(map[models.Currency]decimal.Decimal)
	var order []models.Currency
	for i := range expenses {
		e := &expenses[i]
		if e.Deleted() {
			continue
		}
		if _, ok := totals[e.Currency]; !ok {
			order = append(order, e.Currency)
		}
		totals[e.Currency] = totals[e.Currency].Add(e.Amount)
	}
	parts := make([]string, 0, len(order))
	for _, c := range order {
		parts = append(parts, output.FormatAmountPlain(totals[c], c))
	}
	if len(parts) == 0 {
		return "0.00"
	}
	return strings.Join(parts, " + ")
}

// categoryNameIndex maps category IDs to display names, tolerating lookup
// failures with an empty index.
func categoryNameIndex(database *db.DB) map[string]string {
	names := make(map[string]string)
	categories, err := database.ListCategories(true)
	if err != nil {
		return names
	}
	for _, c := range categories {
		names[c.ID] = c.Name
	}
	return names
}

// poolNameIndex maps pool IDs to display names.
func poolNameIndex(database *db.DB) map[string]string {
	names := make(map[string]string)
	pools, err := database.ListPools(true)
	if err != nil {
		return names
	}
	for _, p := range pools {
		names[p.ID] = p.Name
	}
	return names
}
