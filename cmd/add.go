package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/elena/xp/internal/config"
	"github.com/elena/xp/internal/dateparse"
	"github.com/elena/xp/internal/models"
	"github.com/elena/xp/internal/output"
)

var addCmd = &cobra.Command{
	Use:     "add <amount> [merchant...]",
	Aliases: []string{"a", "spend"},
	Short:   "Record an expense",
	Long: `Record an expense in the local store.

The first argument is the amount; any remaining arguments become the merchant.
Dates accept natural language ("yesterday", "last friday") as well as
YYYY-MM-DD. The category and pool can be given by name or ID.`,
	GroupID: "expenses",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := decimal.NewFromString(args[0])
		if err != nil {
			output.Error("invalid amount: %s", args[0])
			return fmt.Errorf("invalid amount: %s", args[0])
		}
		if amount.Sign() <= 0 {
			output.Error("amount must be positive, got %s", amount.String())
			return fmt.Errorf("amount must be positive")
		}

		h := store()

		// Merchant from args or flag
		merchant, _ := cmd.Flags().GetString("merchant")
		if len(args) > 1 {
			merchant = strings.Join(args[1:], " ")
		}

		// Currency from flag, falling back to the configured default
		currency, _ := cmd.Flags().GetString("currency")
		if currency == "" && h.Dir != "" {
			def, err := config.GetDefaultCurrency(h.Dir)
			if err == nil {
				currency = string(def)
			}
		}
		normalized := models.NormalizeCurrency(currency)
		if !models.IsValidCurrency(normalized) {
			output.Error("invalid currency: %s", currency)
			return fmt.Errorf("invalid currency: %s", currency)
		}

		// Spend date: natural language or YYYY-MM-DD, default today
		spentOn := time.Now().Format(models.DateLayout)
		if on, _ := cmd.Flags().GetString("on"); on != "" {
			spentOn, err = dateparse.ParseDate(on)
			if err != nil {
				output.Error("invalid date: %v", err)
				return err
			}
		}

		expense := &models.Expense{
			Amount:   amount,
			Currency: normalized,
			Merchant: merchant,
			SpentOn:  spentOn,
		}

		if cat, _ := cmd.Flags().GetString("category"); cat != "" {
			c, err := resolveCategory(h.DB, cat)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			expense.CategoryID = c.ID
		}

		// Pool from flag or the active pool
		poolRef, _ := cmd.Flags().GetString("pool")
		if poolRef == "" && h.Dir != "" {
			poolRef, _ = config.GetActivePool(h.Dir)
		}
		if poolRef != "" {
			p, err := resolvePool(h.DB, poolRef)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			expense.PoolID = p.ID
		}

		expense.Note, _ = cmd.Flags().GetString("note")

		if err := h.DB.CreateExpenseLogged(expense); err != nil {
			output.Error("failed to record expense: %v", err)
			return err
		}

		fmt.Printf("ADDED %s\n", output.ExpenseOneLiner(expense))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addCmd)

	addCmd.Flags().StringP("currency", "C", "", "Currency code or symbol (default from config)")
	addCmd.Flags().StringP("category", "c", "", "Category name or ID")
	addCmd.Flags().StringP("pool", "p", "", "Pool name or ID (default: active pool)")
	addCmd.Flags().StringP("note", "n", "", "Free-form note")
	addCmd.Flags().StringP("merchant", "m", "", "Merchant (overridden by positional args)")
	addCmd.Flags().String("on", "", "Spend date (natural language or YYYY-MM-DD)")
}
