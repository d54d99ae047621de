package cmd

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/elena/xp/internal/dateparse"
	"github.com/elena/xp/internal/models"
	"github.com/elena/xp/internal/output"
)

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	Aliases: []string{"e", "update"},
	Short:   "Edit an expense",
	Long: `Edit fields of an existing expense.

Only the flags you pass change; pass an empty value to clear a field
(--category "" removes the category). Edits replicate like any other change
and merge field-by-field against concurrent edits from other devices.`,
	GroupID: "expenses",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		expense, err := h.DB.GetExpense(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}

		var changedOther, changedCategory bool

		if cmd.Flags().Changed("amount") {
			raw, _ := cmd.Flags().GetString("amount")
			amount, err := decimal.NewFromString(raw)
			if err != nil {
				output.Error("invalid amount: %s", raw)
				return fmt.Errorf("invalid amount: %s", raw)
			}
			if amount.Sign() <= 0 {
				output.Error("amount must be positive, got %s", amount.String())
				return fmt.Errorf("amount must be positive")
			}
			expense.Amount = amount
			changedOther = true
		}

		if cmd.Flags().Changed("currency") {
			raw, _ := cmd.Flags().GetString("currency")
			normalized := models.NormalizeCurrency(raw)
			if !models.IsValidCurrency(normalized) {
				output.Error("invalid currency: %s", raw)
				return fmt.Errorf("invalid currency: %s", raw)
			}
			expense.Currency = normalized
			changedOther = true
		}

		if cmd.Flags().Changed("on") {
			raw, _ := cmd.Flags().GetString("on")
			spentOn, err := dateparse.ParseDate(raw)
			if err != nil {
				output.Error("invalid date: %v", err)
				return err
			}
			expense.SpentOn = spentOn
			changedOther = true
		}

		if cmd.Flags().Changed("category") {
			raw, _ := cmd.Flags().GetString("category")
			if raw == "" {
				expense.CategoryID = ""
			} else {
				c, err := resolveCategory(h.DB, raw)
				if err != nil {
					output.Error("%v", err)
					return err
				}
				expense.CategoryID = c.ID
			}
			changedCategory = true
		}

		if cmd.Flags().Changed("pool") {
			raw, _ := cmd.Flags().GetString("pool")
			if raw == "" {
				expense.PoolID = ""
			} else {
				p, err := resolvePool(h.DB, raw)
				if err != nil {
					output.Error("%v", err)
					return err
				}
				expense.PoolID = p.ID
			}
			changedOther = true
		}

		if cmd.Flags().Changed("merchant") {
			expense.Merchant, _ = cmd.Flags().GetString("merchant")
			changedOther = true
		}
		if cmd.Flags().Changed("note") {
			expense.Note, _ = cmd.Flags().GetString("note")
			changedOther = true
		}

		if !changedOther && !changedCategory {
			output.Error("nothing to change (see xp edit --help)")
			return fmt.Errorf("nothing to change")
		}

		// A pure category move is logged as a recategorize so history and
		// reports can tell it apart from amount corrections.
		actionType := models.ActionUpdate
		if changedCategory && !changedOther {
			actionType = models.ActionRecategorize
		}

		if err := h.DB.UpdateExpenseLogged(expense, actionType); err != nil {
			output.Error("failed to update expense: %v", err)
			return err
		}

		fmt.Printf("UPDATED %s\n", expense.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(editCmd)

	editCmd.Flags().StringP("amount", "A", "", "New amount")
	editCmd.Flags().StringP("currency", "C", "", "New currency code or symbol")
	editCmd.Flags().StringP("category", "c", "", "New category name or ID (empty clears)")
	editCmd.Flags().StringP("pool", "p", "", "New pool name or ID (empty clears)")
	editCmd.Flags().StringP("merchant", "m", "", "New merchant")
	editCmd.Flags().StringP("note", "n", "", "New note (empty clears)")
	editCmd.Flags().String("on", "", "New spend date")
}
