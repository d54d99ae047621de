package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elena/xp/internal/output"
)

var showCmd = &cobra.Command{
	Use:     "show <id>",
	Aliases: []string{"s", "view"},
	Short:   "Show one expense in full",
	GroupID: "expenses",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		expense, err := h.DB.GetExpense(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(expense)
		}

		var categoryName, poolName string
		if expense.CategoryID != "" {
			if c, err := h.DB.GetCategory(expense.CategoryID); err == nil {
				categoryName = c.Name
			}
		}
		if expense.PoolID != "" {
			if p, err := h.DB.GetPool(expense.PoolID); err == nil {
				poolName = p.Name
			}
		}

		fmt.Println(output.FormatExpenseLong(expense, categoryName, poolName))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)

	showCmd.Flags().Bool("json", false, "JSON output")
}
