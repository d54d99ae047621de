package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elena/xp/internal/output"
)

var rmCmd = &cobra.Command{
	Use:     "rm <id>...",
	Aliases: []string{"delete", "del"},
	Short:   "Delete expenses (soft delete)",
	Long: `Soft-delete one or more expenses.

Deleted expenses keep their row and replicate as deletions; xp restore brings
them back.`,
	GroupID: "expenses",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		var failed bool
		for _, id := range args {
			if err := h.DB.DeleteExpenseLogged(id); err != nil {
				output.Error("failed to delete %s: %v", id, err)
				failed = true
				continue
			}
			fmt.Printf("DELETED %s\n", id)
		}
		if failed {
			return fmt.Errorf("some deletes failed")
		}
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:     "restore <id>...",
	Short:   "Restore deleted expenses",
	GroupID: "expenses",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		var failed bool
		for _, id := range args {
			if err := h.DB.RestoreExpenseLogged(id); err != nil {
				output.Error("failed to restore %s: %v", id, err)
				failed = true
				continue
			}
			fmt.Printf("RESTORED %s\n", id)
		}
		if failed {
			return fmt.Errorf("some restores failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(restoreCmd)
}
