package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elena/xp/internal/db"
	"github.com/elena/xp/internal/models"
	"github.com/elena/xp/internal/output"
)

var undoCmd = &cobra.Command{
	Use:     "undo",
	Short:   "Undo the most recent change",
	Long: `Undo the most recent change by applying its inverse.

The inverse is recorded as a regular change, so it replicates to other devices
like anything else. Running undo twice re-applies the original change.`,
	GroupID: "expenses",
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		action, err := h.DB.GetLastAction()
		if err != nil {
			output.Error("failed to read change log: %v", err)
			return err
		}
		if action == nil {
			fmt.Println("Nothing to undo")
			return nil
		}

		if err := applyInverse(h.DB, action); err != nil {
			output.Error("failed to undo: %v", err)
			return err
		}
		if err := h.DB.MarkActionUndone(action.ID); err != nil {
			output.Error("failed to mark change undone: %v", err)
			return err
		}

		fmt.Printf("UNDONE %s %s %s\n", action.ActionType, action.EntityType, action.EntityID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(undoCmd)
}

// applyInverse performs the compensating change for a logged action. Creates
// invert to deletes, deletes to restores, and everything that carries a
// previous snapshot gets that snapshot written back.
func applyInverse(database *db.DB, action *models.ActionLog) error {
	switch action.EntityType {
	case "expense":
		switch action.ActionType {
		case models.ActionCreate, models.ActionRestore:
			return database.DeleteExpenseLogged(action.EntityID)
		case models.ActionDelete:
			return database.RestoreExpenseLogged(action.EntityID)
		default:
			var prev models.Expense
			if err := json.Unmarshal([]byte(action.PreviousData), &prev); err != nil {
				return fmt.Errorf("parse previous state: %w", err)
			}
			return database.UpdateExpenseLogged(&prev, models.ActionUpdate)
		}
	case "category":
		switch action.ActionType {
		case models.ActionCreate, models.ActionRestore:
			return database.DeleteCategoryLogged(action.EntityID)
		case models.ActionDelete:
			return database.RestoreCategoryLogged(action.EntityID)
		default:
			var prev models.Category
			if err := json.Unmarshal([]byte(action.PreviousData), &prev); err != nil {
				return fmt.Errorf("parse previous state: %w", err)
			}
			return database.UpdateCategoryLogged(&prev, models.ActionUpdate)
		}
	case "pool":
		switch action.ActionType {
		case models.ActionCreate, models.ActionRestore:
			return database.DeletePoolLogged(action.EntityID)
		case models.ActionDelete:
			return database.RestorePoolLogged(action.EntityID)
		default:
			var prev models.Pool
			if err := json.Unmarshal([]byte(action.PreviousData), &prev); err != nil {
				return fmt.Errorf("parse previous state: %w", err)
			}
			return database.UpdatePoolLogged(&prev, models.ActionUpdate)
		}
	}
	return fmt.Errorf("cannot undo %s on %s", action.ActionType, action.EntityType)
}
