package cmd

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/elena/xp/internal/db"
	"github.com/elena/xp/internal/models"
	"github.com/elena/xp/internal/output"
	"github.com/elena/xp/internal/suggest"
)

var categoryCmd = &cobra.Command{
	Use:     "category",
	Aliases: []string{"cat"},
	Short:   "Manage spending categories",
	GroupID: "planning",
}

var categoryAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		category := &models.Category{Name: args[0]}
		category.Icon, _ = cmd.Flags().GetString("icon")
		category.Color, _ = cmd.Flags().GetString("color")
		category.Note, _ = cmd.Flags().GetString("note")

		if raw, _ := cmd.Flags().GetString("budget"); raw != "" {
			budget, err := decimal.NewFromString(raw)
			if err != nil || budget.Sign() < 0 {
				output.Error("invalid budget: %s", raw)
				return fmt.Errorf("invalid budget: %s", raw)
			}
			category.MonthlyBudget = budget
		}

		if err := h.DB.CreateCategoryLogged(category); err != nil {
			output.Error("failed to create category: %v", err)
			return err
		}

		fmt.Printf("ADDED %s (%s)\n", category.Name, category.ID)
		return nil
	},
}

var categoryListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List categories",
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		all, _ := cmd.Flags().GetBool("all")
		categories, err := h.DB.ListCategories(all)
		if err != nil {
			output.Error("failed to list categories: %v", err)
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(categories)
		}

		if len(categories) == 0 {
			fmt.Println("No categories yet (run: xp category add <name>)")
			return nil
		}
		for i := range categories {
			fmt.Println(output.FormatCategoryShort(&categories[i]))
		}
		return nil
	},
}

var categoryBudgetCmd = &cobra.Command{
	Use:   "budget <category> <amount>",
	Short: "Set a monthly budget",
	Long:  `Set the monthly budget for a category. An amount of 0 removes the budget.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		category, err := resolveCategory(h.DB, args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}

		budget, err := decimal.NewFromString(args[1])
		if err != nil || budget.Sign() < 0 {
			output.Error("invalid budget: %s", args[1])
			return fmt.Errorf("invalid budget: %s", args[1])
		}

		category.MonthlyBudget = budget
		if err := h.DB.UpdateCategoryLogged(category, models.ActionSetBudget); err != nil {
			output.Error("failed to set budget: %v", err)
			return err
		}

		fmt.Printf("BUDGET %s = %s\n", category.Name, budget.StringFixed(2))
		return nil
	},
}

var categoryRmCmd = &cobra.Command{
	Use:     "rm <category>...",
	Aliases: []string{"delete"},
	Short:   "Delete categories (soft delete)",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		var failed bool
		for _, ref := range args {
			category, err := resolveCategory(h.DB, ref)
			if err != nil {
				output.Error("%v", err)
				failed = true
				continue
			}
			if err := h.DB.DeleteCategoryLogged(category.ID); err != nil {
				output.Error("failed to delete %s: %v", category.Name, err)
				failed = true
				continue
			}
			fmt.Printf("DELETED %s\n", category.Name)
		}
		if failed {
			return fmt.Errorf("some deletes failed")
		}
		return nil
	},
}

var categoryRestoreCmd = &cobra.Command{
	Use:   "restore <id>...",
	Short: "Restore deleted categories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		var failed bool
		for _, id := range args {
			if err := h.DB.RestoreCategoryLogged(id); err != nil {
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
	rootCmd.AddCommand(categoryCmd)
	categoryCmd.AddCommand(categoryAddCmd)
	categoryCmd.AddCommand(categoryListCmd)
	categoryCmd.AddCommand(categoryBudgetCmd)
	categoryCmd.AddCommand(categoryRmCmd)
	categoryCmd.AddCommand(categoryRestoreCmd)

	categoryAddCmd.Flags().String("icon", "", "Display icon (emoji)")
	categoryAddCmd.Flags().String("color", "", "Display color")
	categoryAddCmd.Flags().String("budget", "", "Monthly budget amount")
	categoryAddCmd.Flags().StringP("note", "n", "", "Free-form note")
	categoryListCmd.Flags().BoolP("all", "a", false, "Include deleted categories")
	categoryListCmd.Flags().Bool("json", false, "JSON output")
}

// resolveCategory accepts a category name or ID and returns the category.
func resolveCategory(database *db.DB, ref string) (*models.Category, error) {
	c, err := database.GetCategoryByName(ref)
	if err != nil {
		return nil, err
	}
	if c != nil {
		return c, nil
	}
	c, err = database.GetCategory(ref)
	if err != nil {
		if hint := suggest.Closest(ref, categoryNames(database)); hint != "" {
			return nil, fmt.Errorf("category not found: %s (did you mean: %s?)", ref, hint)
		}
		return nil, fmt.Errorf("category not found: %s (run: xp category list)", ref)
	}
	return c, nil
}

func categoryNames(database *db.DB) []string {
	categories, err := database.ListCategories(false)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(categories))
	for _, c := range categories {
		names = append(names, c.Name)
	}
	return names
}
