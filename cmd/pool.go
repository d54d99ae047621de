package cmd

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/elena/xp/internal/config"
	"github.com/elena/xp/internal/dateparse"
	"github.com/elena/xp/internal/db"
	"github.com/elena/xp/internal/models"
	"github.com/elena/xp/internal/output"
	"github.com/elena/xp/internal/suggest"
)

var poolCmd = &cobra.Command{
	Use:     "pool",
	Short:   "Manage shared expense pools",
	Long: `Manage shared expense pools (trips, household budgets).

A pool groups expenses and carries a member list. Members added on different
devices merge as a union when changes replicate.`,
	GroupID: "planning",
}

var poolAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		pool := &models.Pool{Name: args[0]}
		pool.Note, _ = cmd.Flags().GetString("note")
		pool.Members, _ = cmd.Flags().GetStringArray("member")

		if raw, _ := cmd.Flags().GetString("currency"); raw != "" {
			normalized := models.NormalizeCurrency(raw)
			if !models.IsValidCurrency(normalized) {
				output.Error("invalid currency: %s", raw)
				return fmt.Errorf("invalid currency: %s", raw)
			}
			pool.Currency = normalized
		}
		if raw, _ := cmd.Flags().GetString("target"); raw != "" {
			target, err := decimal.NewFromString(raw)
			if err != nil || target.Sign() < 0 {
				output.Error("invalid target: %s", raw)
				return fmt.Errorf("invalid target: %s", raw)
			}
			pool.TargetTotal = target
		}
		if raw, _ := cmd.Flags().GetString("start"); raw != "" {
			startedOn, err := dateparse.ParseDate(raw)
			if err != nil {
				output.Error("invalid start date: %v", err)
				return err
			}
			pool.StartedOn = startedOn
		}

		if err := h.DB.CreatePoolLogged(pool); err != nil {
			output.Error("failed to create pool: %v", err)
			return err
		}

		fmt.Printf("ADDED %s (%s)\n", pool.Name, pool.ID)
		return nil
	},
}

var poolListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List pools",
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		all, _ := cmd.Flags().GetBool("all")
		pools, err := h.DB.ListPools(all)
		if err != nil {
			output.Error("failed to list pools: %v", err)
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(pools)
		}

		if len(pools) == 0 {
			fmt.Println("No pools yet (run: xp pool add <name>)")
			return nil
		}

		activeID := ""
		if h.Dir != "" {
			activeID, _ = config.GetActivePool(h.Dir)
		}
		for i := range pools {
			marker := "  "
			if pools[i].ID == activeID {
				marker = "* "
			}
			fmt.Printf("%s%s\n", marker, output.FormatPoolShort(&pools[i]))
		}
		return nil
	},
}

var poolShowCmd = &cobra.Command{
	Use:   "show <pool>",
	Short: "Show one pool with its running total",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		pool, err := resolvePool(h.DB, args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}

		stats, err := h.DB.GetSpendStats(db.ExpenseFilter{PoolID: pool.ID})
		if err != nil {
			output.Error("failed to total pool: %v", err)
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(map[string]any{"pool": pool, "total": stats.Total, "count": stats.Count})
		}

		fmt.Println(output.FormatPoolLong(pool, stats.Total))
		return nil
	},
}

var poolJoinCmd = &cobra.Command{
	Use:   "join <pool> <member>",
	Short: "Add a member to a pool",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		pool, err := resolvePool(h.DB, args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if err := h.DB.AddPoolMemberLogged(pool.ID, args[1]); err != nil {
			output.Error("failed to add member: %v", err)
			return err
		}
		fmt.Printf("ADDED %s to %s\n", args[1], pool.Name)
		return nil
	},
}

var poolLeaveCmd = &cobra.Command{
	Use:   "leave <pool> <member>",
	Short: "Remove a member from a pool",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		pool, err := resolvePool(h.DB, args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if err := h.DB.RemovePoolMemberLogged(pool.ID, args[1]); err != nil {
			output.Error("failed to remove member: %v", err)
			return err
		}
		fmt.Printf("REMOVED %s from %s\n", args[1], pool.Name)
		return nil
	},
}

var poolTargetCmd = &cobra.Command{
	Use:   "target <pool> <amount>",
	Short: "Set a pool's target total",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		pool, err := resolvePool(h.DB, args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		target, err := decimal.NewFromString(args[1])
		if err != nil || target.Sign() < 0 {
			output.Error("invalid target: %s", args[1])
			return fmt.Errorf("invalid target: %s", args[1])
		}
		if err := h.DB.SetPoolTargetLogged(pool.ID, target); err != nil {
			output.Error("failed to set target: %v", err)
			return err
		}
		fmt.Printf("TARGET %s = %s\n", pool.Name, target.StringFixed(2))
		return nil
	},
}

var poolUseCmd = &cobra.Command{
	Use:   "use [pool]",
	Short: "Set the active pool for new expenses",
	Long:  `Set the pool that xp add tags new expenses with by default. Use --none to clear.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()
		if h.Dir == "" {
			output.Error("active pool requires a persistent store")
			return fmt.Errorf("no persistent store")
		}

		if none, _ := cmd.Flags().GetBool("none"); none {
			if err := config.ClearActivePool(h.Dir); err != nil {
				output.Error("failed to clear active pool: %v", err)
				return err
			}
			fmt.Println("ACTIVE POOL cleared")
			return nil
		}

		if len(args) == 0 {
			activeID, _ := config.GetActivePool(h.Dir)
			if activeID == "" {
				fmt.Println("No active pool")
				return nil
			}
			if pool, err := h.DB.GetPool(activeID); err == nil {
				fmt.Printf("ACTIVE POOL %s (%s)\n", pool.Name, pool.ID)
			} else {
				fmt.Printf("ACTIVE POOL %s\n", activeID)
			}
			return nil
		}

		pool, err := resolvePool(h.DB, args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if err := config.SetActivePool(h.Dir, pool.ID); err != nil {
			output.Error("failed to set active pool: %v", err)
			return err
		}
		fmt.Printf("ACTIVE POOL %s (%s)\n", pool.Name, pool.ID)
		return nil
	},
}

var poolRmCmd = &cobra.Command{
	Use:     "rm <pool>...",
	Aliases: []string{"delete"},
	Short:   "Delete pools (soft delete)",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		var failed bool
		for _, ref := range args {
			pool, err := resolvePool(h.DB, ref)
			if err != nil {
				output.Error("%v", err)
				failed = true
				continue
			}
			if err := h.DB.DeletePoolLogged(pool.ID); err != nil {
				output.Error("failed to delete %s: %v", pool.Name, err)
				failed = true
				continue
			}
			fmt.Printf("DELETED %s\n", pool.Name)
		}
		if failed {
			return fmt.Errorf("some deletes failed")
		}
		return nil
	},
}

var poolRestoreCmd = &cobra.Command{
	Use:   "restore <id>...",
	Short: "Restore deleted pools",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		var failed bool
		for _, id := range args {
			if err := h.DB.RestorePoolLogged(id); err != nil {
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
	rootCmd.AddCommand(poolCmd)
	poolCmd.AddCommand(poolAddCmd)
	poolCmd.AddCommand(poolListCmd)
	poolCmd.AddCommand(poolShowCmd)
	poolCmd.AddCommand(poolJoinCmd)
	poolCmd.AddCommand(poolLeaveCmd)
	poolCmd.AddCommand(poolTargetCmd)
	poolCmd.AddCommand(poolUseCmd)
	poolCmd.AddCommand(poolRmCmd)
	poolCmd.AddCommand(poolRestoreCmd)

	poolAddCmd.Flags().StringP("currency", "C", "", "Pool currency (default USD)")
	poolAddCmd.Flags().String("target", "", "Target total amount")
	poolAddCmd.Flags().String("start", "", "Start date (natural language or YYYY-MM-DD)")
	poolAddCmd.Flags().StringP("note", "n", "", "Free-form note")
	poolAddCmd.Flags().StringArray("member", nil, "Initial member (repeatable)")
	poolListCmd.Flags().BoolP("all", "a", false, "Include deleted pools")
	poolListCmd.Flags().Bool("json", false, "JSON output")
	poolShowCmd.Flags().Bool("json", false, "JSON output")
	poolUseCmd.Flags().Bool("none", false, "Clear the active pool")
}

// resolvePool accepts a pool name or ID and returns the pool.
func resolvePool(database *db.DB, ref string) (*models.Pool, error) {
	p, err := database.GetPoolByName(ref)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	p, err = database.GetPool(ref)
	if err != nil {
		if hint := suggest.Closest(ref, poolNames(database)); hint != "" {
			return nil, fmt.Errorf("pool not found: %s (did you mean: %s?)", ref, hint)
		}
		return nil, fmt.Errorf("pool not found: %s (run: xp pool list)", ref)
	}
	return p, nil
}

func poolNames(database *db.DB) []string {
	pools, err := database.ListPools(false)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(pools))
	for _, p := range pools {
		names = append(names, p.Name)
	}
	return names
}
