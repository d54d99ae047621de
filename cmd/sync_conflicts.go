package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/elena/xp/internal/output"
)

var syncConflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Show recent sync conflicts",
	Long: `Show divergences detected during pull and how each one was resolved.

A conflict means two devices changed the same record between syncs. The
newer edit wins field by field; the losing version is kept here for review.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 || limit > 1000 {
			output.Error("limit must be between 1 and 1000")
			return fmt.Errorf("invalid limit: %d", limit)
		}
		sinceStr, _ := cmd.Flags().GetString("since")

		h := store()

		var since *time.Time
		if sinceStr != "" {
			d, err := time.ParseDuration(sinceStr)
			if err != nil {
				output.Error("invalid duration %q: %v", sinceStr, err)
				return err
			}
			t := time.Now().Add(-d)
			since = &t
		}

		conflicts, err := h.DB.GetRecentConflicts(limit, since)
		if err != nil {
			output.Error("query conflicts: %v", err)
			return err
		}

		if len(conflicts) == 0 {
			fmt.Println("No sync conflicts found.")
			return nil
		}

		fmt.Println("Recent sync conflicts:")
		fmt.Printf("  %-21s %-12s %-18s %-10s %s\n", "TIME", "TYPE", "ENTITY", "RESOLVED", "SEQ")
		for _, c := range conflicts {
			fmt.Printf("  %-21s %-12s %-18s %-10s %d\n",
				c.ResolvedAt.Format("2006-01-02 15:04:05"),
				c.EntityType,
				truncateID(c.EntityID, 18),
				c.Resolution,
				c.ServerSeq,
			)
		}
		return nil
	},
}

func init() {
	syncConflictsCmd.Flags().Int("limit", 20, "Max conflicts to show")
	syncConflictsCmd.Flags().String("since", "", "Show conflicts from the last duration (e.g. 24h, 1h30m)")
	syncCmd.AddCommand(syncConflictsCmd)
}
