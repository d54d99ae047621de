package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/elena/xp/internal/db"
	"github.com/elena/xp/internal/output"
	"github.com/elena/xp/internal/syncconfig"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the expense store",
	Long: `Creates the data directory and SQLite store. Every command does this
implicitly on first use; init exists for scripting and for checking paths.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolvedDataDir()
		if err != nil {
			output.Error("resolve data dir: %v", err)
			return err
		}

		storePath := db.StorePath(dir)
		if _, err := os.Stat(storePath); err == nil {
			output.Warning("store already exists at %s", storePath)
			return nil
		}

		database, err := db.Initialize(dir)
		if err != nil {
			output.Error("initialize store: %v", err)
			return err
		}
		defer database.Close()

		fmt.Printf("INITIALIZED %s\n", storePath)

		if deviceID, err := syncconfig.GetDeviceID(); err == nil {
			fmt.Printf("Device: %s\n", deviceID)
		}
		if syncconfig.Available() {
			fmt.Println("Replication is available. Next: xp sync enable, xp auth login, xp link.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
