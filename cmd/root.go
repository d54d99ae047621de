package cmd

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/elena/xp/internal/db"
	"github.com/elena/xp/internal/output"
	"github.com/elena/xp/internal/syncconfig"
)

var (
	versionStr string
	dataDir    string
)

// SetVersion sets the version string
func SetVersion(v string) {
	versionStr = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "xp",
	Short: "Local-first expense tracking CLI",
	Long: `xp - A local-first personal expense tracker with optional multi-device replication.

Every command works against the local store first; when a ledger is linked,
changes replicate through the sync server and concurrent edits from other
devices reconcile deterministically.`,
}

// Execute runs the root command
func Execute() {
	err := rootCmd.Execute()
	closeStore()
	if err != nil {
		os.Exit(1)
	}
}

// nameWithAliases returns "name, alias1, alias2" if aliases exist, else just "name"
func nameWithAliases(cmd *cobra.Command) string {
	if len(cmd.Aliases) > 0 {
		return cmd.Name() + ", " + strings.Join(cmd.Aliases, ", ")
	}
	return cmd.Name()
}

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&dataDir, "dir", "", "data directory (default $XP_DIR or ~/.xp)")

	// Add custom template function for showing aliases
	cobra.AddTemplateFunc("nameWithAliases", nameWithAliases)

	// Custom usage template that shows aliases inline
	usageTemplate := `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{if eq (len .Groups) 0}}

Available Commands:{{range $cmds}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{else}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{if not .AllChildCommandsHaveGroup}}

Additional Commands:{{range $cmds}}{{if (and (eq .GroupID "") (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`

	// Need to add the 'add' function for padding calculation
	cobra.AddTemplateFunc("add", func(a, b int) int { return a + b })

	rootCmd.SetUsageTemplate(usageTemplate)

	// Define command groups for organized help output
	rootCmd.AddGroup(
		&cobra.Group{ID: "expenses", Title: "Expense Commands:"},
		&cobra.Group{ID: "planning", Title: "Planning Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)

	// Assign built-in commands to system group
	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")
}

// initLogging quiets the default slog handler; internal packages narrate
// bootstrap and replication at debug level, which is noise on a terminal
// unless XP_DEBUG is set.
func initLogging() {
	level := slog.LevelWarn
	if os.Getenv("XP_DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

var (
	storeMu     sync.Mutex
	storeHandle *db.Handle
)

// store returns the process-wide store handle, bootstrapping it on first use.
// Exactly one handle exists per process; the bootstrap ladder decides whether
// it is the durable store, a recreated one, or an in-memory fallback.
func store() *db.Handle {
	storeMu.Lock()
	defer storeMu.Unlock()
	if storeHandle != nil {
		return storeHandle
	}
	deviceID, err := syncconfig.GetDeviceID()
	if err != nil {
		slog.Debug("device id unavailable", "err", err)
	}
	storeHandle = db.Bootstrap(db.BootstrapOptions{
		Dir:       dataDir,
		DeviceID:  deviceID,
		Replicate: syncconfig.ShouldReplicate(),
	})
	if storeHandle.Degraded {
		output.Warning("store degraded to %s mode, changes will not persist (run: xp doctor)", storeHandle.Mode)
	}
	return storeHandle
}

// closeStore releases the process handle. Safe to call when no command
// touched the store.
func closeStore() {
	storeMu.Lock()
	defer storeMu.Unlock()
	if storeHandle != nil {
		if err := storeHandle.DB.Close(); err != nil {
			slog.Debug("close store", "err", err)
		}
		storeHandle = nil
	}
}

// resolvedDataDir reports where the durable store lives for this invocation,
// without opening it.
func resolvedDataDir() (string, error) {
	return db.ResolveDataDir(dataDir)
}
