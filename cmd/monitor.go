package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	xpsync "github.com/elena/xp/internal/sync"
	"github.com/elena/xp/internal/syncconfig"
	"github.com/elena/xp/internal/tui/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live dashboard for spending and replication",
	Long: `Launch a live-updating dashboard showing:
- This month: totals, largest spend, budget lines per category
- Sync activity: recent pushed and pulled events
- Replication: run phase, cursors, pending and conflict counts

The view refreshes on a ticker and whenever another process writes
the store.

Key bindings:
  Tab/Shift+Tab  Switch panels
  1/2/3          Jump to panel
  j/k            Scroll the active panel
  s              Trigger a sync run
  r              Force refresh
  ?              Toggle help
  q              Quit`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		interval, _ := cmd.Flags().GetDuration("interval")
		if interval < 500*time.Millisecond {
			interval = 2 * time.Second
		}

		cfg := monitor.Config{
			DB:          h.DB,
			DataDir:     h.Dir,
			Interval:    interval,
			Version:     versionStr,
			RestartHint: h.RestartRequired(syncconfig.ShouldReplicate()),
		}

		// A coordinator only makes sense when this process can actually sync.
		if h.Replicated && syncconfig.IsAuthenticated() {
			if client, err := newSyncClient(); err == nil {
				cfg.Coord = xpsync.NewCoordinator(xpsync.CoordinatorConfig{
					Runner:  xpsync.NewStoreRunner(h.DB, client),
					Enabled: syncconfig.ShouldReplicate,
				})

				// Remote pushes arrive as notifications; the observer turns
				// them into coordinator triggers for the monitor's lifetime.
				if state, err := h.DB.GetSyncState(); err == nil && state != nil && state.LedgerID != "" {
					ctx, cancel := context.WithCancel(cmd.Context())
					defer cancel()
					observer := xpsync.NewObserver(xpsync.ObserverConfig{
						Notifier: client,
						LedgerID: state.LedgerID,
						Trigger:  cfg.Coord.Trigger,
						Enabled:  syncconfig.ShouldReplicate,
					})
					go func() { _ = observer.Run(ctx) }()
				}
			}
		}

		model := monitor.NewModel(cfg)
		defer model.Close()

		if cfg.Coord != nil && syncconfig.GetAutoSyncOnStart() {
			cfg.Coord.Trigger(xpsync.TriggerStartup)
		}

		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running monitor: %w", err)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().Duration("interval", 2*time.Second, "Refresh interval (default 2s)")
}
