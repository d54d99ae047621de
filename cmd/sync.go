package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/elena/xp/internal/db"
	"github.com/elena/xp/internal/output"
	xpsync "github.com/elena/xp/internal/sync"
	"github.com/elena/xp/internal/syncclient"
	"github.com/elena/xp/internal/syncconfig"
)

// errBootstrapNotNeeded signals that the server event count is below the snapshot threshold.
var errBootstrapNotNeeded = errors.New("bootstrap not needed")

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replicate with the sync server",
	Long: `Run one replication pass: push pending local changes, pull and merge
remote ones, and verify convergence against the server cursor.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		pushOnly, _ := cmd.Flags().GetBool("push")
		pullOnly, _ := cmd.Flags().GetBool("pull")

		if !syncconfig.Available() {
			output.Error("replication is not built into this binary")
			return fmt.Errorf("replication unavailable")
		}
		if !syncconfig.Enabled() {
			output.Error("sync is disabled (run: xp sync enable)")
			return fmt.Errorf("sync disabled")
		}
		if !syncconfig.IsAuthenticated() {
			output.Error("not logged in (run: xp auth login)")
			return fmt.Errorf("not authenticated")
		}

		h := store()
		if h.Degraded {
			output.Error("store degraded to %s mode, not replicating", h.Mode)
			return fmt.Errorf("store degraded")
		}

		syncState, err := h.DB.GetSyncState()
		if err != nil {
			output.Error("get sync state: %v", err)
			return err
		}
		if syncState == nil || syncState.LedgerID == "" {
			output.Error("ledger not linked (run: xp link)")
			return fmt.Errorf("not linked")
		}

		client, err := newSyncClient()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		// Try snapshot bootstrap on first sync
		if !pushOnly && syncState.LastPulledServerSeq == 0 {
			err := tryBootstrap(h, client, syncState)
			switch {
			case err == nil:
				h = store() // reopened on the snapshot
				syncState, err = h.DB.GetSyncState()
				if err != nil {
					output.Error("get sync state after bootstrap: %v", err)
					return err
				}
			case errors.Is(err, errBootstrapNotNeeded):
				// fall through to the normal pull path
			default:
				output.Warning("bootstrap failed, falling back to normal pull: %v", err)
				h = store()
			}
		}

		runner := xpsync.NewStoreRunner(h.DB, client)
		ctx, cancel := context.WithTimeout(cmd.Context(), xpsync.DefaultRunTimeout)
		defer cancel()

		if pushOnly {
			pushed, err := runner.Push(ctx)
			if err != nil {
				return reportSyncError(err)
			}
			fmt.Printf("Pushed %d events\n", pushed)
			return nil
		}
		if pullOnly {
			stats, err := runner.Pull(ctx)
			if err != nil {
				return reportSyncError(err)
			}
			if stats.Conflicts > 0 {
				fmt.Printf("Pulled %d events, %d conflicts resolved\n", stats.Events, stats.Conflicts)
			} else {
				fmt.Printf("Pulled %d events\n", stats.Events)
			}
			return nil
		}

		coord := xpsync.NewCoordinator(xpsync.CoordinatorConfig{
			Runner:  runner,
			Enabled: syncconfig.ShouldReplicate,
		})
		out, err := coord.RunNow(cmd.Context())
		if err != nil {
			if errors.Is(err, xpsync.ErrDisabled) {
				output.Error("sync is disabled (run: xp sync enable)")
				return err
			}
			output.Error("sync: %v", err)
			return err
		}
		if out.Err != nil {
			return reportSyncError(out.Err)
		}

		if out.Conflicts > 0 {
			fmt.Printf("Pushed %d, pulled %d events, %d conflicts resolved (run: xp sync conflicts)\n",
				out.Pushed, out.Pulled, out.Conflicts)
		} else {
			fmt.Printf("Pushed %d, pulled %d events\n", out.Pushed, out.Pulled)
		}
		if out.Converged {
			output.Success("In sync with server")
		} else {
			output.Warning("not fully converged, run xp sync again")
		}
		return nil
	},
}

var syncEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Turn replication on",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !syncconfig.Available() {
			output.Error("replication is not built into this binary")
			return fmt.Errorf("replication unavailable")
		}

		confirmed, _ := cmd.Flags().GetBool("yes")
		if !confirmed {
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title("Turn on replication?").
					Description(fmt.Sprintf("Expenses, categories, and pools will replicate through %s whenever you sync.", syncconfig.GetServerURL())).
					Affirmative("Enable").
					Negative("Not now").
					Value(&confirmed),
			))
			if err := form.Run(); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					output.Warning("sync left disabled")
					return nil
				}
				return err
			}
			if !confirmed {
				output.Warning("sync left disabled")
				return nil
			}
		}

		restart, err := syncconfig.SetEnabled(true)
		if err != nil {
			output.Error("enable sync: %v", err)
			return err
		}

		// Clear the per-store kill switch so the next run is not refused.
		h := store()
		if !h.Degraded {
			if err := h.DB.SetSyncDisabled(false); err != nil {
				slog.Debug("clear store sync flag", "err", err)
			}
		}

		output.Success("Sync enabled")
		if restart {
			fmt.Println("Replication starts with your next command.")
		}
		if !syncconfig.IsAuthenticated() {
			fmt.Println("Next: xp auth login, then xp link.")
		}
		return nil
	},
}

var syncDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Turn replication off",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := syncconfig.SetEnabled(false); err != nil {
			output.Error("disable sync: %v", err)
			return err
		}

		// Set the per-store kill switch too, so an already-running process
		// with a replicated store stops pushing.
		h := store()
		if !h.Degraded {
			if err := h.DB.SetSyncDisabled(true); err != nil {
				slog.Debug("set store sync flag", "err", err)
			}
		}

		output.Success("Sync disabled")
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show replication state",
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		state, err := h.DB.GetSyncState()
		if err != nil {
			output.Error("get sync state: %v", err)
			return err
		}
		if state == nil || state.LedgerID == "" {
			output.Error("ledger not linked (run: xp link)")
			return fmt.Errorf("not linked")
		}

		pending, err := h.DB.CountPendingActions()
		if err != nil {
			output.Error("count pending: %v", err)
			return err
		}

		fmt.Printf("Ledger:      %s\n", state.LedgerID)
		fmt.Printf("Enabled:     %v\n", syncconfig.Enabled())
		fmt.Printf("Store:       %s\n", h.Mode)
		fmt.Printf("Last pushed: action %d\n", state.LastPushedActionID)
		fmt.Printf("Last pulled: seq %d\n", state.LastPulledServerSeq)
		fmt.Printf("Pending:     %d events\n", pending)
		if state.LastSyncAt != nil {
			fmt.Printf("Last sync:   %s\n", state.LastSyncAt.Format(time.RFC3339))
		}
		if conflicts, err := h.DB.CountConflicts(); err == nil && conflicts > 0 {
			fmt.Printf("Conflicts:   %d recorded (run: xp sync conflicts)\n", conflicts)
		}
		if state.SyncDisabled {
			output.Warning("store-level sync kill switch is set")
		}
		if h.RestartRequired(syncconfig.ShouldReplicate()) {
			output.Warning("replication preference changed, restart to apply")
		}

		client, err := newSyncClient()
		if err != nil {
			output.Warning("%v", err)
			return nil
		}

		serverStatus, err := client.SyncStatus(state.LedgerID)
		if err != nil {
			if errors.Is(err, syncclient.ErrUnauthorized) {
				output.Warning("unauthorized, re-login may be needed")
				return nil
			}
			output.Error("server status: %v", err)
			return err
		}

		fmt.Printf("\nServer:\n")
		fmt.Printf("  Events:     %d\n", serverStatus.EventCount)
		fmt.Printf("  Last seq:   %d\n", serverStatus.LastServerSeq)
		if serverStatus.LastEventTime != "" {
			fmt.Printf("  Last event: %s\n", serverStatus.LastEventTime)
		}
		if behind := serverStatus.LastServerSeq - state.LastPulledServerSeq; behind > 0 {
			fmt.Printf("  Behind:     %d events\n", behind)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncEnableCmd)
	syncCmd.AddCommand(syncDisableCmd)
	syncCmd.AddCommand(syncStatusCmd)

	syncCmd.Flags().Bool("push", false, "Push only")
	syncCmd.Flags().Bool("pull", false, "Pull only")
	syncEnableCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
}

// reportSyncError prints a classified sync failure and returns the error.
func reportSyncError(err error) error {
	switch xpsync.Classify(err) {
	case xpsync.KindConfiguration:
		output.Error("sync not configured: %v", err)
	case xpsync.KindAccount:
		output.Error("account problem: %v (run: xp auth login)", err)
	case xpsync.KindConflict:
		output.Error("sync conflict: %v (run: xp sync conflicts)", err)
	default:
		output.Error("sync failed: %v (will retry on next run)", err)
	}
	return err
}

// tryBootstrap swaps the local store for a server snapshot when this device
// has never pulled and the ledger's history is long enough that replaying it
// event by event would be slower than a download. Returns
// errBootstrapNotNeeded when the normal pull path should run.
func tryBootstrap(h *db.Handle, client *syncclient.Client, state *db.SyncState) error {
	threshold := syncconfig.GetSnapshotThreshold()
	if threshold <= 0 {
		return errBootstrapNotNeeded
	}
	if h.Dir == "" {
		return errBootstrapNotNeeded
	}

	// Local changes pending push would be lost in the swap.
	if pending, err := h.DB.CountPendingActions(); err == nil && pending > 0 {
		output.Warning("snapshot bootstrap skipped: local changes pending push")
		return errBootstrapNotNeeded
	}

	serverStatus, err := client.SyncStatus(state.LedgerID)
	if err != nil {
		return fmt.Errorf("check server status: %w", err)
	}
	if serverStatus.EventCount < int64(threshold) {
		return errBootstrapNotNeeded
	}

	output.Info("bootstrapping from snapshot (server has %d events)...", serverStatus.EventCount)

	snapshot, err := client.Snapshot(state.LedgerID)
	if err != nil {
		return fmt.Errorf("download snapshot: %w", err)
	}
	if snapshot == nil {
		return errBootstrapNotNeeded
	}

	ledgerID := state.LedgerID
	dir := h.Dir

	// The store file cannot be swapped while the handle holds it.
	closeStore()

	backupPath, err := db.BootstrapFromSnapshot(dir, snapshot.Data)
	if err != nil {
		return fmt.Errorf("install snapshot: %w", err)
	}
	if backupPath != "" {
		slog.Debug("previous store backed up", "path", backupPath)
	}

	reopened := store()
	if reopened.Degraded {
		return fmt.Errorf("reopen after bootstrap: store degraded to %s", reopened.Mode)
	}
	// The snapshot carries the builder's generation; reusing it would collide
	// action IDs with events the builder already pushed.
	if err := reopened.DB.ResetGeneration(); err != nil {
		return fmt.Errorf("reset generation: %w", err)
	}
	if err := reopened.DB.SetSyncState(ledgerID); err != nil {
		return fmt.Errorf("relink after bootstrap: %w", err)
	}
	if err := reopened.DB.UpdateSyncPulled(snapshot.SnapshotSeq); err != nil {
		return fmt.Errorf("set pull cursor: %w", err)
	}

	fmt.Printf("Bootstrap complete (seq %d).\n", snapshot.SnapshotSeq)
	return nil
}
