package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	xpsync "github.com/elena/xp/internal/sync"
	"github.com/elena/xp/internal/syncconfig"
)

// mutatingCommands lists commands that modify local data and should trigger auto-sync.
// Names are leaf command names, so "add" covers expense, category and pool adds.
var mutatingCommands = map[string]bool{
	"add":     true,
	"edit":    true,
	"rm":      true,
	"restore": true,
	"undo":    true,
	"budget":  true,
	"target":  true,
	"join":    true,
	"leave":   true,
	"use":     true,
	"create":  true,
	"link":    true,
	"init":    true,
}

// isMutatingCommand checks if the given command name triggers auto-sync.
func isMutatingCommand(name string) bool {
	return mutatingCommands[name]
}

// autoSyncAfterMutation runs a quick push after a mutating command completes.
// Runs synchronously but with a short timeout. Errors are logged, not returned.
func autoSyncAfterMutation() {
	if !syncconfig.GetAutoSyncEnabled() {
		return
	}
	if !syncconfig.ShouldReplicate() {
		return
	}
	if !syncconfig.IsAuthenticated() {
		return
	}

	h := store()
	if !h.Replicated {
		return
	}

	syncState, err := h.DB.GetSyncState()
	if err != nil || syncState == nil {
		return // not linked
	}
	if syncState.SyncDisabled {
		return
	}

	client, err := newSyncClient()
	if err != nil {
		slog.Debug("autosync: client", "err", err)
		return
	}
	client.HTTP.Timeout = 5 * time.Second // short timeout for auto-sync

	// Bound the whole exchange; a large backlog waits for the next full run
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runner := xpsync.NewStoreRunner(h.DB, client)

	pushed, err := runner.Push(ctx)
	if err != nil {
		slog.Debug("autosync: push", "err", err)
		return
	}
	if pushed > 0 {
		slog.Debug("autosync: pushed", "events", pushed)
	}

	if syncconfig.GetAutoSyncPull() {
		stats, err := runner.Pull(ctx)
		if err != nil {
			slog.Debug("autosync: pull", "err", err)
			return
		}
		if stats.Events > 0 {
			slog.Debug("autosync: pulled", "events", stats.Events, "conflicts", stats.Conflicts)
		}
	}
}

func init() {
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if isMutatingCommand(cmd.Name()) {
			autoSyncAfterMutation()
		}
	}
}
