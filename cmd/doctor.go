package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elena/xp/internal/db"
	"github.com/elena/xp/internal/syncclient"
	"github.com/elena/xp/internal/syncconfig"
)

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	Short:   "Run diagnostic checks on the store and sync setup",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		runDoctor()
		return nil
	},
}

func runDoctor() {
	// 1. Data directory
	dir, err := resolvedDataDir()
	if err != nil {
		fmt.Printf("Data directory ......... FAIL (%v)\n", err)
	} else {
		fmt.Printf("Data directory ......... OK (%s)\n", dir)
	}

	// 2. Store bootstrap
	h := store()
	if h.Degraded {
		fmt.Printf("Store .................. WARN (degraded to %s via %s)\n", h.Mode, h.Strategy)
		for _, a := range h.Attempts {
			if a.Err != nil {
				fmt.Printf("  tried %-14s %v\n", a.Strategy+":", a.Err)
			}
		}
	} else {
		fmt.Printf("Store .................. OK (%s via %s)\n", h.Mode, h.Strategy)
	}
	dbOK := !h.Degraded

	// 3. Pending events
	if !dbOK {
		fmt.Printf("Pending events ......... SKIP\n")
	} else if count, err := h.DB.CountPendingActions(); err != nil {
		fmt.Printf("Pending events ......... FAIL (%v)\n", err)
	} else {
		fmt.Printf("Pending events ......... %d\n", count)
	}

	// 4. Replication build + preference
	if !syncconfig.Available() {
		fmt.Printf("Replication ............ SKIP (not built into this binary)\n")
		return
	}
	if syncconfig.Enabled() {
		fmt.Printf("Replication ............ OK (enabled)\n")
	} else {
		fmt.Printf("Replication ............ WARN (disabled, run: xp sync enable)\n")
	}
	if h.RestartRequired(syncconfig.ShouldReplicate()) {
		fmt.Printf("  preference changed since startup, restart to apply\n")
	}

	// 5. Auth config
	auth, err := syncconfig.LoadAuth()
	authOK := err == nil && auth != nil && auth.APIKey != ""
	if authOK {
		fmt.Printf("Auth config ............ OK (%s)\n", auth.Email)
	} else if err != nil {
		fmt.Printf("Auth config ............ FAIL (%v)\n", err)
	} else {
		fmt.Printf("Auth config ............ FAIL (not logged in)\n")
	}

	// 6. Server reachable
	serverURL := syncconfig.GetServerURL()
	var client *syncclient.Client
	if !authOK {
		// healthz does not need auth
		client = syncclient.New(serverURL, "", "")
	} else {
		deviceID, _ := syncconfig.GetDeviceID()
		client = syncclient.New(serverURL, auth.APIKey, deviceID)
	}
	_, err = client.HealthCheck()
	serverOK := err == nil
	if serverOK {
		fmt.Printf("Server reachable ....... OK (%s)\n", serverURL)
	} else {
		fmt.Printf("Server reachable ....... FAIL (%v)\n", err)
	}

	// 7. Auth valid
	if !authOK || !serverOK {
		fmt.Printf("Auth valid ............. SKIP\n")
	} else if _, err := client.Whoami(); err == nil {
		fmt.Printf("Auth valid ............. OK\n")
	} else if errors.Is(err, syncclient.ErrUnauthorized) {
		fmt.Printf("Auth valid ............. FAIL (invalid or expired API key)\n")
	} else {
		fmt.Printf("Auth valid ............. FAIL (%v)\n", err)
	}

	// 8. Ledger linked
	if !dbOK {
		fmt.Printf("Ledger linked .......... SKIP\n")
		return
	}
	var syncState *db.SyncState
	syncState, err = h.DB.GetSyncState()
	if err != nil {
		fmt.Printf("Ledger linked .......... FAIL (%v)\n", err)
	} else if syncState == nil || syncState.LedgerID == "" {
		fmt.Printf("Ledger linked .......... WARN (not linked, run: xp link)\n")
	} else {
		fmt.Printf("Ledger linked .......... OK (ledger %s)\n", syncState.LedgerID)
	}
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
