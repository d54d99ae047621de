package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/elena/xp/internal/db"
	"github.com/elena/xp/internal/output"
	"github.com/elena/xp/internal/syncclient"
	"github.com/elena/xp/internal/syncconfig"
)

var validRoles = map[string]bool{"owner": true, "writer": true, "reader": true}

var linkCmd = &cobra.Command{
	Use:   "link [name-or-id]",
	Short: "Link this store to a shared ledger",
	Long: `Link the local store to a remote ledger by name or ID.

With no argument, lists your ledgers and prompts for a selection. Once linked,
xp sync replicates changes both ways.`,
	GroupID: "sync",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !syncconfig.IsAuthenticated() {
			output.Error("not logged in (run: xp auth login)")
			return fmt.Errorf("not authenticated")
		}

		client, err := newSyncClient()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		ledgers, err := client.ListLedgers()
		if err != nil {
			output.Error("list ledgers: %v", err)
			return err
		}
		if len(ledgers) == 0 {
			output.Error("no ledgers found (run: xp link create <name>)")
			return fmt.Errorf("no ledgers found")
		}

		var selected syncclient.LedgerResponse

		if len(args) == 0 {
			// Interactive: display numbered list, prompt for selection
			fmt.Println("Available ledgers:")
			for i, l := range ledgers {
				fmt.Printf("  %d) %s (%s)\n", i+1, l.Name, l.ID)
			}
			fmt.Print("Select ledger number: ")

			scanner := bufio.NewScanner(os.Stdin)
			if !scanner.Scan() {
				return fmt.Errorf("no input")
			}
			input := strings.TrimSpace(scanner.Text())

			num, err := strconv.Atoi(input)
			if err != nil || num < 1 || num > len(ledgers) {
				output.Error("invalid selection %q", input)
				return fmt.Errorf("invalid selection")
			}
			selected = ledgers[num-1]
		} else {
			// Match by name first, then by ID
			query := args[0]
			found := false
			for _, l := range ledgers {
				if l.Name == query {
					selected = l
					found = true
					break
				}
			}
			if !found {
				for _, l := range ledgers {
					if l.ID == query {
						selected = l
						found = true
						break
					}
				}
			}
			if !found {
				output.Error("no ledger matching %q", query)
				return fmt.Errorf("no ledger matching %q", query)
			}
		}

		force, _ := cmd.Flags().GetBool("force")
		if err := linkLedger(store(), selected.ID, force); err != nil {
			return err
		}

		output.Success("Linked to ledger %s (%s)", selected.Name, selected.ID)
		fmt.Println("Run 'xp sync' to replicate.")
		return nil
	},
}

var linkCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a remote ledger and link to it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !syncconfig.IsAuthenticated() {
			output.Error("not logged in (run: xp auth login)")
			return fmt.Errorf("not authenticated")
		}

		client, err := newSyncClient()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		note, _ := cmd.Flags().GetString("note")
		ledger, err := client.CreateLedger(args[0], note)
		if err != nil {
			output.Error("create ledger: %v", err)
			return err
		}

		force, _ := cmd.Flags().GetBool("force")
		if err := linkLedger(store(), ledger.ID, force); err != nil {
			output.Success("Created ledger %s (%s)", ledger.Name, ledger.ID)
			output.Warning("auto-link failed: %v", err)
			return nil
		}

		output.Success("Created and linked to ledger %s (%s)", ledger.Name, ledger.ID)
		return nil
	},
}

var linkListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remote ledgers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !syncconfig.IsAuthenticated() {
			output.Error("not logged in (run: xp auth login)")
			return fmt.Errorf("not authenticated")
		}

		client, err := newSyncClient()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		ledgers, err := client.ListLedgers()
		if err != nil {
			output.Error("list ledgers: %v", err)
			return err
		}

		if len(ledgers) == 0 {
			fmt.Println("No ledgers.")
			return nil
		}

		fmt.Printf("%-36s  %-20s  %s\n", "ID", "NAME", "CREATED")
		for _, l := range ledgers {
			fmt.Printf("%-36s  %-20s  %s\n", l.ID, l.Name, l.CreatedAt)
		}
		return nil
	},
}

var linkMembersCmd = &cobra.Command{
	Use:   "members",
	Short: "List members of the linked ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, client, err := linkedLedger()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		members, err := client.ListMembers(state.LedgerID)
		if err != nil {
			output.Error("list members: %v", err)
			return err
		}

		if len(members) == 0 {
			fmt.Println("No members.")
			return nil
		}

		fmt.Printf("%-30s  %-36s  %-10s  %s\n", "EMAIL", "USER ID", "ROLE", "ADDED")
		for _, m := range members {
			fmt.Printf("%-30s  %-36s  %-10s  %s\n", m.Email, m.UserID, m.Role, m.CreatedAt)
		}
		return nil
	},
}

var linkInviteCmd = &cobra.Command{
	Use:   "invite <email> [role]",
	Short: "Invite a user to the linked ledger",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, client, err := linkedLedger()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		email := args[0]
		role := "writer"
		if len(args) > 1 {
			role = args[1]
		}
		if !validRoles[role] {
			output.Error("invalid role %q (must be owner, writer, or reader)", role)
			return fmt.Errorf("invalid role: %s", role)
		}

		m, err := client.AddMember(state.LedgerID, email, role)
		if err != nil {
			output.Error("invite member: %v", err)
			return err
		}

		output.Success("Invited %s as %s (user %s)", email, m.Role, m.UserID)
		return nil
	},
}

var linkKickCmd = &cobra.Command{
	Use:   "kick <user-id>",
	Short: "Remove a member from the linked ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, client, err := linkedLedger()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if err := client.RemoveMember(state.LedgerID, args[0]); err != nil {
			output.Error("remove member: %v", err)
			return err
		}

		output.Success("Removed member %s", args[0])
		return nil
	},
}

var linkRoleCmd = &cobra.Command{
	Use:   "role <user-id> <role>",
	Short: "Change a member's role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, client, err := linkedLedger()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if !validRoles[args[1]] {
			output.Error("invalid role %q (must be owner, writer, or reader)", args[1])
			return fmt.Errorf("invalid role: %s", args[1])
		}

		if err := client.UpdateMemberRole(state.LedgerID, args[0], args[1]); err != nil {
			output.Error("update role: %v", err)
			return err
		}

		output.Success("Updated %s to %s", args[0], args[1])
		return nil
	},
}

var unlinkCmd = &cobra.Command{
	Use:     "unlink",
	Short:   "Unlink this store from its ledger",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		h := store()

		force, _ := cmd.Flags().GetBool("force")

		// Synced rows keep their marks; clearing them lets the history be
		// re-pushed to a different ledger later.
		syncedCount, err := h.DB.CountSyncedEvents()
		if err != nil {
			output.Error("count synced events: %v", err)
			return err
		}

		if syncedCount > 0 {
			clear := force
			if !force {
				reader := bufio.NewReader(os.Stdin)
				fmt.Printf("You have %d synced events. Clear sync marks so they can be pushed to a new ledger? [y/N] ", syncedCount)
				line, _ := reader.ReadString('\n')
				line = strings.TrimSpace(strings.ToLower(line))
				clear = line == "y" || line == "yes"
			}
			if clear {
				cleared, err := h.DB.ClearActionLogSyncState()
				if err != nil {
					output.Error("clear sync marks: %v", err)
					return err
				}
				output.Success("Reset %d events for re-sync", cleared)
			}
		}

		if err := h.DB.ClearSyncState(); err != nil {
			output.Error("unlink ledger: %v", err)
			return err
		}

		output.Success("Unlinked from ledger")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(unlinkCmd)
	linkCmd.AddCommand(linkCreateCmd)
	linkCmd.AddCommand(linkListCmd)
	linkCmd.AddCommand(linkMembersCmd)
	linkCmd.AddCommand(linkInviteCmd)
	linkCmd.AddCommand(linkKickCmd)
	linkCmd.AddCommand(linkRoleCmd)

	linkCmd.Flags().BoolP("force", "f", false, "Skip confirmation prompts")
	linkCreateCmd.Flags().String("note", "", "Ledger description")
	linkCreateCmd.Flags().BoolP("force", "f", false, "Skip confirmation prompts")
	unlinkCmd.Flags().BoolP("force", "f", false, "Skip confirmation prompts")
}

// linkLedger points the local sync state at ledgerID. Relinking to a
// different ledger with already-synced history prompts before resetting the
// sync marks, since those events would otherwise never be pushed again.
func linkLedger(h *db.Handle, ledgerID string, force bool) error {
	currentState, err := h.DB.GetSyncState()
	if err != nil {
		output.Error("get sync state: %v", err)
		return err
	}

	if currentState != nil && currentState.LedgerID != "" && currentState.LedgerID != ledgerID {
		syncedCount, err := h.DB.CountSyncedEvents()
		if err != nil {
			output.Error("count synced events: %v", err)
			return err
		}

		if syncedCount > 0 {
			if !force {
				reader := bufio.NewReader(os.Stdin)
				fmt.Printf("You have %d events synced to a previous ledger. Reset sync marks to push to the new one? [y/N] ", syncedCount)
				line, _ := reader.ReadString('\n')
				line = strings.TrimSpace(strings.ToLower(line))
				if line != "y" && line != "yes" {
					output.Warning("link cancelled")
					return fmt.Errorf("link cancelled")
				}
			}

			cleared, err := h.DB.ClearActionLogSyncState()
			if err != nil {
				output.Error("clear sync marks: %v", err)
				return err
			}
			output.Success("Reset %d events for re-sync", cleared)
		}
	}

	if err := h.DB.SetSyncState(ledgerID); err != nil {
		output.Error("link ledger: %v", err)
		return err
	}
	return nil
}

// linkedLedger returns the current sync state and an authenticated client,
// or an error naming the missing prerequisite.
func linkedLedger() (*db.SyncState, *syncclient.Client, error) {
	if !syncconfig.IsAuthenticated() {
		return nil, nil, fmt.Errorf("not logged in (run: xp auth login)")
	}

	h := store()
	state, err := h.DB.GetSyncState()
	if err != nil {
		return nil, nil, err
	}
	if state == nil || state.LedgerID == "" {
		return nil, nil, fmt.Errorf("ledger not linked (run: xp link)")
	}

	client, err := newSyncClient()
	if err != nil {
		return nil, nil, err
	}
	return state, client, nil
}
