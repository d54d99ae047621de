package cmd

import "testing"

func TestIsMutatingCommand(t *testing.T) {
	// Commands that should trigger auto-sync
	mutating := []string{"add", "edit", "rm", "restore", "undo", "budget", "target", "join", "leave", "use", "create", "link", "init"}
	for _, name := range mutating {
		if !isMutatingCommand(name) {
			t.Errorf("expected %q to be mutating", name)
		}
	}

	// Commands that should NOT trigger auto-sync
	readOnly := []string{"list", "show", "report", "monitor", "sync", "auth", "status", "tail", "conflicts", "doctor", "config", "set", "get", "version", "help"}
	for _, name := range readOnly {
		if isMutatingCommand(name) {
			t.Errorf("expected %q to NOT be mutating", name)
		}
	}
}
