package serverdb

import "fmt"

// Role constants
const (
	RoleOwner  = "owner"
	RoleWriter = "writer"
	RoleReader = "reader"
)

// roleLevel returns the numeric level for a role (higher = more permissions).
func roleLevel(role string) int {
	switch role {
	case RoleOwner:
		return 3
	case RoleWriter:
		return 2
	case RoleReader:
		return 1
	default:
		return 0
	}
}

// Authorize checks that the user has at least the required role in the ledger.
func (db *ServerDB) Authorize(ledgerID, userID, requiredRole string) error {
	m, err := db.GetMembership(ledgerID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if m == nil {
		return fmt.Errorf("not a member of ledger %s", ledgerID)
	}

	if roleLevel(m.Role) < roleLevel(requiredRole) {
		return fmt.Errorf("insufficient permissions: have %s, need %s", m.Role, requiredRole)
	}
	return nil
}

// CanPushEvents checks if the user can push events (requires writer role).
func (db *ServerDB) CanPushEvents(ledgerID, userID string) error {
	return db.Authorize(ledgerID, userID, RoleWriter)
}

// CanPullEvents checks if the user can pull events (requires reader role).
func (db *ServerDB) CanPullEvents(ledgerID, userID string) error {
	return db.Authorize(ledgerID, userID, RoleReader)
}

// CanViewLedger checks if the user can view the ledger (requires reader role).
func (db *ServerDB) CanViewLedger(ledgerID, userID string) error {
	return db.Authorize(ledgerID, userID, RoleReader)
}

// CanManageMembers checks if the user can manage members (requires owner role).
func (db *ServerDB) CanManageMembers(ledgerID, userID string) error {
	return db.Authorize(ledgerID, userID, RoleOwner)
}

// CanDeleteLedger checks if the user can delete the ledger (requires owner role).
func (db *ServerDB) CanDeleteLedger(ledgerID, userID string) error {
	return db.Authorize(ledgerID, userID, RoleOwner)
}
