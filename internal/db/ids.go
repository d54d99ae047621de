package db

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

const (
	expenseIDPrefix  = "xp-"
	categoryIDPrefix = "cat-"
	poolIDPrefix     = "pl-"
)

// NormalizeExpenseID ensures an expense ID has the xp- prefix.
// Accepts bare hex IDs like "a1b2c3d4" and returns "xp-a1b2c3d4".
func NormalizeExpenseID(id string) string {
	if id == "" {
		return id
	}
	if !strings.HasPrefix(id, expenseIDPrefix) {
		return expenseIDPrefix + id
	}
	return id
}

// generateExpenseID generates a unique expense ID
func generateExpenseID() (string, error) {
	bytes := make([]byte, 4) // 8 hex characters - expenses accumulate fast
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return expenseIDPrefix + hex.EncodeToString(bytes), nil
}

// generateCategoryID generates a unique category ID
func generateCategoryID() (string, error) {
	bytes := make([]byte, 3) // 6 hex characters
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return categoryIDPrefix + hex.EncodeToString(bytes), nil
}

// generatePoolID generates a unique pool ID
func generatePoolID() (string, error) {
	bytes := make([]byte, 3) // 6 hex characters
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return poolIDPrefix + hex.EncodeToString(bytes), nil
}

// generateGenerationID mints a store generation (8 bytes hex).
func generateGenerationID() (string, error) {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
