package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/elena/xp/internal/models"
)

// Conflict resolution is pure: no I/O, no store mutation, inputs untouched.
// Both devices resolving the same pair must produce byte-identical records,
// so every rule below is symmetric in (local, remote) except for the id,
// which always stays local — and the ids are equal anyway, since id is the
// join key.

// remoteWins decides last-writer-wins for a pair of modification markers.
// A strictly newer updated_at wins outright. On an exact tie the
// lexicographically larger origin device wins: two devices comparing the
// same pair pick the same winner, unlike "local wins" which diverges.
func remoteWins(localAt, remoteAt time.Time, localBy, remoteBy string) bool {
	if !remoteAt.Equal(localAt) {
		return remoteAt.After(localAt)
	}
	return remoteBy > localBy
}

// MergeExpense resolves two versions of the same expense. Scalar rule: the
// winning side contributes every field, including deleted_at.
func MergeExpense(local, remote models.Expense) models.Expense {
	out := local
	if remoteWins(local.UpdatedAt, remote.UpdatedAt, local.UpdatedBy, remote.UpdatedBy) {
		out = remote
		out.ID = local.ID
	}
	return out
}

// MergeCategory resolves two versions of the same category fieldwise: the
// winner contributes its fields, but optional fields the winner never set
// are filled from the loser instead of being erased.
func MergeCategory(local, remote models.Category) models.Category {
	win, lose := local, remote
	if remoteWins(local.UpdatedAt, remote.UpdatedAt, local.UpdatedBy, remote.UpdatedBy) {
		win, lose = remote, local
	}

	out := win
	out.ID = local.ID
	if out.Name == "" {
		out.Name = lose.Name
	}
	if out.Icon == "" {
		out.Icon = lose.Icon
	}
	if out.Color == "" {
		out.Color = lose.Color
	}
	if out.MonthlyBudget.IsZero() {
		out.MonthlyBudget = lose.MonthlyBudget
	}
	if out.Note == "" {
		out.Note = lose.Note
	}
	return out
}

// MergePool resolves two versions of the same pool. Members merge as a set
// union — a merge never removes a participant. Domain fields have explicit
// policies: earliest started_on wins, largest target_total wins. Name and
// note merge fieldwise; deletion follows the scalar rule.
func MergePool(local, remote models.Pool) models.Pool {
	win, lose := local, remote
	if remoteWins(local.UpdatedAt, remote.UpdatedAt, local.UpdatedBy, remote.UpdatedBy) {
		win, lose = remote, local
	}

	out := win
	out.ID = local.ID
	out.Members = unionMembers(local.Members, remote.Members)
	if out.Name == "" {
		out.Name = lose.Name
	}
	if out.Note == "" {
		out.Note = lose.Note
	}
	if out.Currency == "" {
		out.Currency = lose.Currency
	}
	// DateLayout strings order chronologically, so min is earliest.
	if lose.StartedOn != "" && (out.StartedOn == "" || lose.StartedOn < out.StartedOn) {
		out.StartedOn = lose.StartedOn
	}
	if lose.TargetTotal.GreaterThan(out.TargetTotal) {
		out.TargetTotal = lose.TargetTotal
	}
	return out
}

// unionMembers returns the sorted set union of two member lists.
func unionMembers(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var union []string
	for _, lists := range [][]string{a, b} {
		for _, m := range lists {
			if m == "" || seen[m] {
				continue
			}
			seen[m] = true
			union = append(union, m)
		}
	}
	sort.Strings(union)
	return union
}

// mergeSnapshots resolves a conflict between two JSON row snapshots of the
// given entity type. Returns the merged snapshot plus a resolution label:
// "local" or "remote" when one side won outright, "merged" when the result
// blends both.
func mergeSnapshots(entityType string, localData, remoteData json.RawMessage) (json.RawMessage, string, error) {
	var merged any

	switch entityType {
	case "expenses":
		var local, remote models.Expense
		if err := unmarshalPair(localData, remoteData, &local, &remote); err != nil {
			return nil, "", err
		}
		merged = MergeExpense(local, remote)
	case "categories":
		var local, remote models.Category
		if err := unmarshalPair(localData, remoteData, &local, &remote); err != nil {
			return nil, "", err
		}
		merged = MergeCategory(local, remote)
	case "pools":
		var local, remote models.Pool
		if err := unmarshalPair(localData, remoteData, &local, &remote); err != nil {
			return nil, "", err
		}
		merged = MergePool(local, remote)
	default:
		return nil, "", fmt.Errorf("merge: unsupported entity type %q", entityType)
	}

	mergedData, err := json.Marshal(merged)
	if err != nil {
		return nil, "", fmt.Errorf("marshal merged record: %w", err)
	}

	resolution := "merged"
	if equalJSON(mergedData, remoteData, merged) {
		resolution = "remote"
	} else if equalJSON(mergedData, localData, merged) {
		resolution = "local"
	}
	return mergedData, resolution, nil
}

func unmarshalPair(localData, remoteData json.RawMessage, local, remote any) error {
	if err := json.Unmarshal(localData, local); err != nil {
		return fmt.Errorf("unmarshal local record: %w", err)
	}
	if err := json.Unmarshal(remoteData, remote); err != nil {
		return fmt.Errorf("unmarshal remote record: %w", err)
	}
	return nil
}

// equalJSON compares a canonical marshalled record against a raw snapshot by
// re-marshalling the snapshot through the same struct shape, so formatting
// differences in the stored JSON do not count as changes.
func equalJSON(canonical json.RawMessage, raw json.RawMessage, shape any) bool {
	normalized, err := remarshal(raw, shape)
	if err != nil {
		return false
	}
	return bytes.Equal(canonical, normalized)
}

func remarshal(raw json.RawMessage, shape any) (json.RawMessage, error) {
	switch shape.(type) {
	case models.Expense:
		var v models.Expense
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return json.Marshal(v)
	case models.Category:
		var v models.Category
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return json.Marshal(v)
	case models.Pool:
		var v models.Pool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("remarshal: unsupported shape %T", shape)
	}
}
