package monitor

import (
	"time"

	"github.com/elena/xp/internal/db"
	"github.com/elena/xp/internal/syncconfig"
)

// historyLimit bounds the activity panel feed.
const historyLimit = 50

// FetchData retrieves all data needed for the monitor display
func FetchData(database *db.DB) RefreshDataMsg {
	msg := RefreshDataMsg{
		Timestamp: time.Now(),
	}

	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	monthEnd := monthStart.AddDate(0, 1, 0).AddDate(0, 0, -1)

	msg.Month.Label = monthStart.Format("January 2006")

	stats, err := database.GetSpendStats(db.ExpenseFilter{
		From: monthStart.Format("2006-01-02"),
		To:   monthEnd.Format("2006-01-02"),
	})
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Month.Stats = stats

	categories, err := database.ListCategories(false)
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Month.Categories = categories

	msg.Sync = fetchSyncData(database)
	msg.History, _ = database.GetSyncHistoryTail(historyLimit)

	return msg
}

// fetchSyncData reads the replication snapshot. Individual query failures
// leave zero values; the panel renders what it has.
func fetchSyncData(database *db.DB) SyncData {
	data := SyncData{
		Available: syncconfig.Available(),
		Enabled:   syncconfig.Enabled(),
	}

	data.State, _ = database.GetSyncState()
	data.Pending, _ = database.CountPendingActions()
	data.Conflicts, _ = database.CountConflicts()

	return data
}
