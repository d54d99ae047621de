package version

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// UpdateAvailableMsg is sent when a new version is available.
type UpdateAvailableMsg struct {
	CurrentVersion string
	LatestVersion  string
	UpdateCommand  string
}

// CheckAsync returns a Bubble Tea command that checks for updates in the
// background. It consults the on-disk cache first and only reaches out to
// GitHub on a miss; network failures yield a nil message, never an error.
func CheckAsync(currentVersion string) tea.Cmd {
	return func() tea.Msg {
		if cached, err := LoadCache(); err == nil && IsCacheValid(cached, currentVersion) {
			if cached.HasUpdate {
				return UpdateAvailableMsg{
					CurrentVersion: currentVersion,
					LatestVersion:  cached.LatestVersion,
					UpdateCommand:  UpdateCommand(cached.LatestVersion),
				}
			}
			return nil
		}

		result := Check(currentVersion)

		// Don't cache network errors
		if result.Error == nil {
			_ = SaveCache(&CacheEntry{
				LatestVersion:  result.LatestVersion,
				CurrentVersion: currentVersion,
				CheckedAt:      time.Now(),
				HasUpdate:      result.HasUpdate,
			})
		}

		if result.HasUpdate {
			return UpdateAvailableMsg{
				CurrentVersion: currentVersion,
				LatestVersion:  result.LatestVersion,
				UpdateCommand:  UpdateCommand(result.LatestVersion),
			}
		}

		return nil
	}
}
