package monitor

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/elena/xp/internal/db"
	"github.com/elena/xp/internal/models"
	xpsync "github.com/elena/xp/internal/sync"
	"github.com/elena/xp/internal/syncconfig"
	"github.com/elena/xp/internal/version"
)

// Panel represents which panel is active
type Panel int

const (
	PanelMonth Panel = iota
	PanelActivity
	PanelSync
)

// MinWidth is the minimum terminal width for proper display
const MinWidth = 40

// MinHeight is the minimum terminal height for proper display
const MinHeight = 15

// Config carries everything the dashboard needs. Coord is nil when
// replication is not built in or the store is degraded.
type Config struct {
	DB          *db.DB
	DataDir     string // empty for memory stores, disables the file watcher
	Coord       *xpsync.Coordinator
	Interval    time.Duration
	Version     string
	RestartHint bool // replication preference changed since startup
}

// MonthData holds the current-month summary for the top panel.
type MonthData struct {
	Label      string
	Stats      *models.SpendStats
	Categories []models.Category
}

// SyncData holds the replication snapshot for the sync panel.
type SyncData struct {
	State     *db.SyncState
	Pending   int64
	Conflicts int64
	Enabled   bool
	Available bool
}

// TickMsg triggers a data refresh
type TickMsg time.Time

// SyncTickMsg triggers a periodic background sync run
type SyncTickMsg time.Time

// RefreshDataMsg carries refreshed data
type RefreshDataMsg struct {
	Month     MonthData
	Sync      SyncData
	History   []db.SyncHistoryEntry
	Timestamp time.Time
	Err       error
}

// SyncStatusMsg delivers one status feed update
type SyncStatusMsg xpsync.Status

// StoreChangedMsg fires after a debounced local store write
type StoreChangedMsg struct{}

// Model is the main Bubble Tea model for the monitor TUI
type Model struct {
	DB      *db.DB
	Coord   *xpsync.Coordinator
	Version string

	// Window dimensions
	Width  int
	Height int

	// Panel data
	Month   MonthData
	Sync    SyncData
	History []db.SyncHistoryEntry

	// Live sync run state from the status feed
	Phase       xpsync.Phase
	LastOutcome *xpsync.Outcome
	RestartHint bool

	// Version checking
	UpdateAvail *version.UpdateAvailableMsg

	// UI state
	ActivePanel  Panel
	ScrollOffset map[Panel]int
	ShowHelp     bool
	LastRefresh  time.Time
	Err          error
	Spinner      spinner.Model
	spinning     bool

	// Configuration
	RefreshInterval time.Duration

	// Event sources; either may be nil
	statusCh <-chan xpsync.Status
	changes  <-chan struct{}
	cleanup  []func()
}

// NewModel creates a new monitor model. The caller owns cfg.DB; Close()
// releases only the model's own watchers and subscriptions.
func NewModel(cfg Config) Model {
	m := Model{
		DB:              cfg.DB,
		Coord:           cfg.Coord,
		Version:         cfg.Version,
		RestartHint:     cfg.RestartHint,
		RefreshInterval: cfg.Interval,
		ScrollOffset:    make(map[Panel]int),
		ActivePanel:     PanelMonth,
		Phase:           xpsync.PhaseIdle,
	}

	m.Spinner = spinner.New(spinner.WithSpinner(spinner.MiniDot), spinner.WithStyle(spinnerStyle))

	if cfg.Coord != nil {
		ch, cancel := cfg.Coord.Feed().Subscribe()
		m.statusCh = ch
		m.cleanup = append(m.cleanup, cancel)
	}

	if cfg.DataDir != "" {
		if ch, cancel, err := WatchStore(cfg.DataDir, syncconfig.GetAutoSyncDebounce()); err == nil {
			m.changes = ch
			m.cleanup = append(m.cleanup, cancel)
		}
	}

	return m
}

// Close releases the store watcher and feed subscription.
func (m Model) Close() {
	for _, fn := range m.cleanup {
		fn()
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		m.fetchData(),
		m.scheduleTick(),
	}
	if m.Coord != nil {
		cmds = append(cmds, m.scheduleSyncTick())
	}
	if c := m.waitForStatus(); c != nil {
		cmds = append(cmds, c)
	}
	if c := m.waitForChange(); c != nil {
		cmds = append(cmds, c)
	}
	// Start async version check (non-blocking)
	if m.Version != "" && !version.IsDevelopmentVersion(m.Version) {
		cmds = append(cmds, version.CheckAsync(m.Version))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.fetchData(), m.scheduleTick())

	case SyncTickMsg:
		if m.Coord != nil {
			m.Coord.Trigger(xpsync.TriggerAuto)
			return m, m.scheduleSyncTick()
		}
		return m, nil

	case RefreshDataMsg:
		m.Month = msg.Month
		m.Sync = msg.Sync
		m.History = msg.History
		m.LastRefresh = msg.Timestamp
		m.Err = msg.Err
		return m, nil

	case StoreChangedMsg:
		// Another process wrote the store; re-read and keep listening.
		return m, tea.Batch(m.fetchData(), m.waitForChange())

	case SyncStatusMsg:
		m.Phase = msg.Phase
		cmds := []tea.Cmd{m.waitForStatus()}
		if msg.Outcome != nil {
			m.LastOutcome = msg.Outcome
			cmds = append(cmds, m.fetchData())
		}
		if !m.Phase.Terminal() && m.Phase != xpsync.PhaseIdle && !m.spinning {
			m.spinning = true
			cmds = append(cmds, m.Spinner.Tick)
		}
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		if m.Phase.Terminal() || m.Phase == xpsync.PhaseIdle {
			m.spinning = false
			return m, nil
		}
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd

	case version.UpdateAvailableMsg:
		m.UpdateAvail = &msg
		return m, nil
	}

	return m, nil
}

// handleKey processes key input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab":
		m.ActivePanel = (m.ActivePanel + 1) % 3
		return m, nil

	case "shift+tab":
		m.ActivePanel = (m.ActivePanel + 2) % 3
		return m, nil

	case "1":
		m.ActivePanel = PanelMonth
		return m, nil

	case "2":
		m.ActivePanel = PanelActivity
		return m, nil

	case "3":
		m.ActivePanel = PanelSync
		return m, nil

	case "j", "down":
		m.ScrollOffset[m.ActivePanel]++
		return m, nil

	case "k", "up":
		if m.ScrollOffset[m.ActivePanel] > 0 {
			m.ScrollOffset[m.ActivePanel]--
		}
		return m, nil

	case "r":
		return m, m.fetchData()

	case "s":
		if m.Coord != nil {
			m.Coord.Trigger(xpsync.TriggerManual)
		}
		return m, nil

	case "?":
		m.ShowHelp = !m.ShowHelp
		return m, nil
	}

	return m, nil
}

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}

// scheduleTick returns a command that sends a TickMsg after the refresh interval
func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// scheduleSyncTick arms the periodic background sync run
func (m Model) scheduleSyncTick() tea.Cmd {
	return tea.Tick(syncconfig.GetAutoSyncInterval(), func(t time.Time) tea.Msg {
		return SyncTickMsg(t)
	})
}

// fetchData returns a command that fetches all data and sends a RefreshDataMsg
func (m Model) fetchData() tea.Cmd {
	return func() tea.Msg {
		return FetchData(m.DB)
	}
}

// waitForStatus blocks on the next status feed update
func (m Model) waitForStatus() tea.Cmd {
	if m.statusCh == nil {
		return nil
	}
	ch := m.statusCh
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return SyncStatusMsg(s)
	}
}

// waitForChange blocks on the next debounced store write
func (m Model) waitForChange() tea.Cmd {
	if m.changes == nil {
		return nil
	}
	ch := m.changes
	return func() tea.Msg {
		_, ok := <-ch
		if !ok {
			return nil
		}
		return StoreChangedMsg{}
	}
}
