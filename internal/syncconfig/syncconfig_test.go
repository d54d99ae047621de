package syncconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSnapshotThresholdDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	os.Unsetenv("XP_SYNC_SNAPSHOT_THRESHOLD")

	threshold := GetSnapshotThreshold()
	if threshold != 100 {
		t.Fatalf("default threshold: got %d, want 100", threshold)
	}
}

func TestSnapshotThresholdEnvVar(t *testing.T) {
	t.Setenv("XP_SYNC_SNAPSHOT_THRESHOLD", "500")

	threshold := GetSnapshotThreshold()
	if threshold != 500 {
		t.Fatalf("env threshold: got %d, want 500", threshold)
	}
}

func TestSnapshotThresholdEnvVarInvalid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XP_SYNC_SNAPSHOT_THRESHOLD", "not-a-number")

	// Invalid env should fall through to default
	threshold := GetSnapshotThreshold()
	if threshold != 100 {
		t.Fatalf("invalid env threshold: got %d, want 100 (default)", threshold)
	}
}

func TestSnapshotThresholdEnvVarZero(t *testing.T) {
	t.Setenv("XP_SYNC_SNAPSHOT_THRESHOLD", "0")

	// Zero is valid: means snapshot bootstrap is disabled
	threshold := GetSnapshotThreshold()
	if threshold != 0 {
		t.Fatalf("zero env threshold: got %d, want 0 (disabled)", threshold)
	}
}

func TestSnapshotThresholdEnvVarNegative(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XP_SYNC_SNAPSHOT_THRESHOLD", "-5")

	// Negative should fall through to default
	threshold := GetSnapshotThreshold()
	if threshold != 100 {
		t.Fatalf("negative env threshold: got %d, want 100 (default)", threshold)
	}
}

// writeTestConfig creates a temp HOME with ~/.config/xp/config.json.
func writeTestConfig(t *testing.T, cfg *Config) {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	dir := filepath.Join(tmpDir, ".config", "xp")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), data, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func boolPtr(b bool) *bool { return &b }

// setEndpoint swaps the compiled-in endpoint for the duration of a test.
func setEndpoint(t *testing.T, url string) {
	t.Helper()
	old := Endpoint
	Endpoint = url
	t.Cleanup(func() { Endpoint = old })
}

func TestAvailableReflectsBuildEndpoint(t *testing.T) {
	setEndpoint(t, "")
	if Available() {
		t.Error("no endpoint compiled in: Available should be false")
	}

	setEndpoint(t, "https://sync.example.com")
	if !Available() {
		t.Error("endpoint compiled in: Available should be true")
	}
}

func TestReplicationDisabledByDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	resetStartupForTest()
	setEndpoint(t, "https://sync.example.com")

	if Enabled() {
		t.Error("replication should be off by default")
	}
	if ShouldReplicate() {
		t.Error("ShouldReplicate should be false before opt-in")
	}
}

func TestSetEnabledPersists(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	resetStartupForTest()

	if _, err := SetEnabled(true); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if !Enabled() {
		t.Error("Enabled should report true after SetEnabled(true)")
	}

	// The preference must be on disk, not just in memory
	data, err := os.ReadFile(filepath.Join(tmpDir, ".config", "xp", "config.json"))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}
	if !cfg.Sync.Enabled {
		t.Error("sync.enabled not persisted to config.json")
	}
}

func TestSetEnabledRestartRequired(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	resetStartupForTest()

	// Process started with replication off
	restart, err := SetEnabled(true)
	if err != nil {
		t.Fatalf("SetEnabled(true): %v", err)
	}
	if !restart {
		t.Error("turning on should require a restart")
	}

	// Flipping back to the startup value needs no restart
	restart, err = SetEnabled(false)
	if err != nil {
		t.Fatalf("SetEnabled(false): %v", err)
	}
	if restart {
		t.Error("returning to the startup value should not require a restart")
	}
}

func TestShouldReplicateTruthTable(t *testing.T) {
	cases := []struct {
		name     string
		enabled  bool
		endpoint string
		want     bool
	}{
		{"off, no endpoint", false, "", false},
		{"on, no endpoint", true, "", false},
		{"off, endpoint", false, "https://sync.example.com", false},
		{"on, endpoint", true, "https://sync.example.com", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			writeTestConfig(t, &Config{Sync: SyncConfig{Enabled: tc.enabled}})
			resetStartupForTest()
			setEndpoint(t, tc.endpoint)

			if got := ShouldReplicate(); got != tc.want {
				t.Errorf("ShouldReplicate() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestShouldReplicateTracksLivePreference(t *testing.T) {
	writeTestConfig(t, &Config{Sync: SyncConfig{Enabled: true}})
	resetStartupForTest()
	setEndpoint(t, "https://sync.example.com")

	if !ShouldReplicate() {
		t.Fatal("expected replication on: endpoint present, preference on")
	}

	// Toggling mid-process changes the decision on the very next call; only
	// the open store's replication mode waits for a restart, which SetEnabled
	// reports.
	restart, err := SetEnabled(false)
	if err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if !restart {
		t.Error("flipping away from the startup value should flag a store restart")
	}
	if Enabled() {
		t.Error("Enabled should report the new persisted value")
	}
	if ShouldReplicate() {
		t.Error("ShouldReplicate should follow the live preference")
	}

	if _, err := SetEnabled(true); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if !ShouldReplicate() {
		t.Error("re-enabling should take effect without a process restart")
	}
}

func TestEnabledEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XP_SYNC_ENABLED", "1")
	resetStartupForTest()

	if !Enabled() {
		t.Error("XP_SYNC_ENABLED=1 should enable replication")
	}
}

func TestGetServerURLResolution(t *testing.T) {
	writeTestConfig(t, &Config{Sync: SyncConfig{URL: "https://from-config.example.com"}})
	setEndpoint(t, "https://compiled-in.example.com")

	t.Setenv("XP_SYNC_URL", "https://from-env.example.com")
	if got := GetServerURL(); got != "https://from-env.example.com" {
		t.Errorf("env should win: got %q", got)
	}

	t.Setenv("XP_SYNC_URL", "")
	if got := GetServerURL(); got != "https://from-config.example.com" {
		t.Errorf("config should win over compiled-in: got %q", got)
	}
}

func TestGetServerURLFallsBackToEndpoint(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XP_SYNC_URL", "")
	setEndpoint(t, "https://compiled-in.example.com")

	if got := GetServerURL(); got != "https://compiled-in.example.com" {
		t.Errorf("expected compiled-in endpoint, got %q", got)
	}
}

func TestAutoSyncEnabledFromConfig(t *testing.T) {
	writeTestConfig(t, &Config{Sync: SyncConfig{Auto: AutoSyncConfig{Enabled: boolPtr(false)}}})
	t.Setenv("XP_SYNC_AUTO", "")
	if GetAutoSyncEnabled() {
		t.Error("expected auto-sync disabled from config")
	}
}

func TestAutoSyncOnStartFromConfig(t *testing.T) {
	writeTestConfig(t, &Config{Sync: SyncConfig{Auto: AutoSyncConfig{OnStart: boolPtr(false)}}})
	t.Setenv("XP_SYNC_AUTO_START", "")
	if GetAutoSyncOnStart() {
		t.Error("expected on_start disabled from config")
	}
}

func TestAutoSyncDebounceFromConfig(t *testing.T) {
	writeTestConfig(t, &Config{Sync: SyncConfig{Auto: AutoSyncConfig{Debounce: "10s"}}})
	t.Setenv("XP_SYNC_AUTO_DEBOUNCE", "")
	if d := GetAutoSyncDebounce(); d != 10*time.Second {
		t.Errorf("expected 10s from config, got %v", d)
	}
}

func TestAutoSyncIntervalFromConfig(t *testing.T) {
	writeTestConfig(t, &Config{Sync: SyncConfig{Auto: AutoSyncConfig{Interval: "15m"}}})
	t.Setenv("XP_SYNC_AUTO_INTERVAL", "")
	if d := GetAutoSyncInterval(); d != 15*time.Minute {
		t.Errorf("expected 15m from config, got %v", d)
	}
}

func TestAutoSyncPullFromConfig(t *testing.T) {
	writeTestConfig(t, &Config{Sync: SyncConfig{Auto: AutoSyncConfig{Pull: boolPtr(false)}}})
	t.Setenv("XP_SYNC_AUTO_PULL", "")
	if GetAutoSyncPull() {
		t.Error("expected pull disabled from config")
	}
}

func TestAutoSyncEnvOverridesConfig(t *testing.T) {
	// Config says disabled, env says enabled — env should win
	writeTestConfig(t, &Config{Sync: SyncConfig{Auto: AutoSyncConfig{
		Enabled:  boolPtr(false),
		OnStart:  boolPtr(false),
		Debounce: "10s",
		Interval: "15m",
		Pull:     boolPtr(false),
	}}})

	t.Setenv("XP_SYNC_AUTO", "true")
	if !GetAutoSyncEnabled() {
		t.Error("env should override config for enabled")
	}

	t.Setenv("XP_SYNC_AUTO_START", "1")
	if !GetAutoSyncOnStart() {
		t.Error("env should override config for on_start")
	}

	t.Setenv("XP_SYNC_AUTO_DEBOUNCE", "500ms")
	if d := GetAutoSyncDebounce(); d != 500*time.Millisecond {
		t.Errorf("env should override config for debounce, got %v", d)
	}

	t.Setenv("XP_SYNC_AUTO_INTERVAL", "30s")
	if d := GetAutoSyncInterval(); d != 30*time.Second {
		t.Errorf("env should override config for interval, got %v", d)
	}

	t.Setenv("XP_SYNC_AUTO_PULL", "true")
	if !GetAutoSyncPull() {
		t.Error("env should override config for pull")
	}
}
