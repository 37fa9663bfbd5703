package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tandemhq/tandem-core/paths"
)

func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	paths.Reset()
	t.Cleanup(paths.Reset)
	return home
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	setupTestHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultProvider != DefaultProvider {
		t.Errorf("DefaultProvider = %q, want %q", cfg.DefaultProvider, DefaultProvider)
	}
	if cfg.DefaultMaxTokens != DefaultMaxTokens {
		t.Errorf("DefaultMaxTokens = %d, want %d", cfg.DefaultMaxTokens, DefaultMaxTokens)
	}
	if cfg.GetMaxTranscriptLines() != DefaultTranscriptLines {
		t.Errorf("MaxTranscriptLines = %d, want %d", cfg.GetMaxTranscriptLines(), DefaultTranscriptLines)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	setupTestHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.SetDebug(true)
	cfg.SetMaxTranscriptLines(500)
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() after save error = %v", err)
	}
	if !loaded.GetDebug() {
		t.Error("expected debug true after round trip")
	}
	if loaded.GetMaxTranscriptLines() != 500 {
		t.Errorf("MaxTranscriptLines = %d, want 500", loaded.GetMaxTranscriptLines())
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	home := setupTestHome(t)

	dir := filepath.Join(home, ".tandem")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	bad := `{"default_temperature": 9}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(bad), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(); err == nil {
		t.Error("expected error for out-of-range temperature")
	}
}

func TestDefaultSessionConfig(t *testing.T) {
	setupTestHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	sc := cfg.DefaultSessionConfig()
	if sc.Provider != DefaultProvider || sc.Model != DefaultModel || sc.MaxTokens != DefaultMaxTokens {
		t.Errorf("unexpected default session config: %+v", sc)
	}
}

func TestSamePath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if !SamePath(file, file) {
		t.Error("identical paths should match")
	}
	if !SamePath(file, filepath.Join(dir, ".", "a.txt")) {
		t.Error("equivalent paths should match")
	}
	if SamePath(file, filepath.Join(dir, "b.txt")) {
		t.Error("different paths should not match")
	}
}

func TestDefaultLimits(t *testing.T) {
	lim := DefaultLimits()
	if lim.MaxActiveSessions != 10 {
		t.Errorf("MaxActiveSessions = %d, want 10", lim.MaxActiveSessions)
	}
	if lim.MaxRecordBytes != 10*1024*1024 {
		t.Errorf("MaxRecordBytes = %d, want 10MiB", lim.MaxRecordBytes)
	}
	if lim.RestartMaxCount != 5 || lim.RestartWindow.Duration != 10*time.Second {
		t.Errorf("restart cap = %d in %v, want 5 in 10s", lim.RestartMaxCount, lim.RestartWindow.Duration)
	}
}

func TestLoadLimitsFileMissing(t *testing.T) {
	lim, err := LoadLimitsFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadLimitsFile() error = %v", err)
	}
	if lim != nil {
		t.Error("expected nil limits for missing file")
	}
}

func TestLoadLimitsFileParsesDurations(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "limits.yaml")
	content := "max_active_sessions: 3\nrate_window: 30s\ncleanup_max_age: 72h\n"
	if err := os.WriteFile(fp, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	lim, err := LoadLimitsFile(fp)
	if err != nil {
		t.Fatalf("LoadLimitsFile() error = %v", err)
	}
	if lim.MaxActiveSessions != 3 {
		t.Errorf("MaxActiveSessions = %d, want 3", lim.MaxActiveSessions)
	}
	if lim.RateWindow.Duration != 30*time.Second {
		t.Errorf("RateWindow = %v, want 30s", lim.RateWindow.Duration)
	}
	if lim.CleanupMaxAge.Duration != 72*time.Hour {
		t.Errorf("CleanupMaxAge = %v, want 72h", lim.CleanupMaxAge.Duration)
	}
}

func TestLoadLimitsFileRejectsBadDuration(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "limits.yaml")
	if err := os.WriteFile(fp, []byte("rate_window: soon\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadLimitsFile(fp); err == nil {
		t.Error("expected error for unparseable duration")
	}
}

func TestMergeLimits(t *testing.T) {
	partial := &Limits{MaxActiveSessions: 4, RateWindow: Duration{10 * time.Second}}
	merged := MergeLimits(partial, DefaultLimits())

	if merged.MaxActiveSessions != 4 {
		t.Errorf("MaxActiveSessions = %d, want override 4", merged.MaxActiveSessions)
	}
	if merged.RateWindow.Duration != 10*time.Second {
		t.Errorf("RateWindow = %v, want override 10s", merged.RateWindow.Duration)
	}
	if merged.MaxRecordBytes != 10*1024*1024 {
		t.Errorf("MaxRecordBytes = %d, want default 10MiB", merged.MaxRecordBytes)
	}
	if merged.RestartMaxCount != 5 {
		t.Errorf("RestartMaxCount = %d, want default 5", merged.RestartMaxCount)
	}
}
