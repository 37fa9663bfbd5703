package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tandemhq/tandem-core/paths"
)

// setupTestLogger points HOME at a temp dir and resets logger + path caches.
func setupTestLogger(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	paths.Reset()
	Reset()
	t.Cleanup(func() {
		Reset()
		paths.Reset()
	})
	return tmpDir
}

func TestInitCreatesLogFile(t *testing.T) {
	tmpDir := setupTestLogger(t)
	logPath := filepath.Join(tmpDir, "logs", "tandem.log")

	if err := Init(logPath); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if _, err := os.Stat(logPath); err != nil {
		t.Fatalf("log file not created: %v", err)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	tmpDir := setupTestLogger(t)
	logPath := filepath.Join(tmpDir, "first.log")

	if err := Init(logPath); err != nil {
		t.Fatalf("Init: %v", err)
	}
	// Second Init with a different path is a no-op
	if err := Init(filepath.Join(tmpDir, "second.log")); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "second.log")); !os.IsNotExist(err) {
		t.Error("second Init should not have created a new log file")
	}
}

func TestWithSessionAttachesField(t *testing.T) {
	tmpDir := setupTestLogger(t)
	logPath := filepath.Join(tmpDir, "tandem.log")
	if err := Init(logPath); err != nil {
		t.Fatalf("Init: %v", err)
	}

	log := WithSession("sess-42")
	log.Info("hello from session")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "sessionID=sess-42") {
		t.Errorf("log output missing sessionID field: %s", data)
	}
	if !strings.Contains(string(data), "hello from session") {
		t.Errorf("log output missing message: %s", data)
	}
}

func TestWithComponentAttachesField(t *testing.T) {
	tmpDir := setupTestLogger(t)
	logPath := filepath.Join(tmpDir, "tandem.log")
	if err := Init(logPath); err != nil {
		t.Fatalf("Init: %v", err)
	}

	WithComponent("registry").Info("component message")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "component=registry") {
		t.Errorf("log output missing component field: %s", data)
	}
}

func TestSetDebugControlsLevel(t *testing.T) {
	tmpDir := setupTestLogger(t)
	logPath := filepath.Join(tmpDir, "tandem.log")
	if err := Init(logPath); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// Debug disabled by default
	Get().Debug("invisible")
	SetDebug(true)
	Get().Debug("visible")
	SetDebug(false)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "invisible") {
		t.Error("debug message logged while debug disabled")
	}
	if !strings.Contains(string(data), "visible") {
		t.Error("debug message not logged while debug enabled")
	}
}

func TestSessionLogPath(t *testing.T) {
	tmpDir := setupTestLogger(t)
	if err := os.MkdirAll(filepath.Join(tmpDir, ".tandem"), 0755); err != nil {
		t.Fatal(err)
	}
	paths.Reset()

	p, err := SessionLogPath("abc")
	if err != nil {
		t.Fatalf("SessionLogPath: %v", err)
	}
	if want := filepath.Join(tmpDir, ".tandem", "logs", "session-abc.log"); p != want {
		t.Errorf("SessionLogPath = %q, want %q", p, want)
	}
}

func TestClearLogs(t *testing.T) {
	tmpDir := setupTestLogger(t)
	if err := os.MkdirAll(filepath.Join(tmpDir, ".tandem"), 0755); err != nil {
		t.Fatal(err)
	}
	paths.Reset()

	logsDir := filepath.Join(tmpDir, ".tandem", "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"tandem.log", "session-a.log", "session-b.log", "other.txt"} {
		if err := os.WriteFile(filepath.Join(logsDir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	count, err := ClearLogs()
	if err != nil {
		t.Fatalf("ClearLogs: %v", err)
	}
	if count != 3 {
		t.Errorf("ClearLogs removed %d files, want 3", count)
	}
	if _, err := os.Stat(filepath.Join(logsDir, "other.txt")); err != nil {
		t.Error("ClearLogs should not remove unrelated files")
	}
}
