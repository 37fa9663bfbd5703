package session

import (
	"strings"
	"testing"
	"time"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple name", "my-session", false},
		{"with spaces", "fix login bug", false},
		{"with slash", "myapp/feature", false},
		{"with dots", "release 1.2", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxNameLength+1), true},
		{"max length ok", strings.Repeat("a", MaxNameLength), false},
		{"leading dash", "-rf", true},
		{"dot dot", "a..b", true},
		{"shell chars", "x; rm", true},
		{"control char", "a\x00b", true},
		{"leading space", " padded", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestNew(t *testing.T) {
	cfg := Config{Provider: "anthropic", Model: "claude-sonnet-4", Temperature: 1, MaxTokens: 8192}

	sess, err := New("/home/dev/myapp", "work", cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if sess.ID == "" {
		t.Error("expected non-empty ID")
	}
	if sess.Name != "work" {
		t.Errorf("Name = %q, want %q", sess.Name, "work")
	}
	if sess.ProjectPath != "/home/dev/myapp" {
		t.Errorf("ProjectPath = %q, want %q", sess.ProjectPath, "/home/dev/myapp")
	}
	if sess.CreatedAt.IsZero() || !sess.CreatedAt.Equal(sess.UpdatedAt) {
		t.Error("expected CreatedAt set and equal to UpdatedAt")
	}
	if sess.CreatedAt.Location() != time.UTC {
		t.Error("expected UTC timestamps")
	}
}

func TestNewDefaultName(t *testing.T) {
	sess, err := New("/home/dev/myapp", "", Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !strings.HasPrefix(sess.Name, "myapp/") {
		t.Errorf("default name = %q, want prefix %q", sess.Name, "myapp/")
	}
}

func TestNewRejectsRelativePath(t *testing.T) {
	if _, err := New("relative/path", "work", Config{}); err == nil {
		t.Error("expected error for relative project path")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New("/home/dev/myapp", "work", Config{Temperature: 3}); err == nil {
		t.Error("expected error for out-of-range temperature")
	}
	if _, err := New("/home/dev/myapp", "work", Config{MaxTokens: -1}); err == nil {
		t.Error("expected error for negative max_tokens")
	}
}

func TestClone(t *testing.T) {
	orig, err := New("/home/dev/myapp", "work", Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	copy := orig.Clone()
	copy.Name = "renamed"
	if orig.Name != "work" {
		t.Error("mutating clone affected original")
	}

	var nilSess *Session
	if nilSess.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestValidRole(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleAssistant, RoleSystem, RoleTool} {
		if !ValidRole(r) {
			t.Errorf("ValidRole(%q) = false, want true", r)
		}
	}
	if ValidRole("admin") {
		t.Error(`ValidRole("admin") = true, want false`)
	}
	if ValidRole("") {
		t.Error(`ValidRole("") = true, want false`)
	}
}

func TestValidTodoStatus(t *testing.T) {
	for _, s := range []TodoStatus{TodoPending, TodoInProgress, TodoCompleted} {
		if !ValidTodoStatus(s) {
			t.Errorf("ValidTodoStatus(%q) = false, want true", s)
		}
	}
	if ValidTodoStatus("done") {
		t.Error(`ValidTodoStatus("done") = true, want false`)
	}
}

func TestNewMessage(t *testing.T) {
	msg := NewMessage(RoleUser, "hello")
	if msg.ID == "" {
		t.Error("expected non-empty ID")
	}
	if msg.Role != RoleUser || msg.Content != "hello" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.Timestamp.IsZero() {
		t.Error("expected timestamp set")
	}
}

func TestCountTodosByStatus(t *testing.T) {
	todos := []Todo{
		{Content: "a", Status: TodoCompleted},
		{Content: "b", Status: TodoInProgress},
		{Content: "c", Status: TodoPending},
		{Content: "d", Status: TodoPending},
	}
	pending, inProgress, completed := CountTodosByStatus(todos)
	if pending != 2 || inProgress != 1 || completed != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", pending, inProgress, completed)
	}
}

func TestFormatTranscript(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "fix the bug"},
		{Role: RoleAssistant, Content: "done"},
	}
	got := FormatTranscript(messages)
	want := "User:\nfix the bug\n\nAssistant:\ndone"
	if got != want {
		t.Errorf("FormatTranscript() = %q, want %q", got, want)
	}

	if FormatTranscript(nil) != "" {
		t.Error("expected empty transcript for no messages")
	}
}
