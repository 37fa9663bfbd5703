package session

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxNameLength is the maximum length for session display names.
const MaxNameLength = 50

// validNameRegex matches valid session name characters.
// Names cannot contain control characters, shell metacharacters, or path
// separators beyond "/" (which is allowed for repo/branch style names).
var validNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9 /_.-]*$`)

// ValidateName checks if a display name is acceptable for a session.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("session name cannot be empty")
	}

	if len(name) > MaxNameLength {
		return fmt.Errorf("session name too long (max %d characters)", MaxNameLength)
	}

	if strings.HasPrefix(name, "-") {
		return fmt.Errorf("session name cannot start with '-'")
	}

	if strings.Contains(name, "..") {
		return fmt.Errorf("session name cannot contain '..'")
	}

	if !validNameRegex.MatchString(name) {
		return fmt.Errorf("session name contains invalid characters (use letters, numbers, space, /, _, ., -)")
	}

	return nil
}

// Config holds the agent configuration for a session.
type Config struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Validate checks that the config values are in range.
func (c Config) Validate() error {
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature %v out of range [0, 2]", c.Temperature)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens cannot be negative")
	}
	return nil
}

// Session represents one isolated working context bound to a project directory.
// ID and ProjectPath are immutable after creation; ProjectPath is the root of
// the session's security boundary.
type Session struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ProjectPath string    `json:"project_path"`
	Config      Config    `json:"config"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// New creates a session bound to projectPath with a fresh UUID.
// The caller is responsible for validating that projectPath exists and is a
// directory; this constructor only normalizes and derives defaults.
// If name is empty, "<dir base>/<short id>" is used.
func New(projectPath, name string, cfg Config) (*Session, error) {
	if !filepath.IsAbs(projectPath) {
		return nil, fmt.Errorf("project path must be absolute: %s", projectPath)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	if name == "" {
		name = fmt.Sprintf("%s/%s", filepath.Base(projectPath), id[:8])
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Session{
		ID:          id,
		Name:        name,
		ProjectPath: filepath.Clean(projectPath),
		Config:      cfg,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Clone returns a copy of the session. Sessions contain no reference fields,
// so a value copy is a deep copy; the method exists to make call sites explicit.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	copy := *s
	return &copy
}

// Role identifies which party produced a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ValidRole reports whether r is one of the closed set of roles. Enum values
// arriving from disk or the wire must pass this check before use.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Message is one conversation turn. Messages are immutable once appended to a
// session's history; insertion order is display and evaluation order.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message with a fresh UUID and the current UTC time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// TodoStatus represents the status of a todo item.
type TodoStatus string

const (
	// TodoPending indicates the task has not been started.
	TodoPending TodoStatus = "pending"
	// TodoInProgress indicates the task is currently being worked on.
	TodoInProgress TodoStatus = "in_progress"
	// TodoCompleted indicates the task has been finished.
	TodoCompleted TodoStatus = "completed"
)

// ValidTodoStatus reports whether s is one of the closed set of statuses.
func ValidTodoStatus(s TodoStatus) bool {
	switch s {
	case TodoPending, TodoInProgress, TodoCompleted:
		return true
	}
	return false
}

// Todo represents a single tracked task.
type Todo struct {
	// Content is the description of the task to be completed.
	Content string `json:"content"`
	// Status is the current state of the task.
	Status TodoStatus `json:"status"`
	// ActiveForm is the present participle form shown during execution,
	// e.g. "Running tests" for a task with content "Run tests".
	ActiveForm string `json:"active_form"`
}

// CountTodosByStatus returns the count of items with each status.
func CountTodosByStatus(todos []Todo) (pending, inProgress, completed int) {
	for _, item := range todos {
		switch item.Status {
		case TodoPending:
			pending++
		case TodoInProgress:
			inProgress++
		case TodoCompleted:
			completed++
		}
	}
	return
}

// FormatTranscript formats messages as a human-readable plain text transcript.
// Each message is prefixed with its role and separated by blank lines.
func FormatTranscript(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, msg := range messages {
		switch msg.Role {
		case RoleUser:
			sb.WriteString("User:\n")
		case RoleAssistant:
			sb.WriteString("Assistant:\n")
		default:
			sb.WriteString(string(msg.Role) + ":\n")
		}
		sb.WriteString(msg.Content)
		if i < len(messages)-1 {
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}
