// Package store persists closed sessions as signed, versioned JSON records,
// one file per session in the sessions directory. Records survive process
// restarts and feed the resume path.
package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/tandemhq/tandem-core/config"
	"github.com/tandemhq/tandem-core/session"
)

// SchemaVersion is the record version written by this build. Records with a
// newer version are rejected; older supported versions are migrated on load.
const SchemaVersion = 2

// oldestSupportedVersion is the oldest record version the migration chain
// can bring up to SchemaVersion.
const oldestSupportedVersion = 1

var (
	// ErrSaveInProgress is returned when a save for the session is already
	// in flight.
	ErrSaveInProgress = errors.New("a save for this session is already in progress")
	// ErrUnsupportedVersion is returned for records newer than this build
	// understands, or older than the migration chain reaches.
	ErrUnsupportedVersion = errors.New("unsupported record version")
	// ErrSignatureMismatch is returned when a record's signature does not
	// match its body.
	ErrSignatureMismatch = errors.New("record signature mismatch")
	// ErrMalformedRecord is returned when a record fails structural or field
	// validation.
	ErrMalformedRecord = errors.New("malformed session record")
	// ErrRecordTooLarge is returned when a record exceeds the size cap, on
	// save or on load.
	ErrRecordTooLarge = errors.New("record exceeds maximum size")
	// ErrRateLimited is returned when a save or resume exceeds its rate
	// limit.
	ErrRateLimited = errors.New("operation rate limit exceeded")
	// ErrNotFound is returned when no persisted record exists for the ID.
	ErrNotFound = errors.New("no persisted record for session")
)

// Record is one persisted session. The session metadata is embedded so its
// fields (id, name, project_path, config, created_at, updated_at) sit at the
// top level of the file next to version and closed_at. Unknown top-level JSON
// keys are ignored on load so records written by newer minor revisions still
// parse.
type Record struct {
	Version int `json:"version"`
	session.Session
	ClosedAt     time.Time         `json:"closed_at"`
	Conversation []session.Message `json:"conversation"`
	Todos        []session.Todo    `json:"todos"`
	Signature    string            `json:"signature,omitempty"`
}

// migrate brings an older record up to SchemaVersion in place. Each step
// moves one version forward; a version outside the supported range fails
// before any step runs.
func migrate(rec *Record) error {
	if rec.Version > SchemaVersion || rec.Version < oldestSupportedVersion {
		return fmt.Errorf("%w: %d (supported %d through %d)",
			ErrUnsupportedVersion, rec.Version, oldestSupportedVersion, SchemaVersion)
	}

	if rec.Version == 1 {
		migrateV1ToV2(rec)
	}
	return nil
}

// migrateV1ToV2 fills the fields added in version 2: the per-session agent
// config and the todo active form. Values are defaults, not inferences, so a
// migrated record is explicit about what it never knew.
func migrateV1ToV2(rec *Record) {
	if rec.Session.Config.Provider == "" {
		rec.Session.Config.Provider = config.DefaultProvider
	}
	if rec.Session.Config.Model == "" {
		rec.Session.Config.Model = config.DefaultModel
	}
	if rec.Session.Config.MaxTokens == 0 {
		rec.Session.Config.MaxTokens = config.DefaultMaxTokens
	}
	for i := range rec.Todos {
		if rec.Todos[i].ActiveForm == "" {
			rec.Todos[i].ActiveForm = rec.Todos[i].Content
		}
	}
	rec.Version = 2
}

// validate checks every field of a record before it is returned to a caller.
// A record that fails here is never partially applied.
func validate(rec *Record) error {
	if rec.Session.ID == "" {
		return fmt.Errorf("%w: empty session id", ErrMalformedRecord)
	}
	if rec.Session.Name == "" {
		return fmt.Errorf("%w: empty session name", ErrMalformedRecord)
	}
	if !filepath.IsAbs(rec.Session.ProjectPath) {
		return fmt.Errorf("%w: project path %q is not absolute", ErrMalformedRecord, rec.Session.ProjectPath)
	}
	if rec.Session.CreatedAt.IsZero() {
		return fmt.Errorf("%w: missing created_at", ErrMalformedRecord)
	}
	if rec.ClosedAt.IsZero() {
		return fmt.Errorf("%w: missing closed_at", ErrMalformedRecord)
	}
	if err := rec.Session.Config.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	for i, msg := range rec.Conversation {
		if !session.ValidRole(msg.Role) {
			return fmt.Errorf("%w: message %d has invalid role %q", ErrMalformedRecord, i, msg.Role)
		}
		if msg.Timestamp.IsZero() {
			return fmt.Errorf("%w: message %d has no timestamp", ErrMalformedRecord, i)
		}
	}
	for i, todo := range rec.Todos {
		if !session.ValidTodoStatus(todo.Status) {
			return fmt.Errorf("%w: todo %d has invalid status %q", ErrMalformedRecord, i, todo.Status)
		}
		if todo.Content == "" {
			return fmt.Errorf("%w: todo %d has empty content", ErrMalformedRecord, i)
		}
	}

	return nil
}
