// Package registry tracks the set of active sessions. It enforces the
// concurrent session cap and the one-session-per-project-directory rule.
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/tandemhq/tandem-core/config"
	"github.com/tandemhq/tandem-core/session"
)

var (
	// ErrDuplicatePath is returned when a session is already registered for
	// the same project directory.
	ErrDuplicatePath = errors.New("a session is already open for this project directory")
	// ErrLimitReached is returned when the active session cap is hit.
	ErrLimitReached = errors.New("maximum number of active sessions reached")
)

// Registry is the authoritative record of active sessions. All methods are
// safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session // keyed by session ID
	limit    int
}

// New creates a registry with the given session cap. A non-positive limit
// falls back to the default.
func New(limit int) *Registry {
	if limit <= 0 {
		limit = config.DefaultLimits().MaxActiveSessions
	}
	return &Registry{
		sessions: make(map[string]*session.Session),
		limit:    limit,
	}
}

// Register adds a session. The duplicate-path check, the cap check, and the
// insert happen under one write lock so two concurrent registers for the same
// project directory cannot both succeed.
func (r *Registry) Register(sess *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.sessions {
		if config.SamePath(existing.ProjectPath, sess.ProjectPath) {
			return ErrDuplicatePath
		}
	}

	if len(r.sessions) >= r.limit {
		return ErrLimitReached
	}

	// The registry owns its copy; callers cannot mutate registered state
	// except through Update.
	r.sessions[sess.ID] = sess.Clone()
	return nil
}

// Update applies fn to a registered session under the write lock and returns
// a snapshot of the result. All mutation of registered sessions goes through
// here so lookups never observe a half-applied rename or config change.
func (r *Registry) Update(id string, fn func(*session.Session)) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	fn(sess)
	return sess.Clone(), true
}

// Unregister removes a session by ID. Removing an unknown ID is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Lookup returns a snapshot of the session with the given ID, or false if
// none.
func (r *Registry) Lookup(id string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// LookupByPath returns the session bound to the given project directory.
// The comparison is filesystem-aware, matching the Register check.
func (r *Registry) LookupByPath(projectPath string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sess := range r.sessions {
		if config.SamePath(sess.ProjectPath, projectPath) {
			return sess.Clone(), true
		}
	}
	return nil, false
}

// LookupByName returns the session with the given display name. Names are not
// unique; when several match, the oldest by CreatedAt wins so repeated
// lookups are deterministic.
func (r *Registry) LookupByName(name string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var match *session.Session
	for _, sess := range r.sessions {
		if sess.Name != name {
			continue
		}
		if match == nil || sess.CreatedAt.Before(match.CreatedAt) {
			match = sess
		}
	}
	if match == nil {
		return nil, false
	}
	return match.Clone(), true
}

// ListAll returns snapshots of all registered sessions, oldest first.
func (r *Registry) ListAll() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*session.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		all = append(all, sess.Clone())
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return all
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Limit returns the session cap.
func (r *Registry) Limit() int {
	return r.limit
}

// Clear removes all sessions. Intended for shutdown and tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*session.Session)
}
