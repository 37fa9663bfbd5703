package manager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tandemhq/tandem-core/config"
	"github.com/tandemhq/tandem-core/events"
	"github.com/tandemhq/tandem-core/logger"
	"github.com/tandemhq/tandem-core/registry"
	"github.com/tandemhq/tandem-core/session"
	"github.com/tandemhq/tandem-core/store"
	"github.com/tandemhq/tandem-core/worker"
)

// Compile-time interface satisfaction check.
var _ OrchestratorConfig = (*config.Config)(nil)

var (
	// ErrProjectAlreadyOpen is returned when a project directory already has
	// an active session.
	ErrProjectAlreadyOpen = errors.New("project directory already has an active session")
	// ErrSessionNotFound is returned when no active session matches.
	ErrSessionNotFound = errors.New("session not found")
)

// OrchestratorConfig defines the configuration interface required by the
// Orchestrator. This decouples it from the concrete config.Config struct.
type OrchestratorConfig interface {
	DefaultSessionConfig() session.Config
	GetMaxTranscriptLines() int
}

// Orchestrator owns session lifecycle end to end: creation through the
// registry, supervision units per session, persistence on close, and resume
// from persisted records. One Orchestrator serves the whole process.
type Orchestrator struct {
	config   OrchestratorConfig
	limits   *config.Limits
	registry *registry.Registry
	store    *store.Store
	bus      *events.Bus

	mu    sync.RWMutex
	units map[string]*Supervisor
}

// NewOrchestrator wires the orchestrator. A nil bus disables event
// publication but everything else still works.
func NewOrchestrator(cfg OrchestratorConfig, limits *config.Limits, st *store.Store, bus *events.Bus) *Orchestrator {
	if limits == nil {
		limits = config.DefaultLimits()
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Orchestrator{
		config:   cfg,
		limits:   limits,
		registry: registry.New(limits.MaxActiveSessions),
		store:    st,
		bus:      bus,
		units:    make(map[string]*Supervisor),
	}
}

// Registry exposes the registry for read-side collaborators.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

// Store exposes the persistence engine for maintenance operations
// (cleanup, orphan pruning, clear-all).
func (o *Orchestrator) Store() *store.Store {
	return o.store
}

// Events exposes the lifecycle event bus.
func (o *Orchestrator) Events() *events.Bus {
	return o.bus
}

// Create opens a new session on a project directory and starts its
// supervision unit. The directory must exist; a nil sessCfg takes the
// configured defaults.
func (o *Orchestrator) Create(projectPath, name string, sessCfg *session.Config) (*session.Session, error) {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, fmt.Errorf("invalid project path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("project directory does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project path is not a directory: %s", abs)
	}

	cfg := o.config.DefaultSessionConfig()
	if sessCfg != nil {
		cfg = *sessCfg
	}

	sess, err := session.New(abs, name, cfg)
	if err != nil {
		return nil, err
	}

	if err := o.registry.Register(sess); err != nil {
		if errors.Is(err, registry.ErrDuplicatePath) {
			return nil, fmt.Errorf("%w: %s", ErrProjectAlreadyOpen, abs)
		}
		return nil, err
	}

	if err := o.startUnit(sess); err != nil {
		o.registry.Unregister(sess.ID)
		return nil, err
	}

	o.publish(events.SessionCreated, sess)
	logger.WithSession(sess.ID).Info("session created", "name", sess.Name, "project", sess.ProjectPath)
	return sess, nil
}

// startUnit builds and starts a supervision unit and records it.
func (o *Orchestrator) startUnit(sess *session.Session) error {
	sup := NewSupervisor(sess, o.limits)
	sup.SetOnRestart(func() {
		o.publish(events.SessionRestarted, o.currentSession(sess))
	})
	// The unit has already stopped itself when this fires; only the
	// bookkeeping remains. Calling sup.Stop here would deadlock against
	// the monitor goroutine delivering the callback.
	sup.SetOnFatal(func(err error) {
		logger.WithSession(sess.ID).Error("tearing down session after fatal unit failure", "error", err)
		closed := o.currentSession(sess)
		o.mu.Lock()
		delete(o.units, sess.ID)
		o.mu.Unlock()
		o.registry.Unregister(sess.ID)
		o.publish(events.SessionClosed, closed)
	})

	if err := sup.Start(); err != nil {
		return fmt.Errorf("failed to start session unit: %w", err)
	}

	o.mu.Lock()
	o.units[sess.ID] = sup
	o.mu.Unlock()
	return nil
}

// currentSession returns the registry's snapshot of the session, falling back
// to the creation-time copy when it is no longer registered.
func (o *Orchestrator) currentSession(sess *session.Session) *session.Session {
	if cur, ok := o.registry.Lookup(sess.ID); ok {
		return cur
	}
	return sess
}

// unit returns the supervision unit for a session.
func (o *Orchestrator) unit(sessionID string) (*Supervisor, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	sup, ok := o.units[sessionID]
	return sup, ok
}

// Worker returns the session's current worker. The reference must not be
// cached across calls; restarts replace it.
func (o *Orchestrator) Worker(sessionID string) (*worker.Worker, error) {
	sup, ok := o.unit(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	w := sup.Worker()
	if w == nil {
		return nil, ErrNotRunning
	}
	return w, nil
}

// Do runs fn against the session's worker with panic containment.
func (o *Orchestrator) Do(sessionID string, fn func(*worker.Worker) error) error {
	sup, ok := o.unit(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sup.Do(fn)
}

// Stop closes a session. Unless discard is set, the conversation and todos
// are persisted first, best effort: a failed save is logged but does not
// block the close. Already-persisted records are never deleted by Stop.
func (o *Orchestrator) Stop(sessionID string, discard bool) error {
	sup, ok := o.unit(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	// Persist from the registry's snapshot so a concurrent rename or config
	// update cannot race the save; the supervisor's copy may be stale.
	sess, registered := o.registry.Lookup(sessionID)
	if !registered {
		sess = sup.Session().Clone()
	}
	log := logger.WithSession(sessionID)

	if !discard && o.store != nil {
		if w := sup.Worker(); w != nil {
			messages, todos := w.Snapshot()
			if err := o.store.Save(sess, messages, todos, o.config.GetMaxTranscriptLines()); err != nil {
				log.Error("failed to persist session on close", "error", err)
			}
		}
	}

	sup.Stop()

	o.mu.Lock()
	delete(o.units, sessionID)
	o.mu.Unlock()
	o.registry.Unregister(sessionID)

	o.publish(events.SessionClosed, sess)
	log.Info("session closed", "discarded", discard)
	return nil
}

// Rename changes a session's display name. The mutation runs under the
// registry's lock so concurrent lookups never observe a torn update.
func (o *Orchestrator) Rename(sessionID, newName string) error {
	if err := session.ValidateName(newName); err != nil {
		return err
	}

	sess, ok := o.registry.Update(sessionID, func(s *session.Session) {
		s.Name = newName
		s.UpdatedAt = time.Now().UTC()
	})
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	o.publish(events.SessionRenamed, sess)
	return nil
}

// UpdateConfig replaces a session's agent configuration.
func (o *Orchestrator) UpdateConfig(sessionID string, cfg session.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	sess, ok := o.registry.Update(sessionID, func(s *session.Session) {
		s.Config = cfg
		s.UpdatedAt = time.Now().UTC()
	})
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	o.publish(events.SessionConfigUpdated, sess)
	return nil
}

// Lookup returns an active session by ID.
func (o *Orchestrator) Lookup(sessionID string) (*session.Session, bool) {
	return o.registry.Lookup(sessionID)
}

// LookupByPath returns the active session bound to a project directory.
func (o *Orchestrator) LookupByPath(projectPath string) (*session.Session, bool) {
	return o.registry.LookupByPath(projectPath)
}

// LookupByName returns the active session with the given name, oldest first
// on ties.
func (o *Orchestrator) LookupByName(name string) (*session.Session, bool) {
	return o.registry.LookupByName(name)
}

// List returns all active sessions, oldest first.
func (o *Orchestrator) List() []*session.Session {
	return o.registry.ListAll()
}

// ListResumable returns the persisted records eligible for resume, newest
// first. Sessions that are currently active are excluded even when their
// record file lingers on disk.
func (o *Orchestrator) ListResumable() ([]*store.Record, error) {
	if o.store == nil {
		return nil, errors.New("no persistence engine configured")
	}

	active := o.registry.ListAll()
	ids := make([]string, 0, len(active))
	for _, sess := range active {
		ids = append(ids, sess.ID)
	}
	return o.store.ListResumable(ids)
}

// Resume reopens a persisted session: the record is loaded and verified, the
// project directory is re-validated, the usual duplicate-path and cap rules
// apply, and the new unit is seeded with the persisted conversation and
// todos. The record file is consumed only after everything else succeeded.
func (o *Orchestrator) Resume(sessionID string) (*session.Session, error) {
	if o.store == nil {
		return nil, errors.New("no persistence engine configured")
	}
	if err := o.store.AllowResume(sessionID); err != nil {
		return nil, err
	}

	rec, err := o.store.Load(sessionID)
	if err != nil {
		return nil, err
	}

	// The directory may have moved or vanished since the session closed
	info, err := os.Stat(rec.Session.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("project directory no longer exists: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project path is no longer a directory: %s", rec.Session.ProjectPath)
	}

	if _, open := o.registry.LookupByPath(rec.Session.ProjectPath); open {
		return nil, fmt.Errorf("%w: %s", ErrProjectAlreadyOpen, rec.Session.ProjectPath)
	}

	sess := rec.Session.Clone()
	sess.UpdatedAt = time.Now().UTC()

	if err := o.registry.Register(sess); err != nil {
		if errors.Is(err, registry.ErrDuplicatePath) {
			return nil, fmt.Errorf("%w: %s", ErrProjectAlreadyOpen, sess.ProjectPath)
		}
		return nil, err
	}

	if err := o.startUnit(sess); err != nil {
		o.registry.Unregister(sess.ID)
		return nil, err
	}

	if w, err := o.Worker(sess.ID); err == nil {
		if err := w.Seed(rec.Conversation, rec.Todos); err != nil {
			logger.WithSession(sess.ID).Error("failed to seed resumed session", "error", err)
		}
	}

	// Consume the record last so a failed resume leaves it intact
	if err := o.store.DeletePersisted(sessionID); err != nil {
		logger.WithSession(sess.ID).Warn("failed to delete consumed record", "error", err)
	}

	o.publish(events.SessionResumed, sess)
	logger.WithSession(sess.ID).Info("session resumed", "name", sess.Name, "messages", len(rec.Conversation))
	return sess, nil
}

// Transcript renders a session's conversation as plain text.
func (o *Orchestrator) Transcript(sessionID string) (string, error) {
	w, err := o.Worker(sessionID)
	if err != nil {
		return "", err
	}
	messages, _ := w.Snapshot()
	return session.FormatTranscript(messages), nil
}

// Shutdown closes every active session, persisting each unless discard is
// set, then shuts the event bus down. This should be called when the
// application is exiting.
func (o *Orchestrator) Shutdown(discard bool) {
	log := logger.WithComponent("orchestrator")

	o.mu.RLock()
	ids := make([]string, 0, len(o.units))
	for id := range o.units {
		ids = append(ids, id)
	}
	o.mu.RUnlock()

	log.Info("shutting down all sessions", "count", len(ids))
	for _, id := range ids {
		if err := o.Stop(id, discard); err != nil {
			log.Error("failed to stop session during shutdown", "sessionID", id, "error", err)
		}
	}

	o.registry.Clear()
	o.bus.Close()
	log.Info("shutdown complete")
}

func (o *Orchestrator) publish(t events.Type, sess *session.Session) {
	o.bus.Publish(events.Event{
		Type:      t,
		SessionID: sess.ID,
		Name:      sess.Name,
	})
}
