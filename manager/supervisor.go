// Package manager ties the pieces together: a Supervisor runs one session's
// worker and boundary as a crash group, and the Orchestrator drives session
// lifecycle across the registry, the store, and the event bus.
package manager

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tandemhq/tandem-core/boundary"
	"github.com/tandemhq/tandem-core/config"
	"github.com/tandemhq/tandem-core/logger"
	"github.com/tandemhq/tandem-core/session"
	"github.com/tandemhq/tandem-core/worker"
)

// SupervisorState is the lifecycle state of a session's supervision unit.
type SupervisorState string

const (
	StateStarting   SupervisorState = "starting"
	StateRunning    SupervisorState = "running"
	StateRestarting SupervisorState = "restarting"
	StateStopped    SupervisorState = "stopped"
)

// ErrNotRunning is returned when an operation needs a running unit.
var ErrNotRunning = errors.New("session unit is not running")

// Supervisor runs one session's worker and boundary manager as a unit.
// The two children start and restart together: a failure in either tears
// both down and recreates both from the original session metadata. In-memory
// conversation state does not survive a restart; whatever was not persisted
// is gone.
type Supervisor struct {
	sess   *session.Session
	limits *config.Limits

	mu       sync.Mutex
	started  bool
	state    SupervisorState
	worker   *worker.Worker
	boundary *boundary.Manager
	fatalErr error
	restarts []time.Time

	failures chan error
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	onRestart func()
	onFatal   func(error)
	now       func() time.Time
}

// NewSupervisor creates a supervision unit for the session. Call Start to
// bring the children up.
func NewSupervisor(sess *session.Session, limits *config.Limits) *Supervisor {
	if limits == nil {
		limits = config.DefaultLimits()
	}
	return &Supervisor{
		sess:     sess,
		limits:   limits,
		state:    StateStarting,
		failures: make(chan error, 8),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// SetOnRestart registers a callback invoked after each successful restart.
// Must be called before Start.
func (s *Supervisor) SetOnRestart(fn func()) {
	s.onRestart = fn
}

// SetOnFatal registers a callback invoked when the unit gives up after too
// many restarts. Must be called before Start.
func (s *Supervisor) SetOnFatal(fn func(error)) {
	s.onFatal = fn
}

// Start brings up both children and begins supervising. A child that cannot
// start at all fails the whole unit immediately.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.state != StateStarting {
		s.mu.Unlock()
		return fmt.Errorf("unit for session %s already started", s.sess.ID)
	}

	if err := s.startChildren(); err != nil {
		s.state = StateStopped
		s.fatalErr = err
		s.mu.Unlock()
		close(s.doneCh)
		return err
	}
	s.state = StateRunning
	s.started = true
	s.mu.Unlock()

	go s.monitor()

	logger.WithSession(s.sess.ID).Info("session unit started", "project", s.sess.ProjectPath)
	return nil
}

// startChildren creates a fresh worker and boundary pair. Caller holds the
// lock.
func (s *Supervisor) startChildren() error {
	bm, err := boundary.NewManager(s.sess.ID, s.sess.ProjectPath, s.limits.MaxWriteBytes)
	if err != nil {
		return fmt.Errorf("failed to start boundary: %w", err)
	}

	w := worker.New(s.sess.ID)
	w.SetFailureReporter(s.reportFailure)

	s.boundary = bm
	s.worker = w
	return nil
}

// reportFailure queues a child failure for the monitor. A full queue during
// a failure storm drops the extra reports; one is enough to restart.
func (s *Supervisor) reportFailure(err error) {
	select {
	case s.failures <- err:
	default:
	}
}

// monitor waits for child failures and drives the restart loop.
func (s *Supervisor) monitor() {
	defer close(s.doneCh)
	log := logger.WithSession(s.sess.ID)

	for {
		select {
		case <-s.stopCh:
			return
		case err := <-s.failures:
			if !s.restart(err) {
				return
			}
			log.Info("session unit restarted", "cause", err)
			if s.onRestart != nil {
				s.onRestart()
			}
		}
	}
}

// restart tears both children down and brings a fresh pair up. Returns false
// when the restart budget is exhausted or the unit is stopping, leaving the
// unit stopped with a fatal error.
func (s *Supervisor) restart(cause error) bool {
	s.mu.Lock()

	if s.state == StateStopped {
		s.mu.Unlock()
		return false
	}
	s.state = StateRestarting

	// Restart budget: a unit crashing in a tight loop is broken, not
	// unlucky. Count restarts inside the sliding window and give up past
	// the cap.
	now := s.now()
	cutoff := now.Add(-s.limits.RestartWindow.Duration)
	kept := s.restarts[:0]
	for _, t := range s.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.restarts = append(kept, now)

	if len(s.restarts) > s.limits.RestartMaxCount {
		fatal := fmt.Errorf("session unit failed %d times in %v, giving up: %w",
			len(s.restarts), s.limits.RestartWindow.Duration, cause)
		s.fatalErr = fatal
		s.stopChildrenLocked()
		s.state = StateStopped
		s.mu.Unlock()

		logger.WithSession(s.sess.ID).Error("session unit failed fatally", "error", fatal)
		if s.onFatal != nil {
			s.onFatal(fatal)
		}
		return false
	}

	s.stopChildrenLocked()
	if err := s.startChildren(); err != nil {
		s.fatalErr = fmt.Errorf("failed to restart children: %w", err)
		s.state = StateStopped
		s.mu.Unlock()
		if s.onFatal != nil {
			s.onFatal(s.fatalErr)
		}
		return false
	}
	s.state = StateRunning
	s.mu.Unlock()
	return true
}

// stopChildrenLocked closes the current children. The worker goes first so
// no operation can reach the boundary through a dead worker. Caller holds
// the lock.
func (s *Supervisor) stopChildrenLocked() {
	if s.worker != nil {
		s.worker.Close()
	}
	s.worker = nil
	s.boundary = nil
}

// Stop shuts the unit down. Idempotent; safe to call on a unit that already
// failed fatally.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	if started {
		<-s.doneCh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		s.stopChildrenLocked()
		s.state = StateStopped
		logger.WithSession(s.sess.ID).Info("session unit stopped")
	}
}

// State returns the unit's current lifecycle state.
func (s *Supervisor) State() SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the fatal error that stopped the unit, if any.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatalErr
}

// Session returns the session this unit supervises.
func (s *Supervisor) Session() *session.Session {
	return s.sess
}

// Worker returns the current worker child, or nil when the unit is not
// running. Callers must not cache the result across restarts.
func (s *Supervisor) Worker() *worker.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worker
}

// Boundary returns the current boundary child, or nil when the unit is not
// running.
func (s *Supervisor) Boundary() *boundary.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundary
}

// Do runs fn against the current worker. A panic inside fn is recovered and
// reported as a child failure, which triggers the restart path instead of
// taking the process down.
func (s *Supervisor) Do(fn func(*worker.Worker) error) (err error) {
	w := s.Worker()
	if w == nil {
		return ErrNotRunning
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
			s.reportFailure(err)
		}
	}()
	return fn(w)
}

// InjectFailure reports a synthetic child failure. Used by health checks and
// by tests exercising the restart path.
func (s *Supervisor) InjectFailure(err error) {
	s.reportFailure(err)
}
