// Package worker owns a session's mutable in-memory state: the conversation
// history, the todo list, and the transient streaming cursor. One worker
// exists per active session; the supervisor creates it and replaces it on
// crash. All state dies with the worker unless it was persisted.
package worker

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tandemhq/tandem-core/logger"
	"github.com/tandemhq/tandem-core/session"
)

var (
	// ErrNotFound is returned by mutating operations on a closed worker.
	ErrNotFound = errors.New("worker is closed")
	// ErrAlreadyStreaming is returned when a stream is opened while another
	// is in progress.
	ErrAlreadyStreaming = errors.New("a stream is already in progress")
	// ErrNotStreaming is returned when a stream is finalized with none open.
	ErrNotStreaming = errors.New("no stream in progress")
	// ErrInvalidRole is returned when a message carries an unknown role.
	ErrInvalidRole = errors.New("invalid message role")
	// ErrInvalidTodoStatus is returned when a todo carries an unknown status.
	ErrInvalidTodoStatus = errors.New("invalid todo status")
)

// Worker holds one session's conversation and todo state. All methods are
// safe for concurrent use; the mutex makes every operation atomic with
// respect to the others.
type Worker struct {
	mu        sync.Mutex
	sessionID string
	messages  []session.Message
	todos     []session.Todo

	streamID  string
	streamBuf strings.Builder

	closed bool

	// report delivers internal failures to the supervisor. Nil when the
	// worker runs unsupervised (tests).
	report func(error)
}

// New creates a worker for the given session.
func New(sessionID string) *Worker {
	return &Worker{sessionID: sessionID}
}

// SetFailureReporter wires the worker to its supervisor's failure channel.
// Must be called before the worker is shared across goroutines.
func (w *Worker) SetFailureReporter(report func(error)) {
	w.report = report
}

// SessionID returns the owning session's ID.
func (w *Worker) SessionID() string {
	return w.sessionID
}

// Seed loads conversation and todo state into a fresh worker, used when a
// session is resumed from a persisted record. Seeding a worker that already
// has messages is a programming error and is rejected.
func (w *Worker) Seed(messages []session.Message, todos []session.Todo) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrNotFound
	}
	if len(w.messages) > 0 {
		return errors.New("worker already has conversation state")
	}

	w.messages = append([]session.Message(nil), messages...)
	w.todos = append([]session.Todo(nil), todos...)
	return nil
}

// AppendMessage adds a message to the conversation history. The role must be
// one of the known roles; history order is append order.
func (w *Worker) AppendMessage(msg session.Message) error {
	if !session.ValidRole(msg.Role) {
		return ErrInvalidRole
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	w.messages = append(w.messages, msg)
	return nil
}

// GetMessages returns a page of the conversation plus the total count.
// offset indexes from the start of history; limit 0 returns no messages and
// just the count. Out-of-range pages return an empty slice, not an error.
func (w *Worker) GetMessages(offset, limit int) ([]session.Message, int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	total := len(w.messages)
	if limit <= 0 || offset >= total || offset < 0 {
		return []session.Message{}, total
	}

	end := offset + limit
	if end > total {
		end = total
	}
	page := make([]session.Message, end-offset)
	copy(page, w.messages[offset:end])
	return page, total
}

// ReplaceTodos swaps the entire todo list. Partial updates are not supported;
// callers send the full desired list every time.
func (w *Worker) ReplaceTodos(todos []session.Todo) error {
	for _, todo := range todos {
		if !session.ValidTodoStatus(todo.Status) {
			return ErrInvalidTodoStatus
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrNotFound
	}
	w.todos = append([]session.Todo(nil), todos...)
	return nil
}

// GetTodos returns a copy of the todo list.
func (w *Worker) GetTodos() []session.Todo {
	w.mu.Lock()
	defer w.mu.Unlock()

	todos := make([]session.Todo, len(w.todos))
	copy(todos, w.todos)
	return todos
}

// StartStreaming opens a streaming cursor for an assistant response and
// returns its ID. Only one stream may be open at a time.
func (w *Worker) StartStreaming() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return "", ErrNotFound
	}
	if w.streamID != "" {
		return "", ErrAlreadyStreaming
	}

	w.streamID = uuid.New().String()
	w.streamBuf.Reset()
	return w.streamID, nil
}

// AppendChunk adds text to the open stream. A chunk arriving after the
// stream closed is dropped silently; late chunks from a cancelled response
// are expected and must not error.
func (w *Worker) AppendChunk(streamID, chunk string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.streamID == "" || w.streamID != streamID {
		return
	}
	w.streamBuf.WriteString(chunk)
}

// EndStreaming finalizes the open stream into a single assistant message and
// clears the cursor. The accumulated text becomes one history entry; chunks
// are never visible as separate messages.
func (w *Worker) EndStreaming(streamID string) (session.Message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return session.Message{}, ErrNotFound
	}
	if w.streamID == "" || w.streamID != streamID {
		return session.Message{}, ErrNotStreaming
	}

	msg := session.NewMessage(session.RoleAssistant, w.streamBuf.String())
	w.messages = append(w.messages, msg)
	w.streamID = ""
	w.streamBuf.Reset()
	return msg, nil
}

// Streaming reports whether a stream is currently open.
func (w *Worker) Streaming() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.streamID != ""
}

// Snapshot returns copies of the conversation and todos, used by the store
// when persisting the session.
func (w *Worker) Snapshot() ([]session.Message, []session.Todo) {
	w.mu.Lock()
	defer w.mu.Unlock()

	messages := make([]session.Message, len(w.messages))
	copy(messages, w.messages)
	todos := make([]session.Todo, len(w.todos))
	copy(todos, w.todos)
	return messages, todos
}

// Close marks the worker dead. Subsequent mutations return ErrNotFound;
// any open stream is discarded.
func (w *Worker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	w.streamID = ""
	w.streamBuf.Reset()
}

// fail reports an internal failure to the supervisor, if one is attached.
func (w *Worker) fail(err error) {
	logger.WithSession(w.sessionID).Error("worker failure", "error", err)
	if w.report != nil {
		w.report(err)
	}
}

// Fail injects a failure, crashing the worker from the supervisor's point of
// view. Used by the supervisor's health checks and by tests exercising the
// restart path.
func (w *Worker) Fail(err error) {
	w.fail(err)
}
