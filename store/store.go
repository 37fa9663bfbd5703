package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tandemhq/tandem-core/config"
	"github.com/tandemhq/tandem-core/logger"
	"github.com/tandemhq/tandem-core/paths"
	"github.com/tandemhq/tandem-core/session"
)

// Store reads and writes persisted session records. One record per session,
// named <session id>.json in the sessions directory. Saves are atomic
// (temp file then rename) and at most one save per session runs at a time.
type Store struct {
	dir     string
	keyPath string
	limits  *config.Limits

	keyOnce sync.Once
	key     []byte
	keyErr  error

	mu     sync.Mutex
	saving map[string]struct{}

	saveLimiter   *rateLimiter
	resumeLimiter *rateLimiter
	globalLimiter *rateLimiter
}

// New creates a store over the standard sessions directory.
func New(limits *config.Limits) (*Store, error) {
	dir, err := paths.SessionsDir()
	if err != nil {
		return nil, err
	}
	keyPath, err := paths.KeyFilePath()
	if err != nil {
		return nil, err
	}
	return NewAt(dir, keyPath, limits), nil
}

// NewAt creates a store over an explicit directory and key path (for tests).
func NewAt(dir, keyPath string, limits *config.Limits) *Store {
	if limits == nil {
		limits = config.DefaultLimits()
	}
	return &Store{
		dir:           dir,
		keyPath:       keyPath,
		limits:        limits,
		saving:        make(map[string]struct{}),
		saveLimiter:   newRateLimiter(limits.SaveRatePerSession, limits.RateWindow.Duration),
		resumeLimiter: newRateLimiter(limits.ResumeRatePerSession, limits.RateWindow.Duration),
		globalLimiter: newRateLimiter(limits.GlobalRate, limits.RateWindow.Duration),
	}
}

// RecordPath returns the file path for a session's record.
func (s *Store) RecordPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

func (s *Store) signingKey() ([]byte, error) {
	s.keyOnce.Do(func() {
		s.key, s.keyErr = loadOrCreateKey(s.keyPath)
	})
	return s.key, s.keyErr
}

func (s *Store) beginSave(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, inFlight := s.saving[sessionID]; inFlight {
		return ErrSaveInProgress
	}
	s.saving[sessionID] = struct{}{}
	return nil
}

func (s *Store) endSave(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saving, sessionID)
}

// Save persists a session's state. maxLines bounds the conversation content
// kept; whole oldest messages are dropped first. Concurrent saves for the
// same session are rejected with ErrSaveInProgress rather than queued.
func (s *Store) Save(sess *session.Session, messages []session.Message, todos []session.Todo, maxLines int) error {
	// Check both limiters before charging either, so a global denial does
	// not shrink the session's own budget.
	if !s.saveLimiter.wouldAllow(sess.ID) || !s.globalLimiter.wouldAllow(globalKey) {
		return fmt.Errorf("%w: save for session %s", ErrRateLimited, sess.ID)
	}
	s.saveLimiter.record(sess.ID)
	s.globalLimiter.record(globalKey)

	if err := s.beginSave(sess.ID); err != nil {
		return err
	}
	defer s.endSave(sess.ID)

	key, err := s.signingKey()
	if err != nil {
		return err
	}

	rec := &Record{
		Version:      SchemaVersion,
		Session:      *sess,
		ClosedAt:     time.Now().UTC(),
		Conversation: trimMessages(messages, maxLines),
		Todos:        append([]session.Todo(nil), todos...),
	}
	rec.Signature, err = sign(rec, key)
	if err != nil {
		return fmt.Errorf("failed to sign record: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if s.limits.MaxRecordBytes > 0 && int64(len(data)) > s.limits.MaxRecordBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrRecordTooLarge, len(data), s.limits.MaxRecordBytes)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}

	// Write to a temp file in the same directory, then rename into place.
	// Readers never observe a half-written record.
	tmp, err := os.CreateTemp(s.dir, sess.ID+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.RecordPath(sess.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to finalize record: %w", err)
	}

	logger.WithSession(sess.ID).Info("persisted session record",
		"messages", len(rec.Conversation), "todos", len(rec.Todos))
	return nil
}

// Load reads, verifies, migrates, and validates one session's record.
// Nothing is returned unless every check passes; a record is never partially
// applied.
func (s *Store) Load(sessionID string) (*Record, error) {
	path := s.RecordPath(sessionID)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	if s.limits.MaxRecordBytes > 0 && info.Size() > s.limits.MaxRecordBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrRecordTooLarge, info.Size(), s.limits.MaxRecordBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	if rec.Version > SchemaVersion || rec.Version < oldestSupportedVersion {
		return nil, fmt.Errorf("%w: %d (supported %d through %d)",
			ErrUnsupportedVersion, rec.Version, oldestSupportedVersion, SchemaVersion)
	}

	// Verify before migrating; the signature covers the body as written.
	if rec.Signature == "" {
		logger.WithSession(sessionID).Warn("loading unsigned legacy record")
	} else {
		key, err := s.signingKey()
		if err != nil {
			return nil, err
		}
		if err := verifySignature(&rec, key); err != nil {
			return nil, fmt.Errorf("%w: session %s", ErrSignatureMismatch, sessionID)
		}
	}

	if err := migrate(&rec); err != nil {
		return nil, err
	}
	if err := validate(&rec); err != nil {
		return nil, err
	}

	return &rec, nil
}

// ListPersisted returns the session IDs that have a record on disk, whether
// or not the record is loadable. A missing sessions directory is an empty
// list.
func (s *Store) ListPersisted() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// ListResumable loads every persisted record and returns the ones that pass
// verification, newest first. Session IDs listed in activeIDs are excluded;
// a record whose session is already running is not a resume candidate even
// if its file lingers. Bad files are logged and skipped; one corrupt record
// does not hide the rest.
func (s *Store) ListResumable(activeIDs []string) ([]*Record, error) {
	ids, err := s.ListPersisted()
	if err != nil {
		return nil, err
	}

	active := make(map[string]bool, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = true
	}

	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		if active[id] {
			continue
		}
		rec, err := s.Load(id)
		if err != nil {
			logger.WithComponent("store").Warn("skipping unloadable record", "sessionID", id, "error", err)
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ClosedAt.After(records[j].ClosedAt)
	})
	return records, nil
}

// AllowResume applies the resume rate limits for a session, counting the
// attempt. Callers check this before loading the record.
func (s *Store) AllowResume(sessionID string) error {
	if !s.resumeLimiter.wouldAllow(sessionID) || !s.globalLimiter.wouldAllow(globalKey) {
		return fmt.Errorf("%w: resume for session %s", ErrRateLimited, sessionID)
	}
	s.resumeLimiter.record(sessionID)
	s.globalLimiter.record(globalKey)
	return nil
}

// DeletePersisted removes a session's record. Deleting a record that does
// not exist is a no-op.
func (s *Store) DeletePersisted(sessionID string) error {
	err := os.Remove(s.RecordPath(sessionID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// CleanupResult aggregates the outcome of a Cleanup pass.
type CleanupResult struct {
	Deleted int
	Skipped int
	Failed  int
}

// Cleanup removes records whose ClosedAt is older than maxAge. Unreadable
// records count as failed and the pass keeps going; cleanup never deletes a
// file it could not positively age.
func (s *Store) Cleanup(maxAge time.Duration) (CleanupResult, error) {
	var result CleanupResult

	ids, err := s.ListPersisted()
	if err != nil {
		return result, err
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	for _, id := range ids {
		rec, err := s.Load(id)
		if err != nil {
			result.Failed++
			continue
		}
		if rec.ClosedAt.After(cutoff) {
			result.Skipped++
			continue
		}
		if err := s.DeletePersisted(id); err != nil {
			result.Failed++
			continue
		}
		result.Deleted++
	}

	logger.WithComponent("store").Info("cleanup pass complete",
		"deleted", result.Deleted, "skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}

// ClearAll removes every persisted record, best effort per file. Returns the
// number deleted.
func (s *Store) ClearAll() (int, error) {
	ids, err := s.ListPersisted()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		if err := os.Remove(s.RecordPath(id)); err != nil {
			continue
		}
		deleted++
	}
	return deleted, nil
}

// FindOrphaned returns persisted session IDs with no matching entry among
// activeIDs. These are records for sessions the registry no longer knows.
func (s *Store) FindOrphaned(activeIDs []string) ([]string, error) {
	ids, err := s.ListPersisted()
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(activeIDs))
	for _, id := range activeIDs {
		known[id] = true
	}

	var orphans []string
	for _, id := range ids {
		if !known[id] {
			orphans = append(orphans, id)
		}
	}
	return orphans, nil
}

// PruneOrphaned deletes orphaned records and returns the number deleted.
func (s *Store) PruneOrphaned(activeIDs []string) (int, error) {
	orphans, err := s.FindOrphaned(activeIDs)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range orphans {
		if err := s.DeletePersisted(id); err == nil {
			deleted++
		}
	}
	return deleted, nil
}

// trimMessages keeps the newest messages whose combined content fits in
// maxLines lines. Whole messages are dropped from the front; a message is
// never truncated mid-content.
func trimMessages(messages []session.Message, maxLines int) []session.Message {
	kept := append([]session.Message(nil), messages...)
	if maxLines <= 0 || len(kept) == 0 {
		return kept
	}

	var totalLines int
	startIdx := len(kept)
	for i := len(kept) - 1; i >= 0; i-- {
		lines := countLines(kept[i].Content)
		if totalLines+lines > maxLines && startIdx < len(kept) {
			break
		}
		totalLines += lines
		startIdx = i
	}
	return kept[startIdx:]
}

// countLines counts the number of lines in a string
func countLines(s string) int {
	if s == "" {
		return 0
	}
	count := 1
	for _, c := range s {
		if c == '\n' {
			count++
		}
	}
	return count
}
