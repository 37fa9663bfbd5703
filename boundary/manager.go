package boundary

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/tandemhq/tandem-core/logger"
)

// Manager validates filesystem paths against one session's project directory.
// A Manager is created per session by the supervisor and holds the canonical
// root for the session's lifetime. Methods are stateless reads and safe for
// concurrent use.
type Manager struct {
	sessionID string
	root      string
	maxWrite  int64
}

// NewManager binds a boundary to the session's project directory. The
// directory must exist; the stored root is its canonical form so later
// containment checks compare like with like.
func NewManager(sessionID, projectRoot string, maxWriteBytes int64) (*Manager, error) {
	if !filepath.IsAbs(projectRoot) {
		return nil, fmt.Errorf("project root must be absolute: %s", projectRoot)
	}

	root, err := filepath.EvalSymlinks(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root is not a directory: %s", projectRoot)
	}

	return &Manager{
		sessionID: sessionID,
		root:      root,
		maxWrite:  maxWriteBytes,
	}, nil
}

// Root returns the canonical project root.
func (m *Manager) Root() string {
	return m.root
}

// SessionID returns the owning session's ID.
func (m *Manager) SessionID() string {
	return m.sessionID
}

// ValidatePath checks a path against the boundary and returns its canonical
// absolute form. Relative paths are interpreted against the project root.
// The traversal check runs before resolution; the containment check runs
// after symlink resolution so a link pointing outside the root is caught.
func (m *Manager) ValidatePath(path string) (string, error) {
	if ContainsTraversal(path) {
		logger.WithSession(m.sessionID).Warn("rejected path with traversal sequence", "path", path)
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, path)
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(m.root, path)
	}

	resolved, err := canonicalize(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if !within(m.root, resolved) {
		// Distinguish a symlink that redirected the path out of the root
		// from a path that was simply outside to begin with.
		if within(m.root, filepath.Clean(path)) {
			logger.WithSession(m.sessionID).Warn("rejected symlink escaping boundary", "path", path, "resolved", resolved)
			return "", fmt.Errorf("%w: %s resolves to %s", ErrSymlinkEscape, path, resolved)
		}
		logger.WithSession(m.sessionID).Warn("rejected path outside boundary", "path", path)
		return "", fmt.Errorf("%w: %s", ErrOutsideBoundary, path)
	}

	return resolved, nil
}

// ValidateForUse re-runs full validation immediately before the path is used.
// Callers must validate at use time, not only at receipt time, so a path that
// was swapped for a symlink between the two moments is still rejected.
func (m *Manager) ValidateForUse(path string) (string, error) {
	return m.ValidatePath(path)
}

// ValidateAndOpenForWrite validates the path, enforces the write size cap,
// and opens the file for writing. The open itself carries O_NOFOLLOW, so a
// symlink planted on the final component between validation and open fails
// at the kernel rather than redirecting the write.
func (m *Manager) ValidateAndOpenForWrite(path string, size int64) (*os.File, error) {
	if m.maxWrite > 0 && size > m.maxWrite {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrContentTooLarge, size, m.maxWrite)
	}

	resolved, err := m.ValidateForUse(path)
	if err != nil {
		return nil, err
	}

	if info, err := os.Lstat(resolved); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("%w: %s", ErrSymlinkEscape, path)
	}

	f, err := os.OpenFile(resolved, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|syscall.O_NOFOLLOW, 0644)
	if err != nil {
		if errors.Is(err, syscall.ELOOP) {
			return nil, fmt.Errorf("%w: %s", ErrSymlinkEscape, path)
		}
		return nil, fmt.Errorf("failed to open for write: %w", err)
	}
	return f, nil
}

// WriteFile validates and writes content in one step.
func (m *Manager) WriteFile(path string, content []byte) error {
	f, err := m.ValidateAndOpenForWrite(path, int64(len(content)))
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
