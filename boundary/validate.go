// Package boundary confines filesystem access for a session to its project
// directory. Validation rejects traversal sequences before any resolution,
// then resolves symlinks and requires the canonical result to stay at or
// under the session's root. There is no global fallback boundary; a path can
// only be validated against the session it belongs to.
package boundary

import (
	"errors"
	"net/url"
	"path/filepath"
	"strings"
)

var (
	// ErrPathTraversal is returned when a path contains a traversal sequence,
	// literal or percent-encoded.
	ErrPathTraversal = errors.New("path contains traversal sequence")
	// ErrOutsideBoundary is returned when a path resolves outside the
	// session's project directory.
	ErrOutsideBoundary = errors.New("path is outside the session boundary")
	// ErrSymlinkEscape is returned when a symlink inside the boundary points
	// outside it.
	ErrSymlinkEscape = errors.New("symlink target escapes the session boundary")
	// ErrContentTooLarge is returned when a write exceeds the size cap.
	ErrContentTooLarge = errors.New("content exceeds maximum write size")
)

// maxDecodePasses bounds percent-decoding so double-encoded sequences like
// %252e%252e are caught without looping on pathological input.
const maxDecodePasses = 2

// ContainsTraversal reports whether path contains a ".." component, either
// literally or behind up to two layers of percent-encoding. This check runs
// before any filesystem resolution so an attacker cannot smuggle a traversal
// past the canonicalization step.
func ContainsTraversal(path string) bool {
	candidates := []string{path}
	decoded := path
	for i := 0; i < maxDecodePasses; i++ {
		d, err := url.PathUnescape(decoded)
		if err != nil || d == decoded {
			break
		}
		decoded = d
		candidates = append(candidates, d)
	}

	for _, c := range candidates {
		for _, comp := range strings.Split(filepath.ToSlash(c), "/") {
			if comp == ".." {
				return true
			}
		}
	}
	return false
}

// canonicalize returns the absolute, symlink-resolved form of path. When the
// full path does not exist yet, the deepest existing ancestor is resolved and
// the remaining components are re-attached lexically, so a symlinked parent
// directory cannot hide the true location of a file about to be created.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	dir := abs
	var rest []string
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		rest = append([]string{filepath.Base(dir)}, rest...)
		dir = parent
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
	}

	return abs, nil
}

// within reports whether candidate equals root or is a strict descendant.
// Both arguments must already be canonical.
func within(root, candidate string) bool {
	if candidate == root {
		return true
	}
	return strings.HasPrefix(candidate, root+string(filepath.Separator))
}
