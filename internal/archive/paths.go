package archive

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathTraversal indicates a manifest entry tried to escape the template
// root. This is the only barrier between attacker-influenced manifest paths
// and the filesystem, so it rejects rather than repairs.
var ErrPathTraversal = errors.New("path escapes base directory")

// Resolve joins relativePath onto baseDir and fails unless the result is
// the base itself or sits strictly beneath it. Backslash separators are
// normalized first so Windows-style traversal does not slip through on
// Unix hosts.
func Resolve(baseDir, relativePath string) (string, error) {
	base, err := filepath.Abs(filepath.Clean(baseDir))
	if err != nil {
		return "", fmt.Errorf("resolve base: %w", err)
	}

	candidate := filepath.Clean(filepath.FromSlash(strings.ReplaceAll(relativePath, "\\", "/")))

	var resolved string
	if filepath.IsAbs(candidate) {
		resolved = filepath.Clean(candidate)
	} else {
		resolved = filepath.Join(base, candidate)
	}
	resolved, err = filepath.Abs(resolved)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	if resolved != base && !strings.HasPrefix(resolved, base+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, relativePath)
	}

	return resolved, nil
}
