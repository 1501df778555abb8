// Package workspace implements the file and command tools the agent calls.
// Every path is confined to a single workspace directory.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/GGUFloader/agentcore/internal/domain"
)

// ErrOutsideWorkspace is returned for paths that escape the workspace root.
var ErrOutsideWorkspace = fmt.Errorf("%w: path outside workspace", domain.ErrValidation)

// Sandbox resolves tool paths against a workspace root.
type Sandbox struct {
	root string
}

// NewSandbox creates the root directory if needed and resolves symlinks in it.
func NewSandbox(root string) (*Sandbox, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: empty workspace root", domain.ErrValidation)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %q: %w", abs, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace %q: %w", abs, err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return nil, fmt.Errorf("stat workspace %q: %w", real, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: workspace root is not a directory: %s", domain.ErrValidation, real)
	}
	return &Sandbox{root: real}, nil
}

// Root returns the resolved workspace root.
func (s *Sandbox) Root() string { return s.root }

// Resolve maps p to an absolute path inside the workspace. Relative paths
// are taken from the root. Absolute paths are accepted when they already
// point inside the root; otherwise their leading separators are dropped.
// Any ".." element is rejected, as is a symlink that leads outside.
func (s *Sandbox) Resolve(p string) (string, error) {
	clean := strings.TrimSpace(p)
	for _, part := range strings.FieldsFunc(clean, isSeparator) {
		if part == ".." {
			return "", fmt.Errorf("%w: traversal in %q", ErrOutsideWorkspace, p)
		}
	}

	var joined string
	if filepath.IsAbs(clean) && s.contains(filepath.Clean(clean)) {
		joined = filepath.Clean(clean)
	} else {
		joined = filepath.Join(s.root, strings.TrimLeft(clean, `/\`))
	}

	real, err := evalExisting(joined)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", p, err)
	}
	if !s.contains(real) {
		return "", fmt.Errorf("%w: %q resolves to %s", ErrOutsideWorkspace, p, real)
	}
	return real, nil
}

// Rel returns abs relative to the root, "." for the root itself.
func (s *Sandbox) Rel(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func (s *Sandbox) contains(p string) bool {
	rel, err := filepath.Rel(s.root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// evalExisting resolves symlinks in the longest existing prefix of p and
// re-appends the missing remainder.
func evalExisting(p string) (string, error) {
	var rest []string
	cur := p
	for {
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{real}, rest...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		rest = append([]string{filepath.Base(cur)}, rest...)
		cur = parent
	}
}

func isSeparator(r rune) bool { return r == '/' || r == '\\' }

func isHidden(name string) bool { return strings.HasPrefix(name, ".") && name != "." && name != ".." }
