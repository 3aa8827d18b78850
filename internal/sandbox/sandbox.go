// Package sandbox resolves tool path arguments against a per-session
// allow-set of roots. Containment is checked on the canonical form of the
// target so a symlink inside an allowed root cannot escape it.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathDenied is returned when a path resolves outside every allowed root.
var ErrPathDenied = errors.New("path_denied")

// Sandbox holds the allowed roots for one session. Roots are canonicalised
// at construction; a root that does not exist yet is kept as-is.
type Sandbox struct {
	workdir string
	roots   []string
}

// New builds a sandbox rooted at workdir. The allow-set is the project root
// (parent of the nearest .agent directory), the working directory, and any
// extra roots (output and uploads directories) that are non-empty.
func New(workdir string, extraRoots ...string) (*Sandbox, error) {
	abs, err := filepath.Abs(workdir)
	if err != nil {
		return nil, fmt.Errorf("sandbox: resolve workdir: %w", err)
	}
	canonWork := canonicalize(abs)

	roots := []string{canonWork}
	if project := projectRoot(canonWork); project != canonWork {
		roots = append(roots, project)
	}
	for _, r := range extraRoots {
		if r == "" {
			continue
		}
		rAbs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("sandbox: resolve root %s: %w", r, err)
		}
		roots = append(roots, canonicalize(rAbs))
	}

	return &Sandbox{workdir: canonWork, roots: roots}, nil
}

// Workdir returns the canonical working directory.
func (s *Sandbox) Workdir() string { return s.workdir }

// Roots returns the allowed roots. The slice is shared; callers must not
// mutate it.
func (s *Sandbox) Roots() []string { return s.roots }

// ResolveRead resolves raw for reading and enforces containment.
func (s *Sandbox) ResolveRead(raw string) (string, error) {
	return s.resolve(raw)
}

// ResolveWrite resolves raw for writing and enforces containment. The
// policy is the same as for reads; the split exists so callers state
// intent and future policy can diverge.
func (s *Sandbox) ResolveWrite(raw string) (string, error) {
	return s.resolve(raw)
}

func (s *Sandbox) resolve(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("sandbox: empty path: %w", ErrPathDenied)
	}

	target := raw
	if !filepath.IsAbs(target) {
		target = filepath.Join(s.workdir, target)
	}
	target = filepath.Clean(target)

	canon := canonicalize(target)
	for _, root := range s.roots {
		if contains(root, canon) {
			return canon, nil
		}
	}
	return "", fmt.Errorf("sandbox: %s resolves outside allowed roots: %w", raw, ErrPathDenied)
}

// canonicalize resolves symlinks on the longest existing prefix of path and
// rejoins the non-existing remainder. This catches symlink escapes on
// paths that do not exist yet (write targets).
func canonicalize(path string) string {
	prefix := path
	var suffix []string
	for {
		resolved, err := filepath.EvalSymlinks(prefix)
		if err == nil {
			if len(suffix) == 0 {
				return resolved
			}
			// Rejoin the pending components deepest-last.
			parts := append([]string{resolved}, reverse(suffix)...)
			return filepath.Join(parts...)
		}
		parent := filepath.Dir(prefix)
		if parent == prefix {
			return path
		}
		suffix = append(suffix, filepath.Base(prefix))
		prefix = parent
	}
}

// contains reports whether target equals root or is a descendant of it.
func contains(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// projectRoot walks up from dir looking for a .agent directory and returns
// its parent, or dir when none is found.
func projectRoot(dir string) string {
	cur := dir
	for {
		if info, err := os.Stat(filepath.Join(cur, ".agent")); err == nil && info.IsDir() {
			return cur
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return dir
		}
		cur = parent
	}
}

func reverse(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}
