// Package guard decides whether a path lies inside a protected directory tree.
package guard

import (
	"path/filepath"
	"runtime"
	"strings"

	"github.com/samber/lo"
)

// Guard holds an immutable, normalized set of protected path prefixes.
type Guard struct {
	prefixes        []string
	caseInsensitive bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithCaseInsensitive overrides the platform default for case folding.
func WithCaseInsensitive(v bool) Option {
	return func(g *Guard) {
		g.caseInsensitive = v
	}
}

// New builds a Guard from the given prefixes. Empty entries are ignored and
// duplicates collapse; input order is otherwise kept.
func New(prefixes []string, opts ...Option) *Guard {
	g := &Guard{
		caseInsensitive: runtime.GOOS == "windows" || runtime.GOOS == "darwin",
	}
	for _, opt := range opts {
		opt(g)
	}

	normalized := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if strings.TrimSpace(p) == "" {
			continue
		}
		normalized = append(normalized, g.normalize(p))
	}
	g.prefixes = lo.Uniq(normalized)

	return g
}

// Prefixes returns a copy of the normalized protected prefixes.
func (g *Guard) Prefixes() []string {
	return append([]string(nil), g.prefixes...)
}

// IsProtected reports whether path equals or is nested under any protected
// prefix. It never touches the filesystem.
func (g *Guard) IsProtected(path string) bool {
	if g == nil || len(g.prefixes) == 0 {
		return false
	}

	p := g.normalize(path)
	for _, prefix := range g.prefixes {
		if within(p, prefix) {
			return true
		}
	}
	return false
}

// normalize resolves "." and ".." segments, makes the path absolute and folds
// case where the filesystem is case-insensitive.
func (g *Guard) normalize(path string) string {
	p := filepath.Clean(path)
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if g.caseInsensitive {
		p = strings.ToLower(p)
	}
	return p
}

// within matches on whole path components, so C:\Windows does not cover
// C:\WindowsApps.
func within(path, prefix string) bool {
	if path == prefix {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	// Roots such as "/" or "C:\" already end in a separator.
	if strings.HasSuffix(prefix, string(filepath.Separator)) {
		return true
	}
	return path[len(prefix)] == filepath.Separator
}
