package fsys

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// IgnoreMatcher checks walked paths against glob patterns. Patterns without
// a '/' match the entry basename; patterns with '/' match the full relative
// path. Matching operates on the display form only — ignore rules are
// human-authored text and never touch raw path bytes.
type IgnoreMatcher struct {
	base []glob.Glob
	path []glob.Glob
}

// NewIgnoreMatcher compiles raw pattern strings. Blank lines and lines
// starting with '#' are skipped; a malformed pattern is an error.
func NewIgnoreMatcher(rawPatterns []string) (*IgnoreMatcher, error) {
	m := &IgnoreMatcher{}
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		g, err := glob.Compile(raw, '/')
		if err != nil {
			return nil, fmt.Errorf("bad ignore pattern %q: %w", raw, err)
		}
		if strings.Contains(raw, "/") {
			m.path = append(m.path, g)
		} else {
			m.base = append(m.base, g)
		}
	}
	return m, nil
}

// Match reports whether the given relative path should be ignored.
func (m *IgnoreMatcher) Match(relPath string) bool {
	if m == nil || (len(m.base) == 0 && len(m.path) == 0) {
		return false
	}

	normalized := filepath.ToSlash(relPath)
	basename := path.Base(normalized)

	for _, g := range m.base {
		if g.Match(basename) {
			return true
		}
	}
	for _, g := range m.path {
		if g.Match(normalized) {
			return true
		}
	}
	return false
}
