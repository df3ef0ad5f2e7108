package paths

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ExcludeMatcher decides whether a manifest path is skipped.
// Patterns use doublestar syntax against the path without its leading
// slash. A pattern without a slash matches any single component, and a
// path is excluded when it or any of its parent directories matches.
type ExcludeMatcher struct {
	patterns []string
}

func NewExcludeMatcher(patterns []string) *ExcludeMatcher {
	cleaned := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.Trim(p, "/")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return &ExcludeMatcher{patterns: cleaned}
}

// Validate reports the first pattern doublestar cannot parse.
func (m *ExcludeMatcher) Validate() error {
	for _, pat := range m.patterns {
		if !doublestar.ValidatePattern(pat) {
			return doublestar.ErrBadPattern
		}
	}
	return nil
}

func (m *ExcludeMatcher) Match(p string) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	rel := strings.Trim(p, "/")
	if rel == "" {
		return false
	}
	for _, pat := range m.patterns {
		if matchPattern(pat, rel) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, relPath string) bool {
	if !strings.Contains(pattern, "/") {
		for _, part := range strings.Split(relPath, "/") {
			if ok, _ := doublestar.Match(pattern, part); ok {
				return true
			}
		}
		return false
	}
	for cur := relPath; cur != ""; {
		if ok, _ := doublestar.Match(pattern, cur); ok {
			return true
		}
		i := strings.LastIndex(cur, "/")
		if i < 0 {
			break
		}
		cur = cur[:i]
	}
	return false
}
