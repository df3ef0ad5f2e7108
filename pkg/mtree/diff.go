package mtree

import "sort"

type DiffResult struct {
	Added   []string
	Removed []string
	Changed []string
}

func (d DiffResult) Empty() bool {
	return len(d.Added) == 0 &&
		len(d.Removed) == 0 &&
		len(d.Changed) == 0
}

// Diff compares two manifests by path. An entry is changed when any of
// its recorded fields differ; the spelling of the file type does not
// count.
func Diff(before, after []Entry) DiffResult {
	var result DiffResult

	oldByPath := index(before)
	newByPath := index(after)

	for path, ne := range newByPath {
		oe, exists := oldByPath[path]
		switch {
		case !exists:
			result.Added = append(result.Added, path)
		case !oe.SameState(ne):
			result.Changed = append(result.Changed, path)
		}
	}
	for path := range oldByPath {
		if _, exists := newByPath[path]; !exists {
			result.Removed = append(result.Removed, path)
		}
	}

	sort.Strings(result.Added)
	sort.Strings(result.Removed)
	sort.Strings(result.Changed)
	return result
}

func index(entries []Entry) map[string]Entry {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		m[e.Path] = e
	}
	return m
}
