package application

import (
	"path"
	"strings"

	"github.com/relforge/relforge/internal/domain"
)

// TriggerFilter decides whether an event starts a pipeline run. The decision
// is pure: no side effects, no clock, no filesystem.
type TriggerFilter struct {
	ignore []string
}

func NewTriggerFilter(ignore []string) *TriggerFilter {
	return &TriggerFilter{ignore: ignore}
}

// ShouldRun returns false only when the change set is empty or every changed
// path matches an ignore pattern.
func (f *TriggerFilter) ShouldRun(e domain.Event) bool {
	if len(e.ChangedPaths) == 0 {
		return false
	}
	for _, p := range e.ChangedPaths {
		if !f.ignored(p) {
			return true
		}
	}
	return false
}

func (f *TriggerFilter) ignored(p string) bool {
	for _, pattern := range f.ignore {
		if matchGlob(pattern, p) {
			return true
		}
	}
	return false
}

// matchGlob matches a slash-separated glob against a path. "*" and "?"
// match within one segment, "**" matches any number of segments.
func matchGlob(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pattern, parts []string) bool {
	if len(pattern) == 0 {
		return len(parts) == 0
	}
	if pattern[0] == "**" {
		if matchSegments(pattern[1:], parts) {
			return true
		}
		return len(parts) > 0 && matchSegments(pattern, parts[1:])
	}
	if len(parts) == 0 {
		return false
	}
	ok, err := path.Match(pattern[0], parts[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], parts[1:])
}
