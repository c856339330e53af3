package source

import (
	"fmt"
	"regexp"
	"strings"
)

// projectFilter decides which projects a source replicates. Patterns are
// exact names, "prefix*" wildcards or "^regex" regular expressions. An empty
// filter matches every project.
type projectFilter struct {
	exact    map[string]struct{}
	prefixes []string
	regexes  []*regexp.Regexp
}

func newProjectFilter(patterns []string) (projectFilter, error) {
	filter := projectFilter{exact: map[string]struct{}{}}

	for _, pattern := range patterns {
		switch {
		case strings.HasPrefix(pattern, "^"):
			re, err := regexp.Compile(pattern)
			if err != nil {
				return projectFilter{}, fmt.Errorf("project pattern %q: %w", pattern, err)
			}
			filter.regexes = append(filter.regexes, re)
		case strings.HasSuffix(pattern, "*"):
			filter.prefixes = append(filter.prefixes, strings.TrimSuffix(pattern, "*"))
		default:
			filter.exact[pattern] = struct{}{}
		}
	}

	return filter, nil
}

func (f projectFilter) empty() bool {
	return len(f.exact) == 0 && len(f.prefixes) == 0 && len(f.regexes) == 0
}

func (f projectFilter) matches(project string) bool {
	if f.empty() {
		return true
	}

	if _, ok := f.exact[project]; ok {
		return true
	}

	for _, prefix := range f.prefixes {
		if strings.HasPrefix(project, prefix) {
			return true
		}
	}

	for _, re := range f.regexes {
		if re.MatchString(project) {
			return true
		}
	}

	return false
}
