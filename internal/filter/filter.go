// Package filter decides whether a path is hidden by the configured ignore
// patterns. Patterns are regular expressions searched anywhere in the path.
package filter

import (
	"dirwatch/internal/watcher"
	"errors"
	"fmt"
	"regexp"
)

var ErrInvalidPattern = errors.New("invalid ignore pattern")

type Filter struct {
	patterns []string
	compiled []*regexp.Regexp
}

// New compiles patterns in order and fails on the first bad one.
func New(patterns []string) (*Filter, error) {
	f := &Filter{
		patterns: make([]string, 0, len(patterns)),
		compiled: make([]*regexp.Regexp, 0, len(patterns)),
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, p, err)
		}
		f.patterns = append(f.patterns, p)
		f.compiled = append(f.compiled, re)
	}
	return f, nil
}

func (f *Filter) IsIgnored(path string) bool {
	if f == nil {
		return false
	}
	for _, re := range f.compiled {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// IsEventIgnored hides a rename only when both names are ignored.
func (f *Filter) IsEventIgnored(ev watcher.MutationEvent) bool {
	if ev.Kind == watcher.Renamed {
		return f.IsIgnored(ev.PreviousPath) && f.IsIgnored(ev.Path)
	}
	return f.IsIgnored(ev.Path)
}

func (f *Filter) Patterns() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.patterns...)
}

func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.compiled)
}
