// Package filter drops events the daemon should not analyze.
package filter

import (
	"errors"
	"strings"

	"github.com/yairfalse/vigil/types"
)

// ErrFiltered is returned by intake paths when an event is excluded.
var ErrFiltered = errors.New("event excluded by filter")

// Filter controls which events are queued for analysis.
type Filter struct {
	excludeTypes   map[string]bool
	excludeSources map[string]bool
	minSeverity    types.Severity
}

// New creates a new Filter. Type and source matches are case-insensitive;
// an empty minSeverity admits every event.
func New(excludeTypes, excludeSources []string, minSeverity string) *Filter {
	f := &Filter{
		excludeTypes:   lowerSet(excludeTypes),
		excludeSources: lowerSet(excludeSources),
	}
	if sev, ok := types.ParseSeverity(minSeverity); ok {
		f.minSeverity = sev
	}
	return f
}

func lowerSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToLower(strings.TrimSpace(v))] = true
	}
	return set
}

// Allow returns true if the event passes every filter.
func (f *Filter) Allow(e *types.Event) bool {
	if f.excludeTypes[strings.ToLower(e.Type)] {
		return false
	}
	if f.excludeSources[strings.ToLower(e.Source)] {
		return false
	}
	if f.minSeverity.Valid() && !e.Severity.AtLeast(f.minSeverity) {
		return false
	}
	return true
}

// Events returns only events that pass the filter.
func (f *Filter) Events(events []*types.Event) []*types.Event {
	if f.IsEmpty() {
		return events
	}

	filtered := make([]*types.Event, 0, len(events))
	for _, e := range events {
		if f.Allow(e) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.excludeTypes) == 0 && len(f.excludeSources) == 0 && !f.minSeverity.Valid()
}
