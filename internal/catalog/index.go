// Package catalog builds the normalized search index that usage records are matched against.
package catalog

import (
	"log/slog"
	"strings"

	"github.com/Veraticus/factorflow/internal/model"
	"github.com/Veraticus/factorflow/internal/normalize"
)

// Entry is one reference factor prepared for searching.
type Entry struct {
	Factor        model.ReferenceFactor
	Category      string   // All normalized levels joined by spaces
	Unit          string   // Normalized unit
	Levels        []string // Normalized category levels
	SearchStrings []string // One per level, then the combined string
	Scope         model.Scope
}

// Index is an immutable, concurrency-safe set of catalog entries.
type Index struct {
	entries []Entry
	source  string
}

// Option configures index construction.
type Option func(*buildOptions)

type buildOptions struct {
	preferredSource string
}

// WithPreferredSource restricts the index to factors from one authoritative source.
// Matching is case-insensitive. An empty name disables filtering.
func WithPreferredSource(name string) Option {
	return func(o *buildOptions) {
		o.preferredSource = strings.TrimSpace(name)
	}
}

// Build normalizes every factor and constructs its search strings.
// Factors without any category text are skipped.
func Build(factors []model.ReferenceFactor, n *normalize.Normalizer, opts ...Option) *Index {
	options := buildOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	selected := filterSource(factors, options.preferredSource)

	idx := &Index{
		entries: make([]Entry, 0, len(selected)),
		source:  options.preferredSource,
	}
	for i := range selected {
		entry, ok := newEntry(selected[i], n)
		if !ok {
			slog.Debug("Skipping factor without category", "factor_id", selected[i].ID)
			continue
		}
		idx.entries = append(idx.entries, entry)
	}

	slog.Debug("Built catalog index",
		"factors", len(factors),
		"entries", len(idx.entries),
		"preferred_source", options.preferredSource)

	return idx
}

// Entries returns the indexed entries. Callers must not modify the slice.
func (idx *Index) Entries() []Entry {
	return idx.entries
}

// Len returns the number of indexed entries.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Filter returns the entries for which keep returns true.
func (idx *Index) Filter(keep func(*Entry) bool) []Entry {
	var out []Entry
	for i := range idx.entries {
		if keep(&idx.entries[i]) {
			out = append(out, idx.entries[i])
		}
	}
	return out
}

// PreferredSource returns the source filter the index was built with.
func (idx *Index) PreferredSource() string {
	return idx.source
}

// Factors returns the factors backing the index, in index order.
func (idx *Index) Factors() []model.ReferenceFactor {
	factors := make([]model.ReferenceFactor, len(idx.entries))
	for i := range idx.entries {
		factors[i] = idx.entries[i].Factor
	}
	return factors
}

func newEntry(f model.ReferenceFactor, n *normalize.Normalizer) (Entry, bool) {
	levels := n.NormalizePath(f.CategoryPath)
	if len(levels) == 0 {
		return Entry{}, false
	}

	unit := n.Normalize(f.Unit)
	scope := normalize.ScopeToken(f.Scope)

	searchStrings := make([]string, 0, len(levels)+1)
	for _, level := range levels {
		searchStrings = append(searchStrings, SearchString(level, unit, scope))
	}
	category := strings.Join(levels, " ")
	if len(levels) > 1 {
		searchStrings = append(searchStrings, SearchString(category, unit, scope))
	}

	return Entry{
		Factor:        f,
		Category:      category,
		Unit:          unit,
		Levels:        levels,
		SearchStrings: searchStrings,
		Scope:         f.Scope,
	}, true
}

// SearchString concatenates the non-empty parts of a query or entry.
func SearchString(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

func filterSource(factors []model.ReferenceFactor, source string) []model.ReferenceFactor {
	if source == "" {
		return factors
	}

	filtered := make([]model.ReferenceFactor, 0, len(factors))
	for i := range factors {
		if strings.EqualFold(strings.TrimSpace(factors[i].Source), source) {
			filtered = append(filtered, factors[i])
		}
	}

	if len(filtered) == 0 && len(factors) > 0 {
		slog.Warn("Preferred source matched no factors, using full catalog",
			"preferred_source", source,
			"factors", len(factors))
		return factors
	}

	return filtered
}
