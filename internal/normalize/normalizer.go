// Package normalize canonicalizes free-text categories, units and fuel names before matching.
package normalize

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/factorflow/internal/model"
	"golang.org/x/text/unicode/norm"
)

// Config holds the synonym table used by a Normalizer.
// Keys and values are cleaned when the Normalizer is built, so callers may use any casing.
type Config struct {
	Synonyms map[string]string
}

// DefaultConfig returns the built-in unit and fuel synonym table.
func DefaultConfig() Config {
	return Config{
		Synonyms: map[string]string{
			// Volume
			"l":            "liters",
			"lt":           "liters",
			"ltr":          "liters",
			"litre":        "liters",
			"litres":       "liters",
			"liter":        "liters",
			"m³":           "m3",
			"cubic meter":  "m3",
			"cubic meters": "m3",
			"cubic metre":  "m3",
			"cubic metres": "m3",
			"gallon":       "gallons",
			"gal":          "gallons",

			// Mass
			"ton":        "t",
			"tons":       "t",
			"tonne":      "t",
			"tonnes":     "t",
			"metric ton": "t",
			"kilogram":   "kg",
			"kilograms":  "kg",
			"kgs":        "kg",

			// Energy
			"kilowatt hour":  "kwh",
			"kilowatt hours": "kwh",
			"kilowatt-hour":  "kwh",
			"kilowatt-hours": "kwh",
			"kw h":           "kwh",
			"megawatt hour":  "mwh",
			"megawatt hours": "mwh",
			"gigajoule":      "gj",
			"gigajoules":     "gj",

			// Distance
			"kilometer":  "km",
			"kilometers": "km",
			"kilometre":  "km",
			"kilometres": "km",
			"mile":       "miles",
			"mi":         "miles",

			// Fuels
			"petrol":         "gasoline",
			"gas (petrol)":   "gasoline",
			"motor gasoline": "gasoline",
			"diesel oil":     "diesel",
			"gasoil":         "diesel",
			"gas oil":        "diesel",
			"lpg":            "liquefied petroleum gas",
			"cng":            "compressed natural gas",
			"lng":            "liquefied natural gas",
		},
	}
}

// Normalizer lowercases, trims and collapses text, then applies a synonym table.
// It holds no mutable state after construction and is safe for concurrent use.
type Normalizer struct {
	synonyms map[string]string
}

// New builds a Normalizer from cfg. Synonym chains are resolved to their final
// canonical value so that normalizing twice never changes the result.
func New(cfg Config) *Normalizer {
	cleaned := make(map[string]string, len(cfg.Synonyms))
	for key, value := range cfg.Synonyms {
		k := clean(key)
		v := clean(value)
		if k == "" || v == "" || k == v {
			continue
		}
		cleaned[k] = v
	}

	resolved := make(map[string]string, len(cleaned))
	for key := range cleaned {
		resolved[key] = resolveChain(cleaned, key)
	}

	// A canonical value that is itself a key would make the table non-idempotent.
	for key, value := range resolved {
		if _, ok := resolved[value]; ok {
			slog.Warn("Dropping synonym whose canonical form is also a synonym",
				"synonym", key,
				"canonical", value)
			delete(resolved, key)
		}
	}

	return &Normalizer{synonyms: resolved}
}

// Default returns a Normalizer using DefaultConfig.
func Default() *Normalizer {
	return New(DefaultConfig())
}

// Normalize canonicalizes text. Empty input yields an empty string.
func (n *Normalizer) Normalize(text string) string {
	cleaned := clean(text)
	if cleaned == "" {
		return ""
	}
	if canonical, ok := n.synonyms[cleaned]; ok {
		return canonical
	}
	return cleaned
}

// NormalizePath normalizes every level of a category path, dropping empty levels.
func (n *Normalizer) NormalizePath(levels []string) []string {
	out := make([]string, 0, len(levels))
	for _, level := range levels {
		if normalized := n.Normalize(level); normalized != "" {
			out = append(out, normalized)
		}
	}
	return out
}

// Synonyms returns the number of synonyms in the resolved table.
func (n *Normalizer) Synonyms() int {
	return len(n.synonyms)
}

// ScopeToken renders a scope as a single search token such as "scope2".
// Unknown scopes render as the empty string.
func ScopeToken(s model.Scope) string {
	if !s.Valid() {
		return ""
	}
	return fmt.Sprintf("scope%d", int(s))
}

// clean applies compatibility folding, lowercasing and whitespace collapsing.
func clean(text string) string {
	if text == "" {
		return ""
	}
	folded := norm.NFKC.String(text)
	folded = strings.ToLower(folded)
	folded = norm.NFKC.String(folded)
	return strings.Join(strings.Fields(folded), " ")
}

// resolveChain follows synonym links from key until reaching a value that is not
// itself a key. Cycles stop at the last value seen before repeating.
func resolveChain(table map[string]string, key string) string {
	seen := map[string]bool{key: true}
	current := table[key]
	for {
		next, ok := table[current]
		if !ok || seen[current] {
			return current
		}
		seen[current] = true
		current = next
	}
}
