package estimate

import "strings"

// Authoritative sources in order of preference.
var preferredSources = []string{"ghg protocol", "epa"}

// SelectBest picks the search result to estimate with. Results are ranked by region
// (europe, then global, then anything else), then by newer year, then by source
// (GHG Protocol, then EPA, then anything else). Ties keep the earlier result.
func SelectBest(results []SearchResult) (*SearchResult, bool) {
	if len(results) == 0 {
		return nil, false
	}

	best := 0
	for i := 1; i < len(results); i++ {
		if better(&results[i], &results[best]) {
			best = i
		}
	}
	return &results[best], true
}

func better(a, b *SearchResult) bool {
	if ra, rb := regionRank(a.Region), regionRank(b.Region); ra != rb {
		return ra < rb
	}
	if a.Year != b.Year {
		return a.Year > b.Year
	}
	return sourceRank(a.Source) < sourceRank(b.Source)
}

func regionRank(region string) int {
	r := strings.ToLower(region)
	switch {
	case strings.Contains(r, "europe"):
		return 0
	case strings.Contains(r, "global"):
		return 1
	default:
		return 2
	}
}

func sourceRank(source string) int {
	s := strings.ToLower(strings.TrimSpace(source))
	for i, preferred := range preferredSources {
		if strings.Contains(s, preferred) {
			return i
		}
	}
	return len(preferredSources)
}
