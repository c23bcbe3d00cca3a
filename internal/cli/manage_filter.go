package cli

import (
	"strings"

	"github.com/sahilm/fuzzy"

	"thread-archiver/internal/catalog"
)

// Filtering prunes fuzzy matches the way a substring search would not:
// a match must cover most of the query and stay reasonably contiguous,
// otherwise short queries light up half the list.
const (
	filterMinCoverage = 0.5
	filterMaxSpread   = 30
	filterMaxResults  = 200
)

// filterThreadRows returns the indices of rows matching the query against
// "friendly_name url". An empty query keeps everything in order.
func filterThreadRows(rows []catalog.StatusItem, query string) []int {
	idx := make([]int, 0, len(rows))
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		for i := range rows {
			idx = append(idx, i)
		}
		return idx
	}

	base := make([]string, len(rows))
	for i, row := range rows {
		base[i] = strings.ToLower(strings.TrimSpace(row.FriendlyName + " " + row.URL))
	}

	// Substring hits first; they are what the operator usually means.
	for i, s := range base {
		if strings.Contains(s, q) {
			idx = append(idx, i)
			if len(idx) >= filterMaxResults {
				return idx
			}
		}
	}
	if len(idx) > 0 {
		return idx
	}

	matches := fuzzy.Find(q, base)
	for _, mt := range matches {
		if matchCoverage(q, mt) < filterMinCoverage {
			continue
		}
		if matchSpread(mt) > filterMaxSpread {
			continue
		}
		idx = append(idx, mt.Index)
		if len(idx) >= filterMaxResults {
			break
		}
	}
	return idx
}

func matchCoverage(query string, mt fuzzy.Match) float64 {
	if len(query) == 0 {
		return 0
	}
	return float64(len(mt.MatchedIndexes)) / float64(len(query))
}

func matchSpread(mt fuzzy.Match) int {
	if len(mt.MatchedIndexes) == 0 {
		return 0
	}
	return mt.MatchedIndexes[len(mt.MatchedIndexes)-1] - mt.MatchedIndexes[0]
}
