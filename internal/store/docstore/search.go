package docstore

import (
	"sort"
	"strings"
)

// SearchText performs a bounded, ranked substring search over field(doc)
// for every document that passes filter. Ranking is the number of query
// tokens matched, ties broken by shortest field text (closer match first).
// At most limit results are returned.
func SearchText[T any](docs []T, field func(T) string, query string, filter func(T) bool, limit int) []T {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	tokens := strings.Fields(query)

	type scored struct {
		doc   T
		score int
		length int
	}
	var matches []scored
	for _, d := range docs {
		if filter != nil && !filter(d) {
			continue
		}
		text := strings.ToLower(field(d))
		score := 0
		for _, tok := range tokens {
			if strings.Contains(text, tok) {
				score++
			}
		}
		if score == 0 {
			continue
		}
		matches = append(matches, scored{doc: d, score: score, length: len(text)})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].length < matches[j].length
	})

	if limit <= 0 || limit > len(matches) {
		limit = len(matches)
	}
	out := make([]T, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, matches[i].doc)
	}
	return out
}
