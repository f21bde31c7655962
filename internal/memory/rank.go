package memory

import (
	"sort"
	"strings"

	"github.com/rcliao/brandkeeper/internal/embedding"
	"github.com/rcliao/brandkeeper/internal/model"
)

type scored struct {
	entry     model.MemoryEntry
	tagHits   int
	textScore float64
}

// rank filters entries by the query's text and tags and orders them by tag
// matches, text score, importance, recency and finally insertion order.
// With neither text nor tags every entry is kept.
func rank(entries []model.MemoryEntry, q Query) []model.MemoryEntry {
	terms := uniqueTerms(q.Text)
	tags := normalizeTags(q.Tags)
	filtering := len(terms) > 0 || len(tags) > 0

	candidates := make([]scored, 0, len(entries))
	for _, e := range entries {
		s := scored{entry: e}
		for _, t := range tags {
			if e.HasTag(t) {
				s.tagHits++
			}
		}
		s.textScore = textScore(e, terms)
		if filtering && s.tagHits == 0 && s.textScore == 0 {
			continue
		}
		candidates = append(candidates, s)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.tagHits != b.tagHits {
			return a.tagHits > b.tagHits
		}
		if a.textScore != b.textScore {
			return a.textScore > b.textScore
		}
		if a.entry.Importance != b.entry.Importance {
			return a.entry.Importance > b.entry.Importance
		}
		if !a.entry.CreatedAt.Equal(b.entry.CreatedAt) {
			return a.entry.CreatedAt.After(b.entry.CreatedAt)
		}
		return a.entry.Seq < b.entry.Seq
	})

	out := make([]model.MemoryEntry, len(candidates))
	for i, c := range candidates {
		out[i] = c.entry
	}
	return out
}

// textScore is the fraction of query terms found in the entry's content or
// tags.
func textScore(e model.MemoryEntry, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(e.Content + " " + strings.Join(e.Tags, " "))
	hits := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func uniqueTerms(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range embedding.Terms(text) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// normalizeTags lowercases, trims, dedupes and sorts tags.
func normalizeTags(tags []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func tagKey(tags []string) string {
	return strings.Join(normalizeTags(tags), "\x00")
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
