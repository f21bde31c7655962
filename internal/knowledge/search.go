package knowledge

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/rcliao/brandkeeper/internal/embedding"
	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/metrics"
	"github.com/rcliao/brandkeeper/internal/model"
)

// DefaultSearchLimit caps results when Query.Limit is 0.
const DefaultSearchLimit = 20

// Query filters and ranks knowledge items.
type Query struct {
	Text            string              `json:"text,omitempty"`
	Tags            []string            `json:"tags,omitempty"`
	Type            model.KnowledgeType `json:"type,omitempty"`
	IncludeArchived bool                `json:"include_archived,omitempty"`
	Limit           int                 `json:"limit,omitempty"`
}

// SearchResult is an item with its relevance score.
type SearchResult struct {
	Item  model.KnowledgeItem `json:"item"`
	Score float64             `json:"score"`
}

// Search ranks the latest version of each item by text relevance: per query
// term, +3 for a title match, +2 for a tag match and +1 for a content match.
// Ties go to the most recently versioned item, then to the lower id.
func (b *Base) Search(ctx context.Context, q Query) (_ []SearchResult, err error) {
	defer func(start time.Time) { metrics.Observe(component, "search", start, err) }(time.Now())

	if q.Type != "" && !model.ValidKnowledgeTypes[q.Type] {
		return nil, errs.E(errs.KindInvalidType, "search", "unknown knowledge type %q", q.Type)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultSearchLimit
	}
	q.Tags = cleanTags(q.Tags)

	key := b.cacheKey(q)
	if cached, ok := b.results.Get(key); ok {
		return append([]SearchResult(nil), cached.([]SearchResult)...), nil
	}

	items, err := b.store.ListKnowledge(ctx)
	if err != nil {
		return nil, err
	}
	terms := embedding.Terms(q.Text)

	var results []SearchResult
	for _, it := range items {
		if it.Status == model.StatusArchived && !q.IncludeArchived {
			continue
		}
		if q.Type != "" && it.Type != q.Type {
			continue
		}
		tagHits := 0
		for _, t := range q.Tags {
			if hasTag(it.Tags, t) {
				tagHits++
			}
		}
		if len(q.Tags) > 0 && tagHits == 0 {
			continue
		}

		score := 2 * float64(tagHits)
		if len(terms) > 0 {
			text := termScore(it, terms)
			if text == 0 {
				continue
			}
			score += text
		}
		results = append(results, SearchResult{Item: it, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, c := results[i], results[j]
		if a.Score != c.Score {
			return a.Score > c.Score
		}
		if !a.Item.UpdatedAt.Equal(c.Item.UpdatedAt) {
			return a.Item.UpdatedAt.After(c.Item.UpdatedAt)
		}
		return a.Item.ID < c.Item.ID
	})
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}

	b.results.Set(key, results, cache.DefaultExpiration)
	return append([]SearchResult(nil), results...), nil
}

func termScore(it model.KnowledgeItem, terms []string) float64 {
	title := strings.ToLower(it.Title)
	content := strings.ToLower(it.Content)
	score := 0.0
	for _, t := range terms {
		if strings.Contains(title, t) {
			score += 3
		}
		if hasTag(it.Tags, t) {
			score += 2
		}
		if strings.Contains(content, t) {
			score++
		}
	}
	return score
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func (b *Base) cacheKey(q Query) string {
	raw, _ := json.Marshal(q)
	return strconv.FormatUint(b.Generation(), 10) + "|" + string(raw)
}
