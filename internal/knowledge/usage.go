package knowledge

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/metrics"
	"github.com/rcliao/brandkeeper/internal/model"
)

// UsageContext describes where an item was used and how well it worked.
type UsageContext struct {
	PlanID        string   `json:"plan_id,omitempty"`
	ContentType   string   `json:"content_type,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Effectiveness float64  `json:"effectiveness"`
}

// RecordUsage appends a usage signal for id. It takes no item lock, so it
// never waits on a load or a search.
func (b *Base) RecordUsage(ctx context.Context, id string, uc UsageContext) (_ *model.KnowledgeUsage, err error) {
	defer func(start time.Time) { metrics.Observe(component, "record_usage", start, err) }(time.Now())

	if math.IsNaN(uc.Effectiveness) || uc.Effectiveness < 0 || uc.Effectiveness > 1 {
		return nil, errs.E(errs.KindInvalidInput, "record_usage", "effectiveness %v outside [0,1]", uc.Effectiveness)
	}
	if _, err := b.store.GetKnowledge(ctx, id, 0); err != nil {
		return nil, notFound("record_usage", err)
	}
	u := &model.KnowledgeUsage{
		ItemID:        id,
		PlanID:        uc.PlanID,
		ContentType:   uc.ContentType,
		Tags:          cleanTags(uc.Tags),
		Effectiveness: uc.Effectiveness,
	}
	if err := b.store.InsertUsage(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Usage returns the recorded usage of id, or of every item when id is empty.
func (b *Base) Usage(ctx context.Context, id string) ([]model.KnowledgeUsage, error) {
	return b.store.ListUsage(ctx, id)
}

// Recommendation is an item suggested for a context.
type Recommendation struct {
	Item          model.KnowledgeItem `json:"item"`
	Score         float64             `json:"score"`
	Uses          int                 `json:"uses"`
	Effectiveness float64             `json:"effectiveness"`
}

// Recommend ranks used items by mean effectiveness times one plus the Jaccard
// similarity between contextTags and the tags the item was used under. With no
// recorded usage it falls back to a tag search.
func (b *Base) Recommend(ctx context.Context, contextTags []string, limit int) ([]Recommendation, error) {
	if limit <= 0 {
		limit = 5
	}
	contextTags = cleanTags(contextTags)

	usage, err := b.store.ListUsage(ctx, "")
	if err != nil {
		return nil, err
	}

	type agg struct {
		sum  float64
		n    int
		tags map[string]bool
	}
	byItem := map[string]*agg{}
	for _, u := range usage {
		a, ok := byItem[u.ItemID]
		if !ok {
			a = &agg{tags: map[string]bool{}}
			byItem[u.ItemID] = a
		}
		a.sum += u.Effectiveness
		a.n++
		for _, t := range u.Tags {
			a.tags[t] = true
		}
	}

	if len(byItem) == 0 {
		results, err := b.Search(ctx, Query{Tags: contextTags, Limit: limit})
		if err != nil {
			return nil, err
		}
		out := make([]Recommendation, len(results))
		for i, r := range results {
			out[i] = Recommendation{Item: r.Item, Score: r.Score}
		}
		return out, nil
	}

	var out []Recommendation
	for id, a := range byItem {
		item, err := b.store.GetKnowledge(ctx, id, 0)
		if err != nil || item.Status == model.StatusArchived {
			continue
		}
		mean := a.sum / float64(a.n)
		out = append(out, Recommendation{
			Item:          *item,
			Score:         mean * (1 + jaccard(contextTags, a.tags)),
			Uses:          a.n,
			Effectiveness: mean,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Item.ID < out[j].Item.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func jaccard(a []string, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	union := len(b)
	for _, t := range a {
		if b[t] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}
