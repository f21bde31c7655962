package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rcliao/brandkeeper/internal/embedding"
	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/logging"
	"github.com/rcliao/brandkeeper/internal/metrics"
	"github.com/rcliao/brandkeeper/internal/model"
	"github.com/rcliao/brandkeeper/internal/session"
	"github.com/rcliao/brandkeeper/internal/store"
)

// mergeSeparator joins member contents in a consolidated entry.
const mergeSeparator = "\n---\n"

// ConsolidationSummary describes one consolidation pass.
type ConsolidationSummary struct {
	MemoryType model.MemoryType `json:"memory_type"`
	Examined   int              `json:"examined"`
	Candidates int              `json:"candidates"`
	Merged     int              `json:"merged"`
	Created    []string         `json:"created"`
}

// Consolidate merges low-importance entries of mt that share a tag set, and
// when a similarity threshold is configured, similar content. Entries at or
// above the high-importance cutoff are never touched. Running it again with no
// intervening writes changes nothing.
func (m *Manager) Consolidate(ctx context.Context, sc session.Context, mt model.MemoryType) (_ *ConsolidationSummary, err error) {
	defer func(start time.Time) { metrics.Observe(component, "consolidate", start, err) }(time.Now())

	if !model.ValidMemoryTypes[mt] {
		return nil, errs.E(errs.KindInvalidType, "consolidate", "unknown memory type %q", mt)
	}
	if err := m.Policy().Check(sc, mt, model.OpConsolidate); err != nil {
		return nil, err
	}

	release, err := m.lock(ctx, mt)
	if err != nil {
		return nil, errs.Wrap(errs.KindConsolidationFailure, "consolidate", err)
	}
	defer release()

	return m.consolidateLocked(ctx, sc, mt)
}

// ConsolidateAll consolidates every type the caller may consolidate.
func (m *Manager) ConsolidateAll(ctx context.Context, sc session.Context) ([]ConsolidationSummary, error) {
	var out []ConsolidationSummary
	for _, mt := range model.MemoryTypes {
		if !m.Policy().Allows(sc.Role, mt, model.OpConsolidate) {
			continue
		}
		sum, err := m.Consolidate(ctx, sc, mt)
		if err != nil {
			return out, err
		}
		out = append(out, *sum)
	}
	return out, nil
}

// cluster is a set of entries merged together, seeded by its first member.
type cluster struct {
	seed         embedding.Vector
	members      []model.MemoryEntry
	consolidated bool
}

// consolidateLocked runs one pass over a snapshot of mt, leaving the entries
// in keep alone. The caller holds the type's write lock. Nothing is written
// until the plan of merges is complete, and the swap happens in a single store
// transaction.
func (m *Manager) consolidateLocked(ctx context.Context, sc session.Context, mt model.MemoryType, keep ...string) (*ConsolidationSummary, error) {
	fail := func(err error) (*ConsolidationSummary, error) {
		return nil, errs.Wrap(errs.KindConsolidationFailure, "consolidate", err)
	}

	entries, err := m.store.ListMemories(ctx, store.ListParams{Types: []model.MemoryType{mt}})
	if err != nil {
		return fail(err)
	}
	sum := &ConsolidationSummary{MemoryType: mt, Examined: len(entries), Created: []string{}}

	// Group candidates by normalized tag set, groups in order of first member.
	var order []string
	groups := map[string][]model.MemoryEntry{}
	for _, e := range entries {
		if e.Importance >= m.opts.HighImportanceCutoff || slices.Contains(keep, e.ID) {
			continue
		}
		sum.Candidates++
		key := tagKey(e.Tags)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], e)
	}

	var remove []string
	var add []model.MemoryEntry
	for _, key := range order {
		clusters, err := m.clusterGroup(ctx, groups[key])
		if err != nil {
			return fail(err)
		}
		for _, c := range clusters {
			if len(c.members) < 2 {
				continue
			}
			merged := mergeCluster(c.members, mt, sc.Role)
			add = append(add, merged)
			for _, e := range c.members {
				remove = append(remove, e.ID)
			}
		}
	}

	if len(add) == 0 {
		return sum, nil
	}

	created, err := m.store.ReplaceMemories(ctx, remove, add)
	if err != nil {
		return fail(err)
	}
	sum.Merged = len(remove)
	for _, e := range created {
		sum.Created = append(sum.Created, e.ID)
	}
	metrics.ConsolidatedEntries.WithLabelValues(string(mt)).Add(float64(len(remove)))
	logging.With(m.logger, sc).Info("consolidated memory",
		"memory_type", mt, "merged", sum.Merged, "created", len(created))
	return sum, nil
}

// clusterGroup splits one tag group. Without a similarity threshold the whole
// group is one cluster. Two consolidated entries never share a cluster, which
// keeps a second pass from merging the results of the first.
func (m *Manager) clusterGroup(ctx context.Context, group []model.MemoryEntry) ([]*cluster, error) {
	var clusters []*cluster
	threshold := m.opts.SimilarityThreshold

	for _, e := range group {
		isMerged := e.Kind == model.KindConsolidated

		var vec embedding.Vector
		if threshold > 0 {
			v, err := m.opts.Embedder.Embed(ctx, seedText(e))
			if err != nil {
				return nil, fmt.Errorf("embed %s: %w", e.ID, err)
			}
			vec = v
		}

		var target *cluster
		for _, c := range clusters {
			if isMerged && c.consolidated {
				continue
			}
			if threshold > 0 && embedding.CosineSimilarity(c.seed, vec) < threshold {
				continue
			}
			target = c
			break
		}
		if target == nil {
			target = &cluster{seed: vec}
			clusters = append(clusters, target)
		}
		target.members = append(target.members, e)
		target.consolidated = target.consolidated || isMerged
	}
	return clusters, nil
}

// mergeCluster builds the consolidated entry for members, which are in
// insertion order.
func mergeCluster(members []model.MemoryEntry, mt model.MemoryType, owner model.Role) model.MemoryEntry {
	var tags []string
	var from []string
	var parts []string
	importance := 0.0
	for _, e := range members {
		tags = append(tags, e.Tags...)
		from = append(from, e.ID)
		from = append(from, e.MergedFrom...)
		parts = append(parts, e.Content)
		if e.Importance > importance {
			importance = e.Importance
		}
	}
	return model.MemoryEntry{
		Type:       mt,
		Kind:       model.KindConsolidated,
		OwnerRole:  owner,
		Content:    strings.Join(parts, mergeSeparator),
		Tags:       normalizeTags(tags),
		Importance: importance,
		MergedFrom: from,
	}
}

// seedText is the text an entry is compared by. A consolidated entry is
// compared by its first member, the seed of the cluster it came from, so a
// later pass sees the same similarities as the pass that produced it.
func seedText(e model.MemoryEntry) string {
	if e.Kind == model.KindConsolidated {
		if i := strings.Index(e.Content, mergeSeparator); i >= 0 {
			return e.Content[:i]
		}
	}
	return e.Content
}
