package knowledge

import (
	"context"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/metrics"
	"github.com/rcliao/brandkeeper/internal/model"
)

// ConflictKind classifies a consistency problem.
type ConflictKind string

const (
	ConflictMissingDependency ConflictKind = "missing_dependency"
	ConflictMissingVersion    ConflictKind = "missing_version"
	ConflictStaleDependency   ConflictKind = "stale_dependency"
	ConflictCircular          ConflictKind = "circular_dependency"
	ConflictSourceDrift       ConflictKind = "source_drift"
)

// Conflict is one problem found by ValidateConsistency.
type Conflict struct {
	Kind       ConflictKind `json:"kind"`
	ItemID     string       `json:"item_id"`
	Dependency string       `json:"dependency,omitempty"`
	Detail     string       `json:"detail"`
}

// ValidateConsistency checks every item's dependencies and backing source.
// When conflicts exist it returns them together with a ConsistencyConflict
// error; the base keeps serving the indexed versions either way.
func (b *Base) ValidateConsistency(ctx context.Context) (_ []Conflict, err error) {
	defer func(start time.Time) { metrics.Observe(component, "validate_consistency", start, err) }(time.Now())

	items, err := b.store.ListKnowledge(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.KnowledgeItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	var conflicts []Conflict
	for _, it := range items {
		for _, dep := range it.Dependencies {
			target, ok := byID[dep.ID]
			switch {
			case !ok:
				conflicts = append(conflicts, Conflict{Kind: ConflictMissingDependency, ItemID: it.ID,
					Dependency: dep.String(), Detail: it.ID + " depends on missing " + dep.ID})
			case dep.Version > target.Version:
				conflicts = append(conflicts, Conflict{Kind: ConflictMissingVersion, ItemID: it.ID,
					Dependency: dep.String(), Detail: dep.ID + " has no version " + itoa(dep.Version)})
			case dep.Version > 0 && dep.Version < target.Version:
				conflicts = append(conflicts, Conflict{Kind: ConflictStaleDependency, ItemID: it.ID,
					Dependency: dep.String(), Detail: dep.ID + " is at version " + itoa(target.Version)})
			case target.Status == model.StatusArchived || target.Status == model.StatusDeprecated:
				conflicts = append(conflicts, Conflict{Kind: ConflictStaleDependency, ItemID: it.ID,
					Dependency: dep.String(), Detail: dep.ID + " is " + string(target.Status)})
			}
		}

		if it.Source != "" {
			raw, err := os.ReadFile(it.Source)
			switch {
			case err != nil:
				conflicts = append(conflicts, Conflict{Kind: ConflictSourceDrift, ItemID: it.ID,
					Detail: "source unreadable: " + err.Error()})
			case Checksum(raw) != indexedChecksum(&it):
				conflicts = append(conflicts, Conflict{Kind: ConflictSourceDrift, ItemID: it.ID,
					Detail: "source changed since version " + itoa(it.Version)})
			}
		}
	}

	for _, cycle := range findCycles(items, byID) {
		conflicts = append(conflicts, Conflict{Kind: ConflictCircular, ItemID: cycle[0],
			Detail: "cycle " + strings.Join(cycle, " -> ")})
	}

	if len(conflicts) == 0 {
		return nil, nil
	}
	b.logger.Warn("knowledge consistency conflicts", "count", len(conflicts))
	return conflicts, errs.E(errs.KindConsistencyConflict, "validate_consistency",
		"%d knowledge conflicts", len(conflicts))
}

// findCycles returns each dependency cycle once, starting at its smallest id
// and closed with that id again.
func findCycles(items []model.KnowledgeItem, byID map[string]model.KnowledgeItem) [][]string {
	const (
		white = iota
		grey
		black
	)
	color := map[string]int{}
	seen := map[string]bool{}
	var cycles [][]string
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range byID[id].Dependencies {
			if _, ok := byID[dep.ID]; !ok {
				continue
			}
			switch color[dep.ID] {
			case white:
				visit(dep.ID)
			case grey:
				start := 0
				for i, s := range stack {
					if s == dep.ID {
						start = i
					}
				}
				cycle := rotate(stack[start:])
				key := strings.Join(cycle, "\x00")
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, append(cycle, cycle[0]))
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

func rotate(cycle []string) []string {
	min := 0
	for i := range cycle {
		if cycle[i] < cycle[min] {
			min = i
		}
	}
	out := make([]string, 0, len(cycle)+1)
	out = append(out, cycle[min:]...)
	out = append(out, cycle[:min]...)
	return out
}
