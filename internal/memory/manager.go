// Package memory is the access-controlled memory store. Every operation is
// checked against the Policy before storage is touched, and writes to one
// memory type are serialized.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rcliao/brandkeeper/internal/embedding"
	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/logging"
	"github.com/rcliao/brandkeeper/internal/metrics"
	"github.com/rcliao/brandkeeper/internal/model"
	"github.com/rcliao/brandkeeper/internal/session"
	"github.com/rcliao/brandkeeper/internal/store"
)

const component = "memory"

// Options configures a Manager.
type Options struct {
	// BloatThreshold triggers consolidation when a type holds more entries.
	// 0 disables.
	BloatThreshold       int
	HighImportanceCutoff float64
	// SimilarityThreshold splits tag groups by content similarity. 0 disables.
	SimilarityThreshold float64
	// LockWait bounds how long a writer waits for its memory type.
	LockWait time.Duration
	Embedder embedding.Embedder
	Logger   *slog.Logger
}

// Manager is the memory store.
type Manager struct {
	store  store.Store
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	policy *Policy

	locks map[model.MemoryType]*semaphore.Weighted
}

// New opens a manager over st. A store with no access rules is seeded with
// DefaultRules.
func New(ctx context.Context, st store.Store, opts Options) (*Manager, error) {
	if opts.HighImportanceCutoff == 0 {
		opts.HighImportanceCutoff = 0.7
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 5 * time.Second
	}
	if opts.Embedder == nil {
		opts.Embedder = embedding.NewTermEmbedder(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	rules, err := st.LoadAccessRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load access rules: %w", err)
	}
	if len(rules) == 0 {
		rules = DefaultRules()
		if err := st.SaveAccessRules(ctx, rules); err != nil {
			return nil, fmt.Errorf("seed access rules: %w", err)
		}
	}

	m := &Manager{
		store:  st,
		opts:   opts,
		logger: opts.Logger,
		policy: NewPolicy(rules),
		locks:  make(map[model.MemoryType]*semaphore.Weighted, len(model.MemoryTypes)),
	}
	for _, mt := range model.MemoryTypes {
		m.locks[mt] = semaphore.NewWeighted(1)
	}
	return m, nil
}

// Policy returns the current access policy.
func (m *Manager) Policy() *Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

// StoreRequest is the input to Store. Kind defaults to note.
type StoreRequest struct {
	Type       model.MemoryType `json:"memory_type"`
	Kind       model.RecordKind `json:"kind,omitempty"`
	Content    string           `json:"content"`
	Tags       []string         `json:"tags,omitempty"`
	Importance float64          `json:"importance"`
}

// Store appends an entry. When the type then holds more than BloatThreshold
// entries it is consolidated as the system role, leaving the new entry out of
// that pass so the returned id stays valid; a failed automatic consolidation
// is logged and does not fail the write.
func (m *Manager) Store(ctx context.Context, sc session.Context, req StoreRequest) (_ *model.MemoryEntry, err error) {
	defer func(start time.Time) { metrics.Observe(component, "store", start, err) }(time.Now())

	if !model.ValidMemoryTypes[req.Type] {
		return nil, errs.E(errs.KindInvalidType, "store", "unknown memory type %q", req.Type)
	}
	if req.Kind == "" {
		req.Kind = model.KindNote
	}
	if !model.ValidRecordKinds[req.Kind] {
		return nil, errs.E(errs.KindInvalidType, "store", "unknown record kind %q", req.Kind)
	}
	if err := m.Policy().Check(sc, req.Type, model.OpWrite); err != nil {
		return nil, err
	}
	if isBlank(req.Content) {
		return nil, errs.E(errs.KindInvalidInput, "store", "content is empty")
	}
	if math.IsNaN(req.Importance) || req.Importance < 0 || req.Importance > 1 {
		return nil, errs.E(errs.KindInvalidInput, "store", "importance %v outside [0,1]", req.Importance)
	}

	release, err := m.lock(ctx, req.Type)
	if err != nil {
		return nil, err
	}
	defer release()

	e := &model.MemoryEntry{
		Type:       req.Type,
		Kind:       req.Kind,
		OwnerRole:  sc.Role,
		Content:    req.Content,
		Tags:       normalizeTags(req.Tags),
		Importance: req.Importance,
	}
	if err := m.store.InsertMemory(ctx, e); err != nil {
		return nil, fmt.Errorf("store memory: %w", err)
	}

	log := logging.With(m.logger, sc)
	log.Debug("memory stored", "id", e.ID, "memory_type", e.Type, "kind", e.Kind)

	if m.opts.BloatThreshold > 0 {
		n, err := m.store.CountMemories(ctx, req.Type)
		if err != nil {
			log.Warn("count memories", "memory_type", req.Type, "error", err)
		} else if n > m.opts.BloatThreshold {
			sum, err := m.consolidateLocked(ctx, sc.AsSystem(), req.Type, e.ID)
			if err != nil {
				log.Warn("automatic consolidation failed", "memory_type", req.Type, "error", err)
			} else {
				log.Info("automatic consolidation", "memory_type", req.Type,
					"count", n, "merged", sum.Merged, "created", len(sum.Created))
			}
		}
	}
	return e, nil
}

// Query filters and ranks Retrieve results. Zero values mean no filter.
type Query struct {
	Text          string             `json:"text,omitempty"`
	Tags          []string           `json:"tags,omitempty"`
	Types         []model.MemoryType `json:"memory_types,omitempty"`
	MinImportance float64            `json:"min_importance,omitempty"`
	Since         *time.Time         `json:"since,omitempty"`
	Until         *time.Time         `json:"until,omitempty"`
	Limit         int                `json:"limit,omitempty"`
}

// Retrieve returns matching entries, most relevant first, and records the
// access time on each.
func (m *Manager) Retrieve(ctx context.Context, sc session.Context, q Query) (_ []model.MemoryEntry, err error) {
	defer func(start time.Time) { metrics.Observe(component, "retrieve", start, err) }(time.Now())

	policy := m.Policy()
	types := q.Types
	if len(types) == 0 {
		types = policy.Readable(sc.Role)
		if len(types) == 0 {
			return nil, errs.E(errs.KindAccessDenied, "retrieve", "role %q may not read any memory", sc.Role)
		}
	}
	for _, mt := range types {
		if !model.ValidMemoryTypes[mt] {
			return nil, errs.E(errs.KindInvalidType, "retrieve", "unknown memory type %q", mt)
		}
		if err := policy.Check(sc, mt, model.OpRead); err != nil {
			return nil, err
		}
	}
	if q.MinImportance < 0 || q.MinImportance > 1 {
		return nil, errs.E(errs.KindInvalidInput, "retrieve", "min importance %v outside [0,1]", q.MinImportance)
	}

	entries, err := m.store.ListMemories(ctx, store.ListParams{
		Types:         types,
		MinImportance: q.MinImportance,
		Since:         q.Since,
		Until:         q.Until,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	ranked := rank(entries, q)
	if q.Limit > 0 && len(ranked) > q.Limit {
		ranked = ranked[:q.Limit]
	}
	if len(ranked) == 0 {
		return ranked, nil
	}

	now := time.Now().UTC()
	ids := make([]string, len(ranked))
	for i := range ranked {
		ids[i] = ranked[i].ID
		ranked[i].LastAccessedAt = &now
	}
	if err := m.store.TouchMemories(ctx, ids, now); err != nil {
		logging.With(m.logger, sc).Warn("touch memories", "error", err)
	}
	return ranked, nil
}

// Stats returns store statistics.
func (m *Manager) Stats(ctx context.Context) (*store.Stats, error) {
	return m.store.Stats(ctx)
}

// lock acquires the writer slot for mt, waiting at most LockWait.
func (m *Manager) lock(ctx context.Context, mt model.MemoryType) (func(), error) {
	sem := m.locks[mt]
	wctx, cancel := context.WithTimeout(ctx, m.opts.LockWait)
	defer cancel()
	if err := sem.Acquire(wctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%s memory busy after %s: %w", mt, m.opts.LockWait, err)
		}
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

// lockAll acquires every type in stable order.
func (m *Manager) lockAll(ctx context.Context) (func(), error) {
	var held []func()
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}
	for _, mt := range model.MemoryTypes {
		rel, err := m.lock(ctx, mt)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, rel)
	}
	return release, nil
}
