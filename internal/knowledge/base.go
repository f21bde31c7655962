// Package knowledge is the versioned knowledge base: reference documents
// loaded from source directories, searched, checked for broken dependencies
// and rolled back by writing new versions.
package knowledge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/metrics"
	"github.com/rcliao/brandkeeper/internal/model"
	"github.com/rcliao/brandkeeper/internal/store"
)

const component = "knowledge"

// Options configures a Base.
type Options struct {
	// Sources are the root directories Load scans when called without any.
	Sources  []string
	CacheTTL time.Duration
	// Debounce is how long Watch waits after the last change before reloading.
	Debounce time.Duration
	Logger   *slog.Logger
}

// Base is the knowledge base.
type Base struct {
	store   store.Store
	opts    Options
	logger  *slog.Logger
	results *cache.Cache

	// generation increments on every indexed change; it keys cached searches
	// and lets dependents such as validation rule sets notice updates.
	generation atomic.Uint64

	itemMu sync.Mutex
	items  map[string]*sync.Mutex
}

// New returns a knowledge base over st.
func New(st store.Store, opts Options) *Base {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Base{
		store:   st,
		opts:    opts,
		logger:  opts.Logger,
		results: cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		items:   make(map[string]*sync.Mutex),
	}
}

// Generation returns a counter that changes whenever indexed content changes.
func (b *Base) Generation() uint64 {
	return b.generation.Load()
}

func (b *Base) changed() {
	b.generation.Add(1)
	b.results.Flush()
}

// lockItem serializes writes to one item id.
func (b *Base) lockItem(id string) func() {
	b.itemMu.Lock()
	mu, ok := b.items[id]
	if !ok {
		mu = &sync.Mutex{}
		b.items[id] = mu
	}
	b.itemMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// GetVersion returns version of id with its history, or the latest version
// when version is 0.
func (b *Base) GetVersion(ctx context.Context, id string, version int) (_ *model.KnowledgeItem, err error) {
	defer func(start time.Time) { metrics.Observe(component, "get", start, err) }(time.Now())

	if version < 0 {
		return nil, errs.E(errs.KindInvalidInput, "get_version", "version %d is negative", version)
	}
	item, err := b.store.GetKnowledge(ctx, id, version)
	if err != nil {
		return nil, notFound("get_version", err)
	}
	hist, err := b.store.KnowledgeHistory(ctx, id)
	if err != nil {
		return nil, notFound("get_version", err)
	}
	item.History = hist
	return item, nil
}

// History returns every version of id, oldest first.
func (b *Base) History(ctx context.Context, id string) ([]model.KnowledgeVersion, error) {
	hist, err := b.store.KnowledgeHistory(ctx, id)
	if err != nil {
		return nil, notFound("history", err)
	}
	return hist, nil
}

// List returns the latest version of every item.
func (b *Base) List(ctx context.Context) ([]model.KnowledgeItem, error) {
	return b.store.ListKnowledge(ctx)
}

// ByType returns the latest, non-archived items of type t ordered by id.
func (b *Base) ByType(ctx context.Context, t model.KnowledgeType) ([]model.KnowledgeItem, error) {
	items, err := b.store.ListKnowledge(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.KnowledgeItem
	for _, it := range items {
		if it.Type == t && it.Status != model.StatusArchived {
			out = append(out, it)
		}
	}
	return out, nil
}

// Rollback re-activates version of id by writing it again as a new version.
// History is never rewritten.
func (b *Base) Rollback(ctx context.Context, id string, version int) (_ *model.KnowledgeItem, err error) {
	defer func(start time.Time) { metrics.Observe(component, "rollback", start, err) }(time.Now())

	unlock := b.lockItem(id)
	defer unlock()

	head, err := b.store.GetKnowledge(ctx, id, 0)
	if err != nil {
		return nil, notFound("rollback", err)
	}
	if version <= 0 || version >= head.Version {
		return nil, errs.E(errs.KindInvalidInput, "rollback",
			"%s: can only roll back to a version before %d, got %d", id, head.Version, version)
	}
	target, err := b.store.GetKnowledge(ctx, id, version)
	if err != nil {
		return nil, notFound("rollback", err)
	}

	item, err := b.store.PutKnowledge(ctx, store.PutKnowledgeParams{
		ID:           id,
		Type:         head.Type,
		Source:       head.Source,
		Title:        target.Title,
		Content:      target.Content,
		Tags:         target.Tags,
		Status:       model.StatusActive,
		Dependencies: target.Dependencies,
		Checksum:     target.Checksum,
		Note:         "rollback to version " + itoa(version),
	})
	if err != nil {
		return nil, err
	}
	b.changed()
	b.logger.Info("knowledge rolled back", "id", id, "to", version, "version", item.Version)
	return item, nil
}

func notFound(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return &errs.Error{Kind: errs.KindNotFound, Op: op, Msg: err.Error()}
	}
	return err
}
