package memory

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/logging"
	"github.com/rcliao/brandkeeper/internal/model"
	"github.com/rcliao/brandkeeper/internal/session"
	"github.com/rcliao/brandkeeper/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestManager(t *testing.T, opts Options) (*Manager, *store.SQLiteStore) {
	t.Helper()
	st := newTestStore(t)
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	m, err := New(context.Background(), st, opts)
	require.NoError(t, err)
	return m, st
}

func author() session.Context { return session.New(model.RoleBrandAuthor) }

func TestPolicyMatrixGatesEveryOperation(t *testing.T) {
	ctx := context.Background()
	roles := []model.Role{
		model.RoleBrandAuthor, model.RoleWriter, model.RoleEditor,
		model.RoleResearcher, model.RoleSystem, "intern",
	}

	for _, role := range roles {
		for _, mt := range model.MemoryTypes {
			t.Run(string(role)+"/"+string(mt), func(t *testing.T) {
				m, st := newTestManager(t, Options{})
				policy := m.Policy()
				sc := session.New(role)

				// seed one low-importance pair so consolidation has work to do
				for i := 0; i < 2; i++ {
					_, err := m.Store(ctx, session.System(), StoreRequest{Type: mt, Content: "seed", Tags: []string{"x"}, Importance: 0.1})
					require.NoError(t, err)
				}
				before, _ := st.ExportMemories(ctx)

				_, err := m.Store(ctx, sc, StoreRequest{Type: mt, Content: "note", Importance: 0.5})
				if policy.Allows(role, mt, model.OpWrite) {
					assert.NoError(t, err)
				} else {
					assert.ErrorIs(t, err, errs.ErrAccessDenied)
					after, _ := st.ExportMemories(ctx)
					assert.Equal(t, before, after, "denied write changed state")
				}

				before, _ = st.ExportMemories(ctx)
				_, err = m.Retrieve(ctx, sc, Query{Types: []model.MemoryType{mt}})
				if policy.Allows(role, mt, model.OpRead) {
					assert.NoError(t, err)
				} else {
					assert.ErrorIs(t, err, errs.ErrAccessDenied)
					after, _ := st.ExportMemories(ctx)
					assert.Equal(t, before, after, "denied read touched entries")
				}

				before, _ = st.ExportMemories(ctx)
				_, err = m.Consolidate(ctx, sc, mt)
				if policy.Allows(role, mt, model.OpConsolidate) {
					assert.NoError(t, err)
				} else {
					assert.ErrorIs(t, err, errs.ErrAccessDenied)
					after, _ := st.ExportMemories(ctx)
					assert.Equal(t, before, after, "denied consolidate changed state")
				}
			})
		}
	}
}

func TestDefaultMatrix(t *testing.T) {
	p := NewPolicy(DefaultRules())
	assert.True(t, p.Allows(model.RoleWriter, model.Procedural, model.OpWrite))
	assert.False(t, p.Allows(model.RoleWriter, model.Brand, model.OpWrite))
	assert.True(t, p.Allows(model.RoleWriter, model.Brand, model.OpRead))
	assert.False(t, p.Allows(model.RoleEditor, model.Procedural, model.OpWrite))
	assert.False(t, p.Allows(model.RoleResearcher, model.Semantic, model.OpWrite))
	assert.True(t, p.Allows(model.RoleBrandAuthor, model.Brand, model.OpConsolidate))
	assert.Empty(t, p.Readable("intern"))
	assert.Len(t, p.Rules(), 20)
}

func TestStoreRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, Options{})

	_, err := m.Store(ctx, author(), StoreRequest{Type: "dream", Content: "x"})
	assert.ErrorIs(t, err, errs.ErrInvalidType)

	_, err = m.Store(ctx, author(), StoreRequest{Type: model.Semantic, Kind: "gossip", Content: "x"})
	assert.ErrorIs(t, err, errs.ErrInvalidType)

	_, err = m.Store(ctx, author(), StoreRequest{Type: model.Semantic, Content: "  "})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = m.Store(ctx, author(), StoreRequest{Type: model.Semantic, Content: "x", Importance: 1.2})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestRetrieveWithoutAnyReadableTypeIsDenied(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	_, err := m.Retrieve(context.Background(), session.New("intern"), Query{})
	assert.ErrorIs(t, err, errs.ErrAccessDenied)
}

func TestRetrieveOrdering(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, Options{})
	sc := author()

	put := func(content string, importance float64, tags ...string) *model.MemoryEntry {
		e, err := m.Store(ctx, sc, StoreRequest{Type: model.Semantic, Content: content, Tags: tags, Importance: importance})
		require.NoError(t, err)
		return e
	}
	low := put("pricing page outline", 0.2, "draft")
	both := put("pricing newsletter draft", 0.3, "draft", "pricing")
	textOnly := put("notes about pricing tiers", 0.9)
	put("unrelated grocery list", 1.0)
	tie := put("pricing page outline", 0.2, "draft")

	got, err := m.Retrieve(ctx, sc, Query{Text: "pricing", Tags: []string{"draft", "pricing"}})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, both.ID, got[0].ID, "two tag matches first")
	// low and tie differ only in insertion order; created_at may tie
	assert.ElementsMatch(t, []string{low.ID, tie.ID}, []string{got[1].ID, got[2].ID})
	assert.Equal(t, textOnly.ID, got[3].ID)
	for _, e := range got {
		assert.NotNil(t, e.LastAccessedAt)
	}

	got, err = m.Retrieve(ctx, sc, Query{MinImportance: 0.85})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].Importance)

	got, err = m.Retrieve(ctx, sc, Query{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRankTieBreaksBySeq(t *testing.T) {
	at := time.Now()
	entries := []model.MemoryEntry{
		{ID: "b", Seq: 2, Importance: 0.5, CreatedAt: at},
		{ID: "a", Seq: 1, Importance: 0.5, CreatedAt: at},
		{ID: "c", Seq: 3, Importance: 0.5, CreatedAt: at.Add(time.Second)},
	}
	got := rank(entries, Query{})
	assert.Equal(t, []string{"c", "a", "b"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestConsolidateMergesLowImportanceDrafts(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t, Options{})
	sc := author()

	a, _ := m.Store(ctx, sc, StoreRequest{Type: model.Episodic, Content: "first draft", Tags: []string{"draft"}, Importance: 0.1})
	b, _ := m.Store(ctx, sc, StoreRequest{Type: model.Episodic, Content: "second draft", Tags: []string{"draft"}, Importance: 0.1})
	keep, _ := m.Store(ctx, sc, StoreRequest{Type: model.Episodic, Content: "final draft", Tags: []string{"draft"}, Importance: 0.9})

	sum, err := m.Consolidate(ctx, sc, model.Episodic)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Merged)
	require.Len(t, sum.Created, 1)

	all, _ := st.ExportMemories(ctx)
	require.Len(t, all, 2)

	var merged, kept model.MemoryEntry
	for _, e := range all {
		if e.ID == keep.ID {
			kept = e
		} else {
			merged = e
		}
	}
	assert.Equal(t, *keep, kept, "high-importance entry untouched")
	assert.Equal(t, model.KindConsolidated, merged.Kind)
	assert.Equal(t, 0.1, merged.Importance)
	assert.Equal(t, []string{"draft"}, merged.Tags)
	assert.Equal(t, []string{a.ID, b.ID}, merged.MergedFrom)
	assert.Equal(t, "first draft"+mergeSeparator+"second draft", merged.Content)
}

func TestConsolidateIsIdempotent(t *testing.T) {
	for _, threshold := range []float64{0, 0.5} {
		ctx := context.Background()
		m, st := newTestManager(t, Options{SimilarityThreshold: threshold})
		sc := author()

		contents := []string{
			"pricing page hero copy", "pricing page hero headline",
			"onboarding email subject", "onboarding email subject line",
			"quarterly tax filing",
		}
		for i, c := range contents {
			tags := []string{"draft"}
			if i%2 == 0 {
				tags = append(tags, "Web")
			}
			_, err := m.Store(ctx, sc, StoreRequest{Type: model.Semantic, Content: c, Tags: tags, Importance: 0.2})
			require.NoError(t, err)
		}

		_, err := m.Consolidate(ctx, sc, model.Semantic)
		require.NoError(t, err)
		once, _ := st.ExportMemories(ctx)

		sum, err := m.Consolidate(ctx, sc, model.Semantic)
		require.NoError(t, err)
		twice, _ := st.ExportMemories(ctx)

		assert.Zero(t, sum.Merged, "threshold %v", threshold)
		assert.Equal(t, once, twice, "threshold %v", threshold)
	}
}

func TestConsolidateSimilaritySplitsGroups(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t, Options{SimilarityThreshold: 0.6})
	sc := author()

	for _, c := range []string{"pricing page hero copy", "pricing page hero copy variant", "tax filing reminder"} {
		_, err := m.Store(ctx, sc, StoreRequest{Type: model.Semantic, Content: c, Tags: []string{"draft"}, Importance: 0.2})
		require.NoError(t, err)
	}
	sum, err := m.Consolidate(ctx, sc, model.Semantic)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Merged)

	all, _ := st.ExportMemories(ctx)
	assert.Len(t, all, 2)
}

type failingReplaceStore struct {
	store.Store
}

func (failingReplaceStore) ReplaceMemories(context.Context, []string, []model.MemoryEntry) ([]model.MemoryEntry, error) {
	return nil, errors.New("disk full")
}

func TestConsolidationFailureKeepsEntries(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	m, err := New(ctx, failingReplaceStore{st}, Options{Logger: logging.Discard()})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := m.Store(ctx, author(), StoreRequest{Type: model.Episodic, Content: "x", Tags: []string{"t"}, Importance: 0.1})
		require.NoError(t, err)
	}
	before, _ := st.ExportMemories(ctx)

	_, err = m.Consolidate(ctx, author(), model.Episodic)
	assert.ErrorIs(t, err, errs.ErrConsolidationFailure)

	after, _ := st.ExportMemories(ctx)
	assert.Equal(t, before, after)
}

func TestStoreTriggersConsolidationAboveThreshold(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t, Options{BloatThreshold: 3})
	sc := session.New(model.RoleWriter)

	var last *model.MemoryEntry
	for i := 0; i < 4; i++ {
		e, err := m.Store(ctx, sc, StoreRequest{Type: model.Episodic, Content: "log line", Tags: []string{"log"}, Importance: 0.1})
		require.NoError(t, err)
		last = e
	}
	n, _ := st.CountMemories(ctx, model.Episodic)
	assert.Equal(t, 2, n, "three merged entries plus the write that triggered the pass")

	all, _ := st.ExportMemories(ctx)
	var ids []string
	var merged *model.MemoryEntry
	for i := range all {
		ids = append(ids, all[i].ID)
		if all[i].Kind == model.KindConsolidated {
			merged = &all[i]
		}
	}
	assert.Contains(t, ids, last.ID, "the returned entry survives")
	require.NotNil(t, merged)
	assert.Equal(t, model.RoleSystem, merged.OwnerRole)
	assert.Len(t, merged.MergedFrom, 3)
	assert.NotContains(t, merged.MergedFrom, last.ID)
}

func TestStoreFailedAutoConsolidationDoesNotFailWrite(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	m, err := New(ctx, failingReplaceStore{st}, Options{BloatThreshold: 1, Logger: logging.Discard()})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := m.Store(ctx, author(), StoreRequest{Type: model.Episodic, Content: "x", Tags: []string{"t"}, Importance: 0.1})
		require.NoError(t, err)
	}
	n, _ := st.CountMemories(ctx, model.Episodic)
	assert.Equal(t, 3, n)
}

func TestConcurrentWritersAreSerialized(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Store(ctx, author(), StoreRequest{Type: model.Brand, Content: "voice note", Importance: 0.5})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, _ := st.CountMemories(ctx, model.Brand)
	assert.Equal(t, 20, n)
}

func TestLockWaitIsBounded(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, Options{LockWait: 20 * time.Millisecond})

	release, err := m.lock(ctx, model.Semantic)
	require.NoError(t, err)
	defer release()

	_, err = m.Store(ctx, author(), StoreRequest{Type: model.Semantic, Content: "blocked", Importance: 0.5})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
