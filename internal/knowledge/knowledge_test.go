package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/logging"
	"github.com/rcliao/brandkeeper/internal/model"
	"github.com/rcliao/brandkeeper/internal/store"
)

func newTestBase(t *testing.T, sources ...string) *Base {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "knowledge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, Options{Sources: sources, Debounce: 20 * time.Millisecond, Logger: logging.Discard()})
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func seedSources(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "brand-foundation/voice.md", `---
title: Brand Voice
tags: [voice, Tone]
dependencies: [personas_core.md]
---
# Voice

Methodical experimenter. Practical educator.
`)
	writeFile(t, root, "personas/core.md", "# Core Personas\n\nStrategic Sofia, Adaptive Alex, Curious Casey.\n")
	writeFile(t, root, "rules/prohibited.yaml", "title: Prohibited phrases\nprohibited_language:\n  hype_language: ['game.?changer']\n")
	writeFile(t, root, "examples/old-post.md", "---\nstatus: archived\n---\nAn old voice example.\n")
	writeFile(t, root, "bad.yaml", "- just\n- a list\n")
	writeFile(t, root, "broken.md", "---\ntitle: [unclosed\n---\nbody\n")
	writeFile(t, root, ".hidden/secret.md", "hidden")
	writeFile(t, root, "image.png", "png")
	return root
}

func TestLoadIndexesAndReportsSkipped(t *testing.T) {
	ctx := context.Background()
	root := seedSources(t)
	b := newTestBase(t, root)

	report, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Added)
	assert.Len(t, report.Skipped, 2)

	voice, err := b.GetVersion(ctx, "brand-foundation_voice.md", 0)
	require.NoError(t, err)
	assert.Equal(t, "Brand Voice", voice.Title)
	assert.Equal(t, model.KnowledgeBrandFoundation, voice.Type)
	assert.Equal(t, []string{"voice", "tone"}, voice.Tags)
	assert.Equal(t, []model.Dependency{{ID: "personas_core.md"}}, voice.Dependencies)
	assert.NotContains(t, voice.Content, "title:")
	assert.Len(t, voice.Checksum, 16)

	core, err := b.GetVersion(ctx, "personas_core.md", 0)
	require.NoError(t, err)
	assert.Equal(t, "Core Personas", core.Title)
	assert.Equal(t, model.KnowledgePersonas, core.Type)

	rules, err := b.GetVersion(ctx, "rules_prohibited.yaml", 0)
	require.NoError(t, err)
	assert.Equal(t, model.KnowledgeRules, rules.Type)
	assert.Contains(t, rules.Content, "hype_language")

	old, err := b.GetVersion(ctx, "examples_old-post.md", 0)
	require.NoError(t, err)
	assert.Equal(t, model.StatusArchived, old.Status)
	assert.Equal(t, "Old Post", old.Title)

	_, err = b.GetVersion(ctx, ".hidden_secret.md", 0)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestLoadMissingRootIsReported(t *testing.T) {
	b := newTestBase(t)
	report, err := b.Load(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Len(t, report.Skipped, 1)
}

func TestVersionsIncreaseAcrossLoadsAndRollbacks(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	path := writeFile(t, root, "templates/post.md", "# Post\n\n## Hook\n")
	b := newTestBase(t, root)
	id := "templates_post.md"

	_, err := b.Load(ctx)
	require.NoError(t, err)

	report, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unchanged)
	assert.Empty(t, report.Changed)

	require.NoError(t, os.WriteFile(path, []byte("# Post\n\n## Hook\n## Story\n"), 0o644))
	report, err = b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)

	lastVersion, lastHistory := 0, 0
	check := func() {
		item, err := b.GetVersion(ctx, id, 0)
		require.NoError(t, err)
		assert.Greater(t, item.Version, lastVersion)
		assert.GreaterOrEqual(t, len(item.History), lastHistory)
		lastVersion, lastHistory = item.Version, len(item.History)
	}
	check()

	rolled, err := b.Rollback(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, rolled.Version)
	assert.NotContains(t, rolled.Content, "Story")
	check()

	v2, err := b.GetVersion(ctx, id, 2)
	require.NoError(t, err)
	assert.Contains(t, v2.Content, "Story", "history is not rewritten")

	// the source has not changed since it was indexed, so the rollback stays
	report, err = b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unchanged)
	assert.Zero(t, report.Updated)
	head, err := b.GetVersion(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, head.Version)
	assert.NotContains(t, head.Content, "Story")
	conflicts, err := b.ValidateConsistency(ctx)
	require.NoError(t, err)
	assert.Empty(t, conflicts, "a rollback is not source drift")

	require.NoError(t, os.WriteFile(path, []byte("# Post\n\n## Hook\n## Close\n"), 0o644))
	report, err = b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	check()
	assert.Equal(t, 4, lastVersion)

	_, err = b.Rollback(ctx, id, lastVersion)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = b.Rollback(ctx, "missing.md", 1)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGetVersionNotFound(t *testing.T) {
	ctx := context.Background()
	b := newTestBase(t, seedSources(t))
	_, err := b.Load(ctx)
	require.NoError(t, err)

	_, err = b.GetVersion(ctx, "personas_core.md", 9)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = b.GetVersion(ctx, "nope", 0)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = b.History(ctx, "nope")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSearchRanking(t *testing.T) {
	ctx := context.Background()
	b := newTestBase(t, seedSources(t))
	_, err := b.Load(ctx)
	require.NoError(t, err)

	results, err := b.Search(ctx, Query{Text: "voice"})
	require.NoError(t, err)
	require.Len(t, results, 1, "archived example is skipped")
	assert.Equal(t, "brand-foundation_voice.md", results[0].Item.ID)
	assert.Equal(t, 6.0, results[0].Score, "title 3 + tag 2 + content 1")

	results, err = b.Search(ctx, Query{Text: "voice", IncludeArchived: true})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "examples_old-post.md", results[1].Item.ID)

	results, err = b.Search(ctx, Query{Tags: []string{"TONE"}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	results, err = b.Search(ctx, Query{Type: model.KnowledgePersonas})
	require.NoError(t, err)
	require.Len(t, results, 1)

	_, err = b.Search(ctx, Query{Type: "poems"})
	assert.ErrorIs(t, err, errs.ErrInvalidType)
}

func TestSearchTiesPreferRecentVersion(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, root, "a.md", "pricing note")
	path := writeFile(t, root, "b.md", "pricing note")
	b := newTestBase(t, root)
	_, err := b.Load(ctx)
	require.NoError(t, err)

	results, err := b.Search(ctx, Query{Text: "pricing"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("pricing note v2"), 0o644))
	_, err = b.Load(ctx)
	require.NoError(t, err)

	results, err = b.Search(ctx, Query{Text: "pricing"})
	require.NoError(t, err)
	assert.Equal(t, "b.md", results[0].Item.ID, "cached result invalidated by the load")
}

func TestValidateConsistency(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, root, "a.md", "---\ndependencies: [b.md, ghost.md]\n---\nA")
	writeFile(t, root, "b.md", "---\ndependencies: [a.md]\n---\nB")
	writeFile(t, root, "c.md", "---\ndependencies: [a.md@1, b.md@5]\n---\nC")
	drift := writeFile(t, root, "d.md", "D")
	b := newTestBase(t, root)
	_, err := b.Load(ctx)
	require.NoError(t, err)

	// bump a.md to version 2 so c's pin is stale
	writeFile(t, root, "a.md", "---\ndependencies: [b.md, ghost.md]\n---\nalpha revision")
	_, err = b.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(drift, []byte("D changed"), 0o644))

	conflicts, err := b.ValidateConsistency(ctx)
	assert.ErrorIs(t, err, errs.ErrConsistencyConflict)

	kinds := map[ConflictKind]int{}
	for _, c := range conflicts {
		kinds[c.Kind]++
	}
	assert.Equal(t, 1, kinds[ConflictMissingDependency])
	assert.Equal(t, 1, kinds[ConflictMissingVersion])
	assert.Equal(t, 1, kinds[ConflictStaleDependency])
	assert.Equal(t, 1, kinds[ConflictCircular])
	assert.Equal(t, 1, kinds[ConflictSourceDrift])

	// still serving
	results, err := b.Search(ctx, Query{Text: "revision"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestValidateConsistencyClean(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, root, "a.md", "A")
	b := newTestBase(t, root)
	_, err := b.Load(ctx)
	require.NoError(t, err)

	conflicts, err := b.ValidateConsistency(ctx)
	assert.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestRecordUsageAndRecommend(t *testing.T) {
	ctx := context.Background()
	b := newTestBase(t, seedSources(t))
	_, err := b.Load(ctx)
	require.NoError(t, err)

	recs, err := b.Recommend(ctx, []string{"voice"}, 3)
	require.NoError(t, err)
	require.Len(t, recs, 1, "falls back to tag search without usage")
	assert.Equal(t, "brand-foundation_voice.md", recs[0].Item.ID)

	_, err = b.RecordUsage(ctx, "personas_core.md", UsageContext{Tags: []string{"newsletter"}, Effectiveness: 0.6})
	require.NoError(t, err)
	_, err = b.RecordUsage(ctx, "brand-foundation_voice.md", UsageContext{Tags: []string{"blog"}, Effectiveness: 0.5})
	require.NoError(t, err)
	_, err = b.RecordUsage(ctx, "brand-foundation_voice.md", UsageContext{Tags: []string{"newsletter"}, Effectiveness: 0.7})
	require.NoError(t, err)

	recs, err = b.Recommend(ctx, []string{"newsletter"}, 5)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	// personas: 0.6 * (1 + 1/1) = 1.2; voice: 0.6 * (1 + 1/2) = 0.9
	assert.Equal(t, "personas_core.md", recs[0].Item.ID)
	assert.InDelta(t, 1.2, recs[0].Score, 1e-9)
	assert.InDelta(t, 0.9, recs[1].Score, 1e-9)
	assert.Equal(t, 2, recs[1].Uses)

	_, err = b.RecordUsage(ctx, "nope", UsageContext{Effectiveness: 0.5})
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = b.RecordUsage(ctx, "personas_core.md", UsageContext{Effectiveness: 1.5})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", "A")
	b := newTestBase(t, root)
	_, err := b.Load(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reports := make(chan *LoadReport, 4)
	done := make(chan error, 1)
	go func() {
		done <- b.Watch(ctx, func(r *LoadReport, err error) {
			if err == nil {
				reports <- r
			}
		})
	}()

	// give the watcher a moment to register
	time.Sleep(100 * time.Millisecond)
	writeFile(t, root, "b.md", "B")

	select {
	case r := <-reports:
		assert.Contains(t, r.Changed, "b.md")
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestTypeFromPath(t *testing.T) {
	cases := map[string]model.KnowledgeType{
		"brand/foundation.md":           model.KnowledgeBrandFoundation,
		"brand/personas-overview.md":    model.KnowledgePersonas,
		"examples/post.md":              model.KnowledgeExamples,
		"templates/newsletter.md":       model.KnowledgeTemplates,
		"validation_rules/voice.yaml":   model.KnowledgeRules,
		"user_preferences.md":           model.KnowledgePreferences,
		"notes/meeting.txt":             model.KnowledgeContextual,
		"brand-foundation/nested/x.md":  model.KnowledgeBrandFoundation,
	}
	for path, want := range cases {
		assert.Equal(t, want, typeFromPath(path), path)
	}
}
