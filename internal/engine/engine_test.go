package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/brandkeeper/internal/config"
	"github.com/rcliao/brandkeeper/internal/logging"
	"github.com/rcliao/brandkeeper/internal/memory"
	"github.com/rcliao/brandkeeper/internal/model"
	"github.com/rcliao/brandkeeper/internal/session"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "engine.db")
	return cfg
}

func open(t *testing.T, cfg config.Config) *Engine {
	t.Helper()
	e, err := Open(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func seedDuplicates(t *testing.T, e *Engine, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := e.Memory.Store(context.Background(), session.System(), memory.StoreRequest{
			Type: model.Semantic, Content: "Short sentences read better", Tags: []string{"style"}, Importance: 0.2,
		})
		require.NoError(t, err)
	}
}

func semanticCount(e *Engine) int {
	st, err := e.Memory.Stats(context.Background())
	if err != nil {
		return -1
	}
	return st.MemoriesByType[string(model.Semantic)]
}

func TestOpenBuildsEverySubsystem(t *testing.T) {
	cfg := testConfig(t)
	cfg.Validation.Threshold = 0.8
	e := open(t, cfg)

	assert.NotNil(t, e.Memory)
	assert.NotNil(t, e.Knowledge)
	assert.NotNil(t, e.Reasoning)
	assert.Nil(t, e.Completer, "no provider configured")
	assert.Equal(t, 0.8, e.Validation.Threshold())

	p, err := e.Reasoning.CreatePlan(context.Background(), session.New(model.RoleEditor), model.TemplateCreation, model.TaskContext{Topic: "onboarding"})
	require.NoError(t, err)
	assert.Len(t, p.Steps, 4)
	assert.Equal(t, 0.8, p.Steps[3].Threshold)
}

func TestOpenRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Completer.Provider = "carrier-pigeon"
	_, err := Open(context.Background(), cfg, logging.Discard())
	assert.Error(t, err)
}

func TestConsolidate(t *testing.T) {
	e := open(t, testConfig(t))
	seedDuplicates(t, e, 3)

	sums, err := e.Consolidate(context.Background())
	require.NoError(t, err)
	assert.Len(t, sums, len(model.MemoryTypes))
	assert.Equal(t, 1, semanticCount(e))

	_, err = e.Consolidate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, semanticCount(e), "a second pass changes nothing")
}

func TestServeRunsScheduledConsolidation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.ConsolidateEvery = 20 * time.Millisecond
	e := open(t, cfg)
	seedDuplicates(t, e, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx, ServeOptions{}) }()

	assert.Eventually(t, func() bool { return semanticCount(e) == 1 }, 5*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestServeLoadsAndWatchesKnowledge(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "voice.md"), []byte("# Voice\nPlain and direct.\n"), 0o644))
	cfg := testConfig(t)
	cfg.Knowledge.Sources = []string{root}
	cfg.Knowledge.WatchDebounce = 20 * time.Millisecond
	e := open(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx, ServeOptions{}) }()

	count := func() int {
		items, err := e.Knowledge.List(context.Background())
		if err != nil {
			return -1
		}
		return len(items)
	}
	assert.Eventually(t, func() bool { return count() == 1 }, 5*time.Second, 20*time.Millisecond)

	// keep writing until the watcher is up and picks the file up
	tone := filepath.Join(root, "tone.md")
	assert.Eventually(t, func() bool {
		if err := os.WriteFile(tone, []byte("# Tone\nWarm, never cute.\n"), 0o644); err != nil {
			return false
		}
		return count() == 2
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
