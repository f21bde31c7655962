package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/brandkeeper/internal/model"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 0.7, cfg.Memory.HighImportanceCutoff)
	assert.Equal(t, 0.7, cfg.Validation.Threshold)
	assert.Equal(t, 5*time.Second, cfg.Memory.LockWait)
	assert.Equal(t, 2, cfg.Reasoning.MaxAttempts)
	assert.True(t, cfg.Reasoning.AdaptOnFailure)
	assert.Equal(t, 30*time.Second, cfg.Completer.Timeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "brandkeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
memory:
  bloat_threshold: 10
validation:
  threshold: 0.8
  weights:
    prohibited_language: 2
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Memory.BloatThreshold)
	assert.Equal(t, 0.7, cfg.Memory.HighImportanceCutoff, "unset keys keep defaults")
	assert.Equal(t, 0.8, cfg.Validation.Threshold)
	assert.Equal(t, 2.0, cfg.Validation.Weights[model.ValidateProhibitedLanguage])
}

func TestLoadMissingFileIsFine(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.NoError(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BRANDKEEPER_DB", "/tmp/x.db")
	t.Setenv("BRANDKEEPER_THRESHOLD", "0.9")
	t.Setenv("BRANDKEEPER_ADAPT_ON_FAILURE", "false")
	t.Setenv("BRANDKEEPER_CONSOLIDATE_EVERY", "1h")
	t.Setenv("BRANDKEEPER_KNOWLEDGE_SOURCES", "a"+string(os.PathListSeparator)+" b ")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, 0.9, cfg.Validation.Threshold)
	assert.False(t, cfg.Reasoning.AdaptOnFailure)
	assert.Equal(t, time.Hour, cfg.Scheduler.ConsolidateEvery)
	assert.Equal(t, []string{"a", "b"}, cfg.Knowledge.Sources)
}

func TestDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BRANDKEEPER_BLOAT_THRESHOLD=42\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("BRANDKEEPER_BLOAT_THRESHOLD") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Memory.BloatThreshold)
}

func TestBadEnvValue(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BRANDKEEPER_THRESHOLD", "high")
	_, err := Load("")
	assert.ErrorContains(t, err, "BRANDKEEPER_THRESHOLD")
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Validation.Threshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Validation.Weights = map[model.ValidationType]float64{"tone": 1}
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Completer.Provider = "gemini"
	assert.Error(t, cfg.Validate())
}
