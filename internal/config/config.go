// Package config loads engine configuration from a YAML file merged over
// built-in defaults, an optional .env file and BRANDKEEPER_* environment
// variables, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/brandkeeper/internal/model"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BRANDKEEPER_"

const defaultConfigYAML = `# brandkeeper configuration
log:
  format: text
  level: info

memory:
  bloat_threshold: 500
  high_importance_cutoff: 0.7
  similarity_threshold: 0
  lock_wait: 5s

knowledge:
  sources: []
  watch_debounce: 500ms
  cache_ttl: 5m

reasoning:
  max_attempts: 2
  adapt_on_failure: true
  stale_after: 24h

validation:
  threshold: 0.7
  llm_review: false
  weights: {}

completer:
  provider: ""
  model: ""
  timeout: 30s
  max_retries: 2
  backoff: 500ms
  rate_per_second: 2
  burst: 1

scheduler:
  consolidate_every: 0s
`

// Config is the full engine configuration.
type Config struct {
	DBPath     string           `yaml:"db_path"`
	Log        LogConfig        `yaml:"log"`
	Memory     MemoryConfig     `yaml:"memory"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`
	Reasoning  ReasoningConfig  `yaml:"reasoning"`
	Validation ValidationConfig `yaml:"validation"`
	Completer  CompleterConfig  `yaml:"completer"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
}

type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// MemoryConfig tunes the memory store.
type MemoryConfig struct {
	// BloatThreshold is the per-type entry count above which a write
	// triggers consolidation. 0 disables automatic consolidation.
	BloatThreshold int `yaml:"bloat_threshold"`
	// HighImportanceCutoff protects entries at or above it from merging.
	HighImportanceCutoff float64 `yaml:"high_importance_cutoff"`
	// SimilarityThreshold splits tag groups by content similarity. 0 disables.
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	LockWait            time.Duration `yaml:"lock_wait"`
}

type KnowledgeConfig struct {
	Sources       []string      `yaml:"sources"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

type ReasoningConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	AdaptOnFailure bool          `yaml:"adapt_on_failure"`
	StaleAfter     time.Duration `yaml:"stale_after"`
}

type ValidationConfig struct {
	Threshold float64                          `yaml:"threshold"`
	LLMReview bool                             `yaml:"llm_review"`
	Weights   map[model.ValidationType]float64 `yaml:"weights"`
}

// CompleterConfig selects and bounds the text-completion provider.
// Provider is "anthropic", "openai" or empty for none.
type CompleterConfig struct {
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	Backoff       time.Duration `yaml:"backoff"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
}

type SchedulerConfig struct {
	ConsolidateEvery time.Duration `yaml:"consolidate_every"`
}

// Default returns the built-in configuration.
func Default() Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultConfigYAML), &cfg); err != nil {
		panic(fmt.Sprintf("config: built-in defaults: %v", err))
	}
	cfg.DBPath = DefaultDBPath()
	return cfg
}

// DefaultDBPath returns ~/.brandkeeper/brandkeeper.db.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "brandkeeper.db"
	}
	return filepath.Join(home, ".brandkeeper", "brandkeeper.db")
}

// Load reads path (optional; a missing file is not an error), then the .env
// file in the working directory, then the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	// .env never overrides variables already set in the process.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges.
func (c Config) Validate() error {
	unit := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("config: %s must be in [0,1], got %v", name, v)
		}
		return nil
	}
	if err := unit("memory.high_importance_cutoff", c.Memory.HighImportanceCutoff); err != nil {
		return err
	}
	if err := unit("memory.similarity_threshold", c.Memory.SimilarityThreshold); err != nil {
		return err
	}
	if err := unit("validation.threshold", c.Validation.Threshold); err != nil {
		return err
	}
	for t, w := range c.Validation.Weights {
		if !validType(t) {
			return fmt.Errorf("config: unknown validation weight %q", t)
		}
		if w < 0 {
			return fmt.Errorf("config: weight %s must not be negative", t)
		}
	}
	if c.Reasoning.MaxAttempts < 1 {
		return fmt.Errorf("config: reasoning.max_attempts must be at least 1")
	}
	switch c.Completer.Provider {
	case "", "anthropic", "openai":
	default:
		return fmt.Errorf("config: unknown completer provider %q", c.Completer.Provider)
	}
	return nil
}

func validType(t model.ValidationType) bool {
	for _, v := range model.ValidationTypes {
		if v == t {
			return true
		}
	}
	return false
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	var firstErr error
	note := func(key string, err error) {
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("env %s%s: %w", EnvPrefix, key, err)
		}
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *float64) {
		if v, ok := lookup(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(v, 64)
			note(key, err)
			if err == nil {
				*dst = f
			}
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			note(key, err)
			if err == nil {
				*dst = n
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			note(key, err)
			if err == nil {
				*dst = b
			}
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			note(key, err)
			if err == nil {
				*dst = d
			}
		}
	}

	str("DB", &cfg.DBPath)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("LOG_LEVEL", &cfg.Log.Level)
	integer("BLOAT_THRESHOLD", &cfg.Memory.BloatThreshold)
	num("HIGH_IMPORTANCE_CUTOFF", &cfg.Memory.HighImportanceCutoff)
	num("SIMILARITY_THRESHOLD", &cfg.Memory.SimilarityThreshold)
	dur("LOCK_WAIT", &cfg.Memory.LockWait)
	if v, ok := lookup(EnvPrefix + "KNOWLEDGE_SOURCES"); ok {
		cfg.Knowledge.Sources = splitList(v)
	}
	integer("MAX_ATTEMPTS", &cfg.Reasoning.MaxAttempts)
	boolean("ADAPT_ON_FAILURE", &cfg.Reasoning.AdaptOnFailure)
	num("THRESHOLD", &cfg.Validation.Threshold)
	boolean("LLM_REVIEW", &cfg.Validation.LLMReview)
	str("COMPLETER", &cfg.Completer.Provider)
	str("COMPLETER_MODEL", &cfg.Completer.Model)
	dur("COMPLETER_TIMEOUT", &cfg.Completer.Timeout)
	integer("COMPLETER_RETRIES", &cfg.Completer.MaxRetries)
	num("COMPLETER_RATE", &cfg.Completer.RatePerSecond)
	dur("CONSOLIDATE_EVERY", &cfg.Scheduler.ConsolidateEvery)

	return firstErr
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, string(os.PathListSeparator)) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
