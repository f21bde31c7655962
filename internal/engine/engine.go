// Package engine wires the store and the four subsystems together from one
// configuration and runs the background jobs of a long-lived process.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/brandkeeper/internal/config"
	"github.com/rcliao/brandkeeper/internal/knowledge"
	"github.com/rcliao/brandkeeper/internal/llm"
	"github.com/rcliao/brandkeeper/internal/memory"
	"github.com/rcliao/brandkeeper/internal/reasoning"
	"github.com/rcliao/brandkeeper/internal/session"
	"github.com/rcliao/brandkeeper/internal/store"
	"github.com/rcliao/brandkeeper/internal/validation"
)

// Engine holds every subsystem over one open store.
type Engine struct {
	Config     config.Config
	Store      *store.SQLiteStore
	Memory     *memory.Manager
	Knowledge  *knowledge.Base
	Validation *validation.Engine
	Reasoning  *reasoning.Engine
	// Completer is nil when no provider is configured.
	Completer llm.Completer

	logger *slog.Logger
}

// Open opens the database at cfg.DBPath and builds the subsystems.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	completer, err := llm.New(cfg.Completer, logger)
	if err != nil {
		return nil, err
	}

	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	mem, err := memory.New(ctx, st, memory.Options{
		BloatThreshold:       cfg.Memory.BloatThreshold,
		HighImportanceCutoff: cfg.Memory.HighImportanceCutoff,
		SimilarityThreshold:  cfg.Memory.SimilarityThreshold,
		LockWait:             cfg.Memory.LockWait,
		Logger:               logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	kb := knowledge.New(st, knowledge.Options{
		Sources:  cfg.Knowledge.Sources,
		CacheTTL: cfg.Knowledge.CacheTTL,
		Debounce: cfg.Knowledge.WatchDebounce,
		Logger:   logger,
	})
	val := validation.New(mem, kb, validation.Options{
		Threshold:     cfg.Validation.Threshold,
		Weights:       cfg.Validation.Weights,
		LLMReview:     cfg.Validation.LLMReview && completer != nil,
		Completer:     completer,
		ReviewTimeout: cfg.Completer.Timeout,
		Logger:        logger,
	})
	rsn := reasoning.New(mem, kb, val, reasoning.Options{
		MaxAttempts:      cfg.Reasoning.MaxAttempts,
		AdaptOnFailure:   cfg.Reasoning.AdaptOnFailure,
		StaleAfter:       cfg.Reasoning.StaleAfter,
		Completer:        completer,
		CompleterTimeout: cfg.Completer.Timeout,
		Logger:           logger,
	})

	return &Engine{
		Config:     cfg,
		Store:      st,
		Memory:     mem,
		Knowledge:  kb,
		Validation: val,
		Reasoning:  rsn,
		Completer:  completer,
		logger:     logger,
	}, nil
}

// Close closes the store.
func (e *Engine) Close() error {
	return e.Store.Close()
}

// Consolidate runs one consolidation pass over every memory type as the
// system role.
func (e *Engine) Consolidate(ctx context.Context) ([]memory.ConsolidationSummary, error) {
	sums, err := e.Memory.ConsolidateAll(ctx, session.System())
	if err != nil {
		return sums, err
	}
	merged := 0
	for _, s := range sums {
		merged += s.Merged
	}
	e.logger.Info("consolidation pass", "types", len(sums), "merged", merged)
	return sums, nil
}

// ServeOptions configures Serve.
type ServeOptions struct {
	// MetricsAddr, when set, exposes Prometheus metrics at /metrics.
	MetricsAddr string
}

// Serve runs until ctx is done: the consolidation schedule, the knowledge
// watcher when sources are configured and the metrics endpoint when asked.
// Sources are loaded once before watching starts.
func (e *Engine) Serve(ctx context.Context, opts ServeOptions) error {
	sched, err := e.schedule(ctx)
	if err != nil {
		return err
	}
	if sched != nil {
		defer func() {
			if err := sched.Shutdown(); err != nil {
				e.logger.Warn("scheduler shutdown", "error", err)
			}
		}()
	}

	g, ctx := errgroup.WithContext(ctx)

	if len(e.Config.Knowledge.Sources) > 0 {
		report, err := e.Knowledge.Load(ctx)
		if err != nil {
			return fmt.Errorf("load knowledge: %w", err)
		}
		e.onKnowledgeChange(report, nil)
		g.Go(func() error {
			return e.Knowledge.Watch(ctx, e.onKnowledgeChange)
		})
	}

	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: opts.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			e.logger.Info("serving metrics", "addr", opts.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdown)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

// schedule starts the consolidation job. It returns nil when no interval is
// configured.
func (e *Engine) schedule(ctx context.Context) (gocron.Scheduler, error) {
	every := e.Config.Scheduler.ConsolidateEvery
	if every <= 0 {
		return nil, nil
	}
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			if _, err := e.Consolidate(ctx); err != nil {
				e.logger.Warn("scheduled consolidation failed", "error", err)
			}
		}),
		gocron.WithName("consolidate"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		s.Shutdown()
		return nil, fmt.Errorf("schedule consolidation: %w", err)
	}
	s.Start()
	e.logger.Info("consolidation scheduled", "every", every)
	return s, nil
}

// onKnowledgeChange drops cached rule sets after a reload so the next
// validation reads the new rules.
func (e *Engine) onKnowledgeChange(report *knowledge.LoadReport, err error) {
	if err != nil || report == nil {
		return
	}
	e.Validation.InvalidateRules()
	e.logger.Info("knowledge reloaded", "added", report.Added, "updated", report.Updated, "skipped", len(report.Skipped))
}
