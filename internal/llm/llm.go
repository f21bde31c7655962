// Package llm is the narrow text-completion boundary. The governance engine
// never depends on a provider directly; it calls a Completer, normally wrapped
// in Bounded so every call is throttled, time-limited and retried a bounded
// number of times.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/rcliao/brandkeeper/internal/config"
	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/metrics"
)

// Completer turns a prompt into text. Implementations must return once
// timeout has elapsed or ctx is done.
type Completer interface {
	Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error)
}

// Func adapts a function to Completer.
type Func func(ctx context.Context, prompt string, timeout time.Duration) (string, error)

func (f Func) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	return f(ctx, prompt, timeout)
}

// BoundedOptions bounds calls made through Bounded.
type BoundedOptions struct {
	// Timeout applies to each attempt when the caller passes none.
	Timeout time.Duration
	// MaxRetries is the number of attempts after the first.
	MaxRetries int
	// Backoff is the wait before the first retry; it doubles per retry.
	Backoff time.Duration
	// RatePerSecond limits attempts; zero disables throttling.
	RatePerSecond float64
	Burst         int
	Logger        *slog.Logger
}

// Bounded wraps a Completer with throttling, per-attempt timeouts and
// bounded retries with exponential backoff.
type Bounded struct {
	inner   Completer
	opts    BoundedOptions
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewBounded wraps inner.
func NewBounded(inner Completer, opts BoundedOptions) *Bounded {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	b := &Bounded{inner: inner, opts: opts, logger: opts.Logger}
	if opts.RatePerSecond > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst)
	}
	return b
}

// Complete calls the wrapped completer at most MaxRetries+1 times. When the
// attempts run out on timeouts, or ctx's own deadline passes, the error is
// an UpstreamTimeout.
func (b *Bounded) Complete(ctx context.Context, prompt string, timeout time.Duration) (_ string, err error) {
	defer func(start time.Time) { metrics.Observe("completer", "complete", start, err) }(time.Now())

	if timeout <= 0 {
		timeout = b.opts.Timeout
	}

	var last error
	for attempt := 0; attempt <= b.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.CompleterRetries.Inc()
			wait := b.opts.Backoff << (attempt - 1)
			b.logger.Debug("retrying completion", "attempt", attempt+1, "wait", wait, "error", last)
			if err := sleep(ctx, wait); err != nil {
				return "", upstream(ctx, err)
			}
		}
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return "", upstream(ctx, err)
			}
		}

		actx, cancel := context.WithTimeout(ctx, timeout)
		out, err := b.inner.Complete(actx, prompt, timeout)
		cancel()
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", upstream(ctx, ctx.Err())
		}
		last = err
	}

	if errors.Is(last, context.DeadlineExceeded) || errs.Retryable(last) {
		return "", errs.Wrap(errs.KindUpstreamTimeout, "complete", last)
	}
	return "", fmt.Errorf("complete: %d attempts: %w", b.opts.MaxRetries+1, last)
}

// upstream maps a caller deadline to UpstreamTimeout and passes
// cancellation through.
func upstream(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errs.Wrap(errs.KindUpstreamTimeout, "complete", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// New builds the configured provider wrapped in Bounded. It returns nil and
// no error when no provider is configured.
func New(cfg config.CompleterConfig, logger *slog.Logger) (Completer, error) {
	var inner Completer
	switch cfg.Provider {
	case "":
		return nil, nil
	case "anthropic":
		inner = NewAnthropic(cfg.Model)
	case "openai":
		inner = NewOpenAI(cfg.Model)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	return NewBounded(inner, BoundedOptions{
		Timeout:       cfg.Timeout,
		MaxRetries:    cfg.MaxRetries,
		Backoff:       cfg.Backoff,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		Logger:        logger,
	}), nil
}
