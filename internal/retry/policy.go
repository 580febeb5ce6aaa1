// Package retry provides the coarse caller-level backoff used around network
// operations. Retrying is a caller decision here: the pipeline itself never
// loops, it only classifies failures as retryable or not.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/dbdepot/internal/config"
	"git.home.luguber.info/inful/dbdepot/internal/errors"
	"git.home.luguber.info/inful/dbdepot/internal/metrics"
)

// Policy encapsulates retry/backoff settings for transient failures.
// It is immutable after construction.
type Policy struct {
	Mode       config.RetryBackoffMode // fixed|linear|exponential
	Initial    time.Duration           // base delay
	Max        time.Duration           // cap for growth
	MaxRetries int                     // maximum retry attempts after the first failure
}

// DefaultPolicy returns a sensible default policy (linear, 1s initial, 30s cap, 2 retries).
func DefaultPolicy() Policy {
	return Policy{Mode: config.RetryBackoffLinear, Initial: time.Second, Max: 30 * time.Second, MaxRetries: 2}
}

// NewPolicy builds a policy from raw config fields; zero/invalid values fall back to defaults.
func NewPolicy(mode config.RetryBackoffMode, initial, maxDuration time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDuration > 0 {
		p.Max = maxDuration
	}
	if mode != "" {
		switch mode {
		case config.RetryBackoffFixed, config.RetryBackoffLinear, config.RetryBackoffExponential:
			p.Mode = mode
		default:
			// unknown -> keep default
		}
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// FromConfig builds a policy from the parsed retry section.
func FromConfig(cfg *config.Config) Policy {
	initial, maxDelay := cfg.RetryDelays()
	return NewPolicy(cfg.Retry.Backoff, initial, maxDelay, cfg.Retry.MaxRetries)
}

// Delay returns the backoff delay for the given retry attempt number (1-based: first retry => 1).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	switch p.Mode {
	case config.RetryBackoffFixed:
		return p.Initial
	case config.RetryBackoffExponential:
		d := p.Initial * (1 << (retryCount - 1))
		if d > p.Max {
			return p.Max
		}
		return d
	default: // linear
		d := time.Duration(retryCount) * p.Initial
		if d > p.Max {
			return p.Max
		}
		return d
	}
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}

// Retryer applies a Policy around operations, reporting attempts to the
// metrics recorder. Only errors the taxonomy marks retryable are attempted
// again; everything else surfaces immediately.
type Retryer struct {
	policy   Policy
	logger   *slog.Logger
	recorder metrics.Recorder
	sleep    func(context.Context, time.Duration) error
}

// New builds a Retryer. An invalid policy falls back to DefaultPolicy.
func New(pol Policy) *Retryer {
	if err := pol.Validate(); err != nil {
		pol = DefaultPolicy()
	}
	return &Retryer{
		policy:   pol,
		logger:   slog.Default(),
		recorder: metrics.NoopRecorder{},
		sleep:    sleepCtx,
	}
}

// WithLogger overrides the default logger.
func (r *Retryer) WithLogger(logger *slog.Logger) *Retryer {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// WithRecorder overrides the default no-op metrics recorder.
func (r *Retryer) WithRecorder(rec metrics.Recorder) *Retryer {
	if rec != nil {
		r.recorder = rec
	}
	return r
}

// Do runs fn until it succeeds, fails permanently, or the retry budget is
// exhausted. The final error is returned unwrapped so callers keep its
// taxonomy classification. Context cancellation wins over any pending
// backoff sleep.
func (r *Retryer) Do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			r.recorder.IncRetry(op)
			r.logger.Warn("retrying operation",
				slog.String("operation", op),
				slog.Int("attempt", attempt),
			)
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.IsRetryable(err) {
			return err
		}
		if attempt == r.policy.MaxRetries {
			break
		}
		if err := r.sleep(ctx, r.policy.Delay(attempt+1)); err != nil {
			return err
		}
	}
	r.recorder.IncRetryExhausted(op)
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
