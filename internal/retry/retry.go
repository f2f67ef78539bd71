// Package retry runs audience calls with bounded, jittered exponential
// backoff.
//
// Only errors the classifier accepts are retried; the default classifier
// accepts "not found" errors, which the audience service returns while a
// member is still being created or removed. A non-retryable error is
// returned as is; when every attempt fails the first error is returned,
// not the last.
package retry

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"

	"github.com/mailchimp/Firebase/internal/metrics"
)

const (
	// BaseDelay is the backoff unit.
	BaseDelay = 500 * time.Millisecond
	// MaxDelay caps a single backoff wait.
	MaxDelay = 2 * time.Second
)

// Policy retries an operation up to Retries extra times.
//
// A Policy is immutable after New and safe for concurrent use.
type Policy struct {
	retries     int
	clock       clock.Clock
	isRetryable func(error) bool
	jitter      func() float64
	logger      *slog.Logger
	metrics     *metrics.Collector
}

// Option configures a Policy.
type Option func(*Policy)

// WithClock sets the clock used for backoff waits.
func WithClock(c clock.Clock) Option {
	return func(p *Policy) { p.clock = c }
}

// WithClassifier replaces the retryable-error predicate.
func WithClassifier(f func(error) bool) Option {
	return func(p *Policy) { p.isRetryable = f }
}

// WithLogger sets the logger for attempt diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) { p.logger = l }
}

// WithMetrics records recovered and exhausted operations.
func WithMetrics(m *metrics.Collector) Option {
	return func(p *Policy) { p.metrics = m }
}

// New returns a Policy making at most retries+1 attempts. A negative count
// is treated as 0.
func New(retries int, opts ...Option) *Policy {
	if retries < 0 {
		retries = 0
	}
	p := &Policy{
		retries:     retries,
		clock:       clock.WallClock,
		isRetryable: IsNotFound,
		jitter:      rand.Float64,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "retry")
	return p
}

// Retries returns the number of extra attempts.
func (p *Policy) Retries() int { return p.retries }

// IsNotFound is the default classifier.
func IsNotFound(err error) bool {
	return errors.Is(err, errors.NotFound)
}

// Backoff returns the wait before retry number attempt (1-based) for a
// jitter factor r in [0,1): min((1+r) * BaseDelay * 2^attempt, MaxDelay).
func Backoff(attempt int, r float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration((1 + r) * float64(BaseDelay) * float64(uint64(1)<<min(attempt, 16)))
	return min(d, MaxDelay)
}

// Do calls fn until it succeeds, fails with a non-retryable error, the
// attempts run out, or ctx is done. op names the operation in logs.
func (p *Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	var (
		firstErr error
		fatalErr error
		calls    int
	)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			calls++
			err := fn(ctx)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			return err
		},
		IsFatalError: func(err error) bool {
			if p.isRetryable(err) {
				return false
			}
			fatalErr = err
			return true
		},
		NotifyFunc: func(err error, attempt int) {
			p.logger.Warn("attempt failed",
				"operation", op,
				"attempt", attempt,
				"retries", p.retries,
				"error", err)
		},
		Attempts: p.retries + 1,
		Delay:    BaseDelay,
		MaxDelay: MaxDelay,
		BackoffFunc: func(_ time.Duration, attempt int) time.Duration {
			return Backoff(attempt, p.jitter())
		},
		Clock: p.clock,
		Stop:  ctx.Done(),
	})

	if err == nil {
		if calls > 1 {
			p.logger.Info("subsequent attempt recovered", "operation", op, "attempts", calls)
			p.metrics.RetryOutcome(metrics.OutcomeRecovered)
		}
		return nil
	}
	if retry.IsAttemptsExceeded(err) && p.retries > 0 {
		p.metrics.RetryOutcome(metrics.OutcomeExhausted)
	}
	// A non-retryable failure surfaces as is; exhaustion and cancellation
	// surface the first failure.
	if fatalErr != nil {
		return fatalErr
	}
	if firstErr != nil {
		return firstErr
	}
	return err
}
