// Package fetch performs generative API calls with a bounded, deterministic
// exponential-backoff retry budget.
package fetch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

// Policy is a retry budget: Retries extra attempts after the first, waiting
// BaseDelay before the first retry and doubling the wait each time.
type Policy struct {
	Retries   int
	BaseDelay time.Duration
}

// DefaultPolicy is five retries starting at one second.
func DefaultPolicy() Policy {
	return Policy{Retries: 5, BaseDelay: time.Second}
}

// Attempts is the total number of calls the policy allows.
func (p Policy) Attempts() int {
	if p.Retries < 0 {
		return 1
	}
	return p.Retries + 1
}

// Delays lists the wait before each retry, in order.
func (p Policy) Delays() []time.Duration {
	out := make([]time.Duration, 0, max(p.Retries, 0))
	delay := p.BaseDelay
	for i := 0; i < p.Retries; i++ {
		out = append(out, delay)
		delay *= 2
	}
	return out
}

// Sleeper waits between attempts. studio.Clock satisfies it.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RetryHook observes each scheduled retry.
type RetryHook func(op string, attempt int, delay time.Duration, err error)

// Retrier runs an operation until it succeeds or the policy is spent.
type Retrier struct {
	policy  Policy
	sleeper Sleeper
	logger  *zap.Logger
	onRetry RetryHook
}

// NewRetrier builds a Retrier. A nil logger is replaced with a no-op logger.
func NewRetrier(policy Policy, sleeper Sleeper, logger *zap.Logger) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{policy: policy, sleeper: sleeper, logger: logger}
}

// WithRetryHook registers fn to be called before every retry wait.
func (r *Retrier) WithRetryHook(fn RetryHook) *Retrier {
	r.onRetry = fn
	return r
}

// Policy returns the configured budget.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do calls fn until it returns nil. When every attempt fails the error wraps
// both studio.ErrNetworkExhausted and the last failure. Context cancellation
// stops the loop immediately and is returned as is.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := r.policy.BaseDelay
	attempts := r.policy.Attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if r.onRetry != nil {
				r.onRetry(op, attempt, delay, lastErr)
			}
			r.logger.Warn("retrying after failure",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := r.sleeper.Sleep(ctx, delay); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			delay *= 2
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
	}
	return fmt.Errorf("%s after %d attempts: %w: %w", op, attempts, studio.ErrNetworkExhausted, lastErr)
}
