package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hublink-io/hublink-go/pkg/failure"
)

// ErrRetryExpired is wrapped into the error returned by Retry when the policy
// stopped retrying before the operation succeeded.
var ErrRetryExpired = errors.New("retry expired")

// PolicyBackOff adapts a Policy to backoff.BackOff. BackOff itself never
// sees errors, so each failure is reported through Observe before
// NextBackOff is called.
type PolicyBackOff struct {
	policy *Policy
	now    func() time.Time

	mu       sync.Mutex
	history  History
	last     *failure.Error
	decision Decision
}

// BackOff returns a backoff.BackOff driven by the policy.
func (p *Policy) BackOff() *PolicyBackOff {
	return &PolicyBackOff{policy: p, now: time.Now}
}

// Observe records the failure the next NextBackOff call decides on.
func (b *PolicyBackOff) Observe(f *failure.Error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = f
}

// Decision returns the last observed failure and the decision made for it.
func (b *PolicyBackOff) Decision() (*failure.Error, Decision) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.decision
}

// NextBackOff implements backoff.BackOff.
func (b *PolicyBackOff) NextBackOff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return backoff.Stop
	}
	b.history, b.decision = b.policy.Next(b.history, b.last, b.now())
	if !b.decision.ShouldRetry {
		return backoff.Stop
	}
	return b.decision.Wait
}

// Reset implements backoff.BackOff.
func (b *PolicyBackOff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = History{}
	b.last = nil
	b.decision = Decision{}
}

// RetryOption configures Retry.
type RetryOption func(*retryOptions)

type retryOptions struct {
	limited    bool
	maxRetries uint64
	notify     func(f *failure.Error, d Decision)
	now        func() time.Time
}

// WithMaxRetries bounds the number of retries independently of the policy.
// Zero means op runs once.
func WithMaxRetries(n uint64) RetryOption {
	return func(o *retryOptions) {
		o.limited = true
		o.maxRetries = n
	}
}

// WithNotify registers a callback invoked before every retry wait.
func WithNotify(fn func(f *failure.Error, d Decision)) RetryOption {
	return func(o *retryOptions) {
		o.notify = fn
	}
}

// WithClock overrides the clock used for elapsed-time accounting.
func WithClock(now func() time.Time) RetryOption {
	return func(o *retryOptions) {
		o.now = now
	}
}

// Retry runs op until it succeeds, fails with a non-retryable failure, the
// policy stops, or ctx is done. Errors returned by op are classified through
// failure.FromError. When the policy stops, the returned error wraps both
// ErrRetryExpired and the last failure.
func (p *Policy) Retry(ctx context.Context, op func(ctx context.Context) error, opts ...RetryOption) error {
	o := retryOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	pb := p.BackOff()
	pb.now = o.now
	var b backoff.BackOff = pb
	if o.limited {
		b = backoff.WithMaxRetries(b, o.maxRetries)
	}
	b = backoff.WithContext(b, ctx)

	operation := func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		f := failure.FromError(err)
		pb.Observe(f)
		if !f.Retryable() {
			return backoff.Permanent(f)
		}
		return f
	}

	var notify backoff.Notify
	if o.notify != nil {
		notify = func(error, time.Duration) {
			o.notify(pb.Decision())
		}
	}

	err := backoff.RetryNotify(operation, b, notify)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return failure.Timeout("retry", err)
	}

	var f *failure.Error
	if !errors.As(err, &f) {
		return err
	}
	if !f.Retryable() {
		return f
	}
	// A retryable failure only ends the loop when the policy or the retry
	// limit said stop.
	return fmt.Errorf("%w: %w", ErrRetryExpired, f)
}
