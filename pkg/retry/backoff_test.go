package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hublink-io/hublink-go/pkg/failure"
	"github.com/hublink-io/hublink-go/pkg/status"
)

func fastPolicy() *Policy {
	return NewPolicy(Config{
		BaseInterval: time.Millisecond,
		MaxInterval:  2 * time.Millisecond,
		Expiration:   time.Minute,
	})
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var notified []Decision

	err := fastPolicy().Retry(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &status.CodeError{Code: status.HTTPStatus(503, "busy")}
		}
		return nil
	}, WithNotify(func(f *failure.Error, d Decision) {
		assert.Equal(t, failure.KindServiceInternalError, f.Kind)
		notified = append(notified, d)
	}))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, notified, 2)
	assert.True(t, notified[0].ShouldRetry)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	err := fastPolicy().Retry(context.Background(), func(context.Context) error {
		calls++
		return &status.CodeError{Code: status.HTTPStatus(401, "bad token")}
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, failure.ErrAuthenticationFailed)
	assert.NotErrorIs(t, err, ErrRetryExpired)
}

func TestRetry_MaxRetries(t *testing.T) {
	calls := 0
	err := fastPolicy().Retry(context.Background(), func(context.Context) error {
		calls++
		return errors.New("flaky")
	}, WithMaxRetries(2))

	assert.Equal(t, 3, calls, "one attempt plus two retries")
	assert.ErrorIs(t, err, ErrRetryExpired)
	assert.ErrorIs(t, err, failure.ErrUnknown)
}

func TestRetry_ZeroMaxRetries(t *testing.T) {
	calls := 0
	err := fastPolicy().Retry(context.Background(), func(context.Context) error {
		calls++
		return errors.New("flaky")
	}, WithMaxRetries(0))

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, ErrRetryExpired)
}

func TestRetry_PolicyExpiration(t *testing.T) {
	p := NewPolicy(Config{BaseInterval: time.Millisecond, Expiration: time.Second})
	now := time.Now()
	clock := func() time.Time {
		now = now.Add(400 * time.Millisecond)
		return now
	}

	calls := 0
	err := p.Retry(context.Background(), func(context.Context) error {
		calls++
		return context.DeadlineExceeded
	}, WithClock(clock))

	assert.ErrorIs(t, err, ErrRetryExpired)
	assert.ErrorIs(t, err, failure.ErrTransportConnectionLost)
	assert.Equal(t, 4, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPolicy(Config{BaseInterval: time.Hour, MaxInterval: time.Hour})

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := p.Retry(ctx, func(context.Context) error {
		return errors.New("down")
	})

	assert.ErrorIs(t, err, failure.ErrTransportConnectionLost)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackOff_Adapter(t *testing.T) {
	p := NewPolicy(Config{BaseInterval: time.Second, MaxInterval: 4 * time.Second})
	b := p.BackOff()
	var _ backoff.BackOff = b

	assert.Equal(t, backoff.Stop, b.NextBackOff(), "no failure observed yet")

	b.Observe(failure.New(failure.KindTransportConnectionLost, ""))
	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	f, d := b.Decision()
	assert.True(t, errors.Is(f, failure.ErrTransportConnectionLost))
	assert.True(t, d.ShouldRetry)
	assert.Equal(t, 2*time.Second, d.Wait)

	b.Observe(failure.New(failure.KindHubOrDeviceNotFound, ""))
	assert.Equal(t, backoff.Stop, b.NextBackOff())

	b.Reset()
	b.Observe(failure.New(failure.KindServiceInternalError, ""))
	assert.Equal(t, time.Second, b.NextBackOff())
}
