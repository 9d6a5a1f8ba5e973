package retry

import (
	"testing"
	"time"

	"github.com/hublink-io/hublink-go/pkg/failure"
	"github.com/hublink-io/hublink-go/pkg/status"
)

func noJitterPolicy() *Policy {
	return NewPolicy(Config{
		BaseInterval: 1 * time.Second,
		MaxInterval:  30 * time.Second,
		Expiration:   10 * time.Minute,
		Jitter:       0, // No jitter for deterministic test
	})
}

func TestDecide_NonRetryable(t *testing.T) {
	p := noJitterPolicy()

	for _, cat := range []status.Category{
		status.CategoryUnauthorized,
		status.CategoryNotFound,
		status.CategoryBadRequest,
	} {
		for attempt := 0; attempt <= 50; attempt++ {
			d := p.Decide(cat, attempt, 0)
			if d.ShouldRetry {
				t.Fatalf("%s attempt %d: ShouldRetry = true, want false", cat, attempt)
			}
			if d.Reason != ReasonNonRetryable {
				t.Errorf("%s attempt %d: Reason = %v, want NON_RETRYABLE", cat, attempt, d.Reason)
			}
		}
	}
}

func TestDecide_ThrottledUsesRetryAfter(t *testing.T) {
	p := NewPolicy(DefaultConfig())

	d := p.DecideWithHint(status.CategoryThrottled, 3, time.Second, 5*time.Second)
	if !d.ShouldRetry {
		t.Fatal("ShouldRetry = false, want true")
	}
	if d.Wait != 5*time.Second {
		t.Errorf("Wait = %v, want exactly 5s", d.Wait)
	}
	if d.Reason != ReasonThrottled {
		t.Errorf("Reason = %v, want THROTTLED", d.Reason)
	}
}

func TestDecide_ThrottledWithoutHintUsesFloor(t *testing.T) {
	p := NewPolicy(Config{BaseInterval: 2 * time.Second, Jitter: 1})

	d := p.Decide(status.CategoryThrottled, 4, 0)
	if d.Wait != 2*time.Second {
		t.Errorf("Wait = %v, want base interval 2s", d.Wait)
	}
}

func TestDecide_BackoffSequence(t *testing.T) {
	p := noJitterPolicy()

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
	}

	for i, exp := range expected {
		d := p.Decide(status.CategoryTransientNetwork, i+1, 0)
		if !d.ShouldRetry {
			t.Fatalf("attempt %d: ShouldRetry = false", i+1)
		}
		if d.Wait != exp {
			t.Errorf("attempt %d: Wait = %v, want %v", i+1, d.Wait, exp)
		}
	}
}

func TestDecide_ServerErrorAndUnknownBackoff(t *testing.T) {
	p := noJitterPolicy()

	for _, cat := range []status.Category{status.CategoryServerError, status.CategoryUnknown} {
		d := p.Decide(cat, 3, 0)
		if !d.ShouldRetry || d.Wait != 4*time.Second || d.Reason != ReasonBackoff {
			t.Errorf("%s: got %+v, want retry after 4s", cat, d)
		}
	}
}

func TestDecide_Expiration(t *testing.T) {
	p := NewPolicy(Config{BaseInterval: time.Second, Expiration: time.Minute})

	for _, cat := range []status.Category{
		status.CategoryTransientNetwork,
		status.CategoryServerError,
		status.CategoryThrottled,
		status.CategoryUnknown,
	} {
		d := p.Decide(cat, 2, time.Minute)
		if d.ShouldRetry {
			t.Errorf("%s: ShouldRetry = true after expiration", cat)
		}
		if d.Reason != ReasonRetryExpired {
			t.Errorf("%s: Reason = %v, want RETRY_EXPIRED", cat, d.Reason)
		}
	}
}

func TestDecide_MaxAttempts(t *testing.T) {
	p := NewPolicy(Config{MaxAttempts: 3, Jitter: 0})

	if d := p.Decide(status.CategoryServerError, 3, 0); !d.ShouldRetry {
		t.Error("attempt 3 should still retry")
	}
	if d := p.Decide(status.CategoryServerError, 4, 0); d.ShouldRetry || d.Reason != ReasonRetryExpired {
		t.Errorf("attempt 4: got %+v, want RETRY_EXPIRED", d)
	}
}

func TestDecide_JitterBounds(t *testing.T) {
	p := NewPolicy(Config{
		BaseInterval: 100 * time.Millisecond,
		MaxInterval:  time.Second,
		Jitter:       1,
		Seed:         42,
	})

	for attempt := 1; attempt <= 6; attempt++ {
		base := p.Interval(attempt)
		d := p.Decide(status.CategoryTransientNetwork, attempt, 0)
		if d.Wait < base || d.Wait >= base+100*time.Millisecond {
			t.Errorf("attempt %d: Wait = %v out of range [%v, %v)", attempt, d.Wait, base, base+100*time.Millisecond)
		}
	}
}

func TestDecide_JitterDeterministicForSeed(t *testing.T) {
	cfg := Config{BaseInterval: time.Second, MaxInterval: time.Minute, Jitter: 1, Seed: 7}
	a, b := NewPolicy(cfg), NewPolicy(cfg)

	for attempt := 1; attempt <= 10; attempt++ {
		da := a.Decide(status.CategoryServerError, attempt, 0)
		db := b.Decide(status.CategoryServerError, attempt, 0)
		if da.Wait != db.Wait {
			t.Fatalf("attempt %d: %v != %v for the same seed", attempt, da.Wait, db.Wait)
		}
	}
}

func TestNewPolicy_Defaults(t *testing.T) {
	p := NewPolicy(Config{})

	if p.Interval(1) != DefaultBaseInterval {
		t.Errorf("Interval(1) = %v, want %v", p.Interval(1), DefaultBaseInterval)
	}
	if p.Interval(100) != DefaultMaxInterval {
		t.Errorf("Interval(100) = %v, want %v", p.Interval(100), DefaultMaxInterval)
	}
	if p.Expiration() != DefaultExpiration {
		t.Errorf("Expiration() = %v, want %v", p.Expiration(), DefaultExpiration)
	}
}

func TestNext_RecordsHistory(t *testing.T) {
	p := noJitterPolicy()
	start := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)

	var h History
	h, d := p.Next(h, failure.New(failure.KindTransportConnectionLost, "reset"), start)
	if h.Attempts() != 1 || d.Wait != time.Second {
		t.Fatalf("first: attempts=%d wait=%v", h.Attempts(), d.Wait)
	}

	h, d = p.Next(h, failure.New(failure.KindServiceInternalError, "500"), start.Add(3*time.Second))
	if h.Attempts() != 2 || d.Wait != 2*time.Second {
		t.Fatalf("second: attempts=%d wait=%v", h.Attempts(), d.Wait)
	}
	if h.Elapsed(start.Add(3*time.Second)) != 3*time.Second {
		t.Errorf("Elapsed = %v, want 3s", h.Elapsed(start.Add(3*time.Second)))
	}

	last, ok := h.Last()
	if !ok || last.Category != status.CategoryServerError {
		t.Errorf("Last() = %+v, %v", last, ok)
	}

	f := failure.New(failure.KindThrottled, "busy")
	f.RetryAfter = 9 * time.Second
	_, d = p.Next(h, f, start.Add(4*time.Second))
	if d.Wait != 9*time.Second {
		t.Errorf("throttled Wait = %v, want 9s", d.Wait)
	}
}

func TestNext_ExpiresOnElapsed(t *testing.T) {
	p := NewPolicy(Config{Expiration: 10 * time.Second})
	start := time.Now()

	h, _ := p.Next(History{}, failure.New(failure.KindTransportConnectionLost, ""), start)
	_, d := p.Next(h, failure.New(failure.KindTransportConnectionLost, ""), start.Add(11*time.Second))
	if d.ShouldRetry || d.Reason != ReasonRetryExpired {
		t.Errorf("got %+v, want RETRY_EXPIRED", d)
	}
}

func TestReasonString(t *testing.T) {
	tests := map[Reason]string{
		ReasonBackoff:      "BACKOFF",
		ReasonThrottled:    "THROTTLED",
		ReasonNonRetryable: "NON_RETRYABLE",
		ReasonRetryExpired: "RETRY_EXPIRED",
		Reason(99):         "UNKNOWN",
	}
	for r, want := range tests {
		if r.String() != want {
			t.Errorf("%d.String() = %q, want %q", r, r.String(), want)
		}
	}
}
