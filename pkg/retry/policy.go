package retry

import (
	"math/rand"
	"sync"
	"time"

	"github.com/hublink-io/hublink-go/pkg/failure"
	"github.com/hublink-io/hublink-go/pkg/status"
)

// Policy defaults.
const (
	// DefaultBaseInterval is the first backoff delay.
	DefaultBaseInterval = 1 * time.Second

	// DefaultMaxInterval caps a single backoff delay.
	DefaultMaxInterval = 60 * time.Second

	// DefaultExpiration is how long a disconnection episode is retried.
	DefaultExpiration = 240 * time.Second

	// DefaultJitter is the jitter range as a fraction of the base interval.
	DefaultJitter = 1.0
)

// Reason explains a Decision.
type Reason uint8

const (
	// ReasonBackoff means the failure is retried after an exponential backoff.
	ReasonBackoff Reason = iota

	// ReasonThrottled means the failure is retried after the throttling delay.
	ReasonThrottled

	// ReasonNonRetryable means the category can never succeed on retry.
	ReasonNonRetryable

	// ReasonRetryExpired means the retry expiration or attempt limit was reached.
	ReasonRetryExpired
)

// String returns the reason name.
func (r Reason) String() string {
	switch r {
	case ReasonBackoff:
		return "BACKOFF"
	case ReasonThrottled:
		return "THROTTLED"
	case ReasonNonRetryable:
		return "NON_RETRYABLE"
	case ReasonRetryExpired:
		return "RETRY_EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Decision is the outcome of one retry evaluation.
type Decision struct {
	ShouldRetry bool
	Wait        time.Duration
	Reason      Reason
}

// Config customizes a Policy.
type Config struct {
	// BaseInterval is the first backoff delay.
	BaseInterval time.Duration

	// MaxInterval caps a single backoff delay.
	MaxInterval time.Duration

	// Expiration bounds the total time an episode is retried.
	Expiration time.Duration

	// MaxAttempts bounds the number of attempts per episode. Zero is unlimited.
	MaxAttempts int

	// Jitter is the jitter range as a fraction of BaseInterval. Zero disables it.
	Jitter float64

	// Seed seeds the jitter source. Zero seeds from the clock.
	Seed int64
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		BaseInterval: DefaultBaseInterval,
		MaxInterval:  DefaultMaxInterval,
		Expiration:   DefaultExpiration,
		Jitter:       DefaultJitter,
	}
}

// Policy makes retry decisions. It is safe for concurrent use.
type Policy struct {
	mu sync.Mutex

	base        time.Duration
	max         time.Duration
	expiration  time.Duration
	maxAttempts int
	jitter      float64

	// Random source for jitter
	rng *rand.Rand
}

// NewPolicy creates a policy. Unset intervals fall back to the defaults.
func NewPolicy(cfg Config) *Policy {
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = DefaultBaseInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	if cfg.MaxInterval < cfg.BaseInterval {
		cfg.MaxInterval = cfg.BaseInterval
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = DefaultExpiration
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Policy{
		base:        cfg.BaseInterval,
		max:         cfg.MaxInterval,
		expiration:  cfg.Expiration,
		maxAttempts: cfg.MaxAttempts,
		jitter:      cfg.Jitter,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Decide evaluates a failure of the given category on the given attempt
// (1-based), elapsed time after the first failure of the episode.
func (p *Policy) Decide(category status.Category, attempt int, elapsed time.Duration) Decision {
	return p.DecideWithHint(category, attempt, elapsed, 0)
}

// DecideWithHint is Decide with the service's retry-after hint. The hint is
// only used for THROTTLED failures.
func (p *Policy) DecideWithHint(category status.Category, attempt int, elapsed, retryAfter time.Duration) Decision {
	if !category.IsRetryable() {
		return Decision{Reason: ReasonNonRetryable}
	}
	if elapsed >= p.expiration || (p.maxAttempts > 0 && attempt > p.maxAttempts) {
		return Decision{Reason: ReasonRetryExpired}
	}

	if category == status.CategoryThrottled {
		wait := retryAfter
		if wait <= 0 {
			wait = p.base
		}
		return Decision{ShouldRetry: true, Wait: wait, Reason: ReasonThrottled}
	}

	return Decision{ShouldRetry: true, Wait: p.backoff(attempt), Reason: ReasonBackoff}
}

// Next records f in h and decides on it. The returned History includes f.
func (p *Policy) Next(h History, f *failure.Error, now time.Time) (History, Decision) {
	h = h.Record(now, f.Category())
	return h, p.DecideWithHint(f.Category(), h.Attempts(), h.Elapsed(now), f.RetryAfter)
}

// Interval returns the un-jittered backoff for attempt.
func (p *Policy) Interval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.max {
			return p.max
		}
	}
	if d > p.max {
		d = p.max
	}
	return d
}

// Expiration returns the configured retry expiration.
func (p *Policy) Expiration() time.Duration {
	return p.expiration
}

func (p *Policy) backoff(attempt int) time.Duration {
	return p.Interval(attempt) + p.jitterAmount()
}

// jitterAmount returns a random delay in [0, base*jitter).
func (p *Policy) jitterAmount() time.Duration {
	if p.jitter <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(float64(p.base) * p.jitter * p.rng.Float64())
}
