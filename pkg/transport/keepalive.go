package transport

import (
	"context"
	"sync"
	"time"
)

// Keep-alive defaults, used when a non-zero PingInterval leaves the other
// fields unset.
const (
	DefaultPongTimeout    = 5 * time.Second
	DefaultMaxMissedPongs = 3
)

// KeepAliveConfig configures WebSocket pings.
type KeepAliveConfig struct {
	// PingInterval is the interval between pings. Zero disables keep-alive.
	PingInterval time.Duration

	// PongTimeout is how long a ping may stay unanswered.
	PongTimeout time.Duration

	// MaxMissedPongs is the number of missed pongs before the connection
	// is dropped.
	MaxMissedPongs int
}

// Enabled reports whether pings are sent.
func (c KeepAliveConfig) Enabled() bool {
	return c.PingInterval > 0
}

// DetectionDelay is the longest time a dead connection goes unnoticed.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

// KeepAliveStats is a snapshot of keep-alive state.
type KeepAliveStats struct {
	Sent        uint32
	MissedPongs int
	LastRTT     time.Duration
}

// KeepAlive pings at a fixed interval and calls onTimeout once when too
// many pongs were missed.
type KeepAlive struct {
	config    KeepAliveConfig
	sendPing  func(seq uint32) error
	onTimeout func()

	mu       sync.Mutex
	seq      uint32
	pending  bool
	sentAt   time.Time
	missed   int
	lastRTT  time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewKeepAlive creates a keep-alive monitor.
func NewKeepAlive(config KeepAliveConfig, sendPing func(seq uint32) error, onTimeout func()) *KeepAlive {
	if config.PongTimeout <= 0 {
		config.PongTimeout = DefaultPongTimeout
	}
	if config.MaxMissedPongs <= 0 {
		config.MaxMissedPongs = DefaultMaxMissedPongs
	}
	return &KeepAlive{
		config:    config,
		sendPing:  sendPing,
		onTimeout: onTimeout,
		stop:      make(chan struct{}),
	}
}

// Start runs the ping loop until Stop, ctx is done, or the timeout fires.
func (ka *KeepAlive) Start(ctx context.Context) {
	go ka.loop(ctx)
}

// Stop ends the ping loop. It is idempotent.
func (ka *KeepAlive) Stop() {
	ka.stopOnce.Do(func() { close(ka.stop) })
}

// PongReceived records the pong for seq. Stale pongs are ignored.
func (ka *KeepAlive) PongReceived(seq uint32) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if ka.pending && seq == ka.seq {
		ka.pending = false
		ka.missed = 0
		ka.lastRTT = time.Since(ka.sentAt)
	}
}

// Stats returns a snapshot of the monitor.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return KeepAliveStats{Sent: ka.seq, MissedPongs: ka.missed, LastRTT: ka.lastRTT}
}

func (ka *KeepAlive) loop(ctx context.Context) {
	ticker := time.NewTicker(ka.config.PingInterval)
	defer ticker.Stop()

	ka.ping()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ka.stop:
			return
		case <-ticker.C:
			if ka.expired() {
				if ka.onTimeout != nil {
					ka.onTimeout()
				}
				return
			}
			ka.ping()
		}
	}
}

// expired counts an unanswered ping and reports whether the limit is hit.
func (ka *KeepAlive) expired() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if ka.pending && time.Since(ka.sentAt) >= ka.config.PongTimeout {
		ka.pending = false
		ka.missed++
	}
	return ka.missed >= ka.config.MaxMissedPongs
}

func (ka *KeepAlive) ping() {
	ka.mu.Lock()
	if ka.pending {
		// Still waiting within PongTimeout.
		ka.mu.Unlock()
		return
	}
	ka.seq++
	seq := ka.seq
	ka.pending = true
	ka.sentAt = time.Now()
	ka.mu.Unlock()

	// A failed write leaves the ping pending so it is counted as missed.
	_ = ka.sendPing(seq)
}
