package connection

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/hublink-io/hublink-go/pkg/log"
	"github.com/hublink-io/hublink-go/pkg/retry"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid connection config")

// DefaultOperationTimeout bounds a single open, send or receive attempt.
const DefaultOperationTimeout = 30 * time.Second

// Config configures a Machine.
type Config struct {
	// Retry configures the reconnection policy.
	Retry retry.Config

	// OperationTimeout bounds each open, send and receive attempt. An
	// attempt that runs out of time is a TransportConnectionLost failure.
	OperationTimeout time.Duration

	// SendRate limits outgoing messages per second. Zero disables the limit.
	SendRate rate.Limit

	// SendBurst is the limiter burst size. Defaults to 1 when SendRate is set.
	SendBurst int

	// Protocol and DeviceID label trace events.
	Protocol string
	DeviceID string

	// Logger is the operational logger. If nil, slog.Default() is used.
	Logger *slog.Logger

	// EventLog receives the protocol trace. If nil, the trace is disabled.
	EventLog log.Logger

	// MeterProvider provides the connection metrics. If nil, metrics are
	// disabled.
	MeterProvider metric.MeterProvider
}

// DefaultConfig returns a Config with the default retry policy and timeouts.
func DefaultConfig() Config {
	return Config{
		Retry:            retry.DefaultConfig(),
		OperationTimeout: DefaultOperationTimeout,
	}
}

// Validate checks the config for values the machine cannot run with.
func (c *Config) Validate() error {
	if c.OperationTimeout < 0 {
		return fmt.Errorf("%w: negative operation timeout", ErrInvalidConfig)
	}
	if c.SendRate < 0 {
		return fmt.Errorf("%w: negative send rate", ErrInvalidConfig)
	}
	if c.SendBurst < 0 {
		return fmt.Errorf("%w: negative send burst", ErrInvalidConfig)
	}
	if c.Retry.MaxInterval > 0 && c.Retry.BaseInterval > c.Retry.MaxInterval {
		return fmt.Errorf("%w: retry base interval %v exceeds max interval %v",
			ErrInvalidConfig, c.Retry.BaseInterval, c.Retry.MaxInterval)
	}
	if c.Retry.Jitter < 0 {
		return fmt.Errorf("%w: negative retry jitter", ErrInvalidConfig)
	}
	return nil
}
