package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/hublink-io/hublink-go/pkg/connection"
	"github.com/hublink-io/hublink-go/pkg/provisioning"
	"github.com/hublink-io/hublink-go/pkg/retry"
	"github.com/hublink-io/hublink-go/pkg/telemetry"
	"github.com/hublink-io/hublink-go/pkg/transport"
)

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// UnmarshalYAML parses "30s" style strings. Bare integers are seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	if v, err := time.ParseDuration(s); err == nil {
		*d = Duration(v)
		return nil
	}
	var secs int64
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	return fmt.Errorf("line %d: invalid duration %q", value.Line, s)
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func sendRate(perSecond float64) rate.Limit {
	return rate.Limit(perSecond)
}

// RetryPolicy returns the retry policy configuration.
func (c *Config) RetryPolicy() retry.Config {
	return retry.Config{
		BaseInterval: time.Duration(c.Retry.BaseInterval),
		MaxInterval:  time.Duration(c.Retry.MaxInterval),
		Expiration:   time.Duration(c.Retry.Expiration),
		MaxAttempts:  c.Retry.MaxAttempts,
		Jitter:       c.Retry.Jitter,
	}
}

// MachineConfig returns the connection machine configuration. Logger, trace
// and metrics are left for the caller to set.
func (c *Config) MachineConfig() connection.Config {
	return connection.Config{
		Retry:            c.RetryPolicy(),
		OperationTimeout: time.Duration(c.Connection.OperationTimeout),
		SendRate:         sendRate(c.Connection.SendRate),
		SendBurst:        c.Connection.SendBurst,
		Protocol:         c.Hub.Protocol,
		DeviceID:         c.Hub.DeviceID,
	}
}

// ProvisioningPolicy returns the registration configuration.
func (c *Config) ProvisioningPolicy() provisioning.Config {
	return provisioning.Config{
		Retry:            c.RetryPolicy(),
		MaxPollCount:     c.Provisioning.MaxPollCount,
		PollInterval:     time.Duration(c.Provisioning.PollInterval),
		OperationTimeout: time.Duration(c.Connection.OperationTimeout),
	}
}

// ClientConfig returns the hub transport configuration.
func (c *Config) ClientConfig() (transport.ClientConfig, error) {
	p, err := transport.ParseProtocol(c.Hub.Protocol)
	if err != nil {
		return transport.ClientConfig{}, err
	}
	proxy, err := transport.ProxyURL(c.Hub.Proxy.Host, c.Hub.Proxy.Port, c.Hub.Proxy.User, c.Hub.Proxy.Password)
	if err != nil {
		return transport.ClientConfig{}, err
	}
	tlsCfg, err := c.tls()
	if err != nil {
		return transport.ClientConfig{}, err
	}

	cc := transport.ClientConfig{
		Endpoint:       c.Hub.Endpoint,
		Protocol:       p,
		Header:         c.header(),
		Proxy:          proxy,
		TLS:            tlsCfg,
		MaxMessageSize: c.Hub.MaxMessageSize,
		ConnectTimeout: time.Duration(c.Hub.ConnectTimeout),
	}
	if c.Hub.PingInterval > 0 {
		cc.KeepAlive = transport.KeepAliveConfig{PingInterval: time.Duration(c.Hub.PingInterval)}
	}
	return cc, nil
}

// ProvisioningClientConfig returns the provisioning transport configuration.
// It shares the hub's token, proxy and TLS settings.
func (c *Config) ProvisioningClientConfig() (transport.ProvisioningConfig, error) {
	proxy, err := transport.ProxyURL(c.Hub.Proxy.Host, c.Hub.Proxy.Port, c.Hub.Proxy.User, c.Hub.Proxy.Password)
	if err != nil {
		return transport.ProvisioningConfig{}, err
	}
	tlsCfg, err := c.tls()
	if err != nil {
		return transport.ProvisioningConfig{}, err
	}
	return transport.ProvisioningConfig{
		Endpoint:       c.Provisioning.Endpoint,
		IDScope:        c.Provisioning.IDScope,
		RegistrationID: c.Provisioning.RegistrationID,
		Header:         c.header(),
		Proxy:          proxy,
		TLS:            tlsCfg,
		ConnectTimeout: time.Duration(c.Hub.ConnectTimeout),
	}, nil
}

// TelemetryConfig returns the meter provider configuration.
func (c *Config) TelemetryConfig(serviceName string) telemetry.Config {
	return telemetry.Config{
		ServiceName:    serviceName,
		DeviceID:       c.Hub.DeviceID,
		OTLPEndpoint:   c.Metrics.OTLPEndpoint,
		Insecure:       c.Metrics.Insecure,
		ExportInterval: time.Duration(c.Metrics.ExportInterval),
	}
}

func (c *Config) header() http.Header {
	h := http.Header{}
	if c.Hub.Token != "" {
		h.Set("Authorization", c.Hub.Token)
	}
	return h
}

func (c *Config) tls() (*transport.TLSConfig, error) {
	t := c.Hub.TLS
	cfg, err := transport.LoadTLSConfig(t.CertFile, t.KeyFile, t.CAFile)
	if err != nil {
		return nil, err
	}
	cfg.InsecureSkipVerify = t.InsecureSkipVerify
	return cfg, nil
}

// NewLogger returns the operational logger writing to w.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.level()}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (c *Config) level() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
