// Package config loads the device configuration file.
//
// The file is YAML. Durations are Go duration strings ("30s", "2m").
// Every field is optional; unset fields keep the values from Default.
//
//	hub:
//	  endpoint: https://hub.example.net/devices/dev-1/messages/events
//	  protocol: https
//	  device_id: dev-1
//	  token: "SharedAccessSignature sr=..."
//	  proxy:
//	    host: proxy.local
//	    port: 3128
//	retry:
//	  base_interval: 1s
//	  max_interval: 60s
//	  expiration: 240s
//	connection:
//	  operation_timeout: 30s
//	  send_rate: 10
//	provisioning:
//	  endpoint: https://dps.example.net
//	  id_scope: 0ne000
//	  registration_id: dev-1
//	  state_file: registration.json
//	log:
//	  level: info
//	  trace_file: device.hlog
//	metrics:
//	  otlp_endpoint: collector.local:4317
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hublink-io/hublink-go/pkg/connection"
	"github.com/hublink-io/hublink-go/pkg/provisioning"
	"github.com/hublink-io/hublink-go/pkg/retry"
	"github.com/hublink-io/hublink-go/pkg/transport"
)

// Config is the device configuration.
type Config struct {
	Hub          HubConfig          `yaml:"hub"`
	Retry        RetryConfig        `yaml:"retry"`
	Connection   ConnectionConfig   `yaml:"connection"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	Log          LogConfig          `yaml:"log"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// HubConfig describes the hub endpoint and how to reach it.
type HubConfig struct {
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"`
	DeviceID string `yaml:"device_id"`

	// Token is sent as the Authorization header.
	Token string `yaml:"token"`

	Proxy ProxyConfig `yaml:"proxy"`
	TLS   TLSConfig   `yaml:"tls"`

	MaxMessageSize int      `yaml:"max_message_size"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	PingInterval   Duration `yaml:"ping_interval"`
}

// ProxyConfig is an HTTP proxy. An empty host means no proxy.
type ProxyConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// TLSConfig names PEM files for X.509 device authentication.
type TLSConfig struct {
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// RetryConfig configures the retry policy.
type RetryConfig struct {
	BaseInterval Duration `yaml:"base_interval"`
	MaxInterval  Duration `yaml:"max_interval"`
	Expiration   Duration `yaml:"expiration"`
	MaxAttempts  int      `yaml:"max_attempts"`
	Jitter       float64  `yaml:"jitter"`
}

// ConnectionConfig configures the connection machine.
type ConnectionConfig struct {
	OperationTimeout Duration `yaml:"operation_timeout"`

	// SendRate is messages per second. Zero disables the limit.
	SendRate  float64 `yaml:"send_rate"`
	SendBurst int     `yaml:"send_burst"`
}

// ProvisioningConfig configures device registration.
type ProvisioningConfig struct {
	Endpoint       string   `yaml:"endpoint"`
	IDScope        string   `yaml:"id_scope"`
	RegistrationID string   `yaml:"registration_id"`
	MaxPollCount   int      `yaml:"max_poll_count"`
	PollInterval   Duration `yaml:"poll_interval"`

	// StateFile caches the assigned hub between runs. Empty disables the
	// cache.
	StateFile string `yaml:"state_file"`
}

// LogConfig configures logging and the protocol trace.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`

	// TraceFile is the protocol trace path. Empty disables the trace.
	TraceFile string `yaml:"trace_file"`
}

// MetricsConfig configures OTLP metric export.
type MetricsConfig struct {
	// OTLPEndpoint is the collector's gRPC address. Empty disables export.
	OTLPEndpoint   string   `yaml:"otlp_endpoint"`
	Insecure       bool     `yaml:"insecure"`
	ExportInterval Duration `yaml:"export_interval"`
}

// LoadError is returned when a configuration cannot be loaded.
type LoadError struct {
	// File is the path of the file that failed to load, if any.
	File string

	// Message describes the error.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.File != "" {
		return e.File + ": " + msg
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Default returns the default configuration.
func Default() *Config {
	rc := retry.DefaultConfig()
	pc := provisioning.DefaultConfig()
	return &Config{
		Hub: HubConfig{
			Protocol:       transport.ProtocolHTTPS.String(),
			MaxMessageSize: transport.DefaultMaxMessageSize,
			ConnectTimeout: Duration(transport.DefaultConnectTimeout),
		},
		Retry: RetryConfig{
			BaseInterval: Duration(rc.BaseInterval),
			MaxInterval:  Duration(rc.MaxInterval),
			Expiration:   Duration(rc.Expiration),
			Jitter:       rc.Jitter,
		},
		Connection: ConnectionConfig{
			OperationTimeout: Duration(connection.DefaultOperationTimeout),
		},
		Provisioning: ProvisioningConfig{
			MaxPollCount: pc.MaxPollCount,
			PollInterval: Duration(pc.PollInterval),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Parse parses a configuration from YAML bytes on top of the defaults.
// Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &LoadError{
			Message: "failed to parse YAML",
			Cause:   err,
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &LoadError{
			Message: "invalid configuration",
			Cause:   err,
		}
	}
	return cfg, nil
}

// Load loads a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{
			File:    path,
			Message: "failed to read file",
			Cause:   err,
		}
	}

	cfg, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{File: path, Message: err.Error()}
	}
	return cfg, nil
}

// Validate checks field values. An empty endpoint is allowed; it may be
// supplied on the command line.
func (c *Config) Validate() error {
	p, err := transport.ParseProtocol(c.Hub.Protocol)
	if err != nil {
		return err
	}
	if !p.SupportsProxy() {
		return fmt.Errorf("%w: %s has no proxy support, use %s_ws", transport.ErrUnsupportedProtocol, p, p)
	}
	if c.Hub.Proxy.Host != "" && (c.Hub.Proxy.Port <= 0 || c.Hub.Proxy.Port > 65535) {
		return fmt.Errorf("proxy port %d out of range", c.Hub.Proxy.Port)
	}
	if c.Hub.MaxMessageSize < 0 {
		return errors.New("max_message_size must not be negative")
	}

	durations := map[string]Duration{
		"hub.connect_timeout":          c.Hub.ConnectTimeout,
		"hub.ping_interval":            c.Hub.PingInterval,
		"retry.base_interval":          c.Retry.BaseInterval,
		"retry.max_interval":           c.Retry.MaxInterval,
		"retry.expiration":             c.Retry.Expiration,
		"connection.operation_timeout": c.Connection.OperationTimeout,
		"provisioning.poll_interval":   c.Provisioning.PollInterval,
		"metrics.export_interval":      c.Metrics.ExportInterval,
	}
	for name, d := range durations {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	rc := c.RetryPolicy()
	cc := connection.Config{
		Retry:            rc,
		OperationTimeout: time.Duration(c.Connection.OperationTimeout),
		SendBurst:        c.Connection.SendBurst,
	}
	cc.SendRate = sendRate(c.Connection.SendRate)
	if err := cc.Validate(); err != nil {
		return err
	}

	pc := c.ProvisioningPolicy()
	if err := pc.Validate(); err != nil {
		return err
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
