// Command hublink-device sends telemetry messages to a hub and reports every
// connection status change on the way.
//
// The device opens a session through the reconnecting connection machine,
// sends the requested number of messages concurrently and closes the session.
// Optionally it first registers with the provisioning service to learn which
// hub to use.
//
// Usage:
//
//	hublink-device [flags]
//
// Flags:
//
//	-config string          Configuration file (YAML)
//	-endpoint string        Hub endpoint URL (overrides config)
//	-token string           Authorization token (overrides config)
//	-device-id string       Device identity (overrides config)
//	-protocol string        Protocol: https, amqps_ws, mqtt_ws (overrides config)
//	-proxy-host string      HTTP proxy host
//	-proxy-port int         HTTP proxy port
//	-proxy-user string      HTTP proxy user name
//	-proxy-password string  HTTP proxy password
//	-count int              Number of messages to send (default: 1)
//	-timeout duration       Per-message send timeout (default: 10s)
//	-register               Register with the provisioning service first
//	-state-file string      Registration cache file (overrides config)
//	-force-register         Ignore the registration cache
//	-interactive            Start an interactive shell instead of sending
//	-trace string           Protocol trace file (overrides config)
//	-log-level string       Log level: debug, info, warn, error (overrides config)
//
// Examples:
//
//	# Send five messages over HTTPS
//	hublink-device -endpoint https://hub.example.net/devices/dev-1/messages/events -token "$TOKEN" -count 5
//
//	# Send through a proxy over MQTT on WebSockets
//	hublink-device -config device.yaml -protocol mqtt_ws -proxy-host proxy.local -proxy-port 3128
//
//	# Register, then drive the session by hand
//	hublink-device -config device.yaml -register -interactive
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hublink-io/hublink-go/cmd/hublink-device/interactive"
	"github.com/hublink-io/hublink-go/pkg/config"
	"github.com/hublink-io/hublink-go/pkg/connection"
)

// DefaultMessageTimeout bounds a single message send.
const DefaultMessageTimeout = 10 * time.Second

type options struct {
	configFile    string
	endpoint      string
	token         string
	deviceID      string
	protocol      string
	proxyHost     string
	proxyPort     int
	proxyUser     string
	proxyPassword string
	count         int
	timeout       time.Duration
	register      bool
	stateFile     string
	forceRegister bool
	interactive   bool
	traceFile     string
	logLevel      string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	var o options
	fs := flag.NewFlagSet("hublink-device", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&o.configFile, "config", "", "Configuration file (YAML)")
	fs.StringVar(&o.endpoint, "endpoint", "", "Hub endpoint URL (overrides config)")
	fs.StringVar(&o.token, "token", "", "Authorization token (overrides config)")
	fs.StringVar(&o.deviceID, "device-id", "", "Device identity (overrides config)")
	fs.StringVar(&o.protocol, "protocol", "", "Protocol: https, amqps_ws, mqtt_ws (overrides config)")
	fs.StringVar(&o.proxyHost, "proxy-host", "", "HTTP proxy host")
	fs.IntVar(&o.proxyPort, "proxy-port", 0, "HTTP proxy port")
	fs.StringVar(&o.proxyUser, "proxy-user", "", "HTTP proxy user name")
	fs.StringVar(&o.proxyPassword, "proxy-password", "", "HTTP proxy password")
	fs.IntVar(&o.count, "count", 1, "Number of messages to send")
	fs.DurationVar(&o.timeout, "timeout", DefaultMessageTimeout, "Per-message send timeout")
	fs.BoolVar(&o.register, "register", false, "Register with the provisioning service first")
	fs.StringVar(&o.stateFile, "state-file", "", "Registration cache file (overrides config)")
	fs.BoolVar(&o.forceRegister, "force-register", false, "Ignore the registration cache")
	fs.BoolVar(&o.interactive, "interactive", false, "Start an interactive shell instead of sending")
	fs.StringVar(&o.traceFile, "trace", "", "Protocol trace file (overrides config)")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if o.count < 0 {
		return nil, errors.New("-count must not be negative")
	}
	if o.timeout <= 0 {
		return nil, errors.New("-timeout must be positive")
	}
	return &o, nil
}

// loadConfig reads the configuration file, if any, and applies flag
// overrides on top of it.
func loadConfig(o *options) (*config.Config, error) {
	cfg := config.Default()
	if o.configFile != "" {
		var err error
		if cfg, err = config.Load(o.configFile); err != nil {
			return nil, err
		}
	}

	if o.endpoint != "" {
		cfg.Hub.Endpoint = o.endpoint
	}
	if o.token != "" {
		cfg.Hub.Token = o.token
	}
	if o.deviceID != "" {
		cfg.Hub.DeviceID = o.deviceID
	}
	if o.protocol != "" {
		cfg.Hub.Protocol = o.protocol
	}
	if o.proxyHost != "" {
		cfg.Hub.Proxy = config.ProxyConfig{
			Host:     o.proxyHost,
			Port:     o.proxyPort,
			User:     o.proxyUser,
			Password: o.proxyPassword,
		}
	}
	if o.stateFile != "" {
		cfg.Provisioning.StateFile = o.stateFile
	}
	if o.traceFile != "" {
		cfg.Log.TraceFile = o.traceFile
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, &config.LoadError{Message: "invalid flags", Cause: err}
	}
	return cfg, nil
}

func run(ctx context.Context, o *options, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	d, err := newDevice(ctx, cfg, stdout, stderr)
	if err != nil {
		return err
	}
	defer d.Close()
	d.forceRegister = o.forceRegister

	if o.register {
		if _, err := d.register(ctx); err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}
	}

	if o.interactive {
		shell, err := interactive.New(interactive.Config{
			Machine:  d.connect,
			Register: d.register,
			Metrics:  d.meter.Snapshot,
			Timeout:  o.timeout,
		})
		if err != nil {
			return err
		}
		return shell.Run(ctx)
	}

	d.OnStatusChange(func(c connection.StatusChange) {
		printStatus(d.out, c)
	})
	if err := d.open(ctx); err != nil {
		return err
	}

	fmt.Fprintf(d.out, "Sending %d messages from %s over %s\n", o.count, cfg.Hub.DeviceID, cfg.Hub.Protocol)
	sent, failed := d.sendAll(ctx, o.count, o.timeout)
	fmt.Fprintf(d.out, "Sent %d of %d messages\n", sent, o.count)

	if err := d.closeSession(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d messages failed", failed)
	}
	return nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "hublink-device: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, opts, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hublink-device: %v\n", err)
		os.Exit(1)
	}
}
