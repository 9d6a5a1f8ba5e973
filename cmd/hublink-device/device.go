package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hublink-io/hublink-go/pkg/config"
	"github.com/hublink-io/hublink-go/pkg/connection"
	"github.com/hublink-io/hublink-go/pkg/failure"
	"github.com/hublink-io/hublink-go/pkg/log"
	"github.com/hublink-io/hublink-go/pkg/persistence"
	"github.com/hublink-io/hublink-go/pkg/provisioning"
	"github.com/hublink-io/hublink-go/pkg/telemetry"
	"github.com/hublink-io/hublink-go/pkg/transport"
)

const (
	serviceName = "hublink-device"

	// maxInFlight bounds concurrent sends.
	maxInFlight = 8

	shutdownTimeout = 5 * time.Second
)

var errNoEndpoint = errors.New("no hub endpoint: set hub.endpoint, -endpoint or use -register")

// device owns the machines and observability plumbing of one run.
type device struct {
	cfg    *config.Config
	out    io.Writer
	logger *slog.Logger
	trace  log.Logger
	file   *log.FileLogger
	meter  *telemetry.Provider

	// forceRegister skips the registration cache.
	forceRegister bool

	mu        sync.Mutex
	machine   *connection.Machine
	observers []func(connection.StatusChange)
}

// lockedWriter serializes writes from the send workers and the status
// dispatcher.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func newDevice(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) (*device, error) {
	d := &device{
		cfg:    cfg,
		out:    &lockedWriter{w: stdout},
		logger: cfg.NewLogger(stderr),
	}

	loggers := []log.Logger{log.NewSlogAdapter(d.logger)}
	if cfg.Log.TraceFile != "" {
		f, err := log.NewFileLogger(cfg.Log.TraceFile)
		if err != nil {
			return nil, fmt.Errorf("opening trace file: %w", err)
		}
		d.file = f
		loggers = append(loggers, f)
		d.logger.Info("protocol trace enabled", "file", cfg.Log.TraceFile)
	}
	d.trace = log.NewMultiLogger(loggers...)

	meter, err := telemetry.New(ctx, cfg.TelemetryConfig(serviceName))
	if err != nil {
		d.closeTrace()
		return nil, err
	}
	d.meter = meter
	return d, nil
}

// OnStatusChange registers an observer for the hub connection. It must be
// called before connect.
func (d *device) OnStatusChange(fn func(connection.StatusChange)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, fn)
}

// connect builds the hub transport and connection machine on first use.
func (d *device) connect() (*connection.Machine, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.machine != nil {
		return d.machine, nil
	}
	if d.cfg.Hub.Endpoint == "" {
		return nil, errNoEndpoint
	}

	cc, err := d.cfg.ClientConfig()
	if err != nil {
		return nil, err
	}
	t, err := transport.New(cc)
	if err != nil {
		return nil, err
	}

	mc := d.cfg.MachineConfig()
	mc.Logger = d.logger
	mc.EventLog = d.trace
	mc.MeterProvider = d.meter
	m, err := connection.NewMachine(t, mc)
	if err != nil {
		return nil, err
	}
	for _, fn := range d.observers {
		m.OnStatusChange(fn)
	}
	d.machine = m
	return m, nil
}

func (d *device) open(ctx context.Context) error {
	m, err := d.connect()
	if err != nil {
		return err
	}
	if err := m.Open(ctx); err != nil {
		return fmt.Errorf("open connection: %w", err)
	}
	return nil
}

// register runs the provisioning flow, or reuses the cached assignment
// when one exists for this enrollment. When no hub endpoint is configured
// the assigned hub becomes the endpoint.
func (d *device) register(ctx context.Context) (provisioning.Result, error) {
	var store *persistence.RegistrationStore
	if d.cfg.Provisioning.StateFile != "" {
		store = persistence.NewRegistrationStore(d.cfg.Provisioning.StateFile)
	}

	if store != nil && !d.forceRegister {
		st, err := store.Load()
		switch {
		case err != nil:
			d.logger.Warn("ignoring registration cache", "file", store.Path(), "error", err)
		case st.Matches(d.cfg.Provisioning.IDScope, d.cfg.Provisioning.RegistrationID):
			fmt.Fprintf(d.out, "Using cached registration from %s\n", store.Path())
			return d.assign(st.Result())
		}
	}

	res, err := d.provision(ctx)
	if err != nil {
		return res, err
	}
	if store != nil {
		if err := store.Save(persistence.NewRegistrationState(d.cfg.Provisioning.IDScope, d.cfg.Provisioning.RegistrationID, res)); err != nil {
			d.logger.Warn("saving registration cache", "file", store.Path(), "error", err)
		}
	}
	return d.assign(res)
}

func (d *device) provision(ctx context.Context) (provisioning.Result, error) {
	pcc, err := d.cfg.ProvisioningClientConfig()
	if err != nil {
		return provisioning.Result{}, err
	}
	client, err := transport.NewProvisioningClient(pcc)
	if err != nil {
		return provisioning.Result{}, err
	}

	pc := d.cfg.ProvisioningPolicy()
	pc.Logger = d.logger
	pc.EventLog = d.trace
	pc.MeterProvider = d.meter
	reg, err := provisioning.NewRegistration(client, pc)
	if err != nil {
		return provisioning.Result{}, err
	}
	reg.OnChange(func(c provisioning.Change) {
		fmt.Fprintf(d.out, "REGISTRATION STATUS UPDATE: %s %s\n", c.New, c.Status)
	})
	return reg.Register(ctx)
}

// assign points the device at the hub from res.
func (d *device) assign(res provisioning.Result) (provisioning.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg.Hub.DeviceID == "" {
		d.cfg.Hub.DeviceID = res.DeviceID
	}
	if d.cfg.Hub.Endpoint == "" && d.machine == nil {
		p, err := transport.ParseProtocol(d.cfg.Hub.Protocol)
		if err != nil {
			return res, err
		}
		d.cfg.Hub.Endpoint = hubEndpoint(p, res.AssignedHub, res.DeviceID)
	}
	fmt.Fprintf(d.out, "Registered %s on %s\n", res.DeviceID, res.AssignedHub)
	return res, nil
}

// hubEndpoint builds the endpoint URL for an assigned hub host.
func hubEndpoint(p transport.Protocol, host, deviceID string) string {
	if p.IsWebSocket() {
		return "wss://" + host + "/$iothub/websocket"
	}
	return "https://" + host + "/devices/" + deviceID + "/messages/events"
}

// telemetryMessage is the payload sent by sendAll.
type telemetryMessage struct {
	DeviceID    string  `json:"deviceId"`
	MessageID   string  `json:"messageId"`
	Sequence    int     `json:"sequence"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

func newMessage(deviceID string, seq int) ([]byte, error) {
	return json.Marshal(telemetryMessage{
		DeviceID:    deviceID,
		MessageID:   uuid.NewString(),
		Sequence:    seq,
		Temperature: 20 + rand.Float64()*15,
		Humidity:    30 + rand.Float64()*20,
	})
}

// sendAll sends count messages concurrently, each bounded by timeout.
// Failures are reported and counted; they do not stop the other sends.
func (d *device) sendAll(ctx context.Context, count int, timeout time.Duration) (sent, failed int) {
	m, err := d.connect()
	if err != nil {
		return 0, count
	}

	var ok atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)
	for i := 1; i <= count; i++ {
		g.Go(func() error {
			payload, err := newMessage(d.cfg.Hub.DeviceID, i)
			if err != nil {
				return err
			}

			sctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			if err := m.Send(sctx, payload); err != nil {
				fmt.Fprintf(d.out, "Failed to send message #%d. Status code: %s: %v\n", i, failure.CategoryOf(err), err)
				return nil
			}
			ok.Add(1)
			fmt.Fprintf(d.out, "Message #%d sent\n", i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.logger.Error("building message", "error", err)
	}
	return int(ok.Load()), count - int(ok.Load())
}

// closeSession closes the hub connection if one was built.
func (d *device) closeSession() error {
	d.mu.Lock()
	m := d.machine
	d.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.Close()
}

// Close releases everything newDevice and connect acquired.
func (d *device) Close() error {
	err := d.closeSession()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := d.meter.Shutdown(ctx); serr != nil && err == nil {
		err = serr
	}
	if cerr := d.closeTrace(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (d *device) closeTrace() error {
	if d.file == nil {
		return nil
	}
	if err := d.file.Err(); err != nil {
		d.logger.Warn("trace file write failed", "error", err)
	}
	return d.file.Close()
}
