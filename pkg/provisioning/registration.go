package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/hublink-io/hublink-go/pkg/failure"
	"github.com/hublink-io/hublink-go/pkg/log"
	"github.com/hublink-io/hublink-go/pkg/retry"
	"github.com/hublink-io/hublink-go/pkg/status"
)

// Registration errors.
var (
	ErrAlreadyRegistering = errors.New("registration already in progress")
	ErrRegistrationFailed = errors.New("registration failed")
	ErrPollLimit          = errors.New("poll limit reached")
	ErrInvalidConfig      = errors.New("invalid provisioning config")
)

// Defaults.
const (
	DefaultMaxPollCount     = 60
	DefaultPollInterval     = 2 * time.Second
	DefaultOperationTimeout = 30 * time.Second
)

// Transport talks to the provisioning service.
type Transport interface {
	Register(ctx context.Context) (Response, error)
	Poll(ctx context.Context, operationID string) (Response, error)
}

// RegistrationState is the last observed server response state.
type RegistrationState uint8

const (
	// RegistrationUnknown means no authoritative response was parsed yet.
	RegistrationUnknown RegistrationState = iota

	// RegistrationReceived means the service returned a parsable status.
	RegistrationReceived
)

func (s RegistrationState) String() string {
	switch s {
	case RegistrationUnknown:
		return "UNKNOWN"
	case RegistrationReceived:
		return "RECEIVED"
	default:
		return "INVALID"
	}
}

// Change describes one registration transition.
type Change struct {
	Old, New RegistrationState

	// Status is the operation status carried by a RECEIVED state.
	Status OperationStatus

	// Cause is set when an unparseable response moved the machine to UNKNOWN.
	Cause *failure.Error
}

// Config configures a Registration.
type Config struct {
	// Retry configures retries of failed register and poll calls.
	Retry retry.Config

	// MaxPollCount bounds the number of Poll calls over a registration,
	// retries included. It also bounds the attempts of the register call.
	MaxPollCount int

	// PollInterval is the wait between polls when the service gives no
	// retry-after hint.
	PollInterval time.Duration

	// OperationTimeout bounds each register and poll call.
	OperationTimeout time.Duration

	Logger        *slog.Logger
	EventLog      log.Logger
	MeterProvider metric.MeterProvider
}

// DefaultConfig returns the default registration configuration.
func DefaultConfig() Config {
	return Config{
		Retry:            retry.DefaultConfig(),
		MaxPollCount:     DefaultMaxPollCount,
		PollInterval:     DefaultPollInterval,
		OperationTimeout: DefaultOperationTimeout,
	}
}

// Validate checks the config.
func (c *Config) Validate() error {
	if c.MaxPollCount < 0 {
		return fmt.Errorf("%w: negative max poll count", ErrInvalidConfig)
	}
	if c.PollInterval < 0 || c.OperationTimeout < 0 {
		return fmt.Errorf("%w: negative interval", ErrInvalidConfig)
	}
	return nil
}

// Registration is the provisioning registration state machine.
type Registration struct {
	cfg       Config
	transport Transport
	policy    *retry.Policy
	logger    *slog.Logger
	events    log.Logger
	polls     metric.Int64Counter
	sessionID string

	mu        sync.Mutex
	state     RegistrationState
	status    OperationStatus
	last      Result
	running   bool
	observers []func(Change)
}

// NewRegistration creates a registration in the UNKNOWN state.
func NewRegistration(t Transport, cfg Config) (*Registration, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxPollCount == 0 {
		cfg.MaxPollCount = DefaultMaxPollCount
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}

	mp := cfg.MeterProvider
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	polls, err := mp.Meter("github.com/hublink-io/hublink-go/pkg/provisioning").Int64Counter(
		"hublink.provisioning.calls",
		metric.WithDescription("Register and poll calls by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("provisioning metrics: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var events log.Logger = log.NoopLogger{}
	if cfg.EventLog != nil {
		events = cfg.EventLog
	}

	id := uuid.NewString()
	return &Registration{
		cfg:       cfg,
		transport: t,
		policy:    retry.NewPolicy(cfg.Retry),
		logger:    logger.With("session", id),
		events:    events,
		polls:     polls,
		sessionID: id,
	}, nil
}

// OnChange registers an observer. Observers run on the goroutine calling
// Register, outside the lock, in transition order.
func (r *Registration) OnChange(fn func(Change)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// State returns the current state and the last observed operation status.
func (r *Registration) State() (RegistrationState, OperationStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.status
}

// Last returns the last parsed result.
func (r *Registration) Last() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Register runs the registration to a terminal status. It returns the
// final result when the device is assigned. A failed or disabled
// registration is returned as a *failure.Error wrapping
// ErrRegistrationFailed, together with the result.
func (r *Registration) Register(ctx context.Context) (Result, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return Result{}, ErrAlreadyRegistering
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	res, err := r.call(ctx, "register", r.cfg.MaxPollCount, r.transport.Register)
	if err != nil {
		return Result{}, err
	}

	// Every Poll call, retried or not, spends one unit of the budget.
	remaining := r.cfg.MaxPollCount
	for !res.Status.IsTerminal() {
		if remaining <= 0 {
			return res, pollLimit(res.Status, r.cfg.MaxPollCount, nil)
		}

		wait := res.RetryAfter
		if wait <= 0 {
			wait = r.cfg.PollInterval
		}
		if err := sleep(ctx, wait); err != nil {
			return res, failure.Timeout("registration", err)
		}

		opID := res.OperationID
		used := 0
		next, err := r.call(ctx, "poll", remaining, func(ctx context.Context) (Response, error) {
			used++
			return r.transport.Poll(ctx, opID)
		})
		remaining -= used
		if err != nil {
			if remaining <= 0 && errors.Is(err, retry.ErrRetryExpired) {
				return res, pollLimit(res.Status, r.cfg.MaxPollCount, err)
			}
			return Result{}, err
		}
		res = next
	}

	switch res.Status {
	case StatusAssigned:
		r.logger.Info("device registered", "hub", res.AssignedHub, "device_id", res.DeviceID)
		return res, nil
	case StatusDisabled:
		return res, failure.Wrap(failure.KindAuthenticationFailed, "enrollment disabled", ErrRegistrationFailed)
	default:
		return res, registrationFailure(res)
	}
}

// registrationFailure classifies a failed registration. Service error
// codes carry the HTTP status in their leading three digits.
func registrationFailure(res Result) *failure.Error {
	code := res.ErrorCode
	for code >= 1000 {
		code /= 10
	}
	if code < 100 {
		return failure.Wrap(failure.KindUnknown, res.ErrorMessage, ErrRegistrationFailed)
	}
	return failure.FromCode(status.HTTPStatus(code, res.ErrorMessage), ErrRegistrationFailed)
}

// pollLimit reports that the poll budget ran out before a terminal status.
func pollLimit(st OperationStatus, polls int, last error) error {
	err := fmt.Errorf("%w: still %s after %d polls", ErrPollLimit, st, polls)
	if last != nil {
		err = fmt.Errorf("%w: %w", err, last)
	}
	return failure.Timeout("registration", err)
}

// call runs one register or poll call through the retry policy, making at
// most attempts calls to fn, and applies the parsed response.
func (r *Registration) call(ctx context.Context, name string, attempts int, fn func(context.Context) (Response, error)) (Result, error) {
	var res Result
	op := func(ctx context.Context) error {
		actx, cancel := context.WithTimeout(ctx, r.cfg.OperationTimeout)
		defer cancel()

		resp, err := fn(actx)
		if err != nil {
			r.count(ctx, name, "error")
			if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
				return failure.Timeout(name, err)
			}
			return err
		}

		parsed, err := ParseResponse(resp)
		if err != nil {
			r.count(ctx, name, "unparseable")
			f := failure.Wrap(failure.KindUnknown, "unparseable "+name+" response", err)
			r.transition(RegistrationUnknown, StatusNone, f)
			return f
		}

		r.count(ctx, name, "ok")
		r.mu.Lock()
		r.last = parsed
		r.mu.Unlock()
		r.transition(RegistrationReceived, parsed.Status, nil)
		res = parsed
		return nil
	}

	err := r.policy.Retry(ctx, op,
		retry.WithMaxRetries(uint64(attempts-1)),
		retry.WithNotify(func(f *failure.Error, d retry.Decision) {
			r.traceRetry(f, d)
		}),
	)
	if err != nil {
		if f := failure.FromError(err); f != nil {
			r.traceError(name, f)
		}
		return Result{}, err
	}
	return res, nil
}

func (r *Registration) count(ctx context.Context, call, outcome string) {
	r.polls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("call", call),
		attribute.String("outcome", outcome),
	))
}

// transition records a change of state or status and notifies observers.
// Repeating the current state and status is not a transition.
func (r *Registration) transition(to RegistrationState, st OperationStatus, cause *failure.Error) {
	r.mu.Lock()
	if r.state == to && r.status == st {
		r.mu.Unlock()
		return
	}
	c := Change{Old: r.state, New: to, Status: st, Cause: cause}
	r.state = to
	r.status = st
	observers := r.observers

	ev := r.event(log.CategoryState)
	ev.StateChange = &log.StateChangeEvent{
		Entity:   log.StateEntityRegistration,
		OldState: c.Old.String(),
		NewState: to.String(),
		Reason:   st.String(),
	}
	if cause != nil {
		ev.StateChange.Cause = cause.Category().String()
	}
	r.events.Log(ev)
	r.mu.Unlock()

	r.logger.Debug("registration state changed", "old", c.Old, "new", to, "status", st)
	for _, fn := range observers {
		fn(c)
	}
}

func (r *Registration) event(cat log.Category) log.Event {
	return log.Event{
		Timestamp: time.Now(),
		SessionID: r.sessionID,
		Layer:     log.LayerProvisioning,
		Category:  cat,
	}
}

func (r *Registration) traceRetry(f *failure.Error, d retry.Decision) {
	ev := r.event(log.CategoryRetry)
	ev.Retry = &log.RetryEvent{
		Category:    f.Category().String(),
		ShouldRetry: d.ShouldRetry,
		Wait:        d.Wait,
		Reason:      d.Reason.String(),
	}
	r.events.Log(ev)
}

func (r *Registration) traceError(op string, f *failure.Error) {
	ev := r.event(log.CategoryError)
	ev.Error = &log.ErrorEventData{
		Layer:    log.LayerProvisioning,
		Message:  f.Error(),
		Kind:     f.Kind.String(),
		Category: f.Category().String(),
		Context:  op,
	}
	r.events.Log(ev)
	r.logger.Warn("provisioning call failed", "op", op, "error", f)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
