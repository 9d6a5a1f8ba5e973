package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hublink-io/hublink-go/pkg/failure"
	"github.com/hublink-io/hublink-go/pkg/log"
	"github.com/hublink-io/hublink-go/pkg/retry"
)

// Transport is the wire connection a Machine drives. Errors are opaque to
// the machine; they are classified with failure.FromError, which
// understands *status.CodeError. Close must be safe to call on a transport
// that is already closed.
type Transport interface {
	Open(ctx context.Context) error
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Receiver is implemented by transports that can read inbound payloads.
type Receiver interface {
	Receive(ctx context.Context) ([]byte, error)
}

// session spans one Open until Close or a terminal disconnect.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc

	// Why the session ended. Written under Machine.mu before the session
	// is detached.
	err error

	// Open attempt and reconnect loop running for this session.
	wg sync.WaitGroup
}

// Machine is the connection state machine for one hub session.
// It is safe for concurrent use.
type Machine struct {
	cfg       Config
	transport Transport
	policy    *retry.Policy
	limiter   *rate.Limiter
	logger    *slog.Logger
	events    log.Logger
	metrics   *metrics
	sessionID string
	dispatch  *dispatcher

	mu          sync.Mutex
	state       State
	sess        *session
	terminal    bool
	lastReason  Reason
	lastFailure *failure.Error
	history     retry.History
	changed     chan struct{}
	sendSeq     uint64
	recvSeq     uint64
}

// NewMachine creates a machine in the DISCONNECTED state.
func NewMachine(t Transport, cfg Config) (*Machine, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}

	met, err := newMetrics(cfg.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("connection metrics: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.SendRate > 0 {
		burst := cfg.SendBurst
		if burst == 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.SendRate, burst)
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
	return &Machine{
		cfg:       cfg,
		transport: t,
		policy:    retry.NewPolicy(cfg.Retry),
		limiter:   limiter,
		logger:    logger.With("session", id),
		events:    events,
		metrics:   met,
		sessionID: id,
		dispatch:  &dispatcher{},
		state:     StateDisconnected,
		changed:   make(chan struct{}),
	}, nil
}

// SessionID returns the id that tags this machine's trace events.
func (m *Machine) SessionID() string {
	return m.sessionID
}

// OnStatusChange registers an observer. Observers are called in
// registration order for every transition.
func (m *Machine) OnStatusChange(fn func(StatusChange)) {
	m.dispatch.subscribe(fn)
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Terminal reports whether the machine is DISCONNECTED because of a
// non-retryable failure or an exhausted retry policy. It is cleared by the
// next Open.
func (m *Machine) Terminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminal
}

// LastFailure returns the failure that caused the terminal disconnect, if any.
func (m *Machine) LastFailure() *failure.Error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastFailure
}

// History returns the attempt history of the current disconnection episode.
func (m *Machine) History() retry.History {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history
}

// Open connects to the hub. If the first attempt fails with a retryable
// failure the machine enters DISCONNECTED_RETRYING and Open blocks until
// the machine is CONNECTED, reaches a terminal DISCONNECTED, or ctx is done.
// When ctx ends first the session is abandoned with CONNECTION_FAILED.
func (m *Machine) Open(ctx context.Context) error {
	defer m.dispatch.flush()

	m.mu.Lock()
	switch {
	case m.state == StateConnected:
		m.mu.Unlock()
		return ErrAlreadyOpen
	case m.sess != nil:
		m.mu.Unlock()
		return ErrOpenInProgress
	}
	sctx, cancel := context.WithCancel(context.Background())
	s := &session{ctx: sctx, cancel: cancel}
	s.wg.Add(1)
	m.sess = s
	m.terminal = false
	m.lastFailure = nil
	m.history = m.history.Clear()
	m.mu.Unlock()

	m.logger.Debug("opening connection", "protocol", m.cfg.Protocol)
	err := m.attempt(ctx, s.ctx, "open", m.transport.Open)

	m.mu.Lock()
	if m.sess != s {
		// Closed while the attempt was in flight.
		stale := err == nil && m.sess == nil
		m.mu.Unlock()
		if stale {
			m.closeTransport()
		}
		s.wg.Done()
		return s.err
	}
	s.wg.Done()
	if err == nil {
		m.transitionLocked(StateConnected, ReasonConnectionOK, nil)
		m.mu.Unlock()
		return nil
	}

	var f *failure.Error
	if ctxErr := ctx.Err(); ctxErr != nil {
		f = failure.Timeout("open", ctxErr)
	} else {
		f = failure.FromError(err)
	}
	m.traceErrorLocked("open", f)

	if ctx.Err() != nil || !f.Retryable() {
		m.failSessionLocked(s, ReasonConnectionFailed, f)
		m.mu.Unlock()
		return f
	}
	m.beginRetryLocked(s, f, false)
	m.mu.Unlock()

	return m.awaitOpen(ctx, s)
}

// awaitOpen waits for the reconnect loop of s to settle.
func (m *Machine) awaitOpen(ctx context.Context, s *session) error {
	for {
		m.mu.Lock()
		if m.sess != s {
			err := s.err
			m.mu.Unlock()
			return err
		}
		if m.state == StateConnected {
			m.mu.Unlock()
			return nil
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			m.mu.Lock()
			if m.sess != s {
				err := s.err
				m.mu.Unlock()
				return err
			}
			if m.state == StateConnected {
				m.mu.Unlock()
				return nil
			}
			f := failure.Timeout("open", ctx.Err())
			m.failSessionLocked(s, ReasonConnectionFailed, f)
			m.mu.Unlock()
			return f
		}
	}
}

// Close disconnects from any state with CLIENT_CLOSE, cancelling the
// reconnect timer and in-flight attempts and waiting for them to return.
// Closing an idle DISCONNECTED machine does nothing. When Close returns, all
// notifications it caused have been delivered, unless an observer was
// running at the time; then they follow when that observer returns.
func (m *Machine) Close() error {
	m.mu.Lock()
	s := m.sess
	if s != nil {
		m.endSessionLocked(s, ErrClosed)
		m.terminal = false
		m.transitionLocked(StateDisconnected, ReasonClientClose, nil)
	}
	m.mu.Unlock()

	var err error
	if s != nil {
		if cerr := m.transport.Close(); cerr != nil {
			err = fmt.Errorf("close transport: %w", cerr)
		}
	}
	if s != nil {
		s.wg.Wait()
	}
	m.dispatch.flush()
	return err
}

// Send delivers payload to the hub. While the machine is reconnecting, Send
// waits for the connection and resends; retryable failures are absorbed
// this way. Non-retryable failures and terminal disconnects are returned as
// *failure.Error. Send on a machine that was never opened returns
// ErrNotOpen, and after Close returns ErrClosed.
func (m *Machine) Send(ctx context.Context, payload []byte) error {
	start := time.Now()
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			m.metrics.message(ctx, "out", "timeout")
			return failure.Timeout("send", err)
		}
	}

	attempts, err := m.run(ctx, "send", func(actx context.Context) error {
		return m.transport.Send(actx, payload)
	})
	if err != nil {
		m.metrics.message(ctx, "out", "failed")
		return err
	}

	m.metrics.message(ctx, "out", "delivered")
	m.metrics.sendTime.Record(ctx, time.Since(start).Seconds())
	m.traceMessage(log.DirectionOut, payload, attempts)
	return nil
}

// Receive reads one inbound payload. Failures are routed like Send's.
func (m *Machine) Receive(ctx context.Context) ([]byte, error) {
	r, ok := m.transport.(Receiver)
	if !ok {
		return nil, ErrReceiveNotSupported
	}

	var payload []byte
	_, err := m.run(ctx, "receive", func(actx context.Context) error {
		p, err := r.Receive(actx)
		payload = p
		return err
	})
	if err != nil {
		m.metrics.message(ctx, "in", "failed")
		return nil, err
	}

	m.metrics.message(ctx, "in", "received")
	m.traceMessage(log.DirectionIn, payload, 1)
	return payload, nil
}

// run executes op on the connected session, waiting out reconnections.
func (m *Machine) run(ctx context.Context, name string, op func(context.Context) error) (int, error) {
	attempts := 0
	for {
		s, err := m.awaitConnected(ctx, name)
		if err != nil {
			return attempts, err
		}

		attempts++
		err = m.attempt(ctx, s.ctx, name, op)
		if err == nil {
			return attempts, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempts, failure.Timeout(name, ctxErr)
		}

		f := failure.FromError(err)
		if m.handleFailure(s, name, f) {
			m.closeTransport()
		}
		m.dispatch.flush()
		if !f.Retryable() {
			return attempts, f
		}
	}
}

// awaitConnected returns the session once the machine is CONNECTED.
func (m *Machine) awaitConnected(ctx context.Context, name string) (*session, error) {
	for {
		m.mu.Lock()
		if m.state == StateConnected {
			s := m.sess
			m.mu.Unlock()
			return s, nil
		}
		if m.sess == nil {
			err := m.idleErrLocked()
			m.mu.Unlock()
			return nil, err
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, failure.Timeout(name, ctx.Err())
		}
	}
}

func (m *Machine) idleErrLocked() error {
	switch {
	case m.terminal && m.lastFailure != nil:
		return m.lastFailure
	case m.lastReason == ReasonClientClose:
		return ErrClosed
	default:
		return ErrNotOpen
	}
}

// handleFailure applies a send or receive failure of session s. It reports
// whether the session ended and the transport should be closed.
func (m *Machine) handleFailure(s *session, name string, f *failure.Error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Stale session, or another caller already reported the loss.
	if m.sess != s || m.state != StateConnected {
		return false
	}
	m.traceErrorLocked(name, f)

	if !f.Retryable() {
		m.failSessionLocked(s, ReasonConnectionFailed, f)
		return true
	}
	return m.beginRetryLocked(s, f, true)
}

// beginRetryLocked starts a disconnection episode with its first failure.
// It reports whether the policy refused to retry and ended the session.
func (m *Machine) beginRetryLocked(s *session, f *failure.Error, fromConnected bool) bool {
	h, d := m.policy.Next(retry.History{}, f, time.Now())
	m.history = h
	m.traceRetryLocked(h.Attempts(), f, d)

	if !d.ShouldRetry {
		m.failSessionLocked(s, stopReason(f, d), f)
		return true
	}

	reason := ReasonCommunicationError
	if f.NoNetwork {
		reason = ReasonNoNetwork
	}
	m.transitionLocked(StateDisconnectedRetrying, reason, f)

	s.wg.Add(1)
	go m.reconnectLoop(s, d.Wait, fromConnected)
	return false
}

// reconnectLoop reopens the transport until it succeeds, the policy stops,
// or the session ends.
func (m *Machine) reconnectLoop(s *session, wait time.Duration, closeFirst bool) {
	// Deliver after leaving s.wg so an observer may call Close.
	defer m.dispatch.flush()
	defer s.wg.Done()

	if closeFirst {
		m.closeTransport()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}

		err := m.attempt(s.ctx, s.ctx, "reconnect", m.transport.Open)

		m.mu.Lock()
		if m.sess != s {
			m.mu.Unlock()
			return
		}
		if err == nil {
			m.history = m.history.Clear()
			m.transitionLocked(StateConnected, ReasonConnectionOK, nil)
			m.mu.Unlock()
			return
		}

		f := failure.FromError(err)
		m.traceErrorLocked("reconnect", f)
		h, d := m.policy.Next(m.history, f, time.Now())
		m.history = h
		m.traceRetryLocked(h.Attempts(), f, d)
		if !d.ShouldRetry {
			m.failSessionLocked(s, stopReason(f, d), f)
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		timer.Reset(d.Wait)
	}
}

func stopReason(f *failure.Error, d retry.Decision) Reason {
	switch {
	case d.Reason == retry.ReasonNonRetryable:
		return ReasonConnectionFailed
	case f.NoNetwork:
		return ReasonNoNetwork
	default:
		return ReasonRetryExpired
	}
}

// attempt runs one transport operation bounded by the operation timeout,
// the caller's ctx and the session. Running out of operation time is a
// TransportConnectionLost failure.
func (m *Machine) attempt(ctx, sctx context.Context, name string, fn func(context.Context) error) error {
	actx, cancel := context.WithTimeout(ctx, m.cfg.OperationTimeout)
	defer cancel()
	stop := context.AfterFunc(sctx, cancel)
	defer stop()

	err := fn(actx)
	if err != nil && ctx.Err() == nil && sctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return failure.Timeout(name, err)
	}
	return err
}

func (m *Machine) closeTransport() {
	if err := m.transport.Close(); err != nil {
		m.logger.Debug("transport close failed", "error", err)
	}
}

// failSessionLocked ends s with a terminal DISCONNECTED.
func (m *Machine) failSessionLocked(s *session, reason Reason, f *failure.Error) {
	m.endSessionLocked(s, f)
	m.terminal = true
	m.lastFailure = f
	m.transitionLocked(StateDisconnected, reason, f)
}

func (m *Machine) endSessionLocked(s *session, err error) {
	s.err = err
	s.cancel()
	m.sess = nil
}

// transitionLocked is the only place the state changes. Every call emits
// exactly one notification.
func (m *Machine) transitionLocked(to State, reason Reason, cause *failure.Error) {
	c := StatusChange{Old: m.state, New: to, Reason: reason, Cause: cause}
	m.state = to
	m.lastReason = reason
	close(m.changed)
	m.changed = make(chan struct{})

	ev := m.event(log.CategoryState)
	ev.StateChange = &log.StateChangeEvent{
		Entity:   log.StateEntityConnection,
		OldState: c.Old.String(),
		NewState: to.String(),
		Reason:   reason.String(),
	}
	attrs := []any{"old", c.Old, "new", to, "reason", reason}
	if cause != nil {
		ev.StateChange.Cause = cause.Category().String()
		attrs = append(attrs, "cause", cause)
	}
	m.events.Log(ev)
	m.metrics.transition(c)
	m.logger.Info("connection status changed", attrs...)

	m.dispatch.enqueue(c)
}

func (m *Machine) event(cat log.Category) log.Event {
	return log.Event{
		Timestamp: time.Now(),
		SessionID: m.sessionID,
		Layer:     log.LayerConnection,
		Category:  cat,
		Protocol:  m.cfg.Protocol,
		DeviceID:  m.cfg.DeviceID,
	}
}

func (m *Machine) traceErrorLocked(op string, f *failure.Error) {
	ev := m.event(log.CategoryError)
	ev.Error = &log.ErrorEventData{
		Layer:    log.LayerTransport,
		Message:  f.Error(),
		Kind:     f.Kind.String(),
		Category: f.Category().String(),
		Context:  op,
	}
	m.events.Log(ev)
}

func (m *Machine) traceRetryLocked(attempt int, f *failure.Error, d retry.Decision) {
	ev := m.event(log.CategoryRetry)
	ev.Retry = &log.RetryEvent{
		Attempt:     attempt,
		Category:    f.Category().String(),
		ShouldRetry: d.ShouldRetry,
		Wait:        d.Wait,
		Reason:      d.Reason.String(),
	}
	m.events.Log(ev)
	m.metrics.retry(f.Category().String(), d.ShouldRetry)
	m.logger.Debug("retry decision", "attempt", attempt, "category", f.Category(), "retry", d.ShouldRetry, "wait", d.Wait)
}

func (m *Machine) traceMessage(dir log.Direction, payload []byte, attempts int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var seq uint64
	if dir == log.DirectionOut {
		m.sendSeq++
		seq = m.sendSeq
	} else {
		m.recvSeq++
		seq = m.recvSeq
	}

	ev := m.event(log.CategoryMessage)
	ev.Direction = dir
	ev.Message = log.NewMessageEvent(seq, payload)
	ev.Message.Attempts = attempts
	m.events.Log(ev)
}
