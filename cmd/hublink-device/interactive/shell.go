// Package interactive provides the interactive command-line interface
// for hublink-device.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/hublink-io/hublink-go/pkg/connection"
	"github.com/hublink-io/hublink-go/pkg/failure"
	"github.com/hublink-io/hublink-go/pkg/provisioning"
	"github.com/hublink-io/hublink-go/pkg/telemetry"
)

// DefaultTimeout bounds send and receive commands.
const DefaultTimeout = 10 * time.Second

// Config wires the shell to the device.
type Config struct {
	// Machine returns the hub connection, building it on first use.
	Machine func() (*connection.Machine, error)

	// Register runs device registration. Optional.
	Register func(ctx context.Context) (provisioning.Result, error)

	// Metrics returns the current counters. Optional.
	Metrics func(ctx context.Context) ([]telemetry.Counter, error)

	// Timeout bounds send and receive. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// Shell handles interactive mode for hublink-device.
type Shell struct {
	config Config

	mu       sync.Mutex
	out      io.Writer
	watching bool
}

// New creates a shell.
func New(cfg Config) (*Shell, error) {
	if cfg.Machine == nil {
		return nil, errors.New("interactive: Machine is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Shell{config: cfg}, nil
}

// Run starts the interactive command loop. It returns when the user quits,
// input ends or ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "hublink> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	s.setOutput(rl.Stdout())
	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if s.Exec(ctx, line) {
			return nil
		}
	}
}

func (s *Shell) setOutput(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = w
}

// printf writes to the shell output. Status updates arrive on the
// dispatcher goroutine, so writes are serialized.
func (s *Shell) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return
	}
	fmt.Fprintf(s.out, format, args...)
}

// Exec runs one command line and reports whether the shell should exit.
func (s *Shell) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()

	case "open":
		s.cmdOpen(ctx)

	case "send":
		s.cmdSend(ctx, args)

	case "receive", "recv":
		s.cmdReceive(ctx)

	case "close":
		s.cmdClose()

	case "status":
		s.cmdStatus()

	case "history":
		s.cmdHistory()

	case "register":
		s.cmdRegister(ctx)

	case "metrics":
		s.cmdMetrics(ctx)

	case "quit", "exit", "q":
		s.printf("Exiting...\n")
		return true

	default:
		s.printf("Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (s *Shell) printHelp() {
	s.printf(`
hublink-device commands:
  open              - Connect to the hub
  send <text>       - Send a message
  receive           - Wait for one message from the hub
  close             - Disconnect
  status            - Show the connection state
  history           - Show the current reconnection attempts
  register          - Register with the provisioning service
  metrics           - Show connection and registration counters
  help              - Show this help
  quit              - Exit
`)
}

// machine returns the connection and subscribes the shell's status printer
// on first use.
func (s *Shell) machine() (*connection.Machine, bool) {
	m, err := s.config.Machine()
	if err != nil {
		s.printf("Error: %v\n", err)
		return nil, false
	}

	s.mu.Lock()
	subscribe := !s.watching
	s.watching = true
	s.mu.Unlock()
	if subscribe {
		m.OnStatusChange(s.printStatus)
	}
	return m, true
}

func (s *Shell) printStatus(c connection.StatusChange) {
	if c.Cause != nil {
		s.printf("[status] %s -> %s (%s): %v\n", c.Old, c.New, c.Reason, c.Cause)
		return
	}
	s.printf("[status] %s -> %s (%s)\n", c.Old, c.New, c.Reason)
}

func (s *Shell) cmdOpen(ctx context.Context) {
	m, ok := s.machine()
	if !ok {
		return
	}
	if err := m.Open(ctx); err != nil {
		s.printError("open", err)
		return
	}
	s.printf("Connected\n")
}

func (s *Shell) cmdSend(ctx context.Context, args []string) {
	if len(args) == 0 {
		s.printf("Usage: send <text>\n")
		return
	}
	m, ok := s.machine()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	if err := m.Send(ctx, []byte(strings.Join(args, " "))); err != nil {
		s.printError("send", err)
		return
	}
	s.printf("Sent\n")
}

func (s *Shell) cmdReceive(ctx context.Context) {
	m, ok := s.machine()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	payload, err := m.Receive(ctx)
	if err != nil {
		s.printError("receive", err)
		return
	}
	s.printf("Received %d bytes: %s\n", len(payload), payload)
}

func (s *Shell) cmdClose() {
	m, ok := s.machine()
	if !ok {
		return
	}
	if err := m.Close(); err != nil {
		s.printError("close", err)
		return
	}
	s.printf("Disconnected\n")
}

func (s *Shell) cmdStatus() {
	m, ok := s.machine()
	if !ok {
		return
	}
	s.printf("State: %s\n", m.State())
	if m.Terminal() {
		if f := m.LastFailure(); f != nil {
			s.printf("Last failure: %v (%s)\n", f, f.Category())
		}
	}
}

func (s *Shell) cmdHistory() {
	m, ok := s.machine()
	if !ok {
		return
	}
	h := m.History()
	if h.IsEmpty() {
		s.printf("No reconnection in progress\n")
		return
	}
	s.printf("%d attempts, %s elapsed\n", h.Attempts(), h.Elapsed(time.Now()).Round(time.Millisecond))
	for i, a := range h.Entries() {
		s.printf("  %2d  %s  %s\n", i+1, a.At.Format("15:04:05.000"), a.Category)
	}
}

func (s *Shell) cmdRegister(ctx context.Context) {
	if s.config.Register == nil {
		s.printf("Registration is not configured\n")
		return
	}
	res, err := s.config.Register(ctx)
	if err != nil {
		s.printError("register", err)
		return
	}
	s.printf("Assigned to %s as %s\n", res.AssignedHub, res.DeviceID)
}

func (s *Shell) cmdMetrics(ctx context.Context) {
	if s.config.Metrics == nil {
		s.printf("Metrics are not configured\n")
		return
	}
	counters, err := s.config.Metrics(ctx)
	if err != nil {
		s.printf("Error: %v\n", err)
		return
	}
	if len(counters) == 0 {
		s.printf("No metrics recorded\n")
		return
	}
	for _, c := range counters {
		s.printf("  %-36s %-40s %d\n", c.Name, c.Attributes, c.Value)
	}
}

func (s *Shell) printError(op string, err error) {
	s.printf("Error: %s failed: %v\n", op, err)
	var f *failure.Error
	if errors.As(err, &f) {
		s.printf("Category: %s, retryable: %v\n", f.Category(), f.Retryable())
	}
}
