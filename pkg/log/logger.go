package log

import "sync"

// Logger receives protocol trace events.
// Pass nil or NoopLogger to disable the trace.
type Logger interface {
	// Log records an event. Implementations must be thread-safe and must
	// not block for long; machines call Log on their notification path.
	Log(event Event)
}

// NoopLogger discards all events.
// NoopLogger is safe for concurrent use and usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// MemoryLogger keeps events in memory. Used by the interactive device
// shell and by tests.
type MemoryLogger struct {
	mu     sync.Mutex
	events []Event
}

// Log appends the event.
func (m *MemoryLogger) Log(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Events returns a copy of the recorded events.
func (m *MemoryLogger) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Compile-time interface satisfaction checks.
var (
	_ Logger = NoopLogger{}
	_ Logger = (*MemoryLogger)(nil)
)
