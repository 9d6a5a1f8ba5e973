package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func logOne(t *testing.T, event Event) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	NewSlogAdapter(slog.New(handler)).Log(event)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output %q: %v", buf.String(), err)
	}
	return entry
}

func TestSlogAdapterLogsMessageEvent(t *testing.T) {
	entry := logOne(t, Event{
		Timestamp: time.Now(),
		SessionID: "session-123",
		Direction: DirectionOut,
		Layer:     LayerConnection,
		Category:  CategoryMessage,
		Protocol:  "https",
		Message:   &MessageEvent{Sequence: 7, Size: 256, Attempts: 2},
	})

	if entry["session"] != "session-123" {
		t.Errorf("session: got %v", entry["session"])
	}
	if entry["direction"] != "OUT" {
		t.Errorf("direction: got %v", entry["direction"])
	}
	if entry["seq"] != float64(7) || entry["size"] != float64(256) {
		t.Errorf("seq/size: got %v/%v", entry["seq"], entry["size"])
	}
	if entry["attempts"] != float64(2) {
		t.Errorf("attempts: got %v", entry["attempts"])
	}
	if entry["level"] != "DEBUG" {
		t.Errorf("level: got %v, want DEBUG", entry["level"])
	}
}

func TestSlogAdapterLogsStateChange(t *testing.T) {
	entry := logOne(t, Event{
		Layer:    LayerConnection,
		Category: CategoryState,
		StateChange: &StateChangeEvent{
			Entity:   StateEntityConnection,
			OldState: "CONNECTED",
			NewState: "DISCONNECTED",
			Reason:   "CONNECTION_FAILED",
			Cause:    "UNAUTHORIZED",
		},
	})

	if entry["new_state"] != "DISCONNECTED" || entry["reason"] != "CONNECTION_FAILED" {
		t.Errorf("state fields: %v", entry)
	}
	if entry["cause"] != "UNAUTHORIZED" {
		t.Errorf("cause: got %v", entry["cause"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("level: got %v, want INFO for a failure-driven change", entry["level"])
	}
}

func TestSlogAdapterLogsRetryEvent(t *testing.T) {
	entry := logOne(t, Event{
		Layer:    LayerProvisioning,
		Category: CategoryRetry,
		Retry:    &RetryEvent{Attempt: 2, Category: "THROTTLED", ShouldRetry: true, Wait: 5 * time.Second, Reason: "THROTTLED"},
	})

	if entry["attempt"] != float64(2) || entry["retry"] != true {
		t.Errorf("retry fields: %v", entry)
	}
	if entry["wait"] != float64(5*time.Second) {
		t.Errorf("wait: got %v", entry["wait"])
	}
}

func TestSlogAdapterLogsErrorAtWarn(t *testing.T) {
	entry := logOne(t, Event{
		Layer:    LayerTransport,
		Category: CategoryError,
		Error:    &ErrorEventData{Layer: LayerTransport, Message: "boom", Kind: "Throttled", Category: "THROTTLED", Context: "send"},
	})

	if entry["level"] != "WARN" {
		t.Errorf("level: got %v, want WARN", entry["level"])
	}
	if entry["error_kind"] != "Throttled" || entry["error_context"] != "send" {
		t.Errorf("error fields: %v", entry)
	}
}

func TestSlogAdapterNilLogger(t *testing.T) {
	a := NewSlogAdapter(nil)
	if a.logger == nil {
		t.Fatal("nil logger should fall back to slog.Default()")
	}
}
