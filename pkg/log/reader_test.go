package log

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func createTestTrace(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.hlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create test trace: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()
	return path
}

func TestReaderIteratesEvents(t *testing.T) {
	path := createTestTrace(t, []Event{
		{Timestamp: time.Now(), SessionID: "s-1", Category: CategoryState},
		{Timestamp: time.Now(), SessionID: "s-2", Category: CategoryMessage},
		{Timestamp: time.Now(), SessionID: "s-3", Category: CategoryError},
	})

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	var read []Event
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		read = append(read, event)
	}

	if len(read) != 3 {
		t.Fatalf("got %d events, want 3", len(read))
	}
	if read[0].SessionID != "s-1" || read[2].SessionID != "s-3" {
		t.Errorf("events out of order: %q .. %q", read[0].SessionID, read[2].SessionID)
	}
}

func TestReaderHandlesEmptyFile(t *testing.T) {
	path := createTestTrace(t, nil)

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	if _, err := reader.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next on empty file: got %v, want io.EOF", err)
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "nope.hlog")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFilteredReader(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := DirectionOut
	layer := LayerProvisioning
	cat := CategoryRetry
	start := base.Add(time.Second)
	end := base.Add(3 * time.Second)

	events := []Event{
		{Timestamp: base, SessionID: "a", Layer: LayerConnection, Category: CategoryState, Protocol: "https"},
		{Timestamp: base.Add(1 * time.Second), SessionID: "a", Direction: DirectionOut, Layer: LayerConnection, Category: CategoryMessage, Protocol: "https", DeviceID: "dev-1"},
		{Timestamp: base.Add(2 * time.Second), SessionID: "b", Layer: LayerProvisioning, Category: CategoryRetry, Protocol: "mqtt_ws"},
		{Timestamp: base.Add(3 * time.Second), SessionID: "b", Layer: LayerProvisioning, Category: CategoryState, Protocol: "mqtt_ws"},
	}
	path := createTestTrace(t, events)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"session", Filter{SessionID: "b"}, 2},
		{"direction", Filter{Direction: &out}, 1},
		{"layer", Filter{Layer: &layer}, 2},
		{"category", Filter{Category: &cat}, 1},
		{"time window", Filter{Since: start, Until: end}, 2},
		{"since only", Filter{Since: end}, 1},
		{"device", Filter{DeviceID: "dev-1"}, 1},
		{"protocol", Filter{Protocol: "https"}, 2},
		{"no match", Filter{SessionID: "zzz"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadAll(path, tt.filter)
			if err != nil {
				t.Fatalf("ReadAll failed: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d events, want %d", len(got), tt.want)
			}
		})
	}
}

func TestReaderStopsAtPartialRecord(t *testing.T) {
	path := createTestTrace(t, []Event{
		{Timestamp: time.Now(), SessionID: "s-1", Category: CategoryState},
		{Timestamp: time.Now(), SessionID: "s-2", Category: CategoryMessage},
	})
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, info.Size()-3); err != nil {
		t.Fatal(err)
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	if _, err := reader.Next(); err != nil {
		t.Fatalf("first event: %v", err)
	}
	if _, err := reader.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("partial record: got %v, want io.EOF", err)
	}
	if !reader.Truncated() {
		t.Error("Truncated() = false after partial record")
	}
	if reader.Scanned() != 1 {
		t.Errorf("Scanned() = %d, want 1", reader.Scanned())
	}
}

func TestReaderCountsSkippedEvents(t *testing.T) {
	path := createTestTrace(t, []Event{
		{Timestamp: time.Now(), SessionID: "a"},
		{Timestamp: time.Now(), SessionID: "b"},
		{Timestamp: time.Now(), SessionID: "a"},
	})

	reader, err := NewFilteredReader(path, Filter{SessionID: "b"})
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer reader.Close()

	ev, err := reader.Next()
	if err != nil || ev.SessionID != "b" {
		t.Fatalf("Next = %+v, %v", ev, err)
	}
	if _, err := reader.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("got %v, want io.EOF", err)
	}
	if reader.Scanned() != 3 || reader.Truncated() {
		t.Errorf("Scanned() = %d, Truncated() = %v", reader.Scanned(), reader.Truncated())
	}
}
