package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/hublink-io/hublink-go/pkg/log"
)

func TestStatsAggregation(t *testing.T) {
	stats := newStats()
	for _, e := range sessionEvents() {
		stats.add(e)
	}

	if stats.TotalEvents != 7 {
		t.Errorf("expected 7 events, got %d", stats.TotalEvents)
	}
	if got := stats.EventsByCategory[log.CategoryState]; got != 3 {
		t.Errorf("expected 3 state events, got %d", got)
	}
	if got := stats.EventsByDirection[log.DirectionOut]; got != 1 {
		t.Errorf("expected 1 outgoing message, got %d", got)
	}
	if got := stats.EventsByDirection[log.DirectionIn]; got != 1 {
		t.Errorf("expected 1 incoming message, got %d", got)
	}
	if got := stats.ErrorsByCategory["TRANSIENT_NETWORK"]; got != 1 {
		t.Errorf("expected 1 transient error, got %d", got)
	}

	if len(stats.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(stats.Sessions))
	}
	for _, s := range stats.Sessions {
		if s.Messages != 2 || s.Retries != 1 || s.Disconnects != 1 {
			t.Errorf("unexpected session counts: %+v", s)
		}
		if s.LastState != "CONNECTED" {
			t.Errorf("expected last state CONNECTED, got %s", s.LastState)
		}
		if s.DeviceID != "dev-1" || s.Protocol != "mqtt_ws" {
			t.Errorf("unexpected session identity: %+v", s)
		}
	}
}

func TestRunStats(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"Total Events: 7",
		"CONNECTION:",
		"RETRY:",
		"Sessions: 1",
		"[3f2a9c1e]",
		"Device: dev-1 (mqtt_ws)",
		"Messages: 2, retries: 1, disconnects: 1",
		"Errors: 1",
		"TRANSIENT_NETWORK:",
		"Duration:   2s",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestRunStatsEmptyFile(t *testing.T) {
	path := createTestLogFile(t, nil)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Total Events: 0") {
		t.Errorf("expected zero events, got: %s", buf.String())
	}
	if strings.Contains(buf.String(), "Time Range") {
		t.Errorf("expected no time range for empty file, got: %s", buf.String())
	}
}
