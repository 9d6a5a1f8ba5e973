package commands

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hublink-io/hublink-go/pkg/log"
)

// createTestLogFile writes events to a temporary trace file.
func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.hlog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}
	return path
}

// sessionEvents is a short reconnecting session: connect, send, lose the
// connection, retry once and reconnect.
func sessionEvents() []log.Event {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	at := func(ms int) time.Time { return base.Add(time.Duration(ms) * time.Millisecond) }
	common := func(ms int, layer log.Layer, cat log.Category) log.Event {
		return log.Event{
			Timestamp: at(ms),
			SessionID: "3f2a9c1e-0000-4000-8000-000000000001",
			Layer:     layer,
			Category:  cat,
			Protocol:  "mqtt_ws",
			DeviceID:  "dev-1",
		}
	}

	connected := common(0, log.LayerConnection, log.CategoryState)
	connected.StateChange = &log.StateChangeEvent{
		Entity:   log.StateEntityConnection,
		OldState: "DISCONNECTED",
		NewState: "CONNECTED",
		Reason:   "CONNECTION_OK",
	}

	sent := common(10, log.LayerConnection, log.CategoryMessage)
	sent.Direction = log.DirectionOut
	sent.Message = log.NewMessageEvent(1, []byte(`{"temperature":21.5}`))

	lost := common(20, log.LayerConnection, log.CategoryError)
	lost.Error = &log.ErrorEventData{
		Layer:    log.LayerConnection,
		Message:  "connection reset by peer",
		Kind:     "TransportConnectionLost",
		Category: "TRANSIENT_NETWORK",
		Context:  "receive",
	}

	retrying := common(21, log.LayerConnection, log.CategoryState)
	retrying.StateChange = &log.StateChangeEvent{
		Entity:   log.StateEntityConnection,
		OldState: "CONNECTED",
		NewState: "DISCONNECTED_RETRYING",
		Reason:   "COMMUNICATION_ERROR",
		Cause:    "TRANSIENT_NETWORK",
	}

	retry := common(22, log.LayerConnection, log.CategoryRetry)
	retry.Retry = &log.RetryEvent{
		Attempt:     1,
		Category:    "TRANSIENT_NETWORK",
		ShouldRetry: true,
		Wait:        1500 * time.Millisecond,
		Reason:      "retryable",
	}

	reconnected := common(1600, log.LayerConnection, log.CategoryState)
	reconnected.StateChange = &log.StateChangeEvent{
		Entity:   log.StateEntityConnection,
		OldState: "DISCONNECTED_RETRYING",
		NewState: "CONNECTED",
		Reason:   "CONNECTION_OK",
	}

	received := common(1700, log.LayerConnection, log.CategoryMessage)
	received.Direction = log.DirectionIn
	received.Message = log.NewMessageEvent(2, []byte{0x00, 0xff})

	return []log.Event{connected, sent, lost, retrying, retry, reconnected, received}
}
