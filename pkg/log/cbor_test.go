package log

import (
	"bytes"
	"testing"
	"time"
)

func TestEventCBORRoundTrip(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456789, time.UTC)
	original := Event{
		Timestamp: ts,
		SessionID: "abc12345-def6-7890-abcd-ef1234567890",
		Direction: DirectionOut,
		Layer:     LayerConnection,
		Category:  CategoryState,
		Protocol:  "mqtt_ws",
		DeviceID:  "device-001",
		StateChange: &StateChangeEvent{
			Entity:   StateEntityConnection,
			OldState: "CONNECTED",
			NewState: "DISCONNECTED_RETRYING",
			Reason:   "COMMUNICATION_ERROR",
			Cause:    "TRANSIENT_NETWORK",
		},
	}

	data, err := EncodeEvent(original)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if !decoded.Timestamp.Equal(original.Timestamp) {
		t.Errorf("Timestamp: got %v, want %v (nanoseconds must survive)", decoded.Timestamp, original.Timestamp)
	}
	if decoded.SessionID != original.SessionID {
		t.Errorf("SessionID: got %q, want %q", decoded.SessionID, original.SessionID)
	}
	if decoded.Protocol != original.Protocol {
		t.Errorf("Protocol: got %q, want %q", decoded.Protocol, original.Protocol)
	}
	if decoded.StateChange == nil {
		t.Fatal("StateChange is nil")
	}
	if *decoded.StateChange != *original.StateChange {
		t.Errorf("StateChange: got %+v, want %+v", *decoded.StateChange, *original.StateChange)
	}
	if decoded.Message != nil || decoded.Retry != nil || decoded.Error != nil {
		t.Error("unset payloads should stay nil")
	}
}

func TestRetryEventCBORRoundTrip(t *testing.T) {
	original := Event{
		Timestamp: time.Now(),
		Layer:     LayerProvisioning,
		Category:  CategoryRetry,
		Retry: &RetryEvent{
			Attempt:     3,
			Category:    "THROTTLED",
			ShouldRetry: true,
			Wait:        5 * time.Second,
			Reason:      "THROTTLED",
		},
	}

	data, err := EncodeEvent(original)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if decoded.Retry == nil || *decoded.Retry != *original.Retry {
		t.Errorf("Retry: got %+v, want %+v", decoded.Retry, original.Retry)
	}
}

func TestEventUsesIntegerKeys(t *testing.T) {
	data, err := EncodeEvent(Event{SessionID: "s"})
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	if bytes.Contains(data, []byte("SessionID")) {
		t.Error("encoded event contains field names, want integer keys")
	}
}

func TestStreamEncoderDecoder(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for i := 1; i <= 3; i++ {
		if err := enc.Encode(Event{Category: CategoryMessage, Message: NewMessageEvent(uint64(i), []byte("x"))}); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
	}

	dec := NewDecoder(&buf)
	for i := 1; i <= 3; i++ {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			t.Fatalf("Decode %d failed: %v", i, err)
		}
		if ev.Message == nil || ev.Message.Sequence != uint64(i) {
			t.Errorf("event %d: got %+v", i, ev.Message)
		}
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	if _, err := DecodeEvent([]byte{0xff, 0x00}); err == nil {
		t.Error("expected error decoding garbage")
	}
}
