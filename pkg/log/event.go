package log

import "time"

// MaxDataSize is the number of payload bytes kept in a MessageEvent.
const MaxDataSize = 256

// Event is one entry of the protocol trace.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the machine instance that emitted the event (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Direction indicates message flow. Only meaningful for messages.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Protocol is the transport protocol name (https, amqps_ws, mqtt_ws).
	Protocol string `cbor:"6,keyasint,omitempty"`

	// DeviceID is the device identity, if known.
	DeviceID string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Message     *MessageEvent     `cbor:"10,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"`
	Retry       *RetryEvent       `cbor:"12,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates a message received from the hub.
	DirectionIn Direction = 0
	// DirectionOut indicates a message sent to the hub.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which component captured the event.
type Layer uint8

const (
	// LayerTransport is the wire transport (HTTPS, WebSocket).
	LayerTransport Layer = 0
	// LayerConnection is the connection state machine.
	LayerConnection Layer = 1
	// LayerProvisioning is the registration state machine.
	LayerProvisioning Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerConnection:
		return "CONNECTION"
	case LayerProvisioning:
		return "PROVISIONING"
	default:
		return "UNKNOWN"
	}
}

// ParseLayer parses a layer name as printed by String.
func ParseLayer(s string) (Layer, bool) {
	for _, l := range []Layer{LayerTransport, LayerConnection, LayerProvisioning} {
		if l.String() == s {
			return l, true
		}
	}
	return 0, false
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a payload exchange.
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryRetry indicates a retry decision.
	CategoryRetry Category = 2
	// CategoryError indicates a failure.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryRetry:
		return "RETRY"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseCategory parses a category name as printed by String.
func ParseCategory(s string) (Category, bool) {
	for _, c := range []Category{CategoryMessage, CategoryState, CategoryRetry, CategoryError} {
		if c.String() == s {
			return c, true
		}
	}
	return 0, false
}

// MessageEvent captures a payload exchanged with the hub.
type MessageEvent struct {
	// Sequence numbers messages within a session, starting at 1.
	Sequence uint64 `cbor:"1,keyasint"`

	// Size is the full payload size in bytes.
	Size int `cbor:"2,keyasint"`

	// Data is the payload (truncated to MaxDataSize).
	Data []byte `cbor:"3,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"4,keyasint,omitempty"`

	// Attempts is the number of send attempts it took (outgoing only).
	Attempts int `cbor:"5,keyasint,omitempty"`
}

// NewMessageEvent builds a MessageEvent, truncating data to MaxDataSize.
func NewMessageEvent(seq uint64, data []byte) *MessageEvent {
	ev := &MessageEvent{Sequence: seq, Size: len(data)}
	if len(data) > MaxDataSize {
		ev.Data = append([]byte(nil), data[:MaxDataSize]...)
		ev.Truncated = true
	} else if len(data) > 0 {
		ev.Data = append([]byte(nil), data...)
	}
	return ev
}

// StateChangeEvent captures a connection or registration state transition.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state.
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change.
	Reason string `cbor:"4,keyasint,omitempty"`

	// Cause is the failure category behind the change, if any.
	Cause string `cbor:"5,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a hub connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityRegistration indicates a provisioning registration change.
	StateEntityRegistration StateEntity = 1
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityRegistration:
		return "REGISTRATION"
	default:
		return "UNKNOWN"
	}
}

// RetryEvent captures one retry policy decision.
type RetryEvent struct {
	// Attempt is the 1-based attempt number within the episode.
	Attempt int `cbor:"1,keyasint"`

	// Category of the failure being decided on.
	Category string `cbor:"2,keyasint"`

	// ShouldRetry is the decision.
	ShouldRetry bool `cbor:"3,keyasint"`

	// Wait before the next attempt. Stored as nanoseconds.
	Wait time.Duration `cbor:"4,keyasint,omitempty"`

	// Reason explains the decision.
	Reason string `cbor:"5,keyasint,omitempty"`
}

// ErrorEventData captures a classified failure.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Kind is the failure kind name.
	Kind string `cbor:"3,keyasint,omitempty"`

	// Category is the status category name.
	Category string `cbor:"4,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"5,keyasint,omitempty"`
}
