package connection

import (
	"errors"

	"github.com/hublink-io/hublink-go/pkg/failure"
)

// Connection errors.
var (
	ErrClosed              = errors.New("connection closed")
	ErrNotOpen             = errors.New("connection not open")
	ErrAlreadyOpen         = errors.New("connection already open")
	ErrOpenInProgress      = errors.New("connection open in progress")
	ErrReceiveNotSupported = errors.New("transport does not support receive")
)

// State is the connectivity state of a Machine.
type State uint8

const (
	// StateDisconnected means no session is established. Initial state.
	StateDisconnected State = iota

	// StateConnected means the transport is open.
	StateConnected

	// StateDisconnectedRetrying means the session was lost and the machine
	// is reconnecting.
	StateDisconnectedRetrying
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnectedRetrying:
		return "DISCONNECTED_RETRYING"
	default:
		return "UNKNOWN"
	}
}

// Reason is the cause paired with a transition.
type Reason uint8

const (
	// ReasonConnectionOK means the transport opened.
	ReasonConnectionOK Reason = iota

	// ReasonConnectionFailed means a non-retryable failure ended the session.
	ReasonConnectionFailed

	// ReasonClientClose means the client called Close.
	ReasonClientClose

	// ReasonCommunicationError means a retryable failure interrupted the session.
	ReasonCommunicationError

	// ReasonRetryExpired means the retry policy gave up.
	ReasonRetryExpired

	// ReasonNoNetwork means the network itself is unavailable.
	ReasonNoNetwork
)

var reasonNames = [...]string{
	ReasonConnectionOK:       "CONNECTION_OK",
	ReasonConnectionFailed:   "CONNECTION_FAILED",
	ReasonClientClose:        "CLIENT_CLOSE",
	ReasonCommunicationError: "COMMUNICATION_ERROR",
	ReasonRetryExpired:       "RETRY_EXPIRED",
	ReasonNoNetwork:          "NO_NETWORK",
}

// String returns the reason name.
func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return "UNKNOWN"
}

// StatusChange describes one transition.
type StatusChange struct {
	Old    State
	New    State
	Reason Reason

	// Cause is the failure that triggered the transition, nil for
	// CONNECTION_OK and CLIENT_CLOSE.
	Cause *failure.Error
}
