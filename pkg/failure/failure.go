package failure

import (
	"errors"
	"fmt"
	"time"

	"github.com/hublink-io/hublink-go/pkg/status"
)

// Kind identifies a failure in the closed hierarchy.
type Kind uint8

const (
	// KindUnknown is an unclassified failure.
	KindUnknown Kind = iota

	// KindAuthenticationFailed means the service rejected the credentials.
	KindAuthenticationFailed

	// KindHubOrDeviceNotFound means the hub or device identity does not exist.
	KindHubOrDeviceNotFound

	// KindThrottled means the service is rate limiting the client.
	KindThrottled

	// KindServiceInternalError means the service failed internally.
	KindServiceInternalError

	// KindTransportConnectionLost means the connection dropped or timed out.
	KindTransportConnectionLost

	// KindMessageRejected means the service refused a malformed request.
	KindMessageRejected
)

var kindNames = [...]string{
	KindUnknown:                 "Unknown",
	KindAuthenticationFailed:    "AuthenticationFailed",
	KindHubOrDeviceNotFound:     "HubOrDeviceNotFound",
	KindThrottled:               "Throttled",
	KindServiceInternalError:    "ServiceInternalError",
	KindTransportConnectionLost: "TransportConnectionLost",
	KindMessageRejected:         "MessageRejected",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// kindCategories fixes the category of every kind.
var kindCategories = [...]status.Category{
	KindUnknown:                 status.CategoryUnknown,
	KindAuthenticationFailed:    status.CategoryUnauthorized,
	KindHubOrDeviceNotFound:     status.CategoryNotFound,
	KindThrottled:               status.CategoryThrottled,
	KindServiceInternalError:    status.CategoryServerError,
	KindTransportConnectionLost: status.CategoryTransientNetwork,
	KindMessageRejected:         status.CategoryBadRequest,
}

// Category returns the status category the kind is fixed to.
func (k Kind) Category() status.Category {
	if int(k) < len(kindCategories) {
		return kindCategories[k]
	}
	return status.CategoryUnknown
}

// KindOf returns the kind a category maps to.
func KindOf(c status.Category) Kind {
	switch c {
	case status.CategoryUnauthorized:
		return KindAuthenticationFailed
	case status.CategoryNotFound:
		return KindHubOrDeviceNotFound
	case status.CategoryThrottled:
		return KindThrottled
	case status.CategoryServerError:
		return KindServiceInternalError
	case status.CategoryTransientNetwork:
		return KindTransportConnectionLost
	case status.CategoryBadRequest:
		return KindMessageRejected
	default:
		return KindUnknown
	}
}

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrUnknown                 = errors.New("unknown failure")
	ErrAuthenticationFailed    = errors.New("authentication failed")
	ErrHubOrDeviceNotFound     = errors.New("hub or device not found")
	ErrThrottled               = errors.New("throttled")
	ErrServiceInternalError    = errors.New("service internal error")
	ErrTransportConnectionLost = errors.New("transport connection lost")
	ErrMessageRejected         = errors.New("message rejected")
)

var kindSentinels = [...]error{
	KindUnknown:                 ErrUnknown,
	KindAuthenticationFailed:    ErrAuthenticationFailed,
	KindHubOrDeviceNotFound:     ErrHubOrDeviceNotFound,
	KindThrottled:               ErrThrottled,
	KindServiceInternalError:    ErrServiceInternalError,
	KindTransportConnectionLost: ErrTransportConnectionLost,
	KindMessageRejected:         ErrMessageRejected,
}

// Error is a typed failure. It is plain data: constructing one never fails.
type Error struct {
	Kind    Kind
	Message string

	// Cause is the underlying error, if any.
	Cause error

	// RetryAfter is the service's retry-after hint, zero if absent.
	RetryAfter time.Duration

	// Detail is the transport's own description of the failure.
	Detail string

	// NoNetwork is set when the network itself was unavailable.
	NoNetwork bool
}

// New creates a failure of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a failure of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Category returns the fixed status category of the failure's kind.
func (e *Error) Category() status.Category {
	return e.Kind.Category()
}

// Retryable reports whether the failure's category allows a retry.
func (e *Error) Retryable() bool {
	return e.Category().IsRetryable()
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = kindSentinels[e.kindIndex()].Error()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, e.Category(), msg, e.Cause)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Category(), msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the kind's sentinel.
func (e *Error) Is(target error) bool {
	return target == kindSentinels[e.kindIndex()]
}

func (e *Error) kindIndex() Kind {
	if int(e.Kind) < len(kindSentinels) {
		return e.Kind
	}
	return KindUnknown
}
