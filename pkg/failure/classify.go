package failure

import (
	"errors"

	"github.com/hublink-io/hublink-go/pkg/status"
)

// FromCode builds the failure for a transport-reported code.
func FromCode(code status.Code, cause error) *Error {
	cat, detail := status.Classify(code)
	msg := detail
	if msg == "" {
		msg = code.String()
	}
	return &Error{
		Kind:    KindOf(cat),
		Message: msg,
		Cause:   cause,
		Detail:  detail,
	}
}

// FromError classifies err and returns the matching failure.
// An *Error already in the chain is returned as is; nil yields nil.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var f *Error
	if errors.As(err, &f) {
		return f
	}

	r := status.ClassifyError(err)
	return &Error{
		Kind:       KindOf(r.Category),
		Message:    r.Detail,
		Cause:      err,
		RetryAfter: r.RetryAfter,
		Detail:     r.Detail,
		NoNetwork:  r.NoNetwork,
	}
}

// Timeout returns the failure used when an operation's deadline expires.
func Timeout(op string, cause error) *Error {
	return &Error{
		Kind:    KindTransportConnectionLost,
		Message: op + " timed out",
		Cause:   cause,
	}
}

// CategoryOf returns the category of err, or CategoryUnknown when err is not
// a failure and cannot be classified.
func CategoryOf(err error) status.Category {
	if f := FromError(err); f != nil {
		return f.Category()
	}
	return status.CategoryUnknown
}
