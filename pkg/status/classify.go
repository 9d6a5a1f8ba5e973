package status

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"time"
)

// Result is the outcome of classifying a Go error.
type Result struct {
	Category Category

	// Detail is the transport's description, if one was available.
	Detail string

	// RetryAfter is the service's retry-after hint, zero if absent.
	RetryAfter time.Duration

	// NoNetwork is set when the failure indicates the network itself is
	// unavailable (DNS failure, unreachable network or host).
	NoNetwork bool
}

// Classify maps a transport failure code to its category and returns the
// preserved detail string. Unknown codes map to CategoryUnknown.
func Classify(c Code) (Category, string) {
	switch c.Family {
	case FamilyHTTP:
		return classifyHTTP(c.Number), c.Detail
	case FamilyAMQP:
		return classifyAMQP(c.Symbol), c.Detail
	case FamilyMQTT:
		return classifyMQTT(c.Number), c.Detail
	default:
		return CategoryUnknown, c.Detail
	}
}

func classifyHTTP(code int) Category {
	switch code {
	case 400, 413, 415:
		return CategoryBadRequest
	case 401, 403:
		return CategoryUnauthorized
	case 404:
		return CategoryNotFound
	case 408:
		return CategoryTransientNetwork
	case 429:
		return CategoryThrottled
	}
	if code >= 500 && code <= 599 {
		return CategoryServerError
	}
	return CategoryUnknown
}

var amqpConditions = map[string]Category{
	"amqp:unauthorized-access":                  CategoryUnauthorized,
	"com.microsoft:unauthorized-access":         CategoryUnauthorized,
	"amqp:not-found":                            CategoryNotFound,
	"com.microsoft:device-not-found":            CategoryNotFound,
	"amqp:resource-limit-exceeded":              CategoryThrottled,
	"com.microsoft:device-container-throttled":  CategoryThrottled,
	"com.microsoft:iot-hub-suspended":           CategoryServerError,
	"amqp:internal-error":                       CategoryServerError,
	"com.microsoft:timeout":                     CategoryServerError,
	"amqp:connection:forced":                    CategoryTransientNetwork,
	"amqp:connection:framing-error":             CategoryTransientNetwork,
	"amqp:link:detach-forced":                   CategoryTransientNetwork,
	"amqp:link:stolen":                          CategoryTransientNetwork,
	"amqp:session:window-violation":             CategoryTransientNetwork,
	"amqp:decode-error":                         CategoryBadRequest,
	"amqp:invalid-field":                        CategoryBadRequest,
	"amqp:not-allowed":                          CategoryBadRequest,
	"amqp:not-implemented":                      CategoryBadRequest,
	"amqp:precondition-failed":                  CategoryBadRequest,
	"amqp:link:message-size-exceeded":           CategoryBadRequest,
	"com.microsoft:argument-error":              CategoryBadRequest,
	"com.microsoft:argument-out-of-range-error": CategoryBadRequest,
}

func classifyAMQP(condition string) Category {
	if c, ok := amqpConditions[strings.ToLower(condition)]; ok {
		return c
	}
	return CategoryUnknown
}

// MQTT v3.1.1 CONNACK return codes.
const (
	mqttBadProtocolVersion  = 1
	mqttIdentifierRejected  = 2
	mqttServerUnavailable   = 3
	mqttBadUsernamePassword = 4
	mqttNotAuthorized       = 5
)

func classifyMQTT(rc int) Category {
	switch rc {
	case mqttBadProtocolVersion:
		return CategoryBadRequest
	case mqttIdentifierRejected:
		return CategoryNotFound
	case mqttServerUnavailable:
		return CategoryServerError
	case mqttBadUsernamePassword, mqttNotAuthorized:
		return CategoryUnauthorized
	default:
		return CategoryUnknown
	}
}

// ClassifyError classifies an arbitrary error returned by a transport.
// A *CodeError anywhere in the chain takes precedence; otherwise network,
// timeout and EOF conditions are recognised. Everything else is UNKNOWN.
func ClassifyError(err error) Result {
	if err == nil {
		return Result{Category: CategoryUnknown}
	}

	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		cat, detail := Classify(codeErr.Code)
		return Result{Category: cat, Detail: detail, RetryAfter: codeErr.RetryAfter}
	}

	detail := err.Error()

	if isNoNetwork(err) {
		return Result{Category: CategoryTransientNetwork, Detail: detail, NoNetwork: true}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ETIMEDOUT):
		return Result{Category: CategoryTransientNetwork, Detail: detail}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Result{Category: CategoryTransientNetwork, Detail: detail}
	}

	return Result{Category: CategoryUnknown, Detail: detail}
}

func isNoNetwork(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETDOWN)
}
