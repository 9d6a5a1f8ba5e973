package status

import (
	"fmt"
	"strconv"
	"time"
)

// Family identifies which protocol a Code came from.
type Family uint8

const (
	// FamilyHTTP is an HTTP response status (HTTPS transport, WebSocket handshake).
	FamilyHTTP Family = iota

	// FamilyAMQP is a symbolic AMQP 1.0 error condition.
	FamilyAMQP

	// FamilyMQTT is an MQTT v3.1.1 CONNACK return code.
	FamilyMQTT
)

// String returns the family name.
func (f Family) String() string {
	switch f {
	case FamilyHTTP:
		return "HTTP"
	case FamilyAMQP:
		return "AMQP"
	case FamilyMQTT:
		return "MQTT"
	default:
		return "UNKNOWN"
	}
}

// Code is an opaque transport-reported failure code.
type Code struct {
	Family Family

	// Number holds numeric codes (HTTP status, MQTT return code).
	Number int

	// Symbol holds symbolic codes (AMQP condition).
	Symbol string

	// Detail is the transport's own description, preserved verbatim.
	Detail string
}

// HTTPStatus returns a Code for an HTTP response status.
func HTTPStatus(status int, detail string) Code {
	return Code{Family: FamilyHTTP, Number: status, Detail: detail}
}

// AMQPCondition returns a Code for a symbolic AMQP error condition.
func AMQPCondition(condition, detail string) Code {
	return Code{Family: FamilyAMQP, Symbol: condition, Detail: detail}
}

// MQTTReturnCode returns a Code for an MQTT CONNACK return code.
func MQTTReturnCode(rc byte, detail string) Code {
	return Code{Family: FamilyMQTT, Number: int(rc), Detail: detail}
}

// String returns a compact representation such as "HTTP 429".
func (c Code) String() string {
	if c.Family == FamilyAMQP {
		return fmt.Sprintf("%s %s", c.Family, c.Symbol)
	}
	return fmt.Sprintf("%s %s", c.Family, strconv.Itoa(c.Number))
}

// CodeError is returned by transports that received a coded failure from the
// service. The connection and provisioning machines classify it through
// ClassifyError.
type CodeError struct {
	Code Code

	// RetryAfter is the service's retry-after hint, zero if absent.
	RetryAfter time.Duration

	// Err is the underlying transport error, if any.
	Err error
}

func (e *CodeError) Error() string {
	if e.Code.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Code.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code.String()
}

func (e *CodeError) Unwrap() error {
	return e.Err
}
