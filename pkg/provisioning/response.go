package provisioning

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnparseable is wrapped by ParseResponse errors.
var ErrUnparseable = errors.New("unparseable provisioning response")

// OperationStatus is the service-side status of a registration operation.
type OperationStatus uint8

const (
	// StatusNone means no status was observed yet.
	StatusNone OperationStatus = iota
	StatusUnassigned
	StatusAssigning
	StatusAssigned
	StatusFailed
	StatusDisabled
)

var operationStatusNames = [...]string{
	StatusNone:       "",
	StatusUnassigned: "unassigned",
	StatusAssigning:  "assigning",
	StatusAssigned:   "assigned",
	StatusFailed:     "failed",
	StatusDisabled:   "disabled",
}

func (s OperationStatus) String() string {
	if int(s) < len(operationStatusNames) {
		return operationStatusNames[s]
	}
	return fmt.Sprintf("OperationStatus(%d)", s)
}

// ParseOperationStatus parses a status name, ignoring case.
func ParseOperationStatus(s string) (OperationStatus, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range operationStatusNames {
		if i > 0 && name == s {
			return OperationStatus(i), true
		}
	}
	return StatusNone, false
}

// IsTerminal reports whether polling stops at this status.
func (s OperationStatus) IsTerminal() bool {
	return s == StatusAssigned || s == StatusFailed || s == StatusDisabled
}

// Response is a raw response from the provisioning transport.
type Response struct {
	Body []byte

	// RetryAfter is the service's retry-after hint, zero if absent.
	RetryAfter time.Duration
}

// Result is a parsed provisioning response.
type Result struct {
	OperationID    string
	Status         OperationStatus
	RegistrationID string
	AssignedHub    string
	DeviceID       string

	// Set when Status is StatusFailed.
	ErrorCode    int
	ErrorMessage string

	// RetryAfter is copied from the Response.
	RetryAfter time.Duration
}

type wireResponse struct {
	OperationID       string                 `json:"operationId"`
	Status            string                 `json:"status"`
	RegistrationState *wireRegistrationState `json:"registrationState,omitempty"`
}

type wireRegistrationState struct {
	RegistrationID string `json:"registrationId"`
	AssignedHub    string `json:"assignedHub"`
	DeviceID       string `json:"deviceId"`
	Status         string `json:"status"`
	ErrorCode      int    `json:"errorCode"`
	ErrorMessage   string `json:"errorMessage"`
}

// ParseResponse parses a provisioning service payload. The operation status
// is taken from the top-level status, falling back to the registration
// state's status. A non-terminal status without an operation id cannot be
// polled and is rejected.
func ParseResponse(resp Response) (Result, error) {
	var w wireResponse
	if err := json.Unmarshal(resp.Body, &w); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	raw := w.Status
	if raw == "" && w.RegistrationState != nil {
		raw = w.RegistrationState.Status
	}
	st, ok := ParseOperationStatus(raw)
	if !ok {
		return Result{}, fmt.Errorf("%w: unknown status %q", ErrUnparseable, raw)
	}
	if !st.IsTerminal() && w.OperationID == "" {
		return Result{}, fmt.Errorf("%w: %s without operation id", ErrUnparseable, st)
	}

	res := Result{
		OperationID: w.OperationID,
		Status:      st,
		RetryAfter:  resp.RetryAfter,
	}
	if rs := w.RegistrationState; rs != nil {
		res.RegistrationID = rs.RegistrationID
		res.AssignedHub = rs.AssignedHub
		res.DeviceID = rs.DeviceID
		res.ErrorCode = rs.ErrorCode
		res.ErrorMessage = rs.ErrorMessage
	}
	return res, nil
}
