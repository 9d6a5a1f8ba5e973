package provisioning

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationStatusString(t *testing.T) {
	assert.Equal(t, "assigning", StatusAssigning.String())
	assert.Equal(t, "disabled", StatusDisabled.String())
	assert.Equal(t, "OperationStatus(42)", OperationStatus(42).String())
}

func TestParseOperationStatus(t *testing.T) {
	tests := []struct {
		in   string
		want OperationStatus
		ok   bool
	}{
		{"assigned", StatusAssigned, true},
		{"Assigning", StatusAssigning, true},
		{" FAILED ", StatusFailed, true},
		{"unassigned", StatusUnassigned, true},
		{"", StatusNone, false},
		{"pending", StatusNone, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseOperationStatus(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOperationStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusNone.IsTerminal())
	assert.False(t, StatusUnassigned.IsTerminal())
	assert.False(t, StatusAssigning.IsTerminal())
	assert.True(t, StatusAssigned.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusDisabled.IsTerminal())
}

func TestParseResponseAssigning(t *testing.T) {
	res, err := ParseResponse(Response{
		Body:       []byte(`{"operationId":"op-1","status":"assigning"}`),
		RetryAfter: 3 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "op-1", res.OperationID)
	assert.Equal(t, StatusAssigning, res.Status)
	assert.Equal(t, 3*time.Second, res.RetryAfter)
}

func TestParseResponseAssigned(t *testing.T) {
	body := `{
		"operationId": "op-1",
		"status": "assigned",
		"registrationState": {
			"registrationId": "reg-7",
			"assignedHub": "hub.example.net",
			"deviceId": "dev-7",
			"status": "assigned"
		}
	}`
	res, err := ParseResponse(Response{Body: []byte(body)})
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, res.Status)
	assert.Equal(t, "reg-7", res.RegistrationID)
	assert.Equal(t, "hub.example.net", res.AssignedHub)
	assert.Equal(t, "dev-7", res.DeviceID)
}

func TestParseResponseStatusFromRegistrationState(t *testing.T) {
	body := `{"registrationState":{"status":"failed","errorCode":401002,"errorMessage":"bad key"}}`
	res, err := ParseResponse(Response{Body: []byte(body)})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 401002, res.ErrorCode)
	assert.Equal(t, "bad key", res.ErrorMessage)
}

func TestParseResponseErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"empty", ``},
		{"unknown status", `{"operationId":"op-1","status":"pending"}`},
		{"missing status", `{"operationId":"op-1"}`},
		{"pollable without operation id", `{"status":"assigning"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResponse(Response{Body: []byte(tt.body)})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnparseable))
		})
	}
}
