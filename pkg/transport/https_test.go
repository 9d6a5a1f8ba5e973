package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hublink-io/hublink-go/pkg/connection"
	"github.com/hublink-io/hublink-go/pkg/failure"
	"github.com/hublink-io/hublink-go/pkg/retry"
	"github.com/hublink-io/hublink-go/pkg/status"
)

func newHTTPS(t *testing.T, url string) *HTTPS {
	t.Helper()
	h, err := NewHTTPS(ClientConfig{
		Endpoint: url,
		Protocol: ProtocolHTTPS,
		Header:   http.Header{"Authorization": []string{"SharedAccessSignature sr=test"}},
	})
	require.NoError(t, err)
	return h
}

func TestHTTPSSend(t *testing.T) {
	var got []byte
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		auth = r.Header.Get("Authorization")
		got, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h := newHTTPS(t, srv.URL)
	require.NoError(t, h.Open(context.Background()))
	require.NoError(t, h.Send(context.Background(), []byte("temp=21")))

	assert.Equal(t, []byte("temp=21"), got)
	assert.Equal(t, "SharedAccessSignature sr=test", auth)
	assert.NoError(t, h.Close())
	assert.NoError(t, h.Close())
}

func TestHTTPSSendNotOpen(t *testing.T) {
	h := newHTTPS(t, "http://127.0.0.1:1")
	assert.ErrorIs(t, h.Send(context.Background(), []byte("x")), ErrNotConnected)

	require.NoError(t, h.Open(context.Background()))
	require.NoError(t, h.Close())
	assert.ErrorIs(t, h.Send(context.Background(), []byte("x")), ErrNotConnected)
}

func TestHTTPSStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		code       int
		retryAfter string
		category   status.Category
		wait       time.Duration
	}{
		{"unauthorized", http.StatusUnauthorized, "", status.CategoryUnauthorized, 0},
		{"not found", http.StatusNotFound, "", status.CategoryNotFound, 0},
		{"throttled", http.StatusTooManyRequests, "7", status.CategoryThrottled, 7 * time.Second},
		{"server error", http.StatusServiceUnavailable, "", status.CategoryServerError, 0},
		{"bad request", http.StatusBadRequest, "", status.CategoryBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				http.Error(w, "rejected by test", tt.code)
			}))
			defer srv.Close()

			h := newHTTPS(t, srv.URL)
			require.NoError(t, h.Open(context.Background()))
			err := h.Send(context.Background(), []byte("x"))

			var ce *status.CodeError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.code, ce.Code.Number)
			assert.Equal(t, "rejected by test", ce.Code.Detail)

			r := status.ClassifyError(err)
			assert.Equal(t, tt.category, r.Category)
			assert.Equal(t, tt.wait, r.RetryAfter)
		})
	}
}

func TestHTTPSMessageTooLarge(t *testing.T) {
	h, err := NewHTTPS(ClientConfig{Endpoint: "http://127.0.0.1:1", Protocol: ProtocolHTTPS, MaxMessageSize: 4})
	require.NoError(t, err)
	require.NoError(t, h.Open(context.Background()))

	err = h.Send(context.Background(), []byte("too long"))
	assert.Equal(t, status.CategoryBadRequest, status.ClassifyError(err).Category)
	assert.True(t, errors.Is(failure.FromError(err), failure.ErrMessageRejected))
}

func TestHTTPSConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	h := newHTTPS(t, url)
	require.NoError(t, h.Open(context.Background()))

	err := h.Send(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.Equal(t, status.CategoryTransientNetwork, status.ClassifyError(err).Category)
}

func TestHTTPSWithMachine(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h := newHTTPS(t, srv.URL)
	m, err := connection.NewMachine(h, connection.Config{
		Retry: retry.Config{
			BaseInterval: time.Millisecond,
			MaxInterval:  5 * time.Millisecond,
			Expiration:   time.Minute,
		},
		OperationTimeout: time.Second,
	})
	require.NoError(t, err)

	require.NoError(t, m.Open(context.Background()))
	require.NoError(t, m.Send(context.Background(), []byte("hello")))
	assert.Equal(t, connection.StateConnected, m.State())
	assert.Equal(t, int32(2), calls.Load())
	require.NoError(t, m.Close())
}
