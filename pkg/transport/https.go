package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
)

// HTTPS sends each message as one POST to the endpoint. There is no
// long-lived connection: Open only enables sending.
type HTTPS struct {
	config ClientConfig
	client *http.Client

	mu   sync.Mutex
	open bool
}

// NewHTTPS creates an HTTPS transport.
func NewHTTPS(config ClientConfig) (*HTTPS, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Protocol != ProtocolHTTPS {
		return nil, fmt.Errorf("%w: HTTPS transport cannot carry %s", ErrUnsupportedProtocol, config.Protocol)
	}

	dialer := &net.Dialer{Timeout: config.ConnectTimeout}
	return &HTTPS{
		config: config,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               proxyFunc(config.Proxy),
				DialContext:         dialer.DialContext,
				TLSClientConfig:     NewClientTLSConfig(config.TLS),
				TLSHandshakeTimeout: config.ConnectTimeout,
				MaxIdleConnsPerHost: 4,
			},
		},
	}, nil
}

// Open enables sending.
func (h *HTTPS) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.open = true
	return nil
}

// Send posts payload to the endpoint. Non-2xx responses are returned as
// *status.CodeError with the Retry-After hint.
func (h *HTTPS) Send(ctx context.Context, payload []byte) error {
	h.mu.Lock()
	open := h.open
	h.mu.Unlock()
	if !open {
		return ErrNotConnected
	}
	if len(payload) > h.config.MaxMessageSize {
		return tooLarge(len(payload), h.config.MaxMessageSize)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range h.config.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return nil
}

// Close disables sending and drops idle connections. It is idempotent.
func (h *HTTPS) Close() error {
	h.mu.Lock()
	h.open = false
	h.mu.Unlock()
	h.client.CloseIdleConnections()
	return nil
}
