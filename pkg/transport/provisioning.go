package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/hublink-io/hublink-go/pkg/provisioning"
)

// DefaultProvisioningAPIVersion is sent as the api-version query parameter.
const DefaultProvisioningAPIVersion = "2021-06-01"

// maxProvisioningBody bounds a provisioning response.
const maxProvisioningBody = 64 * 1024

// ProvisioningConfig configures a ProvisioningClient.
type ProvisioningConfig struct {
	// Endpoint is the provisioning service base URL.
	Endpoint string

	// IDScope identifies the enrollment scope.
	IDScope string

	// RegistrationID is the device's registration id.
	RegistrationID string

	// APIVersion defaults to DefaultProvisioningAPIVersion.
	APIVersion string

	// Header is added to every request, typically carrying the
	// Authorization token.
	Header http.Header

	Proxy          *url.URL
	TLS            *TLSConfig
	ConnectTimeout time.Duration
}

// ProvisioningClient implements provisioning.Transport over HTTPS.
type ProvisioningClient struct {
	config ProvisioningConfig
	base   *url.URL
	client *http.Client
}

// NewProvisioningClient creates a provisioning client.
func NewProvisioningClient(config ProvisioningConfig) (*ProvisioningClient, error) {
	if config.IDScope == "" || config.RegistrationID == "" {
		return nil, fmt.Errorf("%w: id scope and registration id are required", ErrInvalidConfig)
	}
	base, err := url.Parse(config.Endpoint)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("%w: provisioning endpoint %q", ErrInvalidConfig, config.Endpoint)
	}
	if config.APIVersion == "" {
		config.APIVersion = DefaultProvisioningAPIVersion
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}

	dialer := &net.Dialer{Timeout: config.ConnectTimeout}
	return &ProvisioningClient{
		config: config,
		base:   base,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               proxyFunc(config.Proxy),
				DialContext:         dialer.DialContext,
				TLSClientConfig:     NewClientTLSConfig(config.TLS),
				TLSHandshakeTimeout: config.ConnectTimeout,
			},
		},
	}, nil
}

// Register starts a registration.
func (p *ProvisioningClient) Register(ctx context.Context) (provisioning.Response, error) {
	body, err := json.Marshal(struct {
		RegistrationID string `json:"registrationId"`
	}{p.config.RegistrationID})
	if err != nil {
		return provisioning.Response{}, err
	}
	return p.do(ctx, http.MethodPut, p.url("register"), body)
}

// Poll queries a registration operation.
func (p *ProvisioningClient) Poll(ctx context.Context, operationID string) (provisioning.Response, error) {
	return p.do(ctx, http.MethodGet, p.url("operations", operationID), nil)
}

func (p *ProvisioningClient) url(elem ...string) string {
	parts := append([]string{p.config.IDScope, "registrations", p.config.RegistrationID}, elem...)
	u := p.base.JoinPath(parts...)
	q := u.Query()
	q.Set("api-version", p.config.APIVersion)
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *ProvisioningClient) do(ctx context.Context, method, target string, body []byte) (provisioning.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return provisioning.Response{}, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range p.config.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return provisioning.Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return provisioning.Response{}, statusError(resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProvisioningBody))
	if err != nil {
		return provisioning.Response{}, err
	}
	return provisioning.Response{
		Body:       data,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}, nil
}
