package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hublink-io/hublink-go/pkg/status"
)

// Transport errors.
var (
	ErrNotConnected        = errors.New("not connected")
	ErrAlreadyConnected    = errors.New("already connected")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrInvalidConfig       = errors.New("invalid transport config")
)

// Defaults.
const (
	// DefaultMaxMessageSize is the hub's device-to-cloud message limit.
	DefaultMaxMessageSize = 256 * 1024

	// DefaultConnectTimeout bounds dialing and the TLS handshake.
	DefaultConnectTimeout = 30 * time.Second

	// maxErrorBody bounds how much of an error response is kept as detail.
	maxErrorBody = 512
)

// ClientConfig configures a hub transport.
type ClientConfig struct {
	// Endpoint is the URL messages are sent to (https://, wss://, or the
	// plain schemes for local testing).
	Endpoint string

	// Protocol selects the transport. Only proxy-capable protocols are
	// provided.
	Protocol Protocol

	// Header is added to every request and to the WebSocket handshake,
	// typically carrying the Authorization token.
	Header http.Header

	// Proxy is the HTTP proxy URL including optional user info.
	Proxy *url.URL

	// TLS holds TLS settings. Nil uses the defaults.
	TLS *TLSConfig

	// MaxMessageSize is the largest payload Send accepts.
	MaxMessageSize int

	// ConnectTimeout bounds dialing and the TLS handshake (default: 30s).
	ConnectTimeout time.Duration

	// KeepAlive configures WebSocket pings. Zero PingInterval disables them.
	KeepAlive KeepAliveConfig
}

func (c *ClientConfig) applyDefaults() {
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
}

// Validate checks the config.
func (c *ClientConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("%w: endpoint: %v", ErrInvalidConfig, err)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: endpoint %q has no host", ErrInvalidConfig, c.Endpoint)
	}
	if !c.Protocol.SupportsProxy() {
		return fmt.Errorf("%w: %s", ErrUnsupportedProtocol, c.Protocol)
	}
	if c.MaxMessageSize < 0 || c.ConnectTimeout < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidConfig)
	}
	return nil
}

// ProxyURL builds a proxy URL from host, port and optional credentials.
// An empty host means no proxy.
func ProxyURL(host string, port int, user, password string) (*url.URL, error) {
	if host == "" {
		return nil, nil
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: proxy port %d", ErrInvalidConfig, port)
	}
	u := &url.URL{Scheme: "http", Host: net.JoinHostPort(host, strconv.Itoa(port))}
	if user != "" {
		u.User = url.UserPassword(user, password)
	}
	return u, nil
}

func proxyFunc(u *url.URL) func(*http.Request) (*url.URL, error) {
	if u == nil {
		return http.ProxyFromEnvironment
	}
	return http.ProxyURL(u)
}

// statusError converts a non-2xx response into a *status.CodeError.
// The response body is not closed.
func statusError(resp *http.Response) *status.CodeError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := strings.TrimSpace(string(body))
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	return &status.CodeError{
		Code:       status.HTTPStatus(resp.StatusCode, detail),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

// parseRetryAfter parses a Retry-After header given in seconds or as an
// HTTP date. Absent or malformed values yield zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func tooLarge(size, limit int) *status.CodeError {
	return &status.CodeError{
		Code: status.HTTPStatus(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("message of %d bytes exceeds %d", size, limit)),
	}
}
