package transport

import (
	"fmt"

	"github.com/hublink-io/hublink-go/pkg/connection"
	"github.com/hublink-io/hublink-go/pkg/provisioning"
)

// New returns the transport for config.Protocol.
func New(config ClientConfig) (connection.Transport, error) {
	switch {
	case config.Protocol == ProtocolHTTPS:
		t, err := NewHTTPS(config)
		if err != nil {
			return nil, err
		}
		return t, nil
	case config.Protocol.IsWebSocket():
		t, err := NewWebSocket(config)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, config.Protocol)
	}
}

// Compile-time interface satisfaction checks.
var (
	_ connection.Transport   = (*HTTPS)(nil)
	_ connection.Transport   = (*WebSocket)(nil)
	_ connection.Receiver    = (*WebSocket)(nil)
	_ provisioning.Transport = (*ProvisioningClient)(nil)
)
