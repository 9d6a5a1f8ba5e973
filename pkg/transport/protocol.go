package transport

import (
	"fmt"
	"strings"
)

// Protocol selects the hub transport.
type Protocol uint8

const (
	ProtocolHTTPS Protocol = iota
	ProtocolAMQPS
	ProtocolAMQPSWebSocket
	ProtocolMQTT
	ProtocolMQTTWebSocket
)

var protocolNames = [...]string{
	ProtocolHTTPS:          "https",
	ProtocolAMQPS:          "amqps",
	ProtocolAMQPSWebSocket: "amqps_ws",
	ProtocolMQTT:           "mqtt",
	ProtocolMQTTWebSocket:  "mqtt_ws",
}

func (p Protocol) String() string {
	if int(p) < len(protocolNames) {
		return protocolNames[p]
	}
	return fmt.Sprintf("Protocol(%d)", p)
}

// ParseProtocol parses a protocol name as returned by String.
func ParseProtocol(s string) (Protocol, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range protocolNames {
		if name == s {
			return Protocol(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, s)
}

// SupportsProxy reports whether the protocol can be tunnelled through an
// HTTP proxy.
func (p Protocol) SupportsProxy() bool {
	switch p {
	case ProtocolHTTPS, ProtocolAMQPSWebSocket, ProtocolMQTTWebSocket:
		return true
	default:
		return false
	}
}

// IsWebSocket reports whether the protocol runs over a WebSocket.
func (p Protocol) IsWebSocket() bool {
	return p == ProtocolAMQPSWebSocket || p == ProtocolMQTTWebSocket
}

// Subprotocol returns the WebSocket subprotocol, or "" for non-WebSocket
// protocols.
func (p Protocol) Subprotocol() string {
	switch p {
	case ProtocolAMQPSWebSocket:
		return "AMQPWSB10"
	case ProtocolMQTTWebSocket:
		return "mqtt"
	default:
		return ""
	}
}
