// Package transport provides the hub transports driven by the connection
// and provisioning state machines.
//
// Transports report service rejections as *status.CodeError values and
// return network errors unchanged, so the machines can classify both
// through status.ClassifyError.
//
// # Transports
//
//	┌──────────────┬──────────────────────────────┬─────────┐
//	│ Protocol     │ Transport                    │ Proxy   │
//	├──────────────┼──────────────────────────────┼─────────┤
//	│ https        │ HTTPS (one POST per message) │ yes     │
//	│ amqps_ws     │ WebSocket (AMQPWSB10)        │ yes     │
//	│ mqtt_ws      │ WebSocket (mqtt)             │ yes     │
//	│ amqps, mqtt  │ not provided                 │ no      │
//	└──────────────┴──────────────────────────────┴─────────┘
//
// ProvisioningClient implements provisioning.Transport over HTTPS.
//
// # Keep-Alive
//
// The WebSocket transport can ping the hub and drop the connection after
// MaxMissedPongs unanswered pings. Pongs are only processed while a
// Receive call is reading, so keep-alive is meant for receiving sessions.
package transport
