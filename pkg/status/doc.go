// Package status classifies transport and service failure codes.
//
// Every failure a transport reports, whether an HTTP status, an AMQP error
// condition, an MQTT CONNACK return code or a plain Go error, is reduced to
// one Category. Callers and the retry policy branch on the category instead
// of matching error text.
//
// # Categories
//
//	BAD_REQUEST        request is malformed or too large; never retried
//	UNAUTHORIZED       credentials rejected; never retried
//	NOT_FOUND          hub or device does not exist; never retried
//	THROTTLED          service asked the client to slow down
//	SERVER_ERROR       service failed internally
//	TRANSIENT_NETWORK  connection dropped, timed out or unreachable
//	UNKNOWN            anything the classifier does not recognise
//
// Classification is pure and never fails: unrecognised codes map to UNKNOWN.
package status
