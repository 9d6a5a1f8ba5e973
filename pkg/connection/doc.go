// Package connection maintains a device's session with the hub.
//
// A Machine owns the connectivity state of one session and drives a
// Transport through it:
//
//	DISCONNECTED --Open ok--> CONNECTED
//	CONNECTED --retryable failure--> DISCONNECTED_RETRYING
//	DISCONNECTED_RETRYING --reconnect ok--> CONNECTED
//	DISCONNECTED_RETRYING --policy stops--> DISCONNECTED (terminal)
//	any --non-retryable failure--> DISCONNECTED (terminal)
//	any --Close--> DISCONNECTED
//
// Every failure reported by the transport is classified into a
// *failure.Error and handed to the retry policy, which decides whether the
// machine reconnects and after how long.
//
// # Notifications
//
// Observers registered with OnStatusChange receive one StatusChange per
// transition, in transition order. They are called synchronously by the
// goroutine that caused the transition (the caller of Open, Close, Send or
// Receive, or the reconnect goroutine) after it has released the machine's
// lock, so observers may call back into the machine. Observers are never
// called concurrently; a transition made while another goroutine is
// delivering is handed to that goroutine. Once Close returns, every
// notification it caused has been delivered, unless an observer was running
// when Close was called.
//
// # Reconnection
//
// While DISCONNECTED_RETRYING a background goroutine reopens the transport
// using the policy's backoff. Send and Receive calls made during that window
// wait for the reconnection and then run. Retry state belongs to the
// session: Close or a terminal disconnect cancels the pending timer and any
// in-flight attempt, and late results from that session are dropped.
package connection
