package main

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hublink-io/hublink-go/pkg/connection"
)

var explanations = map[connection.State]string{
	connection.StateDisconnected: "The connection was lost, and is not being re-established. " +
		"Look at the cause for how to resolve this issue. " +
		"Cannot send messages until this issue is resolved and the connection is opened again.",
	connection.StateDisconnectedRetrying: "The connection was lost, but is being re-established. " +
		"Can still send messages, but they won't be sent until the connection is re-established.",
	connection.StateConnected: "The connection was successfully established. Can send messages.",
}

// explain describes what a state means for the sender.
func explain(s connection.State) string {
	return explanations[s]
}

// printStatus writes one status update in the format the device console uses.
func printStatus(w io.Writer, c connection.StatusChange) {
	var b bytes.Buffer
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "CONNECTION STATUS UPDATE: %s\n", c.New)
	fmt.Fprintf(&b, "CONNECTION STATUS REASON: %s\n", c.Reason)
	if c.Cause != nil {
		fmt.Fprintf(&b, "CONNECTION STATUS CAUSE: %s (%s)\n", c.Cause, c.Cause.Category())
	} else {
		fmt.Fprintln(&b, "CONNECTION STATUS CAUSE: none")
	}
	if text := explain(c.New); text != "" {
		fmt.Fprintln(&b, text)
	}
	fmt.Fprintln(&b)
	_, _ = w.Write(b.Bytes())
}
