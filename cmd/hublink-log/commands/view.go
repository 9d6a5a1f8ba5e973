// Package commands implements the hublink-log CLI commands.
package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hublink-io/hublink-go/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
}

func (f ViewFilter) filter() log.Filter {
	return log.Filter{
		Layer:     f.Layer,
		Direction: f.Direction,
		Category:  f.Category,
	}
}

// timestampFormat is used by view and export.
const timestampFormat = "2006-01-02T15:04:05.000000Z"

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [session:id] DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format(timestampFormat)
	session := shortenSessionID(event.SessionID)

	dir := ""
	if event.Message != nil {
		dir = event.Direction.String()
	}

	fmt.Fprintf(w, "%s [session:%s] %-3s %s %s\n", ts, session, dir, event.Layer.String(), eventType(event))
	if event.DeviceID != "" || event.Protocol != "" {
		fmt.Fprintf(w, "  Device: %s  Protocol: %s\n", event.DeviceID, event.Protocol)
	}

	switch {
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Retry != nil:
		formatRetryDetails(w, event.Retry)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

// eventType returns the label of the event's payload.
func eventType(event log.Event) string {
	switch {
	case event.Message != nil:
		return "Message"
	case event.StateChange != nil:
		return "State"
	case event.Retry != nil:
		return "Retry"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortenSessionID returns the first 8 characters of the session ID.
func shortenSessionID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// formatMessageDetails writes message-specific details.
func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	fmt.Fprintf(w, "  Sequence: %d\n", msg.Sequence)
	fmt.Fprintf(w, "  Size: %d bytes\n", msg.Size)
	if msg.Attempts > 1 {
		fmt.Fprintf(w, "  Attempts: %d\n", msg.Attempts)
	}
	if len(msg.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", formatPayload(msg.Data))
		if msg.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

// formatPayload prints text payloads as-is and binary payloads as hex.
func formatPayload(data []byte) string {
	if utf8.Valid(data) && !strings.ContainsFunc(string(data), isControl) {
		return string(data)
	}
	return hex.EncodeToString(data)
}

func isControl(r rune) bool {
	return r < 0x20 && r != '\t'
}

// formatStateChangeDetails writes state change details.
func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
	if sc.Cause != "" {
		fmt.Fprintf(w, "  Cause: %s\n", sc.Cause)
	}
}

// formatRetryDetails writes a retry decision.
func formatRetryDetails(w io.Writer, r *log.RetryEvent) {
	fmt.Fprintf(w, "  Attempt: %d\n", r.Attempt)
	fmt.Fprintf(w, "  Category: %s\n", r.Category)
	if r.ShouldRetry {
		fmt.Fprintf(w, "  Decision: retry in %s\n", formatDuration(r.Wait))
	} else {
		fmt.Fprintln(w, "  Decision: stop")
	}
	if r.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", r.Reason)
	}
}

// formatErrorDetails writes error details.
func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Kind != "" {
		fmt.Fprintf(w, "  Kind: %s\n", err.Kind)
	}
	if err.Category != "" {
		fmt.Fprintf(w, "  Category: %s\n", err.Category)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseLayerFlag parses a layer string from command-line flag (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	l, ok := log.ParseLayer(strings.ToUpper(s))
	if !ok {
		return 0, fmt.Errorf("invalid layer: %s (must be transport, connection, or provisioning)", s)
	}
	return l, nil
}

// ParseDirectionFlag parses a direction string from command-line flag (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	c, ok := log.ParseCategory(strings.ToUpper(s))
	if !ok {
		return 0, fmt.Errorf("invalid category: %s (must be message, state, retry, or error)", s)
	}
	return c, nil
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter.filter())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
}
