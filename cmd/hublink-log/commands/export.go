package commands

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/hublink-io/hublink-go/pkg/log"
)

// RunExport exports the trace file to the specified format. An empty output
// writes to stdout.
func RunExport(path, format, output string, stdout io.Writer) error {
	if format != "jsonl" && format != "csv" {
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	w := stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if format == "csv" {
		return exportCSV(reader, w)
	}
	return exportJSONL(reader, w)
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
}

var csvHeader = []string{"timestamp", "session_id", "direction", "layer", "category", "protocol", "device_id", "type", "detail"}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		direction := ""
		if event.Message != nil {
			direction = event.Direction.String()
		}
		row := []string{
			event.Timestamp.UTC().Format(timestampFormat),
			event.SessionID,
			direction,
			event.Layer.String(),
			event.Category.String(),
			event.Protocol,
			event.DeviceID,
			eventType(event),
			eventDetail(event),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// eventDetail is the one-line summary of the event's payload.
func eventDetail(event log.Event) string {
	switch {
	case event.Message != nil:
		return "seq=" + strconv.FormatUint(event.Message.Sequence, 10) + " size=" + strconv.Itoa(event.Message.Size)
	case event.StateChange != nil:
		sc := event.StateChange
		return sc.OldState + "->" + sc.NewState + " " + sc.Reason
	case event.Retry != nil:
		if event.Retry.ShouldRetry {
			return event.Retry.Category + " retry in " + event.Retry.Wait.String()
		}
		return event.Retry.Category + " stop"
	case event.Error != nil:
		return event.Error.Category + ": " + event.Error.Message
	default:
		return ""
	}
}
