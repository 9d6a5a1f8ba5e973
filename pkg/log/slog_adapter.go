package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes trace events to an slog.Logger at Debug level.
// Errors and terminal state changes are logged at Warn.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter. A nil logger uses slog.Default().
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAdapter{logger: logger}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	level := slog.LevelDebug
	attrs := []slog.Attr{
		slog.String("session", event.SessionID),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.Protocol != "" {
		attrs = append(attrs, slog.String("protocol", event.Protocol))
	}
	if event.DeviceID != "" {
		attrs = append(attrs, slog.String("device_id", event.DeviceID))
	}

	switch {
	case event.Message != nil:
		attrs = append(attrs,
			slog.String("direction", event.Direction.String()),
			slog.Uint64("seq", event.Message.Sequence),
			slog.Int("size", event.Message.Size),
		)
		if event.Message.Attempts > 1 {
			attrs = append(attrs, slog.Int("attempts", event.Message.Attempts))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
		if event.StateChange.Cause != "" {
			attrs = append(attrs, slog.String("cause", event.StateChange.Cause))
			level = slog.LevelInfo
		}
	case event.Retry != nil:
		attrs = append(attrs,
			slog.Int("attempt", event.Retry.Attempt),
			slog.String("failure_category", event.Retry.Category),
			slog.Bool("retry", event.Retry.ShouldRetry),
			slog.Duration("wait", event.Retry.Wait),
		)
		if event.Retry.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.Retry.Reason))
		}
	case event.Error != nil:
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_kind", event.Error.Kind),
			slog.String("error_category", event.Error.Category),
		)
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), level, "hublink trace", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
