package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/hublink-io/hublink-go/pkg/log"
)

// Stats holds aggregate statistics about a trace file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	ErrorsByCategory  map[string]int
	Sessions          map[string]*SessionStats
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// SessionStats holds statistics for a single machine session.
type SessionStats struct {
	FirstSeen   time.Time
	LastSeen    time.Time
	Events      int
	DeviceID    string
	Protocol    string
	Messages    int
	Retries     int
	Disconnects int
	LastState   string
}

func newStats() *Stats {
	return &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		ErrorsByCategory:  make(map[string]int),
		Sessions:          make(map[string]*SessionStats),
	}
}

// add folds one event into the statistics.
func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	if event.Message != nil {
		s.EventsByDirection[event.Direction]++
	}

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	sess, ok := s.Sessions[event.SessionID]
	if !ok {
		sess = &SessionStats{
			FirstSeen: event.Timestamp,
			LastSeen:  event.Timestamp,
		}
		s.Sessions[event.SessionID] = sess
	}
	sess.Events++
	if event.Timestamp.After(sess.LastSeen) {
		sess.LastSeen = event.Timestamp
	}
	if event.DeviceID != "" && sess.DeviceID == "" {
		sess.DeviceID = event.DeviceID
	}
	if event.Protocol != "" && sess.Protocol == "" {
		sess.Protocol = event.Protocol
	}

	switch {
	case event.Message != nil:
		sess.Messages++
	case event.Retry != nil:
		if event.Retry.ShouldRetry {
			sess.Retries++
		}
	case event.StateChange != nil:
		sess.LastState = event.StateChange.NewState
		if event.StateChange.OldState == "CONNECTED" && event.StateChange.NewState != "CONNECTED" {
			sess.Disconnects++
		}
	case event.Error != nil:
		category := event.Error.Category
		if category == "" {
			category = "UNKNOWN"
		}
		s.ErrorsByCategory[category]++
	}
}

// RunStats analyzes the trace file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := newStats()
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}

	printStats(w, stats)
	if reader.Truncated() {
		fmt.Fprintf(w, "\nWarning: trace ends in a partial record after %d events\n", reader.Scanned())
	}
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Hublink Protocol Trace Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerConnection, log.LayerProvisioning} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryState, log.CategoryRetry, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Messages by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Sessions: %d\n", len(stats.Sessions))
	if len(stats.Sessions) > 0 {
		type sessionInfo struct {
			id    string
			stats *SessionStats
		}
		sessions := make([]sessionInfo, 0, len(stats.Sessions))
		for id, ss := range stats.Sessions {
			sessions = append(sessions, sessionInfo{id, ss})
		}
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].stats.FirstSeen.Before(sessions[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, s := range sessions {
			duration := s.stats.LastSeen.Sub(s.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenSessionID(s.id), s.stats.Events, duration)
			if s.stats.DeviceID != "" {
				fmt.Fprintf(w, "             Device: %s (%s)\n", s.stats.DeviceID, s.stats.Protocol)
			}
			fmt.Fprintf(w, "             Messages: %d, retries: %d, disconnects: %d\n",
				s.stats.Messages, s.stats.Retries, s.stats.Disconnects)
			if s.stats.LastState != "" {
				fmt.Fprintf(w, "             Last state: %s\n", s.stats.LastState)
			}
		}
	}

	if len(stats.ErrorsByCategory) > 0 {
		total := 0
		categories := make([]string, 0, len(stats.ErrorsByCategory))
		for c, n := range stats.ErrorsByCategory {
			categories = append(categories, c)
			total += n
		}
		sort.Strings(categories)

		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", total)
		for _, c := range categories {
			fmt.Fprintf(w, "  %-18s %d\n", c+":", stats.ErrorsByCategory[c])
		}
	}
}
