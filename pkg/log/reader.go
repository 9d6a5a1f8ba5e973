package log

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects trace events. Zero fields match everything.
type Filter struct {
	// Identity of the emitting machine.
	SessionID string
	DeviceID  string
	Protocol  string

	Direction *Direction
	Layer     *Layer
	Category  *Category

	// Since and Until bound the timestamp to [Since, Until).
	Since time.Time
	Until time.Time
}

// Matches reports whether the event satisfies every criterion.
func (f *Filter) Matches(event Event) bool {
	switch {
	case f.SessionID != "" && event.SessionID != f.SessionID,
		f.DeviceID != "" && event.DeviceID != f.DeviceID,
		f.Protocol != "" && event.Protocol != f.Protocol:
		return false
	case f.Direction != nil && event.Direction != *f.Direction,
		f.Layer != nil && event.Layer != *f.Layer,
		f.Category != nil && event.Category != *f.Category:
		return false
	case !f.Since.IsZero() && event.Timestamp.Before(f.Since),
		!f.Until.IsZero() && !event.Timestamp.Before(f.Until):
		return false
	}
	return true
}

// Reader streams events from a trace file.
//
// A device that dies mid-write leaves a partial record at the end of its
// trace. The reader stops there with io.EOF and reports it via Truncated.
type Reader struct {
	file      *os.File
	decoder   *cbor.Decoder
	filter    Filter
	scanned   int
	truncated bool
}

// NewReader opens a trace file and returns every event.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens a trace file and returns the events filter matches.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{
		file:    f,
		decoder: NewDecoder(f),
		filter:  filter,
	}, nil
}

// Next returns the next matching event, or io.EOF when the trace ends.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		err := r.decoder.Decode(&event)
		if errors.Is(err, io.ErrUnexpectedEOF) {
			r.truncated = true
			return Event{}, io.EOF
		}
		if err != nil {
			return Event{}, err
		}
		r.scanned++
		if r.filter.Matches(event) {
			return event, nil
		}
	}
}

// Scanned returns how many complete events were decoded, matching or not.
func (r *Reader) Scanned() int {
	return r.scanned
}

// Truncated reports whether the trace ended in a partial record.
func (r *Reader) Truncated() bool {
	return r.truncated
}

// Close closes the trace file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// ReadAll returns every event in the trace at path that filter matches.
func ReadAll(path string, filter Filter) ([]Event, error) {
	r, err := NewFilteredReader(path, filter)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var events []Event
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}
