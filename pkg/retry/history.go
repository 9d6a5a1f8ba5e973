package retry

import (
	"time"

	"github.com/hublink-io/hublink-go/pkg/status"
)

// Attempt is one failed attempt in a disconnection episode.
type Attempt struct {
	At       time.Time
	Category status.Category
}

// History is the ordered attempt record of one disconnection episode.
// The zero value is an empty history.
type History struct {
	attempts []Attempt
}

// Record returns a copy of h with the attempt appended.
func (h History) Record(at time.Time, category status.Category) History {
	next := make([]Attempt, len(h.attempts), len(h.attempts)+1)
	copy(next, h.attempts)
	return History{attempts: append(next, Attempt{At: at, Category: category})}
}

// Clear returns an empty history.
func (h History) Clear() History {
	return History{}
}

// Attempts returns the number of recorded attempts.
func (h History) Attempts() int {
	return len(h.attempts)
}

// IsEmpty reports whether no attempts are recorded.
func (h History) IsEmpty() bool {
	return len(h.attempts) == 0
}

// Entries returns a copy of the recorded attempts, oldest first.
func (h History) Entries() []Attempt {
	out := make([]Attempt, len(h.attempts))
	copy(out, h.attempts)
	return out
}

// Last returns the most recent attempt.
func (h History) Last() (Attempt, bool) {
	if len(h.attempts) == 0 {
		return Attempt{}, false
	}
	return h.attempts[len(h.attempts)-1], true
}

// Elapsed returns the time from the first recorded attempt to now.
func (h History) Elapsed(now time.Time) time.Duration {
	if len(h.attempts) == 0 {
		return 0
	}
	return now.Sub(h.attempts[0].At)
}
