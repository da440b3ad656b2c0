// Package transcript accumulates the assistant's spoken-response transcript
// from streamed deltas and records completed turns.
package transcript

import (
	"strings"
	"time"

	"github.com/MrWong99/voicewire/internal/timing"
)

// Buffer assembles a response transcript from audio_transcript deltas.
//
// The service occasionally re-sends overlapping deltas, and some deltas are
// cumulative rather than incremental. Apply is therefore idempotent: a delta
// that extends the buffered text as a prefix contributes only its new
// suffix; a delta already contained in the buffer contributes nothing; a
// non-matching delta longer than the buffer is taken as a cumulative
// correction and replaces it outright. A non-matching delta shorter than the
// buffer is appended as a plain increment rather than replacing — the live
// protocol streams word fragments, and treating those as cumulative
// replacements would discard the transcript on every fragment.
//
// Buffer is driven from the single receive goroutine and is not safe for
// concurrent use.
type Buffer struct {
	text strings.Builder
}

// Apply merges delta into the buffer and returns the newly added text.
func (b *Buffer) Apply(delta string) string {
	if delta == "" {
		return ""
	}
	current := b.text.String()

	switch {
	case strings.HasPrefix(delta, current):
		// Cumulative delta extending what we have: append the new suffix.
		added := delta[len(current):]
		b.text.WriteString(added)
		return added
	case strings.HasPrefix(current, delta):
		// Duplicate or stale re-send: nothing new.
		return ""
	case len(delta) > len(current):
		// Divergent cumulative delta: replace rather than append.
		b.text.Reset()
		b.text.WriteString(delta)
		return delta
	default:
		// Plain incremental delta.
		b.text.WriteString(delta)
		return delta
	}
}

// Text returns the transcript assembled so far.
func (b *Buffer) Text() string { return b.text.String() }

// Reset clears the buffer for the next response.
func (b *Buffer) Reset() { b.text.Reset() }

// TurnRecord captures one completed turn for persistence and logging.
type TurnRecord struct {
	// StartedAt is when speech onset was detected for this turn.
	StartedAt time.Time

	// CompletedAt is when the response.done event arrived.
	CompletedAt time.Time

	// Transcript is the assistant's response transcript.
	Transcript string

	// Report holds the turn's derived latency intervals.
	Report timing.Report
}
