// Package timing records per-turn pipeline milestones and computes derived
// latency intervals.
//
// A [Timeline] is owned by the engine and explicitly passed to the stages
// that mark milestones on it. Milestone keys are typed constants rather than
// free-form strings so a typo cannot silently create a new key. Each key has
// exactly one writer across the pipeline (the capture flow sets the capture
// milestones, the receive flow sets the rest) and Reset only runs between
// turns, so individual writes need no locking; the Timeline still carries a
// mutex so Report and tests can read it from other goroutines safely.
package timing

import (
	"log/slog"
	"sync"
	"time"
)

// Milestone names one pipeline timestamp within a turn cycle.
type Milestone int

const (
	// CaptureStart marks when audio capture began.
	CaptureStart Milestone = iota

	// CaptureEnd marks when audio capture stopped.
	CaptureEnd

	// Commit marks when the input audio buffer was committed.
	Commit

	// ResponseCreated marks receipt of the response.created event.
	ResponseCreated

	// ResponseDone marks receipt of the response.done event.
	ResponseDone

	// FunctionCallStart marks when action dispatch began.
	FunctionCallStart

	// FunctionCallEnd marks when action dispatch returned.
	FunctionCallEnd

	// GenerationStart marks receipt of the first audio delta of a response.
	GenerationStart

	// GenerationEnd marks receipt of the most recent audio delta. Unlike the
	// other milestones it is overwritten on every delta — it represents the
	// last chunk observed, not the first occurrence.
	GenerationEnd

	// PlaybackStart marks when the first response audio reached the sink path.
	PlaybackStart

	// PlaybackEnd marks when response playback finished.
	PlaybackEnd

	milestoneCount
)

// String returns the milestone's snake_case name as used in logs.
func (m Milestone) String() string {
	switch m {
	case CaptureStart:
		return "capture_start"
	case CaptureEnd:
		return "capture_end"
	case Commit:
		return "commit"
	case ResponseCreated:
		return "response_created"
	case ResponseDone:
		return "response_done"
	case FunctionCallStart:
		return "function_call_start"
	case FunctionCallEnd:
		return "function_call_end"
	case GenerationStart:
		return "generation_start"
	case GenerationEnd:
		return "generation_end"
	case PlaybackStart:
		return "playback_start"
	case PlaybackEnd:
		return "playback_end"
	default:
		return "unknown"
	}
}

// Timeline maps milestones to timestamps for one turn cycle.
// The zero value is not usable; create instances with [New].
type Timeline struct {
	mu    sync.Mutex
	marks [milestoneCount]time.Time

	// now is swappable in tests.
	now func() time.Time
}

// New returns an empty Timeline.
func New() *Timeline {
	return &Timeline{now: time.Now}
}

// Mark records the current time under m if and only if m is currently unset
// (first-write-wins within a turn cycle). Use [Timeline.Touch] for
// last-write-wins milestones.
func (t *Timeline) Mark(m Milestone) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.marks[m].IsZero() {
		t.marks[m] = t.now()
	}
}

// Touch records the current time under m unconditionally (last-write-wins).
// Used for [GenerationEnd], which tracks the most recent chunk observed.
func (t *Timeline) Touch(m Milestone) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.marks[m] = t.now()
}

// At returns the timestamp recorded for m, and whether it is set.
func (t *Timeline) At(m Milestone) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts := t.marks[m]
	return ts, !ts.IsZero()
}

// Reset nulls every milestone in preparation for the next turn cycle.
// Callers must ensure no mark for the previous turn is still pending.
func (t *Timeline) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.marks = [milestoneCount]time.Time{}
}

// Interval is one derived latency measurement. OK is false when either
// endpoint milestone was never set; such intervals are omitted from
// reporting, never treated as zero.
type Interval struct {
	Duration time.Duration
	OK       bool
}

// Seconds returns the interval in seconds, or 0 when not OK.
func (iv Interval) Seconds() float64 {
	if !iv.OK {
		return 0
	}
	return iv.Duration.Seconds()
}

// Report holds the derived intervals for one completed turn.
type Report struct {
	// Capture is CaptureStart → CaptureEnd: how long audio was captured.
	Capture Interval

	// Transcription is Commit → ResponseCreated: speech-to-text conversion
	// plus the service's pre-processing before inference begins.
	Transcription Interval

	// Inference is ResponseCreated → ResponseDone.
	Inference Interval

	// ToolExecution is FunctionCallStart → FunctionCallEnd.
	ToolExecution Interval

	// Synthesis is GenerationStart → GenerationEnd: the span over which
	// response audio chunks were generated.
	Synthesis Interval

	// Playback is PlaybackStart → PlaybackEnd.
	Playback Interval
}

// Report computes the derived intervals from the currently set milestones.
// Pairs with a missing endpoint come back with OK == false.
func (t *Timeline) Report() Report {
	return Report{
		Capture:       t.between(CaptureStart, CaptureEnd),
		Transcription: t.between(Commit, ResponseCreated),
		Inference:     t.between(ResponseCreated, ResponseDone),
		ToolExecution: t.between(FunctionCallStart, FunctionCallEnd),
		Synthesis:     t.between(GenerationStart, GenerationEnd),
		Playback:      t.between(PlaybackStart, PlaybackEnd),
	}
}

func (t *Timeline) between(from, to Milestone) Interval {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, b := t.marks[from], t.marks[to]
	if a.IsZero() || b.IsZero() {
		return Interval{}
	}
	return Interval{Duration: b.Sub(a), OK: true}
}

// LogValue implements [slog.LogValuer], emitting only the intervals that
// were measured.
func (r Report) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, 6)
	add := func(key string, iv Interval) {
		if iv.OK {
			attrs = append(attrs, slog.Duration(key, iv.Duration))
		}
	}
	add("capture", r.Capture)
	add("transcription", r.Transcription)
	add("inference", r.Inference)
	add("tool_execution", r.ToolExecution)
	add("synthesis", r.Synthesis)
	add("playback", r.Playback)
	return slog.GroupValue(attrs...)
}
