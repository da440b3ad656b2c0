// Package segment decides when a user turn starts and ends.
//
// A [Segmenter] consumes per-frame silence classifications and emits at most
// one signal per frame. Two strategies are provided behind the same
// interface:
//
//   - [EnergySegmenter] ends a turn automatically after a configurable run
//     of consecutive silent frames (hands-free operation).
//   - [GateSegmenter] follows an explicit [Gate] such as a push-to-talk key,
//     ignoring the silence classification entirely.
//
// Turn detection only decides when to commit a turn. Whether individual
// frames are uploaded is the capture flow's policy, not the segmenter's.
package segment

import "time"

// DefaultMinSilenceFrames is the default number of consecutive silent frames
// that ends a turn. At 2048 samples / 24 kHz this is roughly 1.7 seconds.
const DefaultMinSilenceFrames = 20

// Signal is the per-frame output of a Segmenter.
type Signal int

const (
	// SignalNone indicates no turn boundary on this frame.
	SignalNone Signal = iota

	// SignalTurnStarted indicates speech onset: the segmenter transitioned
	// from idle to an active turn on this frame.
	SignalTurnStarted

	// SignalTurnComplete indicates end of speech: the active turn should be
	// committed for inference.
	SignalTurnComplete
)

// String returns the signal name for logging.
func (s Signal) String() string {
	switch s {
	case SignalTurnStarted:
		return "TURN_STARTED"
	case SignalTurnComplete:
		return "TURN_COMPLETE"
	default:
		return "NONE"
	}
}

// Segmenter is the turn-boundary strategy consumed by the capture flow.
// Implementations are driven from a single goroutine and need not be safe
// for concurrent use.
type Segmenter interface {
	// Feed consumes one frame's silence classification and returns the
	// resulting boundary signal, if any.
	Feed(silent bool) Signal

	// Active reports whether a turn is currently in progress.
	Active() bool

	// TurnStart returns the time the current (or most recent) turn began.
	// Zero if no turn has started yet.
	TurnStart() time.Time

	// Reset returns the segmenter to idle without emitting a signal. Used
	// when the session restarts mid-turn.
	Reset()
}

// ─── EnergySegmenter ──────────────────────────────────────────────────────────

// EnergySegmenter ends a turn after a run of consecutive silent frames.
//
// State machine: idle + speech → in-turn (SignalTurnStarted); in-turn +
// speech → counter reset; in-turn + silence → counter increment; counter
// reaching the threshold → idle (exactly one SignalTurnComplete). The
// counter is reset strictly on the transition back to idle, so a
// classification flapping right at the threshold can never emit a second
// TurnComplete without an intervening turn start.
type EnergySegmenter struct {
	minSilenceFrames int

	inTurn       bool
	silentFrames int
	turnStart    time.Time

	// now is swappable in tests.
	now func() time.Time
}

// NewEnergy returns an EnergySegmenter ending turns after minSilenceFrames
// consecutive silent frames. Values < 1 fall back to
// [DefaultMinSilenceFrames].
func NewEnergy(minSilenceFrames int) *EnergySegmenter {
	if minSilenceFrames < 1 {
		minSilenceFrames = DefaultMinSilenceFrames
	}
	return &EnergySegmenter{
		minSilenceFrames: minSilenceFrames,
		now:              time.Now,
	}
}

// Feed implements [Segmenter].
func (s *EnergySegmenter) Feed(silent bool) Signal {
	if !s.inTurn {
		if silent {
			return SignalNone
		}
		s.inTurn = true
		s.silentFrames = 0
		s.turnStart = s.now()
		return SignalTurnStarted
	}

	if !silent {
		s.silentFrames = 0
		return SignalNone
	}

	s.silentFrames++
	if s.silentFrames < s.minSilenceFrames {
		return SignalNone
	}

	s.inTurn = false
	s.silentFrames = 0
	return SignalTurnComplete
}

// Active implements [Segmenter].
func (s *EnergySegmenter) Active() bool { return s.inTurn }

// TurnStart implements [Segmenter].
func (s *EnergySegmenter) TurnStart() time.Time { return s.turnStart }

// Reset implements [Segmenter].
func (s *EnergySegmenter) Reset() {
	s.inTurn = false
	s.silentFrames = 0
}

// ─── GateSegmenter ────────────────────────────────────────────────────────────

// Gate is an explicit recording control, typically a push-to-talk key.
// Open reports whether recording is currently engaged. Implementations must
// be safe for concurrent use (the key listener runs on its own goroutine).
type Gate interface {
	Open() bool
}

// GateFunc adapts a plain function to the [Gate] interface.
type GateFunc func() bool

// Open implements [Gate].
func (f GateFunc) Open() bool { return f() }

// GateSegmenter derives turn boundaries from a [Gate] instead of silence:
// the turn starts on the frame where the gate is first observed open and
// completes on the frame where it is first observed closed again. Silence
// classifications are ignored.
type GateSegmenter struct {
	gate Gate

	inTurn    bool
	turnStart time.Time

	now func() time.Time
}

// NewGate returns a GateSegmenter following gate.
func NewGate(gate Gate) *GateSegmenter {
	return &GateSegmenter{gate: gate, now: time.Now}
}

// Feed implements [Segmenter]. The silent argument is ignored.
func (s *GateSegmenter) Feed(_ bool) Signal {
	open := s.gate.Open()
	switch {
	case open && !s.inTurn:
		s.inTurn = true
		s.turnStart = s.now()
		return SignalTurnStarted
	case !open && s.inTurn:
		s.inTurn = false
		return SignalTurnComplete
	default:
		return SignalNone
	}
}

// Active implements [Segmenter].
func (s *GateSegmenter) Active() bool { return s.inTurn }

// TurnStart implements [Segmenter].
func (s *GateSegmenter) TurnStart() time.Time { return s.turnStart }

// Reset implements [Segmenter].
func (s *GateSegmenter) Reset() { s.inTurn = false }
