// Package vad implements energy-based voice activity detection on PCM16
// frames.
//
// The detector computes the root-mean-square amplitude of each frame and
// classifies it as silence when the energy falls below a configured
// threshold. It is a pure function of the frame and the threshold — all
// hysteresis (how many silent frames end a turn) lives in the segment
// package, keeping this detector reusable per frame without shared state.
package vad

import (
	"encoding/binary"
	"errors"
	"math"
)

// DefaultThreshold is the default RMS silence threshold on the 16-bit PCM
// scale. Chosen empirically for close-mic capture at 24 kHz.
const DefaultThreshold = 1200

// ErrInvalidFrame is returned by [Detector.Classify] for zero-length frames
// or frames whose byte length is not a whole number of 16-bit samples.
// Callers should skip the frame rather than treat it as silence.
var ErrInvalidFrame = errors.New("vad: invalid audio frame")

// Classification is the per-frame detection result. It is stateless output,
// consumed immediately by the turn segmenter.
type Classification struct {
	// RMS is the root-mean-square amplitude of the frame's samples.
	RMS float64

	// Silent reports whether RMS fell below the detector threshold.
	Silent bool
}

// Detector classifies PCM16 frames by RMS energy.
//
// The zero value uses [DefaultThreshold]; construct with [New] to override.
// Detector carries no per-stream state and is safe for concurrent use.
type Detector struct {
	threshold float64
}

// New returns a Detector using the given RMS threshold. A threshold <= 0
// falls back to [DefaultThreshold].
func New(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold}
}

// Threshold returns the configured RMS silence threshold.
func (d *Detector) Threshold() float64 {
	if d.threshold <= 0 {
		return DefaultThreshold
	}
	return d.threshold
}

// Classify computes the RMS energy of the little-endian PCM16 frame and
// reports whether it is silent. Energy exactly at the threshold classifies
// as speech. Returns [ErrInvalidFrame] for empty or odd-length input.
func (d *Detector) Classify(frame []byte) (Classification, error) {
	if len(frame) == 0 || len(frame)%2 != 0 {
		return Classification{}, ErrInvalidFrame
	}

	var sum float64
	for i := 0; i+1 < len(frame); i += 2 {
		s := int16(binary.LittleEndian.Uint16(frame[i:]))
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(frame)/2))

	return Classification{
		RMS:    rms,
		Silent: rms < d.Threshold(),
	}, nil
}
