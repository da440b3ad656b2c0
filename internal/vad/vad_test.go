package vad_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/voicewire/internal/vad"
)

// pcmFrame builds a little-endian PCM16 frame where every sample has the
// given amplitude, so the frame's RMS equals |amplitude| exactly.
func pcmFrame(amplitude int16, samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amplitude))
	}
	return buf
}

func TestClassify_SilenceBelowThreshold(t *testing.T) {
	t.Parallel()
	d := vad.New(1200)

	cls, err := d.Classify(pcmFrame(1199, 64))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !cls.Silent {
		t.Errorf("frame with RMS %.1f should be silent below threshold 1200", cls.RMS)
	}
}

func TestClassify_EnergyAtThresholdIsSpeech(t *testing.T) {
	t.Parallel()
	d := vad.New(1200)

	cls, err := d.Classify(pcmFrame(1200, 64))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.Silent {
		t.Error("frame with RMS exactly at the threshold must classify as speech")
	}
}

func TestClassify_SpeechAboveThreshold(t *testing.T) {
	t.Parallel()
	d := vad.New(1200)

	cls, err := d.Classify(pcmFrame(8000, 64))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.Silent {
		t.Errorf("frame with RMS %.1f should be speech", cls.RMS)
	}
}

func TestClassify_RMSComputation(t *testing.T) {
	t.Parallel()
	d := vad.New(1200)

	// Alternate +3000/-3000: RMS is 3000 regardless of sign.
	buf := make([]byte, 8*2)
	for i := 0; i < 8; i++ {
		v := int16(3000)
		if i%2 == 1 {
			v = -3000
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}

	cls, err := d.Classify(buf)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if math.Abs(cls.RMS-3000) > 1e-9 {
		t.Errorf("RMS = %f; want 3000", cls.RMS)
	}
}

func TestClassify_EmptyFrame(t *testing.T) {
	t.Parallel()
	d := vad.New(1200)

	if _, err := d.Classify(nil); !errors.Is(err, vad.ErrInvalidFrame) {
		t.Errorf("Classify(nil) error = %v; want ErrInvalidFrame", err)
	}
}

func TestClassify_OddLengthFrame(t *testing.T) {
	t.Parallel()
	d := vad.New(1200)

	if _, err := d.Classify([]byte{0x01, 0x02, 0x03}); !errors.Is(err, vad.ErrInvalidFrame) {
		t.Errorf("Classify(odd) error = %v; want ErrInvalidFrame", err)
	}
}

func TestNew_NonPositiveThresholdFallsBack(t *testing.T) {
	t.Parallel()

	for _, threshold := range []float64{0, -5} {
		d := vad.New(threshold)
		if got := d.Threshold(); got != vad.DefaultThreshold {
			t.Errorf("New(%v).Threshold() = %v; want %v", threshold, got, vad.DefaultThreshold)
		}
	}
}

func TestClassify_AllZeroSamplesAreSilent(t *testing.T) {
	t.Parallel()
	d := vad.New(1200)

	cls, err := d.Classify(pcmFrame(0, 2048))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !cls.Silent || cls.RMS != 0 {
		t.Errorf("zero frame: silent=%v rms=%v; want silent with RMS 0", cls.Silent, cls.RMS)
	}
}
