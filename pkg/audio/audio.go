// Package audio defines the types and interfaces for audio device connectivity
// within Voicewire.
//
// The two primary abstractions are:
//
//   - [Source] — produces fixed-size PCM16 frames from a capture device.
//   - [Sink] — accepts PCM16 payloads for playback.
//
// Implementations of these interfaces are provided by device-specific adapter
// packages (portaudio, ALSA, file replay, …). The interfaces are intentionally
// narrow to keep the session engine decoupled from hardware details.
//
// This package lives under pkg/ because external code (third-party device
// adapters) is expected to implement [Source] and [Sink].
package audio

import "context"

const (
	// DefaultSampleRate is the PCM sample rate negotiated with the realtime
	// service, in Hz.
	DefaultSampleRate = 24000

	// DefaultFrameSize is the number of samples per captured frame.
	DefaultFrameSize = 2048
)

// Frame is a single fixed-size block of PCM16 mono audio flowing through the
// pipeline. Frames are the atomic unit of audio transport — captured from the
// source, classified by VAD, and encoded onto the wire. A Frame is owned by
// whichever pipeline stage currently holds it and must not be retained after
// being handed off.
type Frame struct {
	// Data holds little-endian PCM16 samples.
	Data []byte

	// SampleRate in Hz (e.g., 24000).
	SampleRate int
}

// Samples returns the number of 16-bit samples in the frame.
func (f Frame) Samples() int { return len(f.Data) / 2 }

// Source produces audio frames from a capture device.
//
// ReadFrame blocks until a full frame is available, the context is cancelled,
// or the device fails. Implementations need not be safe for concurrent use —
// the engine reads from a single goroutine.
type Source interface {
	// ReadFrame returns the next captured frame. A returned error other than
	// the context's error is treated as fatal to the capture flow.
	ReadFrame(ctx context.Context) (Frame, error)

	// Close releases the capture device. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Sink accepts PCM payloads for playback.
//
// WriteFrame may block on device I/O; callers that must not stall should
// write through a [Streamer]. Implementations need not be safe for concurrent
// use — the streamer serialises writes.
type Sink interface {
	// WriteFrame plays the given PCM16 payload.
	WriteFrame(ctx context.Context, pcm []byte) error

	// Close releases the playback device. Calling Close more than once is safe
	// and returns nil.
	Close() error
}
