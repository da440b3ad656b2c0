// Package mock provides in-memory mock implementations of the [audio.Source]
// and [audio.Sink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{Frames: []audio.Frame{{Data: pcm, SampleRate: 24000}}}
//	sink := &mock.Sink{}
//	// ... run the pipeline ...
//	if got := len(sink.WrittenPayloads()); got != 1 { ... }
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/voicewire/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. It replays the scripted
// Frames in order and then returns ReadError (or [io.EOF] if ReadError is nil).
type Source struct {
	mu sync.Mutex

	// Frames are returned by successive ReadFrame calls, in order.
	Frames []audio.Frame

	// ReadError is returned once Frames is exhausted. Defaults to io.EOF.
	ReadError error

	// Block, when true, makes ReadFrame wait for ctx cancellation after the
	// scripted frames are exhausted instead of returning an error.
	Block bool

	// CloseError is returned by Close.
	CloseError error

	// CallCountReadFrame records how many times ReadFrame was called.
	CallCountReadFrame int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	next int
}

// ReadFrame implements [audio.Source].
func (s *Source) ReadFrame(ctx context.Context) (audio.Frame, error) {
	s.mu.Lock()
	s.CallCountReadFrame++
	if s.next < len(s.Frames) {
		f := s.Frames[s.next]
		s.next++
		s.mu.Unlock()
		return f, nil
	}
	block := s.Block
	readErr := s.ReadError
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return audio.Frame{}, ctx.Err()
	}
	if readErr != nil {
		return audio.Frame{}, readErr
	}
	return audio.Frame{}, io.EOF
}

// Close implements [audio.Source]. Returns CloseError.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseError
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink]. It records every payload
// written to it.
type Sink struct {
	mu sync.Mutex

	// WriteError is returned by every WriteFrame call when non-nil.
	WriteError error

	// CloseError is returned by Close.
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	written [][]byte
}

// WriteFrame implements [audio.Sink]. It records pcm.
func (s *Sink) WriteFrame(_ context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteError != nil {
		return s.WriteError
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.written = append(s.written, cp)
	return nil
}

// Close implements [audio.Sink]. Returns CloseError.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseError
}

// WrittenPayloads returns a snapshot copy of everything written so far.
func (s *Sink) WrittenPayloads() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.written))
	copy(out, s.written)
	return out
}
