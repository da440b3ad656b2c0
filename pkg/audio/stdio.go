package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ReaderSource adapts an [io.Reader] of raw little-endian PCM16 into a
// [Source] of fixed-size frames. It is the capture path for piped audio:
//
//	arecord -f S16_LE -r 24000 -c 1 -t raw | voicewire
//
// ReadFrame is driven from a single goroutine.
type ReaderSource struct {
	r          io.Reader
	sampleRate int
	frameBytes int
}

// Compile-time assertion that ReaderSource satisfies the Source interface.
var _ Source = (*ReaderSource)(nil)

// NewReaderSource returns a ReaderSource producing frames of frameSize
// samples at sampleRate. Non-positive values fall back to the package
// defaults.
func NewReaderSource(r io.Reader, sampleRate, frameSize int) *ReaderSource {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	return &ReaderSource{
		r:          r,
		sampleRate: sampleRate,
		frameBytes: frameSize * 2,
	}
}

// ReadFrame implements [Source]. It blocks until a full frame is read. A
// truncated final frame is returned trimmed to whole samples; the next call
// returns [io.EOF].
func (s *ReaderSource) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	buf := make([]byte, s.frameBytes)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case err == nil:
		return Frame{Data: buf, SampleRate: s.sampleRate}, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		// Keep whole samples only; an odd trailing byte is discarded.
		n -= n % 2
		if n == 0 {
			return Frame{}, io.EOF
		}
		return Frame{Data: buf[:n], SampleRate: s.sampleRate}, nil
	case errors.Is(err, io.EOF):
		return Frame{}, io.EOF
	default:
		return Frame{}, fmt.Errorf("audio: read frame: %w", err)
	}
}

// Close implements [Source]. It closes the underlying reader when it is an
// [io.Closer].
func (s *ReaderSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// WriterSink adapts an [io.Writer] into a [Sink] for raw PCM16 playback:
//
//	voicewire | aplay -f S16_LE -r 24000 -c 1 -t raw
type WriterSink struct {
	w io.Writer
}

// Compile-time assertion that WriterSink satisfies the Sink interface.
var _ Sink = (*WriterSink)(nil)

// NewWriterSink returns a WriterSink wrapping w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// WriteFrame implements [Sink].
func (s *WriterSink) WriteFrame(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.w.Write(pcm); err != nil {
		return fmt.Errorf("audio: write frame: %w", err)
	}
	return nil
}

// Close implements [Sink]. It closes the underlying writer when it is an
// [io.Closer].
func (s *WriterSink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
