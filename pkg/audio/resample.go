package audio

import (
	"context"
	"log/slog"
	"sync"
)

// Resample converts little-endian mono PCM16 from srcRate to dstRate using
// linear interpolation. Returns the input unchanged when the rates match or
// either rate is non-positive.
func Resample(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := 0; i < dstSamples; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// ResampleSource wraps a [Source] and converts every frame to the target
// sample rate. Frames already at the target rate pass through untouched. It
// logs a warning on the first conversion so an unexpected device rate is
// visible.
type ResampleSource struct {
	src    Source
	rate   int
	warned sync.Once
}

// Compile-time assertion that ResampleSource satisfies the Source interface.
var _ Source = (*ResampleSource)(nil)

// NewResampleSource returns a ResampleSource converting src's frames to
// rate. A non-positive rate falls back to [DefaultSampleRate].
func NewResampleSource(src Source, rate int) *ResampleSource {
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	return &ResampleSource{src: src, rate: rate}
}

// ReadFrame implements [Source].
func (s *ResampleSource) ReadFrame(ctx context.Context) (Frame, error) {
	frame, err := s.src.ReadFrame(ctx)
	if err != nil {
		return Frame{}, err
	}
	if frame.SampleRate == s.rate {
		return frame, nil
	}

	s.warned.Do(func() {
		slog.Warn("audio: resampling capture stream",
			"from_hz", frame.SampleRate,
			"to_hz", s.rate,
		)
	})
	return Frame{
		Data:       Resample(frame.Data, frame.SampleRate, s.rate),
		SampleRate: s.rate,
	}, nil
}

// Close implements [Source].
func (s *ResampleSource) Close() error { return s.src.Close() }
