package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// defaultQueueDepth is the buffer depth of the streamer's playback queue.
// Sized for a few seconds of response audio at typical delta chunk sizes.
const defaultQueueDepth = 256

// Streamer drains PCM payloads into a [Sink] in arrival order.
//
// Enqueue never blocks on device I/O: payloads are handed to a single worker
// goroutine that performs the (potentially slow) sink writes, so the caller's
// event-dispatch loop is never stalled by playback. Payloads enqueued for a
// single response are written to the sink in exactly the order received.
type Streamer struct {
	sink  Sink
	queue chan []byte

	mu     sync.Mutex
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewStreamer creates a Streamer writing to sink and starts its worker.
// Callers must call Close when playback is no longer needed.
func NewStreamer(sink Sink) *Streamer {
	s := &Streamer{
		sink:  sink,
		queue: make(chan []byte, defaultQueueDepth),
		done:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Enqueue queues pcm for playback. Returns an error if the streamer is
// closed or the queue is full (the payload is dropped rather than blocking
// the caller).
func (s *Streamer) Enqueue(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("audio: streamer closed")
	}
	s.mu.Unlock()

	select {
	case s.queue <- pcm:
		return nil
	default:
		return fmt.Errorf("audio: playback queue full, dropping %d bytes", len(pcm))
	}
}

// run is the worker loop. It exits when the streamer is closed, after
// draining any payloads already queued.
func (s *Streamer) run() {
	defer s.wg.Done()

	for {
		select {
		case pcm := <-s.queue:
			if err := s.sink.WriteFrame(context.Background(), pcm); err != nil {
				slog.Warn("audio: sink write failed", "bytes", len(pcm), "err", err)
			}
		case <-s.done:
			// Drain what is already queued so the tail of a response is not
			// cut off, then stop.
			for {
				select {
				case pcm := <-s.queue:
					if err := s.sink.WriteFrame(context.Background(), pcm); err != nil {
						slog.Warn("audio: sink write failed", "bytes", len(pcm), "err", err)
					}
				default:
					return
				}
			}
		}
	}
}

// Close stops the worker after draining queued payloads and closes the sink.
// Calling Close more than once is safe and returns nil.
func (s *Streamer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	return s.sink.Close()
}
