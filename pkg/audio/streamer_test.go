package audio_test

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/voicewire/pkg/audio"
	"github.com/MrWong99/voicewire/pkg/audio/mock"
)

func TestStreamer_DeliversInOrder(t *testing.T) {
	t.Parallel()
	sink := &mock.Sink{}
	s := audio.NewStreamer(sink)

	payloads := make([][]byte, 50)
	for i := range payloads {
		payloads[i] = []byte(fmt.Sprintf("chunk-%03d", i))
		if err := s.Enqueue(payloads[i]); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	// Close drains the queue before returning, so everything is written.
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	written := sink.WrittenPayloads()
	if len(written) != len(payloads) {
		t.Fatalf("sink received %d payloads; want %d", len(written), len(payloads))
	}
	for i := range payloads {
		if !bytes.Equal(written[i], payloads[i]) {
			t.Fatalf("payload %d out of order: got %q want %q", i, written[i], payloads[i])
		}
	}
}

func TestStreamer_EnqueueAfterClose(t *testing.T) {
	t.Parallel()
	s := audio.NewStreamer(&mock.Sink{})

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Enqueue([]byte("late")); err == nil {
		t.Error("Enqueue after Close should fail")
	}
}

func TestStreamer_CloseIdempotent(t *testing.T) {
	t.Parallel()
	sink := &mock.Sink{}
	s := audio.NewStreamer(sink)

	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if sink.CallCountClose != 1 {
		t.Errorf("sink closed %d times; want 1", sink.CallCountClose)
	}
}

func TestStreamer_SinkErrorDoesNotStopWorker(t *testing.T) {
	t.Parallel()
	sink := &mock.Sink{WriteError: fmt.Errorf("device gone")}
	s := audio.NewStreamer(sink)

	for i := 0; i < 5; i++ {
		if err := s.Enqueue([]byte{byte(i)}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	// Give the worker a moment to chew through the failing writes, then
	// verify Close still returns promptly.
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close blocked after sink write errors")
	}
}
