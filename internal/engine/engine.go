// Package engine runs the duplex voice session: it owns the capture flow
// (microphone frames to the service) and the receive flow (service events to
// playback and action dispatch), and coordinates turn boundaries, latency
// instrumentation, and turn persistence between them.
//
// The two flows are independent goroutines sharing only the session and the
// per-turn [timing.Timeline]. Capture never waits on inbound events and
// event handling never waits on the microphone, so a slow model response
// cannot stall audio upload and vice versa. The one deliberate exception is
// action dispatch: function calls are executed synchronously on the receive
// flow, so at most one action runs at a time and its result is returned to
// the service before any later event is handled.
package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicewire/internal/observe"
	"github.com/MrWong99/voicewire/internal/segment"
	"github.com/MrWong99/voicewire/internal/timing"
	"github.com/MrWong99/voicewire/internal/transcript"
	"github.com/MrWong99/voicewire/internal/vad"
	"github.com/MrWong99/voicewire/pkg/action"
	"github.com/MrWong99/voicewire/pkg/audio"
	"github.com/MrWong99/voicewire/pkg/realtime"
)

// Session is the slice of the realtime session the engine drives. Satisfied
// by [*realtime.Session]; tests substitute a mock.
type Session interface {
	SendAudio(pcm []byte) error
	CommitTurn() error
	SendFunctionResult(callID, output string) error
	Interrupt() error
	Events() <-chan realtime.ServerEvent
	Err() error
	Close() error
}

// Compile-time assertion that the realtime session satisfies Session.
var _ Session = (*realtime.Session)(nil)

// TurnStore archives completed turns. Optional; satisfied by
// [*pgstore.Store].
type TurnStore interface {
	WriteTurn(ctx context.Context, sessionID string, record transcript.TurnRecord) error
}

// storeTimeout bounds the archive write so a slow database cannot stall
// event handling past the next turn.
const storeTimeout = 5 * time.Second

// Config wires an Engine's collaborators. Source, Session, Detector,
// Segmenter, and Dispatcher are required; the rest are optional.
type Config struct {
	// Source supplies captured microphone frames.
	Source audio.Source

	// Sink receives response audio for playback.
	Sink audio.Sink

	// Session is the open realtime session.
	Session Session

	// Detector classifies captured frames as speech or silence.
	Detector *vad.Detector

	// Segmenter decides turn boundaries from the detector's classifications.
	Segmenter segment.Segmenter

	// Dispatcher executes function calls requested by the model.
	Dispatcher action.Dispatcher

	// Metrics receives per-turn instrument updates. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Store archives completed turns. Nil disables persistence.
	Store TurnStore

	// SessionID labels archived turns.
	SessionID string

	// TrimLeadingSilence stops silent frames captured before speech onset
	// from being uploaded.
	TrimLeadingSilence bool
}

// Engine is the duplex session driver. Create with [New], run with
// [Engine.Run].
type Engine struct {
	source     audio.Source
	streamer   *audio.Streamer
	session    Session
	detector   *vad.Detector
	segmenter  segment.Segmenter
	dispatcher action.Dispatcher
	metrics    *observe.Metrics
	store      TurnStore
	sessionID  string
	trimIdle   bool

	timeline *timing.Timeline
	buffer   transcript.Buffer

	// turnStartedAt is written by the capture flow on speech onset and read
	// by the receive flow when archiving, hence the mutex.
	mu            sync.Mutex
	turnStartedAt time.Time

	// responseActive is set by the receive flow between response.created and
	// response.done and read by the capture flow to detect barge-in.
	responseActive atomic.Bool

	// playbackStarted tracks whether the current response produced any
	// audio. Receive-flow local.
	playbackStarted bool
}

// New validates cfg and returns a ready Engine.
func New(cfg Config) (*Engine, error) {
	var errs []error
	if cfg.Source == nil {
		errs = append(errs, errors.New("engine: source is required"))
	}
	if cfg.Session == nil {
		errs = append(errs, errors.New("engine: session is required"))
	}
	if cfg.Detector == nil {
		errs = append(errs, errors.New("engine: detector is required"))
	}
	if cfg.Segmenter == nil {
		errs = append(errs, errors.New("engine: segmenter is required"))
	}
	if cfg.Dispatcher == nil {
		errs = append(errs, errors.New("engine: dispatcher is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = discardSink{}
	}

	return &Engine{
		source:     cfg.Source,
		streamer:   audio.NewStreamer(sink),
		session:    cfg.Session,
		detector:   cfg.Detector,
		segmenter:  cfg.Segmenter,
		dispatcher: cfg.Dispatcher,
		metrics:    metrics,
		store:      cfg.Store,
		sessionID:  cfg.SessionID,
		trimIdle:   cfg.TrimLeadingSilence,
		timeline:   timing.New(),
	}, nil
}

// Run drives both flows until ctx is cancelled, the capture source is
// exhausted, or a fatal session error occurs. It always releases the
// capture source and the playback streamer before returning; closing the
// session is the caller's responsibility.
func (e *Engine) Run(ctx context.Context) error {
	e.metrics.ActiveSessions.Add(ctx, 1)
	defer e.metrics.ActiveSessions.Add(ctx, -1)
	defer e.streamer.Close()
	defer func() {
		if err := e.source.Close(); err != nil {
			slog.Warn("engine: source close failed", "err", err)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.captureFlow(ctx) })
	g.Go(func() error { return e.receiveFlow(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ─── Capture flow ─────────────────────────────────────────────────────────────

// captureFlow reads microphone frames, classifies them, streams them to the
// service, and commits the turn when the segmenter signals completion.
// Returns nil when the source is exhausted.
func (e *Engine) captureFlow(ctx context.Context) error {
	for {
		frame, err := e.source.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("engine: read frame: %w", err)
		}

		cls, err := e.detector.Classify(frame.Data)
		if err != nil {
			// Malformed frames are skipped, not treated as silence.
			slog.Debug("engine: skipping invalid frame", "bytes", len(frame.Data), "err", err)
			continue
		}

		sig := e.segmenter.Feed(cls.Silent)
		switch sig {
		case segment.SignalTurnStarted:
			e.timeline.Mark(timing.CaptureStart)
			e.mu.Lock()
			e.turnStartedAt = e.segmenter.TurnStart()
			e.mu.Unlock()
			slog.Debug("engine: turn started", "rms", cls.RMS)
			// Barge-in: speaking over an in-flight response cancels it.
			if e.responseActive.Load() {
				if err := e.session.Interrupt(); err != nil {
					return fmt.Errorf("engine: interrupt response: %w", err)
				}
				slog.Info("engine: response interrupted by speech onset")
			}
		case segment.SignalTurnComplete:
			e.timeline.Mark(timing.CaptureEnd)
		}

		if e.sendFrame(sig) {
			if err := e.session.SendAudio(frame.Data); err != nil {
				return fmt.Errorf("engine: send audio: %w", err)
			}
		}

		if sig == segment.SignalTurnComplete {
			e.timeline.Mark(timing.Commit)
			if err := e.session.CommitTurn(); err != nil {
				return fmt.Errorf("engine: commit turn: %w", err)
			}
			e.metrics.Turns.Add(ctx, 1)
			slog.Info("engine: turn committed")
		}
	}
}

// sendFrame decides whether the current frame is uploaded. Every frame is
// sent unless leading-silence trimming is on and the segmenter is idle with
// no boundary on this frame (the frame closing a turn is still sent).
func (e *Engine) sendFrame(sig segment.Signal) bool {
	if !e.trimIdle {
		return true
	}
	return e.segmenter.Active() || sig != segment.SignalNone
}

// ─── Receive flow ─────────────────────────────────────────────────────────────

// receiveFlow consumes inbound events in arrival order until the event
// channel closes or a fatal error occurs.
func (e *Engine) receiveFlow(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-e.session.Events():
			if !ok {
				return e.session.Err()
			}
			if err := e.handleEvent(ctx, evt); err != nil {
				return err
			}
		}
	}
}

// handleEvent dispatches one inbound event. A non-nil return is fatal to the
// session.
func (e *Engine) handleEvent(ctx context.Context, evt realtime.ServerEvent) error {
	switch evt.Type {
	case realtime.EventResponseCreated:
		e.timeline.Mark(timing.ResponseCreated)
		e.responseActive.Store(true)

	case realtime.EventTranscriptDelta:
		e.buffer.Apply(evt.Delta)

	case realtime.EventAudioDelta:
		e.handleAudioDelta(ctx, evt.Delta)

	case realtime.EventFunctionCallDone:
		return e.handleFunctionCall(ctx, evt)

	case realtime.EventResponseDone:
		e.finishTurn(ctx)

	case realtime.EventError:
		return e.handleServerError(ctx, evt)

	default:
		// Unknown event types are informational; the protocol adds them
		// freely.
		slog.Debug("engine: ignoring event", "type", evt.Type)
	}
	return nil
}

// handleAudioDelta decodes one response audio chunk and queues it for
// playback. The first chunk of a response marks generation and playback
// start; every chunk advances generation end.
func (e *Engine) handleAudioDelta(ctx context.Context, delta string) {
	pcm, err := base64.StdEncoding.DecodeString(delta)
	if err != nil {
		slog.Warn("engine: dropping undecodable audio delta", "err", err)
		e.metrics.DroppedEvents.Add(ctx, 1)
		return
	}

	e.timeline.Mark(timing.GenerationStart)
	e.timeline.Mark(timing.PlaybackStart)
	e.timeline.Touch(timing.GenerationEnd)
	e.playbackStarted = true

	if err := e.streamer.Enqueue(pcm); err != nil {
		slog.Warn("engine: playback enqueue failed", "err", err)
		e.metrics.DroppedEvents.Add(ctx, 1)
	}
}

// handleFunctionCall executes the requested action synchronously and returns
// its result to the service. Dispatch failures are reported back as the
// function result; only a failure to deliver the result is fatal.
func (e *Engine) handleFunctionCall(ctx context.Context, evt realtime.ServerEvent) error {
	e.timeline.Mark(timing.FunctionCallStart)
	output, err := e.dispatcher.Dispatch(ctx, evt.Name)
	e.timeline.Mark(timing.FunctionCallEnd)

	status := "ok"
	if err != nil {
		status = "error"
		output = action.FailureResult(err)
		slog.Warn("engine: action dispatch failed", "action", evt.Name, "err", err)
	} else {
		slog.Info("engine: action dispatched", "action", evt.Name)
	}
	e.metrics.RecordToolCall(ctx, evt.Name, status)

	if err := e.session.SendFunctionResult(evt.CallID, output); err != nil {
		return fmt.Errorf("engine: send function result: %w", err)
	}
	return nil
}

// finishTurn closes out the turn cycle on response.done: derives the latency
// report, records metrics, archives the turn, and resets per-turn state.
func (e *Engine) finishTurn(ctx context.Context) {
	e.timeline.Mark(timing.ResponseDone)
	if e.playbackStarted {
		e.timeline.Mark(timing.PlaybackEnd)
	}

	report := e.timeline.Report()
	slog.Info("engine: turn complete",
		"transcript", e.buffer.Text(),
		"latency", report,
	)
	e.recordReport(ctx, report)

	if e.store != nil {
		e.archiveTurn(ctx, report)
	}

	e.timeline.Reset()
	e.buffer.Reset()
	e.playbackStarted = false
	e.responseActive.Store(false)
}

// recordReport feeds the measured intervals into their histograms. Intervals
// the turn never produced are skipped.
func (e *Engine) recordReport(ctx context.Context, r timing.Report) {
	if r.Capture.OK {
		e.metrics.CaptureDuration.Record(ctx, r.Capture.Seconds())
	}
	if r.Transcription.OK {
		e.metrics.TranscriptionDuration.Record(ctx, r.Transcription.Seconds())
	}
	if r.Inference.OK {
		e.metrics.InferenceDuration.Record(ctx, r.Inference.Seconds())
	}
	if r.ToolExecution.OK {
		e.metrics.ToolExecutionDuration.Record(ctx, r.ToolExecution.Seconds())
	}
	if r.Synthesis.OK {
		e.metrics.SynthesisDuration.Record(ctx, r.Synthesis.Seconds())
	}
	if r.Playback.OK {
		e.metrics.PlaybackDuration.Record(ctx, r.Playback.Seconds())
	}
}

// archiveTurn writes the completed turn to the store. Archive failures are
// logged, never fatal.
func (e *Engine) archiveTurn(ctx context.Context, report timing.Report) {
	writeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	e.mu.Lock()
	startedAt := e.turnStartedAt
	e.mu.Unlock()

	record := transcript.TurnRecord{
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
		Transcript:  e.buffer.Text(),
		Report:      report,
	}
	if err := e.store.WriteTurn(writeCtx, e.sessionID, record); err != nil {
		slog.Warn("engine: turn archive failed", "err", err)
	}
}

// handleServerError classifies an inbound error event. Request-level
// rejections are logged and survived; everything else ends the session.
func (e *Engine) handleServerError(ctx context.Context, evt realtime.ServerEvent) error {
	e.metrics.ProtocolErrors.Add(ctx, 1)

	detail := realtime.ErrorDetail{Type: "unknown", Message: "error event without detail"}
	if evt.Error != nil {
		detail = *evt.Error
	}
	perr := &realtime.ProtocolError{Detail: detail}

	if perr.Recoverable() {
		slog.Warn("engine: recoverable server error", "type", detail.Type, "code", detail.Code, "message", detail.Message)
		return nil
	}
	return perr
}

// discardSink is the playback sink used when no audio output is configured.
type discardSink struct{}

func (discardSink) WriteFrame(context.Context, []byte) error { return nil }
func (discardSink) Close() error                             { return nil }
