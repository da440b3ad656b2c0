// Package realtime implements the client side of the OpenAI Realtime API
// session protocol over a bidirectional WebSocket.
//
// It establishes the connection, sends the initial session.update (with
// server-side turn detection disabled — turn boundaries are decided locally),
// encodes outbound audio/control events, and decodes inbound JSON events into
// a [ServerEvent] stream delivered in strict arrival order. All protocol
// sequencing rules live here: commit-then-response-create is sent as an
// atomic pair, and a function result is always followed by a response
// request.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// eventBuf is the buffer depth of the Events channel. The receive loop
	// blocks (preserving order) rather than dropping when it fills.
	eventBuf = 64
)

// ErrSessionClosed is returned by send operations after the session has been
// closed or the remote end has gone away.
var ErrSessionClosed = errors.New("realtime: session closed")

// ProtocolError is a fatal error event received from the service.
type ProtocolError struct {
	Detail ErrorDetail
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Detail.Code != "" {
		return fmt.Sprintf("realtime: server error %s (%s): %s", e.Detail.Type, e.Detail.Code, e.Detail.Message)
	}
	return fmt.Sprintf("realtime: server error %s: %s", e.Detail.Type, e.Detail.Message)
}

// Recoverable reports whether the session may continue after this error.
// Request-level rejections leave the session itself healthy; everything else
// is treated as fatal.
func (e *ProtocolError) Recoverable() bool {
	return e.Detail.Type == "invalid_request_error"
}

// ─── Options ──────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithModel sets the model requested for sessions.
func WithModel(model string) Option {
	return func(d *Dialer) { d.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(d *Dialer) { d.baseURL = url }
}

// WithDecodeErrorHandler registers a callback invoked whenever an inbound
// message cannot be decoded. The malformed message is dropped and the
// session continues; the handler exists so callers can count drops.
func WithDecodeErrorHandler(fn func(error)) Option {
	return func(d *Dialer) { d.onDecodeError = fn }
}

// ─── Dialer ───────────────────────────────────────────────────────────────────

// Dialer opens realtime sessions against the service.
type Dialer struct {
	apiKey        string
	model         string
	baseURL       string
	onDecodeError func(error)
}

// NewDialer creates a Dialer with the given API key and options.
func NewDialer(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// SessionConfig is the initial configuration forwarded verbatim in the
// session.update event sent at session start.
type SessionConfig struct {
	// Modalities the model should respond with. Defaults to audio and text.
	Modalities []string

	// Instructions is the system-level prompt for the session.
	Instructions string

	// Voice selects the synthesised voice (e.g., "alloy").
	Voice string

	// Tools is the set of callable actions offered to the model.
	Tools []Tool

	// ToolChoice controls tool selection. Defaults to "auto" when tools are
	// configured.
	ToolChoice string
}

// Dial establishes a new realtime session. It connects the WebSocket, sends
// the initial session.update (with turn_detection explicitly null so the
// service performs no server-side segmentation), and starts the receive
// loop. The returned Session is ready to accept audio immediately.
func (d *Dialer) Dial(ctx context.Context, cfg SessionConfig) (*Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", d.baseURL, d.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + d.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}
	// Audio deltas can be large; the library default read limit is 32 KiB.
	conn.SetReadLimit(1 << 22)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	s := &Session{
		conn:          conn,
		events:        make(chan ServerEvent, eventBuf),
		onDecodeError: d.onDecodeError,
		ctx:           sessCtx,
		cancel:        sessCancel,
	}

	if err := s.sendSessionUpdate(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("realtime: session update: %w", err)
	}

	go s.receiveLoop()

	return s, nil
}

// ─── Session ──────────────────────────────────────────────────────────────────

// Session is an open realtime session. All methods are safe for concurrent
// use. The writeMu serialises every outbound message so that multi-message
// operations ([Session.CommitTurn], [Session.SendFunctionResult]) form
// atomic pairs with no interleaved audio append between them.
//
// Callers must call Close when the session is no longer needed, and must
// drain [Session.Events] promptly — the receive loop blocks rather than
// reorders when the channel is full.
type Session struct {
	conn          *websocket.Conn
	events        chan ServerEvent
	onDecodeError func(error)

	writeMu sync.Mutex

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate sends the initial session.update event.
func (s *Session) sendSessionUpdate(cfg SessionConfig) error {
	params := sessionParams{
		Modalities:   cfg.Modalities,
		Instructions: cfg.Instructions,
		Voice:        cfg.Voice,
		Tools:        cfg.Tools,
		ToolChoice:   cfg.ToolChoice,
	}
	if len(params.Modalities) == 0 {
		params.Modalities = []string{"audio", "text"}
	}
	if len(params.Tools) > 0 && params.ToolChoice == "" {
		params.ToolChoice = "auto"
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message under the
// write mutex.
func (s *Session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeJSONLocked(v)
}

// writeJSONLocked writes without taking writeMu. Callers must hold it.
func (s *Session) writeJSONLocked(v any) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	if err := s.conn.Write(s.ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("realtime: write: %w", errors.Join(ErrSessionClosed, err))
	}
	return nil
}

// SendAudio appends a raw PCM16 chunk to the server-side input buffer.
// Always permitted while the session is open, at any point in the turn
// cycle.
func (s *Session) SendAudio(pcm []byte) error {
	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// CommitTurn finalises the server-side input buffer and requests a model
// response. The commit event is sent strictly before response.create, with
// the write mutex held across both so no audio frame from a later turn can
// interleave between them.
func (s *Session) CommitTurn() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.writeJSONLocked(map[string]string{"type": "input_audio_buffer.commit"}); err != nil {
		return err
	}
	return s.writeJSONLocked(map[string]string{"type": "response.create"})
}

// SendFunctionResult returns a function call's output to the service and
// immediately requests the next model response so the assistant's turn
// resumes. callID must match a previously received function-call event.
func (s *Session) SendFunctionResult(callID, output string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	item := createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
	if err := s.writeJSONLocked(item); err != nil {
		return err
	}
	return s.writeJSONLocked(map[string]string{"type": "response.create"})
}

// Interrupt asks the service to stop generating the current response.
func (s *Session) Interrupt() error {
	return s.writeJSON(map[string]string{"type": "response.cancel"})
}

// Events returns the inbound event stream. Events are delivered in strict
// arrival order and the channel is closed when the session ends; after it
// closes, call [Session.Err] to check whether the session ended cleanly.
func (s *Session) Events() <-chan ServerEvent { return s.events }

// Err returns the error that caused the Events channel to close prematurely,
// or nil if the session ended cleanly via Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// receiveLoop reads messages from the WebSocket, decodes them, and delivers
// them on the events channel in arrival order. It owns the events channel
// and closes it on exit. Malformed messages are dropped (the server is
// authoritative; a decode failure on our side must not kill the session).
func (s *Session) receiveLoop() {
	defer s.closeOnce.Do(func() { close(s.events) })

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(fmt.Errorf("realtime: read: %w", errors.Join(ErrSessionClosed, err)))
			return
		}

		var evt ServerEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Warn("realtime: dropping undecodable message", "bytes", len(data), "err", err)
			if s.onDecodeError != nil {
				s.onDecodeError(err)
			}
			continue
		}

		select {
		case s.events <- evt:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// Close terminates the session and releases the connection. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
