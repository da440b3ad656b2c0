package realtime_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicewire/pkg/realtime"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server. The handler receives the
// accepted conn. The server is automatically closed when the test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// typedMsg is the minimal shape every outbound protocol message shares.
type typedMsg struct {
	Type string `json:"type"`
}

// dialTest connects a session to srv with sane test defaults.
func dialTest(t *testing.T, srv *httptest.Server, cfg realtime.SessionConfig, opts ...realtime.Option) *realtime.Session {
	t.Helper()
	opts = append([]realtime.Option{realtime.WithBaseURL(wsURL(srv))}, opts...)
	d := realtime.NewDialer("test-key", opts...)
	s, err := d.Dial(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ── Dial / session.update ─────────────────────────────────────────────────────

func TestDial_SendsSessionUpdateWithNullTurnDetection(t *testing.T) {
	t.Parallel()

	received := make(chan []byte, 1)
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		received <- data
		<-conn.CloseRead(context.Background()).Done()
	})

	dialTest(t, srv, realtime.SessionConfig{
		Instructions: "You control a small robot.",
		Voice:        "alloy",
		Tools: []realtime.Tool{
			{Type: "function", Name: "wave_hands", Description: "Wave both hands."},
		},
	})

	var raw []byte
	select {
	case raw = <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout: server never received session.update")
	}

	var msg struct {
		Type    string          `json:"type"`
		Session json.RawMessage `json:"session"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "session.update" {
		t.Errorf("first message type = %q; want session.update", msg.Type)
	}

	var sess map[string]json.RawMessage
	if err := json.Unmarshal(msg.Session, &sess); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	// turn_detection must be present and explicitly null, or the service
	// keeps its own VAD running.
	td, ok := sess["turn_detection"]
	if !ok {
		t.Fatal("session.update is missing turn_detection")
	}
	if !bytes.Equal(bytes.TrimSpace(td), []byte("null")) {
		t.Errorf("turn_detection = %s; want null", td)
	}
	if tc := string(sess["tool_choice"]); tc != `"auto"` {
		t.Errorf("tool_choice = %s; want \"auto\" default with tools", tc)
	}
}

func TestDial_SendsAuthHeaders(t *testing.T) {
	t.Parallel()

	headers := make(chan http.Header, 1)
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		headers <- r.Header.Clone()
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	dialTest(t, srv, realtime.SessionConfig{})

	select {
	case h := <-headers:
		if got := h.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := h.Get("OpenAI-Beta"); got != "realtime=v1" {
			t.Errorf("OpenAI-Beta = %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestWithModel_AppearsInURL(t *testing.T) {
	t.Parallel()

	model := make(chan string, 1)
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		model <- r.URL.Query().Get("model")
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	dialTest(t, srv, realtime.SessionConfig{}, realtime.WithModel("gpt-4o-mini-realtime"))

	select {
	case m := <-model:
		if m != "gpt-4o-mini-realtime" {
			t.Errorf("model in URL = %q", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

// ── Outbound sequencing ───────────────────────────────────────────────────────

func TestSendAudio_Base64RoundTrip(t *testing.T) {
	t.Parallel()

	audioMsg := make(chan string, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw) // session.update
		var msg struct {
			Type  string `json:"type"`
			Audio string `json:"audio"`
		}
		readJSON(t, conn, &msg)
		if msg.Type != "input_audio_buffer.append" {
			t.Errorf("type = %q; want input_audio_buffer.append", msg.Type)
		}
		audioMsg <- msg.Audio
		<-conn.CloseRead(context.Background()).Done()
	})

	s := dialTest(t, srv, realtime.SessionConfig{})

	pcm := []byte{0x01, 0x02, 0xFE, 0xFF}
	if err := s.SendAudio(pcm); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case b64 := <-audioMsg:
		decoded, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !bytes.Equal(decoded, pcm) {
			t.Errorf("decoded audio = %v; want %v", decoded, pcm)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestCommitTurn_CommitStrictlyBeforeResponseCreate(t *testing.T) {
	t.Parallel()

	types := make(chan string, 8)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			var msg typedMsg
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				return
			}
			if json.Unmarshal(data, &msg) == nil {
				types <- msg.Type
			}
		}
	})

	s := dialTest(t, srv, realtime.SessionConfig{})
	if err := s.CommitTurn(); err != nil {
		t.Fatalf("CommitTurn: %v", err)
	}

	want := []string{"session.update", "input_audio_buffer.commit", "response.create"}
	for i, w := range want {
		select {
		case got := <-types:
			if got != w {
				t.Fatalf("message %d = %q; want %q", i, got, w)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for message %d (%q)", i, w)
		}
	}
}

func TestSendFunctionResult_ItemThenResponseCreate(t *testing.T) {
	t.Parallel()

	type itemMsg struct {
		Type string `json:"type"`
		Item struct {
			Type   string `json:"type"`
			CallID string `json:"call_id"`
			Output string `json:"output"`
		} `json:"item"`
	}

	msgs := make(chan json.RawMessage, 8)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				return
			}
			msgs <- data
		}
	})

	s := dialTest(t, srv, realtime.SessionConfig{})
	if err := s.SendFunctionResult("call-c1", `{"ok": true}`); err != nil {
		t.Fatalf("SendFunctionResult: %v", err)
	}

	next := func() json.RawMessage {
		select {
		case m := <-msgs:
			return m
		case <-time.After(3 * time.Second):
			t.Fatal("timeout waiting for message")
			return nil
		}
	}

	next() // session.update

	var item itemMsg
	if err := json.Unmarshal(next(), &item); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	if item.Type != "conversation.item.create" {
		t.Fatalf("second message = %q; want conversation.item.create", item.Type)
	}
	if item.Item.Type != "function_call_output" || item.Item.CallID != "call-c1" || item.Item.Output != `{"ok": true}` {
		t.Errorf("item = %+v", item.Item)
	}

	var follow typedMsg
	if err := json.Unmarshal(next(), &follow); err != nil {
		t.Fatalf("unmarshal follow-up: %v", err)
	}
	if follow.Type != "response.create" {
		t.Errorf("third message = %q; want response.create", follow.Type)
	}
}

func TestInterrupt_SendsResponseCancel(t *testing.T) {
	t.Parallel()

	types := make(chan string, 4)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			var msg typedMsg
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				return
			}
			if json.Unmarshal(data, &msg) == nil {
				types <- msg.Type
			}
		}
	})

	s := dialTest(t, srv, realtime.SessionConfig{})
	if err := s.Interrupt(); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}

	want := []string{"session.update", "response.cancel"}
	for i, w := range want {
		select {
		case got := <-types:
			if got != w {
				t.Fatalf("message %d = %q; want %q", i, got, w)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for message %d (%q)", i, w)
		}
	}
}

// ── Inbound event stream ──────────────────────────────────────────────────────

func TestEvents_DeliveredInArrivalOrder(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw) // session.update

		writeJSON(t, conn, map[string]any{"type": "response.created"})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "Hel"})
		writeJSON(t, conn, map[string]any{"type": "response.audio.delta", "delta": base64.StdEncoding.EncodeToString([]byte{1, 2})})
		writeJSON(t, conn, map[string]any{
			"type": "response.function_call_arguments.done",
			"name": "wave_hands", "arguments": "{}", "call_id": "call-c1",
		})
		writeJSON(t, conn, map[string]any{"type": "response.done"})
		<-conn.CloseRead(context.Background()).Done()
	})

	s := dialTest(t, srv, realtime.SessionConfig{})

	wantTypes := []string{
		realtime.EventResponseCreated,
		realtime.EventTranscriptDelta,
		realtime.EventAudioDelta,
		realtime.EventFunctionCallDone,
		realtime.EventResponseDone,
	}
	for i, want := range wantTypes {
		select {
		case evt := <-s.Events():
			if evt.Type != want {
				t.Fatalf("event %d = %q; want %q", i, evt.Type, want)
			}
			if want == realtime.EventFunctionCallDone {
				if evt.Name != "wave_hands" || evt.CallID != "call-c1" {
					t.Errorf("function call event = %+v", evt)
				}
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for event %d (%q)", i, want)
		}
	}
}

func TestEvents_MalformedMessageIsSkipped(t *testing.T) {
	t.Parallel()

	decodeErrs := make(chan error, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = conn.Write(ctx, websocket.MessageText, []byte("{not json"))
		writeJSON(t, conn, map[string]any{"type": "response.done"})
		<-conn.CloseRead(context.Background()).Done()
	})

	s := dialTest(t, srv, realtime.SessionConfig{},
		realtime.WithDecodeErrorHandler(func(err error) { decodeErrs <- err }),
	)

	select {
	case evt := <-s.Events():
		if evt.Type != realtime.EventResponseDone {
			t.Errorf("event after malformed message = %q; want response.done", evt.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout: the malformed message killed the stream")
	}
	select {
	case err := <-decodeErrs:
		if err == nil {
			t.Error("decode error handler received nil")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("decode error handler never invoked")
	}
}

func TestEvents_ErrorEventFlowsThroughChannel(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		writeJSON(t, conn, map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    "invalid_request_error",
				"code":    "invalid_value",
				"message": "bad tool schema",
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	s := dialTest(t, srv, realtime.SessionConfig{})

	select {
	case evt := <-s.Events():
		if evt.Type != realtime.EventError || evt.Error == nil {
			t.Fatalf("event = %+v; want error event with detail", evt)
		}
		perr := &realtime.ProtocolError{Detail: *evt.Error}
		if !perr.Recoverable() {
			t.Error("invalid_request_error should be recoverable")
		}
		if !strings.Contains(perr.Error(), "bad tool schema") {
			t.Errorf("Error() = %q", perr.Error())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

func TestClose_EventsChannelClosesCleanly(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	s := dialTest(t, srv, realtime.SessionConfig{})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case _, ok := <-s.Events():
		if ok {
			t.Error("expected closed Events channel")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Events channel never closed")
	}
	if err := s.Err(); err != nil {
		t.Errorf("Err() after clean Close = %v; want nil", err)
	}
}

func TestSendAudio_AfterCloseReturnsSessionClosed(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	s := dialTest(t, srv, realtime.SessionConfig{})
	s.Close()

	if err := s.SendAudio([]byte{1, 2}); !errors.Is(err, realtime.ErrSessionClosed) {
		t.Errorf("SendAudio after Close = %v; want ErrSessionClosed", err)
	}
}

func TestErr_SetWhenServerDrops(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		// Abrupt close without a close frame.
		conn.CloseNow()
	})

	s := dialTest(t, srv, realtime.SessionConfig{})

	select {
	case _, ok := <-s.Events():
		if ok {
			t.Fatal("expected channel close on server drop")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Events channel never closed after server drop")
	}
	if err := s.Err(); !errors.Is(err, realtime.ErrSessionClosed) {
		t.Errorf("Err() = %v; want ErrSessionClosed in chain", err)
	}
}
