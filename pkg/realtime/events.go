package realtime

// Server event type tags. Inbound messages carry one of these in their
// "type" field; anything else is ignored by the engine's dispatch table.
const (
	EventResponseCreated  = "response.created"
	EventTranscriptDelta  = "response.audio_transcript.delta"
	EventAudioDelta       = "response.audio.delta"
	EventFunctionCallDone = "response.function_call_arguments.done"
	EventResponseDone     = "response.done"
	EventError            = "error"
)

// Tool describes one function the model may call during the session.
// It is forwarded verbatim in the session.update event.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ─── Outgoing protocol messages ───────────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

// sessionParams is the session.update payload. TurnDetection is always
// serialised (no omitempty) because the service treats an explicit null as
// "client-side turn detection" — omitting the field would leave server VAD
// enabled.
type sessionParams struct {
	Modalities    []string `json:"modalities,omitempty"`
	Instructions  string   `json:"instructions,omitempty"`
	Voice         string   `json:"voice,omitempty"`
	TurnDetection any      `json:"turn_detection"`
	Tools         []Tool   `json:"tools,omitempty"`
	ToolChoice    string   `json:"tool_choice,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// ─── Incoming protocol messages ───────────────────────────────────────────────

// ErrorDetail is the nested error object in a server error event:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ServerEvent is the tagged union of all inbound message kinds the engine
// dispatches on. Each event is self-contained and is delivered exactly once,
// in receipt order, on the session's Events channel.
type ServerEvent struct {
	Type string `json:"type"`

	// Delta carries the payload of response.audio.delta (base64 PCM16) and
	// response.audio_transcript.delta (text).
	Delta string `json:"delta,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// error event
	Error *ErrorDetail `json:"error,omitempty"`
}
