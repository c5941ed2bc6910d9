package realtime

// Event type names on the realtime wire. Client-sent types first, then
// the server-sent types the relay routes on.
const (
	EventSessionUpdate    = "session.update"
	EventConversationItem = "conversation.item.create"
	EventResponseCreate   = "response.create"
	EventResponseCancel   = "response.cancel"
	EventInputAudioAppend = "input_audio_buffer.append"
	EventInputAudioCommit = "input_audio_buffer.commit"
	EventInputAudioClear  = "input_audio_buffer.clear"

	EventSessionCreated       = "session.created"
	EventSessionUpdated       = "session.updated"
	EventSpeechStarted        = "input_audio_buffer.speech_started"
	EventSpeechStopped        = "input_audio_buffer.speech_stopped"
	EventOutputItemAdded      = "response.output_item.added"
	EventTextDelta            = "response.text.delta"
	EventAudioDelta           = "response.audio.delta"
	EventAudioTranscriptDelta = "response.audio_transcript.delta"
	EventResponseDone         = "response.done"
	EventRateLimitsUpdated    = "rate_limits.updated"
	EventFunctionCallDelta    = "response.function_call_arguments.delta"
	EventFunctionCallDone     = "response.function_call_arguments.done"
	EventError                = "error"
)

// SessionConfig is the session.update payload sent during the handshake.
type SessionConfig struct {
	Modalities              []string       `json:"modalities,omitempty"`
	Instructions            string         `json:"instructions,omitempty"`
	Voice                   string         `json:"voice,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string         `json:"output_audio_format,omitempty"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`
	Tools                   []Tool         `json:"tools,omitempty"`
	Temperature             float64        `json:"temperature,omitempty"`
	MaxResponseOutputTokens int            `json:"max_response_output_tokens,omitempty"`
}

type Transcription struct {
	Model string `json:"model"`
}

// Tool declares a function the model may call. The relay never executes
// tools itself; call events stream through to the client untouched.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// TurnDetection configures server-side voice activity detection. A nil
// pointer in SessionConfig leaves the upstream default in place; an
// explicit null on the wire disables it.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
}
