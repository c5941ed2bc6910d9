package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FrameType identifies client<->server websocket payload variants.
type FrameType string

const (
	TypePing        FrameType = "ping"
	TypePong        FrameType = "pong"
	TypeOpenAIEvent FrameType = "openai_event"
	TypeWelcome     FrameType = "welcome"
	TypeError       FrameType = "error"

	// Legacy client types kept for pre-proxy clients; the router translates
	// them into the equivalent upstream events.
	TypeTextMessage FrameType = "text_message"
	TypeAudioData   FrameType = "audio_data"
	TypeAudioCommit FrameType = "audio_commit"
	TypeAudioClear  FrameType = "audio_clear"
)

var ErrInvalidFrame = errors.New("invalid message format")

// Frame is the wire envelope. Payload stays raw so proxy events pass
// through without re-encoding. Pong is the one flat frame on the wire:
// it carries sessionId and timestamp at the top level, no payload.
type Frame struct {
	Type      FrameType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

type WelcomePayload struct {
	Message       string   `json:"message"`
	SessionID     string   `json:"sessionId"`
	UserID        string   `json:"userId"`
	Authenticated bool     `json:"authenticated"`
	Features      []string `json:"features"`
}

// Pong is the decoded form of a pong frame.
type Pong struct {
	SessionID string
	Timestamp int64
}

type ErrorPayload struct {
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

type TextMessagePayload struct {
	Text string `json:"text"`
}

type AudioDataPayload struct {
	Audio string `json:"audio"`
}

// ParseFrame decodes one inbound frame. Malformed JSON and frames without
// a type both map to ErrInvalidFrame; unknown-but-well-formed types are
// the router's concern, not the parser's.
func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrInvalidFrame)
	}
	return f, nil
}

// NewFrame builds a frame with a marshaled payload.
func NewFrame(t FrameType, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: t, Payload: raw}, nil
}

// PongFrame builds a flat pong frame for the given session.
func PongFrame(sessionID string, timestamp int64) Frame {
	return Frame{Type: TypePong, SessionID: sessionID, Timestamp: timestamp}
}

// Pong extracts the flat pong fields of a frame.
func (f Frame) Pong() Pong {
	return Pong{SessionID: f.SessionID, Timestamp: f.Timestamp}
}

// ErrorFrame builds a non-fatal error frame. details may be nil.
func ErrorFrame(message string, details json.RawMessage) Frame {
	f, _ := NewFrame(TypeError, ErrorPayload{Message: message, Details: details})
	return f
}

// DecodePayload unmarshals a frame payload into out.
func (f Frame) DecodePayload(out any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%w: missing payload", ErrInvalidFrame)
	}
	if err := json.Unmarshal(f.Payload, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return nil
}
