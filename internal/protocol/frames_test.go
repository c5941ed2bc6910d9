package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseFrameValid(t *testing.T) {
	f, err := ParseFrame([]byte(`{"type":"openai_event","payload":{"type":"response.create"}}`))
	if err != nil {
		t.Fatalf("ParseFrame() error = %v", err)
	}
	if f.Type != TypeOpenAIEvent {
		t.Fatalf("Type = %q, want %q", f.Type, TypeOpenAIEvent)
	}
	if !strings.Contains(string(f.Payload), "response.create") {
		t.Fatalf("payload not preserved: %s", f.Payload)
	}
}

func TestParseFrameMalformedJSON(t *testing.T) {
	_, err := ParseFrame([]byte(`{"type":`))
	if !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("error = %v, want ErrInvalidFrame", err)
	}
}

func TestParseFrameMissingType(t *testing.T) {
	_, err := ParseFrame([]byte(`{"payload":{}}`))
	if !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("error = %v, want ErrInvalidFrame", err)
	}
}

func TestWelcomeFrameFieldNames(t *testing.T) {
	f, err := NewFrame(TypeWelcome, WelcomePayload{
		Message:       "welcome to sanctum",
		SessionID:     "s-1",
		UserID:        "u-1",
		Authenticated: false,
		Features:      []string{"text", "audio"},
	})
	if err != nil {
		t.Fatalf("NewFrame() error = %v", err)
	}
	raw, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	for _, field := range []string{`"sessionId"`, `"userId"`, `"authenticated"`, `"features"`} {
		if !strings.Contains(string(raw), field) {
			t.Fatalf("welcome frame missing wire field %s: %s", field, raw)
		}
	}
}

func TestPongFrameIsFlat(t *testing.T) {
	f := PongFrame("s-1", 1725000000000)
	raw, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if strings.Contains(string(raw), `"payload"`) {
		t.Fatalf("pong frame must not nest a payload: %s", raw)
	}
	for _, field := range []string{`"sessionId":"s-1"`, `"timestamp":1725000000000`} {
		if !strings.Contains(string(raw), field) {
			t.Fatalf("pong frame missing top-level field %s: %s", field, raw)
		}
	}

	parsed, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame() error = %v", err)
	}
	if p := parsed.Pong(); p.SessionID != "s-1" || p.Timestamp != 1725000000000 {
		t.Fatalf("Pong() = %+v", p)
	}
}

func TestDecodePayloadMissing(t *testing.T) {
	f := Frame{Type: TypeTextMessage}
	var p TextMessagePayload
	if err := f.DecodePayload(&p); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("DecodePayload() error = %v, want ErrInvalidFrame", err)
	}
}

func TestErrorFrameShape(t *testing.T) {
	f := ErrorFrame("Unknown message type: bogus", nil)
	var p ErrorPayload
	if err := f.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if p.Message != "Unknown message type: bogus" {
		t.Fatalf("Message = %q", p.Message)
	}
}
