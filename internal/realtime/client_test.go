package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arlomercer/sanctum/internal/audio"
)

// fakeUpstream speaks just enough of the realtime protocol to exercise
// the client handshake and event routing.
type fakeUpstream struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	errorOnResponse bool

	mu       sync.Mutex
	received [][]byte
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{t: t}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeUpstream) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeUpstream) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.received))
	copy(out, f.received)
	return out
}

func (f *fakeUpstream) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.received = append(f.received, data)
		f.mu.Unlock()

		var ev struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case EventSessionUpdate:
			f.write(conn, map[string]any{
				"type":    EventSessionCreated,
				"session": map[string]any{"id": "sess_fake_1"},
			})
			f.write(conn, map[string]any{
				"type":    EventSessionUpdated,
				"session": map[string]any{"id": "sess_fake_1"},
			})
		case EventResponseCreate:
			if f.errorOnResponse {
				f.write(conn, map[string]any{
					"type": EventError,
					"error": map[string]any{
						"type":    "invalid_request_error",
						"code":    "rate_limit_exceeded",
						"message": "too many requests",
					},
				})
				continue
			}
			f.write(conn, map[string]any{
				"type": EventOutputItemAdded,
				"item": map[string]any{"id": "item_1", "role": "assistant"},
			})
			f.write(conn, map[string]any{
				"type":  EventTextDelta,
				"delta": "peace be with you",
			})
			f.write(conn, map[string]any{"type": EventResponseDone})
		}
	}
}

func (f *fakeUpstream) write(conn *websocket.Conn, payload map[string]any) {
	if err := conn.WriteJSON(payload); err != nil {
		f.t.Logf("fake upstream write: %v", err)
	}
}

func connectedClient(t *testing.T, f *fakeUpstream) (*Client, chan string) {
	t.Helper()
	events := make(chan string, 32)
	c := NewClient(Config{
		APIKey:         "test-key",
		URL:            f.wsURL(),
		ConnectTimeout: 2 * time.Second,
	})
	c.OnEvent = func(eventType string, _ json.RawMessage) {
		events <- eventType
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c, events
}

func awaitEvent(t *testing.T, events <-chan string, want string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-events:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestClientConnectHandshake(t *testing.T) {
	f := newFakeUpstream(t)
	c, _ := connectedClient(t, f)

	if got := c.State(); got != StateReady {
		t.Fatalf("State = %s, want %s", got, StateReady)
	}
	if got := c.UpstreamSessionID(); got != "sess_fake_1" {
		t.Fatalf("UpstreamSessionID = %q, want %q", got, "sess_fake_1")
	}

	frames := f.frames()
	if len(frames) == 0 {
		t.Fatal("upstream received no frames")
	}
	var first struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frames[0], &first); err != nil {
		t.Fatalf("unmarshal first frame: %v", err)
	}
	if first.Type != EventSessionUpdate {
		t.Fatalf("first frame type = %q, want %q", first.Type, EventSessionUpdate)
	}
}

func TestClientSendTextMessageRoundTrip(t *testing.T) {
	f := newFakeUpstream(t)
	c, events := connectedClient(t, f)

	if err := c.SendTextMessage("hello"); err != nil {
		t.Fatalf("SendTextMessage: %v", err)
	}
	awaitEvent(t, events, EventOutputItemAdded)
	awaitEvent(t, events, EventTextDelta)
	awaitEvent(t, events, EventResponseDone)
}

func TestClientRoutesErrorEvents(t *testing.T) {
	f := newFakeUpstream(t)
	f.errorOnResponse = true

	events := make(chan string, 32)
	errs := make(chan string, 1)
	c := NewClient(Config{
		APIKey:         "test-key",
		URL:            f.wsURL(),
		ConnectTimeout: 2 * time.Second,
	})
	c.OnEvent = func(eventType string, _ json.RawMessage) {
		events <- eventType
	}
	c.OnError = func(code, message string, _ json.RawMessage) {
		errs <- code + ": " + message
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(c.Disconnect)

	if err := c.CreateResponse(nil); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	select {
	case got := <-errs:
		if got != "rate_limit_exceeded: too many requests" {
			t.Fatalf("error callback = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error callback")
	}
	// Handshake events land on OnEvent; the error event must not.
	for {
		select {
		case got := <-events:
			if got == EventError {
				t.Fatal("error event leaked to OnEvent")
			}
		case <-time.After(100 * time.Millisecond):
			return
		}
	}
}

func TestClientSendEventLeavesArgumentUntouched(t *testing.T) {
	f := newFakeUpstream(t)
	c, _ := connectedClient(t, f)

	event := map[string]any{"type": EventResponseCancel}
	if err := c.SendEvent(event); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}
	if _, ok := event["event_id"]; ok {
		t.Fatalf("SendEvent mutated its argument: %v", event)
	}

	// The wire frame still carries a generated event_id.
	deadline := time.After(2 * time.Second)
	for {
		var sent struct {
			Type    string `json:"type"`
			EventID string `json:"event_id"`
		}
		for _, raw := range f.frames() {
			if json.Unmarshal(raw, &sent) == nil && sent.Type == EventResponseCancel {
				if sent.EventID == "" {
					t.Fatalf("frame lacks event_id: %s", raw)
				}
				return
			}
		}
		select {
		case <-deadline:
			t.Fatal("upstream never saw the event")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestClientSendEventRequiresReady(t *testing.T) {
	c := NewClient(Config{APIKey: "k", URL: "ws://127.0.0.1:1"})
	if err := c.SendEvent(map[string]any{"type": EventResponseCreate}); err != ErrNotReady {
		t.Fatalf("SendEvent err = %v, want ErrNotReady", err)
	}
}

func TestClientSendAudioDataRejectsEmpty(t *testing.T) {
	f := newFakeUpstream(t)
	c, _ := connectedClient(t, f)

	if err := c.SendAudioData("   "); err != ErrEmptyAudio {
		t.Fatalf("SendAudioData err = %v, want ErrEmptyAudio", err)
	}
}

func TestClientAudioStateTransitions(t *testing.T) {
	f := newFakeUpstream(t)
	c, _ := connectedClient(t, f)

	chunk := audio.EncodeBase64(make([]byte, 4800)) // 100ms at 24kHz
	if err := c.SendAudioData(chunk); err != nil {
		t.Fatalf("SendAudioData: %v", err)
	}
	if got := c.State(); got != StateStreaming {
		t.Fatalf("State after append = %s, want %s", got, StateStreaming)
	}
	if err := c.CommitAudioBuffer(); err != nil {
		t.Fatalf("CommitAudioBuffer: %v", err)
	}
	if got := c.State(); got != StateReady {
		t.Fatalf("State after commit = %s, want %s", got, StateReady)
	}
}

func TestClientForwardRawVerbatim(t *testing.T) {
	f := newFakeUpstream(t)
	c, _ := connectedClient(t, f)

	raw := json.RawMessage(`{"type":"input_audio_buffer.clear","event_id":"evt_caller_1"}`)
	if err := c.ForwardRaw(raw); err != nil {
		t.Fatalf("ForwardRaw: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, frame := range f.frames() {
			if bytes.Equal(frame, raw) {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("raw frame was not forwarded byte-for-byte")
}

func TestClientDisconnectIsIdempotent(t *testing.T) {
	f := newFakeUpstream(t)
	c, _ := connectedClient(t, f)

	c.Disconnect()
	c.Disconnect()
	if got := c.State(); got != StateDisconnected {
		t.Fatalf("State = %s, want %s", got, StateDisconnected)
	}
	if err := c.SendEvent(map[string]any{"type": EventResponseCreate}); err != ErrNotReady {
		t.Fatalf("SendEvent after disconnect err = %v, want ErrNotReady", err)
	}
}
