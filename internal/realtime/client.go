package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/arlomercer/sanctum/internal/audio"
)

// State tracks the upstream link lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConfiguring  State = "configuring"
	StateReady        State = "ready"
	StateStreaming    State = "streaming"
	StateClosing      State = "closing"
)

var (
	ErrNotReady   = errors.New("upstream link not ready")
	ErrEmptyAudio = errors.New("empty audio chunk")
)

// minAudioChunkMS is advisory: shorter appends still go through, but the
// upstream commit may reject buffers under this length.
const minAudioChunkMS = 100

type Config struct {
	APIKey         string
	URL            string
	ConnectTimeout time.Duration
	Session        SessionConfig
}

// Client is a single upstream realtime link. One Client serves one
// guidance session; the relay owns its lifetime.
type Client struct {
	cfg Config

	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	readyOnce sync.Once
	ready     chan struct{}

	mu         sync.RWMutex
	state      State
	upstreamID string

	// OnEvent receives every server event except "error", verbatim.
	OnEvent func(eventType string, raw json.RawMessage)
	// OnError receives upstream error events with code and message
	// already extracted.
	OnError func(code, message string, raw json.RawMessage)
	// OnClose fires once when the read loop exits on a transport error.
	OnClose func(err error)
}

func NewClient(cfg Config) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Client{
		cfg:   cfg,
		state: StateDisconnected,
		ready: make(chan struct{}),
	}
}

// Connect dials the upstream, sends the session configuration and waits
// for the handshake ack. The Client is usable once Connect returns nil.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("connect in state %s", c.state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.URL, headers)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("dial realtime websocket: %w", err)
	}
	c.conn = conn
	c.setState(StateConfiguring)

	go c.readLoop()

	if err := c.writeJSON(map[string]any{
		"type":    EventSessionUpdate,
		"session": c.cfg.Session,
	}); err != nil {
		c.Disconnect()
		return fmt.Errorf("send session config: %w", err)
	}

	select {
	case <-c.ready:
		c.setState(StateReady)
		return nil
	case <-dialCtx.Done():
		c.Disconnect()
		return fmt.Errorf("await session ack: %w", dialCtx.Err())
	}
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// UpstreamSessionID returns the session id assigned by the upstream, or
// "" before session.created arrives.
func (c *Client) UpstreamSessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.upstreamID
}

// SendEvent sends an arbitrary client event, assigning an event_id when
// the caller did not set one. The caller's map is left untouched.
func (c *Client) SendEvent(event map[string]any) error {
	if !c.isOpen() {
		return ErrNotReady
	}
	out := event
	if _, ok := event["event_id"]; !ok {
		out = make(map[string]any, len(event)+1)
		for k, v := range event {
			out[k] = v
		}
		out["event_id"] = uuid.NewString()
	}
	return c.writeJSON(out)
}

// ForwardRaw writes a client-supplied event to the upstream without
// inspecting or rewriting it.
func (c *Client) ForwardRaw(raw json.RawMessage) error {
	if !c.isOpen() {
		return ErrNotReady
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

// SendTextMessage creates a user conversation item and asks for a
// response in one exchange.
func (c *Client) SendTextMessage(text string) error {
	if err := c.SendEvent(map[string]any{
		"type": EventConversationItem,
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	}); err != nil {
		return err
	}
	return c.SendEvent(map[string]any{"type": EventResponseCreate})
}

// SendAudioData appends a base64 PCM16 chunk to the upstream input
// buffer.
func (c *Client) SendAudioData(audioB64 string) error {
	if strings.TrimSpace(audioB64) == "" {
		return ErrEmptyAudio
	}
	if ms := audio.Base64DurationMS(audioB64, audio.DefaultSampleRate); ms < minAudioChunkMS {
		log.Printf("realtime: short audio chunk (~%.0fms), upstream may reject commit", ms)
	}
	if err := c.SendEvent(map[string]any{
		"type":  EventInputAudioAppend,
		"audio": audioB64,
	}); err != nil {
		return err
	}
	c.markStreaming()
	return nil
}

// CommitAudioBuffer finalizes the input buffer and requests a response.
func (c *Client) CommitAudioBuffer() error {
	if err := c.SendEvent(map[string]any{"type": EventInputAudioCommit}); err != nil {
		return err
	}
	c.mu.Lock()
	if c.state == StateStreaming {
		c.state = StateReady
	}
	c.mu.Unlock()
	return c.SendEvent(map[string]any{"type": EventResponseCreate})
}

func (c *Client) ClearAudioBuffer() error {
	err := c.SendEvent(map[string]any{"type": EventInputAudioClear})
	if err == nil {
		c.mu.Lock()
		if c.state == StateStreaming {
			c.state = StateReady
		}
		c.mu.Unlock()
	}
	return err
}

// CreateResponse requests a response. overrides, when non-nil, is sent
// as the per-response configuration (modalities, instructions, ...).
func (c *Client) CreateResponse(overrides map[string]any) error {
	event := map[string]any{"type": EventResponseCreate}
	if len(overrides) > 0 {
		event["response"] = overrides
	}
	return c.SendEvent(event)
}

func (c *Client) CancelResponse() error {
	return c.SendEvent(map[string]any{"type": EventResponseCancel})
}

// UpdateSession replaces the session configuration mid-conversation.
func (c *Client) UpdateSession(session SessionConfig) error {
	return c.SendEvent(map[string]any{
		"type":    EventSessionUpdate,
		"session": session,
	})
}

// ConfigureTurnDetection updates only the VAD settings. Passing nil
// disables server-side turn detection.
func (c *Client) ConfigureTurnDetection(td *TurnDetection) error {
	session := map[string]any{"turn_detection": td}
	return c.SendEvent(map[string]any{
		"type":    EventSessionUpdate,
		"session": session,
	})
}

// Disconnect tears the link down. Safe to call more than once and from
// any goroutine.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.setState(StateClosing)
		if c.conn != nil {
			deadline := time.Now().Add(time.Second)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = c.conn.Close()
		}
		c.setState(StateDisconnected)
	})
}

type serverEvent struct {
	Type    string `json:"type"`
	Session struct {
		ID string `json:"id"`
	} `json:"session"`
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.RLock()
			closing := c.state == StateClosing || c.state == StateDisconnected
			c.mu.RUnlock()
			c.Disconnect()
			if !closing && c.OnClose != nil {
				c.OnClose(err)
			}
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.Type == "" {
			log.Printf("realtime: dropping unparseable upstream frame")
			continue
		}

		switch ev.Type {
		case EventSessionCreated:
			c.mu.Lock()
			c.upstreamID = ev.Session.ID
			c.mu.Unlock()
			c.emit(ev.Type, data)
		case EventSessionUpdated:
			c.readyOnce.Do(func() { close(c.ready) })
			c.emit(ev.Type, data)
		case EventError:
			code := ev.Error.Code
			if code == "" {
				code = ev.Error.Type
			}
			if c.OnError != nil {
				c.OnError(code, ev.Error.Message, json.RawMessage(data))
			}
		default:
			c.emit(ev.Type, data)
		}
	}
}

func (c *Client) emit(eventType string, data []byte) {
	if c.OnEvent != nil {
		c.OnEvent(eventType, json.RawMessage(data))
	}
}

func (c *Client) writeJSON(payload map[string]any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(payload)
}

func (c *Client) isOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateReady || c.state == StateStreaming
}

func (c *Client) markStreaming() {
	c.mu.Lock()
	if c.state == StateReady {
		c.state = StateStreaming
	}
	c.mu.Unlock()
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
