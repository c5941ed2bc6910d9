package client

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/arlomercer/sanctum/internal/protocol"
	"github.com/arlomercer/sanctum/internal/realtime"
)

// Client ties the connection, conversation, capture and playback pieces
// together behind one facade. All upstream traffic rides the proxy
// envelope; the legacy frame types are not used by this client.
type Client struct {
	Conn         *Conn
	Conversation *Conversation
	Player       *Player
	Capture      *Capture

	mu            sync.Mutex
	sessionID     string
	userID        string
	authenticated bool

	OnWelcome     func(protocol.WelcomePayload)
	OnPong        func(protocol.Pong)
	OnServerError func(protocol.ErrorPayload)
}

// New builds a client. sink and source may be nil when audio is not
// needed (text-only usage).
func New(cfg ConnConfig, sink Sink, source Source) *Client {
	c := &Client{
		Conn:         NewConn(cfg),
		Conversation: NewConversation(),
	}
	if sink != nil {
		c.Player = NewPlayer(sink)
	}
	if source != nil {
		c.Capture = NewCapture(source)
		c.Capture.OnChunk = func(audioB64 string) {
			c.SendAudioChunk(audioB64)
		}
	}
	c.Conn.OnFrame = c.route
	return c
}

func (c *Client) Connect() error { return c.Conn.Connect() }

// Disconnect stops capture and playback and closes the socket.
func (c *Client) Disconnect() {
	if c.Capture != nil {
		c.Capture.Stop()
	}
	if c.Player != nil {
		c.Player.Stop()
	}
	c.Conn.Disconnect()
}

// SessionID returns the id announced by the welcome frame, or "".
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Ping asks the relay for a pong. Returns false when the socket is down.
func (c *Client) Ping() bool {
	return c.Conn.Send(protocol.Frame{Type: protocol.TypePing})
}

// SendText submits a user message optimistically: the message enters the
// list as sending, then flips to sent or error depending on whether both
// proxy events made it onto the wire.
func (c *Client) SendText(text string) (string, bool) {
	id := c.Conversation.AddUserMessage(text)

	ok := c.sendProxyEvent(map[string]any{
		"type": realtime.EventConversationItem,
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	})
	if ok {
		ok = c.sendProxyEvent(map[string]any{"type": realtime.EventResponseCreate})
	}
	if ok {
		c.Conversation.MarkStatus(id, StatusSent)
	} else {
		c.Conversation.MarkStatus(id, StatusError)
	}
	return id, ok
}

// SendAudioChunk appends one base64 PCM16 chunk to the upstream input
// buffer.
func (c *Client) SendAudioChunk(audioB64 string) bool {
	return c.sendProxyEvent(map[string]any{
		"type":  realtime.EventInputAudioAppend,
		"audio": audioB64,
	})
}

// CommitAudio finalizes the input buffer and requests a response.
func (c *Client) CommitAudio() bool {
	if !c.sendProxyEvent(map[string]any{"type": realtime.EventInputAudioCommit}) {
		return false
	}
	return c.sendProxyEvent(map[string]any{"type": realtime.EventResponseCreate})
}

func (c *Client) ClearAudio() bool {
	return c.sendProxyEvent(map[string]any{"type": realtime.EventInputAudioClear})
}

// StartVoice begins streaming microphone audio to the relay.
func (c *Client) StartVoice(ctx context.Context) error {
	if c.Capture == nil {
		return nil
	}
	return c.Capture.Start(ctx)
}

// StopVoice stops the microphone and commits whatever was buffered.
func (c *Client) StopVoice() {
	if c.Capture == nil {
		return
	}
	c.Capture.Stop()
	c.CommitAudio()
}

func (c *Client) sendProxyEvent(event map[string]any) bool {
	frame, err := protocol.NewFrame(protocol.TypeOpenAIEvent, event)
	if err != nil {
		log.Printf("client: marshal proxy event: %v", err)
		return false
	}
	return c.Conn.Send(frame)
}

func (c *Client) route(frame protocol.Frame) {
	switch frame.Type {
	case protocol.TypeWelcome:
		var welcome protocol.WelcomePayload
		if err := frame.DecodePayload(&welcome); err != nil {
			return
		}
		c.mu.Lock()
		c.sessionID = welcome.SessionID
		c.userID = welcome.UserID
		c.authenticated = welcome.Authenticated
		c.mu.Unlock()
		if c.OnWelcome != nil {
			c.OnWelcome(welcome)
		}

	case protocol.TypePong:
		if c.OnPong != nil {
			c.OnPong(frame.Pong())
		}

	case protocol.TypeError:
		var errPayload protocol.ErrorPayload
		if err := frame.DecodePayload(&errPayload); err != nil {
			return
		}
		c.Conversation.HandleError()
		if c.OnServerError != nil {
			c.OnServerError(errPayload)
		}

	case protocol.TypeOpenAIEvent:
		c.handleUpstream(frame.Payload)
	}
}

func (c *Client) handleUpstream(raw json.RawMessage) {
	c.Conversation.HandleUpstreamEvent(raw)

	if c.Player == nil {
		return
	}
	var ev struct {
		Type   string `json:"type"`
		ItemID string `json:"item_id"`
		Delta  string `json:"delta"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	if ev.Type == realtime.EventAudioDelta && ev.Delta != "" {
		if err := c.Player.PlayDelta(ev.ItemID, ev.Delta); err != nil {
			log.Printf("client: queue audio delta: %v", err)
		}
	}
}
