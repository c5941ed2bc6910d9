package client

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arlomercer/sanctum/internal/realtime"
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// MessageStatus values order a message's lifecycle. Transitions only
// move forward; completed and error are terminal.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusReceiving MessageStatus = "receiving"
	StatusCompleted MessageStatus = "completed"
	StatusError     MessageStatus = "error"
)

var statusRank = map[MessageStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusReceiving: 2,
	StatusCompleted: 3,
	StatusError:     3,
}

type Message struct {
	ID        string
	Content   string
	Sender    Sender
	Timestamp time.Time
	Status    MessageStatus
}

// Conversation accumulates the message list driven by local sends and
// streamed upstream events. Creation order is preserved.
type Conversation struct {
	mu         sync.Mutex
	messages   []*Message
	index      map[string]*Message
	responding bool
}

func NewConversation() *Conversation {
	return &Conversation{index: make(map[string]*Message)}
}

// AddUserMessage appends an optimistic outgoing message in status
// sending and returns its id.
func (c *Conversation) AddUserMessage(content string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := &Message{
		ID:        uuid.NewString(),
		Content:   content,
		Sender:    SenderUser,
		Timestamp: time.Now(),
		Status:    StatusSending,
	}
	c.messages = append(c.messages, m)
	c.index[m.ID] = m
	return m.ID
}

// MarkStatus advances a message's status. Backward and post-terminal
// transitions are rejected.
func (c *Conversation) MarkStatus(id string, status MessageStatus) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.index[id]
	if !ok {
		return false
	}
	return advance(m, status)
}

func advance(m *Message, status MessageStatus) bool {
	if m.Status == StatusCompleted || m.Status == StatusError {
		return false
	}
	if status == StatusError {
		m.Status = StatusError
		return true
	}
	if statusRank[status] < statusRank[m.Status] {
		return false
	}
	m.Status = status
	return true
}

// Responding reports whether an assistant response is mid-stream.
func (c *Conversation) Responding() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responding
}

// Messages returns a snapshot in creation order.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = *m
	}
	return out
}

type upstreamEvent struct {
	Type   string `json:"type"`
	ItemID string `json:"item_id"`
	Delta  string `json:"delta"`
	Item   struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	} `json:"item"`
}

// HandleUpstreamEvent applies one relayed upstream event to the message
// list. Unknown event types are ignored.
func (c *Conversation) HandleUpstreamEvent(raw json.RawMessage) {
	var ev upstreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case realtime.EventOutputItemAdded:
		if ev.Item.Role != "assistant" || ev.Item.ID == "" {
			return
		}
		if _, exists := c.index[ev.Item.ID]; exists {
			return
		}
		m := &Message{
			ID:        ev.Item.ID,
			Sender:    SenderAI,
			Timestamp: time.Now(),
			Status:    StatusReceiving,
		}
		c.messages = append(c.messages, m)
		c.index[m.ID] = m
		c.responding = true

	case realtime.EventTextDelta, realtime.EventAudioTranscriptDelta:
		if ev.ItemID == "" || ev.Delta == "" {
			return
		}
		m, ok := c.index[ev.ItemID]
		if !ok || m.Status == StatusCompleted || m.Status == StatusError {
			return
		}
		m.Content += ev.Delta
		m.Status = StatusReceiving

	case realtime.EventResponseDone:
		for _, m := range c.messages {
			if m.Sender == SenderAI && m.Status == StatusReceiving {
				advance(m, StatusCompleted)
			}
		}
		c.responding = false
	}
}

// HandleError fails any mid-stream assistant message and clears the
// responding flag.
func (c *Conversation) HandleError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.messages {
		if m.Sender == SenderAI && m.Status == StatusReceiving {
			advance(m, StatusError)
		}
	}
	c.responding = false
}
