package client

import (
	"encoding/json"
	"testing"
)

func TestConversationStatusOnlyMovesForward(t *testing.T) {
	c := NewConversation()
	id := c.AddUserMessage("hello")

	if !c.MarkStatus(id, StatusSent) {
		t.Fatal("sending -> sent rejected")
	}
	if c.MarkStatus(id, StatusSending) {
		t.Fatal("sent -> sending accepted, want rejected")
	}
	if !c.MarkStatus(id, StatusCompleted) {
		t.Fatal("sent -> completed rejected")
	}
	if c.MarkStatus(id, StatusReceiving) {
		t.Fatal("completed -> receiving accepted, want rejected")
	}
	if c.MarkStatus(id, StatusError) {
		t.Fatal("completed -> error accepted, want rejected")
	}
}

func TestConversationErrorFromAnyNonTerminalStatus(t *testing.T) {
	c := NewConversation()
	id := c.AddUserMessage("hello")

	if !c.MarkStatus(id, StatusError) {
		t.Fatal("sending -> error rejected")
	}
	if c.MarkStatus(id, StatusCompleted) {
		t.Fatal("error -> completed accepted, want rejected")
	}
}

func TestConversationOutputItemCreatesOneReceivingMessage(t *testing.T) {
	c := NewConversation()

	added := json.RawMessage(`{"type":"response.output_item.added","item":{"id":"item_1","role":"assistant"}}`)
	c.HandleUpstreamEvent(added)
	c.HandleUpstreamEvent(added) // duplicate announcement

	msgs := c.Messages()
	if len(msgs) != 1 {
		t.Fatalf("len(Messages) = %d, want 1", len(msgs))
	}
	if msgs[0].ID != "item_1" || msgs[0].Sender != SenderAI || msgs[0].Status != StatusReceiving {
		t.Fatalf("message = %+v, want assistant item_1 receiving", msgs[0])
	}
	if !c.Responding() {
		t.Fatal("Responding = false, want true")
	}
}

func TestConversationIgnoresNonAssistantItems(t *testing.T) {
	c := NewConversation()
	c.HandleUpstreamEvent(json.RawMessage(`{"type":"response.output_item.added","item":{"id":"item_u","role":"user"}}`))
	if got := len(c.Messages()); got != 0 {
		t.Fatalf("len(Messages) = %d, want 0", got)
	}
}

func TestConversationDeltasAccumulate(t *testing.T) {
	c := NewConversation()
	c.HandleUpstreamEvent(json.RawMessage(`{"type":"response.output_item.added","item":{"id":"item_1","role":"assistant"}}`))
	c.HandleUpstreamEvent(json.RawMessage(`{"type":"response.text.delta","item_id":"item_1","delta":"Be "}`))
	c.HandleUpstreamEvent(json.RawMessage(`{"type":"response.text.delta","item_id":"item_1","delta":"still."}`))

	msgs := c.Messages()
	if msgs[0].Content != "Be still." {
		t.Fatalf("Content = %q, want %q", msgs[0].Content, "Be still.")
	}
}

func TestConversationResponseDoneCompletesMidStreamMessage(t *testing.T) {
	c := NewConversation()
	c.HandleUpstreamEvent(json.RawMessage(`{"type":"response.output_item.added","item":{"id":"item_1","role":"assistant"}}`))
	c.HandleUpstreamEvent(json.RawMessage(`{"type":"response.text.delta","item_id":"item_1","delta":"peace"}`))
	c.HandleUpstreamEvent(json.RawMessage(`{"type":"response.done"}`))

	msgs := c.Messages()
	if msgs[0].Status != StatusCompleted {
		t.Fatalf("Status = %s, want %s", msgs[0].Status, StatusCompleted)
	}
	if c.Responding() {
		t.Fatal("Responding = true after response.done, want false")
	}

	// Late delta after completion must not mutate the message.
	c.HandleUpstreamEvent(json.RawMessage(`{"type":"response.text.delta","item_id":"item_1","delta":"extra"}`))
	if got := c.Messages()[0].Content; got != "peace" {
		t.Fatalf("Content after late delta = %q, want %q", got, "peace")
	}
}

func TestConversationHandleErrorFailsMidStreamMessage(t *testing.T) {
	c := NewConversation()
	c.HandleUpstreamEvent(json.RawMessage(`{"type":"response.output_item.added","item":{"id":"item_1","role":"assistant"}}`))
	c.HandleError()

	if got := c.Messages()[0].Status; got != StatusError {
		t.Fatalf("Status = %s, want %s", got, StatusError)
	}
	if c.Responding() {
		t.Fatal("Responding = true after error, want false")
	}
}

func TestConversationPreservesCreationOrder(t *testing.T) {
	c := NewConversation()
	c.AddUserMessage("first")
	c.HandleUpstreamEvent(json.RawMessage(`{"type":"response.output_item.added","item":{"id":"item_1","role":"assistant"}}`))
	c.AddUserMessage("second")

	msgs := c.Messages()
	if len(msgs) != 3 {
		t.Fatalf("len(Messages) = %d, want 3", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[1].ID != "item_1" || msgs[2].Content != "second" {
		t.Fatalf("order wrong: %+v", msgs)
	}
}
