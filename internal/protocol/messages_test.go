package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid join_room message
// ---------------------------------------------------------------------------

func TestParseClientMessage_JoinRoom(t *testing.T) {
	input := []byte(`{"type":"join_room","room_id":"room-abc123"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeJoinRoom {
		t.Fatalf("expected type %q, got %q", TypeJoinRoom, msgType)
	}

	jm, ok := msg.(JoinRoomMsg)
	if !ok {
		t.Fatalf("expected JoinRoomMsg, got %T", msg)
	}
	if jm.RoomID != "room-abc123" {
		t.Errorf("expected room_id %q, got %q", "room-abc123", jm.RoomID)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid message (chat) message
// ---------------------------------------------------------------------------

func TestParseClientMessage_ChatMsg(t *testing.T) {
	input := []byte(`{"type":"message","room_id":"room-abc123","text":"Hello!"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessage {
		t.Fatalf("expected type %q, got %q", TypeMessage, msgType)
	}

	cm, ok := msg.(ChatMsg)
	if !ok {
		t.Fatalf("expected ChatMsg, got %T", msg)
	}
	if cm.RoomID != "room-abc123" {
		t.Errorf("expected room_id %q, got %q", "room-abc123", cm.RoomID)
	}
	if cm.Text != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", cm.Text)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a typing indicator
// ---------------------------------------------------------------------------

func TestParseClientMessage_Typing(t *testing.T) {
	input := []byte(`{"type":"typing","room_id":"room-abc123","is_typing":true}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeTyping {
		t.Fatalf("expected type %q, got %q", TypeTyping, msgType)
	}

	tm, ok := msg.(TypingMsg)
	if !ok {
		t.Fatalf("expected TypingMsg, got %T", msg)
	}
	if !tm.IsTyping {
		t.Error("expected is_typing to be true")
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a session_ended server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_SessionEnded(t *testing.T) {
	data, err := NewServerMessage(TypeSessionEnded, SessionEndedMsg{Reason: ReasonTimeout})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify structure.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeSessionEnded {
		t.Errorf("expected type %q, got %v", TypeSessionEnded, result["type"])
	}
	if result["reason"] != ReasonTimeout {
		t.Errorf("expected reason %q, got %v", ReasonTimeout, result["reason"])
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a peer_message server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_PeerMessage(t *testing.T) {
	payload := PeerMessageMsg{
		From: "conn-789",
		Text: "hey there",
		Ts:   1700000000,
	}

	data, err := NewServerMessage(TypePeerMessage, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypePeerMessage {
		t.Errorf("expected type %q, got %v", TypePeerMessage, result["type"])
	}
	if result["from"] != "conn-789" {
		t.Errorf("expected from %q, got %v", "conn-789", result["from"])
	}
	if result["text"] != "hey there" {
		t.Errorf("expected text %q, got %v", "hey there", result["text"])
	}

	ts, ok := result["ts"].(float64)
	if !ok {
		t.Fatalf("expected ts to be a number, got %T", result["ts"])
	}
	if int64(ts) != 1700000000 {
		t.Errorf("expected ts 1700000000, got %v", ts)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"session_ended","reason":"timeout"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected error for server-only message type, got nil")
	}
	if msgType != TypeSessionEnded {
		t.Errorf("expected type to be reported even on error, got %q", msgType)
	}
	if msg != nil {
		t.Errorf("expected nil message on error, got %v", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: Missing type field
// ---------------------------------------------------------------------------

func TestParseClientMessage_MissingType(t *testing.T) {
	input := []byte(`{"room_id":"room-abc123"}`)

	_, _, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Invalid JSON
// ---------------------------------------------------------------------------

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	input := []byte(`{"type":"join_room"`)

	_, _, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: NewServerMessage overrides a conflicting type field in the payload
// ---------------------------------------------------------------------------

func TestNewServerMessage_TypeInjection(t *testing.T) {
	payload := PongMsg{Type: "something_else"}

	data, err := NewServerMessage(TypePong, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypePong {
		t.Errorf("expected injected type %q, got %v", TypePong, result["type"])
	}
}
