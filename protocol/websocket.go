package protocol

import (
	"encoding/json"
	"fmt"
)

// WebSocket message type constants
const (
	TypeRegister    = "register"
	TypeRegistered  = "registered"
	TypeHeartbeat   = "heartbeat"
	TypeTagDetected = "tagDetected"
	TypeTagRemoved  = "tagRemoved"
	TypeConnect     = "connect"
	TypeTransceive  = "transceive"
	TypeClose       = "close"
	TypeResponse    = "response"
	TypeError       = "error"
)

// Message is the envelope for every WebSocket text frame.
// Requests from the agent carry an ID; the remote answers with the same ID.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a message with payload marshalled to JSON.
func NewMessage(id, msgType string, payload any) (Message, error) {
	msg := Message{ID: id, Type: msgType}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	msg.Payload = raw
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}
