// Package mqtt defines the message envelope used on the bridge topics.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType represents the type of message being sent.
type MessageType string

const (
	// MessageTypeRequest represents a command request
	MessageTypeRequest MessageType = "request"
	// MessageTypeResponse represents a response to a request
	MessageTypeResponse MessageType = "response"
	// MessageTypeEvent represents an unsolicited event notification
	MessageTypeEvent MessageType = "event"
	// MessageTypeStatus represents a status update
	MessageTypeStatus MessageType = "status"
)

// Message is the envelope for all bridge MQTT traffic.
type Message struct {
	// ID is a unique identifier for this message
	ID string `json:"id"`
	// Type indicates the message type
	Type MessageType `json:"type"`
	// Source identifies the sender (e.g., "bridge" or a caller's name)
	Source string `json:"source"`
	// Timestamp when the message was created
	Timestamp time.Time `json:"timestamp"`
	// CorrelationID links a response to the request it answers
	CorrelationID string `json:"correlation_id,omitempty"`
	// Payload contains the actual message data as JSON
	Payload json.RawMessage `json:"payload"`
}

// NewMessage creates a message with a fresh ID and the payload marshaled.
func NewMessage(msgType MessageType, source string, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   payloadBytes,
	}, nil
}

// NewResponse creates a response message correlated to a request.
func NewResponse(request *Message, source string, payload interface{}) (*Message, error) {
	msg, err := NewMessage(MessageTypeResponse, source, payload)
	if err != nil {
		return nil, err
	}
	if request != nil {
		msg.CorrelationID = request.ID
	}
	return msg, nil
}

// UnmarshalPayload deserializes the payload into the provided structure.
func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}
