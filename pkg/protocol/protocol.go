// Package protocol defines the named request/response messages exchanged
// between cluster nodes, and the client and dispatcher that speak them.
//
// Every request carries a name and a string argument map; every response a
// name and a string result map. Event forwarding from secondaries is
// fire-and-forget and has no response.
package protocol

import (
	"encoding/json"
	"time"
)

// MessageType is the kind of envelope on the wire
type MessageType uint8

const (
	MsgRequest MessageType = iota
	MsgResponse
	// MsgEvent is a one-way request that expects no response
	MsgEvent
)

func (t MessageType) String() string {
	switch t {
	case MsgRequest:
		return "request"
	case MsgResponse:
		return "response"
	case MsgEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Message is the envelope every transport writes to the wire
type Message struct {
	Type      MessageType `json:"type"`
	From      string      `json:"from,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Data      []byte      `json:"data,omitempty"`
}

// NewMessage creates a new message with the given type and data
func NewMessage(msgType MessageType, from string, data any) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      msgType,
		From:      from,
		Timestamp: time.Now().UnixMicro(),
		Data:      dataBytes,
	}, nil
}

// Decode decodes message data into the provided value
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// Marshal encodes the whole envelope, for transports that frame their own messages
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalMessage decodes an envelope produced by Marshal
func UnmarshalMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
