package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	// server to client
	TypeSnapshot      MessageType = "snapshot"
	TypeStatus        MessageType = "status"
	TypeChange        MessageType = "change"
	TypeSessionClosed MessageType = "session_closed"
	TypeAck           MessageType = "ack"
	TypeError         MessageType = "error"
	TypePong          MessageType = "pong"

	// client to server
	TypeSend     MessageType = "send"
	TypeMarkRead MessageType = "mark_read"
	TypeFocus    MessageType = "focus"
	TypePing     MessageType = "ping"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type SendPayload struct {
	Message  string `json:"message"`
	UserName string `json:"user_name,omitempty"`
}

type FocusPayload struct {
	Visible bool `json:"visible"`
}

type StatusPayload struct {
	Connected bool   `json:"connected"`
	Table     string `json:"table,omitempty"`
}

type AckPayload struct {
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

type SessionClosedPayload struct {
	SessionID string `json:"session_id"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
