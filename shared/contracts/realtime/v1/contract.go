// Package v1 defines the Spotline group chat protocol, version 1.
//
// Every frame is a JSON Envelope. The server speaks it on WebSocket connections negotiated
// with the Subprotocol below, and the REST message endpoints reuse the Message payload.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol clients must request.
const Subprotocol = "spotline.chat.v1"

// Type constants (wire-stable).
const (
	// TypeChatReady confirms the connection joined its group room (server -> client).
	TypeChatReady = "chat.ready"

	// TypeMessageSend posts a message to the group (client -> server).
	TypeMessageSend = "message.send"
	// TypeMessageAck acknowledges a send to its author (server -> client).
	TypeMessageAck = "message.ack"
	// TypeMessageNew carries a stored message to every connection of the group (server -> client).
	TypeMessageNew = "message.new"

	// TypeHistoryFetch asks for a page of history (client -> server).
	TypeHistoryFetch = "history.fetch"
	// TypeHistoryChunk answers a history fetch (server -> client).
	TypeHistoryChunk = "history.chunk"

	// TypeError reports a failed request (server -> client).
	TypeError = "error"
)

// Reference types a message may point at.
const (
	RefSpot    = "SPOT"
	RefPrise   = "PRISE"
	RefSession = "SESSION"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation of an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	switch e.Type {
	case TypeChatReady,
		TypeMessageSend,
		TypeMessageAck,
		TypeMessageNew,
		TypeHistoryFetch,
		TypeHistoryChunk,
		TypeError:
		return nil
	case "":
		return errors.New("missing field: type")
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// ChatReadyPayload is sent once the connection is registered in its group room.
type ChatReadyPayload struct {
	GroupID string `json:"group_id"`
	ConnID  string `json:"conn_id"`
	UserID  string `json:"user_id"`
}

// MessageSendPayload posts a message. ClientMsgID makes retries idempotent.
type MessageSendPayload struct {
	ClientMsgID   string  `json:"client_msg_id,omitempty"`
	Content       string  `json:"content"`
	ReferenceType *string `json:"reference_type,omitempty"`
	ReferenceID   *string `json:"reference_id,omitempty"`
}

// MessageAckPayload acknowledges a send with the stored ids. Duplicate is set when the
// client id had already been stored; the message is then not broadcast again.
type MessageAckPayload struct {
	ClientMsgID string `json:"client_msg_id,omitempty"`
	MessageID   string `json:"message_id"`
	Seq         int64  `json:"seq"`
	Duplicate   bool   `json:"duplicate"`
}

// Author identifies the sender of a message.
type Author struct {
	ID     string `json:"id"`
	Pseudo string `json:"pseudo"`
}

// Message is a stored chat message, as broadcast in message.new and listed by history.
type Message struct {
	ID            string    `json:"id"`
	GroupID       string    `json:"group_id"`
	Seq           int64     `json:"seq"`
	ClientMsgID   string    `json:"client_msg_id,omitempty"`
	Content       string    `json:"content"`
	ReferenceType *string   `json:"reference_type"`
	ReferenceID   *string   `json:"reference_id"`
	CreatedAt     time.Time `json:"created_at"`
	User          Author    `json:"user"`
}

// HistoryFetchPayload requests messages oldest first, skipping Offset of them.
type HistoryFetchPayload struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Pagination describes a history window.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// HistoryChunkPayload returns a window of history.
type HistoryChunkPayload struct {
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
