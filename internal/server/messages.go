package server

import (
	"encoding/json"

	"github.com/npezzotti/board-sync/internal/database"
)

type MessageType string

const (
	TypePost  MessageType = "post"
	TypeGet   MessageType = "get"
	TypeDel   MessageType = "del"
	TypeSub   MessageType = "sub"
	TypeUnsub MessageType = "unsub"
	TypeEvent MessageType = "event"
)

const (
	MsgInvalid    = "invalid message format"
	MsgBadRequest = "invalid request"
	MsgNotFound   = "not found"
	MsgNotAllowed = "not allowed"
	MsgInternal   = "internal server error"
)

// ClientMessage is the envelope every inbound message arrives in. MsgId is
// chosen by the client and echoed on every reply and event.
type ClientMessage struct {
	MsgId string          `json:"msgId"`
	Type  MessageType     `json:"type"`
	Route string          `json:"route"`
	Body  json.RawMessage `json:"body,omitempty"`
}

type RequestBody struct {
	Id      string         `json:"id,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Updates map[string]any `json:"updates,omitempty"`
	Field   string         `json:"field,omitempty"`
	Value   any            `json:"value,omitempty"`
	SubId   string         `json:"subId,omitempty"`
}

func (m *ClientMessage) requestBody() (RequestBody, error) {
	var body RequestBody
	if len(m.Body) == 0 {
		return body, nil
	}
	err := json.Unmarshal(m.Body, &body)
	return body, err
}

type ServerMessage struct {
	MsgId string          `json:"msgId"`
	Type  MessageType     `json:"type"`
	Route string          `json:"route,omitempty"`
	Body  *Response       `json:"body,omitempty"`
	Event *database.Event `json:"event,omitempty"`
}

type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func NoErrOK(req *ClientMessage, data any) *ServerMessage {
	return &ServerMessage{
		MsgId: req.MsgId,
		Type:  req.Type,
		Route: req.Route,
		Body: &Response{
			Success: true,
			Data:    data,
		},
	}
}

func ErrFailed(req *ClientMessage, message string) *ServerMessage {
	return &ServerMessage{
		MsgId: req.MsgId,
		Type:  req.Type,
		Route: req.Route,
		Body: &Response{
			Success: false,
			Message: message,
		},
	}
}

func ErrInvalidMessage(msgId string) *ServerMessage {
	return &ServerMessage{
		MsgId: msgId,
		Body: &Response{
			Success: false,
			Message: MsgInvalid,
		},
	}
}

func NewEvent(msgId string, ev database.Event) *ServerMessage {
	return &ServerMessage{
		MsgId: msgId,
		Type:  TypeEvent,
		Event: &ev,
	}
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}
