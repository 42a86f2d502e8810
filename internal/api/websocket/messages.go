package websocket

import (
	"errors"
	"time"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Server messages
	MessageTypeValueUpdate   MessageType = "value_update"
	MessageTypeCommandResult MessageType = "command_result"
	MessageTypeSystemStatus  MessageType = "system_status"

	// Client messages
	MessageTypeAuth      MessageType = "auth"
	MessageTypeSubscribe MessageType = "subscribe"
	MessageTypeCommand   MessageType = "command"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ValueUpdateData carries one registry change.
type ValueUpdateData struct {
	Signal string      `json:"signal"`
	Value  interface{} `json:"value"`
}

type CommandResultData struct {
	Signal  string `json:"signal"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ClientMessage is everything a client may send.
type ClientMessage struct {
	Type    MessageType `json:"type"`
	Token   string      `json:"token,omitempty"`
	Signals []string    `json:"signals,omitempty"`
	Signal  string      `json:"signal,omitempty"`
	Value   interface{} `json:"value,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewValueUpdateMessage(signal string, value interface{}, at time.Time) Message {
	return Message{
		Type:      MessageTypeValueUpdate,
		Timestamp: at,
		Data:      ValueUpdateData{Signal: signal, Value: value},
	}
}

func NewCommandResultMessage(signal string, err error) Message {
	data := CommandResultData{Signal: signal, Success: err == nil}
	if err != nil {
		data.Error = err.Error()
	}
	return NewMessage(MessageTypeCommandResult, data)
}

var (
	errNoHandler = errors.New("commands are not available")
	errForbidden = errors.New("insufficient permissions")
)
