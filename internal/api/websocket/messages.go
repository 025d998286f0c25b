package websocket

import (
	"time"

	"github.com/KevinKickass/dccstation/internal/types"
	"github.com/google/uuid"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Command channel
	MessageTypeCommandAccepted MessageType = "command_accepted"
	MessageTypeCommandRejected MessageType = "command_rejected"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// CommandData describes one word processed by the command handler.
type CommandData struct {
	Word       string                   `json:"word"`
	Kind       string                   `json:"kind"`
	Locomotive *types.LocomotiveCommand `json:"locomotive,omitempty"`
	Accessory  *types.AccessoryCommand  `json:"accessory,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

// NewMessage creates a new message with a fresh ID and current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewCommandMessage(word types.Word, err error) Message {
	data := CommandData{
		Word: word.String(),
		Kind: word.Kind().String(),
	}

	switch word.Kind() {
	case types.KindLocomotive:
		loco := word.Locomotive()
		data.Locomotive = &loco
	case types.KindAccessory:
		acc := word.Accessory()
		data.Accessory = &acc
	}

	if err != nil {
		data.Error = err.Error()
		return NewMessage(MessageTypeCommandRejected, data)
	}
	return NewMessage(MessageTypeCommandAccepted, data)
}

func NewSystemStatusMessage(status interface{}) Message {
	return NewMessage(MessageTypeSystemStatus, status)
}
