// Package domain contains core domain types for the Helix client.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies which side of the conversation produced a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Valid reports whether the sender is one of the known values.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAI
}

// Message is a single chat transcript entry. Messages are immutable once
// created; they are only appended and optionally filtered for display.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message with a fresh id and the current time.
func NewMessage(content string, sender Sender) Message {
	return Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Content:   content,
		Timestamp: time.Now(),
	}
}
