package domain

import (
	"time"
	"unicode/utf8"
)

// SenderType identifies which party authored a message.
type SenderType string

const (
	SenderVisitor SenderType = "visitor"
	SenderAgent   SenderType = "agent"
)

// MessageType distinguishes plain text from file-backed messages.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

// Message is a single chat utterance. Messages are append-only within a
// session: no edits, no deletes, no reordering.
type Message struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"session_id"`
	SenderType SenderType  `json:"sender_type"`
	SenderID   string      `json:"sender_id,omitempty"`
	SenderName string      `json:"sender_name,omitempty"`
	Content    string      `json:"content"`
	Type       MessageType `json:"message_type"`
	FileURL    string      `json:"file_url,omitempty"`
	FileName   string      `json:"file_name,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	IsRead     bool        `json:"is_read,omitempty"`
}

// Preview returns the session-list preview text for the message, truncated
// the same way the backend truncates last_message. The cut never splits a
// multibyte rune.
func (m Message) Preview() string {
	const max = 100
	if len(m.Content) <= max {
		return m.Content
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(m.Content[cut]) {
		cut--
	}
	return m.Content[:cut]
}
