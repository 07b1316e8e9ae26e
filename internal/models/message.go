package models

import (
	"time"
)

// MessageKind distinguishes text messages from image messages.
type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
)

// Message is one persisted direct message. A text message has non-empty
// Text; an image message has a MediaURL and optional Text.
type Message struct {
	ID          string      `json:"_id"`
	FromUserID  string      `json:"from_user_id"`
	ToUserID    string      `json:"to_user_id"`
	Text        string      `json:"text"`
	MessageType MessageKind `json:"message_type"`
	MediaURL    string      `json:"media_url"`
	Seen        bool        `json:"seen"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Involves reports whether the message belongs to the conversation between a and b.
func (m *Message) Involves(a, b string) bool {
	return (m.FromUserID == a && m.ToUserID == b) || (m.FromUserID == b && m.ToUserID == a)
}

// MessageWithSender is a message with its sender's display info, as pushed
// to live streams and returned by inbox queries.
type MessageWithSender struct {
	*Message
	FromUser *UserProfile `json:"from_user_id"`
}

// InboxEntry is the latest message from one counterpart.
type InboxEntry struct {
	Counterpart *UserProfile `json:"counterpart"`
	Message     *Message     `json:"message"`
	Online      bool         `json:"online"`
}
