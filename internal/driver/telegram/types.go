package telegram

import (
	"time"

	"memebot/pkg/chat"
)

// Update is the adapter's internal DTO for one inbound Telegram message.
type Update struct {
	ID         string
	OccurredAt time.Time
	Chat       ChatRef
	Actor      ActorRef
	Message    *MessagePayload
	Metadata   map[string]string
}

// ChatRef identifies Telegram chat context.
type ChatRef struct {
	ID    string
	Title string
	Type  chat.ConversationType
}

// ActorRef identifies Telegram actor context.
type ActorRef struct {
	ID          string
	Username    string
	DisplayName string
	IsBot       bool
}

// MessagePayload is the text projection of a Telegram message.
type MessagePayload struct {
	ID        string
	ReplyToID string
	Text      string
}
