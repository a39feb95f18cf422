package chat

import (
	"fmt"
	"time"
)

// EventKind names what happened.
type EventKind string

const (
	// EventKindMessageCreated is a new text message in a conversation.
	EventKindMessageCreated EventKind = "message.created"
)

// Platform names a chat transport.
type Platform string

const (
	// PlatformTelegram is Telegram.
	PlatformTelegram Platform = "telegram"
	// PlatformConsole is a local line-oriented terminal session.
	PlatformConsole Platform = "console"
)

// ConversationType is the audience of a conversation.
type ConversationType string

const (
	// ConversationTypePrivate is a one-to-one chat.
	ConversationTypePrivate ConversationType = "private"
	// ConversationTypeGroup is a multi-member chat.
	ConversationTypeGroup ConversationType = "group"
	// ConversationTypeChannel is a broadcast channel.
	ConversationTypeChannel ConversationType = "channel"
)

// EventSource identifies the driver instance that produced an event.
type EventSource struct {
	// Platform is the upstream platform of the source driver.
	Platform Platform
	// ID is the configured driver instance name.
	ID string
}

// SinkRef identifies the driver instance an outbound operation is routed to.
type SinkRef struct {
	// Platform is the destination platform.
	Platform Platform
	// ID is the configured driver instance name.
	ID string
}

// Event is what drivers publish and modules consume. Only message.created
// exists today, so Message is always set on a valid event.
type Event struct {
	ID   string
	Kind EventKind
	// OccurredAt is the platform timestamp, UTC.
	OccurredAt time.Time
	// Source identifies the driver instance that published the event.
	Source       EventSource
	Conversation Conversation
	// Actor is the sender. IsBot lets modules ignore other bots.
	Actor   Actor
	Message *Message
	// Metadata carries driver-specific extras such as peer kinds.
	Metadata map[string]string
}

// Conversation is a chat on some platform.
type Conversation struct {
	ID   string
	Type ConversationType
	// Title is empty for private chats.
	Title string
}

// Actor is the account that sent a message.
type Actor struct {
	ID       string
	Username string
	// DisplayName is the human-readable actor name.
	DisplayName string
	// IsBot reports whether the actor is an automated account.
	IsBot bool
}

// Message holds neutral message content.
type Message struct {
	// ID is the message identifier on the source platform.
	ID string
	// ReplyToID is the parent message identifier when this is a reply.
	ReplyToID string
	// Text is the normalized message text body.
	Text string
}

// Validate checks protocol invariants before an event enters the bus.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	}
	if e.Source.Platform == "" {
		return fmt.Errorf("%w: missing source platform", ErrInvalidEvent)
	}
	if e.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidEvent)
	}

	switch e.Kind {
	case EventKindMessageCreated:
		if e.Message == nil {
			return fmt.Errorf("%w: %s requires message payload", ErrInvalidEvent, e.Kind)
		}
		if e.Message.ID == "" {
			return fmt.Errorf("%w: %s requires message id", ErrInvalidEvent, e.Kind)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %s", ErrInvalidEvent, e.Kind)
	}

	return nil
}
