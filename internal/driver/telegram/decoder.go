package telegram

import (
	"context"
	"fmt"
	"time"

	"memebot/pkg/chat"
)

// Decoder converts Telegram update DTOs into neutral events.
type Decoder interface {
	// Decode maps one adapter update into a validated neutral event.
	Decode(ctx context.Context, update Update) (*chat.Event, error)
}

// DefaultDecoder maps message updates to message.created events.
type DefaultDecoder struct{}

// NewDefaultDecoder creates a default decoder.
func NewDefaultDecoder() DefaultDecoder {
	return DefaultDecoder{}
}

// Decode converts a Telegram update into a neutral event.
func (DefaultDecoder) Decode(_ context.Context, update Update) (*chat.Event, error) {
	if update.Message == nil {
		return nil, fmt.Errorf("decode update %s: missing message payload", update.ID)
	}

	occurredAt := update.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	event := &chat.Event{
		ID:         update.ID,
		Kind:       chat.EventKindMessageCreated,
		OccurredAt: occurredAt,
		Source:     chat.EventSource{Platform: DriverPlatform},
		Conversation: chat.Conversation{
			ID:    update.Chat.ID,
			Type:  update.Chat.Type,
			Title: update.Chat.Title,
		},
		Actor: chat.Actor{
			ID:          update.Actor.ID,
			Username:    update.Actor.Username,
			DisplayName: update.Actor.DisplayName,
			IsBot:       update.Actor.IsBot,
		},
		Message: &chat.Message{
			ID:        update.Message.ID,
			ReplyToID: update.Message.ReplyToID,
			Text:      update.Message.Text,
		},
		Metadata: update.Metadata,
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("decode update %s: %w", update.ID, err)
	}

	return event, nil
}
