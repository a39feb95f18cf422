package chat

import (
	"context"
	"fmt"
)

// ServiceOutboundDispatcher is the registry key of the OutboundDispatcher modules reply through.
const ServiceOutboundDispatcher = "chat.outbound_dispatcher"

// OutboundDispatcher delivers bot replies. Drivers implement it for their own
// transport; the composite in internal/driver picks one per request.
type OutboundDispatcher interface {
	SendMessage(ctx context.Context, request SendMessageRequest) (*OutboundMessage, error)
}

// OutboundTarget is a reply destination.
type OutboundTarget struct {
	Conversation Conversation
	// Sink names the driver instance to send through. Nil lets the
	// dispatcher choose.
	Sink *SinkRef
}

// Validate requires a conversation ID and, when Sink is set, some sink identity.
func (t OutboundTarget) Validate() error {
	if t.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidOutboundRequest)
	}
	if t.Sink != nil {
		if t.Sink.Platform == "" && t.Sink.ID == "" {
			return fmt.Errorf("%w: missing sink identity", ErrInvalidOutboundRequest)
		}
	}

	return nil
}

// OutboundTargetFromEvent answers into the conversation event came from,
// through the driver instance that published it.
func OutboundTargetFromEvent(event *Event) (OutboundTarget, error) {
	if event == nil {
		return OutboundTarget{}, fmt.Errorf("%w: nil event", ErrInvalidOutboundRequest)
	}
	target := OutboundTarget{
		Conversation: event.Conversation,
	}
	if event.Source.Platform != "" || event.Source.ID != "" {
		target.Sink = &SinkRef{
			Platform: event.Source.Platform,
			ID:       event.Source.ID,
		}
	}
	if err := target.Validate(); err != nil {
		return OutboundTarget{}, fmt.Errorf("derive target from event %s: %w", event.Kind, err)
	}

	return target, nil
}

// OutboundMessage is a delivered reply.
type OutboundMessage struct {
	// ID is assigned by the destination platform.
	ID     string
	Target OutboundTarget
}

// SendMessageRequest is one plain-text reply.
type SendMessageRequest struct {
	Target OutboundTarget
	Text   string
	// ReplyToMessageID quotes the inbound message when the platform
	// supports threads. Empty sends a standalone message.
	ReplyToMessageID string
}

// Validate rejects requests without a target or text.
func (r SendMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate send message target: %w", err)
	}
	if r.Text == "" {
		return fmt.Errorf("%w: missing message text", ErrInvalidOutboundRequest)
	}

	return nil
}
