package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gotd/td/tg"
)

const defaultUpdateBuffer = 256

// GotdUpdateChannel bridges gotd's push-style update handler to the pull-style
// UpdateSource loop. It implements gotd's telegram.UpdateHandler.
type GotdUpdateChannel struct {
	updates chan gotdEnvelope
}

// NewGotdUpdateChannel creates a bounded bridge.
func NewGotdUpdateChannel(buffer int) *GotdUpdateChannel {
	if buffer <= 0 {
		buffer = defaultUpdateBuffer
	}

	return &GotdUpdateChannel{updates: make(chan gotdEnvelope, buffer)}
}

// Handle flattens one gotd update container and forwards each new message.
func (c *GotdUpdateChannel) Handle(ctx context.Context, updates tg.UpdatesClass) error {
	for _, envelope := range flattenGotdUpdates(updates) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("handle gotd updates: %w", ctx.Err())
		case c.updates <- envelope:
		}
	}

	return nil
}

// GotdSessionRunner runs fn inside an authorized gotd session.
type GotdSessionRunner interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

// GotdBotSource consumes new messages from an authorized bot session.
type GotdBotSource struct {
	session GotdSessionRunner
	stream  *GotdUpdateChannel
	peers   *PeerCache
	logger  *slog.Logger
}

// NewGotdBotSource wires a session, its update bridge and the peer cache.
func NewGotdBotSource(
	session GotdSessionRunner,
	stream *GotdUpdateChannel,
	peers *PeerCache,
	logger *slog.Logger,
) (*GotdBotSource, error) {
	if session == nil {
		return nil, fmt.Errorf("new gotd bot source: nil session")
	}
	if stream == nil {
		return nil, fmt.Errorf("new gotd bot source: nil stream")
	}
	if peers == nil {
		return nil, fmt.Errorf("new gotd bot source: nil peer cache")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &GotdBotSource{session: session, stream: stream, peers: peers, logger: logger}, nil
}

// Consume runs the session and forwards mapped messages to handler.
func (s *GotdBotSource) Consume(ctx context.Context, handler UpdateHandler) error {
	if handler == nil {
		return fmt.Errorf("consume gotd updates: nil handler")
	}

	err := s.session.Run(ctx, func(runCtx context.Context) error {
		for {
			select {
			case <-runCtx.Done():
				return nil
			case envelope := <-s.stream.updates:
				update, accepted := mapGotdMessage(envelope, s.peers)
				if !accepted {
					continue
				}
				s.logger.DebugContext(runCtx, "telegram message received",
					"update_id", update.ID,
					"conversation", update.Chat.ID,
					"actor", update.Actor.ID,
				)
				if err := handler(runCtx, update); err != nil {
					return fmt.Errorf("consume gotd update %s: %w", update.ID, err)
				}
			}
		}
	})
	if err != nil {
		return fmt.Errorf("consume gotd updates: %w", err)
	}

	return nil
}
