package telegram

import (
	"context"
	"fmt"
)

// UpdateHandler receives one mapped update. Returning an error stops the
// source.
type UpdateHandler func(ctx context.Context, update Update) error

// UpdateSource feeds mapped updates to the driver until ctx ends.
type UpdateSource interface {
	Consume(ctx context.Context, handler UpdateHandler) error
}

// ChannelSource replays updates pushed into a channel. It ends cleanly when
// the channel is closed, which makes it the source of choice in tests.
type ChannelSource struct {
	Updates <-chan Update
}

// Consume implements UpdateSource.
func (s ChannelSource) Consume(ctx context.Context, handler UpdateHandler) error {
	if handler == nil {
		return fmt.Errorf("consume channel updates: nil handler")
	}

	for {
		var (
			update Update
			open   bool
		)
		select {
		case <-ctx.Done():
			return nil
		case update, open = <-s.Updates:
		}
		if !open {
			return nil
		}
		if err := handler(ctx, update); err != nil {
			return fmt.Errorf("consume channel update %s: %w", update.ID, err)
		}
	}
}
