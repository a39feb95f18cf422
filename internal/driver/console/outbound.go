package console

import (
	"context"
	"fmt"
	"io"
	"sync"

	"memebot/pkg/chat"

	"github.com/google/uuid"
)

// OutboundDispatcher writes replies as lines to an io.Writer.
type OutboundDispatcher struct {
	mu  sync.Mutex
	out io.Writer
}

// NewOutboundDispatcher creates a dispatcher writing to out.
func NewOutboundDispatcher(out io.Writer) (*OutboundDispatcher, error) {
	if out == nil {
		return nil, fmt.Errorf("new console outbound dispatcher: nil writer")
	}

	return &OutboundDispatcher{out: out}, nil
}

// SendMessage writes request.Text followed by a newline. Concurrent sends
// never interleave within one reply.
func (d *OutboundDispatcher) SendMessage(
	ctx context.Context,
	request chat.SendMessageRequest,
) (*chat.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if sink := request.Target.Sink; sink != nil && sink.Platform != "" && sink.Platform != DriverPlatform {
		return nil, fmt.Errorf("send message: %w: platform %s", chat.ErrOutboundUnsupported, sink.Platform)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := io.WriteString(d.out, request.Text+"\n"); err != nil {
		return nil, fmt.Errorf("send message: write: %w", err)
	}

	return &chat.OutboundMessage{ID: uuid.NewString(), Target: request.Target}, nil
}

var _ chat.OutboundDispatcher = (*OutboundDispatcher)(nil)
