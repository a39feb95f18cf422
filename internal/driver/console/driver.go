// Package console implements a line-oriented terminal driver. Every input
// line becomes one message.created event and replies are written back as
// plain lines, which makes the bot usable without any chat platform.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"memebot/pkg/chat"

	"github.com/google/uuid"
)

const (
	// DriverType is the configuration token of the console driver.
	DriverType = "console"
	// DriverPlatform is the neutral platform published by the console driver.
	DriverPlatform = chat.PlatformConsole

	defaultConversationID = "console"
	defaultUserID         = "operator"
)

type driverConfig struct {
	name           string
	conversationID string
	userID         string
	publishTimeout time.Duration
	onAsyncError   func(context.Context, error)
	now            func() time.Time
}

// Option mutates console driver configuration.
type Option func(*driverConfig)

// WithName configures the driver identity exposed to the kernel.
func WithName(name string) Option {
	return func(cfg *driverConfig) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithConversation sets the conversation ID stamped on every event.
func WithConversation(id string) Option {
	return func(cfg *driverConfig) {
		if id != "" {
			cfg.conversationID = id
		}
	}
}

// WithUser sets the actor ID stamped on every event.
func WithUser(id string) Option {
	return func(cfg *driverConfig) {
		if id != "" {
			cfg.userID = id
		}
	}
}

// WithPublishTimeout bounds how long one line may wait on the event sink.
// Without it a line waits until it is queued, so a slow bot slows reading
// instead of losing input.
func WithPublishTimeout(timeout time.Duration) Option {
	return func(cfg *driverConfig) {
		if timeout > 0 {
			cfg.publishTimeout = timeout
		}
	}
}

// WithErrorHandler receives per-line failures that do not stop the driver.
func WithErrorHandler(handler func(context.Context, error)) Option {
	return func(cfg *driverConfig) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// Driver publishes one event per non-blank input line.
type Driver struct {
	cfg driverConfig
	in  io.Reader
}

// NewDriver creates a console driver reading from in.
func NewDriver(in io.Reader, options ...Option) (*Driver, error) {
	if in == nil {
		return nil, fmt.Errorf("new console driver: nil reader")
	}

	cfg := driverConfig{
		name:           DriverType,
		conversationID: defaultConversationID,
		userID:         defaultUserID,
		onAsyncError:   func(context.Context, error) {},
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Driver{cfg: cfg, in: in}, nil
}

// Name returns the driver instance name.
func (d *Driver) Name() string {
	return d.cfg.name
}

// Conversation returns the conversation every event is published into.
func (d *Driver) Conversation() chat.Conversation {
	return chat.Conversation{
		ID:    d.cfg.conversationID,
		Type:  chat.ConversationTypePrivate,
		Title: d.cfg.conversationID,
	}
}

// Start reads lines until EOF or ctx ends.
//
// A read blocked on a terminal cannot be interrupted; after cancellation the
// reader goroutine exits with the next line or when the process ends.
func (d *Driver) Start(ctx context.Context, sink chat.EventSink) error {
	if sink == nil {
		return fmt.Errorf("start console driver: nil sink")
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(d.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	sequence := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("start console driver: read input: %w", err)
					}
				default:
				}
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			sequence++
			d.publishLine(ctx, sink, sequence, text)
		}
	}
}

func (d *Driver) publishLine(ctx context.Context, sink chat.EventSink, sequence int, text string) {
	event := &chat.Event{
		ID:           uuid.NewString(),
		Kind:         chat.EventKindMessageCreated,
		OccurredAt:   d.cfg.now(),
		Source:       chat.EventSource{Platform: DriverPlatform, ID: d.cfg.name},
		Conversation: d.Conversation(),
		Actor: chat.Actor{
			ID:          d.cfg.userID,
			Username:    d.cfg.userID,
			DisplayName: d.cfg.userID,
		},
		Message: &chat.Message{
			ID:   strconv.Itoa(sequence),
			Text: text,
		},
	}

	publishCtx := ctx
	if d.cfg.publishTimeout > 0 {
		var cancel context.CancelFunc
		publishCtx, cancel = context.WithTimeout(ctx, d.cfg.publishTimeout)
		defer cancel()
	}

	if err := sink.Publish(publishCtx, event); err != nil {
		d.cfg.onAsyncError(ctx, fmt.Errorf("publish console line %d: %w", sequence, err))
	}
}

// Shutdown is a no-op; the read loop ends with the Start context.
func (d *Driver) Shutdown(context.Context) error {
	return nil
}

var _ chat.Driver = (*Driver)(nil)
