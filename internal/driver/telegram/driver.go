package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"memebot/pkg/chat"
)

const defaultPublishTimeout = 2 * time.Second

type driverConfig struct {
	name           string
	publishTimeout time.Duration
	onAsyncError   func(context.Context, error)
}

// DriverOption mutates Telegram driver configuration.
type DriverOption func(*driverConfig)

// WithName configures the driver identity exposed to the kernel.
func WithName(name string) DriverOption {
	return func(cfg *driverConfig) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithPublishTimeout bounds how long one event may wait on the event sink.
func WithPublishTimeout(timeout time.Duration) DriverOption {
	return func(cfg *driverConfig) {
		if timeout > 0 {
			cfg.publishTimeout = timeout
		}
	}
}

// WithErrorHandler receives per-update failures that do not stop the driver.
func WithErrorHandler(handler func(context.Context, error)) DriverOption {
	return func(cfg *driverConfig) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// Driver adapts Telegram updates into neutral events.
type Driver struct {
	cfg     driverConfig
	source  UpdateSource
	decoder Decoder
}

// NewDriver creates a Telegram driver.
func NewDriver(source UpdateSource, decoder Decoder, options ...DriverOption) (*Driver, error) {
	if source == nil {
		return nil, fmt.Errorf("new telegram driver: nil source")
	}
	if decoder == nil {
		return nil, fmt.Errorf("new telegram driver: nil decoder")
	}

	cfg := driverConfig{
		name:           DriverType,
		publishTimeout: defaultPublishTimeout,
		onAsyncError:   func(context.Context, error) {},
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Driver{cfg: cfg, source: source, decoder: decoder}, nil
}

// Name returns the driver instance name.
func (d *Driver) Name() string {
	return d.cfg.name
}

// Start consumes Telegram updates and publishes neutral events until ctx ends.
func (d *Driver) Start(ctx context.Context, sink chat.EventSink) error {
	if sink == nil {
		return fmt.Errorf("start telegram driver: nil sink")
	}

	err := d.source.Consume(ctx, func(handlerCtx context.Context, update Update) error {
		d.handleUpdate(handlerCtx, update, sink)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("start telegram driver: consume updates: %w", err)
	}

	return nil
}

// handleUpdate decodes and publishes one update. A single bad update is
// reported and skipped so the session keeps running.
func (d *Driver) handleUpdate(ctx context.Context, update Update, sink chat.EventSink) {
	event, err := d.decodeSafely(ctx, update)
	if err != nil {
		d.cfg.onAsyncError(ctx, err)
		return
	}
	event.Source.ID = d.cfg.name

	publishCtx, cancel := context.WithTimeout(ctx, d.cfg.publishTimeout)
	defer cancel()

	if err := sink.Publish(publishCtx, event); err != nil {
		d.cfg.onAsyncError(ctx, fmt.Errorf("publish update %s: %w", update.ID, err))
	}
}

func (d *Driver) decodeSafely(ctx context.Context, update Update) (decoded *chat.Event, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("decode telegram update %s panic: %v", update.ID, recovered)
		}
	}()

	return d.decoder.Decode(ctx, update)
}

// Shutdown is a no-op; the gotd session ends with the Start context.
func (d *Driver) Shutdown(context.Context) error {
	return nil
}
