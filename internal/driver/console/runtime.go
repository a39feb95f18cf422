package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"memebot/pkg/chat"
)

type runtimeConfig struct {
	Conversation   string `json:"conversation"`
	User           string `json:"user"`
	PublishTimeout string `json:"publish_timeout"`
}

// BuildRuntimeFromConfig builds a console driver over in and out.
// An empty config selects every default.
func BuildRuntimeFromConfig(
	name string,
	logger *slog.Logger,
	rawConfig []byte,
	in io.Reader,
	out io.Writer,
) (chat.EventSource, chat.Driver, chat.OutboundDispatcher, error) {
	var cfg runtimeConfig
	if len(strings.TrimSpace(string(rawConfig))) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return chat.EventSource{}, nil, nil, fmt.Errorf("parse console runtime config: %w", err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("driver", name, "platform", DriverPlatform)

	options := []Option{
		WithName(name),
		WithConversation(strings.TrimSpace(cfg.Conversation)),
		WithUser(strings.TrimSpace(cfg.User)),
		WithErrorHandler(func(ctx context.Context, err error) {
			logger.ErrorContext(ctx, "console driver async error", "error", err)
		}),
	}
	if raw := strings.TrimSpace(cfg.PublishTimeout); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return chat.EventSource{}, nil, nil, fmt.Errorf("parse console publish_timeout: %w", err)
		}
		if timeout <= 0 {
			return chat.EventSource{}, nil, nil, fmt.Errorf("parse console publish_timeout: must be > 0")
		}
		options = append(options, WithPublishTimeout(timeout))
	}

	driver, err := NewDriver(in, options...)
	if err != nil {
		return chat.EventSource{}, nil, nil, fmt.Errorf("new console driver: %w", err)
	}
	dispatcher, err := NewOutboundDispatcher(out)
	if err != nil {
		return chat.EventSource{}, nil, nil, fmt.Errorf("new console outbound dispatcher: %w", err)
	}

	return chat.EventSource{Platform: DriverPlatform, ID: name}, driver, dispatcher, nil
}
