package driver

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"memebot/internal/driver/console"
	"memebot/internal/driver/telegram"
)

// NewBuiltinRegistry constructs the registry of all built-in drivers. The
// console driver reads stdin and writes stdout.
func NewBuiltinRegistry(stdin io.Reader, stdout io.Writer) (*Registry, error) {
	return NewRegistry([]Descriptor{
		{
			Type:     console.DriverType,
			Platform: console.DriverPlatform,
			Builder: func(_ context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
				source, runtimeDriver, dispatcher, err := console.BuildRuntimeFromConfig(
					definition.Name,
					logger,
					definition.Config,
					stdin,
					stdout,
				)
				if err != nil {
					return Runtime{}, fmt.Errorf("build console runtime from config: %w", err)
				}

				return Runtime{Source: source, Driver: runtimeDriver, Dispatcher: dispatcher}, nil
			},
		},
		{
			Type:     telegram.DriverType,
			Platform: telegram.DriverPlatform,
			Builder: func(_ context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
				source, runtimeDriver, dispatcher, err := telegram.BuildRuntimeFromConfig(
					definition.Name,
					logger,
					definition.Config,
				)
				if err != nil {
					return Runtime{}, fmt.Errorf("build telegram runtime from config: %w", err)
				}

				return Runtime{Source: source, Driver: runtimeDriver, Dispatcher: dispatcher}, nil
			},
		},
	})
}
