package chat

import (
	"fmt"
	"log/slog"
)

// ServiceLogger is the service registry key for the shared *slog.Logger.
const ServiceLogger = "chat.logger"

// ServiceRegistry is the name to value lookup the kernel hands to modules.
// Values are singletons registered before modules are.
type ServiceRegistry interface {
	Register(name string, service any) error
	Resolve(name string) (any, error)
}

// ResolveAs looks up name and asserts it to T. A value of another type
// fails with ErrServiceTypeMismatch.
func ResolveAs[T any](registry ServiceRegistry, name string) (T, error) {
	var zero T

	service, err := registry.Resolve(name)
	if err != nil {
		return zero, fmt.Errorf("resolve service %s: %w", name, err)
	}
	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("resolve service %s: %w: have %T, want %T", name, ErrServiceTypeMismatch, service, zero)
	}

	return typed, nil
}

// ResolveLogger returns the registered logger tagged with component, or
// fallback when none is registered.
func ResolveLogger(registry ServiceRegistry, component string, fallback *slog.Logger) *slog.Logger {
	logger, err := ResolveAs[*slog.Logger](registry, ServiceLogger)
	if err != nil || logger == nil {
		logger = fallback
	}
	if logger == nil {
		logger = slog.Default()
	}

	return logger.With("module", component)
}
