// Package driver builds configured chat drivers and routes outbound replies
// back to the driver that owns the target conversation.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"memebot/pkg/chat"
)

// Definition describes one configured driver entry.
type Definition struct {
	// Name is the stable configured driver instance identifier.
	Name string
	// Type identifies which builder should construct this runtime.
	Type string
	// Enabled controls whether this definition is active.
	Enabled bool
	// Config stores driver-type-specific JSON payload.
	Config []byte
}

// Runtime is one built driver instance.
type Runtime struct {
	// Source identifies the events published by Driver.
	Source chat.EventSource
	// Driver is registered with the kernel.
	Driver chat.Driver
	// Dispatcher sends replies through the same transport, when supported.
	Dispatcher chat.OutboundDispatcher
}

// BuilderFunc builds one runtime from one configured driver definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error)

// Descriptor binds one driver type token to its platform and builder.
type Descriptor struct {
	// Type is the driver type token from configuration (for example "console").
	Type string
	// Platform is the neutral platform for this driver type.
	Platform chat.Platform
	// Builder constructs one runtime instance for this driver type.
	Builder BuilderFunc
}

type registryEntry struct {
	platform chat.Platform
	builder  BuilderFunc
}

// Registry maps driver types to runtime builders.
type Registry struct {
	entries map[string]registryEntry
	types   []string
}

// NewRegistry creates one immutable driver registry from descriptors.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	entries := make(map[string]registryEntry, len(descriptors))
	types := make([]string, 0, len(descriptors))
	for _, descriptor := range descriptors {
		switch {
		case descriptor.Type == "":
			return nil, fmt.Errorf("new registry: empty descriptor type")
		case descriptor.Platform == "":
			return nil, fmt.Errorf("new registry type %s: empty platform", descriptor.Type)
		case descriptor.Builder == nil:
			return nil, fmt.Errorf("new registry type %s: nil builder", descriptor.Type)
		}
		if _, exists := entries[descriptor.Type]; exists {
			return nil, fmt.Errorf("new registry type %s: duplicate", descriptor.Type)
		}

		entries[descriptor.Type] = registryEntry{platform: descriptor.Platform, builder: descriptor.Builder}
		types = append(types, descriptor.Type)
	}
	sort.Strings(types)

	return &Registry{entries: entries, types: types}, nil
}

// Types returns all registered driver types in sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}

	return append([]string(nil), r.types...)
}

// PlatformForType resolves one registered driver type to its platform.
func (r *Registry) PlatformForType(driverType string) (chat.Platform, error) {
	if r == nil {
		return "", fmt.Errorf("resolve platform: nil registry")
	}

	entry, exists := r.entries[driverType]
	if !exists {
		return "", fmt.Errorf("unsupported type %s", driverType)
	}

	return entry.platform, nil
}

// BuildEnabled builds all enabled driver definitions in configuration order.
func (r *Registry) BuildEnabled(
	ctx context.Context,
	definitions []Definition,
	logger *slog.Logger,
) ([]Runtime, error) {
	if r == nil {
		return nil, fmt.Errorf("build drivers: nil registry")
	}

	runtimes := make([]Runtime, 0, len(definitions))
	seenNames := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if definition.Name == "" {
			return nil, fmt.Errorf("build driver: empty name")
		}
		if _, exists := seenNames[definition.Name]; exists {
			return nil, fmt.Errorf("build driver %s: duplicate name", definition.Name)
		}
		seenNames[definition.Name] = struct{}{}

		entry, exists := r.entries[definition.Type]
		if !exists {
			return nil, fmt.Errorf("build driver %s type %q: unsupported type", definition.Name, definition.Type)
		}

		runtime, err := entry.builder(ctx, definition, logger)
		if err != nil {
			return nil, fmt.Errorf("build driver %s type %s: %w", definition.Name, definition.Type, err)
		}
		if runtime.Driver == nil {
			return nil, fmt.Errorf("build driver %s type %s: nil driver", definition.Name, definition.Type)
		}
		if runtime.Source.Platform == "" {
			runtime.Source.Platform = entry.platform
		}
		if runtime.Source.ID == "" {
			runtime.Source.ID = definition.Name
		}

		runtimes = append(runtimes, runtime)
	}

	return runtimes, nil
}

type dispatchRoute struct {
	platform   chat.Platform
	dispatcher chat.OutboundDispatcher
}

// CompositeDispatcher routes outbound sends to per-driver dispatchers.
type CompositeDispatcher struct {
	byID       map[string]dispatchRoute
	byPlatform map[chat.Platform][]string
}

// NewCompositeDispatcher creates a composite dispatcher from built runtimes.
// Runtimes without a dispatcher are receive-only and skipped.
func NewCompositeDispatcher(runtimes []Runtime) (*CompositeDispatcher, error) {
	byID := make(map[string]dispatchRoute)
	byPlatform := make(map[chat.Platform][]string)
	for _, runtime := range runtimes {
		if runtime.Dispatcher == nil {
			continue
		}
		if runtime.Source.ID == "" {
			return nil, fmt.Errorf("new composite dispatcher: missing sink id")
		}
		if _, exists := byID[runtime.Source.ID]; exists {
			return nil, fmt.Errorf("new composite dispatcher: duplicate sink id %s", runtime.Source.ID)
		}

		byID[runtime.Source.ID] = dispatchRoute{platform: runtime.Source.Platform, dispatcher: runtime.Dispatcher}
		byPlatform[runtime.Source.Platform] = append(byPlatform[runtime.Source.Platform], runtime.Source.ID)
	}

	return &CompositeDispatcher{byID: byID, byPlatform: byPlatform}, nil
}

// SendMessage routes one send-message request to the sink named by its target.
func (d *CompositeDispatcher) SendMessage(
	ctx context.Context,
	request chat.SendMessageRequest,
) (*chat.OutboundMessage, error) {
	dispatcher, err := d.resolve(request.Target)
	if err != nil {
		return nil, fmt.Errorf("resolve sink for send message: %w", err)
	}

	response, err := dispatcher.SendMessage(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("route send message: %w", err)
	}

	return response, nil
}

func (d *CompositeDispatcher) resolve(target chat.OutboundTarget) (chat.OutboundDispatcher, error) {
	if d == nil {
		return nil, fmt.Errorf("nil dispatcher")
	}
	if len(d.byID) == 0 {
		return nil, fmt.Errorf("%w: no sinks configured", chat.ErrOutboundUnsupported)
	}

	if target.Sink == nil {
		if len(d.byID) == 1 {
			for _, route := range d.byID {
				return route.dispatcher, nil
			}
		}
		return nil, fmt.Errorf("%w: missing target sink", chat.ErrOutboundUnsupported)
	}

	ref := *target.Sink
	if ref.ID != "" {
		route, exists := d.byID[ref.ID]
		if !exists {
			return nil, fmt.Errorf("%w: sink %s not found", chat.ErrOutboundUnsupported, ref.ID)
		}
		if ref.Platform != "" && route.platform != ref.Platform {
			return nil, fmt.Errorf("%w: sink %s platform mismatch: expected %s got %s",
				chat.ErrOutboundUnsupported, ref.ID, ref.Platform, route.platform)
		}
		return route.dispatcher, nil
	}

	ids := d.byPlatform[ref.Platform]
	switch len(ids) {
	case 0:
		return nil, fmt.Errorf("%w: no sink for platform %s", chat.ErrOutboundUnsupported, ref.Platform)
	case 1:
		return d.byID[ids[0]].dispatcher, nil
	default:
		return nil, fmt.Errorf("%w: ambiguous sink for platform %s", chat.ErrOutboundUnsupported, ref.Platform)
	}
}

var _ chat.OutboundDispatcher = (*CompositeDispatcher)(nil)
