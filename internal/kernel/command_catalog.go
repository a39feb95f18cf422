package kernel

import (
	"context"
	"fmt"
	"sort"

	"memebot/pkg/chat"
)

type commandRegistration struct {
	moduleName string
	spec       chat.CommandSpec
}

// registerModuleCommands publishes module commands, rejecting names owned by another module.
func (k *Kernel) registerModuleCommands(moduleName string, commands []chat.CommandSpec) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, command := range commands {
		key := chat.NormalizeCommandName(command.Name)
		if existing, exists := k.commands[key]; exists && existing.moduleName != moduleName {
			return fmt.Errorf("register command %s: already registered by module %s", key, existing.moduleName)
		}
	}
	for _, command := range commands {
		k.commands[chat.NormalizeCommandName(command.Name)] = commandRegistration{
			moduleName: moduleName,
			spec:       command,
		}
	}

	return nil
}

func (k *Kernel) unregisterModuleCommands(moduleName string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for key, registration := range k.commands {
		if registration.moduleName == moduleName {
			delete(k.commands, key)
		}
	}
}

// commandCatalog exposes kernel command registrations through the service registry.
type commandCatalog struct {
	kernel *Kernel
}

// ListCommands returns all registered commands sorted by name then module.
func (c *commandCatalog) ListCommands(ctx context.Context) ([]chat.RegisteredCommand, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}

	c.kernel.mu.RLock()
	commands := make([]chat.RegisteredCommand, 0, len(c.kernel.commands))
	for _, registration := range c.kernel.commands {
		commands = append(commands, chat.RegisteredCommand{
			ModuleName: registration.moduleName,
			Command:    registration.spec,
		})
	}
	c.kernel.mu.RUnlock()

	sort.Slice(commands, func(i, j int) bool {
		left := chat.NormalizeCommandName(commands[i].Command.Name)
		right := chat.NormalizeCommandName(commands[j].Command.Name)
		if left == right {
			return commands[i].ModuleName < commands[j].ModuleName
		}
		return left < right
	})

	return commands, nil
}

var _ chat.CommandCatalog = (*commandCatalog)(nil)
