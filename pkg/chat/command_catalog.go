package chat

import (
	"context"
	"fmt"
	"strings"
)

// ServiceCommandCatalog is the canonical service registry key for command discovery.
const ServiceCommandCatalog = "chat.command_catalog"

// CommandSpec declares one chat command a module understands.
//
// Commands here are free-text phrases rather than prefixed slash commands, so
// Usage carries the literal syntax shown to users.
type CommandSpec struct {
	// Name is the leading keyword of the command.
	Name string
	// Usage shows the accepted syntax.
	Usage string
	// Description describes command behavior for help text.
	Description string
}

// Validate checks command specification coherence.
func (s CommandSpec) Validate() error {
	name := NormalizeCommandName(s.Name)
	if name == "" {
		return fmt.Errorf("validate command spec: missing name")
	}
	if strings.ContainsAny(name, "\t\r\n") {
		return fmt.Errorf("validate command spec: name %q contains control whitespace", s.Name)
	}

	return nil
}

// RegisteredCommand describes one runtime command registration entry.
type RegisteredCommand struct {
	// ModuleName identifies which module registered this command.
	ModuleName string
	// Command is the registered command specification.
	Command CommandSpec
}

// CommandCatalog provides read access to registered command specifications.
//
// Implementations must be concurrency-safe because modules can list commands
// from multiple workers at the same time.
type CommandCatalog interface {
	// ListCommands returns all currently registered command entries.
	ListCommands(ctx context.Context) ([]RegisteredCommand, error)
}

// NormalizeCommandName lower-cases and trims one command keyword.
func NormalizeCommandName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
