// Package help answers "help" and "help <topic>" with the usage of every
// registered command.
package help

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"memebot/pkg/chat"
)

const helpCommandName = "help"

var helpPattern = regexp.MustCompile(`(?i)^help(?:\s+(\S+))?$`)

// Module replies with command reference text.
type Module struct {
	dispatcher     chat.OutboundDispatcher
	commandCatalog chat.CommandCatalog
}

// New creates a help module with default configuration.
func New() *Module {
	return &Module{}
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "help"
}

// Spec declares interest in human-authored text messages.
func (m *Module) Spec() chat.ModuleSpec {
	return chat.ModuleSpec{
		Handlers: []chat.ModuleHandler{
			{
				Capability: chat.Capability{
					Name:        "help-message-handler",
					Description: "renders registered command help",
					Interest: chat.InterestSet{
						Kinds:       []chat.EventKind{chat.EventKindMessageCreated},
						RequireText: true,
						IgnoreBots:  true,
					},
					RequiredServices: []string{
						chat.ServiceOutboundDispatcher,
						chat.ServiceCommandCatalog,
					},
				},
				Subscription: chat.NewDefaultSubscriptionSpec("help-messages"),
				Handler:      m.handleMessage,
			},
		},
		Commands: []chat.CommandSpec{
			{
				Name:        helpCommandName,
				Usage:       "help [topic]",
				Description: "show all commands, or only those mentioning topic",
			},
		},
	}
}

// OnRegister resolves dependencies required by this module.
func (m *Module) OnRegister(_ context.Context, runtime chat.ModuleRuntime) error {
	dispatcher, err := chat.ResolveAs[chat.OutboundDispatcher](
		runtime.Services(),
		chat.ServiceOutboundDispatcher,
	)
	if err != nil {
		return fmt.Errorf("help resolve outbound dispatcher: %w", err)
	}
	commandCatalog, err := chat.ResolveAs[chat.CommandCatalog](
		runtime.Services(),
		chat.ServiceCommandCatalog,
	)
	if err != nil {
		return fmt.Errorf("help resolve command catalog: %w", err)
	}

	m.dispatcher = dispatcher
	m.commandCatalog = commandCatalog

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func (m *Module) handleMessage(ctx context.Context, event *chat.Event) error {
	if event == nil || event.Message == nil || event.Kind != chat.EventKindMessageCreated {
		return nil
	}
	groups := helpPattern.FindStringSubmatch(strings.TrimSpace(event.Message.Text))
	if groups == nil {
		return nil
	}
	if m.dispatcher == nil {
		return fmt.Errorf("help handle message: outbound dispatcher not configured")
	}
	if m.commandCatalog == nil {
		return fmt.Errorf("help handle message: command catalog not configured")
	}

	commands, err := m.commandCatalog.ListCommands(ctx)
	if err != nil {
		return fmt.Errorf("help list commands: %w", err)
	}
	body := renderHelp(commands, groups[1])

	target, err := chat.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("help derive outbound target: %w", err)
	}
	_, err = m.dispatcher.SendMessage(ctx, chat.SendMessageRequest{
		Target:           target,
		Text:             body,
		ReplyToMessageID: event.Message.ID,
	})
	if err != nil {
		return fmt.Errorf("help send help message: %w", err)
	}

	return nil
}

// renderHelp lists commands sorted by usage. A non-empty topic keeps only
// commands whose name or usage contains it.
func renderHelp(commands []chat.RegisteredCommand, topic string) string {
	topic = strings.ToLower(strings.TrimSpace(topic))

	selected := make([]chat.RegisteredCommand, 0, len(commands))
	for _, command := range commands {
		if topic == "" || matchesTopic(command.Command, topic) {
			selected = append(selected, command)
		}
	}
	if len(selected) == 0 {
		if topic == "" {
			return "Available commands:\n(none)"
		}
		return fmt.Sprintf("No help found for '%s'.", topic)
	}

	sort.Slice(selected, func(i, j int) bool {
		left := commandLabel(selected[i].Command)
		right := commandLabel(selected[j].Command)
		if left == right {
			return selected[i].ModuleName < selected[j].ModuleName
		}
		return left < right
	})

	header := "Available commands:\n"
	if topic != "" {
		header = fmt.Sprintf("Commands about '%s':\n", topic)
	}
	lines := make([]string, 0, len(selected)*4+1)
	lines = append(lines, header)
	for index, command := range selected {
		if index > 0 {
			lines = append(lines, "")
		}
		moduleName := strings.TrimSpace(command.ModuleName)
		if moduleName == "" {
			moduleName = "unknown"
		}

		lines = append(lines, commandLabel(command.Command))
		if description := strings.TrimSpace(command.Command.Description); description != "" {
			lines = append(lines, description)
		}
		lines = append(lines, fmt.Sprintf("(%s)", moduleName))
	}

	return strings.Join(lines, "\n")
}

func matchesTopic(command chat.CommandSpec, topic string) bool {
	return strings.Contains(chat.NormalizeCommandName(command.Name), topic) ||
		strings.Contains(strings.ToLower(command.Usage), topic)
}

func commandLabel(command chat.CommandSpec) string {
	if usage := strings.TrimSpace(command.Usage); usage != "" {
		return usage
	}

	return chat.NormalizeCommandName(command.Name)
}

var (
	_ chat.Module          = (*Module)(nil)
	_ chat.ModuleRegistrar = (*Module)(nil)
)
