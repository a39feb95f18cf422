// Package pingpong answers "ping" so operators can check that the bot is
// alive and that its meme store is reachable.
package pingpong

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"memebot/modules/answers"
	"memebot/pkg/chat"
)

const pingCommandName = "ping"

var pingPattern = regexp.MustCompile(`(?i)^ping$`)

// memeLister is the slice of the knowledge store this module needs.
type memeLister interface {
	All(ctx context.Context) ([]string, error)
}

// Module replies to "ping" with "pong!" and the number of stored memes.
type Module struct {
	dispatcher chat.OutboundDispatcher
	store      memeLister
	logger     *slog.Logger
}

// New creates a ping-pong module with default configuration.
func New() *Module {
	return &Module{logger: slog.Default()}
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "pingpong"
}

// Spec declares interest in human-authored text messages.
func (m *Module) Spec() chat.ModuleSpec {
	return chat.ModuleSpec{
		Handlers: []chat.ModuleHandler{
			{
				Capability: chat.Capability{
					Name:        "ping-message-handler",
					Description: "responds with pong! and store health",
					Interest: chat.InterestSet{
						Kinds:       []chat.EventKind{chat.EventKindMessageCreated},
						RequireText: true,
						IgnoreBots:  true,
					},
					RequiredServices: []string{
						chat.ServiceOutboundDispatcher,
						answers.ServiceKnowledgeStore,
					},
				},
				Subscription: chat.NewDefaultSubscriptionSpec("pingpong-messages"),
				Handler:      m.handleMessage,
			},
		},
		Commands: []chat.CommandSpec{
			{
				Name:        pingCommandName,
				Description: "reply with pong! and how many memes are stored",
			},
		},
	}
}

// OnRegister resolves outbound and store dependencies.
func (m *Module) OnRegister(_ context.Context, runtime chat.ModuleRuntime) error {
	services := runtime.Services()

	dispatcher, err := chat.ResolveAs[chat.OutboundDispatcher](services, chat.ServiceOutboundDispatcher)
	if err != nil {
		return fmt.Errorf("pingpong resolve outbound dispatcher: %w", err)
	}
	store, err := chat.ResolveAs[memeLister](services, answers.ServiceKnowledgeStore)
	if err != nil {
		return fmt.Errorf("pingpong resolve knowledge store: %w", err)
	}
	m.logger = chat.ResolveLogger(services, m.Name(), m.logger)

	m.dispatcher = dispatcher
	m.store = store

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
	if !pingPattern.MatchString(strings.TrimSpace(event.Message.Text)) {
		return nil
	}
	if m.dispatcher == nil || m.store == nil {
		return fmt.Errorf("pingpong handle message: module not registered")
	}

	target, err := chat.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("pingpong derive outbound target: %w", err)
	}
	_, err = m.dispatcher.SendMessage(ctx, chat.SendMessageRequest{
		Target:           target,
		Text:             m.pong(ctx),
		ReplyToMessageID: event.Message.ID,
	})
	if err != nil {
		return fmt.Errorf("pingpong send pong message: %w", err)
	}

	return nil
}

func (m *Module) pong(ctx context.Context) string {
	questions, err := m.store.All(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "pingpong store probe failed", "error", err)
		return "pong! My memory is unreachable right now."
	}

	switch len(questions) {
	case 0:
		return "pong! I don't remember any memes yet."
	case 1:
		return "pong! I remember 1 meme."
	default:
		return fmt.Sprintf("pong! I remember %d memes.", len(questions))
	}
}
