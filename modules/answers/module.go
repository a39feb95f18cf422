package answers

import (
	"context"
	"fmt"

	"memebot/pkg/chat"
)

const (
	// ServiceKnowledgeStore is the registry key of the KnowledgeStore.
	ServiceKnowledgeStore = "answers.knowledge_store"
	// ServiceDocumentation is the registry key of the Documentation lookup.
	ServiceDocumentation = "answers.documentation"
)

// Module replies to meme commands in the conversation they were sent in.
type Module struct {
	options    []ServiceOption
	service    *Service
	dispatcher chat.OutboundDispatcher
}

// New creates the module. options are applied to the Service built at
// registration.
func New(options ...ServiceOption) *Module {
	return &Module{options: options}
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "answers"
}

// Spec declares interest in human-authored text messages.
func (m *Module) Spec() chat.ModuleSpec {
	return chat.ModuleSpec{
		Handlers: []chat.ModuleHandler{
			{
				Capability: chat.Capability{
					Name:        "answers-message-handler",
					Description: "answers meme commands and documentation lookups",
					Interest: chat.InterestSet{
						Kinds:       []chat.EventKind{chat.EventKindMessageCreated},
						RequireText: true,
						IgnoreBots:  true,
					},
					RequiredServices: []string{
						chat.ServiceOutboundDispatcher,
						ServiceKnowledgeStore,
						ServiceDocumentation,
					},
				},
				Subscription: subscriptionSpec(),
				Handler:      m.handleMessage,
			},
		},
		Commands: []chat.CommandSpec{
			{
				Name:        "all",
				Usage:       "all memes",
				Description: "list every meme I know",
			},
			{
				Name:        "remember",
				Usage:       "remember 'meme?' with 'link or phrase'",
				Description: "teach me a new meme",
			},
			{
				Name:        "answer",
				Usage:       "answer 'meme?'",
				Description: "show the response for a meme",
			},
			{
				Name:        "change",
				Usage:       "change 'meme?' to 'link or phrase'",
				Description: "replace the response of an existing meme",
			},
			{
				Name:        "forget",
				Usage:       "forget 'meme?'",
				Description: "delete a meme",
			},
		},
	}
}

// subscriptionSpec serializes command handling. A single worker keeps a
// mutation visible to the next line, and blocking publishes never drop a line
// without its reply.
func subscriptionSpec() chat.SubscriptionSpec {
	return chat.SubscriptionSpec{
		Name:         "answers-messages",
		Workers:      1,
		Backpressure: chat.BackpressureBlock,
	}
}

// OnRegister resolves the store, documentation and outbound services.
func (m *Module) OnRegister(_ context.Context, runtime chat.ModuleRuntime) error {
	services := runtime.Services()

	dispatcher, err := chat.ResolveAs[chat.OutboundDispatcher](services, chat.ServiceOutboundDispatcher)
	if err != nil {
		return fmt.Errorf("answers resolve outbound dispatcher: %w", err)
	}
	store, err := chat.ResolveAs[KnowledgeStore](services, ServiceKnowledgeStore)
	if err != nil {
		return fmt.Errorf("answers resolve knowledge store: %w", err)
	}
	docs, err := chat.ResolveAs[Documentation](services, ServiceDocumentation)
	if err != nil {
		return fmt.Errorf("answers resolve documentation: %w", err)
	}

	logger := chat.ResolveLogger(services, m.Name(), nil)
	options := append([]ServiceOption{WithLogger(logger)}, m.options...)

	service, err := NewService(store, docs, options...)
	if err != nil {
		return fmt.Errorf("answers build service: %w", err)
	}
	m.service = service
	m.dispatcher = dispatcher

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(context.Context) error {
	return nil
}

func (m *Module) handleMessage(ctx context.Context, event *chat.Event) error {
	if event == nil || event.Message == nil || event.Kind != chat.EventKindMessageCreated {
		return nil
	}

	reply, ok := m.service.Handle(ctx, event.Message.Text)
	if !ok {
		return nil
	}

	target, err := chat.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("answers derive outbound target: %w", err)
	}
	_, err = m.dispatcher.SendMessage(ctx, chat.SendMessageRequest{
		Target:           target,
		Text:             reply,
		ReplyToMessageID: event.Message.ID,
	})
	if err != nil {
		return fmt.Errorf("answers send reply: %w", err)
	}

	return nil
}
