package help

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"memebot/pkg/chat"
)

var testCatalog = []chat.RegisteredCommand{
	{
		ModuleName: "answers",
		Command: chat.CommandSpec{
			Name:        "remember",
			Usage:       "remember 'meme?' with 'link or phrase'",
			Description: "teach me a new meme",
		},
	},
	{
		ModuleName: "answers",
		Command: chat.CommandSpec{
			Name:        "change",
			Usage:       "change 'meme?' to 'link or phrase'",
			Description: "replace the response of an existing meme",
		},
	},
	{
		ModuleName: "help",
		Command: chat.CommandSpec{
			Name:        "help",
			Usage:       "help [topic]",
			Description: "show all commands, or only those mentioning topic",
		},
	},
}

func TestModuleHandleMessage(t *testing.T) {
	tests := []struct {
		name             string
		text             string
		catalogErr       error
		sendErr          error
		wantErr          bool
		wantSentHelp     bool
		wantTextContains []string
		wantTextOmits    []string
	}{
		{
			name:         "help lists every command",
			text:         "help",
			wantSentHelp: true,
			wantTextContains: []string{
				"Available commands:",
				"remember 'meme?' with 'link or phrase'",
				"teach me a new meme",
				"change 'meme?' to 'link or phrase'",
				"help [topic]",
				"(answers)",
				"(help)",
			},
		},
		{
			name:             "topic filters by name",
			text:             "HELP Remember",
			wantSentHelp:     true,
			wantTextContains: []string{"Commands about 'remember':", "teach me a new meme"},
			wantTextOmits:    []string{"change 'meme?'", "help [topic]"},
		},
		{
			name:             "topic filters by usage",
			text:             "help phrase",
			wantSentHelp:     true,
			wantTextContains: []string{"remember 'meme?'", "change 'meme?'"},
			wantTextOmits:    []string{"help [topic]"},
		},
		{
			name:             "unknown topic",
			text:             "help pizza",
			wantSentHelp:     true,
			wantTextContains: []string{"No help found for 'pizza'."},
		},
		{
			name: "other text ignored",
			text: "helpful bot",
		},
		{
			name: "two topics ignored",
			text: "help me please",
		},
		{
			name:       "catalog error returns error",
			text:       "help",
			catalogErr: errors.New("catalog failure"),
			wantErr:    true,
		},
		{
			name:         "send error returns error",
			text:         "help",
			sendErr:      errors.New("dispatcher failure"),
			wantErr:      true,
			wantSentHelp: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			module := New()
			dispatcher := &captureDispatcher{sendErr: testCase.sendErr}
			module.dispatcher = dispatcher
			module.commandCatalog = &captureCommandCatalog{commands: testCatalog, err: testCase.catalogErr}

			event := newMessageEvent(testCase.text)
			err := module.handleMessage(context.Background(), event)
			if testCase.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			sentHelp := dispatcher.calls.Load() > 0
			if sentHelp != testCase.wantSentHelp {
				t.Fatalf("sent help = %v, want %v", sentHelp, testCase.wantSentHelp)
			}
			if !sentHelp {
				return
			}

			request := dispatcher.lastRequest
			if request.ReplyToMessageID != event.Message.ID {
				t.Fatalf("reply_to = %q, want %q", request.ReplyToMessageID, event.Message.ID)
			}
			if request.Target.Sink == nil || request.Target.Sink.ID != "tg-main" {
				t.Fatalf("target sink = %+v, want tg-main", request.Target.Sink)
			}
			for _, wantSubstring := range testCase.wantTextContains {
				if !strings.Contains(request.Text, wantSubstring) {
					t.Fatalf("text = %q, missing substring %q", request.Text, wantSubstring)
				}
			}
			for _, omitted := range testCase.wantTextOmits {
				if strings.Contains(request.Text, omitted) {
					t.Fatalf("text = %q, should not contain %q", request.Text, omitted)
				}
			}
		})
	}
}

func TestRenderHelpEmptyCatalog(t *testing.T) {
	t.Parallel()

	if got := renderHelp(nil, ""); got != "Available commands:\n(none)" {
		t.Fatalf("render = %q", got)
	}
}

func TestModuleOnRegister(t *testing.T) {
	tests := []struct {
		name             string
		services         map[string]any
		wantErrSubstring string
	}{
		{
			name: "resolve dependencies succeeds",
			services: map[string]any{
				chat.ServiceOutboundDispatcher: &captureDispatcher{},
				chat.ServiceCommandCatalog:     &captureCommandCatalog{},
			},
		},
		{
			name: "missing outbound dispatcher fails",
			services: map[string]any{
				chat.ServiceCommandCatalog: &captureCommandCatalog{},
			},
			wantErrSubstring: "help resolve outbound dispatcher",
		},
		{
			name: "missing command catalog fails",
			services: map[string]any{
				chat.ServiceOutboundDispatcher: &captureDispatcher{},
			},
			wantErrSubstring: "help resolve command catalog",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			module := New()
			registry := serviceRegistryStub{values: testCase.services}
			err := module.OnRegister(context.Background(), moduleRuntimeStub{registry: registry})

			if testCase.wantErrSubstring == "" && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if testCase.wantErrSubstring != "" {
				if err == nil {
					t.Fatalf("expected error containing %q", testCase.wantErrSubstring)
				}
				if !strings.Contains(err.Error(), testCase.wantErrSubstring) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstring)
				}
			}
		})
	}
}

func TestModuleSpec(t *testing.T) {
	t.Parallel()

	spec := New().Spec()
	if len(spec.Handlers) != 1 {
		t.Fatalf("handler count = %d, want 1", len(spec.Handlers))
	}
	if len(spec.Commands) != 1 || spec.Commands[0].Name != helpCommandName {
		t.Fatalf("commands = %+v, want [help]", spec.Commands)
	}

	interest := spec.Handlers[0].Capability.Interest
	if len(interest.Kinds) != 1 || interest.Kinds[0] != chat.EventKindMessageCreated {
		t.Fatalf("kinds = %v, want [%s]", interest.Kinds, chat.EventKindMessageCreated)
	}
	if !interest.RequireText || !interest.IgnoreBots {
		t.Fatalf("interest = %+v", interest)
	}
}

func newMessageEvent(text string) *chat.Event {
	return &chat.Event{
		ID:         "event-1",
		Kind:       chat.EventKindMessageCreated,
		OccurredAt: time.Unix(1, 0).UTC(),
		Source: chat.EventSource{
			Platform: chat.PlatformTelegram,
			ID:       "tg-main",
		},
		Conversation: chat.Conversation{
			ID:   "42",
			Type: chat.ConversationTypePrivate,
		},
		Message: &chat.Message{
			ID:   "msg-1",
			Text: text,
		},
	}
}

type captureDispatcher struct {
	calls       atomic.Int64
	sendErr     error
	lastRequest chat.SendMessageRequest
}

func (d *captureDispatcher) SendMessage(
	_ context.Context,
	request chat.SendMessageRequest,
) (*chat.OutboundMessage, error) {
	d.calls.Add(1)
	d.lastRequest = request
	if d.sendErr != nil {
		return nil, d.sendErr
	}

	return &chat.OutboundMessage{ID: "sent-1", Target: request.Target}, nil
}

type captureCommandCatalog struct {
	commands []chat.RegisteredCommand
	err      error
}

func (c *captureCommandCatalog) ListCommands(context.Context) ([]chat.RegisteredCommand, error) {
	if c.err != nil {
		return nil, c.err
	}

	return append([]chat.RegisteredCommand(nil), c.commands...), nil
}

type moduleRuntimeStub struct {
	registry chat.ServiceRegistry
}

func (s moduleRuntimeStub) Services() chat.ServiceRegistry {
	return s.registry
}

func (moduleRuntimeStub) Subscribe(
	context.Context,
	chat.InterestSet,
	chat.SubscriptionSpec,
	chat.EventHandler,
) (chat.Subscription, error) {
	return nil, nil
}

type serviceRegistryStub struct {
	values map[string]any
}

func (s serviceRegistryStub) Register(string, any) error {
	return nil
}

func (s serviceRegistryStub) Resolve(name string) (any, error) {
	value, ok := s.values[name]
	if !ok {
		return nil, chat.ErrServiceNotFound
	}

	return value, nil
}
