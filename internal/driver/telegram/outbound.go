package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"memebot/pkg/chat"

	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

const defaultOutboundTimeout = 3 * time.Second

// ErrRateLimited reports a Telegram flood wait. Use errors.As with
// *RateLimitError for the wait duration.
var ErrRateLimited = errors.New("telegram: rate limited")

// RateLimitError carries the flood wait Telegram asked for.
type RateLimitError struct {
	RetryAfter time.Duration
	Cause      error
}

// Error implements error.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("telegram: rate limited, retry after %s: %v", e.RetryAfter, e.Cause)
}

// Is matches ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Unwrap returns the underlying RPC error.
func (e *RateLimitError) Unwrap() error {
	return e.Cause
}

// OutboundOption mutates outbound dispatcher configuration.
type OutboundOption func(*outboundConfig)

type outboundConfig struct {
	rpcTimeout time.Duration
	logger     *slog.Logger
}

// WithOutboundTimeout bounds each outbound RPC call.
func WithOutboundTimeout(timeout time.Duration) OutboundOption {
	return func(cfg *outboundConfig) {
		if timeout > 0 {
			cfg.rpcTimeout = timeout
		}
	}
}

// WithOutboundLogger configures structured logging for outbound operations.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(cfg *outboundConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

type outboundRPC interface {
	SendText(ctx context.Context, peer tg.InputPeerClass, replyTo int, text string) (int, error)
}

// OutboundDispatcher sends replies through the Telegram API.
type OutboundDispatcher struct {
	cfg   outboundConfig
	peers *PeerCache
	rpc   outboundRPC
}

// NewOutboundDispatcher creates a dispatcher backed by a gotd client.
func NewOutboundDispatcher(
	client *gotdtelegram.Client,
	peers *PeerCache,
	options ...OutboundOption,
) (*OutboundDispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil client")
	}

	return newOutboundDispatcherWithRPC(gotdOutboundRPC{sender: message.NewSender(client.API())}, peers, options...)
}

func newOutboundDispatcherWithRPC(
	rpc outboundRPC,
	peers *PeerCache,
	options ...OutboundOption,
) (*OutboundDispatcher, error) {
	if rpc == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil rpc adapter")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil peer cache")
	}

	cfg := outboundConfig{
		rpcTimeout: defaultOutboundTimeout,
		logger:     slog.Default(),
	}
	for _, option := range options {
		option(&cfg)
	}

	return &OutboundDispatcher{cfg: cfg, peers: peers, rpc: rpc}, nil
}

// SendMessage sends request.Text to the target conversation, as a reply when
// ReplyToMessageID is set.
func (d *OutboundDispatcher) SendMessage(
	ctx context.Context,
	request chat.SendMessageRequest,
) (*chat.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if sink := request.Target.Sink; sink != nil && sink.Platform != "" && sink.Platform != DriverPlatform {
		return nil, fmt.Errorf("send message: %w: platform %s", chat.ErrOutboundUnsupported, sink.Platform)
	}

	peer, err := d.peers.Resolve(request.Target.Conversation)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	replyTo := 0
	if request.ReplyToMessageID != "" {
		replyTo, err = parseMessageID(request.ReplyToMessageID)
		if err != nil {
			return nil, fmt.Errorf("send message: %w", err)
		}
	}

	rpcCtx, cancel := context.WithTimeout(ctx, d.cfg.rpcTimeout)
	defer cancel()

	id, err := d.rpc.SendText(rpcCtx, peer, replyTo, request.Text)
	if err != nil {
		return nil, fmt.Errorf("send message to %s: %w", request.Target.Conversation.ID, classifyRPCError(err))
	}

	d.cfg.logger.DebugContext(ctx, "telegram outbound message",
		"conversation", request.Target.Conversation.ID,
		"message_id", id,
		"reply_to_message_id", request.ReplyToMessageID,
	)

	return &chat.OutboundMessage{ID: strconv.Itoa(id), Target: request.Target}, nil
}

func classifyRPCError(err error) error {
	if retryAfter, ok := tgerr.AsFloodWait(err); ok {
		return &RateLimitError{RetryAfter: retryAfter, Cause: err}
	}

	return err
}

func parseMessageID(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%w: invalid message id %q", chat.ErrInvalidOutboundRequest, raw)
	}

	return value, nil
}

type gotdOutboundRPC struct {
	sender *message.Sender
}

func (r gotdOutboundRPC) SendText(ctx context.Context, peer tg.InputPeerClass, replyTo int, text string) (int, error) {
	builder := &r.sender.To(peer).Builder
	if replyTo > 0 {
		builder = builder.Reply(replyTo)
	}

	id, err := unpack.MessageID(builder.Text(ctx, text))
	if err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}

	return id, nil
}

var _ chat.OutboundDispatcher = (*OutboundDispatcher)(nil)
