package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"memebot/pkg/chat"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultSessionFile    = ".cache/telegram/session.json"
	defaultAuthTimeout    = 30 * time.Second
	defaultBotTokenEnvVar = "TELEGRAM_BOT_TOKEN"
)

type runtimeConfig struct {
	AppID          int    `json:"app_id"`
	AppHash        string `json:"app_hash"`
	BotToken       string `json:"bot_token"`
	BotTokenEnv    string `json:"bot_token_env"`
	PublishTimeout string `json:"publish_timeout"`
	RPCTimeout     string `json:"rpc_timeout"`
	AuthTimeout    string `json:"auth_timeout"`
	UpdateBuffer   int    `json:"update_buffer"`
	SessionFile    string `json:"session_file"`
	// ProtocolLogLevel enables gotd's own zap logging; empty keeps it silent.
	ProtocolLogLevel string `json:"protocol_log_level"`
}

type parsedRuntimeConfig struct {
	appID          int
	appHash        string
	botToken       string
	publishTimeout time.Duration
	rpcTimeout     time.Duration
	authTimeout    time.Duration
	updateBuffer   int
	sessionFile    string
	protocolLevel  *zapcore.Level
}

// BuildRuntimeFromConfig builds one bot driver and its outbound dispatcher.
// The bot token falls back to the environment variable named by
// bot_token_env, TELEGRAM_BOT_TOKEN by default.
func BuildRuntimeFromConfig(
	name string,
	logger *slog.Logger,
	rawConfig []byte,
) (chat.EventSource, chat.Driver, chat.OutboundDispatcher, error) {
	cfg, err := parseRuntimeConfig(rawConfig, os.Getenv)
	if err != nil {
		return chat.EventSource{}, nil, nil, fmt.Errorf("parse telegram runtime config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("driver", name, "platform", DriverPlatform)

	sessionStorage, err := newSessionStorage(cfg.sessionFile)
	if err != nil {
		return chat.EventSource{}, nil, nil, fmt.Errorf("new gotd session storage: %w", err)
	}

	protocolLogger, err := newProtocolLogger(cfg.protocolLevel)
	if err != nil {
		return chat.EventSource{}, nil, nil, fmt.Errorf("new gotd protocol logger: %w", err)
	}

	stream := NewGotdUpdateChannel(cfg.updateBuffer)
	client := gotdtelegram.NewClient(cfg.appID, cfg.appHash, gotdtelegram.Options{
		UpdateHandler:  stream,
		SessionStorage: sessionStorage,
		Logger:         protocolLogger.Named(name),
	})
	peers := NewPeerCache()

	source, err := NewGotdBotSource(botSession{client: client, cfg: cfg, logger: logger}, stream, peers, logger)
	if err != nil {
		return chat.EventSource{}, nil, nil, fmt.Errorf("new gotd bot source: %w", err)
	}

	driver, err := NewDriver(
		source,
		NewDefaultDecoder(),
		WithName(name),
		WithPublishTimeout(cfg.publishTimeout),
		WithErrorHandler(func(ctx context.Context, err error) {
			logger.ErrorContext(ctx, "telegram driver async error", "error", err)
		}),
	)
	if err != nil {
		return chat.EventSource{}, nil, nil, fmt.Errorf("new telegram driver: %w", err)
	}

	sink, err := NewOutboundDispatcher(
		client,
		peers,
		WithOutboundTimeout(cfg.rpcTimeout),
		WithOutboundLogger(logger),
	)
	if err != nil {
		return chat.EventSource{}, nil, nil, fmt.Errorf("new telegram outbound dispatcher: %w", err)
	}

	return chat.EventSource{Platform: DriverPlatform, ID: name}, driver, sink, nil
}

func parseRuntimeConfig(raw []byte, getenv func(string) string) (parsedRuntimeConfig, error) {
	if len(raw) == 0 {
		return parsedRuntimeConfig{}, fmt.Errorf("missing config")
	}

	var parsed runtimeConfig
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return parsedRuntimeConfig{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg := parsedRuntimeConfig{
		appID:          parsed.AppID,
		appHash:        strings.TrimSpace(parsed.AppHash),
		botToken:       strings.TrimSpace(parsed.BotToken),
		publishTimeout: defaultPublishTimeout,
		rpcTimeout:     defaultOutboundTimeout,
		authTimeout:    defaultAuthTimeout,
		updateBuffer:   parsed.UpdateBuffer,
		sessionFile:    strings.TrimSpace(parsed.SessionFile),
	}
	if cfg.botToken == "" {
		envVar := strings.TrimSpace(parsed.BotTokenEnv)
		if envVar == "" {
			envVar = defaultBotTokenEnvVar
		}
		cfg.botToken = strings.TrimSpace(getenv(envVar))
	}
	if cfg.sessionFile == "" {
		cfg.sessionFile = defaultSessionFile
	}

	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{field: "publish_timeout", raw: parsed.PublishTimeout, dst: &cfg.publishTimeout},
		{field: "rpc_timeout", raw: parsed.RPCTimeout, dst: &cfg.rpcTimeout},
		{field: "auth_timeout", raw: parsed.AuthTimeout, dst: &cfg.authTimeout},
	}
	for _, duration := range durations {
		value := strings.TrimSpace(duration.raw)
		if value == "" {
			continue
		}
		parsedDuration, err := time.ParseDuration(value)
		if err != nil {
			return parsedRuntimeConfig{}, fmt.Errorf("parse %s: %w", duration.field, err)
		}
		if parsedDuration <= 0 {
			return parsedRuntimeConfig{}, fmt.Errorf("parse %s: must be > 0", duration.field)
		}
		*duration.dst = parsedDuration
	}

	if rawLevel := strings.TrimSpace(parsed.ProtocolLogLevel); rawLevel != "" {
		level, err := zapcore.ParseLevel(rawLevel)
		if err != nil {
			return parsedRuntimeConfig{}, fmt.Errorf("parse protocol_log_level: %w", err)
		}
		cfg.protocolLevel = &level
	}

	if cfg.appID <= 0 {
		return parsedRuntimeConfig{}, fmt.Errorf("app_id must be > 0")
	}
	if cfg.appHash == "" {
		return parsedRuntimeConfig{}, fmt.Errorf("app_hash is required")
	}
	if cfg.botToken == "" {
		return parsedRuntimeConfig{}, fmt.Errorf("bot token is required")
	}

	return cfg, nil
}

// newProtocolLogger builds the zap logger gotd writes MTProto diagnostics to.
// A nil level disables them.
func newProtocolLogger(level *zapcore.Level) (*zap.Logger, error) {
	if level == nil {
		return zap.NewNop(), nil
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(*level)
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	return logger, nil
}

func newSessionStorage(path string) (*session.FileStorage, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute session file path: %w", err)
	}
	sessionDir := filepath.Dir(absPath)
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory %s: %w", sessionDir, err)
	}

	return &session.FileStorage{Path: absPath}, nil
}

// botSession runs the gotd client and logs in with the bot token unless the
// stored session is still authorized.
type botSession struct {
	client *gotdtelegram.Client
	cfg    parsedRuntimeConfig
	logger *slog.Logger
}

func (s botSession) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.client.Run(ctx, func(runCtx context.Context) error {
		if err := s.authenticate(runCtx); err != nil {
			return fmt.Errorf("authenticate bot: %w", err)
		}
		return fn(runCtx)
	})
}

func (s botSession) authenticate(ctx context.Context) error {
	authCtx, cancel := context.WithTimeout(ctx, s.cfg.authTimeout)
	defer cancel()

	status, err := s.client.Auth().Status(authCtx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}
	if status.Authorized {
		s.logger.InfoContext(ctx, "telegram session restored", "session_file", s.cfg.sessionFile)
		return nil
	}

	if _, err := s.client.Auth().Bot(authCtx, s.cfg.botToken); err != nil {
		return fmt.Errorf("bot login: %w", err)
	}
	s.logger.InfoContext(ctx, "telegram bot authorized", "session_file", s.cfg.sessionFile)

	return nil
}
