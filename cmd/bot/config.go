package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"memebot/internal/driver"
	"memebot/pkg/chat"
	"memebot/pkg/knowledge"
	"memebot/pkg/textmatch"
)

const (
	envConfigFile             = "MEMEBOT_CONFIG_FILE"
	envDatabaseURL            = "MEMEBOT_DATABASE_URL"
	defaultConfigFilePath     = "config/bot.json"
	alternateConfigFilePath   = "bin/config/bot.json"
	defaultModuleHookTimeout  = 3 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultHandlerTimeout     = 5 * time.Second
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 2
	defaultStoreOpTimeout     = 2 * time.Second
	defaultStoreRetries       = 2

	storeDriverMemory = "memory"
)

type appConfig struct {
	logLevel slog.Level

	moduleHookTimeout   time.Duration
	shutdownTimeout     time.Duration
	handlerTimeout      time.Duration
	subscriptionBuffer  int
	subscriptionWorkers int
	backpressure        chat.BackpressurePolicy

	drivers []driver.Definition

	storeDriver    string
	storeDSN       string
	storeOpTimeout time.Duration
	storeRetries   int

	matcherThreshold float64
	docsFile         string
}

type fileConfig struct {
	LogLevel string            `json:"log_level"`
	Kernel   fileKernelConfig  `json:"kernel"`
	Drivers  []fileDriverEntry `json:"drivers"`
	Store    fileStoreConfig   `json:"store"`
	Matcher  fileMatcherConfig `json:"matcher"`
	Docs     fileDocsConfig    `json:"docs"`
}

type fileKernelConfig struct {
	ModuleHookTimeout   string `json:"module_hook_timeout"`
	ShutdownTimeout     string `json:"shutdown_timeout"`
	HandlerTimeout      string `json:"handler_timeout"`
	SubscriptionBuffer  *int   `json:"subscription_buffer"`
	SubscriptionWorkers *int   `json:"subscription_workers"`
	Backpressure        string `json:"backpressure"`
}

type fileDriverEntry struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

type fileStoreConfig struct {
	Driver    string `json:"driver"`
	DSN       string `json:"dsn"`
	OpTimeout string `json:"op_timeout"`
	Retries   *int   `json:"retries"`
}

type fileMatcherConfig struct {
	Threshold *float64 `json:"threshold"`
}

type fileDocsConfig struct {
	File string `json:"file"`
}

func loadConfig(registry *driver.Registry) (appConfig, error) {
	cfg := defaultAppConfig()
	configFile, err := resolveConfigFilePath()
	if err != nil {
		return appConfig{}, err
	}

	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, err
	}
	if databaseURL := strings.TrimSpace(os.Getenv(envDatabaseURL)); databaseURL != "" {
		cfg.storeDSN = databaseURL
	}
	if err := validateAppConfig(&cfg, registry); err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath() (string, error) {
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, or set %s",
		defaultConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel: slog.LevelInfo,

		moduleHookTimeout:   defaultModuleHookTimeout,
		shutdownTimeout:     defaultShutdownTimeout,
		handlerTimeout:      defaultHandlerTimeout,
		subscriptionBuffer:  defaultSubscriptionBuffer,
		subscriptionWorkers: defaultSubscriptionWorker,
		backpressure:        chat.BackpressureDropNewest,

		drivers: make([]driver.Definition, 0),

		storeDriver:    storeDriverMemory,
		storeOpTimeout: defaultStoreOpTimeout,
		storeRetries:   defaultStoreRetries,

		matcherThreshold: textmatch.DefaultThreshold,
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}
	if err := applyKernelConfig(cfg, parsed.Kernel); err != nil {
		return err
	}
	if err := applyStoreConfig(cfg, parsed.Store); err != nil {
		return err
	}
	if parsed.Matcher.Threshold != nil {
		threshold := *parsed.Matcher.Threshold
		if threshold <= 0 || threshold > 1 {
			return fmt.Errorf("parse matcher.threshold: must be in (0, 1]")
		}
		cfg.matcherThreshold = threshold
	}
	cfg.docsFile = strings.TrimSpace(parsed.Docs.File)

	cfg.drivers = make([]driver.Definition, 0, len(parsed.Drivers))
	for index, entry := range parsed.Drivers {
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		if len(entry.Config) == 0 {
			return fmt.Errorf("parse drivers[%d].config: required", index)
		}
		cfg.drivers = append(cfg.drivers, driver.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Type:    strings.TrimSpace(entry.Type),
			Enabled: enabled,
			Config:  append([]byte(nil), entry.Config...),
		})
	}

	return nil
}

func applyKernelConfig(cfg *appConfig, raw fileKernelConfig) error {
	durations := []struct {
		key    string
		raw    string
		target *time.Duration
	}{
		{key: "kernel.module_hook_timeout", raw: raw.ModuleHookTimeout, target: &cfg.moduleHookTimeout},
		{key: "kernel.shutdown_timeout", raw: raw.ShutdownTimeout, target: &cfg.shutdownTimeout},
		{key: "kernel.handler_timeout", raw: raw.HandlerTimeout, target: &cfg.handlerTimeout},
	}
	for _, duration := range durations {
		if err := parsePositiveDuration(duration.key, duration.raw, duration.target); err != nil {
			return err
		}
	}

	if raw.SubscriptionBuffer != nil {
		if *raw.SubscriptionBuffer <= 0 {
			return fmt.Errorf("parse kernel.subscription_buffer: must be > 0")
		}
		cfg.subscriptionBuffer = *raw.SubscriptionBuffer
	}
	if raw.SubscriptionWorkers != nil {
		if *raw.SubscriptionWorkers <= 0 {
			return fmt.Errorf("parse kernel.subscription_workers: must be > 0")
		}
		cfg.subscriptionWorkers = *raw.SubscriptionWorkers
	}
	if rawPolicy := strings.TrimSpace(raw.Backpressure); rawPolicy != "" {
		policy, err := chat.ParseBackpressurePolicy(rawPolicy)
		if err != nil {
			return fmt.Errorf("parse kernel.backpressure: %w", err)
		}
		cfg.backpressure = policy
	}

	return nil
}

func applyStoreConfig(cfg *appConfig, raw fileStoreConfig) error {
	if driverName := strings.ToLower(strings.TrimSpace(raw.Driver)); driverName != "" {
		cfg.storeDriver = driverName
	}
	cfg.storeDSN = strings.TrimSpace(raw.DSN)
	if err := parsePositiveDuration("store.op_timeout", raw.OpTimeout, &cfg.storeOpTimeout); err != nil {
		return err
	}
	if raw.Retries != nil {
		if *raw.Retries < 0 {
			return fmt.Errorf("parse store.retries: must be >= 0")
		}
		cfg.storeRetries = *raw.Retries
	}

	return nil
}

func parsePositiveDuration(key, raw string, target *time.Duration) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	if parsed <= 0 {
		return fmt.Errorf("parse %s: must be > 0", key)
	}
	*target = parsed

	return nil
}

func validateAppConfig(cfg *appConfig, registry *driver.Registry) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if registry == nil {
		return fmt.Errorf("nil driver registry")
	}

	enabled := 0
	seen := make(map[string]struct{}, len(cfg.drivers))
	for _, definition := range cfg.drivers {
		if definition.Name == "" {
			return fmt.Errorf("drivers[].name is required")
		}
		if definition.Type == "" {
			return fmt.Errorf("drivers[%s].type is required", definition.Name)
		}
		if _, exists := seen[definition.Name]; exists {
			return fmt.Errorf("drivers[%s]: duplicate name", definition.Name)
		}
		seen[definition.Name] = struct{}{}
		if !definition.Enabled {
			continue
		}
		if _, err := registry.PlatformForType(definition.Type); err != nil {
			return fmt.Errorf("drivers[%s].type: %w", definition.Name, err)
		}
		enabled++
	}
	if enabled == 0 {
		return fmt.Errorf("at least one enabled driver is required")
	}

	switch cfg.storeDriver {
	case storeDriverMemory:
	case knowledge.DriverSQLite, knowledge.DriverPostgres:
		if cfg.storeDSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s (or set %s)", cfg.storeDriver, envDatabaseURL)
		}
	default:
		return fmt.Errorf("store.driver: unsupported driver %q", cfg.storeDriver)
	}

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}
