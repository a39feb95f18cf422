package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"memebot/internal/docs"
	"memebot/internal/driver"
	"memebot/internal/kernel"
	"memebot/modules/answers"
	"memebot/modules/help"
	"memebot/modules/pingpong"
	"memebot/pkg/chat"
	"memebot/pkg/knowledge"
	"memebot/pkg/textmatch"

	"github.com/joho/godotenv"
)

func run() error {
	if err := loadEnvFile(".env"); err != nil {
		return err
	}

	registry, err := driver.NewBuiltinRegistry(os.Stdin, os.Stdout)
	if err != nil {
		return fmt.Errorf("new builtin driver registry: %w", err)
	}

	cfg, err := loadConfig(registry)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// The console driver owns stdout, so logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.logLevel}))
	kernelRuntime := buildKernelRuntime(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openKnowledgeStore(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("close knowledge store", "error", err)
		}
	}()

	matcher := textmatch.New(textmatch.WithThreshold(cfg.matcherThreshold))
	documentation, err := loadDocumentation(cfg, matcher)
	if err != nil {
		return err
	}

	drivers, dispatcher, err := buildDriverRuntime(ctx, logger, cfg, registry)
	if err != nil {
		return err
	}

	if err := registerRuntimeDrivers(kernelRuntime, drivers); err != nil {
		return err
	}
	if err := registerRuntimeServices(kernelRuntime, dispatcher, store, documentation); err != nil {
		return err
	}
	if err := registerRuntimeModules(ctx, kernelRuntime, matcher); err != nil {
		return err
	}

	if err := kernelRuntime.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run kernel: %w", err)
	}

	return nil
}

// loadEnvFile exports secrets from a dotenv file. A missing file is not an
// error; variables already set in the environment win.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}

	return nil
}

func buildKernelRuntime(logger *slog.Logger, cfg appConfig) *kernel.Kernel {
	return kernel.New(
		kernel.WithLogger(logger),
		kernel.WithModuleHookTimeout(cfg.moduleHookTimeout),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
		kernel.WithDefaultHandlerTimeout(cfg.handlerTimeout),
		kernel.WithDefaultSubscriptionBuffer(cfg.subscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.subscriptionWorkers),
		kernel.WithDefaultBackpressure(cfg.backpressure),
	)
}

// openKnowledgeStore returns the configured store wrapped in retries, and a
// closer releasing its connection pool.
func openKnowledgeStore(
	ctx context.Context,
	logger *slog.Logger,
	cfg appConfig,
) (knowledge.Store, func() error, error) {
	if cfg.storeDriver == storeDriverMemory {
		logger.Warn("using in-memory knowledge store; memes are lost on restart")
		return knowledge.NewMemory(), func() error { return nil }, nil
	}

	storeLogger := logger.With("component", "knowledge", "driver", cfg.storeDriver)
	sqlStore, err := knowledge.OpenSQL(
		ctx,
		cfg.storeDriver,
		cfg.storeDSN,
		knowledge.WithOpTimeout(cfg.storeOpTimeout),
		knowledge.WithLogger(storeLogger),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("open knowledge store: %w", err)
	}

	retrying := knowledge.NewRetrying(
		sqlStore,
		knowledge.WithRetries(cfg.storeRetries),
		knowledge.WithRetryLogger(storeLogger),
	)

	return retrying, sqlStore.Close, nil
}

func loadDocumentation(cfg appConfig, matcher *textmatch.Matcher) (*docs.Index, error) {
	if cfg.docsFile == "" {
		index, err := docs.Default(docs.WithMatcher(matcher))
		if err != nil {
			return nil, fmt.Errorf("load bundled documentation: %w", err)
		}
		return index, nil
	}

	index, err := docs.Load(cfg.docsFile, docs.WithMatcher(matcher))
	if err != nil {
		return nil, fmt.Errorf("load documentation: %w", err)
	}

	return index, nil
}

func buildDriverRuntime(
	ctx context.Context,
	logger *slog.Logger,
	cfg appConfig,
	registry *driver.Registry,
) ([]chat.Driver, chat.OutboundDispatcher, error) {
	if registry == nil {
		return nil, nil, fmt.Errorf("build drivers: nil driver registry")
	}

	runtimes, err := registry.BuildEnabled(ctx, cfg.drivers, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build drivers: %w", err)
	}

	drivers := make([]chat.Driver, 0, len(runtimes))
	for _, runtime := range runtimes {
		drivers = append(drivers, runtime.Driver)
	}

	dispatcher, err := driver.NewCompositeDispatcher(runtimes)
	if err != nil {
		return nil, nil, fmt.Errorf("build outbound dispatcher: %w", err)
	}

	return drivers, dispatcher, nil
}

func registerRuntimeServices(
	kernelRuntime *kernel.Kernel,
	dispatcher chat.OutboundDispatcher,
	store knowledge.Store,
	documentation *docs.Index,
) error {
	services := []struct {
		name  string
		value any
	}{
		{name: chat.ServiceOutboundDispatcher, value: dispatcher},
		{name: answers.ServiceKnowledgeStore, value: store},
		{name: answers.ServiceDocumentation, value: documentation},
	}
	for _, service := range services {
		if err := kernelRuntime.RegisterService(service.name, service.value); err != nil {
			return fmt.Errorf("register service %s: %w", service.name, err)
		}
	}

	return nil
}

func registerRuntimeModules(ctx context.Context, kernelRuntime *kernel.Kernel, matcher *textmatch.Matcher) error {
	answersModule := answers.New(answers.WithMatcher(matcher))
	if err := kernelRuntime.RegisterModule(ctx, answersModule); err != nil {
		return fmt.Errorf("register answers module: %w", err)
	}
	pingPongModule := pingpong.New()
	if err := kernelRuntime.RegisterModule(ctx, pingPongModule); err != nil {
		return fmt.Errorf("register pingpong module: %w", err)
	}
	helpModule := help.New()
	if err := kernelRuntime.RegisterModule(ctx, helpModule); err != nil {
		return fmt.Errorf("register help module: %w", err)
	}

	return nil
}

func registerRuntimeDrivers(kernelRuntime *kernel.Kernel, drivers []chat.Driver) error {
	for _, runtimeDriver := range drivers {
		if err := kernelRuntime.RegisterDriver(runtimeDriver); err != nil {
			return fmt.Errorf("register driver %s: %w", runtimeDriver.Name(), err)
		}
	}

	return nil
}
