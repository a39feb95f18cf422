package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"memebot/pkg/chat"
)

// Kernel orchestrates modules, drivers and the event bus.
type Kernel struct {
	cfg config

	bus      *EventBus
	services *ServiceRegistry

	mu          sync.RWMutex
	modules     map[string]*moduleRecord
	moduleOrder []string
	commands    map[string]commandRegistration
	drivers     map[string]chat.Driver
	driverOrder []string

	runMu   sync.Mutex
	running bool
}

// New creates a kernel with the logger and command catalog services pre-registered.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	k := &Kernel{
		cfg:      cfg,
		services: NewServiceRegistry(),
		bus: NewEventBus(BusDefaults{
			Buffer:         cfg.subscriptionBuffer,
			Workers:        cfg.subscriptionWorker,
			HandlerTimeout: cfg.handlerTimeout,
			Backpressure:   cfg.backpressure,
		}, cfg.onAsyncError),
		modules:  make(map[string]*moduleRecord),
		commands: make(map[string]commandRegistration),
		drivers:  make(map[string]chat.Driver),
	}

	// Fresh registry, so these cannot collide.
	_ = k.services.Register(chat.ServiceLogger, cfg.logger)
	_ = k.services.Register(chat.ServiceCommandCatalog, &commandCatalog{kernel: k})

	return k
}

// EventBus exposes the kernel event bus.
func (k *Kernel) EventBus() chat.EventBus {
	return k.bus
}

// Services exposes the kernel service registry.
func (k *Kernel) Services() chat.ServiceRegistry {
	return k.services
}

// RegisterService registers a runtime service singleton.
func (k *Kernel) RegisterService(name string, service any) error {
	if err := k.services.Register(name, service); err != nil {
		return fmt.Errorf("kernel: %w", err)
	}

	return nil
}

// RegisterModule validates the module spec, checks required services,
// publishes commands, runs OnRegister and subscribes declared handlers.
// Any failure rolls the registration back.
func (k *Kernel) RegisterModule(ctx context.Context, module chat.Module) error {
	if module == nil {
		return fmt.Errorf("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return fmt.Errorf("register module: empty module name")
	}
	spec := module.Spec()
	if err := validateModuleSpec(spec); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	record := &moduleRecord{
		name:         name,
		module:       module,
		capabilities: spec.Capabilities(),
	}
	if err := k.validateCapabilityDependencies(record.capabilities); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	k.mu.Lock()
	if _, exists := k.modules[name]; exists {
		k.mu.Unlock()
		return fmt.Errorf("register module %s: %w", name, chat.ErrModuleAlreadyRegistered)
	}
	k.modules[name] = record
	k.moduleOrder = append(k.moduleOrder, name)
	k.mu.Unlock()

	if err := k.registerModuleCommands(name, spec.Commands); err != nil {
		k.rollbackModuleRegistration(ctx, name, record)
		return fmt.Errorf("register module %s: %w", name, err)
	}

	runtime := &moduleRuntime{
		moduleName: name,
		services:   k.services,
		bus:        k.bus,
		record:     record,
	}

	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
	defer cancel()

	if registrar, ok := module.(chat.ModuleRegistrar); ok {
		if err := runSafely("module "+name+" OnRegister", func() error {
			return registrar.OnRegister(hookCtx, runtime)
		}); err != nil {
			k.rollbackModuleRegistration(ctx, name, record)
			return fmt.Errorf("register module %s: %w", name, err)
		}
	}

	for idx, declared := range spec.Handlers {
		subscription := declared.Subscription
		if subscription.Name == "" {
			subscription.Name = fmt.Sprintf("%s-handler-%d", name, idx+1)
		}
		if _, err := runtime.Subscribe(hookCtx, declared.Capability.Interest, subscription, declared.Handler); err != nil {
			k.rollbackModuleRegistration(ctx, name, record)
			return fmt.Errorf("register module %s capability %s: %w", name, declared.Capability.Name, err)
		}
	}

	k.cfg.logger.DebugContext(ctx, "module registered",
		"module", name,
		"handlers", len(spec.Handlers),
		"commands", len(spec.Commands),
	)

	return nil
}

// RegisterDriver registers a platform driver.
func (k *Kernel) RegisterDriver(driver chat.Driver) error {
	if driver == nil {
		return fmt.Errorf("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return fmt.Errorf("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.drivers[name]; exists {
		return fmt.Errorf("register driver %s: %w", name, chat.ErrDriverAlreadyRegistered)
	}
	k.drivers[name] = driver
	k.driverOrder = append(k.driverOrder, name)

	return nil
}

// Run starts modules, runs drivers and blocks until ctx is canceled or a
// driver fails. Shutdown of drivers, modules and the bus is bounded by the
// shutdown timeout in both cases.
func (k *Kernel) Run(ctx context.Context) error {
	if err := k.startRun(); err != nil {
		return err
	}
	defer k.finishRun()

	if err := k.startModules(ctx); err != nil {
		return errors.Join(err, k.shutdownAll(ctx))
	}

	runCtx, runCancel := context.WithCancel(ctx)
	driverErr, waitDrivers := k.startDrivers(runCtx)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-driverErr:
		runErr = err
	}

	runCancel()
	waitDrivers()

	return errors.Join(runErr, k.shutdownAll(ctx))
}

func (k *Kernel) startRun() error {
	k.runMu.Lock()
	defer k.runMu.Unlock()

	if k.running {
		return fmt.Errorf("kernel run: already running")
	}
	k.running = true

	return nil
}

func (k *Kernel) finishRun() {
	k.runMu.Lock()
	k.running = false
	k.runMu.Unlock()
}

func (k *Kernel) orderedModules() []*moduleRecord {
	k.mu.RLock()
	defer k.mu.RUnlock()

	records := make([]*moduleRecord, 0, len(k.moduleOrder))
	for _, name := range k.moduleOrder {
		records = append(records, k.modules[name])
	}

	return records
}

func (k *Kernel) orderedDrivers() []chat.Driver {
	k.mu.RLock()
	defer k.mu.RUnlock()

	drivers := make([]chat.Driver, 0, len(k.driverOrder))
	for _, name := range k.driverOrder {
		drivers = append(drivers, k.drivers[name])
	}

	return drivers
}

// startModules invokes OnStart in registration order.
func (k *Kernel) startModules(ctx context.Context) error {
	for _, record := range k.orderedModules() {
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnStart", func() error {
			return record.module.OnStart(hookCtx)
		})
		cancel()
		if err != nil {
			return fmt.Errorf("start module %s: %w", record.name, err)
		}
	}

	return nil
}

// startDrivers runs every driver in its own goroutine. The returned channel
// yields the first fatal driver error; the wait function blocks until all
// drivers return or the shutdown timeout elapses.
func (k *Kernel) startDrivers(ctx context.Context) (<-chan error, func()) {
	errs := make(chan error, 1)
	done := make(chan struct{})
	workerWG := &sync.WaitGroup{}

	for _, driver := range k.orderedDrivers() {
		workerWG.Add(1)
		go func(driver chat.Driver) {
			defer workerWG.Done()
			err := runSafely("driver "+driver.Name()+" Start", func() error {
				return driver.Start(ctx, k.bus)
			})
			if err == nil || isContextCancellation(err) {
				return
			}
			select {
			case errs <- fmt.Errorf("run driver %s: %w", driver.Name(), err):
			default:
			}
		}(driver)
	}

	go func() {
		workerWG.Wait()
		close(done)
	}()

	wait := func() {
		timer := time.NewTimer(k.cfg.shutdownTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			k.cfg.logger.Warn("drivers did not stop before shutdown timeout")
		}
	}

	return errs, wait
}

// shutdownAll tears down drivers, modules and the bus. It detaches from
// ctx cancellation so cleanup still runs after the parent is canceled.
func (k *Kernel) shutdownAll(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	shutdownErr := errors.Join(
		k.shutdownDrivers(shutdownCtx),
		k.shutdownModules(shutdownCtx),
		k.bus.Close(shutdownCtx),
	)
	if shutdownErr != nil {
		return fmt.Errorf("kernel shutdown: %w", shutdownErr)
	}

	return nil
}

// shutdownDrivers calls Shutdown in reverse registration order.
func (k *Kernel) shutdownDrivers(ctx context.Context) error {
	drivers := k.orderedDrivers()

	var shutdownErr error
	for idx := len(drivers) - 1; idx >= 0; idx-- {
		driver := drivers[idx]
		err := runSafely("driver "+driver.Name()+" Shutdown", func() error {
			return driver.Shutdown(ctx)
		})
		if err != nil {
			shutdownErr = errors.Join(shutdownErr, err)
		}
	}

	return shutdownErr
}

// shutdownModules closes subscriptions then calls OnShutdown, in reverse order.
func (k *Kernel) shutdownModules(ctx context.Context) error {
	records := k.orderedModules()

	var shutdownErr error
	for idx := len(records) - 1; idx >= 0; idx-- {
		record := records[idx]
		if err := record.closeSubscriptions(ctx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown module %s: %w", record.name, err))
		}
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnShutdown", func() error {
			return record.module.OnShutdown(hookCtx)
		})
		cancel()
		if err != nil {
			shutdownErr = errors.Join(shutdownErr, err)
		}
	}

	return shutdownErr
}

func (k *Kernel) rollbackModuleRegistration(ctx context.Context, name string, record *moduleRecord) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.moduleHookTimeout)
	defer cancel()

	if err := record.closeSubscriptions(rollbackCtx); err != nil {
		k.cfg.onAsyncError(rollbackCtx, "rollback module "+name, err)
	}
	k.unregisterModuleCommands(name)

	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.modules, name)
	filtered := k.moduleOrder[:0]
	for _, existing := range k.moduleOrder {
		if existing != name {
			filtered = append(filtered, existing)
		}
	}
	k.moduleOrder = filtered
}

func (k *Kernel) validateCapabilityDependencies(capabilities []chat.Capability) error {
	for _, capability := range capabilities {
		for _, serviceName := range capability.RequiredServices {
			if _, err := k.services.Resolve(serviceName); err != nil {
				return fmt.Errorf("capability %s requires service %s: %w", capability.Name, serviceName, err)
			}
		}
	}

	return nil
}

// validateModuleSpec rejects unnamed or duplicated capabilities, nil handlers
// and duplicated commands.
func validateModuleSpec(spec chat.ModuleSpec) error {
	seenCapabilities := make(map[string]struct{})
	seenCommands := make(map[string]struct{})

	for idx, handler := range spec.Handlers {
		if handler.Handler == nil {
			return fmt.Errorf("module handler %d: nil handler", idx)
		}
	}
	for idx, capability := range spec.Capabilities() {
		if capability.Name == "" {
			return fmt.Errorf("capability %d: empty name", idx)
		}
		if _, exists := seenCapabilities[capability.Name]; exists {
			return fmt.Errorf("capability %d: duplicate name %s", idx, capability.Name)
		}
		seenCapabilities[capability.Name] = struct{}{}
	}
	for idx, command := range spec.Commands {
		if err := command.Validate(); err != nil {
			return fmt.Errorf("module command %d: %w", idx, err)
		}
		key := chat.NormalizeCommandName(command.Name)
		if _, exists := seenCommands[key]; exists {
			return fmt.Errorf("module command %d: duplicate command %s", idx, key)
		}
		seenCommands[key] = struct{}{}
	}

	return nil
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
