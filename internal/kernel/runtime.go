package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"memebot/pkg/chat"
)

// moduleRecord stores module metadata and the subscriptions the kernel owns for it.
type moduleRecord struct {
	name          string
	module        chat.Module
	capabilities  []chat.Capability
	subMu         sync.Mutex
	subscriptions []chat.Subscription
}

func (m *moduleRecord) addSubscription(subscription chat.Subscription) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subscriptions = append(m.subscriptions, subscription)
}

// closeSubscriptions is idempotent: the tracked slice is cleared before closing.
func (m *moduleRecord) closeSubscriptions(ctx context.Context) error {
	m.subMu.Lock()
	subscriptions := m.subscriptions
	m.subscriptions = nil
	m.subMu.Unlock()

	var closeErr error
	for _, subscription := range subscriptions {
		if err := subscription.Close(ctx); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close subscription %s: %w", subscription.Name(), err))
		}
	}

	return closeErr
}

// moduleRuntime is the kernel-owned chat.ModuleRuntime handed to one module.
type moduleRuntime struct {
	moduleName string
	services   chat.ServiceRegistry
	bus        chat.EventBus
	record     *moduleRecord
}

// Services returns the kernel service registry.
func (r *moduleRuntime) Services() chat.ServiceRegistry {
	return r.services
}

// Subscribe registers a module-owned subscription after capability checks.
func (r *moduleRuntime) Subscribe(
	ctx context.Context,
	interest chat.InterestSet,
	spec chat.SubscriptionSpec,
	handler chat.EventHandler,
) (chat.Subscription, error) {
	if spec.Name == "" {
		spec.Name = r.moduleName + "-subscription"
	}
	if err := assertSubscriptionAllowed(r.record.capabilities, interest); err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, err)
	}

	subscription, err := r.bus.Subscribe(ctx, interest, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, err)
	}
	r.record.addSubscription(subscription)

	return subscription, nil
}

// assertSubscriptionAllowed requires at least one declared capability to cover interest.
func assertSubscriptionAllowed(capabilities []chat.Capability, interest chat.InterestSet) error {
	if len(capabilities) == 0 {
		return fmt.Errorf("%w: module declares no capabilities", chat.ErrInvalidSubscription)
	}

	for _, capability := range capabilities {
		if capability.Interest.Allows(interest) {
			return nil
		}
	}

	return fmt.Errorf("%w: interest not covered by declared capabilities", chat.ErrInvalidSubscription)
}
