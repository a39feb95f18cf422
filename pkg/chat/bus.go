package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// BackpressurePolicy selects what a full subscription queue does with the
// next event.
type BackpressurePolicy string

const (
	// BackpressureDropNewest discards the event being published.
	BackpressureDropNewest BackpressurePolicy = "drop_newest"
	// BackpressureDropOldest discards the longest-queued event to make room.
	BackpressureDropOldest BackpressurePolicy = "drop_oldest"
	// BackpressureBlock waits for room until the publish context ends.
	BackpressureBlock BackpressurePolicy = "block"
)

// ParseBackpressurePolicy accepts a policy name in any case.
func ParseBackpressurePolicy(raw string) (BackpressurePolicy, error) {
	policy := BackpressurePolicy(strings.ToLower(strings.TrimSpace(raw)))
	switch policy {
	case BackpressureDropNewest, BackpressureDropOldest, BackpressureBlock:
		return policy, nil
	default:
		return "", fmt.Errorf("%w: unsupported backpressure policy %q", ErrInvalidSubscription, raw)
	}
}

// SubscriptionSpec sizes one subscriber queue. Zero fields take the kernel
// defaults.
type SubscriptionSpec struct {
	Name           string
	Buffer         int
	Workers        int
	HandlerTimeout time.Duration
	Backpressure   BackpressurePolicy
}

// Subscription is a live registration returned by EventBus.Subscribe.
type Subscription interface {
	Name() string
	// Close drains in-flight handlers and stops delivery.
	Close(ctx context.Context) error
}

// EventBus fans published events out to matching subscriptions.
type EventBus interface {
	EventSink
	Subscribe(ctx context.Context, interest InterestSet, spec SubscriptionSpec, handler EventHandler) (Subscription, error)
	// Close stops every subscription and rejects further publishes.
	Close(ctx context.Context) error
}
