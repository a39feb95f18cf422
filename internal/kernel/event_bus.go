package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"memebot/pkg/chat"
)

// BusDefaults holds the tuning applied to subscriptions that leave fields zero.
type BusDefaults struct {
	Buffer         int
	Workers        int
	HandlerTimeout time.Duration
	Backpressure   chat.BackpressurePolicy
}

// EventBus is the kernel asynchronous pub/sub implementation.
//
// Every subscription owns a bounded queue drained by its own workers, so a
// slow handler only delays its own subscription.
type EventBus struct {
	mu            sync.RWMutex
	nextID        int64
	closed        bool
	subscriptions map[int64]*busSubscription
	defaults      BusDefaults
	onAsyncError  func(context.Context, string, error)
}

// NewEventBus creates an event bus with bounded per-subscription queues.
func NewEventBus(defaults BusDefaults, onAsyncError func(context.Context, string, error)) *EventBus {
	if defaults.Buffer <= 0 {
		defaults.Buffer = defaultSubscriptionBuffer
	}
	if defaults.Workers <= 0 {
		defaults.Workers = defaultSubscriptionWorker
	}
	if defaults.Backpressure == "" {
		defaults.Backpressure = chat.BackpressureDropNewest
	}

	return &EventBus{
		subscriptions: make(map[int64]*busSubscription),
		defaults:      defaults,
		onAsyncError:  onAsyncError,
	}
}

// Publish validates event and fans it out to every matching subscription.
// Drops caused by backpressure are reported asynchronously, not returned.
func (b *EventBus) Publish(ctx context.Context, event *chat.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	subs, err := b.snapshotSubscriptions()
	if err != nil {
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}

	var publishErrs []error
	for _, sub := range subs {
		if !sub.interest.Matches(event) {
			continue
		}
		err := sub.enqueue(ctx, event)
		switch {
		case err == nil:
		case errors.Is(err, chat.ErrEventDropped), errors.Is(err, chat.ErrSubscriptionClosed):
			b.reportAsyncError(ctx, sub.spec.Name, err)
		default:
			publishErrs = append(publishErrs, err)
		}
	}

	if len(publishErrs) > 0 {
		return fmt.Errorf("publish event %s: %w", event.ID, errors.Join(publishErrs...))
	}

	return nil
}

// Subscribe registers a bounded asynchronous consumer and starts its workers.
func (b *EventBus) Subscribe(
	ctx context.Context,
	interest chat.InterestSet,
	spec chat.SubscriptionSpec,
	handler chat.EventHandler,
) (chat.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", spec.Name)
	}

	subID := atomic.AddInt64(&b.nextID, 1)
	spec, err := b.resolveSpec(spec, subID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("subscribe %s: bus closed", spec.Name)
	}
	sub := newBusSubscription(subID, interest, spec, handler, b)
	b.subscriptions[subID] = sub

	return sub, nil
}

// Close stops every subscription and rejects later publishes and subscribes.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*busSubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.subscriptions = make(map[int64]*busSubscription)
	b.mu.Unlock()

	var closeErrs []error
	for _, sub := range subs {
		if err := sub.shutdown(ctx); err != nil {
			closeErrs = append(closeErrs, err)
		}
	}

	if len(closeErrs) > 0 {
		return fmt.Errorf("close event bus: %w", errors.Join(closeErrs...))
	}

	return nil
}

func (b *EventBus) snapshotSubscriptions() ([]*busSubscription, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("bus closed")
	}

	subs := make([]*busSubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}

	return subs, nil
}

// resolveSpec fills zero fields from bus defaults and rejects unknown policies.
func (b *EventBus) resolveSpec(spec chat.SubscriptionSpec, subID int64) (chat.SubscriptionSpec, error) {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", subID)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.defaults.Buffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.defaults.Workers
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = b.defaults.HandlerTimeout
	}
	switch spec.Backpressure {
	case "":
		spec.Backpressure = b.defaults.Backpressure
	case chat.BackpressureDropNewest, chat.BackpressureDropOldest, chat.BackpressureBlock:
	default:
		return spec, fmt.Errorf(
			"subscribe %s: backpressure %q: %w",
			spec.Name,
			spec.Backpressure,
			chat.ErrInvalidSubscription,
		)
	}

	return spec, nil
}

func (b *EventBus) unsubscribe(ctx context.Context, subID int64) error {
	b.mu.Lock()
	sub, found := b.subscriptions[subID]
	delete(b.subscriptions, subID)
	b.mu.Unlock()

	if !found {
		return nil
	}
	if err := sub.shutdown(ctx); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.spec.Name, err)
	}

	return nil
}

func (b *EventBus) reportAsyncError(ctx context.Context, scope string, err error) {
	if b.onAsyncError != nil {
		b.onAsyncError(ctx, scope, err)
	}
}

// busSubscription owns the queue and worker lifecycle of one subscriber.
// The queue is never closed; workers stop on context cancellation.
type busSubscription struct {
	id       int64
	interest chat.InterestSet
	spec     chat.SubscriptionSpec
	handler  chat.EventHandler
	queue    chan *chat.Event
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	closed   atomic.Bool
	once     sync.Once
	bus      *EventBus
}

func newBusSubscription(
	subID int64,
	interest chat.InterestSet,
	spec chat.SubscriptionSpec,
	handler chat.EventHandler,
	bus *EventBus,
) *busSubscription {
	subCtx, cancel := context.WithCancel(context.Background())
	sub := &busSubscription{
		id:       subID,
		interest: cloneInterestSet(interest),
		spec:     spec,
		handler:  handler,
		queue:    make(chan *chat.Event, spec.Buffer),
		ctx:      subCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		bus:      bus,
	}
	sub.startWorkers()

	return sub
}

func cloneInterestSet(interest chat.InterestSet) chat.InterestSet {
	cloned := interest
	cloned.Kinds = append([]chat.EventKind(nil), interest.Kinds...)
	cloned.Sources = append([]chat.EventSource(nil), interest.Sources...)

	return cloned
}

// Name returns the subscription name.
func (s *busSubscription) Name() string {
	return s.spec.Name
}

// Close removes the subscription from its bus and waits for its workers.
func (s *busSubscription) Close(ctx context.Context) error {
	return s.bus.unsubscribe(ctx, s.id)
}

func (s *busSubscription) enqueue(ctx context.Context, event *chat.Event) error {
	if s.closed.Load() {
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, chat.ErrSubscriptionClosed)
	}

	switch s.spec.Backpressure {
	case chat.BackpressureDropOldest:
		return s.enqueueDropOldest(event)
	case chat.BackpressureBlock:
		return s.enqueueBlock(ctx, event)
	default:
		return s.enqueueDropNewest(event)
	}
}

func (s *busSubscription) enqueueDropNewest(event *chat.Event) error {
	select {
	case s.queue <- event:
		return nil
	default:
		return fmt.Errorf("enqueue %s event %s: %w", s.spec.Name, event.ID, chat.ErrEventDropped)
	}
}

// enqueueDropOldest evicts at most one queued event to make room.
func (s *busSubscription) enqueueDropOldest(event *chat.Event) error {
	select {
	case s.queue <- event:
		return nil
	default:
	}

	select {
	case <-s.queue:
	default:
	}

	select {
	case s.queue <- event:
		return nil
	default:
		return fmt.Errorf("enqueue %s event %s: %w", s.spec.Name, event.ID, chat.ErrEventDropped)
	}
}

func (s *busSubscription) enqueueBlock(ctx context.Context, event *chat.Event) error {
	select {
	case s.queue <- event:
		return nil
	case <-s.ctx.Done():
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, chat.ErrSubscriptionClosed)
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, ctx.Err())
	}
}

func (s *busSubscription) startWorkers() {
	workerWG := &sync.WaitGroup{}
	for workerID := 0; workerID < s.spec.Workers; workerID++ {
		workerWG.Add(1)
		go s.runWorker(workerWG, workerID)
	}

	go func() {
		workerWG.Wait()
		close(s.done)
	}()
}

func (s *busSubscription) runWorker(workerWG *sync.WaitGroup, workerID int) {
	defer workerWG.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.queue:
			if err := s.handleEvent(workerID, event); err != nil {
				s.bus.reportAsyncError(s.ctx, s.spec.Name, err)
			}
		}
	}
}

// handleEvent runs the handler under the subscription timeout with panic recovery.
func (s *busSubscription) handleEvent(workerID int, event *chat.Event) error {
	handlerCtx, cancel := s.ctx, context.CancelFunc(func() {})
	if s.spec.HandlerTimeout > 0 {
		handlerCtx, cancel = context.WithTimeout(s.ctx, s.spec.HandlerTimeout)
	}
	defer cancel()

	scope := fmt.Sprintf("subscription %s worker %d", s.spec.Name, workerID)
	if err := runSafely(scope, func() error {
		return s.handler(handlerCtx, event)
	}); err != nil {
		return fmt.Errorf("handle event %s: %w", event.ID, err)
	}

	return nil
}

func (s *busSubscription) signalClose() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
}

func (s *busSubscription) shutdown(ctx context.Context) error {
	s.signalClose()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown subscription %s: %w", s.spec.Name, ctx.Err())
	}
}

var _ chat.EventBus = (*EventBus)(nil)
