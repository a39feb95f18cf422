package kernel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"memebot/pkg/chat"
)

func newTestBus(t *testing.T, buffer int, onAsyncError func(context.Context, string, error)) *EventBus {
	t.Helper()

	bus := NewEventBus(BusDefaults{Buffer: buffer, Workers: 1, HandlerTimeout: time.Second}, onAsyncError)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	return bus
}

func messageInterest() chat.InterestSet {
	return chat.InterestSet{Kinds: []chat.EventKind{chat.EventKindMessageCreated}}
}

// TestEventBusPublishDeliversMatchingSubscriptions verifies filtered publish delivery.
func TestEventBusPublishDeliversMatchingSubscriptions(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t, 8, nil)

	received := make(chan *chat.Event, 2)
	_, err := bus.Subscribe(context.Background(), chat.InterestSet{
		Kinds:   []chat.EventKind{chat.EventKindMessageCreated},
		Sources: []chat.EventSource{{Platform: chat.PlatformConsole}},
	}, chat.SubscriptionSpec{Name: "console-only"}, func(_ context.Context, event *chat.Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	telegram := newTestEvent("tg-1")
	console := newTestEvent("console-1")
	console.Source = chat.EventSource{Platform: chat.PlatformConsole, ID: "console"}
	for _, event := range []*chat.Event{telegram, console} {
		if err := bus.Publish(context.Background(), event); err != nil {
			t.Fatalf("publish %s failed: %v", event.ID, err)
		}
	}

	select {
	case event := <-received:
		if event.ID != "console-1" {
			t.Fatalf("event id = %s, want console-1", event.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	select {
	case event := <-received:
		t.Fatalf("unexpected delivery of %s", event.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestEventBusBackpressurePolicies verifies queue behavior under each drop policy.
func TestEventBusBackpressurePolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		policy      chat.BackpressurePolicy
		wantEvents  []string
		wantDropped int
	}{
		{
			name:        "drop newest keeps queued oldest",
			policy:      chat.BackpressureDropNewest,
			wantEvents:  []string{"e1", "e2"},
			wantDropped: 1,
		},
		{
			name:        "drop oldest keeps latest",
			policy:      chat.BackpressureDropOldest,
			wantEvents:  []string{"e1", "e3"},
			wantDropped: 0,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var mu sync.Mutex
			dropped := 0
			bus := newTestBus(t, 1, func(_ context.Context, _ string, err error) {
				if errors.Is(err, chat.ErrEventDropped) {
					mu.Lock()
					dropped++
					mu.Unlock()
				}
			})

			release := make(chan struct{})
			blocked := make(chan struct{}, 1)
			processed := make([]string, 0, 3)
			var first sync.Once

			_, err := bus.Subscribe(context.Background(), messageInterest(), chat.SubscriptionSpec{
				Name:         "policy",
				Buffer:       1,
				Backpressure: testCase.policy,
			}, func(_ context.Context, event *chat.Event) error {
				first.Do(func() {
					blocked <- struct{}{}
					<-release
				})
				mu.Lock()
				processed = append(processed, event.ID)
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Fatalf("subscribe failed: %v", err)
			}

			if err := bus.Publish(context.Background(), newTestEvent("e1")); err != nil {
				t.Fatalf("publish e1 failed: %v", err)
			}
			select {
			case <-blocked:
			case <-time.After(time.Second):
				t.Fatal("handler did not block as expected")
			}
			for _, id := range []string{"e2", "e3"} {
				if err := bus.Publish(context.Background(), newTestEvent(id)); err != nil {
					t.Fatalf("publish %s failed: %v", id, err)
				}
			}

			close(release)
			eventually(t, 2*time.Second, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(processed) == 2
			})

			mu.Lock()
			defer mu.Unlock()
			if processed[0] != testCase.wantEvents[0] || processed[1] != testCase.wantEvents[1] {
				t.Fatalf("processed = %v, want %v", processed, testCase.wantEvents)
			}
			if dropped != testCase.wantDropped {
				t.Fatalf("dropped = %d, want %d", dropped, testCase.wantDropped)
			}
		})
	}
}

// TestEventBusBlockPolicyHonorsCallerContext verifies block policy gives up on caller cancellation.
func TestEventBusBlockPolicyHonorsCallerContext(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t, 1, nil)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	_, err := bus.Subscribe(context.Background(), messageInterest(), chat.SubscriptionSpec{
		Name:         "block",
		Buffer:       1,
		Backpressure: chat.BackpressureBlock,
	}, func(ctx context.Context, _ *chat.Event) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// First event occupies the worker, second fills the queue.
	for _, id := range []string{"e1", "e2"} {
		if err := bus.Publish(context.Background(), newTestEvent(id)); err != nil {
			t.Fatalf("publish %s failed: %v", id, err)
		}
	}
	eventually(t, time.Second, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := bus.Publish(ctx, newTestEvent("e3"))
		return errors.Is(err, context.DeadlineExceeded)
	})
}

// TestEventBusHandlerPanicIsReported verifies workers survive handler panics.
func TestEventBusHandlerPanicIsReported(t *testing.T) {
	t.Parallel()

	reported := make(chan error, 1)
	bus := newTestBus(t, 4, func(_ context.Context, _ string, err error) {
		reported <- err
	})

	handled := make(chan string, 1)
	_, err := bus.Subscribe(context.Background(), messageInterest(), chat.SubscriptionSpec{Name: "panicky"},
		func(_ context.Context, event *chat.Event) error {
			if event.ID == "boom" {
				panic("kaboom")
			}
			handled <- event.ID
			return nil
		})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := bus.Publish(context.Background(), newTestEvent("boom")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	select {
	case err := <-reported:
		var panicErr *PanicError
		if !errors.As(err, &panicErr) {
			t.Fatalf("reported error = %v, want PanicError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("panic was not reported")
	}

	if err := bus.Publish(context.Background(), newTestEvent("after")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	select {
	case id := <-handled:
		if id != "after" {
			t.Fatalf("handled = %s, want after", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panic")
	}
}

// TestEventBusSubscribeRejectsUnknownPolicy verifies backpressure validation.
func TestEventBusSubscribeRejectsUnknownPolicy(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t, 1, nil)
	_, err := bus.Subscribe(context.Background(), messageInterest(), chat.SubscriptionSpec{
		Name:         "bad",
		Backpressure: "spill",
	}, func(context.Context, *chat.Event) error { return nil })
	if !errors.Is(err, chat.ErrInvalidSubscription) {
		t.Fatalf("error = %v, want ErrInvalidSubscription", err)
	}
}

// TestEventBusCloseRejectsNewPublish verifies publish rejection after bus closure.
func TestEventBusCloseRejectsNewPublish(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(BusDefaults{}, nil)
	if err := bus.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if err := bus.Publish(context.Background(), newTestEvent("e1")); err == nil {
		t.Fatal("expected publish on closed bus to fail")
	}
	if _, err := bus.Subscribe(context.Background(), messageInterest(), chat.SubscriptionSpec{},
		func(context.Context, *chat.Event) error { return nil }); err == nil {
		t.Fatal("expected subscribe on closed bus to fail")
	}
}

// TestEventBusPublishInvalidEvent verifies validation runs before fan-out.
func TestEventBusPublishInvalidEvent(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t, 8, nil)

	if err := bus.Publish(context.Background(), nil); !errors.Is(err, chat.ErrInvalidEvent) {
		t.Fatalf("nil publish error = %v, want ErrInvalidEvent", err)
	}
	event := newTestEvent("e1")
	event.Message = nil
	if err := bus.Publish(context.Background(), event); !errors.Is(err, chat.ErrInvalidEvent) {
		t.Fatalf("publish error = %v, want ErrInvalidEvent", err)
	}
}

func newTestEvent(id string) *chat.Event {
	return &chat.Event{
		ID:         id,
		Kind:       chat.EventKindMessageCreated,
		OccurredAt: time.Now().UTC(),
		Source:     chat.EventSource{Platform: chat.PlatformTelegram, ID: "tg-main"},
		Conversation: chat.Conversation{
			ID:   "chat-1",
			Type: chat.ConversationTypeGroup,
		},
		Actor:   chat.Actor{ID: "user-1"},
		Message: &chat.Message{ID: "msg-" + id, Text: "all memes"},
	}
}

func eventually(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatal("condition not met before timeout")
}
