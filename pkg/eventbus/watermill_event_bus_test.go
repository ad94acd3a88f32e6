package eventbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playbookd/playbookd/pkg/channels/gochannel"
	"github.com/playbookd/playbookd/pkg/eventbus"
	"github.com/playbookd/playbookd/pkg/events"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		received []*events.InstanceCompleted
	)

	require.NoError(t, bus.Handle(events.InstanceCompletedEvent, func(_ context.Context, event any) error {
		completed, ok := event.(*events.InstanceCompleted)
		require.True(t, ok)

		mu.Lock()
		received = append(received, completed)
		mu.Unlock()

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	published := events.InstanceCompleted{
		BaseEvent: events.BaseEvent{
			ID:         bus.GenerateID(),
			Type:       events.InstanceCompletedEvent,
			Timestamp:  time.Now().UTC(),
			InstanceID: "inst-1",
			PlaybookID: "pb-1",
			TargetID:   "t-1",
			Progress:   100,
		},
	}
	require.NoError(t, bus.Publish(ctx, "inst-1", published))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(received) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "inst-1", received[0].InstanceID)
	assert.Equal(t, 100, received[0].Progress)
}

func TestUnhandledEventTypeIsAcked(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled int

	var mu sync.Mutex

	require.NoError(t, bus.Handle(events.InstanceFailedEvent, func(_ context.Context, _ any) error {
		mu.Lock()
		handled++
		mu.Unlock()

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered for suspension events; the bus must ack and
	// move on so later events still arrive.
	suspended := events.InstanceSuspended{
		BaseEvent: events.BaseEvent{ID: bus.GenerateID(), Type: events.InstanceSuspendedEvent, InstanceID: "inst-1"},
	}
	require.NoError(t, bus.Publish(ctx, "inst-1", suspended))

	failed := events.InstanceFailed{
		BaseEvent: events.BaseEvent{ID: bus.GenerateID(), Type: events.InstanceFailedEvent, InstanceID: "inst-1"},
		Error:     "gateway timeout",
	}
	require.NoError(t, bus.Publish(ctx, "inst-1", failed))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return handled == 1
	}, time.Second, 10*time.Millisecond)
}

func TestGenerateIDIsUnique(t *testing.T) {
	bus := newTestBus(t)

	seen := make(map[string]struct{})

	for range 100 {
		id := bus.GenerateID()
		_, dup := seen[id]
		assert.False(t, dup)
		seen[id] = struct{}{}
	}
}
