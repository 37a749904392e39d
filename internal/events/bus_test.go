package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitReachesSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	got := make(chan Event, 1)
	bus.Subscribe(EventRouteDelivered, "test", func(_ context.Context, e Event) error {
		got <- e
		return nil
	})

	bus.Emit(context.Background(), Event{
		Type:    EventRouteDelivered,
		Source:  "router",
		Payload: RoutePayload{Type: "battle.Ping", Action: ActionReply},
	})

	select {
	case e := <-got:
		assert.Equal(t, "router", e.Source)
		assert.False(t, e.At.IsZero())
		payload, ok := e.Payload.(RoutePayload)
		require.True(t, ok)
		assert.Equal(t, ActionReply, payload.Action)
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestEmitSyncReturnsFirstError(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	boom := errors.New("boom")
	var calls atomic.Int32
	bus.Subscribe(EventBattleEnded, "ok", func(context.Context, Event) error {
		calls.Add(1)
		return nil
	})
	bus.Subscribe(EventBattleEnded, "fail", func(context.Context, Event) error {
		calls.Add(1)
		return boom
	})

	err := bus.EmitSync(context.Background(), Event{Type: EventBattleEnded})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(2), calls.Load())
}

func TestUnsubscribeAndStop(t *testing.T) {
	bus := NewEventBus()
	var a, b atomic.Int32
	bus.Subscribe(EventPeerJoined, "a", func(context.Context, Event) error { a.Add(1); return nil })
	bus.Subscribe(EventPeerJoined, "b", func(context.Context, Event) error { b.Add(1); return nil })

	require.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventPeerJoined}))
	bus.Unsubscribe(EventPeerJoined, "a")
	require.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventPeerJoined}))
	assert.Equal(t, int32(1), a.Load())
	assert.Equal(t, int32(2), b.Load())

	bus.Stop()
	bus.Stop()
	bus.Emit(context.Background(), Event{Type: EventPeerJoined})
	assert.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventPeerJoined}))
	assert.Equal(t, int32(2), b.Load())
}

func TestHandlerPanicIsContained(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var calls atomic.Int32
	bus.Subscribe(EventHealthChanged, "panics", func(context.Context, Event) error { panic("boom") })
	bus.Subscribe(EventHealthChanged, "ok", func(context.Context, Event) error { calls.Add(1); return nil })

	assert.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventHealthChanged}))
	assert.Equal(t, int32(1), calls.Load())
}

func TestNilBusIsSilent(t *testing.T) {
	var bus *EventBus
	bus.Emit(context.Background(), Event{Type: EventRouteDropped})
	assert.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventRouteDropped}))
}
