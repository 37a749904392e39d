package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/critterbox/battlewire/internal/config"
	"github.com/critterbox/battlewire/internal/events"
)

type published struct {
	topic string
	msg   map[string]interface{}
}

type recorder struct {
	mu   sync.Mutex
	msgs []published
}

func (r *recorder) publish(topic string, data []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		panic(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, published{topic: topic, msg: msg})
}

func (r *recorder) all() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.msgs...)
}

func newTestHandler(bus *events.EventBus) (*MQTTHandler, *recorder) {
	rec := &recorder{}
	h := newHandler(config.MQTTConfig{}, "arena-1", bus, map[string]interface{}{"role": "server"}, rec.publish)
	return h, rec
}

func TestDisabledHandler(t *testing.T) {
	_, err := NewMQTTHandler(config.MQTTConfig{}, "n", "server", events.NewEventBus())
	require.Error(t, err)
}

func TestPublishesEventsByTopic(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	h, rec := newTestHandler(bus)
	h.subscribeEvents()

	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type: events.EventRouteTransmitted,
		At:   at,
		Payload: events.RoutePayload{
			Type:   "battle.BattleStart",
			Action: events.ActionBroadcast,
		},
	}))
	require.NoError(t, bus.EmitSync(ctx, events.Event{Type: events.EventPeerJoined, Payload: events.PeerPayload{Index: 3}}))
	require.NoError(t, bus.EmitSync(ctx, events.Event{Type: events.EventBattleEnded, Payload: events.BattlePayload{BattleID: "b"}}))
	require.NoError(t, bus.EmitSync(ctx, events.Event{Type: events.EventHealthChanged, Payload: events.HealthPayload{Level: "warning"}}))

	msgs := rec.all()
	require.Len(t, msgs, 4)

	assert.Equal(t, "battlewire/arena-1/route/broadcast", msgs[0].topic)
	assert.Equal(t, "route_transmitted", msgs[0].msg["event"])
	assert.Equal(t, "server", msgs[0].msg["role"])
	assert.Equal(t, "2026-01-02T03:04:05Z", msgs[0].msg["timestamp"])
	payload := msgs[0].msg["payload"].(map[string]interface{})
	assert.Equal(t, "battle.BattleStart", payload["type"])

	assert.Equal(t, "battlewire/arena-1/peer", msgs[1].topic)
	assert.Equal(t, "battlewire/arena-1/battle", msgs[2].topic)
	assert.Equal(t, "battlewire/arena-1/health", msgs[3].topic)

	h.unsubscribeEvents()
	require.NoError(t, bus.EmitSync(ctx, events.Event{Type: events.EventPeerLeft, Payload: events.PeerPayload{}}))
	assert.Len(t, rec.all(), 4)
}

func TestStatusMessages(t *testing.T) {
	h, rec := newTestHandler(events.NewEventBus())
	h.SetStatusFunc(func() interface{} { return map[string]int{"peers": 2} })

	h.publishStatus()
	h.PublishShutdown()

	msgs := rec.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, "battlewire/arena-1/status", msgs[0].topic)
	status := msgs[0].msg["payload"].(map[string]interface{})
	assert.Equal(t, true, status["online"])
	assert.Equal(t, map[string]interface{}{"peers": float64(2)}, status["status"])

	assert.Equal(t, "shutdown", msgs[1].msg["event"])
	assert.Equal(t, false, msgs[1].msg["payload"].(map[string]interface{})["online"])
}

func TestRouteHandlerRejectsWrongPayload(t *testing.T) {
	h, _ := newTestHandler(events.NewEventBus())
	require.Error(t, h.onRoute(context.Background(), events.Event{Payload: 42}))
}
