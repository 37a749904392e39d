package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/critterbox/battlewire/internal/events"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "data", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func routeEvent(at time.Time, kind events.EventType, action events.RouteAction, typ string) events.Event {
	return events.Event{
		Type:   kind,
		Source: "router",
		At:     at,
		Payload: events.RoutePayload{
			Role:      "server",
			Type:      typ,
			Sender:    "provider#1001",
			Recipient: "manager",
			Action:    action,
		},
	}
}

func TestJournalRecordsBusEvents(t *testing.T) {
	j := openJournal(t)
	bus := events.NewEventBus()
	defer bus.Stop()
	j.Subscribe(bus)

	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	require.NoError(t, bus.EmitSync(ctx, routeEvent(base, events.EventRouteDelivered, events.ActionReply, "battle.ChallengeRequest")))
	require.NoError(t, bus.EmitSync(ctx, routeEvent(base.Add(time.Second), events.EventRouteTransmitted, events.ActionBroadcast, "battle.BattleStart")))
	require.NoError(t, bus.EmitSync(ctx, routeEvent(base.Add(2*time.Second), events.EventRouteIntercepted, events.ActionIntercept, "battle.ChooseAction")))

	entries, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "battle.ChooseAction", entries[0].Type, "newest first")
	assert.Equal(t, events.ActionIntercept, entries[0].Action)
	assert.Equal(t, string(events.EventRouteIntercepted), entries[0].Event)
	assert.True(t, entries[2].At.Equal(base))

	limited, err := j.Recent(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	counts, err := j.ActionCounts()
	require.NoError(t, err)
	assert.Equal(t, map[events.RouteAction]int{
		events.ActionReply:     1,
		events.ActionBroadcast: 1,
		events.ActionIntercept: 1,
	}, counts)

	j.Unsubscribe(bus)
	require.NoError(t, bus.EmitSync(ctx, routeEvent(base, events.EventRouteDropped, events.ActionDrop, "battle.Ping")))
	entries, err = j.Recent(10)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestJournalRejectsWrongPayload(t *testing.T) {
	j := openJournal(t)
	bus := events.NewEventBus()
	defer bus.Stop()
	j.Subscribe(bus)

	err := bus.EmitSync(context.Background(), events.Event{Type: events.EventRouteDropped, Payload: "nope"})
	require.Error(t, err)
}

func TestJournalBattleLifecycle(t *testing.T) {
	j := openJournal(t)
	bus := events.NewEventBus()
	defer bus.Stop()
	j.Subscribe(bus)

	ctx := context.Background()
	start := time.Unix(1_700_000_000, 0)
	payload := events.BattlePayload{
		BattleID:     "b-1",
		Format:       "singles",
		Participants: []string{"provider#1000", "provider#1"},
	}
	require.NoError(t, bus.EmitSync(ctx, events.Event{Type: events.EventBattleStarted, At: start, Payload: payload}))

	battles, err := j.Battles(5)
	require.NoError(t, err)
	require.Len(t, battles, 1)
	assert.Nil(t, battles[0].EndedAt)
	assert.Equal(t, []string{"provider#1000", "provider#1"}, battles[0].Participants)

	payload.Winner = "provider#1"
	payload.Reason = "knockout"
	payload.Turns = 4
	end := start.Add(time.Minute)
	require.NoError(t, bus.EmitSync(ctx, events.Event{Type: events.EventBattleEnded, At: end, Payload: payload}))

	battles, err = j.Battles(5)
	require.NoError(t, err)
	require.Len(t, battles, 1)
	b := battles[0]
	assert.Equal(t, "provider#1", b.Winner)
	assert.Equal(t, "knockout", b.Reason)
	assert.Equal(t, 4, b.Turns)
	assert.True(t, b.StartedAt.Equal(start))
	require.NotNil(t, b.EndedAt)
	assert.True(t, b.EndedAt.Equal(end))
}

func TestJournalPrune(t *testing.T) {
	j := openJournal(t)
	old := time.Unix(1_000, 0)
	recent := time.Unix(2_000, 0)

	require.NoError(t, j.RecordRoute(old, events.EventRouteDelivered, events.RoutePayload{Action: events.ActionReply}))
	require.NoError(t, j.RecordRoute(recent, events.EventRouteDelivered, events.RoutePayload{Action: events.ActionReply}))
	require.NoError(t, j.RecordBattleEnd(old, events.BattlePayload{BattleID: "old"}))
	require.NoError(t, j.RecordBattleStart(old, events.BattlePayload{BattleID: "running"}))

	removed, err := j.Prune(time.Unix(1_500, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	entries, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].At.Equal(recent))

	battles, err := j.Battles(10)
	require.NoError(t, err)
	require.Len(t, battles, 1)
	assert.Equal(t, "running", battles[0].BattleID, "battles still running are kept")
}
