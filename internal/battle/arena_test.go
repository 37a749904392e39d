package battle

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type arenaFixture struct {
	router *Router
	arena  *Arena
	a, b   *fakeProvider
	c      *fakeProvider
}

func newArenaFixture(t *testing.T, history int) *arenaFixture {
	t.Helper()
	f := &arenaFixture{
		arena: NewArena(ArenaConfig{History: history}),
		a:     &fakeProvider{id: 1, side: ClientOwned, local: true},
		b:     &fakeProvider{id: 2, side: ServerOwned, local: true},
		c:     &fakeProvider{id: 3, side: ServerOwned, local: true},
	}
	f.router = newRouter(t, RouterConfig{
		Role:      Standalone,
		Manager:   f.arena,
		Directory: NewProviderTable(f.a, f.b, f.c),
	})
	f.arena.Attach(f.router)
	return f
}

// answer makes p respond to every challenge it receives.
func (f *arenaFixture) answer(p *fakeProvider, accept bool) {
	p.onReply = func(m Message) {
		if req, ok := m.(ChallengeRequest); ok {
			f.router.Send(ChallengeAnswer{
				Route:    Route{Sender: p.id},
				BattleID: req.BattleID,
				Accepted: accept,
				Reason:   "not today",
			}, Manager)
		}
	}
}

func (f *arenaFixture) act(p ProviderID, id uuid.UUID, turn uint16, action ActionKind) {
	f.router.Send(ChooseAction{Route: Route{Sender: p}, BattleID: id, Turn: turn, Action: action}, Manager)
}

func TestArenaAcceptedBattleRunsToKnockout(t *testing.T) {
	f := newArenaFixture(t, 4)
	f.answer(f.b, true)

	id := f.arena.Challenge(1, 2, "")

	starts := ofType[BattleStart](f.b.replied)
	require.Len(t, starts, 1)
	assert.Equal(t, ProviderID(1), starts[0].Sender, "opponent learns the challenger as sender")
	assert.Equal(t, []ProviderID{1, 2}, starts[0].Participants)
	assert.Equal(t, "singles", starts[0].Format)
	starts = ofType[BattleStart](f.a.replied)
	require.Len(t, starts, 1)
	assert.Equal(t, ProviderID(2), starts[0].Sender)

	snap, ok := f.arena.Battle(id)
	require.True(t, ok)
	assert.Equal(t, StateActive, snap.State)
	assert.Equal(t, []ProviderID{1, 2}, snap.Waiting)

	f.act(1, id, 0, ActionAttack)
	snap, _ = f.arena.Battle(id)
	assert.Equal(t, []ProviderID{2}, snap.Waiting)
	f.act(2, id, 0, ActionSwitch)

	results := ofType[TurnResult](f.a.replied)
	require.Len(t, results, 1)
	assert.Equal(t, Manager, results[0].Sender)
	assert.Equal(t, []string{
		"provider#1 attacks provider#2 for 25",
		"provider#2 switches to slot 0",
	}, results[0].Events)

	for turn := uint16(1); turn < 4; turn++ {
		f.act(1, id, turn, ActionAttack)
		f.act(2, id, turn, ActionSwitch)
	}

	ends := ofType[BattleEnd](f.b.replied)
	require.Len(t, ends, 1)
	assert.Equal(t, ProviderID(1), ends[0].Winner)
	assert.Equal(t, "knockout", ends[0].Reason)
	assert.Len(t, ofType[BattleEnd](f.a.replied), 1)
	assert.Len(t, ofType[TurnResult](f.b.replied), 4)

	snap, ok = f.arena.Battle(id)
	require.True(t, ok)
	assert.Equal(t, StateEnded, snap.State)
	_, engaged := f.arena.Engaged(1)
	assert.False(t, engaged)
}

func TestArenaDeclinedChallenge(t *testing.T) {
	f := newArenaFixture(t, 4)
	f.answer(f.b, false)

	id := f.arena.Challenge(1, 2, "doubles")

	answers := ofType[ChallengeAnswer](f.a.replied)
	require.Len(t, answers, 1)
	assert.False(t, answers[0].Accepted)
	assert.Equal(t, ProviderID(2), answers[0].Sender)
	_, ok := f.arena.Battle(id)
	assert.False(t, ok)
}

func TestArenaRejections(t *testing.T) {
	f := newArenaFixture(t, 4)
	f.answer(f.b, true)
	id := f.arena.Challenge(1, 2, "")

	tests := []struct {
		name   string
		send   func()
		to     *fakeProvider
		reason string
	}{
		{
			name:   "challenge busy opponent",
			send:   func() { f.arena.Challenge(3, 2, "") },
			to:     f.c,
			reason: "provider#2 is already in a battle",
		},
		{
			name:   "challenge yourself",
			send:   func() { f.arena.Challenge(3, 3, "") },
			to:     f.c,
			reason: "cannot challenge yourself",
		},
		{
			name:   "action from outsider",
			send:   func() { f.act(3, id, 0, ActionAttack) },
			to:     f.c,
			reason: "not a participant",
		},
		{
			name:   "action for wrong turn",
			send:   func() { f.act(1, id, 5, ActionAttack) },
			to:     f.a,
			reason: "expected turn 0",
		},
		{
			name:   "action for unknown battle",
			send:   func() { f.act(1, uuid.New(), 0, ActionAttack) },
			to:     f.a,
			reason: "unknown battle",
		},
		{
			name: "direct action intercepted",
			send: func() {
				f.router.Send(ChooseAction{Route: Route{Sender: 3}, BattleID: id}, 1)
			},
			to:     f.c,
			reason: "not a participant",
		},
		{
			name: "spoofed battle end intercepted",
			send: func() {
				f.router.Send(BattleEnd{Route: Route{Sender: 3}, BattleID: id, Winner: 3}, 1)
			},
			to:     f.c,
			reason: "only the manager announces battles",
		},
		{
			name: "answer without challenge",
			send: func() {
				f.router.Send(ChallengeAnswer{Route: Route{Sender: 3}, BattleID: uuid.New(), Accepted: true}, Manager)
			},
			to:     f.c,
			reason: "no pending challenge",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			before := len(ofType[Rejected](tc.to.replied))
			tc.send()
			rejected := ofType[Rejected](tc.to.replied)
			require.Len(t, rejected, before+1)
			assert.Equal(t, tc.reason, rejected[before].Reason)
		})
	}

	assert.Empty(t, ofType[BattleEnd](f.a.replied), "spoofed end must not reach the provider")
	assert.Empty(t, ofType[ChooseAction](f.a.replied))
}

func TestArenaForfeitAndPing(t *testing.T) {
	f := newArenaFixture(t, 0)
	f.answer(f.b, true)
	id := f.arena.Challenge(1, 2, "")

	f.router.Send(Forfeit{Route: Route{Sender: 1}, BattleID: id}, Manager)
	ends := ofType[BattleEnd](f.a.replied)
	require.Len(t, ends, 1)
	assert.Equal(t, ProviderID(2), ends[0].Winner)
	assert.Equal(t, "forfeit", ends[0].Reason)

	_, ok := f.arena.Battle(id)
	assert.False(t, ok, "ended battles beyond history are forgotten")
	assert.Empty(t, f.arena.Battles())

	f.router.Send(Ping{Route: Route{Sender: 3}, Nonce: 11}, Manager)
	pongs := ofType[Pong](f.c.replied)
	require.Len(t, pongs, 1)
	assert.Equal(t, Pong{Route: Route{Sender: Manager, Recipient: 3}, Nonce: 11}, pongs[0])
}
