package participant

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/critterbox/battlewire/internal/battle"
)

type queue struct {
	pending []func()
}

func (q *queue) schedule(fn func()) {
	q.pending = append(q.pending, fn)
}

func (q *queue) drain() {
	for len(q.pending) > 0 {
		fn := q.pending[0]
		q.pending = q.pending[1:]
		fn()
	}
}

type fixture struct {
	router  *battle.Router
	arena   *battle.Arena
	player  *Player
	trainer *Trainer
	q       *queue
}

func newFixture(t *testing.T, opts ...PlayerOption) *fixture {
	t.Helper()
	f := &fixture{q: &queue{}, arena: battle.NewArena(battle.ArenaConfig{History: 2})}
	table := battle.NewProviderTable()

	router, err := battle.NewRouter(battle.RouterConfig{
		Role:      battle.Standalone,
		Manager:   f.arena,
		Directory: table,
	})
	require.NoError(t, err)
	f.router = router
	f.arena.Attach(router)

	f.player = NewLocalPlayer(0, router, opts...)
	f.trainer, err = NewTrainer(TrainerConfig{ID: 7, Name: "brock"}, router, f.q.schedule)
	require.NoError(t, err)

	table.Add(f.player)
	table.Add(f.trainer)
	router.SetLocalPlayer(f.player)
	return f
}

func TestPlayerIDs(t *testing.T) {
	assert.Equal(t, battle.ProviderID(1000), PlayerID(0))
	assert.Equal(t, battle.ProviderID(1254), PlayerID(254))
	assert.True(t, IsPlayerID(PlayerID(12)))
	assert.False(t, IsPlayerID(7))

	_, err := NewTrainer(TrainerConfig{ID: PlayerID(3)}, nil, nil)
	assert.Error(t, err)
	_, err = NewTrainer(TrainerConfig{ID: battle.Manager}, nil, nil)
	assert.Error(t, err)
}

func TestPlayerBattlesTrainer(t *testing.T) {
	f := newFixture(t)

	id, err := f.player.Challenge(7, "")
	require.NoError(t, err)
	f.q.drain()

	view := f.player.View()
	require.True(t, view.InBattle())
	assert.Equal(t, id, view.Battle)
	assert.Equal(t, battle.ProviderID(7), view.Opponent)
	assert.Equal(t, 1, f.trainer.Battles())

	for turn := 0; turn < 4; turn++ {
		require.NoError(t, f.player.Act(battle.ActionAttack, 0, 0))
		f.q.drain()
	}

	view = f.player.View()
	assert.False(t, view.InBattle())
	assert.Equal(t, uint16(4), view.Turn)
	assert.Equal(t, 0, view.Wins)
	assert.Equal(t, 1, view.Losses, "simultaneous faint goes against the challenger")
	assert.Contains(t, view.LastEvents, "provider#1000 faints")
	assert.Empty(t, view.Rejections)
	assert.Greater(t, view.Witnessed, 0)
	assert.Equal(t, 0, f.trainer.Battles())

	snap, ok := f.arena.Battle(id)
	require.True(t, ok)
	assert.Equal(t, battle.StateEnded, snap.State)
	assert.Equal(t, battle.ProviderID(7), snap.Winner)
}

func TestPlayerPendingChallenge(t *testing.T) {
	f := newFixture(t)

	id := f.arena.Challenge(7, f.player.ID(), "")
	view := f.player.View()
	require.Len(t, view.Pending, 1)
	assert.Equal(t, id, view.Pending[0].BattleID)

	assert.Error(t, f.player.Accept(uuid.New(), true, ""))
	require.NoError(t, f.player.Accept(id, true, ""))
	f.q.drain()

	view = f.player.View()
	assert.Empty(t, view.Pending)
	assert.True(t, view.InBattle())
	assert.Equal(t, battle.ProviderID(7), view.Opponent)

	require.NoError(t, f.player.Forfeit())
	f.q.drain()
	view = f.player.View()
	assert.False(t, view.InBattle())
	assert.Equal(t, 1, view.Losses)
	assert.Error(t, f.player.Forfeit())
}

func TestPlayerAutoAcceptAndRejections(t *testing.T) {
	f := newFixture(t, WithAutoAccept(true), WithName("red"))
	assert.Equal(t, "red", f.player.Name())

	id := f.arena.Challenge(7, f.player.ID(), "")
	f.q.drain()
	assert.Equal(t, id, f.player.View().Battle)

	_, err := f.player.Challenge(7, "")
	require.NoError(t, err)
	view := f.player.View()
	require.Len(t, view.Rejections, 1)
	assert.Equal(t, "provider#1000 is already in a battle", view.Rejections[0])
}

func TestPlayerPing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.player.Ping(7, 99))
	assert.Equal(t, uint64(99), f.player.View().LastPong)
}

func TestRemotePlayerIsNotControllable(t *testing.T) {
	p := NewRemotePlayer(4)
	assert.Equal(t, PlayerID(4), p.ID())
	assert.Equal(t, uint8(4), p.Peer())
	assert.False(t, p.IsLocal())
	assert.Equal(t, battle.ClientOwned, p.OwningSide())
	assert.Equal(t, "player-4", p.Name())

	_, err := p.Challenge(7, "")
	assert.Error(t, err)
	assert.Error(t, p.Act(battle.ActionGuard, 0, 0))
	assert.Error(t, p.Ping(7, 1))

	p.Reply(battle.BattleEnd{Winner: p.ID()})
	assert.Equal(t, 1, p.View().Wins)
}
