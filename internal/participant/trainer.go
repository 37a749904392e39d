package participant

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/critterbox/battlewire/internal/battle"
)

// Scheduler runs fn later on the host loop.
type Scheduler func(fn func())

// TrainerConfig describes one NPC trainer.
type TrainerConfig struct {
	ID   battle.ProviderID
	Name string
	Move battle.ActionKind
}

// Trainer is a server-owned NPC. It accepts every challenge and plays
// the same move each turn.
type Trainer struct {
	id       battle.ProviderID
	name     string
	move     battle.ActionKind
	out      battle.Sender
	schedule Scheduler
	turns    map[uuid.UUID]uint16
	logger   zerolog.Logger
}

// NewTrainer creates a trainer that answers through out. A nil schedule
// answers immediately.
func NewTrainer(cfg TrainerConfig, out battle.Sender, schedule Scheduler) (*Trainer, error) {
	if cfg.ID == battle.Manager || IsPlayerID(cfg.ID) {
		return nil, fmt.Errorf("trainer id %d is reserved", cfg.ID)
	}
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("trainer-%d", cfg.ID)
	}
	if schedule == nil {
		schedule = func(fn func()) { fn() }
	}
	return &Trainer{
		id:       cfg.ID,
		name:     name,
		move:     cfg.Move,
		out:      out,
		schedule: schedule,
		turns:    make(map[uuid.UUID]uint16),
		logger: log.With().
			Str("component", "trainer").
			Stringer("provider", cfg.ID).
			Str("name", name).
			Logger(),
	}, nil
}

func (t *Trainer) ID() battle.ProviderID         { return t.id }
func (t *Trainer) OwningSide() battle.OwningSide { return battle.ServerOwned }
func (t *Trainer) IsLocal() bool                 { return true }
func (t *Trainer) Name() string                  { return t.name }

// Battles returns how many battles the trainer is playing.
func (t *Trainer) Battles() int {
	return len(t.turns)
}

// Witness is a no-op: trainers do not track battles they are not in.
func (t *Trainer) Witness(battle.Message) {}

// Reply plays the trainer's side of a battle.
func (t *Trainer) Reply(msg battle.Message) {
	switch m := msg.(type) {
	case battle.ChallengeRequest:
		t.logger.Debug().Stringer("from", m.Sender).Msg("accepting challenge")
		t.schedule(func() {
			t.out.Send(battle.ChallengeAnswer{
				Route:    battle.Route{Sender: t.id},
				BattleID: m.BattleID,
				Accepted: true,
			}, battle.Manager)
		})
	case battle.BattleStart:
		t.turns[m.BattleID] = 0
		t.choose(m.BattleID, 0)
	case battle.TurnResult:
		if _, ok := t.turns[m.BattleID]; ok {
			t.turns[m.BattleID] = m.Turn + 1
			t.choose(m.BattleID, m.Turn+1)
		}
	case battle.BattleEnd:
		delete(t.turns, m.BattleID)
		t.logger.Info().Stringer("winner", m.Winner).Str("reason", m.Reason).Msg("battle ended")
	case battle.Ping:
		t.out.ReturnMessage(m, battle.Pong{Nonce: m.Nonce})
	case battle.Rejected:
		t.logger.Debug().Str("reason", m.Reason).Msg("message rejected")
	}
}

// choose submits the trainer's move for turn once the host loop gets to it,
// unless the battle has moved on by then.
func (t *Trainer) choose(id uuid.UUID, turn uint16) {
	t.schedule(func() {
		if current, ok := t.turns[id]; !ok || current != turn {
			return
		}
		t.out.Send(battle.ChooseAction{
			Route:    battle.Route{Sender: t.id},
			BattleID: id,
			Turn:     turn,
			Action:   t.move,
		}, battle.Manager)
	})
}
