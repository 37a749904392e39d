// Package participant implements the battle providers: human players
// connected through a client, and NPC trainers run by the server.
package participant

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/critterbox/battlewire/internal/battle"
)

// PlayerIDBase is added to a peer index to form that peer's player id.
// NPC trainers use ids below it.
const PlayerIDBase battle.ProviderID = 1000

// PlayerID returns the provider id of the player on peer.
func PlayerID(peer uint8) battle.ProviderID {
	return PlayerIDBase + battle.ProviderID(peer)
}

// IsPlayerID reports whether id belongs to a connected player.
func IsPlayerID(id battle.ProviderID) bool {
	return id >= PlayerIDBase && id < PlayerIDBase+256
}

// maxRejections bounds the rejection reasons kept in a View.
const maxRejections = 8

// View is what a player knows about its own battles.
type View struct {
	Battle     uuid.UUID                 `json:"battle,omitempty"`
	Opponent   battle.ProviderID         `json:"opponent,omitempty"`
	Turn       uint16                    `json:"turn"`
	LastEvents []string                  `json:"last_events,omitempty"`
	Pending    []battle.ChallengeRequest `json:"-"`
	Wins       int                       `json:"wins"`
	Losses     int                       `json:"losses"`
	Rejections []string                  `json:"rejections,omitempty"`
	Witnessed  int                       `json:"witnessed"`
	LastPong   uint64                    `json:"last_pong,omitempty"`
}

// InBattle reports whether the player is in an active battle.
func (v View) InBattle() bool {
	return v.Battle != uuid.Nil
}

// Player is a client-owned provider for a connected human. On its owning
// client it is local and drives battles through the router; on the
// server it is a stand-in whose messages are broadcast.
type Player struct {
	id         battle.ProviderID
	name       string
	peer       uint8
	local      bool
	autoAccept bool
	out        battle.Sender
	view       View
	logger     zerolog.Logger
}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithAutoAccept makes the player accept every challenge it receives.
func WithAutoAccept(v bool) PlayerOption {
	return func(p *Player) { p.autoAccept = v }
}

// WithName sets the display name.
func WithName(name string) PlayerOption {
	return func(p *Player) { p.name = name }
}

// NewRemotePlayer creates the server-side stand-in for the player on peer.
func NewRemotePlayer(peer uint8, opts ...PlayerOption) *Player {
	return newPlayer(peer, false, nil, opts...)
}

// NewLocalPlayer creates the player this process controls. out is the
// router it sends through.
func NewLocalPlayer(peer uint8, out battle.Sender, opts ...PlayerOption) *Player {
	return newPlayer(peer, true, out, opts...)
}

func newPlayer(peer uint8, local bool, out battle.Sender, opts ...PlayerOption) *Player {
	p := &Player{
		id:    PlayerID(peer),
		peer:  peer,
		local: local,
		out:   out,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.name == "" {
		p.name = fmt.Sprintf("player-%d", peer)
	}
	p.logger = log.With().
		Str("component", "player").
		Stringer("provider", p.id).
		Str("name", p.name).
		Logger()
	return p
}

func (p *Player) ID() battle.ProviderID         { return p.id }
func (p *Player) OwningSide() battle.OwningSide { return battle.ClientOwned }
func (p *Player) IsLocal() bool                 { return p.local }
func (p *Player) Peer() uint8                   { return p.peer }
func (p *Player) Name() string                  { return p.name }

// View returns a copy of the player's view.
func (p *Player) View() View {
	v := p.view
	v.LastEvents = slices.Clone(v.LastEvents)
	v.Pending = slices.Clone(v.Pending)
	v.Rejections = slices.Clone(v.Rejections)
	return v
}

// Witness counts traffic the player observes but does not own.
func (p *Player) Witness(msg battle.Message) {
	p.view.Witnessed++
	route := msg.Routing()
	p.logger.Trace().
		Str("type", msg.TypeName()).
		Stringer("sender", route.Sender).
		Stringer("recipient", route.Recipient).
		Msg("witnessed")
}

// Reply applies a message addressed to this player.
func (p *Player) Reply(msg battle.Message) {
	switch m := msg.(type) {
	case battle.ChallengeRequest:
		p.logger.Info().Stringer("from", m.Sender).Str("battle", m.BattleID.String()).Msg("challenged")
		if p.autoAccept {
			p.answer(m.BattleID, true, "")
			return
		}
		p.view.Pending = append(p.view.Pending, m)
	case battle.ChallengeAnswer:
		if !m.Accepted {
			p.logger.Info().Stringer("by", m.Sender).Str("reason", m.Reason).Msg("challenge declined")
		}
	case battle.BattleStart:
		p.view.Battle = m.BattleID
		p.view.Opponent = m.Sender
		p.view.Turn = 0
		p.view.LastEvents = nil
		p.view.Pending = slices.DeleteFunc(p.view.Pending, func(c battle.ChallengeRequest) bool {
			return c.BattleID == m.BattleID
		})
		p.logger.Info().Stringer("opponent", m.Sender).Str("battle", m.BattleID.String()).Msg("battle started")
	case battle.TurnResult:
		if m.BattleID == p.view.Battle {
			p.view.Turn = m.Turn + 1
			p.view.LastEvents = slices.Clone(m.Events)
		}
	case battle.BattleEnd:
		if m.Winner == p.id {
			p.view.Wins++
		} else {
			p.view.Losses++
		}
		if m.BattleID == p.view.Battle {
			p.view.Battle = uuid.Nil
			p.view.Opponent = battle.Manager
		}
		p.logger.Info().Stringer("winner", m.Winner).Str("reason", m.Reason).Msg("battle ended")
	case battle.Rejected:
		p.view.Rejections = append(p.view.Rejections, m.Reason)
		if n := len(p.view.Rejections); n > maxRejections {
			p.view.Rejections = slices.Clone(p.view.Rejections[n-maxRejections:])
		}
		p.logger.Warn().Str("reason", m.Reason).Msg("message rejected")
	case battle.Ping:
		if p.out != nil {
			p.out.ReturnMessage(m, battle.Pong{Nonce: m.Nonce})
		}
	case battle.Pong:
		p.view.LastPong = m.Nonce
	default:
		p.logger.Debug().Str("type", msg.TypeName()).Msg("ignoring message")
	}
}

// Challenge asks the manager to pair this player against opponent.
func (p *Player) Challenge(opponent battle.ProviderID, format string) (uuid.UUID, error) {
	if err := p.requireLocal(); err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	p.out.Send(battle.ChallengeRequest{
		Route:    battle.Route{Sender: p.id},
		BattleID: id,
		Opponent: opponent,
		Format:   format,
		TeamSize: 1,
	}, battle.Manager)
	return id, nil
}

// Accept answers a pending challenge.
func (p *Player) Accept(id uuid.UUID, accept bool, reason string) error {
	if err := p.requireLocal(); err != nil {
		return err
	}
	idx := slices.IndexFunc(p.view.Pending, func(c battle.ChallengeRequest) bool { return c.BattleID == id })
	if idx < 0 {
		return fmt.Errorf("no pending challenge %s", id)
	}
	p.view.Pending = slices.Delete(p.view.Pending, idx, idx+1)
	p.answer(id, accept, reason)
	return nil
}

// Act submits an action for the current turn of the player's battle.
func (p *Player) Act(action battle.ActionKind, slot, target uint8) error {
	if err := p.requireLocal(); err != nil {
		return err
	}
	if !p.view.InBattle() {
		return fmt.Errorf("%s is not in a battle", p.id)
	}
	p.out.Send(battle.ChooseAction{
		Route:    battle.Route{Sender: p.id},
		BattleID: p.view.Battle,
		Turn:     p.view.Turn,
		Action:   action,
		Slot:     slot,
		Target:   target,
	}, battle.Manager)
	return nil
}

// Forfeit concedes the player's battle.
func (p *Player) Forfeit() error {
	if err := p.requireLocal(); err != nil {
		return err
	}
	if !p.view.InBattle() {
		return fmt.Errorf("%s is not in a battle", p.id)
	}
	p.out.Send(battle.Forfeit{Route: battle.Route{Sender: p.id}, BattleID: p.view.Battle}, battle.Manager)
	return nil
}

// Ping probes recipient with a nonce.
func (p *Player) Ping(recipient battle.ProviderID, nonce uint64) error {
	if err := p.requireLocal(); err != nil {
		return err
	}
	p.out.Send(battle.Ping{Route: battle.Route{Sender: p.id}, Nonce: nonce}, recipient)
	return nil
}

func (p *Player) answer(id uuid.UUID, accept bool, reason string) {
	if p.out == nil {
		return
	}
	p.out.Send(battle.ChallengeAnswer{
		Route:    battle.Route{Sender: p.id},
		BattleID: id,
		Accepted: accept,
		Reason:   reason,
	}, battle.Manager)
}

func (p *Player) requireLocal() error {
	if !p.local || p.out == nil {
		return fmt.Errorf("%s is not controlled by this process", p.id)
	}
	return nil
}
