package battle

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/critterbox/battlewire/internal/events"
)

// State is the lifecycle state of a battle.
type State uint8

const (
	StatePending State = iota
	StateActive
	StateEnded
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Snapshot is a read-only copy of a battle.
type Snapshot struct {
	ID           uuid.UUID    `json:"id"`
	Format       string       `json:"format"`
	TeamSize     uint8        `json:"team_size"`
	Participants []ProviderID `json:"participants"`
	State        State        `json:"-"`
	StateName    string       `json:"state"`
	Turn         uint16       `json:"turn"`
	Waiting      []ProviderID `json:"waiting,omitempty"`
	Winner       ProviderID   `json:"winner,omitempty"`
	Reason       string       `json:"reason,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	EndedAt      time.Time    `json:"ended_at,omitempty"`
}

// Participant reports whether p takes part in the battle.
func (s Snapshot) Participant(p ProviderID) bool {
	return slices.Contains(s.Participants, p)
}

type battle struct {
	Snapshot
	actions map[ProviderID]ChooseAction
}

func (b *battle) snapshot() Snapshot {
	s := b.Snapshot
	s.Participants = slices.Clone(b.Participants)
	s.StateName = b.State.String()
	if b.State == StateActive {
		for _, p := range b.Participants {
			if _, ok := b.actions[p]; !ok {
				s.Waiting = append(s.Waiting, p)
			}
		}
	}
	return s
}

// ArenaConfig configures an Arena.
type ArenaConfig struct {
	Simulator Simulator
	Events    *events.EventBus

	// History is how many ended battles are kept for inspection.
	History int

	// DefaultFormat is used for challenges that name no format.
	DefaultFormat string
}

// Arena is the authoritative battle manager. It pairs challengers,
// collects actions, and asks its Simulator to resolve turns. Like the
// router it runs on the host loop only.
type Arena struct {
	out     Sender
	sim     Simulator
	bus     *events.EventBus
	history int
	format  string
	logger  zerolog.Logger

	battles map[uuid.UUID]*battle
	busy    map[ProviderID]uuid.UUID
	ended   []uuid.UUID
}

var _ BattleManager = (*Arena)(nil)

// NewArena creates an arena. Attach must be called before routing.
func NewArena(cfg ArenaConfig) *Arena {
	sim := cfg.Simulator
	if sim == nil {
		sim = NewFirstFaintSimulator()
	}
	format := cfg.DefaultFormat
	if format == "" {
		format = "singles"
	}
	return &Arena{
		sim:     sim,
		bus:     cfg.Events,
		history: max(cfg.History, 0),
		format:  format,
		logger:  log.With().Str("component", "arena").Logger(),
		battles: make(map[uuid.UUID]*battle),
		busy:    make(map[ProviderID]uuid.UUID),
	}
}

// Attach sets the sender the arena answers through, normally the router
// it manages.
func (a *Arena) Attach(out Sender) {
	a.out = out
}

// Challenge asks the arena, through the router, to pair from against to.
func (a *Arena) Challenge(from, to ProviderID, format string) uuid.UUID {
	id := uuid.New()
	a.out.Send(ChallengeRequest{
		Route:    Route{Sender: from},
		BattleID: id,
		Opponent: to,
		Format:   format,
		TeamSize: 1,
	}, Manager)
	return id
}

// Battles returns snapshots of every tracked battle, oldest first.
func (a *Arena) Battles() []Snapshot {
	out := make([]Snapshot, 0, len(a.battles))
	for _, b := range a.battles {
		out = append(out, b.snapshot())
	}
	slices.SortFunc(out, func(x, y Snapshot) int {
		return x.CreatedAt.Compare(y.CreatedAt)
	})
	return out
}

// Battle returns a snapshot of one battle.
func (a *Arena) Battle(id uuid.UUID) (Snapshot, bool) {
	b, ok := a.battles[id]
	if !ok {
		return Snapshot{}, false
	}
	return b.snapshot(), true
}

// Engaged returns the active battle p is in.
func (a *Arena) Engaged(p ProviderID) (uuid.UUID, bool) {
	id, ok := a.busy[p]
	return id, ok
}

// Witness implements BattleManager. It intercepts invalid challenges,
// actions and forfeits between providers, and outcomes announced by
// anyone outside the battle.
func (a *Arena) Witness(msg Message) bool {
	switch m := msg.(type) {
	case ChallengeRequest:
		opponent := m.Recipient
		if reason := a.challengeProblem(m.Sender, opponent); reason != "" {
			return a.reject(m, m.BattleID, reason)
		}
		a.openPending(m, opponent)
	case ChooseAction:
		if reason := a.participantProblem(m.BattleID, m.Sender); reason != "" {
			return a.reject(m, m.BattleID, reason)
		}
	case Forfeit:
		if reason := a.participantProblem(m.BattleID, m.Sender); reason != "" {
			return a.reject(m, m.BattleID, reason)
		}
	case BattleStart:
		return a.checkAnnouncer(m, m.BattleID)
	case TurnResult:
		return a.checkAnnouncer(m, m.BattleID)
	case BattleEnd:
		return a.checkAnnouncer(m, m.BattleID)
	}
	return true
}

// Reply implements BattleManager.
func (a *Arena) Reply(msg Message) {
	switch m := msg.(type) {
	case ChallengeRequest:
		a.replyChallenge(m)
	case ChallengeAnswer:
		a.replyAnswer(m)
	case ChooseAction:
		a.replyAction(m)
	case Forfeit:
		if reason := a.participantProblem(m.BattleID, m.Sender); reason != "" {
			a.reject(m, m.BattleID, reason)
			return
		}
		b := a.battles[m.BattleID]
		a.end(b, opponentOf(b.Participants, m.Sender), "forfeit")
	case Ping:
		a.out.ReturnMessage(m, Pong{Nonce: m.Nonce})
	case Rejected:
		a.logger.Debug().Str("battle", m.BattleID.String()).Str("reason", m.Reason).Msg("rejection returned to manager")
	default:
		a.logger.Debug().Str("type", msg.TypeName()).Stringer("sender", msg.Routing().Sender).Msg("ignoring message")
	}
}

func (a *Arena) replyChallenge(m ChallengeRequest) {
	if reason := a.challengeProblem(m.Sender, m.Opponent); reason != "" {
		a.reject(m, m.BattleID, reason)
		return
	}
	if m.BattleID == uuid.Nil {
		m.BattleID = uuid.New()
	}
	if m.Format == "" {
		m.Format = a.format
	}
	a.openPending(m, m.Opponent)
	a.out.Send(m, m.Opponent)
}

func (a *Arena) replyAnswer(m ChallengeAnswer) {
	b, ok := a.battles[m.BattleID]
	if !ok || b.State != StatePending {
		a.reject(m, m.BattleID, "no pending challenge")
		return
	}
	challenger, opponent := b.Participants[0], b.Participants[1]
	if m.Sender != opponent {
		a.reject(m, m.BattleID, "only the challenged provider may answer")
		return
	}

	if !m.Accepted {
		delete(a.battles, b.ID)
		a.logger.Info().Str("battle", b.ID.String()).Str("reason", m.Reason).Msg("challenge declined")
		a.out.Send(m, challenger)
		return
	}

	if reason := a.challengeProblem(challenger, opponent); reason != "" {
		delete(a.battles, b.ID)
		a.reject(m, m.BattleID, reason)
		return
	}

	b.State = StateActive
	b.actions = make(map[ProviderID]ChooseAction)
	for _, p := range b.Participants {
		a.busy[p] = b.ID
	}
	a.logger.Info().
		Str("battle", b.ID.String()).
		Stringer("challenger", challenger).
		Stringer("opponent", opponent).
		Msg("battle started")
	a.emitBattle(events.EventBattleStarted, b)

	a.out.Intersend(BattleStart{
		BattleID:     b.ID,
		Format:       b.Format,
		Participants: slices.Clone(b.Participants),
	}, challenger, opponent)
}

func (a *Arena) replyAction(m ChooseAction) {
	if reason := a.participantProblem(m.BattleID, m.Sender); reason != "" {
		a.reject(m, m.BattleID, reason)
		return
	}
	b := a.battles[m.BattleID]
	if m.Turn != b.Turn {
		a.reject(m, m.BattleID, fmt.Sprintf("expected turn %d", b.Turn))
		return
	}
	if _, dup := b.actions[m.Sender]; dup {
		a.reject(m, m.BattleID, "action already chosen")
		return
	}
	b.actions[m.Sender] = m
	if len(b.actions) < len(b.Participants) {
		return
	}

	lines, winner, done := a.sim.ResolveTurn(b.snapshot(), sortedActions(b.actions))
	turn := b.Turn
	b.Turn++
	b.actions = make(map[ProviderID]ChooseAction)

	// Conclude before announcing so replies to the result see the
	// battle as ended.
	concluded := done && a.conclude(b, winner, "knockout")
	for _, p := range slices.Clone(b.Participants) {
		a.out.Send(TurnResult{BattleID: b.ID, Turn: turn, Events: slices.Clone(lines)}, p)
	}
	if concluded {
		a.announceEnd(b)
	}
}

func (a *Arena) end(b *battle, winner ProviderID, reason string) {
	if a.conclude(b, winner, reason) {
		a.announceEnd(b)
	}
}

// conclude marks b ended and releases its participants. It reports
// false if b had already ended.
func (a *Arena) conclude(b *battle, winner ProviderID, reason string) bool {
	if b.State == StateEnded {
		return false
	}
	b.State = StateEnded
	b.Winner = winner
	b.Reason = reason
	b.EndedAt = time.Now()
	b.actions = nil
	for _, p := range b.Participants {
		if a.busy[p] == b.ID {
			delete(a.busy, p)
		}
	}
	a.sim.Forget(b.ID)
	a.retire(b.ID)

	a.logger.Info().
		Str("battle", b.ID.String()).
		Stringer("winner", winner).
		Str("reason", reason).
		Uint16("turns", b.Turn).
		Msg("battle ended")
	a.emitBattle(events.EventBattleEnded, b)
	return true
}

func (a *Arena) announceEnd(b *battle) {
	for _, p := range slices.Clone(b.Participants) {
		a.out.Send(BattleEnd{BattleID: b.ID, Winner: b.Winner, Reason: b.Reason}, p)
	}
}

// retire keeps at most history ended battles.
func (a *Arena) retire(id uuid.UUID) {
	a.ended = append(a.ended, id)
	for len(a.ended) > a.history {
		delete(a.battles, a.ended[0])
		a.ended = a.ended[1:]
	}
}

func (a *Arena) openPending(m ChallengeRequest, opponent ProviderID) {
	if m.BattleID == uuid.Nil {
		return
	}
	if _, exists := a.battles[m.BattleID]; exists {
		return
	}
	format := m.Format
	if format == "" {
		format = a.format
	}
	a.battles[m.BattleID] = &battle{Snapshot: Snapshot{
		ID:           m.BattleID,
		Format:       format,
		TeamSize:     m.TeamSize,
		Participants: []ProviderID{m.Sender, opponent},
		State:        StatePending,
		CreatedAt:    time.Now(),
	}}
}

func (a *Arena) challengeProblem(challenger, opponent ProviderID) string {
	switch {
	case challenger == Manager || opponent == Manager:
		return "the manager cannot battle"
	case challenger == opponent:
		return "cannot challenge yourself"
	}
	if _, busy := a.busy[challenger]; busy {
		return fmt.Sprintf("%s is already in a battle", challenger)
	}
	if _, busy := a.busy[opponent]; busy {
		return fmt.Sprintf("%s is already in a battle", opponent)
	}
	return ""
}

func (a *Arena) participantProblem(id uuid.UUID, sender ProviderID) string {
	b, ok := a.battles[id]
	if !ok || b.State != StateActive {
		return "unknown battle"
	}
	if !b.Participant(sender) {
		return "not a participant"
	}
	return ""
}

// checkAnnouncer lets battle announcements through only from the manager
// or a participant of a known battle.
func (a *Arena) checkAnnouncer(msg Message, id uuid.UUID) bool {
	sender := msg.Routing().Sender
	if sender == Manager {
		return true
	}
	if b, ok := a.battles[id]; ok && b.Participant(sender) {
		return true
	}
	return a.reject(msg, id, "only the manager announces battles")
}

func (a *Arena) reject(msg Message, id uuid.UUID, reason string) bool {
	route := msg.Routing()
	a.logger.Info().
		Str("type", msg.TypeName()).
		Stringer("sender", route.Sender).
		Stringer("recipient", route.Recipient).
		Str("reason", reason).
		Msg("rejecting battle message")
	return a.out.ReturnMessage(msg, Rejected{BattleID: id, Reason: reason})
}

func (a *Arena) emitBattle(t events.EventType, b *battle) {
	if a.bus == nil {
		return
	}
	participants := make([]string, len(b.Participants))
	for i, p := range b.Participants {
		participants[i] = p.String()
	}
	payload := events.BattlePayload{
		BattleID:     b.ID.String(),
		Format:       b.Format,
		Participants: participants,
		Reason:       b.Reason,
		Turns:        int(b.Turn),
	}
	if b.State == StateEnded {
		payload.Winner = b.Winner.String()
	}
	a.bus.Emit(context.Background(), events.Event{Type: t, Source: "arena", Payload: payload})
}
