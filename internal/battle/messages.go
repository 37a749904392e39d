package battle

import (
	"fmt"

	"github.com/google/uuid"
)

// Route carries the sender and recipient of a battle message. Every
// message variant embeds it.
type Route struct {
	Sender    ProviderID
	Recipient ProviderID
}

// Routing returns the route.
func (r Route) Routing() Route {
	return r
}

// String formats the route as "sender -> recipient".
func (r Route) String() string {
	return fmt.Sprintf("%s -> %s", r.Sender, r.Recipient)
}

// Message is the closed set of battle messages. New variants need a name
// in MessageTypes and a case in Codec.
type Message interface {
	Routing() Route
	TypeName() string
	withRoute(Route) Message
}

// Registered message type names.
const (
	NameChallengeRequest = "battle.ChallengeRequest"
	NameChallengeAnswer  = "battle.ChallengeAnswer"
	NameBattleStart      = "battle.BattleStart"
	NameChooseAction     = "battle.ChooseAction"
	NameTurnResult       = "battle.TurnResult"
	NameForfeit          = "battle.Forfeit"
	NameBattleEnd        = "battle.BattleEnd"
	NameRejected         = "battle.Rejected"
	NamePing             = "battle.Ping"
	NamePong             = "battle.Pong"
)

// MessageTypes returns every registered battle message name.
func MessageTypes() []string {
	return []string{
		NameChallengeRequest,
		NameChallengeAnswer,
		NameBattleStart,
		NameChooseAction,
		NameTurnResult,
		NameForfeit,
		NameBattleEnd,
		NameRejected,
		NamePing,
		NamePong,
	}
}

// WithSender returns a copy of m with its sender replaced.
func WithSender(m Message, sender ProviderID) Message {
	r := m.Routing()
	r.Sender = sender
	return m.withRoute(r)
}

// WithRecipient returns a copy of m with its recipient replaced.
func WithRecipient(m Message, recipient ProviderID) Message {
	r := m.Routing()
	r.Recipient = recipient
	return m.withRoute(r)
}

// ActionKind is a move chosen for a turn.
type ActionKind uint8

const (
	ActionAttack ActionKind = iota
	ActionGuard
	ActionItem
	ActionSwitch
)

// String returns the action name.
func (a ActionKind) String() string {
	switch a {
	case ActionAttack:
		return "attack"
	case ActionGuard:
		return "guard"
	case ActionItem:
		return "item"
	case ActionSwitch:
		return "switch"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// ParseAction parses an action name.
func ParseAction(s string) (ActionKind, error) {
	for a := ActionAttack; a <= ActionSwitch; a++ {
		if a.String() == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// ChallengeRequest asks Opponent to battle the sender.
type ChallengeRequest struct {
	Route
	BattleID uuid.UUID
	Opponent ProviderID
	Format   string
	TeamSize uint8
}

func (ChallengeRequest) TypeName() string          { return NameChallengeRequest }
func (m ChallengeRequest) withRoute(r Route) Message { m.Route = r; return m }

// ChallengeAnswer accepts or declines a pending challenge.
type ChallengeAnswer struct {
	Route
	BattleID uuid.UUID
	Accepted bool
	Reason   string
}

func (ChallengeAnswer) TypeName() string          { return NameChallengeAnswer }
func (m ChallengeAnswer) withRoute(r Route) Message { m.Route = r; return m }

// BattleStart announces an accepted battle.
type BattleStart struct {
	Route
	BattleID     uuid.UUID
	Format       string
	Participants []ProviderID
}

func (BattleStart) TypeName() string          { return NameBattleStart }
func (m BattleStart) withRoute(r Route) Message { m.Route = r; return m }

// ChooseAction submits a participant's move for a turn.
type ChooseAction struct {
	Route
	BattleID uuid.UUID
	Turn     uint16
	Action   ActionKind
	Slot     uint8
	Target   uint8
}

func (ChooseAction) TypeName() string          { return NameChooseAction }
func (m ChooseAction) withRoute(r Route) Message { m.Route = r; return m }

// TurnResult reports what happened in a resolved turn.
type TurnResult struct {
	Route
	BattleID uuid.UUID
	Turn     uint16
	Events   []string
}

func (TurnResult) TypeName() string          { return NameTurnResult }
func (m TurnResult) withRoute(r Route) Message { m.Route = r; return m }

// Forfeit concedes a battle.
type Forfeit struct {
	Route
	BattleID uuid.UUID
}

func (Forfeit) TypeName() string          { return NameForfeit }
func (m Forfeit) withRoute(r Route) Message { m.Route = r; return m }

// BattleEnd announces the outcome of a battle.
type BattleEnd struct {
	Route
	BattleID uuid.UUID
	Winner   ProviderID
	Reason   string
}

func (BattleEnd) TypeName() string          { return NameBattleEnd }
func (m BattleEnd) withRoute(r Route) Message { m.Route = r; return m }

// Rejected bounces an intercepted or invalid message back to its sender.
type Rejected struct {
	Route
	BattleID uuid.UUID
	Reason   string
}

func (Rejected) TypeName() string          { return NameRejected }
func (m Rejected) withRoute(r Route) Message { m.Route = r; return m }

// Ping is a liveness probe answered with Pong.
type Ping struct {
	Route
	Nonce uint64
}

func (Ping) TypeName() string          { return NamePing }
func (m Ping) withRoute(r Route) Message { m.Route = r; return m }

// Pong answers a Ping with the same nonce.
type Pong struct {
	Route
	Nonce uint64
}

func (Pong) TypeName() string          { return NamePong }
func (m Pong) withRoute(r Route) Message { m.Route = r; return m }

// BattleOf returns the battle a message refers to, if any.
func BattleOf(m Message) (uuid.UUID, bool) {
	switch m := m.(type) {
	case ChallengeRequest:
		return m.BattleID, true
	case ChallengeAnswer:
		return m.BattleID, true
	case BattleStart:
		return m.BattleID, true
	case ChooseAction:
		return m.BattleID, true
	case TurnResult:
		return m.BattleID, true
	case Forfeit:
		return m.BattleID, true
	case BattleEnd:
		return m.BattleID, true
	case Rejected:
		return m.BattleID, true
	default:
		return uuid.Nil, false
	}
}
