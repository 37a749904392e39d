package battle

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/critterbox/battlewire/internal/protocol"
)

// Codec encodes battle messages for protocol.Dispatcher. Every payload
// starts with the route (sender, recipient) followed by the variant's
// fields in declaration order.
type Codec struct{}

var _ protocol.Codec[Message] = Codec{}

// NewMessageRegistry returns a registry holding every battle message type.
func NewMessageRegistry() (*protocol.Registry, error) {
	return protocol.NewRegistry(MessageTypes()...)
}

// TypeName returns the registered name of m.
func (Codec) TypeName(m Message) string {
	return m.TypeName()
}

// Encode writes m's payload.
func (Codec) Encode(w *protocol.Writer, m Message) error {
	route := m.Routing()
	w.WriteUint32(uint32(route.Sender)).WriteUint32(uint32(route.Recipient))

	switch m := m.(type) {
	case ChallengeRequest:
		writeBattleID(w, m.BattleID)
		w.WriteUint32(uint32(m.Opponent)).WriteString(m.Format).WriteUint8(m.TeamSize)
	case ChallengeAnswer:
		writeBattleID(w, m.BattleID)
		w.WriteBool(m.Accepted).WriteString(m.Reason)
	case BattleStart:
		writeBattleID(w, m.BattleID)
		w.WriteString(m.Format)
		if len(m.Participants) > 255 {
			return fmt.Errorf("battle start has %d participants", len(m.Participants))
		}
		w.WriteUint8(uint8(len(m.Participants)))
		for _, p := range m.Participants {
			w.WriteUint32(uint32(p))
		}
	case ChooseAction:
		writeBattleID(w, m.BattleID)
		w.WriteUint16(m.Turn).WriteUint8(uint8(m.Action)).WriteUint8(m.Slot).WriteUint8(m.Target)
	case TurnResult:
		writeBattleID(w, m.BattleID)
		w.WriteUint16(m.Turn)
		if len(m.Events) > 0xFFFF {
			return fmt.Errorf("turn result has %d events", len(m.Events))
		}
		w.WriteUint16(uint16(len(m.Events)))
		for _, e := range m.Events {
			w.WriteString(e)
		}
	case Forfeit:
		writeBattleID(w, m.BattleID)
	case BattleEnd:
		writeBattleID(w, m.BattleID)
		w.WriteUint32(uint32(m.Winner)).WriteString(m.Reason)
	case Rejected:
		writeBattleID(w, m.BattleID)
		w.WriteString(m.Reason)
	case Ping:
		w.WriteUint64(m.Nonce)
	case Pong:
		w.WriteUint64(m.Nonce)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownVariant, m)
	}
	return w.Err()
}

// Decode reads the payload of the message registered as name. Cursor
// errors are left on r for the dispatcher to report.
func (Codec) Decode(name string, r *protocol.Reader) (Message, error) {
	route := Route{
		Sender:    ProviderID(r.ReadUint32()),
		Recipient: ProviderID(r.ReadUint32()),
	}

	switch name {
	case NameChallengeRequest:
		return ChallengeRequest{
			Route:    route,
			BattleID: readBattleID(r),
			Opponent: ProviderID(r.ReadUint32()),
			Format:   r.ReadString(),
			TeamSize: r.ReadUint8(),
		}, nil
	case NameChallengeAnswer:
		return ChallengeAnswer{
			Route:    route,
			BattleID: readBattleID(r),
			Accepted: r.ReadBool(),
			Reason:   r.ReadString(),
		}, nil
	case NameBattleStart:
		m := BattleStart{Route: route, BattleID: readBattleID(r), Format: r.ReadString()}
		n := int(r.ReadUint8())
		if n > 0 && r.Err() == nil {
			m.Participants = make([]ProviderID, 0, n)
			for i := 0; i < n; i++ {
				m.Participants = append(m.Participants, ProviderID(r.ReadUint32()))
			}
		}
		return m, nil
	case NameChooseAction:
		return ChooseAction{
			Route:    route,
			BattleID: readBattleID(r),
			Turn:     r.ReadUint16(),
			Action:   ActionKind(r.ReadUint8()),
			Slot:     r.ReadUint8(),
			Target:   r.ReadUint8(),
		}, nil
	case NameTurnResult:
		m := TurnResult{Route: route, BattleID: readBattleID(r), Turn: r.ReadUint16()}
		n := int(r.ReadUint16())
		if n > 0 && r.Err() == nil {
			m.Events = make([]string, 0, min(n, r.Remaining()/2))
			for i := 0; i < n && r.Err() == nil; i++ {
				m.Events = append(m.Events, r.ReadString())
			}
		}
		return m, nil
	case NameForfeit:
		return Forfeit{Route: route, BattleID: readBattleID(r)}, nil
	case NameBattleEnd:
		return BattleEnd{
			Route:    route,
			BattleID: readBattleID(r),
			Winner:   ProviderID(r.ReadUint32()),
			Reason:   r.ReadString(),
		}, nil
	case NameRejected:
		return Rejected{Route: route, BattleID: readBattleID(r), Reason: r.ReadString()}, nil
	case NamePing:
		return Ping{Route: route, Nonce: r.ReadUint64()}, nil
	case NamePong:
		return Pong{Route: route, Nonce: r.ReadUint64()}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownVariant, name)
	}
}

func writeBattleID(w *protocol.Writer, id uuid.UUID) {
	w.WriteBytes(id[:])
}

func readBattleID(r *protocol.Reader) uuid.UUID {
	var id uuid.UUID
	copy(id[:], r.ReadBytes(len(id)))
	return id
}
