package battle

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// Simulator resolves one turn of a battle. Implementations are adapters
// to a battle engine; the arena only moves messages.
type Simulator interface {
	ResolveTurn(b Snapshot, actions []ChooseAction) (events []string, winner ProviderID, done bool)
	Forget(id uuid.UUID)
}

// Hit point model used by FirstFaintSimulator.
const (
	startingHP  = 100
	attackPower = 25
	healAmount  = 15
)

// FirstFaintSimulator is a minimal built-in simulator. Each participant
// starts with 100 HP; attacks deal 25 damage (halved by guard), items
// heal 15, switching does nothing. The first participant at 0 HP loses.
type FirstFaintSimulator struct {
	hp map[uuid.UUID]map[ProviderID]int
}

// NewFirstFaintSimulator creates a FirstFaintSimulator.
func NewFirstFaintSimulator() *FirstFaintSimulator {
	return &FirstFaintSimulator{hp: make(map[uuid.UUID]map[ProviderID]int)}
}

// ResolveTurn implements Simulator.
func (s *FirstFaintSimulator) ResolveTurn(b Snapshot, actions []ChooseAction) ([]string, ProviderID, bool) {
	hp, ok := s.hp[b.ID]
	if !ok {
		hp = make(map[ProviderID]int, len(b.Participants))
		for _, p := range b.Participants {
			hp[p] = startingHP
		}
		s.hp[b.ID] = hp
	}

	guarding := make(map[ProviderID]bool)
	for _, a := range actions {
		if a.Action == ActionGuard {
			guarding[a.Sender] = true
		}
	}

	var lines []string
	for _, a := range actions {
		switch a.Action {
		case ActionAttack:
			target := opponentOf(b.Participants, a.Sender)
			dmg := attackPower
			if guarding[target] {
				dmg /= 2
			}
			hp[target] = max(hp[target]-dmg, 0)
			lines = append(lines, fmt.Sprintf("%s attacks %s for %d", a.Sender, target, dmg))
		case ActionGuard:
			lines = append(lines, fmt.Sprintf("%s guards", a.Sender))
		case ActionItem:
			hp[a.Sender] = min(hp[a.Sender]+healAmount, startingHP)
			lines = append(lines, fmt.Sprintf("%s heals to %d", a.Sender, hp[a.Sender]))
		case ActionSwitch:
			lines = append(lines, fmt.Sprintf("%s switches to slot %d", a.Sender, a.Slot))
		}
	}

	// Participants order makes simultaneous faints deterministic.
	for _, p := range b.Participants {
		if hp[p] == 0 {
			lines = append(lines, fmt.Sprintf("%s faints", p))
			return lines, opponentOf(b.Participants, p), true
		}
	}
	return lines, Manager, false
}

// Forget drops state kept for a finished battle.
func (s *FirstFaintSimulator) Forget(id uuid.UUID) {
	delete(s.hp, id)
}

// HP returns the current hit points of p in battle id.
func (s *FirstFaintSimulator) HP(id uuid.UUID, p ProviderID) (int, bool) {
	hp, ok := s.hp[id][p]
	return hp, ok
}

func opponentOf(participants []ProviderID, p ProviderID) ProviderID {
	for _, other := range participants {
		if other != p {
			return other
		}
	}
	return Manager
}

func sortedActions(actions map[ProviderID]ChooseAction) []ChooseAction {
	out := make([]ChooseAction, 0, len(actions))
	for _, a := range actions {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b ChooseAction) int {
		return cmp.Compare(a.Sender, b.Sender)
	})
	return out
}
