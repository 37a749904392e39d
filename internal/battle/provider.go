package battle

import (
	"slices"
	"sync"
)

// Provider is a battle participant: a player, an NPC or an AI.
type Provider interface {
	ID() ProviderID
	OwningSide() OwningSide

	// IsLocal reports whether this process runs the provider's logic.
	IsLocal() bool

	// Witness observes a message addressed to someone else, without
	// authoritative effects.
	Witness(msg Message)

	// Reply handles a message addressed to this provider, with
	// authoritative effects.
	Reply(msg Message)
}

// PeerBound is implemented by client-owned providers that know the peer
// index of the client running them. The server uses it to reject
// messages that claim a provider owned by another peer.
type PeerBound interface {
	Peer() uint8
}

// Directory resolves a ProviderID to its provider.
type Directory interface {
	FindProvider(id ProviderID) (Provider, bool)
}

// ProviderTable is a Directory backed by a map. Routing reads it on the
// host loop while the API reads snapshots from other goroutines.
type ProviderTable struct {
	mu        sync.RWMutex
	providers map[ProviderID]Provider
}

// NewProviderTable creates a table holding the given providers.
func NewProviderTable(providers ...Provider) *ProviderTable {
	t := &ProviderTable{providers: make(map[ProviderID]Provider)}
	for _, p := range providers {
		t.Add(p)
	}
	return t
}

// Add registers p, replacing any provider with the same id. The manager
// id cannot be registered.
func (t *ProviderTable) Add(p Provider) bool {
	if p == nil || p.ID() == Manager {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.providers[p.ID()] = p
	return true
}

// Remove unregisters the provider with the given id.
func (t *ProviderTable) Remove(id ProviderID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.providers, id)
}

// FindProvider implements Directory.
func (t *ProviderTable) FindProvider(id ProviderID) (Provider, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.providers[id]
	return p, ok
}

// Len returns the number of providers.
func (t *ProviderTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.providers)
}

// All returns every provider ordered by id.
func (t *ProviderTable) All() []Provider {
	t.mu.RLock()
	out := make([]Provider, 0, len(t.providers))
	for _, p := range t.providers {
		out = append(out, p)
	}
	t.mu.RUnlock()

	slices.SortFunc(out, func(a, b Provider) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		default:
			return 0
		}
	})
	return out
}
