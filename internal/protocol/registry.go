package protocol

import (
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// NetID is the wire identifier of a registered message type.
type NetID uint16

// Descriptor describes one registered message type.
type Descriptor struct {
	Name string `json:"name"`
	ID   NetID  `json:"net_id"`
}

// Registry maps message type names to NetIDs.
//
// NetIDs are the ranks of the names in lexicographic order, so two
// processes that register the same set of names agree on every NetID no
// matter in which order the names were registered. The complete set must
// be registered at startup and the registry sealed before the first
// packet is encoded or decoded.
type Registry struct {
	names  []string // sorted
	ids    map[string]NetID
	sealed bool
}

// NewRegistry creates a registry holding names. It does not seal it.
func NewRegistry(names ...string) (*Registry, error) {
	r := &Registry{ids: make(map[string]NetID)}
	for _, name := range names {
		if err := r.Register(name); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a message type name. Registering a name twice is a no-op.
func (r *Registry) Register(name string) error {
	if r.sealed {
		return fmt.Errorf("failed to register %q: %w", name, ErrRegistrySealed)
	}
	if name == "" {
		return fmt.Errorf("failed to register message type: empty name")
	}

	pos, found := slices.BinarySearch(r.names, name)
	if found {
		return nil
	}
	if len(r.names) >= MaxMessageTypes {
		return fmt.Errorf("failed to register %q: %w (max %d)", name, ErrTooManyTypes, MaxMessageTypes)
	}

	r.names = slices.Insert(r.names, pos, name)
	if r.ids == nil {
		r.ids = make(map[string]NetID, len(r.names))
	}
	// Every name at or after the insertion point shifts by one.
	for i := pos; i < len(r.names); i++ {
		r.ids[r.names[i]] = NetID(i)
	}
	return nil
}

// Seal freezes the registry. Later Register calls fail.
func (r *Registry) Seal() {
	r.sealed = true
}

// Sealed reports whether the registry has been sealed.
func (r *Registry) Sealed() bool {
	return r.sealed
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	return len(r.names)
}

// ID returns the NetID assigned to name.
func (r *Registry) ID(name string) (NetID, bool) {
	id, ok := r.ids[name]
	return id, ok
}

// Lookup returns the descriptor for id.
func (r *Registry) Lookup(id NetID) (Descriptor, error) {
	if int(id) >= len(r.names) {
		return Descriptor{}, fmt.Errorf("%w: net id %d (registered %d)", ErrUnknownMessageType, id, len(r.names))
	}
	return Descriptor{Name: r.names[id], ID: id}, nil
}

// Descriptors returns every descriptor in NetID order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(r.names))
	for i, name := range r.names {
		out[i] = Descriptor{Name: name, ID: NetID(i)}
	}
	return out
}

// Width returns the number of bytes used to encode a NetID: one while the
// registry holds at most 256 types, two otherwise.
func (r *Registry) Width() int {
	if len(r.names) <= 256 {
		return 1
	}
	return 2
}

// WriteID writes id using the registry width.
func (r *Registry) WriteID(w *Writer, id NetID) {
	if r.Width() == 1 {
		w.WriteUint8(uint8(id))
		return
	}
	w.WriteUint16(uint16(id))
}

// ReadID reads a NetID using the registry width.
func (r *Registry) ReadID(rd *Reader) NetID {
	if r.Width() == 1 {
		return NetID(rd.ReadUint8())
	}
	return NetID(rd.ReadUint16())
}

// Fingerprint hashes the ordered name list. Peers with different
// fingerprints would decode each other's packets as the wrong types.
func (r *Registry) Fingerprint() uint64 {
	d := xxhash.New()
	for _, name := range r.names {
		d.WriteString(name)
		d.Write([]byte{0})
	}
	return d.Sum64()
}
