package protocol

import "fmt"

// LAN discovery datagram markers.
const (
	DiscoveryProbe byte = 0xBB // client -> server: [0xBB]
	DiscoveryReply byte = 0xBC // server -> client: announcement
)

// Announcement is a server's answer to a discovery probe.
type Announcement struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	Version     byte   `json:"version"`
	Fingerprint uint64 `json:"fingerprint"`
	Peers       uint8  `json:"peers"`
	MaxPeers    uint8  `json:"max_peers"`
}

// BuildProbe creates a discovery probe datagram.
func BuildProbe() []byte {
	return []byte{DiscoveryProbe}
}

// IsProbe reports whether data starts with the probe marker.
func IsProbe(data []byte) bool {
	return len(data) >= 1 && data[0] == DiscoveryProbe
}

// BuildAnnouncement encodes a discovery reply.
// Format: [0xBC][version:1][fingerprint:8][peers:1][max_peers:1][name:str][address:str]
func BuildAnnouncement(a Announcement) []byte {
	return NewWriter().
		WriteUint8(DiscoveryReply).
		WriteUint8(a.Version).
		WriteUint64(a.Fingerprint).
		WriteUint8(a.Peers).
		WriteUint8(a.MaxPeers).
		WriteString(a.Name).
		WriteString(a.Address).
		Bytes()
}

// ParseAnnouncement decodes a discovery reply.
func ParseAnnouncement(data []byte) (Announcement, error) {
	r := NewReader(data)
	if marker := r.ReadUint8(); marker != DiscoveryReply {
		return Announcement{}, fmt.Errorf("unexpected discovery marker 0x%02X", marker)
	}
	a := Announcement{
		Version:     r.ReadUint8(),
		Fingerprint: r.ReadUint64(),
		Peers:       r.ReadUint8(),
		MaxPeers:    r.ReadUint8(),
		Name:        r.ReadString(),
		Address:     r.ReadString(),
	}
	if err := r.Err(); err != nil {
		return Announcement{}, fmt.Errorf("failed to parse announcement: %w", err)
	}
	return a, nil
}
