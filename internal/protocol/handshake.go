package protocol

import "fmt"

// Hello is the first frame a client sends after connecting.
type Hello struct {
	Version     byte
	Fingerprint uint64
	TypeCount   uint16
}

// BuildHello creates a hello frame describing reg.
// Format: [0xB7][version:1][fingerprint:8][type_count:2]
func BuildHello(reg *Registry) []byte {
	w := NewWriter()
	w.WriteUint8(HandshakeHello)
	w.WriteUint8(ProtocolVersion)
	w.WriteUint64(reg.Fingerprint())
	w.WriteUint16(uint16(reg.Len()))
	return w.Bytes()
}

// ParseHello decodes a hello frame.
func ParseHello(data []byte) (Hello, error) {
	r := NewReader(data)
	if marker := r.ReadUint8(); marker != HandshakeHello {
		return Hello{}, fmt.Errorf("%w: expected hello, got marker 0x%02X", ErrHandshake, marker)
	}
	h := Hello{
		Version:     r.ReadUint8(),
		Fingerprint: r.ReadUint64(),
		TypeCount:   r.ReadUint16(),
	}
	if err := r.Err(); err != nil {
		return Hello{}, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	return h, nil
}

// Check verifies that a peer's hello matches reg.
func (h Hello) Check(reg *Registry) error {
	if h.Version != ProtocolVersion {
		return fmt.Errorf("%w: protocol version %d, want %d", ErrHandshake, h.Version, ProtocolVersion)
	}
	if int(h.TypeCount) != reg.Len()%MaxMessageTypes || h.Fingerprint != reg.Fingerprint() {
		return fmt.Errorf("%w: message registry mismatch (peer %d types %016x, local %d types %016x)",
			ErrHandshake, h.TypeCount, h.Fingerprint, reg.Len(), reg.Fingerprint())
	}
	return nil
}

// BuildWelcome creates the server's acceptance frame.
// Format: [0xB8][peer_index:1]
func BuildWelcome(index uint8) []byte {
	return NewWriter().WriteUint8(HandshakeWelcome).WriteUint8(index).Bytes()
}

// BuildReject creates the server's refusal frame.
// Format: [0xB9][reason:str]
func BuildReject(reason string) []byte {
	return NewWriter().WriteUint8(HandshakeReject).WriteString(reason).Bytes()
}

// ParseWelcome decodes the server's answer to a hello. A reject frame is
// returned as an error carrying the server's reason.
func ParseWelcome(data []byte) (uint8, error) {
	r := NewReader(data)
	switch marker := r.ReadUint8(); marker {
	case HandshakeWelcome:
		idx := r.ReadUint8()
		if err := r.Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrHandshake, err)
		}
		return idx, nil
	case HandshakeReject:
		reason := r.ReadString()
		return 0, fmt.Errorf("%w: rejected by server: %s", ErrHandshake, reason)
	default:
		return 0, fmt.Errorf("%w: unexpected marker 0x%02X", ErrHandshake, marker)
	}
}

// Heartbeat returns a keepalive frame.
func Heartbeat() []byte {
	return []byte{HeartbeatFrame}
}

// IsHeartbeat reports whether data is a keepalive frame.
func IsHeartbeat(data []byte) bool {
	return len(data) == 1 && data[0] == HeartbeatFrame
}
