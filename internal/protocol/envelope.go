package protocol

import (
	"fmt"
	"strings"
)

// Flags is the envelope flag bit-field.
type Flags uint8

// Has reports whether every bit in f2 is set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// String returns a readable flag list for logs.
func (f Flags) String() string {
	var parts []string
	if f.Has(FlagForwarded) {
		parts = append(parts, "forwarded")
	}
	if f.Has(FlagExpectsAckSide) {
		parts = append(parts, "expects_ack_side")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Layout selects the forwarded header an envelope carries. Clients write
// explicit to_client / ignore_client filters; the server re-emitting a
// client's forward writes the origin peer index instead.
type Layout uint8

const (
	ClientComposed Layout = iota
	ServerComposed
)

// Envelope is a framed outbound or inbound message.
//
// Wire format:
//
//	[net_id:1|2][flags:1]
//	if forwarded and client-composed: [to_client:1][ignore_client:1]
//	if forwarded and server-composed: [origin:1]
//	[payload...]
type Envelope struct {
	ID           NetID
	Flags        Flags
	ToClient     uint8
	IgnoreClient uint8
	Origin       uint8
	Payload      []byte
}

// Forwarded reports whether the forwarded flag is set.
func (e Envelope) Forwarded() bool {
	return e.Flags.Has(FlagForwarded)
}

// Encode writes the envelope using the registry's NetID width.
func (r *Registry) Encode(e Envelope, layout Layout) []byte {
	w := NewWriter()
	r.WriteID(w, e.ID)
	w.WriteUint8(uint8(e.Flags))
	if e.Forwarded() {
		switch layout {
		case ClientComposed:
			w.WriteUint8(e.ToClient)
			w.WriteUint8(e.IgnoreClient)
		case ServerComposed:
			w.WriteUint8(e.Origin)
		}
	}
	w.WriteBytes(e.Payload)
	return w.Bytes()
}

// Decode parses an envelope header and slices off the payload. It does
// not check the NetID against the registry.
func (r *Registry) Decode(data []byte, layout Layout) (Envelope, error) {
	rd := NewReader(data)
	e := Envelope{
		ToClient:     NoClient,
		IgnoreClient: NoClient,
		Origin:       ServerOrigin,
	}

	e.ID = r.ReadID(rd)
	e.Flags = Flags(rd.ReadUint8())
	if err := rd.Err(); err != nil {
		return Envelope{}, fmt.Errorf("%w: truncated header: %v", ErrMalformedEnvelope, err)
	}
	if e.Flags&^flagsKnown != 0 {
		return Envelope{}, fmt.Errorf("%w: reserved flag bits set (0x%02X)", ErrMalformedEnvelope, uint8(e.Flags))
	}

	if e.Forwarded() {
		switch layout {
		case ClientComposed:
			e.ToClient = rd.ReadUint8()
			e.IgnoreClient = rd.ReadUint8()
		case ServerComposed:
			e.Origin = rd.ReadUint8()
		}
		if err := rd.Err(); err != nil {
			return Envelope{}, fmt.Errorf("%w: truncated forward header: %v", ErrMalformedEnvelope, err)
		}
	}

	e.Payload = rd.Rest()
	return e, nil
}

// SenderInfo describes where an inbound message came from. It only lives
// for the duration of one receive call.
type SenderInfo struct {
	// Origin is the peer that produced the message, or ServerOrigin.
	Origin         uint8
	Forwarded      bool
	ExpectsAckSide bool
	ToClient       uint8
	IgnoreClient   uint8
}

// FromServer reports whether the message was produced by the server.
func (s SenderInfo) FromServer() bool {
	return s.Origin == ServerOrigin
}
