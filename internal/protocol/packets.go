// Package protocol implements the generic packet layer shared by every
// participant: the message type registry, the binary cursor codec, the
// dispatch envelope, and the length-prefixed framing used on stream
// transports. All multi-byte values are little-endian.
package protocol

// Reserved peer indexes.
const (
	// NoClient marks an unset to_client / ignore_client filter.
	NoClient uint8 = 255

	// ServerOrigin is the origin index of packets produced by the
	// authoritative server itself.
	ServerOrigin uint8 = 255

	// MaxPeers is the number of addressable peer indexes (0..254).
	MaxPeers = 255
)

// Envelope flag bits.
const (
	FlagForwarded Flags = 1 << iota
	FlagExpectsAckSide

	flagsKnown = FlagForwarded | FlagExpectsAckSide
)

// MaxPacketSize is the maximum allowed size for a single framed packet.
const MaxPacketSize = 65535

// LengthPrefixSize is the size of the length prefix in bytes.
const LengthPrefixSize = 2

// MaxMessageTypes is the largest registry a two-byte NetID can address.
const MaxMessageTypes = 1 << 16

// Handshake frame markers. They share the stream with envelopes only
// before the handshake completes.
const (
	ProtocolVersion byte = 1

	HandshakeHello   byte = 0xB7 // client -> server: version, fingerprint, type count
	HandshakeWelcome byte = 0xB8 // server -> client: assigned peer index
	HandshakeReject  byte = 0xB9 // server -> client: reason string
)

// HeartbeatFrame is a one-byte keepalive frame. An envelope is never
// shorter than two bytes, so the two cannot be confused.
const HeartbeatFrame byte = 0xBA
