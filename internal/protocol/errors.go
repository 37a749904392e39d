package protocol

import "errors"

var (
	// ErrUnknownMessageType is returned when a NetID has no descriptor.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrReadUnderflow means a decoder left unread payload bytes behind.
	ErrReadUnderflow = errors.New("read underflow")

	// ErrReadOverflow means a decoder tried to read past the payload.
	ErrReadOverflow = errors.New("read overflow")

	// ErrUnhandledMessage means no handler claimed a decoded message.
	ErrUnhandledMessage = errors.New("unhandled message")

	// ErrStringTooLong means a string does not fit its 2-byte length prefix.
	ErrStringTooLong = errors.New("string too long")

	ErrRegistrySealed    = errors.New("registry is sealed")
	ErrTooManyTypes      = errors.New("too many message types")
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrNoTransport       = errors.New("no transport configured")
	ErrHandshake         = errors.New("handshake failed")
)
