package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadPacket reads a single length-prefixed packet from a reader.
// Packet format: [2-byte LE length][payload bytes...]
// Returns the raw packet bytes (excluding length prefix).
func ReadPacket(r io.Reader) ([]byte, error) {
	var length uint16
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, fmt.Errorf("failed to read packet length: %w", err)
	}

	if length == 0 {
		return nil, fmt.Errorf("received zero-length packet")
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read packet payload (%d bytes): %w", length, err)
	}

	return payload, nil
}

// WritePacket writes a length-prefixed packet to a writer as one Write
// call, so concurrent writers holding a connection lock never interleave.
func WritePacket(w io.Writer, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("refusing to write zero-length packet")
	}
	if len(data) > MaxPacketSize {
		return fmt.Errorf("packet too large: %d bytes (max %d)", len(data), MaxPacketSize)
	}

	frame := make([]byte, LengthPrefixSize+len(data))
	binary.LittleEndian.PutUint16(frame[:LengthPrefixSize], uint16(len(data)))
	copy(frame[LengthPrefixSize:], data)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write packet data: %w", err)
	}
	return nil
}
