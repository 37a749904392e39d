package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MaxStringLen is the longest string WriteString accepts.
const MaxStringLen = 0xFFFF

// Writer is the outbound binary cursor. Writes are chained; the first
// failed write is kept and reported by Err.
type Writer struct {
	buf bytes.Buffer
	err error
}

// NewWriter creates a new Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Reset clears the writer for reuse.
func (w *Writer) Reset() {
	w.buf.Reset()
	w.err = nil
}

// Err returns the first write error, if any.
func (w *Writer) Err() error {
	return w.err
}

// WriteUint8 writes a single byte.
func (w *Writer) WriteUint8(v uint8) *Writer {
	w.buf.WriteByte(v)
	return w
}

// WriteBool writes a boolean as one byte (0 or 1).
func (w *Writer) WriteBool(v bool) *Writer {
	if v {
		return w.WriteUint8(1)
	}
	return w.WriteUint8(0)
}

// WriteUint16 writes a uint16 in little-endian order.
func (w *Writer) WriteUint16(v uint16) *Writer {
	binary.Write(&w.buf, binary.LittleEndian, v)
	return w
}

// WriteUint32 writes a uint32 in little-endian order.
func (w *Writer) WriteUint32(v uint32) *Writer {
	binary.Write(&w.buf, binary.LittleEndian, v)
	return w
}

// WriteUint64 writes a uint64 in little-endian order.
func (w *Writer) WriteUint64(v uint64) *Writer {
	binary.Write(&w.buf, binary.LittleEndian, v)
	return w
}

// WriteString writes a length-prefixed string.
// Format: [length:2][string bytes...]. A string longer than MaxStringLen
// is not written and sets ErrStringTooLong.
func (w *Writer) WriteString(s string) *Writer {
	if len(s) > MaxStringLen {
		if w.err == nil {
			w.err = fmt.Errorf("%w: %d bytes, limit %d", ErrStringTooLong, len(s), MaxStringLen)
		}
		return w
	}
	w.WriteUint16(uint16(len(s)))
	w.buf.WriteString(s)
	return w
}

// WriteBytes writes raw bytes with no prefix.
func (w *Writer) WriteBytes(data []byte) *Writer {
	w.buf.Write(data)
	return w
}

// Bytes returns the written bytes. The slice aliases the writer's buffer
// until the next write or Reset.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return w.buf.Len()
}
