package protocol

import (
	"encoding/binary"
	"fmt"
)

// Reader is the inbound binary cursor over a single payload.
//
// Errors are sticky: once a read runs past the end of the data, every
// later read returns a zero value and Err reports the first failure.
// Decoders read all their fields and check Err once.
type Reader struct {
	data []byte
	pos  int
	err  error
}

// NewReader creates a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first overflow encountered, if any.
func (r *Reader) Err() error {
	return r.err
}

// Pos returns the number of bytes consumed.
func (r *Reader) Pos() int {
	return r.pos
}

// Len returns the total payload length.
func (r *Reader) Len() int {
	return len(r.data)
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, %d available",
			ErrReadOverflow, n, r.pos, r.Remaining())
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

// ReadUint8 reads a single byte.
func (r *Reader) ReadUint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// ReadBool reads a one-byte boolean. Any non-zero byte is true.
func (r *Reader) ReadBool() bool {
	return r.ReadUint8() != 0
}

// ReadUint16 reads a little-endian uint16.
func (r *Reader) ReadUint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// ReadUint64 reads a little-endian uint64.
func (r *Reader) ReadUint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// ReadString reads a string written by Writer.WriteString.
func (r *Reader) ReadString() string {
	n := r.ReadUint16()
	b := r.take(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}

// ReadBytes reads exactly n raw bytes. The returned slice is a copy.
func (r *Reader) ReadBytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// Rest consumes and returns every unread byte.
func (r *Reader) Rest() []byte {
	return r.ReadBytes(r.Remaining())
}
