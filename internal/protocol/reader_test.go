package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter().
		WriteUint8(7).
		WriteBool(true).
		WriteUint16(0xBEEF).
		WriteUint32(0xDEADBEEF).
		WriteUint64(1 << 40).
		WriteString("thunder shock").
		WriteString("")

	r := NewReader(w.Bytes())
	assert.Equal(t, uint8(7), r.ReadUint8())
	assert.True(t, r.ReadBool())
	assert.Equal(t, uint16(0xBEEF), r.ReadUint16())
	assert.Equal(t, uint32(0xDEADBEEF), r.ReadUint32())
	assert.Equal(t, uint64(1<<40), r.ReadUint64())
	assert.Equal(t, "thunder shock", r.ReadString())
	assert.Equal(t, "", r.ReadString())

	require.NoError(t, r.Err())
	assert.Equal(t, w.Len(), r.Pos())
	assert.Zero(t, r.Remaining())
}

func TestWriterIsLittleEndian(t *testing.T) {
	w := NewWriter().WriteUint16(0x0102).WriteUint32(0x03040506)
	assert.Equal(t, []byte{0x02, 0x01, 0x06, 0x05, 0x04, 0x03}, w.Bytes())
}

func TestReaderOverflowIsSticky(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	assert.Equal(t, uint16(0x0201), r.ReadUint16())
	assert.Zero(t, r.ReadUint32())
	require.ErrorIs(t, r.Err(), ErrReadOverflow)

	// Later reads keep failing even when bytes would fit.
	assert.Zero(t, r.ReadUint8())
	assert.Equal(t, 2, r.Pos())
}

func TestReaderStringLengthOverflow(t *testing.T) {
	w := NewWriter().WriteUint16(10).WriteBytes([]byte("abc"))
	r := NewReader(w.Bytes())
	assert.Equal(t, "", r.ReadString())
	assert.ErrorIs(t, r.Err(), ErrReadOverflow)
}

func TestWriterRejectsLongString(t *testing.T) {
	w := NewWriter().WriteUint8(1).WriteString(strings.Repeat("é", MaxStringLen/2+1)).WriteUint8(2)
	require.ErrorIs(t, w.Err(), ErrStringTooLong)
	assert.Equal(t, []byte{1, 2}, w.Bytes())

	w.Reset()
	w.WriteString(strings.Repeat("a", MaxStringLen))
	require.NoError(t, w.Err())
	assert.Equal(t, MaxStringLen+2, w.Len())
}
