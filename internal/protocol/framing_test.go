package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, []byte{1, 2, 3}))
	require.NoError(t, WritePacket(&buf, []byte{4}))
	assert.Equal(t, []byte{3, 0, 1, 2, 3, 1, 0, 4}, buf.Bytes())

	first, err := ReadPacket(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, first)

	second, err := ReadPacket(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{4}, second)

	_, err = ReadPacket(&buf)
	assert.Error(t, err)
}

func TestFramingRejectsBadSizes(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WritePacket(&buf, nil))
	assert.Error(t, WritePacket(&buf, make([]byte, MaxPacketSize+1)))

	_, err := ReadPacket(bytes.NewReader([]byte{0, 0}))
	assert.Error(t, err)
}

func TestHandshake(t *testing.T) {
	reg, err := NewRegistry("Ping", "Pong")
	require.NoError(t, err)

	hello, err := ParseHello(BuildHello(reg))
	require.NoError(t, err)
	assert.NoError(t, hello.Check(reg))

	other, err := NewRegistry("Ping", "Pong", "Zap")
	require.NoError(t, err)
	assert.ErrorIs(t, hello.Check(other), ErrHandshake)

	idx, err := ParseWelcome(BuildWelcome(7))
	require.NoError(t, err)
	assert.Equal(t, uint8(7), idx)

	_, err = ParseWelcome(BuildReject("registry mismatch"))
	require.ErrorIs(t, err, ErrHandshake)
	assert.Contains(t, err.Error(), "registry mismatch")
}

func TestHeartbeat(t *testing.T) {
	assert.True(t, IsHeartbeat(Heartbeat()))
	assert.False(t, IsHeartbeat([]byte{HeartbeatFrame, 0}))
	assert.False(t, IsHeartbeat([]byte{0}))
}

func TestAnnouncementRoundTrip(t *testing.T) {
	want := Announcement{
		Name:        "arena-1",
		Address:     "10.0.0.4:7311",
		Version:     ProtocolVersion,
		Fingerprint: 0xDEADBEEF,
		Peers:       3,
		MaxPeers:    32,
	}
	got, err := ParseAnnouncement(BuildAnnouncement(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.True(t, IsProbe(BuildProbe()))
	_, err = ParseAnnouncement(BuildProbe())
	assert.Error(t, err)
	_, err = ParseAnnouncement([]byte{DiscoveryReply, 1})
	assert.ErrorIs(t, err, ErrReadOverflow)
}
