package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMsg struct {
	Name  string
	Body  uint32
	Extra string
}

type testCodec struct{}

func (testCodec) TypeName(v testMsg) string { return v.Name }

func (testCodec) Encode(w *Writer, v testMsg) error {
	w.WriteUint32(v.Body)
	if v.Name == "Challenge" {
		w.WriteString(v.Extra)
	}
	return nil
}

func (testCodec) Decode(name string, r *Reader) (testMsg, error) {
	m := testMsg{Name: name, Body: r.ReadUint32()}
	if name == "Challenge" {
		m.Extra = r.ReadString()
	}
	return m, nil
}

type sent struct {
	kind string
	to   uint8
	data []byte
}

type fakeTransport struct {
	calls []sent
}

func (f *fakeTransport) Broadcast(data []byte) error {
	f.calls = append(f.calls, sent{kind: "broadcast", to: NoClient, data: bytes.Clone(data)})
	return nil
}

func (f *fakeTransport) Unicast(data []byte, to uint8) error {
	f.calls = append(f.calls, sent{kind: "unicast", to: to, data: bytes.Clone(data)})
	return nil
}

func (f *fakeTransport) BroadcastExcept(data []byte, exclude uint8) error {
	f.calls = append(f.calls, sent{kind: "except", to: exclude, data: bytes.Clone(data)})
	return nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry("Pong", "Challenge", "Ping")
	require.NoError(t, err)
	return reg
}

func TestDispatcherClientToServerRoundTrip(t *testing.T) {
	clientNet := &fakeTransport{}
	client := NewDispatcher[testMsg](newTestRegistry(t), testCodec{}, clientNet, SideClient)

	serverNet := &fakeTransport{}
	server := NewDispatcher[testMsg](newTestRegistry(t), testCodec{}, serverNet, SideServer)

	var got []testMsg
	var gotInfo SenderInfo
	server.SetHandler(func(v testMsg, info SenderInfo) bool {
		got = append(got, v)
		gotInfo = info
		return true
	})

	want := testMsg{Name: "Challenge", Body: 42, Extra: "bo3"}
	require.NoError(t, client.Send(want, NoClient, NoClient))
	require.Len(t, clientNet.calls, 1)
	assert.Equal(t, "unicast", clientNet.calls[0].kind)
	assert.Equal(t, ServerOrigin, clientNet.calls[0].to)

	require.NoError(t, server.Receive(clientNet.calls[0].data, 3))
	require.Len(t, got, 1)
	assert.Equal(t, want, got[0])
	assert.Equal(t, uint8(3), gotInfo.Origin)
	assert.False(t, gotInfo.Forwarded)
	assert.Empty(t, serverNet.calls)
}

func TestDispatcherServerTransmitSelectsPrimitive(t *testing.T) {
	net := &fakeTransport{}
	d := NewDispatcher[testMsg](newTestRegistry(t), testCodec{}, net, SideServer)
	msg := testMsg{Name: "Ping", Body: 1}

	require.NoError(t, d.Send(msg, NoClient, NoClient))
	require.NoError(t, d.Send(msg, 2, NoClient))
	require.NoError(t, d.Send(msg, NoClient, 5))

	require.Len(t, net.calls, 3)
	assert.Equal(t, "broadcast", net.calls[0].kind)
	assert.Equal(t, sent{kind: "unicast", to: 2, data: net.calls[1].data}, net.calls[1])
	assert.Equal(t, sent{kind: "except", to: 5, data: net.calls[2].data}, net.calls[2])
}

func TestDispatcherLocalSideHasNoTransport(t *testing.T) {
	d := NewDispatcher[testMsg](newTestRegistry(t), testCodec{}, nil, SideLocal)
	err := d.Send(testMsg{Name: "Ping"}, NoClient, NoClient)
	assert.ErrorIs(t, err, ErrNoTransport)
}

func TestDispatcherSealsRegistry(t *testing.T) {
	reg := newTestRegistry(t)
	NewDispatcher[testMsg](reg, testCodec{}, nil, SideLocal)
	assert.ErrorIs(t, reg.Register("Zap"), ErrRegistrySealed)
}

func TestDispatcherForwarding(t *testing.T) {
	clientNet := &fakeTransport{}
	client := NewDispatcher[testMsg](newTestRegistry(t), testCodec{}, clientNet, SideClient)

	serverNet := &fakeTransport{}
	server := NewDispatcher[testMsg](newTestRegistry(t), testCodec{}, serverNet, SideServer)
	server.SetHandler(func(testMsg, SenderInfo) bool { return true })

	peer := NewDispatcher[testMsg](newTestRegistry(t), testCodec{}, &fakeTransport{}, SideClient)
	peer.SetLocalIndex(1)
	var peerInfo SenderInfo
	peer.SetHandler(func(v testMsg, info SenderInfo) bool {
		peerInfo = info
		return true
	})

	require.NoError(t, client.Forward(testMsg{Name: "Ping", Body: 9}, NoClient, NoClient))
	require.NoError(t, server.Receive(clientNet.calls[0].data, 4))

	// No filter: echoed to everyone but the origin.
	require.Len(t, serverNet.calls, 1)
	assert.Equal(t, "except", serverNet.calls[0].kind)
	assert.Equal(t, uint8(4), serverNet.calls[0].to)

	require.NoError(t, peer.Receive(serverNet.calls[0].data, ServerOrigin))
	assert.True(t, peerInfo.Forwarded)
	assert.Equal(t, uint8(4), peerInfo.Origin)

	// Explicit target: unicast.
	clientNet.calls = nil
	serverNet.calls = nil
	require.NoError(t, client.Forward(testMsg{Name: "Ping"}, 2, NoClient))
	require.NoError(t, server.Receive(clientNet.calls[0].data, 4))
	require.Len(t, serverNet.calls, 1)
	assert.Equal(t, "unicast", serverNet.calls[0].kind)
	assert.Equal(t, uint8(2), serverNet.calls[0].to)
}

func TestDispatcherWithoutReforward(t *testing.T) {
	clientNet := &fakeTransport{}
	client := NewDispatcher[testMsg](newTestRegistry(t), testCodec{}, clientNet, SideClient)

	serverNet := &fakeTransport{}
	server := NewDispatcher[testMsg](newTestRegistry(t), testCodec{}, serverNet, SideServer, WithoutReforward())
	var got SenderInfo
	server.SetHandler(func(_ testMsg, info SenderInfo) bool {
		got = info
		return true
	})

	require.NoError(t, client.Forward(testMsg{Name: "Ping", Body: 3}, NoClient, NoClient))
	require.NoError(t, server.Receive(clientNet.calls[0].data, 4))

	assert.Empty(t, serverNet.calls)
	assert.True(t, got.Forwarded)
	assert.Equal(t, uint8(4), got.Origin)
}

func TestDispatcherDropsOwnEcho(t *testing.T) {
	reg := newTestRegistry(t)
	d := NewDispatcher[testMsg](reg, testCodec{}, &fakeTransport{}, SideClient)
	d.SetLocalIndex(6)
	called := false
	d.SetHandler(func(testMsg, SenderInfo) bool {
		called = true
		return true
	})

	id, _ := reg.ID("Ping")
	data := reg.Encode(Envelope{ID: id, Flags: FlagForwarded, Origin: 6, Payload: []byte{0, 0, 0, 0}}, ServerComposed)
	require.NoError(t, d.Receive(data, ServerOrigin))
	assert.False(t, called)
}

func TestDispatcherReceiveErrors(t *testing.T) {
	reg := newTestRegistry(t)
	d := NewDispatcher[testMsg](reg, testCodec{}, &fakeTransport{}, SideServer)
	handled := 0
	d.SetHandler(func(v testMsg, _ SenderInfo) bool {
		handled++
		return v.Body != 0
	})

	pingID, _ := reg.ID("Ping")

	cases := []struct {
		name string
		data []byte
		want error
	}{
		{
			name: "unknown net id",
			data: []byte{0x09, 0x00},
			want: ErrUnknownMessageType,
		},
		{
			name: "read overflow",
			data: []byte{byte(pingID), 0x00, 0x01, 0x02},
			want: ErrReadOverflow,
		},
		{
			name: "read underflow",
			data: []byte{byte(pingID), 0x00, 0x01, 0x00, 0x00, 0x00, 0xFF},
			want: ErrReadUnderflow,
		},
		{
			name: "unhandled",
			data: []byte{byte(pingID), 0x00, 0x00, 0x00, 0x00, 0x00},
			want: ErrUnhandledMessage,
		},
		{
			name: "malformed",
			data: []byte{byte(pingID)},
			want: ErrMalformedEnvelope,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := d.Receive(tc.data, 0)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	// Only the unhandled case reached the handler.
	assert.Equal(t, 1, handled)

	// The dispatcher keeps working after every failure.
	require.NoError(t, d.Receive([]byte{byte(pingID), 0x00, 0x05, 0x00, 0x00, 0x00}, 0))
}

func TestDispatcherExpectsAckSideFlag(t *testing.T) {
	net := &fakeTransport{}
	d := NewDispatcher[testMsg](newTestRegistry(t), testCodec{}, net, SideServer, WithExpectsAckSide(true))
	require.NoError(t, d.Send(testMsg{Name: "Pong"}, NoClient, NoClient))

	env, err := d.Registry().Decode(net.calls[0].data, ServerComposed)
	require.NoError(t, err)
	assert.True(t, env.Flags.Has(FlagExpectsAckSide))
	assert.False(t, env.Forwarded())
}
