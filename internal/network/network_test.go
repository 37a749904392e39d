package network

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/critterbox/battlewire/internal/protocol"
)

type packet struct {
	data   []byte
	origin uint8
}

func testRegistry(t *testing.T, names ...string) *protocol.Registry {
	t.Helper()
	if len(names) == 0 {
		names = []string{"battle.Ping", "battle.Pong"}
	}
	reg, err := protocol.NewRegistry(names...)
	require.NoError(t, err)
	reg.Seal()
	return reg
}

func expectPacket(t *testing.T, ch <-chan packet) packet {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
		return packet{}
	}
}

func expectNoPacket(t *testing.T, ch <-chan packet) {
	t.Helper()
	select {
	case p := <-ch:
		t.Fatalf("unexpected packet %v", p.data)
	case <-time.After(100 * time.Millisecond):
	}
}

type testServer struct {
	hub    *Hub
	addr   string
	inbox  chan packet
	joined chan PeerInfo
	left   chan PeerInfo
}

func startTCPServer(t *testing.T, ctx context.Context, reg *protocol.Registry, maxPeers int) *testServer {
	t.Helper()
	s := &testServer{
		hub:    NewHub(HubConfig{Registry: reg, MaxPeers: maxPeers}),
		inbox:  make(chan packet, 16),
		joined: make(chan PeerInfo, 16),
		left:   make(chan PeerInfo, 16),
	}
	s.hub.OnPacket(func(data []byte, origin uint8) { s.inbox <- packet{data, origin} })
	s.hub.OnJoin(func(info PeerInfo) { s.joined <- info })
	s.hub.OnLeave(func(info PeerInfo) { s.left <- info })

	ln := NewTCPListener("127.0.0.1:0", s.hub, 0, 0)
	require.NoError(t, ln.Listen(ctx))
	go func() { _ = ln.Serve(ctx) }()
	s.addr = ln.Addr().String()
	return s
}

func connect(t *testing.T, ctx context.Context, addr string, reg *protocol.Registry) (*Client, chan packet) {
	t.Helper()
	c, err := Dial(ctx, ClientConfig{Address: addr, Registry: reg})
	require.NoError(t, err)
	inbox := make(chan packet, 16)
	c.OnPacket(func(data []byte, origin uint8) { inbox <- packet{data, origin} })
	go func() { _ = c.Run(ctx) }()
	return c, inbox
}

func TestHubOverTCP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := testRegistry(t)
	srv := startTCPServer(t, ctx, reg, 0)

	a, aIn := connect(t, ctx, srv.addr, reg)
	b, bIn := connect(t, ctx, srv.addr, reg)
	assert.Equal(t, uint8(0), a.Index())
	assert.Equal(t, uint8(1), b.Index())

	for i := 0; i < 2; i++ {
		select {
		case info := <-srv.joined:
			assert.Equal(t, "tcp", info.Transport)
		case <-time.After(2 * time.Second):
			t.Fatal("peer did not join")
		}
	}
	assert.Equal(t, 2, srv.hub.Count())

	require.NoError(t, srv.hub.Broadcast([]byte{1, 1}))
	assert.Equal(t, []byte{1, 1}, expectPacket(t, aIn).data)
	got := expectPacket(t, bIn)
	assert.Equal(t, []byte{1, 1}, got.data)
	assert.Equal(t, protocol.ServerOrigin, got.origin)

	require.NoError(t, srv.hub.Unicast([]byte{2, 2}, 1))
	assert.Equal(t, []byte{2, 2}, expectPacket(t, bIn).data)
	expectNoPacket(t, aIn)

	require.NoError(t, srv.hub.BroadcastExcept([]byte{3, 3}, 0))
	assert.Equal(t, []byte{3, 3}, expectPacket(t, bIn).data)
	expectNoPacket(t, aIn)

	assert.ErrorIs(t, srv.hub.Unicast([]byte{4, 4}, 9), ErrUnknownPeer)

	require.NoError(t, a.Unicast([]byte{5, 5}, protocol.ServerOrigin))
	in := expectPacket(t, srv.inbox)
	assert.Equal(t, []byte{5, 5}, in.data)
	assert.Equal(t, uint8(0), in.origin)

	require.NoError(t, a.Close())
	select {
	case info := <-srv.left:
		assert.Equal(t, uint8(0), info.Index)
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not leave")
	}

	c, _ := connect(t, ctx, srv.addr, reg)
	assert.Equal(t, uint8(0), c.Index(), "lowest free index is reused")
}

func TestHubRejectsMismatchedRegistry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := startTCPServer(t, ctx, testRegistry(t), 0)

	_, err := Dial(ctx, ClientConfig{Address: srv.addr, Registry: testRegistry(t, "battle.Ping")})
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrHandshake)
	assert.Contains(t, err.Error(), "registry mismatch")
}

func TestHubRejectsWhenFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := testRegistry(t)
	srv := startTCPServer(t, ctx, reg, 1)

	connect(t, ctx, srv.addr, reg)
	_, err := Dial(ctx, ClientConfig{Address: srv.addr, Registry: reg})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrServerFull.Error())
}

func TestHubOverWebsocket(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := testRegistry(t)

	hub := NewHub(HubConfig{Registry: reg})
	inbox := make(chan packet, 4)
	hub.OnPacket(func(data []byte, origin uint8) { inbox <- packet{data, origin} })

	server := httptest.NewServer(hub.WebsocketHandler(ctx, nil))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	c, cIn := connect(t, ctx, wsURL, reg)
	assert.Equal(t, uint8(0), c.Index())

	require.NoError(t, c.Broadcast([]byte{7, 0}))
	got := expectPacket(t, inbox)
	assert.Equal(t, []byte{7, 0}, got.data)

	require.NoError(t, hub.Unicast([]byte{8, 0}, 0))
	assert.Equal(t, []byte{8, 0}, expectPacket(t, cIn).data)

	peers := hub.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "websocket", peers[0].Transport)
	assert.True(t, hub.Kick(0))
	assert.False(t, hub.Kick(3))
}

func TestHeartbeatsAreNotDelivered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := testRegistry(t)
	srv := startTCPServer(t, ctx, reg, 0)

	c, cIn := connect(t, ctx, srv.addr, reg)
	require.NoError(t, c.Unicast(protocol.Heartbeat(), protocol.ServerOrigin))
	require.NoError(t, srv.hub.Broadcast(protocol.Heartbeat()))
	expectNoPacket(t, srv.inbox)
	expectNoPacket(t, cIn)
}

func TestPeerRegistryIndexes(t *testing.T) {
	r := NewPeerRegistry(2)
	p0, p1, p2 := &peer{}, &peer{}, &peer{}

	idx, err := r.claim(p0)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), idx)
	idx, err = r.claim(p1)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), idx)
	_, err = r.claim(p2)
	assert.ErrorIs(t, err, ErrServerFull)

	r.release(0, p2)
	assert.Equal(t, 2, r.Count(), "release ignores a stale owner")
	r.release(0, p0)
	idx, err = r.claim(p2)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), idx)

	assert.Equal(t, protocol.MaxPeers, NewPeerRegistry(0).limit)
}

func TestRateTracker(t *testing.T) {
	now := time.Unix(100, 0)
	rt := newRateTracker(2)
	rt.now = func() time.Time { return now }

	assert.True(t, rt.allow("1.2.3.4"))
	assert.True(t, rt.allow("1.2.3.4"))
	assert.False(t, rt.allow("1.2.3.4"))
	assert.True(t, rt.allow("5.6.7.8"))

	now = now.Add(time.Second)
	assert.True(t, rt.allow("1.2.3.4"))

	assert.True(t, newRateTracker(0).allow("1.2.3.4"))
}

func TestDiscovery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	want := protocol.Announcement{Name: "arena", Address: "127.0.0.1:7311", Version: protocol.ProtocolVersion, MaxPeers: 32}
	d := NewDiscoveryResponder("127.0.0.1:0", func() protocol.Announcement { return want }, 0)
	require.NoError(t, d.Listen(ctx))
	go func() { _ = d.Serve(ctx) }()

	got, err := Discover(ctx, d.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
