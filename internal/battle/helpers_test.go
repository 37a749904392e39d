package battle

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/critterbox/battlewire/internal/protocol"
)

type fakeProvider struct {
	id        ProviderID
	side      OwningSide
	local     bool
	witnessed []Message
	replied   []Message
	onReply   func(Message)
}

func (p *fakeProvider) ID() ProviderID         { return p.id }
func (p *fakeProvider) OwningSide() OwningSide { return p.side }
func (p *fakeProvider) IsLocal() bool          { return p.local }
func (p *fakeProvider) Witness(m Message)      { p.witnessed = append(p.witnessed, m) }

func (p *fakeProvider) Reply(m Message) {
	p.replied = append(p.replied, m)
	if p.onReply != nil {
		p.onReply(m)
	}
}

type peerProvider struct {
	*fakeProvider
	peer uint8
}

func (p peerProvider) Peer() uint8 { return p.peer }

type fakeManager struct {
	deny      bool
	witnessed []Message
	replied   []Message
}

func (m *fakeManager) Witness(msg Message) bool {
	m.witnessed = append(m.witnessed, msg)
	return !m.deny
}

func (m *fakeManager) Reply(msg Message) {
	m.replied = append(m.replied, msg)
}

type sentPacket struct {
	kind string
	data []byte
	peer uint8
}

type fakeTransport struct {
	sent []sentPacket
}

func (t *fakeTransport) Broadcast(data []byte) error {
	t.sent = append(t.sent, sentPacket{kind: "broadcast", data: bytes.Clone(data), peer: protocol.NoClient})
	return nil
}

func (t *fakeTransport) Unicast(data []byte, to uint8) error {
	t.sent = append(t.sent, sentPacket{kind: "unicast", data: bytes.Clone(data), peer: to})
	return nil
}

func (t *fakeTransport) BroadcastExcept(data []byte, exclude uint8) error {
	t.sent = append(t.sent, sentPacket{kind: "except", data: bytes.Clone(data), peer: exclude})
	return nil
}

// loopback connects one client router to one server router in-process.
type loopback struct {
	peer   uint8
	server *Router
	client *Router
}

type serverSide struct{ l *loopback }

func (s serverSide) Broadcast(data []byte) error {
	return s.l.client.Receive(data, protocol.ServerOrigin)
}

func (s serverSide) Unicast(data []byte, to uint8) error {
	if to != s.l.peer {
		return nil
	}
	return s.l.client.Receive(data, protocol.ServerOrigin)
}

func (s serverSide) BroadcastExcept(data []byte, exclude uint8) error {
	if exclude == s.l.peer {
		return nil
	}
	return s.l.client.Receive(data, protocol.ServerOrigin)
}

type clientSide struct{ l *loopback }

func (c clientSide) Broadcast(data []byte) error {
	return c.l.server.Receive(data, c.l.peer)
}

func (c clientSide) Unicast(data []byte, _ uint8) error {
	return c.l.server.Receive(data, c.l.peer)
}

func (c clientSide) BroadcastExcept(data []byte, _ uint8) error {
	return c.l.server.Receive(data, c.l.peer)
}

func ofType[T Message](msgs []Message) []T {
	var out []T
	for _, m := range msgs {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func newRouter(t *testing.T, cfg RouterConfig) *Router {
	t.Helper()
	r, err := NewRouter(cfg)
	require.NoError(t, err)
	return r
}
