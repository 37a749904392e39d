package battle

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/critterbox/battlewire/internal/protocol"
)

func TestMessageRegistryIDs(t *testing.T) {
	reg, err := NewMessageRegistry()
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Width())

	want := []string{
		NameBattleEnd,
		NameBattleStart,
		NameChallengeAnswer,
		NameChallengeRequest,
		NameChooseAction,
		NameForfeit,
		NamePing,
		NamePong,
		NameRejected,
		NameTurnResult,
	}
	for i, name := range want {
		id, ok := reg.ID(name)
		require.True(t, ok, name)
		assert.Equal(t, protocol.NetID(i), id, name)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	id := uuid.MustParse("6f1c3a0e-8d2b-4c55-9e7a-0b1d2c3e4f50")
	route := Route{Sender: 7, Recipient: 9}

	msgs := []Message{
		ChallengeRequest{Route: route, BattleID: id, Opponent: 9, Format: "singles", TeamSize: 3},
		ChallengeAnswer{Route: route, BattleID: id, Accepted: false, Reason: "busy"},
		BattleStart{Route: route, BattleID: id, Format: "doubles", Participants: []ProviderID{7, 9}},
		BattleStart{Route: route, BattleID: id},
		ChooseAction{Route: route, BattleID: id, Turn: 513, Action: ActionSwitch, Slot: 2, Target: 1},
		TurnResult{Route: route, BattleID: id, Turn: 4, Events: []string{"a hits b", "", "b faints"}},
		TurnResult{Route: route, BattleID: id, Turn: 5},
		Forfeit{Route: route, BattleID: id},
		BattleEnd{Route: route, BattleID: id, Winner: 7, Reason: "knockout"},
		Rejected{Route: route, BattleID: id, Reason: "unknown battle"},
		Ping{Route: route, Nonce: 1 << 40},
		Pong{Route: Route{Recipient: 7}, Nonce: 1 << 40},
	}

	var codec Codec
	for _, m := range msgs {
		t.Run(m.TypeName(), func(t *testing.T) {
			w := protocol.NewWriter()
			require.NoError(t, codec.Encode(w, m))

			r := protocol.NewReader(w.Bytes())
			got, err := codec.Decode(codec.TypeName(m), r)
			require.NoError(t, err)
			require.NoError(t, r.Err())
			assert.Equal(t, w.Len(), r.Pos(), "decode must consume exactly what encode wrote")
			assert.Equal(t, m, got)
		})
	}
}

func TestCodecRouteIsLittleEndianPrefix(t *testing.T) {
	w := protocol.NewWriter()
	require.NoError(t, Codec{}.Encode(w, Ping{Route: Route{Sender: 0x0102, Recipient: 3}, Nonce: 0}))
	assert.Equal(t, []byte{0x02, 0x01, 0, 0, 3, 0, 0, 0}, w.Bytes()[:8])
	assert.Equal(t, 16, w.Len())
}

func TestCodecDecodeErrors(t *testing.T) {
	_, err := Codec{}.Decode("battle.Nope", protocol.NewReader(make([]byte, 8)))
	assert.ErrorIs(t, err, ErrUnknownVariant)

	r := protocol.NewReader([]byte{1, 0, 0, 0, 2, 0, 0, 0, 0xFF})
	_, err = Codec{}.Decode(NameTurnResult, r)
	require.NoError(t, err)
	assert.ErrorIs(t, r.Err(), protocol.ErrReadOverflow)
}

func TestCodecRejectsOversizedStrings(t *testing.T) {
	long := strings.Repeat("x", protocol.MaxStringLen+1)

	for _, m := range []Message{
		BattleEnd{Reason: long},
		TurnResult{Events: []string{"ok", long}},
	} {
		err := Codec{}.Encode(protocol.NewWriter(), m)
		assert.ErrorIs(t, err, protocol.ErrStringTooLong, m.TypeName())
	}

	tr := &fakeTransport{}
	r := newRouter(t, RouterConfig{Role: ConnectedClient, Transport: tr, Directory: NewProviderTable()})
	r.Send(Rejected{Reason: long}, Manager)
	assert.Empty(t, tr.sent)
}

func TestWithRouteCopies(t *testing.T) {
	orig := ChooseAction{Route: Route{Sender: 1, Recipient: 2}, Turn: 3}
	moved := WithRecipient(WithSender(orig, 5), 6)
	assert.Equal(t, Route{Sender: 1, Recipient: 2}, orig.Routing())
	assert.Equal(t, Route{Sender: 5, Recipient: 6}, moved.Routing())
	assert.Equal(t, uint16(3), moved.(ChooseAction).Turn)

	bid, ok := BattleOf(moved)
	assert.True(t, ok)
	assert.Equal(t, uuid.Nil, bid)
	_, ok = BattleOf(Ping{})
	assert.False(t, ok)
}
