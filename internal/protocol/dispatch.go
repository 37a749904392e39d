package protocol

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transport delivers raw packets. It is implemented outside this package
// (network.Hub on the server, network.Client on a connected client).
type Transport interface {
	Broadcast(data []byte) error
	Unicast(data []byte, to uint8) error
	BroadcastExcept(data []byte, exclude uint8) error
}

// Codec converts between a message value and its payload bytes. Decode
// must consume exactly the bytes Encode wrote.
type Codec[T any] interface {
	TypeName(v T) string
	Encode(w *Writer, v T) error
	Decode(name string, r *Reader) (T, error)
}

// Handler processes a decoded message. It returns false when nothing
// claimed the message, which is reported as ErrUnhandledMessage.
type Handler[T any] func(v T, info SenderInfo) bool

// Side selects how a dispatcher composes and transmits envelopes.
type Side uint8

const (
	SideLocal  Side = iota // no transport
	SideServer             // authoritative server with connected peers
	SideClient             // connected client, every packet goes to the server
)

// String returns the side name.
func (s Side) String() string {
	switch s {
	case SideServer:
		return "server"
	case SideClient:
		return "client"
	default:
		return "local"
	}
}

// Dispatcher frames messages into envelopes, hands them to the transport,
// and decodes inbound envelopes into handler calls.
type Dispatcher[T any] struct {
	reg       *Registry
	codec     Codec[T]
	transport Transport
	side      Side
	handler   Handler[T]
	logger    zerolog.Logger

	expectsAckSide bool
	noReforward    bool
	localIndex     uint8
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*dispatcherOptions)

type dispatcherOptions struct {
	expectsAckSide bool
	noReforward    bool
}

// WithExpectsAckSide sets the expects_ack_side flag on every outbound
// envelope.
func WithExpectsAckSide(v bool) DispatcherOption {
	return func(o *dispatcherOptions) { o.expectsAckSide = v }
}

// WithoutReforward stops a server dispatcher from echoing forwarded
// client envelopes to other peers. The handler still sees them, with
// SenderInfo.Forwarded set.
func WithoutReforward() DispatcherOption {
	return func(o *dispatcherOptions) { o.noReforward = true }
}

// NewDispatcher creates a dispatcher. The registry is sealed here: from
// now on NetIDs are fixed for the lifetime of the process.
func NewDispatcher[T any](reg *Registry, codec Codec[T], transport Transport, side Side, opts ...DispatcherOption) *Dispatcher[T] {
	var o dispatcherOptions
	for _, opt := range opts {
		opt(&o)
	}
	reg.Seal()
	return &Dispatcher[T]{
		reg:            reg,
		codec:          codec,
		transport:      transport,
		side:           side,
		expectsAckSide: o.expectsAckSide,
		noReforward:    o.noReforward,
		localIndex:     NoClient,
		logger:         log.With().Str("component", "dispatch").Str("side", side.String()).Logger(),
	}
}

// SetHandler installs the inbound handler.
func (d *Dispatcher[T]) SetHandler(h Handler[T]) {
	d.handler = h
}

// SetLocalIndex records the peer index the server assigned to this
// client. Forwarded echoes of this client's own packets are dropped.
func (d *Dispatcher[T]) SetLocalIndex(idx uint8) {
	d.localIndex = idx
}

// Side returns the dispatcher side.
func (d *Dispatcher[T]) Side() Side {
	return d.side
}

// Registry returns the registry the dispatcher encodes with.
func (d *Dispatcher[T]) Registry() *Registry {
	return d.reg
}

// Compose serializes v into an envelope.
func (d *Dispatcher[T]) Compose(v T) (Envelope, error) {
	name := d.codec.TypeName(v)
	id, ok := d.reg.ID(name)
	if !ok {
		return Envelope{}, fmt.Errorf("failed to compose %s: %w", name, ErrUnknownMessageType)
	}

	w := NewWriter()
	err := d.codec.Encode(w, v)
	if err == nil {
		err = w.Err()
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s: %w", name, err)
	}

	env := Envelope{
		ID:           id,
		ToClient:     NoClient,
		IgnoreClient: NoClient,
		Origin:       ServerOrigin,
		Payload:      w.Bytes(),
	}
	if d.expectsAckSide {
		env.Flags |= FlagExpectsAckSide
	}
	return env, nil
}

// Send composes v and transmits it without forwarding.
func (d *Dispatcher[T]) Send(v T, toClient, ignoreClient uint8) error {
	env, err := d.Compose(v)
	if err != nil {
		return err
	}
	return d.Transmit(env, toClient, ignoreClient)
}

// Forward composes v on a client and asks the server to echo it to other
// peers, filtered by toClient / ignoreClient.
func (d *Dispatcher[T]) Forward(v T, toClient, ignoreClient uint8) error {
	env, err := d.Compose(v)
	if err != nil {
		return err
	}
	env.Flags |= FlagForwarded
	env.ToClient = toClient
	env.IgnoreClient = ignoreClient
	return d.Transmit(env, NoClient, NoClient)
}

// Transmit hands env to the transport. On the server a set toClient
// selects unicast and a set ignoreClient selects broadcast-except; on a
// client every envelope is unicast to the server.
func (d *Dispatcher[T]) Transmit(env Envelope, toClient, ignoreClient uint8) error {
	if d.transport == nil || d.side == SideLocal {
		return ErrNoTransport
	}

	switch d.side {
	case SideClient:
		return d.transport.Unicast(d.reg.Encode(env, ClientComposed), ServerOrigin)
	default:
		data := d.reg.Encode(env, ServerComposed)
		switch {
		case toClient != NoClient:
			return d.transport.Unicast(data, toClient)
		case ignoreClient != NoClient:
			return d.transport.BroadcastExcept(data, ignoreClient)
		default:
			return d.transport.Broadcast(data)
		}
	}
}

// Receive decodes one inbound packet and invokes the handler. Every
// failure is logged here and also returned; none of them is fatal.
func (d *Dispatcher[T]) Receive(data []byte, origin uint8) error {
	layout := ServerComposed
	if d.side == SideServer {
		layout = ClientComposed
	}

	env, err := d.reg.Decode(data, layout)
	if err != nil {
		d.logger.Error().Err(err).Uint8("origin", origin).Int("len", len(data)).Msg("dropping packet")
		return err
	}

	desc, err := d.reg.Lookup(env.ID)
	if err != nil {
		d.logger.Error().Err(err).Uint16("net_id", uint16(env.ID)).Uint8("origin", origin).Msg("dropping packet")
		return err
	}

	info := SenderInfo{
		Origin:         origin,
		Forwarded:      env.Forwarded(),
		ExpectsAckSide: env.Flags.Has(FlagExpectsAckSide),
		ToClient:       env.ToClient,
		IgnoreClient:   env.IgnoreClient,
	}

	if env.Forwarded() {
		switch d.side {
		case SideServer:
			if !d.noReforward {
				d.reforward(env, origin, desc)
			}
		case SideClient:
			info.Origin = env.Origin
			if env.Origin == d.localIndex && d.localIndex != NoClient {
				d.logger.Trace().Str("type", desc.Name).Msg("dropping echo of own forward")
				return nil
			}
		}
	}

	rd := NewReader(env.Payload)
	v, err := d.codec.Decode(desc.Name, rd)
	if err == nil {
		err = rd.Err()
	}
	if err == nil && rd.Remaining() > 0 {
		err = fmt.Errorf("%w: %d of %d payload bytes consumed", ErrReadUnderflow, rd.Pos(), rd.Len())
	}
	if err != nil {
		ev := d.logger.Error().Err(err)
		if errors.Is(err, ErrReadOverflow) || errors.Is(err, ErrReadUnderflow) {
			ev = ev.Int("consumed", rd.Pos()).Int("written", rd.Len())
		}
		ev.Str("type", desc.Name).Uint8("origin", origin).Msg("failed to decode payload")
		return fmt.Errorf("failed to decode %s: %w", desc.Name, err)
	}

	if d.handler == nil || !d.handler(v, info) {
		d.logger.Error().
			Str("type", desc.Name).
			Uint8("origin", info.Origin).
			Bool("forwarded", info.Forwarded).
			Msg("unhandled message")
		return fmt.Errorf("%s: %w", desc.Name, ErrUnhandledMessage)
	}
	return nil
}

// reforward echoes a client's forwarded envelope to the other peers,
// tagged with the origin index.
func (d *Dispatcher[T]) reforward(env Envelope, origin uint8, desc Descriptor) {
	if d.transport == nil {
		return
	}
	out := env
	out.Origin = origin
	data := d.reg.Encode(out, ServerComposed)

	var err error
	switch {
	case env.ToClient != NoClient:
		if env.ToClient == origin {
			return
		}
		err = d.transport.Unicast(data, env.ToClient)
	case env.IgnoreClient != NoClient:
		err = d.transport.BroadcastExcept(data, env.IgnoreClient)
	default:
		err = d.transport.BroadcastExcept(data, origin)
	}
	if err != nil {
		d.logger.Warn().Err(err).Str("type", desc.Name).Uint8("origin", origin).Msg("failed to re-forward packet")
	}
}
