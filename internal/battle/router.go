package battle

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/critterbox/battlewire/internal/events"
	"github.com/critterbox/battlewire/internal/protocol"
)

// RouterConfig configures a Router.
type RouterConfig struct {
	Role Role

	// Registry defaults to NewMessageRegistry. It is sealed by NewRouter.
	Registry *protocol.Registry

	// Transport is required for AuthoritativeServer and ConnectedClient.
	Transport protocol.Transport

	// Manager is required for Standalone and AuthoritativeServer.
	Manager BattleManager

	// LocalPlayer is this process's own provider, if any. It witnesses
	// manager-bound traffic on every role.
	LocalPlayer Provider

	Directory Directory
	Events    *events.EventBus

	// TraceMessages logs every routed message at debug level.
	TraceMessages  bool
	ExpectsAckSide bool
}

// Router decides, for every battle message, which of witness, reply,
// intercept, broadcast or unicast happens. It is not safe for concurrent
// use: all calls belong on the host loop.
type Router struct {
	role        Role
	dispatch    *protocol.Dispatcher[Message]
	manager     BattleManager
	localPlayer Provider
	directory   Directory
	bus         *events.EventBus
	trace       bool
	logger      zerolog.Logger
}

var _ Sender = (*Router)(nil)

// NewRouter creates a router for cfg.Role.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Directory == nil {
		return nil, fmt.Errorf("router requires a provider directory")
	}

	var side protocol.Side
	switch cfg.Role {
	case Standalone:
		side = protocol.SideLocal
	case AuthoritativeServer:
		side = protocol.SideServer
	case ConnectedClient:
		side = protocol.SideClient
	default:
		return nil, fmt.Errorf("unknown role %s", cfg.Role)
	}

	if cfg.Role != ConnectedClient && cfg.Manager == nil {
		return nil, fmt.Errorf("%s: %w", cfg.Role, ErrNoManager)
	}
	if cfg.Role != Standalone && cfg.Transport == nil {
		return nil, fmt.Errorf("%s: %w", cfg.Role, protocol.ErrNoTransport)
	}

	reg := cfg.Registry
	if reg == nil {
		var err error
		if reg, err = NewMessageRegistry(); err != nil {
			return nil, fmt.Errorf("failed to build message registry: %w", err)
		}
	}
	for _, name := range MessageTypes() {
		if _, ok := reg.ID(name); !ok {
			return nil, fmt.Errorf("registry is missing %s: %w", name, protocol.ErrUnknownMessageType)
		}
	}

	r := &Router{
		role:        cfg.Role,
		manager:     cfg.Manager,
		localPlayer: cfg.LocalPlayer,
		directory:   cfg.Directory,
		bus:         cfg.Events,
		trace:       cfg.TraceMessages,
		logger:      log.With().Str("component", "router").Str("role", cfg.Role.String()).Logger(),
	}
	r.dispatch = protocol.NewDispatcher[Message](reg, Codec{}, cfg.Transport, side,
		protocol.WithExpectsAckSide(cfg.ExpectsAckSide), protocol.WithoutReforward())
	r.dispatch.SetHandler(r.handle)
	return r, nil
}

// Role returns the router's role.
func (r *Router) Role() Role {
	return r.role
}

// Registry returns the sealed message registry.
func (r *Router) Registry() *protocol.Registry {
	return r.dispatch.Registry()
}

// SetLocalPlayer replaces the local player. Clients learn theirs after
// the handshake.
func (r *Router) SetLocalPlayer(p Provider) {
	r.localPlayer = p
}

// SetLocalIndex records the peer index the server assigned to this
// client.
func (r *Router) SetLocalIndex(idx uint8) {
	r.dispatch.SetLocalIndex(idx)
}

// Send sets msg's recipient and routes it according to the role.
func (r *Router) Send(msg Message, recipient ProviderID) {
	msg = WithRecipient(msg, recipient)
	r.traceMessage("send", msg)

	switch r.role {
	case Standalone:
		r.sendStandalone(msg)
	case AuthoritativeServer:
		r.sendServer(msg)
	case ConnectedClient:
		r.transmit(msg, events.ActionUnicast)
	}
}

func (r *Router) sendStandalone(msg Message) {
	route := msg.Routing()
	r.witnessLocal(msg)

	if route.Recipient == Manager {
		r.emit(events.EventRouteDelivered, msg, events.ActionReply, "manager", "")
		r.manager.Reply(msg)
		return
	}

	if !r.manager.Witness(msg) {
		r.emit(events.EventRouteIntercepted, msg, events.ActionIntercept, "manager", "")
		return
	}

	p, ok := r.directory.FindProvider(route.Recipient)
	if !ok {
		r.drop(msg, ErrProviderNotFound)
		return
	}
	r.emit(events.EventRouteDelivered, msg, events.ActionReply, p.ID().String(), "")
	p.Reply(msg)
}

func (r *Router) sendServer(msg Message) {
	route := msg.Routing()

	if route.Recipient == Manager {
		if route.Sender == Manager {
			r.transmit(msg, events.ActionBroadcast)
		}
		r.emit(events.EventRouteDelivered, msg, events.ActionReply, "manager", "")
		r.manager.Reply(msg)
		return
	}

	p, ok := r.directory.FindProvider(route.Recipient)
	if !ok {
		r.drop(msg, ErrProviderNotFound)
		return
	}

	switch p.OwningSide() {
	case ClientOwned:
		r.transmit(msg, events.ActionBroadcast)
	case ServerOwned:
		r.emit(events.EventRouteDelivered, msg, events.ActionReply, p.ID().String(), "")
		p.Reply(msg)
	default:
		r.drop(msg, fmt.Errorf("%w: %s reports %s", ErrInvalidProviderOwnership, p.ID(), p.OwningSide()))
	}
}

// Receive feeds one inbound packet from peer origin through the
// dispatcher into the receive-side rules.
func (r *Router) Receive(data []byte, origin uint8) error {
	return r.dispatch.Receive(data, origin)
}

func (r *Router) handle(msg Message, info protocol.SenderInfo) bool {
	r.traceMessage("receive", msg)
	route := msg.Routing()

	switch r.role {
	case AuthoritativeServer:
		if info.Forwarded {
			r.drop(msg, fmt.Errorf("%w from peer %d", ErrForwardedMessage, info.Origin))
			return true
		}
		if err := r.checkSender(msg, info); err != nil {
			r.drop(msg, err)
			return true
		}
		if route.Recipient == Manager {
			r.emit(events.EventRouteDelivered, msg, events.ActionReply, "manager", "")
			r.manager.Reply(msg)
			return true
		}
		if !r.manager.Witness(msg) {
			r.emit(events.EventRouteIntercepted, msg, events.ActionIntercept, "manager", "")
			return true
		}
		r.Send(msg, route.Recipient)
		return true

	case ConnectedClient:
		if route.Recipient != Manager {
			if p, ok := r.directory.FindProvider(route.Recipient); ok && p.IsLocal() {
				r.emit(events.EventRouteDelivered, msg, events.ActionReply, p.ID().String(), "")
				p.Reply(msg)
				return true
			}
		}
		return r.witnessLocal(msg)

	default:
		r.logger.Warn().Str("type", msg.TypeName()).Msg("standalone router received a packet")
		return false
	}
}

// checkSender rejects client packets unless the sender is a client-owned
// provider bound to the sending peer. Clients never speak for the manager
// or for server-owned providers.
func (r *Router) checkSender(msg Message, info protocol.SenderInfo) error {
	sender := msg.Routing().Sender
	if sender == Manager {
		return fmt.Errorf("%w: peer %d claims the manager", ErrSpoofedSender, info.Origin)
	}
	p, ok := r.directory.FindProvider(sender)
	if !ok {
		return fmt.Errorf("%w: peer %d claims unknown %s", ErrSpoofedSender, info.Origin, sender)
	}
	if p.OwningSide() != ClientOwned {
		return fmt.Errorf("%w: peer %d claims %s owned by %s", ErrSpoofedSender, info.Origin, sender, p.OwningSide())
	}
	if pb, ok := p.(PeerBound); ok && pb.Peer() != info.Origin {
		return fmt.Errorf("%w: %s belongs to peer %d, packet from peer %d",
			ErrSpoofedSender, sender, pb.Peer(), info.Origin)
	}
	return nil
}

// Intersend delivers msg from a to b and from b to a.
func (r *Router) Intersend(msg Message, a, b ProviderID) {
	r.Send(WithSender(msg, a), b)
	r.Send(WithSender(msg, b), a)
}

// ReturnMessage sends reply from original's recipient back to original's
// sender. It always returns false so a Witness can intercept with
// `return router.ReturnMessage(msg, reply)`.
func (r *Router) ReturnMessage(original, reply Message) bool {
	route := original.Routing()
	r.Send(WithSender(reply, route.Recipient), route.Sender)
	return false
}

func (r *Router) witnessLocal(msg Message) bool {
	if r.localPlayer == nil {
		return false
	}
	r.emit(events.EventRouteDelivered, msg, events.ActionWitness, r.localPlayer.ID().String(), "")
	r.localPlayer.Witness(msg)
	return true
}

func (r *Router) transmit(msg Message, action events.RouteAction) {
	if err := r.dispatch.Send(msg, protocol.NoClient, protocol.NoClient); err != nil {
		r.drop(msg, err)
		return
	}
	r.emit(events.EventRouteTransmitted, msg, action, "", "")
}

func (r *Router) drop(msg Message, err error) {
	route := msg.Routing()
	r.logger.Warn().
		Err(err).
		Str("type", msg.TypeName()).
		Stringer("sender", route.Sender).
		Stringer("recipient", route.Recipient).
		Msg("dropping battle message")
	r.emit(events.EventRouteDropped, msg, events.ActionDrop, "", err.Error())
}

func (r *Router) traceMessage(stage string, msg Message) {
	if !r.trace {
		return
	}
	route := msg.Routing()
	r.logger.Debug().
		Str("stage", stage).
		Str("type", msg.TypeName()).
		Stringer("sender", route.Sender).
		Stringer("recipient", route.Recipient).
		Msg("battle message")
}

func (r *Router) emit(t events.EventType, msg Message, action events.RouteAction, target, detail string) {
	if r.bus == nil {
		return
	}
	route := msg.Routing()
	r.bus.Emit(context.Background(), events.Event{
		Type:   t,
		Source: "router",
		Payload: events.RoutePayload{
			Role:      r.role.String(),
			Type:      msg.TypeName(),
			Sender:    route.Sender.String(),
			Recipient: route.Recipient.String(),
			Action:    action,
			Target:    target,
			Detail:    detail,
		},
	})
}
