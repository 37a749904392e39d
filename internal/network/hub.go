package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/critterbox/battlewire/internal/events"
	"github.com/critterbox/battlewire/internal/protocol"
)

// Default hub timings.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultIdleTimeout      = 60 * time.Second
	DefaultSendQueue        = 64
)

// HubConfig configures a Hub.
type HubConfig struct {
	Registry         *protocol.Registry
	MaxPeers         int
	SendQueue        int
	HandshakeTimeout time.Duration

	// IdleTimeout drops peers that send nothing, heartbeats included,
	// for this long. Zero disables it.
	IdleTimeout time.Duration

	Events *events.EventBus
}

// Hub is the server side of the transport. It admits peers after the
// handshake, assigns their indexes and implements protocol.Transport
// over their outbound queues.
type Hub struct {
	cfg     HubConfig
	peers   *PeerRegistry
	deliver func(data []byte, origin uint8)
	onJoin  func(PeerInfo)
	onLeave func(PeerInfo)
	logger  zerolog.Logger
}

var _ protocol.Transport = (*Hub)(nil)

// NewHub creates a hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = DefaultSendQueue
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &Hub{
		cfg:    cfg,
		peers:  NewPeerRegistry(cfg.MaxPeers),
		logger: log.With().Str("component", "hub").Logger(),
	}
}

// OnPacket sets the callback for inbound envelopes. It is called from
// the peer's read goroutine and must hand the packet off.
func (h *Hub) OnPacket(fn func(data []byte, origin uint8)) {
	h.deliver = fn
}

// OnJoin sets the callback run after a peer completes the handshake.
func (h *Hub) OnJoin(fn func(PeerInfo)) {
	h.onJoin = fn
}

// OnLeave sets the callback run after a peer disconnects.
func (h *Hub) OnLeave(fn func(PeerInfo)) {
	h.onLeave = fn
}

// Peers returns the connected peers.
func (h *Hub) Peers() []PeerInfo {
	return h.peers.Infos()
}

// Count returns the number of connected peers.
func (h *Hub) Count() int {
	return h.peers.Count()
}

// Kick disconnects a peer.
func (h *Hub) Kick(idx uint8) bool {
	p, ok := h.peers.get(idx)
	if !ok {
		return false
	}
	p.close()
	return true
}

// CleanStale disconnects peers that sent nothing for longer than
// timeout and returns how many were dropped.
func (h *Hub) CleanStale(timeout time.Duration) int {
	return h.peers.CleanStale(timeout)
}

// Close disconnects every peer.
func (h *Hub) Close() {
	h.peers.CloseAll()
}

// Serve runs the handshake on conn and then reads packets until the
// peer disconnects or ctx is done. The connection is closed on return.
func (h *Hub) Serve(ctx context.Context, conn PacketConn) error {
	defer conn.Close()

	logger := h.logger.With().
		Str("remote", conn.RemoteAddr().String()).
		Str("transport", conn.Transport()).
		Logger()

	data, err := conn.ReadPacket(h.cfg.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("failed to read hello: %w", err)
	}
	hello, err := protocol.ParseHello(data)
	if err == nil {
		err = hello.Check(h.cfg.Registry)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("handshake refused")
		_ = conn.WritePacket(protocol.BuildReject(err.Error()))
		return err
	}

	p := newPeer(conn, h.cfg.SendQueue)
	idx, err := h.peers.claim(p)
	if err != nil {
		logger.Warn().Err(err).Msg("handshake refused")
		_ = conn.WritePacket(protocol.BuildReject(err.Error()))
		return err
	}
	p.logger = logger.With().Uint8("peer", idx).Logger()

	if err := conn.WritePacket(protocol.BuildWelcome(idx)); err != nil {
		h.peers.release(idx, p)
		return fmt.Errorf("failed to write welcome: %w", err)
	}
	go p.writeLoop()

	info := p.info()
	p.logger.Info().Msg("peer joined")
	h.emitPeer(ctx, events.EventPeerJoined, info)
	if h.onJoin != nil {
		h.onJoin(info)
	}

	defer func() {
		p.close()
		h.peers.release(idx, p)
		p.logger.Info().Msg("peer left")
		h.emitPeer(context.WithoutCancel(ctx), events.EventPeerLeft, info)
		if h.onLeave != nil {
			h.onLeave(info)
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			p.close()
		case <-p.done:
		}
	}()

	for {
		data, err := conn.ReadPacket(h.cfg.IdleTimeout)
		if err != nil {
			select {
			case <-p.done:
				return nil
			default:
			}
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				p.logger.Warn().Dur("idle_timeout", h.cfg.IdleTimeout).Msg("peer timed out")
			case errors.Is(err, io.EOF):
				p.logger.Debug().Msg("peer closed the connection")
			default:
				p.logger.Warn().Err(err).Msg("read error, dropping peer")
			}
			return nil
		}

		p.touch()
		if protocol.IsHeartbeat(data) {
			continue
		}
		if h.deliver != nil {
			h.deliver(data, idx)
		}
	}
}

// Broadcast queues data for every peer.
func (h *Hub) Broadcast(data []byte) error {
	for _, p := range h.peers.all() {
		h.enqueue(p, data)
	}
	return nil
}

// Unicast queues data for one peer.
func (h *Hub) Unicast(data []byte, to uint8) error {
	p, ok := h.peers.get(to)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPeer, to)
	}
	if !h.enqueue(p, data) {
		return fmt.Errorf("failed to queue packet for peer %d", to)
	}
	return nil
}

// BroadcastExcept queues data for every peer but exclude.
func (h *Hub) BroadcastExcept(data []byte, exclude uint8) error {
	for _, p := range h.peers.all() {
		if p.index != exclude {
			h.enqueue(p, data)
		}
	}
	return nil
}

// Heartbeat sends a keepalive frame to every peer each interval until
// ctx is done.
func (h *Hub) Heartbeat(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = h.Broadcast(protocol.Heartbeat())
		}
	}
}

// enqueue drops peers whose queue is full rather than blocking the host
// loop on a slow reader.
func (h *Hub) enqueue(p *peer, data []byte) bool {
	if p.enqueue(data) {
		return true
	}
	select {
	case <-p.done:
	default:
		p.logger.Warn().Int("queue", cap(p.send)).Msg("send queue full, dropping peer")
		p.close()
	}
	return false
}

func (h *Hub) emitPeer(ctx context.Context, t events.EventType, info PeerInfo) {
	h.cfg.Events.Emit(ctx, events.Event{
		Type:   t,
		Source: "hub",
		Payload: events.PeerPayload{
			Index:     info.Index,
			Remote:    info.Remote,
			Transport: info.Transport,
		},
	})
}
