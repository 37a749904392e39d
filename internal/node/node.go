// Package node assembles a battlewire process: the host loop, the router
// and its battle manager, the battle providers, and the transport the
// configured role needs. Everything that touches routing state goes
// through the host loop.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/critterbox/battlewire/internal/battle"
	"github.com/critterbox/battlewire/internal/config"
	"github.com/critterbox/battlewire/internal/events"
	"github.com/critterbox/battlewire/internal/host"
	"github.com/critterbox/battlewire/internal/network"
	"github.com/critterbox/battlewire/internal/participant"
	"github.com/critterbox/battlewire/internal/protocol"
)

var (
	// ErrNoArena is returned for manager operations on a client node.
	ErrNoArena = errors.New("node does not run a battle manager")

	// ErrNoLocalPlayer is returned for player commands on a server node.
	ErrNoLocalPlayer = errors.New("node has no local player")

	// ErrNotServer is returned for peer operations on a node without a hub.
	ErrNotServer = errors.New("node is not a server")
)

const inboxSize = 1024

// Options configures a Node.
type Options struct {
	Config  *config.Config
	Events  *events.EventBus
	Version string
}

// Status summarizes a running node.
type Status struct {
	Name          string            `json:"name"`
	Role          string            `json:"role"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	Address       string            `json:"address,omitempty"`
	LocalPlayer   battle.ProviderID `json:"local_player,omitempty"`
	Peers         int               `json:"peers"`
	Providers     int               `json:"providers"`
	ActiveBattles int               `json:"active_battles"`
	TotalBattles  int               `json:"total_battles"`
	MessageTypes  int               `json:"message_types"`
	Fingerprint   string            `json:"fingerprint"`
}

// ProviderInfo describes one registered battle provider.
type ProviderInfo struct {
	ID    battle.ProviderID `json:"id"`
	Name  string            `json:"name"`
	Side  string            `json:"side"`
	Local bool              `json:"local"`
	Peer  *uint8            `json:"peer,omitempty"`
}

// remote is the server-side stand-in for a connected peer's player.
type remote struct {
	player      *participant.Player
	connectedAt time.Time
}

// Node is one battlewire process in its configured role.
type Node struct {
	cfg     *config.Config
	netCfg  config.NetworkConfig
	role    battle.Role
	version string
	started time.Time

	bus      *events.EventBus
	loop     *host.Loop
	registry *protocol.Registry
	table    *battle.ProviderTable
	router   *battle.Router
	arena    *battle.Arena
	player   *participant.Player

	hub       *network.Hub
	listener  *network.TCPListener
	discovery *network.DiscoveryResponder
	client    *network.Client

	// remotes is only touched on the host loop.
	remotes map[uint8]remote
	nonce   atomic.Uint64
	logger  zerolog.Logger
}

// New builds a node for the role in opts.Config. Servers bind their
// sockets and clients connect and complete the handshake before New
// returns.
func New(ctx context.Context, opts Options) (*Node, error) {
	if opts.Config == nil {
		return nil, errors.New("node requires a config")
	}

	netCfg := opts.Config.GetNetwork()
	battleCfg := opts.Config.GetBattle()

	role, err := battle.ParseRole(netCfg.Role)
	if err != nil {
		return nil, err
	}

	reg, err := battle.NewMessageRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to build message registry: %w", err)
	}
	reg.Seal()

	n := &Node{
		cfg:      opts.Config,
		netCfg:   netCfg,
		role:     role,
		version:  opts.Version,
		started:  time.Now(),
		bus:      opts.Events,
		loop:     host.NewLoop(inboxSize),
		registry: reg,
		table:    battle.NewProviderTable(),
		remotes:  make(map[uint8]remote),
		logger: log.With().
			Str("component", "node").
			Str("role", role.String()).
			Logger(),
	}

	var transport protocol.Transport
	switch role {
	case battle.AuthoritativeServer:
		if err := n.bind(ctx); err != nil {
			return nil, err
		}
		transport = n.hub
	case battle.ConnectedClient:
		n.client, err = network.Dial(ctx, network.ClientConfig{
			Address:           netCfg.ServerAddress,
			Registry:          reg,
			DialTimeout:       netCfg.DialTimeout(),
			HandshakeTimeout:  netCfg.HandshakeTimeout(),
			IdleTimeout:       netCfg.IdleTimeout(),
			HeartbeatInterval: netCfg.HeartbeatInterval(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", netCfg.ServerAddress, err)
		}
		transport = n.client
	}

	// A nil *Arena must not become a non-nil BattleManager.
	var manager battle.BattleManager
	if role != battle.ConnectedClient {
		n.arena = battle.NewArena(battle.ArenaConfig{
			Events:        opts.Events,
			History:       battleCfg.History,
			DefaultFormat: battleCfg.DefaultFormat,
		})
		manager = n.arena
	}

	n.router, err = battle.NewRouter(battle.RouterConfig{
		Role:          role,
		Registry:      reg,
		Transport:     transport,
		Manager:       manager,
		Directory:     n.table,
		Events:        opts.Events,
		TraceMessages: opts.Config.Logging.TraceMessages,
	})
	if err != nil {
		n.Close()
		return nil, err
	}
	if n.arena != nil {
		n.arena.Attach(n.router)
	}

	switch role {
	case battle.Standalone:
		n.adoptPlayer(0, battleCfg)
	case battle.ConnectedClient:
		n.router.SetLocalIndex(n.client.Index())
		n.adoptPlayer(n.client.Index(), battleCfg)
	}

	if role != battle.ConnectedClient {
		if err := n.addTrainers(battleCfg.Trainers); err != nil {
			n.Close()
			return nil, err
		}
	}

	n.loop.SetReceiver(n.router.Receive)
	if n.hub != nil {
		n.hub.OnPacket(n.loop.Deliver)
		n.hub.OnJoin(n.onJoin)
		n.hub.OnLeave(n.onLeave)
	}
	if n.client != nil {
		n.client.OnPacket(n.loop.Deliver)
	}

	n.logger.Info().
		Str("name", netCfg.Name).
		Int("message_types", reg.Len()).
		Str("fingerprint", strconv.FormatUint(reg.Fingerprint(), 16)).
		Int("providers", n.table.Len()).
		Msg("node initialized")
	return n, nil
}

// bind creates the hub and binds the TCP listener and, when enabled, the
// discovery responder.
func (n *Node) bind(ctx context.Context) error {
	n.hub = network.NewHub(network.HubConfig{
		Registry:         n.registry,
		MaxPeers:         n.netCfg.MaxPeers,
		SendQueue:        n.netCfg.SendQueue,
		HandshakeTimeout: n.netCfg.HandshakeTimeout(),
		IdleTimeout:      n.netCfg.IdleTimeout(),
		Events:           n.bus,
	})

	n.listener = network.NewTCPListener(n.netCfg.ListenAddress, n.hub, n.netCfg.MaxConnPerSec, n.netCfg.MaxConns)
	if err := n.listener.Listen(ctx); err != nil {
		return err
	}

	disc := n.cfg.Discovery
	if disc.Enabled {
		n.discovery = network.NewDiscoveryResponder(disc.Address, n.Announcement, disc.MaxPerSec)
		if err := n.discovery.Listen(ctx); err != nil {
			n.listener.Stop()
			return err
		}
	}
	return nil
}

func (n *Node) adoptPlayer(peer uint8, battleCfg config.BattleConfig) {
	n.player = participant.NewLocalPlayer(peer, n.router,
		participant.WithName(n.netCfg.Name),
		participant.WithAutoAccept(battleCfg.AutoAccept))
	n.table.Add(n.player)
	n.router.SetLocalPlayer(n.player)
}

func (n *Node) addTrainers(trainers []config.TrainerConfig) error {
	for _, tc := range trainers {
		move, err := battle.ParseAction(tc.Move)
		if err != nil {
			return fmt.Errorf("trainer %d: %w", tc.ID, err)
		}
		t, err := participant.NewTrainer(participant.TrainerConfig{
			ID:   battle.ProviderID(tc.ID),
			Name: tc.Name,
			Move: move,
		}, n.router, n.loop.Schedule)
		if err != nil {
			return err
		}
		n.table.Add(t)
		n.logger.Debug().Stringer("provider", t.ID()).Str("name", t.Name()).Str("move", tc.Move).Msg("trainer registered")
	}
	return nil
}

// onJoin registers a stand-in player for a peer that completed the
// handshake. It runs on the peer's goroutine, ahead of its packets.
func (n *Node) onJoin(info network.PeerInfo) {
	n.loop.Do(func() {
		p := participant.NewRemotePlayer(info.Index)
		n.remotes[info.Index] = remote{player: p, connectedAt: info.ConnectedAt}
		n.table.Add(p)
		n.logger.Info().Uint8("peer", info.Index).Stringer("provider", p.ID()).Msg("player joined")
	})
}

// onLeave forfeits the departed player's battle and unregisters it,
// unless the index was already reused by a newer peer.
func (n *Node) onLeave(info network.PeerInfo) {
	n.loop.Do(func() {
		r, ok := n.remotes[info.Index]
		if !ok || !r.connectedAt.Equal(info.ConnectedAt) {
			return
		}
		delete(n.remotes, info.Index)

		id := r.player.ID()
		if battleID, engaged := n.arena.Engaged(id); engaged {
			n.logger.Info().Stringer("provider", id).Str("battle", battleID.String()).Msg("forfeiting battle of departed player")
			n.router.Send(battle.Forfeit{Route: battle.Route{Sender: id}, BattleID: battleID}, battle.Manager)
		}
		n.table.Remove(id)
		n.logger.Info().Uint8("peer", info.Index).Stringer("provider", id).Msg("player left")
	})
}

// Run drives the node until ctx is done. A client whose connection drops
// returns an error.
func (n *Node) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return n.loop.Run(gctx) })

	switch {
	case n.hub != nil:
		g.Go(func() error { return n.listener.Serve(gctx) })
		g.Go(func() error { return n.hub.Heartbeat(gctx, n.netCfg.HeartbeatInterval()) })
		if n.discovery != nil {
			g.Go(func() error { return n.discovery.Serve(gctx) })
		}
		g.Go(func() error {
			<-gctx.Done()
			n.hub.Close()
			return nil
		})
	case n.client != nil:
		g.Go(func() error {
			if err := n.client.Run(gctx); err != nil {
				return fmt.Errorf("disconnected from %s: %w", n.netCfg.ServerAddress, err)
			}
			return nil
		})
	}

	n.logger.Info().Str("address", n.ListenAddr()).Msg("node running")
	err := g.Wait()
	n.logger.Info().Msg("node stopped")
	return err
}

// Close releases sockets held by a node that never ran.
func (n *Node) Close() {
	if n.listener != nil {
		_ = n.listener.Stop()
	}
	if n.discovery != nil {
		_ = n.discovery.Stop()
	}
	if n.client != nil {
		_ = n.client.Close()
	}
	n.loop.Stop()
}

// Role returns the node's role.
func (n *Node) Role() battle.Role {
	return n.role
}

// Name returns the configured node name.
func (n *Node) Name() string {
	return n.netCfg.Name
}

// ListenAddr returns the bound TCP address of a server node.
func (n *Node) ListenAddr() string {
	if n.listener == nil {
		return ""
	}
	if addr := n.listener.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// DiscoveryAddr returns the bound UDP address of the discovery responder.
func (n *Node) DiscoveryAddr() string {
	if n.discovery == nil {
		return ""
	}
	if addr := n.discovery.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// LocalPlayer returns the id of this process's player, or Manager when
// there is none.
func (n *Node) LocalPlayer() battle.ProviderID {
	if n.player == nil {
		return battle.Manager
	}
	return n.player.ID()
}

// Registry returns the message type table in NetID order.
func (n *Node) Registry() []protocol.Descriptor {
	return n.registry.Descriptors()
}

// Fingerprint returns the registry fingerprint peers must agree on.
func (n *Node) Fingerprint() uint64 {
	return n.registry.Fingerprint()
}

// Announcement answers LAN discovery probes.
func (n *Node) Announcement() protocol.Announcement {
	peers := 0
	if n.hub != nil {
		peers = n.hub.Count()
	}
	return protocol.Announcement{
		Name:        n.netCfg.Name,
		Address:     n.ListenAddr(),
		Version:     protocol.ProtocolVersion,
		Fingerprint: n.registry.Fingerprint(),
		Peers:       uint8(min(peers, 255)),
		MaxPeers:    uint8(min(n.netCfg.MaxPeers, 255)),
	}
}

// Status returns a summary of the node.
func (n *Node) Status(ctx context.Context) (Status, error) {
	st := Status{
		Name:         n.netCfg.Name,
		Role:         n.role.String(),
		Version:      n.version,
		Uptime:       time.Since(n.started).Round(time.Second).String(),
		Address:      n.ListenAddr(),
		LocalPlayer:  n.LocalPlayer(),
		Providers:    n.table.Len(),
		MessageTypes: n.registry.Len(),
		Fingerprint:  strconv.FormatUint(n.registry.Fingerprint(), 16),
	}
	if n.hub != nil {
		st.Peers = n.hub.Count()
	}
	if n.arena == nil {
		return st, nil
	}

	err := n.loop.Call(ctx, func() {
		for _, b := range n.arena.Battles() {
			st.TotalBattles++
			if b.State == battle.StateActive {
				st.ActiveBattles++
			}
		}
	})
	return st, err
}

// Providers lists every registered provider ordered by id.
func (n *Node) Providers() []ProviderInfo {
	all := n.table.All()
	out := make([]ProviderInfo, 0, len(all))
	for _, p := range all {
		info := ProviderInfo{
			ID:    p.ID(),
			Side:  p.OwningSide().String(),
			Local: p.IsLocal(),
		}
		if named, ok := p.(interface{ Name() string }); ok {
			info.Name = named.Name()
		}
		if pb, ok := p.(battle.PeerBound); ok {
			peer := pb.Peer()
			info.Peer = &peer
		}
		out = append(out, info)
	}
	return out
}

// Peers lists the peers connected to a server node.
func (n *Node) Peers() []network.PeerInfo {
	if n.hub == nil {
		return nil
	}
	return n.hub.Peers()
}

// Kick disconnects a peer. Its battle is forfeited as it leaves.
func (n *Node) Kick(idx uint8) error {
	if n.hub == nil {
		return ErrNotServer
	}
	if !n.hub.Kick(idx) {
		return fmt.Errorf("peer %d is not connected", idx)
	}
	return nil
}

// CleanStale disconnects peers silent for longer than timeout.
func (n *Node) CleanStale(timeout time.Duration) int {
	if n.hub == nil {
		return 0
	}
	return n.hub.CleanStale(timeout)
}

// WebsocketHandler serves websocket peers on the hub for as long as ctx
// lives. It reports false on nodes that are not servers.
func (n *Node) WebsocketHandler(ctx context.Context) (http.HandlerFunc, bool) {
	if n.hub == nil {
		return nil, false
	}
	return n.hub.WebsocketHandler(ctx, n.cfg.API.AllowedOrigins), true
}

// Battles returns snapshots of the battles the arena tracks.
func (n *Node) Battles(ctx context.Context) ([]battle.Snapshot, error) {
	if n.arena == nil {
		return nil, ErrNoArena
	}
	var out []battle.Snapshot
	err := n.loop.Call(ctx, func() { out = n.arena.Battles() })
	return out, err
}

// Battle returns one battle snapshot.
func (n *Node) Battle(ctx context.Context, id uuid.UUID) (battle.Snapshot, bool, error) {
	if n.arena == nil {
		return battle.Snapshot{}, false, ErrNoArena
	}
	var (
		snap  battle.Snapshot
		found bool
	)
	err := n.loop.Call(ctx, func() { snap, found = n.arena.Battle(id) })
	return snap, found, err
}

// Pair asks the arena to start a battle between two providers, as if a
// challenged b.
func (n *Node) Pair(ctx context.Context, a, b battle.ProviderID, format string) (uuid.UUID, error) {
	if n.arena == nil {
		return uuid.Nil, ErrNoArena
	}
	var id uuid.UUID
	err := n.loop.Call(ctx, func() { id = n.arena.Challenge(a, b, format) })
	return id, err
}

// View returns the local player's view.
func (n *Node) View(ctx context.Context) (participant.View, error) {
	var v participant.View
	err := n.withPlayer(ctx, func(p *participant.Player) error {
		v = p.View()
		return nil
	})
	return v, err
}

// Challenge sends a challenge from the local player.
func (n *Node) Challenge(ctx context.Context, opponent battle.ProviderID, format string) (uuid.UUID, error) {
	var id uuid.UUID
	err := n.withPlayer(ctx, func(p *participant.Player) (err error) {
		id, err = p.Challenge(opponent, format)
		return err
	})
	return id, err
}

// Answer accepts or declines a pending challenge.
func (n *Node) Answer(ctx context.Context, id uuid.UUID, accept bool, reason string) error {
	return n.withPlayer(ctx, func(p *participant.Player) error {
		return p.Accept(id, accept, reason)
	})
}

// Act submits the local player's action for the current turn.
func (n *Node) Act(ctx context.Context, action battle.ActionKind, slot, target uint8) error {
	return n.withPlayer(ctx, func(p *participant.Player) error {
		return p.Act(action, slot, target)
	})
}

// Forfeit concedes the local player's battle.
func (n *Node) Forfeit(ctx context.Context) error {
	return n.withPlayer(ctx, (*participant.Player).Forfeit)
}

// Ping probes recipient from the local player and returns the nonce the
// pong will carry.
func (n *Node) Ping(ctx context.Context, recipient battle.ProviderID) (uint64, error) {
	nonce := n.nonce.Add(1)
	err := n.withPlayer(ctx, func(p *participant.Player) error {
		return p.Ping(recipient, nonce)
	})
	return nonce, err
}

func (n *Node) withPlayer(ctx context.Context, fn func(p *participant.Player) error) error {
	if n.player == nil {
		return ErrNoLocalPlayer
	}
	var err error
	if callErr := n.loop.Call(ctx, func() { err = fn(n.player) }); callErr != nil {
		return callErr
	}
	return err
}
