package network

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/critterbox/battlewire/internal/protocol"
)

// ErrServerFull is returned when every peer index is taken.
var ErrServerFull = errors.New("server full")

// ErrUnknownPeer is returned when sending to an index with no peer.
var ErrUnknownPeer = errors.New("unknown peer")

// PeerInfo describes a connected peer.
type PeerInfo struct {
	Index        uint8     `json:"index"`
	Remote       string    `json:"remote"`
	Transport    string    `json:"transport"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	Sent         uint64    `json:"sent"`
	Received     uint64    `json:"received"`
}

// peer is one connected client with its outbound queue.
type peer struct {
	index       uint8
	conn        PacketConn
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	connectedAt time.Time
	logger      zerolog.Logger

	mu           sync.Mutex
	lastActivity time.Time
	sent         uint64
	received     uint64
}

func newPeer(conn PacketConn, queue int) *peer {
	now := time.Now()
	return &peer{
		conn:         conn,
		send:         make(chan []byte, queue),
		done:         make(chan struct{}),
		connectedAt:  now,
		lastActivity: now,
	}
}

// enqueue queues data for the writer. It reports false if the queue is
// full or the peer is closing.
func (p *peer) enqueue(data []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- data:
		return true
	default:
		return false
	}
}

// writeLoop drains the queue until the peer closes.
func (p *peer) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case data := <-p.send:
			if err := p.conn.WritePacket(data); err != nil {
				p.logger.Warn().Err(err).Msg("write failed, dropping peer")
				p.close()
				return
			}
			p.mu.Lock()
			p.sent++
			p.lastActivity = time.Now()
			p.mu.Unlock()
		}
	}
}

func (p *peer) touch() {
	p.mu.Lock()
	p.received++
	p.lastActivity = time.Now()
	p.mu.Unlock()
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

func (p *peer) info() PeerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PeerInfo{
		Index:        p.index,
		Remote:       p.conn.RemoteAddr().String(),
		Transport:    p.conn.Transport(),
		ConnectedAt:  p.connectedAt,
		LastActivity: p.lastActivity,
		Sent:         p.sent,
		Received:     p.received,
	}
}

// PeerRegistry hands out peer indexes 0..254 and tracks the peer behind
// each. The lowest free index is reused first.
type PeerRegistry struct {
	mu    sync.RWMutex
	peers map[uint8]*peer
	limit int
}

// NewPeerRegistry creates a registry admitting at most limit peers.
func NewPeerRegistry(limit int) *PeerRegistry {
	if limit <= 0 || limit > protocol.MaxPeers {
		limit = protocol.MaxPeers
	}
	return &PeerRegistry{
		peers: make(map[uint8]*peer),
		limit: limit,
	}
}

// claim assigns the lowest free index to p.
func (r *PeerRegistry) claim(p *peer) (uint8, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.peers) >= r.limit {
		return 0, ErrServerFull
	}
	for i := 0; i < r.limit; i++ {
		idx := uint8(i)
		if _, taken := r.peers[idx]; !taken {
			p.index = idx
			r.peers[idx] = p
			log.Debug().Uint8("peer", idx).Msg("peer registered")
			return idx, nil
		}
	}
	return 0, ErrServerFull
}

// release frees idx if it still belongs to p.
func (r *PeerRegistry) release(idx uint8, p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.peers[idx]; ok && current == p {
		delete(r.peers, idx)
		log.Debug().Uint8("peer", idx).Msg("peer unregistered")
	}
}

func (r *PeerRegistry) get(idx uint8) (*peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[idx]
	return p, ok
}

func (r *PeerRegistry) all() []*peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Count returns the number of connected peers.
func (r *PeerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Infos returns every peer ordered by index.
func (r *PeerRegistry) Infos() []PeerInfo {
	peers := r.all()
	out := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.info())
	}
	slices.SortFunc(out, func(a, b PeerInfo) int { return int(a.Index) - int(b.Index) })
	return out
}

// CloseAll closes every peer connection.
func (r *PeerRegistry) CloseAll() {
	for _, p := range r.all() {
		p.close()
	}
	log.Info().Msg("all peers closed")
}

// CleanStale closes peers inactive for longer than timeout.
func (r *PeerRegistry) CleanStale(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)
	cleaned := 0
	for _, p := range r.all() {
		info := p.info()
		if info.LastActivity.Before(cutoff) {
			p.close()
			cleaned++
			log.Warn().
				Uint8("peer", info.Index).
				Time("last_activity", info.LastActivity).
				Msg("cleaned stale peer")
		}
	}
	return cleaned
}
