package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/critterbox/battlewire/internal/protocol"
)

// DiscoveryResponder answers LAN discovery probes with a server
// announcement.
type DiscoveryResponder struct {
	addr     string
	announce func() protocol.Announcement
	rate     *rateTracker

	mu   sync.Mutex
	conn net.PacketConn
}

// NewDiscoveryResponder creates a responder on addr. announce is called
// per probe, so it should be cheap. maxPerSec limits replies per source IP.
func NewDiscoveryResponder(addr string, announce func() protocol.Announcement, maxPerSec int) *DiscoveryResponder {
	return &DiscoveryResponder{
		addr:     addr,
		announce: announce,
		rate:     newRateTracker(maxPerSec),
	}
}

// Listen binds the UDP socket.
func (d *DiscoveryResponder) Listen(ctx context.Context) error {
	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", d.addr)
	if err != nil {
		return fmt.Errorf("failed to start discovery responder on %s: %w", d.addr, err)
	}

	d.mu.Lock()
	d.conn = pc
	d.mu.Unlock()

	log.Info().Str("addr", pc.LocalAddr().String()).Msg("discovery responder started")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (d *DiscoveryResponder) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	return d.conn.LocalAddr()
}

// Start binds the socket and answers probes until ctx is done.
func (d *DiscoveryResponder) Start(ctx context.Context) error {
	if err := d.Listen(ctx); err != nil {
		return err
	}
	return d.Serve(ctx)
}

// Serve answers probes on a bound socket until ctx is done.
func (d *DiscoveryResponder) Serve(ctx context.Context) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("discovery responder is not bound")
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 64)
	for {
		n, remote, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("discovery responder stopping")
				return nil
			default:
				log.Error().Err(err).Msg("UDP read error")
				continue
			}
		}

		if !protocol.IsProbe(buf[:n]) {
			continue
		}
		if !d.rate.allow(extractIP(remote)) {
			continue
		}

		reply := protocol.BuildAnnouncement(d.announce())
		if _, err := conn.WriteTo(reply, remote); err != nil {
			log.Warn().Err(err).Str("remote", remote.String()).Msg("failed to send announcement")
			continue
		}

		log.Trace().Str("remote", remote.String()).Msg("answered discovery probe")
	}
}

// Stop closes the UDP socket.
func (d *DiscoveryResponder) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

// Discover probes addr and waits up to timeout for its announcement.
func Discover(ctx context.Context, addr string, timeout time.Duration) (protocol.Announcement, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", addr)
	if err != nil {
		return protocol.Announcement{}, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(protocol.BuildProbe()); err != nil {
		return protocol.Announcement{}, fmt.Errorf("failed to send probe: %w", err)
	}

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return protocol.Announcement{}, fmt.Errorf("failed to set read deadline: %w", err)
	}

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		return protocol.Announcement{}, fmt.Errorf("no announcement from %s: %w", addr, err)
	}
	return protocol.ParseAnnouncement(buf[:n])
}
