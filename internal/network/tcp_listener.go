package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// TCPListener accepts client connections and serves them on a Hub.
type TCPListener struct {
	addr      string
	hub       *Hub
	rate      *rateTracker
	maxConns  int
	connCount atomic.Int32

	mu       sync.Mutex
	listener net.Listener
}

// NewTCPListener creates a listener for addr. maxConnPerSec limits new
// connections per source IP; maxConns limits concurrent connections,
// handshakes included. Zero disables either limit.
func NewTCPListener(addr string, hub *Hub, maxConnPerSec, maxConns int) *TCPListener {
	return &TCPListener{
		addr:     addr,
		hub:      hub,
		rate:     newRateTracker(maxConnPerSec),
		maxConns: maxConns,
	}
}

// Listen binds the socket.
func (l *TCPListener) Listen(ctx context.Context) error {
	// SO_REUSEADDR allows immediate rebinding after restart
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP listener on %s: %w", l.addr, err)
	}

	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Msg("TCP listener started")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *TCPListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Start binds the socket and accepts connections until ctx is done.
func (l *TCPListener) Start(ctx context.Context) error {
	if err := l.Listen(ctx); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Serve accepts connections on a bound listener until ctx is done.
func (l *TCPListener) Serve(ctx context.Context) error {
	l.mu.Lock()
	ln := l.listener
	l.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("TCP listener is not bound")
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("TCP listener stopping")
				return nil
			default:
				log.Error().Err(err).Msg("failed to accept connection")
				continue
			}
		}

		srcIP := extractIP(conn.RemoteAddr())
		if !l.rate.allow(srcIP) {
			log.Warn().Str("src", srcIP).Msg("TCP rate limit exceeded, dropping connection")
			conn.Close()
			continue
		}
		if l.maxConns > 0 && int(l.connCount.Load()) >= l.maxConns {
			log.Warn().Str("src", srcIP).Msg("TCP max concurrent connections reached, dropping")
			conn.Close()
			continue
		}

		log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("new client connection")

		l.connCount.Add(1)
		go func() {
			defer l.connCount.Add(-1)
			if err := l.hub.Serve(ctx, NewConnection(conn)); err != nil {
				log.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("client connection ended")
			}
		}()
	}
}

// Stop closes the listening socket.
func (l *TCPListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
