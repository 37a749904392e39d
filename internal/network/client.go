package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/critterbox/battlewire/internal/protocol"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Address is host:port for TCP, or a ws:// or wss:// URL.
	Address           string
	Registry          *protocol.Registry
	DialTimeout       time.Duration
	HandshakeTimeout  time.Duration
	IdleTimeout       time.Duration
	HeartbeatInterval time.Duration
}

// Client is the connected-client side of the transport. Every packet,
// whatever primitive the dispatcher asks for, goes to the server.
type Client struct {
	cfg     ClientConfig
	conn    PacketConn
	index   uint8
	deliver func(data []byte, origin uint8)
	logger  zerolog.Logger
}

var _ protocol.Transport = (*Client)(nil)

// Dial connects to the server and completes the handshake.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	conn, err := dialConn(dialCtx, cfg.Address)
	if err != nil {
		return nil, err
	}
	return handshake(conn, cfg)
}

func dialConn(ctx context.Context, address string) (PacketConn, error) {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, address, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", address, err)
		}
		return NewWSConnection(ws), nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}
	return NewConnection(conn), nil
}

// handshake sends hello on an open connection and waits for the
// server's welcome. The connection is closed on failure.
func handshake(conn PacketConn, cfg ClientConfig) (*Client, error) {
	if err := conn.WritePacket(protocol.BuildHello(cfg.Registry)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send hello: %w", err)
	}
	data, err := conn.ReadPacket(cfg.HandshakeTimeout)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read welcome: %w", err)
	}
	idx, err := protocol.ParseWelcome(data)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := &Client{
		cfg:   cfg,
		conn:  conn,
		index: idx,
		logger: log.With().
			Str("component", "client").
			Str("server", cfg.Address).
			Uint8("peer", idx).
			Logger(),
	}
	c.logger.Info().Str("transport", conn.Transport()).Msg("connected to server")
	return c, nil
}

// Index returns the peer index the server assigned.
func (c *Client) Index() uint8 {
	return c.index
}

// OnPacket sets the callback for envelopes from the server. It is called
// from the read goroutine and must hand the packet off.
func (c *Client) OnPacket(fn func(data []byte, origin uint8)) {
	c.deliver = fn
}

// Run reads packets until the connection drops or ctx is done. A
// dropped connection is returned as an error.
func (c *Client) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-done:
		}
	}()

	if c.cfg.HeartbeatInterval > 0 {
		go c.heartbeat(done)
	}

	for {
		data, err := c.conn.ReadPacket(c.cfg.IdleTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.conn.Close()
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("server closed the connection")
			}
			return fmt.Errorf("failed to read from server: %w", err)
		}
		if protocol.IsHeartbeat(data) {
			continue
		}
		if c.deliver != nil {
			c.deliver(data, protocol.ServerOrigin)
		}
	}
}

func (c *Client) heartbeat(done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.conn.WritePacket(protocol.Heartbeat()); err != nil {
				c.logger.Debug().Err(err).Msg("heartbeat failed")
				return
			}
		}
	}
}

// Broadcast sends data to the server.
func (c *Client) Broadcast(data []byte) error {
	return c.conn.WritePacket(data)
}

// Unicast sends data to the server. The target is always the server.
func (c *Client) Unicast(data []byte, _ uint8) error {
	return c.conn.WritePacket(data)
}

// BroadcastExcept sends data to the server.
func (c *Client) BroadcastExcept(data []byte, _ uint8) error {
	return c.conn.WritePacket(data)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
