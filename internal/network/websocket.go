package network

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/critterbox/battlewire/internal/protocol"
)

// WSConnection carries one packet per binary websocket message.
type WSConnection struct {
	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
}

// NewWSConnection wraps an established websocket.
func NewWSConnection(ws *websocket.Conn) *WSConnection {
	ws.SetReadLimit(protocol.MaxPacketSize)
	return &WSConnection{ws: ws}
}

// ReadPacket reads the next binary message.
func (c *WSConnection) ReadPacket(timeout time.Duration) ([]byte, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, fmt.Errorf("unexpected websocket message type %d", mt)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("invalid packet length: 0")
	}
	return data, nil
}

// WritePacket sends data as one binary message.
func (c *WSConnection) WritePacket(data []byte) error {
	if len(data) == 0 || len(data) > protocol.MaxPacketSize {
		return fmt.Errorf("invalid packet length: %d", len(data))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection is closed")
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	return nil
}

// Close sends a close frame and closes the socket.
func (c *WSConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

// RemoteAddr returns the remote address of the socket.
func (c *WSConnection) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// Transport returns "websocket".
func (c *WSConnection) Transport() string {
	return "websocket"
}

// WebsocketHandler upgrades HTTP requests and serves them on the hub for
// as long as ctx lives. An empty origin list accepts any origin.
func (h *Hub) WebsocketHandler(ctx context.Context, allowedOrigins []string) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
				return true
			}
			return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
			return
		}
		if err := h.Serve(ctx, NewWSConnection(ws)); err != nil {
			log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket peer ended")
		}
	}
}
