package gorilla

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bnema/possync/internal/ports"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Dialer opens realtime connections over gorilla/websocket.
type Dialer struct {
	HandshakeTimeout time.Duration
	// PongWait bounds how long the connection may stay silent; pings are sent
	// at nine tenths of it.
	PongWait time.Duration
}

var _ ports.SocketDialer = Dialer{}

func (d Dialer) Dial(ctx context.Context, rawURL string) (ports.SocketConn, error) {
	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = 10 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshake,
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime channel: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial realtime channel: %w", err)
	}

	wait := d.PongWait
	if wait <= 0 {
		wait = pongWait
	}
	return newConn(conn, wait), nil
}

// Conn is a ports.SocketConn that keeps the connection alive with pings.
type Conn struct {
	ws       *websocket.Conn
	pongWait time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

var _ ports.SocketConn = (*Conn)(nil)

func newConn(ws *websocket.Conn, wait time.Duration) *Conn {
	c := &Conn{ws: ws, pongWait: wait, done: make(chan struct{})}

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(wait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wait))
	})

	go c.pingLoop((wait * 9) / 10)
	return c
}

func (c *Conn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
		if kind == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *Conn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal closure frame and closes the socket.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		closeFrame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, closeFrame, time.Now().Add(writeWait))
		if closeErr := c.ws.Close(); closeErr != nil && !errors.Is(closeErr, websocket.ErrCloseSent) {
			err = closeErr
		}
	})
	return err
}

func (c *Conn) pingLoop(period time.Duration) {
	if period <= 0 {
		period = pingPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
