package websocket

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second
)

var errLagging = errors.New("client fell behind")

// Client is one connection of one user. The channel is server-to-client
// only; frames sent by the browser are discarded.
type Client struct {
	hub     *Hub
	conn    *ws.Conn
	userID  int64
	send    chan []byte
	lagging atomic.Bool
}

func NewClient(hub *Hub, conn *ws.Conn, userID int64) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
	}
}

// Run serves the connection until the peer leaves, ctx ends, or the client
// misses a message. A lagging client is disconnected so it reconnects and
// reloads instead of showing stale data.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	err := c.write(c.conn.CloseRead(ctx))
	switch {
	case errors.Is(err, errLagging):
		c.conn.Close(ws.StatusPolicyViolation, "too slow, reconnect")
	case err == nil || errors.Is(err, context.Canceled):
		c.conn.Close(ws.StatusNormalClosure, "")
	default:
		c.conn.CloseNow()
	}
}

func (c *Client) write(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		if c.lagging.Load() {
			return errLagging
		}
		select {
		case msg, ok := <-c.send:
			if !ok {
				return nil
			}
			if err := c.writeFrame(ctx, msg); err != nil {
				return err
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) writeFrame(ctx context.Context, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, ws.MessageText, msg)
}
