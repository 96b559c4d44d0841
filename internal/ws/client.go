// Package ws owns the websocket transport of a participant connection: a
// bounded outbound queue plus the read and write pumps.
package ws

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultSendQueue      = 256
	DefaultWriteWait      = 10 * time.Second
	DefaultPongWait       = 60 * time.Second
	DefaultMaxMessageSize = 1 << 20
)

// Handler receives every inbound frame of a connection, in order, on the
// connection's read goroutine
type Handler interface {
	HandleMessage(c *Client, message []byte)
	Disconnect(c *Client)
}

// Options tunes the pumps. Zero values use the defaults.
type Options struct {
	SendQueue      int
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	Logger         *log.Logger
}

func (o Options) withDefaults() Options {
	if o.SendQueue <= 0 {
		o.SendQueue = DefaultSendQueue
	}
	if o.WriteWait <= 0 {
		o.WriteWait = DefaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = DefaultPongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	if o.Logger == nil {
		o.Logger = log.Default().WithPrefix("WS")
	}
	return o
}

// Client is one websocket connection. ID is the participant id for the
// lifetime of the connection.
type Client struct {
	ID   string
	Conn *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	opts      Options
	log       *log.Logger
}

// NewClient wraps conn with a fresh participant id
func NewClient(conn *websocket.Conn, opts Options) *Client {
	opts = opts.withDefaults()
	id := uuid.New().String()
	return &Client{
		ID:   id,
		Conn: conn,
		send: make(chan []byte, opts.SendQueue),
		done: make(chan struct{}),
		opts: opts,
		log:  opts.Logger.With("participant", id),
	}
}

// Send queues a frame without blocking. It reports false when the queue is
// full or the client is closed.
func (c *Client) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close stops the write pump. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// WritePump drains the send queue onto the socket and keeps the peer alive
// with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("Write failed", "err", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// ReadPump reads frames until the connection fails and hands each to h.
// On exit the client is disconnected from h and closed.
func (c *Client) ReadPump(h Handler) {
	defer func() {
		h.Disconnect(c)
		c.Close()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.opts.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("WebSocket error", "err", err)
			}
			break
		}

		h.HandleMessage(c, message)
	}
}
