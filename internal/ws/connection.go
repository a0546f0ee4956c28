package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bingosuite/inspector/internal/journal"
	"github.com/bingosuite/inspector/internal/protocol"
)

const writeWait = 10 * time.Second

// Connection is one websocket client. It doubles as the bridge Sink of its
// session.
type Connection struct {
	id   string
	conn *websocket.Conn
	hub  *Hub
	log  zerolog.Logger

	mu        sync.Mutex
	send      chan string
	closed    bool
	closeCode int
	closeText string

	slow atomic.Bool
}

func NewConnection(conn *websocket.Conn, hub *Hub, id string, sendBuffer int) *Connection {
	c := &Connection{
		id:        id,
		conn:      conn,
		hub:       hub,
		log:       zerolog.Nop(),
		send:      make(chan string, sendBuffer),
		closeCode: websocket.CloseNormalClosure,
	}
	if hub != nil {
		c.log = hub.log.With().Str("connection", id).Logger()
	}
	return c
}

// SendResponse queues text for the write pump without blocking. A client
// that falls a full buffer behind is dropped.
func (c *Connection) SendResponse(text string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- text:
		c.mu.Unlock()
		if c.hub != nil {
			c.hub.record(c, journal.Outbound, text)
		}
	default:
		c.mu.Unlock()
		if c.slow.CompareAndSwap(false, true) {
			c.log.Warn().Msg("connection is slow; detaching")
			if c.hub != nil {
				go c.hub.Unregister(c)
			}
		}
	}
}

// CloseSend stops the write pump after it flushed what is queued.
func (c *Connection) CloseSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Reject closes the connection with a close frame carrying reason.
func (c *Connection) Reject(code int, reason string) {
	c.mu.Lock()
	if !c.closed {
		c.closeCode = code
		c.closeText = reason
	}
	c.mu.Unlock()
	c.CloseSend()
}

func (c *Connection) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil {
			c.log.Debug().Err(err).Msg("close error")
		}
	}()

	for {
		kind, data, err := c.conn.ReadMessage()
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("unexpected close")
			break
		}
		if err != nil {
			break
		}
		text := string(data)
		if kind == websocket.BinaryMessage {
			if text, err = protocol.DecodeFrame(data); err != nil {
				c.log.Warn().Err(err).Msg("dropped undecodable frame")
				continue
			}
		}
		c.hub.dispatch(c, text)
	}
}

func (c *Connection) WritePump() {
	defer func() {
		if err := c.conn.Close(); err != nil {
			c.log.Debug().Err(err).Msg("close error")
		}
	}()

	for text := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
			c.log.Warn().Err(err).Msg("write error")
			return
		}
	}
	c.mu.Lock()
	msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
	c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		c.log.Debug().Err(err).Msg("failed to send close frame")
	}
}
