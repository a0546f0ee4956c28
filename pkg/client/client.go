// Package client is a small CDP client for the inspector. Commands are
// correlated with their responses by id; notifications are delivered on
// Events.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/bingosuite/inspector/internal/ws"
)

var ErrClosed = errors.New("client: connection closed")

type State string

const (
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Error is a protocol error returned by the inspector.
type Error struct {
	Code    int64
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// Event is a notification from the inspector.
type Event struct {
	Method string
	Params gjson.Result
}

type Client struct {
	conn *websocket.Conn
	log  zerolog.Logger

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan gjson.Result

	send   chan []byte
	events chan Event
	done   chan struct{}
	once   sync.Once

	state  atomic.Value // State
	paused atomic.Value // gjson.Result of the last Debugger.paused
}

type Option func(*Client)

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log.With().Str("component", "client").Logger() }
}

// Dial connects to a target's webSocketDebuggerUrl.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial error: %w", err)
	}

	c := &Client{
		conn:    conn,
		log:     zerolog.Nop(),
		pending: make(map[int64]chan gjson.Result),
		send:    make(chan []byte, 256),
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Store(StateRunning)
	c.paused.Store(gjson.Result{})

	go c.readPump()
	go c.writePump()
	return c, nil
}

// Targets lists the targets served at addr (host:port).
func Targets(ctx context.Context, addr string) ([]ws.Target, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/json/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list targets: %s", resp.Status)
	}

	var targets []ws.Target
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, fmt.Errorf("failed to decode targets: %w", err)
	}
	return targets, nil
}

func (c *Client) readPump() {
	defer func() {
		c.shutdown()
		close(c.events)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("websocket error")
			}
			return
		}
		c.handleMessage(gjson.ParseBytes(data))
	}
}

func (c *Client) writePump() {
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Warn().Err(err).Msg("write error")
				c.shutdown()
				return
			}
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = c.conn.Close()
			return
		}
	}
}

func (c *Client) handleMessage(msg gjson.Result) {
	if id := msg.Get("id"); id.Exists() {
		c.mu.Lock()
		ch, ok := c.pending[id.Int()]
		delete(c.pending, id.Int())
		c.mu.Unlock()
		if ok {
			ch <- msg
		} else {
			c.log.Debug().Int64("id", id.Int()).Msg("response without a caller")
		}
		return
	}

	method := msg.Get("method").String()
	switch method {
	case "Debugger.paused":
		c.paused.Store(msg.Get("params"))
		c.state.Store(StatePaused)
	case "Debugger.resumed":
		c.paused.Store(gjson.Result{})
		c.state.Store(StateRunning)
	}
	select {
	case c.events <- Event{Method: method, Params: msg.Get("params")}:
	default:
		c.log.Warn().Str("method", method).Msg("event dropped: nobody is reading")
	}
}

// Call sends a command and waits for its response. params may be nil or
// anything encoding/json accepts.
func (c *Client) Call(ctx context.Context, method string, params any) (gjson.Result, error) {
	id := c.nextID.Add(1)
	msg, err := sjson.Set(`{}`, "id", id)
	if err == nil {
		msg, err = sjson.Set(msg, "method", method)
	}
	if err == nil && params != nil {
		msg, err = sjson.Set(msg, "params", params)
	}
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to encode %s: %w", method, err)
	}

	ch := make(chan gjson.Result, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	select {
	case c.send <- []byte(msg):
	case <-c.done:
		forget()
		return gjson.Result{}, ErrClosed
	case <-ctx.Done():
		forget()
		return gjson.Result{}, ctx.Err()
	}

	select {
	case res := <-ch:
		if e := res.Get("error"); e.Exists() {
			return gjson.Result{}, &Error{Code: e.Get("code").Int(), Message: e.Get("message").String()}
		}
		return res.Get("result"), nil
	case <-c.done:
		forget()
		return gjson.Result{}, ErrClosed
	case <-ctx.Done():
		forget()
		return gjson.Result{}, ctx.Err()
	}
}

// Events delivers notifications in arrival order. It is closed when the
// connection ends. Notifications are dropped while the buffer is full.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) State() State {
	return c.state.Load().(State)
}

// Paused returns the params of the current Debugger.paused notification.
// The result does not exist while running.
func (c *Client) Paused() gjson.Result {
	return c.paused.Load().(gjson.Result)
}

func (c *Client) shutdown() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) Close() error {
	c.shutdown()
	return nil
}
