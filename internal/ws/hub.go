package ws

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bingosuite/inspector/internal/journal"
)

const hubTickerInterval = 1 * time.Minute

var (
	ErrTargetBusy = errors.New("target already has a debugger attached")
	ErrHubStopped = errors.New("target is shutting down")
)

type registration struct {
	connection *Connection
	result     chan error
}

// Hub owns one target: its bridge and the single connection attached to it.
type Hub struct {
	targetID        string
	title           string
	url             string
	bridge          Bridge
	breakOnNextLine bool
	journal         Recorder
	log             zerolog.Logger

	connection *Connection

	register   chan registration
	unregister chan *Connection
	stop       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once

	onShutdown func(targetID string) // callback for shutdown on server

	// idle detection
	idleTimeout  time.Duration
	tickInterval time.Duration
	lastActivity time.Time

	mu sync.RWMutex
}

func NewHub(targetID string, b Bridge, idleTimeout time.Duration, log zerolog.Logger) *Hub {
	return &Hub{
		targetID:     targetID,
		bridge:       b,
		log:          log.With().Str("component", "hub").Str("target", targetID).Logger(),
		register:     make(chan registration),
		unregister:   make(chan *Connection),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		idleTimeout:  idleTimeout,
		tickInterval: hubTickerInterval,
		lastActivity: time.Now(),
	}
}

func (h *Hub) Run() {
	defer close(h.done)
	ticker := time.NewTicker(h.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.mu.RLock()
			idle := h.idleTimeout > 0 && h.connection == nil && time.Since(h.lastActivity) > h.idleTimeout
			h.mu.RUnlock()
			if idle {
				h.log.Info().Dur("idle_timeout", h.idleTimeout).Msg("target idle, shutting down")
				h.shutdown()
				return
			}

		case reg := <-h.register:
			reg.result <- h.attach(reg.connection)

		case c := <-h.unregister:
			h.detach(c)

		case <-h.stop:
			h.mu.RLock()
			c := h.connection
			h.mu.RUnlock()
			if c != nil {
				h.detach(c)
			}
			h.shutdown()
			return
		}
	}
}

// Register attaches a connection and starts a bridge session for it. A
// target takes one connection at a time; others are closed with a reason.
func (h *Hub) Register(c *Connection) error {
	reg := registration{connection: c, result: make(chan error, 1)}
	select {
	case h.register <- reg:
		return <-reg.result
	case <-h.done:
		c.Reject(websocket.CloseGoingAway, ErrHubStopped.Error())
		return ErrHubStopped
	}
}

func (h *Hub) Unregister(c *Connection) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Stop detaches the client, if any, and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

// Done is closed once the hub has shut down.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) TargetID() string {
	return h.targetID
}

// Attached reports whether a client currently holds the target.
func (h *Hub) Attached() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connection != nil
}

func (h *Hub) attach(c *Connection) error {
	h.mu.RLock()
	busy := h.connection != nil
	h.mu.RUnlock()
	if busy {
		h.log.Warn().Str("connection", c.id).Msg("rejected second connection")
		c.Reject(websocket.CloseTryAgainLater, ErrTargetBusy.Error())
		return ErrTargetBusy
	}
	if err := h.bridge.Connect(h.breakOnNextLine, c); err != nil {
		h.log.Error().Err(err).Str("connection", c.id).Msg("bridge refused session")
		c.Reject(websocket.CloseTryAgainLater, err.Error())
		return fmt.Errorf("failed to start session: %w", err)
	}

	h.mu.Lock()
	h.connection = c
	h.lastActivity = time.Now()
	h.mu.Unlock()
	h.log.Info().Str("connection", c.id).Msg("client attached")
	return nil
}

func (h *Hub) detach(c *Connection) {
	h.mu.Lock()
	if h.connection != c {
		h.mu.Unlock()
		return
	}
	h.connection = nil
	h.lastActivity = time.Now()
	h.mu.Unlock()

	h.bridge.Disconnect()
	c.CloseSend()
	h.log.Info().Str("connection", c.id).Msg("client detached")
}

// dispatch forwards an inbound command from c to the bridge. Text from a
// connection that is not attached is dropped.
func (h *Hub) dispatch(c *Connection, text string) {
	h.mu.RLock()
	current := h.connection == c
	h.mu.RUnlock()
	if !current {
		return
	}
	h.record(c, journal.Inbound, text)
	h.bridge.SendCommand(text)
}

func (h *Hub) record(c *Connection, dir journal.Direction, text string) {
	if h.journal != nil {
		h.journal.Record(c.id, dir, text)
	}
}

func (h *Hub) target() Target {
	return Target{
		Description: "lua script",
		ID:          h.targetID,
		Title:       h.title,
		Type:        targetType,
		URL:         h.url,
	}
}

func (h *Hub) shutdown() {
	if h.onShutdown != nil {
		h.onShutdown(h.targetID)
	}
}
