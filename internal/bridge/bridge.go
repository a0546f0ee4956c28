// Package bridge connects a remote protocol client to a Debuggee.
//
// Transport goroutines talk to a Bridge: they connect, disconnect and enqueue
// raw commands. The debuggee goroutine owns the single Loop obtained through
// Acquire, and only the Loop drains commands, dispatches them and touches the
// Debuggee.
package bridge

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/bingosuite/inspector/internal/debuggee"
	"github.com/bingosuite/inspector/internal/queue"
	"github.com/bingosuite/inspector/internal/stringbuf"
)

var (
	ErrAlreadyConnected = errors.New("bridge: a session is already connected")
	ErrLoopHeld         = errors.New("bridge: the debuggee loop is already held")
)

// Sink receives every encoded response and notification of a session. It is
// called on the debuggee goroutine and must hand the text off quickly.
type Sink interface {
	SendResponse(text string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(text string)

func (f SinkFunc) SendResponse(text string) { f(text) }

type session struct {
	id              uint64
	sink            Sink
	breakOnNextLine bool
}

type Bridge struct {
	dbg   debuggee.Debuggee
	queue *queue.Queue
	log   zerolog.Logger

	domains []Domain

	// connectMu serializes Connect and Disconnect; the Loop reads the current
	// session without it.
	connectMu sync.Mutex
	session   atomic.Pointer[session]
	sessionID atomic.Uint64

	waiting atomic.Bool
	held    atomic.Bool
}

type Option func(*Bridge)

func WithLogger(log zerolog.Logger) Option {
	return func(b *Bridge) {
		b.log = log.With().Str("component", "bridge").Logger()
	}
}

// WithDomains registers additional domain backends after the built-in ones.
// A later registration of the same Domain.method replaces an earlier one.
func WithDomains(domains ...Domain) Option {
	return func(b *Bridge) {
		b.domains = append(b.domains, domains...)
	}
}

func New(d debuggee.Debuggee, opts ...Option) *Bridge {
	b := &Bridge{
		dbg:   d,
		queue: queue.New(),
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	// Commands are only accepted while a session is connected.
	b.queue.Close()
	return b
}

// Acquire hands out the Loop. Only one Loop may exist at a time, and it must
// only be used from the goroutine that runs the debuggee.
func (b *Bridge) Acquire() (*Loop, error) {
	if !b.held.CompareAndSwap(false, true) {
		return nil, ErrLoopHeld
	}
	return newLoop(b), nil
}

// Connect starts a session. With breakOnNextLine set the debuggee is asked to
// pause before its next statement.
func (b *Bridge) Connect(breakOnNextLine bool, sink Sink) error {
	b.connectMu.Lock()
	defer b.connectMu.Unlock()

	if b.session.Load() != nil {
		return ErrAlreadyConnected
	}
	s := &session{
		id:              b.sessionID.Add(1),
		sink:            sink,
		breakOnNextLine: breakOnNextLine,
	}
	b.queue.Open()
	b.session.Store(s)
	b.queue.Wake()
	b.log.Info().Uint64("session", s.id).Bool("break_on_next_line", breakOnNextLine).Msg("session connected")
	return nil
}

// Disconnect ends the current session. Queued commands are discarded and a
// debuggee goroutine blocked waiting for commands is released. Safe to call
// at any time from any goroutine.
func (b *Bridge) Disconnect() {
	b.connectMu.Lock()
	defer b.connectMu.Unlock()

	s := b.session.Load()
	if s == nil {
		return
	}
	b.session.Store(nil)
	b.waiting.Store(false)
	b.queue.Close()
	b.log.Info().Uint64("session", s.id).Msg("session disconnected")
}

// Connected reports whether a session is active.
func (b *Bridge) Connected() bool {
	return b.session.Load() != nil
}

// SendCommand enqueues a raw command. It never blocks; commands sent while
// no session is connected are dropped.
func (b *Bridge) SendCommand(raw string) {
	if !b.queue.Push(raw) {
		b.log.Debug().Msg("dropped command: no session")
	}
}

// SendCommandUTF16 enqueues a command received as UTF-16 text.
func (b *Bridge) SendCommandUTF16(raw stringbuf.String16) {
	b.SendCommand(raw.String())
}

// RunIfWaitingForDebugger releases a debuggee goroutine blocked in
// WaitForDebugger without going through the command stream.
func (b *Bridge) RunIfWaitingForDebugger() {
	b.waiting.Store(false)
	b.queue.Wake()
}

func (b *Bridge) current() *session {
	return b.session.Load()
}
