package bridge

import (
	"errors"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/bingosuite/inspector/internal/debuggee"
	"github.com/bingosuite/inspector/internal/protocol"
)

// Loop is the debuggee-side half of the bridge. All of its methods must be
// called from the debuggee goroutine; it implements debuggee.Events.
type Loop struct {
	b   *Bridge
	dbg debuggee.Debuggee
	log zerolog.Logger

	registry *Registry
	console  *consoleDomain
	runtime  *runtimeDomain
	debugger *debuggerDomain

	sess        *session
	paused      *PausedContext
	generation  uint64
	resumed     bool
	dispatching bool
	// announceResume defers Debugger.resumed until the resuming command
	// has been answered.
	announceResume bool
}

var _ debuggee.Events = (*Loop)(nil)

func newLoop(b *Bridge) *Loop {
	l := &Loop{
		b:        b,
		dbg:      b.dbg,
		log:      b.log,
		registry: newRegistry(),
	}
	l.console = &consoleDomain{l: l}
	l.runtime = &runtimeDomain{l: l}
	l.debugger = newDebuggerDomain(l)

	for _, d := range []Domain{schemaDomain{}, l.console, l.runtime, l.debugger} {
		d.Register(l.registry, l)
	}
	for _, d := range b.domains {
		d.Register(l.registry, l)
	}
	return l
}

// Release returns the Loop to the bridge. The current session is left
// connected, but nothing services it until another Loop is acquired.
func (l *Loop) Release() {
	l.endSession()
	l.b.held.Store(false)
}

// Debuggee returns the engine this loop drives.
func (l *Loop) Debuggee() debuggee.Debuggee { return l.dbg }

// Paused returns the current pause, or nil while running.
func (l *Loop) Paused() *PausedContext { return l.paused }

// ProcessCommandQueue drains the command queue and dispatches every command
// in order. With wait set and nothing queued it blocks until a command
// arrives, the session ends or the bridge is woken.
func (l *Loop) ProcessCommandQueue(wait bool) {
	l.syncSession()
	batch, _ := l.b.queue.Drain(wait)
	// Drain may have been woken by a new session.
	l.syncSession()
	if l.sess == nil {
		return
	}
	for _, raw := range batch {
		l.dispatch(raw)
	}
}

// WaitForDebugger blocks until a client resumes the debuggee, the session
// disconnects, or RunIfWaitingForDebugger is called. Commands are serviced
// while waiting. Without a session it first waits for one to connect.
func (l *Loop) WaitForDebugger() {
	l.b.waiting.Store(true)
	defer l.b.waiting.Store(false)

	attached := false
	for l.b.waiting.Load() {
		if l.b.current() == nil {
			if attached {
				return
			}
			l.b.queue.WaitOpen()
			continue
		}
		attached = true
		l.ProcessCommandQueue(true)
	}
	l.log.Debug().Msg("released from wait for debugger")
}

// Poll services queued commands without blocking. The engine calls it at
// safe points while running.
func (l *Loop) Poll() {
	if l.dispatching {
		return
	}
	if l.b.queue.Len() == 0 && l.b.current() == l.sess {
		return
	}
	l.ProcessCommandQueue(false)
}

// OnPause runs the pause handshake: it reports the stop, services commands
// until a resume-class command or the end of the session, then invalidates
// every id handed out during the stop.
func (l *Loop) OnPause(ev debuggee.PauseEvent) {
	if l.dispatching {
		// A pause raised by code the bridge itself is running, e.g. evaluate.
		return
	}
	l.syncSession()
	sess := l.sess
	if sess == nil || (ev.Reason == debuggee.ReasonBreakpoint && !l.debugger.breakpointsActive) {
		l.resumeEngine()
		return
	}

	l.generation++
	ctx, err := newPausedContext(l.dbg, l.generation, ev)
	if err != nil {
		l.log.Error().Err(err).Msg("failed to enter pause")
		l.resumeEngine()
		return
	}
	l.paused = ctx
	l.resumed = false
	l.log.Debug().Uint64("pause", ctx.generation).Str("reason", string(ev.Reason)).Int("frames", ctx.frameCount).Msg("paused")

	l.debugger.emitPaused(ctx)
	for !l.resumed && l.sess == sess {
		l.ProcessCommandQueue(true)
	}

	// The session ended without a resume; the pause is still open.
	if l.paused == ctx {
		l.leavePause()
	}
}

// OnScriptParsed reports a newly loaded script.
func (l *Loop) OnScriptParsed(script debuggee.Record) {
	l.syncSession()
	if l.sess == nil {
		return
	}
	l.debugger.emitScriptParsed(script)
}

// OnConsole reports script console output.
func (l *Loop) OnConsole(level string, args []debuggee.Value) {
	l.syncSession()
	if l.sess == nil {
		return
	}
	l.runtime.emitConsoleAPICalled(level, args)
	l.console.emitMessageAdded(level, args)
}

// resume marks the current pause or wait as finished. Resume-class handlers
// call it after the engine accepted the command.
func (l *Loop) resume() {
	l.resumed = true
	l.b.waiting.Store(false)
	if l.paused != nil {
		l.leavePause()
		l.announceResume = true
	}
}

// leavePause destroys the open pause. Ids it handed out stop resolving
// before any later command of the same batch runs.
func (l *Loop) leavePause() {
	l.paused.Close()
	l.paused = nil
	l.dbg.ReleaseHandles()
}

func (l *Loop) resumeEngine() {
	if err := l.dbg.Resume(); err != nil {
		l.log.Warn().Err(err).Msg("failed to resume debuggee")
	}
}

// syncSession notices Connect and Disconnect calls made by the transport.
func (l *Loop) syncSession() {
	s := l.b.current()
	if s == l.sess {
		return
	}
	l.endSession()
	l.sess = s
	if s == nil {
		return
	}
	if s.breakOnNextLine {
		if err := l.dbg.Pause(); err != nil {
			l.log.Warn().Err(err).Msg("failed to request break on next line")
		}
	}
}

// endSession drops all per-session dispatch state. A pause in progress is
// abandoned and the engine let run free.
func (l *Loop) endSession() {
	if l.sess == nil {
		return
	}
	if l.paused != nil {
		l.resumeEngine()
	}
	l.debugger.reset()
	l.runtime.reset()
	l.console.reset()
	l.sess = nil
}

func (l *Loop) dispatch(raw string) {
	cmd, err := protocol.ParseCommand(raw)
	if err != nil {
		var failure *protocol.Failure
		if errors.As(err, &failure) {
			l.respond(protocol.Response{ID: failure.ID, Error: failure.Err})
			return
		}
		l.respond(protocol.Response{Error: protocol.AsError(err)})
		return
	}

	h, ok := l.registry.Lookup(cmd.Name())
	if !ok {
		l.respond(protocol.Response{ID: cmd.ID, Error: protocol.MethodNotFound(cmd.Name())})
		return
	}

	result, err := l.invoke(h, cmd)
	if err != nil {
		l.log.Debug().Err(err).Str("method", cmd.Name()).Msg("command failed")
		l.respond(protocol.Response{ID: cmd.ID, Error: protocol.AsError(err)})
		return
	}
	l.respond(protocol.Response{ID: cmd.ID, Result: result})
}

func (l *Loop) invoke(h HandlerFunc, cmd protocol.Command) (result any, err error) {
	l.dispatching = true
	defer func() {
		l.dispatching = false
		if r := recover(); r != nil {
			l.log.Error().Str("method", cmd.Name()).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("handler panicked")
			result, err = nil, protocol.Errorf(protocol.CodeInternalError, "internal error in %s: %v", cmd.Name(), r)
		}
	}()
	return h(cmd)
}

func (l *Loop) respond(r protocol.Response) {
	text, err := protocol.EncodeResponse(r)
	if err != nil {
		l.log.Error().Err(err).Msg("failed to encode response")
		text, _ = protocol.EncodeResponse(protocol.Response{
			ID:    r.ID,
			Error: protocol.Errorf(protocol.CodeInternalError, "failed to encode result"),
		})
	}
	l.send(text)
	if l.announceResume {
		l.announceResume = false
		l.debugger.emitResumed()
	}
}

// Emit sends a notification to the current session.
func (l *Loop) Emit(domain, method string, params any) {
	text, err := protocol.EncodeNotification(protocol.Notification{Domain: domain, Method: method, Params: params})
	if err != nil {
		l.log.Error().Err(err).Msg("dropped notification")
		return
	}
	l.send(text)
}

func (l *Loop) send(text string) {
	if l.sess == nil {
		return
	}
	l.sess.sink.SendResponse(text)
}

// pausedContext returns the open pause, or an error for commands that need one.
func (l *Loop) pausedContext() (*PausedContext, error) {
	if l.paused == nil {
		return nil, debuggee.ErrNotPaused
	}
	return l.paused, nil
}
