package bridge

import (
	"errors"
	"sort"
	"strconv"

	"github.com/mafredri/cdp/protocol/debugger"
	"github.com/mafredri/cdp/protocol/runtime"

	"github.com/bingosuite/inspector/internal/debuggee"
	"github.com/bingosuite/inspector/internal/protocol"
	"github.com/bingosuite/inspector/internal/stringbuf"
	"github.com/bingosuite/inspector/internal/translate"
)

// DebuggerBackend is the capability surface of the Debugger domain.
type DebuggerBackend interface {
	Enable() error
	Disable() error
	Pause() error
	Resume() error
	StepInto() error
	StepOver() error
	StepOut() error
	SetBreakpoint(args debugger.SetBreakpointArgs) (SetBreakpointResult, error)
	SetBreakpointByURL(args debugger.SetBreakpointByURLArgs) (SetBreakpointByURLResult, error)
	RemoveBreakpoint(args debugger.RemoveBreakpointArgs) error
	SetBreakpointsActive(args debugger.SetBreakpointsActiveArgs) error
	GetScriptSource(args debugger.GetScriptSourceArgs) (GetScriptSourceResult, error)
	EvaluateOnCallFrame(args debugger.EvaluateOnCallFrameArgs) (translate.EvaluateResult, error)
}

type SetBreakpointResult struct {
	BreakpointID   debugger.BreakpointID `json:"breakpointId"`
	ActualLocation debugger.Location     `json:"actualLocation"`
}

type SetBreakpointByURLResult struct {
	BreakpointID debugger.BreakpointID `json:"breakpointId"`
	Locations    []debugger.Location   `json:"locations"`
}

type GetScriptSourceResult struct {
	ScriptSource stringbuf.String16 `json:"scriptSource"`
}

type pausedParams struct {
	CallFrames     []debugger.CallFrame  `json:"callFrames"`
	Reason         debuggee.PauseReason  `json:"reason"`
	Data           *runtime.RemoteObject `json:"data,omitempty"`
	HitBreakpoints []string              `json:"hitBreakpoints,omitempty"`
}

type debuggerDomain struct {
	l                 *Loop
	enabled           bool
	breakpointsActive bool
	// breakpoints set by the current session, by protocol id
	breakpoints map[debugger.BreakpointID][]debuggee.Breakpoint
	nextURLBP   int
}

var _ DebuggerBackend = (*debuggerDomain)(nil)

func newDebuggerDomain(l *Loop) *debuggerDomain {
	return &debuggerDomain{
		l:                 l,
		breakpointsActive: true,
		breakpoints:       make(map[debugger.BreakpointID][]debuggee.Breakpoint),
	}
}

func (d *debuggerDomain) Register(r *Registry, _ *Loop) {
	r.Handle("Debugger.enable", Do(d.Enable))
	r.Handle("Debugger.disable", Do(d.Disable))
	r.Handle("Debugger.pause", Do(d.Pause))
	r.Handle("Debugger.resume", Do(d.Resume))
	r.Handle("Debugger.stepInto", Do(d.StepInto))
	r.Handle("Debugger.stepOver", Do(d.StepOver))
	r.Handle("Debugger.stepOut", Do(d.StepOut))
	r.Handle("Debugger.setBreakpoint", Call(d.SetBreakpoint))
	r.Handle("Debugger.setBreakpointByUrl", Call(d.SetBreakpointByURL))
	r.Handle("Debugger.removeBreakpoint", Exec(d.RemoveBreakpoint))
	r.Handle("Debugger.setBreakpointsActive", Exec(d.SetBreakpointsActive))
	r.Handle("Debugger.getScriptSource", Call(d.GetScriptSource))
	r.Handle("Debugger.evaluateOnCallFrame", Call(d.EvaluateOnCallFrame))
	r.NotImplemented(
		"Debugger.setPauseOnExceptions",
		"Debugger.setAsyncCallStackDepth",
		"Debugger.setBlackboxPatterns",
		"Debugger.continueToLocation",
		"Debugger.restartFrame",
		"Debugger.setVariableValue",
		"Debugger.setSkipAllPauses",
		"Debugger.getPossibleBreakpoints",
	)
}

// Enable replays Debugger.scriptParsed for every script already loaded.
func (d *debuggerDomain) Enable() error {
	d.enabled = true
	scripts, err := d.l.dbg.Scripts()
	if err != nil {
		return err
	}
	for _, rec := range scripts {
		d.emitScriptParsed(rec)
	}
	return nil
}

func (d *debuggerDomain) Disable() error {
	d.enabled = false
	return nil
}

func (d *debuggerDomain) Pause() error {
	if d.l.paused != nil {
		return nil
	}
	return d.l.dbg.Pause()
}

func (d *debuggerDomain) Resume() error {
	if err := d.l.dbg.Resume(); err != nil {
		return err
	}
	d.l.resume()
	return nil
}

func (d *debuggerDomain) StepInto() error { return d.step(d.l.dbg.StepInto) }

func (d *debuggerDomain) StepOver() error { return d.step(d.l.dbg.StepOver) }

func (d *debuggerDomain) StepOut() error { return d.step(d.l.dbg.StepOut) }

// step needs a stopped debuggee: paused, or held in WaitForDebugger.
func (d *debuggerDomain) step(fn func() error) error {
	if d.l.paused == nil && !d.l.b.waiting.Load() {
		return debuggee.ErrNotPaused
	}
	if err := fn(); err != nil {
		return err
	}
	d.l.resume()
	return nil
}

func (d *debuggerDomain) SetBreakpoint(args debugger.SetBreakpointArgs) (SetBreakpointResult, error) {
	scriptID, err := strconv.Atoi(string(args.Location.ScriptID))
	if err != nil {
		return SetBreakpointResult{}, protocol.Errorf(protocol.CodeInvalidParams, "invalid scriptId %q", args.Location.ScriptID)
	}
	bp, err := d.l.dbg.SetBreakpoint(scriptID, args.Location.LineNumber, intOr(args.Location.ColumnNumber, 0))
	if err != nil {
		return SetBreakpointResult{}, err
	}
	id := debugger.BreakpointID(strconv.Itoa(bp.ID))
	d.breakpoints[id] = []debuggee.Breakpoint{bp}
	return SetBreakpointResult{BreakpointID: id, ActualLocation: location(bp)}, nil
}

// SetBreakpointByURL sets a breakpoint in every loaded script whose url
// matches exactly. Scripts loaded later are not bound.
func (d *debuggerDomain) SetBreakpointByURL(args debugger.SetBreakpointByURLArgs) (SetBreakpointByURLResult, error) {
	if args.URL == nil {
		return SetBreakpointByURLResult{}, protocol.Errorf(protocol.CodeInvalidParams, "url is required")
	}
	scripts, err := d.l.dbg.Scripts()
	if err != nil {
		return SetBreakpointByURLResult{}, err
	}

	var bound []debuggee.Breakpoint
	for _, rec := range scripts {
		url, err := translate.ScriptURL(rec)
		if err != nil || url != *args.URL {
			continue
		}
		scriptID, err := translate.ScriptID(rec)
		if err != nil {
			return SetBreakpointByURLResult{}, err
		}
		bp, err := d.l.dbg.SetBreakpoint(scriptID, args.LineNumber, intOr(args.ColumnNumber, 0))
		if err != nil {
			return SetBreakpointByURLResult{}, err
		}
		bound = append(bound, bp)
	}

	d.nextURLBP++
	id := debugger.BreakpointID(strconv.Itoa(d.nextURLBP) + ":" + *args.URL + ":" + strconv.Itoa(args.LineNumber))
	d.breakpoints[id] = bound
	locations := make([]debugger.Location, 0, len(bound))
	for _, bp := range bound {
		locations = append(locations, location(bp))
	}
	return SetBreakpointByURLResult{BreakpointID: id, Locations: locations}, nil
}

func (d *debuggerDomain) RemoveBreakpoint(args debugger.RemoveBreakpointArgs) error {
	bound, ok := d.breakpoints[args.BreakpointID]
	if !ok {
		return protocol.Errorf(protocol.CodeServerError, "unknown breakpoint %q", args.BreakpointID)
	}
	delete(d.breakpoints, args.BreakpointID)
	var errs []error
	for _, bp := range bound {
		if err := d.l.dbg.RemoveBreakpoint(bp.ID); err != nil && !errors.Is(err, debuggee.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *debuggerDomain) SetBreakpointsActive(args debugger.SetBreakpointsActiveArgs) error {
	d.breakpointsActive = args.Active
	return nil
}

func (d *debuggerDomain) GetScriptSource(args debugger.GetScriptSourceArgs) (GetScriptSourceResult, error) {
	id, err := strconv.Atoi(string(args.ScriptID))
	if err != nil {
		return GetScriptSourceResult{}, protocol.Errorf(protocol.CodeInvalidParams, "invalid scriptId %q", args.ScriptID)
	}
	rec, err := d.l.dbg.ScriptSource(id)
	if err != nil {
		return GetScriptSourceResult{}, err
	}
	src, err := debuggee.GetString(rec, debuggee.PropSource)
	if err != nil {
		return GetScriptSourceResult{}, err
	}
	return GetScriptSourceResult{ScriptSource: stringbuf.FromString(src)}, nil
}

func (d *debuggerDomain) EvaluateOnCallFrame(args debugger.EvaluateOnCallFrameArgs) (translate.EvaluateResult, error) {
	p := d.l.paused
	frame, err := p.Frame(args.CallFrameID)
	if err != nil {
		return translate.EvaluateResult{}, err
	}
	v, err := d.l.dbg.Evaluate(frame, args.Expression)
	return d.l.runtime.outcome(v, err)
}

// reset removes every breakpoint the session set.
func (d *debuggerDomain) reset() {
	ids := make([]string, 0, len(d.breakpoints))
	for id := range d.breakpoints {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := d.RemoveBreakpoint(debugger.RemoveBreakpointArgs{BreakpointID: debugger.BreakpointID(id)}); err != nil {
			d.l.log.Warn().Err(err).Str("breakpoint", id).Msg("failed to remove breakpoint")
		}
	}
	d.enabled = false
	d.breakpointsActive = true
}

func (d *debuggerDomain) emitPaused(p *PausedContext) {
	frames, err := p.CallFrames()
	if err != nil {
		d.l.log.Error().Err(err).Uint64("pause", p.generation).Msg("dropped Debugger.paused")
		return
	}
	params := pausedParams{CallFrames: frames, Reason: p.event.Reason}
	if p.event.Exception != nil {
		exc := translate.ResolveRemoteObject(p, *p.event.Exception)
		params.Data = &exc
	}
	for _, id := range p.event.HitBreakpoints {
		params.HitBreakpoints = append(params.HitBreakpoints, d.protocolBreakpointIDs(id)...)
	}
	d.l.Emit("Debugger", "paused", params)
}

func (d *debuggerDomain) emitResumed() {
	d.l.Emit("Debugger", "resumed", struct{}{})
}

func (d *debuggerDomain) emitScriptParsed(rec debuggee.Record) {
	if !d.enabled {
		return
	}
	info, err := translate.ScriptToScriptInfo(d.l.dbg, rec)
	if err != nil {
		d.l.log.Warn().Err(err).Msg("dropped Debugger.scriptParsed")
		return
	}
	d.l.Emit("Debugger", "scriptParsed", info.ScriptParsed(ExecutionContextID))
}

// protocolBreakpointIDs maps an engine breakpoint to the protocol ids bound to it.
func (d *debuggerDomain) protocolBreakpointIDs(engineID int) []string {
	var ids []string
	for id, bound := range d.breakpoints {
		for _, bp := range bound {
			if bp.ID == engineID {
				ids = append(ids, string(id))
			}
		}
	}
	sort.Strings(ids)
	return ids
}

func location(bp debuggee.Breakpoint) debugger.Location {
	column := bp.Column
	return debugger.Location{
		ScriptID:     runtime.ScriptID(strconv.Itoa(bp.ScriptID)),
		LineNumber:   bp.Line,
		ColumnNumber: &column,
	}
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
