// Package luavm runs Lua scripts on gopher-lua and exposes them as a
// debuggee.
//
// gopher-lua has no line hooks, so scripts are instrumented at load time:
// every statement is preceded by a call into the engine, which is where
// breakpoints, stepping and command polling happen.
package luavm

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/bingosuite/inspector/internal/debuggee"
)

type stepMode int

const (
	stepNone stepMode = iota
	stepInto
	stepOver
	stepOut
)

type position struct {
	scriptID int
	line     int
}

type script struct {
	id     int
	name   string
	source string
	proto  *lua.FunctionProto
	// lines holds the 1-based lines that start a statement, ascending.
	lines []int
}

func (s *script) lineCount() int {
	return strings.Count(s.source, "\n") + 1
}

func (s *script) statementAtOrAfter(line int) (int, bool) {
	i := sort.SearchInts(s.lines, line)
	if i == len(s.lines) {
		return 0, false
	}
	return s.lines[i], true
}

func (s *script) record() debuggee.Fields {
	rec := debuggee.Fields{
		debuggee.PropScriptID:   debuggee.Int(s.id),
		debuggee.PropScriptType: debuggee.String("script"),
		debuggee.PropLineCount:  debuggee.Int(s.lineCount()),
	}
	if s.name != "" {
		rec[debuggee.PropFileName] = debuggee.String(s.name)
	}
	return rec
}

// Engine is a single Lua state driven by one goroutine. All methods must be
// called from that goroutine; the bridge does so from Events callbacks.
type Engine struct {
	L      *lua.LState
	log    zerolog.Logger
	out    io.Writer
	events debuggee.Events

	statementLimit int
	callStackSize  int
	executed       int

	scripts    map[int]*script
	protos     map[*lua.FunctionProto]int
	nextScript int

	breakpoints map[int]debuggee.Breakpoint
	nextBP      int

	pauseRequested bool
	step           stepMode
	stepDepth      int
	last           position

	paused     bool
	evaluating bool
	thread     *lua.LState
	frames     []frame

	handles    map[int]lua.LValue
	handleOf   map[lua.LValue]int
	functions  map[int]debuggee.Fields
	nextHandle int

	onError *lua.LFunction
}

var _ debuggee.Debuggee = (*Engine)(nil)

type Option func(*Engine)

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = log.With().Str("component", "luavm").Logger()
	}
}

// WithOutput sets where print writes. Output is discarded by default.
func WithOutput(w io.Writer) Option {
	return func(e *Engine) {
		e.out = w
	}
}

// WithStatementLimit aborts a run after n statements. Zero means no limit.
func WithStatementLimit(n int) Option {
	return func(e *Engine) {
		e.statementLimit = n
	}
}

func WithCallStackSize(n int) Option {
	return func(e *Engine) {
		e.callStackSize = n
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		log:           zerolog.Nop(),
		out:           io.Discard,
		callStackSize: lua.CallStackSize,
		scripts:       make(map[int]*script),
		protos:        make(map[*lua.FunctionProto]int),
		breakpoints:   make(map[int]debuggee.Breakpoint),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resetHandles()

	e.L = lua.NewState(lua.Options{SkipOpenLibs: true, CallStackSize: e.callStackSize})
	openSafeLibraries(e.L)
	e.L.SetGlobal(hookName, e.L.NewFunction(e.statement))
	e.L.SetGlobal("print", e.L.NewFunction(e.print))
	e.L.SetGlobal("debugger", e.L.NewFunction(e.debuggerStatement))
	e.onError = e.L.NewFunction(e.uncaught)
	return e
}

// openSafeLibraries opens the libraries that cannot reach the host.
func openSafeLibraries(L *lua.LState) {
	for _, open := range []lua.LGFunction{lua.OpenBase, lua.OpenTable, lua.OpenString, lua.OpenMath} {
		L.Pop(open(L))
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// SetEvents connects the engine to the bridge. It must be called before Load
// for scriptParsed notifications to be delivered.
func (e *Engine) SetEvents(ev debuggee.Events) {
	e.events = ev
}

func (e *Engine) Close() {
	e.L.Close()
}

// Load parses and instruments source and returns its script id. Nothing runs
// until Run is called.
func (e *Engine) Load(name, source string) (int, error) {
	chunkName := name
	if chunkName == "" {
		chunkName = "eval"
	}
	chunk, err := parse.Parse(strings.NewReader(source), chunkName)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", chunkName, err)
	}

	id := e.nextScript + 1
	chunk, lineSet := instrument(chunk, id)
	proto, err := lua.Compile(chunk, chunkName)
	if err != nil {
		return 0, fmt.Errorf("failed to compile %s: %w", chunkName, err)
	}
	e.nextScript = id

	lines := make([]int, 0, len(lineSet))
	for line := range lineSet {
		lines = append(lines, line)
	}
	sort.Ints(lines)

	s := &script{id: id, name: name, source: source, proto: proto, lines: lines}
	e.scripts[id] = s
	e.indexProto(proto, id)

	e.log.Debug().Int("script", id).Str("name", name).Int("statements", len(lines)).Msg("Loaded script")
	if e.events != nil {
		e.events.OnScriptParsed(s.record())
	}
	return id, nil
}

func (e *Engine) indexProto(p *lua.FunctionProto, id int) {
	e.protos[p] = id
	for _, child := range p.FunctionPrototypes {
		e.indexProto(child, id)
	}
}

// Unload forgets a script and its breakpoints.
func (e *Engine) Unload(id int) error {
	s, ok := e.scripts[id]
	if !ok {
		return fmt.Errorf("script %d: %w", id, debuggee.ErrNotFound)
	}
	delete(e.scripts, id)
	for p, sid := range e.protos {
		if sid == id {
			delete(e.protos, p)
		}
	}
	for bpID, bp := range e.breakpoints {
		if bp.ScriptID == id {
			delete(e.breakpoints, bpID)
		}
	}
	e.log.Debug().Int("script", id).Str("name", s.name).Msg("Unloaded script")
	return nil
}

// Run executes a loaded script to completion. Cancelling ctx aborts the run
// at the next instruction.
func (e *Engine) Run(ctx context.Context, id int) error {
	s, ok := e.scripts[id]
	if !ok {
		return fmt.Errorf("script %d: %w", id, debuggee.ErrNotFound)
	}
	L := e.L
	L.SetContext(ctx)
	defer L.RemoveContext()

	e.executed = 0
	e.last = position{}
	top := L.GetTop()
	L.Push(L.NewFunctionFromProto(s.proto))
	err := L.PCall(0, 0, e.onError)
	L.SetTop(top)
	if err != nil {
		return fmt.Errorf("failed to run %s: %w", s.name, err)
	}
	return nil
}

// statement is the hook every instrumented statement calls with its line
// and script id.
func (e *Engine) statement(L *lua.LState) int {
	if e.evaluating {
		return 0
	}
	line := L.CheckInt(1)
	scriptID := L.CheckInt(2)

	e.executed++
	if e.statementLimit > 0 && e.executed > e.statementLimit {
		L.RaiseError("statement limit of %d exceeded", e.statementLimit)
	}
	if e.events != nil {
		e.events.Poll()
	}

	at := position{scriptID: scriptID, line: line - 1}
	entering := at != e.last
	e.last = at
	if ev, ok := e.shouldPause(L, at, entering); ok {
		e.pause(L, ev, nil)
	}
	return 0
}

func (e *Engine) shouldPause(L *lua.LState, at position, entering bool) (debuggee.PauseEvent, bool) {
	if e.pauseRequested {
		return debuggee.PauseEvent{Reason: debuggee.ReasonOther}, true
	}
	if entering {
		if hits := e.hits(at); len(hits) > 0 {
			return debuggee.PauseEvent{Reason: debuggee.ReasonBreakpoint, HitBreakpoints: hits}, true
		}
	}
	step := debuggee.PauseEvent{Reason: debuggee.ReasonStep}
	switch e.step {
	case stepInto:
		return step, true
	case stepOver:
		return step, e.depth(L) <= e.stepDepth
	case stepOut:
		return step, e.depth(L) < e.stepDepth
	}
	return debuggee.PauseEvent{}, false
}

func (e *Engine) hits(at position) []int {
	var ids []int
	for id, bp := range e.breakpoints {
		if bp.ScriptID == at.scriptID && bp.Line == at.line {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// pause blocks in OnPause until the client resumes or steps.
func (e *Engine) pause(L *lua.LState, ev debuggee.PauseEvent, exception lua.LValue) {
	e.pauseRequested = false
	e.step = stepNone
	e.thread = L
	e.frames = e.capture(L)
	e.paused = true
	defer func() {
		e.paused = false
		e.frames = nil
		e.thread = nil
	}()

	if exception != nil {
		v := e.value(exception)
		ev.Exception = &v
	}
	e.log.Debug().Str("reason", string(ev.Reason)).Int("frames", len(e.frames)).Msg("Paused")
	if e.events != nil {
		e.events.OnPause(ev)
	}
}

func (e *Engine) debuggerStatement(L *lua.LState) int {
	if !e.evaluating {
		e.pause(L, debuggee.PauseEvent{Reason: debuggee.ReasonDebugCommand}, nil)
	}
	return 0
}

// uncaught is the error handler of Run; it stops on the failing statement
// before the stack unwinds.
func (e *Engine) uncaught(L *lua.LState) int {
	obj := L.Get(1)
	if ctx := e.L.Context(); ctx == nil || ctx.Err() == nil {
		e.pause(L, debuggee.PauseEvent{Reason: debuggee.ReasonException}, obj)
	}
	L.Push(obj)
	return 1
}

func (e *Engine) print(L *lua.LState) int {
	n := L.GetTop()
	args := make([]debuggee.Value, 0, n)
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		lv := L.Get(i)
		args = append(args, e.value(lv))
		parts = append(parts, lv.String())
	}
	fmt.Fprintln(e.out, strings.Join(parts, "\t"))
	if e.events != nil {
		e.events.OnConsole("log", args)
	}
	return 0
}

func (e *Engine) Scripts() ([]debuggee.Record, error) {
	ids := make([]int, 0, len(e.scripts))
	for id := range e.scripts {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	records := make([]debuggee.Record, len(ids))
	for i, id := range ids {
		records[i] = e.scripts[id].record()
	}
	return records, nil
}

func (e *Engine) ScriptSource(id int) (debuggee.Record, error) {
	s, ok := e.scripts[id]
	if !ok {
		return nil, fmt.Errorf("script %d: %w", id, debuggee.ErrNotFound)
	}
	return debuggee.Fields{debuggee.PropSource: debuggee.String(s.source)}, nil
}

func (e *Engine) Pause() error {
	e.pauseRequested = true
	return nil
}

func (e *Engine) Resume() error {
	e.pauseRequested = false
	e.step = stepNone
	return nil
}

// StepInto, StepOver and StepOut arm a step from the current pause. Outside
// a pause every step stops at the first statement that runs.
func (e *Engine) StepInto() error {
	e.step = stepInto
	return nil
}

func (e *Engine) StepOver() error {
	return e.armStep(stepOver)
}

func (e *Engine) StepOut() error {
	return e.armStep(stepOut)
}

func (e *Engine) armStep(mode stepMode) error {
	if !e.paused {
		e.step = stepInto
		return nil
	}
	e.step = mode
	e.stepDepth = len(e.frames)
	return nil
}

// SetBreakpoint binds to the first statement at or after line. Lines are
// 0-based.
func (e *Engine) SetBreakpoint(scriptID, line, column int) (debuggee.Breakpoint, error) {
	s, ok := e.scripts[scriptID]
	if !ok {
		return debuggee.Breakpoint{}, fmt.Errorf("script %d: %w", scriptID, debuggee.ErrNotFound)
	}
	luaLine, ok := s.statementAtOrAfter(line + 1)
	if !ok {
		return debuggee.Breakpoint{}, fmt.Errorf("no statement at or after line %d of script %d: %w", line, scriptID, debuggee.ErrNotFound)
	}
	e.nextBP++
	bp := debuggee.Breakpoint{ID: e.nextBP, ScriptID: scriptID, Line: luaLine - 1}
	e.breakpoints[bp.ID] = bp
	e.log.Debug().Int("breakpoint", bp.ID).Int("script", scriptID).Int("line", bp.Line).Msg("Set breakpoint")
	return bp, nil
}

func (e *Engine) RemoveBreakpoint(id int) error {
	if _, ok := e.breakpoints[id]; !ok {
		return fmt.Errorf("breakpoint %d: %w", id, debuggee.ErrNotFound)
	}
	delete(e.breakpoints, id)
	return nil
}
