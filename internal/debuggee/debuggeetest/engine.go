// Package debuggeetest provides a scriptable in-memory Debuggee for tests.
package debuggeetest

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bingosuite/inspector/internal/debuggee"
)

const functionHandleBase = 1000

// Frame describes one activation of the fake call stack.
type Frame struct {
	ScriptID     int
	Line         int
	Column       int
	FunctionName string
	FunctionLine int
	// This is omitted from the stack properties when nil.
	This *debuggee.Value
	// Return marks the frame as a return point when non-nil.
	Return *debuggee.Value
	Locals []debuggee.Property
}

// Script is a fake loaded script. An empty FileName leaves the property out.
type Script struct {
	ID         int
	FileName   string
	ScriptType string
	Source     string
	LineCount  int
}

// Object is the payload behind an object handle.
type Object struct {
	ClassName string
	Props     []debuggee.Property
}

// Engine implements debuggee.Debuggee over plain data.
type Engine struct {
	mu sync.Mutex

	frames      []Frame
	scripts     map[int]Script
	objects     map[int]Object
	breakpoints map[int]debuggee.Breakpoint
	nextBP      int

	calls    []string
	released int
	failures map[string]error

	// Eval answers Evaluate; nil makes Evaluate fail with ErrNotSupported.
	Eval func(frame int, expr string) (debuggee.Value, error)
}

func New() *Engine {
	return &Engine{
		scripts:     make(map[int]Script),
		objects:     make(map[int]Object),
		breakpoints: make(map[int]debuggee.Breakpoint),
		failures:    make(map[string]error),
	}
}

var _ debuggee.Debuggee = (*Engine)(nil)

// SetFrames replaces the call stack, innermost first.
func (e *Engine) SetFrames(frames ...Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frames = frames
}

func (e *Engine) AddScript(s Script) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scripts[s.ID] = s
}

// RemoveScript simulates the engine unloading a script.
func (e *Engine) RemoveScript(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.scripts, id)
}

func (e *Engine) AddObject(handle int, obj Object) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.objects[handle] = obj
}

// FailOn makes the named method return err until cleared with a nil err.
func (e *Engine) FailOn(method string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.failures, method)
		return
	}
	e.failures[method] = err
}

// Calls returns the control operations invoked so far.
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// Released returns how many times ReleaseHandles ran.
func (e *Engine) Released() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}

func (e *Engine) Breakpoints() []debuggee.Breakpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]debuggee.Breakpoint, 0, len(e.breakpoints))
	for _, bp := range e.breakpoints {
		out = append(out, bp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) fail(method string) error {
	return e.failures[method]
}

func (e *Engine) StackFrameCount() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fail("StackFrameCount"); err != nil {
		return 0, err
	}
	return len(e.frames), nil
}

func (e *Engine) StackFrame(i int) (debuggee.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fail("StackFrame"); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(e.frames) {
		return nil, fmt.Errorf("frame %d: %w", i, debuggee.ErrNotFound)
	}
	f := e.frames[i]
	return debuggee.Fields{
		debuggee.PropIndex:          debuggee.Int(i),
		debuggee.PropScriptID:       debuggee.Int(f.ScriptID),
		debuggee.PropLine:           debuggee.Int(f.Line),
		debuggee.PropColumn:         debuggee.Int(f.Column),
		debuggee.PropFunctionHandle: debuggee.Int(functionHandleBase + i),
	}, nil
}

func (e *Engine) StackProperties(i int) (debuggee.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fail("StackProperties"); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(e.frames) {
		return nil, fmt.Errorf("frame %d: %w", i, debuggee.ErrNotFound)
	}
	f := e.frames[i]
	props := debuggee.Fields{
		debuggee.PropLocals: debuggee.Object(-(i + 1), "Object", "locals"),
	}
	if f.This != nil {
		props[debuggee.PropThisObject] = *f.This
	}
	if f.Return != nil {
		props[debuggee.PropReturnValue] = *f.Return
	}
	return props, nil
}

func (e *Engine) ObjectByHandle(handle int) (debuggee.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fail("ObjectByHandle"); err != nil {
		return nil, err
	}
	if i := handle - functionHandleBase; i >= 0 && i < len(e.frames) {
		f := e.frames[i]
		return debuggee.Fields{
			debuggee.PropName:     debuggee.String(f.FunctionName),
			debuggee.PropScriptID: debuggee.Int(f.ScriptID),
			debuggee.PropLine:     debuggee.Int(f.FunctionLine),
			debuggee.PropColumn:   debuggee.Int(0),
		}, nil
	}
	obj, ok := e.objects[handle]
	if !ok {
		return nil, fmt.Errorf("object %d: %w", handle, debuggee.ErrNotFound)
	}
	return debuggee.Fields{debuggee.PropName: debuggee.String(obj.ClassName)}, nil
}

func (e *Engine) Properties(handle int) ([]debuggee.Property, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fail("Properties"); err != nil {
		return nil, err
	}
	if handle < 0 && -handle <= len(e.frames) {
		return e.frames[-handle-1].Locals, nil
	}
	obj, ok := e.objects[handle]
	if !ok {
		return nil, fmt.Errorf("object %d: %w", handle, debuggee.ErrNotFound)
	}
	return obj.Props, nil
}

func (e *Engine) Evaluate(i int, expr string) (debuggee.Value, error) {
	e.mu.Lock()
	eval := e.Eval
	err := e.fail("Evaluate")
	e.mu.Unlock()
	if err != nil {
		return debuggee.Value{}, err
	}
	if eval == nil {
		return debuggee.Value{}, debuggee.ErrNotSupported
	}
	return eval(i, expr)
}

func (e *Engine) Scripts() ([]debuggee.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fail("Scripts"); err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(e.scripts))
	for id := range e.scripts {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]debuggee.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, scriptRecord(e.scripts[id]))
	}
	return out, nil
}

// ScriptRecord returns the record the engine would report for s.
func ScriptRecord(s Script) debuggee.Record {
	return scriptRecord(s)
}

func scriptRecord(s Script) debuggee.Record {
	rec := debuggee.Fields{
		debuggee.PropScriptID:   debuggee.Int(s.ID),
		debuggee.PropLineCount:  debuggee.Int(s.LineCount),
		debuggee.PropScriptType: debuggee.String(s.ScriptType),
	}
	if s.FileName != "" {
		rec[debuggee.PropFileName] = debuggee.String(s.FileName)
	}
	return rec
}

func (e *Engine) ScriptSource(id int) (debuggee.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fail("ScriptSource"); err != nil {
		return nil, err
	}
	s, ok := e.scripts[id]
	if !ok {
		return nil, fmt.Errorf("script %d: %w", id, debuggee.ErrNotFound)
	}
	return debuggee.Fields{debuggee.PropSource: debuggee.String(s.Source)}, nil
}

func (e *Engine) control(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fail(name); err != nil {
		return err
	}
	e.calls = append(e.calls, name)
	return nil
}

func (e *Engine) Pause() error    { return e.control("Pause") }
func (e *Engine) Resume() error   { return e.control("Resume") }
func (e *Engine) StepInto() error { return e.control("StepInto") }
func (e *Engine) StepOver() error { return e.control("StepOver") }
func (e *Engine) StepOut() error  { return e.control("StepOut") }

func (e *Engine) SetBreakpoint(scriptID, line, column int) (debuggee.Breakpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fail("SetBreakpoint"); err != nil {
		return debuggee.Breakpoint{}, err
	}
	if _, ok := e.scripts[scriptID]; !ok {
		return debuggee.Breakpoint{}, fmt.Errorf("script %d: %w", scriptID, debuggee.ErrNotFound)
	}
	e.nextBP++
	bp := debuggee.Breakpoint{ID: e.nextBP, ScriptID: scriptID, Line: line, Column: column}
	e.breakpoints[bp.ID] = bp
	return bp, nil
}

func (e *Engine) RemoveBreakpoint(id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.breakpoints[id]; !ok {
		return fmt.Errorf("breakpoint %d: %w", id, debuggee.ErrNotFound)
	}
	delete(e.breakpoints, id)
	return nil
}

func (e *Engine) ReleaseHandles() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.released++
}
