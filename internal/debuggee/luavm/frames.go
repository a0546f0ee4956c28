package luavm

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/bingosuite/inspector/internal/debuggee"
)

// frame is one Lua activation captured when the engine paused.
type frame struct {
	debug *lua.Debug
	fn    *lua.LFunction
}

type local struct {
	name  string
	value lua.LValue
}

// capture walks the stack of L, innermost first, skipping Go functions.
func (e *Engine) capture(L *lua.LState) []frame {
	var frames []frame
	for level := 0; level < e.callStackSize; level++ {
		dbg, ok := L.GetStack(level)
		if !ok {
			break
		}
		fn, err := L.GetInfo("Slnf", dbg, lua.LNil)
		if err != nil {
			break
		}
		if dbg.What != "G" {
			frames = append(frames, frame{debug: dbg, fn: fn.(*lua.LFunction)})
		}
		if dbg.What == "main" {
			break
		}
	}
	return frames
}

// depth counts the Lua frames of L. Stepping compares depths, so it must
// agree with capture.
func (e *Engine) depth(L *lua.LState) int {
	n := 0
	for level := 0; level < e.callStackSize; level++ {
		dbg, ok := L.GetStack(level)
		if !ok {
			break
		}
		if _, err := L.GetInfo("S", dbg, lua.LNil); err != nil {
			break
		}
		if dbg.What != "G" {
			n++
		}
		if dbg.What == "main" {
			break
		}
	}
	return n
}

func (e *Engine) frame(i int) (frame, error) {
	if !e.paused {
		return frame{}, debuggee.ErrNotPaused
	}
	if i < 0 || i >= len(e.frames) {
		return frame{}, fmt.Errorf("frame %d: %w", i, debuggee.ErrNotFound)
	}
	return e.frames[i], nil
}

// locals lists the named locals active in frame i. Inner declarations
// shadow outer ones of the same name.
func (e *Engine) locals(i int) ([]local, error) {
	f, err := e.frame(i)
	if err != nil {
		return nil, err
	}
	var out []local
	seen := make(map[string]int)
	for n := 1; ; n++ {
		name, v := e.thread.GetLocal(f.debug, n)
		if name == "" {
			break
		}
		if strings.HasPrefix(name, "(") {
			continue
		}
		if idx, ok := seen[name]; ok {
			out[idx].value = v
			continue
		}
		seen[name] = len(out)
		out = append(out, local{name: name, value: v})
	}
	return out, nil
}

func (e *Engine) StackFrameCount() (int, error) {
	if !e.paused {
		return 0, debuggee.ErrNotPaused
	}
	return len(e.frames), nil
}

func (e *Engine) StackFrame(i int) (debuggee.Record, error) {
	f, err := e.frame(i)
	if err != nil {
		return nil, err
	}
	scriptID := e.protos[f.fn.Proto]
	h := e.handle(f.fn)
	if _, ok := e.functions[h]; !ok {
		name := f.debug.Name
		if f.debug.What == "main" {
			name = ""
		}
		e.functions[h] = debuggee.Fields{
			debuggee.PropName:     debuggee.String(name),
			debuggee.PropScriptID: debuggee.Int(scriptID),
			debuggee.PropLine:     debuggee.Int(max(f.debug.LineDefined-1, 0)),
			debuggee.PropColumn:   debuggee.Int(0),
		}
	}
	return debuggee.Fields{
		debuggee.PropIndex:          debuggee.Int(i),
		debuggee.PropScriptID:       debuggee.Int(scriptID),
		debuggee.PropLine:           debuggee.Int(f.debug.CurrentLine - 1),
		debuggee.PropColumn:         debuggee.Int(0),
		debuggee.PropFunctionHandle: debuggee.Int(h),
	}, nil
}

// StackProperties exposes the frame's locals as a scope object with a
// negative handle, and the "self" local as the receiver. Lua reports no
// return values, so frames never carry one.
func (e *Engine) StackProperties(i int) (debuggee.Record, error) {
	locals, err := e.locals(i)
	if err != nil {
		return nil, err
	}
	props := debuggee.Fields{
		debuggee.PropLocals: debuggee.Object(scopeHandle(i), "Object", "locals"),
	}
	for _, l := range locals {
		if l.name == "self" {
			props[debuggee.PropThisObject] = e.value(l.value)
		}
	}
	return props, nil
}

func scopeHandle(frame int) int {
	return -(frame + 1)
}

func (e *Engine) ObjectByHandle(handle int) (debuggee.Record, error) {
	if !e.paused {
		return nil, debuggee.ErrNotPaused
	}
	if rec, ok := e.functions[handle]; ok {
		return rec, nil
	}
	v, ok := e.handles[handle]
	if !ok {
		return nil, fmt.Errorf("handle %d: %w", handle, debuggee.ErrStaleHandle)
	}
	return debuggee.Fields{debuggee.PropName: debuggee.String(v.Type().String())}, nil
}

func (e *Engine) Properties(handle int) ([]debuggee.Property, error) {
	if !e.paused {
		return nil, debuggee.ErrNotPaused
	}
	if handle < 0 {
		locals, err := e.locals(-handle - 1)
		if err != nil {
			return nil, err
		}
		props := make([]debuggee.Property, len(locals))
		for i, l := range locals {
			props[i] = debuggee.Property{Name: l.name, Value: e.value(l.value), Own: true}
		}
		return props, nil
	}

	v, ok := e.handles[handle]
	if !ok {
		return nil, fmt.Errorf("handle %d: %w", handle, debuggee.ErrStaleHandle)
	}
	tb, ok := v.(*lua.LTable)
	if !ok {
		return []debuggee.Property{}, nil
	}
	type entry struct {
		key   lua.LValue
		value lua.LValue
	}
	var entries []entry
	tb.ForEach(func(k, v lua.LValue) {
		entries = append(entries, entry{key: k, value: v})
	})
	sort.SliceStable(entries, func(i, j int) bool {
		return keyLess(entries[i].key, entries[j].key)
	})
	props := make([]debuggee.Property, len(entries))
	for i, en := range entries {
		props[i] = debuggee.Property{Name: keyName(en.key), Value: e.value(en.value), Own: true}
	}
	return props, nil
}

// keyLess orders numeric keys before all others, numbers ascending and the
// rest by name.
func keyLess(a, b lua.LValue) bool {
	an, aNum := a.(lua.LNumber)
	bn, bNum := b.(lua.LNumber)
	switch {
	case aNum && bNum:
		return an < bn
	case aNum != bNum:
		return aNum
	}
	return keyName(a) < keyName(b)
}

func keyName(k lua.LValue) string {
	if n, ok := k.(lua.LNumber); ok {
		return debuggee.FormatNumber(float64(n))
	}
	return k.String()
}

// Evaluate compiles expr as an expression, or as a statement when it is not
// one, and runs it without triggering statement hooks. In frame scope the
// frame's locals are visible by value; assignments go to globals.
func (e *Engine) Evaluate(i int, expr string) (debuggee.Value, error) {
	L := e.L
	if e.thread != nil {
		L = e.thread
	}
	fn, err := compileEval(L, expr)
	if err != nil {
		return debuggee.Value{}, &debuggee.Exception{Text: err.Error(), Value: debuggee.String(err.Error())}
	}
	if i >= 0 {
		locals, err := e.locals(i)
		if err != nil {
			return debuggee.Value{}, err
		}
		env := L.NewTable()
		for _, l := range locals {
			env.RawSetString(l.name, l.value)
		}
		globals := L.Get(lua.GlobalsIndex)
		mt := L.NewTable()
		mt.RawSetString("__index", globals)
		mt.RawSetString("__newindex", globals)
		L.SetMetatable(env, mt)
		fn.Env = env
	}

	prev := e.evaluating
	e.evaluating = true
	defer func() { e.evaluating = prev }()

	top := L.GetTop()
	defer L.SetTop(top)
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return debuggee.Value{}, e.exception(err)
	}
	return e.value(L.Get(-1)), nil
}

func compileEval(L *lua.LState, expr string) (*lua.LFunction, error) {
	chunk, err := parse.Parse(strings.NewReader("return "+expr), "eval")
	if err != nil {
		var stmtErr error
		chunk, stmtErr = parse.Parse(strings.NewReader(expr), "eval")
		if stmtErr != nil {
			return nil, err
		}
	}
	proto, err := lua.Compile(chunk, "eval")
	if err != nil {
		return nil, err
	}
	return L.NewFunctionFromProto(proto), nil
}

func (e *Engine) exception(err error) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) || apiErr.Object == nil {
		return &debuggee.Exception{Text: err.Error(), Value: debuggee.String(err.Error())}
	}
	return &debuggee.Exception{Text: apiErr.Object.String(), Value: e.value(apiErr.Object)}
}

// value converts a Lua value. Reference values get a handle only while
// paused; handles die with the pause.
func (e *Engine) value(lv lua.LValue) debuggee.Value {
	switch v := lv.(type) {
	case *lua.LNilType:
		return debuggee.Null()
	case lua.LBool:
		return debuggee.Bool(bool(v))
	case lua.LNumber:
		return debuggee.Number(float64(v))
	case lua.LString:
		return debuggee.String(string(v))
	case *lua.LFunction:
		return debuggee.Value{
			Kind:        debuggee.KindFunction,
			Handle:      e.handle(v),
			ClassName:   "function",
			Description: v.String(),
		}
	default:
		return debuggee.Object(e.handle(lv), lv.Type().String(), lv.String())
	}
}

func (e *Engine) handle(lv lua.LValue) int {
	if !e.paused {
		return 0
	}
	if h, ok := e.handleOf[lv]; ok {
		return h
	}
	e.nextHandle++
	e.handles[e.nextHandle] = lv
	e.handleOf[lv] = e.nextHandle
	return e.nextHandle
}

func (e *Engine) ReleaseHandles() {
	e.resetHandles()
}

func (e *Engine) resetHandles() {
	e.handles = make(map[int]lua.LValue)
	e.handleOf = make(map[lua.LValue]int)
	e.functions = make(map[int]debuggee.Fields)
	e.nextHandle = 0
}
