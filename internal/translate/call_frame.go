package translate

import (
	"fmt"

	"github.com/mafredri/cdp/protocol/debugger"
	"github.com/mafredri/cdp/protocol/runtime"

	"github.com/bingosuite/inspector/internal/debuggee"
)

// Frames gives access to the frames of one pause.
type Frames interface {
	ObjectIDs
	Debuggee() debuggee.Debuggee
	CallFrameID(index int) debugger.CallFrameID
}

// FrameToCallFrame builds the protocol call frame for stack frame index.
func FrameToCallFrame(ctx Frames, index int) (debugger.CallFrame, error) {
	d := ctx.Debuggee()

	frame, err := d.StackFrame(index)
	if err != nil {
		return debugger.CallFrame{}, fmt.Errorf("failed to get stack frame %d: %w", index, err)
	}
	location, err := readLocation(frame)
	if err != nil {
		return debugger.CallFrame{}, err
	}

	fnHandle, err := debuggee.GetInt(frame, debuggee.PropFunctionHandle)
	if err != nil {
		return debugger.CallFrame{}, err
	}
	fn, err := d.ObjectByHandle(fnHandle)
	if err != nil {
		return debugger.CallFrame{}, fmt.Errorf("failed to get function of frame %d: %w", index, err)
	}
	name, err := debuggee.GetString(fn, debuggee.PropName)
	if err != nil {
		return debugger.CallFrame{}, err
	}
	fnLocation, err := readLocation(fn)
	if err != nil {
		return debugger.CallFrame{}, err
	}

	// The engine keys stack properties by the frame's own index.
	frameIndex, err := debuggee.GetInt(frame, debuggee.PropIndex)
	if err != nil {
		return debugger.CallFrame{}, err
	}
	props, err := d.StackProperties(frameIndex)
	if err != nil {
		return debugger.CallFrame{}, fmt.Errorf("failed to get stack properties of frame %d: %w", index, err)
	}

	cf := debugger.CallFrame{
		CallFrameID:      ctx.CallFrameID(index),
		FunctionName:     name,
		FunctionLocation: &fnLocation,
		Location:         location,
		ScopeChain:       []debugger.Scope{},
		This:             UndefinedObject(),
	}
	if v, ok := props.Property(debuggee.PropThisObject); ok {
		cf.This = ResolveRemoteObject(ctx, v)
	}
	if v, ok := props.Property(debuggee.PropReturnValue); ok {
		ret := ResolveRemoteObject(ctx, returnValue(v))
		cf.ReturnValue = &ret
	}
	if v, ok := props.Property(debuggee.PropLocals); ok {
		cf.ScopeChain = append(cf.ScopeChain, debugger.Scope{
			Type:   "local",
			Object: ResolveRemoteObject(ctx, v),
		})
	}
	return cf, nil
}

// returnValue unwraps a return value record that carries its object under a
// nested "handle" property.
func returnValue(v debuggee.Value) debuggee.Value {
	if v.Record == nil || !v.Kind.IsReference() {
		return v
	}
	if h, err := debuggee.GetInt(v.Record, debuggee.PropHandle); err == nil {
		v.Handle = h
	}
	return v
}

func readLocation(r debuggee.Record) (debugger.Location, error) {
	scriptID, err := debuggee.GetAsString(r, debuggee.PropScriptID)
	if err != nil {
		return debugger.Location{}, err
	}
	line, err := debuggee.GetInt(r, debuggee.PropLine)
	if err != nil {
		return debugger.Location{}, err
	}
	column, err := debuggee.GetInt(r, debuggee.PropColumn)
	if err != nil {
		return debugger.Location{}, err
	}
	return debugger.Location{
		ScriptID:     runtime.ScriptID(scriptID),
		LineNumber:   line,
		ColumnNumber: &column,
	}, nil
}
