// Package debuggee describes the capability surface a script engine exposes
// to the protocol bridge.
//
// Every method of Debuggee must be called from the engine's own goroutine.
// The engine delivers its notifications through Events on that same
// goroutine, at points it controls.
package debuggee

// Debuggee is the engine-side introspection and control surface.
//
// Frames, scripts and objects are returned as Records: property bags whose
// names follow the engine's own vocabulary (see the Prop* constants).
type Debuggee interface {
	// StackFrameCount returns the depth of the paused call stack.
	StackFrameCount() (int, error)
	// StackFrame returns frame i, 0 being the innermost.
	StackFrame(i int) (Record, error)
	// StackProperties returns frame-relative values such as "thisObject"
	// and "returnValue".
	StackProperties(i int) (Record, error)
	// ObjectByHandle resolves an engine handle obtained during this pause.
	ObjectByHandle(handle int) (Record, error)
	// Properties lists the members of the object behind handle.
	Properties(handle int) ([]Property, error)
	// Evaluate runs expr in the scope of frame i, or in the global scope
	// when i is negative.
	Evaluate(i int, expr string) (Value, error)

	// Scripts returns every script the engine currently knows about.
	Scripts() ([]Record, error)
	// ScriptSource returns a record holding the "source" of script id.
	ScriptSource(id int) (Record, error)

	Pause() error
	Resume() error
	StepInto() error
	StepOver() error
	StepOut() error

	SetBreakpoint(scriptID, line, column int) (Breakpoint, error)
	RemoveBreakpoint(id int) error

	// ReleaseHandles invalidates every handle issued since the last call.
	ReleaseHandles()
}

// Events is implemented by the bridge and driven by the engine.
type Events interface {
	// OnPause blocks the engine until the client resumes it.
	OnPause(ev PauseEvent)
	OnScriptParsed(script Record)
	OnConsole(level string, args []Value)
	// Poll is called at safe points while running so queued commands get
	// serviced without pausing.
	Poll()
}

// PauseReason mirrors the reasons reported in Debugger.paused.
type PauseReason string

const (
	ReasonBreakpoint   PauseReason = "breakpoint"
	ReasonStep         PauseReason = "step"
	ReasonException    PauseReason = "exception"
	ReasonDebugCommand PauseReason = "debugCommand"
	ReasonOther        PauseReason = "other"
)

// PauseEvent describes why execution stopped.
type PauseEvent struct {
	Reason         PauseReason
	HitBreakpoints []int
	Exception      *Value
}

// Breakpoint is an engine-resolved breakpoint.
type Breakpoint struct {
	ID       int
	ScriptID int
	Line     int
	Column   int
}

// Property is one member of an object.
type Property struct {
	Name  string
	Value Value
	Own   bool
}

// Property names used in frame, function, script and stack records.
const (
	PropIndex          = "index"
	PropScriptID       = "scriptId"
	PropLine           = "line"
	PropColumn         = "column"
	PropFunctionHandle = "functionHandle"
	PropName           = "name"
	PropThisObject     = "thisObject"
	PropReturnValue    = "returnValue"
	PropHandle         = "handle"
	PropLocals         = "locals"
	PropFileName       = "fileName"
	PropScriptType     = "scriptType"
	PropLineCount      = "lineCount"
	PropSource         = "source"
	PropSourceMapURL   = "sourceMappingURL"
)
