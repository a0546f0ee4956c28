package bridge

import (
	"time"

	"github.com/mafredri/cdp/protocol/runtime"

	"github.com/bingosuite/inspector/internal/debuggee"
	"github.com/bingosuite/inspector/internal/protocol"
	"github.com/bingosuite/inspector/internal/translate"
)

// ExecutionContextID is the only execution context a debuggee exposes.
const ExecutionContextID = 1

// RuntimeBackend is the capability surface of the Runtime domain.
type RuntimeBackend interface {
	Enable() error
	Disable() error
	Evaluate(args runtime.EvaluateArgs) (translate.EvaluateResult, error)
	GetProperties(args runtime.GetPropertiesArgs) (GetPropertiesResult, error)
	ReleaseObject(args runtime.ReleaseObjectArgs) error
	ReleaseObjectGroup(args runtime.ReleaseObjectGroupArgs) error
	RunIfWaitingForDebugger() error
}

type GetPropertiesResult struct {
	Result []runtime.PropertyDescriptor `json:"result"`
}

type executionContextCreated struct {
	Context runtime.ExecutionContextDescription `json:"context"`
}

type consoleAPICalled struct {
	Type               string                 `json:"type"`
	Args               []runtime.RemoteObject `json:"args"`
	ExecutionContextID int                    `json:"executionContextId"`
	Timestamp          float64                `json:"timestamp"`
}

type runtimeDomain struct {
	l           *Loop
	enabled     bool
	exceptionID int
}

var _ RuntimeBackend = (*runtimeDomain)(nil)

func (rt *runtimeDomain) Register(r *Registry, _ *Loop) {
	r.Handle("Runtime.enable", Do(rt.Enable))
	r.Handle("Runtime.disable", Do(rt.Disable))
	r.Handle("Runtime.evaluate", Call(rt.Evaluate))
	r.Handle("Runtime.getProperties", Call(rt.GetProperties))
	r.Handle("Runtime.releaseObject", Exec(rt.ReleaseObject))
	r.Handle("Runtime.releaseObjectGroup", Exec(rt.ReleaseObjectGroup))
	r.Handle("Runtime.runIfWaitingForDebugger", Do(rt.RunIfWaitingForDebugger))
	r.NotImplemented(
		"Runtime.callFunctionOn",
		"Runtime.compileScript",
		"Runtime.runScript",
		"Runtime.awaitPromise",
		"Runtime.globalLexicalScopeNames",
	)
}

func (rt *runtimeDomain) Enable() error {
	if rt.enabled {
		return nil
	}
	rt.enabled = true
	rt.l.Emit("Runtime", "executionContextCreated", executionContextCreated{
		Context: runtime.ExecutionContextDescription{
			ID:     ExecutionContextID,
			Origin: "",
			Name:   "main",
		},
	})
	return nil
}

func (rt *runtimeDomain) Disable() error {
	rt.enabled = false
	return nil
}

// Evaluate runs an expression in global scope. Objects in the result get ids
// only while paused.
func (rt *runtimeDomain) Evaluate(args runtime.EvaluateArgs) (translate.EvaluateResult, error) {
	if args.Expression == "" {
		return translate.EvaluateResult{}, protocol.Errorf(protocol.CodeInvalidParams, "expression is required")
	}
	v, err := rt.l.dbg.Evaluate(-1, args.Expression)
	return rt.outcome(v, err)
}

func (rt *runtimeDomain) outcome(v debuggee.Value, err error) (translate.EvaluateResult, error) {
	var ids translate.ObjectIDs
	if p := rt.l.paused; p != nil {
		ids = p
	}
	if _, ok := err.(*debuggee.Exception); ok {
		rt.exceptionID++
	}
	return translate.EvaluateOutcome(ids, v, err, rt.exceptionID)
}

func (rt *runtimeDomain) GetProperties(args runtime.GetPropertiesArgs) (GetPropertiesResult, error) {
	p, err := rt.l.pausedContext()
	if err != nil {
		return GetPropertiesResult{}, err
	}
	handle, err := p.Object(args.ObjectID)
	if err != nil {
		return GetPropertiesResult{}, err
	}
	props, err := rt.l.dbg.Properties(handle)
	if err != nil {
		return GetPropertiesResult{}, err
	}
	ownOnly := args.OwnProperties != nil && *args.OwnProperties
	return GetPropertiesResult{Result: translate.PropertiesToDescriptors(p, props, ownOnly)}, nil
}

func (rt *runtimeDomain) ReleaseObject(args runtime.ReleaseObjectArgs) error {
	p, err := rt.l.pausedContext()
	if err != nil {
		return err
	}
	return p.Release(args.ObjectID)
}

// ReleaseObjectGroup is accepted for compatibility. Object groups are not
// tracked; every id is released when the pause ends.
func (rt *runtimeDomain) ReleaseObjectGroup(runtime.ReleaseObjectGroupArgs) error {
	return nil
}

func (rt *runtimeDomain) RunIfWaitingForDebugger() error {
	rt.l.b.waiting.Store(false)
	return nil
}

func (rt *runtimeDomain) reset() {
	rt.enabled = false
}

func (rt *runtimeDomain) emitConsoleAPICalled(level string, args []debuggee.Value) {
	if !rt.enabled {
		return
	}
	var ids translate.ObjectIDs
	if p := rt.l.paused; p != nil {
		ids = p
	}
	objs := make([]runtime.RemoteObject, len(args))
	for i, a := range args {
		objs[i] = translate.ResolveRemoteObject(ids, a)
	}
	rt.l.Emit("Runtime", "consoleAPICalled", consoleAPICalled{
		Type:               level,
		Args:               objs,
		ExecutionContextID: ExecutionContextID,
		Timestamp:          float64(time.Now().UnixMilli()),
	})
}
