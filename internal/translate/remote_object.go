// Package translate converts engine-side frames, scripts and values into the
// protocol entities reported to the client.
//
// Reading an expected property is never defaulted: a missing or mistyped
// property fails the enclosing conversion. The exceptions are the script url
// fallback and the optional "this" and return values of a frame.
package translate

import (
	"encoding/json"

	"github.com/mafredri/cdp/protocol/runtime"

	"github.com/bingosuite/inspector/internal/debuggee"
	"github.com/bingosuite/inspector/internal/stringbuf"
)

// ObjectIDs mints client-facing object ids for engine handles. Ids are only
// valid for the lifetime of the registry that produced them.
type ObjectIDs interface {
	ObjectID(handle int) runtime.RemoteObjectID
}

var nullJSON = json.RawMessage("null")

// UndefinedObject is the descriptor used where the protocol requires a value
// but the engine has none.
func UndefinedObject() runtime.RemoteObject {
	return runtime.RemoteObject{Type: "undefined"}
}

// ResolveRemoteObject describes v. Primitives are carried by value;
// references get an objectId from ids, or none when ids is nil (no pause).
func ResolveRemoteObject(ids ObjectIDs, v debuggee.Value) runtime.RemoteObject {
	switch v.Kind {
	case debuggee.KindUndefined:
		return UndefinedObject()
	case debuggee.KindNull:
		subtype := "null"
		return runtime.RemoteObject{Type: "object", Subtype: &subtype, Value: nullJSON}
	case debuggee.KindBoolean:
		raw, _ := json.Marshal(v.Bool)
		return runtime.RemoteObject{Type: "boolean", Value: raw}
	case debuggee.KindNumber:
		desc := debuggee.FormatNumber(v.Number)
		if s, ok := v.Unserializable(); ok {
			u := runtime.UnserializableValue(s)
			return runtime.RemoteObject{Type: "number", UnserializableValue: &u, Description: &desc}
		}
		raw, _ := json.Marshal(v.Number)
		return runtime.RemoteObject{Type: "number", Value: raw, Description: &desc}
	case debuggee.KindString:
		raw, _ := stringbuf.FromString(v.Str).MarshalJSON()
		return runtime.RemoteObject{Type: "string", Value: raw}
	}

	className := v.ClassName
	desc := v.Describe()
	obj := runtime.RemoteObject{Type: v.Kind.String(), ClassName: &className, Description: &desc}
	if ids != nil && v.Handle != 0 {
		id := ids.ObjectID(v.Handle)
		obj.ObjectID = &id
	}
	return obj
}

// PropertiesToDescriptors converts object members for Runtime.getProperties.
func PropertiesToDescriptors(ids ObjectIDs, props []debuggee.Property, ownOnly bool) []runtime.PropertyDescriptor {
	out := make([]runtime.PropertyDescriptor, 0, len(props))
	for _, p := range props {
		if ownOnly && !p.Own {
			continue
		}
		value := ResolveRemoteObject(ids, p.Value)
		writable := true
		own := p.Own
		out = append(out, runtime.PropertyDescriptor{
			Name:         p.Name,
			Value:        &value,
			Writable:     &writable,
			Configurable: true,
			Enumerable:   true,
			IsOwn:        &own,
		})
	}
	return out
}

// ExceptionDetails is reported alongside a result when evaluation threw.
type ExceptionDetails struct {
	ExceptionID  int                   `json:"exceptionId"`
	Text         string                `json:"text"`
	LineNumber   int                   `json:"lineNumber"`
	ColumnNumber int                   `json:"columnNumber"`
	Exception    *runtime.RemoteObject `json:"exception,omitempty"`
}

// EvaluateResult is the reply shape of Runtime.evaluate and
// Debugger.evaluateOnCallFrame.
type EvaluateResult struct {
	Result           runtime.RemoteObject `json:"result"`
	ExceptionDetails *ExceptionDetails    `json:"exceptionDetails,omitempty"`
}

// EvaluateOutcome turns an Evaluate result into its reply. Script exceptions
// become exception details; any other error is returned unchanged.
func EvaluateOutcome(ids ObjectIDs, v debuggee.Value, err error, exceptionID int) (EvaluateResult, error) {
	if err == nil {
		return EvaluateResult{Result: ResolveRemoteObject(ids, v)}, nil
	}
	exc, ok := err.(*debuggee.Exception)
	if !ok {
		return EvaluateResult{}, err
	}
	thrown := ResolveRemoteObject(ids, exc.Value)
	return EvaluateResult{
		Result: thrown,
		ExceptionDetails: &ExceptionDetails{
			ExceptionID:  exceptionID,
			Text:         exc.Text,
			LineNumber:   exc.Line,
			ColumnNumber: exc.Column,
			Exception:    &thrown,
		},
	}, nil
}
