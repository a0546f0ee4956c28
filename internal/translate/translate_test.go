package translate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/mafredri/cdp/protocol/debugger"
	"github.com/mafredri/cdp/protocol/runtime"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/bingosuite/inspector/internal/debuggee"
	"github.com/bingosuite/inspector/internal/debuggee/debuggeetest"
	"github.com/bingosuite/inspector/internal/stringbuf"
)

func TestTranslate(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Translate Suite")
}

type fakeFrames struct {
	d       debuggee.Debuggee
	handles []int
}

func (f *fakeFrames) Debuggee() debuggee.Debuggee { return f.d }

func (f *fakeFrames) CallFrameID(index int) debugger.CallFrameID {
	return debugger.CallFrameID(fmt.Sprintf("frame-%d", index))
}

func (f *fakeFrames) ObjectID(handle int) runtime.RemoteObjectID {
	f.handles = append(f.handles, handle)
	return runtime.RemoteObjectID(fmt.Sprintf("obj-%d", handle))
}

var _ = Describe("FrameToCallFrame", func() {
	var (
		engine *debuggeetest.Engine
		frames *fakeFrames
	)

	BeforeEach(func() {
		engine = debuggeetest.New()
		frames = &fakeFrames{d: engine}
	})

	It("should read the location and function of a frame", func() {
		engine.SetFrames(debuggeetest.Frame{ScriptID: 3, Line: 10, Column: 4, FunctionName: "tick", FunctionLine: 8})

		cf, err := FrameToCallFrame(frames, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(cf.CallFrameID).To(Equal(debugger.CallFrameID("frame-0")))
		Expect(cf.FunctionName).To(Equal("tick"))
		Expect(cf.Location.ScriptID).To(Equal(runtime.ScriptID("3")))
		Expect(cf.Location.LineNumber).To(Equal(10))
		Expect(*cf.Location.ColumnNumber).To(Equal(4))
		Expect(cf.FunctionLocation).NotTo(BeNil())
		Expect(cf.FunctionLocation.LineNumber).To(Equal(8))
	})

	It("should report a missing this as undefined rather than omitting it", func() {
		engine.SetFrames(debuggeetest.Frame{ScriptID: 1, FunctionName: "main"})

		cf, err := FrameToCallFrame(frames, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(cf.This.Type).To(Equal("undefined"))

		raw, err := json.Marshal(cf)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).To(ContainSubstring(`"this":{"type":"undefined"}`))
	})

	It("should only carry a return value at a return point", func() {
		ret := debuggee.Int(42)
		engine.SetFrames(
			debuggeetest.Frame{ScriptID: 1, FunctionName: "inner", Return: &ret},
			debuggeetest.Frame{ScriptID: 1, FunctionName: "outer"},
		)

		inner, err := FrameToCallFrame(frames, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(inner.ReturnValue).NotTo(BeNil())
		Expect(string(inner.ReturnValue.Value)).To(Equal("42"))

		outer, err := FrameToCallFrame(frames, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(outer.ReturnValue).To(BeNil())
	})

	It("should register this and the local scope as object ids", func() {
		self := debuggee.Object(7, "Object", "table")
		engine.SetFrames(debuggeetest.Frame{ScriptID: 1, FunctionName: "m", This: &self})

		cf, err := FrameToCallFrame(frames, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(cf.This.ObjectID).NotTo(BeNil())
		Expect(*cf.This.ObjectID).To(Equal(runtime.RemoteObjectID("obj-7")))
		Expect(cf.ScopeChain).To(HaveLen(1))
		Expect(cf.ScopeChain[0].Type).To(Equal("local"))
		Expect(frames.handles).To(ConsistOf(7, -1))
	})

	It("should fail when the frame is gone", func() {
		_, err := FrameToCallFrame(frames, 2)
		Expect(errors.Is(err, debuggee.ErrNotFound)).To(BeTrue())
	})

	It("should fail when the engine cannot read the frame", func() {
		engine.SetFrames(debuggeetest.Frame{ScriptID: 1})
		engine.FailOn("StackProperties", errors.New("boom"))

		_, err := FrameToCallFrame(frames, 0)
		Expect(err).To(MatchError(ContainSubstring("boom")))
	})

	It("should fail on a missing frame property", func() {
		d := &recordDebuggee{Engine: engine, frame: debuggee.Fields{
			debuggee.PropScriptID: debuggee.Int(1),
			debuggee.PropColumn:   debuggee.Int(0),
		}}
		frames.d = d

		_, err := FrameToCallFrame(frames, 0)
		Expect(errors.Is(err, debuggee.ErrMissingProperty)).To(BeTrue())
	})
})

// recordDebuggee overrides the frame record returned by the engine.
type recordDebuggee struct {
	*debuggeetest.Engine
	frame debuggee.Record
}

func (r *recordDebuggee) StackFrame(int) (debuggee.Record, error) { return r.frame, nil }

var _ = Describe("ScriptToScriptInfo", func() {
	var engine *debuggeetest.Engine

	BeforeEach(func() {
		engine = debuggeetest.New()
	})

	It("should use the file name as url", func() {
		s := debuggeetest.Script{ID: 3, FileName: "main.lua", ScriptType: "script", Source: "print(1)\n", LineCount: 2}
		engine.AddScript(s)

		info, err := ScriptToScriptInfo(engine, debuggeetest.ScriptRecord(s))
		Expect(err).NotTo(HaveOccurred())
		Expect(info.ScriptID.String()).To(Equal("3"))
		Expect(info.URL.String()).To(Equal("main.lua"))
		Expect(info.Source.String()).To(Equal("print(1)\n"))
		Expect(info.EndLine).To(Equal(2))
		Expect(info.Hash).NotTo(BeEmpty())
	})

	It("should replace invalid UTF-8 in the source", func() {
		s := debuggeetest.Script{ID: 6, FileName: "bin.lua", Source: "a\xffb", LineCount: 1}
		engine.AddScript(s)

		info, err := ScriptToScriptInfo(engine, debuggeetest.ScriptRecord(s))
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Source.Units()).To(Equal([]uint16{'a', 0xFFFD, 'b'}))
	})

	It("should fall back to the script type when there is no file name", func() {
		s := debuggeetest.Script{ID: 4, ScriptType: "eval code", Source: "x"}
		engine.AddScript(s)

		info, err := ScriptToScriptInfo(engine, debuggeetest.ScriptRecord(s))
		Expect(err).NotTo(HaveOccurred())
		Expect(info.URL.String()).To(Equal("eval code"))
	})

	It("should yield an empty url when neither property exists", func() {
		engine.AddScript(debuggeetest.Script{ID: 5, Source: "x"})
		rec := debuggee.Fields{
			debuggee.PropScriptID:  debuggee.Int(5),
			debuggee.PropLineCount: debuggee.Int(1),
		}

		info, err := ScriptToScriptInfo(engine, rec)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.URL.IsEmpty()).To(BeTrue())
	})

	It("should report a script the engine unloaded", func() {
		s := debuggeetest.Script{ID: 6, FileName: "gone.lua"}
		engine.AddScript(s)
		engine.RemoveScript(6)

		_, err := ScriptToScriptInfo(engine, debuggeetest.ScriptRecord(s))
		Expect(errors.Is(err, debuggee.ErrNotFound)).To(BeTrue())
	})

	It("should give identical sources identical hashes", func() {
		a := debuggeetest.Script{ID: 1, FileName: "a.lua", Source: "return 1"}
		b := debuggeetest.Script{ID: 2, FileName: "b.lua", Source: "return 1"}
		engine.AddScript(a)
		engine.AddScript(b)

		ia, err := ScriptToScriptInfo(engine, debuggeetest.ScriptRecord(a))
		Expect(err).NotTo(HaveOccurred())
		ib, err := ScriptToScriptInfo(engine, debuggeetest.ScriptRecord(b))
		Expect(err).NotTo(HaveOccurred())
		Expect(ia.Hash).To(Equal(ib.Hash))
	})

	It("should encode scriptParsed params", func() {
		info := ScriptInfo{ScriptID: stringbuf.FromInt(9), URL: stringbuf.FromString("m.lua"), EndLine: 3, Hash: "ab"}

		raw, err := json.Marshal(info.ScriptParsed(1))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).To(MatchJSON(`{"scriptId":"9","url":"m.lua","startLine":0,"startColumn":0,"endLine":3,"endColumn":0,"executionContextId":1,"hash":"ab"}`))
	})
})

var _ = Describe("ResolveRemoteObject", func() {
	It("should carry primitives by value", func() {
		Expect(string(ResolveRemoteObject(nil, debuggee.Bool(true)).Value)).To(MatchJSON(`true`))
		Expect(string(ResolveRemoteObject(nil, debuggee.String("hi")).Value)).To(MatchJSON(`"hi"`))
		Expect(string(ResolveRemoteObject(nil, debuggee.Number(1.5)).Value)).To(MatchJSON(`1.5`))

		null := ResolveRemoteObject(nil, debuggee.Null())
		Expect(null.Type).To(Equal("object"))
		Expect(*null.Subtype).To(Equal("null"))
	})

	It("should spell numbers JSON cannot carry", func() {
		obj := ResolveRemoteObject(nil, debuggee.Number(math.Inf(-1)))
		Expect(obj.Value).To(BeNil())
		Expect(string(*obj.UnserializableValue)).To(Equal("-Infinity"))
	})

	It("should only hand out object ids through the registry", func() {
		frames := &fakeFrames{}
		v := debuggee.Object(12, "Object", "table")

		withIDs := ResolveRemoteObject(frames, v)
		Expect(*withIDs.ObjectID).To(Equal(runtime.RemoteObjectID("obj-12")))

		without := ResolveRemoteObject(nil, v)
		Expect(without.ObjectID).To(BeNil())
		Expect(*without.ClassName).To(Equal("Object"))
	})

	It("should filter inherited properties on request", func() {
		props := []debuggee.Property{
			{Name: "a", Value: debuggee.Int(1), Own: true},
			{Name: "b", Value: debuggee.Int(2)},
		}

		Expect(PropertiesToDescriptors(nil, props, false)).To(HaveLen(2))
		own := PropertiesToDescriptors(nil, props, true)
		Expect(own).To(HaveLen(1))
		Expect(own[0].Name).To(Equal("a"))
	})

	It("should turn script exceptions into exception details", func() {
		exc := &debuggee.Exception{Text: "boom", Value: debuggee.String("boom"), Line: 2}

		res, err := EvaluateOutcome(nil, debuggee.Value{}, exc, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.ExceptionDetails).NotTo(BeNil())
		Expect(res.ExceptionDetails.Text).To(Equal("boom"))
		Expect(res.ExceptionDetails.LineNumber).To(Equal(2))

		_, err = EvaluateOutcome(nil, debuggee.Value{}, debuggee.ErrStaleHandle, 1)
		Expect(err).To(MatchError(debuggee.ErrStaleHandle))
	})
})
