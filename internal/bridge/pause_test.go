package bridge

import (
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/bingosuite/inspector/internal/debuggee"
	"github.com/bingosuite/inspector/internal/debuggee/debuggeetest"
	"github.com/bingosuite/inspector/internal/protocol"
)

var _ = Describe("pause handshake", func() {
	var (
		engine *debuggeetest.Engine
		b      *Bridge
		loop   *Loop
		sink   *recorder
		done   chan struct{}
	)

	// pause runs OnPause on its own goroutine, standing in for the engine.
	pause := func(ev debuggee.PauseEvent) {
		done = make(chan struct{})
		go func() {
			defer close(done)
			loop.OnPause(ev)
		}()
	}

	pausedFrameID := func() string {
		var id string
		Eventually(func() bool {
			n := sink.Notification("Debugger.paused")
			id = n.Get("params.callFrames.0.callFrameId").String()
			return n.Exists()
		}).Should(BeTrue())
		return id
	}

	BeforeEach(func() {
		engine = debuggeetest.New()
		engine.AddScript(debuggeetest.Script{ID: 3, FileName: "main.lua", Source: "local t = {}\n", LineCount: 20})
		self := debuggee.Object(21, "Object", "table")
		engine.SetFrames(
			debuggeetest.Frame{
				ScriptID: 3, Line: 10, FunctionName: "update", FunctionLine: 8, This: &self,
				Locals: []debuggee.Property{{Name: "n", Value: debuggee.Int(2), Own: true}},
			},
			debuggeetest.Frame{ScriptID: 3, Line: 2, FunctionName: "main"},
		)
		engine.AddObject(21, debuggeetest.Object{ClassName: "Object", Props: []debuggee.Property{
			{Name: "x", Value: debuggee.Int(1), Own: true},
		}})
		engine.Eval = func(frame int, expr string) (debuggee.Value, error) {
			return debuggee.Int(frame*100 + len(expr)), nil
		}

		b = New(engine)
		var err error
		loop, err = b.Acquire()
		Expect(err).NotTo(HaveOccurred())
		sink = &recorder{}
		Expect(b.Connect(false, sink)).To(Succeed())
	})

	AfterEach(func() {
		b.Disconnect()
		if done != nil {
			Eventually(done).Should(BeClosed())
		}
		loop.Release()
	})

	It("should report the stop and resume on Debugger.resume", func() {
		pause(debuggee.PauseEvent{Reason: debuggee.ReasonBreakpoint})

		pausedFrameID()
		paused := sink.Notification("Debugger.paused")
		Expect(paused.Get("params.reason").String()).To(Equal("breakpoint"))
		Expect(paused.Get("params.callFrames.#").Int()).To(BeEquivalentTo(2))
		Expect(paused.Get("params.callFrames.0.location.scriptId").String()).To(Equal("3"))
		Expect(paused.Get("params.callFrames.0.location.lineNumber").Int()).To(BeEquivalentTo(10))
		Expect(paused.Get("params.callFrames.1.this.type").String()).To(Equal("undefined"))
		Consistently(done, 50*time.Millisecond).ShouldNot(BeClosed())

		b.SendCommand(command(2, "Debugger.resume", ""))
		Eventually(done).Should(BeClosed())

		Expect(sink.Response(2).Get("result").Exists()).To(BeTrue())
		Expect(sink.Methods()).To(Equal([]string{"Debugger.paused", "#2", "Debugger.resumed"}))
		Expect(engine.Calls()).To(Equal([]string{"Resume"}))
		Expect(engine.Released()).To(Equal(1))
	})

	It("should invalidate the pause before later commands of the resuming batch", func() {
		frameID := `{"ordinal":0,"pause":1}`
		b.SendCommand(command(2, "Debugger.resume", ""))
		b.SendCommand(command(3, "Debugger.evaluateOnCallFrame", fmt.Sprintf(`{"callFrameId":%q,"expression":"n"}`, frameID)))

		pause(debuggee.PauseEvent{Reason: debuggee.ReasonBreakpoint})
		Eventually(done).Should(BeClosed())

		Expect(sink.Notification("Debugger.paused").Get("params.callFrames.0.callFrameId").String()).To(Equal(frameID))
		Expect(sink.Methods()).To(Equal([]string{"Debugger.paused", "#2", "Debugger.resumed", "#3"}))
		Expect(sink.Response(3).Get("result").Exists()).To(BeFalse())
		Expect(sink.Response(3).Get("error.code").Int()).To(BeEquivalentTo(protocol.CodeServerError))
		Expect(engine.Calls()).To(Equal([]string{"Resume"}))
		Expect(engine.Released()).To(Equal(1))
	})

	It("should service inspection commands while paused", func() {
		pause(debuggee.PauseEvent{Reason: debuggee.ReasonStep})
		frameID := pausedFrameID()

		b.SendCommand(command(2, "Debugger.evaluateOnCallFrame", fmt.Sprintf(`{"callFrameId":%q,"expression":"n+1"}`, frameID)))
		Eventually(func() bool { return sink.Response(2).Exists() }).Should(BeTrue())
		Expect(sink.Response(2).Get("result.result.value").Int()).To(BeEquivalentTo(3))

		thisID := sink.Notification("Debugger.paused").Get("params.callFrames.0.this.objectId").String()
		Expect(thisID).NotTo(BeEmpty())
		b.SendCommand(command(3, "Runtime.getProperties", fmt.Sprintf(`{"objectId":%q,"ownProperties":true}`, thisID)))
		Eventually(func() bool { return sink.Response(3).Exists() }).Should(BeTrue())
		Expect(sink.Response(3).Get("result.result.0.name").String()).To(Equal("x"))

		scopeID := sink.Notification("Debugger.paused").Get("params.callFrames.0.scopeChain.0.object.objectId").String()
		b.SendCommand(command(4, "Runtime.getProperties", fmt.Sprintf(`{"objectId":%q}`, scopeID)))
		Eventually(func() bool { return sink.Response(4).Exists() }).Should(BeTrue())
		Expect(sink.Response(4).Get("result.result.0.name").String()).To(Equal("n"))

		Consistently(done, 50*time.Millisecond).ShouldNot(BeClosed())
		b.SendCommand(command(5, "Debugger.resume", ""))
		Eventually(done).Should(BeClosed())
	})

	It("should reject call frame ids from an ended pause", func() {
		pause(debuggee.PauseEvent{Reason: debuggee.ReasonOther})
		stale := pausedFrameID()

		b.SendCommand(command(2, "Debugger.resume", ""))
		Eventually(done).Should(BeClosed())

		b.SendCommand(command(3, "Debugger.evaluateOnCallFrame", fmt.Sprintf(`{"callFrameId":%q,"expression":"n"}`, stale)))
		loop.ProcessCommandQueue(false)

		res := sink.Response(3)
		Expect(res.Get("result").Exists()).To(BeFalse())
		Expect(res.Get("error.code").Int()).To(BeEquivalentTo(protocol.CodeServerError))
		Expect(res.Get("error.message").String()).To(ContainSubstring(debuggee.ErrStaleHandle.Error()))
	})

	It("should reject ids from an earlier pause during a later one", func() {
		pause(debuggee.PauseEvent{Reason: debuggee.ReasonOther})
		stale := pausedFrameID()
		staleObject := sink.Notification("Debugger.paused").Get("params.callFrames.0.this.objectId").String()
		b.SendCommand(command(2, "Debugger.resume", ""))
		Eventually(done).Should(BeClosed())

		sink2 := &recorder{}
		b.Disconnect()
		Expect(b.Connect(false, sink2)).To(Succeed())
		sink = sink2
		pause(debuggee.PauseEvent{Reason: debuggee.ReasonOther})
		fresh := pausedFrameID()
		Expect(fresh).NotTo(Equal(stale))

		b.SendCommand(command(3, "Debugger.evaluateOnCallFrame", fmt.Sprintf(`{"callFrameId":%q,"expression":"n"}`, stale)))
		b.SendCommand(command(4, "Runtime.getProperties", fmt.Sprintf(`{"objectId":%q}`, staleObject)))
		b.SendCommand(command(5, "Debugger.evaluateOnCallFrame", fmt.Sprintf(`{"callFrameId":%q,"expression":"n"}`, fresh)))
		Eventually(func() bool { return sink.Response(5).Exists() }).Should(BeTrue())

		Expect(sink.Response(3).Get("error.message").String()).To(ContainSubstring(debuggee.ErrStaleHandle.Error()))
		Expect(sink.Response(4).Get("error.message").String()).To(ContainSubstring(debuggee.ErrStaleHandle.Error()))
		Expect(sink.Response(5).Get("error").Exists()).To(BeFalse())

		b.SendCommand(command(6, "Debugger.resume", ""))
		Eventually(done).Should(BeClosed())
	})

	It("should reject malformed call frame ids as invalid params", func() {
		pause(debuggee.PauseEvent{Reason: debuggee.ReasonOther})
		pausedFrameID()

		b.SendCommand(command(2, "Debugger.evaluateOnCallFrame", `{"callFrameId":"nope","expression":"n"}`))
		Eventually(func() bool { return sink.Response(2).Exists() }).Should(BeTrue())
		Expect(sink.Response(2).Get("error.code").Int()).To(BeEquivalentTo(protocol.CodeInvalidParams))

		b.SendCommand(command(3, "Debugger.resume", ""))
		Eventually(done).Should(BeClosed())
	})

	It("should resume on a step and report it", func() {
		pause(debuggee.PauseEvent{Reason: debuggee.ReasonStep})
		pausedFrameID()

		b.SendCommand(command(2, "Debugger.stepOut", ""))
		Eventually(done).Should(BeClosed())
		Expect(engine.Calls()).To(Equal([]string{"StepOut"}))
		Expect(sink.Notification("Debugger.resumed").Exists()).To(BeTrue())
	})

	It("should drop the notification but keep the pause when a frame cannot be read", func() {
		engine.FailOn("ObjectByHandle", errors.New("function vanished"))
		pause(debuggee.PauseEvent{Reason: debuggee.ReasonBreakpoint})

		b.SendCommand(command(2, "Schema.getDomains", ""))
		Eventually(func() bool { return sink.Response(2).Exists() }).Should(BeTrue())
		Expect(sink.Notification("Debugger.paused").Exists()).To(BeFalse())
		Consistently(done, 50*time.Millisecond).ShouldNot(BeClosed())

		b.SendCommand(command(3, "Debugger.resume", ""))
		Eventually(done).Should(BeClosed())
	})

	It("should let the engine run free when the client disconnects mid-pause", func() {
		b.SendCommand(command(1, "Debugger.setBreakpoint", `{"location":{"scriptId":"3","lineNumber":10}}`))
		loop.ProcessCommandQueue(false)
		Expect(sink.Response(1).Get("result.breakpointId").String()).To(Equal("1"))
		Expect(engine.Breakpoints()).To(HaveLen(1))

		pause(debuggee.PauseEvent{Reason: debuggee.ReasonBreakpoint, HitBreakpoints: []int{1}})
		Expect(pausedFrameID()).NotTo(BeEmpty())
		Expect(sink.Notification("Debugger.paused").Get("params.hitBreakpoints.0").String()).To(Equal("1"))

		b.Disconnect()
		Eventually(done).Should(BeClosed())

		Expect(engine.Calls()).To(Equal([]string{"Resume"}))
		Expect(engine.Breakpoints()).To(BeEmpty())
		Expect(sink.Notification("Debugger.resumed").Exists()).To(BeFalse())
	})

	It("should not stop at breakpoints while they are deactivated", func() {
		b.SendCommand(command(1, "Debugger.setBreakpointsActive", `{"active":false}`))
		loop.ProcessCommandQueue(false)

		loop.OnPause(debuggee.PauseEvent{Reason: debuggee.ReasonBreakpoint})
		Expect(sink.Notification("Debugger.paused").Exists()).To(BeFalse())
		Expect(engine.Calls()).To(Equal([]string{"Resume"}))
	})

	It("should not stop without a session", func() {
		b.Disconnect()

		loop.OnPause(debuggee.PauseEvent{Reason: debuggee.ReasonDebugCommand})
		Expect(sink.Messages()).To(BeEmpty())
		Expect(engine.Calls()).To(Equal([]string{"Resume"}))
	})

	It("should carry console output as Runtime and Console events", func() {
		b.SendCommand(command(1, "Runtime.enable", ""))
		b.SendCommand(command(2, "Console.enable", ""))
		loop.ProcessCommandQueue(false)

		loop.OnConsole("log", []debuggee.Value{debuggee.String("hello"), debuggee.Int(3)})

		called := sink.Notification("Runtime.consoleAPICalled")
		Expect(called.Get("params.type").String()).To(Equal("log"))
		Expect(called.Get("params.args.#").Int()).To(BeEquivalentTo(2))
		Expect(sink.Notification("Console.messageAdded").Get("params.message.text").String()).To(Equal("hello 3"))
	})

	It("should forward scripts parsed after Debugger.enable", func() {
		b.SendCommand(command(1, "Debugger.enable", ""))
		loop.ProcessCommandQueue(false)
		Expect(sink.Methods()).To(Equal([]string{"Debugger.scriptParsed", "#1"}))

		s := debuggeetest.Script{ID: 4, ScriptType: "eval code", Source: "return 2", LineCount: 1}
		engine.AddScript(s)
		loop.OnScriptParsed(debuggeetest.ScriptRecord(s))

		var parsed []gjson.Result
		for _, m := range sink.Messages() {
			if r := gjson.Parse(m); r.Get("method").String() == "Debugger.scriptParsed" {
				parsed = append(parsed, r)
			}
		}
		Expect(parsed).To(HaveLen(2))
		Expect(parsed[1].Get("params.scriptId").String()).To(Equal("4"))
		Expect(parsed[1].Get("params.url").String()).To(Equal("eval code"))
	})
})
