package luavm_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/bingosuite/inspector/internal/debuggee"
	"github.com/bingosuite/inspector/internal/debuggee/luavm"
)

func TestLuaVM(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "LuaVM Suite")
}

// events records engine notifications and answers pauses with onPause.
type events struct {
	scripts []debuggee.Record
	console [][]debuggee.Value
	pauses  []debuggee.PauseEvent
	polls   int
	onPause func(ev debuggee.PauseEvent)
}

func (ev *events) OnPause(p debuggee.PauseEvent) {
	ev.pauses = append(ev.pauses, p)
	if ev.onPause != nil {
		ev.onPause(p)
	}
}

func (ev *events) OnScriptParsed(s debuggee.Record) { ev.scripts = append(ev.scripts, s) }

func (ev *events) OnConsole(_ string, args []debuggee.Value) {
	ev.console = append(ev.console, args)
}

func (ev *events) Poll() { ev.polls++ }

func currentLine(e *luavm.Engine) int {
	frame, err := e.StackFrame(0)
	Expect(err).NotTo(HaveOccurred())
	line, err := debuggee.GetInt(frame, debuggee.PropLine)
	Expect(err).NotTo(HaveOccurred())
	return line
}

func propertyMap(props []debuggee.Property) map[string]string {
	out := make(map[string]string, len(props))
	for _, p := range props {
		out[p.Name] = p.Value.Describe()
	}
	return out
}

const addScript = `local function add(a, b)
  local sum = a + b
  return sum
end
local total = add(1, 2)
print(total)
`

const stepScript = `local function inc(x)
  return x + 1
end
local a = inc(1)
local b = inc(a)
print(a, b)
`

var _ = Describe("Engine", func() {
	var (
		engine *luavm.Engine
		ev     *events
		out    *bytes.Buffer
	)

	BeforeEach(func() {
		out = &bytes.Buffer{}
		ev = &events{}
		engine = luavm.New(luavm.WithOutput(out))
		engine.SetEvents(ev)
		DeferCleanup(engine.Close)
	})

	Describe("loading", func() {
		It("reports the script with its name and line count", func() {
			id, err := engine.Load("add.lua", addScript)
			Expect(err).NotTo(HaveOccurred())
			Expect(ev.scripts).To(HaveLen(1))

			name, err := debuggee.GetString(ev.scripts[0], debuggee.PropFileName)
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("add.lua"))
			Expect(debuggee.GetInt(ev.scripts[0], debuggee.PropScriptID)).To(Equal(id))
			Expect(debuggee.GetInt(ev.scripts[0], debuggee.PropLineCount)).To(Equal(7))

			src, err := engine.ScriptSource(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(debuggee.GetString(src, debuggee.PropSource)).To(Equal(addScript))
		})

		It("leaves the file name out of unnamed scripts", func() {
			_, err := engine.Load("", "x = 1")
			Expect(err).NotTo(HaveOccurred())
			Expect(debuggee.Has(ev.scripts[0], debuggee.PropFileName)).To(BeFalse())
			Expect(debuggee.GetString(ev.scripts[0], debuggee.PropScriptType)).To(Equal("script"))
		})

		It("rejects source that does not parse", func() {
			_, err := engine.Load("bad.lua", "local = 1")
			Expect(err).To(MatchError(ContainSubstring("failed to parse bad.lua")))
			Expect(ev.scripts).To(BeEmpty())
		})

		It("forgets unloaded scripts", func() {
			id, err := engine.Load("add.lua", addScript)
			Expect(err).NotTo(HaveOccurred())
			Expect(engine.Unload(id)).To(Succeed())

			_, err = engine.ScriptSource(id)
			Expect(errors.Is(err, debuggee.ErrNotFound)).To(BeTrue())
			scripts, err := engine.Scripts()
			Expect(err).NotTo(HaveOccurred())
			Expect(scripts).To(BeEmpty())
		})
	})

	Describe("running", func() {
		It("prints to the output and the console", func() {
			id, err := engine.Load("add.lua", addScript)
			Expect(err).NotTo(HaveOccurred())
			Expect(engine.Run(context.Background(), id)).To(Succeed())

			Expect(out.String()).To(Equal("3\n"))
			Expect(ev.console).To(HaveLen(1))
			Expect(ev.console[0][0].Describe()).To(Equal("3"))
			Expect(ev.polls).To(BeNumerically(">", 0))
			Expect(ev.pauses).To(BeEmpty())
		})

		It("stops a run that exceeds the statement limit", func() {
			limited := luavm.New(luavm.WithStatementLimit(5))
			DeferCleanup(limited.Close)
			id, err := limited.Load("loop.lua", "local i = 0\nwhile true do\n  i = i + 1\nend\n")
			Expect(err).NotTo(HaveOccurred())
			Expect(limited.Run(context.Background(), id)).To(MatchError(ContainSubstring("statement limit of 5 exceeded")))
		})

		It("aborts when the context is cancelled", func() {
			id, err := engine.Load("loop.lua", "while true do end\n")
			Expect(err).NotTo(HaveOccurred())
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			Expect(engine.Run(ctx, id)).NotTo(Succeed())
			Expect(ev.pauses).To(BeEmpty())
		})

		It("does not expose the host", func() {
			id, err := engine.Load("host.lua", "print(io, os, dofile, loadstring)\n")
			Expect(err).NotTo(HaveOccurred())
			Expect(engine.Run(context.Background(), id)).To(Succeed())
			Expect(out.String()).To(Equal("nil\tnil\tnil\tnil\n"))
		})
	})

	Describe("breakpoints", func() {
		var id int

		BeforeEach(func() {
			var err error
			id, err = engine.Load("add.lua", addScript)
			Expect(err).NotTo(HaveOccurred())
		})

		It("pauses with frames, locals and evaluation", func() {
			bp, err := engine.SetBreakpoint(id, 2, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(bp.Line).To(Equal(2))

			ev.onPause = func(p debuggee.PauseEvent) {
				defer func() { Expect(engine.Resume()).To(Succeed()) }()
				Expect(p.Reason).To(Equal(debuggee.ReasonBreakpoint))
				Expect(p.HitBreakpoints).To(Equal([]int{bp.ID}))
				Expect(engine.StackFrameCount()).To(Equal(2))

				frame, err := engine.StackFrame(0)
				Expect(err).NotTo(HaveOccurred())
				Expect(debuggee.GetInt(frame, debuggee.PropLine)).To(Equal(2))
				Expect(debuggee.GetInt(frame, debuggee.PropScriptID)).To(Equal(id))

				fnHandle, err := debuggee.GetInt(frame, debuggee.PropFunctionHandle)
				Expect(err).NotTo(HaveOccurred())
				fn, err := engine.ObjectByHandle(fnHandle)
				Expect(err).NotTo(HaveOccurred())
				Expect(debuggee.GetString(fn, debuggee.PropName)).To(Equal("add"))
				Expect(debuggee.GetInt(fn, debuggee.PropLine)).To(Equal(0))

				caller, err := engine.StackFrame(1)
				Expect(err).NotTo(HaveOccurred())
				Expect(debuggee.GetInt(caller, debuggee.PropLine)).To(Equal(4))

				props, err := engine.StackProperties(0)
				Expect(err).NotTo(HaveOccurred())
				Expect(debuggee.Has(props, debuggee.PropThisObject)).To(BeFalse())
				Expect(debuggee.Has(props, debuggee.PropReturnValue)).To(BeFalse())
				scope, err := debuggee.Get(props, debuggee.PropLocals)
				Expect(err).NotTo(HaveOccurred())

				locals, err := engine.Properties(scope.Handle)
				Expect(err).NotTo(HaveOccurred())
				Expect(propertyMap(locals)).To(Equal(map[string]string{"a": "1", "b": "2", "sum": "3"}))

				v, err := engine.Evaluate(0, "a * 10 + b")
				Expect(err).NotTo(HaveOccurred())
				Expect(v.Describe()).To(Equal("12"))
			}

			Expect(engine.Run(context.Background(), id)).To(Succeed())
			Expect(ev.pauses).To(HaveLen(1))
			Expect(out.String()).To(Equal("3\n"))
		})

		It("moves to the next statement", func() {
			bp, err := engine.SetBreakpoint(id, 3, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(bp.Line).To(Equal(4))
		})

		It("refuses lines past the last statement", func() {
			_, err := engine.SetBreakpoint(id, 40, 0)
			Expect(errors.Is(err, debuggee.ErrNotFound)).To(BeTrue())
		})

		It("refuses unknown scripts", func() {
			_, err := engine.SetBreakpoint(id+1, 0, 0)
			Expect(errors.Is(err, debuggee.ErrNotFound)).To(BeTrue())
		})

		It("no longer pauses once removed", func() {
			bp, err := engine.SetBreakpoint(id, 2, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(engine.RemoveBreakpoint(bp.ID)).To(Succeed())
			Expect(errors.Is(engine.RemoveBreakpoint(bp.ID), debuggee.ErrNotFound)).To(BeTrue())

			Expect(engine.Run(context.Background(), id)).To(Succeed())
			Expect(ev.pauses).To(BeEmpty())
		})
	})

	Describe("stepping", func() {
		It("steps into, out of and over calls", func() {
			id, err := engine.Load("step.lua", stepScript)
			Expect(err).NotTo(HaveOccurred())
			_, err = engine.SetBreakpoint(id, 3, 0)
			Expect(err).NotTo(HaveOccurred())

			var lines []int
			actions := []func() error{engine.StepInto, engine.StepOut, engine.StepOver, engine.Resume}
			ev.onPause = func(debuggee.PauseEvent) {
				lines = append(lines, currentLine(engine))
				next := actions[0]
				actions = actions[1:]
				Expect(next()).To(Succeed())
			}

			Expect(engine.Run(context.Background(), id)).To(Succeed())
			Expect(lines).To(Equal([]int{3, 1, 4, 5}))
			Expect(ev.pauses[0].Reason).To(Equal(debuggee.ReasonBreakpoint))
			Expect(ev.pauses[1].Reason).To(Equal(debuggee.ReasonStep))
			Expect(out.String()).To(Equal("2\t3\n"))
		})

		It("pauses at the first statement when asked before running", func() {
			id, err := engine.Load("step.lua", stepScript)
			Expect(err).NotTo(HaveOccurred())
			Expect(engine.Pause()).To(Succeed())

			ev.onPause = func(debuggee.PauseEvent) {
				Expect(currentLine(engine)).To(Equal(0))
				Expect(engine.Resume()).To(Succeed())
			}
			Expect(engine.Run(context.Background(), id)).To(Succeed())
			Expect(ev.pauses).To(HaveLen(1))
			Expect(ev.pauses[0].Reason).To(Equal(debuggee.ReasonOther))
		})

		It("pauses on a debugger statement", func() {
			id, err := engine.Load("dbg.lua", "local x = 1\ndebugger()\nprint(x)\n")
			Expect(err).NotTo(HaveOccurred())
			ev.onPause = func(debuggee.PauseEvent) {
				Expect(currentLine(engine)).To(Equal(1))
			}
			Expect(engine.Run(context.Background(), id)).To(Succeed())
			Expect(ev.pauses).To(HaveLen(1))
			Expect(ev.pauses[0].Reason).To(Equal(debuggee.ReasonDebugCommand))
		})
	})

	Describe("exceptions", func() {
		It("pauses where an uncaught error is raised", func() {
			id, err := engine.Load("fail.lua", "local t = nil\nlocal x = t.field\n")
			Expect(err).NotTo(HaveOccurred())
			ev.onPause = func(p debuggee.PauseEvent) {
				Expect(p.Exception).NotTo(BeNil())
				Expect(p.Exception.Describe()).To(ContainSubstring("attempt to index"))
				Expect(currentLine(engine)).To(Equal(1))
			}

			Expect(engine.Run(context.Background(), id)).To(MatchError(ContainSubstring("failed to run fail.lua")))
			Expect(ev.pauses).To(HaveLen(1))
			Expect(ev.pauses[0].Reason).To(Equal(debuggee.ReasonException))
		})

		It("does not pause for errors caught by pcall", func() {
			id, err := engine.Load("caught.lua", "local ok = pcall(error, 'boom')\nprint(ok)\n")
			Expect(err).NotTo(HaveOccurred())
			Expect(engine.Run(context.Background(), id)).To(Succeed())
			Expect(ev.pauses).To(BeEmpty())
			Expect(out.String()).To(Equal("false\n"))
		})
	})

	Describe("inspection", func() {
		It("exposes self and table members while paused", func() {
			src := "local obj = {n = 1, 'first'}\nfunction obj:get()\n  return self.n\nend\nprint(obj:get())\n"
			id, err := engine.Load("obj.lua", src)
			Expect(err).NotTo(HaveOccurred())
			_, err = engine.SetBreakpoint(id, 2, 0)
			Expect(err).NotTo(HaveOccurred())

			var handle int
			ev.onPause = func(debuggee.PauseEvent) {
				props, err := engine.StackProperties(0)
				Expect(err).NotTo(HaveOccurred())
				self, err := debuggee.Get(props, debuggee.PropThisObject)
				Expect(err).NotTo(HaveOccurred())
				Expect(self.Kind).To(Equal(debuggee.KindObject))
				Expect(self.ClassName).To(Equal("table"))
				handle = self.Handle

				members, err := engine.Properties(handle)
				Expect(err).NotTo(HaveOccurred())
				Expect(members).To(HaveLen(3))
				Expect(members[0].Name).To(Equal("1"))
				Expect(members[0].Value.Describe()).To(Equal("first"))
				Expect(members[1].Name).To(Equal("get"))
				Expect(members[1].Value.Kind).To(Equal(debuggee.KindFunction))
				Expect(members[2].Name).To(Equal("n"))

				engine.ReleaseHandles()
				_, err = engine.Properties(handle)
				Expect(errors.Is(err, debuggee.ErrStaleHandle)).To(BeTrue())
			}
			Expect(engine.Run(context.Background(), id)).To(Succeed())
			Expect(ev.pauses).To(HaveLen(1))
		})

		It("refuses frame access while running", func() {
			_, err := engine.StackFrameCount()
			Expect(errors.Is(err, debuggee.ErrNotPaused)).To(BeTrue())
			_, err = engine.Evaluate(0, "1")
			Expect(errors.Is(err, debuggee.ErrNotPaused)).To(BeTrue())
		})
	})

	Describe("Evaluate", func() {
		It("evaluates expressions in global scope", func() {
			v, err := engine.Evaluate(-1, "1 + 2")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(debuggee.Number(3)))
		})

		It("runs statements", func() {
			_, err := engine.Evaluate(-1, "answer = 42")
			Expect(err).NotTo(HaveOccurred())
			v, err := engine.Evaluate(-1, "answer")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Describe()).To(Equal("42"))
		})

		It("maps nil to null and tables to unhandled objects", func() {
			v, err := engine.Evaluate(-1, "nil")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Kind).To(Equal(debuggee.KindNull))

			v, err = engine.Evaluate(-1, "{}")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Kind).To(Equal(debuggee.KindObject))
			Expect(v.Handle).To(BeZero())
		})

		It("reports raised errors as exceptions", func() {
			_, err := engine.Evaluate(-1, "error('boom')")
			var exc *debuggee.Exception
			Expect(errors.As(err, &exc)).To(BeTrue())
			Expect(exc.Text).To(ContainSubstring("boom"))
		})

		It("reports syntax errors as exceptions", func() {
			_, err := engine.Evaluate(-1, "1 +")
			var exc *debuggee.Exception
			Expect(errors.As(err, &exc)).To(BeTrue())
		})
	})
})
