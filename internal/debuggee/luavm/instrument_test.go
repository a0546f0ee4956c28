package luavm

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

func statementLines(src string) map[int]struct{} {
	chunk, err := parse.Parse(strings.NewReader(src), "test")
	Expect(err).NotTo(HaveOccurred())
	_, lines := instrument(chunk, 1)
	return lines
}

var _ = Describe("instrument", func() {
	It("hooks every statement including nested function bodies", func() {
		src := "local t = {\n  f = function()\n    return 1\n  end,\n}\nif t then\n  print(t.f())\nelse\n  error('no')\nend\n"
		Expect(statementLines(src)).To(Equal(map[int]struct{}{1: {}, 3: {}, 6: {}, 7: {}, 9: {}}))
	})

	It("puts a hook call before each statement", func() {
		chunk, err := parse.Parse(strings.NewReader("x = 1\ny = 2\n"), "test")
		Expect(err).NotTo(HaveOccurred())
		out, _ := instrument(chunk, 4)
		Expect(out).To(HaveLen(4))

		call, ok := out[2].(*ast.FuncCallStmt)
		Expect(ok).To(BeTrue())
		expr := call.Expr.(*ast.FuncCallExpr)
		Expect(expr.Func.(*ast.IdentExpr).Value).To(Equal(hookName))
		Expect(expr.Args[0].(*ast.NumberExpr).Value).To(Equal("2"))
		Expect(expr.Args[1].(*ast.NumberExpr).Value).To(Equal("4"))
		Expect(call.Line()).To(Equal(2))
	})

	It("leaves labels unhooked", func() {
		src := "for i = 1, 2 do\n  goto continue\n  ::continue::\nend\n"
		Expect(statementLines(src)).To(Equal(map[int]struct{}{1: {}, 2: {}}))
	})
})
