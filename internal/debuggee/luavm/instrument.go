package luavm

import (
	"strconv"

	"github.com/yuin/gopher-lua/ast"
)

// hookName is the global every instrumented statement calls before it runs.
const hookName = "__inspector_statement"

// instrumenter inserts a statement hook in front of every executable
// statement of a chunk, including the bodies of nested functions.
type instrumenter struct {
	scriptID int
	lines    map[int]struct{}
}

func instrument(chunk []ast.Stmt, scriptID int) ([]ast.Stmt, map[int]struct{}) {
	in := &instrumenter{scriptID: scriptID, lines: make(map[int]struct{})}
	return in.block(chunk), in.lines
}

func (in *instrumenter) block(stmts []ast.Stmt) []ast.Stmt {
	out := make([]ast.Stmt, 0, 2*len(stmts))
	for _, s := range stmts {
		in.stmt(s)
		if _, ok := s.(*ast.LabelStmt); !ok {
			out = append(out, in.hook(s.Line()))
		}
		out = append(out, s)
	}
	return out
}

func (in *instrumenter) hook(line int) ast.Stmt {
	fn := &ast.IdentExpr{Value: hookName}
	lineArg := &ast.NumberExpr{Value: strconv.Itoa(line)}
	scriptArg := &ast.NumberExpr{Value: strconv.Itoa(in.scriptID)}
	call := &ast.FuncCallExpr{Func: fn, Args: []ast.Expr{lineArg, scriptArg}}
	stmt := &ast.FuncCallStmt{Expr: call}
	for _, n := range []ast.PositionHolder{fn, lineArg, scriptArg, call, stmt} {
		n.SetLine(line)
		n.SetLastLine(line)
	}
	in.lines[line] = struct{}{}
	return stmt
}

func (in *instrumenter) stmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.AssignStmt:
		in.exprs(s.Lhs)
		in.exprs(s.Rhs)
	case *ast.LocalAssignStmt:
		in.exprs(s.Exprs)
	case *ast.FuncCallStmt:
		in.expr(s.Expr)
	case *ast.DoBlockStmt:
		s.Stmts = in.block(s.Stmts)
	case *ast.WhileStmt:
		in.expr(s.Condition)
		s.Stmts = in.block(s.Stmts)
	case *ast.RepeatStmt:
		in.expr(s.Condition)
		s.Stmts = in.block(s.Stmts)
	case *ast.IfStmt:
		in.expr(s.Condition)
		s.Then = in.block(s.Then)
		s.Else = in.block(s.Else)
	case *ast.NumberForStmt:
		in.expr(s.Init)
		in.expr(s.Limit)
		in.expr(s.Step)
		s.Stmts = in.block(s.Stmts)
	case *ast.GenericForStmt:
		in.exprs(s.Exprs)
		s.Stmts = in.block(s.Stmts)
	case *ast.FuncDefStmt:
		in.expr(s.Func)
	case *ast.ReturnStmt:
		in.exprs(s.Exprs)
	}
}

func (in *instrumenter) exprs(es []ast.Expr) {
	for _, e := range es {
		in.expr(e)
	}
}

func (in *instrumenter) expr(e ast.Expr) {
	switch e := e.(type) {
	case *ast.FunctionExpr:
		e.Stmts = in.block(e.Stmts)
	case *ast.FuncCallExpr:
		in.expr(e.Func)
		in.expr(e.Receiver)
		in.exprs(e.Args)
	case *ast.AttrGetExpr:
		in.expr(e.Object)
		in.expr(e.Key)
	case *ast.TableExpr:
		for _, f := range e.Fields {
			in.expr(f.Key)
			in.expr(f.Value)
		}
	case *ast.LogicalOpExpr:
		in.expr(e.Lhs)
		in.expr(e.Rhs)
	case *ast.RelationalOpExpr:
		in.expr(e.Lhs)
		in.expr(e.Rhs)
	case *ast.StringConcatOpExpr:
		in.expr(e.Lhs)
		in.expr(e.Rhs)
	case *ast.ArithmeticOpExpr:
		in.expr(e.Lhs)
		in.expr(e.Rhs)
	case *ast.UnaryMinusOpExpr:
		in.expr(e.Expr)
	case *ast.UnaryNotOpExpr:
		in.expr(e.Expr)
	case *ast.UnaryLenOpExpr:
		in.expr(e.Expr)
	}
}
