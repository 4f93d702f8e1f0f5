package packscript

import (
	"fmt"
	"strings"
)

// Validator performs static checks between parsing and execution: control
// flow placement, duplicate fields and unreachable match cases.
type Validator struct {
	errors []string
	first  Position
}

// bodyContext is what the enclosing statements allow
type bodyContext struct {
	inLoop    bool
	inFinally bool
}

func NewValidator() *Validator {
	return &Validator{
		errors: make([]string, 0),
	}
}

func (v *Validator) Validate(program *Program) error {
	v.errors = v.errors[:0]
	v.first = Position{}

	for _, d := range program.Decls {
		v.validateStmt(d, bodyContext{})
	}

	if len(v.errors) > 0 {
		return syntaxError(v.first, "ValidationError", "validation errors: %s", strings.Join(v.errors, "; "))
	}
	return nil
}

func (v *Validator) addError(pos Position, format string, args ...any) {
	if len(v.errors) == 0 {
		v.first = pos
	}
	v.errors = append(v.errors, fmt.Sprintf("%s: %s", pos, fmt.Sprintf(format, args...)))
}

func (v *Validator) validateStmts(stmts []Stmt, ctx bodyContext) {
	for _, s := range stmts {
		v.validateStmt(s, ctx)
	}
}

func (v *Validator) validateBlock(b *Block, ctx bodyContext) {
	if b != nil {
		v.validateStmts(b.Stmts, ctx)
	}
}

// validateFunction checks a callable body; loops and finally regions of the
// declaring code do not extend into it.
func (v *Validator) validateFunction(b *Block, handler *ErrorHandler) {
	v.validateBlock(b, bodyContext{})
	v.validateHandler(handler, bodyContext{})
}

func (v *Validator) validateHandler(h *ErrorHandler, ctx bodyContext) {
	if h != nil {
		v.validateBlock(h.Body, ctx)
	}
}

func (v *Validator) validateFields(pos Position, owner string, fields []FieldDecl) {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f.Name] {
			v.addError(pos, "duplicate field %s in %s", f.Name, owner)
		}
		seen[f.Name] = true
		v.validateExpr(f.Default)
	}
}

func (v *Validator) validateStmt(s Stmt, ctx bodyContext) {
	switch n := s.(type) {
	case *NamespaceDecl:
		v.validateStmts(n.Body, ctx)
	case *PackDecl:
		v.validateStmts(n.Body, ctx)
	case *VarDecl:
		v.validateExpr(n.Value)
	case *BoxDecl:
		v.validateFields(n.Pos(), n.Name, n.Fields)
	case *ErrorDecl:
		v.validateFields(n.Pos(), n.Name, n.Fields)
	case *GuardDecl:
		v.validateExpr(n.Body)
	case *FuncDecl:
		v.validateParams(n.Pos(), n.Name, n.Params)
		v.validateFunction(n.Body, n.OnError)
	case *JobDecl:
		v.validateParams(n.Pos(), n.Name, n.Params)
		if n.When != nil {
			if _, ok := delayUnits[n.WhenUnit]; !ok {
				v.addError(n.Pos(), "unknown time unit %q in job %s", n.WhenUnit, n.Name)
			}
		}
		v.validateExpr(n.When)
		v.validateExpr(n.Limit)
		v.validateFunction(n.Body, n.OnError)
	case *TestDecl:
		v.validateFunction(n.Body, nil)
	case *ViewDecl:
		v.validateExpr(n.Body)
	case *SubscribeDecl:
		v.validateFunction(n.Body, nil)
	case *SocketStmt:
		v.validateExpr(n.URL)
		v.validateFunction(n.Body, nil)

	case *SayStmt:
		v.validateExpr(n.Value)
	case *AssignStmt:
		v.validateExpr(n.Value)
	case *SetMemberStmt:
		v.validateExpr(n.Object)
		v.validateExpr(n.Value)
	case *SetIndexStmt:
		v.validateExpr(n.Object)
		v.validateExpr(n.Index)
		v.validateExpr(n.Value)
	case *ReturnStmt:
		if ctx.inFinally {
			v.addError(n.Pos(), "return inside finally")
		}
		v.validateExpr(n.Value)
	case *BreakStmt:
		v.checkLoopExit(n.Pos(), "break", ctx)
	case *ContinueStmt:
		v.checkLoopExit(n.Pos(), "continue", ctx)
	case *AssertStmt:
		v.validateExpr(n.Cond)
		v.validateExpr(n.Message)
	case *EmitStmt:
		v.validateExpr(n.Value)
	case *KeygenStmt:
		v.validateExpr(n.From)
	case *ExprStmt:
		v.validateExpr(n.Expr)

	case *BlockStmt:
		v.validateBlock(n.Body, ctx)
	case *IfStmt:
		v.validateExpr(n.Cond)
		v.validateBlock(n.Then, ctx)
		if n.Else != nil {
			v.validateStmt(n.Else, ctx)
		}
		v.validateHandler(n.OnError, ctx)
	case *LoopStmt:
		v.validateExpr(n.Iter)
		v.validateBlock(n.Body, bodyContext{inLoop: true, inFinally: ctx.inFinally})
		v.validateHandler(n.OnError, ctx)
	case *WhileStmt:
		v.validateExpr(n.Cond)
		v.validateBlock(n.Body, bodyContext{inLoop: true, inFinally: ctx.inFinally})
		v.validateHandler(n.OnError, ctx)
	case *MatchStmt:
		v.validateExpr(n.Subject)
		for i, c := range n.Cases {
			if _, isElse := c.Pattern.(*ElsePattern); isElse && i < len(n.Cases)-1 {
				v.addError(c.Pos(), "unreachable match case after else")
			}
			if vp, ok := c.Pattern.(*ValuePattern); ok {
				v.validateExpr(vp.Value)
			}
			v.validateBlock(c.Body, ctx)
		}
		v.validateHandler(n.OnError, ctx)
	case *TryStmt:
		v.validateBlock(n.Body, ctx)
		if n.Catch != nil {
			v.validateBlock(n.Catch.Body, ctx)
		}
		v.validateBlock(n.Finally, bodyContext{inFinally: true})
		v.validateHandler(n.OnError, ctx)
	}
}

func (v *Validator) checkLoopExit(pos Position, keyword string, ctx bodyContext) {
	switch {
	case ctx.inFinally && !ctx.inLoop:
		v.addError(pos, "%s inside finally", keyword)
	case !ctx.inLoop:
		v.addError(pos, "%s outside of a loop", keyword)
	}
}

func (v *Validator) validateParams(pos Position, owner string, params []Param) {
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if seen[p.Name] {
			v.addError(pos, "duplicate parameter %s in %s", p.Name, owner)
		}
		seen[p.Name] = true
	}
}

func (v *Validator) validateExpr(e Expr) {
	switch n := e.(type) {
	case nil:
	case *BinaryExpr:
		v.validateExpr(n.Left)
		v.validateExpr(n.Right)
	case *UnaryExpr:
		v.validateExpr(n.Operand)
	case *CallExpr:
		v.validateExpr(n.Callee)
		v.validateExprs(n.Args)
	case *MemberExpr:
		v.validateExpr(n.Object)
	case *IndexExpr:
		v.validateExpr(n.Object)
		v.validateExpr(n.Index)
	case *ListLit:
		v.validateExprs(n.Elems)
	case *DictLit:
		v.validateExprs(n.Keys)
		v.validateExprs(n.Values)
	case *RecordLit:
		v.validateExprs(n.Values)
	case *GroupLit:
		v.validateExprs(n.Elems)
	case *LambdaExpr:
		v.validateParams(n.Pos(), "lambda", n.Params)
		v.validateExpr(n.Result)
		v.validateFunction(n.Body, nil)
	case *WaitExpr:
		v.validateExpr(n.Value)
	case *ThrowExpr:
		v.validateExpr(n.Payload)
	case *RecallExpr:
		v.validateExpr(n.Key)
	case *HTTPGetExpr:
		v.validateExpr(n.URL)
	case *VerifySigExpr:
		v.validateExpr(n.PublicKey)
		v.validateExpr(n.Message)
		v.validateExpr(n.Signature)
	}
}

func (v *Validator) validateExprs(exprs []Expr) {
	for _, e := range exprs {
		v.validateExpr(e)
	}
}
