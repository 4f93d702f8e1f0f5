package packscript

// flow is how a statement left its block
type flow int

const (
	flowNext flow = iota
	flowReturn
	flowBreak
	flowContinue
)

// Interpreter evaluates the AST directly. It shares every semantic helper
// with the VM through the Runtime, so both engines agree on output and errors.
type Interpreter struct {
	rt *Runtime
}

// NewInterpreter binds a tree-walking executor to rt
func NewInterpreter(rt *Runtime) *Interpreter {
	in := &Interpreter{rt: rt}
	rt.exec = in
	return in
}

// Run executes every top-level declaration. A top-level return ends the
// program with its value.
func (in *Interpreter) Run(program *Program) (any, error) {
	for _, d := range program.Decls {
		fl, val, err := in.execStmt(RootScope, d)
		if err != nil {
			return nil, err
		}
		if fl == flowReturn {
			return val, nil
		}
	}
	return nil, nil
}

func (in *Interpreter) invoke(fn *Function, args []any) (any, error) {
	scope, err := in.rt.enterFunction(fn, args)
	if err != nil {
		return nil, err
	}
	result, err := in.runFunction(scope, fn)
	return in.rt.leaveFunction(fn, scope, result, err)
}

func (in *Interpreter) runFunction(scope ScopeID, fn *Function) (any, error) {
	if fn.Result != nil {
		return in.eval(scope, fn.Result)
	}
	if fn.Body == nil {
		return nil, nil
	}
	fl, val, err := in.withOnError(scope, fn.OnError, func() (flow, any, error) {
		return in.execStmts(scope, fn.Body.Stmts)
	})
	if err != nil || fl != flowReturn {
		return nil, err
	}
	return val, nil
}

func (in *Interpreter) execStmts(scope ScopeID, stmts []Stmt) (flow, any, error) {
	for _, s := range stmts {
		fl, val, err := in.execStmt(scope, s)
		if err != nil || fl != flowNext {
			return fl, val, err
		}
	}
	return flowNext, nil, nil
}

// execBlock runs block in a fresh child scope
func (in *Interpreter) execBlock(scope ScopeID, block *Block, kind ScopeKind) (flow, any, error) {
	inner := in.rt.Registry.NewScope(scope, kind, "block")
	defer in.rt.Registry.Release(inner)
	return in.execStmts(inner, block.Stmts)
}

// withOnError runs body and hands catchable failures to handler
func (in *Interpreter) withOnError(scope ScopeID, handler *ErrorHandler, body func() (flow, any, error)) (flow, any, error) {
	fl, val, err := body()
	if err == nil || handler == nil {
		return fl, val, err
	}
	se, ok := catchable(err)
	if !ok {
		return fl, val, err
	}
	return in.handle(scope, handler.Param, se, handler.Body)
}

func (in *Interpreter) handle(scope ScopeID, param string, se *ScriptError, body *Block) (flow, any, error) {
	inner := in.rt.Registry.NewScope(scope, ScopeHandler, "handler")
	defer in.rt.Registry.Release(inner)
	if param != "" {
		if err := in.rt.define(inner, param, errorValue(se), nil, false); err != nil {
			return flowNext, nil, err
		}
	}
	return in.execStmts(inner, body.Stmts)
}

func (in *Interpreter) evalAll(scope ScopeID, exprs []Expr) ([]any, error) {
	out := make([]any, len(exprs))
	for i, e := range exprs {
		v, err := in.eval(scope, e)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (in *Interpreter) evalOptional(scope ScopeID, e Expr) (any, error) {
	if e == nil {
		return nil, nil
	}
	return in.eval(scope, e)
}

// declValues evaluates the expressions a declaration needs at declare time
func (in *Interpreter) declValues(scope ScopeID, d Decl) ([]any, error) {
	var exprs []Expr
	switch decl := d.(type) {
	case *BoxDecl:
		exprs = fieldDefaults(decl.Fields)
	case *ErrorDecl:
		exprs = fieldDefaults(decl.Fields)
	case *JobDecl:
		exprs = jobClauses(decl)
	}
	return in.evalAll(scope, exprs)
}

func fieldDefaults(fields []FieldDecl) []Expr {
	var exprs []Expr
	for _, f := range fields {
		if f.Default != nil {
			exprs = append(exprs, f.Default)
		}
	}
	return exprs
}

func jobClauses(d *JobDecl) []Expr {
	var exprs []Expr
	if d.When != nil {
		exprs = append(exprs, d.When)
	}
	if d.Limit != nil {
		exprs = append(exprs, d.Limit)
	}
	return exprs
}

func (in *Interpreter) execStmt(scope ScopeID, s Stmt) (flow, any, error) {
	rt := in.rt
	if err := rt.step(); err != nil {
		return flowNext, nil, err
	}

	switch st := s.(type) {
	case *NamespaceDecl:
		inner, err := rt.declarePack(scope, st.Name, nil, true)
		if err != nil {
			return flowNext, nil, err
		}
		return in.execStmts(inner, st.Body)

	case *PackDecl:
		inner, err := rt.declarePack(scope, st.Name, st.Tags, false)
		if err != nil {
			return flowNext, nil, err
		}
		return in.execStmts(inner, st.Body)

	case *VarDecl:
		v, err := in.eval(scope, st.Value)
		if err != nil {
			return flowNext, nil, err
		}
		if err := rt.checkType(scope, v, st.Type); err != nil {
			return flowNext, nil, err
		}
		return flowNext, nil, rt.define(scope, st.Name, v, st.Type, st.Const)

	case Decl:
		values, err := in.declValues(scope, st)
		if err != nil {
			return flowNext, nil, err
		}
		return flowNext, nil, rt.declare(scope, st, -1, values)

	case *SayStmt:
		v, err := in.eval(scope, st.Value)
		if err != nil {
			return flowNext, nil, err
		}
		rt.say(v)
		return flowNext, nil, nil

	case *AssignStmt:
		v, err := in.eval(scope, st.Value)
		if err != nil {
			return flowNext, nil, err
		}
		return flowNext, nil, rt.assign(scope, st.Name, v)

	case *SetMemberStmt:
		obj, err := in.eval(scope, st.Object)
		if err != nil {
			return flowNext, nil, err
		}
		v, err := in.eval(scope, st.Value)
		if err != nil {
			return flowNext, nil, err
		}
		return flowNext, nil, rt.setMember(scope, obj, st.Field, v)

	case *SetIndexStmt:
		vals, err := in.evalAll(scope, []Expr{st.Object, st.Index, st.Value})
		if err != nil {
			return flowNext, nil, err
		}
		return flowNext, nil, rt.setIndex(vals[0], vals[1], vals[2])

	case *ReturnStmt:
		v, err := in.evalOptional(scope, st.Value)
		if err != nil {
			return flowNext, nil, err
		}
		return flowReturn, v, nil

	case *BreakStmt:
		return flowBreak, nil, nil

	case *ContinueStmt:
		return flowContinue, nil, nil

	case *AssertStmt:
		cond, err := in.eval(scope, st.Cond)
		if err != nil {
			return flowNext, nil, err
		}
		msg, err := in.evalOptional(scope, st.Message)
		if err != nil {
			return flowNext, nil, err
		}
		return flowNext, nil, rt.assert(cond, msg)

	case *EmitStmt:
		v, err := in.evalOptional(scope, st.Value)
		if err != nil {
			return flowNext, nil, err
		}
		return flowNext, nil, rt.emit(scope, st.Topic, v)

	case *KeygenStmt:
		seed, err := in.evalOptional(scope, st.From)
		if err != nil {
			return flowNext, nil, err
		}
		return flowNext, nil, rt.keygen(scope, st.Name, seed, st.From != nil)

	case *SocketStmt:
		url, err := in.eval(scope, st.URL)
		if err != nil {
			return flowNext, nil, err
		}
		return flowNext, nil, rt.socketConnect(scope, st, url, -1)

	case *BlockStmt:
		return in.execBlock(scope, st.Body, ScopeBlock)

	case *IfStmt:
		return in.withOnError(scope, st.OnError, func() (flow, any, error) {
			return in.execIf(scope, st)
		})

	case *LoopStmt:
		return in.withOnError(scope, st.OnError, func() (flow, any, error) {
			return in.execLoop(scope, st)
		})

	case *WhileStmt:
		return in.withOnError(scope, st.OnError, func() (flow, any, error) {
			return in.execWhile(scope, st)
		})

	case *MatchStmt:
		return in.withOnError(scope, st.OnError, func() (flow, any, error) {
			return in.execMatch(scope, st)
		})

	case *TryStmt:
		return in.withOnError(scope, st.OnError, func() (flow, any, error) {
			return in.execTry(scope, st)
		})

	case *ExprStmt:
		_, err := in.eval(scope, st.Expr)
		return flowNext, nil, err
	}

	return flowNext, nil, runtimeFailure("unsupported statement %T", s)
}

func (in *Interpreter) execIf(scope ScopeID, s *IfStmt) (flow, any, error) {
	cond, err := in.eval(scope, s.Cond)
	if err != nil {
		return flowNext, nil, err
	}
	if truthy(cond) {
		return in.execBlock(scope, s.Then, ScopeBlock)
	}
	if s.Else != nil {
		return in.execStmt(scope, s.Else)
	}
	return flowNext, nil, nil
}

// loopFlow folds the flow of one iteration into the loop's own outcome
func loopFlow(fl flow) (stop bool, out flow) {
	switch fl {
	case flowBreak:
		return true, flowNext
	case flowReturn:
		return true, flowReturn
	}
	return false, flowNext
}

func (in *Interpreter) execLoop(scope ScopeID, s *LoopStmt) (flow, any, error) {
	rt := in.rt
	subject, err := in.eval(scope, s.Iter)
	if err != nil {
		return flowNext, nil, err
	}
	items, err := rt.iterate(subject)
	if err != nil {
		return flowNext, nil, err
	}

	for _, item := range items {
		if err := rt.tick(); err != nil {
			return flowNext, nil, err
		}
		fl, val, err := in.loopIteration(scope, s, item)
		if err != nil {
			return flowNext, nil, err
		}
		if stop, out := loopFlow(fl); stop {
			return out, val, nil
		}
	}
	return flowNext, nil, nil
}

func (in *Interpreter) loopIteration(scope ScopeID, s *LoopStmt, item any) (flow, any, error) {
	inner := in.rt.Registry.NewScope(scope, ScopeBlock, "loop")
	defer in.rt.Registry.Release(inner)
	if err := in.rt.define(inner, s.Var, item, nil, false); err != nil {
		return flowNext, nil, err
	}
	return in.execStmts(inner, s.Body.Stmts)
}

func (in *Interpreter) execWhile(scope ScopeID, s *WhileStmt) (flow, any, error) {
	for {
		cond, err := in.eval(scope, s.Cond)
		if err != nil {
			return flowNext, nil, err
		}
		if !truthy(cond) {
			return flowNext, nil, nil
		}
		if err := in.rt.tick(); err != nil {
			return flowNext, nil, err
		}
		fl, val, err := in.execBlock(scope, s.Body, ScopeBlock)
		if err != nil {
			return flowNext, nil, err
		}
		if stop, out := loopFlow(fl); stop {
			return out, val, nil
		}
	}
}

func (in *Interpreter) execMatch(scope ScopeID, s *MatchStmt) (flow, any, error) {
	subject, err := in.eval(scope, s.Subject)
	if err != nil {
		return flowNext, nil, err
	}

	for _, c := range s.Cases {
		var matched bool
		if vp, ok := c.Pattern.(*ValuePattern); ok {
			v, err := in.eval(scope, vp.Value)
			if err != nil {
				return flowNext, nil, err
			}
			matched = valuesEqual(subject, v)
		} else if matched, err = in.rt.testPattern(scope, c.Pattern, subject); err != nil {
			return flowNext, nil, err
		}
		if matched {
			return in.matchArm(scope, c, subject)
		}
	}
	return flowNext, nil, nil
}

func (in *Interpreter) matchArm(scope ScopeID, c *MatchCase, subject any) (flow, any, error) {
	rt := in.rt
	inner := rt.Registry.NewScope(scope, ScopeBlock, "case")
	defer rt.Registry.Release(inner)

	var names []string
	var values []any
	switch pt := c.Pattern.(type) {
	case *BindPattern:
		names, values = []string{pt.Name}, []any{subject}
	case *TypePattern:
		if pt.Name != "" {
			names, values = []string{pt.Name}, []any{subject}
		}
	case *GroupPattern:
		vals, err := rt.unpack(subject, len(pt.Names))
		if err != nil {
			return flowNext, nil, err
		}
		names, values = pt.Names, vals
	case *RecordPattern:
		vals, err := rt.unpackFields(subject, pt.Fields)
		if err != nil {
			return flowNext, nil, err
		}
		names, values = pt.Names, vals
	}
	for i, name := range names {
		if err := rt.define(inner, name, values[i], nil, false); err != nil {
			return flowNext, nil, err
		}
	}
	return in.execStmts(inner, c.Body.Stmts)
}

// execTry runs finally after the body and any catch. An error raised by
// finally replaces the pending outcome. Host failures skip finally.
func (in *Interpreter) execTry(scope ScopeID, s *TryStmt) (flow, any, error) {
	fl, val, err := in.execBlock(scope, s.Body, ScopeBlock)
	if err != nil && s.Catch != nil {
		if se, ok := catchable(err); ok && catchMatches(s.Catch.ErrName, se) {
			fl, val, err = in.handle(scope, s.Catch.Param, se, s.Catch.Body)
		}
	}

	if s.Finally == nil {
		return fl, val, err
	}
	if err != nil {
		if _, ok := catchable(err); !ok {
			return fl, val, err
		}
	}
	if _, _, ferr := in.execBlock(scope, s.Finally, ScopeBlock); ferr != nil {
		return flowNext, nil, ferr
	}
	return fl, val, err
}

func (in *Interpreter) call(scope ScopeID, callee any, args []any) (any, error) {
	fn, res, err := in.rt.dispatch(scope, callee, args)
	if err != nil || fn == nil {
		return res, err
	}
	return in.invoke(fn, args)
}

func (in *Interpreter) eval(scope ScopeID, e Expr) (any, error) {
	rt := in.rt
	if err := rt.step(); err != nil {
		return nil, err
	}

	switch ex := e.(type) {
	case *NumberLit:
		return ex.Value, nil
	case *DecimalLit:
		return ex.Value, nil
	case *TextLit:
		return ex.Value, nil
	case *BoolLit:
		return ex.Value, nil
	case *NoneLit:
		return nil, nil
	case *BytesLit:
		return ex.Value, nil

	case *Ident:
		return rt.lookup(scope, ex.Name)

	case *BinaryExpr:
		left, err := in.eval(scope, ex.Left)
		if err != nil {
			return nil, err
		}
		switch ex.Op {
		case "&&":
			if !truthy(left) {
				return false, nil
			}
			right, err := in.eval(scope, ex.Right)
			return truthy(right), err
		case "||":
			if truthy(left) {
				return true, nil
			}
			right, err := in.eval(scope, ex.Right)
			return truthy(right), err
		}
		right, err := in.eval(scope, ex.Right)
		if err != nil {
			return nil, err
		}
		return rt.binaryOp(ex.Op, left, right)

	case *UnaryExpr:
		v, err := in.eval(scope, ex.Operand)
		if err != nil {
			return nil, err
		}
		return rt.unaryOp(ex.Op, v)

	case *CallExpr:
		callee, err := in.eval(scope, ex.Callee)
		if err != nil {
			return nil, err
		}
		args, err := in.evalAll(scope, ex.Args)
		if err != nil {
			return nil, err
		}
		return in.call(scope, callee, args)

	case *MemberExpr:
		obj, err := in.eval(scope, ex.Object)
		if err != nil {
			return nil, err
		}
		return rt.member(obj, ex.Field)

	case *IndexExpr:
		vals, err := in.evalAll(scope, []Expr{ex.Object, ex.Index})
		if err != nil {
			return nil, err
		}
		return rt.index(vals[0], vals[1])

	case *ListLit:
		elems, err := in.evalAll(scope, ex.Elems)
		if err != nil {
			return nil, err
		}
		return &List{Elems: elems}, nil

	case *DictLit:
		keys := make([]any, len(ex.Keys))
		values := make([]any, len(ex.Values))
		for i := range ex.Keys {
			k, err := in.eval(scope, ex.Keys[i])
			if err != nil {
				return nil, err
			}
			v, err := in.eval(scope, ex.Values[i])
			if err != nil {
				return nil, err
			}
			keys[i], values[i] = k, v
		}
		return rt.makeDict(keys, values)

	case *RecordLit:
		values, err := in.evalAll(scope, ex.Values)
		if err != nil {
			return nil, err
		}
		return rt.constructRecord(scope, ex.Type, ex.Fields, values)

	case *GroupLit:
		elems, err := in.evalAll(scope, ex.Elems)
		if err != nil {
			return nil, err
		}
		return &Group{Elems: elems}, nil

	case *LambdaExpr:
		return rt.makeLambda(scope, ex, -1)

	case *WaitExpr:
		v, err := in.eval(scope, ex.Value)
		if err != nil {
			return nil, err
		}
		return rt.resolve(v)

	case *ThrowExpr:
		payload, err := in.evalOptional(scope, ex.Payload)
		if err != nil {
			return nil, err
		}
		return nil, rt.throw(scope, ex.Name, payload)

	case *RecallExpr:
		key, err := in.eval(scope, ex.Key)
		if err != nil {
			return nil, err
		}
		return rt.recall(key)

	case *HTTPGetExpr:
		url, err := in.eval(scope, ex.URL)
		if err != nil {
			return nil, err
		}
		return rt.httpGet(scope, url, ex.Returns)

	case *VerifySigExpr:
		vals, err := in.evalAll(scope, []Expr{ex.PublicKey, ex.Message, ex.Signature})
		if err != nil {
			return nil, err
		}
		return rt.verifySignature(vals[0], vals[1], vals[2])
	}

	return nil, runtimeFailure("unsupported expression %T", e)
}
