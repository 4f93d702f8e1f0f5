package packscript

import "fmt"

type blockKind int

const (
	blockScope blockKind = iota
	blockStack
	blockTry
	blockLoop
	blockFunction
)

// blockEntry tracks what an early exit (break, continue, return) has to
// close on its way out: scopes to exit, stack slots to pop, try regions to
// end (running their finally), and the loop it targets.
type blockEntry struct {
	kind       blockKind
	finally    *Block
	breaks     []int
	continueAt int
}

// segment is a body compiled after the main program. patch is the
// instruction whose Target receives the body's entry point.
type segment struct {
	patch int
	body  func() error
}

// targetOps are the opcodes whose Target field is meaningful
var targetOps = map[OpCode]bool{
	OpJump:        true,
	OpJumpIfFalse: true,
	OpIterNext:    true,
	OpTry:         true,
	OpDeclare:     true,
	OpMakeLambda:  true,
	OpSocket:      true,
}

// jumpOps must carry a resolved target once compilation ends
var jumpOps = map[OpCode]bool{
	OpJump:        true,
	OpJumpIfFalse: true,
	OpIterNext:    true,
	OpTry:         true,
}

// Compiler lowers a Program to Bytecode. Forward jumps are emitted as
// placeholders and backpatched once their destination is known.
type Compiler struct {
	code     []Instruction
	blocks   []*blockEntry
	segments []segment
}

func NewCompiler() *Compiler {
	return &Compiler{}
}

// Compile lowers program. Function, job, lambda, view, guard, handler and
// test bodies are emitted after the final OpHalt of the main program.
func (c *Compiler) Compile(program *Program) (*Bytecode, error) {
	c.code = make([]Instruction, 0, 256)
	c.blocks = nil
	c.segments = nil

	for _, d := range program.Decls {
		if err := c.compileStmt(d); err != nil {
			return nil, err
		}
	}
	c.emit(Instruction{Op: OpHalt})

	for i := 0; i < len(c.segments); i++ {
		seg := c.segments[i]
		c.blocks = []*blockEntry{{kind: blockFunction}}
		c.patchJump(seg.patch)
		if err := seg.body(); err != nil {
			return nil, err
		}
	}

	bc := &Bytecode{Instructions: c.code}
	if err := checkTargets(bc); err != nil {
		return nil, err
	}
	return bc, nil
}

// checkTargets verifies every resolved target lies within the program
func checkTargets(bc *Bytecode) error {
	for i, ins := range bc.Instructions {
		if ins.Target == noTarget {
			if jumpOps[ins.Op] {
				return fmt.Errorf("%w: unpatched %s at %d", ErrCorruptBytecode, ins.Op, i)
			}
			continue
		}
		if ins.Target < 0 || ins.Target >= len(bc.Instructions) {
			return fmt.Errorf("%w: %s at %d targets %d", ErrCorruptBytecode, ins.Op, i, ins.Target)
		}
	}
	return nil
}

func (c *Compiler) emit(ins Instruction) int {
	if !targetOps[ins.Op] {
		ins.Target = noTarget
	}
	c.code = append(c.code, ins)
	return len(c.code) - 1
}

func (c *Compiler) emitOp(op OpCode) int {
	return c.emit(Instruction{Op: op})
}

func (c *Compiler) emitPlaceholderJump(op OpCode) int {
	return c.emit(Instruction{Op: op, Target: noTarget})
}

// patchJump points the placeholder at idx to the next instruction
func (c *Compiler) patchJump(idx int) {
	c.code[idx].Target = len(c.code)
}

func (c *Compiler) here() int {
	return len(c.code)
}

func (c *Compiler) push(b *blockEntry) {
	c.blocks = append(c.blocks, b)
}

func (c *Compiler) pop() *blockEntry {
	b := c.blocks[len(c.blocks)-1]
	c.blocks = c.blocks[:len(c.blocks)-1]
	return b
}

func (c *Compiler) addSegment(patch int, body func() error) {
	c.segments = append(c.segments, segment{patch: patch, body: body})
}

func (c *Compiler) compileStmts(stmts []Stmt) error {
	for _, s := range stmts {
		if err := c.compileStmt(s); err != nil {
			return err
		}
	}
	return nil
}

// compileScoped wraps body in ENTER_SCOPE / EXIT_SCOPE
func (c *Compiler) compileScoped(body func() error) error {
	c.emitOp(OpEnterScope)
	c.push(&blockEntry{kind: blockScope})
	if err := body(); err != nil {
		return err
	}
	c.pop()
	c.emitOp(OpExitScope)
	return nil
}

func (c *Compiler) compileBlock(b *Block) error {
	return c.compileScoped(func() error { return c.compileStmts(b.Stmts) })
}

// compileFunctionBody emits a body that always ends in RETURN
func (c *Compiler) compileFunctionBody(body *Block, handler *ErrorHandler) error {
	err := c.compileOnError(handler, func() error {
		return c.compileStmts(body.Stmts)
	})
	if err != nil {
		return err
	}
	c.emit(Instruction{Op: OpPush})
	c.emitOp(OpReturn)
	return nil
}

func (c *Compiler) compileResultBody(result Expr) error {
	if err := c.compileExpr(result); err != nil {
		return err
	}
	c.emitOp(OpReturn)
	return nil
}

// compileOnError protects body with a catch-all region whose handler binds
// the error to param.
func (c *Compiler) compileOnError(handler *ErrorHandler, body func() error) error {
	if handler == nil {
		return body()
	}

	try := c.emitPlaceholderJump(OpTry)
	c.push(&blockEntry{kind: blockTry})
	if err := body(); err != nil {
		return err
	}
	c.pop()
	c.emitOp(OpEndTry)
	end := c.emitPlaceholderJump(OpJump)

	c.patchJump(try)
	err := c.compileScoped(func() error {
		c.emit(Instruction{Op: OpCatch, Name: handler.Param})
		return c.compileStmts(handler.Body.Stmts)
	})
	if err != nil {
		return err
	}
	c.patchJump(end)
	return nil
}

func (c *Compiler) compileStmt(s Stmt) error {
	switch st := s.(type) {
	case *CommentDecl, *DocDecl:
		return nil

	case *NamespaceDecl:
		return c.compilePack(st, st.Body)

	case *PackDecl:
		return c.compilePack(st, st.Body)

	case *VarDecl:
		if err := c.compileExpr(st.Value); err != nil {
			return err
		}
		if st.Type != nil {
			c.emit(Instruction{Op: OpCheckType, Type: st.Type})
		}
		aux := 0
		if st.Const {
			aux = 1
		}
		c.emit(Instruction{Op: OpDefine, Name: st.Name, Type: st.Type, Aux: aux})
		return nil

	case Decl:
		return c.compileDecl(st)

	case *SayStmt:
		return c.compileThen(OpSay, st.Value)

	case *AssignStmt:
		if err := c.compileExpr(st.Value); err != nil {
			return err
		}
		c.emit(Instruction{Op: OpAssign, Name: st.Name})
		return nil

	case *SetMemberStmt:
		if err := c.compileExprs(st.Object, st.Value); err != nil {
			return err
		}
		c.emit(Instruction{Op: OpSetMember, Name: st.Field})
		return nil

	case *SetIndexStmt:
		if err := c.compileExprs(st.Object, st.Index, st.Value); err != nil {
			return err
		}
		c.emitOp(OpSetIndex)
		return nil

	case *ReturnStmt:
		if err := c.compileOptional(st.Value); err != nil {
			return err
		}
		return c.compileReturn()

	case *BreakStmt:
		return c.compileLoopExit(st, false)

	case *ContinueStmt:
		return c.compileLoopExit(st, true)

	case *AssertStmt:
		if err := c.compileExpr(st.Cond); err != nil {
			return err
		}
		if err := c.compileOptional(st.Message); err != nil {
			return err
		}
		c.emitOp(OpAssert)
		return nil

	case *EmitStmt:
		if err := c.compileOptional(st.Value); err != nil {
			return err
		}
		c.emit(Instruction{Op: OpEmit, Name: st.Topic})
		return nil

	case *KeygenStmt:
		count := 0
		if st.From != nil {
			if err := c.compileExpr(st.From); err != nil {
				return err
			}
			count = 1
		}
		c.emit(Instruction{Op: OpKeygen, Name: st.Name, Count: count})
		return nil

	case *SocketStmt:
		if err := c.compileExpr(st.URL); err != nil {
			return err
		}
		idx := c.emit(Instruction{Op: OpSocket, Name: st.Name, Node: st, Target: noTarget})
		c.addSegment(idx, func() error { return c.compileFunctionBody(st.Body, nil) })
		return nil

	case *BlockStmt:
		return c.compileBlock(st.Body)

	case *IfStmt:
		return c.compileOnError(st.OnError, func() error { return c.compileIf(st) })

	case *LoopStmt:
		return c.compileOnError(st.OnError, func() error { return c.compileLoop(st) })

	case *WhileStmt:
		return c.compileOnError(st.OnError, func() error { return c.compileWhile(st) })

	case *MatchStmt:
		return c.compileOnError(st.OnError, func() error { return c.compileMatch(st) })

	case *TryStmt:
		return c.compileOnError(st.OnError, func() error { return c.compileTry(st) })

	case *ExprStmt:
		return c.compileThen(OpPop, st.Expr)
	}

	return fmt.Errorf("%w: cannot compile %T", ErrCorruptBytecode, s)
}

func (c *Compiler) compilePack(d Decl, body []Stmt) error {
	c.emit(Instruction{Op: OpPack, Node: d})
	c.push(&blockEntry{kind: blockScope})
	if err := c.compileStmts(body); err != nil {
		return err
	}
	c.pop()
	c.emitOp(OpExitScope)
	return nil
}

// compileDecl evaluates the declaration's clause values, then emits DECLARE
// with any body compiled as a segment.
func (c *Compiler) compileDecl(d Decl) error {
	var values []Expr
	switch decl := d.(type) {
	case *BoxDecl:
		values = fieldDefaults(decl.Fields)
	case *ErrorDecl:
		values = fieldDefaults(decl.Fields)
	case *JobDecl:
		values = jobClauses(decl)
	}
	if err := c.compileExprs(values...); err != nil {
		return err
	}

	idx := c.emit(Instruction{Op: OpDeclare, Node: d, Count: len(values), Target: noTarget})
	switch decl := d.(type) {
	case *FuncDecl:
		c.addSegment(idx, func() error { return c.compileFunctionBody(decl.Body, decl.OnError) })
	case *JobDecl:
		c.addSegment(idx, func() error { return c.compileFunctionBody(decl.Body, decl.OnError) })
	case *TestDecl:
		c.addSegment(idx, func() error { return c.compileFunctionBody(decl.Body, nil) })
	case *SubscribeDecl:
		c.addSegment(idx, func() error { return c.compileFunctionBody(decl.Body, nil) })
	case *GuardDecl:
		c.addSegment(idx, func() error { return c.compileResultBody(decl.Body) })
	case *ViewDecl:
		c.addSegment(idx, func() error { return c.compileResultBody(decl.Body) })
	}
	return nil
}

// compileReturn closes every scope and try region of the current body, then
// emits RETURN. The value is already on the stack.
func (c *Compiler) compileReturn() error {
	for i := len(c.blocks) - 1; i >= 0; i-- {
		b := c.blocks[i]
		switch b.kind {
		case blockFunction:
			c.emitOp(OpReturn)
			return nil
		case blockScope:
			c.emitOp(OpExitScope)
		case blockTry:
			if err := c.closeTry(b); err != nil {
				return err
			}
		}
	}
	c.emitOp(OpReturn)
	return nil
}

// compileLoopExit lowers break and continue
func (c *Compiler) compileLoopExit(s Stmt, isContinue bool) error {
	for i := len(c.blocks) - 1; i >= 0; i-- {
		b := c.blocks[i]
		if b.kind == blockFunction {
			break
		}
		switch b.kind {
		case blockScope:
			c.emitOp(OpExitScope)
		case blockStack:
			c.emitOp(OpPop)
		case blockTry:
			if err := c.closeTry(b); err != nil {
				return err
			}
		case blockLoop:
			if isContinue {
				c.emit(Instruction{Op: OpJump, Target: b.continueAt})
			} else {
				b.breaks = append(b.breaks, c.emitPlaceholderJump(OpJump))
			}
			return nil
		}
	}
	keyword := "break"
	if isContinue {
		keyword = "continue"
	}
	return syntaxError(s.Pos(), "InvalidControlFlow", "%s outside of a loop", keyword)
}

// closeTry ends a try region on an early exit and inlines its finally
func (c *Compiler) closeTry(b *blockEntry) error {
	c.emitOp(OpEndTry)
	if b.finally == nil {
		return nil
	}
	return c.compileBlock(b.finally)
}

func (c *Compiler) compileIf(s *IfStmt) error {
	if err := c.compileExpr(s.Cond); err != nil {
		return err
	}
	skipThen := c.emitPlaceholderJump(OpJumpIfFalse)
	if err := c.compileBlock(s.Then); err != nil {
		return err
	}
	if s.Else == nil {
		c.patchJump(skipThen)
		return nil
	}

	end := c.emitPlaceholderJump(OpJump)
	c.patchJump(skipThen)
	if err := c.compileStmt(s.Else); err != nil {
		return err
	}
	c.patchJump(end)
	return nil
}

func (c *Compiler) endLoop(loop *blockEntry) {
	for _, j := range loop.breaks {
		c.patchJump(j)
	}
}

func (c *Compiler) compileLoop(s *LoopStmt) error {
	if err := c.compileExpr(s.Iter); err != nil {
		return err
	}
	c.emitOp(OpIterInit)

	loop := &blockEntry{kind: blockLoop, continueAt: c.here()}
	next := c.emitPlaceholderJump(OpIterNext)
	c.emitOp(OpTick)
	c.push(loop)
	err := c.compileScoped(func() error {
		c.emit(Instruction{Op: OpDefine, Name: s.Var})
		return c.compileStmts(s.Body.Stmts)
	})
	if err != nil {
		return err
	}
	c.pop()
	c.emit(Instruction{Op: OpJump, Target: loop.continueAt})

	c.patchJump(next)
	c.endLoop(loop)
	c.emitOp(OpPop)
	return nil
}

func (c *Compiler) compileWhile(s *WhileStmt) error {
	loop := &blockEntry{kind: blockLoop, continueAt: c.here()}
	if err := c.compileExpr(s.Cond); err != nil {
		return err
	}
	exit := c.emitPlaceholderJump(OpJumpIfFalse)
	c.emitOp(OpTick)
	c.push(loop)
	if err := c.compileBlock(s.Body); err != nil {
		return err
	}
	c.pop()
	c.emit(Instruction{Op: OpJump, Target: loop.continueAt})

	c.patchJump(exit)
	c.endLoop(loop)
	return nil
}

// compileMatch keeps the subject on the stack while the cases test it
func (c *Compiler) compileMatch(s *MatchStmt) error {
	if err := c.compileExpr(s.Subject); err != nil {
		return err
	}
	c.push(&blockEntry{kind: blockStack})

	var ends []int
	for _, mc := range s.Cases {
		next := noTarget
		switch pt := mc.Pattern.(type) {
		case *BindPattern, *ElsePattern:
		case *ValuePattern:
			c.emitOp(OpDup)
			if err := c.compileExpr(pt.Value); err != nil {
				return err
			}
			c.emitOp(OpEq)
			next = c.emitPlaceholderJump(OpJumpIfFalse)
		default:
			c.emitOp(OpDup)
			c.emit(Instruction{Op: OpMatch, Node: mc.Pattern})
			next = c.emitPlaceholderJump(OpJumpIfFalse)
		}

		err := c.compileScoped(func() error {
			c.compileBindings(mc.Pattern)
			return c.compileStmts(mc.Body.Stmts)
		})
		if err != nil {
			return err
		}
		ends = append(ends, c.emitPlaceholderJump(OpJump))
		if next != noTarget {
			c.patchJump(next)
		}
	}

	c.pop()
	for _, j := range ends {
		c.patchJump(j)
	}
	c.emitOp(OpPop)
	return nil
}

// compileBindings destructures a copy of the subject into the case scope
func (c *Compiler) compileBindings(pat Pattern) {
	var names []string
	switch pt := pat.(type) {
	case *BindPattern:
		c.emitOp(OpDup)
		names = []string{pt.Name}
	case *TypePattern:
		if pt.Name == "" {
			return
		}
		c.emitOp(OpDup)
		names = []string{pt.Name}
	case *GroupPattern:
		c.emitOp(OpDup)
		c.emit(Instruction{Op: OpUnpack, Count: len(pt.Names)})
		names = pt.Names
	case *RecordPattern:
		c.emitOp(OpDup)
		c.emit(Instruction{Op: OpUnpackFields, Names: pt.Fields})
		names = pt.Names
	}
	for i := len(names) - 1; i >= 0; i-- {
		c.emit(Instruction{Op: OpDefine, Name: names[i]})
	}
}

// compileTry lowers try/catch/finally. finally is inlined on every normal
// exit; the exceptional path holds the error, runs finally and rethrows.
//
//	TRY -> C|F; body; END_TRY; finally; JUMP end
//	C: [TRY -> F] catch body [END_TRY; finally]; JUMP end
//	F: HOLD_ERROR; finally; RETHROW
//	end:
func (c *Compiler) compileTry(s *TryStmt) error {
	try := c.emitPlaceholderJump(OpTry)
	region := &blockEntry{kind: blockTry, finally: s.Finally}
	c.push(region)
	if err := c.compileBlock(s.Body); err != nil {
		return err
	}
	c.pop()
	if err := c.closeTry(region); err != nil {
		return err
	}
	ends := []int{c.emitPlaceholderJump(OpJump)}

	finallyTry := try
	if s.Catch != nil {
		c.patchJump(try)
		finallyTry = noTarget
		if s.Finally != nil {
			finallyTry = c.emitPlaceholderJump(OpTry)
			c.push(region)
		}
		err := c.compileScoped(func() error {
			c.emit(Instruction{Op: OpCatch, Name: s.Catch.Param, Operand: s.Catch.ErrName})
			return c.compileStmts(s.Catch.Body.Stmts)
		})
		if err != nil {
			return err
		}
		if s.Finally != nil {
			c.pop()
			if err := c.closeTry(region); err != nil {
				return err
			}
		}
		ends = append(ends, c.emitPlaceholderJump(OpJump))
	}

	if s.Finally != nil {
		c.patchJump(finallyTry)
		c.emitOp(OpHoldError)
		if err := c.compileBlock(s.Finally); err != nil {
			return err
		}
		c.emitOp(OpRethrow)
	}

	for _, j := range ends {
		c.patchJump(j)
	}
	return nil
}

func (c *Compiler) compileThen(op OpCode, e Expr) error {
	if err := c.compileExpr(e); err != nil {
		return err
	}
	c.emitOp(op)
	return nil
}

func (c *Compiler) compileExprs(exprs ...Expr) error {
	for _, e := range exprs {
		if err := c.compileExpr(e); err != nil {
			return err
		}
	}
	return nil
}

// compileOptional pushes none for an absent expression
func (c *Compiler) compileOptional(e Expr) error {
	if e == nil {
		c.emit(Instruction{Op: OpPush})
		return nil
	}
	return c.compileExpr(e)
}

var unaryOps = map[string]OpCode{
	"!": OpNot,
	"-": OpNeg,
}

var operatorOps = map[string]OpCode{
	"+":  OpAdd,
	"-":  OpSub,
	"*":  OpMul,
	"/":  OpDiv,
	"%":  OpMod,
	"==": OpEq,
	"!=": OpNe,
	"<":  OpLt,
	"<=": OpLe,
	">":  OpGt,
	">=": OpGe,
	"..": OpRange,
}

func (c *Compiler) compileExpr(e Expr) error {
	switch ex := e.(type) {
	case *NumberLit:
		c.emit(Instruction{Op: OpPush, Operand: ex.Value})
	case *DecimalLit:
		c.emit(Instruction{Op: OpPush, Operand: ex.Value})
	case *TextLit:
		c.emit(Instruction{Op: OpPush, Operand: ex.Value})
	case *BoolLit:
		c.emit(Instruction{Op: OpPush, Operand: ex.Value})
	case *NoneLit:
		c.emit(Instruction{Op: OpPush})
	case *BytesLit:
		c.emit(Instruction{Op: OpPush, Operand: ex.Value})

	case *Ident:
		c.emit(Instruction{Op: OpLoad, Name: ex.Name})

	case *BinaryExpr:
		switch ex.Op {
		case "&&":
			return c.compileAnd(ex)
		case "||":
			return c.compileOr(ex)
		}
		op, ok := operatorOps[ex.Op]
		if !ok {
			return syntaxError(ex.Pos(), "UnexpectedToken", "unknown operator %s", ex.Op)
		}
		if err := c.compileExprs(ex.Left, ex.Right); err != nil {
			return err
		}
		c.emitOp(op)

	case *UnaryExpr:
		op, ok := unaryOps[ex.Op]
		if !ok {
			return syntaxError(ex.Pos(), "UnexpectedToken", "unknown operator %s", ex.Op)
		}
		return c.compileThen(op, ex.Operand)

	case *CallExpr:
		if err := c.compileExpr(ex.Callee); err != nil {
			return err
		}
		if err := c.compileExprs(ex.Args...); err != nil {
			return err
		}
		c.emit(Instruction{Op: OpCall, Count: len(ex.Args)})

	case *MemberExpr:
		if err := c.compileExpr(ex.Object); err != nil {
			return err
		}
		c.emit(Instruction{Op: OpMember, Name: ex.Field})

	case *IndexExpr:
		if err := c.compileExprs(ex.Object, ex.Index); err != nil {
			return err
		}
		c.emitOp(OpIndex)

	case *ListLit:
		if err := c.compileExprs(ex.Elems...); err != nil {
			return err
		}
		c.emit(Instruction{Op: OpMakeList, Count: len(ex.Elems)})

	case *DictLit:
		for i := range ex.Keys {
			if err := c.compileExprs(ex.Keys[i], ex.Values[i]); err != nil {
				return err
			}
		}
		c.emit(Instruction{Op: OpMakeDict, Count: len(ex.Keys)})

	case *RecordLit:
		if err := c.compileExprs(ex.Values...); err != nil {
			return err
		}
		c.emit(Instruction{Op: OpMakeRecord, Name: ex.Type, Names: ex.Fields, Count: len(ex.Values)})

	case *GroupLit:
		if err := c.compileExprs(ex.Elems...); err != nil {
			return err
		}
		c.emit(Instruction{Op: OpMakeGroup, Count: len(ex.Elems)})

	case *LambdaExpr:
		idx := c.emit(Instruction{Op: OpMakeLambda, Node: ex, Target: noTarget})
		c.addSegment(idx, func() error {
			if ex.Result != nil {
				return c.compileResultBody(ex.Result)
			}
			return c.compileFunctionBody(ex.Body, nil)
		})

	case *WaitExpr:
		return c.compileThen(OpWait, ex.Value)

	case *ThrowExpr:
		if err := c.compileOptional(ex.Payload); err != nil {
			return err
		}
		c.emit(Instruction{Op: OpThrow, Name: ex.Name})

	case *RecallExpr:
		return c.compileThen(OpRecall, ex.Key)

	case *HTTPGetExpr:
		if err := c.compileExpr(ex.URL); err != nil {
			return err
		}
		c.emit(Instruction{Op: OpHTTPGet, Type: ex.Returns})

	case *VerifySigExpr:
		if err := c.compileExprs(ex.PublicKey, ex.Message, ex.Signature); err != nil {
			return err
		}
		c.emitOp(OpVerifySig)

	default:
		return fmt.Errorf("%w: cannot compile %T", ErrCorruptBytecode, e)
	}
	return nil
}

// a && b: [a] JUMP_IF_FALSE f; [b] TRUTH; JUMP end; f: PUSH false; end:
func (c *Compiler) compileAnd(ex *BinaryExpr) error {
	if err := c.compileExpr(ex.Left); err != nil {
		return err
	}
	short := c.emitPlaceholderJump(OpJumpIfFalse)
	if err := c.compileThen(OpTruth, ex.Right); err != nil {
		return err
	}
	end := c.emitPlaceholderJump(OpJump)
	c.patchJump(short)
	c.emit(Instruction{Op: OpPush, Operand: false})
	c.patchJump(end)
	return nil
}

// a || b: [a] JUMP_IF_FALSE r; PUSH true; JUMP end; r: [b] TRUTH; end:
func (c *Compiler) compileOr(ex *BinaryExpr) error {
	if err := c.compileExpr(ex.Left); err != nil {
		return err
	}
	right := c.emitPlaceholderJump(OpJumpIfFalse)
	c.emit(Instruction{Op: OpPush, Operand: true})
	end := c.emitPlaceholderJump(OpJump)
	c.patchJump(right)
	if err := c.compileThen(OpTruth, ex.Right); err != nil {
		return err
	}
	c.patchJump(end)
	return nil
}
