package packscript

import (
	"fmt"
)

type callFrame struct {
	fn          *Function
	scope       ScopeID
	returnIP    int
	stackBase   int
	scopeDepth  int
	handlerBase int
}

// handlerFrame is an active try region
type handlerFrame struct {
	target  int
	stack   int
	scopes  int
	frames  int
	pending int
}

// runBase snapshots the VM when a dispatch loop starts, so an error that
// escapes it restores exactly what the loop found.
type runBase struct {
	stack    int
	scopes   int
	frames   int
	handlers int
	pending  int
}

type iterator struct {
	items []any
	pos   int
}

// VirtualMachine executes Bytecode over an operand stack
type VirtualMachine struct {
	rt   *Runtime
	code []Instruction
	ip   int

	stack    []any
	scopes   []ScopeID
	frames   []callFrame
	handlers []handlerFrame
	pending  []error
	caught   *ScriptError
}

// NewVirtualMachine binds a VM for bc to rt
func NewVirtualMachine(rt *Runtime, bc *Bytecode) *VirtualMachine {
	vm := &VirtualMachine{
		rt:     rt,
		code:   bc.Instructions,
		stack:  make([]any, 0, 256),
		scopes: []ScopeID{RootScope},
	}
	rt.exec = vm
	return vm
}

// recoverDefect turns a panic raised for a broken VM invariant into an error
func recoverDefect(err *error) {
	if r := recover(); r != nil {
		if se, ok := r.(*ScriptError); ok {
			*err = se
			return
		}
		*err = fmt.Errorf("%w: %v", ErrCorruptBytecode, r)
	}
}

// Run executes the main program from instruction 0 until OpHalt
func (vm *VirtualMachine) Run() (result any, err error) {
	defer recoverDefect(&err)

	vm.ip = 0
	return vm.run(vm.snapshot())
}

func (vm *VirtualMachine) invoke(fn *Function, args []any) (any, error) {
	if fn.Entry < 0 || fn.Entry >= len(vm.code) {
		return nil, fmt.Errorf("%w: %s has no entry point", ErrCorruptBytecode, fn.Name)
	}
	base := vm.snapshot()
	scope, err := vm.rt.enterFunction(fn, args)
	if err != nil {
		return nil, err
	}

	savedIP := vm.ip
	defer func() { vm.ip = savedIP }()
	vm.pushFrame(fn, scope, -1)
	vm.ip = fn.Entry
	return vm.run(base)
}

func (vm *VirtualMachine) snapshot() runBase {
	return runBase{
		stack:    len(vm.stack),
		scopes:   len(vm.scopes),
		frames:   len(vm.frames),
		handlers: len(vm.handlers),
		pending:  len(vm.pending),
	}
}

func (vm *VirtualMachine) pushFrame(fn *Function, scope ScopeID, returnIP int) {
	vm.frames = append(vm.frames, callFrame{
		fn:          fn,
		scope:       scope,
		returnIP:    returnIP,
		stackBase:   len(vm.stack),
		scopeDepth:  len(vm.scopes),
		handlerBase: len(vm.handlers),
	})
	vm.scopes = append(vm.scopes, scope)
}

func (vm *VirtualMachine) push(v any) {
	vm.stack = append(vm.stack, v)
}

func (vm *VirtualMachine) pop() any {
	if len(vm.stack) == 0 {
		panic("stack underflow")
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VirtualMachine) peek() any {
	if len(vm.stack) == 0 {
		panic("stack underflow")
	}
	return vm.stack[len(vm.stack)-1]
}

// popN removes n values, returned in push order
func (vm *VirtualMachine) popN(n int) []any {
	if n > len(vm.stack) {
		panic("stack underflow")
	}
	out := append([]any(nil), vm.stack[len(vm.stack)-n:]...)
	vm.stack = vm.stack[:len(vm.stack)-n]
	return out
}

func (vm *VirtualMachine) scope() ScopeID {
	return vm.scopes[len(vm.scopes)-1]
}

func (vm *VirtualMachine) truncateScopes(n int) {
	for len(vm.scopes) > n {
		vm.rt.Registry.Release(vm.scopes[len(vm.scopes)-1])
		vm.scopes = vm.scopes[:len(vm.scopes)-1]
	}
}

// unwindFrames abandons calls above depth; each still runs its exit hooks
func (vm *VirtualMachine) unwindFrames(depth int, cause error) {
	for len(vm.frames) > depth {
		f := vm.frames[len(vm.frames)-1]
		vm.frames = vm.frames[:len(vm.frames)-1]
		vm.truncateScopes(f.scopeDepth + 1)
		vm.scopes = vm.scopes[:f.scopeDepth]
		_, _ = vm.rt.leaveFunction(f.fn, f.scope, nil, cause)
	}
}

// catch transfers control to the innermost try region opened by this run
func (vm *VirtualMachine) catch(base runBase, err error) bool {
	se, ok := catchable(err)
	if !ok || len(vm.handlers) <= base.handlers {
		return false
	}
	h := vm.handlers[len(vm.handlers)-1]
	vm.handlers = vm.handlers[:len(vm.handlers)-1]

	vm.unwindFrames(h.frames, err)
	vm.truncateScopes(h.scopes)
	vm.stack = vm.stack[:h.stack]
	vm.pending = vm.pending[:h.pending]
	vm.caught = se
	vm.ip = h.target
	return true
}

// escape restores the state the run started from and reports err
func (vm *VirtualMachine) escape(base runBase, err error) error {
	vm.unwindFrames(base.frames, err)
	vm.truncateScopes(base.scopes)
	vm.stack = vm.stack[:base.stack]
	vm.handlers = vm.handlers[:base.handlers]
	vm.pending = vm.pending[:base.pending]
	return err
}

func (vm *VirtualMachine) run(base runBase) (any, error) {
	for {
		if vm.ip < 0 || vm.ip >= len(vm.code) {
			return nil, vm.escape(base, fmt.Errorf("%w: instruction pointer %d out of range", ErrCorruptBytecode, vm.ip))
		}
		ins := &vm.code[vm.ip]
		vm.ip++

		err := vm.rt.step()
		if err == nil {
			var done bool
			var result any
			done, result, err = vm.execute(ins, base)
			if err == nil && done {
				return result, nil
			}
		}
		if err != nil && !vm.catch(base, err) {
			return nil, vm.escape(base, err)
		}
	}
}

func (vm *VirtualMachine) execute(ins *Instruction, base runBase) (bool, any, error) {
	rt := vm.rt

	switch ins.Op {
	case OpHalt:
		switch n := len(vm.stack) - base.stack; n {
		case 0:
			return true, nil, nil
		case 1:
			return true, vm.pop(), nil
		default:
			panic(fmt.Sprintf("operand stack holds %d values at halt", n))
		}

	case OpPush:
		vm.push(ins.Operand)

	case OpPop:
		vm.pop()

	case OpDup:
		vm.push(vm.peek())

	case OpLoad:
		v, err := rt.lookup(vm.scope(), ins.Name)
		if err != nil {
			return false, nil, err
		}
		vm.push(v)

	case OpDefine:
		return false, nil, rt.define(vm.scope(), ins.Name, vm.pop(), ins.Type, ins.Aux == 1)

	case OpCheckType:
		return false, nil, rt.checkType(vm.scope(), vm.peek(), ins.Type)

	case OpAssign:
		return false, nil, rt.assign(vm.scope(), ins.Name, vm.pop())

	case OpSetMember:
		v := vm.pop()
		obj := vm.pop()
		return false, nil, rt.setMember(vm.scope(), obj, ins.Name, v)

	case OpSetIndex:
		vals := vm.popN(3)
		return false, nil, rt.setIndex(vals[0], vals[1], vals[2])

	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpRange:
		b := vm.pop()
		a := vm.pop()
		res, err := rt.binaryOp(binaryOps[ins.Op], a, b)
		if err != nil {
			return false, nil, err
		}
		vm.push(res)

	case OpNot, OpNeg:
		op := "!"
		if ins.Op == OpNeg {
			op = "-"
		}
		res, err := rt.unaryOp(op, vm.pop())
		if err != nil {
			return false, nil, err
		}
		vm.push(res)

	case OpTruth:
		vm.push(truthy(vm.pop()))

	case OpJump:
		vm.ip = ins.Target

	case OpJumpIfFalse:
		if !truthy(vm.pop()) {
			vm.ip = ins.Target
		}

	case OpEnterScope:
		vm.scopes = append(vm.scopes, rt.Registry.NewScope(vm.scope(), ScopeBlock, "block"))

	case OpExitScope:
		vm.truncateScopes(len(vm.scopes) - 1)

	case OpCall:
		args := vm.popN(ins.Count)
		callee := vm.pop()
		fn, res, err := rt.dispatch(vm.scope(), callee, args)
		if err != nil {
			return false, nil, err
		}
		if fn == nil {
			vm.push(res)
			return false, nil, nil
		}
		if fn.Entry < 0 || fn.Entry >= len(vm.code) {
			return false, nil, fmt.Errorf("%w: %s has no entry point", ErrCorruptBytecode, fn.Name)
		}
		scope, err := rt.enterFunction(fn, args)
		if err != nil {
			return false, nil, err
		}
		vm.pushFrame(fn, scope, vm.ip)
		vm.ip = fn.Entry

	case OpReturn:
		return vm.ret(base)

	case OpTick:
		return false, nil, rt.tick()

	case OpMakeList:
		vm.push(&List{Elems: vm.popN(ins.Count)})

	case OpMakeDict:
		vals := vm.popN(2 * ins.Count)
		keys := make([]any, ins.Count)
		values := make([]any, ins.Count)
		for i := 0; i < ins.Count; i++ {
			keys[i], values[i] = vals[2*i], vals[2*i+1]
		}
		d, err := rt.makeDict(keys, values)
		if err != nil {
			return false, nil, err
		}
		vm.push(d)

	case OpMakeGroup:
		vm.push(&Group{Elems: vm.popN(ins.Count)})

	case OpMakeRecord:
		rec, err := rt.constructRecord(vm.scope(), ins.Name, ins.Names, vm.popN(ins.Count))
		if err != nil {
			return false, nil, err
		}
		vm.push(rec)

	case OpMakeLambda:
		fn, err := rt.makeLambda(vm.scope(), ins.Node.(*LambdaExpr), ins.Target)
		if err != nil {
			return false, nil, err
		}
		vm.push(fn)

	case OpMember:
		v, err := rt.member(vm.pop(), ins.Name)
		if err != nil {
			return false, nil, err
		}
		vm.push(v)

	case OpIndex:
		idx := vm.pop()
		obj := vm.pop()
		v, err := rt.index(obj, idx)
		if err != nil {
			return false, nil, err
		}
		vm.push(v)

	case OpSay:
		rt.say(vm.pop())

	case OpThrow:
		return false, nil, rt.throw(vm.scope(), ins.Name, vm.pop())

	case OpTry:
		vm.handlers = append(vm.handlers, handlerFrame{
			target:  ins.Target,
			stack:   len(vm.stack),
			scopes:  len(vm.scopes),
			frames:  len(vm.frames),
			pending: len(vm.pending),
		})

	case OpEndTry:
		if len(vm.handlers) == 0 {
			panic("END_TRY without an active try region")
		}
		vm.handlers = vm.handlers[:len(vm.handlers)-1]

	case OpCatch:
		caught := vm.caught
		if caught == nil {
			panic("CATCH without a caught error")
		}
		errName, _ := ins.Operand.(string)
		if !catchMatches(errName, caught) {
			return false, nil, caught
		}
		if ins.Name != "" {
			return false, nil, rt.define(vm.scope(), ins.Name, errorValue(caught), nil, false)
		}

	case OpHoldError:
		vm.pending = append(vm.pending, vm.caught)

	case OpRethrow:
		if len(vm.pending) == 0 {
			panic("RETHROW without a held error")
		}
		held := vm.pending[len(vm.pending)-1]
		vm.pending = vm.pending[:len(vm.pending)-1]
		return false, nil, held

	case OpIterInit:
		items, err := rt.iterate(vm.pop())
		if err != nil {
			return false, nil, err
		}
		vm.push(&iterator{items: items})

	case OpIterNext:
		it, ok := vm.peek().(*iterator)
		if !ok {
			panic("ITER_NEXT without an iterator")
		}
		if it.pos >= len(it.items) {
			vm.ip = ins.Target
			return false, nil, nil
		}
		vm.push(it.items[it.pos])
		it.pos++

	case OpMatch:
		ok, err := rt.testPattern(vm.scope(), ins.Node.(Pattern), vm.pop())
		if err != nil {
			return false, nil, err
		}
		vm.push(ok)

	case OpUnpack:
		vals, err := rt.unpack(vm.pop(), ins.Count)
		if err != nil {
			return false, nil, err
		}
		vm.stack = append(vm.stack, vals...)

	case OpUnpackFields:
		vals, err := rt.unpackFields(vm.pop(), ins.Names)
		if err != nil {
			return false, nil, err
		}
		vm.stack = append(vm.stack, vals...)

	case OpDeclare:
		return false, nil, rt.declare(vm.scope(), ins.Node.(Decl), ins.Target, vm.popN(ins.Count))

	case OpPack:
		var inner ScopeID
		var err error
		switch d := ins.Node.(type) {
		case *NamespaceDecl:
			inner, err = rt.declarePack(vm.scope(), d.Name, nil, true)
		case *PackDecl:
			inner, err = rt.declarePack(vm.scope(), d.Name, d.Tags, false)
		default:
			panic(fmt.Sprintf("PACK with %T", ins.Node))
		}
		if err != nil {
			return false, nil, err
		}
		vm.scopes = append(vm.scopes, inner)

	case OpAssert:
		msg := vm.pop()
		cond := vm.pop()
		return false, nil, rt.assert(cond, msg)

	case OpEmit:
		return false, nil, rt.emit(vm.scope(), ins.Name, vm.pop())

	case OpWait:
		v, err := rt.resolve(vm.pop())
		if err != nil {
			return false, nil, err
		}
		vm.push(v)

	case OpRecall:
		v, err := rt.recall(vm.pop())
		if err != nil {
			return false, nil, err
		}
		vm.push(v)

	case OpHTTPGet:
		v, err := rt.httpGet(vm.scope(), vm.pop(), ins.Type)
		if err != nil {
			return false, nil, err
		}
		vm.push(v)

	case OpVerifySig:
		vals := vm.popN(3)
		v, err := rt.verifySignature(vals[0], vals[1], vals[2])
		if err != nil {
			return false, nil, err
		}
		vm.push(v)

	case OpKeygen:
		var seed any
		if ins.Count == 1 {
			seed = vm.pop()
		}
		return false, nil, rt.keygen(vm.scope(), ins.Name, seed, ins.Count == 1)

	case OpSocket:
		return false, nil, rt.socketConnect(vm.scope(), ins.Node.(*SocketStmt), vm.pop(), ins.Target)

	default:
		panic(fmt.Sprintf("unknown opcode %s", ins.Op))
	}

	return false, nil, nil
}

// ret pops the current frame. A top-level return halts the program with
// the value; returning from a nested invoke ends that dispatch loop.
func (vm *VirtualMachine) ret(base runBase) (bool, any, error) {
	v := vm.pop()
	if len(vm.frames) == 0 {
		vm.stack = vm.stack[:base.stack]
		return true, v, nil
	}

	f := vm.frames[len(vm.frames)-1]
	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.handlers = vm.handlers[:f.handlerBase]
	vm.stack = vm.stack[:f.stackBase]
	vm.truncateScopes(f.scopeDepth + 1)
	vm.scopes = vm.scopes[:f.scopeDepth]

	result, err := vm.rt.leaveFunction(f.fn, f.scope, v, nil)
	if f.returnIP >= 0 {
		vm.ip = f.returnIP
	}
	if err != nil {
		return false, nil, err
	}
	if f.returnIP < 0 {
		return true, result, nil
	}
	vm.push(result)
	return false, nil, nil
}
