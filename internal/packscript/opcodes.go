package packscript

import (
	"fmt"
	"strings"
)

// OpCode represents a bytecode operation
type OpCode byte

const (
	OpHalt OpCode = iota

	// Stack operations
	OpPush
	OpPop
	OpDup

	// Bindings
	OpLoad
	OpDefine
	OpCheckType
	OpAssign
	OpSetMember
	OpSetIndex

	// Arithmetic and comparison
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpRange
	OpNot
	OpNeg
	OpTruth

	// Control flow
	OpJump
	OpJumpIfFalse
	OpEnterScope
	OpExitScope
	OpCall
	OpReturn
	OpTick

	// Values
	OpMakeList
	OpMakeDict
	OpMakeGroup
	OpMakeRecord
	OpMakeLambda
	OpMember
	OpIndex

	// Errors
	OpThrow
	OpTry
	OpEndTry
	OpCatch
	OpHoldError
	OpRethrow

	// Iteration and matching
	OpIterInit
	OpIterNext
	OpMatch
	OpUnpack
	OpUnpackFields

	// Declarations and actions
	OpDeclare
	OpPack
	OpSay
	OpAssert
	OpEmit
	OpWait
	OpRecall
	OpHTTPGet
	OpVerifySig
	OpKeygen
	OpSocket
)

var opNames = [...]string{
	OpHalt:         "HALT",
	OpPush:         "PUSH",
	OpPop:          "POP",
	OpDup:          "DUP",
	OpLoad:         "LOAD",
	OpDefine:       "DEFINE",
	OpCheckType:    "CHECK_TYPE",
	OpAssign:       "ASSIGN",
	OpSetMember:    "SET_MEMBER",
	OpSetIndex:     "SET_INDEX",
	OpAdd:          "ADD",
	OpSub:          "SUB",
	OpMul:          "MUL",
	OpDiv:          "DIV",
	OpMod:          "MOD",
	OpEq:           "EQ",
	OpNe:           "NE",
	OpLt:           "LT",
	OpLe:           "LE",
	OpGt:           "GT",
	OpGe:           "GE",
	OpRange:        "RANGE",
	OpNot:          "NOT",
	OpNeg:          "NEG",
	OpTruth:        "TRUTH",
	OpJump:         "JUMP",
	OpJumpIfFalse:  "JUMP_IF_FALSE",
	OpEnterScope:   "ENTER_SCOPE",
	OpExitScope:    "EXIT_SCOPE",
	OpCall:         "CALL",
	OpReturn:       "RETURN",
	OpTick:         "TICK",
	OpMakeList:     "MAKE_LIST",
	OpMakeDict:     "MAKE_DICT",
	OpMakeGroup:    "MAKE_GROUP",
	OpMakeRecord:   "MAKE_RECORD",
	OpMakeLambda:   "MAKE_LAMBDA",
	OpMember:       "MEMBER",
	OpIndex:        "INDEX",
	OpThrow:        "THROW",
	OpTry:          "TRY",
	OpEndTry:       "END_TRY",
	OpCatch:        "CATCH",
	OpHoldError:    "HOLD_ERROR",
	OpRethrow:      "RETHROW",
	OpIterInit:     "ITER_INIT",
	OpIterNext:     "ITER_NEXT",
	OpMatch:        "MATCH",
	OpUnpack:       "UNPACK",
	OpUnpackFields: "UNPACK_FIELDS",
	OpDeclare:      "DECLARE",
	OpPack:         "PACK",
	OpSay:          "SAY",
	OpAssert:       "ASSERT",
	OpEmit:         "EMIT",
	OpWait:         "WAIT",
	OpRecall:       "RECALL",
	OpHTTPGet:      "HTTP_GET",
	OpVerifySig:    "VERIFY_SIG",
	OpKeygen:       "KEYGEN",
	OpSocket:       "SOCKET",
}

func (op OpCode) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return fmt.Sprintf("OP(%d)", byte(op))
}

// binaryOps maps arithmetic and comparison opcodes to their operator
var binaryOps = map[OpCode]string{
	OpAdd:   "+",
	OpSub:   "-",
	OpMul:   "*",
	OpDiv:   "/",
	OpMod:   "%",
	OpEq:    "==",
	OpNe:    "!=",
	OpLt:    "<",
	OpLe:    "<=",
	OpGt:    ">",
	OpGe:    ">=",
	OpRange: "..",
}

// noTarget marks an instruction without a jump target
const noTarget = -1

// Instruction is one VM operation. Target is an absolute instruction index
// for jumps, try regions and body entry points; the remaining fields carry
// the typed operands of the opcodes that need them.
type Instruction struct {
	Op      OpCode
	Operand any
	Target  int
	Aux     int
	Count   int
	Name    string
	Names   []string
	Type    Type
	Node    Node
}

// Bytecode is a compiled program. Execution starts at index 0 and stops at
// the first OpHalt; function bodies follow it.
type Bytecode struct {
	Instructions []Instruction
}

// Len is the number of instructions
func (b *Bytecode) Len() int {
	return len(b.Instructions)
}

// Targets returns every resolved jump target, for bounds checks
func (b *Bytecode) Targets() []int {
	targets := make([]int, 0)
	for _, ins := range b.Instructions {
		if ins.Target != noTarget {
			targets = append(targets, ins.Target)
		}
	}
	return targets
}

// String disassembles the program one instruction per line
func (b *Bytecode) String() string {
	var sb strings.Builder
	for i, ins := range b.Instructions {
		fmt.Fprintf(&sb, "%04d %s\n", i, ins)
	}
	return sb.String()
}

func (ins Instruction) String() string {
	parts := []string{ins.Op.String()}
	switch {
	case ins.Op == OpPush:
		parts = append(parts, formatValue(ins.Operand, true))
	case ins.Name != "":
		parts = append(parts, ins.Name)
	}
	if len(ins.Names) > 0 {
		parts = append(parts, "("+strings.Join(ins.Names, ", ")+")")
	}
	if ins.Type != nil {
		parts = append(parts, ins.Type.String())
	}
	if ins.Count > 0 {
		parts = append(parts, fmt.Sprintf("#%d", ins.Count))
	}
	if ins.Target != noTarget {
		parts = append(parts, fmt.Sprintf("-> %04d", ins.Target))
	}
	if ins.Node != nil {
		parts = append(parts, fmt.Sprintf("<%T>", ins.Node))
	}
	return strings.Join(parts, " ")
}
