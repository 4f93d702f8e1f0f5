package packscript

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/iotaledger/hive.go/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const compilerFixture = `namespace t {
	error boom;
	fn f(n) {
		try {
			loop i in 1..n {
				if i == 2 { continue; }
				if i == 4 { break; }
				say i;
			}
			return n;
		} catch (e: error boom) {
			say e;
		} finally {
			say "done";
		}
	}
	var k = 1;
	var add = lambda (x) uses (k) => x + k;
	while k < 3 { k = k + 1; }
	match k { is 1 => say "one"; pick other => say other; }
	job later when 1 ms { say f(5); } on_error (e) { say e; }
	say add(f(3));
}`

func compileSource(t *testing.T, source string) *Bytecode {
	t.Helper()

	tokens, err := NewLexer().Tokenize(source)
	require.NoError(t, err)
	program, err := NewParser().Parse(tokens)
	require.NoError(t, err)
	require.NoError(t, NewValidator().Validate(program))

	bc, err := NewCompiler().Compile(program)
	require.NoError(t, err)
	return bc
}

func TestCompileTargetsInBounds(t *testing.T) {
	bc := compileSource(t, compilerFixture)

	targets := bc.Targets()
	require.NotEmpty(t, targets)
	for _, target := range targets {
		assert.GreaterOrEqual(t, target, 0)
		assert.Less(t, target, bc.Len())
	}
	for i, ins := range bc.Instructions {
		if jumpOps[ins.Op] {
			assert.NotEqual(t, noTarget, ins.Target, "unpatched %s at %d", ins.Op, i)
		}
	}
}

func TestCompileHaltPrecedesBodies(t *testing.T) {
	bc := compileSource(t, `namespace t { fn f() { return 1; } say f(); }`)

	halt := -1
	for i, ins := range bc.Instructions {
		if ins.Op == OpHalt {
			halt = i
			break
		}
	}
	require.NotEqual(t, -1, halt)
	assert.Less(t, halt, bc.Len()-1, "function body follows the main program")

	for _, ins := range bc.Instructions[:halt] {
		if ins.Op == OpReturn {
			t.Fatalf("main program contains a function return")
		}
	}
}

func TestDisassembly(t *testing.T) {
	bc := compileSource(t, `namespace t { var x = 2; say x + 3; }`)

	listing := bc.String()
	lines := strings.Split(strings.TrimSpace(listing), "\n")
	assert.Len(t, lines, bc.Len())
	assert.True(t, strings.HasPrefix(lines[0], "0000 "))
	assert.Contains(t, listing, "PUSH 2")
	assert.Contains(t, listing, "ADD")
	assert.Contains(t, listing, "SAY")
	assert.Contains(t, listing, "HALT")
}

func TestCheckTargets(t *testing.T) {
	tests := []struct {
		name string
		code []Instruction
		ok   bool
	}{
		{
			name: "valid",
			code: []Instruction{{Op: OpJump, Target: 1}, {Op: OpHalt, Target: noTarget}},
			ok:   true,
		},
		{
			name: "out of range",
			code: []Instruction{{Op: OpJump, Target: 7}, {Op: OpHalt, Target: noTarget}},
		},
		{
			name: "negative",
			code: []Instruction{{Op: OpJumpIfFalse, Target: -4}, {Op: OpHalt, Target: noTarget}},
		},
		{
			name: "unpatched",
			code: []Instruction{{Op: OpJump, Target: noTarget}, {Op: OpHalt, Target: noTarget}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkTargets(&Bytecode{Instructions: tt.code})
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrCorruptBytecode)
		})
	}
}

func TestCorruptBytecodeDoesNotEscape(t *testing.T) {
	engine := NewEngine(logger.NewNopLogger(), EngineConfig{ExecutionTimeout: time.Second}, testCollaborators())
	script := &CompiledScript{
		Program:  &Program{},
		Bytecode: &Bytecode{Instructions: []Instruction{{Op: OpJump, Target: 42}}},
	}

	_, err := engine.ExecuteScript(context.Background(), script)
	assert.ErrorIs(t, err, ErrCorruptBytecode)
}

func TestValidatorRejects(t *testing.T) {
	tests := []struct {
		name   string
		source string
		msg    string
	}{
		{"break outside loop", `namespace t { break; }`, "break outside of a loop"},
		{"continue in finally", `namespace t { loop i in [1] { try { say i; } finally { continue; } } }`, "continue inside finally"},
		{"return in finally", `namespace t { fn f() { try { say 1; } finally { return 2; } } }`, "return inside finally"},
		{"duplicate field", `namespace t { box b { x: num, x: word } }`, "duplicate field x in b"},
		{"duplicate parameter", `namespace t { fn f(a, a) { return a; } }`, "duplicate parameter a in f"},
		{"else not last", `namespace t { match 1 { else => say 1; is 1 => say 2; } }`, "unreachable match case after else"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, err := NewLexer().Tokenize(tt.source)
			require.NoError(t, err)
			program, err := NewParser().Parse(tokens)
			require.NoError(t, err)

			err = NewValidator().Validate(program)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSyntax)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestValidatorAllowsLoopExitInsideFinallyLoop(t *testing.T) {
	tokens, err := NewLexer().Tokenize(`namespace t {
		try { say 1; } finally {
			loop i in [1, 2] { if i == 1 { continue; } break; }
		}
	}`)
	require.NoError(t, err)
	program, err := NewParser().Parse(tokens)
	require.NoError(t, err)

	assert.NoError(t, NewValidator().Validate(program))
}
