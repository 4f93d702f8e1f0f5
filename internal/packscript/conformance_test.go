package packscript

import (
	"context"
	"testing"
	"time"

	"github.com/iotaledger/hive.go/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptCase struct {
	name   string
	body   string
	output []string
	err    string
}

// runScript executes source on a fresh engine and collects every `say`
// line, including the ones printed before a failure.
func runScript(t *testing.T, mode Mode, source string) ([]string, error) {
	t.Helper()

	engine := NewEngine(logger.NewNopLogger(), EngineConfig{Mode: mode, ExecutionTimeout: 5 * time.Second}, testCollaborators())
	var output []string
	engine.Events.RuntimeCreated.Hook(func(rt *Runtime) {
		rt.Events.Output.Hook(func(line string) {
			output = append(output, line)
		})
	})

	_, err := engine.Run(context.Background(), source)
	return output, err
}

func identity(err error) string {
	if err == nil {
		return ""
	}
	if se, ok := AsScriptError(err); ok {
		return se.Identity()
	}
	return err.Error()
}

// runCases checks that the VM and the interpreter agree on every case
func runCases(t *testing.T, cases []scriptCase) {
	t.Helper()

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			source := "namespace t {\n" + tc.body + "\n}"
			for _, mode := range []Mode{ModeVM, ModeInterpreter} {
				output, err := runScript(t, mode, source)
				assert.Equal(t, tc.output, output, "output in %s mode", mode)
				assert.Equal(t, tc.err, identity(err), "error in %s mode", mode)
			}
		})
	}
}

func TestConformanceBasics(t *testing.T) {
	runCases(t, []scriptCase{
		{
			name:   "typed vars",
			body:   `var x: num = 2; var y: num = 3; say x + y;`,
			output: []string{"5"},
		},
		{
			name:   "arithmetic",
			body:   `say 7 / 2; say 7.0 / 2; say "n=" + 3; say 10 % 4; say -(2 * 3);`,
			output: []string{"3", "3.5", "n=3", "2", "-6"},
		},
		{
			name:   "collections",
			body:   `var xs = [1, 2]; push(xs, 3); say xs; say len(xs); say xs[0]; var d = {b: 2, a: 1}; say d["a"]; say 1..3;`,
			output: []string{"[1, 2, 3]", "3", "1", "1", "[1, 2, 3]"},
		},
		{
			name: "if chain",
			body: `var n = 5;
				if n > 10 { say "big"; } else if n > 3 { say "mid"; } else { say "small"; }`,
			output: []string{"mid"},
		},
		{
			name: "while with continue and break",
			body: `var i = 0;
				while i < 10 {
					i = i + 1;
					if i == 2 { continue; }
					if i == 4 { break; }
					say i;
				}`,
			output: []string{"1", "3"},
		},
		{
			name:   "recursion",
			body:   `fn fact(n: num) -> num { if n <= 1 { return 1; } return n * fact(n - 1); } say fact(5);`,
			output: []string{"120"},
		},
		{
			name:   "lambda captures",
			body:   `var k = 10; var add = lambda (x) uses (k) => x + k; say add(5);`,
			output: []string{"15"},
		},
		{
			name:   "view",
			body:   `var base = 2; view doubled = base * 2; say doubled();`,
			output: []string{"4"},
		},
		{
			name:   "pack use",
			body:   `pack tools { fn twice(x) { return x * 2; } } use tools; say twice(4);`,
			output: []string{"8"},
		},
		{
			name:   "queue",
			body:   `queue jobs of num; enqueue(jobs, 1); enqueue(jobs, 2); say dequeue(jobs); say size(jobs);`,
			output: []string{"1", "1"},
		},
		{
			name: "queue element type",
			body: `queue jobs of num; enqueue(jobs, "x");`,
			err:  "TypeMismatch:TypeMismatch",
		},
		{
			name: "undefined name",
			body: `say ghost;`,
			err:  "UndefinedName:UndefinedName",
		},
		{
			name: "duplicate binding",
			body: `var a = 1; var a = 2;`,
			err:  "DuplicateBinding:DuplicateBinding",
		},
		{
			name:   "division by zero",
			body:   `say "before"; say 1 / 0;`,
			output: []string{"before"},
			err:    "RuntimeFailure:RuntimeFailure",
		},
		{
			name: "assert",
			body: `assert 1 == 1, "fine"; assert 1 == 2, "math broke";`,
			err:  "RuntimeFailure:AssertionFailed",
		},
	})
}

func TestConformanceTypes(t *testing.T) {
	runCases(t, []scriptCase{
		{
			name: "box defaults",
			body: `box profile { name: word, age: num = 0 }
				var p = profile { name: "Alice" };
				say p.age;
				say p;`,
			output: []string{"0", `profile{name: "Alice", age: 0}`},
		},
		{
			name: "box missing field",
			body: `box profile { name: word, age: num = 0 } var p = profile { age: 3 };`,
			err:  "TypeMismatch:TypeMismatch",
		},
		{
			name: "box is immutable",
			body: `box profile { name: word } var p = profile { name: "a" }; p.name = "b";`,
			err:  "RuntimeFailure:RuntimeFailure",
		},
		{
			name: "tracked entity",
			body: `entity account [tracked] { balance: num = 0 }
				var acct = account { balance: 1 };
				acct.balance = 5;
				acct.balance = 8;
				say len(history(acct));
				say acct.balance;`,
			output: []string{"2", "8"},
		},
		{
			name: "entity field type",
			body: `entity account { balance: num = 0 } var acct = account { balance: 1 }; acct.balance = "lots";`,
			err:  "TypeMismatch:TypeMismatch",
		},
		{
			name: "guard constraint",
			body: `guard positive (n: num) => n > 0;
				var a: num:[positive] = 5;
				say a;
				var b: num:[positive] = -1;`,
			output: []string{"5"},
			err:    "TypeMismatch:TypeMismatch",
		},
		{
			name: "min constraint",
			body: `var name: word:min:3 = "ab";`,
			err:  "TypeMismatch:TypeMismatch",
		},
		{
			name: "return type",
			body: `fn f() -> num { return "x"; } say f();`,
			err:  "TypeMismatch:TypeMismatch",
		},
	})
}

func TestConformanceMatch(t *testing.T) {
	runCases(t, []scriptCase{
		{
			name:   "pick binds",
			body:   `match 3 { pick x => say x; }`,
			output: []string{"3"},
		},
		{
			name: "patterns",
			body: `box point { x: num, y: num }
				var q = point { x: 1, y: 2 };
				match q { pick point { x, y: yy } => say x + yy; }
				match (4, 5) { pick (a, b) => say a * b; }
				match "hi" { case num n => say "num"; case word w => say "word " + w; }
				match 2 { is 1 => say "one"; is 2 => say "two"; else => say "other"; }
				match 9 { is 1 => say "one"; }
				say "end";`,
			output: []string{"3", "20", "word hi", "two", "end"},
		},
	})
}

func TestConformanceErrors(t *testing.T) {
	runCases(t, []scriptCase{
		{
			name: "catch by name",
			body: `error low_trust { reason: word };
				try { throw error low_trust "bad"; } catch (e: error low_trust) { say e; }
				say "after";`,
			output: []string{"error low_trust: bad", "after"},
		},
		{
			name:   "uncaught throw",
			body:   `error boom; say "before"; throw error boom "bad"; say "after";`,
			output: []string{"before"},
			err:    "UserError:boom",
		},
		{
			name:   "catch builtin kind",
			body:   `try { say 1 / 0; } catch (e: RuntimeFailure) { say "caught " + e.kind; }`,
			output: []string{"caught RuntimeFailure"},
		},
		{
			name: "unmatched catch runs finally",
			body: `error a; error b;
				try { throw error a 1; } catch (e: error b) { say "wrong"; } finally { say "fin"; }`,
			output: []string{"fin"},
			err:    "UserError:a",
		},
		{
			name: "nested rethrow",
			body: `error boom;
				try {
					try { throw error boom "x"; } catch (e) { throw error boom "y"; } finally { say "inner"; }
				} catch (e: error boom) { say e; }`,
			output: []string{"inner", "error boom: y"},
		},
		{
			name: "break through finally",
			body: `loop i in 1..3 {
					try { if i == 2 { break; } say i; } finally { say "f" + i; }
				}
				say "done";`,
			output: []string{"1", "f1", "f2", "done"},
		},
		{
			name:   "return through finally",
			body:   `fn f() { try { return 1; } finally { say "cleanup"; } } say f();`,
			output: []string{"cleanup", "1"},
		},
		{
			name: "function on_error",
			body: `error boom;
				fn risky() { throw error boom "z"; } on_error (e) { say "handled " + e.name; return 7; }
				say risky();`,
			output: []string{"handled boom", "7"},
		},
		{
			name: "statement on_error",
			body: `loop i in [1, 0] { say 10 / i; } on_error (e) { say "bad " + e.kind; }
				say "next";`,
			output: []string{"10", "bad RuntimeFailure", "next"},
		},
	})
}

func TestConformanceJobsAndEvents(t *testing.T) {
	runCases(t, []scriptCase{
		{
			name:   "delayed job fires on drain",
			body:   `job later when 5 ms { say "fired"; } say "first";`,
			output: []string{"first", "fired"},
		},
		{
			name:   "job limit",
			body:   `job spin limit 2 { loop i in [1, 2, 3] { say i; } } spin();`,
			output: []string{"1", "2"},
			err:    "RuntimeFailure:RuntimeFailure",
		},
		{
			name: "job audit",
			body: `fn log(name, status) { say name + ":" + status; }
				job work audit log { say "working"; }
				work();`,
			output: []string{"working", "work:ok"},
		},
		{
			name:   "subscribe and emit",
			body:   `subscribe ping (msg) { say "got " + msg; } emit ping "hello";`,
			output: []string{"got hello"},
		},
		{
			name:   "async and wait",
			body:   `fn double [async] (x) { return x * 2; } var f = double(21); say wait f;`,
			output: []string{"42"},
		},
		{
			name:   "permissions",
			body:   `grant alice -> vault [read]; say allowed("alice", "vault", "read"); say allowed("alice", "vault", "write");`,
			output: []string{"true", "false"},
		},
	})
}

func TestConformanceCollaborators(t *testing.T) {
	runCases(t, []scriptCase{
		{
			name: "store recall forget",
			body: `store("k", [1, 2]);
				say recall "k";
				forget("k", "done");
				say recall "k";`,
			output: []string{"[1, 2]", "none"},
		},
		{
			name: "http get",
			body: `var s = http get "http://api.test/score" returns dict<word, num>;
				say s["alice"];
				say s;`,
			output: []string{"7", "{alice: 7, bob: 3}"},
		},
		{
			name: "http get type mismatch",
			body: `var s = http get "http://api.test/name" returns num;`,
			err:  "TypeMismatch:TypeMismatch",
		},
		{
			name: "http get failure",
			body: `var s = http get "http://api.test/missing";`,
			err:  "ExternalFailure:ExternalFailure",
		},
		{
			name: "sign and verify",
			body: `keygen kp;
				var sig = sign(kp, "msg");
				say verify signature(kp, "msg", sig);
				say verify signature(kp, "other", sig);`,
			output: []string{"true", "false"},
		},
		{
			name:   "derived keys",
			body:   `keygen a from "seed"; keygen b from "seed"; keygen c from "other"; say a.public == b.public; say a.public == c.public;`,
			output: []string{"true", "false"},
		},
		{
			name: "multisig",
			body: `keygen a; keygen b; var m = "tx";
				say multisig(2, [a, b], m, [sign(a, m), sign(b, m)]);
				say multisig(2, [a, b], m, [sign(a, m)]);`,
			output: []string{"true", "false"},
		},
		{
			name:   "hash",
			body:   `say len(hash("abc")); say hash("abc") == hash("sha256", "abc");`,
			output: []string{"32", "true"},
		},
		{
			name: "unsupported hash",
			body: `say hash("md5", "abc");`,
			err:  "ExternalFailure:ExternalFailure",
		},
		{
			name:   "zero knowledge proof",
			body:   `var p = zk_proof("secret"); say zk_verify(p.commitment, p.proof);`,
			output: []string{"true"},
		},
		{
			name:   "socket echo",
			body:   `socket connect "ws://echo" as s on_message (m) { say m; } send(s, "hi"); say "sent";`,
			output: []string{"echo: hi", "sent"},
		},
	})
}

func TestConformanceSyntaxErrors(t *testing.T) {
	for _, mode := range []Mode{ModeVM, ModeInterpreter} {
		_, err := runScript(t, mode, `namespace t { var = 1; }`)
		require.Error(t, err)
		assert.Equal(t, "SyntaxError:UnexpectedToken", identity(err))

		_, err = runScript(t, mode, `namespace t { break; }`)
		require.Error(t, err)
		assert.Equal(t, "SyntaxError:ValidationError", identity(err))
	}
}
