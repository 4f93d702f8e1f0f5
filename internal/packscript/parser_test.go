package packscript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseSource(t *testing.T, source string) *Program {
	t.Helper()
	tokens, err := NewLexer().Tokenize(source)
	require.NoError(t, err)
	program, err := NewParser().Parse(tokens)
	require.NoError(t, err)
	return program
}

func parseError(t *testing.T, source string) *ScriptError {
	t.Helper()
	tokens, err := NewLexer().Tokenize(source)
	require.NoError(t, err)
	_, err = NewParser().Parse(tokens)
	require.Error(t, err)
	se, ok := AsScriptError(err)
	require.True(t, ok)
	require.Equal(t, KindSyntax, se.Kind)
	return se
}

// firstStmt returns the first statement of the first namespace
func firstStmt(t *testing.T, source string) Stmt {
	t.Helper()
	program := parseSource(t, source)
	require.NotEmpty(t, program.Decls)
	ns, ok := program.Decls[0].(*NamespaceDecl)
	require.True(t, ok)
	require.NotEmpty(t, ns.Body)
	return ns.Body[0]
}

func TestParseTopLevelCount(t *testing.T) {
	program := parseSource(t, `
		/* header */
		namespace a { var x = 1; }
		pack b [public async ritual] { say 1; }
		namespace c { pack inner { } }
	`)

	require.Len(t, program.Decls, 4)
	assert.IsType(t, &CommentDecl{}, program.Decls[0])
	assert.IsType(t, &NamespaceDecl{}, program.Decls[1])

	pack, ok := program.Decls[2].(*PackDecl)
	require.True(t, ok)
	assert.Equal(t, []string{"public", "async", "ritual"}, pack.Tags)
}

func TestParseRejectsBareStatements(t *testing.T) {
	se := parseError(t, `say 1;`)
	assert.Equal(t, 1, se.Pos.Line)
}

func TestParsePrecedence(t *testing.T) {
	s := firstStmt(t, `namespace t { say 1 + 2 * 3 < 10 && !false || none; }`)

	say, ok := s.(*SayStmt)
	require.True(t, ok)

	or, ok := say.Value.(*BinaryExpr)
	require.True(t, ok)
	require.Equal(t, "||", or.Op)

	and, ok := or.Left.(*BinaryExpr)
	require.True(t, ok)
	require.Equal(t, "&&", and.Op)

	cmp, ok := and.Left.(*BinaryExpr)
	require.True(t, ok)
	require.Equal(t, "<", cmp.Op)

	sum, ok := cmp.Left.(*BinaryExpr)
	require.True(t, ok)
	require.Equal(t, "+", sum.Op)

	product, ok := sum.Right.(*BinaryExpr)
	require.True(t, ok)
	require.Equal(t, "*", product.Op)

	not, ok := and.Right.(*UnaryExpr)
	require.True(t, ok)
	assert.Equal(t, "!", not.Op)
}

func TestParseGroupsAndParens(t *testing.T) {
	s := firstStmt(t, `namespace t { var g = ((1), 2, 3); }`)

	v, ok := s.(*VarDecl)
	require.True(t, ok)
	g, ok := v.Value.(*GroupLit)
	require.True(t, ok)
	require.Len(t, g.Elems, 3)
	assert.IsType(t, &NumberLit{}, g.Elems[0])
}

func TestParseVarAnnotation(t *testing.T) {
	s := firstStmt(t, `namespace t { var name: word:min:2:max:8 = "al"; }`)

	v, ok := s.(*VarDecl)
	require.True(t, ok)
	ct, ok := v.Type.(*ConstrainedType)
	require.True(t, ok)
	require.NotNil(t, ct.Min)
	require.NotNil(t, ct.Max)
	assert.Equal(t, 2.0, *ct.Min)
	assert.Equal(t, 8.0, *ct.Max)
	assert.Equal(t, &SimpleType{Kind: KindWord}, ct.Base)

	s = firstStmt(t, `namespace t { var y = 1; }`)
	assert.Nil(t, s.(*VarDecl).Type)
}

func TestParseTypeSyntax(t *testing.T) {
	s := firstStmt(t, `namespace t { var v: dict<word, list<option<num>>> = {}; }`)
	assert.Equal(t, "dict<word,list<option<num>>>", s.(*VarDecl).Type.String())

	s = firstStmt(t, `namespace t { var v: union(num|word) = 1; }`)
	assert.IsType(t, &UnionType{}, s.(*VarDecl).Type)

	s = firstStmt(t, `namespace t { var v: group(num, word) = (1, "a"); }`)
	gt, ok := s.(*VarDecl).Type.(*GroupType)
	require.True(t, ok)
	assert.Len(t, gt.Elems, 2)
}

func TestParseDeclarations(t *testing.T) {
	program := parseSource(t, `
		namespace t {
			type Score = num:min:0;
			box profile [public] { name: word, age: num = 0 }
			entity account [tracked] { balance: num = 0 }
			error low_trust { reason: word };
			guard positive (n: num) => n > 0;
			fn greet [public] (who: word) -> word { return "hi " + who; } on_error (e) { return "?"; }
			job tick [async] (n: num) returns num when 5 s limit 10 audit log { return n; }
			test "math works" { assert 1 + 1 == 2, "sum"; }
			queue jobs of num;
			view total = 1 + 2;
			grant alice -> vault [read, write];
			revoke alice -> vault;
			subscribe "ping" (msg) { say msg; }
			on_event pong { say "pong"; }
			use other;
			doc "ignored";
		}
	`)

	ns := program.Decls[0].(*NamespaceDecl)
	require.Len(t, ns.Body, 16)

	box := ns.Body[1].(*BoxDecl)
	assert.Equal(t, "profile", box.Name)
	assert.False(t, box.Entity)
	require.Len(t, box.Fields, 2)
	assert.NotNil(t, box.Fields[1].Default)

	entity := ns.Body[2].(*BoxDecl)
	assert.True(t, entity.Entity)
	assert.Equal(t, PolicyTracked, entity.Policy)

	fn := ns.Body[5].(*FuncDecl)
	assert.Equal(t, []string{"public"}, fn.Tags)
	require.Len(t, fn.Params, 1)
	assert.NotNil(t, fn.Returns)
	require.NotNil(t, fn.OnError)
	assert.Equal(t, "e", fn.OnError.Param)

	job := ns.Body[6].(*JobDecl)
	assert.Equal(t, "s", job.WhenUnit)
	assert.NotNil(t, job.When)
	assert.NotNil(t, job.Limit)
	assert.Equal(t, "log", job.Audit)

	test := ns.Body[7].(*TestDecl)
	assert.Equal(t, "math works", test.Name)

	grant := ns.Body[10].(*GrantDecl)
	assert.Equal(t, []string{"read", "write"}, grant.Rights)
	assert.True(t, ns.Body[11].(*GrantDecl).Revoke)

	assert.Equal(t, "ping", ns.Body[12].(*SubscribeDecl).Topic)
	assert.Equal(t, "pong", ns.Body[13].(*SubscribeDecl).Topic)
}

func TestParseControlFlow(t *testing.T) {
	program := parseSource(t, `
		namespace t {
			if x > 1 { say 1; } else if x > 0 { say 2; } else { say 3; } on_error { say "e"; }
			loop i in 1..3 { continue; }
			while x < 3 { break; }
			try { say 1; } catch (e: error low_trust) { say e; } finally { say 2; }
			try { say 1; } finally { say 2; }
		}
	`)

	body := program.Decls[0].(*NamespaceDecl).Body
	require.Len(t, body, 5)

	ifs := body[0].(*IfStmt)
	assert.IsType(t, &IfStmt{}, ifs.Else)
	assert.IsType(t, &BlockStmt{}, ifs.Else.(*IfStmt).Else)
	assert.NotNil(t, ifs.OnError)

	try := body[3].(*TryStmt)
	require.NotNil(t, try.Catch)
	assert.Equal(t, "e", try.Catch.Param)
	assert.Equal(t, "low_trust", try.Catch.ErrName)
	assert.NotNil(t, try.Finally)

	assert.Nil(t, body[4].(*TryStmt).Catch)
}

func TestParseMatchCases(t *testing.T) {
	s := firstStmt(t, `
		namespace t {
			match v {
				pick x => say x;
				pick (a, b) => { say a; },
				pick point { x, y: py } => say py;
				case union(num|word) n => say n;
				is 3 => say "three";
				else => say "other";
			}
		}
	`)

	m, ok := s.(*MatchStmt)
	require.True(t, ok)
	require.Len(t, m.Cases, 6)

	assert.Equal(t, "x", m.Cases[0].Pattern.(*BindPattern).Name)
	assert.Equal(t, []string{"a", "b"}, m.Cases[1].Pattern.(*GroupPattern).Names)

	rp := m.Cases[2].Pattern.(*RecordPattern)
	assert.Equal(t, "point", rp.Type)
	assert.Equal(t, []string{"x", "y"}, rp.Fields)
	assert.Equal(t, []string{"x", "py"}, rp.Names)

	tp := m.Cases[3].Pattern.(*TypePattern)
	assert.Equal(t, "n", tp.Name)
	assert.IsType(t, &UnionType{}, tp.Type)

	assert.IsType(t, &ValuePattern{}, m.Cases[4].Pattern)
	assert.IsType(t, &ElsePattern{}, m.Cases[5].Pattern)
}

func TestParseExpressions(t *testing.T) {
	program := parseSource(t, `
		namespace t {
			var r = profile { name: "a", age: 2 };
			var d = {"k": 1, "j": [1, 2]};
			var f = lambda (x: num) uses (k) => x + k;
			var w = wait slow(1);
			var h = http get "http://x" returns dict<word, num>;
			var ok = verify signature(kp, "m", sig);
			var s = recall "key";
			var b = b64"aGk=";
			p.name = "b";
			l[0] = 2;
			throw error boom "bad";
		}
	`)

	body := program.Decls[0].(*NamespaceDecl).Body
	require.Len(t, body, 11)

	rec := body[0].(*VarDecl).Value.(*RecordLit)
	assert.Equal(t, "profile", rec.Type)
	assert.Equal(t, []string{"name", "age"}, rec.Fields)

	dict := body[1].(*VarDecl).Value.(*DictLit)
	assert.Len(t, dict.Keys, 2)

	lambda := body[2].(*VarDecl).Value.(*LambdaExpr)
	assert.Equal(t, []string{"k"}, lambda.Uses)
	assert.NotNil(t, lambda.Result)

	assert.IsType(t, &WaitExpr{}, body[3].(*VarDecl).Value)
	assert.NotNil(t, body[4].(*VarDecl).Value.(*HTTPGetExpr).Returns)
	assert.IsType(t, &VerifySigExpr{}, body[5].(*VarDecl).Value)
	assert.IsType(t, &RecallExpr{}, body[6].(*VarDecl).Value)
	assert.Equal(t, Bytes("hi"), body[7].(*VarDecl).Value.(*BytesLit).Value)
	assert.IsType(t, &SetMemberStmt{}, body[8])
	assert.IsType(t, &SetIndexStmt{}, body[9])

	throw := body[10].(*ExprStmt).Expr.(*ThrowExpr)
	assert.Equal(t, "boom", throw.Name)
}

func TestParseSyntaxErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"missing semicolon", `namespace t { say 1 }`},
		{"missing brace", `namespace t { say 1;`},
		{"try without handlers", `namespace t { try { say 1; } }`},
		{"guard arity", `namespace t { guard g (a, b) => a; }`},
		{"bad assignment target", `namespace t { 1 = 2; }`},
		{"missing match arrow", `namespace t { match 1 { pick x say x; } }`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := parseError(t, tt.source)
			assert.Equal(t, "UnexpectedToken", se.Name)
			assert.Greater(t, se.Pos.Line, 0)
		})
	}
}
