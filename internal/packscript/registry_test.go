package packscript

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDefineLookupAssign(t *testing.T) {
	r := NewRegistry()
	ns := r.NewScope(RootScope, ScopeNamespace, "t")
	block := r.NewScope(ns, ScopeBlock, "block")

	require.NoError(t, r.Define(ns, "x", int64(1), nil, false))
	require.ErrorIs(t, r.Define(ns, "x", int64(2), nil, false), ErrDuplicateBinding)

	// shadowing in a child scope is allowed
	require.NoError(t, r.Define(block, "x", "inner", nil, false))
	v, err := r.Lookup(block, "x")
	require.NoError(t, err)
	assert.Equal(t, "inner", v)

	v, err = r.Lookup(ns, "x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	_, err = r.Lookup(block, "missing")
	require.ErrorIs(t, err, ErrUndefinedName)

	require.NoError(t, r.Define(ns, "y", int64(1), nil, false))
	require.NoError(t, r.Assign(block, "y", int64(5)))
	v, err = r.Lookup(ns, "y")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	require.ErrorIs(t, r.Assign(block, "nobody", int64(1)), ErrUndefinedName)
}

func TestRegistryAssignRespectsTypeAndConst(t *testing.T) {
	r := NewRegistry()
	num := &SimpleType{Kind: KindNum}

	require.NoError(t, r.Define(RootScope, "n", int64(1), num, false))
	require.ErrorIs(t, r.Assign(RootScope, "n", "text"), ErrTypeMismatch)

	require.NoError(t, r.Define(RootScope, "c", int64(1), nil, true))
	require.ErrorIs(t, r.Assign(RootScope, "c", int64(2)), ErrRuntimeFailure)
}

func TestRegistryTypes(t *testing.T) {
	r := NewRegistry()
	inner := r.NewScope(RootScope, ScopePack, "p")

	require.NoError(t, r.DefineType(RootScope, "score", &SimpleType{Kind: KindNum}))
	require.ErrorIs(t, r.DefineType(RootScope, "score", &SimpleType{Kind: KindNum}), ErrDuplicateBinding)

	tt, err := r.LookupType(inner, "score")
	require.NoError(t, err)
	assert.Equal(t, "num", tt.String())

	_, err = r.LookupType(inner, "missing")
	require.ErrorIs(t, err, ErrUndefinedType)
}

func TestRegistryPermissionsAndHandlers(t *testing.T) {
	r := NewRegistry()
	child := r.NewScope(RootScope, ScopePack, "p")

	r.Grant(RootScope, "alice", "vault", []string{"read", "write"})
	assert.True(t, r.Allowed(child, "alice", "vault", "read"))
	assert.False(t, r.Allowed(child, "bob", "vault", "read"))

	r.Revoke(RootScope, "alice", "vault", []string{"write"})
	assert.True(t, r.Allowed(child, "alice", "vault", "read"))
	assert.False(t, r.Allowed(child, "alice", "vault", "write"))

	h := &Function{Name: "ping", Kind: FnHandler}
	r.Subscribe(RootScope, "ping", h)
	assert.Equal(t, []*Function{h}, r.Handlers(child, "ping"))
	assert.Empty(t, r.Handlers(child, "pong"))
}

func float(v float64) *float64 {
	return &v
}

func TestValidateType(t *testing.T) {
	r := NewRegistry()
	profile := &BoxType{Name: "profile", Fields: []Field{
		{Name: "name", Type: &SimpleType{Kind: KindWord}},
		{Name: "age", Type: &SimpleType{Kind: KindNum}, DefaultValue: int64(0), HasDefault: true},
	}}
	lowTrust := &ErrorType{Name: "low_trust", Fields: []Field{{Name: "reason", Type: &SimpleType{Kind: KindWord}}}}
	require.NoError(t, r.DefineType(RootScope, "profile", profile))
	require.NoError(t, r.DefineType(RootScope, "low_trust", lowTrust))

	list := func(elems ...any) *List { return &List{Elems: elems} }
	dict := NewDict()
	dict.Set("a", int64(1))

	tests := []struct {
		name  string
		value any
		typ   Type
		ok    bool
	}{
		{"num int", int64(3), &SimpleType{Kind: KindNum}, true},
		{"num decimal", 3.5, &SimpleType{Kind: KindNum}, true},
		{"num word", "3", &SimpleType{Kind: KindNum}, false},
		{"word", "hi", &SimpleType{Kind: KindWord}, true},
		{"bool", true, &SimpleType{Kind: KindBool}, true},
		{"time value", time.Now(), &SimpleType{Kind: KindTime}, true},
		{"time text", "2024-05-01T10:00:00Z", &SimpleType{Kind: KindTime}, true},
		{"time garbage", "yesterday", &SimpleType{Kind: KindTime}, false},
		{"hex address", "0x" + "ab12cd34ef" + "ab12cd34ef" + "ab12cd34ef" + "ab12cd34ef", &SimpleType{Kind: KindAddress}, true},
		{"short address", "0xabc", &SimpleType{Kind: KindAddress}, false},
		{"mood", "happy", &SimpleType{Kind: KindMood}, true},
		{"unknown mood", "bored", &SimpleType{Kind: KindMood}, false},
		{"any", nil, &SimpleType{Kind: KindAny}, true},

		{"list", list(int64(1), int64(2)), &ListType{Elem: &SimpleType{Kind: KindNum}}, true},
		{"list bad elem", list(int64(1), "x"), &ListType{Elem: &SimpleType{Kind: KindNum}}, false},
		{"dict", dict, &DictType{Key: &SimpleType{Kind: KindWord}, Value: &SimpleType{Kind: KindNum}}, true},
		{"dict bad value", dict, &DictType{Key: &SimpleType{Kind: KindWord}, Value: &SimpleType{Kind: KindWord}}, false},
		{"option none", nil, &OptionType{Elem: &SimpleType{Kind: KindNum}}, true},
		{"option some", int64(1), &OptionType{Elem: &SimpleType{Kind: KindNum}}, true},
		{"option wrong", "x", &OptionType{Elem: &SimpleType{Kind: KindNum}}, false},

		{"box defaulted", &BoxValue{Type: profile, Fields: map[string]any{"name": "Alice"}}, &NamedType{Ref: "profile", Kind: RefBox}, true},
		{"box missing field", &BoxValue{Type: profile, Fields: map[string]any{"age": int64(3)}}, &NamedType{Ref: "profile"}, false},
		{"box wrong field type", &BoxValue{Type: profile, Fields: map[string]any{"name": int64(1)}}, profile, false},

		{"group", &Group{Elems: []any{int64(1), "a"}}, &GroupType{Elems: []Type{&SimpleType{Kind: KindNum}, &SimpleType{Kind: KindWord}}}, true},
		{"group arity", &Group{Elems: []any{int64(1)}}, &GroupType{Elems: []Type{&SimpleType{Kind: KindNum}, &SimpleType{Kind: KindWord}}}, false},

		{"union second", "a", &UnionType{Alts: []Type{&SimpleType{Kind: KindNum}, &SimpleType{Kind: KindWord}}}, true},
		{"union none", true, &UnionType{Alts: []Type{&SimpleType{Kind: KindNum}, &SimpleType{Kind: KindWord}}}, false},

		{"future", &Future{}, &FutureType{Elem: &SimpleType{Kind: KindNum}}, true},
		{"not future", int64(1), &FutureType{Elem: &SimpleType{Kind: KindNum}}, false},

		{"error", &ErrorValue{Name: "low_trust", Fields: map[string]any{"reason": "bad"}}, &NamedType{Ref: "low_trust", Kind: RefError}, true},
		{"error missing field", &ErrorValue{Name: "low_trust", Fields: map[string]any{}}, lowTrust, false},

		{"min ok", int64(5), &ConstrainedType{Base: &SimpleType{Kind: KindNum}, Min: float(1)}, true},
		{"min fail", int64(0), &ConstrainedType{Base: &SimpleType{Kind: KindNum}, Min: float(1)}, false},
		{"max word length", "abcdef", &ConstrainedType{Base: &SimpleType{Kind: KindWord}, Max: float(3)}, false},
		{"pattern", "abc", &ConstrainedType{Base: &SimpleType{Kind: KindWord}, Pattern: regexp.MustCompile(`^a`)}, true},
		{"pattern fail", "xbc", &ConstrainedType{Base: &SimpleType{Kind: KindWord}, Pattern: regexp.MustCompile(`^a`)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateType(RootScope, tt.value, tt.typ)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrTypeMismatch)

			se, ok := AsScriptError(err)
			require.True(t, ok)
			assert.NotEmpty(t, se.Expected)
			assert.NotEmpty(t, se.Actual)
		})
	}
}

func TestValidateTypeIsPure(t *testing.T) {
	r := NewRegistry()
	value := &List{Elems: []any{int64(1), "two"}}
	typ := &ListType{Elem: &UnionType{Alts: []Type{&SimpleType{Kind: KindNum}, &SimpleType{Kind: KindWord}}}}

	first := r.ValidateType(RootScope, value, typ)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.ValidateType(RootScope, value, typ))
	}
	assert.Equal(t, []any{int64(1), "two"}, value.Elems)
	assert.Equal(t, 1, r.Len())
}

func TestValidateTypeUndefinedNames(t *testing.T) {
	r := NewRegistry()

	err := r.ValidateType(RootScope, int64(1), &NamedType{Ref: "ghost"})
	require.ErrorIs(t, err, ErrUndefinedType)

	require.NoError(t, r.DefineType(RootScope, "profile", &BoxType{Name: "profile"}))
	err = r.ValidateType(RootScope, &BoxValue{Type: &BoxType{Name: "profile"}}, &NamedType{Ref: "profile", Kind: RefError})
	require.ErrorIs(t, err, ErrUndefinedType)
}

func TestValidateTypeGuards(t *testing.T) {
	r := NewRegistry()
	r.SetGuardEvaluator(func(_ ScopeID, guard string, value any) (bool, error) {
		n, _ := value.(int64)
		return guard == "positive" && n > 0, nil
	})
	typ := &ConstrainedType{Base: &SimpleType{Kind: KindNum}, Guards: []string{"positive"}}

	require.NoError(t, r.ValidateType(RootScope, int64(2), typ))
	require.ErrorIs(t, r.ValidateType(RootScope, int64(-2), typ), ErrTypeMismatch)
}
