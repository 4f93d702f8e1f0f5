package packscript

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatValue(t *testing.T) {
	d := NewDict()
	d.Set("b", "x")
	d.Set("a", int64(1))
	person := &BoxType{Name: "person", Fields: []Field{{Name: "name"}, {Name: "age"}}}

	tests := []struct {
		value any
		want  string
	}{
		{nil, "none"},
		{int64(-3), "-3"},
		{2.5, "2.5"},
		{"plain", "plain"},
		{true, "true"},
		{Bytes{0xca, 0xfe}, "0xcafe"},
		{time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), "2024-01-02T03:04:05Z"},
		{&List{Elems: []any{int64(1), "s"}}, `[1, "s"]`},
		{&Group{Elems: []any{int64(1), nil}}, "(1, none)"},
		{d, `{b: "x", a: 1}`},
		{&BoxValue{Type: person, Fields: map[string]any{"name": "al", "age": int64(3)}}, `person{name: "al", age: 3}`},
		{&ErrorValue{Name: "boom"}, "error boom"},
		{&ErrorValue{Name: "boom", Payload: "bad"}, "error boom: bad"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatValue(tt.value))
	}
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual(int64(2), 2.0))
	assert.False(t, valuesEqual(int64(2), "2"))
	assert.True(t, valuesEqual(&List{Elems: []any{int64(1)}}, &List{Elems: []any{int64(1)}}))
	assert.False(t, valuesEqual(&List{Elems: []any{int64(1)}}, &Group{Elems: []any{int64(1)}}))
	assert.True(t, valuesEqual(Bytes("ab"), Bytes("ab")))
	assert.True(t, valuesEqual(nil, nil))

	a, b := NewDict(), NewDict()
	a.Set("x", int64(1))
	a.Set("y", int64(2))
	b.Set("y", int64(2))
	b.Set("x", int64(1))
	assert.True(t, valuesEqual(a, b))
}

func TestTruthy(t *testing.T) {
	for _, v := range []any{nil, false, int64(0), 0.0, "", Bytes{}, &List{}, NewDict()} {
		assert.False(t, truthy(v), "%#v", v)
	}
	for _, v := range []any{true, int64(1), "x", &List{Elems: []any{nil}}, &Group{}} {
		assert.True(t, truthy(v), "%#v", v)
	}
}

func TestEncodeDecodeValue(t *testing.T) {
	d := NewDict()
	d.Set("n", int64(7))
	d.Set("f", 1.5)
	d.Set("xs", &List{Elems: []any{"a", true, nil}})

	data, err := EncodeValue(d)
	require.NoError(t, err)

	decoded, ok := DecodeValue(data).(*Dict)
	require.True(t, ok)
	assert.Equal(t, []any{"f", "n", "xs"}, decoded.Keys())
	assert.True(t, valuesEqual(d, decoded))

	n, _ := decoded.Get("n")
	assert.IsType(t, int64(0), n)
}

func TestDecodeValueNonJSON(t *testing.T) {
	assert.Equal(t, "not json", DecodeValue([]byte("not json")))
	assert.Equal(t, "1 2", DecodeValue([]byte("1 2")))
}

func TestEncodeValueRejectsFunctions(t *testing.T) {
	_, err := EncodeValue(&Function{Name: "f"})
	assert.ErrorIs(t, err, ErrRuntimeFailure)
}
