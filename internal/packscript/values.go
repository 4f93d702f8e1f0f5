package packscript

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Bytes is the runtime value of hex and base64 literals
type Bytes []byte

// List is a mutable ordered collection
type List struct {
	Elems []any
}

// Dict is an insertion-ordered map. Keys are scalar runtime values.
type Dict struct {
	keys   []any
	values map[string]any
}

func NewDict() *Dict {
	return &Dict{values: make(map[string]any)}
}

func dictKey(k any) string {
	switch v := k.(type) {
	case int64:
		return "n:" + strconv.FormatInt(v, 10)
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return "n:" + strconv.FormatInt(int64(v), 10)
		}
		return "n:" + strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return "w:" + v
	default:
		return fmt.Sprintf("%T:%s", k, FormatValue(k))
	}
}

func (d *Dict) Set(k, v any) {
	key := dictKey(k)
	if _, exists := d.values[key]; !exists {
		d.keys = append(d.keys, k)
	}
	d.values[key] = v
}

func (d *Dict) Get(k any) (any, bool) {
	v, ok := d.values[dictKey(k)]
	return v, ok
}

func (d *Dict) Keys() []any {
	return append([]any(nil), d.keys...)
}

func (d *Dict) Len() int {
	return len(d.keys)
}

// Group is a fixed-size positional tuple
type Group struct {
	Elems []any
}

// BoxValue is an instance of a box or entity
type BoxValue struct {
	Type    *BoxType
	Fields  map[string]any
	History []HistoryEntry
}

// HistoryEntry records one mutation of a tracked entity
type HistoryEntry struct {
	Field string
	Old   any
	New   any
}

func (b *BoxValue) Get(field string) (any, bool) {
	v, ok := b.Fields[field]
	return v, ok
}

// ErrorValue is the value bound by catch and on_error clauses
type ErrorValue struct {
	Name    string
	Kind    ErrorKind
	Payload any
	Fields  map[string]any
	Type    *ErrorType
}

// FunctionKind distinguishes the declaration forms that produce callables
type FunctionKind int

const (
	FnPlain FunctionKind = iota
	FnJob
	FnLambda
	FnView
	FnHandler
	FnTest
	FnGuard
)

var functionKindNames = map[FunctionKind]string{
	FnPlain:   "fn",
	FnJob:     "job",
	FnLambda:  "lambda",
	FnView:    "view",
	FnHandler: "handler",
	FnTest:    "test",
	FnGuard:   "guard",
}

func (k FunctionKind) String() string {
	return functionKindNames[k]
}

// JobConfig carries the evaluated clauses of a job declaration
type JobConfig struct {
	Delay time.Duration
	Limit int64
	Audit string
}

// Function is any user-defined callable. Body/Result hold the AST for the
// tree-walking interpreter; Entry is the bytecode entry point for the VM.
type Function struct {
	Name     string
	Kind     FunctionKind
	Params   []Param
	Returns  Type
	Body     *Block
	Result   Expr
	OnError  *ErrorHandler
	Scope    ScopeID
	Captured map[string]any
	Entry    int
	Tags     []string
	Job      *JobConfig
	Async    bool
}

// Builtin is a host function registered in the builtin table
type Builtin struct {
	Name    string
	MinArgs int
	MaxArgs int
	Handler func(rt *Runtime, scope ScopeID, args []any) (any, error)
}

// Future is the result of calling an async function; it runs on first wait
type Future struct {
	Fn    *Function
	Args  []any
	Done  bool
	Value any
	Err   error
}

// Queue is a typed FIFO declared with `queue Name of T`
type Queue struct {
	Name  string
	Elem  Type
	Items []any
	Tags  []string
}

// KeyPair is bound by keygen
type KeyPair struct {
	Public  Bytes
	Private Bytes
}

// Socket is bound by `socket connect ... as name`
type Socket struct {
	URL     string
	Conn    SocketConn
	Handler *Function
	Closed  bool
}

// PackValue is bound to the name of a namespace or pack
type PackValue struct {
	Name      string
	Scope     ScopeID
	Tags      []string
	Namespace bool
}

func typeName(v any) string {
	switch val := v.(type) {
	case nil:
		return "none"
	case int64, float64:
		return "num"
	case string:
		return "word"
	case bool:
		return "bool"
	case time.Time:
		return "time"
	case Bytes:
		return "bytes"
	case *List:
		return "list"
	case *Dict:
		return "dict"
	case *Group:
		return "group"
	case *BoxValue:
		return val.Type.String()
	case *ErrorValue:
		return "error " + val.Name
	case *Function:
		return val.Kind.String()
	case *Builtin:
		return "builtin"
	case *Future:
		return "future"
	case *Queue:
		return "queue"
	case *KeyPair:
		return "keypair"
	case *Socket:
		return "socket"
	case *PackValue:
		return "pack"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// FormatValue renders a value the way `say` prints it
func FormatValue(v any) string {
	return formatValue(v, false)
}

func formatValue(v any, nested bool) string {
	switch val := v.(type) {
	case nil:
		return "none"
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case string:
		if nested {
			return strconv.Quote(val)
		}
		return val
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case Bytes:
		return "0x" + hex.EncodeToString(val)
	case *List:
		return "[" + formatList(val.Elems) + "]"
	case *Group:
		return "(" + formatList(val.Elems) + ")"
	case *Dict:
		parts := make([]string, 0, val.Len())
		for _, k := range val.keys {
			item, _ := val.Get(k)
			parts = append(parts, formatValue(k, false)+": "+formatValue(item, true))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *BoxValue:
		parts := make([]string, 0, len(val.Type.Fields))
		for _, f := range val.Type.Fields {
			parts = append(parts, f.Name+": "+formatValue(val.Fields[f.Name], true))
		}
		return val.Type.Name + "{" + strings.Join(parts, ", ") + "}"
	case *ErrorValue:
		if val.Payload == nil {
			return "error " + val.Name
		}
		return "error " + val.Name + ": " + formatValue(val.Payload, false)
	case *Function:
		return "<" + val.Kind.String() + " " + val.Name + ">"
	case *Builtin:
		return "<builtin " + val.Name + ">"
	case *Future:
		if val.Done {
			return "<future " + formatValue(val.Value, true) + ">"
		}
		return "<future pending>"
	case *Queue:
		return fmt.Sprintf("<queue %s [%d]>", val.Name, len(val.Items))
	case *KeyPair:
		return "<keypair 0x" + hex.EncodeToString(val.Public) + ">"
	case *Socket:
		return "<socket " + val.URL + ">"
	case *PackValue:
		if val.Namespace {
			return "<namespace " + val.Name + ">"
		}
		return "<pack " + val.Name + ">"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatList(elems []any) string {
	parts := make([]string, len(elems))
	for i, e := range elems {
		parts[i] = formatValue(e, true)
	}
	return strings.Join(parts, ", ")
}

// truthy is the condition test shared by both engines
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case int64:
		return val != 0
	case float64:
		return val != 0
	case string:
		return val != ""
	case Bytes:
		return len(val) > 0
	case *List:
		return len(val.Elems) > 0
	case *Dict:
		return val.Len() > 0
	default:
		return true
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// valuesEqual is structural equality; numbers compare across int and decimal
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return false
		}
		ia, aInt := a.(int64)
		ib, bInt := b.(int64)
		if aInt && bInt {
			return ia == ib
		}
		return fa == fb
	}

	switch x := a.(type) {
	case nil:
		return b == nil
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case Bytes:
		y, ok := b.(Bytes)
		return ok && bytes.Equal(x, y)
	case *List:
		y, ok := b.(*List)
		return ok && elemsEqual(x.Elems, y.Elems)
	case *Group:
		y, ok := b.(*Group)
		return ok && elemsEqual(x.Elems, y.Elems)
	case *Dict:
		y, ok := b.(*Dict)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for _, k := range x.keys {
			xv, _ := x.Get(k)
			yv, found := y.Get(k)
			if !found || !valuesEqual(xv, yv) {
				return false
			}
		}
		return true
	case *BoxValue:
		y, ok := b.(*BoxValue)
		if !ok || x.Type.Name != y.Type.Name {
			return false
		}
		for _, f := range x.Type.Fields {
			if !valuesEqual(x.Fields[f.Name], y.Fields[f.Name]) {
				return false
			}
		}
		return true
	case *ErrorValue:
		y, ok := b.(*ErrorValue)
		return ok && x.Name == y.Name && valuesEqual(x.Payload, y.Payload)
	default:
		return a == b
	}
}

func elemsEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !valuesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// toJSON converts a runtime value into plain Go data for encoding/json
func toJSON(v any) (any, error) {
	switch val := v.(type) {
	case nil, int64, float64, string, bool:
		return val, nil
	case time.Time:
		return val.Format(time.RFC3339), nil
	case Bytes:
		return "0x" + hex.EncodeToString(val), nil
	case *List:
		return elemsToJSON(val.Elems)
	case *Group:
		return elemsToJSON(val.Elems)
	case *Dict:
		out := make(map[string]any, val.Len())
		for _, k := range val.keys {
			item, _ := val.Get(k)
			j, err := toJSON(item)
			if err != nil {
				return nil, err
			}
			out[FormatValue(k)] = j
		}
		return out, nil
	case *BoxValue:
		out := make(map[string]any, len(val.Fields))
		for name, item := range val.Fields {
			j, err := toJSON(item)
			if err != nil {
				return nil, err
			}
			out[name] = j
		}
		return out, nil
	}
	return nil, runtimeFailure("cannot serialize %s", typeName(v))
}

func elemsToJSON(elems []any) (any, error) {
	out := make([]any, len(elems))
	for i, e := range elems {
		j, err := toJSON(e)
		if err != nil {
			return nil, err
		}
		out[i] = j
	}
	return out, nil
}

// EncodeValue serializes a value for external storage
func EncodeValue(v any) ([]byte, error) {
	j, err := toJSON(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(j)
}

// DecodeValue parses JSON into runtime values. Input that is not JSON is
// returned as a word.
func DecodeValue(data []byte) any {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil || dec.More() {
		return string(data)
	}
	return fromJSON(raw)
}

func fromJSON(raw any) any {
	switch val := raw.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		f, _ := val.Float64()
		return f
	case []any:
		elems := make([]any, len(val))
		for i, e := range val {
			elems[i] = fromJSON(e)
		}
		return &List{Elems: elems}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := NewDict()
		for _, k := range keys {
			d.Set(k, fromJSON(val[k]))
		}
		return d
	default:
		return val
	}
}
