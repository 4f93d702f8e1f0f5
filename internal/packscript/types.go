package packscript

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Type is a structural type descriptor. The parser produces descriptors
// directly from type syntax; declarations store them in the registry by name.
type Type interface {
	fmt.Stringer
	typeNode()
}

// SimpleKind is one of the builtin scalar kinds
type SimpleKind string

const (
	KindNum     SimpleKind = "num"
	KindWord    SimpleKind = "word"
	KindBool    SimpleKind = "bool"
	KindTime    SimpleKind = "time"
	KindAddress SimpleKind = "address"
	KindMood    SimpleKind = "mood"
	KindAny     SimpleKind = "any"
)

var simpleKinds = map[string]SimpleKind{
	"num":     KindNum,
	"word":    KindWord,
	"bool":    KindBool,
	"time":    KindTime,
	"address": KindAddress,
	"mood":    KindMood,
	"any":     KindAny,
}

var moods = map[string]bool{
	"calm":    true,
	"happy":   true,
	"sad":     true,
	"angry":   true,
	"anxious": true,
	"excited": true,
	"neutral": true,
}

// RefKind restricts what a NamedType may resolve to
type RefKind int

const (
	RefAny RefKind = iota
	RefBox
	RefError
)

// Entity mutation policies
const (
	PolicyFixed   = "fixed"
	PolicyShort   = "short"
	PolicyTracked = "tracked"
)

type SimpleType struct {
	Kind SimpleKind
}

type ListType struct {
	Elem Type
}

type DictType struct {
	Key   Type
	Value Type
}

type OptionType struct {
	Elem Type
}

// Field is a resolved record field. DefaultValue is evaluated once when the
// owning box, entity or error is declared.
type Field struct {
	Name         string
	Type         Type
	Default      Expr
	DefaultValue any
	HasDefault   bool
}

type BoxType struct {
	Name   string
	Fields []Field
	Entity bool
	Policy string
	Tags   []string
}

type GroupType struct {
	Elems []Type
}

type UnionType struct {
	Alts []Type
}

type FutureType struct {
	Elem Type
}

type ErrorType struct {
	Name   string
	Fields []Field
}

// NamedType references a declared type by name; it is resolved at validation time
type NamedType struct {
	Ref  string
	Kind RefKind
}

// ConstrainedType narrows Base with bounds, a pattern or named guards
type ConstrainedType struct {
	Base    Type
	Min     *float64
	Max     *float64
	Pattern *regexp.Regexp
	Guards  []string
}

func (*SimpleType) typeNode()      {}
func (*ListType) typeNode()        {}
func (*DictType) typeNode()        {}
func (*OptionType) typeNode()      {}
func (*BoxType) typeNode()         {}
func (*GroupType) typeNode()       {}
func (*UnionType) typeNode()       {}
func (*FutureType) typeNode()      {}
func (*ErrorType) typeNode()       {}
func (*NamedType) typeNode()       {}
func (*ConstrainedType) typeNode() {}

func (t *SimpleType) String() string { return string(t.Kind) }

func (t *ListType) String() string { return "list<" + t.Elem.String() + ">" }

func (t *DictType) String() string {
	return "dict<" + t.Key.String() + "," + t.Value.String() + ">"
}

func (t *OptionType) String() string { return "option<" + t.Elem.String() + ">" }

func (t *BoxType) String() string {
	if t.Entity {
		return "entity " + t.Name
	}
	return "box " + t.Name
}

func (t *GroupType) String() string { return "group(" + joinTypes(t.Elems, ",") + ")" }

func (t *UnionType) String() string { return "union(" + joinTypes(t.Alts, "|") + ")" }

func (t *FutureType) String() string { return "future<" + t.Elem.String() + ">" }

func (t *ErrorType) String() string { return "error " + t.Name }

func (t *NamedType) String() string {
	switch t.Kind {
	case RefBox:
		return "box " + t.Ref
	case RefError:
		return "error " + t.Ref
	default:
		return t.Ref
	}
}

func (t *ConstrainedType) String() string {
	var sb strings.Builder
	sb.WriteString(t.Base.String())
	if t.Min != nil {
		sb.WriteString(":min:" + strconv.FormatFloat(*t.Min, 'f', -1, 64))
	}
	if t.Max != nil {
		sb.WriteString(":max:" + strconv.FormatFloat(*t.Max, 'f', -1, 64))
	}
	if t.Pattern != nil {
		sb.WriteString(":pattern:" + strconv.Quote(t.Pattern.String()))
	}
	if len(t.Guards) > 0 {
		sb.WriteString(":[" + strings.Join(t.Guards, ", ") + "]")
	}
	return sb.String()
}

func joinTypes(types []Type, sep string) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = t.String()
	}
	return strings.Join(parts, sep)
}

func (t *BoxType) field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (t *ErrorType) field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}
