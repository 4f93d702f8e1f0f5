package packscript

import (
	"regexp"
	"time"
	"unicode/utf8"

	iotago "github.com/iotaledger/iota.go/v3"
)

var hexAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// maxTypeDepth bounds recursion through self-referencing named types
const maxTypeDepth = 64

// ValidateType checks value against t, resolving named types from scope.
// It never mutates value or the registry.
func (r *Registry) ValidateType(scope ScopeID, value any, t Type) error {
	return r.validate(scope, value, t, 0)
}

func mismatch(t Type, value any) error {
	return typeMismatch(t.String(), typeName(value))
}

func (r *Registry) validate(scope ScopeID, value any, t Type, depth int) error {
	if depth > maxTypeDepth {
		return runtimeFailure("type %s nests too deeply", t)
	}

	switch tt := t.(type) {
	case *SimpleType:
		if !validSimple(tt.Kind, value) {
			return mismatch(tt, value)
		}
		return nil

	case *ListType:
		list, ok := value.(*List)
		if !ok {
			return mismatch(tt, value)
		}
		for _, elem := range list.Elems {
			if err := r.validate(scope, elem, tt.Elem, depth+1); err != nil {
				return err
			}
		}
		return nil

	case *DictType:
		dict, ok := value.(*Dict)
		if !ok {
			return mismatch(tt, value)
		}
		for _, k := range dict.keys {
			if err := r.validate(scope, k, tt.Key, depth+1); err != nil {
				return err
			}
			v, _ := dict.Get(k)
			if err := r.validate(scope, v, tt.Value, depth+1); err != nil {
				return err
			}
		}
		return nil

	case *OptionType:
		if value == nil {
			return nil
		}
		return r.validate(scope, value, tt.Elem, depth+1)

	case *BoxType:
		box, ok := value.(*BoxValue)
		if !ok || box.Type.Name != tt.Name {
			return mismatch(tt, value)
		}
		return r.validateFields(scope, tt.Fields, box.Fields, depth)

	case *ErrorType:
		ev, ok := value.(*ErrorValue)
		if !ok || ev.Name != tt.Name {
			return mismatch(tt, value)
		}
		return r.validateFields(scope, tt.Fields, ev.Fields, depth)

	case *GroupType:
		group, ok := value.(*Group)
		if !ok || len(group.Elems) != len(tt.Elems) {
			return mismatch(tt, value)
		}
		for i, elem := range group.Elems {
			if err := r.validate(scope, elem, tt.Elems[i], depth+1); err != nil {
				return err
			}
		}
		return nil

	case *UnionType:
		for _, alt := range tt.Alts {
			if r.validate(scope, value, alt, depth+1) == nil {
				return nil
			}
		}
		return mismatch(tt, value)

	case *FutureType:
		if _, ok := value.(*Future); !ok {
			return mismatch(tt, value)
		}
		return nil

	case *NamedType:
		resolved, err := r.LookupType(scope, tt.Ref)
		if err != nil {
			return err
		}
		switch resolved.(type) {
		case *BoxType:
			if tt.Kind == RefError {
				return undefinedType("error " + tt.Ref)
			}
		case *ErrorType:
			if tt.Kind == RefBox {
				return undefinedType("box " + tt.Ref)
			}
		default:
			if tt.Kind != RefAny {
				return undefinedType(tt.String())
			}
		}
		return r.validate(scope, value, resolved, depth+1)

	case *ConstrainedType:
		if err := r.validate(scope, value, tt.Base, depth+1); err != nil {
			return err
		}
		return r.checkConstraint(scope, value, tt)
	}

	return runtimeFailure("unknown type descriptor %T", t)
}

func (r *Registry) validateFields(scope ScopeID, fields []Field, values map[string]any, depth int) error {
	for _, f := range fields {
		v, present := values[f.Name]
		if !present {
			if f.HasDefault {
				continue
			}
			return typeMismatch("field "+f.Name, "missing")
		}
		if err := r.validate(scope, v, f.Type, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func validSimple(kind SimpleKind, value any) bool {
	switch kind {
	case KindAny:
		return true
	case KindNum:
		_, ok := toFloat(value)
		return ok
	case KindWord:
		_, ok := value.(string)
		return ok
	case KindBool:
		_, ok := value.(bool)
		return ok
	case KindTime:
		switch v := value.(type) {
		case time.Time:
			return true
		case string:
			_, ok := parseTime(v)
			return ok
		}
		return false
	case KindAddress:
		switch v := value.(type) {
		case string:
			return isAddress(v)
		case Bytes:
			return len(v) == 20
		}
		return false
	case KindMood:
		s, ok := value.(string)
		return ok && moods[s]
	}
	return false
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func isAddress(s string) bool {
	if hexAddressPattern.MatchString(s) {
		return true
	}
	_, _, err := iotago.ParseBech32(s)
	return err == nil
}

func measure(value any) (float64, bool) {
	switch v := value.(type) {
	case int64, float64:
		return toFloat(v)
	case string:
		return float64(utf8.RuneCountInString(v)), true
	case *List:
		return float64(len(v.Elems)), true
	case *Dict:
		return float64(v.Len()), true
	case Bytes:
		return float64(len(v)), true
	}
	return 0, false
}

func (r *Registry) checkConstraint(scope ScopeID, value any, ct *ConstrainedType) error {
	if ct.Min != nil || ct.Max != nil {
		m, ok := measure(value)
		if !ok {
			return mismatch(ct, value)
		}
		if ct.Min != nil && m < *ct.Min {
			return mismatch(ct, value)
		}
		if ct.Max != nil && m > *ct.Max {
			return mismatch(ct, value)
		}
	}

	if ct.Pattern != nil {
		s, ok := value.(string)
		if !ok || !ct.Pattern.MatchString(s) {
			return mismatch(ct, value)
		}
	}

	for _, guard := range ct.Guards {
		if r.guards == nil {
			return undefinedName(guard)
		}
		ok, err := r.guards(scope, guard, value)
		if err != nil {
			return err
		}
		if !ok {
			return typeMismatch("guard "+guard, FormatValue(value))
		}
	}
	return nil
}
