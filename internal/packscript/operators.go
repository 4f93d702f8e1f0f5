package packscript

import (
	"math"
	"strings"
	"time"
)

// maxRangeLength caps the list produced by a..b
const maxRangeLength = 1 << 20

func operandError(op string, a, b any) error {
	return runtimeFailure("unsupported operand types for %s: %s and %s", op, typeName(a), typeName(b))
}

// binaryOp evaluates every non-short-circuit binary operator
func (rt *Runtime) binaryOp(op string, a, b any) (any, error) {
	switch op {
	case "==":
		return valuesEqual(a, b), nil
	case "!=":
		return !valuesEqual(a, b), nil
	case "<", "<=", ">", ">=":
		c, err := compareValues(op, a, b)
		if err != nil {
			return nil, err
		}
		switch op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case "..":
		return rangeList(a, b)
	case "+":
		return add(a, b)
	case "-", "*", "/", "%":
		return arithmetic(op, a, b)
	}
	return nil, runtimeFailure("unknown operator %s", op)
}

func add(a, b any) (any, error) {
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		sum := ai + bi
		if (sum > ai) != (bi > 0) {
			return nil, runtimeFailure("integer overflow in %d + %d", ai, bi)
		}
		return sum, nil
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa + fb, nil
		}
	}

	_, aWord := a.(string)
	_, bWord := b.(string)
	if aWord || bWord {
		return FormatValue(a) + FormatValue(b), nil
	}

	switch x := a.(type) {
	case *List:
		if y, ok := b.(*List); ok {
			elems := make([]any, 0, len(x.Elems)+len(y.Elems))
			elems = append(append(elems, x.Elems...), y.Elems...)
			return &List{Elems: elems}, nil
		}
	case Bytes:
		if y, ok := b.(Bytes); ok {
			out := make(Bytes, 0, len(x)+len(y))
			return append(append(out, x...), y...), nil
		}
	}
	return nil, operandError("+", a, b)
}

func arithmetic(op string, a, b any) (any, error) {
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		switch op {
		case "-":
			diff := ai - bi
			if (diff < ai) != (bi > 0) {
				return nil, runtimeFailure("integer overflow in %d - %d", ai, bi)
			}
			return diff, nil
		case "*":
			if ai == 0 || bi == 0 {
				return int64(0), nil
			}
			prod := ai * bi
			if prod/bi != ai || (ai == -1 && bi == math.MinInt64) || (bi == -1 && ai == math.MinInt64) {
				return nil, runtimeFailure("integer overflow in %d * %d", ai, bi)
			}
			return prod, nil
		case "/":
			if bi == 0 {
				return nil, runtimeFailure("division by zero")
			}
			if ai == math.MinInt64 && bi == -1 {
				return nil, runtimeFailure("integer overflow in %d / %d", ai, bi)
			}
			return ai / bi, nil
		case "%":
			if bi == 0 {
				return nil, runtimeFailure("modulo by zero")
			}
			if bi == -1 {
				return int64(0), nil
			}
			return ai % bi, nil
		}
	}

	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if !okA || !okB {
		return nil, operandError(op, a, b)
	}
	switch op {
	case "-":
		return fa - fb, nil
	case "*":
		return fa * fb, nil
	case "/":
		if fb == 0 {
			return nil, runtimeFailure("division by zero")
		}
		return fa / fb, nil
	default:
		if fb == 0 {
			return nil, runtimeFailure("modulo by zero")
		}
		return math.Mod(fa, fb), nil
	}
}

func compareValues(op string, a, b any) (int, error) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, operandError(op, a, b)
		}
		ai, aInt := a.(int64)
		bi, bInt := b.(int64)
		if aInt && bInt {
			switch {
			case ai < bi:
				return -1, nil
			case ai > bi:
				return 1, nil
			}
			return 0, nil
		}
		switch {
		case fa < fb:
			return -1, nil
		case fa > fb:
			return 1, nil
		}
		return 0, nil
	}

	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
		if y, ok := b.(time.Time); ok {
			if tx, ok := parseTime(x); ok {
				return compareTimes(tx, y), nil
			}
		}
	case time.Time:
		switch y := b.(type) {
		case time.Time:
			return compareTimes(x, y), nil
		case string:
			if ty, ok := parseTime(y); ok {
				return compareTimes(x, ty), nil
			}
		}
	}
	return 0, operandError(op, a, b)
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func rangeList(a, b any) (any, error) {
	lo, okA := a.(int64)
	hi, okB := b.(int64)
	if !okA || !okB {
		return nil, operandError("..", a, b)
	}
	if hi < lo {
		return &List{Elems: []any{}}, nil
	}
	if hi-lo >= maxRangeLength || hi-lo < 0 {
		return nil, runtimeFailure("range %d..%d is too large", lo, hi)
	}
	elems := make([]any, 0, hi-lo+1)
	for k := int64(0); k <= hi-lo; k++ {
		elems = append(elems, lo+k)
	}
	return &List{Elems: elems}, nil
}

func (rt *Runtime) unaryOp(op string, v any) (any, error) {
	switch op {
	case "!":
		return !truthy(v), nil
	case "-":
		switch n := v.(type) {
		case int64:
			if n == math.MinInt64 {
				return nil, runtimeFailure("integer overflow in -%d", n)
			}
			return -n, nil
		case float64:
			return -n, nil
		}
		return nil, runtimeFailure("unsupported operand type for -: %s", typeName(v))
	}
	return nil, runtimeFailure("unknown operator %s", op)
}
