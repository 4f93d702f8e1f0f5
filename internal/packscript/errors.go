package packscript

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per error kind, plus host-level failures.
var (
	ErrSyntax           = errors.New("syntax error")
	ErrUndefinedName    = errors.New("undefined name")
	ErrDuplicateBinding = errors.New("duplicate binding")
	ErrUndefinedType    = errors.New("undefined type")
	ErrTypeMismatch     = errors.New("type mismatch")
	ErrRuntimeFailure   = errors.New("runtime failure")
	ErrUserError        = errors.New("user error")
	ErrExternalFailure  = errors.New("external failure")

	ErrExecutionTimeout = errors.New("script execution timeout")
	ErrScriptTooLarge   = errors.New("script size exceeds maximum allowed")
	ErrGasExhausted     = errors.New("gas limit exceeded")
	ErrCorruptBytecode  = errors.New("corrupt bytecode")
)

// ErrorKind is the taxonomy bucket of a ScriptError
type ErrorKind int

const (
	KindSyntax ErrorKind = iota
	KindUndefinedName
	KindDuplicateBinding
	KindUndefinedType
	KindTypeMismatch
	KindRuntimeFailure
	KindUserError
	KindExternalFailure
)

var errorKindNames = map[ErrorKind]string{
	KindSyntax:           "SyntaxError",
	KindUndefinedName:    "UndefinedName",
	KindDuplicateBinding: "DuplicateBinding",
	KindUndefinedType:    "UndefinedType",
	KindTypeMismatch:     "TypeMismatch",
	KindRuntimeFailure:   "RuntimeFailure",
	KindUserError:        "UserError",
	KindExternalFailure:  "ExternalFailure",
}

var errorKindSentinels = map[ErrorKind]error{
	KindSyntax:           ErrSyntax,
	KindUndefinedName:    ErrUndefinedName,
	KindDuplicateBinding: ErrDuplicateBinding,
	KindUndefinedType:    ErrUndefinedType,
	KindTypeMismatch:     ErrTypeMismatch,
	KindRuntimeFailure:   ErrRuntimeFailure,
	KindUserError:        ErrUserError,
	KindExternalFailure:  ErrExternalFailure,
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ScriptError is the single error shape raised by the front end and both
// execution engines. Name identifies the error for catch clauses: user errors
// carry their declared name, builtin failures carry their kind name or a more
// specific builtin name such as UnterminatedString or AssertionFailed.
type ScriptError struct {
	Kind     ErrorKind
	Name     string
	Message  string
	Payload  any
	Pos      Position
	Expected string
	Actual   string

	fields map[string]any
}

func (e *ScriptError) Error() string {
	var msg string
	switch {
	case e.Kind == KindUserError:
		msg = fmt.Sprintf("uncaught error %s: %s", e.Name, FormatValue(e.Payload))
	case e.Message != "":
		msg = fmt.Sprintf("%s: %s", e.Name, e.Message)
	default:
		msg = e.Name
	}
	if e.Pos.Line > 0 {
		return fmt.Sprintf("%s (at %s)", msg, e.Pos)
	}
	return msg
}

// Unwrap returns the sentinel of the error's kind
func (e *ScriptError) Unwrap() error {
	return errorKindSentinels[e.Kind]
}

// Identity is the kind/name pair used to compare failures across engines
func (e *ScriptError) Identity() string {
	return e.Kind.String() + ":" + e.Name
}

// Fatal reports whether the error can never be caught by script code
func (e *ScriptError) Fatal() bool {
	return e.Kind == KindSyntax
}

// AsScriptError extracts a *ScriptError from err's chain
func AsScriptError(err error) (*ScriptError, bool) {
	var se *ScriptError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func syntaxError(pos Position, name, format string, args ...any) *ScriptError {
	msg := fmt.Sprintf(format, args...)
	return &ScriptError{Kind: KindSyntax, Name: name, Message: msg, Payload: msg, Pos: pos}
}

func undefinedName(name string) *ScriptError {
	return &ScriptError{Kind: KindUndefinedName, Name: KindUndefinedName.String(), Message: name, Payload: name}
}

func duplicateBinding(name string) *ScriptError {
	return &ScriptError{Kind: KindDuplicateBinding, Name: KindDuplicateBinding.String(), Message: name, Payload: name}
}

func undefinedType(name string) *ScriptError {
	return &ScriptError{Kind: KindUndefinedType, Name: KindUndefinedType.String(), Message: name, Payload: name}
}

func typeMismatch(expected, actual string) *ScriptError {
	msg := fmt.Sprintf("expected %s, got %s", expected, actual)
	return &ScriptError{
		Kind:     KindTypeMismatch,
		Name:     KindTypeMismatch.String(),
		Message:  msg,
		Payload:  msg,
		Expected: expected,
		Actual:   actual,
	}
}

func runtimeFailure(format string, args ...any) *ScriptError {
	msg := fmt.Sprintf(format, args...)
	return &ScriptError{Kind: KindRuntimeFailure, Name: KindRuntimeFailure.String(), Message: msg, Payload: msg}
}

func assertionFailed(message string) *ScriptError {
	return &ScriptError{Kind: KindRuntimeFailure, Name: "AssertionFailed", Message: message, Payload: message}
}

func userError(name string, payload any) *ScriptError {
	return &ScriptError{Kind: KindUserError, Name: name, Payload: payload}
}

func externalFailure(operation string, err error) *ScriptError {
	msg := fmt.Sprintf("%s: %v", operation, err)
	return &ScriptError{Kind: KindExternalFailure, Name: KindExternalFailure.String(), Message: msg, Payload: msg}
}

// builtinErrorNames are catchable by name without an error declaration
var builtinErrorNames = map[string]bool{
	"UndefinedName":    true,
	"DuplicateBinding": true,
	"UndefinedType":    true,
	"TypeMismatch":     true,
	"RuntimeFailure":   true,
	"ExternalFailure":  true,
	"AssertionFailed":  true,
}
