package packscript

import "fmt"

// TokenType classifies a lexical token
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIdent
	TokenKeyword
	TokenNumber
	TokenDecimal
	TokenHex
	TokenBase64
	TokenText
	TokenOperator
	TokenSymbol
	TokenComment
)

var tokenTypeNames = map[TokenType]string{
	TokenEOF:      "end of input",
	TokenIdent:    "identifier",
	TokenKeyword:  "keyword",
	TokenNumber:   "number",
	TokenDecimal:  "decimal",
	TokenHex:      "hex",
	TokenBase64:   "base64",
	TokenText:     "text",
	TokenOperator: "operator",
	TokenSymbol:   "symbol",
	TokenComment:  "comment",
}

func (t TokenType) String() string {
	if name, ok := tokenTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Position is a 1-based line/column location in the source
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token represents a lexical token
type Token struct {
	Type   TokenType
	Value  string
	Line   int
	Column int
}

// Pos returns the token's source position
func (t Token) Pos() Position {
	return Position{Line: t.Line, Column: t.Column}
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "end of input"
	}
	return fmt.Sprintf("%s %q", t.Type, t.Value)
}

var keywords = map[string]bool{
	"namespace":  true,
	"pack":       true,
	"var":        true,
	"const":      true,
	"type":       true,
	"box":        true,
	"entity":     true,
	"error":      true,
	"guard":      true,
	"fn":         true,
	"job":        true,
	"test":       true,
	"queue":      true,
	"view":       true,
	"grant":      true,
	"revoke":     true,
	"subscribe":  true,
	"on_event":   true,
	"use":        true,
	"doc":        true,
	"say":        true,
	"return":     true,
	"break":      true,
	"continue":   true,
	"assert":     true,
	"emit":       true,
	"keygen":     true,
	"from":       true,
	"socket":     true,
	"connect":    true,
	"as":         true,
	"on_message": true,
	"if":         true,
	"else":       true,
	"loop":       true,
	"in":         true,
	"while":      true,
	"match":      true,
	"pick":       true,
	"case":       true,
	"is":         true,
	"try":        true,
	"catch":      true,
	"finally":    true,
	"throw":      true,
	"on_error":   true,
	"lambda":     true,
	"uses":       true,
	"wait":       true,
	"await":      true,
	"recall":     true,
	"http":       true,
	"get":        true,
	"returns":    true,
	"when":       true,
	"limit":      true,
	"audit":      true,
	"of":         true,
	"verify":     true,
	"signature":  true,
	"true":       true,
	"false":      true,
	"none":       true,
}

func isKeyword(ident string) bool {
	return keywords[ident]
}
