package packscript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenTypes(tokens []Token) []TokenType {
	out := make([]TokenType, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Type
	}
	return out
}

func TestLexerBasicTokens(t *testing.T) {
	tokens, err := NewLexer().Tokenize(`var total: num = 12 + 3.5;`)
	require.NoError(t, err)

	require.Equal(t, []TokenType{
		TokenKeyword, TokenIdent, TokenSymbol, TokenIdent, TokenOperator,
		TokenNumber, TokenOperator, TokenDecimal, TokenSymbol, TokenEOF,
	}, tokenTypes(tokens))
	assert.Equal(t, "total", tokens[1].Value)
	assert.Equal(t, "3.5", tokens[7].Value)
}

func TestLexerPositions(t *testing.T) {
	tokens, err := NewLexer().Tokenize("say 1;\n  say x;")
	require.NoError(t, err)

	assert.Equal(t, Position{Line: 1, Column: 1}, tokens[0].Pos())
	assert.Equal(t, Position{Line: 1, Column: 5}, tokens[1].Pos())
	assert.Equal(t, Position{Line: 2, Column: 3}, tokens[3].Pos())
	assert.Equal(t, Position{Line: 2, Column: 7}, tokens[4].Pos())
}

func TestLexerOperatorsLongestFirst(t *testing.T) {
	tokens, err := NewLexer().Tokenize(`a && b == c => d .. e != f -> g <= h >= i || j`)
	require.NoError(t, err)

	var ops []string
	for _, tok := range tokens {
		if tok.Type == TokenOperator {
			ops = append(ops, tok.Value)
		}
	}
	assert.Equal(t, []string{"&&", "==", "=>", "..", "!=", "->", "<=", ">=", "||"}, ops)
}

func TestLexerRangeIsNotDecimal(t *testing.T) {
	tokens, err := NewLexer().Tokenize(`1..5`)
	require.NoError(t, err)

	require.Equal(t, []TokenType{TokenNumber, TokenOperator, TokenNumber, TokenEOF}, tokenTypes(tokens))
	assert.Equal(t, "..", tokens[1].Value)
}

func TestLexerLiterals(t *testing.T) {
	tokens, err := NewLexer().Tokenize(`0xCAFE b64"aGVsbG8=" "a \"quoted\"\n" b64x`)
	require.NoError(t, err)

	require.Equal(t, []TokenType{TokenHex, TokenBase64, TokenText, TokenIdent, TokenEOF}, tokenTypes(tokens))
	assert.Equal(t, "CAFE", tokens[0].Value)
	assert.Equal(t, "aGVsbG8=", tokens[1].Value)
	assert.Equal(t, "a \"quoted\"\n", tokens[2].Value)
	assert.Equal(t, "b64x", tokens[3].Value)
}

func TestLexerComments(t *testing.T) {
	tokens, err := NewLexer().Tokenize("// dropped\n/* kept */ pack")
	require.NoError(t, err)

	require.Equal(t, []TokenType{TokenComment, TokenKeyword, TokenEOF}, tokenTypes(tokens))
	assert.Equal(t, "kept", tokens[0].Value)
}

func TestLexerErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		ident  string
	}{
		{"unterminated string", `say "open`, "UnterminatedString"},
		{"unterminated comment", `/* open`, "UnterminatedComment"},
		{"invalid base64", `b64"!!"`, "InvalidBase64"},
		{"malformed hex", `0xZZ`, "UnexpectedCharacter"},
		{"stray character", `say @;`, "UnexpectedCharacter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLexer().Tokenize(tt.source)
			require.Error(t, err)
			require.ErrorIs(t, err, ErrSyntax)

			se, ok := AsScriptError(err)
			require.True(t, ok)
			assert.Equal(t, tt.ident, se.Name)
			assert.True(t, se.Fatal())
		})
	}
}

func TestLexerKeywords(t *testing.T) {
	tokens, err := NewLexer().Tokenize(`namespace pack_name on_error lambda`)
	require.NoError(t, err)

	assert.Equal(t, TokenKeyword, tokens[0].Type)
	assert.Equal(t, TokenIdent, tokens[1].Type)
	assert.Equal(t, TokenKeyword, tokens[2].Type)
	assert.Equal(t, TokenKeyword, tokens[3].Type)
}
