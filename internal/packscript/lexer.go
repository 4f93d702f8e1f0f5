package packscript

import (
	"encoding/base64"
	"strings"
)

// Lexer turns PackScript source into tokens
type Lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
	line    int
	column  int
}

func NewLexer() *Lexer {
	return &Lexer{}
}

// Tokenize scans input completely. The returned slice always ends in TokenEOF.
func (l *Lexer) Tokenize(input string) ([]Token, error) {
	l.input = input
	l.pos = 0
	l.readPos = 0
	l.ch = 0
	l.line = 1
	l.column = 0

	l.readChar()

	var tokens []Token

	for {
		l.skipWhitespace()

		if l.ch == 0 {
			break
		}

		if l.ch == '/' && l.peekChar() == '/' {
			l.skipLineComment()
			continue
		}

		token, err := l.nextToken()
		if err != nil {
			return nil, err
		}

		tokens = append(tokens, token)
	}

	tokens = append(tokens, Token{Type: TokenEOF, Line: l.line, Column: l.column + 1})
	return tokens, nil
}

var twoCharOperators = map[string]bool{
	"&&": true,
	"||": true,
	"==": true,
	"!=": true,
	"<=": true,
	">=": true,
	"=>": true,
	"->": true,
	"..": true,
}

const singleCharOperators = "+-*/%=<>!.|"

const symbols = "(){}[],;:"

func (l *Lexer) nextToken() (Token, error) {
	line, column := l.line, l.column
	at := func(t TokenType, v string) Token {
		return Token{Type: t, Value: v, Line: line, Column: column}
	}
	pos := Position{Line: line, Column: column}

	switch {
	case l.ch == '/' && l.peekChar() == '*':
		text, err := l.readBlockComment(pos)
		if err != nil {
			return Token{}, err
		}
		return at(TokenComment, text), nil

	case l.ch == '"':
		str, err := l.readString(pos)
		if err != nil {
			return Token{}, err
		}
		return at(TokenText, str), nil

	case l.ch == 'b' && l.peekChar() == '6' && l.peekAt(2) == '4' && l.peekAt(3) == '"':
		l.readChar()
		l.readChar()
		l.readChar()
		str, err := l.readString(pos)
		if err != nil {
			return Token{}, err
		}
		if _, err := base64.StdEncoding.DecodeString(str); err != nil {
			return Token{}, syntaxError(pos, "InvalidBase64", "invalid base64 literal %q", str)
		}
		return at(TokenBase64, str), nil

	case isLetter(l.ch):
		ident := l.readIdentifier()
		if isKeyword(ident) {
			return at(TokenKeyword, ident), nil
		}
		return at(TokenIdent, ident), nil

	case isDigit(l.ch):
		if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
			hex, err := l.readHex(pos)
			if err != nil {
				return Token{}, err
			}
			return at(TokenHex, hex), nil
		}
		num, decimal := l.readNumber()
		if decimal {
			return at(TokenDecimal, num), nil
		}
		return at(TokenNumber, num), nil

	case twoCharOperators[string([]byte{l.ch, l.peekChar()})]:
		op := string([]byte{l.ch, l.peekChar()})
		l.readChar()
		l.readChar()
		return at(TokenOperator, op), nil

	case strings.IndexByte(singleCharOperators, l.ch) >= 0:
		op := string(l.ch)
		l.readChar()
		return at(TokenOperator, op), nil

	case strings.IndexByte(symbols, l.ch) >= 0:
		sym := string(l.ch)
		l.readChar()
		return at(TokenSymbol, sym), nil
	}

	return Token{}, syntaxError(pos, "UnexpectedCharacter", "unexpected character: %q", l.ch)
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.column = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
	l.column++
}

func (l *Lexer) peekChar() byte {
	return l.peekAt(1)
}

// peekAt looks n bytes past the current character
func (l *Lexer) peekAt(n int) byte {
	idx := l.pos + n
	if idx >= len(l.input) {
		return 0
	}
	return l.input[idx]
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

func (l *Lexer) skipLineComment() {
	for l.ch != '\n' && l.ch != 0 {
		l.readChar()
	}
}

func (l *Lexer) readBlockComment(pos Position) (string, error) {
	l.readChar()
	l.readChar()
	start := l.pos
	for {
		if l.ch == 0 {
			return "", syntaxError(pos, "UnterminatedComment", "comment not closed")
		}
		if l.ch == '*' && l.peekChar() == '/' {
			text := l.input[start:l.pos]
			l.readChar()
			l.readChar()
			return strings.TrimSpace(text), nil
		}
		l.readChar()
	}
}

func (l *Lexer) readString(pos Position) (string, error) {
	var sb strings.Builder
	l.readChar() // opening quote

	for {
		switch l.ch {
		case 0:
			return "", syntaxError(pos, "UnterminatedString", "string not closed")
		case '"':
			l.readChar()
			return sb.String(), nil
		case '\\':
			l.readChar()
			switch l.ch {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '\\':
				sb.WriteByte('\\')
			case '"':
				sb.WriteByte('"')
			case 0:
				return "", syntaxError(pos, "UnterminatedString", "string not closed")
			default:
				sb.WriteByte('\\')
				sb.WriteByte(l.ch)
			}
		default:
			sb.WriteByte(l.ch)
		}
		l.readChar()
	}
}

func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// readNumber reads an integer, or a decimal when a '.' is followed by a digit.
// "1..5" therefore stays an integer followed by the range operator.
func (l *Lexer) readNumber() (string, bool) {
	start := l.pos
	for isDigit(l.ch) {
		l.readChar()
	}
	decimal := false
	if l.ch == '.' && isDigit(l.peekChar()) {
		decimal = true
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return l.input[start:l.pos], decimal
}

func (l *Lexer) readHex(pos Position) (string, error) {
	l.readChar()
	l.readChar()
	start := l.pos
	for isHexDigit(l.ch) {
		l.readChar()
	}
	digits := l.input[start:l.pos]
	if digits == "" || isLetter(l.ch) {
		return "", syntaxError(pos, "UnexpectedCharacter", "malformed hex literal")
	}
	return digits, nil
}

func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func isHexDigit(ch byte) bool {
	return isDigit(ch) || 'a' <= ch && ch <= 'f' || 'A' <= ch && ch <= 'F'
}
