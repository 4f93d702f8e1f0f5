package packscript

import (
	"encoding/base64"
	"encoding/hex"
	"regexp"
	"strconv"
)

func (p *Parser) parseExpression() (Expr, error) {
	return p.parseOr()
}

// parseClauseExpression parses an expression that is directly followed by a
// braced body, so `Name {` is not taken as a record literal.
func (p *Parser) parseClauseExpression() (Expr, error) {
	saved := p.noRecord
	p.noRecord = true
	defer func() { p.noRecord = saved }()
	return p.parseExpression()
}

// parseNested parses an expression inside brackets where records are allowed again
func (p *Parser) parseNested() (Expr, error) {
	saved := p.noRecord
	p.noRecord = false
	defer func() { p.noRecord = saved }()
	return p.parseExpression()
}

func (p *Parser) binary(op Token, left, right Expr) Expr {
	b := &BinaryExpr{Op: op.Value, Left: left, Right: right}
	b.At = op.Pos()
	return b
}

func (p *Parser) parseOr() (Expr, error) {
	expr, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.check("||") {
		op := p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		expr = p.binary(op, expr, right)
	}
	return expr, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	expr, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.check("&&") {
		op := p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		expr = p.binary(op, expr, right)
	}
	return expr, nil
}

var comparisonOperators = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true, "..": true,
}

func (p *Parser) parseComparison() (Expr, error) {
	expr, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.current().Type == TokenOperator && comparisonOperators[p.current().Value] {
		op := p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		expr = p.binary(op, expr, right)
	}
	return expr, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	expr, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.check("+") || p.check("-") {
		op := p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		expr = p.binary(op, expr, right)
	}
	return expr, nil
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	expr, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.check("*") || p.check("/") || p.check("%") {
		op := p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		expr = p.binary(op, expr, right)
	}
	return expr, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.check("!") || p.check("-") {
		op := p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		u := &UnaryExpr{Op: op.Value, Operand: operand}
		u.At = op.Pos()
		return u, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.current()
		switch {
		case p.match("("):
			args, err := p.parseArguments(")")
			if err != nil {
				return nil, err
			}
			c := &CallExpr{Callee: expr, Args: args}
			c.At = tok.Pos()
			expr = c
		case p.match("."):
			field := p.current()
			if field.Type != TokenIdent && field.Type != TokenKeyword {
				return nil, p.errorf(field, "expected field name after '.', got %s", field)
			}
			p.advance()
			m := &MemberExpr{Object: expr, Field: field.Value}
			m.At = tok.Pos()
			expr = m
		case p.match("["):
			index, err := p.parseNested()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect("]", "after index"); err != nil {
				return nil, err
			}
			ix := &IndexExpr{Object: expr, Index: index}
			ix.At = tok.Pos()
			expr = ix
		default:
			return expr, nil
		}
	}
}

// parseArguments reads comma-separated expressions up to the closing token
func (p *Parser) parseArguments(closing string) ([]Expr, error) {
	args := make([]Expr, 0)
	for !p.check(closing) {
		arg, err := p.parseNested()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if !p.match(",") {
			break
		}
	}
	if _, err := p.expect(closing, "to close list"); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.current()
	pos := tok.Pos()

	switch tok.Type {
	case TokenNumber:
		p.advance()
		n, err := strconv.ParseInt(tok.Value, 10, 64)
		if err != nil {
			return nil, p.errorf(tok, "number out of range: %s", tok.Value)
		}
		e := &NumberLit{Value: n}
		e.At = pos
		return e, nil

	case TokenDecimal:
		p.advance()
		f, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, p.errorf(tok, "invalid decimal: %s", tok.Value)
		}
		e := &DecimalLit{Value: f}
		e.At = pos
		return e, nil

	case TokenHex:
		p.advance()
		digits := tok.Value
		if len(digits)%2 == 1 {
			digits = "0" + digits
		}
		b, err := hex.DecodeString(digits)
		if err != nil {
			return nil, p.errorf(tok, "invalid hex literal: %s", tok.Value)
		}
		e := &BytesLit{Value: b}
		e.At = pos
		return e, nil

	case TokenBase64:
		p.advance()
		b, err := base64.StdEncoding.DecodeString(tok.Value)
		if err != nil {
			return nil, syntaxError(pos, "InvalidBase64", "invalid base64 literal %q", tok.Value)
		}
		e := &BytesLit{Value: b}
		e.At = pos
		return e, nil

	case TokenText:
		p.advance()
		e := &TextLit{Value: tok.Value}
		e.At = pos
		return e, nil

	case TokenIdent:
		p.advance()
		if p.check("{") && !p.noRecord {
			return p.parseRecord(tok)
		}
		e := &Ident{Name: tok.Value}
		e.At = pos
		return e, nil
	}

	switch {
	case p.match("true"), p.match("false"):
		e := &BoolLit{Value: tok.Value == "true"}
		e.At = pos
		return e, nil

	case p.match("none"):
		e := &NoneLit{}
		e.At = pos
		return e, nil

	case p.match("["):
		elems, err := p.parseArguments("]")
		if err != nil {
			return nil, err
		}
		e := &ListLit{Elems: elems}
		e.At = pos
		return e, nil

	case p.match("{"):
		return p.parseDict(pos)

	case p.match("("):
		first, err := p.parseNested()
		if err != nil {
			return nil, err
		}
		if p.match(")") {
			return first, nil
		}
		if _, err := p.expect(",", "in group"); err != nil {
			return nil, err
		}
		rest, err := p.parseArguments(")")
		if err != nil {
			return nil, err
		}
		e := &GroupLit{Elems: append([]Expr{first}, rest...)}
		e.At = pos
		return e, nil

	case p.match("lambda"):
		return p.parseLambda(pos)

	case p.match("wait"), p.match("await"):
		value, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		e := &WaitExpr{Value: value, Await: tok.Value == "await"}
		e.At = pos
		return e, nil

	case p.match("throw"):
		if _, err := p.expect("error", "after 'throw'"); err != nil {
			return nil, err
		}
		name, err := p.expectIdent("error name")
		if err != nil {
			return nil, err
		}
		e := &ThrowExpr{Name: name.Value}
		e.At = pos
		if !p.check(";") && !p.check(")") && !p.check("}") && !p.check(",") {
			if e.Payload, err = p.parseExpression(); err != nil {
				return nil, err
			}
		}
		return e, nil

	case p.match("recall"):
		key, err := p.parsePostfix()
		if err != nil {
			return nil, err
		}
		e := &RecallExpr{Key: key}
		e.At = pos
		return e, nil

	case p.match("http"):
		if _, err := p.expect("get", "after 'http'"); err != nil {
			return nil, err
		}
		url, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		e := &HTTPGetExpr{URL: url}
		e.At = pos
		if p.match("returns") {
			if e.Returns, err = p.parseType(); err != nil {
				return nil, err
			}
		}
		return e, nil

	case p.match("verify"):
		if _, err := p.expect("signature", "after 'verify'"); err != nil {
			return nil, err
		}
		if _, err := p.expect("(", "after 'verify signature'"); err != nil {
			return nil, err
		}
		args, err := p.parseArguments(")")
		if err != nil {
			return nil, err
		}
		if len(args) != 3 {
			return nil, p.errorf(tok, "verify signature takes (public key, message, signature)")
		}
		e := &VerifySigExpr{PublicKey: args[0], Message: args[1], Signature: args[2]}
		e.At = pos
		return e, nil
	}

	return nil, p.errorf(tok, "unexpected %s", tok)
}

func (p *Parser) parseRecord(name Token) (Expr, error) {
	p.advance()
	e := &RecordLit{Type: name.Value}
	e.At = name.Pos()
	for !p.check("}") {
		field := p.current()
		if field.Type != TokenIdent {
			return nil, p.errorf(field, "expected field name in %s literal, got %s", name.Value, field)
		}
		p.advance()
		if _, err := p.expect(":", "after field name"); err != nil {
			return nil, err
		}
		value, err := p.parseNested()
		if err != nil {
			return nil, err
		}
		e.Fields = append(e.Fields, field.Value)
		e.Values = append(e.Values, value)
		if !p.match(",") {
			break
		}
	}
	if _, err := p.expect("}", "to close "+name.Value+" literal"); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *Parser) parseDict(pos Position) (Expr, error) {
	e := &DictLit{}
	e.At = pos
	for !p.check("}") {
		var key Expr
		if tok := p.current(); tok.Type == TokenIdent && p.peek(1).Value == ":" {
			p.advance()
			k := &TextLit{Value: tok.Value}
			k.At = tok.Pos()
			key = k
		} else {
			var err error
			if key, err = p.parseNested(); err != nil {
				return nil, err
			}
		}
		if _, err := p.expect(":", "after dict key"); err != nil {
			return nil, err
		}
		value, err := p.parseNested()
		if err != nil {
			return nil, err
		}
		e.Keys = append(e.Keys, key)
		e.Values = append(e.Values, value)
		if !p.match(",") {
			break
		}
	}
	if _, err := p.expect("}", "to close dict literal"); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *Parser) parseLambda(pos Position) (Expr, error) {
	params, err := p.parseParams()
	if err != nil {
		return nil, err
	}
	e := &LambdaExpr{Params: params}
	e.At = pos

	if p.match("uses") {
		if _, err := p.expect("(", "after 'uses'"); err != nil {
			return nil, err
		}
		for !p.check(")") {
			name, err := p.expectIdent("captured name")
			if err != nil {
				return nil, err
			}
			e.Uses = append(e.Uses, name.Value)
			if !p.match(",") {
				break
			}
		}
		if _, err := p.expect(")", "to close 'uses' list"); err != nil {
			return nil, err
		}
	}

	if _, err := p.expect("=>", "in lambda"); err != nil {
		return nil, err
	}
	if p.check("{") {
		e.Body, err = p.parseBlock("lambda body")
		return e, err
	}
	e.Result, err = p.parseNested()
	return e, err
}

// parseType reads a type expression with an optional constraint suffix
func (p *Parser) parseType() (Type, error) {
	base, err := p.parseBaseType()
	if err != nil {
		return nil, err
	}

	var ct *ConstrainedType
	for p.check(":") {
		next := p.peek(1)
		isConstraint := next.Value == "[" && next.Type == TokenSymbol ||
			next.Type == TokenIdent && (next.Value == "min" || next.Value == "max" || next.Value == "pattern")
		if !isConstraint {
			break
		}
		if ct == nil {
			ct = &ConstrainedType{Base: base}
		}
		p.advance()

		if p.match("[") {
			for !p.check("]") {
				g, err := p.expectIdent("guard name")
				if err != nil {
					return nil, err
				}
				ct.Guards = append(ct.Guards, g.Value)
				if !p.match(",") {
					break
				}
			}
			if _, err := p.expect("]", "to close guard list"); err != nil {
				return nil, err
			}
			continue
		}

		kind := p.advance()
		if _, err := p.expect(":", "after "+kind.Value); err != nil {
			return nil, err
		}
		if kind.Value == "pattern" {
			tok := p.current()
			if tok.Type != TokenText {
				return nil, p.errorf(tok, "expected pattern text, got %s", tok)
			}
			p.advance()
			re, err := regexp.Compile(tok.Value)
			if err != nil {
				return nil, syntaxError(tok.Pos(), "InvalidPattern", "invalid pattern %q: %v", tok.Value, err)
			}
			ct.Pattern = re
			continue
		}

		bound, err := p.parseBound()
		if err != nil {
			return nil, err
		}
		if kind.Value == "min" {
			ct.Min = &bound
		} else {
			ct.Max = &bound
		}
	}

	if ct != nil {
		return ct, nil
	}
	return base, nil
}

func (p *Parser) parseBound() (float64, error) {
	negative := p.match("-")
	tok := p.current()
	if tok.Type != TokenNumber && tok.Type != TokenDecimal {
		return 0, p.errorf(tok, "expected numeric bound, got %s", tok)
	}
	p.advance()
	f, err := strconv.ParseFloat(tok.Value, 64)
	if err != nil {
		return 0, p.errorf(tok, "invalid bound %s", tok.Value)
	}
	if negative {
		f = -f
	}
	return f, nil
}

func (p *Parser) parseTypeArgs(n int, what string) ([]Type, error) {
	if _, err := p.expect("<", "after "+what); err != nil {
		return nil, err
	}
	args := make([]Type, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			if _, err := p.expect(",", "between "+what+" type arguments"); err != nil {
				return nil, err
			}
		}
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		args = append(args, t)
	}
	if _, err := p.expect(">", "to close "+what+" type"); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *Parser) parseBaseType() (Type, error) {
	tok := p.current()

	if tok.Type == TokenKeyword {
		switch tok.Value {
		case "box", "error":
			p.advance()
			name, err := p.expectIdent(tok.Value + " type name")
			if err != nil {
				return nil, err
			}
			kind := RefBox
			if tok.Value == "error" {
				kind = RefError
			}
			return &NamedType{Ref: name.Value, Kind: kind}, nil
		}
		return nil, p.errorf(tok, "expected type, got %s", tok)
	}

	if tok.Type != TokenIdent {
		return nil, p.errorf(tok, "expected type, got %s", tok)
	}
	p.advance()

	if kind, ok := simpleKinds[tok.Value]; ok {
		return &SimpleType{Kind: kind}, nil
	}

	switch tok.Value {
	case "list", "option", "future":
		args, err := p.parseTypeArgs(1, tok.Value)
		if err != nil {
			return nil, err
		}
		switch tok.Value {
		case "list":
			return &ListType{Elem: args[0]}, nil
		case "option":
			return &OptionType{Elem: args[0]}, nil
		default:
			return &FutureType{Elem: args[0]}, nil
		}

	case "dict":
		args, err := p.parseTypeArgs(2, "dict")
		if err != nil {
			return nil, err
		}
		return &DictType{Key: args[0], Value: args[1]}, nil

	case "group", "union":
		if _, err := p.expect("(", "after "+tok.Value); err != nil {
			return nil, err
		}
		sep := ","
		if tok.Value == "union" {
			sep = "|"
		}
		var elems []Type
		for !p.check(")") {
			t, err := p.parseType()
			if err != nil {
				return nil, err
			}
			elems = append(elems, t)
			if !p.match(sep) {
				break
			}
		}
		if _, err := p.expect(")", "to close "+tok.Value+" type"); err != nil {
			return nil, err
		}
		if tok.Value == "union" {
			return &UnionType{Alts: elems}, nil
		}
		return &GroupType{Elems: elems}, nil
	}

	return &NamedType{Ref: tok.Value}, nil
}
