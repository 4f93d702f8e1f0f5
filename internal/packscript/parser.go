package packscript

// Parser builds a Program from a token stream by recursive descent
type Parser struct {
	tokens   []Token
	pos      int
	noRecord bool
}

func NewParser() *Parser {
	return &Parser{}
}

// Parse consumes tokens produced by Lexer.Tokenize. Comments are kept as
// declarations at the top level and dropped inside bodies.
func (p *Parser) Parse(tokens []Token) (*Program, error) {
	p.tokens = stripNestedComments(tokens)
	p.pos = 0
	p.noRecord = false

	program := &Program{}

	for !p.isAtEnd() {
		tok := p.current()
		switch {
		case tok.Type == TokenComment:
			p.advance()
			d := &CommentDecl{Text: tok.Value}
			d.At = tok.Pos()
			program.Decls = append(program.Decls, d)
		case p.check("namespace"):
			d, err := p.parseNamespace()
			if err != nil {
				return nil, err
			}
			program.Decls = append(program.Decls, d)
		case p.check("pack"):
			d, err := p.parsePack()
			if err != nil {
				return nil, err
			}
			program.Decls = append(program.Decls, d)
		default:
			return nil, p.errorf(tok, "expected namespace or pack declaration, got %s", tok)
		}
	}

	return program, nil
}

func stripNestedComments(tokens []Token) []Token {
	out := make([]Token, 0, len(tokens))
	depth := 0
	for _, tok := range tokens {
		if tok.Type == TokenSymbol {
			switch tok.Value {
			case "{":
				depth++
			case "}":
				depth--
			}
		}
		if tok.Type == TokenComment && depth > 0 {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func (p *Parser) current() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) peek(n int) Token {
	if p.pos+n >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos+n]
}

func (p *Parser) advance() Token {
	tok := p.current()
	if !p.isAtEnd() {
		p.pos++
	}
	return tok
}

func (p *Parser) isAtEnd() bool {
	return p.current().Type == TokenEOF
}

// check reports whether the current token is the keyword, operator or
// symbol value. Text and identifier tokens never match.
func (p *Parser) check(value string) bool {
	tok := p.current()
	switch tok.Type {
	case TokenKeyword, TokenOperator, TokenSymbol:
		return tok.Value == value
	}
	return false
}

func (p *Parser) match(value string) bool {
	if p.check(value) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(value, context string) (Token, error) {
	if !p.check(value) {
		return Token{}, p.errorf(p.current(), "expected '%s' %s, got %s", value, context, p.current())
	}
	return p.advance(), nil
}

func (p *Parser) expectIdent(what string) (Token, error) {
	tok := p.current()
	if tok.Type != TokenIdent {
		return Token{}, p.errorf(tok, "expected %s, got %s", what, tok)
	}
	return p.advance(), nil
}

// expectName accepts an identifier or a text literal
func (p *Parser) expectName(what string) (string, error) {
	tok := p.current()
	if tok.Type != TokenIdent && tok.Type != TokenText {
		return "", p.errorf(tok, "expected %s, got %s", what, tok)
	}
	p.advance()
	return tok.Value, nil
}

func (p *Parser) errorf(tok Token, format string, args ...any) error {
	return syntaxError(tok.Pos(), "UnexpectedToken", format, args...)
}

func (p *Parser) endStatement(context string) error {
	_, err := p.expect(";", "after "+context)
	return err
}

func (p *Parser) parseNamespace() (*NamespaceDecl, error) {
	start := p.advance()
	name, err := p.expectIdent("namespace name")
	if err != nil {
		return nil, err
	}
	body, err := p.parseBody("namespace " + name.Value)
	if err != nil {
		return nil, err
	}
	p.match(";")
	d := &NamespaceDecl{Name: name.Value, Body: body}
	d.At = start.Pos()
	return d, nil
}

func (p *Parser) parsePack() (*PackDecl, error) {
	start := p.advance()
	name, err := p.expectIdent("pack name")
	if err != nil {
		return nil, err
	}
	tags, err := p.parseTags()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBody("pack " + name.Value)
	if err != nil {
		return nil, err
	}
	p.match(";")
	d := &PackDecl{Name: name.Value, Tags: tags, Body: body}
	d.At = start.Pos()
	return d, nil
}

func (p *Parser) parseBody(context string) ([]Stmt, error) {
	if _, err := p.expect("{", "to open "+context); err != nil {
		return nil, err
	}
	stmts := make([]Stmt, 0)
	for !p.check("}") && !p.isAtEnd() {
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	if _, err := p.expect("}", "to close "+context); err != nil {
		return nil, err
	}
	return stmts, nil
}

func (p *Parser) parseBlock(context string) (*Block, error) {
	start := p.current()
	stmts, err := p.parseBody(context)
	if err != nil {
		return nil, err
	}
	b := &Block{Stmts: stmts}
	b.At = start.Pos()
	return b, nil
}

// parseTags reads an optional bracketed tag list such as [public async]
func (p *Parser) parseTags() ([]string, error) {
	if !p.match("[") {
		return nil, nil
	}
	tags := make([]string, 0)
	for !p.check("]") {
		tok := p.current()
		if tok.Type != TokenIdent && tok.Type != TokenKeyword {
			return nil, p.errorf(tok, "expected tag, got %s", tok)
		}
		p.advance()
		tags = append(tags, tok.Value)
		p.match(",")
	}
	p.advance()
	return tags, nil
}

func (p *Parser) parseOnError() (*ErrorHandler, error) {
	start := p.current()
	if !p.match("on_error") {
		return nil, nil
	}
	h := &ErrorHandler{}
	h.At = start.Pos()
	if p.match("(") {
		name, err := p.expectIdent("error parameter")
		if err != nil {
			return nil, err
		}
		h.Param = name.Value
		if _, err := p.expect(")", "after error parameter"); err != nil {
			return nil, err
		}
	}
	body, err := p.parseBlock("on_error body")
	if err != nil {
		return nil, err
	}
	h.Body = body
	return h, nil
}

func (p *Parser) parseStatement() (Stmt, error) {
	tok := p.current()

	if tok.Type == TokenKeyword {
		switch tok.Value {
		case "namespace":
			return p.parseNamespace()
		case "pack":
			return p.parsePack()
		case "var", "const":
			return p.parseVar()
		case "type":
			return p.parseTypeDecl()
		case "box", "entity":
			return p.parseBox()
		case "error":
			return p.parseErrorDecl()
		case "guard":
			return p.parseGuard()
		case "fn":
			return p.parseFunc()
		case "job":
			return p.parseJob()
		case "test":
			return p.parseTest()
		case "queue":
			return p.parseQueue()
		case "view":
			return p.parseView()
		case "grant", "revoke":
			return p.parseGrant()
		case "subscribe", "on_event":
			return p.parseSubscribe()
		case "use":
			return p.parseUse()
		case "doc":
			return p.parseDoc()
		case "say":
			return p.parseSay()
		case "return":
			return p.parseReturn()
		case "break":
			p.advance()
			s := &BreakStmt{}
			s.At = tok.Pos()
			return s, p.endStatement("break")
		case "continue":
			p.advance()
			s := &ContinueStmt{}
			s.At = tok.Pos()
			return s, p.endStatement("continue")
		case "assert":
			return p.parseAssert()
		case "emit":
			return p.parseEmit()
		case "keygen":
			return p.parseKeygen()
		case "socket":
			return p.parseSocket()
		case "if":
			return p.parseIf()
		case "loop":
			return p.parseLoop()
		case "while":
			return p.parseWhile()
		case "match":
			return p.parseMatch()
		case "try":
			return p.parseTry()
		}
	}

	return p.parseExpressionStatement()
}

func (p *Parser) parseExpressionStatement() (Stmt, error) {
	start := p.current()
	target, err := p.parseExpression()
	if err != nil {
		return nil, err
	}

	if !p.match("=") {
		if err := p.endStatement("expression"); err != nil {
			return nil, err
		}
		s := &ExprStmt{Expr: target}
		s.At = start.Pos()
		return s, nil
	}

	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.endStatement("assignment"); err != nil {
		return nil, err
	}

	var s Stmt
	switch t := target.(type) {
	case *Ident:
		a := &AssignStmt{Name: t.Name, Value: value}
		a.At = start.Pos()
		s = a
	case *MemberExpr:
		a := &SetMemberStmt{Object: t.Object, Field: t.Field, Value: value}
		a.At = start.Pos()
		s = a
	case *IndexExpr:
		a := &SetIndexStmt{Object: t.Object, Index: t.Index, Value: value}
		a.At = start.Pos()
		s = a
	default:
		return nil, p.errorf(start, "invalid assignment target")
	}
	return s, nil
}

func (p *Parser) parseVar() (*VarDecl, error) {
	start := p.advance()
	name, err := p.expectIdent("variable name")
	if err != nil {
		return nil, err
	}
	d := &VarDecl{Name: name.Value, Const: start.Value == "const"}
	d.At = start.Pos()

	if p.match(":") {
		if d.Type, err = p.parseType(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect("=", "in "+start.Value+" declaration"); err != nil {
		return nil, err
	}
	if d.Value, err = p.parseExpression(); err != nil {
		return nil, err
	}
	return d, p.endStatement(start.Value + " declaration")
}

func (p *Parser) parseTypeDecl() (*TypeDecl, error) {
	start := p.advance()
	name, err := p.expectIdent("type name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("=", "in type declaration"); err != nil {
		return nil, err
	}
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	d := &TypeDecl{Name: name.Value, Type: t}
	d.At = start.Pos()
	return d, p.endStatement("type declaration")
}

func (p *Parser) parseFields(context string) ([]FieldDecl, error) {
	if _, err := p.expect("{", "to open "+context); err != nil {
		return nil, err
	}
	fields := make([]FieldDecl, 0)
	for !p.check("}") && !p.isAtEnd() {
		name, err := p.expectIdent("field name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(":", "after field name"); err != nil {
			return nil, err
		}
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		f := FieldDecl{Name: name.Value, Type: t}
		if p.match("=") {
			if f.Default, err = p.parseExpression(); err != nil {
				return nil, err
			}
		}
		fields = append(fields, f)
		if !p.match(",") {
			p.match(";")
		}
	}
	if _, err := p.expect("}", "to close "+context); err != nil {
		return nil, err
	}
	return fields, nil
}

func (p *Parser) parseBox() (*BoxDecl, error) {
	start := p.advance()
	name, err := p.expectIdent(start.Value + " name")
	if err != nil {
		return nil, err
	}
	tags, err := p.parseTags()
	if err != nil {
		return nil, err
	}
	fields, err := p.parseFields(start.Value + " " + name.Value)
	if err != nil {
		return nil, err
	}
	p.match(";")

	d := &BoxDecl{Name: name.Value, Tags: tags, Fields: fields, Entity: start.Value == "entity"}
	d.At = start.Pos()
	if d.Entity {
		d.Policy = PolicyFixed
		for _, tag := range tags {
			switch tag {
			case PolicyFixed, PolicyShort, PolicyTracked:
				d.Policy = tag
			}
		}
	}
	return d, nil
}

func (p *Parser) parseErrorDecl() (*ErrorDecl, error) {
	start := p.advance()
	name, err := p.expectIdent("error name")
	if err != nil {
		return nil, err
	}
	d := &ErrorDecl{Name: name.Value}
	d.At = start.Pos()
	if p.check("{") {
		if d.Fields, err = p.parseFields("error " + name.Value); err != nil {
			return nil, err
		}
	}
	p.match(";")
	return d, nil
}

func (p *Parser) parseParams() ([]Param, error) {
	if _, err := p.expect("(", "to open parameter list"); err != nil {
		return nil, err
	}
	params := make([]Param, 0)
	for !p.check(")") {
		name, err := p.expectIdent("parameter name")
		if err != nil {
			return nil, err
		}
		param := Param{Name: name.Value}
		if p.match(":") {
			if param.Type, err = p.parseType(); err != nil {
				return nil, err
			}
		}
		params = append(params, param)
		if !p.match(",") {
			break
		}
	}
	if _, err := p.expect(")", "to close parameter list"); err != nil {
		return nil, err
	}
	return params, nil
}

func (p *Parser) parseGuard() (*GuardDecl, error) {
	start := p.advance()
	name, err := p.expectIdent("guard name")
	if err != nil {
		return nil, err
	}
	params, err := p.parseParams()
	if err != nil {
		return nil, err
	}
	if len(params) != 1 {
		return nil, p.errorf(start, "guard %s must take exactly one parameter", name.Value)
	}
	if _, err := p.expect("=>", "after guard parameter"); err != nil {
		return nil, err
	}
	body, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	d := &GuardDecl{Name: name.Value, Param: params[0], Body: body}
	d.At = start.Pos()
	return d, p.endStatement("guard declaration")
}

func (p *Parser) parseFunc() (*FuncDecl, error) {
	start := p.advance()
	name, err := p.expectIdent("function name")
	if err != nil {
		return nil, err
	}
	d := &FuncDecl{Name: name.Value}
	d.At = start.Pos()

	if d.Tags, err = p.parseTags(); err != nil {
		return nil, err
	}
	if d.Params, err = p.parseParams(); err != nil {
		return nil, err
	}
	if p.match("->") {
		if d.Returns, err = p.parseType(); err != nil {
			return nil, err
		}
	}
	if d.Body, err = p.parseBlock("function " + name.Value); err != nil {
		return nil, err
	}
	if d.OnError, err = p.parseOnError(); err != nil {
		return nil, err
	}
	p.match(";")
	return d, nil
}

var timeUnits = map[string]bool{
	"ms": true, "s": true, "sec": true, "seconds": true,
	"m": true, "min": true, "minutes": true, "h": true, "hours": true,
}

func (p *Parser) parseJob() (*JobDecl, error) {
	start := p.advance()
	name, err := p.expectIdent("job name")
	if err != nil {
		return nil, err
	}
	d := &JobDecl{Name: name.Value}
	d.At = start.Pos()

	if d.Tags, err = p.parseTags(); err != nil {
		return nil, err
	}
	if p.check("(") {
		if d.Params, err = p.parseParams(); err != nil {
			return nil, err
		}
	}
	if p.match("returns") {
		if d.Returns, err = p.parseType(); err != nil {
			return nil, err
		}
	}
	if p.match("when") {
		if d.When, err = p.parseClauseExpression(); err != nil {
			return nil, err
		}
		if tok := p.current(); tok.Type == TokenIdent && timeUnits[tok.Value] {
			d.WhenUnit = p.advance().Value
		}
	}
	if p.match("limit") {
		if d.Limit, err = p.parseClauseExpression(); err != nil {
			return nil, err
		}
	}
	if p.match("audit") {
		audit, err := p.expectIdent("audit hook name")
		if err != nil {
			return nil, err
		}
		d.Audit = audit.Value
	}
	if d.Body, err = p.parseBlock("job " + name.Value); err != nil {
		return nil, err
	}
	if d.OnError, err = p.parseOnError(); err != nil {
		return nil, err
	}
	p.match(";")
	return d, nil
}

func (p *Parser) parseTest() (*TestDecl, error) {
	start := p.advance()
	tok := p.current()
	if tok.Type != TokenText && tok.Type != TokenIdent {
		return nil, p.errorf(tok, "expected test name, got %s", tok)
	}
	p.advance()
	d := &TestDecl{Name: tok.Value}
	d.At = start.Pos()

	var err error
	if d.Tags, err = p.parseTags(); err != nil {
		return nil, err
	}
	if d.Body, err = p.parseBlock("test " + tok.Value); err != nil {
		return nil, err
	}
	p.match(";")
	return d, nil
}

func (p *Parser) parseQueue() (*QueueDecl, error) {
	start := p.advance()
	name, err := p.expectIdent("queue name")
	if err != nil {
		return nil, err
	}
	d := &QueueDecl{Name: name.Value}
	d.At = start.Pos()
	if d.Tags, err = p.parseTags(); err != nil {
		return nil, err
	}
	if p.match("of") {
		if d.Elem, err = p.parseType(); err != nil {
			return nil, err
		}
	} else {
		d.Elem = &SimpleType{Kind: KindAny}
	}
	return d, p.endStatement("queue declaration")
}

func (p *Parser) parseView() (*ViewDecl, error) {
	start := p.advance()
	name, err := p.expectIdent("view name")
	if err != nil {
		return nil, err
	}
	d := &ViewDecl{Name: name.Value}
	d.At = start.Pos()
	if d.Tags, err = p.parseTags(); err != nil {
		return nil, err
	}
	if _, err := p.expect("=", "in view declaration"); err != nil {
		return nil, err
	}
	if d.Body, err = p.parseExpression(); err != nil {
		return nil, err
	}
	return d, p.endStatement("view declaration")
}

func (p *Parser) parseGrant() (*GrantDecl, error) {
	start := p.advance()
	d := &GrantDecl{Revoke: start.Value == "revoke"}
	d.At = start.Pos()

	var err error
	if d.Subject, err = p.expectName("grant subject"); err != nil {
		return nil, err
	}
	if _, err := p.expect("->", "after "+start.Value+" subject"); err != nil {
		return nil, err
	}
	if d.Target, err = p.expectName("grant target"); err != nil {
		return nil, err
	}
	if d.Rights, err = p.parseTags(); err != nil {
		return nil, err
	}
	return d, p.endStatement(start.Value)
}

func (p *Parser) parseSubscribe() (*SubscribeDecl, error) {
	start := p.advance()
	topic, err := p.expectName("event topic")
	if err != nil {
		return nil, err
	}
	d := &SubscribeDecl{Topic: topic}
	d.At = start.Pos()

	if p.match("(") {
		if !p.check(")") {
			param, err := p.expectIdent("event parameter")
			if err != nil {
				return nil, err
			}
			d.Param = param.Value
		}
		if _, err := p.expect(")", "after event parameter"); err != nil {
			return nil, err
		}
	}
	if d.Body, err = p.parseBlock(start.Value + " " + topic); err != nil {
		return nil, err
	}
	p.match(";")
	return d, nil
}

func (p *Parser) parseUse() (*UseDecl, error) {
	start := p.advance()
	name, err := p.expectIdent("pack name")
	if err != nil {
		return nil, err
	}
	d := &UseDecl{Name: name.Value}
	d.At = start.Pos()
	return d, p.endStatement("use")
}

func (p *Parser) parseDoc() (*DocDecl, error) {
	start := p.advance()
	tok := p.current()
	if tok.Type != TokenText {
		return nil, p.errorf(tok, "expected doc text, got %s", tok)
	}
	p.advance()
	d := &DocDecl{Text: tok.Value}
	d.At = start.Pos()
	return d, p.endStatement("doc")
}

func (p *Parser) parseSay() (*SayStmt, error) {
	start := p.advance()
	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	s := &SayStmt{Value: value}
	s.At = start.Pos()
	return s, p.endStatement("say")
}

func (p *Parser) parseReturn() (*ReturnStmt, error) {
	start := p.advance()
	s := &ReturnStmt{}
	s.At = start.Pos()
	if !p.check(";") {
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		s.Value = value
	}
	return s, p.endStatement("return")
}

func (p *Parser) parseAssert() (*AssertStmt, error) {
	start := p.advance()
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	s := &AssertStmt{Cond: cond}
	s.At = start.Pos()
	if p.match(",") {
		if s.Message, err = p.parseExpression(); err != nil {
			return nil, err
		}
	}
	return s, p.endStatement("assert")
}

func (p *Parser) parseEmit() (*EmitStmt, error) {
	start := p.advance()
	topic, err := p.expectName("event topic")
	if err != nil {
		return nil, err
	}
	s := &EmitStmt{Topic: topic}
	s.At = start.Pos()
	if !p.check(";") {
		if s.Value, err = p.parseExpression(); err != nil {
			return nil, err
		}
	}
	return s, p.endStatement("emit")
}

func (p *Parser) parseKeygen() (*KeygenStmt, error) {
	start := p.advance()
	name, err := p.expectIdent("key name")
	if err != nil {
		return nil, err
	}
	s := &KeygenStmt{Name: name.Value}
	s.At = start.Pos()
	if p.match("from") {
		if s.From, err = p.parseExpression(); err != nil {
			return nil, err
		}
	}
	return s, p.endStatement("keygen")
}

func (p *Parser) parseSocket() (*SocketStmt, error) {
	start := p.advance()
	if _, err := p.expect("connect", "after 'socket'"); err != nil {
		return nil, err
	}
	url, err := p.parseClauseExpression()
	if err != nil {
		return nil, err
	}
	s := &SocketStmt{URL: url}
	s.At = start.Pos()

	if p.match("as") {
		name, err := p.expectIdent("socket name")
		if err != nil {
			return nil, err
		}
		s.Name = name.Value
	}
	if _, err := p.expect("on_message", "in socket statement"); err != nil {
		return nil, err
	}
	if p.match("(") {
		if !p.check(")") {
			param, err := p.expectIdent("message parameter")
			if err != nil {
				return nil, err
			}
			s.Param = param.Value
		}
		if _, err := p.expect(")", "after message parameter"); err != nil {
			return nil, err
		}
	}
	if s.Body, err = p.parseBlock("on_message body"); err != nil {
		return nil, err
	}
	p.match(";")
	return s, nil
}

func (p *Parser) parseIf() (*IfStmt, error) {
	start := p.advance()
	cond, err := p.parseClauseExpression()
	if err != nil {
		return nil, err
	}
	s := &IfStmt{Cond: cond}
	s.At = start.Pos()

	if s.Then, err = p.parseBlock("if body"); err != nil {
		return nil, err
	}

	if p.check("else") {
		elseTok := p.advance()
		if p.check("if") {
			nested, err := p.parseIf()
			if err != nil {
				return nil, err
			}
			s.Else = nested
		} else {
			block, err := p.parseBlock("else body")
			if err != nil {
				return nil, err
			}
			b := &BlockStmt{Body: block}
			b.At = elseTok.Pos()
			s.Else = b
		}
	}

	if s.OnError, err = p.parseOnError(); err != nil {
		return nil, err
	}
	p.match(";")
	return s, nil
}

func (p *Parser) parseLoop() (*LoopStmt, error) {
	start := p.advance()
	name, err := p.expectIdent("loop variable")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("in", "after loop variable"); err != nil {
		return nil, err
	}
	iter, err := p.parseClauseExpression()
	if err != nil {
		return nil, err
	}
	s := &LoopStmt{Var: name.Value, Iter: iter}
	s.At = start.Pos()
	if s.Body, err = p.parseBlock("loop body"); err != nil {
		return nil, err
	}
	if s.OnError, err = p.parseOnError(); err != nil {
		return nil, err
	}
	p.match(";")
	return s, nil
}

func (p *Parser) parseWhile() (*WhileStmt, error) {
	start := p.advance()
	cond, err := p.parseClauseExpression()
	if err != nil {
		return nil, err
	}
	s := &WhileStmt{Cond: cond}
	s.At = start.Pos()
	if s.Body, err = p.parseBlock("while body"); err != nil {
		return nil, err
	}
	if s.OnError, err = p.parseOnError(); err != nil {
		return nil, err
	}
	p.match(";")
	return s, nil
}

func (p *Parser) parseMatch() (*MatchStmt, error) {
	start := p.advance()
	subject, err := p.parseClauseExpression()
	if err != nil {
		return nil, err
	}
	s := &MatchStmt{Subject: subject}
	s.At = start.Pos()

	if _, err := p.expect("{", "to open match cases"); err != nil {
		return nil, err
	}
	for !p.check("}") && !p.isAtEnd() {
		c, err := p.parseMatchCase()
		if err != nil {
			return nil, err
		}
		s.Cases = append(s.Cases, c)
		for p.match(";") || p.match(",") {
		}
	}
	if _, err := p.expect("}", "to close match cases"); err != nil {
		return nil, err
	}

	if s.OnError, err = p.parseOnError(); err != nil {
		return nil, err
	}
	p.match(";")
	return s, nil
}

func (p *Parser) parseMatchCase() (*MatchCase, error) {
	start := p.current()
	pat, err := p.parsePattern()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("=>", "after match pattern"); err != nil {
		return nil, err
	}

	c := &MatchCase{Pattern: pat}
	c.At = start.Pos()
	if p.check("{") {
		c.Body, err = p.parseBlock("match case")
		return c, err
	}

	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	c.Body = &Block{Stmts: []Stmt{body}}
	c.Body.At = body.Pos()
	return c, nil
}

func (p *Parser) parsePattern() (Pattern, error) {
	start := p.current()

	switch {
	case p.match("pick"):
		if p.match("(") {
			gp := &GroupPattern{}
			gp.At = start.Pos()
			for !p.check(")") {
				name, err := p.expectIdent("binding name")
				if err != nil {
					return nil, err
				}
				gp.Names = append(gp.Names, name.Value)
				if !p.match(",") {
					break
				}
			}
			if _, err := p.expect(")", "to close group pattern"); err != nil {
				return nil, err
			}
			return gp, nil
		}

		name, err := p.expectIdent("binding name")
		if err != nil {
			return nil, err
		}
		if !p.check("{") {
			bp := &BindPattern{Name: name.Value}
			bp.At = start.Pos()
			return bp, nil
		}

		p.advance()
		rp := &RecordPattern{Type: name.Value}
		rp.At = start.Pos()
		for !p.check("}") {
			field, err := p.expectIdent("field name")
			if err != nil {
				return nil, err
			}
			binding := field.Value
			if p.match(":") {
				b, err := p.expectIdent("binding name")
				if err != nil {
					return nil, err
				}
				binding = b.Value
			}
			rp.Fields = append(rp.Fields, field.Value)
			rp.Names = append(rp.Names, binding)
			if !p.match(",") {
				break
			}
		}
		if _, err := p.expect("}", "to close record pattern"); err != nil {
			return nil, err
		}
		return rp, nil

	case p.match("case"):
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		tp := &TypePattern{Type: t}
		tp.At = start.Pos()
		if p.current().Type == TokenIdent {
			tp.Name = p.advance().Value
		}
		return tp, nil

	case p.match("is"):
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		vp := &ValuePattern{Value: value}
		vp.At = start.Pos()
		return vp, nil

	case p.match("else"):
		ep := &ElsePattern{}
		ep.At = start.Pos()
		return ep, nil
	}

	return nil, p.errorf(start, "expected match case, got %s", start)
}

func (p *Parser) parseTry() (*TryStmt, error) {
	start := p.advance()
	s := &TryStmt{}
	s.At = start.Pos()

	var err error
	if s.Body, err = p.parseBlock("try body"); err != nil {
		return nil, err
	}

	if catchTok := p.current(); p.match("catch") {
		c := &CatchClause{}
		c.At = catchTok.Pos()
		if p.match("(") {
			name, err := p.expectIdent("catch parameter")
			if err != nil {
				return nil, err
			}
			c.Param = name.Value
			if p.match(":") {
				p.match("error")
				errName, err := p.expectIdent("error name")
				if err != nil {
					return nil, err
				}
				c.ErrName = errName.Value
			}
			if _, err := p.expect(")", "after catch parameter"); err != nil {
				return nil, err
			}
		}
		if c.Body, err = p.parseBlock("catch body"); err != nil {
			return nil, err
		}
		s.Catch = c
	}

	if p.match("finally") {
		if s.Finally, err = p.parseBlock("finally body"); err != nil {
			return nil, err
		}
	}

	if s.Catch == nil && s.Finally == nil {
		return nil, p.errorf(p.current(), "expected 'catch' or 'finally' after try body, got %s", p.current())
	}

	if s.OnError, err = p.parseOnError(); err != nil {
		return nil, err
	}
	p.match(";")
	return s, nil
}
