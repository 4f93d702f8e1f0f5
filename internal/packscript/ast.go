package packscript

// Node is implemented by every AST node
type Node interface {
	Pos() Position
}

// Stmt is anything allowed inside a namespace, pack or block body.
// Declarations are statements too: bodies mix them freely.
type Stmt interface {
	Node
	stmtNode()
}

// Decl is a declaration; top-level declarations are namespaces, packs and comments
type Decl interface {
	Stmt
	declNode()
}

// Expr is an expression node
type Expr interface {
	Node
	exprNode()
}

// Pattern is the left-hand side of a match case
type Pattern interface {
	Node
	patternNode()
}

type node struct {
	At Position
}

func (n node) Pos() Position { return n.At }

type stmt struct{ node }

func (stmt) stmtNode() {}

type decl struct{ stmt }

func (decl) declNode() {}

type expr struct{ node }

func (expr) exprNode() {}

type pattern struct{ node }

func (pattern) patternNode() {}

// Program is the root of a parsed script
type Program struct {
	Decls []Decl
}

// Block is a braced sequence of statements
type Block struct {
	node
	Stmts []Stmt
}

// ErrorHandler is a trailing on_error clause
type ErrorHandler struct {
	node
	Param string
	Body  *Block
}

// Param is a function, job, guard or lambda parameter
type Param struct {
	Name string
	Type Type
}

// FieldDecl is a box, entity or error field
type FieldDecl struct {
	Name    string
	Type    Type
	Default Expr
}

type (
	NamespaceDecl struct {
		decl
		Name string
		Body []Stmt
	}

	PackDecl struct {
		decl
		Name string
		Tags []string
		Body []Stmt
	}

	CommentDecl struct {
		decl
		Text string
	}

	VarDecl struct {
		decl
		Name  string
		Type  Type
		Value Expr
		Const bool
	}

	TypeDecl struct {
		decl
		Name string
		Type Type
	}

	BoxDecl struct {
		decl
		Name   string
		Tags   []string
		Fields []FieldDecl
		Entity bool
		Policy string
	}

	ErrorDecl struct {
		decl
		Name   string
		Fields []FieldDecl
	}

	GuardDecl struct {
		decl
		Name  string
		Param Param
		Body  Expr
	}

	FuncDecl struct {
		decl
		Name    string
		Tags    []string
		Params  []Param
		Returns Type
		Body    *Block
		OnError *ErrorHandler
	}

	JobDecl struct {
		decl
		Name     string
		Tags     []string
		Params   []Param
		Returns  Type
		When     Expr
		WhenUnit string
		Limit    Expr
		Audit    string
		Body     *Block
		OnError  *ErrorHandler
	}

	TestDecl struct {
		decl
		Name string
		Tags []string
		Body *Block
	}

	QueueDecl struct {
		decl
		Name string
		Tags []string
		Elem Type
	}

	ViewDecl struct {
		decl
		Name string
		Tags []string
		Body Expr
	}

	GrantDecl struct {
		decl
		Subject string
		Target  string
		Rights  []string
		Revoke  bool
	}

	// SubscribeDecl covers both subscribe "topic" and on_event topic
	SubscribeDecl struct {
		decl
		Topic string
		Param string
		Body  *Block
	}

	UseDecl struct {
		decl
		Name string
	}

	DocDecl struct {
		decl
		Text string
	}
)

type (
	SayStmt struct {
		stmt
		Value Expr
	}

	AssignStmt struct {
		stmt
		Name  string
		Value Expr
	}

	SetMemberStmt struct {
		stmt
		Object Expr
		Field  string
		Value  Expr
	}

	SetIndexStmt struct {
		stmt
		Object Expr
		Index  Expr
		Value  Expr
	}

	ReturnStmt struct {
		stmt
		Value Expr
	}

	BreakStmt struct {
		stmt
	}

	ContinueStmt struct {
		stmt
	}

	AssertStmt struct {
		stmt
		Cond    Expr
		Message Expr
	}

	EmitStmt struct {
		stmt
		Topic string
		Value Expr
	}

	KeygenStmt struct {
		stmt
		Name string
		From Expr
	}

	SocketStmt struct {
		stmt
		URL   Expr
		Name  string
		Param string
		Body  *Block
	}

	IfStmt struct {
		stmt
		Cond    Expr
		Then    *Block
		Else    Stmt // *Block wrapped in *BlockStmt, or *IfStmt
		OnError *ErrorHandler
	}

	BlockStmt struct {
		stmt
		Body *Block
	}

	LoopStmt struct {
		stmt
		Var     string
		Iter    Expr
		Body    *Block
		OnError *ErrorHandler
	}

	WhileStmt struct {
		stmt
		Cond    Expr
		Body    *Block
		OnError *ErrorHandler
	}

	MatchStmt struct {
		stmt
		Subject Expr
		Cases   []*MatchCase
		OnError *ErrorHandler
	}

	TryStmt struct {
		stmt
		Body    *Block
		Catch   *CatchClause
		Finally *Block
		OnError *ErrorHandler
	}

	ExprStmt struct {
		stmt
		Expr Expr
	}
)

// MatchCase is one arm of a match statement
type MatchCase struct {
	node
	Pattern Pattern
	Body    *Block
}

// CatchClause binds the caught error; ErrName empty catches everything
type CatchClause struct {
	node
	Param   string
	ErrName string
	Body    *Block
}

type (
	// BindPattern: pick x
	BindPattern struct {
		pattern
		Name string
	}

	// GroupPattern: pick (a, b)
	GroupPattern struct {
		pattern
		Names []string
	}

	// RecordPattern: pick Name { field: x }
	RecordPattern struct {
		pattern
		Type   string
		Fields []string
		Names  []string
	}

	// TypePattern: case T x
	TypePattern struct {
		pattern
		Type Type
		Name string
	}

	// ValuePattern: is expr
	ValuePattern struct {
		pattern
		Value Expr
	}

	ElsePattern struct {
		pattern
	}
)

type (
	NumberLit struct {
		expr
		Value int64
	}

	DecimalLit struct {
		expr
		Value float64
	}

	TextLit struct {
		expr
		Value string
	}

	BoolLit struct {
		expr
		Value bool
	}

	NoneLit struct {
		expr
	}

	BytesLit struct {
		expr
		Value Bytes
	}

	Ident struct {
		expr
		Name string
	}

	BinaryExpr struct {
		expr
		Op    string
		Left  Expr
		Right Expr
	}

	UnaryExpr struct {
		expr
		Op      string
		Operand Expr
	}

	CallExpr struct {
		expr
		Callee Expr
		Args   []Expr
	}

	MemberExpr struct {
		expr
		Object Expr
		Field  string
	}

	IndexExpr struct {
		expr
		Object Expr
		Index  Expr
	}

	ListLit struct {
		expr
		Elems []Expr
	}

	DictLit struct {
		expr
		Keys   []Expr
		Values []Expr
	}

	RecordLit struct {
		expr
		Type   string
		Fields []string
		Values []Expr
	}

	GroupLit struct {
		expr
		Elems []Expr
	}

	LambdaExpr struct {
		expr
		Params []Param
		Uses   []string
		Body   *Block
		Result Expr
	}

	WaitExpr struct {
		expr
		Value Expr
		Await bool
	}

	ThrowExpr struct {
		expr
		Name    string
		Payload Expr
	}

	RecallExpr struct {
		expr
		Key Expr
	}

	HTTPGetExpr struct {
		expr
		URL     Expr
		Returns Type
	}

	VerifySigExpr struct {
		expr
		PublicKey Expr
		Message   Expr
		Signature Expr
	}
)
