// Package parser builds an AST from a token stream via recursive descent
// with precedence climbing for expressions, recovering at statement
// boundaries rather than aborting the whole parse on the first error.
package parser

import (
	"github.com/samber/lo"

	"crux/ast"
	"crux/diag"
	"crux/token"
)

// Parser maintains the token cursor, a parenthesis-depth counter, and the
// if-chain state (whether an if is open and which If node elif/else attach
// to); no extra state is threaded through recursive calls.
type Parser struct {
	toks       []token.Token
	pos        int
	parenDepth int
	reg        *diag.Registry
	ifStarted  bool
	lastIfNode *ast.Node
}

// New constructs a Parser over toks, registering diagnostics into reg.
func New(toks []token.Token, reg *diag.Registry) *Parser {
	return &Parser{toks: toks, reg: reg}
}

// stopParsing is raised to unwind to the top level when continued parsing
// would require speculative assumptions (e.g. the current token starts no
// known statement).
type stopParsing struct{}

func (p *Parser) abort() { panic(stopParsing{}) }

func (p *Parser) peek() token.Token {
	if p.pos >= len(p.toks) {
		return token.Token{Kind: token.EOF}
	}
	return p.toks[p.pos]
}

func (p *Parser) peekAt(n int) token.Token {
	if p.pos+n >= len(p.toks) {
		return token.Token{Kind: token.EOF}
	}
	return p.toks[p.pos+n]
}

func (p *Parser) advance() token.Token {
	t := p.peek()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *Parser) at(k token.Kind) bool { return p.peek().Kind == k }

func (p *Parser) match(kinds ...token.Kind) bool {
	for _, k := range kinds {
		if p.at(k) {
			return true
		}
	}
	return false
}

// expect consumes a token of kind k, registering MissingToken (for the
// named stmtType) and leaving the cursor in place if the current token
// does not match.
func (p *Parser) expect(k token.Kind, stmtType string) (token.Token, bool) {
	if p.at(k) {
		return p.advance(), true
	}
	cur := p.peek()
	p.reg.Register(cur.Line, cur.Column, diag.MissingToken, k.String(), stmtType)
	return token.Token{}, false
}

func (p *Parser) skipNewlines() {
	for p.at(token.NEWLINE) {
		p.advance()
	}
}

// ParseProgram parses the whole token stream into a Program node wrapping
// the single top-level "main" scope. Unrecoverable parser states unwind
// via stopParsing; the Program is then returned without its scope, so the
// statements parsed before the abort are not kept.
func (p *Parser) ParseProgram() (prog *ast.Node) {
	prog = ast.New(ast.Program, token.Token{})
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(stopParsing); !ok {
				panic(r)
			}
		}
	}()
	top := p.parseScope(0)
	prog.Children = append(prog.Children, top)
	return prog
}

// countIndents reports how many consecutive INDENT tokens begin at the
// current cursor position, without consuming them.
func (p *Parser) countIndents() int {
	n := 0
	for p.peekAt(n).Kind == token.INDENT {
		n++
	}
	return n
}

// parseScope parses the statement sequence at the given indentation depth,
// per spec.md 4.3's parse_scope algorithm.
func (p *Parser) parseScope(depth int) *ast.Node {
	scope := ast.New(ast.Scope, p.peek())
	for {
		p.skipNewlines()
		if p.at(token.EOF) {
			return scope
		}

		count := p.countIndents()
		if count > depth {
			cur := p.peekAt(depth)
			p.reg.Register(cur.Line, cur.Column, diag.MismatchingIndent, depth*4, count*4)
			for i := 0; i < depth; i++ {
				p.advance()
			}
			// Drain the surplus indentation as part of recovery so the
			// remaining statement is still parsed at this depth.
			for p.at(token.INDENT) {
				p.advance()
			}
		} else if count < depth {
			return scope
		} else {
			if count == 0 && depth > 0 && !p.at(token.INDENT) {
				return scope
			}
			for i := 0; i < count; i++ {
				p.advance()
			}
		}

		if p.at(token.EOF) {
			return scope
		}

		stmt := p.parseScopeStmt(depth)
		if stmt != nil {
			if stmt.Kind == ast.Program {
				// Multi-target-assignment carrier: flatten into N STORE
				// statements rather than keeping it as one scope child.
				scope.Children = append(scope.Children, stmt.Children...)
			} else {
				scope.Children = append(scope.Children, stmt)
			}
		}
	}
}

func (p *Parser) parseScopeStmt(depth int) *ast.Node {
	switch p.peek().Kind {
	case token.IF:
		return p.parseIf(depth)
	case token.ELIF:
		return p.parseElifOrElse(depth, true)
	case token.ELSE:
		return p.parseElifOrElse(depth, false)
	case token.WHILE:
		return p.parseWhile(depth)
	case token.CLASS:
		return p.parseClass(depth)
	case token.BREAK:
		tok := p.advance()
		p.skipToNewline()
		return ast.New(ast.Break, tok)
	case token.CONTINUE:
		tok := p.advance()
		p.skipToNewline()
		return ast.New(ast.Continue, tok)
	case token.NEWLINE, token.EOF:
		return nil
	default:
		return p.parseStatementLine()
	}
}

// skipToNewline recovers to the next statement boundary.
func (p *Parser) skipToNewline() {
	for !p.at(token.NEWLINE) && !p.at(token.EOF) {
		p.advance()
	}
}

func (p *Parser) parseIf(depth int) *ast.Node {
	tok := p.advance() // 'if'
	cond := p.parseExprTop()
	p.expect(token.COLON, "if")
	p.checkParenBalance()
	p.expect(token.NEWLINE, "if")
	body := p.requireNonEmptyScope(depth+1, "if")
	node := ast.New(ast.If, tok, cond, body)
	p.ifStarted = true
	p.lastIfNode = node
	return node
}

func (p *Parser) parseElifOrElse(depth int, isElif bool) *ast.Node {
	tok := p.advance()
	if !p.ifStarted || p.lastIfNode == nil {
		p.reg.Register(tok.Line, tok.Column, diag.IllegalIfConstruct, "no preceding if")
		// recovery: consume the malformed branch body as a dangling scope
		if isElif {
			p.parseExprTop()
		}
		p.expect(token.COLON, "elif/else")
		p.expect(token.NEWLINE, "elif/else")
		p.parseScope(depth + 1)
		return nil
	}
	var kind ast.Kind
	var cond *ast.Node
	if isElif {
		kind = ast.Elif
		cond = p.parseExprTop()
	} else {
		kind = ast.Else
	}
	p.expect(token.COLON, "elif/else")
	p.checkParenBalance()
	p.expect(token.NEWLINE, "elif/else")
	body := p.requireNonEmptyScope(depth+1, "elif/else")
	var branch *ast.Node
	if isElif {
		branch = ast.New(kind, tok, cond, body)
	} else {
		branch = ast.New(kind, tok, body)
		p.ifStarted = false
	}
	p.lastIfNode.Children = append(p.lastIfNode.Children, branch)
	return nil
}

func (p *Parser) parseWhile(depth int) *ast.Node {
	tok := p.advance()
	cond := p.parseExprTop()
	p.expect(token.COLON, "while")
	p.checkParenBalance()
	p.expect(token.NEWLINE, "while")
	body := p.requireNonEmptyScope(depth+1, "while")
	p.ifStarted = false
	return ast.New(ast.While, tok, cond, body)
}

func (p *Parser) requireNonEmptyScope(depth int, stmtType string) *ast.Node {
	scope := p.parseScope(depth)
	if len(scope.Children) == 0 {
		p.reg.Register(scope.Token.Line, scope.Token.Column, diag.EmptyScope, stmtType)
	}
	return scope
}

// parseClass parses a record declaration: `class Name:` followed by a
// nested scope of field declarations (`ident` or `ident: TypeName`).
func (p *Parser) parseClass(depth int) *ast.Node {
	tok := p.advance()
	nameTok, ok := p.expect(token.IDENT, "class")
	name := nameTok.Content
	if !ok {
		name = ""
	}
	p.expect(token.COLON, "class")
	p.expect(token.NEWLINE, "class")
	body := p.requireNonEmptyScope(depth+1, "class")
	p.ifStarted = false
	fields := make([]*ast.Node, 0, len(body.Children))
	for p.fieldsFromDanglingScope(body, &fields) {
		break
	}
	node := ast.NewValue(ast.Class, tok, name)
	node.Children = fields
	return node
}

// fieldsFromDanglingScope is a one-shot helper extracting class-body field
// declarations that were parsed as bare expression statements.
func (p *Parser) fieldsFromDanglingScope(body *ast.Node, out *[]*ast.Node) bool {
	for _, stmt := range body.Children {
		if stmt.Kind == ast.Expr && len(stmt.Children) > 0 {
			*out = append(*out, stmt.Children[0])
		} else {
			*out = append(*out, stmt)
		}
	}
	return true
}

// parseStatementLine parses an assignment (single or multi-target) or a
// bare single-term statement, terminated by NEWLINE.
func (p *Parser) parseStatementLine() *ast.Node {
	targets := []*ast.Node{p.parseTargetTerm()}
	for p.at(token.COMMA) {
		p.advance()
		targets = append(targets, p.parseTargetTerm())
	}

	compound, isCompound := token.PlainOp(p.peek().Kind)
	if p.at(token.ASSIGN) || isCompound {
		assignTok := p.peek()
		if isCompound && len(targets) > 1 {
			p.reg.Register(assignTok.Line, assignTok.Column, diag.IllegalDeclaration,
				"compound assignment is not allowed with multiple targets")
		}
		p.advance()

		exprs := []*ast.Node{p.parseExprTop()}
		for p.at(token.COMMA) {
			p.advance()
			exprs = append(exprs, p.parseExprTop())
		}
		p.checkParenBalance()
		p.expect(token.NEWLINE, "assignment")

		if len(exprs) != len(targets) {
			p.reg.Register(assignTok.Line, assignTok.Column, diag.IllegalDeclaration,
				"mismatched number of assignment targets and expressions")
		}

		wrapper := ast.New(ast.Program, assignTok)
		n := len(targets)
		if len(exprs) < n {
			n = len(exprs)
		}
		for i := 0; i < n; i++ {
			rhs := exprs[i]
			if isCompound {
				opLeaf := ast.NewValue(ast.OpKindForToken[compound], assignTok, compound.String())
				rhs = &ast.Node{Kind: ast.BinExpr, Token: assignTok, Children: []*ast.Node{targets[i], opLeaf, rhs}}
			}
			stmt := &ast.Node{Kind: ast.Stmt, Token: assignTok, Children: []*ast.Node{targets[i], rhs}}
			wrapper.Children = append(wrapper.Children, stmt)
		}
		if len(wrapper.Children) == 1 {
			return wrapper.Children[0]
		}
		// len > 1: returned as an ast.Program-kind carrier; parseScope
		// flattens its children into separate scope-level statements.
		return wrapper
	}

	// No assignment operator: a bare term statement (an identifier with an
	// optional `: TypeName`, as in class-body fields). Anything after the
	// term, such as operators or a call's arguments, is not parsed here and
	// is reported as a missing NEWLINE.
	p.checkParenBalance()
	p.expect(token.NEWLINE, "expression")
	return ast.New(ast.Expr, targets[0].Token, targets[0])
}

func (p *Parser) checkParenBalance() {
	if p.parenDepth > 0 {
		cur := p.peek()
		p.reg.Register(cur.Line, cur.Column, diag.MismatchParensLess)
		p.parenDepth = 0
	}
}

// parseTargetTerm parses an assignment-target term: an identifier,
// optionally annotated with `: TypeName`.
func (p *Parser) parseTargetTerm() *ast.Node {
	tok := p.peek()
	if !p.at(token.IDENT) {
		p.reg.Register(tok.Line, tok.Column, diag.MismatchToken, token.IDENT.String(), tok.Kind.String())
		p.advance()
		return ast.New(ast.Term, tok)
	}
	p.advance()
	ident := ast.NewValue(ast.Ident, tok, tok.Content)
	term := ast.New(ast.Term, tok, ident)
	if p.at(token.COLON) {
		p.advance()
		typeTok, ok := p.expect(token.IDENT, "declaration")
		if ok {
			term.Children = append(term.Children, ast.NewValue(ast.Ident, typeTok, typeTok.Content))
		}
	}
	return term
}

// --- expression parsing: precedence ladder, loosest to tightest ---

// parseExprTop parses one full expression and then absorbs any closing
// parenthesis left over with no matching open — mirroring the original
// parser's check after every right-operand parse, but run once per
// expression rather than duplicated into each precedence level.
func (p *Parser) parseExprTop() *ast.Node {
	expr := p.parseOr()
	p.consumeStrayRParens()
	return expr
}

// consumeStrayRParens reports and recovers from ')' tokens with no
// matching open paren in scope for the expression just parsed. It stops as
// soon as parenDepth is nonzero, so a ')' that still belongs to an
// enclosing group or call is left for that level's own expectRParen.
func (p *Parser) consumeStrayRParens() {
	for p.parenDepth == 0 && p.at(token.RPAREN) {
		tok := p.advance()
		p.reg.Register(tok.Line, tok.Column, diag.MismatchParensMore)
	}
}

func (p *Parser) binExpr(left *ast.Node, opKind token.Kind, opTok token.Token, right *ast.Node) *ast.Node {
	opLeaf := ast.NewValue(ast.OpKindForToken[opKind], opTok, opKind.String())
	return &ast.Node{Kind: ast.BinExpr, Token: opTok, Children: []*ast.Node{left, opLeaf, right}}
}

func (p *Parser) parseOr() *ast.Node {
	left := p.parseAnd()
	for p.at(token.OR) {
		tok := p.advance()
		right := p.parseAnd()
		left = p.binExpr(left, token.OR, tok, right)
	}
	return left
}

func (p *Parser) parseAnd() *ast.Node {
	left := p.parseNot()
	for p.at(token.AND) {
		tok := p.advance()
		right := p.parseNot()
		left = p.binExpr(left, token.AND, tok, right)
	}
	return left
}

func (p *Parser) parseNot() *ast.Node {
	if p.at(token.NOT) {
		tok := p.advance()
		operand := p.parseNot()
		opLeaf := ast.NewValue(ast.OpNot, tok, "not")
		return &ast.Node{Kind: ast.BinExpr, Token: tok, Children: []*ast.Node{opLeaf, operand}}
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() *ast.Node {
	left := p.parseBitOr()
	for p.match(token.EQEQ, token.NEQ, token.LT, token.LTE, token.GT, token.GTE) {
		opKind := p.peek().Kind
		tok := p.advance()
		right := p.parseBitOr()
		left = p.binExpr(left, opKind, tok, right)
	}
	return left
}

func (p *Parser) parseBitOr() *ast.Node {
	left := p.parseBitXor()
	for p.at(token.PIPE) {
		tok := p.advance()
		right := p.parseBitXor()
		left = p.binExpr(left, token.PIPE, tok, right)
	}
	return left
}

func (p *Parser) parseBitXor() *ast.Node {
	left := p.parseBitAnd()
	for p.at(token.CARET) {
		tok := p.advance()
		right := p.parseBitAnd()
		left = p.binExpr(left, token.CARET, tok, right)
	}
	return left
}

func (p *Parser) parseBitAnd() *ast.Node {
	left := p.parseShift()
	for p.at(token.AMP) {
		tok := p.advance()
		right := p.parseShift()
		left = p.binExpr(left, token.AMP, tok, right)
	}
	return left
}

func (p *Parser) parseShift() *ast.Node {
	left := p.parseAddSub()
	for p.match(token.SHL, token.SHR) {
		opKind := p.peek().Kind
		tok := p.advance()
		right := p.parseAddSub()
		left = p.binExpr(left, opKind, tok, right)
	}
	return left
}

func (p *Parser) parseAddSub() *ast.Node {
	left := p.parseMulDiv()
	for p.match(token.PLUS, token.MINUS) {
		opKind := p.peek().Kind
		tok := p.advance()
		right := p.parseMulDiv()
		left = p.binExpr(left, opKind, tok, right)
	}
	return left
}

func (p *Parser) parseMulDiv() *ast.Node {
	left := p.parseBitNot()
	for p.match(token.STAR, token.SLASH, token.SLASHSLASH, token.PERCENT) {
		opKind := p.peek().Kind
		tok := p.advance()
		right := p.parseBitNot()
		left = p.binExpr(left, opKind, tok, right)
	}
	return left
}

func (p *Parser) parseBitNot() *ast.Node {
	if p.at(token.TILDE) {
		tok := p.advance()
		operand := p.parseBitNot()
		opLeaf := ast.NewValue(ast.OpTilde, tok, "~")
		return &ast.Node{Kind: ast.BinExpr, Token: tok, Children: []*ast.Node{opLeaf, operand}}
	}
	return p.parsePow()
}

func (p *Parser) parsePow() *ast.Node {
	left := p.parseCallOrPrimary()
	for p.at(token.STARSTAR) {
		tok := p.advance()
		right := p.parseCallOrPrimary()
		left = p.binExpr(left, token.STARSTAR, tok, right)
	}
	return left
}

func (p *Parser) parseCallOrPrimary() *ast.Node {
	if p.at(token.LPAREN) {
		p.parenDepth++
		p.advance()
		inner := p.parseExprTop()
		p.expectRParen()
		return inner
	}

	term := p.parseTerm()
	if p.at(token.LPAREN) {
		return p.parseCall(term)
	}
	return term
}

// expectRParen closes the group or call whose open paren incremented
// parenDepth. A missing ')' here is left to checkParenBalance, which flags
// unclosed groups once the whole statement has been parsed; a stray extra
// ')' is handled separately by consumeStrayRParens.
func (p *Parser) expectRParen() {
	if !p.at(token.RPAREN) {
		return
	}
	p.advance()
	p.parenDepth--
}

func (p *Parser) parseTerm() *ast.Node {
	tok := p.peek()
	switch tok.Kind {
	case token.IDENT:
		p.advance()
		return ast.New(ast.Term, tok, ast.NewValue(ast.Ident, tok, tok.Content))
	case token.INT:
		p.advance()
		return ast.New(ast.Term, tok, ast.NewValue(ast.Value, tok, tok.Content))
	default:
		p.reg.Register(tok.Line, tok.Column, diag.MismatchToken, "identifier or number", tok.Kind.String())
		if p.at(token.NEWLINE) || p.at(token.EOF) {
			p.abort()
		}
		p.advance()
		return ast.New(ast.Term, tok)
	}
}

// parseCall parses `callee(args)`: comma-separated positional arguments
// must all precede any keyword (`name = expr`) arguments.
func (p *Parser) parseCall(callee *ast.Node) *ast.Node {
	lp := p.advance() // '('
	p.parenDepth++

	params := ast.New(ast.Params, lp)
	seenKeyword := false
	if !p.at(token.RPAREN) {
		for {
			arg, isKeyword := p.parseCallArg()
			if isKeyword {
				seenKeyword = true
			} else if seenKeyword {
				p.reg.Register(arg.Token.Line, arg.Token.Column, diag.CallableArgumentError)
			}
			params.Children = append(params.Children, arg)
			if !p.at(token.COMMA) {
				break
			}
			p.advance()
		}
	}
	p.expectRParen()

	kwNames := lo.FilterMap(params.Children, func(n *ast.Node, _ int) (string, bool) {
		if n.Kind == ast.Stmt {
			return n.Children[0].Children[0].Value, true
		}
		return "", false
	})
	if len(kwNames) != len(lo.Uniq(kwNames)) {
		p.reg.Register(lp.Line, lp.Column, diag.CallableArgumentError)
	}

	return ast.New(ast.Call, lp, callee, params)
}

func (p *Parser) parseCallArg() (*ast.Node, bool) {
	if p.at(token.IDENT) && p.peekAt(1).Kind == token.ASSIGN {
		nameTok := p.advance()
		p.advance() // '='
		val := p.parseExprTop()
		kw := ast.NewValue(ast.Ident, nameTok, nameTok.Content)
		node := &ast.Node{Kind: ast.Stmt, Token: nameTok, Children: []*ast.Node{ast.New(ast.Term, nameTok, kw), val}}
		return node, true
	}
	return p.parseExprTop(), false
}
