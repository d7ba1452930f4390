// Package ast defines the abstract syntax tree built by the parser and
// walked by the IR builder.
package ast

import "crux/token"

// Kind tags the syntactic category of a Node.
type Kind int

const (
	Program Kind = iota
	Scope
	Stmt
	If
	Elif
	Else
	While
	Break
	Continue
	Class
	Params
	Expr
	BinExpr
	Term
	Ident
	Value
	Call

	// operator leaves, one per CommandType-producing token
	OpPlus
	OpMinus
	OpStar
	OpSlash
	OpSlashSlash
	OpPercent
	OpStarStar
	OpAmp
	OpPipe
	OpCaret
	OpTilde
	OpShl
	OpShr
	OpEqEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
	OpNot
)

// Node is a single AST node. Ordered Children, an optional Value (for
// identifiers, literals, operator tags, record/field names) and a
// back-reference Token (for diagnostics) are all that's needed because
// dispatch is always on Kind, never on a runtime type switch over a
// concrete node type.
//
// Invariants (see spec):
//   - BinExpr has either [operand, operator, operand] (binary) or
//     [operator, operand] (unary).
//   - Stmt has exactly [target_term, expression].
//   - If holds [condition, body-scope, elif/else...].
type Node struct {
	Kind     Kind
	Children []*Node
	Value    string
	Token    token.Token
}

// New constructs a leaf or branch Node.
func New(kind Kind, tok token.Token, children ...*Node) *Node {
	return &Node{Kind: kind, Token: tok, Children: children}
}

// NewValue constructs a Node carrying a string Value (identifiers, number
// literals, operator/record/field names).
func NewValue(kind Kind, tok token.Token, value string) *Node {
	return &Node{Kind: kind, Token: tok, Value: value}
}

// OpKindForToken maps a binary/unary operator token Kind to its AST
// operator-leaf Kind.
var OpKindForToken = map[token.Kind]Kind{
	token.PLUS: OpPlus, token.MINUS: OpMinus, token.STAR: OpStar,
	token.SLASH: OpSlash, token.SLASHSLASH: OpSlashSlash, token.PERCENT: OpPercent,
	token.STARSTAR: OpStarStar,
	token.AMP:      OpAmp, token.PIPE: OpPipe, token.CARET: OpCaret, token.TILDE: OpTilde,
	token.SHL: OpShl, token.SHR: OpShr,
	token.EQEQ: OpEqEq, token.NEQ: OpNeq, token.LT: OpLt, token.LTE: OpLte,
	token.GT: OpGt, token.GTE: OpGte,
	token.AND: OpAnd, token.OR: OpOr, token.NOT: OpNot,
}
