package ir

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"crux/ast"
	"crux/diag"
)

// loopCtx is the begin/end label pair a break/continue inside a while
// resolves against.
type loopCtx struct {
	begin LabelID
	end   LabelID
}

// Builder walks an AST and emits a linear Representation. Its state is a
// scope cursor, a pseudo-register counter reset to 8 after each statement,
// the set of registers known to hold a BOOL, a counter used to number
// if-labels, and a loop-label stack for break/continue.
type Builder struct {
	reg  *diag.Registry
	rep  *Representation

	curScope   int
	nextReg    int
	regBool    map[int]bool // registers (by Order) known to hold a BOOL result
	ifDepth    int
	whileDepth int
	loopStack  []loopCtx
}

// Build lowers prog (an ast.Program node) into a Representation named
// "main", the outermost block.
func Build(prog *ast.Node, reg *diag.Registry) *Representation {
	b := &Builder{reg: reg, rep: New("main"), nextReg: 8, regBool: map[int]bool{}}
	root := b.rep.PushScope("main", prog.Token.Line, -1)
	b.curScope = root

	for _, child := range prog.Children {
		b.emit(Command{Op: Escalate})
		for _, stmt := range child.Children {
			b.lowerStmt(stmt)
		}
		b.emit(Command{Op: Deescalate})
	}

	b.rep.CompactLabels()
	return b.rep
}

func (b *Builder) emit(cmd Command) { b.rep.Emit(b.curScope, cmd) }

func (b *Builder) lookupVar(name string) *Variable {
	idx := b.curScope
	for idx != -1 {
		s := b.rep.Scopes[idx]
		if v, ok := s.Local(name); ok {
			return v
		}
		idx = s.Parent
	}
	return nil
}

func (b *Builder) declareVar(name string, vt VarType) {
	b.rep.Scopes[b.curScope].Declare(&Variable{Name: name, VarType: vt})
}

// lowerScope pushes a child Scope, brackets its statements with
// ESCALATE/DEESCALATE, and restores the parent scope on return.
func (b *Builder) lowerScope(scopeNode *ast.Node) {
	parent := b.curScope
	idx := b.rep.PushScope(fmt.Sprintf("%s_scope_%d", b.rep.BlockName, len(b.rep.Scopes)), scopeNode.Token.Line, parent)
	b.curScope = idx
	b.emit(Command{Op: Escalate})
	for _, stmt := range scopeNode.Children {
		b.lowerStmt(stmt)
	}
	b.emit(Command{Op: Deescalate})
	b.curScope = parent
}

func (b *Builder) lowerStmt(node *ast.Node) {
	switch node.Kind {
	case ast.Stmt:
		b.lowerAssignStmt(node)
	case ast.If:
		b.lowerIf(node)
	case ast.While:
		b.lowerWhile(node)
	case ast.Break:
		b.lowerBreak(node)
	case ast.Continue:
		b.lowerContinue(node)
	case ast.Class:
		b.lowerClass(node)
	case ast.Expr:
		if len(node.Children) > 0 {
			b.regBool = map[int]bool{}
			b.lowerExpr(node.Children[0])
			b.nextReg = 8
		}
	}
}

// --- assignment ---

func (b *Builder) lowerAssignStmt(node *ast.Node) {
	targetTerm := node.Children[0]
	exprNode := node.Children[1]
	if len(targetTerm.Children) == 0 {
		return
	}
	name := targetTerm.Children[0].Value

	switch {
	case exprNode.Kind == ast.BinExpr:
		b.regBool = map[int]bool{}
		resultOp := b.lowerExpr(exprNode)
		b.nextReg = 8
		vt := VarType{Scalar: Int}
		if b.operandIsBool(resultOp) {
			vt = VarType{Scalar: Bool}
		}
		b.declareVar(name, vt)
		b.emit(Command{Op: Store, Target: VariableOperand(name), A: resultOp, Node: node})

	case exprNode.Kind == ast.Call:
		b.lowerRecordAssignment(name, exprNode, node)

	default: // bare literal or identifier
		srcOp := b.lowerTerm(exprNode)
		vt := VarType{Scalar: Int}
		if srcOp.Kind == OperandVariable {
			if v := b.lookupVar(srcOp.Variable); v != nil {
				vt = v.VarType
			}
		}
		b.declareVar(name, vt)
		b.emit(Command{Op: Store, Target: VariableOperand(name), A: srcOp, Node: node})
	}
}

// lowerRecordAssignment resolves callNode as a record constructor call and
// emits a single STORE of a RecordLiteral.
func (b *Builder) lowerRecordAssignment(name string, callNode, stmtNode *ast.Node) {
	calleeTerm := callNode.Children[0]
	paramsNode := callNode.Children[1]
	if len(calleeTerm.Children) == 0 || calleeTerm.Children[0].Kind != ast.Ident {
		return
	}
	recName := calleeTerm.Children[0].Value
	rec, ok := b.rep.Records[recName]
	if !ok {
		b.reg.Register(calleeTerm.Token.Line, calleeTerm.Token.Column, diag.DoesNotExist, recName)
		return
	}

	fields := make([]Operand, len(rec.Fields))
	filled := make([]bool, len(rec.Fields))
	posIdx := 0
	for _, arg := range paramsNode.Children {
		if arg.Kind == ast.Stmt {
			argName := arg.Children[0].Children[0].Value
			idx := rec.FieldOrder(argName)
			if idx < 0 {
				b.reg.Register(arg.Token.Line, arg.Token.Column, diag.UnknownCallParameter, argName, recName)
				continue
			}
			b.regBool = map[int]bool{}
			fields[idx] = b.lowerExpr(arg.Children[1])
			b.nextReg = 8
			filled[idx] = true
			continue
		}
		if posIdx >= len(rec.Fields) {
			b.reg.Register(arg.Token.Line, arg.Token.Column, diag.IllegalDeclaration,
				fmt.Sprintf("too many positional arguments for record %s", recName))
			posIdx++
			continue
		}
		b.regBool = map[int]bool{}
		fields[posIdx] = b.lowerExpr(arg)
		b.nextReg = 8
		filled[posIdx] = true
		posIdx++
	}
	missing := lo.FilterMap(rec.Fields, func(f RecordField, i int) (string, bool) {
		return f.Name, !filled[i]
	})
	if len(missing) > 0 {
		b.reg.Register(stmtNode.Token.Line, stmtNode.Token.Column, diag.IllegalDeclaration,
			fmt.Sprintf("missing field(s) %s in %s literal", strings.Join(missing, ", "), recName))
		for i, ok := range filled {
			if !ok {
				fields[i] = LiteralOperand("0")
			}
		}
	}

	for i, f := range rec.Fields {
		srcRecord := ""
		if fields[i].Kind == OperandVariable {
			if v := b.lookupVar(fields[i].Variable); v != nil {
				srcRecord = v.VarType.Record
			}
		}
		if filled[i] && srcRecord != f.Type.Record {
			b.reg.Register(stmtNode.Token.Line, stmtNode.Token.Column, diag.IllegalDeclaration,
				fmt.Sprintf("field %s of %s expects %s", f.Name, recName, f.Type))
		}
	}

	rl := &RecordLiteral{Record: rec, Fields: fields}
	b.declareVar(name, VarType{Record: recName})
	b.emit(Command{Op: Store, Target: VariableOperand(name), A: RecordLiteralOperand(rl), Node: stmtNode})
}

// --- expressions ---

var cmdTypeForOp = map[ast.Kind]CommandType{
	ast.OpPlus: Sum, ast.OpMinus: Sub, ast.OpStar: Mul, ast.OpSlash: Div,
	ast.OpSlashSlash: Floor, ast.OpPercent: Remain, ast.OpStarStar: Pov,
	ast.OpAmp: BitAnd, ast.OpPipe: BitOr, ast.OpCaret: BitXor, ast.OpTilde: BitNot,
	ast.OpShl: BitShl, ast.OpShr: BitShr,
	ast.OpEqEq: Eq, ast.OpNeq: Neq, ast.OpLt: Lt, ast.OpLte: Lte, ast.OpGt: Gt, ast.OpGte: Gte,
	ast.OpAnd: LAnd, ast.OpOr: LOr, ast.OpNot: LNot,
}

func isComparisonOp(k ast.Kind) bool {
	switch k {
	case ast.OpEqEq, ast.OpNeq, ast.OpLt, ast.OpLte, ast.OpGt, ast.OpGte:
		return true
	}
	return false
}

func isComplex(n *ast.Node) bool { return n.Kind == ast.BinExpr }

func (b *Builder) lowerExpr(node *ast.Node) Operand {
	switch node.Kind {
	case ast.Term:
		return b.lowerTerm(node)
	case ast.BinExpr:
		if len(node.Children) == 2 {
			return b.lowerUnary(node)
		}
		return b.lowerBinary(node)
	default:
		return LiteralOperand("0")
	}
}

func (b *Builder) lowerTerm(node *ast.Node) Operand {
	if len(node.Children) == 0 {
		return LiteralOperand("0")
	}
	leaf := node.Children[0]
	switch leaf.Kind {
	case ast.Ident:
		if v := b.lookupVar(leaf.Value); v != nil {
			return VariableOperand(leaf.Value)
		}
		b.reg.Register(leaf.Token.Line, leaf.Token.Column, diag.UnknownVariable, leaf.Value)
		return LiteralOperand("0")
	case ast.Value:
		return LiteralOperand(leaf.Value)
	default:
		return LiteralOperand("0")
	}
}

func (b *Builder) operandIsBool(op Operand) bool {
	switch op.Kind {
	case OperandRegister:
		return b.regBool[op.Register.Order]
	case OperandVariable:
		if v := b.lookupVar(op.Variable); v != nil {
			return v.VarType.Scalar == Bool
		}
	}
	return false
}

// coerceBool emits CONVERT(op -> (op > 0)) unless op is already known BOOL.
func (b *Builder) coerceBool(op Operand) Operand {
	if b.operandIsBool(op) {
		return op
	}
	target := RegisterOperand(Register{Order: b.nextReg, Size: 8})
	b.nextReg++
	b.emit(Command{Op: Convert, Target: target, A: op})
	b.regBool[target.Register.Order] = true
	return target
}

func (b *Builder) lowerBinary(node *ast.Node) Operand {
	lhsNode, opLeaf, rhsNode := node.Children[0], node.Children[1], node.Children[2]
	lhsComplex := isComplex(lhsNode)
	rhsComplex := isComplex(rhsNode)

	var aOp, bOp Operand
	if lhsComplex {
		aOp = b.lowerExpr(lhsNode)
	} else {
		aOp = b.lowerTerm(lhsNode)
	}
	if rhsComplex {
		bOp = b.lowerExpr(rhsNode)
	} else {
		bOp = b.lowerTerm(rhsNode)
	}

	opKind := opLeaf.Kind
	if opKind == ast.OpAnd || opKind == ast.OpOr {
		aOp = b.coerceBool(aOp)
		bOp = b.coerceBool(bOp)
	}

	var target Operand
	switch {
	case lhsComplex && rhsComplex:
		target = aOp
		b.nextReg--
	case lhsComplex:
		target = aOp
	case rhsComplex:
		target = bOp
	default:
		target = RegisterOperand(Register{Order: b.nextReg, Size: 8})
		b.nextReg++
	}

	b.emit(Command{Op: cmdTypeForOp[opKind], Target: target, A: aOp, B: bOp, Node: node})
	if target.Kind == OperandRegister && (isComparisonOp(opKind) || opKind == ast.OpAnd || opKind == ast.OpOr) {
		b.regBool[target.Register.Order] = true
	}
	return target
}

func (b *Builder) lowerUnary(node *ast.Node) Operand {
	opLeaf, operandNode := node.Children[0], node.Children[1]
	complex := isComplex(operandNode)

	var aOp Operand
	if complex {
		aOp = b.lowerExpr(operandNode)
	} else {
		aOp = b.lowerTerm(operandNode)
	}
	if opLeaf.Kind == ast.OpNot {
		aOp = b.coerceBool(aOp)
	}

	var target Operand
	if complex {
		target = aOp
	} else {
		target = RegisterOperand(Register{Order: b.nextReg, Size: 8})
		b.nextReg++
	}

	b.emit(Command{Op: cmdTypeForOp[opLeaf.Kind], Target: target, A: aOp, Node: node})
	if opLeaf.Kind == ast.OpNot && target.Kind == OperandRegister {
		b.regBool[target.Register.Order] = true
	}
	return target
}

// --- conditions (if/elif/while) ---

// directComparison reports whether node is itself a top-level comparison,
// letting the caller fold the comparison and the branch/loop check into a
// single CMP rather than computing a separate BOOL result first.
func directComparison(node *ast.Node) (ast.Kind, *ast.Node, *ast.Node, bool) {
	if node.Kind != ast.BinExpr || len(node.Children) != 3 {
		return 0, nil, nil, false
	}
	opKind := node.Children[1].Kind
	if !isComparisonOp(opKind) {
		return 0, nil, nil, false
	}
	return opKind, node.Children[0], node.Children[2], true
}

func (b *Builder) lowerOperand(node *ast.Node) Operand {
	if isComplex(node) {
		return b.lowerExpr(node)
	}
	return b.lowerTerm(node)
}

// emitCondition emits the CMP and negated conditional jump to target that
// skips a branch/loop body whose condition evaluated false.
func (b *Builder) emitCondition(condNode *ast.Node, target LabelID) {
	b.regBool = map[int]bool{}
	if opKind, lhsNode, rhsNode, ok := directComparison(condNode); ok {
		lhsOp := b.lowerOperand(lhsNode)
		rhsOp := b.lowerOperand(rhsNode)
		b.nextReg = 8
		jump, _ := NegatedJump(cmdTypeForOp[opKind])
		b.emit(Command{Op: Cmp, A: lhsOp, B: rhsOp, Node: condNode})
		b.emit(Command{Op: jump, A: LabelOperand(target), Node: condNode})
		return
	}

	valOp := b.lowerExpr(condNode)
	b.nextReg = 8
	cmpRHS, jump := LiteralOperand("0"), Je
	if b.operandIsBool(valOp) {
		cmpRHS, jump = LiteralOperand("1"), Jne
	}
	b.emit(Command{Op: Cmp, A: valOp, B: cmpRHS, Node: condNode})
	b.emit(Command{Op: jump, A: LabelOperand(target), Node: condNode})
}

// --- if/elif/else ---

type ifBranch struct {
	kind ast.Kind
	cond *ast.Node
	body *ast.Node
}

func (b *Builder) lowerIf(node *ast.Node) {
	depth := b.ifDepth
	b.ifDepth++

	branches := []ifBranch{{ast.If, node.Children[0], node.Children[1]}}
	for _, br := range node.Children[2:] {
		if br.Kind == ast.Elif {
			branches = append(branches, ifBranch{ast.Elif, br.Children[0], br.Children[1]})
		} else {
			branches = append(branches, ifBranch{ast.Else, nil, br.Children[0]})
		}
	}

	ifLabel := b.rep.NewLabel(fmt.Sprintf("%s_if_%d", b.rep.BlockName, depth))
	b.rep.PlaceLabel(ifLabel)

	endLabel := b.rep.NewLabel(fmt.Sprintf("%s_if_end_%d", b.rep.BlockName, depth))
	nextLabels := make([]LabelID, len(branches))
	for i := 1; i < len(branches); i++ {
		base := fmt.Sprintf("%s_elif_%d", b.rep.BlockName, depth)
		nextLabels[i] = b.rep.NewLabel(base)
	}

	for i, br := range branches {
		target := endLabel
		if i+1 < len(branches) {
			target = nextLabels[i+1]
		}
		if br.kind != ast.Else {
			b.emitCondition(br.cond, target)
		}
		b.lowerScope(br.body)
		if i != len(branches)-1 {
			b.emit(Command{Op: Jmp, A: LabelOperand(endLabel)})
		}
		if i+1 < len(branches) {
			b.rep.PlaceLabel(nextLabels[i+1])
		}
	}
	b.rep.PlaceLabel(endLabel)
}

// --- while / break / continue ---

func (b *Builder) lowerWhile(node *ast.Node) {
	beginLabel := b.rep.NewLabel(fmt.Sprintf("%s_while_begin", b.rep.BlockName))
	endLabel := b.rep.NewLabel(fmt.Sprintf("%s_while_end", b.rep.BlockName))

	b.loopStack = append(b.loopStack, loopCtx{begin: beginLabel, end: endLabel})
	b.rep.PlaceLabel(beginLabel)
	b.emitCondition(node.Children[0], endLabel)
	b.lowerScope(node.Children[1])
	b.emit(Command{Op: Jmp, A: LabelOperand(beginLabel)})
	b.rep.PlaceLabel(endLabel)
	b.loopStack = b.loopStack[:len(b.loopStack)-1]
}

func (b *Builder) lowerBreak(node *ast.Node) {
	if len(b.loopStack) == 0 {
		b.reg.Register(node.Token.Line, node.Token.Column, diag.BreakOutsideLoop)
		return
	}
	top := b.loopStack[len(b.loopStack)-1]
	b.emit(Command{Op: Jmp, A: LabelOperand(top.end)})
}

func (b *Builder) lowerContinue(node *ast.Node) {
	if len(b.loopStack) == 0 {
		b.reg.Register(node.Token.Line, node.Token.Column, diag.ContinueOutsideLoop)
		return
	}
	top := b.loopStack[len(b.loopStack)-1]
	b.emit(Command{Op: Jmp, A: LabelOperand(top.begin)})
}

// --- class / record declarations ---

func (b *Builder) lowerClass(node *ast.Node) {
	rec := &Record{Name: node.Value}
	for _, f := range node.Children {
		if len(f.Children) == 0 {
			continue
		}
		fname := f.Children[0].Value
		ftype := VarType{Scalar: Int}
		if len(f.Children) > 1 {
			typeName := f.Children[1].Value
			switch {
			case typeName == "Int" || typeName == "INT":
				ftype = VarType{Scalar: Int}
			case typeName == "Bool" || typeName == "BOOL":
				ftype = VarType{Scalar: Bool}
			default:
				if nested, ok := b.rep.Records[typeName]; ok {
					ftype = VarType{Record: nested.Name}
				} else {
					b.reg.Register(f.Token.Line, f.Token.Column, diag.DoesNotExist, typeName)
				}
			}
		}
		rec.Fields = append(rec.Fields, RecordField{Name: fname, Type: ftype})
	}
	b.rep.Records[rec.Name] = rec
}
