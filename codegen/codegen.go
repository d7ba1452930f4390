// Package codegen walks a Representation and emits NASM-syntax x86-64
// assembly, using a stack-based MemoryManager for locals and record
// fields.
package codegen

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"crux/ir"
)

// CodeGen walks a Representation in order, translating each Command to one
// or more NASM instructions.
type CodeGen struct {
	out   *strings.Builder
	rep   *ir.Representation
	mm    *MemoryManager
	debug bool
}

// Generate compiles rep into a complete NASM source text. debug selects
// the libc-linked, printf-dumping variant described in the header model.
func Generate(rep *ir.Representation, debug bool) string {
	g := &CodeGen{out: &strings.Builder{}, rep: rep, debug: debug}
	g.mm = NewMemoryManager(g.out)

	g.emitHeader()
	rep.Walk(func(step ir.Step) {
		for _, lbl := range step.Labels {
			g.printf("%s:\n", lbl.Name)
		}
		g.emitCommand(step.Command)
	})
	for _, lbl := range rep.TrailingLabels() {
		g.printf("%s:\n", lbl.Name)
	}
	g.emitFooter()

	return g.out.String()
}

func (g *CodeGen) printf(format string, args ...interface{}) { fmt.Fprintf(g.out, format, args...) }

func (g *CodeGen) emitHeader() {
	if g.debug {
		g.printf("section .text\n")
		g.printf("default rel\n")
		g.printf("extern printf\n")
		g.printf("extern exit\n")
		g.printf("global main\n")
		g.printf("main:\n")
		return
	}
	g.printf("section .text\n")
	g.printf("global _start\n")
	g.printf("_start:\n")
}

func (g *CodeGen) emitFooter() {
	if g.debug {
		g.emitDebugDump()
		g.printf("    call exit\n")
		g.printf("section .data\n")
		g.printf("formatString: db '%%llu', 10, 0\n")
		return
	}
	g.printf("    mov rax, 60\n")
	g.printf("    mov rdi, 0\n")
	g.printf("    syscall\n")
}

// emitDebugDump prints every currently live, non-pointer local via printf.
// It runs just before the outermost scope's DEESCALATE reclaims the locals,
// and again in the footer ahead of the call to exit().
func (g *CodeGen) emitDebugDump() {
	for _, r := range g.mm.Regions() {
		if r.IsPointer {
			continue
		}
		idx := g.mm.GetRegionIndex(r.Name)
		off := g.mm.CalculateRegionOffset(idx)
		g.printf("    lea rdi, [formatString]\n")
		if off == 0 {
			g.printf("    mov rsi, QWORD [rsp]\n")
		} else {
			g.printf("    mov rsi, QWORD [rsp+%d]\n", off)
		}
		g.printf("    mov rax, 0\n")
		g.printf("    call printf\n")
	}
}

func (g *CodeGen) resolveOperand(op ir.Operand) string {
	switch op.Kind {
	case ir.OperandLiteral:
		return op.Literal
	case ir.OperandRegister:
		return op.Register.X86Name()
	case ir.OperandVariable:
		return g.mm.OperandRef(op.Variable)
	case ir.OperandLabel:
		return g.rep.LabelByID(op.Label).Name
	default:
		return "0"
	}
}

var jumpMnemonic = map[ir.CommandType]string{
	ir.Jmp: "jmp", ir.Je: "je", ir.Jne: "jne", ir.Jz: "jz",
	ir.Jg: "jg", ir.Jge: "jge", ir.Jl: "jl", ir.Jle: "jle",
}

var arithMnemonic = map[ir.CommandType]string{
	ir.Sum: "add", ir.Sub: "sub",
	ir.BitAnd: "and", ir.BitOr: "or", ir.BitXor: "xor",
	ir.BitShl: "shl", ir.BitShr: "shr",
	ir.LAnd: "and", ir.LOr: "or",
}

var setccMnemonic = map[ir.CommandType]string{
	ir.Eq: "sete", ir.Neq: "setne", ir.Lt: "setl", ir.Lte: "setle", ir.Gt: "setg", ir.Gte: "setge",
}

func (g *CodeGen) emitCommand(cmd ir.Command) {
	switch cmd.Op {
	case ir.Store:
		g.emitStore(cmd)
	case ir.Sum, ir.Sub, ir.BitAnd, ir.BitOr, ir.BitXor, ir.BitShl, ir.BitShr, ir.LAnd, ir.LOr:
		g.emitArith(cmd)
	case ir.Mul, ir.Pov, ir.Div, ir.Floor, ir.Remain:
		g.emitMulDiv(cmd)
	case ir.Eq, ir.Neq, ir.Lt, ir.Lte, ir.Gt, ir.Gte:
		g.emitComparison(cmd)
	case ir.LNot:
		g.emitLogicalNot(cmd)
	case ir.BitNot:
		g.emitBitNot(cmd)
	case ir.Convert:
		g.emitConvert(cmd)
	case ir.Cmp:
		g.emitCmp(cmd)
	case ir.Jmp, ir.Je, ir.Jne, ir.Jz, ir.Jg, ir.Jge, ir.Jl, ir.Jle:
		g.printf("    %s %s\n", jumpMnemonic[cmd.Op], g.resolveOperand(cmd.A))
	case ir.Escalate:
		g.mm.Escalate()
	case ir.Deescalate:
		if g.debug && len(g.mm.bounds) == 1 {
			g.emitDebugDump()
		}
		g.mm.Deescalate()
	}
}

func (g *CodeGen) emitStore(cmd ir.Command) {
	name := cmd.Target.Variable
	if cmd.A.Kind == ir.OperandRecordLiteral {
		g.emitRecordStore(name, cmd.A.RecordLit)
		return
	}
	g.mm.StoreScalar(name, g.loadOperandSource(cmd.A))
}

// loadOperandSource resolves op to an asm operand usable as a StoreScalar
// source. Variable reads always resolve to a memory operand; staging them
// through rax first avoids ever asking `mov`/StoreScalar's overwrite path
// to encode a memory-to-memory move, which x86 rejects outright.
func (g *CodeGen) loadOperandSource(op ir.Operand) string {
	if op.Kind == ir.OperandVariable {
		g.printf("    mov rax, %s\n", g.resolveOperand(op))
		return "rax"
	}
	return g.resolveOperand(op)
}

// emitRecordStore lays out each scalar field of a record literal as its
// own slot, named "<var>.<field>" for later field-qualified lookup. A
// field whose declared type is itself a record is stored as a pointer to
// that nested record's base field instead of being flattened.
func (g *CodeGen) emitRecordStore(name string, rl *ir.RecordLiteral) {
	pairs := lo.Zip2(rl.Record.Fields, rl.Fields)
	for _, pair := range pairs {
		field, src := pair.Unpack()
		fieldName := fmt.Sprintf("%s.%s", name, field.Name)
		if field.Type.IsRecord() {
			g.emitNestedRecordField(fieldName, src)
			continue
		}
		g.mm.StoreScalar(fieldName, g.loadOperandSource(src))
	}
}

// emitNestedRecordField stores a pointer field: src must name a variable
// already laid out as "<src>.<firstField>..." sub-regions, so the pointer
// value is the address of src's first-declared field — the record's own
// base address.
func (g *CodeGen) emitNestedRecordField(fieldName string, src ir.Operand) {
	if src.Kind != ir.OperandVariable {
		g.mm.StorePointer(fieldName, 0, nil)
		return
	}
	children := g.mm.RecordFieldRegions(src.Variable)
	if len(children) == 0 {
		g.mm.StorePointer(fieldName, 0, nil)
		return
	}
	base := g.mm.GetRegionIndex(children[0].Name)
	g.mm.StorePointer(fieldName, g.mm.CalculateRegionOffset(base), children)
}

// emitArith handles the two-operand, directly-encodable ops: operand A is
// loaded into the target register (unless it already lives there), then
// the instruction applies operand B as the right-hand side. When B itself
// lives in the target register, A is loaded into the target's successor
// instead and the result is moved back, so B is not overwritten.
func (g *CodeGen) emitArith(cmd ir.Command) {
	target := cmd.Target.Register
	aStr := g.resolveOperand(cmd.A)
	aInTarget := cmd.A.Kind == ir.OperandRegister && cmd.A.Register == target
	if !aInTarget && cmd.B.Kind == ir.OperandRegister && cmd.B.Register == target {
		succ := target.Successor()
		g.printf("    mov %s, %s\n", succ.X86Name(), aStr)
		g.printf("    %s %s, %s\n", arithMnemonic[cmd.Op], succ.X86Name(), target.X86Name())
		g.printf("    mov %s, %s\n", target.X86Name(), succ.X86Name())
		return
	}
	if !aInTarget {
		g.printf("    mov %s, %s\n", target.X86Name(), aStr)
	}
	bStr := g.resolveOperand(cmd.B)
	g.printf("    %s %s, %s\n", arithMnemonic[cmd.Op], target.X86Name(), bStr)
}

// emitMulDiv uses the carried rax/rbx registers mul/div require.
func (g *CodeGen) emitMulDiv(cmd ir.Command) {
	target := cmd.Target.Register
	g.printf("    mov rax, %s\n", g.resolveOperand(cmd.A))
	g.printf("    mov rbx, %s\n", g.resolveOperand(cmd.B))
	switch cmd.Op {
	case ir.Mul, ir.Pov:
		// ** is recognized lexically and assigned a precedence but has no
		// distinct IR op behavior; it maps onto the same sequence as MUL.
		g.printf("    mul rbx\n")
		g.printf("    mov %s, rax\n", target.X86Name())
	case ir.Div, ir.Floor:
		g.printf("    xor rdx, rdx\n")
		g.printf("    div rbx\n")
		g.printf("    mov %s, rax\n", target.X86Name())
	case ir.Remain:
		g.printf("    xor rdx, rdx\n")
		g.printf("    div rbx\n")
		g.printf("    mov %s, rdx\n", target.X86Name())
	}
}

func (g *CodeGen) emitComparison(cmd ir.Command) {
	target := cmd.Target.Register
	g.printf("    mov rax, %s\n", g.resolveOperand(cmd.A))
	g.printf("    cmp rax, %s\n", g.resolveOperand(cmd.B))
	g.printf("    xor %s, %s\n", target.X86Name(), target.X86Name())
	g.printf("    %s %s\n", setccMnemonic[cmd.Op], target.Narrow(1).X86Name())
}

func (g *CodeGen) emitLogicalNot(cmd ir.Command) {
	target := cmd.Target.Register
	g.printf("    mov rax, %s\n", g.resolveOperand(cmd.A))
	g.printf("    cmp rax, 0\n")
	g.printf("    xor %s, %s\n", target.X86Name(), target.X86Name())
	g.printf("    sete %s\n", target.Narrow(1).X86Name())
}

func (g *CodeGen) emitBitNot(cmd ir.Command) {
	target := cmd.Target.Register
	g.printf("    mov %s, %s\n", target.X86Name(), g.resolveOperand(cmd.A))
	g.printf("    not %s\n", target.X86Name())
}

// emitConvert lowers CONVERT(x -> BOOL) as `cmp x, 0` + `setg`: a nonzero
// integer becomes 1.
func (g *CodeGen) emitConvert(cmd ir.Command) {
	target := cmd.Target.Register
	g.printf("    mov rax, %s\n", g.resolveOperand(cmd.A))
	g.printf("    cmp rax, 0\n")
	g.printf("    xor %s, %s\n", target.X86Name(), target.X86Name())
	g.printf("    setg %s\n", target.Narrow(1).X86Name())
}

func (g *CodeGen) emitCmp(cmd ir.Command) {
	g.printf("    mov rax, %s\n", g.resolveOperand(cmd.A))
	g.printf("    cmp rax, %s\n", g.resolveOperand(cmd.B))
}
