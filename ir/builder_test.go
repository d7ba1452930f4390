package ir_test

import (
	"testing"

	"crux/diag"
	"crux/ir"
	"crux/lexer"
	"crux/parser"
)

func build(t *testing.T, src string) (*ir.Representation, *diag.Registry) {
	t.Helper()
	reg := diag.New(src)
	toks := lexer.New(src, reg).Tokenize()
	prog := parser.New(toks, reg).ParseProgram()
	rep := ir.Build(prog, reg)
	return rep, reg
}

func TestSimpleStoreLowersToOneStoreCommand(t *testing.T) {
	rep, reg := build(t, "x = 1\n")
	if reg.IsBlocking() {
		t.Fatalf("unexpected diagnostics: %v", reg.Messages())
	}
	var stores int
	for _, cmd := range rep.Commands {
		if cmd.Op == ir.Store {
			stores++
			if cmd.A.Kind != ir.OperandLiteral || cmd.A.Literal != "1" {
				t.Fatalf("expected literal 1 source, got %#v", cmd.A)
			}
		}
	}
	if stores != 1 {
		t.Fatalf("expected exactly one STORE, got %d", stores)
	}
}

func TestArithmeticPrecedenceUsesRegisterReuse(t *testing.T) {
	rep, reg := build(t, "x = 1 + 2 * 3 - 4 * 5\n")
	if reg.IsBlocking() {
		t.Fatalf("unexpected diagnostics: %v", reg.Messages())
	}
	var muls, sums, subs int
	for _, cmd := range rep.Commands {
		switch cmd.Op {
		case ir.Mul:
			muls++
		case ir.Sum:
			sums++
		case ir.Sub:
			subs++
		}
	}
	if muls != 2 || sums != 1 || subs != 1 {
		t.Fatalf("expected 2 MUL, 1 SUM, 1 SUB, got muls=%d sums=%d subs=%d", muls, sums, subs)
	}
	for _, cmd := range rep.Commands {
		if cmd.Op == ir.Sub && (cmd.A.Kind != ir.OperandRegister || cmd.Target.Register != cmd.A.Register) {
			t.Fatalf("expected SUB to reuse its left operand's register as target, got %#v", cmd)
		}
	}
}

func TestMultiTargetAssignmentEmitsTwoStores(t *testing.T) {
	rep, reg := build(t, "x, y = 34 + 35, 190 + 230\n")
	if reg.IsBlocking() {
		t.Fatalf("unexpected diagnostics: %v", reg.Messages())
	}
	var stores []ir.Command
	for _, cmd := range rep.Commands {
		if cmd.Op == ir.Store {
			stores = append(stores, cmd)
		}
	}
	if len(stores) != 2 {
		t.Fatalf("expected two STOREs, got %d", len(stores))
	}
	if stores[0].Target.Variable != "x" || stores[1].Target.Variable != "y" {
		t.Fatalf("expected STOREs in source order x then y, got %v then %v",
			stores[0].Target.Variable, stores[1].Target.Variable)
	}
}

func TestVariableUsedBeforeDeclarationIsBlocking(t *testing.T) {
	_, reg := build(t, "x = y + 1\n")
	if !reg.IsBlocking() {
		t.Fatalf("expected a blocking UNKNOWN_VARIABLE diagnostic")
	}
}

func TestIfElifElseEmitsNegatedJumps(t *testing.T) {
	src := "x = 1\ny = 2\nif x == y:\n    x = 2\nelif x > y:\n    x -= y\nelse:\n    x += y\n"
	rep, reg := build(t, src)
	if reg.IsBlocking() {
		t.Fatalf("unexpected diagnostics: %v", reg.Messages())
	}
	var jumps []ir.CommandType
	for _, cmd := range rep.Commands {
		switch cmd.Op {
		case ir.Jne, ir.Jle, ir.Jmp:
			jumps = append(jumps, cmd.Op)
		}
	}
	// Eq (==) negates to Jne (skip to elif); Gt (>) negates to Jle (skip to
	// else); each non-final branch falls through to an unconditional Jmp
	// to if_end.
	want := []ir.CommandType{ir.Jne, ir.Jmp, ir.Jle, ir.Jmp}
	if len(jumps) != len(want) {
		t.Fatalf("expected jumps %v, got %v", want, jumps)
	}
	for i := range want {
		if jumps[i] != want[i] {
			t.Fatalf("at %d: expected %v, got %v (full: %v)", i, want[i], jumps[i], jumps)
		}
	}
}

func TestWhileWithBreak(t *testing.T) {
	src := "x = 0\nwhile x < 10:\n    if x == 5:\n        break\n    x += 1\n"
	rep, reg := build(t, src)
	if reg.IsBlocking() {
		t.Fatalf("unexpected diagnostics: %v", reg.Messages())
	}
	var jmps int
	for _, cmd := range rep.Commands {
		if cmd.Op == ir.Jmp {
			jmps++
		}
	}
	// one JMP from 'break' to while_end, one unconditional JMP at loop tail
	// back to while_begin.
	if jmps != 2 {
		t.Fatalf("expected 2 unconditional JMPs (break + loop tail), got %d", jmps)
	}
}

func TestBreakOutsideLoopIsBlocking(t *testing.T) {
	_, reg := build(t, "break\n")
	if !reg.IsBlocking() {
		t.Fatalf("expected BREAK_OUTSIDE_LOOP diagnostic")
	}
}

func TestEscalateDeescalateBalance(t *testing.T) {
	src := "x = 1\nif x == 1:\n    y = 2\n"
	rep, reg := build(t, src)
	if reg.IsBlocking() {
		t.Fatalf("unexpected diagnostics: %v", reg.Messages())
	}
	var escalate, deescalate int
	for _, cmd := range rep.Commands {
		switch cmd.Op {
		case ir.Escalate:
			escalate++
		case ir.Deescalate:
			deescalate++
		}
	}
	if escalate != deescalate {
		t.Fatalf("unbalanced ESCALATE(%d)/DEESCALATE(%d)", escalate, deescalate)
	}
}

func TestLabelCompactionLeavesNoDuplicatePositions(t *testing.T) {
	src := "x = 1\nif x == 1:\n    y = 2\nelse:\n    y = 3\n"
	rep, reg := build(t, src)
	if reg.IsBlocking() {
		t.Fatalf("unexpected diagnostics: %v", reg.Messages())
	}
	seen := map[int]bool{}
	for _, lbl := range rep.Labels {
		if seen[lbl.Position] {
			t.Fatalf("duplicate label position %d after compaction", lbl.Position)
		}
		seen[lbl.Position] = true
	}
}

func TestRecordLiteralFieldCountMatchesDeclaration(t *testing.T) {
	src := "class Point:\n    x\n    y\np = Point(1, 2)\n"
	rep, reg := build(t, src)
	if reg.IsBlocking() {
		t.Fatalf("unexpected diagnostics: %v", reg.Messages())
	}
	for _, cmd := range rep.Commands {
		if cmd.Op == ir.Store && cmd.A.Kind == ir.OperandRecordLiteral {
			if len(cmd.A.RecordLit.Fields) != 2 {
				t.Fatalf("expected 2 field sources, got %d", len(cmd.A.RecordLit.Fields))
			}
			return
		}
	}
	t.Fatalf("expected a RecordLiteral STORE")
}
