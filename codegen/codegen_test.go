package codegen_test

import (
	"strings"
	"testing"

	"crux/codegen"
	"crux/diag"
	"crux/ir"
	"crux/lexer"
	"crux/parser"
)

func compileToRep(t *testing.T, src string) *ir.Representation {
	t.Helper()
	reg := diag.New(src)
	toks := lexer.New(src, reg).Tokenize()
	prog := parser.New(toks, reg).ParseProgram()
	rep := ir.Build(prog, reg)
	if reg.IsBlocking() {
		t.Fatalf("unexpected diagnostics: %v", reg.Messages())
	}
	return rep
}

// assertInOrder checks that each needle appears in asm, each strictly
// after the previous needle's match position.
func assertInOrder(t *testing.T, asm string, needles ...string) {
	t.Helper()
	pos := 0
	for _, n := range needles {
		idx := strings.Index(asm[pos:], n)
		if idx < 0 {
			t.Fatalf("expected to find %q after position %d; full asm:\n%s", n, pos, asm)
		}
		pos += idx + len(n)
	}
}

func TestSimpleStoreAsm(t *testing.T) {
	rep := compileToRep(t, "x = 1\n")
	asm := codegen.Generate(rep, false)
	assertInOrder(t, asm, "push 1", "mov rax, 60", "mov rdi, 0", "syscall")
}

func TestArithmeticAsmUsesMulAndAdd(t *testing.T) {
	rep := compileToRep(t, "x = 1 + 2 * 3\n")
	asm := codegen.Generate(rep, false)
	if !strings.Contains(asm, "mul rbx") {
		t.Fatalf("expected a mul instruction, got:\n%s", asm)
	}
	if !strings.Contains(asm, "add ") {
		t.Fatalf("expected an add instruction, got:\n%s", asm)
	}
}

func TestMultiTargetAsmPushesBoth(t *testing.T) {
	rep := compileToRep(t, "x, y = 34 + 35, 190 + 230\n")
	asm := codegen.Generate(rep, false)
	if strings.Count(asm, "push ") < 2 {
		t.Fatalf("expected two pushes for two STOREs, got:\n%s", asm)
	}
}

func TestIfElifElseAsmHasJneAndJle(t *testing.T) {
	src := "x = 1\ny = 2\nif x == y:\n    x = 2\nelif x > y:\n    x -= y\nelse:\n    x += y\n"
	rep := compileToRep(t, src)
	asm := codegen.Generate(rep, false)
	assertInOrder(t, asm, "cmp rax,", "jne ", "jle ")
}

func TestWhileAsmHasBeginAndEndLabels(t *testing.T) {
	src := "x = 0\nwhile x < 10:\n    if x == 5:\n        break\n    x += 1\n"
	rep := compileToRep(t, src)
	asm := codegen.Generate(rep, false)
	if !strings.Contains(asm, "while_begin:") {
		t.Fatalf("expected a while_begin label, got:\n%s", asm)
	}
	if !strings.Contains(asm, "while_end:") {
		t.Fatalf("expected a while_end label, got:\n%s", asm)
	}
	if !strings.Contains(asm, "jmp ") {
		t.Fatalf("expected at least one jmp, got:\n%s", asm)
	}
}

func TestVariableReassignmentAvoidsMemToMemMov(t *testing.T) {
	rep := compileToRep(t, "x = 1\ny = 2\nx = y\n")
	asm := codegen.Generate(rep, false)
	for _, line := range strings.Split(asm, "\n") {
		if strings.Count(line, "QWORD [rsp") > 1 {
			t.Fatalf("illegal memory-to-memory mov: %q\nfull asm:\n%s", line, asm)
		}
	}
	if !strings.Contains(asm, "mov rax, QWORD [rsp") {
		t.Fatalf("expected the variable source to be staged through rax, got:\n%s", asm)
	}
}

func TestNestedRecordFieldStoresPointer(t *testing.T) {
	src := "class Point:\n    x: Int\n    y: Int\n\nclass Line:\n    a: Point\n    b: Point\n\np = Point(x=1, y=2)\nq = Point(x=3, y=4)\nl = Line(a=p, b=q)\n"
	rep := compileToRep(t, src)
	asm := codegen.Generate(rep, false)
	assertInOrder(t, asm, "push 1", "push 2", "push 3", "push 4", "mov rax, rsp", "push rax")
	for _, line := range strings.Split(asm, "\n") {
		if strings.Count(line, "QWORD [rsp") > 1 {
			t.Fatalf("illegal memory-to-memory mov: %q\nfull asm:\n%s", line, asm)
		}
	}
}

func TestDebugModeHeaderAndDump(t *testing.T) {
	rep := compileToRep(t, "x = 1\n")
	asm := codegen.Generate(rep, true)
	assertInOrder(t, asm, "extern printf", "extern exit", "global main", "main:",
		"call printf", "call exit", "formatString:")
}
