// Package ir lowers an AST into linear three-address code: pseudo-registers,
// labels, scoped variables, and user-defined record types.
package ir

import "fmt"

// Register is a pseudo-register: an abstract identifier allocated by the
// IRBuilder and mapped to a real x86-64 register (or sub-register) only at
// codegen time.
type Register struct {
	Order int
	Size  int // 1, 2, 4, or 8 bytes
}

// maxOrder returns the highest legal Order for a register of the given size.
func maxOrder(size int) int {
	switch size {
	case 8:
		return 15
	case 4:
		return 7
	default:
		return 3
	}
}

// Valid reports whether r's Order is in range for its Size.
func (r Register) Valid() bool { return r.Order >= 0 && r.Order <= maxOrder(r.Size) }

// Successor returns the companion register codegen allocates for the other
// operand of a binary op (e.g. r8's successor is r9).
func (r Register) Successor() Register { return Register{Order: r.Order + 1, Size: r.Size} }

// Narrow returns the same logical register narrowed to a smaller width.
func (r Register) Narrow(size int) Register { return Register{Order: r.Order, Size: size} }

var names8 = [16]string{
	"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "rsp", "rbp",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}
var names4 = [8]string{"eax", "ebx", "ecx", "edx", "esi", "edi", "esp", "ebp"}
var names2 = [4]string{"ax", "bx", "cx", "dx"}
var names1 = [4]string{"al", "bl", "cl", "dl"}

// X86Name returns the NASM operand name for r under the deterministic
// pseudo-register mapping in the spec.
func (r Register) X86Name() string {
	switch r.Size {
	case 8:
		if r.Order >= 0 && r.Order < len(names8) {
			return names8[r.Order]
		}
	case 4:
		if r.Order >= 0 && r.Order < len(names4) {
			return names4[r.Order]
		}
	case 2:
		if r.Order >= 0 && r.Order < len(names2) {
			return names2[r.Order]
		}
	case 1:
		if r.Order >= 0 && r.Order < len(names1) {
			return names1[r.Order]
		}
	}
	return fmt.Sprintf("<invalid r%d/%d>", r.Order, r.Size)
}

func (r Register) String() string { return r.X86Name() }
