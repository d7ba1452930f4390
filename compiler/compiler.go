// Package compiler wires the Lexer, Parser, IRBuilder, and CodeGen stages
// into a single entry point, short-circuiting to the diagnostic bundle
// when a blocking diagnostic occurs anywhere upstream of code generation.
package compiler

import (
	log "github.com/sirupsen/logrus"

	"crux/codegen"
	"crux/diag"
	"crux/ir"
	"crux/lexer"
	"crux/parser"
)

// Result is the outcome of a single compilation: either Assembly is
// populated (success) or Diagnostics holds a blocking bundle.
type Result struct {
	Assembly    string
	Diagnostics *diag.Registry
}

// Failed reports whether compilation stopped short of code generation.
func (r Result) Failed() bool { return r.Diagnostics.IsBlocking() }

// Compile runs the full pipeline over src. debug selects the printf-dump
// codegen variant. The returned Registry always carries every diagnostic
// raised during lexing, parsing, and IR building, whether or not
// compilation ultimately succeeded.
func Compile(src string, debug bool) Result {
	reg := diag.New(src)

	log.Debugf("compiler: lexing %d bytes", len(src))
	toks := lexer.New(src, reg).Tokenize()

	log.Debugf("compiler: parsing %d tokens", len(toks))
	prog := parser.New(toks, reg).ParseProgram()

	log.Debugf("compiler: lowering to IR")
	rep := ir.Build(prog, reg)

	if reg.IsBlocking() {
		log.Debugf("compiler: blocking diagnostics present, skipping codegen")
		return Result{Diagnostics: reg}
	}

	log.Debugf("compiler: generating assembly (debug=%v)", debug)
	asm := codegen.Generate(rep, debug)
	return Result{Assembly: asm, Diagnostics: reg}
}
