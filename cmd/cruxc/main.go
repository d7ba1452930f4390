// Command cruxc is the CLI front end: it reads a source file, invokes the
// compiler core, and on success writes the assembly and drives nasm/ld.
// Argument parsing is hand-rolled (no flag library), matching how small,
// single-purpose compiler front ends in this codebase have always done it.
package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"crux/compiler"
	"crux/diag"
	"crux/ir"
	"crux/lexer"
	"crux/parser"
)

type options struct {
	src      string
	dst      string
	debug    bool
	dumpAST  bool
	dumpIR   bool
	verbose  bool
}

func parseArgs(args []string) (options, error) {
	var opts options
	var positional []string
	for _, a := range args {
		switch a {
		case "-d", "--debug":
			opts.debug = true
		case "-dump-ast":
			opts.dumpAST = true
		case "-dump-ir":
			opts.dumpIR = true
		case "-v", "--verbose":
			opts.verbose = true
		default:
			positional = append(positional, a)
		}
	}
	if len(positional) != 2 {
		return opts, errors.Errorf("usage: cruxc <src> <dst> [-d|--debug] [-dump-ast] [-dump-ir]")
	}
	opts.src = positional[0]
	opts.dst = positional[1]
	return opts, nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}

	if opts.verbose {
		log.SetLevel(log.DebugLevel)
	}

	srcBytes, err := os.ReadFile(opts.src)
	if err != nil {
		return errors.Wrapf(err, "reading %s", opts.src)
	}
	src := string(srcBytes)

	if opts.dumpAST || opts.dumpIR {
		dumpIntermediates(src, opts)
		return nil
	}

	result := compiler.Compile(src, opts.debug)
	if result.Failed() {
		fmt.Print(result.Diagnostics.Display())
		return errors.New("compilation failed")
	}

	asmPath := opts.dst + ".asm"
	if err := os.WriteFile(asmPath, []byte(result.Assembly), 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", asmPath)
	}

	objPath := opts.dst + ".o"
	if out, err := exec.Command("nasm", "-felf64", asmPath, "-o", objPath).CombinedOutput(); err != nil {
		return errors.Wrapf(err, "nasm failed: %s", out)
	}

	ldArgs := []string{"-o", opts.dst, objPath}
	if opts.debug {
		ldArgs = append(ldArgs, "-lc", "--dynamic-linker", "/lib64/ld-linux-x86-64.so.2")
	}
	if out, err := exec.Command("ld", ldArgs...).CombinedOutput(); err != nil {
		return errors.Wrapf(err, "ld failed: %s", out)
	}

	return nil
}

// dumpIntermediates re-runs the front half of the pipeline standalone so
// -dump-ast/-dump-ir can print structures that compiler.Compile discards
// once it has produced a Result.
func dumpIntermediates(src string, opts options) {
	reg := diag.New(src)
	toks := lexer.New(src, reg).Tokenize()
	prog := parser.New(toks, reg).ParseProgram()
	if opts.dumpAST {
		fmt.Fprintln(os.Stderr, "-- AST --")
		spew.Fdump(os.Stderr, prog)
	}
	if opts.dumpIR {
		rep := ir.Build(prog, reg)
		fmt.Fprintln(os.Stderr, "-- IR --")
		spew.Fdump(os.Stderr, rep.Commands)
	}
}
