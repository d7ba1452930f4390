package lexer_test

import (
	"testing"

	"crux/diag"
	"crux/lexer"
	"crux/token"
)

func kinds(toks []token.Token) []token.Kind {
	ks := make([]token.Kind, len(toks))
	for i, t := range toks {
		ks[i] = t.Kind
	}
	return ks
}

func eqKinds(t *testing.T, got, want []token.Kind) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("at %d: got %v, want %v (full got=%v want=%v)", i, got[i], want[i], got, want)
		}
	}
}

func TestSimpleAssignment(t *testing.T) {
	reg := diag.New("x = 1")
	toks := lexer.New("x = 1", reg).Tokenize()
	eqKinds(t, kinds(toks), []token.Kind{token.IDENT, token.ASSIGN, token.INT, token.NEWLINE, token.EOF})
	if reg.IsBlocking() {
		t.Fatalf("unexpected blocking diagnostics: %v", reg.Messages())
	}
}

func TestCompoundAssignAndMaximalMunch(t *testing.T) {
	src := "x += 1\ny //= 2\nz **= 3\n"
	toks := lexer.New(src, diag.New(src)).Tokenize()
	want := []token.Kind{
		token.IDENT, token.PLUSEQ, token.INT, token.NEWLINE,
		token.IDENT, token.SLASHSLASHEQ, token.INT, token.NEWLINE,
		token.IDENT, token.STARSTAREQ, token.INT, token.NEWLINE,
		token.EOF,
	}
	eqKinds(t, kinds(toks), want)
}

func TestShiftOperators(t *testing.T) {
	src := "x = 1 << 2\ny = 3 >> 1\n"
	toks := lexer.New(src, diag.New(src)).Tokenize()
	want := []token.Kind{
		token.IDENT, token.ASSIGN, token.INT, token.SHL, token.INT, token.NEWLINE,
		token.IDENT, token.ASSIGN, token.INT, token.SHR, token.INT, token.NEWLINE,
		token.EOF,
	}
	eqKinds(t, kinds(toks), want)
}

func TestIllegalVariableName(t *testing.T) {
	src := "1x = 2\n"
	reg := diag.New(src)
	toks := lexer.New(src, reg).Tokenize()
	if !reg.IsBlocking() {
		t.Fatalf("expected a blocking ILLEGAL_VARIABLE_NAME diagnostic")
	}
	// lexing continues past the illegal name
	want := []token.Kind{token.INT, token.ASSIGN, token.INT, token.NEWLINE, token.EOF}
	eqKinds(t, kinds(toks), want)
}

func TestIndentation(t *testing.T) {
	src := "if x:\n    y = 1\n"
	toks := lexer.New(src, diag.New(src)).Tokenize()
	want := []token.Kind{
		token.IF, token.IDENT, token.COLON, token.NEWLINE,
		token.INDENT, token.IDENT, token.ASSIGN, token.INT, token.NEWLINE,
		token.EOF,
	}
	eqKinds(t, kinds(toks), want)
}

func TestWhitespaceOnlyFileLexesToTrailingNewline(t *testing.T) {
	src := "   \n\n  \n"
	toks := lexer.New(src, diag.New(src)).Tokenize()
	if len(toks) != 2 || toks[len(toks)-1].Kind != token.EOF {
		t.Fatalf("expected a trailing NEWLINE then EOF, got %v", kinds(toks))
	}
}

func TestUnknownTokenContinues(t *testing.T) {
	src := "x = 1 @ 2\n"
	reg := diag.New(src)
	toks := lexer.New(src, reg).Tokenize()
	if !reg.IsBlocking() {
		t.Fatalf("expected blocking UNKNOWN_TOKEN diagnostic")
	}
	want := []token.Kind{token.IDENT, token.ASSIGN, token.INT, token.INT, token.NEWLINE, token.EOF}
	eqKinds(t, kinds(toks), want)
}
