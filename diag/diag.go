// Package diag implements the compiler's diagnostic registry: an
// accumulating list of error/warning messages with source-line context
// that gates code generation when a blocking (error) diagnostic occurs.
package diag

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Kind tags a diagnostic template. Severity is a property of the Kind, not
// of the call site — see severities below.
type Kind int

const (
	IllegalVariableName Kind = iota
	UnknownToken
	MismatchingIndent
	IllegalIfConstruct
	IllegalDeclaration
	MissingToken
	MismatchParensLess
	MismatchParensMore
	MismatchToken
	EmptyScope
	UnknownVariable
	CallableArgumentError
	DoesNotExist
	UnknownCallParameter
	BreakOutsideLoop
	ContinueOutsideLoop
	TestWarning
)

// Severity classifies a Kind as blocking (error) or advisory (warning).
type Severity int

const (
	Error Severity = iota
	Warning
)

var severities = map[Kind]Severity{
	IllegalVariableName:   Error,
	UnknownToken:          Error,
	MismatchingIndent:     Error,
	IllegalIfConstruct:    Error,
	IllegalDeclaration:    Error,
	MissingToken:          Error,
	MismatchParensLess:    Error,
	MismatchParensMore:    Error,
	MismatchToken:         Error,
	EmptyScope:            Error,
	UnknownVariable:       Error,
	CallableArgumentError: Error,
	DoesNotExist:          Error,
	UnknownCallParameter:  Error,
	BreakOutsideLoop:      Error,
	ContinueOutsideLoop:   Error,
	TestWarning:           Warning,
}

// templates are format strings keyed by Kind, filled in from Register's
// args at registration time ("{name}" placeholders, Python-`.format`-style
// in the original source; here simple Sprintf-style verbs filled in
// argument order).
var templates = map[Kind]string{
	IllegalVariableName:   "Variable name cannot start with digits",
	UnknownToken:          "Unknown token: '%s'",
	MismatchingIndent:     "Indentation mismatch, must be %d spaces, but got %d",
	IllegalIfConstruct:    "If-statement set up incorrectly: %s",
	IllegalDeclaration:    "Variable declaration set up incorrectly: %s",
	MissingToken:          "Missing '%s' for the %s statement",
	MismatchParensLess:    "Some parentheses are not closed",
	MismatchParensMore:    "Closing non-existing parentheses",
	MismatchToken:         "Expected %s here, but got %s",
	EmptyScope:            "Missing scope declarations for the %s statement",
	UnknownVariable:       "Variable %s used before assignment",
	CallableArgumentError: "Cannot mix positional and keyword arguments, first positional, then keyword",
	DoesNotExist:          "%s does not exist",
	UnknownCallParameter:  "Unknown call parameter by the name %s was supplied to %s",
	BreakOutsideLoop:      "'break' used outside of a loop",
	ContinueOutsideLoop:   "'continue' used outside of a loop",
	TestWarning:           "This is a test warning",
}

// Message is a single registered diagnostic.
type Message struct {
	Severity Severity
	Kind     Kind
	Line     int
	Column   int
	Text     string
	CodeLine string
}

func (m Message) String() string {
	sev := "ERROR"
	if m.Severity == Warning {
		sev = "WARNING"
	}
	return fmt.Sprintf("%s:\n\n    %s\n\n%s (line %d, col %d)", sev, m.CodeLine, m.Text, m.Line, m.Column)
}

// Registry accumulates diagnostics for a single compilation. It is
// constructed with the full source text so it can slice line context for
// each registered message.
type Registry struct {
	source      []string
	messages    []Message
	isBlocking  bool
}

// New constructs a Registry over the given source text.
func New(source string) *Registry {
	return &Registry{source: strings.Split(source, "\n")}
}

// Register formats the message template for kind with args (applied via
// fmt.Sprintf in template-argument order), captures the offending source
// line, appends the message, and sets the sticky IsBlocking flag if this
// is an error.
func (r *Registry) Register(line, column int, kind Kind, args ...interface{}) {
	tmpl, ok := templates[kind]
	if !ok {
		tmpl = "unknown diagnostic"
	}
	text := tmpl
	if len(args) > 0 {
		text = fmt.Sprintf(tmpl, args...)
	}
	codeLine := ""
	if line >= 1 && line <= len(r.source) {
		codeLine = r.source[line-1]
	}
	sev := severities[kind]
	if sev == Error {
		r.isBlocking = true
	}
	r.messages = append(r.messages, Message{
		Severity: sev,
		Kind:     kind,
		Line:     line,
		Column:   column,
		Text:     text,
		CodeLine: codeLine,
	})
	log.Debugf("diag: registered %v at %d:%d blocking=%v", kind, line, column, sev == Error)
}

// IsBlocking reports whether any registered diagnostic is blocking.
func (r *Registry) IsBlocking() bool { return r.isBlocking }

// Messages returns the accumulated diagnostics for machine consumption.
func (r *Registry) Messages() []Message { return r.messages }

// Display renders a human-readable concatenation of all diagnostics,
// preceded by a summary header.
func (r *Registry) Display() string {
	var b strings.Builder
	if r.isBlocking {
		b.WriteString("Compilation stopped due to several messages:\n\n")
	} else {
		b.WriteString("Compilation produced several messages:\n\n")
	}
	for _, m := range r.messages {
		b.WriteString(m.String())
		b.WriteString("\n\n")
	}
	return b.String()
}
