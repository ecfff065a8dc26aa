package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"ffibind/internal/model"
)

// Phase indicates which generator pass produced an error
type Phase string

const (
	PhaseParse   Phase = "parse"   // header text to symbol table
	PhaseResolve Phase = "resolve" // symbol table to type graph
	PhaseLayout  Phase = "layout"  // size, alignment and offsets
	PhaseEmit    Phase = "emit"    // type graph to target source
	PhaseWrite   Phase = "write"   // generated files to disk
)

// Phased is implemented by every error in this package.
type Phased interface {
	error
	Phase() Phase
}

// PhaseOf returns the phase of the first Phased error in err's chain, or the
// empty phase when there is none.
func PhaseOf(err error) Phase {
	var p Phased
	if stderrors.As(err, &p) {
		return p.Phase()
	}
	return ""
}

// ParseError reports malformed or unsupported syntax.
type ParseError struct {
	Location model.Location
	Message  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", PhaseParse, e.Location, e.Message)
}

func (e *ParseError) Phase() Phase { return PhaseParse }

// Parsef creates a ParseError at loc.
func Parsef(loc model.Location, format string, args ...any) *ParseError {
	return &ParseError{Location: loc, Message: fmt.Sprintf(format, args...)}
}

// Ref is one dangling type reference.
type Ref struct {
	Name     string
	From     string // symbol containing the reference
	Location model.Location
}

// UnresolvedSymbolError lists every reference of a unit that names a type
// that is never declared.
type UnresolvedSymbolError struct {
	Unit string
	Refs []Ref
}

func (e *UnresolvedSymbolError) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(PhaseResolve))
	b.WriteString("] ")
	b.WriteString(e.Unit)
	fmt.Fprintf(&b, ": %d unresolved reference", len(e.Refs))
	if len(e.Refs) != 1 {
		b.WriteString("s")
	}
	for i, r := range e.Refs {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(r.Name)
		if r.From != "" {
			b.WriteString(" (in ")
			b.WriteString(r.From)
			b.WriteString(")")
		}
	}
	return b.String()
}

func (e *UnresolvedSymbolError) Phase() Phase { return PhaseResolve }

// Names returns the distinct unresolved names in sorted order.
func (e *UnresolvedSymbolError) Names() []string {
	seen := make(map[string]bool, len(e.Refs))
	var names []string
	for _, r := range e.Refs {
		if !seen[r.Name] {
			seen[r.Name] = true
			names = append(names, r.Name)
		}
	}
	sort.Strings(names)
	return names
}

// ResolveError reports a symbol whose types cannot be ordered, such as a
// struct that contains itself by value.
type ResolveError struct {
	Symbol string
	Detail string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", PhaseResolve, e.Symbol, e.Detail)
}

func (e *ResolveError) Phase() Phase { return PhaseResolve }

// LayoutError reports a type whose size or alignment cannot be determined.
type LayoutError struct {
	Platform string
	Symbol   string
	Field    string
	Detail   string
}

func (e *LayoutError) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(PhaseLayout))
	b.WriteString("] ")
	if e.Platform != "" {
		b.WriteString(e.Platform)
		b.WriteString(": ")
	}
	b.WriteString(e.Symbol)
	if e.Field != "" {
		b.WriteString(".")
		b.WriteString(e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Detail)
	return b.String()
}

func (e *LayoutError) Phase() Phase { return PhaseLayout }

// EmitError reports a symbol the target language cannot represent.
type EmitError struct {
	Symbol string
	Detail string
}

func (e *EmitError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", PhaseEmit, e.Symbol, e.Detail)
}

func (e *EmitError) Phase() Phase { return PhaseEmit }

// Emitf creates an EmitError for symbol.
func Emitf(symbol, format string, args ...any) *EmitError {
	return &EmitError{Symbol: symbol, Detail: fmt.Sprintf(format, args...)}
}

// EmitSummary collects the per-symbol failures of one emission run.
type EmitSummary struct {
	Unit     string
	Failures []*EmitError
}

func (e *EmitSummary) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %d symbol(s) could not be emitted", PhaseEmit, e.Unit, len(e.Failures))
	for _, f := range e.Failures {
		b.WriteString("\n  ")
		b.WriteString(f.Symbol)
		b.WriteString(": ")
		b.WriteString(f.Detail)
	}
	return b.String()
}

func (e *EmitSummary) Phase() Phase { return PhaseEmit }

// Unwrap exposes the individual failures to errors.Is/As.
func (e *EmitSummary) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Symbols returns the names of the failed symbols in emission order.
func (e *EmitSummary) Symbols() []string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Symbol
	}
	return names
}

// WriteError reports a failure to persist generated output.
type WriteError struct {
	Path  string
	Cause error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", PhaseWrite, e.Path, e.Cause)
}

func (e *WriteError) Phase() Phase { return PhaseWrite }

func (e *WriteError) Unwrap() error { return e.Cause }

// StageError wraps the failure of one pipeline stage.
type StageError struct {
	Stage string
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Cause)
}

// Phase returns the phase of the wrapped error.
func (e *StageError) Phase() Phase { return PhaseOf(e.Cause) }

func (e *StageError) Unwrap() error { return e.Cause }
