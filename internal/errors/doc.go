// Package errors provides the structured error types reported by the binding
// generator.
//
// Every error belongs to the Phase that produced it:
//
//	ParseError            PhaseParse   malformed input, aborts the unit
//	UnresolvedSymbolError PhaseResolve all dangling references of a unit
//	LayoutError           PhaseLayout  indeterminate size or alignment
//	EmitError             PhaseEmit    construct the target cannot represent
//
// EmitErrors are collected per symbol into an EmitSummary so that the rest of a
// unit can still be generated. Use PhaseOf to classify any wrapped error:
//
//	if errors.PhaseOf(err) == errors.PhaseLayout { ... }
//
// All errors implement the standard error interface and support errors.Is/As
// from the standard library.
package errors
