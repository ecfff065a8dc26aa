// Package bridge is the runtime that generated bindings link against.
//
// It maps opaque native context values to Go closures, delivers block
// invocations to the execution context that created them, and carries the
// nullability and ownership wrappers used in generated signatures.
//
// A value-returning block runs on the goroutine that invokes it. A listener
// block (one returning void) invoked from any other context is queued on
// its owning Executor; invoked from the owner itself it runs inline. Either
// way each invocation is delivered exactly once.
package bridge
