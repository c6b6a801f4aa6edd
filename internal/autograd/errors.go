package autograd

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind identifies one of the engine's distinct failure modes (§7).
// Every EngineError carries one, so callers can classify a failure with
// errors.As without string-matching messages.
type ErrorKind int

const (
	// ErrInplaceModified: a SavedVariable's version no longer matches the
	// version captured at save time.
	ErrInplaceModified ErrorKind = iota
	// ErrLeafMovedIntoGraph: AccumulateGrad's bound leaf now has a grad_fn.
	ErrLeafMovedIntoGraph
	// ErrLeafModifiedInplace: AccumulateGrad's bound leaf has a nonzero
	// version counter.
	ErrLeafModifiedInplace
	// ErrAccumulatorRebound: AccumulateGrad's leaf reports a different
	// current grad accumulator than this node.
	ErrAccumulatorRebound
	// ErrMissingGradAccumulator: a saved leaf that requires grad has no
	// retained grad accumulator.
	ErrMissingGradAccumulator
	// ErrInvalidOutputCount: a Function's apply returned a different
	// number of outputs than it has next_functions edges.
	ErrInvalidOutputCount
	// ErrMissingDependency: the engine's own dependency bookkeeping has no
	// entry for a Function it just tried to decrement.
	ErrMissingDependency
	// ErrNoExecutableRoots: Execute was called on a subgraph with no
	// executable roots and no stochastic functions.
	ErrNoExecutableRoots
	// ErrUncomputedDependencies: the engine drained but some Function
	// still has unfilled dependency entries.
	ErrUncomputedDependencies
	// ErrUserApply: a Function's apply, or one of its hooks, failed.
	ErrUserApply
)

func (k ErrorKind) String() string {
	switch k {
	case ErrInplaceModified:
		return "InplaceModifiedError"
	case ErrLeafMovedIntoGraph:
		return "LeafMovedIntoGraph"
	case ErrLeafModifiedInplace:
		return "LeafModifiedInplace"
	case ErrAccumulatorRebound:
		return "AccumulatorRebound"
	case ErrMissingGradAccumulator:
		return "MissingGradAccumulator"
	case ErrInvalidOutputCount:
		return "InvalidOutputCount"
	case ErrMissingDependency:
		return "MissingDependency"
	case ErrNoExecutableRoots:
		return "NoExecutableRoots"
	case ErrUncomputedDependencies:
		return "UncomputedDependencies"
	case ErrUserApply:
		return "UserApplyError"
	default:
		return "UnknownError"
	}
}

// EngineError is the concrete error type every failure surfaced by this
// package is wrapped in. Function is the node that was executing when the
// failure happened, if any (nil for failures detected by the engine's own
// bookkeeping before any Function ran, e.g. ErrNoExecutableRoots).
type EngineError struct {
	Kind     ErrorKind
	Function Function
	msg      string
	cause    error
}

func (e *EngineError) Error() string {
	name := ""
	if e.Function != nil {
		name = " in " + e.Function.Name()
	}
	if e.cause != nil {
		return fmt.Sprintf("autograd: %s%s: %s: %v", e.Kind, name, e.msg, e.cause)
	}
	return fmt.Sprintf("autograd: %s%s: %s", e.Kind, name, e.msg)
}

// Unwrap exposes a wrapped user-supplied error (ErrUserApply) for
// errors.Is/errors.As.
func (e *EngineError) Unwrap() error {
	return e.cause
}

// newError builds an EngineError and attaches a stack trace at the call
// site via pkg/errors, so a failure raised deep inside a worker goroutine
// keeps a trace pointing at where it actually happened, not just where
// Execute rethrows it.
func newError(kind ErrorKind, fn Function, msg string) error {
	return errors.WithStack(&EngineError{Kind: kind, Function: fn, msg: msg})
}

func newErrorf(kind ErrorKind, fn Function, format string, args ...any) error {
	return newError(kind, fn, fmt.Sprintf(format, args...))
}

// wrapUserError wraps an error raised by user code (a Function's apply or
// a hook) as ErrUserApply, preserving the original error for Unwrap. An
// error that already carries an EngineError (for example ErrInplaceModified
// from Unpack, or AccumulateGrad's leaf checks) is returned unchanged, so
// it keeps its own ErrorKind.
func wrapUserError(fn Function, cause error) error {
	var engErr *EngineError
	if errors.As(cause, &engErr) {
		return cause
	}
	return errors.WithStack(&EngineError{Kind: ErrUserApply, Function: fn, msg: "apply failed", cause: cause})
}
