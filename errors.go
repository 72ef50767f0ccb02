package roomkit

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by crossings attempted after Close.
	ErrClosed = errors.New("roomkit: bridge closed")

	// ErrBroken is returned by every crossing after a contract violation
	// poisoned the bridge.
	ErrBroken = errors.New("roomkit: bridge broken")
)

// ContractViolation reports a bridge misuse: an Acquire whose type does not
// match the runtime tag, a transfer stack arity mismatch, or observing a
// pending promise. It is raised with panic and recovered at the crossing
// boundary, after which the bridge refuses further crossings.
type ContractViolation struct {
	Op  string
	Msg string
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("roomkit: contract violation in %s: %s", e.Op, e.Msg)
}

func violate(op, format string, args ...any) {
	panic(&ContractViolation{Op: op, Msg: fmt.Sprintf(format, args...)})
}

// brokenError wraps the violation that poisoned a bridge.
type brokenError struct {
	cause *ContractViolation
}

func (e *brokenError) Error() string {
	return ErrBroken.Error() + ": " + e.cause.Msg + " (in " + e.cause.Op + ")"
}

func (e *brokenError) Is(target error) bool { return target == ErrBroken }

func (e *brokenError) Unwrap() error { return e.cause }

// acquireError carries a conversion failure that is not a contract
// violation out of Acquire. The crossing returns err.
type acquireError struct {
	err error
}

// BoundaryError is a throw or rejection raised inside the runtime.
type BoundaryError struct {
	Op  string
	Err *JSError
}

func (e *BoundaryError) Error() string {
	return fmt.Sprintf("roomkit: %s: %v", e.Op, e.Err)
}

func (e *BoundaryError) Unwrap() error { return e.Err }
