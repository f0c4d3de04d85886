package vm

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Recoverable errors
// ---------------------------------------------------------------------------

// Sentinel kinds for recoverable runtime errors.
var (
	ErrOutOfMemory     = errors.New("cannot allocate memory")
	ErrProtectOverflow = errors.New("protect(): protection stack overflow")
)

// Error is a recoverable error raised by the core. It is the only error
// class expected to reach a user.
type Error struct {
	Kind error  // ErrOutOfMemory or ErrProtectOverflow
	Op   string // operation that failed
	Size int    // requested bytes, for allocation failures
}

func (e *Error) Error() string {
	if e.Size > 0 {
		return fmt.Sprintf("%s: %v (%d bytes requested)", e.Op, e.Kind, e.Size)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// raise unwinds to the nearest Runtime.Do boundary.
func raise(err *Error) {
	panic(err)
}

// ---------------------------------------------------------------------------
// Invariant violations
// ---------------------------------------------------------------------------

// InvariantError reports a broken core invariant: unbalanced root stack,
// duplication of an unknown type, access to a pending or reclaimed cell, or
// in-place mutation of a shared cell. Once raised the object graph can no
// longer be trusted, so it is delivered by panic and never converted to a
// returned error.
type InvariantError struct {
	Op  string
	Msg string
}

func (e *InvariantError) Error() string {
	return e.Op + ": " + e.Msg
}

var fatalLog = commonlog.GetLogger("cellcore.vm")

// fatalf logs the violation at critical level and aborts.
func fatalf(op string, format string, args ...any) {
	e := &InvariantError{Op: op, Msg: fmt.Sprintf(format, args...)}
	fatalLog.Critical(e.Msg, "op", op)
	panic(e)
}

// IsInvariantError reports whether a recovered panic value is an invariant
// violation.
func IsInvariantError(r any) bool {
	_, ok := r.(*InvariantError)
	return ok
}
