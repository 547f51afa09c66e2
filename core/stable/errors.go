package stable

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the binding layer.
var (
	// ErrBusy indicates the engine could not acquire a required
	// resource while stepping; the caller may retry later.
	ErrBusy = errors.New("database is busy")
	// ErrInterrupted indicates statement execution was interrupted.
	ErrInterrupted = errors.New("statement interrupted")
	// ErrNestedTransaction indicates a transaction is already open on
	// the connection.
	ErrNestedTransaction = errors.New("a transaction is already open on this connection")
	// ErrClosed indicates use of a closed database, connection, or
	// statement.
	ErrClosed = errors.New("already closed")
)

// BindError reports a parameter that could not be bound: an unresolved
// name, an out-of-range ordinal, or an unconvertible value.
type BindError struct {
	Name  string // named parameter, if any
	Index int    // 1-based ordinal, if positional
	Value any    // offending value for conversion failures
	Err   error
}

func (e *BindError) Error() string {
	switch {
	case e.Name != "":
		return fmt.Sprintf("cannot bind parameter %q: %v", e.Name, e.Err)
	case e.Index > 0:
		return fmt.Sprintf("cannot bind parameter %d: %v", e.Index, e.Err)
	default:
		return fmt.Sprintf("cannot bind parameter: %v", e.Err)
	}
}

func (e *BindError) Unwrap() error { return e.Err }

// LockError reports a failure to acquire the connection lock, typically
// because the caller's context was canceled while waiting. It aborts
// only the call that observed it; the connection stays usable.
type LockError struct {
	Op  string
	Err error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("acquiring connection lock for %s: %v", e.Op, e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }

// ExecutionError wraps a fault reported by the engine while compiling or
// executing a statement.
type ExecutionError struct {
	SQL string // statement text, empty for non-statement operations
	Err error
}

func (e *ExecutionError) Error() string {
	if e.SQL != "" {
		return fmt.Sprintf("executing %q: %v", e.SQL, e.Err)
	}
	return fmt.Sprintf("execution failure: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// execErr wraps an engine fault, avoiding double wrapping.
func execErr(sql string, err error) error {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return err
	}
	return &ExecutionError{SQL: sql, Err: err}
}
