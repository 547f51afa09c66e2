// Package engine defines the contract between the binding layer and a
// step-based SQL engine. The engine compiles SQL into statements that are
// driven one step at a time; each step yields a row, a pending-I/O
// signal, a control signal, or completion. The bundled minimal engine
// lives in core/minisql; any engine honoring these interfaces can be
// plugged into the binding through an OpenFunc.
package engine

import "github.com/stabledb/stabledb/core/stableio"

// StepResult is the outcome of one statement step.
type StepResult uint8

const (
	// StepRow means a result row is ready to be read via Stmt.Row.
	StepRow StepResult = iota
	// StepDone means the statement has run to completion.
	StepDone
	// StepIO means a storage operation is pending; the caller must
	// drive it via Stmt.RunOnce and step again.
	StepIO
	// StepBusy means the engine could not acquire a required resource.
	StepBusy
	// StepInterrupt means execution was interrupted.
	StepInterrupt
)

func (r StepResult) String() string {
	switch r {
	case StepRow:
		return "row"
	case StepDone:
		return "done"
	case StepIO:
		return "io"
	case StepBusy:
		return "busy"
	case StepInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// Options configures an engine at open time.
type Options struct {
	// PageSize is the page size for a freshly created database. Zero
	// selects the engine's default. Must be a power of two in
	// [512, 65536]; existing databases keep their established size.
	PageSize int
}

// OpenFunc opens an engine over the given host services and page
// storage. The path is informational; the storage holds exactly one
// database.
type OpenFunc func(io stableio.IO, path string, storage stableio.DatabaseStorage, opts Options) (Engine, error)

// Engine is an open database engine.
type Engine interface {
	// Connect creates a new engine-level connection.
	Connect() (Conn, error)

	// Close releases the engine.
	Close() error
}

// Conn is one engine-level connection. Implementations are not required
// to be safe for concurrent use; the binding layer serializes access.
type Conn interface {
	// Prepare compiles sql into a statement. It fails on syntax or
	// semantic errors.
	Prepare(sql string) (Stmt, error)

	// PragmaQuery evaluates a pragma and returns its result rows in
	// order.
	PragmaQuery(name string) ([][]Value, error)

	// CacheFlush persists any buffered modified pages.
	CacheFlush() error

	// AutoCommit reports whether no explicit transaction is open.
	AutoCommit() bool

	// Close releases the connection. An open transaction is rolled
	// back.
	Close() error
}

// Parameters describes a compiled statement's parameter table.
type Parameters interface {
	// Index resolves a named parameter (without its leading sigil) to
	// its 1-based bind index.
	Index(name string) (int, bool)

	// Count returns the number of parameters.
	Count() int
}

// Stmt is a compiled statement. A statement must not be stepped
// concurrently.
type Stmt interface {
	// BindAt binds value at the 1-based index.
	BindAt(index int, v Value) error

	// Parameters returns the statement's parameter table.
	Parameters() Parameters

	// Reset clears bound values and cursor position, making repeated
	// executions independent.
	Reset() error

	// Step advances the statement by one unit of execution.
	Step() (StepResult, error)

	// RunOnce drives pending storage work after a StepIO result.
	RunOnce() error

	// Row returns the current row's values. It is valid only
	// immediately after a StepRow result, and the returned values may
	// alias engine-internal buffers; callers must copy what they keep.
	Row() []Value

	// NumColumns returns the number of result columns.
	NumColumns() int

	// ColumnName returns the name of column i.
	ColumnName(i int) string

	// Close releases the statement.
	Close() error
}
