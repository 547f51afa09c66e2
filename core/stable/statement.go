package stable

import (
	"context"

	"github.com/stabledb/stabledb/core/engine"
)

// ExecStatus reports how a statement run ended without error.
type ExecStatus uint8

const (
	// ExecCompleted means the statement ran to completion.
	ExecCompleted ExecStatus = iota
	// ExecUnexpectedRow means the statement produced a result row;
	// row-producing SQL should go through Query instead.
	ExecUnexpectedRow
	// ExecBusy means the engine could not acquire a required resource.
	ExecBusy
	// ExecInterrupted means execution was interrupted.
	ExecInterrupted
)

func (s ExecStatus) String() string {
	switch s {
	case ExecCompleted:
		return "completed"
	case ExecUnexpectedRow:
		return "unexpected row"
	case ExecBusy:
		return "busy"
	case ExecInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Column describes one result column.
type Column struct {
	Name string
}

// Statement is a compiled statement, reusable across executions. It is
// bound to the connection that prepared it and shares its lock.
type Statement struct {
	conn   *Connection
	st     engine.Stmt
	sql    string
	closed bool
}

// Execute resets the statement, binds args, and drives it to
// completion. The returned status distinguishes normal completion from
// an unexpected result row, a busy engine, and an interrupt; all four
// are successful returns.
func (s *Statement) Execute(ctx context.Context, args ...any) (ExecStatus, error) {
	if err := s.conn.acquire(ctx, "execute"); err != nil {
		return ExecCompleted, err
	}
	defer s.conn.release()
	if s.closed {
		return ExecCompleted, ErrClosed
	}
	if err := s.st.Reset(); err != nil {
		return ExecCompleted, execErr(s.sql, err)
	}
	if err := bindArgs(s.st, args); err != nil {
		return ExecCompleted, err
	}
	return runToCompletion(s.st, s.sql)
}

// Query binds args and returns a cursor over the statement's result
// rows. The statement is not reset; call Reset first to re-run a
// partially consumed statement.
func (s *Statement) Query(ctx context.Context, args ...any) (*Rows, error) {
	if err := s.conn.acquire(ctx, "query"); err != nil {
		return nil, err
	}
	defer s.conn.release()
	if s.closed {
		return nil, ErrClosed
	}
	if err := bindArgs(s.st, args); err != nil {
		return nil, err
	}
	return &Rows{stmt: s}, nil
}

// Reset clears bound values and cursor position.
func (s *Statement) Reset(ctx context.Context) error {
	if err := s.conn.acquire(ctx, "reset"); err != nil {
		return err
	}
	defer s.conn.release()
	if s.closed {
		return ErrClosed
	}
	if err := s.st.Reset(); err != nil {
		return execErr(s.sql, err)
	}
	return nil
}

// Columns returns the statement's result column metadata.
func (s *Statement) Columns() []Column {
	s.conn.sem <- struct{}{}
	defer func() { <-s.conn.sem }()
	if s.closed {
		return nil
	}
	cols := make([]Column, s.st.NumColumns())
	for i := range cols {
		cols[i].Name = s.st.ColumnName(i)
	}
	return cols
}

// Close releases the statement. Closing twice is a no-op.
func (s *Statement) Close() error {
	s.conn.sem <- struct{}{}
	defer func() { <-s.conn.sem }()
	err := s.closeLocked()
	if s.conn.stmts != nil {
		s.conn.forgetStmt(s)
	}
	return err
}

// closeLocked releases the engine statement. Caller holds the
// connection lock.
func (s *Statement) closeLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.st.Close(); err != nil {
		return execErr(s.sql, err)
	}
	return nil
}

// runToCompletion steps st until it finishes, driving pending storage
// work inline. Caller holds the connection lock.
func runToCompletion(st engine.Stmt, sql string) (ExecStatus, error) {
	for {
		res, err := st.Step()
		if err != nil {
			return ExecCompleted, execErr(sql, err)
		}
		switch res {
		case engine.StepDone:
			return ExecCompleted, nil
		case engine.StepRow:
			return ExecUnexpectedRow, nil
		case engine.StepBusy:
			return ExecBusy, nil
		case engine.StepInterrupt:
			return ExecInterrupted, nil
		case engine.StepIO:
			if err := st.RunOnce(); err != nil {
				return ExecCompleted, execErr(sql, err)
			}
		}
	}
}
