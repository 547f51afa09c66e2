package stable

import (
	"context"

	"github.com/stabledb/stabledb/core/engine"
)

// Rows is a finite, non-restartable cursor over a statement's result
// rows.
type Rows struct {
	stmt *Statement
	// owned marks a cursor created by Connection.Query, whose backing
	// statement is released once the cursor is exhausted or closed.
	owned bool
	done  bool
}

// Next returns the next row, or (nil, nil) once the rows are exhausted.
// Exhaustion is sticky: every call after the first nil return is also
// (nil, nil), and the statement is never re-run. A busy engine surfaces
// as ErrBusy and an interrupt as ErrInterrupted; both leave the cursor
// open, so a caller may retry after a busy report.
func (r *Rows) Next(ctx context.Context) (*Row, error) {
	if r.done {
		return nil, nil
	}
	if err := r.stmt.conn.acquire(ctx, "rows_next"); err != nil {
		return nil, err
	}
	defer r.stmt.conn.release()
	if r.stmt.closed {
		return nil, ErrClosed
	}
	for {
		res, err := r.stmt.st.Step()
		if err != nil {
			return nil, execErr(r.stmt.sql, err)
		}
		switch res {
		case engine.StepRow:
			row := snapshotRow(r.stmt.st.Row())
			return &row, nil
		case engine.StepDone:
			r.finishLocked()
			return nil, nil
		case engine.StepBusy:
			return nil, ErrBusy
		case engine.StepInterrupt:
			return nil, ErrInterrupted
		case engine.StepIO:
			if err := r.stmt.st.RunOnce(); err != nil {
				return nil, execErr(r.stmt.sql, err)
			}
		}
	}
}

// Close marks the cursor exhausted. It releases the backing statement
// if the cursor owns it.
func (r *Rows) Close() error {
	if r.done {
		return nil
	}
	r.stmt.conn.sem <- struct{}{}
	defer func() { <-r.stmt.conn.sem }()
	r.finishLocked()
	return nil
}

// finishLocked marks exhaustion and releases an owned statement. Caller
// holds the connection lock.
func (r *Rows) finishLocked() {
	r.done = true
	if r.owned && !r.stmt.closed {
		_ = r.stmt.closeLocked()
		if r.stmt.conn.stmts != nil {
			r.stmt.conn.forgetStmt(r.stmt)
		}
	}
}

// Row is one result tuple, snapshotted by value: its values are
// independent of engine-internal buffers and stay valid after the
// cursor advances.
type Row struct {
	vals []Value
}

// snapshotRow deep-copies engine row values.
func snapshotRow(vals []engine.Value) Row {
	out := make([]Value, len(vals))
	for i, v := range vals {
		out[i] = v.Clone()
	}
	return Row{vals: out}
}

// GetValue returns the value of column i.
func (r *Row) GetValue(i int) Value {
	return r.vals[i]
}

// ColumnCount returns the number of columns in the row.
func (r *Row) ColumnCount() int {
	return len(r.vals)
}
