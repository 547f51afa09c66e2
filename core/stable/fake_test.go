package stable

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/stabledb/stabledb/core/engine"
)

// fakeStep scripts one Step result.
type fakeStep struct {
	res engine.StepResult
	err error
	row []engine.Value
}

type fakeStmt struct {
	steps   []fakeStep
	pos     int
	runOnce int
	resets  int
	closed  bool
}

func (s *fakeStmt) BindAt(int, engine.Value) error { return nil }
func (s *fakeStmt) Parameters() engine.Parameters  { return noParams{} }

func (s *fakeStmt) Reset() error {
	s.resets++
	s.pos = 0
	return nil
}

func (s *fakeStmt) Step() (engine.StepResult, error) {
	if s.pos >= len(s.steps) {
		return engine.StepDone, nil
	}
	st := s.steps[s.pos]
	s.pos++
	return st.res, st.err
}

func (s *fakeStmt) RunOnce() error { s.runOnce++; return nil }

func (s *fakeStmt) Row() []engine.Value {
	return s.steps[s.pos-1].row
}

func (s *fakeStmt) NumColumns() int       { return 1 }
func (s *fakeStmt) ColumnName(int) string { return "x" }
func (s *fakeStmt) Close() error          { s.closed = true; return nil }

type noParams struct{}

func (noParams) Index(string) (int, bool) { return 0, false }
func (noParams) Count() int               { return 0 }

// fakeConn hands out scripted statements in Prepare order.
type fakeConn struct {
	queue      []*fakeStmt
	prepared   []string
	autocommit bool
}

func (c *fakeConn) Prepare(sql string) (engine.Stmt, error) {
	c.prepared = append(c.prepared, sql)
	if len(c.queue) == 0 {
		return &fakeStmt{}, nil
	}
	st := c.queue[0]
	c.queue = c.queue[1:]
	return st, nil
}

func (c *fakeConn) PragmaQuery(string) ([][]engine.Value, error) { return nil, nil }
func (c *fakeConn) CacheFlush() error                            { return nil }
func (c *fakeConn) AutoCommit() bool                             { return c.autocommit }
func (c *fakeConn) Close() error                                 { return nil }

func fakeConnection(stmts ...*fakeStmt) (*Connection, *fakeConn) {
	fc := &fakeConn{queue: stmts, autocommit: true}
	return newConnection(fc, zap.NewNop()), fc
}

func TestRowsNextSurfacesBusy(t *testing.T) {
	ctx := context.Background()
	st := &fakeStmt{steps: []fakeStep{
		{res: engine.StepBusy},
		{res: engine.StepRow, row: []engine.Value{engine.Integer(5)}},
		{res: engine.StepDone},
	}}
	conn, _ := fakeConnection(st)
	rows, err := conn.Query(ctx, "SELECT x FROM t")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if _, err := rows.Next(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	// Busy leaves the cursor open; the retry reaches the row.
	row, err := rows.Next(ctx)
	if err != nil || row == nil || row.GetValue(0).Int() != 5 {
		t.Fatalf("retry next: row=%v err=%v", row, err)
	}
	if row, err := rows.Next(ctx); err != nil || row != nil {
		t.Fatalf("final next: row=%v err=%v", row, err)
	}
}

func TestRowsNextSurfacesInterrupt(t *testing.T) {
	ctx := context.Background()
	st := &fakeStmt{steps: []fakeStep{{res: engine.StepInterrupt}}}
	conn, _ := fakeConnection(st)
	rows, err := conn.Query(ctx, "SELECT x FROM t")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if _, err := rows.Next(ctx); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
}

func TestRowsNextDrivesPendingIO(t *testing.T) {
	ctx := context.Background()
	st := &fakeStmt{steps: []fakeStep{
		{res: engine.StepIO},
		{res: engine.StepIO},
		{res: engine.StepRow, row: []engine.Value{engine.Integer(1)}},
	}}
	conn, _ := fakeConnection(st)
	rows, err := conn.Query(ctx, "SELECT x FROM t")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	row, err := rows.Next(ctx)
	if err != nil || row == nil {
		t.Fatalf("next: row=%v err=%v", row, err)
	}
	if st.runOnce != 2 {
		t.Fatalf("RunOnce calls = %d, want 2", st.runOnce)
	}
}

func TestExecuteBusyAndInterruptStatuses(t *testing.T) {
	ctx := context.Background()
	busy := &fakeStmt{steps: []fakeStep{{res: engine.StepBusy}}}
	intr := &fakeStmt{steps: []fakeStep{{res: engine.StepInterrupt}}}
	conn, _ := fakeConnection(busy, intr)

	status, err := conn.Execute(ctx, "UPDATE-ish")
	if err != nil || status != ExecBusy {
		t.Fatalf("busy execute: status=%v err=%v", status, err)
	}
	status, err = conn.Execute(ctx, "UPDATE-ish")
	if err != nil || status != ExecInterrupted {
		t.Fatalf("interrupt execute: status=%v err=%v", status, err)
	}
	if busy.resets != 1 {
		t.Fatalf("Reset calls = %d, want 1", busy.resets)
	}
}

func TestStepErrorWrapsExecutionError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	st := &fakeStmt{steps: []fakeStep{{err: boom}}}
	conn, _ := fakeConnection(st)
	_, err := conn.Execute(ctx, "EXPLODE")
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want *ExecutionError", err)
	}
	if ee.SQL != "EXPLODE" || !errors.Is(err, boom) {
		t.Fatalf("wrapped error = %v", err)
	}
}

func TestRowSnapshotIndependentOfEngineBuffers(t *testing.T) {
	ctx := context.Background()
	buf := []byte{1, 2, 3}
	st := &fakeStmt{steps: []fakeStep{
		{res: engine.StepRow, row: []engine.Value{engine.Blob(buf)}},
	}}
	conn, _ := fakeConnection(st)
	rows, err := conn.Query(ctx, "SELECT x FROM t")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	row, err := rows.Next(ctx)
	if err != nil || row == nil {
		t.Fatalf("next: row=%v err=%v", row, err)
	}
	buf[0] = 9
	if got := row.GetValue(0).Bytes(); got[0] != 1 {
		t.Fatalf("row aliases engine buffer: %v", got)
	}
}

func TestTransactionStatementsDriveEngine(t *testing.T) {
	ctx := context.Background()
	begin := &fakeStmt{steps: []fakeStep{
		{res: engine.StepIO},
		{res: engine.StepDone},
	}}
	commit := &fakeStmt{steps: []fakeStep{{res: engine.StepDone}}}
	conn, fc := fakeConnection(begin, commit)
	tx, err := conn.TransactionWithBehavior(ctx, Immediate)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	want := []string{"BEGIN IMMEDIATE", "COMMIT"}
	if len(fc.prepared) != len(want) || fc.prepared[0] != want[0] || fc.prepared[1] != want[1] {
		t.Fatalf("prepared = %v, want %v", fc.prepared, want)
	}
	if begin.runOnce != 1 {
		t.Fatalf("RunOnce calls during BEGIN = %d, want 1", begin.runOnce)
	}
	if !begin.closed || !commit.closed {
		t.Fatal("transaction statements not released")
	}
}

func TestOwnedStatementReleasedOnExhaustion(t *testing.T) {
	ctx := context.Background()
	st := &fakeStmt{steps: []fakeStep{{res: engine.StepDone}}}
	conn, _ := fakeConnection(st)
	rows, err := conn.Query(ctx, "SELECT x FROM t")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if row, err := rows.Next(ctx); err != nil || row != nil {
		t.Fatalf("next: row=%v err=%v", row, err)
	}
	if !st.closed {
		t.Fatal("owned statement not released after exhaustion")
	}
}
