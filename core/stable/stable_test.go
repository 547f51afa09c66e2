package stable

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stabledb/stabledb/core/vmem"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewBuilder(vmem.NewRegion()).Build(context.Background())
	if err != nil {
		t.Fatalf("build database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestConn(t *testing.T) *Connection {
	t.Helper()
	conn, err := newTestDB(t).Connect()
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func mustExec(t *testing.T, conn *Connection, sql string, args ...any) {
	t.Helper()
	status, err := conn.Execute(context.Background(), sql, args...)
	if err != nil {
		t.Fatalf("execute %q: %v", sql, err)
	}
	if status != ExecCompleted {
		t.Fatalf("execute %q: status %v, want completed", sql, status)
	}
}

// collectInts drains rows, reading column 0 of each as an integer.
func collectInts(t *testing.T, rows *Rows) []int64 {
	t.Helper()
	var out []int64
	for {
		row, err := rows.Next(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if row == nil {
			return out
		}
		out = append(out, row.GetValue(0).Int())
	}
}

func TestCreateInsertSelect(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (x)")
	mustExec(t, conn, "INSERT INTO t VALUES (2)")
	mustExec(t, conn, "INSERT INTO t VALUES (3)")
	mustExec(t, conn, "INSERT INTO t VALUES (1)")
	rows, err := conn.Query(ctx, "SELECT x FROM t ORDER BY x")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	got := collectInts(t, rows)
	want := []int64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRowsExhaustionIsSticky(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (x)")
	mustExec(t, conn, "INSERT INTO t VALUES (1)")
	rows, err := conn.Query(ctx, "SELECT x FROM t")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if row, err := rows.Next(ctx); err != nil || row == nil {
		t.Fatalf("first next: row=%v err=%v", row, err)
	}
	for i := 0; i < 3; i++ {
		row, err := rows.Next(ctx)
		if err != nil || row != nil {
			t.Fatalf("next after exhaustion: row=%v err=%v", row, err)
		}
	}
}

func TestExecuteReportsUnexpectedRow(t *testing.T) {
	conn := newTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (x)")
	mustExec(t, conn, "INSERT INTO t VALUES (1)")
	status, err := conn.Execute(context.Background(), "SELECT x FROM t")
	if err != nil {
		t.Fatalf("execute select: %v", err)
	}
	if status != ExecUnexpectedRow {
		t.Fatalf("status = %v, want unexpected row", status)
	}
}

func TestBindUnknownNameFails(t *testing.T) {
	conn := newTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (x)")
	_, err := conn.Execute(context.Background(), "INSERT INTO t VALUES (:x)", Named("nope", 1))
	var be *BindError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *BindError", err)
	}
	if be.Name != "nope" {
		t.Fatalf("BindError name = %q, want nope", be.Name)
	}
}

func TestNamedAndPositionalBinds(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (a, b)")
	mustExec(t, conn, "INSERT INTO t VALUES (?, :b)", 1, Named("b", "one"))
	rows, err := conn.Query(ctx, "SELECT b FROM t WHERE a = ?", 1)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	row, err := rows.Next(ctx)
	if err != nil || row == nil {
		t.Fatalf("next: row=%v err=%v", row, err)
	}
	if got := row.GetValue(0).Text(); got != "one" {
		t.Fatalf("b = %q, want one", got)
	}
}

func TestStatementReuse(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (x)")
	stmt, err := conn.Prepare(ctx, "INSERT INTO t VALUES (?)")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	defer stmt.Close()
	for i := int64(1); i <= 3; i++ {
		status, err := stmt.Execute(ctx, i)
		if err != nil || status != ExecCompleted {
			t.Fatalf("execute %d: status=%v err=%v", i, status, err)
		}
	}
	rows, err := conn.Query(ctx, "SELECT x FROM t ORDER BY x")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got := collectInts(t, rows); len(got) != 3 {
		t.Fatalf("got %v, want 3 rows", got)
	}
}

func TestStatementColumns(t *testing.T) {
	conn := newTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (a, b)")
	stmt, err := conn.Prepare(context.Background(), "SELECT a, b FROM t")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	defer stmt.Close()
	cols := stmt.Columns()
	if len(cols) != 2 || cols[0].Name != "a" || cols[1].Name != "b" {
		t.Fatalf("columns = %v", cols)
	}
}

func TestTransactionImmediateCommit(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (x)")
	tx, err := conn.TransactionWithBehavior(ctx, Immediate)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	mustExec(t, conn, "INSERT INTO t VALUES (4)")
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	auto, err := conn.IsAutocommit(ctx)
	if err != nil || !auto {
		t.Fatalf("autocommit after commit: %v err=%v", auto, err)
	}
	rows, err := conn.Query(ctx, "SELECT x FROM t WHERE x = 4")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got := collectInts(t, rows); len(got) != 1 || got[0] != 4 {
		t.Fatalf("got %v, want [4]", got)
	}
}

func TestTransactionRollback(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (x)")
	tx, err := conn.Transaction(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	mustExec(t, conn, "INSERT INTO t VALUES (9)")
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	auto, err := conn.IsAutocommit(ctx)
	if err != nil || !auto {
		t.Fatalf("autocommit after rollback: %v err=%v", auto, err)
	}
	rows, err := conn.Query(ctx, "SELECT x FROM t")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got := collectInts(t, rows); len(got) != 0 {
		t.Fatalf("got %v, want no rows", got)
	}
}

func TestNestedTransactionRejected(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (x)")
	outer, err := conn.Transaction(ctx)
	if err != nil {
		t.Fatalf("begin outer: %v", err)
	}
	if _, err := conn.Transaction(ctx); !errors.Is(err, ErrNestedTransaction) {
		t.Fatalf("nested begin err = %v, want ErrNestedTransaction", err)
	}
	// The failed attempt must not damage the outer transaction.
	mustExec(t, conn, "INSERT INTO t VALUES (1)")
	if err := outer.Commit(ctx); err != nil {
		t.Fatalf("commit outer: %v", err)
	}
	rows, err := conn.Query(ctx, "SELECT x FROM t")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got := collectInts(t, rows); len(got) != 1 {
		t.Fatalf("got %v, want one row", got)
	}
}

func TestUncheckedTransactionDefersToEngine(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	outer, err := conn.Transaction(ctx)
	if err != nil {
		t.Fatalf("begin outer: %v", err)
	}
	_, err = conn.UncheckedTransaction(ctx)
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("unchecked nested begin err = %v, want *ExecutionError", err)
	}
	if err := outer.Commit(ctx); err != nil {
		t.Fatalf("commit outer: %v", err)
	}
}

func TestFinishDefaultRollsBack(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (x)")
	tx, err := conn.Transaction(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	mustExec(t, conn, "INSERT INTO t VALUES (1)")
	if err := tx.Finish(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}
	rows, err := conn.Query(ctx, "SELECT x FROM t")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got := collectInts(t, rows); len(got) != 0 {
		t.Fatalf("got %v, want no rows", got)
	}
}

func TestFinishCommitBehavior(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (x)")
	tx, err := conn.Transaction(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	tx.SetDropBehavior(DropCommit)
	mustExec(t, conn, "INSERT INTO t VALUES (1)")
	if err := tx.Finish(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}
	rows, err := conn.Query(ctx, "SELECT x FROM t")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got := collectInts(t, rows); len(got) != 1 {
		t.Fatalf("got %v, want one row", got)
	}
}

func TestFinishAfterEngineRollback(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (x)")
	tx, err := conn.Transaction(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	// An oversized row fails at step time, and the engine rolls the
	// open transaction back on its own.
	if _, err := conn.Execute(ctx, "INSERT INTO t VALUES (?)", make([]byte, 2*65536)); err == nil {
		t.Fatal("oversized insert succeeded")
	}
	auto, err := conn.IsAutocommit(ctx)
	if err != nil || !auto {
		t.Fatalf("autocommit after failed write: %v err=%v", auto, err)
	}
	if err := tx.Finish(ctx); err != nil {
		t.Fatalf("finish after engine rollback: %v", err)
	}
	// The connection can open a fresh transaction again.
	tx2, err := conn.Transaction(ctx)
	if err != nil {
		t.Fatalf("begin after finish: %v", err)
	}
	if err := tx2.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestTransactionDropGuardPanics(t *testing.T) {
	conn := newTestConn(t)
	tx, err := conn.Transaction(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("drop guard did not panic on an unfinished transaction")
			}
		}()
		tx.dropCheck()
	}()
	if err := tx.Rollback(context.Background()); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	// A finished transaction disarms the guard.
	tx.dropCheck()
}

func TestFinishPanicBehavior(t *testing.T) {
	conn := newTestConn(t)
	tx, err := conn.Transaction(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	tx.SetDropBehavior(DropPanic)
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("finish did not panic under the Panic policy")
			}
		}()
		_ = tx.Finish(context.Background())
	}()
	if err := tx.Rollback(context.Background()); err != nil {
		t.Fatalf("rollback: %v", err)
	}
}

func TestFinishPanicAfterEngineRollback(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (x)")
	tx, err := conn.Transaction(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	tx.SetDropBehavior(DropPanic)
	if _, err := conn.Execute(ctx, "INSERT INTO t VALUES (?)", make([]byte, 2*65536)); err == nil {
		t.Fatal("oversized insert succeeded")
	}
	// The engine rolled the transaction back itself, so the Panic
	// policy has no active transaction to object to.
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("finish panicked despite engine rollback: %v", r)
		}
	}()
	if err := tx.Finish(ctx); err != nil {
		t.Fatalf("finish after engine rollback: %v", err)
	}
	tx2, err := conn.Transaction(ctx)
	if err != nil {
		t.Fatalf("begin after finish: %v", err)
	}
	if err := tx2.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestSetTransactionBehavior(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	conn.SetTransactionBehavior(Immediate)
	tx, err := conn.Transaction(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if tx.Behavior() != Immediate {
		t.Fatalf("behavior = %v, want IMMEDIATE", tx.Behavior())
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestPragmaQuery(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	var got []int64
	err := conn.PragmaQuery(ctx, "page_size", func(row Row) error {
		got = append(got, row.GetValue(0).Int())
		return nil
	})
	if err != nil {
		t.Fatalf("pragma page_size: %v", err)
	}
	if len(got) != 1 || got[0] != 4096 {
		t.Fatalf("page_size rows = %v", got)
	}

	// Unknown pragmas yield no rows and no error.
	err = conn.PragmaQuery(ctx, "no_such_pragma", func(Row) error {
		t.Fatal("callback invoked for unknown pragma")
		return nil
	})
	if err != nil {
		t.Fatalf("unknown pragma: %v", err)
	}
}

func TestPragmaCallbackErrorStops(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	mustExec(t, conn, "CREATE TABLE a (x)")
	mustExec(t, conn, "CREATE TABLE b (x)")
	sentinel := errors.New("stop here")
	calls := 0
	err := conn.PragmaQuery(ctx, "table_list", func(Row) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want wrapped sentinel", err)
	}
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want *ExecutionError", err)
	}
	if calls != 1 {
		t.Fatalf("callback ran %d times, want 1", calls)
	}
}

func TestLockErrorOnCanceledContext(t *testing.T) {
	conn := newTestConn(t)
	conn.sem <- struct{}{}
	defer func() { <-conn.sem }()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := conn.Execute(ctx, "SELECT 1")
	var le *LockError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want *LockError", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled underneath", err)
	}
}

func TestCompileErrorWrapped(t *testing.T) {
	conn := newTestConn(t)
	_, err := conn.Execute(context.Background(), "SELEKT nonsense")
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want *ExecutionError", err)
	}
	if ee.SQL != "SELEKT nonsense" {
		t.Fatalf("ExecutionError SQL = %q", ee.SQL)
	}
}

func TestValueConversions(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (a, b, c, d, e, f)")
	mustExec(t, conn, "INSERT INTO t VALUES (?, ?, ?, ?, ?, ?)",
		int64(7), 1.5, "hi", []byte{0xde, 0xad}, nil, true)
	rows, err := conn.Query(ctx, "SELECT a, b, c, d, e, f FROM t")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	row, err := rows.Next(ctx)
	if err != nil || row == nil {
		t.Fatalf("next: row=%v err=%v", row, err)
	}
	if row.ColumnCount() != 6 {
		t.Fatalf("column count = %d", row.ColumnCount())
	}
	if row.GetValue(0).Int() != 7 {
		t.Fatalf("a = %v", row.GetValue(0))
	}
	if row.GetValue(1).Float() != 1.5 {
		t.Fatalf("b = %v", row.GetValue(1))
	}
	if row.GetValue(2).Text() != "hi" {
		t.Fatalf("c = %v", row.GetValue(2))
	}
	if b := row.GetValue(3).Bytes(); len(b) != 2 || b[0] != 0xde {
		t.Fatalf("d = %v", row.GetValue(3))
	}
	if !row.GetValue(4).IsNull() {
		t.Fatalf("e = %v", row.GetValue(4))
	}
	if row.GetValue(5).Int() != 1 {
		t.Fatalf("f = %v", row.GetValue(5))
	}
}

func TestUnsupportedBindType(t *testing.T) {
	conn := newTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (x)")
	_, err := conn.Execute(context.Background(), "INSERT INTO t VALUES (?)", struct{}{})
	var be *BindError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *BindError", err)
	}
	if be.Index != 1 {
		t.Fatalf("BindError index = %d, want 1", be.Index)
	}
	if !strings.Contains(be.Error(), "unsupported type") {
		t.Fatalf("BindError message = %q", be.Error())
	}
}

func TestConnectionCloseClosesStatements(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (x)")
	stmt, err := conn.Prepare(ctx, "SELECT x FROM t")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := stmt.Execute(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("execute on closed statement err = %v, want ErrClosed", err)
	}
	if _, err := conn.Execute(ctx, "SELECT x FROM t"); !errors.Is(err, ErrClosed) {
		t.Fatalf("execute on closed connection err = %v, want ErrClosed", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestBuilderPageSize(t *testing.T) {
	ctx := context.Background()
	db, err := NewBuilder(vmem.NewRegion()).WithPageSize(1024).Build(ctx)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer db.Close()
	conn, err := db.Connect()
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()
	var got int64
	err = conn.PragmaQuery(ctx, "page_size", func(row Row) error {
		got = row.GetValue(0).Int()
		return nil
	})
	if err != nil || got != 1024 {
		t.Fatalf("page_size = %d err=%v, want 1024", got, err)
	}
}

func TestBuilderRejectsBadPageSize(t *testing.T) {
	_, err := NewBuilder(vmem.NewRegion()).WithPageSize(1000).Build(context.Background())
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want *ExecutionError", err)
	}
}

func TestPersistenceAcrossConnections(t *testing.T) {
	ctx := context.Background()
	region := vmem.NewRegion()
	db, err := NewBuilder(region).Build(ctx)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	conn, err := db.Connect()
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	mustExec(t, conn, "CREATE TABLE t (x)")
	mustExec(t, conn, "INSERT INTO t VALUES (42)")
	if err := conn.Close(); err != nil {
		t.Fatalf("close conn: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	// Reopen over the same memory image.
	db2, err := NewBuilder(region).Build(ctx)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	defer db2.Close()
	conn2, err := db2.Connect()
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	defer conn2.Close()
	rows, err := conn2.Query(ctx, "SELECT x FROM t")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got := collectInts(t, rows); len(got) != 1 || got[0] != 42 {
		t.Fatalf("got %v, want [42]", got)
	}
}
