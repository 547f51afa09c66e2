package stable

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/stabledb/stabledb/core/engine"
)

// Connection is one logical connection to the database. All engine
// access through the connection, including stepping statements obtained
// from it, is serialized by an internal lock, so a Connection is safe
// for concurrent use. Lock acquisition honors the caller's context; a
// canceled wait surfaces as *LockError and leaves the connection
// usable.
type Connection struct {
	conn engine.Conn
	log  *zap.Logger

	// sem is a one-slot semaphore guarding conn and every mutable
	// field below. Unlike a mutex, a waiter can give up when its
	// context is canceled.
	sem chan struct{}

	stmts    map[*Statement]struct{}
	behavior TransactionBehavior
	activeTx bool
	closed   bool
}

func newConnection(conn engine.Conn, log *zap.Logger) *Connection {
	return &Connection{
		conn:     conn,
		log:      log,
		sem:      make(chan struct{}, 1),
		stmts:    make(map[*Statement]struct{}),
		behavior: Deferred,
	}
}

// acquire takes the connection lock, abandoning the wait if ctx is
// canceled first.
func (c *Connection) acquire(ctx context.Context, op string) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return &LockError{Op: op, Err: ctx.Err()}
	}
}

func (c *Connection) release() { <-c.sem }

// Prepare compiles sql into a reusable Statement.
func (c *Connection) Prepare(ctx context.Context, sql string) (*Statement, error) {
	if err := c.acquire(ctx, "prepare"); err != nil {
		return nil, err
	}
	defer c.release()
	return c.prepareLocked(sql)
}

func (c *Connection) prepareLocked(sql string) (*Statement, error) {
	if c.closed {
		return nil, ErrClosed
	}
	st, err := c.conn.Prepare(sql)
	if err != nil {
		return nil, execErr(sql, err)
	}
	stmt := &Statement{conn: c, st: st, sql: sql}
	c.stmts[stmt] = struct{}{}
	return stmt, nil
}

// Execute compiles and runs sql to completion in one call. See
// Statement.Execute for the status semantics.
func (c *Connection) Execute(ctx context.Context, sql string, args ...any) (ExecStatus, error) {
	stmt, err := c.Prepare(ctx, sql)
	if err != nil {
		return ExecCompleted, err
	}
	defer stmt.Close()
	return stmt.Execute(ctx, args...)
}

// Query compiles sql, binds args, and returns a row cursor. The
// statement backing the cursor is released when the cursor is closed.
func (c *Connection) Query(ctx context.Context, sql string, args ...any) (*Rows, error) {
	stmt, err := c.Prepare(ctx, sql)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(ctx, args...)
	if err != nil {
		stmt.Close()
		return nil, err
	}
	rows.owned = true
	return rows, nil
}

// PragmaQuery evaluates the named pragma and invokes fn once per result
// row, in order. All rows are materialized before fn runs, so fn may
// itself use the connection. A callback error stops the iteration and
// is returned to the caller.
func (c *Connection) PragmaQuery(ctx context.Context, name string, fn func(Row) error) error {
	if err := c.acquire(ctx, "pragma_query"); err != nil {
		return err
	}
	if c.closed {
		c.release()
		return ErrClosed
	}
	raw, err := c.conn.PragmaQuery(name)
	c.release()
	if err != nil {
		return execErr("PRAGMA "+name, err)
	}
	for _, vals := range raw {
		if err := fn(snapshotRow(vals)); err != nil {
			return &ExecutionError{SQL: "PRAGMA " + name, Err: err}
		}
	}
	return nil
}

// CacheFlush persists any buffered modified pages without ending an
// open transaction.
func (c *Connection) CacheFlush(ctx context.Context) error {
	if err := c.acquire(ctx, "cacheflush"); err != nil {
		return err
	}
	defer c.release()
	if c.closed {
		return ErrClosed
	}
	if err := c.conn.CacheFlush(); err != nil {
		return execErr("", err)
	}
	return nil
}

// IsAutocommit reports whether the connection has no explicit
// transaction open.
func (c *Connection) IsAutocommit(ctx context.Context) (bool, error) {
	if err := c.acquire(ctx, "is_autocommit"); err != nil {
		return false, err
	}
	defer c.release()
	if c.closed {
		return false, ErrClosed
	}
	return c.conn.AutoCommit(), nil
}

// SetTransactionBehavior sets the BEGIN mode used by Transaction.
// TransactionWithBehavior is unaffected.
func (c *Connection) SetTransactionBehavior(behavior TransactionBehavior) {
	c.sem <- struct{}{}
	c.behavior = behavior
	<-c.sem
}

// Transaction begins a transaction with the connection's configured
// behavior. At most one checked transaction may be open per connection;
// a second call before the first finishes fails with
// ErrNestedTransaction.
func (c *Connection) Transaction(ctx context.Context) (*Transaction, error) {
	if err := c.acquire(ctx, "transaction"); err != nil {
		return nil, err
	}
	behavior := c.behavior
	c.release()
	return c.TransactionWithBehavior(ctx, behavior)
}

// TransactionWithBehavior begins a transaction with an explicit BEGIN
// mode, with the same single-open guarantee as Transaction.
func (c *Connection) TransactionWithBehavior(ctx context.Context, behavior TransactionBehavior) (*Transaction, error) {
	if err := c.acquire(ctx, "transaction"); err != nil {
		return nil, err
	}
	defer c.release()
	if c.closed {
		return nil, ErrClosed
	}
	if c.activeTx {
		return nil, ErrNestedTransaction
	}
	if err := c.beginLocked(behavior); err != nil {
		return nil, err
	}
	c.activeTx = true
	return newTransaction(c, behavior, true), nil
}

// UncheckedTransaction begins a transaction without the single-open
// check, relying on the engine to reject a nested BEGIN. The returned
// transaction carries the same finish obligations as a checked one.
func (c *Connection) UncheckedTransaction(ctx context.Context) (*Transaction, error) {
	if err := c.acquire(ctx, "transaction"); err != nil {
		return nil, err
	}
	defer c.release()
	if c.closed {
		return nil, ErrClosed
	}
	if err := c.beginLocked(Deferred); err != nil {
		return nil, err
	}
	return newTransaction(c, Deferred, false), nil
}

// beginLocked issues the BEGIN statement. Caller holds the lock.
func (c *Connection) beginLocked(behavior TransactionBehavior) error {
	_, err := c.runLocked("BEGIN " + behavior.String())
	return err
}

// runLocked compiles and drives sql to completion. Caller holds the
// lock.
func (c *Connection) runLocked(sql string) (ExecStatus, error) {
	st, err := c.conn.Prepare(sql)
	if err != nil {
		return ExecCompleted, execErr(sql, err)
	}
	defer st.Close()
	return runToCompletion(st, sql)
}

// forgetStmt drops a closed statement from the registry. Caller holds
// the lock.
func (c *Connection) forgetStmt(stmt *Statement) {
	delete(c.stmts, stmt)
}

// Close releases the connection and every statement prepared on it. An
// open transaction is rolled back by the engine; a transaction handle
// still holding a finish obligation keeps it, so its drop guard will
// still fire if the handle is discarded unfinished.
func (c *Connection) Close() error {
	c.sem <- struct{}{}
	defer func() { <-c.sem }()
	if c.closed {
		return nil
	}
	var errs error
	for stmt := range c.stmts {
		errs = multierr.Append(errs, stmt.closeLocked())
	}
	c.stmts = nil
	if err := c.conn.Close(); err != nil {
		errs = multierr.Append(errs, execErr("", err))
	}
	c.closed = true
	c.log.Debug("connection closed", zap.Error(errs))
	return errs
}
