package stable

import (
	"context"
	"runtime"
)

// TransactionBehavior selects the BEGIN mode of a transaction. It is
// fixed at transaction start.
type TransactionBehavior uint8

const (
	// Deferred acquires no lock until the first access.
	Deferred TransactionBehavior = iota
	// Immediate acquires a write lock at BEGIN.
	Immediate
	// Exclusive acquires an exclusive lock at BEGIN.
	Exclusive
)

func (b TransactionBehavior) String() string {
	switch b {
	case Immediate:
		return "IMMEDIATE"
	case Exclusive:
		return "EXCLUSIVE"
	default:
		return "DEFERRED"
	}
}

// DropBehavior governs what Finish does with a transaction that was
// neither committed nor rolled back explicitly.
type DropBehavior uint8

const (
	// DropRollback rolls the transaction back. The default.
	DropRollback DropBehavior = iota
	// DropCommit commits the transaction, rolling back if the commit
	// fails.
	DropCommit
	// DropIgnore leaves the transaction open on the connection.
	DropIgnore
	// DropPanic panics.
	DropPanic
)

// Transaction is an open transaction on a Connection. It starts Active
// and must be consumed by exactly one of Commit, Rollback, or Finish;
// discarding an Active transaction is a programming error that aborts
// the process. Statements inside the transaction run through the
// connection as usual.
type Transaction struct {
	conn     *Connection
	behavior TransactionBehavior
	drop     DropBehavior
	// checked transactions hold the connection's single-open slot and
	// release it on any terminal call.
	checked    bool
	mustFinish bool
	finished   bool
}

func newTransaction(c *Connection, behavior TransactionBehavior, checked bool) *Transaction {
	tx := &Transaction{
		conn:       c,
		behavior:   behavior,
		checked:    checked,
		mustFinish: true,
	}
	runtime.SetFinalizer(tx, (*Transaction).dropCheck)
	return tx
}

// Behavior returns the BEGIN mode the transaction was started with.
func (tx *Transaction) Behavior() TransactionBehavior { return tx.behavior }

// DropBehavior returns the current finalize policy.
func (tx *Transaction) DropBehavior() DropBehavior { return tx.drop }

// SetDropBehavior sets the policy Finish applies.
func (tx *Transaction) SetDropBehavior(b DropBehavior) { tx.drop = b }

// Commit commits the transaction. The finish obligation is cleared
// before the COMMIT is issued, so a commit failure does not also
// trigger the drop guard; the failure simply propagates.
func (tx *Transaction) Commit(ctx context.Context) error {
	return tx.end(ctx, "COMMIT")
}

// Rollback rolls the transaction back. Like Commit, the finish
// obligation is cleared first.
func (tx *Transaction) Rollback(ctx context.Context) error {
	return tx.end(ctx, "ROLLBACK")
}

func (tx *Transaction) end(ctx context.Context, sql string) error {
	if tx.finished {
		return ErrClosed
	}
	if err := tx.conn.acquire(ctx, "transaction_end"); err != nil {
		return err
	}
	defer tx.conn.release()
	tx.disarm()
	if tx.checked {
		tx.conn.activeTx = false
	}
	if tx.conn.closed {
		return ErrClosed
	}
	_, err := tx.conn.runLocked(sql)
	return err
}

// Finish consumes the transaction according to its drop behavior. If
// the engine has already left the transaction, because an earlier
// statement failure rolled it back, Finish succeeds trivially under
// every policy, Panic included; only an actually active transaction is
// subject to the drop behavior. Finish on an already finished
// transaction is a no-op.
func (tx *Transaction) Finish(ctx context.Context) error {
	if tx.finished {
		return nil
	}
	if err := tx.conn.acquire(ctx, "transaction_finish"); err != nil {
		return err
	}
	defer tx.conn.release()
	if tx.drop == DropIgnore {
		tx.disarm()
		if tx.checked {
			tx.conn.activeTx = false
		}
		return nil
	}
	if tx.conn.closed {
		tx.disarm()
		if tx.checked {
			tx.conn.activeTx = false
		}
		return ErrClosed
	}
	if tx.conn.conn.AutoCommit() {
		// The engine rolled the transaction back on its own.
		tx.disarm()
		if tx.checked {
			tx.conn.activeTx = false
		}
		return nil
	}
	if tx.drop == DropPanic {
		panic("stable: transaction finished under the Panic drop policy")
	}
	tx.disarm()
	if tx.checked {
		tx.conn.activeTx = false
	}
	if tx.drop == DropCommit {
		if _, err := tx.conn.runLocked("COMMIT"); err != nil {
			_, _ = tx.conn.runLocked("ROLLBACK")
			return err
		}
		return nil
	}
	_, err := tx.conn.runLocked("ROLLBACK")
	return err
}

// disarm clears the finish obligation and the drop guard. Caller holds
// the connection lock or owns the transaction exclusively.
func (tx *Transaction) disarm() {
	tx.mustFinish = false
	tx.finished = true
	runtime.SetFinalizer(tx, nil)
}

// dropCheck is the drop guard: it runs as a finalizer when an Active
// transaction is garbage collected, and panicking there takes the
// process down. Forgotten transactions fail loudly instead of being
// silently rolled back.
func (tx *Transaction) dropCheck() {
	if tx.mustFinish {
		panic("stable: transaction dropped without commit, rollback, or finish")
	}
}
