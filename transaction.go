package rwconn

import (
	"context"
	"database/sql"
	"errors"
)

// Transaction owns at most one database/sql transaction bound to a
// Database. The handle is non-nil iff the transaction is started.
type Transaction struct {
	opts      TxOptions
	db        *Database
	tx        *sql.Tx
	noWaitSQL string
}

// NewTransaction returns a transaction that is not started. noWaitSQL, when
// not empty, is executed right after begin for NoWait transactions.
func NewTransaction(noWaitSQL string) *Transaction {
	return &Transaction{
		noWaitSQL: noWaitSQL,
	}
}

// Start begins a new transaction on db. Starting a started transaction is an
// error; roll it back first.
//
// The transaction holds one physical connection until it is finalized.
// Canceling ctx does not roll the transaction back behind IsStarted; it
// lives until Commit or Rollback.
func (t *Transaction) Start(ctx context.Context, opts TxOptions, db *Database) error {
	if t.tx != nil {
		return newError(TransactionError, "start", ErrAlreadyStarted)
	}
	if db == nil || !db.IsConnected() {
		return newError(ConnectionError, "start", ErrNotConnected)
	}

	tx, err := t.begin(ctx, opts, db)
	if err != nil {
		return err
	}

	t.tx = tx
	t.opts = opts
	t.db = db

	return nil
}

func (t *Transaction) begin(ctx context.Context, opts TxOptions, db *Database) (*sql.Tx, error) {
	tx, err := db.DB().BeginTx(context.WithoutCancel(ctx), opts.sqlOptions())
	if err != nil {
		return nil, newError(TransactionError, "start", err)
	}

	if opts.Wait == NoWait && t.noWaitSQL != "" {
		if _, err := tx.ExecContext(ctx, t.noWaitSQL); err != nil {
			_ = tx.Rollback()
			return nil, newError(TransactionError, "start", err)
		}
	}

	return tx, nil
}

// Commit commits the transaction. It is a no-op when the transaction is not
// started. With retaining set a new transaction with the same options is
// begun immediately and the Transaction stays started.
//
// A failed commit leaves the transaction started.
func (t *Transaction) Commit(ctx context.Context, retaining bool) error {
	if t.tx == nil {
		return nil
	}

	if err := t.tx.Commit(); err != nil {
		return newError(TransactionError, "commit", err)
	}
	t.tx = nil

	if retaining {
		return t.restart(ctx)
	}
	return nil
}

// Rollback rolls the transaction back. Retaining semantics match Commit.
// A transaction that database/sql already finalized, for example after a
// failed commit, is released without error.
func (t *Transaction) Rollback(ctx context.Context, retaining bool) error {
	if t.tx == nil {
		return nil
	}

	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return newError(TransactionError, "rollback", err)
	}
	t.tx = nil

	if retaining {
		return t.restart(ctx)
	}
	return nil
}

// restart begins a replacement transaction after a retaining commit or
// rollback. On failure the transaction is left not started.
func (t *Transaction) restart(ctx context.Context) error {
	tx, err := t.begin(ctx, t.opts, t.db)
	if err != nil {
		return err
	}
	t.tx = tx
	return nil
}

// IsStarted reports whether the transaction holds a handle.
func (t *Transaction) IsStarted() bool {
	return t.tx != nil
}

// Options returns the options the transaction was last started with.
func (t *Transaction) Options() TxOptions {
	return t.opts
}

// Tx returns the underlying transaction, nil when not started.
func (t *Transaction) Tx() *sql.Tx {
	return t.tx
}
