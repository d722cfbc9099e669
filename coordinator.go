package rwconn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// LockFunc is the write serialization hook. It runs inside the started write
// transaction before the query of a write call made WithLock.
type LockFunc func(ctx context.Context, tx *Transaction) error

// Config is the configuration passed to NewCoordinator and
// NewCachingCoordinator.
type Config struct {
	// DriverName is the registered database/sql driver. This is a required
	// field.
	DriverName string
	// DSN renders Credentials into a data source name. Defaults to
	// PostgresDSN.
	DSN DSNFunc
	// NoWaitSQL is executed inside every NoWait transaction right after it
	// begins, e.g. "SET LOCAL lock_timeout = '1ms'". Empty disables it.
	NoWaitSQL string
	// Lock is called for write calls made WithLock. Nil disables locking.
	Lock LockFunc
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// Metrics is optional and may be shared by many coordinators.
	Metrics *Metrics
	// OnError is called whenever the cache fails. Cache failures never abort
	// a query, so use this hook to observe them. Only used by
	// CachingCoordinator.
	OnError func(error)
}

// Conn is the query surface shared by Coordinator and CachingCoordinator.
type Conn interface {
	Connect(ctx context.Context, creds Credentials) error
	Disconnect(ctx context.Context) error
	StartWrite(ctx context.Context, opts TxOptions) error
	CommitWrite(ctx context.Context, retain bool) error
	RollbackWrite(ctx context.Context, retain bool) error
	FetchAll(ctx context.Context, sqlText string, params []interface{}, opts ...CallOption) (ResultSet, error)
	FetchOne(ctx context.Context, sqlText string, params []interface{}, opts ...CallOption) (*Row, error)
	FetchScalar(ctx context.Context, sqlText string, params []interface{}, opts ...CallOption) (interface{}, error)
	Execute(ctx context.Context, sqlText string, params []interface{}, opts ...CallOption) (*Row, error)
	Close(ctx context.Context) error
}

// Coordinator owns one physical connection, a read-only transaction that is
// restarted for every read and a read-write transaction that is either
// managed by the caller or started and committed around a single call.
//
// A Coordinator is not safe for concurrent use; use one per request or
// worker.
type Coordinator struct {
	dsn     DSNFunc
	lock    LockFunc
	db      *Database
	readTx  *Transaction
	writeTx *Transaction
	l       *zap.Logger
	metrics *Metrics
}

// NewCoordinator returns a disconnected Coordinator.
func NewCoordinator(config *Config) (*Coordinator, error) {
	if config == nil {
		return nil, fmt.Errorf("config can't be nil")
	}

	if config.DriverName == "" {
		return nil, fmt.Errorf("driver name must be set in Config")
	}

	dsn := config.DSN
	if dsn == nil {
		dsn = PostgresDSN
	}

	l := config.Logger
	if l == nil {
		l = zap.NewNop()
	}

	return &Coordinator{
		dsn:     dsn,
		lock:    config.Lock,
		db:      NewDatabase(config.DriverName),
		readTx:  NewTransaction(config.NoWaitSQL),
		writeTx: NewTransaction(config.NoWaitSQL),
		l:       l,
		metrics: config.Metrics,
	}, nil
}

// Connect establishes the physical connection.
func (c *Coordinator) Connect(ctx context.Context, creds Credentials) error {
	if err := c.db.Connect(ctx, c.dsn(creds), creds.Pooled); err != nil {
		c.l.Error("Connect failed", zap.String("path", creds.Path), zap.Error(err))
		return err
	}

	c.l.Info("Connected", zap.String("path", creds.Path), zap.Bool("pooled", creds.Pooled))
	return nil
}

// Disconnect rolls back both transactions and releases the physical
// connection. The connection is released even when a rollback fails.
func (c *Coordinator) Disconnect(ctx context.Context) error {
	errs := []error{
		c.readTx.Rollback(ctx, false),
		c.writeTx.Rollback(ctx, false),
		c.db.Disconnect(),
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	c.l.Info("Disconnected")
	return nil
}

// Close is Disconnect. Every Coordinator must be closed so that no started
// transaction outlives it.
func (c *Coordinator) Close(ctx context.Context) error {
	return c.Disconnect(ctx)
}

// IsConnected reports whether the physical connection is held.
func (c *Coordinator) IsConnected() bool {
	return c.db.IsConnected()
}

// WriteStarted reports whether the read-write transaction is started.
func (c *Coordinator) WriteStarted() bool {
	return c.writeTx.IsStarted()
}

// StartWrite starts the read-write transaction for the caller, who must then
// finish it with CommitWrite or RollbackWrite. A write transaction that is
// already active is rolled back first. The transaction outlives ctx.
func (c *Coordinator) StartWrite(ctx context.Context, opts TxOptions) error {
	if err := c.writeTx.Rollback(ctx, false); err != nil {
		return err
	}
	return c.writeTx.Start(ctx, opts, c.db)
}

// CommitWrite commits the read-write transaction; a no-op if not started.
func (c *Coordinator) CommitWrite(ctx context.Context, retain bool) error {
	return c.writeTx.Commit(ctx, retain)
}

// RollbackWrite rolls back the read-write transaction; a no-op if not
// started.
func (c *Coordinator) RollbackWrite(ctx context.Context, retain bool) error {
	return c.writeTx.Rollback(ctx, retain)
}

// begin picks the transaction for a call and reports whether the call owns
// committing it.
func (c *Coordinator) begin(ctx context.Context, o callOptions) (*Transaction, bool, error) {
	if !o.write {
		// A failed read can leave the read context aborted; release it when
		// it cannot be committed.
		if err := c.readTx.Commit(ctx, false); err != nil {
			c.l.Warn("Stale read transaction not committed", zap.Error(err))
			if rerr := c.readTx.Rollback(ctx, false); rerr != nil {
				return nil, false, rerr
			}
		}
		if err := c.readTx.Start(ctx, ReadOnlyNoWait, c.db); err != nil {
			return nil, false, err
		}
		return c.readTx, true, nil
	}

	var autoCommit bool
	if !c.writeTx.IsStarted() {
		if err := c.writeTx.Start(ctx, ReadWriteNoWait, c.db); err != nil {
			return nil, false, err
		}
		autoCommit = true
	}

	if o.lock && c.lock != nil {
		if err := c.lock(ctx, c.writeTx); err != nil {
			return nil, false, err
		}
	}

	return c.writeTx, autoCommit, nil
}

// run executes sqlText in the transaction chosen for opts and hands the
// executed query to fetch. The query is always dropped. Failures leave the
// transaction as the driver left it.
func (c *Coordinator) run(ctx context.Context, sqlText string, params []interface{}, o callOptions, fetch func(q *Query) error) error {
	if !c.db.IsConnected() {
		return newError(ConnectionError, "query", ErrNotConnected)
	}

	start := time.Now()

	tx, autoCommit, err := c.begin(ctx, o)
	if err != nil {
		return err
	}

	q := NewQuery(tx, sqlText)
	_, err = q.Execute(ctx, params...)
	if err == nil {
		err = fetch(q)
	}
	if derr := q.Drop(); err == nil {
		err = derr
	}

	c.metrics.query(o.write, err)

	if err != nil {
		c.l.Debug("Query failed", zap.Bool("write", o.write), zap.String("sql", sqlText), zap.Error(err))
		return err
	}

	if autoCommit {
		if err := tx.Commit(ctx, false); err != nil {
			return err
		}
		c.metrics.autoCommit(o.write)
	}

	c.l.Debug(
		"Query done",
		zap.Bool("write", o.write), zap.Bool("auto_commit", autoCommit),
		zap.String("sql", sqlText), zap.Duration("took", time.Since(start)),
	)

	return nil
}

func (c *Coordinator) fetchAll(ctx context.Context, sqlText string, params []interface{}, o callOptions) (ResultSet, error) {
	res := ResultSet{}
	err := c.run(ctx, sqlText, params, o, func(q *Query) error {
		for {
			row, err := q.FetchHashed()
			if err != nil {
				return err
			}
			if row == nil {
				return nil
			}
			res = append(res, row)
		}
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Coordinator) fetchOne(ctx context.Context, sqlText string, params []interface{}, o callOptions) (*Row, error) {
	var row *Row
	err := c.run(ctx, sqlText, params, o, func(q *Query) error {
		var err error
		row, err = q.FetchHashed()
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// FetchAll returns every row of sqlText. Read calls run in a freshly started
// read-only transaction. Write calls use the caller's write transaction if
// one is started, otherwise a write transaction is started and committed
// around the call.
func (c *Coordinator) FetchAll(ctx context.Context, sqlText string, params []interface{}, opts ...CallOption) (ResultSet, error) {
	return c.fetchAll(ctx, sqlText, params, newCallOptions(opts))
}

// FetchOne returns the first row of sqlText, or nil when there is none.
// Transactions are selected as for FetchAll.
func (c *Coordinator) FetchOne(ctx context.Context, sqlText string, params []interface{}, opts ...CallOption) (*Row, error) {
	return c.fetchOne(ctx, sqlText, params, newCallOptions(opts))
}

// FetchScalar returns the first column of the first row, or nil when there
// is no row.
func (c *Coordinator) FetchScalar(ctx context.Context, sqlText string, params []interface{}, opts ...CallOption) (interface{}, error) {
	row, err := c.FetchOne(ctx, sqlText, params, opts...)
	if err != nil {
		return nil, err
	}
	return row.First(), nil
}

// Execute is FetchOne, for statements and procedures.
func (c *Coordinator) Execute(ctx context.Context, sqlText string, params []interface{}, opts ...CallOption) (*Row, error) {
	return c.FetchOne(ctx, sqlText, params, opts...)
}

// check interfaces
var (
	_ Conn = (*Coordinator)(nil)
)
