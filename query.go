package rwconn

import (
	"context"
	"database/sql"
	"errors"
)

// errNotStarted is wrapped when a Query is used without a started
// transaction.
var errNotStarted = errors.New("transaction is not started")

// Query is a statement bound to a Transaction. A Query is not safe for
// concurrent use.
type Query struct {
	tx   *Transaction
	text string
	stmt *sql.Stmt
	rows *sql.Rows
	cols *columns
}

// NewQuery returns an unprepared query for sqlText bound to tx.
func NewQuery(tx *Transaction, sqlText string) *Query {
	return &Query{
		tx:   tx,
		text: sqlText,
	}
}

// Bind rebinds the query to tx. A statement prepared on a different
// transaction is dropped first.
func (q *Query) Bind(tx *Transaction) error {
	if q.tx == tx {
		return nil
	}
	if err := q.Drop(); err != nil {
		return err
	}
	q.tx = tx
	return nil
}

// SetSQL replaces the statement text, dropping any prepared statement so
// that stale text can never execute.
func (q *Query) SetSQL(sqlText string) error {
	if err := q.Drop(); err != nil {
		return err
	}
	q.text = sqlText
	return nil
}

// SQL returns the statement text.
func (q *Query) SQL() string {
	return q.text
}

// IsPrepared reports whether a prepared statement is held.
func (q *Query) IsPrepared() bool {
	return q.stmt != nil
}

// Prepare prepares the statement in the bound transaction. It is a no-op
// when already prepared.
func (q *Query) Prepare(ctx context.Context) error {
	if q.stmt != nil {
		return nil
	}
	if q.tx == nil || !q.tx.IsStarted() {
		return newError(StatementError, "prepare", errNotStarted)
	}

	stmt, err := q.tx.Tx().PrepareContext(ctx, q.text)
	if err != nil {
		return newError(StatementError, "prepare", err)
	}
	q.stmt = stmt

	return nil
}

// Execute runs the statement, preparing it first if needed. params is
// either a list of values or a single []interface{} holding them. Parameter
// count is not checked here; database/sql and the driver report mismatches.
//
// A statement that returns columns leaves a cursor open for Fetch and
// FetchHashed and Execute returns nil. A statement without result columns
// (DDL, DML) is run to completion and Execute returns an empty, non-nil
// placeholder row.
func (q *Query) Execute(ctx context.Context, params ...interface{}) ([]interface{}, error) {
	if err := q.Prepare(ctx); err != nil {
		return nil, err
	}
	if err := q.Close(); err != nil {
		return nil, err
	}

	rows, err := q.stmt.QueryContext(ctx, normalizeParams(params)...)
	if err != nil {
		return nil, newError(ExecutionError, "execute", err)
	}

	names, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, newError(ExecutionError, "execute", err)
	}

	if len(names) == 0 {
		for rows.Next() {
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, newError(ExecutionError, "execute", err)
		}
		return make([]interface{}, len(names)), nil
	}

	q.rows = rows
	q.cols = newColumns(names)

	return nil, nil
}

func normalizeParams(params []interface{}) []interface{} {
	if len(params) == 1 {
		if list, ok := params[0].([]interface{}); ok {
			return list
		}
	}
	return params
}

// Columns returns the column names of the open cursor.
func (q *Query) Columns() []string {
	if q.cols == nil {
		return nil
	}
	return q.cols.names
}

// next advances the cursor. It returns false with a nil error when the
// cursor is exhausted or there is no cursor at all.
func (q *Query) next() ([]interface{}, bool, error) {
	if q.rows == nil {
		return nil, false, nil
	}

	if !q.rows.Next() {
		if err := q.rows.Err(); err != nil {
			return nil, false, newError(ExecutionError, "fetch", err)
		}
		return nil, false, nil
	}

	vals := make([]interface{}, len(q.cols.names))
	ptrs := make([]interface{}, len(vals))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := q.rows.Scan(ptrs...); err != nil {
		return nil, false, newError(ExecutionError, "fetch", err)
	}

	return vals, true, nil
}

// Fetch returns the next row as a positional list, or nil once the cursor
// is exhausted.
func (q *Query) Fetch() ([]interface{}, error) {
	vals, ok, err := q.next()
	if !ok {
		return nil, err
	}
	return vals, nil
}

// FetchHashed returns the next row keyed by column name, or nil once the
// cursor is exhausted.
func (q *Query) FetchHashed() (*Row, error) {
	vals, ok, err := q.next()
	if !ok {
		return nil, err
	}
	return &Row{cols: q.cols, vals: vals}, nil
}

// Close releases the open cursor and keeps the prepared statement.
func (q *Query) Close() error {
	if q.rows == nil {
		return nil
	}

	err := q.rows.Close()
	q.rows = nil
	q.cols = nil

	if err != nil {
		return newError(ExecutionError, "close", err)
	}
	return nil
}

// Drop releases the cursor and the prepared statement. It is idempotent and
// always leaves the query unprepared, even when releasing fails.
func (q *Query) Drop() error {
	err := q.Close()

	if q.stmt != nil {
		if serr := q.stmt.Close(); err == nil && serr != nil {
			err = newError(StatementError, "drop", serr)
		}
		q.stmt = nil
	}

	return err
}

// Unprepare is an alias of Drop.
func (q *Query) Unprepare() error {
	return q.Drop()
}
