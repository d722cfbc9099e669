package rwconn

import (
	"context"
	"os"
)

// TableLock returns a LockFunc that serializes writers through a lock table:
// it inserts and then deletes a row holding the process id in the write
// transaction, so a concurrent writer doing the same conflicts on the table.
// The table needs a single id column. Placeholders use the "?" style of
// go-sql-driver/mysql; use PostgresTableLock with pgx, or TableLockSQL for
// any other placeholder syntax.
func TableLock(table string) LockFunc {
	return TableLockSQL(
		"insert into "+table+"(id) values(?)",
		"delete from "+table+" where id = ?",
	)
}

// PostgresTableLock is TableLock with "$1" placeholders, for pgx.
func PostgresTableLock(table string) LockFunc {
	return TableLockSQL(
		"insert into "+table+"(id) values($1)",
		"delete from "+table+" where id = $1",
	)
}

// TableLockSQL is TableLock with explicit insert and delete statements, each
// taking the process id as its only parameter.
func TableLockSQL(insertSQL, deleteSQL string) LockFunc {
	return func(ctx context.Context, tx *Transaction) error {
		pid := int64(os.Getpid())

		for _, text := range []string{insertSQL, deleteSQL} {
			q := NewQuery(tx, text)
			_, err := q.Execute(ctx, pid)
			if derr := q.Drop(); err == nil {
				err = derr
			}
			if err != nil {
				return err
			}
		}

		return nil
	}
}
