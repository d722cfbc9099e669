/*
Package rwconn provides a data access layer that runs every query through one
of two transaction contexts of a single database handle: a read-only one that
is restarted for each read, so reads always see the latest committed data,
and a read-write one that is either managed by the caller or started and
committed around a single call. An optional read-through cache sits in front
of the reads.

Usage:

	import (
		"github.com/prashanthpai/rwconn"
		_ "github.com/jackc/pgx/v4/stdlib"
	)

	func main() {
		...
		c, err := rwconn.NewCachingCoordinator(&rwconn.Config{
			DriverName: "pgx",
		})
		...
		defer c.Close(ctx)

		// Redis cache; Connect does not connect until the first cache miss
		if err := c.SetCache(rwconn.CacheConfig{Host: "127.0.0.1"}); err != nil {
			...
		}
		_ = c.Connect(ctx, rwconn.Credentials{
			User: "app", Password: "secret", Path: "127.0.0.1/5432:books",
		})

		// read: cached, read-only transaction
		row, err := c.FetchOne(ctx, `SELECT name, pages FROM books WHERE id = $1`, []interface{}{42})

		// write: auto-started and committed write transaction, never cached
		_, err = c.Execute(ctx, `UPDATE books SET pages = $1 WHERE id = $2`, []interface{}{100, 42}, rwconn.Write())

		// several writes in one transaction
		err = c.StartWrite(ctx, rwconn.ReadWriteNoWait)
		...
		err = c.CommitWrite(ctx, false)
	}

Writes do not invalidate cached reads. Cached results may be stale until their
TTL expires or ClearCache is called, for example with QueryPattern.

The TTL of a cached read is taken from WithTTL, then from a cache attribute in
an SQL comment, then from the default TTL:

	-- @cache-ttl 30
	-- @cache-max-rows 10
	SELECT name, pages FROM books WHERE pages > $1

A query with a "-- @cache-skip" comment is never cached.
*/
package rwconn
