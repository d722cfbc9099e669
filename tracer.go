package rwconn

import (
	"context"
	"database/sql/driver"
	"sync/atomic"

	"github.com/ngrok/sqlmw"
	"go.uber.org/zap"
)

// Tracer is a ngrok/sqlmw interceptor that logs and counts what the driver
// actually does with transactions below database/sql: physical commits,
// rollbacks and pings.
type Tracer struct {
	l     *zap.Logger
	stats TracerStats
	sqlmw.NullInterceptor
}

// TracerStats contains driver level counters.
type TracerStats struct {
	Commits   uint64
	Rollbacks uint64
	Pings     uint64
	Errors    uint64
}

// NewTracer returns a new Tracer logging to l, which may be nil.
func NewTracer(l *zap.Logger) *Tracer {
	if l == nil {
		l = zap.NewNop()
	}
	return &Tracer{l: l}
}

// Driver wraps d so that it is traced. Register the result with
// sql.Register and use its name as Config.DriverName.
func (t *Tracer) Driver(d driver.Driver) driver.Driver {
	return sqlmw.Driver(d, t)
}

func (t *Tracer) done(what string, counter *uint64, err error) {
	if err != nil {
		atomic.AddUint64(&t.stats.Errors, 1)
		t.l.Warn("Driver "+what+" failed", zap.Error(err))
		return
	}
	atomic.AddUint64(counter, 1)
	t.l.Debug("Driver " + what)
}

// TxCommit intercepts driver.Tx Commit calls.
func (t *Tracer) TxCommit(ctx context.Context, tx driver.Tx) error {
	err := tx.Commit()
	t.done("commit", &t.stats.Commits, err)
	return err
}

// TxRollback intercepts driver.Tx Rollback calls.
func (t *Tracer) TxRollback(ctx context.Context, tx driver.Tx) error {
	err := tx.Rollback()
	t.done("rollback", &t.stats.Rollbacks, err)
	return err
}

// ConnPing intercepts driver.Pinger Ping calls.
func (t *Tracer) ConnPing(ctx context.Context, p driver.Pinger) error {
	err := p.Ping(ctx)
	t.done("ping", &t.stats.Pings, err)
	return err
}

// Stats returns tracer stats.
func (t *Tracer) Stats() *TracerStats {
	return &TracerStats{
		Commits:   atomic.LoadUint64(&t.stats.Commits),
		Rollbacks: atomic.LoadUint64(&t.stats.Rollbacks),
		Pings:     atomic.LoadUint64(&t.stats.Pings),
		Errors:    atomic.LoadUint64(&t.stats.Errors),
	}
}
