package rwconn

import (
	"database/sql"
	"time"
)

// AccessMode is the access mode of a transaction.
type AccessMode int

const (
	ReadOnly AccessMode = iota
	ReadWrite
)

// WaitMode controls whether a transaction waits on lock conflicts.
type WaitMode int

const (
	// NoWait makes lock conflicts fail immediately. database/sql has no
	// portable way to express this; see Config.NoWaitSQL.
	NoWait WaitMode = iota
	Wait
)

// TxOptions configures a Transaction.
type TxOptions struct {
	Access    AccessMode
	Wait      WaitMode
	Isolation sql.IsolationLevel
}

// Transaction presets used by the coordinator.
var (
	ReadOnlyNoWait  = TxOptions{Access: ReadOnly, Wait: NoWait}
	ReadWriteNoWait = TxOptions{Access: ReadWrite, Wait: NoWait}
)

func (o TxOptions) sqlOptions() *sql.TxOptions {
	return &sql.TxOptions{
		Isolation: o.Isolation,
		ReadOnly:  o.Access == ReadOnly,
	}
}

// CallOption modifies a single FetchAll/FetchOne/FetchScalar/Execute call.
type CallOption func(*callOptions)

type callOptions struct {
	write bool
	lock  bool
	ttl   time.Duration
}

// Write runs the call in the read-write transaction. Write calls are never
// cached.
func Write() CallOption {
	return func(o *callOptions) {
		o.write = true
	}
}

// WithLock invokes Config.Lock on the write transaction before the query
// runs. It has no effect on read calls.
func WithLock() CallOption {
	return func(o *callOptions) {
		o.lock = true
	}
}

// WithTTL overrides the cache TTL for a read call.
func WithTTL(ttl time.Duration) CallOption {
	return func(o *callOptions) {
		o.ttl = ttl
	}
}

func newCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
