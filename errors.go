package rwconn

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgconn"
)

// Kind classifies an *Error by the layer that failed.
type Kind int

const (
	// ConnectionError is a connect or disconnect failure.
	ConnectionError Kind = iota + 1
	// TransactionError is a start, commit or rollback failure.
	TransactionError
	// StatementError is a prepare failure: malformed SQL, wrong arity.
	StatementError
	// ExecutionError is an execute or fetch failure. Cursor exhaustion is
	// never reported as an ExecutionError.
	ExecutionError
	// CacheError is a cache store failure. The caching coordinator never
	// returns it from a query; it is only seen by Config.OnError.
	CacheError
)

func (k Kind) String() string {
	switch k {
	case ConnectionError:
		return "connection"
	case TransactionError:
		return "transaction"
	case StatementError:
		return "statement"
	case ExecutionError:
		return "execution"
	case CacheError:
		return "cache"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Error is returned by every failing operation of this package. Code and
// Message carry the driver's error code and message unchanged when the
// driver exposes them.
type Error struct {
	Kind    Kind
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("rwconn: %s %s failed: %s (code %s)", e.Kind, e.Op, msg, e.Code)
	}
	return fmt.Sprintf("rwconn: %s %s failed: %s", e.Kind, e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind, so that
// errors.Is(err, ErrExecution) works without errors.As.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is matching by kind.
var (
	ErrConnection  = &Error{Kind: ConnectionError}
	ErrTransaction = &Error{Kind: TransactionError}
	ErrStatement   = &Error{Kind: StatementError}
	ErrExecution   = &Error{Kind: ExecutionError}
	ErrCache       = &Error{Kind: CacheError}
)

// ErrNotConnected is wrapped by ConnectionError when a query is issued
// before Connect.
var ErrNotConnected = errors.New("database is not connected")

// ErrAlreadyStarted is wrapped by TransactionError when Start is called on a
// started transaction.
var ErrAlreadyStarted = errors.New("transaction is already started")

func newError(kind Kind, op string, err error) *Error {
	e := &Error{
		Kind: kind,
		Op:   op,
		Err:  err,
	}

	var pgErr *pgconn.PgError
	var myErr *mysql.MySQLError
	switch {
	case errors.As(err, &pgErr):
		e.Code = pgErr.Code
		e.Message = pgErr.Message
	case errors.As(err, &myErr):
		e.Code = strconv.Itoa(int(myErr.Number))
		e.Message = myErr.Message
	}

	return e
}

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
