package rwconn

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgconn"
	"github.com/stretchr/testify/require"
)

func TestNewError(t *testing.T) {
	assert := require.New(t)

	tcs := []struct {
		kind     Kind
		err      error
		code     string
		message  string
		sentinel error
	}{
		{
			kind:     ExecutionError,
			err:      &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"},
			code:     "23505",
			message:  "duplicate key value violates unique constraint",
			sentinel: ErrExecution,
		},
		{
			kind:     StatementError,
			err:      fmt.Errorf("wrapped: %w", &mysql.MySQLError{Number: 1064, Message: "You have an error in your SQL syntax"}),
			code:     "1064",
			message:  "You have an error in your SQL syntax",
			sentinel: ErrStatement,
		},
		{
			kind:     ConnectionError,
			err:      errors.New("dial tcp: connection refused"),
			sentinel: ErrConnection,
		},
	}

	for _, tc := range tcs {
		err := newError(tc.kind, "op", tc.err)
		assert.Equal(tc.code, err.Code)
		assert.Equal(tc.message, err.Message)
		assert.Equal(tc.kind, KindOf(err))
		assert.ErrorIs(err, tc.sentinel)
		assert.ErrorIs(err, tc.err)
		assert.False(errors.Is(err, ErrCache))
	}
}

func TestErrorString(t *testing.T) {
	assert := require.New(t)

	err := newError(ExecutionError, "execute", &pgconn.PgError{Code: "40001", Message: "could not serialize access"})
	assert.Equal("rwconn: execution execute failed: could not serialize access (code 40001)", err.Error())

	err = newError(TransactionError, "start", ErrAlreadyStarted)
	assert.Equal("rwconn: transaction start failed: transaction is already started", err.Error())
}

func TestKindOf(t *testing.T) {
	assert := require.New(t)

	assert.Equal(Kind(0), KindOf(nil))
	assert.Equal(Kind(0), KindOf(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", newError(CacheError, "get", errors.New("timeout")))
	assert.Equal(CacheError, KindOf(wrapped))
	assert.ErrorIs(wrapped, ErrCache)
}
