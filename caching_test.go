package rwconn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prashanthpai/rwconn/mocks"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/dgraph-io/ristretto"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newRistretto(t *testing.T) *Ristretto {
	t.Helper()

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return NewRistretto(c)
}

func newCaching(t *testing.T, cc interface{}, config *Config) (*CachingCoordinator, sqlmock.Sqlmock) {
	t.Helper()

	qMock, creds := newMock(t)
	if config == nil {
		config = new(Config)
	}
	config.DriverName = "sqlmock"

	c, err := NewCachingCoordinator(config)
	require.NoError(t, err)

	switch v := cc.(type) {
	case *Ristretto:
		require.NoError(t, c.UseCache(v, 0))
	case *mocks.Cacher:
		require.NoError(t, c.UseCache(v, 0))
	}

	require.NoError(t, c.Connect(context.Background(), creds))
	return c, qMock
}

func TestNewCachingCoordinator(t *testing.T) {
	assert := require.New(t)

	c, err := NewCachingCoordinator(nil)
	assert.Nil(c)
	assert.NotNil(err)

	c, err = NewCachingCoordinator(&Config{DriverName: "sqlmock"})
	assert.Nil(err)
	assert.NotNil(c.Base())
	assert.Equal(Disconnected, c.State())
	assert.Equal("disconnected", c.State().String())
	assert.Equal(&Stats{}, c.Stats())

	assert.NotNil(c.UseCache(nil, 0))
}

func TestCachingMissThenHit(t *testing.T) {
	assert := require.New(t)

	rc := newRistretto(t)
	c, qMock := newCaching(t, rc, nil)
	assert.Equal(Disconnected, c.State())

	query := "select id, NAME from users where id = ?"
	params := []interface{}{1}
	expectRead(qMock, query, sqlmock.NewRows([]string{"id", "NAME"}).AddRow(int64(1), "John"))

	row, err := c.FetchOne(context.Background(), query, params)
	assert.Nil(err)
	assert.Equal("John", row.Value("name"))
	assert.Equal(Connected, c.State())
	assert.Equal(&Stats{Misses: 1}, c.Stats())

	cached, err := c.FetchOne(context.Background(), query, params)
	assert.Nil(err)
	assert.Equal(row.Map(), cached.Map())
	assert.Equal(row.Columns(), cached.Columns())
	assert.Equal(&Stats{Hits: 1, Misses: 1}, c.Stats())

	assert.Nil(qMock.ExpectationsWereMet())

	// a coordinator sharing the cache never connects on a hit
	other, err := NewCachingCoordinator(&Config{DriverName: "sqlmock"})
	assert.Nil(err)
	assert.Nil(other.UseCache(rc, 0))
	assert.Nil(other.Connect(context.Background(), Credentials{DSN: "fakeDSN:nowhere"}))

	v, err := other.FetchScalar(context.Background(), query, params)
	assert.Nil(err)
	assert.Equal(int64(1), v)
	assert.Equal(Disconnected, other.State())
}

func TestCachingShapes(t *testing.T) {
	assert := require.New(t)

	c, qMock := newCaching(t, newRistretto(t), nil)

	query := "select id from users"
	expectRead(qMock, query, sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))
	expectRead(qMock, query, sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))

	row, err := c.FetchOne(context.Background(), query, nil)
	assert.Nil(err)
	assert.Equal(int64(1), row.First())

	// FetchAll of the same query is not served FetchOne's entry
	res, err := c.FetchAll(context.Background(), query, nil)
	assert.Nil(err)
	assert.Len(res, 2)

	res, err = c.FetchAll(context.Background(), query, nil)
	assert.Nil(err)
	assert.Len(res, 2)
	assert.Equal(uint64(1), c.Stats().Hits)

	assert.Nil(qMock.ExpectationsWereMet())
}

func TestCachingEmptyResults(t *testing.T) {
	assert := require.New(t)

	c, qMock := newCaching(t, newRistretto(t), nil)

	query := "select id from users where 1 = 0"
	expectRead(qMock, query, sqlmock.NewRows([]string{"id"}))
	expectRead(qMock, query, sqlmock.NewRows([]string{"id"}))

	for i := 0; i < 2; i++ {
		row, err := c.FetchOne(context.Background(), query, nil)
		assert.Nil(err)
		assert.Nil(row)

		res, err := c.FetchAll(context.Background(), query, nil)
		assert.Nil(err)
		assert.NotNil(res)
		assert.Len(res, 0)
	}
	assert.Equal(&Stats{Hits: 2, Misses: 2}, c.Stats())

	assert.Nil(qMock.ExpectationsWereMet())
}

func TestCachingWriteBypass(t *testing.T) {
	assert := require.New(t)

	mCacher := new(mocks.Cacher)
	c, qMock := newCaching(t, mCacher, nil)

	query := "update users set age = 1 returning id"
	expectRead(qMock, query, sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	v, err := c.FetchScalar(context.Background(), query, nil, Write())
	assert.Nil(err)
	assert.Equal(int64(3), v)
	assert.Equal(Connected, c.State())

	mCacher.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	mCacher.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Nil(qMock.ExpectationsWereMet())
}

func TestCachingStartWrite(t *testing.T) {
	assert := require.New(t)

	c, qMock := newCaching(t, nil, nil)

	// nothing to finish while disconnected
	assert.Nil(c.CommitWrite(context.Background(), false))
	assert.Nil(c.RollbackWrite(context.Background(), false))

	qMock.ExpectBegin()
	qMock.ExpectCommit()

	assert.Nil(c.StartWrite(context.Background(), ReadWriteNoWait))
	assert.Equal(Connected, c.State())
	assert.True(c.Base().WriteStarted())
	assert.Nil(c.CommitWrite(context.Background(), false))
	assert.False(c.Base().WriteStarted())

	assert.Nil(qMock.ExpectationsWereMet())
}

func TestCachingDegrades(t *testing.T) {
	assert := require.New(t)

	var cacheErrs []error
	mCacher := new(mocks.Cacher)
	c, qMock := newCaching(t, mCacher, &Config{
		OnError: func(err error) {
			cacheErrs = append(cacheErrs, err)
		},
	})

	cacheDown := errors.New("dial tcp: connection refused")
	mCacher.On("Get", mock.Anything, mock.Anything).Return(nil, false, cacheDown)
	mCacher.On("Set", mock.Anything, mock.Anything, mock.Anything, DefaultCacheTTL).Return(cacheDown)

	query := "select id from users"
	expectRead(qMock, query, sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	res, err := c.FetchAll(context.Background(), query, nil)
	assert.Nil(err)
	assert.Len(res, 1)

	assert.Equal(&Stats{Errors: 2}, c.Stats())
	assert.Len(cacheErrs, 2)
	for _, cerr := range cacheErrs {
		assert.ErrorIs(cerr, ErrCache)
		assert.ErrorIs(cerr, cacheDown)
	}

	mCacher.AssertExpectations(t)
	assert.Nil(qMock.ExpectationsWereMet())
}

func TestCachingCorruptEntry(t *testing.T) {
	assert := require.New(t)

	mCacher := new(mocks.Cacher)
	c, qMock := newCaching(t, mCacher, nil)

	mCacher.On("Get", mock.Anything, mock.Anything).Return([]byte("garbage"), true, nil)
	mCacher.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	query := "select 1"
	expectRead(qMock, query, sqlmock.NewRows([]string{"x"}).AddRow(int64(1)))

	v, err := c.FetchScalar(context.Background(), query, nil)
	assert.Nil(err)
	assert.Equal(int64(1), v)
	assert.Equal(uint64(1), c.Stats().Errors)

	mCacher.AssertExpectations(t)
	assert.Nil(qMock.ExpectationsWereMet())
}

func TestCachingTTL(t *testing.T) {
	tcs := map[string]struct {
		query string
		opts  []CallOption
		ttl   time.Duration
	}{
		"default":       {query: "select 1", ttl: DefaultCacheTTL},
		"query ttl":     {query: "-- @cache-ttl 30\nselect 1", ttl: 30 * time.Second},
		"call ttl":      {query: "select 1", opts: []CallOption{WithTTL(10 * time.Second)}, ttl: 10 * time.Second},
		"call ttl wins": {query: "-- @cache-ttl 30\nselect 1", opts: []CallOption{WithTTL(time.Minute)}, ttl: time.Minute},
		"lock is no-op": {query: "select 1", opts: []CallOption{WithLock()}, ttl: DefaultCacheTTL},
	}

	for tcName, tc := range tcs {
		t.Run(tcName, func(t *testing.T) {
			assert := require.New(t)

			mCacher := new(mocks.Cacher)
			c, qMock := newCaching(t, mCacher, nil)

			mCacher.On("Get", mock.Anything, mock.Anything).Return(nil, false, nil)
			mCacher.On("Set", mock.Anything, mock.Anything, mock.Anything, tc.ttl).Return(nil)

			expectRead(qMock, tc.query, sqlmock.NewRows([]string{"x"}).AddRow(int64(1)))

			_, err := c.FetchAll(context.Background(), tc.query, nil, tc.opts...)
			assert.Nil(err)

			mCacher.AssertExpectations(t)
			assert.Nil(qMock.ExpectationsWereMet())
		})
	}
}

func TestCachingAttrs(t *testing.T) {
	assert := require.New(t)

	mCacher := new(mocks.Cacher)
	c, qMock := newCaching(t, mCacher, nil)

	mCacher.On("Get", mock.Anything, mock.Anything).Return(nil, false, nil)

	// too many rows to cache
	tooMany := "-- @cache-max-rows 1\nselect id from users"
	expectRead(qMock, tooMany, sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))

	res, err := c.FetchAll(context.Background(), tooMany, nil)
	assert.Nil(err)
	assert.Len(res, 2)

	// never looked up
	skip := "-- @cache-skip\nselect now()"
	expectRead(qMock, skip, sqlmock.NewRows([]string{"now"}).AddRow("10:00"))

	v, err := c.FetchScalar(context.Background(), skip, nil)
	assert.Nil(err)
	assert.Equal("10:00", v)

	mCacher.AssertNumberOfCalls(t, "Get", 1)
	mCacher.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Nil(qMock.ExpectationsWereMet())
}

func TestCachingDisable(t *testing.T) {
	assert := require.New(t)

	mCacher := new(mocks.Cacher)
	c, qMock := newCaching(t, mCacher, nil)

	query := "select 1"
	expectRead(qMock, query, sqlmock.NewRows([]string{"x"}).AddRow(int64(1)))

	c.Disable()
	_, err := c.FetchOne(context.Background(), query, nil)
	assert.Nil(err)
	mCacher.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)

	mCacher.On("Get", mock.Anything, mock.Anything).Return(nil, false, nil)
	mCacher.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	expectRead(qMock, query, sqlmock.NewRows([]string{"x"}).AddRow(int64(1)))

	c.Enable()
	_, err = c.FetchOne(context.Background(), query, nil)
	assert.Nil(err)

	mCacher.AssertExpectations(t)
	assert.Nil(qMock.ExpectationsWereMet())
}

func TestCachingLazyConnectFailure(t *testing.T) {
	assert := require.New(t)

	mCacher := new(mocks.Cacher)
	mCacher.On("Get", mock.Anything, mock.Anything).Return(nil, false, nil)

	c, err := NewCachingCoordinator(&Config{DriverName: "sqlmock"})
	assert.Nil(err)
	assert.Nil(c.UseCache(mCacher, time.Minute))

	// no credentials
	_, err = c.FetchAll(context.Background(), "select 1", nil)
	assert.ErrorIs(err, ErrNotConnected)

	assert.Nil(c.Connect(context.Background(), Credentials{DSN: "fakeDSN:nowhere"}))
	_, err = c.FetchAll(context.Background(), "select 1", nil)
	assert.Equal(ConnectionError, KindOf(err))
	assert.Equal(Disconnected, c.State())
}

func TestClearCache(t *testing.T) {
	assert := require.New(t)

	rc := newRistretto(t)
	c, qMock := newCaching(t, rc, nil)

	query := "select id from users"
	expectRead(qMock, query, sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	expectRead(qMock, query, sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	_, err := c.FetchAll(context.Background(), query, nil)
	assert.Nil(err)
	keys, err := rc.Keys(context.Background(), "*")
	assert.Nil(err)
	assert.Len(keys, 1)

	assert.Nil(c.ClearCache(context.Background(), "*"))
	keys, err = rc.Keys(context.Background(), "*")
	assert.Nil(err)
	assert.Len(keys, 0)

	_, err = c.FetchAll(context.Background(), query, nil)
	assert.Nil(err)
	assert.Equal(&Stats{Misses: 2}, c.Stats())

	assert.Nil(qMock.ExpectationsWereMet())
}

func TestClearCachePattern(t *testing.T) {
	assert := require.New(t)

	mCacher := new(mocks.Cacher)
	c, _ := newCaching(t, mCacher, nil)

	mCacher.On("Keys", mock.Anything, "abc*").Return([]string{"abc1", "abc2"}, nil)
	mCacher.On("Expire", mock.Anything, "abc1", time.Second).Return(nil)
	mCacher.On("Expire", mock.Anything, "abc2", time.Second).Return(nil)

	assert.Nil(c.ClearCache(context.Background(), "abc"))

	pattern := QueryPattern("select 1")
	mCacher.On("Keys", mock.Anything, pattern).Return(nil, nil)
	assert.Nil(c.ClearCache(context.Background(), pattern))

	mCacher.On("Flush", mock.Anything).Return(nil)
	assert.Nil(c.ClearCache(context.Background(), ""))

	mCacher.AssertExpectations(t)
}

func TestClearCacheFailure(t *testing.T) {
	assert := require.New(t)

	// no cache configured
	c, _ := newCaching(t, nil, nil)
	assert.Nil(c.ClearCache(context.Background(), "*"))

	mCacher := new(mocks.Cacher)
	assert.Nil(c.UseCache(mCacher, 0))

	mCacher.On("Keys", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))
	err := c.ClearCache(context.Background(), "abc")
	assert.ErrorIs(err, ErrCache)
}

func TestSetCache(t *testing.T) {
	assert := require.New(t)

	c, err := NewCachingCoordinator(&Config{DriverName: "sqlmock"})
	assert.Nil(err)

	// clients are created lazily by go-redis; nothing dials here
	cfg := CacheConfig{Namespace: "test:"}
	assert.Nil(c.SetCache(cfg))
	first := c.c
	assert.Equal(DefaultCacheTTL, c.ttl)
	assert.Equal(DefaultCompressionLevel, c.level)

	assert.Nil(c.SetCache(cfg))
	assert.Same(first, c.c)

	assert.Nil(c.SetCache(CacheConfig{Port: 6380, DefaultTTL: time.Minute, CompressionLevel: 9}))
	assert.NotSame(first, c.c)
	assert.Equal(time.Minute, c.ttl)
	assert.Equal(9, c.level)

	assert.NotNil(c.SetCache(CacheConfig{CompressionLevel: 12}))

	assert.Nil(c.Close(context.Background()))
	assert.Nil(c.c)
}
