package rwconn

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prashanthpai/rwconn/cache"

	redis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Cache defaults.
const (
	DefaultCacheHost        = "localhost"
	DefaultCachePort        = 6379
	DefaultCacheDB          = 15
	DefaultCacheTTL         = 300 * time.Second
	DefaultCompressionLevel = 3
)

// CacheConfig is passed to SetCache to open a Redis cache.
type CacheConfig struct {
	Host     string
	Port     int
	DB       int
	Password string
	// DefaultTTL applies to cached reads without a call or query TTL.
	DefaultTTL time.Duration
	// Namespace prefixes every key. An empty namespace makes ClearCache("*")
	// flush the whole Redis database.
	Namespace string
	// CompressionLevel is the zlib level of cached values.
	CompressionLevel int
}

func (cfg CacheConfig) withDefaults() CacheConfig {
	if cfg.Host == "" {
		cfg.Host = DefaultCacheHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultCachePort
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = DefaultCacheTTL
	}
	if cfg.CompressionLevel == 0 {
		cfg.CompressionLevel = DefaultCompressionLevel
	}
	return cfg
}

// State is the physical connection state of a CachingCoordinator.
type State int32

const (
	// Disconnected: no physical connection. Credentials may be stored.
	Disconnected State = iota
	// Connecting: the physical connection is being established.
	Connecting
	// Connected: the physical connection is established.
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Stats contains cache statistics.
type Stats struct {
	Hits   uint64
	Misses uint64
	Errors uint64
}

// CachingCoordinator serves read calls from a cache in front of a
// Coordinator. The physical connection is only established on the first
// cache miss, write or StartWrite.
//
// Writes never invalidate cached reads: a cached result can be stale until
// its TTL expires or ClearCache is called.
type CachingCoordinator struct {
	base     *Coordinator
	c        cache.Cacher
	closer   io.Closer
	cacheCfg *CacheConfig
	ttl      time.Duration
	level    int
	creds    *Credentials
	state    State
	onErr    func(error)
	stats    Stats
	disabled bool
	l        *zap.Logger
	metrics  *Metrics
}

// NewCachingCoordinator returns a CachingCoordinator without a cache. Until
// SetCache or UseCache is called every call goes to the database.
func NewCachingCoordinator(config *Config) (*CachingCoordinator, error) {
	base, err := NewCoordinator(config)
	if err != nil {
		return nil, err
	}

	return &CachingCoordinator{
		base:    base,
		ttl:     DefaultCacheTTL,
		level:   DefaultCompressionLevel,
		onErr:   config.OnError,
		l:       base.l,
		metrics: base.metrics,
	}, nil
}

// Base returns the wrapped Coordinator.
func (c *CachingCoordinator) Base() *Coordinator {
	return c.base
}

// SetCache opens a Redis client for cfg and uses it as the cache. Calling
// it again with the same config is a no-op; a different config replaces
// and closes the previous client.
func (c *CachingCoordinator) SetCache(cfg CacheConfig) error {
	cfg = cfg.withDefaults()
	if c.cacheCfg != nil && *c.cacheCfg == cfg {
		return nil
	}

	if cfg.CompressionLevel < -2 || cfg.CompressionLevel > 9 {
		return fmt.Errorf("invalid compression level %d", cfg.CompressionLevel)
	}

	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := c.useCache(NewRedis(rc, cfg.Namespace), rc, cfg.DefaultTTL); err != nil {
		_ = rc.Close()
		return err
	}
	c.level = cfg.CompressionLevel
	c.cacheCfg = &cfg

	c.l.Info("Cache set", zap.String("addr", cfg.Host+":"+strconv.Itoa(cfg.Port)), zap.Int("db", cfg.DB))
	return nil
}

// UseCache uses an already configured cache, such as NewRistretto. A zero
// defaultTTL keeps the current default.
func (c *CachingCoordinator) UseCache(cc cache.Cacher, defaultTTL time.Duration) error {
	if cc == nil {
		return fmt.Errorf("cache can't be nil")
	}
	if defaultTTL == 0 {
		defaultTTL = c.ttl
	}
	if err := c.useCache(cc, nil, defaultTTL); err != nil {
		return err
	}
	c.cacheCfg = nil
	return nil
}

func (c *CachingCoordinator) useCache(cc cache.Cacher, closer io.Closer, defaultTTL time.Duration) error {
	if err := c.closeCache(); err != nil {
		return err
	}
	c.c = cc
	c.closer = closer
	c.ttl = defaultTTL
	return nil
}

func (c *CachingCoordinator) closeCache() error {
	if c.closer == nil {
		return nil
	}
	err := c.closer.Close()
	c.closer = nil
	if err != nil {
		return &Error{Kind: CacheError, Op: "close", Err: err}
	}
	return nil
}

// Enable enables the cache. CachingCoordinator instance is enabled by default
// on creation.
func (c *CachingCoordinator) Enable() {
	c.disabled = false
}

// Disable disables the cache resulting in cache bypass. All queries
// would go directly to the database.
func (c *CachingCoordinator) Disable() {
	c.disabled = true
}

// State returns the physical connection state.
func (c *CachingCoordinator) State() State {
	return c.state
}

// Stats returns cache stats.
func (c *CachingCoordinator) Stats() *Stats {
	return &Stats{
		Hits:   atomic.LoadUint64(&c.stats.Hits),
		Misses: atomic.LoadUint64(&c.stats.Misses),
		Errors: atomic.LoadUint64(&c.stats.Errors),
	}
}

// Connect only stores the credentials. The physical connection is
// established when it is first needed.
func (c *CachingCoordinator) Connect(ctx context.Context, creds Credentials) error {
	c.creds = &creds
	return nil
}

func (c *CachingCoordinator) ensureConnected(ctx context.Context) error {
	if c.state == Connected {
		return nil
	}
	if c.creds == nil {
		return newError(ConnectionError, "connect", ErrNotConnected)
	}

	c.state = Connecting
	if err := c.base.Connect(ctx, *c.creds); err != nil {
		c.state = Disconnected
		return err
	}
	c.state = Connected

	return nil
}

// Disconnect releases the physical connection, if any, and forgets the
// credentials.
func (c *CachingCoordinator) Disconnect(ctx context.Context) error {
	c.creds = nil
	if c.state != Connected {
		return nil
	}

	c.state = Disconnected
	return c.base.Disconnect(ctx)
}

// Close disconnects and closes a cache client opened by SetCache.
func (c *CachingCoordinator) Close(ctx context.Context) error {
	err := c.Disconnect(ctx)
	if cerr := c.closeCache(); err == nil {
		err = cerr
	}
	c.c = nil
	c.cacheCfg = nil
	return err
}

// StartWrite connects if needed and starts the caller managed write
// transaction.
func (c *CachingCoordinator) StartWrite(ctx context.Context, opts TxOptions) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	return c.base.StartWrite(ctx, opts)
}

// CommitWrite commits the write transaction; a no-op when not connected.
func (c *CachingCoordinator) CommitWrite(ctx context.Context, retain bool) error {
	if c.state != Connected {
		return nil
	}
	return c.base.CommitWrite(ctx, retain)
}

// RollbackWrite rolls back the write transaction; a no-op when not
// connected.
func (c *CachingCoordinator) RollbackWrite(ctx context.Context, retain bool) error {
	if c.state != Connected {
		return nil
	}
	return c.base.RollbackWrite(ctx, retain)
}

// ClearCache invalidates cached results. "*" or "" flushes the cache;
// anything else is a key pattern, with a trailing "*" implied when it has
// no glob characters. Matching keys are set to expire in one second rather
// than deleted. QueryPattern builds the pattern for one query.
func (c *CachingCoordinator) ClearCache(ctx context.Context, keyPrefix string) error {
	if c.c == nil {
		return nil
	}

	if keyPrefix == "" || keyPrefix == "*" {
		if err := c.c.Flush(ctx); err != nil {
			return &Error{Kind: CacheError, Op: "flush", Err: err}
		}
		c.l.Info("Cache flushed")
		return nil
	}

	pattern := keyPrefix
	if !strings.ContainsAny(pattern, "*?[") {
		pattern += "*"
	}

	keys, err := c.c.Keys(ctx, pattern)
	if err != nil {
		return &Error{Kind: CacheError, Op: "keys", Err: err}
	}

	for _, key := range keys {
		if err := c.c.Expire(ctx, key, time.Second); err != nil {
			return &Error{Kind: CacheError, Op: "expire", Err: err}
		}
	}

	c.l.Info("Cache cleared", zap.String("pattern", pattern), zap.Int("keys", len(keys)))
	return nil
}

// lookup describes how one read call uses the cache.
type lookup struct {
	key   string
	ttl   time.Duration
	attrs attributes
}

// plan returns the cache lookup of a read call, or nil when the call must
// bypass the cache.
func (c *CachingCoordinator) plan(sqlText string, params []interface{}, o callOptions, shape string) *lookup {
	if o.write || c.c == nil || c.disabled {
		return nil
	}

	attrs := getAttrs(sqlText)
	if attrs.skip {
		return nil
	}

	key, err := cacheKey(sqlText, params, c.level, shape)
	if err != nil {
		c.fail("hash", err)
		return nil
	}

	ttl := c.ttl
	if attrs.ttl > 0 {
		ttl = attrs.ttl
	}
	if o.ttl > 0 {
		ttl = o.ttl
	}

	return &lookup{
		key:   key,
		ttl:   ttl,
		attrs: attrs,
	}
}

func (c *CachingCoordinator) fail(op string, err error) {
	atomic.AddUint64(&c.stats.Errors, 1)
	c.metrics.cacheError()

	cerr := &Error{Kind: CacheError, Op: op, Err: err}
	c.l.Warn("Cache failed, using database", zap.Error(cerr))
	if c.onErr != nil {
		c.onErr(cerr)
	}
}

func (c *CachingCoordinator) get(ctx context.Context, lk *lookup) (ResultSet, bool) {
	b, ok, err := c.c.Get(ctx, lk.key)
	if err != nil {
		c.fail("get", err)
		return nil, false
	}

	if !ok {
		atomic.AddUint64(&c.stats.Misses, 1)
		c.metrics.cacheLookup(false)
		c.l.Debug("Cache miss", zap.String("key", lk.key))
		return nil, false
	}

	res, err := decodeResult(b)
	if err != nil {
		c.fail("decode", err)
		return nil, false
	}

	atomic.AddUint64(&c.stats.Hits, 1)
	c.metrics.cacheLookup(true)
	c.l.Debug("Cache hit", zap.String("key", lk.key))

	return res, true
}

func (c *CachingCoordinator) set(ctx context.Context, lk *lookup, res ResultSet) {
	if lk.attrs.maxRows > 0 && len(res) > lk.attrs.maxRows {
		return
	}

	b, err := encodeResult(res, c.level)
	if err != nil {
		c.fail("encode", err)
		return
	}

	if err := c.c.Set(ctx, lk.key, b, lk.ttl); err != nil {
		c.fail("set", err)
	}
}

// FetchAll is Coordinator.FetchAll with read calls served from the cache
// when possible. A miss connects if needed, reads from the database and
// caches the result.
func (c *CachingCoordinator) FetchAll(ctx context.Context, sqlText string, params []interface{}, opts ...CallOption) (ResultSet, error) {
	o := newCallOptions(opts)

	lk := c.plan(sqlText, params, o, shapeAll)
	if lk != nil {
		if res, ok := c.get(ctx, lk); ok {
			return res, nil
		}
	}

	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	res, err := c.base.fetchAll(ctx, sqlText, params, o)
	if err != nil {
		return nil, err
	}

	if lk != nil {
		c.set(ctx, lk, res)
	}

	return res, nil
}

// FetchOne is Coordinator.FetchOne with read calls served from the cache
// when possible. "No row" results are cached too.
func (c *CachingCoordinator) FetchOne(ctx context.Context, sqlText string, params []interface{}, opts ...CallOption) (*Row, error) {
	o := newCallOptions(opts)

	lk := c.plan(sqlText, params, o, shapeOne)
	if lk != nil {
		if res, ok := c.get(ctx, lk); ok {
			if len(res) == 0 {
				return nil, nil
			}
			return res[0], nil
		}
	}

	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	row, err := c.base.fetchOne(ctx, sqlText, params, o)
	if err != nil {
		return nil, err
	}

	if lk != nil {
		res := ResultSet{}
		if row != nil {
			res = append(res, row)
		}
		c.set(ctx, lk, res)
	}

	return row, nil
}

// FetchScalar returns the first column of FetchOne's row, or nil when there
// is no row.
func (c *CachingCoordinator) FetchScalar(ctx context.Context, sqlText string, params []interface{}, opts ...CallOption) (interface{}, error) {
	row, err := c.FetchOne(ctx, sqlText, params, opts...)
	if err != nil {
		return nil, err
	}
	return row.First(), nil
}

// Execute is FetchOne.
func (c *CachingCoordinator) Execute(ctx context.Context, sqlText string, params []interface{}, opts ...CallOption) (*Row, error) {
	return c.FetchOne(ctx, sqlText, params, opts...)
}

// check interfaces
var (
	_ Conn = (*CachingCoordinator)(nil)
)
