package cache

import (
	"context"
	"database/sql/driver"
	"time"
)

// Item is the serialized form of one cached result set.
type Item struct {
	Cols []string         `msgpack:"c"`
	Rows [][]driver.Value `msgpack:"r"`
}

// Cacher represents the key/value store used by rwconn.CachingCoordinator.
// Values are opaque, already compressed bytes.
type Cacher interface {
	// Get must return the value, a boolean representing whether the key is
	// present or not, and an error (must be nil when key is not present).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores the value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Expire changes the TTL of an existing key. Missing keys are not an
	// error.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Keys returns the keys matching a glob pattern ("*", "?", "[...]").
	Keys(ctx context.Context, pattern string) ([]string, error)
	// Flush removes every key owned by this Cacher.
	Flush(ctx context.Context) error
}
