package rwconn

import (
	"context"
	"strings"
	"time"

	"github.com/prashanthpai/rwconn/cache"

	redis "github.com/go-redis/redis/v8"
)

// Redis implements cache.Cacher interface to use redis as backend with
// go-redis as the redis client library.
type Redis struct {
	c         redis.UniversalClient
	keyPrefix string
}

// Get gets a cached value from redis. Returns the value, a boolean which
// represents whether key exists or not and an error.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.c.Get(ctx, r.keyPrefix+key).Bytes()
	switch err {
	case nil:
		return b, true, nil
	case redis.Nil:
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// Set sets the given value into redis with provided TTL duration.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.c.Set(ctx, r.keyPrefix+key, value, ttl).Err()
}

// Expire sets the TTL of key.
func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.c.Expire(ctx, r.keyPrefix+key, ttl).Err()
}

// Keys returns the keys matching pattern, without the key prefix.
func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := r.c.Keys(ctx, r.keyPrefix+pattern).Result()
	if err != nil {
		return nil, err
	}

	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, r.keyPrefix)
	}

	return keys, nil
}

// Flush flushes the current database when there is no key prefix, otherwise
// it deletes only the prefixed keys.
func (r *Redis) Flush(ctx context.Context) error {
	if r.keyPrefix == "" {
		return r.c.FlushDB(ctx).Err()
	}

	keys, err := r.c.Keys(ctx, r.keyPrefix+"*").Result()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	return r.c.Del(ctx, keys...).Err()
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.c.Close()
}

// NewRedis creates a new instance of redis backend using go-redis client.
// All keys created in redis by rwconn will start with prefix.
func NewRedis(c redis.UniversalClient, keyPrefix string) *Redis {
	return &Redis{
		c:         c,
		keyPrefix: keyPrefix,
	}
}

// check interfaces
var (
	_ cache.Cacher = (*Redis)(nil)
)
