package rwconn

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/prashanthpai/rwconn/cache"

	"github.com/dgraph-io/ristretto"
)

// Ristretto implements cache.Cacher interface to use ristretto as an
// in-process backend. Ristretto cannot enumerate its keys, so the keys set
// through this type are tracked alongside it.
type Ristretto struct {
	c *ristretto.Cache

	mu   sync.Mutex
	keys map[string]struct{}
}

// Get gets a cached value from ristretto. Returns the value, a boolean which
// represents whether key exists or not and an error.
func (r *Ristretto) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := r.c.Get(key)
	if !ok {
		return nil, false, nil
	}

	b, ok := v.([]byte)
	if !ok {
		return nil, false, fmt.Errorf("Ristretto.Get(): v.([]byte) failed")
	}

	return b, true, nil
}

// Set sets the given value into ristretto with provided TTL duration. The
// value length is used as cost. Set waits for the write to be applied so
// that it is visible to the next Get. A value ristretto declines to admit is
// simply not cached.
func (r *Ristretto) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	r.set(key, value, ttl)
	return nil
}

func (r *Ristretto) set(key string, value []byte, ttl time.Duration) bool {
	ok := r.c.SetWithTTL(key, value, int64(len(value)), ttl)
	r.c.Wait()

	if ok {
		r.mu.Lock()
		r.keys[key] = struct{}{}
		r.mu.Unlock()
	}

	return ok
}

// Expire re-sets key with a new TTL. When the re-set is dropped the key is
// deleted, so that it never outlives the requested TTL.
func (r *Ristretto) Expire(ctx context.Context, key string, ttl time.Duration) error {
	b, ok, err := r.Get(ctx, key)
	if err != nil || !ok {
		return err
	}

	if !r.set(key, b, ttl) {
		r.c.Del(key)
		r.c.Wait()

		r.mu.Lock()
		delete(r.keys, key)
		r.mu.Unlock()
	}

	return nil
}

// Keys returns the sorted live keys matching pattern.
func (r *Ristretto) Keys(ctx context.Context, pattern string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []string
	for k := range r.keys {
		if _, ok := r.c.Get(k); !ok {
			delete(r.keys, k)
			continue
		}

		matched, err := path.Match(pattern, k)
		if err != nil {
			return nil, err
		}
		if matched {
			res = append(res, k)
		}
	}
	sort.Strings(res)

	return res, nil
}

// Flush removes every item.
func (r *Ristretto) Flush(ctx context.Context) error {
	r.c.Clear()

	r.mu.Lock()
	r.keys = make(map[string]struct{})
	r.mu.Unlock()

	return nil
}

// NewRistretto creates a new instance of ristretto backend wrapping the
// provided *ristretto.Cache instance. While creating the ristretto
// instance, please note that value length in bytes will be used as "cost"
// (in ristretto's terminology) for each cache item.
func NewRistretto(c *ristretto.Cache) *Ristretto {
	return &Ristretto{
		c:    c,
		keys: make(map[string]struct{}),
	}
}

// check interfaces
var (
	_ cache.Cacher = (*Ristretto)(nil)
)
