package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/prashanthpai/rwconn"
	"github.com/prashanthpai/rwconn/cache"

	"github.com/alecthomas/kong"
	"github.com/dgraph-io/ristretto"
	"github.com/jackc/pgx/v4/stdlib"
	"go.uber.org/zap"
)

const (
	defaultMaxCacheBytes = 1 << 20
)

var cli struct {
	User     string `default:"postgres" help:"Database user."`
	Password string `help:"Database password."`
	Role     string `help:"Database role."`
	Path     string `default:"127.0.0.1/5432:postgres" help:"Database path, host[/port]:database."`
	Charset  string `default:"UTF8" help:"Client charset."`
	Pooled   bool   `help:"Use a shared connection pool."`

	Redis string        `help:"Redis host; in-process ristretto cache when empty."`
	TTL   time.Duration `default:"5s" help:"Default cache TTL."`

	Write     bool   `help:"Run the query in the read-write transaction."`
	LockTable string `help:"Lock table serializing writes, e.g. ts_lock."`
	Repeat    int    `default:"5" help:"Number of times to run the query."`
	Query     string `arg:"" optional:"" default:"SELECT 1 AS field1, 2 AS FIELD2" help:"SQL query to run."`
}

func newRistrettoCache(maxBytes int64) (cache.Cacher, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxBytes / 100,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return rwconn.NewRistretto(c), nil
}

func main() {
	kong.Parse(&cli)

	l, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("zap.NewDevelopment() failed: %v", err)
	}
	defer l.Sync()

	// install the tracer which wraps pgx driver
	tracer := rwconn.NewTracer(l.Named("driver"))
	sql.Register("pgx-traced", tracer.Driver(stdlib.GetDefaultDriver()))

	defer func() {
		fmt.Printf("\nDriver metrics: %+v\n", tracer.Stats())
	}()

	if err := run(context.Background(), l); err != nil {
		log.Fatalf("run() failed: %v", err)
	}
}

func run(ctx context.Context, l *zap.Logger) error {
	config := &rwconn.Config{
		DriverName: "pgx-traced",
		DSN:        rwconn.PostgresDSN,
		Logger:     l,
	}
	if cli.LockTable != "" {
		config.Lock = rwconn.PostgresTableLock(cli.LockTable)
	}

	c, err := rwconn.NewCachingCoordinator(config)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	if cli.Redis != "" {
		err = c.SetCache(rwconn.CacheConfig{Host: cli.Redis, DefaultTTL: cli.TTL})
	} else {
		var rc cache.Cacher
		if rc, err = newRistrettoCache(defaultMaxCacheBytes); err == nil {
			err = c.UseCache(rc, cli.TTL)
		}
	}
	if err != nil {
		return fmt.Errorf("cache setup failed: %w", err)
	}

	err = c.Connect(ctx, rwconn.Credentials{
		User:     cli.User,
		Password: cli.Password,
		Role:     cli.Role,
		Path:     cli.Path,
		Charset:  cli.Charset,
		Pooled:   cli.Pooled,
	})
	if err != nil {
		return err
	}

	var opts []rwconn.CallOption
	if cli.Write {
		opts = append(opts, rwconn.Write(), rwconn.WithLock())
	}

	for i := 0; i < cli.Repeat; i++ {
		start := time.Now()
		res, err := c.FetchAll(ctx, cli.Query, nil, opts...)
		if err != nil {
			return fmt.Errorf("FetchAll() failed: %w", err)
		}
		for _, row := range res {
			fmt.Printf("%v\n", row.Map())
		}
		fmt.Printf("i=%d; state=%s; t=%s\n", i, c.State(), time.Since(start))
	}

	fmt.Printf("\nCache metrics: %+v\n", c.Stats())

	return nil
}
