package rwconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/prashanthpai/rwconn/cache"

	redis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// FactoryConfig configures a Factory.
type FactoryConfig struct {
	Config      Config
	Credentials Credentials
	// Cache opens one Redis client shared by every coordinator of the
	// factory. Nil disables caching unless Cacher is set.
	Cache *CacheConfig
	// Cacher is used instead of Cache when set.
	Cacher cache.Cacher
}

// Factory builds per-request coordinators that share configuration, logger,
// metrics and cache.
type Factory struct {
	cfg    Config
	creds  Credentials
	c      cache.Cacher
	closer io.Closer
	ttl    time.Duration
	level  int
}

// NewFactory returns a Factory for cfg.
func NewFactory(cfg FactoryConfig) (*Factory, error) {
	if cfg.Config.DriverName == "" {
		return nil, fmt.Errorf("driver name must be set in Config")
	}

	f := &Factory{
		cfg:   cfg.Config,
		creds: cfg.Credentials,
		c:     cfg.Cacher,
		ttl:   DefaultCacheTTL,
		level: DefaultCompressionLevel,
	}

	if f.c == nil && cfg.Cache != nil {
		cc := cfg.Cache.withDefaults()
		rc := redis.NewClient(&redis.Options{
			Addr:     cc.Host + ":" + strconv.Itoa(cc.Port),
			Password: cc.Password,
			DB:       cc.DB,
		})
		f.c = NewRedis(rc, cc.Namespace)
		f.closer = rc
		f.ttl = cc.DefaultTTL
		f.level = cc.CompressionLevel
	}

	return f, nil
}

// New returns a CachingCoordinator with the factory's credentials stored;
// it connects on first use. The caller must Close it.
func (f *Factory) New(ctx context.Context) (*CachingCoordinator, error) {
	cc, err := NewCachingCoordinator(&f.cfg)
	if err != nil {
		return nil, err
	}

	if f.c != nil {
		if err := cc.UseCache(f.c, f.ttl); err != nil {
			return nil, err
		}
		cc.level = f.level
	}

	if err := cc.Connect(ctx, f.creds); err != nil {
		return nil, err
	}

	return cc, nil
}

// Close closes the shared cache client and every pooled database.
func (f *Factory) Close() error {
	var errs []error
	if f.closer != nil {
		errs = append(errs, f.closer.Close())
		f.closer = nil
	}
	errs = append(errs, ClosePools())

	return errors.Join(errs...)
}

// FXModule is an fx.Module that provides the coordinator Factory and closes
// it on application stop.
//
// Usage:
//
//	app := fx.New(
//	    fx.Supply(rwconn.FactoryConfig{...}),
//	    rwconn.FXModule,
//	)
var FXModule = fx.Module("rwconn",
	fx.Provide(
		NewFactoryWithDI,
	),
	fx.Invoke(RegisterFactoryLifecycle),
)

// FactoryParams groups the dependencies needed to create a Factory.
type FactoryParams struct {
	fx.In

	Config     FactoryConfig
	Logger     *zap.Logger           `optional:"true"`
	Registerer prometheus.Registerer `optional:"true"`
}

// NewFactoryWithDI creates a Factory using dependency injection. An injected
// logger replaces Config.Logger; an injected registerer gets a new Metrics
// registered unless Config.Metrics is already set.
func NewFactoryWithDI(params FactoryParams) (*Factory, error) {
	cfg := params.Config
	if params.Logger != nil {
		cfg.Config.Logger = params.Logger
	}

	if params.Registerer != nil && cfg.Config.Metrics == nil {
		m := NewMetrics()
		if err := params.Registerer.Register(m); err != nil {
			return nil, err
		}
		cfg.Config.Metrics = m
	}

	return NewFactory(cfg)
}

// RegisterFactoryLifecycle closes the Factory when the application stops.
func RegisterFactoryLifecycle(lc fx.Lifecycle, f *Factory) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return f.Close()
		},
	})
}
