package app

import (
	"time"

	migrate "github.com/golang-migrate/migrate/v4"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	mhttp "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// NewLimiterStore wires a rate limiter store backed by Redis.
func NewLimiterStore(rdb *redis.Client) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{
		Prefix: "limiter",
	})
}

// NewRateLimitMiddleware builds an IP keyed rate limit middleware over the
// given store. Zero or negative inputs disable the limit.
func NewRateLimitMiddleware(store limiter.Store, limit int64, period time.Duration) *mhttp.Middleware {
	if store == nil || limit <= 0 || period <= 0 {
		return nil
	}
	return mhttp.NewMiddleware(limiter.New(store, limiter.Rate{Period: period, Limit: limit}))
}

// RunMigrations applies all pending migrations; an already current schema is
// not an error.
func RunMigrations(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// Tracer returns the default OpenTelemetry tracer for instrumentation hooks.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
