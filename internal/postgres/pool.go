// Package postgres builds the instrumented pgx connection pool shared by
// the PostgreSQL-backed stores.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is a pgxpool.Pool with its query tracer exposed for metrics wiring.
type Pool struct {
	*pgxpool.Pool
	tracer *queryTracer
}

// PoolOption configures NewPool.
type PoolOption func(*pgxpool.Config, *queryTracer)

// WithMaxConns caps the pool size.
func WithMaxConns(n int32) PoolOption {
	return func(c *pgxpool.Config, _ *queryTracer) {
		if n > 0 {
			c.MaxConns = n
		}
	}
}

// WithSlowQuery logs successful queries slower than d. Zero disables.
func WithSlowQuery(d time.Duration) PoolOption {
	return func(_ *pgxpool.Config, t *queryTracer) {
		t.slow = d
	}
}

// NewPool parses databaseURL, installs otelpgx tracing wrapped with query
// logging, and pings the server before returning.
func NewPool(ctx context.Context, databaseURL string, opts ...PoolOption) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	qt := newQueryTracer(otelpgx.NewTracer(), 0)
	for _, o := range opts {
		o(cfg, qt)
	}
	cfg.ConnConfig.Tracer = qt

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Pool{Pool: pool, tracer: qt}, nil
}

// SetQueryObserver forwards per-query timings to o.
func (p *Pool) SetQueryObserver(o QueryObserver) {
	p.tracer.SetObserver(o)
}
