package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"warden/cmd/internal/store"
)

// NewDBPool builds a pgxpool from cfg and validates connectivity.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// openStore returns the Postgres store when a database is configured and the
// in-memory store otherwise. The returned store owns the pool.
func openStore(ctx context.Context, cfg Config, log Logger) (store.Store, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("db.disabled.inmemory_store")
		return store.NewMemoryStore(), false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, false, err
	}

	if cfg.AutoMigrate {
		start := time.Now()
		if err := store.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, false, err
		}
		log.Info("db.migrated", "duration_ms", time.Since(start).Milliseconds())
	}

	st, err := store.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, false, err
	}

	log.Info("db.enabled.postgres_store", "max_conns", cfg.DBMaxConns)
	return st, true, nil
}
