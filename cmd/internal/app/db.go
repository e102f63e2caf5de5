package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	dbConnectTimeout    = 3 * time.Second
	dbHealthCheckPeriod = 30 * time.Second
	dbMaxConnIdleTime   = 5 * time.Minute
)

// NewDBPool opens the shared pgx pool used by every Postgres-backed store.
// Schema changes are applied by the migrate command or SPOTLINE_DB_AUTO_MIGRATE.
func NewDBPool(ctx context.Context, cfg Config, log *zap.Logger) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	pcfg.MinConns = max(cfg.DBMinConns, 0)
	pcfg.HealthCheckPeriod = dbHealthCheckPeriod
	pcfg.MaxConnIdleTime = dbMaxConnIdleTime

	params := pcfg.ConnConfig.RuntimeParams
	if params["application_name"] == "" {
		params["application_name"] = "spotline"
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := PingDB(ctx, pool, dbConnectTimeout); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db unreachable: %w", err)
	}

	if log != nil {
		log.Info("db.pool.ready",
			zap.String("host", pcfg.ConnConfig.Host),
			zap.String("database", pcfg.ConnConfig.Database),
			zap.Int32("max_conns", pcfg.MaxConns),
			zap.Int32("min_conns", pcfg.MinConns),
		)
	}
	return pool, nil
}

// PingDB round-trips to the database within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	if pool == nil {
		return fmt.Errorf("db pool not configured")
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return pool.Ping(ctx)
}
