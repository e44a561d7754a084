// Package postgres owns the connection pool for the completed-job archive.
package postgres

import (
	"context"
	"fmt"

	"github.com/meshcompute/dispatch/config/storage/postgresql/migrations"
	config "github.com/meshcompute/dispatch/config/utils"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	zaptracer "github.com/jackc/pgx-zap"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"
)

// DB wraps a pgxpool connection pool for the archive database. The url is
// kept because golang-migrate opens its own connection from it.
type DB struct {
	*pgxpool.Pool
	url string
}

// New opens and pings the archive database. Queries are traced through the
// supplied zap logger at info level.
func New(ctx context.Context, cfg *config.DB, logger *zap.Logger) (*DB, error) {
	url := fmt.Sprintf("%s://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Connection, cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)

	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = 4
	poolCfg.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   zaptracer.NewLogger(logger),
		LogLevel: tracelog.LogLevelInfo,
	}
	// Exec mode avoids prepared-statement churn behind pgbouncer.
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec
	poolCfg.ConnConfig.StatementCacheCapacity = 0

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &DB{Pool: pool, url: url}, nil
}

// Migrate applies the embedded schema migrations.
func (db *DB) Migrate() error {
	src, err := iofs.New(migrations.MigrationsFS, ".")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, db.url)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// Close releases the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
