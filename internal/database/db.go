package database

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// DB is the shared pool, set by ConnectDB.
var DB *pgxpool.Pool

// ConnectDB builds the pool from POSTGRES_USER, POSTGRES_PASSWORD, PG_HOST, PG_PORT and
// PG_DATABASE, and pings it once.
func ConnectDB(ctx context.Context, logger logrus.FieldLogger) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("PG_HOST"),
		os.Getenv("PG_PORT"),
		os.Getenv("PG_DATABASE"),
	)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	DB = pool
	logger.Infof("Connected to database at %s:%s/%s", config.ConnConfig.Host, os.Getenv("PG_PORT"), config.ConnConfig.Database)
	return pool, nil
}

// Configured reports whether the PG_* environment is present at all. The lobby server
// runs without a directory when it is not.
func Configured() bool {
	return os.Getenv("PG_HOST") != "" && os.Getenv("PG_DATABASE") != ""
}
