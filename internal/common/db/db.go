package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"what2eat/internal/common/config"
)

type Conn struct{ *pgxpool.Pool }

func DSN(c config.DB) string {
	ssl := c.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Pass, c.Host, c.Port, c.Name, ssl)
}

// Connect opens a pool and retries the first ping with backoff until ctx expires.
func Connect(ctx context.Context, c config.DB) (*Conn, error) {
	return ConnectDSN(ctx, DSN(c), c.MaxConns)
}

func ConnectDSN(ctx context.Context, dsn string, maxConns int) (*Conn, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	backoff := 200 * time.Millisecond
	for attempt := 1; ; attempt++ {
		err = pool.Ping(ctx)
		if err == nil {
			return &Conn{Pool: pool}, nil
		}
		if attempt >= 5 {
			break
		}
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	pool.Close()
	return nil, fmt.Errorf("ping postgres: %w", err)
}

func (c *Conn) Close() {
	if c != nil && c.Pool != nil {
		c.Pool.Close()
	}
}
