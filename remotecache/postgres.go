// Package remotecache provides an optional, Postgres-backed
// implementation of cachecore.RemoteCache — the external persistent
// store spec.md names as an optional collaborator behind the cache's L2
// tier. Grounded on invalidation/service.go's sqldb-backed audit logger,
// re-targeted from Encore's sqldb wrapper onto a raw pgx/v5 pool since
// the Encore service framework itself is dropped (see DESIGN.md).
package remotecache

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCache stores cache entries in a simple key/value table. It
// implements cachecore.RemoteCache without importing cachecore, so
// remotecache stays independent of the in-process cache package.
type PostgresCache struct {
	pool *pgxpool.Pool
}

// Connect opens a pool against dsn and ensures the backing table exists.
func Connect(ctx context.Context, dsn string) (*PostgresCache, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("remotecache: connect: %w", err)
	}
	c := &PostgresCache{pool: pool}
	if err := c.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

func (c *PostgresCache) ensureSchema(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS fantail_remote_cache (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL,
			expires_at TIMESTAMPTZ
		)`)
	if err != nil {
		return fmt.Errorf("remotecache: ensure schema: %w", err)
	}
	return nil
}

func (c *PostgresCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt *time.Time
	err := c.pool.QueryRow(ctx,
		`SELECT value, expires_at FROM fantail_remote_cache WHERE key = $1`, key,
	).Scan(&value, &expiresAt)
	if err != nil {
		return nil, false, nil
	}
	if expiresAt != nil && time.Now().After(*expiresAt) {
		_ = c.Delete(ctx, key)
		return nil, false, nil
	}
	return value, true, nil
}

func (c *PostgresCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}
	_, err := c.pool.Exec(ctx, `
		INSERT INTO fantail_remote_cache (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("remotecache: set %q: %w", key, err)
	}
	return nil
}

func (c *PostgresCache) Delete(ctx context.Context, key string) error {
	_, err := c.pool.Exec(ctx, `DELETE FROM fantail_remote_cache WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("remotecache: delete %q: %w", key, err)
	}
	return nil
}

func (c *PostgresCache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	sqlPattern := globToSQLLike(pattern)
	tag, err := c.pool.Exec(ctx, `DELETE FROM fantail_remote_cache WHERE key LIKE $1`, sqlPattern)
	if err != nil {
		return 0, fmt.Errorf("remotecache: delete pattern %q: %w", pattern, err)
	}
	return int(tag.RowsAffected()), nil
}

func (c *PostgresCache) Close() {
	c.pool.Close()
}

// globToSQLLike converts the framework's "*"-wildcard pattern syntax into
// a SQL LIKE pattern ("*" -> "%"), matching the glob convention used
// throughout cachecore.matchPattern / pkg/utils/pattern.go.
func globToSQLLike(pattern string) string {
	out := make([]byte, 0, len(pattern))
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '*':
			out = append(out, '%')
		case '%', '_':
			out = append(out, '\\', pattern[i])
		default:
			out = append(out, pattern[i])
		}
	}
	return string(out)
}
