package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"saferoute/pkg/db"
)

// Cacher defines the caching interface.
type Cacher interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	SetCache(ctx context.Context, key string, val []byte) error
}

// Key derives a cache key from a namespace and a request payload.
func Key(namespace string, payload []byte) string {
	sum := sha256.Sum256(payload)
	return namespace + ":" + hex.EncodeToString(sum[:])
}

// SQLiteCache implements Cacher on top of pkg/db. Entries older than the TTL
// are treated as misses and removed by Prune.
type SQLiteCache struct {
	db  *db.DB
	ttl time.Duration
}

// NewSQLiteCache creates a new cache. A zero ttl disables expiry.
func NewSQLiteCache(d *db.DB, ttl time.Duration) *SQLiteCache {
	return &SQLiteCache{db: d, ttl: ttl}
}

func (c *SQLiteCache) GetCache(ctx context.Context, key string) ([]byte, bool) {
	query := "SELECT value FROM analysis_cache WHERE key = ?"
	args := []any{key}
	if c.ttl > 0 {
		query += " AND created_at >= ?"
		args = append(args, c.cutoff())
	}

	var val []byte
	err := c.db.QueryRowContext(ctx, query, args...).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		slog.Warn("Cache: read failed", "key", key, "error", err)
		return nil, false
	}
	return val, true
}

func (c *SQLiteCache) SetCache(ctx context.Context, key string, val []byte) error {
	query := `INSERT OR REPLACE INTO analysis_cache (key, value, created_at) VALUES (?, ?, ?)`
	_, err := c.db.ExecContext(ctx, query, key, val, time.Now().UTC().Format("2006-01-02 15:04:05"))
	return err
}

// Prune deletes expired entries.
func (c *SQLiteCache) Prune() (int64, error) {
	if c.ttl <= 0 {
		return 0, nil
	}
	return c.db.PruneCache(c.ttl)
}

func (c *SQLiteCache) cutoff() string {
	return time.Now().Add(-c.ttl).UTC().Format("2006-01-02 15:04:05")
}
