// File: internal/store/durable.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Durable is the SQLite-backed persistent key/value store. It survives agent
// restarts and holds credentials, tokens, UI preferences and the per-link
// interface cache.
type Durable struct {
	db  *sql.DB
	log *zap.Logger
}

var _ KV = (*Durable)(nil)

// OpenDurable opens (creating if necessary) the SQLite store at path.
func OpenDurable(ctx context.Context, path string, logger *zap.Logger) (*Durable, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", path, err)
	}
	// One writer at a time keeps the single-key atomicity story simple.
	db.SetMaxOpenConns(1)

	const schema = `CREATE TABLE IF NOT EXISTS kv (
		key    TEXT PRIMARY KEY,
		value  BLOB NOT NULL,
		expiry INTEGER NOT NULL DEFAULT 0
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize store schema: %w", err)
	}

	return &Durable{db: db, log: logger.Named("store")}, nil
}

// Get implements KV. Expired entries are deleted on read.
func (d *Durable) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiry int64
	err := d.db.QueryRowContext(ctx,
		`SELECT value, expiry FROM kv WHERE key = ?`, key).Scan(&value, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, fmt.Errorf("store get %q: %w", key, err)
	}

	if expiry != 0 && expiry < time.Now().UnixMilli() {
		if _, err := d.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
			d.log.Warn("Failed to delete expired entry", zap.String("key", key), zap.Error(err))
		}
		return nil, ErrNoRecord
	}
	return value, nil
}

// Set implements KV.
func (d *Durable) Set(ctx context.Context, key string, value []byte) error {
	return d.upsert(ctx, key, value, 0)
}

// SetWithExpiry implements KV.
func (d *Durable) SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return d.upsert(ctx, key, value, time.Now().Add(ttl).UnixMilli())
}

func (d *Durable) upsert(ctx context.Context, key string, value []byte, expiry int64) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, expiry) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expiry = excluded.expiry`,
		key, value, expiry)
	if err != nil {
		return fmt.Errorf("store set %q: %w", key, err)
	}
	return nil
}

// Remove implements KV.
func (d *Durable) Remove(ctx context.Context, key string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("store remove %q: %w", key, err)
	}
	return nil
}

// SweepExpired implements KV.
func (d *Durable) SweepExpired(ctx context.Context) (int, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM kv WHERE expiry != 0 AND expiry < ?`, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("store sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close implements KV.
func (d *Durable) Close() error {
	return d.db.Close()
}
