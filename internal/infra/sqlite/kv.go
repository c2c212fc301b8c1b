package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // driver: sqlite
)

const schema = `
CREATE TABLE IF NOT EXISTS device_kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);`

// KV is a devicestore.KV kept in a local SQLite file, for gateways that run
// next to the browser and need state to survive restarts without Redis.
type KV struct {
	db    *sql.DB
	clock func() time.Time
}

// Open opens (or creates) the database at dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*KV, error) {
	if dsn == "" {
		dsn = "file:devicestore.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer avoids SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &KV{db: db, clock: time.Now}, nil
}

func (kv *KV) Close() error {
	return kv.db.Close()
}

func (kv *KV) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value     string
		expiresAt int64
	)
	err := kv.db.QueryRowContext(ctx, `SELECT value, expires_at FROM device_kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if expiresAt > 0 && expiresAt <= kv.clock().UnixMilli() {
		_, _ = kv.db.ExecContext(ctx, `DELETE FROM device_kv WHERE key = ? AND expires_at = ?`, key, expiresAt)
		return "", false, nil
	}
	return value, true, nil
}

func (kv *KV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = kv.clock().Add(ttl).UnixMilli()
	}
	_, err := kv.db.ExecContext(ctx, `
INSERT INTO device_kv (key, value, expires_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	return err
}

func (kv *KV) Delete(ctx context.Context, key string) error {
	_, err := kv.db.ExecContext(ctx, `DELETE FROM device_kv WHERE key = ?`, key)
	return err
}

// Update runs the read-modify-write in one transaction. SQLite takes the
// write lock at the upsert, so a concurrent writer fails with SQLITE_BUSY
// instead of being overwritten.
func (kv *KV) Update(ctx context.Context, key string, fn func(current string, ok bool) (string, error)) error {
	tx, err := kv.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var (
		value     string
		expiresAt int64
	)
	ok := true
	err = tx.QueryRowContext(ctx, `SELECT value, expires_at FROM device_kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		ok = false
	case err != nil:
		return err
	case expiresAt > 0 && expiresAt <= kv.clock().UnixMilli():
		value, ok = "", false
	}
	next, err := fn(value, ok)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO device_kv (key, value, expires_at) VALUES (?, ?, 0)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = 0`, key, next); err != nil {
		return err
	}
	return tx.Commit()
}
