// Package db provides the persistence layer used by the application. It wraps
// a SQLite database holding the Muso.AI limiter windows so that several
// processes on one host can share a single quota. Callers are expected to
// open a single DB instance using New and reuse it for all operations.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"Music-Enrich-Go/pkg/ratelimit"
)

// DB wraps a sql.DB connection and implements ratelimit.Store.
type DB struct {
	*sql.DB
}

var _ ratelimit.Store = (*DB)(nil)

// New opens the SQLite database located at path. If the file does not
// exist it is created along with the required schema. ":memory:" gives a
// private database that lives as long as the returned value.
func New(path string) (*DB, error) {
	d, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared and serialises the
	// read-modify-write in Acquire.
	d.SetMaxOpenConns(1)
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rate_limits (key TEXT PRIMARY KEY, count INTEGER NOT NULL, reset_at INTEGER NOT NULL)`,
		`CREATE INDEX IF NOT EXISTS idx_rate_limits_reset ON rate_limits(reset_at)`,
	}
	// Errors here likely mean the database file is not writable.
	for _, s := range stmts {
		if _, err := d.Exec(s); err != nil {
			d.Close()
			return nil, fmt.Errorf("init db: %w", err)
		}
	}
	return &DB{d}, nil
}

// Acquire starts or advances key's window inside a transaction. Reset times
// are stored as Unix milliseconds.
func (db *DB) Acquire(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (ratelimit.Window, bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return ratelimit.Window{}, false, err
	}
	defer tx.Rollback()

	var count int
	var resetMs int64
	err = tx.QueryRowContext(ctx, `SELECT count, reset_at FROM rate_limits WHERE key=?`, key).Scan(&count, &resetMs)
	found := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return ratelimit.Window{}, false, err
	}

	w := ratelimit.Window{Count: count, ResetAt: time.UnixMilli(resetMs)}
	switch {
	case !found || !now.Before(w.ResetAt):
		w = ratelimit.Window{Count: 1, ResetAt: now.Add(window)}
	case w.Count >= limit:
		return w, false, tx.Commit()
	default:
		w.Count++
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO rate_limits(key, count, reset_at) VALUES(?, ?, ?) ON CONFLICT(key) DO UPDATE SET count=excluded.count, reset_at=excluded.reset_at`,
		key, w.Count, w.ResetAt.UnixMilli())
	if err != nil {
		return ratelimit.Window{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return ratelimit.Window{}, false, err
	}
	return w, true, nil
}

// Peek returns key's window if it is still active at now.
func (db *DB) Peek(ctx context.Context, key string, now time.Time) (ratelimit.Window, bool, error) {
	var w ratelimit.Window
	var resetMs int64
	err := db.QueryRowContext(ctx, `SELECT count, reset_at FROM rate_limits WHERE key=? AND reset_at>?`, key, now.UnixMilli()).Scan(&w.Count, &resetMs)
	if errors.Is(err, sql.ErrNoRows) {
		return ratelimit.Window{}, false, nil
	}
	if err != nil {
		return ratelimit.Window{}, false, err
	}
	w.ResetAt = time.UnixMilli(resetMs)
	return w, true, nil
}

// Prune deletes windows that ended at or before now.
func (db *DB) Prune(ctx context.Context, now time.Time) (int, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM rate_limits WHERE reset_at<=?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
