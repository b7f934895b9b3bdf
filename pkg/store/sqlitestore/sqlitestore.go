// Package sqlitestore persists store collections as JSON documents in SQLite.
// Every collection shares one documents table, partitioned by kind, and keeps
// insertion order through an autoincrement sequence that upserts do not touch.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/supperclub/clubdesk/pkg/store"
	"github.com/supperclub/clubdesk/pkg/store/sqlitestore/migrations"
)

// DB is an open SQLite database with migrations applied.
type DB struct {
	sqlDB *sql.DB
}

// Open opens the database at path and applies embedded migrations.
func Open(ctx context.Context, dbPath string) (*DB, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(dbPath) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer keeps SQLITE_BUSY out of concurrent handlers.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := ApplyMigrations(ctx, sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &DB{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (db *DB) Close() error {
	if db == nil || db.sqlDB == nil {
		return nil
	}
	return db.sqlDB.Close()
}

// Collection stores records of type T under one document kind.
type Collection[T any] struct {
	db     *DB
	kind   string
	prefix string
}

var _ store.Collection[struct{}] = (*Collection[struct{}])(nil)

// NewCollection binds a collection of kind to db. IDs are "{prefix}_{uuid}".
func NewCollection[T any](db *DB, kind, prefix string) *Collection[T] {
	return &Collection[T]{db: db, kind: kind, prefix: prefix}
}

// NextID returns a new random ID with the collection prefix.
func (c *Collection[T]) NextID() string {
	return c.prefix + "_" + uuid.NewString()
}

// Put inserts or replaces the record with the given ID.
func (c *Collection[T]) Put(ctx context.Context, id string, item T) error {
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", c.kind, id, err)
	}
	now := time.Now().UTC().UnixMilli()
	_, err = c.db.sqlDB.ExecContext(ctx,
		`INSERT INTO documents (kind, id, body, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (kind, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		c.kind, id, string(body), now, now,
	)
	if err != nil {
		return fmt.Errorf("put %s %s: %w", c.kind, id, err)
	}
	return nil
}

// Fetch returns the record with the given ID or store.ErrNotFound.
func (c *Collection[T]) Fetch(ctx context.Context, id string) (T, error) {
	var zero T
	var body string
	err := c.db.sqlDB.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE kind = ? AND id = ?`, c.kind, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, store.ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("fetch %s %s: %w", c.kind, id, err)
	}
	var item T
	if err := json.Unmarshal([]byte(body), &item); err != nil {
		return zero, fmt.Errorf("decode %s %s: %w", c.kind, id, err)
	}
	return item, nil
}

// Remove deletes the record with the given ID.
func (c *Collection[T]) Remove(ctx context.Context, id string) error {
	res, err := c.db.sqlDB.ExecContext(ctx, `DELETE FROM documents WHERE kind = ? AND id = ?`, c.kind, id)
	if err != nil {
		return fmt.Errorf("remove %s %s: %w", c.kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove %s %s: %w", c.kind, id, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// All returns every record in insertion order.
func (c *Collection[T]) All(ctx context.Context) ([]T, error) {
	return c.Match(ctx, func(string, T) bool { return true })
}

// Match returns the records accepted by predicate, in insertion order.
func (c *Collection[T]) Match(ctx context.Context, predicate func(id string, item T) bool) ([]T, error) {
	out := make([]T, 0)
	err := c.scan(ctx, func(id string, item T) {
		if predicate(id, item) {
			out = append(out, item)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Dump returns every record keyed by ID.
func (c *Collection[T]) Dump(ctx context.Context) (map[string]T, error) {
	out := make(map[string]T)
	err := c.scan(ctx, func(id string, item T) { out[id] = item })
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Restore replaces every record of this kind. IDs are inserted in sorted order.
func (c *Collection[T]) Restore(ctx context.Context, items map[string]T) error {
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tx, err := c.db.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("restore %s: %w", c.kind, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE kind = ?`, c.kind); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("restore %s: %w", c.kind, err)
	}
	now := time.Now().UTC().UnixMilli()
	for _, id := range ids {
		body, err := json.Marshal(items[id])
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marshal %s %s: %w", c.kind, id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (kind, id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			c.kind, id, string(body), now, now,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("restore %s %s: %w", c.kind, id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("restore %s: %w", c.kind, err)
	}
	return nil
}

// Clear deletes every record of this kind.
func (c *Collection[T]) Clear(ctx context.Context) error {
	if _, err := c.db.sqlDB.ExecContext(ctx, `DELETE FROM documents WHERE kind = ?`, c.kind); err != nil {
		return fmt.Errorf("clear %s: %w", c.kind, err)
	}
	return nil
}

func (c *Collection[T]) scan(ctx context.Context, fn func(id string, item T)) error {
	rows, err := c.db.sqlDB.QueryContext(ctx,
		`SELECT id, body FROM documents WHERE kind = ? ORDER BY seq ASC`, c.kind)
	if err != nil {
		return fmt.Errorf("list %s: %w", c.kind, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return fmt.Errorf("list %s: %w", c.kind, err)
		}
		var item T
		if err := json.Unmarshal([]byte(body), &item); err != nil {
			return fmt.Errorf("decode %s %s: %w", c.kind, id, err)
		}
		fn(id, item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list %s: %w", c.kind, err)
	}
	return nil
}
