// Package sqlite implements the local state cache on a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/michaelbrown/algoprep/internal/storage"

	_ "modernc.org/sqlite"
)

// Cache implements storage.Cache backed by a SQLite database.
type Cache struct {
	db *sql.DB
}

var _ storage.Cache = (*Cache)(nil)

// Open creates or opens a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(dbPath string) (*Cache, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Cache{db: db}, nil
}

func (c *Cache) LoadState(ctx context.Context, slug string) (*storage.UserState, error) {
	var data string
	err := c.db.QueryRowContext(ctx, `SELECT state FROM task_state WHERE slug = ?`, slug).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	return storage.DecodeUserState([]byte(data))
}

func (c *Cache) SaveState(ctx context.Context, slug string, st *storage.UserState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO task_state (slug, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		slug, string(data), now,
	)
	return err
}

func (c *Cache) LoadCommitMeta(ctx context.Context, slug string) (*storage.CommitMeta, error) {
	var m storage.CommitMeta
	err := c.db.QueryRowContext(ctx, `
		SELECT ts, meta_hash, code_hash, tests_hash FROM commit_meta WHERE slug = ?`, slug,
	).Scan(&m.TS, &m.MetaHash, &m.CodeHash, &m.TestsHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading commit meta: %w", err)
	}
	return &m, nil
}

func (c *Cache) SaveCommitMeta(ctx context.Context, slug string, m storage.CommitMeta) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO commit_meta (slug, ts, meta_hash, code_hash, tests_hash) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET ts = excluded.ts, meta_hash = excluded.meta_hash,
			code_hash = excluded.code_hash, tests_hash = excluded.tests_hash`,
		slug, m.TS, m.MetaHash, m.CodeHash, m.TestsHash,
	)
	return err
}

func (c *Cache) ListStates(ctx context.Context) ([]storage.CachedState, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT s.slug, s.updated_at, COALESCE(m.ts, 0)
		FROM task_state s LEFT JOIN commit_meta m ON m.slug = s.slug
		ORDER BY s.updated_at DESC, s.slug`)
	if err != nil {
		return nil, fmt.Errorf("listing states: %w", err)
	}
	defer rows.Close()

	var out []storage.CachedState
	for rows.Next() {
		var (
			cs        storage.CachedState
			updatedAt string
			ts        int64
		)
		if err := rows.Scan(&cs.Slug, &updatedAt, &ts); err != nil {
			return nil, err
		}
		cs.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		if ts > 0 {
			cs.LastSync = time.UnixMilli(ts).UTC()
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// DeleteState forgets the cached state and sync bookkeeping of slug.
func (c *Cache) DeleteState(ctx context.Context, slug string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM commit_meta WHERE slug = ?`, slug); err != nil {
		return err
	}
	_, err := c.db.ExecContext(ctx, `DELETE FROM task_state WHERE slug = ?`, slug)
	return err
}

func (c *Cache) Close() error {
	return c.db.Close()
}
