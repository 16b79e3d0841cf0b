package preset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"
)

// SQLiteBackend stores presets in a SQLite database.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at dbPath and runs the schema
// migration. Use ":memory:" for a throwaway store.
func OpenSQLite(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open preset db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate preset db: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS presets (
			key        TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			volume     REAL NOT NULL,
			phase      REAL NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) (*Item, error) {
	var item Item
	err := b.db.QueryRowContext(ctx,
		"SELECT title, volume, phase FROM presets WHERE key = ?", key,
	).Scan(&item.Title, &item.Controls.Volume, &item.Controls.Phase)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preset %q: %w", key, err)
	}
	return &item, nil
}

func (b *SQLiteBackend) Set(ctx context.Context, key string, item Item) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO presets (key, title, volume, phase, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			title = excluded.title,
			volume = excluded.volume,
			phase = excluded.phase,
			updated_at = excluded.updated_at`,
		key, item.Title, item.Controls.Volume, item.Controls.Phase,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set preset %q: %w", key, err)
	}
	return nil
}

func (b *SQLiteBackend) Remove(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, "DELETE FROM presets WHERE key = ?", key); err != nil {
		return fmt.Errorf("remove preset %q: %w", key, err)
	}
	return nil
}

// Keys lists keys starting with prefix, in key order. It compares a
// substring rather than using LIKE so '%' and '_' in names match literally.
func (b *SQLiteBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		"SELECT key FROM presets WHERE substr(key, 1, ?) = ? ORDER BY key",
		utf8.RuneCountInString(prefix), prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

var _ Backend = (*SQLiteBackend)(nil)
