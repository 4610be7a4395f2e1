// Package sqlite provides SQLite-based persistent storage for the ledger.
// Uses WAL mode for concurrent reads and crash-safe writes. Every
// domain.Store Update runs in one SQL transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/tutu-network/poco/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations. It implements
// domain.Store.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations. Amounts are stored as decimal
// TEXT because they span the full uint64 range.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS node_info (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		// Escrow accounts
		`CREATE TABLE IF NOT EXISTS accounts (
			address   TEXT PRIMARY KEY,
			available TEXT NOT NULL,
			frozen    TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS supply (
			id        INTEGER PRIMARY KEY CHECK (id = 1),
			deposited TEXT NOT NULL,
			withdrawn TEXT NOT NULL
		)`,

		// Orders
		`CREATE TABLE IF NOT EXISTS consumed (
			order_hash TEXT PRIMARY KEY,
			consumed   TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS presigned (
			order_hash TEXT PRIMARY KEY,
			signer     TEXT NOT NULL
		)`,

		// Deals and finalized tasks
		`CREATE TABLE IF NOT EXISTS deals (
			id           TEXT PRIMARY KEY,
			request_hash TEXT NOT NULL,
			bot_first    TEXT NOT NULL,
			record       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deals_request ON deals(request_hash)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id      TEXT PRIMARY KEY,
			deal_id TEXT NOT NULL REFERENCES deals(id),
			status  TEXT NOT NULL,
			record  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_deal ON tasks(deal_id)`,

		// Event journal
		`CREATE TABLE IF NOT EXISTS events (
			seq    INTEGER PRIMARY KEY AUTOINCREMENT,
			id     TEXT NOT NULL UNIQUE,
			kind   TEXT NOT NULL,
			time   INTEGER NOT NULL,
			record TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── domain.Store ───────────────────────────────────────────────────────────

// Update runs fn in one SQL transaction, committing only if fn succeeds.
func (d *DB) Update(ctx context.Context, fn func(tx domain.Tx) error) error {
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&tx{ctx: ctx, tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// View runs fn against a snapshot. Writes are rejected and the transaction
// is always rolled back.
func (d *DB) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer sqlTx.Rollback()
	return fn(&tx{ctx: ctx, tx: sqlTx, readOnly: true})
}

// ─── Node Info ──────────────────────────────────────────────────────────────

// SetNodeInfo stores a key-value pair in node_info.
func (d *DB) SetNodeInfo(key, value string) error {
	_, err := d.db.Exec(
		`INSERT INTO node_info (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// GetNodeInfo retrieves a value from node_info.
func (d *DB) GetNodeInfo(key string) (string, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM node_info WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
