// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary builds
// without a C toolchain. All multi-row mutations (post delete, download
// credit, withdrawal begin/complete) run inside a single transaction.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/sakif/notesfy/internal/repository"
)

// DB wraps a sql.DB connection pool and implements every repository interface.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath (":memory:" for tests) and runs migrations.
//
// The pool is capped at one connection. SQLite serialises writers anyway,
// and a single connection turns lock contention into queueing inside
// database/sql instead of SQLITE_BUSY errors. It also keeps ":memory:"
// databases from splitting across connections.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by /healthz.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates the schema. Every statement is idempotent.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			profile       TEXT NOT NULL DEFAULT '',
			downloads     INTEGER NOT NULL DEFAULT 0 CHECK (downloads >= 0),
			amount        INTEGER NOT NULL DEFAULT 0 CHECK (amount >= 0),
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS posts (
			id            TEXT PRIMARY KEY,
			chapter       TEXT NOT NULL,
			subject       TEXT NOT NULL,
			topics        TEXT NOT NULL DEFAULT '',
			qualification TEXT NOT NULL DEFAULT '',
			filename      TEXT NOT NULL,
			author_id     TEXT NOT NULL REFERENCES users(id),
			author        TEXT NOT NULL,
			posted_date   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_posts_author_id ON posts(author_id);
		CREATE INDEX IF NOT EXISTS idx_posts_subject ON posts(subject);
		CREATE INDEX IF NOT EXISTS idx_posts_chapter ON posts(chapter);

		CREATE TABLE IF NOT EXISTS post_likes (
			post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id),
			PRIMARY KEY (post_id, user_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating posts tables: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS subjects (
			id    TEXT PRIMARY KEY,
			title TEXT NOT NULL UNIQUE
		);
		CREATE TABLE IF NOT EXISTS chapters (
			id    TEXT PRIMARY KEY,
			title TEXT NOT NULL UNIQUE
		);
	`)
	if err != nil {
		return fmt.Errorf("creating catalog tables: %w", err)
	}

	// post_id has no foreign key: a download stays on record after the
	// post is deleted.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS downloads (
			payment_id TEXT PRIMARY KEY,
			order_id   TEXT NOT NULL,
			post_id    TEXT NOT NULL,
			owner_id   TEXT NOT NULL REFERENCES users(id),
			payer_id   TEXT NOT NULL DEFAULT '',
			reward     INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_downloads_owner_id ON downloads(owner_id);
	`)
	if err != nil {
		return fmt.Errorf("creating downloads table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS payees (
			user_id    TEXT PRIMARY KEY REFERENCES users(id),
			contact_id TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS fund_accounts (
			user_id         TEXT NOT NULL REFERENCES users(id),
			account_number  TEXT NOT NULL,
			ifsc            TEXT NOT NULL,
			fund_account_id TEXT NOT NULL,
			created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, account_number, ifsc)
		);

		CREATE TABLE IF NOT EXISTS withdrawals (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL REFERENCES users(id),
			amount           INTEGER NOT NULL CHECK (amount > 0),
			balance_snapshot INTEGER NOT NULL,
			account_number   TEXT NOT NULL,
			ifsc             TEXT NOT NULL,
			state            TEXT NOT NULL,
			contact_id       TEXT NOT NULL DEFAULT '',
			fund_account_id  TEXT NOT NULL DEFAULT '',
			payout_id        TEXT NOT NULL DEFAULT '',
			failure_reason   TEXT NOT NULL DEFAULT '',
			created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_withdrawals_user_id ON withdrawals(user_id);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_withdrawals_active
			ON withdrawals(user_id) WHERE state NOT IN ('completed', 'failed');
	`)
	if err != nil {
		return fmt.Errorf("creating payout tables: %w", err)
	}

	return nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error. fn must only use tx: the pool has a single connection,
// so touching db.conn inside fn would deadlock.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// splitIDs turns a group_concat result back into a slice. Never nil, so the
// JSON form is [] rather than null.
func splitIDs(joined string) []string {
	if joined == "" {
		return []string{}
	}
	return strings.Split(joined, ",")
}

// clampList applies the default and maximum page size.
func clampList(opts repository.ListOptions) (int, int) {
	limit, offset := opts.Limit, opts.Offset
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
