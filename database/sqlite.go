// Package database provides the SQLite-backed store for users, the general
// audit log and impersonation sessions.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/tailscale/squibble"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Database errors.
var (
	ErrBuildConnectionURL = errors.New("failed to build SQLite connection URL")
	ErrOpenDatabase       = errors.New("failed to open database")
	ErrPingDatabase       = errors.New("failed to ping database")
	ErrApplySchema        = errors.New("failed to apply schema")
)

// Database wraps the sqlx database connection.
type Database struct {
	db *sqlx.DB
}

// New opens the database at path with the production configuration and
// applies the flock schema.
func New(path string) (*Database, error) {
	return NewWithConfig(DefaultSQLiteConfig(path), Schema())
}

// NewWithConfig opens a database with custom configuration and schema.
func NewWithConfig(cfg *SQLiteConfig, schema string) (*Database, error) {
	connectionURL, err := cfg.ToURL()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildConnectionURL, err)
	}

	log.Debug().
		Str("path", cfg.Path).
		Str("config", connectionURL).
		Msg("Opening SQLite database")

	db, err := sqlx.Open("sqlite", connectionURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenDatabase, err)
	}

	// SQLite concurrency settings: single connection model
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrPingDatabase, err)
	}

	if schema != "" {
		s := &squibble.Schema{Current: schema}
		if err := s.Apply(context.Background(), db.DB); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %w", ErrApplySchema, err)
		}
	}

	log.Info().
		Str("path", cfg.Path).
		Msg("Database opened successfully")

	return &Database{db: db}, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying *sqlx.DB for advanced operations.
func (d *Database) DB() *sqlx.DB {
	return d.db
}

// WithTx executes a function within a database transaction.
func (d *Database) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Schema returns the flock schema.
func Schema() string {
	return `
-- Churches (tenants)
CREATE TABLE IF NOT EXISTS churches (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Users table
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT UNIQUE NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL DEFAULT 'member',
    church_id TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    modified_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    deleted_at DATETIME,
    FOREIGN KEY (church_id) REFERENCES churches(id)
);

CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
CREATE INDEX IF NOT EXISTS idx_users_church ON users(church_id);

-- General admin-action audit log
CREATE TABLE IF NOT EXISTS audit_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
    actor_user_id TEXT,
    action TEXT NOT NULL,
    resource_type TEXT NOT NULL,
    resource_id TEXT NOT NULL,
    changes TEXT,
    ip_address TEXT,
    user_agent TEXT,
    FOREIGN KEY (actor_user_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_log_actor ON audit_log(actor_user_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_resource ON audit_log(resource_type, resource_id);

-- Impersonation sessions: closed, never deleted
CREATE TABLE IF NOT EXISTS impersonation_sessions (
    id TEXT PRIMARY KEY,
    admin_id TEXT NOT NULL,
    admin_email TEXT NOT NULL,
    admin_name TEXT NOT NULL DEFAULT '',
    target_user_id TEXT NOT NULL,
    target_user_email TEXT NOT NULL,
    target_user_name TEXT NOT NULL DEFAULT '',
    target_church_id TEXT,
    target_church_name TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL,
    session_token TEXT NOT NULL DEFAULT '',
    started_at DATETIME NOT NULL,
    expires_at DATETIME NOT NULL,
    ended_at DATETIME,
    end_reason TEXT CHECK (end_reason IN ('manual', 'expired', 'admin_logout', 'forced')),
    actions_count INTEGER NOT NULL DEFAULT 0 CHECK (actions_count >= 0),
    ip_address TEXT NOT NULL DEFAULT '',
    user_agent TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (admin_id) REFERENCES users(id),
    FOREIGN KEY (target_user_id) REFERENCES users(id)
);

-- At most one open session per admin. Losers of a concurrent start get a
-- UNIQUE violation instead of a second open row.
CREATE UNIQUE INDEX IF NOT EXISTS idx_impersonation_one_open_per_admin
    ON impersonation_sessions(admin_id) WHERE ended_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_impersonation_sessions_target ON impersonation_sessions(target_user_id);
CREATE INDEX IF NOT EXISTS idx_impersonation_sessions_started ON impersonation_sessions(started_at DESC);

-- Append-only action log of impersonation sessions
CREATE TABLE IF NOT EXISTS impersonation_action_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    action_type TEXT NOT NULL,
    action_path TEXT NOT NULL DEFAULT '',
    action_method TEXT,
    action_payload TEXT,
    created_at DATETIME NOT NULL,
    FOREIGN KEY (session_id) REFERENCES impersonation_sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_impersonation_action_log_session ON impersonation_action_log(session_id, created_at);
`
}
