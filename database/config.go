package database

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by config validation.
var (
	ErrPathEmpty           = errors.New("path cannot be empty")
	ErrBusyTimeoutNegative = errors.New("busy_timeout must be >= 0")
	ErrInvalidJournalMode  = errors.New("invalid journal_mode")
	ErrInvalidTxLock       = errors.New("invalid txlock")
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DefaultBusyTimeout is the default busy timeout in milliseconds.
const DefaultBusyTimeout = 10000

// JournalMode represents SQLite journal_mode pragma values.
type JournalMode string

const (
	JournalModeWAL    JournalMode = "WAL"
	JournalModeDelete JournalMode = "DELETE"
	JournalModeMemory JournalMode = "MEMORY"
)

// TxLock represents the modernc.org/sqlite transaction lock mode.
type TxLock string

const (
	TxLockDeferred  TxLock = "deferred"
	TxLockImmediate TxLock = "immediate"
)

// SQLiteConfig holds connection settings for the modernc.org/sqlite driver.
type SQLiteConfig struct {
	Path        string
	BusyTimeout int // milliseconds, 0 disables
	JournalMode JournalMode
	ForeignKeys bool
	// TxLock immediate serializes writers at BEGIN, which the conditional
	// updates on impersonation sessions rely on.
	TxLock TxLock
}

// DefaultSQLiteConfig returns the production configuration for path.
func DefaultSQLiteConfig(path string) *SQLiteConfig {
	if path == MemoryPath {
		return MemorySQLiteConfig()
	}
	return &SQLiteConfig{
		Path:        path,
		BusyTimeout: DefaultBusyTimeout,
		JournalMode: JournalModeWAL,
		ForeignKeys: true,
		TxLock:      TxLockImmediate,
	}
}

// MemorySQLiteConfig returns a configuration for in-memory databases.
func MemorySQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:        MemoryPath,
		ForeignKeys: true,
		TxLock:      TxLockImmediate,
	}
}

// Validate checks if all configuration values are valid.
func (c *SQLiteConfig) Validate() error {
	if c.Path == "" {
		return ErrPathEmpty
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("%w, got %d", ErrBusyTimeoutNegative, c.BusyTimeout)
	}
	switch c.JournalMode {
	case "", JournalModeWAL, JournalModeDelete, JournalModeMemory:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidJournalMode, c.JournalMode)
	}
	switch c.TxLock {
	case "", TxLockDeferred, TxLockImmediate:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidTxLock, c.TxLock)
	}
	return nil
}

// ToURL builds the connection string using _pragma parameters.
func (c *SQLiteConfig) ToURL() (string, error) {
	if err := c.Validate(); err != nil {
		return "", fmt.Errorf("invalid config: %w", err)
	}

	var params []string
	if c.TxLock != "" {
		params = append(params, "_txlock="+string(c.TxLock))
	}
	if c.BusyTimeout > 0 {
		params = append(params, fmt.Sprintf("_pragma=busy_timeout(%d)", c.BusyTimeout))
	}
	if c.JournalMode != "" {
		params = append(params, fmt.Sprintf("_pragma=journal_mode(%s)", c.JournalMode))
	}
	if c.ForeignKeys {
		params = append(params, "_pragma=foreign_keys(1)")
	}

	url := c.Path
	if c.Path != MemoryPath {
		url = "file:" + c.Path
	}
	if len(params) > 0 {
		url += "?" + strings.Join(params, "&")
	}
	return url, nil
}
