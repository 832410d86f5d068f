package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteConfigToURL(t *testing.T) {
	url, err := DefaultSQLiteConfig("/var/lib/flock/flock.db").ToURL()
	require.NoError(t, err)
	assert.Equal(t,
		"file:/var/lib/flock/flock.db?_txlock=immediate&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		url)

	url, err = DefaultSQLiteConfig(MemoryPath).ToURL()
	require.NoError(t, err)
	assert.Equal(t, ":memory:?_txlock=immediate&_pragma=foreign_keys(1)", url)
}

func TestSQLiteConfigValidate(t *testing.T) {
	assert.ErrorIs(t, (&SQLiteConfig{}).Validate(), ErrPathEmpty)
	assert.ErrorIs(t, (&SQLiteConfig{Path: "x", BusyTimeout: -1}).Validate(), ErrBusyTimeoutNegative)
	assert.ErrorIs(t, (&SQLiteConfig{Path: "x", JournalMode: "ROLLBACK"}).Validate(), ErrInvalidJournalMode)
	assert.ErrorIs(t, (&SQLiteConfig{Path: "x", TxLock: "exclusive"}).Validate(), ErrInvalidTxLock)
}
