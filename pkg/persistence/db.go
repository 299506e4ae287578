// Package persistence provides SQLite-based storage for cases, stage
// messages, and evidence snippets, with singleton database access.
package persistence

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"caseflow/pkg/logx"
)

// All database access goes through the singleton.
//
//nolint:gochecknoglobals // Intentional singleton pattern for database access
var (
	globalDB     *sql.DB
	globalDBOnce sync.Once
	globalDBMu   sync.RWMutex
	dbLogger     *logx.Logger
)

// Initialize sets up the singleton database connection. Must be called once
// at startup before any database operations; subsequent calls are no-ops.
func Initialize(dbPath string) error {
	var initErr error

	globalDBOnce.Do(func() {
		dbLogger = logx.NewLogger("persistence")

		db, err := sql.Open("sqlite", fmt.Sprintf(
			"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
			dbPath,
		))
		if err != nil {
			initErr = fmt.Errorf("failed to open database: %w", err)
			return
		}

		if err := db.Ping(); err != nil {
			_ = db.Close()
			initErr = fmt.Errorf("failed to ping database: %w", err)
			return
		}

		if err := createSchema(db); err != nil {
			_ = db.Close()
			initErr = fmt.Errorf("failed to initialize schema: %w", err)
			return
		}

		// SQLite only supports one writer.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		globalDB = db
		dbLogger.Info("database initialized: %s", dbPath)
	})

	return initErr
}

// GetDB returns the singleton database connection.
// Panics if Initialize has not been called.
func GetDB() *sql.DB {
	globalDBMu.RLock()
	defer globalDBMu.RUnlock()

	if globalDB == nil {
		panic("persistence.Initialize must be called before GetDB")
	}
	return globalDB
}

// Close closes the database connection. Should be called during shutdown.
func Close() error {
	globalDBMu.Lock()
	defer globalDBMu.Unlock()

	if globalDB != nil {
		err := globalDB.Close()
		globalDB = nil
		if err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}

// Ops returns a Store over the singleton connection. This is the primary
// way to perform database operations.
func Ops() *Store {
	return NewStore(GetDB())
}

// IsInitialized returns true if the database has been initialized.
func IsInitialized() bool {
	globalDBMu.RLock()
	defer globalDBMu.RUnlock()
	return globalDB != nil
}
