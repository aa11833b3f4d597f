package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - Partial index over unsynced ledger rows
const currentSchemaVersion = 1

// Supported database/sql driver names.
const (
	DriverCGO  = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPure = "sqlite"  // modernc.org/sqlite
)

// Meta keys.
const (
	MetaDeviceID       = "device_id"
	MetaLastDownloadAt = "last_download_at"
	MetaLastUploadAt   = "last_upload_at"
)

// Option configures a Store.
type Option func(*Store)

// WithDriver selects the database/sql driver. Default: DriverCGO.
func WithDriver(driver string) Option {
	return func(s *Store) {
		if driver != "" {
			s.driver = driver
		}
	}
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store provides durable storage for the offline catalog and ledger.
// Uses SQLite with WAL mode and a single connection (single writer).
//
// A Store returned by New is not usable until Init succeeds; every operation
// on an uninitialized or closed Store fails with a NotInitialized
// StorageError.
type Store struct {
	mu     sync.RWMutex // guards db against Close
	db     *sql.DB
	path   string
	driver string
	logger *slog.Logger
}

// New creates an uninitialized store for the database at path.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:   path,
		driver: DriverCGO,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates or opens a SQLite database at the given path and initializes it.
// Safe to call on every start: the schema is created if absent and existing
// data is never touched.
func Open(path string, opts ...Option) (*Store, error) {
	s := New(path, opts...)
	if err := s.Init(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Init opens the database, applies pragmas and migrations, and assigns a
// device id on first use. Idempotent: calling it on an initialized store is
// a no-op.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := sql.Open(s.driver, s.path)
	if err != nil {
		return ioFailure("open", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return ioFailure("connect", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return ioFailure("apply pragmas", err)
	}

	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return ioFailure("apply schema", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO NOTHING
	`, MetaDeviceID, uuid.Must(uuid.NewV7()).String()); err != nil {
		db.Close()
		return ioFailure("assign device id", err)
	}

	s.db = db
	s.logger.Debug("store initialized", "path", s.path, "driver", s.driver)
	return nil
}

// Close closes the database connection. Later operations fail with
// NotInitialized until Init is called again.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

// conn returns the live connection or a NotInitialized error.
// The read lock is held by the caller for the duration of the operation.
func (s *Store) conn(op string) (*sql.DB, func(), error) {
	s.mu.RLock()
	if s.db == nil {
		s.mu.RUnlock()
		return nil, nil, notInitialized(op)
	}
	return s.db, s.mu.RUnlock, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(ctx, db); err != nil {
			return err
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds a partial index so unsynced reads and counts stay cheap
// once the synced history grows.
func migrateToV1(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_validation_logs_unsynced
		ON validation_logs(id) WHERE synced = 0
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	db, release, err := s.conn("verify pragma")
	if err != nil {
		return err
	}
	defer release()

	var value string
	if err := db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
