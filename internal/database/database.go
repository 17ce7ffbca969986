package database

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"sublarr/models"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// DB wraps the single-writer sqlite connection. All writes go through the
// process-wide write lock so the default backend can stay on one connection;
// a pooled multi-writer backend only needs to swap this type out, the
// repositories speak database/sql.
type DB struct {
	sql     *sql.DB
	writeMu sync.Mutex
}

// Open opens (and migrates) the sqlite database at path.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqldb.SetMaxOpenConns(1)

	if err := sqldb.Ping(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		sqldb.Close()
		return nil, err
	}
	goose.SetLogger(goose.NopLogger())
	if err := goose.Up(sqldb, "migrations"); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &DB{sql: sqldb}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error { return d.sql.Close() }

// Connection exposes the raw handle for repositories and tests.
func (d *DB) Connection() *sql.DB { return d.sql }

// WithTx runs fn inside a write transaction under the process-wide lock.
// On error the transaction is rolled back.
func (d *DB) WithTx(fn func(tx *sql.Tx) error) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	tx, err := d.sql.Begin()
	if err != nil {
		return &models.StoreError{Kind: models.StoreLocked, Err: err}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &models.StoreError{Kind: models.StoreIntegrity, Err: err}
	}
	return nil
}

// Checkpoint truncates the WAL. Called before each backup and at shutdown.
func (d *DB) Checkpoint() error {
	_, err := d.sql.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// IntegrityOK runs sqlite's integrity check and reports the verdict.
func (d *DB) IntegrityOK() (bool, error) {
	var result string
	if err := d.sql.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return false, err
	}
	return result == "ok", nil
}

// Store bundles the domain repositories over one database.
type Store struct {
	db *DB

	Jobs     *JobRepository
	Wanted   *WantedRepository
	History  *HistoryRepository
	Config   *ConfigRepository
	Health   *HealthRepository
	Probe    *ProbeCacheRepository
	Profiles *ProfileRepository
}

// NewStore builds the repository set over an opened database.
func NewStore(db *DB) *Store {
	return &Store{
		db:       db,
		Jobs:     &JobRepository{db: db},
		Wanted:   &WantedRepository{db: db},
		History:  &HistoryRepository{db: db},
		Config:   &ConfigRepository{db: db},
		Health:   &HealthRepository{db: db},
		Probe:    &ProbeCacheRepository{db: db},
		Profiles: &ProfileRepository{db: db},
	}
}

// DB returns the wrapped database for maintenance operations.
func (s *Store) DB() *DB { return s.db }
