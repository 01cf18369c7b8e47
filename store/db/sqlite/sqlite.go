package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/pkg/errors"
	// Import the pure-Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/bankdesk/internal/profile"
	"github.com/hrygo/bankdesk/store"
)

// SQLite is intended for development and tests. Checkpoints are fully supported,
// product search falls back to keyword matching because there is no vector type.

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// NewDB opens a SQLite database at profile.DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	var source string
	dsn := profile.DSN
	if dsn == MemoryDSN {
		source = "file::memory:?_pragma=foreign_keys(1)"
	} else {
		if !filepath.IsAbs(dsn) && profile.Data != "" && filepath.Dir(dsn) == "." {
			dsn = filepath.Join(profile.Data, dsn)
		}
		// WAL keeps readers from blocking the single writer; busy_timeout covers
		// short lock waits between concurrent sessions.
		source = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", dsn)
	}

	db, err := sql.Open("sqlite", source)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}
	// A single connection also keeps an in-memory database alive and shared.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &DB{db: db, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (*DB) Type() string {
	return profile.DriverSQLite
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = 'agent_checkpoint')").Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check if database is initialized")
	}
	return exists, nil
}
