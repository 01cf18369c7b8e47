package test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hrygo/bankdesk/internal/profile"
	"github.com/hrygo/bankdesk/store"
	"github.com/hrygo/bankdesk/store/db"
)

// NewTestingStore opens a migrated store for tests.
// SQLite in a temporary directory is used unless DRIVER=postgres is set.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()

	p := getTestingProfile(t)
	dbDriver, err := db.NewDBDriver(p)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}

	s := store.New(dbDriver, p)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func getTestingProfile(t *testing.T) *profile.Profile {
	t.Helper()

	dir := t.TempDir()
	p := &profile.Profile{
		Mode:   "dev",
		Data:   dir,
		Driver: getDriverFromEnv(),
	}
	switch p.Driver {
	case profile.DriverPostgres:
		p.DSN = GetPostgresDSN(t)
	default:
		p.Driver = profile.DriverSQLite
		p.DSN = filepath.Join(dir, "bankdesk_test.db")
	}
	return p
}

// IsPostgres reports whether the tests run against PostgreSQL.
func IsPostgres() bool {
	return getDriverFromEnv() == profile.DriverPostgres
}

func getDriverFromEnv() string {
	driver := os.Getenv("DRIVER")
	if driver == "" {
		driver = profile.DriverSQLite
	}
	return driver
}
