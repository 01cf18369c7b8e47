package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/bankdesk/internal/profile"
	"github.com/hrygo/bankdesk/store"
	"github.com/hrygo/bankdesk/store/db/postgres"
	"github.com/hrygo/bankdesk/store/db/sqlite"
)

// ============================================================================
// DATABASE SUPPORT POLICY
// ============================================================================
// PostgreSQL: production. Durable checkpoints and pgvector product search.
// SQLite: development and tests. Durable checkpoints, keyword product search.
// Memory: checkpoints live in the session layer; the catalog is an in-memory
// SQLite database that is gone when the process exits.
// ============================================================================

// NewDBDriver creates new db driver based on profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "memory":
		catalog := *profile
		catalog.DSN = sqlite.MemoryDSN
		driver, err = sqlite.NewDB(&catalog)
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q: only 'memory', 'postgres' and 'sqlite' are supported", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
