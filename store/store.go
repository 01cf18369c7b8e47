package store

import (
	"github.com/hrygo/bankdesk/internal/profile"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

// SupportsVectorSearch reports whether the driver can rank products by embedding similarity.
func (s *Store) SupportsVectorSearch() bool {
	return s.driver.Type() == "postgres"
}

func (s *Store) Close() error {
	return s.driver.Close()
}
