package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Type returns the driver name ("postgres" or "sqlite").
	Type() string

	IsInitialized(ctx context.Context) (bool, error)

	// AgentCheckpoint model related methods.
	GetAgentCheckpoint(ctx context.Context, find *FindAgentCheckpoint) (*AgentCheckpoint, error)
	UpsertAgentCheckpoint(ctx context.Context, upsert *AgentCheckpoint) (*AgentCheckpoint, error)
	UpdateAgentCheckpoint(ctx context.Context, update *UpdateAgentCheckpoint) (*AgentCheckpoint, error)
	DeleteAgentCheckpoints(ctx context.Context, delete *DeleteAgentCheckpoint) (int64, error)

	// Product model related methods.
	UpsertProduct(ctx context.Context, upsert *Product) (*Product, error)
	ListProducts(ctx context.Context, find *FindProduct) ([]*Product, error)
	UpdateProductEmbedding(ctx context.Context, update *UpdateProductEmbedding) error

	// SearchProducts ranks catalog products against a query.
	// Vector similarity is used when the options carry a vector and the driver supports it.
	SearchProducts(ctx context.Context, opts *ProductSearchOptions) (*ProductSearchResult, error)
}
