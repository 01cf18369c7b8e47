package store

import "context"

// Product is a retail banking product of the catalog.
type Product struct {
	ID             int32
	ProductID      string
	Name           string
	Description    string
	Type           string
	Status         string
	Audience       string
	ProductTypes   string
	Installation   string
	Embedding      []float32 // 768-dimensional vector, nil when not embedded yet
	EmbeddingModel string
	CreatedTs      int64
	UpdatedTs      int64
}

// EmbeddingText is the text that represents the product in vector space.
func (p *Product) EmbeddingText() string {
	return p.Name + " " + p.Description + " (" + p.Audience + ")"
}

// FindProduct is the find condition for products.
type FindProduct struct {
	ProductID *string
	// WithoutEmbedding restricts the result to products lacking an embedding for the model.
	WithoutEmbedding bool
	EmbeddingModel   string
	Limit            int
}

// UpdateProductEmbedding sets the embedding of a product.
type UpdateProductEmbedding struct {
	ProductID string
	Embedding []float32
	Model     string
	UpdatedTs int64
}

// ProductWithScore represents a search result with similarity score.
type ProductWithScore struct {
	Product *Product
	Score   float32 // Similarity score (0-1, higher is more similar); 0 for keyword matches
}

// ProductSearchOptions represents the options for product search.
type ProductSearchOptions struct {
	Query    string    // Natural language query, used for keyword matching
	Vector   []float32 // Query vector, optional
	Limit    int       // Number of results to return, default 10
	MinScore float32   // Minimum similarity for vector results
}

// ProductSearchResult holds the ranked products and the SQL that produced them.
type ProductSearchResult struct {
	Products []*ProductWithScore
	SQL      string
}

// UpsertProduct inserts or updates a product by its catalog identifier.
func (s *Store) UpsertProduct(ctx context.Context, upsert *Product) (*Product, error) {
	return s.driver.UpsertProduct(ctx, upsert)
}

// ListProducts lists products.
func (s *Store) ListProducts(ctx context.Context, find *FindProduct) ([]*Product, error) {
	return s.driver.ListProducts(ctx, find)
}

// GetProduct returns a product by catalog identifier, or nil when absent.
func (s *Store) GetProduct(ctx context.Context, productID string) (*Product, error) {
	list, err := s.driver.ListProducts(ctx, &FindProduct{ProductID: &productID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// UpdateProductEmbedding stores the embedding of a product.
func (s *Store) UpdateProductEmbedding(ctx context.Context, update *UpdateProductEmbedding) error {
	return s.driver.UpdateProductEmbedding(ctx, update)
}

// SearchProducts ranks products against the query.
func (s *Store) SearchProducts(ctx context.Context, opts *ProductSearchOptions) (*ProductSearchResult, error) {
	return s.driver.SearchProducts(ctx, opts)
}
