package test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/bankdesk/store"
)

func createTestingProducts(ctx context.Context, t *testing.T, ts *store.Store) {
	t.Helper()
	now := time.Now().Unix()
	for _, p := range []*store.Product{
		{ProductID: "P001", Name: "Savings Account", Description: "Interest bearing deposit account", Type: "Deposit", Status: "Active", Audience: "Individual"},
		{ProductID: "P002", Name: "Home Loan", Description: "Mortgage for buying a house", Type: "Loan", Status: "Active", Audience: "Individual"},
		{ProductID: "P003", Name: "Trade Finance", Description: "Letters of credit for importers", Type: "Loan", Status: "Active", Audience: "Corporate"},
	} {
		p.CreatedTs, p.UpdatedTs = now, now
		_, err := ts.UpsertProduct(ctx, p)
		require.NoError(t, err)
	}
}

func TestProductStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	createTestingProducts(ctx, t, ts)

	list, err := ts.ListProducts(ctx, &store.FindProduct{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "P001", list[0].ProductID)

	product, err := ts.GetProduct(ctx, "P002")
	require.NoError(t, err)
	require.NotNil(t, product)
	require.Equal(t, "Home Loan", product.Name)
	require.Equal(t, "Home Loan Mortgage for buying a house (Individual)", product.EmbeddingText())

	// Upserting an existing product updates it in place.
	updated, err := ts.UpsertProduct(ctx, &store.Product{
		ProductID:   "P002",
		Name:        "Home Loan Plus",
		Description: "Mortgage for buying a house",
		Type:        "Loan",
		Status:      "Active",
		Audience:    "Individual",
		UpdatedTs:   time.Now().Unix(),
	})
	require.NoError(t, err)
	require.Equal(t, product.ID, updated.ID)

	list, err = ts.ListProducts(ctx, &store.FindProduct{})
	require.NoError(t, err)
	require.Len(t, list, 3)

	missing, err := ts.GetProduct(ctx, "P999")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestSearchProductsByKeyword(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	createTestingProducts(ctx, t, ts)

	result, err := ts.SearchProducts(ctx, &store.ProductSearchOptions{Query: "loan", Limit: 5})
	require.NoError(t, err)
	require.Len(t, result.Products, 2)
	require.NotEmpty(t, result.SQL)
	require.Contains(t, result.SQL, "SELECT")
	names := []string{result.Products[0].Product.Name, result.Products[1].Product.Name}
	require.ElementsMatch(t, []string{"Home Loan", "Trade Finance"}, names)

	result, err = ts.SearchProducts(ctx, &store.ProductSearchOptions{Query: "corporate", Limit: 5})
	require.NoError(t, err)
	require.Len(t, result.Products, 1)
	require.Equal(t, "P003", result.Products[0].Product.ProductID)

	_, err = ts.SearchProducts(ctx, &store.ProductSearchOptions{Query: "   "})
	require.Error(t, err)
}

func TestProductEmbedding(t *testing.T) {
	if !IsPostgres() {
		t.Skip("Product embedding tests only work with PostgreSQL + pgvector")
	}

	t.Parallel()
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	createTestingProducts(ctx, t, ts)

	pending, err := ts.ListProducts(ctx, &store.FindProduct{WithoutEmbedding: true, EmbeddingModel: "text-embedding-004"})
	require.NoError(t, err)
	require.Len(t, pending, 3)

	vectors := map[string][]float32{
		"P001": unitVector(0),
		"P002": unitVector(1),
		"P003": unitVector(2),
	}
	for id, vector := range vectors {
		err := ts.UpdateProductEmbedding(ctx, &store.UpdateProductEmbedding{
			ProductID: id,
			Embedding: vector,
			Model:     "text-embedding-004",
			UpdatedTs: time.Now().Unix(),
		})
		require.NoError(t, err)
	}

	pending, err = ts.ListProducts(ctx, &store.FindProduct{WithoutEmbedding: true, EmbeddingModel: "text-embedding-004"})
	require.NoError(t, err)
	require.Empty(t, pending)

	result, err := ts.SearchProducts(ctx, &store.ProductSearchOptions{Vector: unitVector(1), Limit: 3})
	require.NoError(t, err)
	require.Len(t, result.Products, 3)
	require.Equal(t, "P002", result.Products[0].Product.ProductID)
	require.InDelta(t, 1.0, result.Products[0].Score, 0.0001)
	require.Contains(t, result.SQL, "<=>")

	result, err = ts.SearchProducts(ctx, &store.ProductSearchOptions{Vector: unitVector(1), Limit: 3, MinScore: 0.5})
	require.NoError(t, err)
	require.Len(t, result.Products, 1)

	// Changing the embedded text drops the stale embedding.
	_, err = ts.UpsertProduct(ctx, &store.Product{ProductID: "P001", Name: "Savings Account", Description: "New description", Audience: "Individual"})
	require.NoError(t, err)
	pending, err = ts.ListProducts(ctx, &store.FindProduct{WithoutEmbedding: true, EmbeddingModel: "text-embedding-004"})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "P001", pending[0].ProductID)
}

func unitVector(axis int) []float32 {
	v := make([]float32, 768)
	v[axis] = 1
	return v
}
