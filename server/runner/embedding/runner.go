// Package embedding keeps the product catalog embedded for vector search.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hrygo/bankdesk/plugin/ai"
	"github.com/hrygo/bankdesk/store"
)

// ProductStore is the catalog surface the runner reads and writes.
type ProductStore interface {
	ListProducts(ctx context.Context, find *store.FindProduct) ([]*store.Product, error)
	UpdateProductEmbedding(ctx context.Context, update *store.UpdateProductEmbedding) error
}

type Runner struct {
	store            ProductStore
	embeddingService ai.EmbeddingService
	interval         time.Duration
	batchSize        int
	model            string
	now              func() time.Time
}

// NewRunner creates a product embedding runner.
func NewRunner(store ProductStore, embeddingService ai.EmbeddingService) *Runner {
	return &Runner{
		store:            store,
		embeddingService: embeddingService,
		interval:         5 * time.Minute,
		batchSize:        16,
		model:            embeddingService.Model(),
		now:              time.Now,
	}
}

// Run starts the background task.
func (r *Runner) Run(ctx context.Context) {
	// Process once on startup
	r.processNewProducts(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.processNewProducts(ctx)
		case <-ctx.Done():
			slog.Info("embedding runner stopped")
			return
		}
	}
}

// RunOnce processes products once and returns how many were embedded.
func (r *Runner) RunOnce(ctx context.Context) int {
	return r.processNewProducts(ctx)
}

func (r *Runner) processNewProducts(ctx context.Context) int {
	products, err := r.store.ListProducts(ctx, &store.FindProduct{
		WithoutEmbedding: true,
		EmbeddingModel:   r.model,
		Limit:            r.batchSize * 20, // Fetch more data, but process in small batches
	})
	if err != nil {
		slog.Error("failed to find products without embedding", "error", err)
		return 0
	}
	if len(products) == 0 {
		return 0
	}

	slog.Info("processing products for embedding", "count", len(products), "model", r.model)

	embedded := 0
	for i := 0; i < len(products); i += r.batchSize {
		select {
		case <-ctx.Done():
			slog.Info("embedding processing cancelled", "processed", i, "total", len(products))
			return embedded
		default:
		}

		end := min(i+r.batchSize, len(products))
		batch := products[i:end]

		n, err := r.processBatch(ctx, batch)
		embedded += n
		if err != nil {
			slog.Error("failed to process batch", "error", err)
			continue
		}
		slog.Info("batch processed", "count", len(batch), "progress", fmt.Sprintf("%d/%d", end, len(products)))
	}
	return embedded
}

func (r *Runner) processBatch(ctx context.Context, products []*store.Product) (int, error) {
	if len(products) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	texts := make([]string, len(products))
	for i, p := range products {
		texts[i] = p.EmbeddingText()
	}

	vectors, err := r.embeddingService.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(products) {
		return 0, fmt.Errorf("embedding service returned %d vectors for %d products", len(vectors), len(products))
	}

	stored := 0
	for i, p := range products {
		err := r.store.UpdateProductEmbedding(ctx, &store.UpdateProductEmbedding{
			ProductID: p.ProductID,
			Embedding: vectors[i],
			Model:     r.model,
			UpdatedTs: r.now().Unix(),
		})
		if err != nil {
			slog.Error("failed to store embedding", "product_id", p.ProductID, "error", err)
			continue
		}
		stored++
	}
	return stored, nil
}
