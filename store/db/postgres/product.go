package postgres

import (
	"context"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/bankdesk/store"
)

const productColumns = "id, product_id, product_name, description, type, status, audience, products_types, installation, embedding_model, created_ts, updated_ts"

// UpsertProduct inserts or updates a product.
// The stored embedding is dropped when the embedded text changes, so the runner re-embeds it.
func (d *DB) UpsertProduct(ctx context.Context, upsert *store.Product) (*store.Product, error) {
	stmt := `
		INSERT INTO product (product_id, product_name, description, type, status, audience, products_types, installation, created_ts, updated_ts)
		VALUES (` + placeholders(10) + `)
		ON CONFLICT (product_id)
		DO UPDATE SET
			embedding = CASE
				WHEN product.product_name = EXCLUDED.product_name
					AND product.description = EXCLUDED.description
					AND product.audience = EXCLUDED.audience
				THEN product.embedding
				ELSE NULL
			END,
			product_name = EXCLUDED.product_name,
			description = EXCLUDED.description,
			type = EXCLUDED.type,
			status = EXCLUDED.status,
			audience = EXCLUDED.audience,
			products_types = EXCLUDED.products_types,
			installation = EXCLUDED.installation,
			updated_ts = EXCLUDED.updated_ts
		RETURNING id, created_ts, updated_ts
	`

	product := *upsert
	err := d.db.QueryRowContext(ctx, stmt,
		product.ProductID,
		product.Name,
		product.Description,
		product.Type,
		product.Status,
		product.Audience,
		product.ProductTypes,
		product.Installation,
		product.CreatedTs,
		product.UpdatedTs,
	).Scan(&product.ID, &product.CreatedTs, &product.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert product")
	}
	return &product, nil
}

// ListProducts lists products. Embeddings are not loaded.
func (d *DB) ListProducts(ctx context.Context, find *store.FindProduct) ([]*store.Product, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ProductID != nil {
		where, args = append(where, "product_id = "+placeholder(len(args)+1)), append(args, *find.ProductID)
	}
	if find.WithoutEmbedding {
		where, args = append(where, "(embedding IS NULL OR embedding_model <> "+placeholder(len(args)+1)+")"), append(args, find.EmbeddingModel)
	}

	query := `SELECT ` + productColumns + ` FROM product WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id ASC`
	if find.Limit > 0 {
		query += ` LIMIT ` + placeholder(len(args)+1)
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list products")
	}
	defer rows.Close()

	list := []*store.Product{}
	for rows.Next() {
		var p store.Product
		if err := rows.Scan(
			&p.ID,
			&p.ProductID,
			&p.Name,
			&p.Description,
			&p.Type,
			&p.Status,
			&p.Audience,
			&p.ProductTypes,
			&p.Installation,
			&p.EmbeddingModel,
			&p.CreatedTs,
			&p.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan product")
		}
		list = append(list, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateProductEmbedding stores the embedding vector of a product.
func (d *DB) UpdateProductEmbedding(ctx context.Context, update *store.UpdateProductEmbedding) error {
	stmt := `UPDATE product SET embedding = $1, embedding_model = $2, updated_ts = $3 WHERE product_id = $4`
	result, err := d.db.ExecContext(ctx, stmt,
		pgvector.NewVector(update.Embedding),
		update.Model,
		update.UpdatedTs,
		update.ProductID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update product embedding")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.Errorf("product %s not found", update.ProductID)
	}
	return nil
}

// SearchProducts ranks products by cosine similarity when a vector is given and by keyword match otherwise.
func (d *DB) SearchProducts(ctx context.Context, opts *store.ProductSearchOptions) (*store.ProductSearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	if len(opts.Vector) > 0 {
		return d.vectorSearchProducts(ctx, opts, limit)
	}
	return d.keywordSearchProducts(ctx, opts, limit)
}

func (d *DB) vectorSearchProducts(ctx context.Context, opts *store.ProductSearchOptions, limit int) (*store.ProductSearchResult, error) {
	// The <=> operator computes cosine distance (1 - cosine_similarity),
	// so ordering by distance ASC returns the most similar first.
	query := `
		SELECT ` + productColumns + `,
			1 - (embedding <=> $1) AS score
		FROM product
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`

	rows, err := d.db.QueryContext(ctx, query, pgvector.NewVector(opts.Vector), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search products by vector")
	}
	defer rows.Close()

	result := &store.ProductSearchResult{SQL: compactSQL(query), Products: []*store.ProductWithScore{}}
	for rows.Next() {
		item, err := scanProductWithScore(rows)
		if err != nil {
			return nil, err
		}
		if item.Score >= opts.MinScore {
			result.Products = append(result.Products, item)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (d *DB) keywordSearchProducts(ctx context.Context, opts *store.ProductSearchOptions, limit int) (*store.ProductSearchResult, error) {
	terms := strings.Fields(opts.Query)
	if len(terms) == 0 {
		return nil, errors.New("search query is empty")
	}

	conditions, args := []string{}, []any{}
	for _, term := range terms {
		p := placeholder(len(args) + 1)
		args = append(args, "%"+term+"%")
		conditions = append(conditions, "(product_name ILIKE "+p+" OR description ILIKE "+p+" OR type ILIKE "+p+" OR audience ILIKE "+p+" OR products_types ILIKE "+p+")")
	}
	query := `
		SELECT ` + productColumns + `,
			0::real AS score
		FROM product
		WHERE ` + strings.Join(conditions, " OR ") + `
		ORDER BY product_name ASC
		LIMIT ` + placeholder(len(args)+1)
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search products by keyword")
	}
	defer rows.Close()

	result := &store.ProductSearchResult{SQL: compactSQL(query), Products: []*store.ProductWithScore{}}
	for rows.Next() {
		item, err := scanProductWithScore(rows)
		if err != nil {
			return nil, err
		}
		result.Products = append(result.Products, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProductWithScore(rows rowScanner) (*store.ProductWithScore, error) {
	var p store.Product
	var score float32
	if err := rows.Scan(
		&p.ID,
		&p.ProductID,
		&p.Name,
		&p.Description,
		&p.Type,
		&p.Status,
		&p.Audience,
		&p.ProductTypes,
		&p.Installation,
		&p.EmbeddingModel,
		&p.CreatedTs,
		&p.UpdatedTs,
		&score,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan product search result")
	}
	return &store.ProductWithScore{Product: &p, Score: score}, nil
}

// compactSQL collapses whitespace so the query reads well in a trace.
func compactSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
