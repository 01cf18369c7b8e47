package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/bankdesk/store"
)

// ErrVectorNotSupported is returned when storing embeddings on SQLite.
var ErrVectorNotSupported = errors.New("vector embeddings are not supported on SQLite. Use PostgreSQL for semantic product search")

const productColumns = "id, product_id, product_name, description, type, status, audience, products_types, installation, embedding_model, created_ts, updated_ts"

func (d *DB) UpsertProduct(ctx context.Context, upsert *store.Product) (*store.Product, error) {
	stmt := `
		INSERT INTO product (product_id, product_name, description, type, status, audience, products_types, installation, created_ts, updated_ts)
		VALUES (` + placeholders(10) + `)
		ON CONFLICT (product_id)
		DO UPDATE SET
			product_name = excluded.product_name,
			description = excluded.description,
			type = excluded.type,
			status = excluded.status,
			audience = excluded.audience,
			products_types = excluded.products_types,
			installation = excluded.installation,
			updated_ts = excluded.updated_ts
		RETURNING id, created_ts, updated_ts
	`

	product := *upsert
	product.Embedding = nil
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

func (d *DB) ListProducts(ctx context.Context, find *store.FindProduct) ([]*store.Product, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ProductID != nil {
		where, args = append(where, "product_id = ?"), append(args, *find.ProductID)
	}
	if find.WithoutEmbedding {
		// Nothing is ever embedded on SQLite.
		return []*store.Product{}, nil
	}

	query := `SELECT ` + productColumns + ` FROM product WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id ASC`
	if find.Limit > 0 {
		query += ` LIMIT ?`
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

func (*DB) UpdateProductEmbedding(context.Context, *store.UpdateProductEmbedding) error {
	return ErrVectorNotSupported
}

// SearchProducts matches every query term against the product text.
// The vector in opts is ignored.
func (d *DB) SearchProducts(ctx context.Context, opts *store.ProductSearchOptions) (*store.ProductSearchResult, error) {
	terms := strings.Fields(opts.Query)
	if len(terms) == 0 {
		return nil, errors.New("search query is empty")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	conditions, args := []string{}, []any{}
	for _, term := range terms {
		pattern := "%" + strings.ToLower(term) + "%"
		conditions = append(conditions, "(LOWER(product_name) LIKE ? OR LOWER(description) LIKE ? OR LOWER(type) LIKE ? OR LOWER(audience) LIKE ? OR LOWER(products_types) LIKE ?)")
		args = append(args, pattern, pattern, pattern, pattern, pattern)
	}
	query := `
		SELECT ` + productColumns + `
		FROM product
		WHERE ` + strings.Join(conditions, " OR ") + `
		ORDER BY product_name ASC
		LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search products")
	}
	defer rows.Close()

	result := &store.ProductSearchResult{SQL: compactSQL(query), Products: []*store.ProductWithScore{}}
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
		result.Products = append(result.Products, &store.ProductWithScore{Product: &p})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
