// Package catalog loads the product catalog from CSV exports.
package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/bankdesk/store"
)

// DefaultConcurrency bounds concurrent upserts of one import.
const DefaultConcurrency = 4

// ErrMissingColumn is returned when the CSV header lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

const utf8BOM = "\ufeff"

var requiredColumns = []string{"product_id", "product_name"}

// columnAliases maps alternative header spellings to their column.
var columnAliases = map[string]string{
	"name":          "product_name",
	"product_types": "products_types",
}

// ProductWriter is the catalog surface an import writes to.
type ProductWriter interface {
	UpsertProduct(ctx context.Context, upsert *store.Product) (*store.Product, error)
}

// ReadCSV parses a catalog export with the header
// product_id,product_name,description,type,status,audience,products_types,installation.
// Header names are matched case-insensitively and a leading BOM is ignored.
// Rows without a product id are skipped.
func ReadCSV(r io.Reader) ([]*store.Product, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, utf8BOM)))
		if alias, ok := columnAliases[name]; ok {
			name = alias
		}
		columns[name] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	var products []*store.Product
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv line %d: %w", line, err)
		}

		field := func(name string) string {
			i, ok := columns[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		product := &store.Product{
			ProductID:    field("product_id"),
			Name:         field("product_name"),
			Description:  field("description"),
			Type:         field("type"),
			Status:       field("status"),
			Audience:     field("audience"),
			ProductTypes: field("products_types"),
			Installation: field("installation"),
		}
		if product.ProductID == "" {
			slog.Warn("skipping catalog row without product id", "line", line)
			continue
		}
		products = append(products, product)
	}
	return products, nil
}

// Import upserts products with at most concurrency writes in flight.
// It stops at the first failure and returns how many products were written.
func Import(ctx context.Context, w ProductWriter, products []*store.Product, concurrency int) (int, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	now := time.Now().Unix()
	var written atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, p := range products {
		if p.CreatedTs == 0 {
			p.CreatedTs = now
		}
		if p.UpdatedTs == 0 {
			p.UpdatedTs = now
		}
		g.Go(func() error {
			if _, err := w.UpsertProduct(gctx, p); err != nil {
				return fmt.Errorf("failed to upsert product %s: %w", p.ProductID, err)
			}
			written.Add(1)
			return nil
		})
	}
	err := g.Wait()
	return int(written.Load()), err
}

// ImportFile reads a CSV catalog from path and imports it.
func ImportFile(ctx context.Context, w ProductWriter, path string, concurrency int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	products, err := ReadCSV(f)
	if err != nil {
		return 0, err
	}
	n, err := Import(ctx, w, products, concurrency)
	if err != nil {
		return n, err
	}
	slog.Info("catalog imported", "path", path, "products", n)
	return n, nil
}
