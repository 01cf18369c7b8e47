package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hrygo/bankdesk/plugin/ai/timeout"
	"github.com/hrygo/bankdesk/store"
)

const (
	// ProductSearchToolName is the name the model uses to search the catalog.
	ProductSearchToolName = "search_products"

	// Default search limit for product search results.
	defaultSearchLimit = 5

	// Maximum search limit to prevent excessive results.
	maxSearchLimit = 20

	// Default minimum similarity for vector results.
	defaultMinScore = 0.3
)

// JSON field name mappings for camelCase to snake_case compatibility.
// Some models generate camelCase (minScore) while we expect snake_case (min_score).
var productFieldNameMappings = map[string]string{
	"minScore": "min_score",
	"q":        "query",
}

// normalizeProductJSONFields converts alternative keys to the expected ones.
func normalizeProductJSONFields(input json.RawMessage) json.RawMessage {
	var raw map[string]any
	if err := json.Unmarshal(input, &raw); err != nil {
		return input
	}

	normalized := make(map[string]any, len(raw))
	for key, value := range raw {
		newKey := key
		if mapped, ok := productFieldNameMappings[key]; ok {
			newKey = mapped
		}
		normalized[newKey] = value
	}

	result, err := json.Marshal(normalized)
	if err != nil {
		return input
	}
	return result
}

// ProductSearcher is the catalog query surface of the store.
type ProductSearcher interface {
	SearchProducts(ctx context.Context, opts *store.ProductSearchOptions) (*store.ProductSearchResult, error)
	SupportsVectorSearch() bool
}

// Embedder turns a query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProductSearchInput represents the input for product search.
type ProductSearchInput struct {
	Query    string  `json:"query"`               // Search query (required)
	Limit    int     `json:"limit,omitempty"`     // Maximum number of results (default: 5)
	MinScore float32 `json:"min_score,omitempty"` // Minimum similarity (default: 0.3)
}

// ProductSearchTool searches the bank product catalog.
type ProductSearchTool struct {
	searcher ProductSearcher
	embedder Embedder
}

// NewProductSearchTool creates a new product search tool.
// embedder may be nil, in which case the catalog is searched by keyword.
func NewProductSearchTool(searcher ProductSearcher, embedder Embedder) (*ProductSearchTool, error) {
	if searcher == nil {
		return nil, fmt.Errorf("searcher cannot be nil")
	}
	return &ProductSearchTool{
		searcher: searcher,
		embedder: embedder,
	}, nil
}

// Descriptor returns the tool descriptor. The catalog is public, so nothing is required.
func (t *ProductSearchTool) Descriptor() Descriptor {
	return Descriptor{
		Name: ProductSearchToolName,
		Description: `Searches the BCEL retail banking product catalog (accounts, cards, loans, digital banking).

INPUT FORMAT:
{"query": "credit card for students", "limit": 5}
- query (required): what the customer is looking for, in English or Lao
- limit (optional): max results, default 5

OUTPUT FORMAT (text):
Found N product(s) matching query: xxx

1. Product name [type, status]
   Audience: ...
   Description: ...

NO RESULTS: "No products found matching query: xxx"`,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What the customer is looking for.",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of products to return.",
				},
			},
			"required": []string{"query"},
		},
		Requires: NewCapabilitySet(),
	}
}

// Invoke executes the product search.
func (t *ProductSearchTool) Invoke(ctx context.Context, args json.RawMessage, _ Credentials) (*Result, error) {
	var input ProductSearchInput
	if err := json.Unmarshal(normalizeProductJSONFields(args), &input); err != nil {
		return nil, fmt.Errorf("invalid JSON input: %w", err)
	}
	input.Query = strings.TrimSpace(input.Query)
	if input.Query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	if input.Limit <= 0 {
		input.Limit = defaultSearchLimit
	}
	if input.Limit > maxSearchLimit {
		input.Limit = maxSearchLimit
	}
	if input.MinScore <= 0 {
		input.MinScore = defaultMinScore
	}

	opts := &store.ProductSearchOptions{
		Query:    input.Query,
		Limit:    input.Limit,
		MinScore: input.MinScore,
	}
	if t.embedder != nil && t.searcher.SupportsVectorSearch() {
		vector, err := t.embedQuery(ctx, input.Query)
		if err != nil {
			// Keyword search still answers the customer.
			slog.Warn("failed to embed product query, falling back to keyword search", "error", err)
		} else {
			opts.Vector = vector
		}
	}

	result, err := t.searcher.SearchProducts(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	return &Result{
		Content:    formatProducts(input.Query, result.Products),
		Diagnostic: map[string]any{"sql": result.SQL},
	}, nil
}

func (t *ProductSearchTool) embedQuery(ctx context.Context, query string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout.EmbeddingTimeout)
	defer cancel()
	return t.embedder.Embed(ctx, query)
}

func formatProducts(query string, products []*store.ProductWithScore) string {
	if len(products) == 0 {
		return fmt.Sprintf("No products found matching query: %s", query)
	}

	var response strings.Builder
	fmt.Fprintf(&response, "Found %d product(s) matching query: %s\n\n", len(products), query)
	for i, item := range products {
		p := item.Product
		fmt.Fprintf(&response, "%d. %s [%s, %s]\n", i+1, p.Name, p.Type, p.Status)
		if p.Audience != "" {
			fmt.Fprintf(&response, "   Audience: %s\n", p.Audience)
		}
		if p.Description != "" {
			fmt.Fprintf(&response, "   Description: %s\n", p.Description)
		}
		if p.ProductTypes != "" {
			fmt.Fprintf(&response, "   Variants: %s\n", p.ProductTypes)
		}
		if p.Installation != "" {
			fmt.Fprintf(&response, "   How to apply: %s\n", p.Installation)
		}
		fmt.Fprintf(&response, "   Product ID: %s\n\n", p.ProductID)
	}
	return strings.TrimRight(response.String(), "\n")
}

var _ Tool = (*ProductSearchTool)(nil)
