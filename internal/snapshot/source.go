package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/salesql/salesql/internal/catalog"
)

// Source yields the full contents of the products and sales tables.
type Source interface {
	Name() string
	Products(ctx context.Context) ([]catalog.Product, error)
	Sales(ctx context.Context) ([]catalog.Sale, error)
}

const (
	selectProductsSQL = `SELECT id, name, category, price, stock, created_at FROM products ORDER BY id`
	selectSalesSQL    = `SELECT id, product_id, quantity, total_amount, sale_data, customer_name, region FROM sales ORDER BY id`
)

type PostgresSource struct {
	db *sql.DB
}

func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) Name() string {
	return "postgres"
}

func (s *PostgresSource) Products(ctx context.Context) ([]catalog.Product, error) {
	rows, err := s.db.QueryContext(ctx, selectProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var products []catalog.Product
	for rows.Next() {
		var (
			product   catalog.Product
			createdAt any
		)
		if err := rows.Scan(&product.ID, &product.Name, &product.Category, &product.Price, &product.Stock, &createdAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if product.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, fmt.Errorf("product %d created_at: %w", product.ID, err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

func (s *PostgresSource) Sales(ctx context.Context) ([]catalog.Sale, error) {
	rows, err := s.db.QueryContext(ctx, selectSalesSQL)
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sales []catalog.Sale
	for rows.Next() {
		var (
			sale     catalog.Sale
			saleDate any
		)
		if err := rows.Scan(&sale.ID, &sale.ProductID, &sale.Quantity, &sale.TotalAmount, &saleDate, &sale.CustomerName, &sale.Region); err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		if sale.SaleDate, err = parseTimestamp(saleDate); err != nil {
			return nil, fmt.Errorf("sale %d sale_data: %w", sale.ID, err)
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sales: %w", err)
	}
	return sales, nil
}

// parseTimestamp accepts the column either as a native timestamp or as text, which is how
// the catalog declares created_at and sale_data. NULL and blank values become the zero time.
func parseTimestamp(value any) (time.Time, error) {
	var text string
	switch v := value.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v, nil
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", value)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{timestampLayout, time.RFC3339Nano, time.DateOnly} {
		if ts, err := time.ParseInLocation(layout, text, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", text)
}
