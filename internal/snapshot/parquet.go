package snapshot

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/salesql/salesql/internal/catalog"
)

// Timestamps are stored as text in the same layout the source tables use.
const timestampLayout = "2006-01-02 15:04:05"

type productRow struct {
	ID        int64   `parquet:"id"`
	Name      string  `parquet:"name"`
	Category  string  `parquet:"category"`
	Price     float64 `parquet:"price"`
	Stock     int64   `parquet:"stock"`
	CreatedAt string  `parquet:"created_at,optional"`
}

type saleRow struct {
	ID           int64   `parquet:"id"`
	ProductID    int64   `parquet:"product_id"`
	Quantity     int64   `parquet:"quantity"`
	TotalAmount  float64 `parquet:"total_amount"`
	SaleData     string  `parquet:"sale_data,optional"`
	CustomerName string  `parquet:"customer_name"`
	Region       string  `parquet:"region"`
}

type encodedTable struct {
	Data     []byte
	RowCount int64
}

func encodeProducts(products []catalog.Product) (encodedTable, error) {
	rows := make([]productRow, 0, len(products))
	for _, product := range products {
		rows = append(rows, productRow{
			ID:        product.ID,
			Name:      product.Name,
			Category:  product.Category,
			Price:     product.Price,
			Stock:     product.Stock,
			CreatedAt: formatTimestamp(product.CreatedAt),
		})
	}
	return encodeRows(rows)
}

func encodeSales(sales []catalog.Sale) (encodedTable, error) {
	rows := make([]saleRow, 0, len(sales))
	for _, sale := range sales {
		rows = append(rows, saleRow{
			ID:           sale.ID,
			ProductID:    sale.ProductID,
			Quantity:     sale.Quantity,
			TotalAmount:  sale.TotalAmount,
			SaleData:     formatTimestamp(sale.SaleDate),
			CustomerName: sale.CustomerName,
			Region:       sale.Region,
		})
	}
	return encodeRows(rows)
}

func encodeRows[T any](rows []T) (encodedTable, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf)
	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			return encodedTable{}, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return encodedTable{}, fmt.Errorf("close parquet writer: %w", err)
	}
	return encodedTable{Data: buf.Bytes(), RowCount: int64(len(rows))}, nil
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(timestampLayout)
}
