// Package catalog describes the products/sales store that questions are answered against.
package catalog

import (
	"strings"
	"time"
)

const (
	TableProducts = "products"
	TableSales    = "sales"
)

type ColumnDef struct {
	Name          string
	Type          string
	PrimaryKey    bool
	AutoIncrement bool
	NotNull       bool
	Default       string
}

type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
	OnUpdate  string
	OnDelete  string
}

type TableDef struct {
	Name        string
	Columns     []ColumnDef
	ForeignKeys []ForeignKey
}

// Product is one row of the products table.
type Product struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Price     float64   `json:"price"`
	Stock     int64     `json:"stock"`
	CreatedAt time.Time `json:"created_at"`
}

// Sale is one row of the sales table. SaleDate maps to the store's sale_data column.
type Sale struct {
	ID           int64     `json:"id"`
	ProductID    int64     `json:"product_id"`
	Quantity     int64     `json:"quantity"`
	TotalAmount  float64   `json:"total_amount"`
	SaleDate     time.Time `json:"sale_data"`
	CustomerName string    `json:"customer_name"`
	Region       string    `json:"region"`
}

var tables = []TableDef{
	{
		Name: TableProducts,
		Columns: []ColumnDef{
			{Name: "id", Type: "integer", PrimaryKey: true, AutoIncrement: true, NotNull: true},
			{Name: "name", Type: "text", NotNull: true},
			{Name: "category", Type: "text", NotNull: true},
			{Name: "price", Type: "real", NotNull: true},
			{Name: "stock", Type: "integer", Default: "0", NotNull: true},
			{Name: "created_at", Type: "text", Default: "CURRENT_TIMESTAMP"},
		},
	},
	{
		Name: TableSales,
		Columns: []ColumnDef{
			{Name: "id", Type: "integer", PrimaryKey: true, AutoIncrement: true, NotNull: true},
			{Name: "product_id", Type: "integer", NotNull: true},
			{Name: "quantity", Type: "integer", NotNull: true},
			{Name: "total_amount", Type: "real", NotNull: true},
			{Name: "sale_data", Type: "text", Default: "CURRENT_TIMESTAMP"},
			{Name: "customer_name", Type: "text", NotNull: true},
			{Name: "region", Type: "text", NotNull: true},
		},
		ForeignKeys: []ForeignKey{
			{Column: "product_id", RefTable: TableProducts, RefColumn: "id", OnUpdate: "no action", OnDelete: "no action"},
		},
	},
}

var described = render(tables)

// Tables returns a copy of the table definitions.
func Tables() []TableDef {
	out := make([]TableDef, 0, len(tables))
	for _, table := range tables {
		copied := TableDef{
			Name:        table.Name,
			Columns:     append([]ColumnDef(nil), table.Columns...),
			ForeignKeys: append([]ForeignKey(nil), table.ForeignKeys...),
		}
		out = append(out, copied)
	}
	return out
}

// Describe returns the CREATE TABLE rendering of every table. It never fails.
func Describe() string {
	return described
}

// Lookup returns the definition of one table by name.
func Lookup(name string) (TableDef, bool) {
	for _, table := range Tables() {
		if table.Name == name {
			return table, true
		}
	}
	return TableDef{}, false
}

func (t TableDef) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, column := range t.Columns {
		names = append(names, column.Name)
	}
	return names
}

func render(defs []TableDef) string {
	statements := make([]string, 0, len(defs))
	for _, table := range defs {
		statements = append(statements, renderTable(table))
	}
	return strings.Join(statements, "\n\n")
}

func renderTable(table TableDef) string {
	lines := make([]string, 0, len(table.Columns)+len(table.ForeignKeys))
	for _, column := range table.Columns {
		lines = append(lines, "    "+renderColumn(column))
	}
	for _, fk := range table.ForeignKeys {
		lines = append(lines, "    "+renderForeignKey(fk))
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(table.Name)
	b.WriteString(" (\n")
	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n)")
	return b.String()
}

func renderColumn(column ColumnDef) string {
	parts := []string{column.Name, column.Type}
	if column.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	}
	if column.AutoIncrement {
		parts = append(parts, "AUTOINCREMENT")
	}
	if column.Default != "" {
		parts = append(parts, "DEFAULT", column.Default)
	}
	if column.NotNull {
		parts = append(parts, "NOT NULL")
	}
	return strings.Join(parts, " ")
}

func renderForeignKey(fk ForeignKey) string {
	return "FOREIGN KEY (" + fk.Column + ") REFERENCES " + fk.RefTable + "(" + fk.RefColumn + ")" +
		" ON UPDATE " + fk.OnUpdate + " ON DELETE " + fk.OnDelete
}
