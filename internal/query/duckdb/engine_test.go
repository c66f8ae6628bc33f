package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/salesql/salesql/internal/query"
)

func TestEngineReadsDatabaseFile(t *testing.T) {
	engine := openFixture(t)

	result, err := engine.Execute(context.Background(), query.Request{
		SQL: "select name, price from products order by id",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 2 || result.Columns[0] != "name" || result.Columns[1] != "price" {
		t.Fatalf("Columns = %v", result.Columns)
	}
	if len(result.Rows) != 3 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
	if result.Rows[0]["name"] != "Laptop" {
		t.Fatalf("first row = %#v", result.Rows[0])
	}
	if result.Truncated {
		t.Fatal("Truncated = true, want false")
	}
}

func TestEngineStopsScanAtRowLimit(t *testing.T) {
	engine := openFixture(t)

	result, err := engine.Execute(context.Background(), query.Request{
		SQL:      "select id from products order by id",
		RowLimit: 2,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
	if !result.Truncated {
		t.Fatal("Truncated = false, want true")
	}

	exact, err := engine.Execute(context.Background(), query.Request{
		SQL:      "select id from products",
		RowLimit: 3,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if exact.Truncated {
		t.Fatal("Truncated = true for a result that fits the limit")
	}
}

func TestEngineRefusesWrites(t *testing.T) {
	engine := openFixture(t)

	_, err := engine.Execute(context.Background(), query.Request{
		SQL: "insert into products values (9, 'Pen', 'Office', 1.5, 10)",
	})
	if !errors.Is(err, query.ErrExecution) {
		t.Fatalf("Execute(insert) error = %v, want ErrExecution", err)
	}
}

func TestEngineSurfacesStoreErrors(t *testing.T) {
	engine := openFixture(t)

	_, err := engine.Execute(context.Background(), query.Request{SQL: "select * from customers"})
	if !errors.Is(err, query.ErrExecution) {
		t.Fatalf("Execute() error = %v, want ErrExecution", err)
	}
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) || execErr.Err == nil {
		t.Fatalf("errors.As(*ExecutionError) failed for %v", err)
	}

	if _, err := engine.Execute(context.Background(), query.Request{SQL: "  "}); err == nil {
		t.Fatal("expected error for blank sql")
	}
}

func TestEngineBlocksHostFileAccess(t *testing.T) {
	engine := openFixture(t)
	secret := writeSecretFile(t)

	for _, statement := range []string{
		"select content from read_text(" + quoteString(secret) + ")",
		"select * from read_csv(" + quoteString(secret) + ")",
	} {
		result, err := engine.Execute(context.Background(), query.Request{SQL: statement})
		if !errors.Is(err, query.ErrExecution) {
			t.Fatalf("Execute(%q) = %#v, %v; want ErrExecution", statement, result.Rows, err)
		}
	}
}

func writeSecretFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secret.env")
	if err := os.WriteFile(path, []byte("API_KEY=sk-live-123\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestReadOnlyDSN(t *testing.T) {
	if got := readOnlyDSN("sales.duckdb"); got != "sales.duckdb?access_mode=READ_ONLY&enable_external_access=false" {
		t.Fatalf("readOnlyDSN() = %q", got)
	}
	if got := readOnlyDSN("sales.duckdb?threads=2"); got != "sales.duckdb?threads=2&access_mode=READ_ONLY&enable_external_access=false" {
		t.Fatalf("readOnlyDSN() = %q", got)
	}
}

func openFixture(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.duckdb")

	writable, err := sql.Open(driverName, path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	statements := []string{
		`CREATE TABLE products (id INTEGER PRIMARY KEY, name TEXT NOT NULL, category TEXT NOT NULL, price DOUBLE NOT NULL, stock INTEGER DEFAULT 0 NOT NULL)`,
		`INSERT INTO products VALUES (1, 'Laptop', 'Electronics', 999.0, 5), (2, 'Desk', 'Furniture', 250.0, 2), (3, 'Mug', 'Kitchen', 8.5, 40)`,
	}
	for _, statement := range statements {
		if _, err := writable.Exec(statement); err != nil {
			t.Fatalf("Exec(%q) error = %v", statement, err)
		}
	}
	if err := writable.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	engine, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}
