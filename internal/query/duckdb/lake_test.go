package duckdb

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/salesql/salesql/internal/query"
	"github.com/salesql/salesql/internal/storage"
)

type saleRow struct {
	ID          int64   `parquet:"id"`
	ProductID   int64   `parquet:"product_id"`
	Quantity    int64   `parquet:"quantity"`
	TotalAmount float64 `parquet:"total_amount"`
	Region      string  `parquet:"region"`
}

type productRow struct {
	ID   int64  `parquet:"id"`
	Name string `parquet:"name"`
}

func TestLakeEngineQueriesLatestSnapshot(t *testing.T) {
	store := newMemoryStore()
	publish(t, store, "snap-1",
		[]productRow{{ID: 1, Name: "Laptop"}, {ID: 2, Name: "Desk"}},
		[]saleRow{
			{ID: 1, ProductID: 1, Quantity: 1, TotalAmount: 999, Region: "north"},
			{ID: 2, ProductID: 2, Quantity: 2, TotalAmount: 500, Region: "south"},
			{ID: 3, ProductID: 1, Quantity: 1, TotalAmount: 999, Region: "north"},
		},
	)

	engine := NewLakeEngine(store)
	t.Cleanup(func() { _ = engine.Close() })

	result, err := engine.Execute(context.Background(), query.Request{
		SQL: "select p.name, sum(s.total_amount) as revenue from sales s join products p on p.id = s.product_id group by p.name order by revenue desc",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
	if result.Rows[0]["name"] != "Laptop" || result.Rows[0]["revenue"] != float64(1998) {
		t.Fatalf("first row = %#v", result.Rows[0])
	}
	if engine.SnapshotID() != "snap-1" {
		t.Fatalf("SnapshotID() = %q", engine.SnapshotID())
	}
}

func TestLakeEngineSwitchesToNewSnapshot(t *testing.T) {
	store := newMemoryStore()
	publish(t, store, "snap-1", []productRow{{ID: 1, Name: "Laptop"}}, []saleRow{{ID: 1, ProductID: 1, Quantity: 1}})

	engine := NewLakeEngine(store)
	t.Cleanup(func() { _ = engine.Close() })

	count := func() any {
		t.Helper()
		result, err := engine.Execute(context.Background(), query.Request{SQL: "select count(*) as c from sales"})
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		return result.Rows[0]["c"]
	}
	if got := count(); got != int64(1) {
		t.Fatalf("count = %#v", got)
	}

	publish(t, store, "snap-2", []productRow{{ID: 1, Name: "Laptop"}}, []saleRow{{ID: 1, ProductID: 1}, {ID: 2, ProductID: 1}})
	if got := count(); got != int64(2) {
		t.Fatalf("count after new snapshot = %#v", got)
	}
	if engine.SnapshotID() != "snap-2" {
		t.Fatalf("SnapshotID() = %q", engine.SnapshotID())
	}
}

func TestLakeEngineRowLimitKeepsSQLIntact(t *testing.T) {
	store := newMemoryStore()
	sales := make([]saleRow, 0, 10)
	for i := int64(1); i <= 10; i++ {
		sales = append(sales, saleRow{ID: i, ProductID: 1, Quantity: i})
	}
	publish(t, store, "snap-1", []productRow{{ID: 1, Name: "Laptop"}}, sales)

	engine := NewLakeEngine(store)
	t.Cleanup(func() { _ = engine.Close() })

	result, err := engine.Execute(context.Background(), query.Request{
		SQL:      "select id from sales order by id limit 8",
		RowLimit: 5,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 5 || !result.Truncated {
		t.Fatalf("rows/truncated = %d/%v", len(result.Rows), result.Truncated)
	}
}

func TestLakeEngineWithoutSnapshot(t *testing.T) {
	engine := NewLakeEngine(newMemoryStore())

	_, err := engine.Execute(context.Background(), query.Request{SQL: "select 1"})
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Execute() error = %v, want ErrObjectNotFound", err)
	}
	if err := engine.Ping(context.Background()); err == nil {
		t.Fatal("Ping() expected error without snapshot")
	}
}

func TestLakeEngineSurfacesQueryErrors(t *testing.T) {
	store := newMemoryStore()
	publish(t, store, "snap-1", []productRow{{ID: 1, Name: "Laptop"}}, []saleRow{{ID: 1, ProductID: 1}})

	engine := NewLakeEngine(store)
	t.Cleanup(func() { _ = engine.Close() })

	_, err := engine.Execute(context.Background(), query.Request{SQL: "select missing_column from sales"})
	if !errors.Is(err, query.ErrExecution) {
		t.Fatalf("Execute() error = %v, want ErrExecution", err)
	}
	if err := engine.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestLakeEngineBlocksHostFileAccess(t *testing.T) {
	store := newMemoryStore()
	publish(t, store, "snap-1", []productRow{{ID: 1, Name: "Laptop"}}, []saleRow{{ID: 1, ProductID: 1}})

	engine := NewLakeEngine(store)
	t.Cleanup(func() { _ = engine.Close() })

	secret := writeSecretFile(t)
	result, err := engine.Execute(context.Background(), query.Request{
		SQL: "select content from read_text(" + quoteString(secret) + ")",
	})
	if !errors.Is(err, query.ErrExecution) {
		t.Fatalf("Execute(read_text) = %#v, %v; want ErrExecution", result.Rows, err)
	}

	_, err = engine.Execute(context.Background(), query.Request{SQL: "set enable_external_access=true"})
	if err == nil {
		t.Fatal("expected locked configuration to refuse SET")
	}

	if _, err := engine.Execute(context.Background(), query.Request{SQL: "select count(*) as c from sales"}); err != nil {
		t.Fatalf("Execute(snapshot view) error = %v", err)
	}
}

func publish(t *testing.T, store *memoryStore, snapshotID string, products []productRow, sales []saleRow) {
	t.Helper()
	created := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)

	productsPath, err := storage.BuildTableFilePath(snapshotID, "products", created)
	if err != nil {
		t.Fatalf("BuildTableFilePath() error = %v", err)
	}
	salesPath, err := storage.BuildTableFilePath(snapshotID, "sales", created)
	if err != nil {
		t.Fatalf("BuildTableFilePath() error = %v", err)
	}
	store.set(productsPath, buildParquet(t, products))
	store.set(salesPath, buildParquet(t, sales))

	manifest := storage.Manifest{
		SnapshotID: snapshotID,
		Source:     "test",
		CreatedAt:  created,
		Tables: []storage.ManifestTable{
			{Name: "products", ObjectPath: productsPath, RowCount: int64(len(products))},
			{Name: "sales", ObjectPath: salesPath, RowCount: int64(len(sales))},
		},
	}
	if _, err := storage.WriteManifest(context.Background(), store, storage.LatestManifestKey(), manifest); err != nil {
		t.Fatalf("WriteManifest() error = %v", err)
	}
}

func buildParquet[T any](t *testing.T, rows []T) []byte {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf)
	if _, err := writer.Write(rows); err != nil {
		t.Fatalf("parquet Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("parquet Close() error = %v", err)
	}
	return buf.Bytes()
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (m *memoryStore) set(key string, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = raw
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.set(key, raw)
	return storage.ObjectInfo{Key: key, Size: int64(len(raw))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(raw))}, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}
