package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/salesql/salesql/internal/query"
	"github.com/salesql/salesql/internal/storage"
)

// LakeEngine serves queries from the snapshot named by storage.LatestManifestKey. The parquet
// files are downloaded once per snapshot and exposed as views in an in-memory database.
type LakeEngine struct {
	store storage.ObjectStore

	mu      sync.RWMutex
	current *lakeSnapshot
}

type lakeSnapshot struct {
	id     string
	dir    string
	db     *sql.DB
	tables []string
}

var _ query.Engine = (*LakeEngine)(nil)

func NewLakeEngine(store storage.ObjectStore) *LakeEngine {
	return &LakeEngine{store: store}
}

func (e *LakeEngine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if strings.TrimSpace(request.SQL) == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if err := e.refresh(ctx); err != nil {
		return query.Result{}, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return query.Result{}, fmt.Errorf("no snapshot loaded")
	}
	return query.Collect(ctx, e.current.db, request.SQL, request.RowLimit)
}

func (e *LakeEngine) Ping(ctx context.Context) error {
	if e.store == nil {
		return fmt.Errorf("object store is required")
	}
	ok, err := storage.Exists(ctx, e.store, storage.LatestManifestKey())
	if err != nil {
		return fmt.Errorf("stat latest snapshot: %w", err)
	}
	if !ok {
		return errors.New("no snapshot has been published")
	}
	return nil
}

// SnapshotID reports the snapshot currently loaded, or "" before the first query.
func (e *LakeEngine) SnapshotID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return ""
	}
	return e.current.id
}

func (e *LakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.current.close()
	e.current = nil
	return err
}

func (e *LakeEngine) refresh(ctx context.Context) error {
	if e.store == nil {
		return fmt.Errorf("object store is required")
	}
	manifest, err := storage.ReadManifest(ctx, e.store, storage.LatestManifestKey())
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return fmt.Errorf("no snapshot has been published: %w", err)
		}
		return fmt.Errorf("read latest manifest: %w", err)
	}

	e.mu.RLock()
	upToDate := e.current != nil && e.current.id == manifest.SnapshotID
	e.mu.RUnlock()
	if upToDate {
		return nil
	}

	loaded, err := e.load(ctx, manifest)
	if err != nil {
		return err
	}

	e.mu.Lock()
	previous := e.current
	e.current = loaded
	e.mu.Unlock()

	return previous.close()
}

func (e *LakeEngine) load(ctx context.Context, manifest storage.Manifest) (*lakeSnapshot, error) {
	if len(manifest.Tables) == 0 {
		return nil, fmt.Errorf("snapshot %q has no tables", manifest.SnapshotID)
	}
	workDir, err := os.MkdirTemp("", "salesql-lake-")
	if err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	snapshot := &lakeSnapshot{id: manifest.SnapshotID, dir: workDir}

	localPaths := make(map[string]string, len(manifest.Tables))
	for _, table := range manifest.Tables {
		localPath := filepath.Join(workDir, sanitizeFileComponent(table.Name)+".parquet")
		if err := e.download(ctx, table.ObjectPath, localPath); err != nil {
			_ = snapshot.close()
			return nil, err
		}
		localPaths[table.Name] = localPath
		snapshot.tables = append(snapshot.tables, table.Name)
	}

	db, err := sql.Open(driverName, "")
	if err != nil {
		_ = snapshot.close()
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	snapshot.db = db

	for _, tableName := range snapshot.tables {
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`,
			quoteIdent(tableName), quoteString(localPaths[tableName]))
		if _, err := db.ExecContext(ctx, viewSQL); err != nil {
			_ = snapshot.close()
			return nil, fmt.Errorf("create view for table %q: %w", tableName, err)
		}
	}

	// Queries may only read the downloaded snapshot files.
	lockdown := []string{
		fmt.Sprintf(`SET allowed_directories=[%s]`, quoteString(workDir)),
		`SET enable_external_access=false`,
		`SET lock_configuration=true`,
	}
	for _, statement := range lockdown {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			_ = snapshot.close()
			return nil, fmt.Errorf("restrict snapshot database: %w", err)
		}
	}
	return snapshot, nil
}

func (e *LakeEngine) download(ctx context.Context, objectPath, localPath string) error {
	reader, err := e.store.Get(ctx, objectPath)
	if err != nil {
		return fmt.Errorf("get object %q: %w", objectPath, err)
	}
	defer func() { _ = reader.Close() }()

	// A partial download is never visible under its final name.
	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".download-*")
	if err != nil {
		return fmt.Errorf("create local parquet file: %w", err)
	}
	if _, err := io.Copy(tmp, reader); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write local parquet file %q: %w", localPath, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close local parquet file %q: %w", localPath, err)
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename local parquet file %q: %w", localPath, err)
	}
	return nil
}

func (s *lakeSnapshot) close() error {
	if s == nil {
		return nil
	}
	var err error
	if s.db != nil {
		err = s.db.Close()
	}
	if removeErr := os.RemoveAll(s.dir); removeErr != nil && err == nil {
		err = removeErr
	}
	return err
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}
