package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/salesql/salesql/internal/catalog"
	"github.com/salesql/salesql/internal/storage"
)

const parquetContentType = "application/vnd.apache.parquet"

type Config struct {
	Logger *slog.Logger
	Store  storage.ObjectStore
	Source Source
	Clock  clockwork.Clock
	// NewSnapshotID overrides the uuid-based id generator.
	NewSnapshotID func() string
}

// Exporter copies the products and sales tables into a parquet snapshot and
// publishes it by rewriting the latest manifest pointer last.
type Exporter struct {
	log    *slog.Logger
	store  storage.ObjectStore
	source Source
	clock  clockwork.Clock
	newID  func() string
}

func NewExporter(cfg Config) (*Exporter, error) {
	if cfg.Store == nil {
		return nil, errors.New("object store is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("snapshot source is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.NewSnapshotID == nil {
		cfg.NewSnapshotID = uuid.NewString
	}
	return &Exporter{
		log:    cfg.Logger,
		store:  cfg.Store,
		source: cfg.Source,
		clock:  cfg.Clock,
		newID:  cfg.NewSnapshotID,
	}, nil
}

func (e *Exporter) Export(ctx context.Context) (storage.Manifest, error) {
	products, err := e.source.Products(ctx)
	if err != nil {
		return storage.Manifest{}, fmt.Errorf("load products: %w", err)
	}
	sales, err := e.source.Sales(ctx)
	if err != nil {
		return storage.Manifest{}, fmt.Errorf("load sales: %w", err)
	}

	encodedProducts, err := encodeProducts(products)
	if err != nil {
		return storage.Manifest{}, fmt.Errorf("encode products: %w", err)
	}
	encodedSales, err := encodeSales(sales)
	if err != nil {
		return storage.Manifest{}, fmt.Errorf("encode sales: %w", err)
	}

	manifest := storage.Manifest{
		SnapshotID: e.newID(),
		Source:     e.source.Name(),
		CreatedAt:  e.clock.Now().UTC(),
	}
	for _, table := range []struct {
		name    string
		encoded encodedTable
	}{
		{catalog.TableProducts, encodedProducts},
		{catalog.TableSales, encodedSales},
	} {
		entry, err := e.putTable(ctx, manifest, table.name, table.encoded)
		if err != nil {
			return storage.Manifest{}, err
		}
		manifest.Tables = append(manifest.Tables, entry)
	}

	manifestKey, err := storage.BuildManifestPath(manifest.SnapshotID, manifest.CreatedAt)
	if err != nil {
		return storage.Manifest{}, err
	}
	if _, err := storage.WriteManifest(ctx, e.store, manifestKey, manifest); err != nil {
		return storage.Manifest{}, fmt.Errorf("write manifest: %w", err)
	}
	if _, err := storage.WriteManifest(ctx, e.store, storage.LatestManifestKey(), manifest); err != nil {
		return storage.Manifest{}, fmt.Errorf("publish latest manifest: %w", err)
	}

	e.log.Info("snapshot exported",
		"snapshot_id", manifest.SnapshotID,
		"source", manifest.Source,
		"products", encodedProducts.RowCount,
		"sales", encodedSales.RowCount,
		"manifest", manifestKey,
	)
	return manifest, nil
}

func (e *Exporter) putTable(ctx context.Context, manifest storage.Manifest, table string, encoded encodedTable) (storage.ManifestTable, error) {
	key, err := storage.BuildTableFilePath(manifest.SnapshotID, table, manifest.CreatedAt)
	if err != nil {
		return storage.ManifestTable{}, err
	}
	info, err := storage.PutBytes(ctx, e.store, key, encoded.Data, parquetContentType)
	if err != nil {
		return storage.ManifestTable{}, fmt.Errorf("upload %s: %w", table, err)
	}
	return storage.ManifestTable{
		Name:       table,
		ObjectPath: key,
		RowCount:   encoded.RowCount,
		SizeBytes:  info.Size,
	}, nil
}
