package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

const manifestContentType = "application/json"

// Manifest lists the parquet file behind every table of one snapshot.
type Manifest struct {
	SnapshotID string          `json:"snapshot_id"`
	Source     string          `json:"source"`
	CreatedAt  time.Time       `json:"created_at"`
	Tables     []ManifestTable `json:"tables"`
}

type ManifestTable struct {
	Name       string `json:"name"`
	ObjectPath string `json:"object_path"`
	RowCount   int64  `json:"row_count"`
	SizeBytes  int64  `json:"size_bytes"`
}

func (m Manifest) Table(name string) (ManifestTable, bool) {
	for _, table := range m.Tables {
		if table.Name == name {
			return table, true
		}
	}
	return ManifestTable{}, false
}

func ReadManifest(ctx context.Context, store ObjectStore, key string) (Manifest, error) {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return Manifest{}, err
	}
	defer func() { _ = reader.Close() }()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %q: %w", key, err)
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest %q: %w", key, err)
	}
	if manifest.SnapshotID == "" {
		return Manifest{}, fmt.Errorf("manifest %q has no snapshot id", key)
	}
	return manifest, nil
}

func WriteManifest(ctx context.Context, store ObjectStore, key string, manifest Manifest) (ObjectInfo, error) {
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("encode manifest: %w", err)
	}
	return PutBytes(ctx, store, key, raw, manifestContentType)
}
