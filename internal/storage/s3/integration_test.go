//go:build integration

package s3

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/salesql/salesql/internal/config"
	"github.com/salesql/salesql/internal/storage"
)

func TestManifestRoundTripAgainstMinIO(t *testing.T) {
	endpoint := envOr("SALESQL_TEST_S3_ENDPOINT", "")
	if endpoint == "" {
		t.Skip("SALESQL_TEST_S3_ENDPOINT is not set")
	}

	cfg := config.ObjectStoreConfig{
		Endpoint:         endpoint,
		Region:           envOr("SALESQL_TEST_S3_REGION", "us-east-1"),
		Bucket:           envOr("SALESQL_TEST_S3_BUCKET", "salesql-it"),
		AccessKeyID:      envOr("SALESQL_TEST_S3_ACCESS_KEY", "minio"),
		SecretAccessKey:  envOr("SALESQL_TEST_S3_SECRET_KEY", "miniostorage"),
		Prefix:           "integration-tests",
		AutoCreateBucket: true,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	store, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	key := "snapshots/it/manifest.json"
	manifest := storage.Manifest{SnapshotID: "it-1", Source: "integration", CreatedAt: time.Now().UTC()}
	info, err := storage.WriteManifest(ctx, store, key, manifest)
	if err != nil {
		t.Fatalf("WriteManifest() error = %v", err)
	}

	stat, err := store.Stat(ctx, key)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if stat.Size != info.Size {
		t.Fatalf("Stat().Size = %d, want %d", stat.Size, info.Size)
	}

	got, err := storage.ReadManifest(ctx, store, key)
	if err != nil {
		t.Fatalf("ReadManifest() error = %v", err)
	}
	if got.SnapshotID != "it-1" {
		t.Fatalf("SnapshotID = %q", got.SnapshotID)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Stat(ctx, key); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Stat() after delete error = %v, want ErrObjectNotFound", err)
	}
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
