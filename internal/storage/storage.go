// Package storage defines the object store that holds parquet snapshots of
// the products and sales tables.
package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
}

// ObjectStore keys are relative to the store's own prefix.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// PutBytes uploads an in-memory object such as an encoded table or manifest.
func PutBytes(ctx context.Context, store ObjectStore, key string, raw []byte, contentType string) (ObjectInfo, error) {
	return store.Put(ctx, key, bytes.NewReader(raw), int64(len(raw)), PutOptions{ContentType: contentType})
}

// Exists reports whether key is present. Errors other than ErrObjectNotFound are returned.
func Exists(ctx context.Context, store ObjectStore, key string) (bool, error) {
	if _, err := store.Stat(ctx, key); err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
