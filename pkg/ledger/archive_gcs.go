//go:build gcp

package ledger

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"

	"github.com/careops/spine/pkg/contracts"
)

// GCSArchiver writes ledger entries to a Google Cloud Storage bucket as
// canonical JSON, one object per append.
type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSArchiver creates a GCS-backed ledger archiver. Credentials come
// from Application Default Credentials.
func NewGCSArchiver(ctx context.Context, bucket, prefix string) (*GCSArchiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSArchiver{client: client, bucket: bucket, prefix: prefix}, nil
}

// ArchiveEntry implements Archiver.
func (a *GCSArchiver) ArchiveEntry(ctx context.Context, entry contracts.LedgerEntry) error {
	body, err := archiveBody(entry)
	if err != nil {
		return err
	}

	key := archiveKey(a.prefix, entry)
	w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed for %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close failed for %s: %w", key, err)
	}
	return nil
}

// Close closes the GCS client.
func (a *GCSArchiver) Close() error {
	return a.client.Close()
}
