package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves scan data to cold storage.
type Archiver interface {
	PutReport(ctx context.Context, result ScanResult) (string, error)
	ArchiveScans(ctx context.Context, before time.Time) (int64, error)
}
