package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/trovewatch/internal/domain"
)

const (
	contentTypeJSON  = "application/json"
	contentTypeJSONL = "application/x-ndjson"

	// multipartThreshold is the payload size above which history archives go
	// through the multipart uploader when the writer supports it.
	multipartThreshold = 16 * 1024 * 1024
)

// multipartWriter is implemented by *Client.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// ArchiverOptions tunes the archiver.
type ArchiverOptions struct {
	// Prune deletes archived scans from the primary store after upload.
	Prune bool
}

// Archiver implements domain.Archiver. Reports are stored one object per
// scan; history is flushed as one JSONL object per cutoff day.
type Archiver struct {
	writer domain.BlobWriter
	scans  domain.ScanStore
	audit  domain.AuditStore
	opts   ArchiverOptions
	logger *slog.Logger
}

// NewArchiver creates a new Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, scans domain.ScanStore, audit domain.AuditStore, opts ArchiverOptions, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		writer: writer,
		scans:  scans,
		audit:  audit,
		opts:   opts,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// PutReport uploads the full scan result and returns its object key.
func (a *Archiver) PutReport(ctx context.Context, result domain.ScanResult) (string, error) {
	if result.ID == "" {
		return "", fmt.Errorf("s3blob: put report: %w", domain.ErrInvalidArgument)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal report %s: %w", result.ID, err)
	}

	path := reportPath(result.ID, result.StartedAt)
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), contentTypeJSON); err != nil {
		return "", fmt.Errorf("s3blob: upload report %s: %w", result.ID, err)
	}
	return path, nil
}

// ArchiveScans uploads every scan summary older than before as JSONL,
// records the upload in the audit log, and optionally prunes the rows.
func (a *Archiver) ArchiveScans(ctx context.Context, before time.Time) (int64, error) {
	if a.scans == nil {
		return 0, nil
	}
	scans, err := a.scans.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive scans query: %w", err)
	}
	if len(scans) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(scans)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive scans marshal: %w", err)
	}

	path := archivePath("scans", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive scans upload: %w", err)
	}

	count := int64(len(scans))
	a.logger.InfoContext(ctx, "scan history archived",
		slog.String("path", path),
		slog.Int64("count", count),
	)

	if a.opts.Prune {
		deleted, err := a.scans.DeleteBefore(ctx, before)
		if err != nil {
			return count, fmt.Errorf("s3blob: prune archived scans: %w", err)
		}
		a.logger.InfoContext(ctx, "archived scans pruned", slog.Int64("deleted", deleted))
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.scans", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
			"pruned": a.opts.Prune,
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive scans audit log: %w", err)
		}
	}
	return count, nil
}

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if mw, ok := a.writer.(multipartWriter); ok && len(buf) > multipartThreshold {
		return mw.PutMultipart(ctx, path, bytes.NewReader(buf), contentTypeJSONL, minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
}

// reportPath partitions reports by the UTC day the scan started.
//
//	reports/2026/03/02/<id>.json
func reportPath(id string, startedAt time.Time) string {
	return fmt.Sprintf("reports/%s/%s.json", startedAt.UTC().Format("2006/01/02"), id)
}

// archivePath builds the key for a history archive.
//
//	archive/scans/2026-03-02.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
