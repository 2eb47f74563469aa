package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/trovewatch/internal/domain"
	"github.com/alanyoungcy/trovewatch/internal/fixedpoint"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	w.types[path] = contentType
	return nil
}

type memScans struct {
	rows    []domain.ScanSummary
	deleted int64
}

func (s *memScans) Insert(context.Context, domain.ScanSummary) error { return nil }
func (s *memScans) GetByID(context.Context, string) (domain.ScanSummary, error) {
	return domain.ScanSummary{}, domain.ErrNotFound
}
func (s *memScans) ListRecent(context.Context, domain.ListOpts) ([]domain.ScanSummary, error) {
	return s.rows, nil
}
func (s *memScans) ListBefore(_ context.Context, before time.Time) ([]domain.ScanSummary, error) {
	var out []domain.ScanSummary
	for _, r := range s.rows {
		if r.StartedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}
func (s *memScans) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var kept []domain.ScanSummary
	for _, r := range s.rows {
		if r.StartedAt.Before(before) {
			s.deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return s.deleted, nil
}

type memAudit struct {
	events []string
	detail []map[string]any
}

func (a *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.events = append(a.events, event)
	a.detail = append(a.detail, detail)
	return nil
}
func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestPutReport(t *testing.T) {
	w := newMemWriter()
	arch := NewArchiver(w, nil, nil, ArchiverOptions{}, nil)

	result := domain.ScanResult{
		ID:        "scan-42",
		Mode:      domain.ModeLive,
		Price:     domain.PriceQuote{Value: fixedpoint.Ether(60000)},
		StartedAt: time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC),
		Redeemable: []domain.Position{{
			ID:         common.HexToAddress("0x01"),
			Debt:       fixedpoint.Ether(1500),
			ICR:        fixedpoint.Percent(112),
			Band:       domain.BandRedeemable,
			Collateral: fixedpoint.Ether(16),
		}},
		Skipped: map[common.Address]string{common.HexToAddress("0x02"): "read"},
	}

	path, err := arch.PutReport(context.Background(), result)
	require.NoError(t, err)
	assert.Equal(t, "reports/2026/03/02/scan-42.json", path)
	assert.Equal(t, contentTypeJSON, w.types[path])

	var decoded domain.ScanResult
	require.NoError(t, json.Unmarshal(w.objects[path], &decoded))
	assert.Equal(t, "scan-42", decoded.ID)
	require.Len(t, decoded.Redeemable, 1)
	assert.Equal(t, 0, decoded.Redeemable[0].Debt.Cmp(fixedpoint.Ether(1500)))
}

func TestPutReportErrors(t *testing.T) {
	w := newMemWriter()
	arch := NewArchiver(w, nil, nil, ArchiverOptions{}, nil)

	_, err := arch.PutReport(context.Background(), domain.ScanResult{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	boom := errors.New("bucket gone")
	w.err = boom
	_, err = arch.PutReport(context.Background(), domain.ScanResult{ID: "x"})
	assert.ErrorIs(t, err, boom)
}

func TestArchiveScans(t *testing.T) {
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	scans := &memScans{rows: []domain.ScanSummary{
		{ID: "old-1", Mode: domain.ModeLive, StartedAt: cutoff.Add(-48 * time.Hour)},
		{ID: "old-2", Mode: domain.ModeEmptyRegistry, StartedAt: cutoff.Add(-time.Hour)},
		{ID: "new-1", Mode: domain.ModeLive, StartedAt: cutoff.Add(time.Hour)},
	}}
	audit := &memAudit{}
	w := newMemWriter()
	arch := NewArchiver(w, scans, audit, ArchiverOptions{Prune: true}, nil)

	n, err := arch.ArchiveScans(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	data, ok := w.objects["archive/scans/2026-03-01.jsonl"]
	require.True(t, ok)
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var s domain.ScanSummary
		require.NoError(t, json.Unmarshal(sc.Bytes(), &s))
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"old-1", "old-2"}, ids)

	require.Len(t, scans.rows, 1)
	assert.Equal(t, "new-1", scans.rows[0].ID)
	assert.Equal(t, []string{"archive.scans"}, audit.events)
	assert.Equal(t, int64(2), audit.detail[0]["count"])
}

func TestArchiveScansNothingToDo(t *testing.T) {
	w := newMemWriter()
	arch := NewArchiver(w, &memScans{}, nil, ArchiverOptions{}, nil)

	n, err := arch.ArchiveScans(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
}

func TestClientConfigEndpointURL(t *testing.T) {
	tests := []struct {
		cfg  ClientConfig
		want string
	}{
		{ClientConfig{}, ""},
		{ClientConfig{Endpoint: "minio:9000"}, "http://minio:9000"},
		{ClientConfig{Endpoint: "r2.example.com", UseSSL: true}, "https://r2.example.com"},
		{ClientConfig{Endpoint: "http://localhost:9000", UseSSL: true}, "http://localhost:9000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.cfg.endpointURL(), tt.cfg.Endpoint)
	}
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{AccessKey: "ak"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket is required")
	assert.Contains(t, err.Error(), "region is required")
	assert.Contains(t, err.Error(), "set together")
}
