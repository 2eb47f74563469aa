package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/trovewatch/internal/domain"
)

const scanColumns = `id, mode, price, price_fallback, block_number, counts, redeemable, started_at, duration_ms`

// ScanStore implements domain.ScanStore using PostgreSQL.
type ScanStore struct {
	db DB
}

// NewScanStore creates a new ScanStore.
func NewScanStore(db DB) *ScanStore {
	return &ScanStore{db: db}
}

// Insert stores one scan summary. Re-inserting the same id is a no-op.
func (s *ScanStore) Insert(ctx context.Context, summary domain.ScanSummary) error {
	if summary.ID == "" {
		return fmt.Errorf("postgres: insert scan: %w", domain.ErrInvalidArgument)
	}
	countsJSON, err := json.Marshal(summary.Counts)
	if err != nil {
		return fmt.Errorf("postgres: marshal scan counts: %w", err)
	}
	redeemable := summary.Redeemable
	if redeemable == nil {
		redeemable = []domain.Position{}
	}
	redeemableJSON, err := json.Marshal(redeemable)
	if err != nil {
		return fmt.Errorf("postgres: marshal redeemable positions: %w", err)
	}

	const query = `
		INSERT INTO scans (` + scanColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`
	_, err = s.db.Exec(ctx, query,
		summary.ID,
		string(summary.Mode),
		summary.Price,
		summary.PriceFallback,
		int64(summary.BlockNumber),
		countsJSON,
		redeemableJSON,
		summary.StartedAt,
		summary.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert scan %s: %w", summary.ID, err)
	}
	return nil
}

// GetByID returns one scan or domain.ErrNotFound.
func (s *ScanStore) GetByID(ctx context.Context, id string) (domain.ScanSummary, error) {
	query := `SELECT ` + scanColumns + ` FROM scans WHERE id = $1`
	summary, err := scanSummary(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScanSummary{}, fmt.Errorf("postgres: get scan %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ScanSummary{}, fmt.Errorf("postgres: get scan %s: %w", id, err)
	}
	return summary, nil
}

// ListRecent returns scans newest first.
func (s *ScanStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ScanSummary, error) {
	where, tail, args := pageClause(opts, "started_at")
	return s.list(ctx, `SELECT `+scanColumns+` FROM scans`+where+tail, args...)
}

// ListBefore returns every scan that started before the cutoff, oldest first.
func (s *ScanStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ScanSummary, error) {
	query := `SELECT ` + scanColumns + ` FROM scans WHERE started_at < $1 ORDER BY started_at ASC`
	return s.list(ctx, query, before)
}

// DeleteBefore removes scans that started before the cutoff.
func (s *ScanStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM scans WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete scans before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *ScanStore) list(ctx context.Context, query string, args ...any) ([]domain.ScanSummary, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list scans: %w", err)
	}
	defer rows.Close()

	var out []domain.ScanSummary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list scans rows: %w", err)
	}
	return out, nil
}

func scanSummary(row pgx.Row) (domain.ScanSummary, error) {
	var (
		summary        domain.ScanSummary
		mode           string
		block          int64
		durationMS     int64
		countsJSON     []byte
		redeemableJSON []byte
	)
	err := row.Scan(
		&summary.ID,
		&mode,
		&summary.Price,
		&summary.PriceFallback,
		&block,
		&countsJSON,
		&redeemableJSON,
		&summary.StartedAt,
		&durationMS,
	)
	if err != nil {
		return domain.ScanSummary{}, err
	}
	summary.Mode = domain.ScanMode(mode)
	summary.BlockNumber = uint64(block)
	summary.Duration = time.Duration(durationMS) * time.Millisecond
	if err := json.Unmarshal(countsJSON, &summary.Counts); err != nil {
		return domain.ScanSummary{}, fmt.Errorf("unmarshal counts: %w", err)
	}
	if len(redeemableJSON) > 0 {
		if err := json.Unmarshal(redeemableJSON, &summary.Redeemable); err != nil {
			return domain.ScanSummary{}, fmt.Errorf("unmarshal redeemable: %w", err)
		}
	}
	return summary, nil
}
