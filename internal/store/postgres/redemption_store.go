package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/trovewatch/internal/domain"
)

// RedemptionStore implements domain.RedemptionStore using PostgreSQL.
type RedemptionStore struct {
	db DB
}

// NewRedemptionStore creates a new RedemptionStore.
func NewRedemptionStore(db DB) *RedemptionStore {
	return &RedemptionStore{db: db}
}

// Insert records a submitted redemption.
func (s *RedemptionStore) Insert(ctx context.Context, rec domain.RedemptionRecord) error {
	if rec.TxHash == "" {
		return fmt.Errorf("postgres: insert redemption: %w", domain.ErrInvalidArgument)
	}
	var scanID any
	if rec.ScanID != "" {
		scanID = rec.ScanID
	}

	const query = `
		INSERT INTO redemptions (tx_hash, scan_id, target_amount, truncated_amount,
			first_hint, partial_nicr, block_number, converged)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tx_hash) DO NOTHING`
	_, err := s.db.Exec(ctx, query,
		rec.TxHash, scanID, rec.TargetAmount, rec.TruncatedAmount,
		rec.FirstHint, rec.PartialNICR, int64(rec.BlockNumber), rec.Converged,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert redemption %s: %w", rec.TxHash, err)
	}
	return nil
}

// ListRecent returns redemptions newest first.
func (s *RedemptionStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.RedemptionRecord, error) {
	where, tail, args := pageClause(opts, "created_at")
	query := `SELECT tx_hash, COALESCE(scan_id, ''), target_amount, truncated_amount,
		first_hint, partial_nicr, block_number, converged, created_at
		FROM redemptions` + where + tail

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list redemptions: %w", err)
	}
	defer rows.Close()

	var out []domain.RedemptionRecord
	for rows.Next() {
		var (
			rec   domain.RedemptionRecord
			block int64
		)
		if err := rows.Scan(&rec.TxHash, &rec.ScanID, &rec.TargetAmount, &rec.TruncatedAmount,
			&rec.FirstHint, &rec.PartialNICR, &block, &rec.Converged, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan redemption: %w", err)
		}
		rec.BlockNumber = uint64(block)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list redemptions rows: %w", err)
	}
	return out, nil
}
