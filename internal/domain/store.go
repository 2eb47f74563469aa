package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ScanSummary is the persisted row for one scan.
type ScanSummary struct {
	ID            string
	Mode          ScanMode
	Price         string
	PriceFallback bool
	BlockNumber   uint64
	Counts        Counts
	Redeemable    []Position
	StartedAt     time.Time
	Duration      time.Duration
}

// ScanStore persists scan history for later inspection.
type ScanStore interface {
	Insert(ctx context.Context, summary ScanSummary) error
	GetByID(ctx context.Context, id string) (ScanSummary, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]ScanSummary, error)
	ListBefore(ctx context.Context, before time.Time) ([]ScanSummary, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// RedemptionRecord is the persisted row for one submitted redemption.
type RedemptionRecord struct {
	TxHash          string
	ScanID          string
	TargetAmount    string
	TruncatedAmount string
	FirstHint       string
	PartialNICR     string
	BlockNumber     uint64
	Converged       bool
	CreatedAt       time.Time
}

// RedemptionStore persists submitted redemptions.
type RedemptionStore interface {
	Insert(ctx context.Context, rec RedemptionRecord) error
	ListRecent(ctx context.Context, opts ListOpts) ([]RedemptionRecord, error)
}
