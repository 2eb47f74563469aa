package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ScanMode describes how trustworthy a scan result is.
type ScanMode string

const (
	ModeLive              ScanMode = "live"
	ModeEmptyRegistry     ScanMode = "empty-registry"
	ModeSyntheticFallback ScanMode = "synthetic-fallback"
)

// PriceQuote is the oracle price used for one scan. It is never refreshed
// mid-scan.
type PriceQuote struct {
	Value     *big.Int  `json:"value"`
	Fallback  bool      `json:"fallback"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Counts reconciles a scan: Active + Closed + Unevaluable == Traversed.
type Counts struct {
	Traversed   int `json:"traversed"`
	Active      int `json:"active"`
	Redeemable  int `json:"redeemable"`
	AtRisk      int `json:"at_risk"`
	Safe        int `json:"safe"`
	Closed      int `json:"closed"`
	Unevaluable int `json:"unevaluable"`
}

// Reconciled reports whether every traversed id is accounted for.
func (c Counts) Reconciled() bool {
	return c.Active+c.Closed+c.Unevaluable == c.Traversed
}

// ScanResult is the output of one full scan.
type ScanResult struct {
	ID          string                    `json:"id"`
	Mode        ScanMode                  `json:"mode"`
	Price       PriceQuote                `json:"price"`
	BlockNumber uint64                    `json:"block_number"`
	Traversed   []common.Address          `json:"traversed"`
	Active      []Position                `json:"active"`
	Redeemable  []Position                `json:"redeemable"`
	AtRisk      []Position                `json:"at_risk"`
	Closed      []Position                `json:"closed"`
	Skipped     map[common.Address]string `json:"skipped"`
	Counts      Counts                    `json:"counts"`
	StartedAt   time.Time                 `json:"started_at"`
	Duration    time.Duration             `json:"duration"`
}

// Degraded reports whether any fallback was used.
func (r ScanResult) Degraded() bool {
	return r.Mode == ModeSyntheticFallback || r.Price.Fallback
}

// Report returns every evaluated position in reporting order: active
// positions ascending by ICR followed by closed positions.
func (r ScanResult) Report() []Position {
	out := make([]Position, 0, len(r.Active)+len(r.Closed))
	out = append(out, r.Active...)
	out = append(out, r.Closed...)
	return out
}
