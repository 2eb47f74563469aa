package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Status mirrors the ledger's getTroveStatus enum.
type Status uint8

const (
	StatusNonExistent Status = iota
	StatusActive
	StatusClosedByOwner
	StatusClosedByLiquidation
	StatusClosedByRedemption
)

// String returns the lowercase label used in logs and JSON.
func (s Status) String() string {
	switch s {
	case StatusNonExistent:
		return "nonexistent"
	case StatusActive:
		return "active"
	case StatusClosedByOwner:
		return "closed"
	case StatusClosedByLiquidation:
		return "liquidated"
	case StatusClosedByRedemption:
		return "redeemed"
	default:
		return "unknown"
	}
}

// IsActive reports whether the position is open on the ledger.
func (s Status) IsActive() bool {
	return s == StatusActive
}

// RiskBand is the derived redemption classification of a position.
type RiskBand string

const (
	BandAtRisk     RiskBand = "at_risk"
	BandRedeemable RiskBand = "redeemable"
	BandSafe       RiskBand = "safe"
	BandClosed     RiskBand = "closed"
)

// Position is a single evaluated borrower position. Amounts are 18-decimal
// fixed point. ICR uses the registry's own scale where 1e18 means 100%.
type Position struct {
	ID                common.Address `json:"id"`
	Status            Status         `json:"status"`
	Collateral        *big.Int       `json:"collateral"`
	Debt              *big.Int       `json:"debt"`
	PendingCollReward *big.Int       `json:"pending_coll_reward,omitempty"`
	PendingDebtReward *big.Int       `json:"pending_debt_reward,omitempty"`
	ICR               *big.Int       `json:"icr"`
	Band              RiskBand       `json:"band"`
	// Synthetic marks rows produced by the fallback source rather than the chain.
	Synthetic bool `json:"synthetic,omitempty"`
}

// DebtAndColl is the ledger's getEntireDebtAndColl result. Debt and Coll
// already include the pending rewards.
type DebtAndColl struct {
	Debt              *big.Int
	Coll              *big.Int
	PendingDebtReward *big.Int
	PendingCollReward *big.Int
}
