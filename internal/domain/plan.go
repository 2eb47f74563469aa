package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// HintQuality tells the submitter how much to trust the insertion hints.
type HintQuality struct {
	Converged  bool   `json:"converged"`
	Iterations int    `json:"iterations"`
	Reason     string `json:"reason,omitempty"`
}

// RedemptionPlan carries everything redeemCollateral needs. It is tied to the
// block it was computed at and must be recomputed once the chain moves on.
type RedemptionPlan struct {
	TargetAmount    *big.Int       `json:"target_amount"`
	TruncatedAmount *big.Int       `json:"truncated_amount"`
	FirstHint       common.Address `json:"first_hint"`
	PartialHintNICR *big.Int       `json:"partial_hint_nicr"`
	ApproxHint      common.Address `json:"approx_hint"`
	UpperHint       common.Address `json:"upper_hint"`
	LowerHint       common.Address `json:"lower_hint"`
	Price           *big.Int       `json:"price"`
	BlockNumber     uint64         `json:"block_number"`
	Quality         HintQuality    `json:"quality"`
}

// Empty reports whether the plan redeems nothing.
func (p RedemptionPlan) Empty() bool {
	return p.TruncatedAmount == nil || p.TruncatedAmount.Sign() == 0
}
