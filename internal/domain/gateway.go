package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PriceOracle reads the collateral price (18-decimal fixed point).
type PriceOracle interface {
	FetchPrice(ctx context.Context) (*big.Int, error)
}

// SortedRegistry is the on-chain doubly linked list of positions ordered by
// NICR. The head holds the highest NICR and the tail the lowest. The zero
// address is the empty sentinel.
type SortedRegistry interface {
	GetFirst(ctx context.Context) (common.Address, error)
	GetLast(ctx context.Context) (common.Address, error)
	GetNext(ctx context.Context, id common.Address) (common.Address, error)
	GetPrev(ctx context.Context, id common.Address) (common.Address, error)
	FindInsertPosition(ctx context.Context, nicr *big.Int, prevID, nextID common.Address) (upper, lower common.Address, err error)
}

// PositionLedger reads per-position state and protocol constants.
type PositionLedger interface {
	GetTroveStatus(ctx context.Context, id common.Address) (Status, error)
	GetEntireDebtAndColl(ctx context.Context, id common.Address) (DebtAndColl, error)
	GasCompensation(ctx context.Context) (*big.Int, error)
}

// ApproxHint is the result of a random-sampling hint search.
type ApproxHint struct {
	ID       common.Address
	Diff     *big.Int
	NextSeed *big.Int
}

// HintSampler runs the registry-side random sampling search.
type HintSampler interface {
	GetApproxHint(ctx context.Context, nicr *big.Int, numTrials uint64, seed *big.Int) (ApproxHint, error)
}

// BlockSource reports the chain head so plans can be tied to a snapshot.
type BlockSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// RedemptionSubmitter sends a redeemCollateral transaction built from plan.
type RedemptionSubmitter interface {
	SubmitRedemption(ctx context.Context, plan RedemptionPlan, maxIterations uint64, maxFeePercentage *big.Int) (common.Hash, error)
}

// Gateway bundles every read the scanning core needs.
type Gateway interface {
	PriceOracle
	SortedRegistry
	PositionLedger
	HintSampler
	BlockSource
}

// ZeroAddress is the registry's empty sentinel.
var ZeroAddress = common.Address{}

// IsSentinel reports whether id is the empty-list sentinel.
func IsSentinel(id common.Address) bool {
	return id == ZeroAddress
}

// Snapshotter is implemented by gateways that can pin every read to a block.
type Snapshotter interface {
	At(block uint64) Gateway
}
