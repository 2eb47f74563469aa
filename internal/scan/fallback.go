package scan

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/trovewatch/internal/domain"
	"github.com/alanyoungcy/trovewatch/internal/fixedpoint"
)

// DefaultFallbackPrice is used when the oracle cannot be read: 60000 with 18
// decimals.
var DefaultFallbackPrice = fixedpoint.Ether(60000)

// FallbackSource supplies the synthetic dataset reported when the registry is
// unreachable.
type FallbackSource interface {
	Positions(ctx context.Context) ([]domain.Position, error)
}

// StaticFallback is a fixed synthetic dataset.
type StaticFallback []domain.Position

// Positions returns copies marked as synthetic. Rows without a status are
// treated as active; explicit statuses are kept.
func (s StaticFallback) Positions(context.Context) ([]domain.Position, error) {
	out := make([]domain.Position, len(s))
	for i, p := range s {
		p.Synthetic = true
		if p.Status == domain.StatusNonExistent {
			p.Status = domain.StatusActive
		}
		out[i] = p
	}
	return out, nil
}

// basisPoints converts a percentage with two decimals (11234 -> 112.34%) to
// the ratio scale.
func basisPoints(bp int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(bp), fixedpoint.Scale)
	return v.Quo(v, big.NewInt(10_000))
}

// DefaultFallback holds the two labeled fixture positions.
func DefaultFallback() StaticFallback {
	return StaticFallback{
		{
			ID:         common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678"),
			Collateral: fixedpoint.Ether(16),
			Debt:       fixedpoint.Ether(1500),
			ICR:        basisPoints(11234),
		},
		{
			ID:         common.HexToAddress("0xabcdef1234567890abcdef1234567890abcdef12"),
			Collateral: fixedpoint.Ether(36),
			Debt:       fixedpoint.Ether(3200),
			ICR:        basisPoints(11987),
		},
	}
}
