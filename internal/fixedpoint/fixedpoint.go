// Package fixedpoint holds the 18-decimal integer arithmetic shared by the
// scanner and the hint calculator. Everything stays in big.Int; floats are
// only produced by the formatting helpers for display.
package fixedpoint

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
)

var (
	// Scale is 10^18, the unit of every amount and of collateral ratios (1e18 == 100%).
	Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	// NICRPrecision is the 10^20 multiplier the registry uses for nominal ratios.
	NICRPrecision = new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil)

	// Infinite is the ratio reported for positions without debt.
	Infinite = new(big.Int).Set(math.MaxBig256)

	onePercent = new(big.Int).Div(Scale, big.NewInt(100))
	hundred    = big.NewInt(100)
)

// Ether converts a whole-unit integer into 18-decimal fixed point.
func Ether(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), Scale)
}

// Percent converts a whole percentage into the ratio scale (110 -> 1.1e18).
func Percent(pct int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(pct), onePercent)
}

// ComputeCR returns coll*price/debt on the 1e18 == 100% scale. A zero debt
// yields Infinite. Callers must reject the zero-debt zero-collateral case
// themselves.
func ComputeCR(coll, debt, price *big.Int) *big.Int {
	if debt.Sign() == 0 {
		return new(big.Int).Set(Infinite)
	}
	cr := new(big.Int).Mul(coll, price)
	return cr.Quo(cr, debt)
}

// ComputeNominalCR returns coll*1e20/debt, the price independent ordering key
// of the sorted registry. A zero debt yields Infinite.
func ComputeNominalCR(coll, debt *big.Int) *big.Int {
	if debt.Sign() == 0 {
		return new(big.Int).Set(Infinite)
	}
	nicr := new(big.Int).Mul(coll, NICRPrecision)
	return nicr.Quo(nicr, debt)
}

// IsInfinite reports whether cr is the zero-debt sentinel.
func IsInfinite(cr *big.Int) bool {
	return cr != nil && cr.Cmp(Infinite) == 0
}

// RatioPercent returns the exact percentage value of a 1e18-scaled ratio.
func RatioPercent(cr *big.Int) *big.Rat {
	num := new(big.Int).Mul(cr, hundred)
	return new(big.Rat).SetFrac(num, Scale)
}

// Min returns the smaller of a and b without copying.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Zero returns a fresh zero value.
func Zero() *big.Int {
	return new(big.Int)
}

// OrZero returns v or a fresh zero when v is nil.
func OrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
