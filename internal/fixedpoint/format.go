package fixedpoint

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ToDecimal converts an 18-decimal fixed point amount to a decimal value.
func ToDecimal(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -18)
}

// FromDecimal converts a decimal amount into 18-decimal fixed point,
// truncating anything past the 18th decimal place.
func FromDecimal(d decimal.Decimal) *big.Int {
	return d.Shift(18).Truncate(0).BigInt()
}

// ParseAmount parses a human amount such as "100" or "0.25" into fixed point.
func ParseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return FromDecimal(d), nil
}

// FormatAmount renders an 18-decimal amount with the given number of places.
func FormatAmount(v *big.Int, places int32) string {
	return ToDecimal(v).StringFixed(places)
}

// FormatPercent renders a 1e18-scaled ratio as a percentage string.
func FormatPercent(cr *big.Int) string {
	if cr == nil {
		return "0.00%"
	}
	if IsInfinite(cr) {
		return "inf"
	}
	return decimal.NewFromBigInt(cr, -16).StringFixed(2) + "%"
}
