package fixedpoint

import "github.com/holiman/uint256"

// Fixed-point conventions:
//   - oracle prices are 8-decimal fixed point (int64 — a price fits comfortably)
//   - asset amounts and USD values are 18-decimal fixed point (uint256)
//
// USD normalization scales the 8-decimal price up by 1e10 before multiplying
// by the 18-decimal amount and dividing by 1e18. The multiply-before-divide
// order is load-bearing: reordering changes integer-rounding results.
const (
	FeedDecimals = 8  // oracle price precision
	Decimals     = 18 // amount / USD precision
)

var (
	// feedAdjust lifts an 8-decimal price to 18 decimals (1e10).
	feedAdjust = uint256.NewInt(10_000_000_000)

	// precision is 1e18, the scale of amounts and USD values.
	precision = uint256.NewInt(1_000_000_000_000_000_000)

	// MaxHealthFactor is the sentinel for "no debt, no risk". All comparisons
	// against the minimum treat it as passing.
	MaxHealthFactor = new(uint256.Int).SetAllOne()
)

// UsdValue converts an 18-decimal asset amount into an 18-decimal USD value
// at the given 8-decimal price. Rounding is floor.
func UsdValue(price int64, amount *uint256.Int) *uint256.Int {
	scaled := new(uint256.Int).Mul(uint256.NewInt(uint64(price)), feedAdjust)
	v := new(uint256.Int).Mul(scaled, amount)
	return v.Div(v, precision)
}

// TokenAmountFromUsd converts an 18-decimal USD value into an 18-decimal
// asset amount at the given 8-decimal price. Floor rounding, the inverse of
// UsdValue modulo sub-unit truncation loss: a round trip is stable after the
// first rounding.
func TokenAmountFromUsd(price int64, usd *uint256.Int) *uint256.Int {
	v := new(uint256.Int).Mul(usd, precision)
	scaled := new(uint256.Int).Mul(uint256.NewInt(uint64(price)), feedAdjust)
	return v.Div(v, scaled)
}

// HealthFactor computes the collateral-to-debt safety ratio in 18-decimal
// fixed point. threshold/thresholdPrecision encodes the required
// over-collateralization (50/100 means 200% collateralization breaks even at
// a factor of exactly 1e18). The collateral is adjusted by the threshold
// first, then divided by the minted amount — preserve this order.
func HealthFactor(collateralUsd, minted *uint256.Int, threshold, thresholdPrecision uint64) *uint256.Int {
	if minted.IsZero() {
		return new(uint256.Int).Set(MaxHealthFactor)
	}

	adjusted := new(uint256.Int).Mul(collateralUsd, uint256.NewInt(threshold))
	adjusted.Div(adjusted, uint256.NewInt(thresholdPrecision))

	factor := adjusted.Mul(adjusted, precision)
	return factor.Div(factor, minted)
}

// Bonus returns amount × pct / 100, the liquidation incentive slice.
func Bonus(amount *uint256.Int, pct uint64) *uint256.Int {
	b := new(uint256.Int).Mul(amount, uint256.NewInt(pct))
	return b.Div(b, uint256.NewInt(100))
}
