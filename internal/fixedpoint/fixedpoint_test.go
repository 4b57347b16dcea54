package fixedpoint_test

import (
	"testing"

	"SynthVault/internal/fixedpoint"

	"github.com/holiman/uint256"
)

// e18 builds n × 1e18 as a uint256.
func e18(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

const price3000 = int64(3000_0000_0000) // $3000 at 8 decimals

func TestUsdValue_Exact(t *testing.T) {
	// 15 units at $3000 must be exactly $45,000.
	got := fixedpoint.UsdValue(price3000, e18(15))
	want := e18(45_000)

	if got.Cmp(want) != 0 {
		t.Errorf("UsdValue(3000e8, 15e18): got %s, want %s", got.Dec(), want.Dec())
	}
}

func TestTokenAmountFromUsd_Exact(t *testing.T) {
	// $45,000 at $3000 is 15 units.
	got := fixedpoint.TokenAmountFromUsd(price3000, e18(45_000))
	want := e18(15)

	if got.Cmp(want) != 0 {
		t.Errorf("TokenAmountFromUsd(3000e8, 45000e18): got %s, want %s", got.Dec(), want.Dec())
	}
}

func TestConversion_RoundTripIdentity(t *testing.T) {
	amounts := []*uint256.Int{
		e18(1),
		e18(10),
		uint256.NewInt(1),                 // dust
		uint256.NewInt(999_999_999),       // sub-unit
		new(uint256.Int).Add(e18(7), uint256.NewInt(123456789)),
	}

	for _, amount := range amounts {
		usd := fixedpoint.UsdValue(price3000, amount)
		back := fixedpoint.TokenAmountFromUsd(price3000, usd)

		// Floor rounding in both directions: back <= amount, and the loss is
		// bounded by one price unit worth of tokens.
		if back.Cmp(amount) > 0 {
			t.Errorf("round trip of %s grew to %s", amount.Dec(), back.Dec())
		}

		// Second trip must be stable (idempotent after the first rounding).
		usd2 := fixedpoint.UsdValue(price3000, back)
		back2 := fixedpoint.TokenAmountFromUsd(price3000, usd2)
		if back2.Cmp(back) != 0 {
			t.Errorf("second round trip unstable: %s -> %s", back.Dec(), back2.Dec())
		}
	}
}

func TestHealthFactor_ZeroMintedIsMax(t *testing.T) {
	for _, collateral := range []*uint256.Int{uint256.NewInt(0), e18(1_000_000)} {
		got := fixedpoint.HealthFactor(collateral, uint256.NewInt(0), 50, 100)
		if got.Cmp(fixedpoint.MaxHealthFactor) != 0 {
			t.Errorf("zero minted with collateral %s: got %s, want max sentinel", collateral.Dec(), got.Dec())
		}
	}
}

func TestHealthFactor_ExactlyOne(t *testing.T) {
	// $30,000 collateral, 15,000 minted, 50% threshold → factor exactly 1e18.
	got := fixedpoint.HealthFactor(e18(30_000), e18(15_000), 50, 100)
	want := e18(1)

	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got.Dec(), want.Dec())
	}
}

func TestHealthFactor_ExactlyTwo(t *testing.T) {
	// $30,000 collateral, 7,500 minted → factor exactly 2e18.
	got := fixedpoint.HealthFactor(e18(30_000), e18(7_500), 50, 100)
	want := e18(2)

	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got.Dec(), want.Dec())
	}
}

func TestBonus(t *testing.T) {
	got := fixedpoint.Bonus(e18(100), 10)
	want := e18(10)

	if got.Cmp(want) != 0 {
		t.Errorf("10%% of 100e18: got %s, want %s", got.Dec(), want.Dec())
	}
}
