package state_test

import (
	"testing"

	"SynthVault/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

func TestBook_CollateralRoundTrip(t *testing.T) {
	b := state.NewBook()
	user := uuid.New()

	if got := b.CollateralOf(user, "WETH"); !got.IsZero() {
		t.Fatalf("fresh position should be zero, got %s", got.Dec())
	}

	b.AddCollateral(user, "WETH", uint256.NewInt(500))
	if err := b.SubCollateral(user, "WETH", uint256.NewInt(500)); err != nil {
		t.Fatalf("sub within balance: %v", err)
	}

	if got := b.CollateralOf(user, "WETH"); !got.IsZero() {
		t.Errorf("after add+sub position should be zero, got %s", got.Dec())
	}
}

func TestBook_SubCollateralUnderflowFails(t *testing.T) {
	b := state.NewBook()
	user := uuid.New()
	b.AddCollateral(user, "WETH", uint256.NewInt(100))

	if err := b.SubCollateral(user, "WETH", uint256.NewInt(101)); err == nil {
		t.Fatal("underflowing sub must fail")
	}

	// The failed sub must leave the position untouched — not truncated.
	if got := b.CollateralOf(user, "WETH"); got.Cmp(uint256.NewInt(100)) != 0 {
		t.Errorf("position after failed sub: got %s, want 100", got.Dec())
	}
}

func TestBook_MintedUnderflowFails(t *testing.T) {
	b := state.NewBook()
	user := uuid.New()

	if err := b.SubMinted(user, uint256.NewInt(1)); err == nil {
		t.Fatal("burn against empty account must fail")
	}

	b.AddMinted(user, uint256.NewInt(10))
	if err := b.SubMinted(user, uint256.NewInt(11)); err == nil {
		t.Fatal("burn exceeding minted must fail, not wrap")
	}
	if got := b.MintedOf(user); got.Cmp(uint256.NewInt(10)) != 0 {
		t.Errorf("minted after failed burn: got %s, want 10", got.Dec())
	}
}

func TestBook_CopiesNotAliases(t *testing.T) {
	b := state.NewBook()
	user := uuid.New()
	b.AddCollateral(user, "WETH", uint256.NewInt(7))

	got := b.CollateralOf(user, "WETH")
	got.SetUint64(999)

	if b.CollateralOf(user, "WETH").Cmp(uint256.NewInt(7)) != 0 {
		t.Error("CollateralOf must return a copy")
	}
}

func TestBook_SnapshotRestore(t *testing.T) {
	b := state.NewBook()
	alice, bob := uuid.New(), uuid.New()
	b.AddCollateral(alice, "WETH", uint256.NewInt(123))
	b.AddCollateral(bob, "WBTC", uint256.NewInt(456))
	b.AddMinted(alice, uint256.NewInt(789))

	collateral, minted := b.Snapshot()

	restored := state.NewBook()
	if err := restored.Restore(collateral, minted); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if got := restored.CollateralOf(alice, "WETH"); got.Cmp(uint256.NewInt(123)) != 0 {
		t.Errorf("alice WETH: got %s, want 123", got.Dec())
	}
	if got := restored.CollateralOf(bob, "WBTC"); got.Cmp(uint256.NewInt(456)) != 0 {
		t.Errorf("bob WBTC: got %s, want 456", got.Dec())
	}
	if got := restored.MintedOf(alice); got.Cmp(uint256.NewInt(789)) != 0 {
		t.Errorf("alice minted: got %s, want 789", got.Dec())
	}
	if got := restored.MintedOf(bob); !got.IsZero() {
		t.Errorf("bob minted: got %s, want 0", got.Dec())
	}
}
