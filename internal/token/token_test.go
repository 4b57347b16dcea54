package token_test

import (
	"context"
	"testing"

	"SynthVault/internal/token"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

func TestBank_TransferMovesBalance(t *testing.T) {
	ctx := context.Background()
	bank := token.NewBank()
	alice, vault := uuid.New(), uuid.New()

	bank.Credit("WETH", alice, uint256.NewInt(100))

	if err := bank.Transfer(ctx, "WETH", alice, vault, uint256.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if got := bank.BalanceOf("WETH", alice); got.Cmp(uint256.NewInt(60)) != 0 {
		t.Errorf("alice: got %s, want 60", got.Dec())
	}
	if got := bank.BalanceOf("WETH", vault); got.Cmp(uint256.NewInt(40)) != 0 {
		t.Errorf("vault: got %s, want 40", got.Dec())
	}
}

func TestBank_TransferInsufficientFails(t *testing.T) {
	ctx := context.Background()
	bank := token.NewBank()
	alice, vault := uuid.New(), uuid.New()
	bank.Credit("WETH", alice, uint256.NewInt(10))

	if err := bank.Transfer(ctx, "WETH", alice, vault, uint256.NewInt(11)); err == nil {
		t.Fatal("over-balance transfer must fail")
	}
	if got := bank.BalanceOf("WETH", alice); got.Cmp(uint256.NewInt(10)) != 0 {
		t.Errorf("failed transfer must not touch balances, alice has %s", got.Dec())
	}
}

func TestSynth_IssuePullDestroy(t *testing.T) {
	ctx := context.Background()
	synth := token.NewSynth()
	alice := uuid.New()

	if err := synth.Issue(ctx, alice, uint256.NewInt(500)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if got := synth.TotalSupply(); got.Cmp(uint256.NewInt(500)) != 0 {
		t.Errorf("supply after issue: got %s, want 500", got.Dec())
	}

	if err := synth.Pull(ctx, alice, uint256.NewInt(200)); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if got := synth.BalanceOf(alice); got.Cmp(uint256.NewInt(300)) != 0 {
		t.Errorf("alice after pull: got %s, want 300", got.Dec())
	}

	if err := synth.Destroy(ctx, uint256.NewInt(200)); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if got := synth.TotalSupply(); got.Cmp(uint256.NewInt(300)) != 0 {
		t.Errorf("supply after destroy: got %s, want 300", got.Dec())
	}
}

func TestSynth_DestroyOnlyStaged(t *testing.T) {
	ctx := context.Background()
	synth := token.NewSynth()
	alice := uuid.New()
	synth.Issue(ctx, alice, uint256.NewInt(100))

	// Nothing staged — destroy must refuse to touch holder balances.
	if err := synth.Destroy(ctx, uint256.NewInt(1)); err == nil {
		t.Fatal("destroy without staged tokens must fail")
	}
}

func TestSynth_ReleaseCompensatesPull(t *testing.T) {
	ctx := context.Background()
	synth := token.NewSynth()
	alice := uuid.New()
	synth.Issue(ctx, alice, uint256.NewInt(100))

	if err := synth.Pull(ctx, alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if err := synth.Release(ctx, alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("release: %v", err)
	}

	if got := synth.BalanceOf(alice); got.Cmp(uint256.NewInt(100)) != 0 {
		t.Errorf("alice after release: got %s, want 100", got.Dec())
	}
	if got := synth.TotalSupply(); got.Cmp(uint256.NewInt(100)) != 0 {
		t.Errorf("supply must be unchanged by pull+release, got %s", got.Dec())
	}
}
