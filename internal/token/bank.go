package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

type holding struct {
	Asset  string
	Holder uuid.UUID
}

// Bank is an in-memory Custody implementation backing tests and the
// standalone service mode. Real deployments substitute a chain or custodian
// client behind the same interface.
type Bank struct {
	mu       sync.Mutex
	balances map[holding]*uint256.Int
}

func NewBank() *Bank {
	return &Bank{balances: make(map[holding]*uint256.Int)}
}

// Credit seeds a holder's balance, for bootstrap and tests.
func (b *Bank) Credit(asset string, holder uuid.UUID, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(holding{Asset: asset, Holder: holder}, amount)
}

func (b *Bank) Transfer(_ context.Context, asset string, from, to uuid.UUID, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	src := holding{Asset: asset, Holder: from}
	cur, ok := b.balances[src]
	if !ok || cur.Lt(amount) {
		return fmt.Errorf("custody transfer %s: holder %s has insufficient balance", asset, from)
	}

	cur.Sub(cur, amount)
	b.add(holding{Asset: asset, Holder: to}, amount)
	return nil
}

// BalanceOf returns a copy of the holder's balance for an asset.
func (b *Bank) BalanceOf(asset string, holder uuid.UUID) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cur, ok := b.balances[holding{Asset: asset, Holder: holder}]; ok {
		return new(uint256.Int).Set(cur)
	}
	return new(uint256.Int)
}

func (b *Bank) add(h holding, amount *uint256.Int) {
	cur, ok := b.balances[h]
	if !ok {
		cur = new(uint256.Int)
		b.balances[h] = cur
	}
	cur.Add(cur, amount)
}
