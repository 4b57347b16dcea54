package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Synth is an in-memory LiabilityToken: a plain fungible-token ledger with
// a staging balance for tokens pulled in ahead of destruction.
type Synth struct {
	mu       sync.Mutex
	balances map[uuid.UUID]*uint256.Int
	staged   *uint256.Int // engine-held, pending Destroy
	supply   *uint256.Int
}

func NewSynth() *Synth {
	return &Synth{
		balances: make(map[uuid.UUID]*uint256.Int),
		staged:   new(uint256.Int),
		supply:   new(uint256.Int),
	}
}

func (s *Synth) Issue(_ context.Context, to uuid.UUID, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.balances[to]
	if !ok {
		cur = new(uint256.Int)
		s.balances[to] = cur
	}
	cur.Add(cur, amount)
	s.supply.Add(s.supply, amount)
	return nil
}

func (s *Synth) Pull(_ context.Context, from uuid.UUID, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.balances[from]
	if !ok || cur.Lt(amount) {
		return fmt.Errorf("pull: holder %s has insufficient liability tokens", from)
	}
	cur.Sub(cur, amount)
	s.staged.Add(s.staged, amount)
	return nil
}

func (s *Synth) Destroy(_ context.Context, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Only engine-held (pulled) tokens can be destroyed.
	if s.staged.Lt(amount) {
		return fmt.Errorf("destroy: only %s staged, cannot destroy %s", s.staged.Dec(), amount.Dec())
	}
	s.staged.Sub(s.staged, amount)
	s.supply.Sub(s.supply, amount)
	return nil
}

func (s *Synth) BalanceOf(holder uuid.UUID) *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.balances[holder]; ok {
		return new(uint256.Int).Set(cur)
	}
	return new(uint256.Int)
}

// TotalSupply returns the outstanding token supply (a copy).
func (s *Synth) TotalSupply() *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(uint256.Int).Set(s.supply)
}

// Release returns pulled-but-not-destroyed tokens to a holder. The engine
// uses it to unwind a burn leg when a later step of the same operation fails.
func (s *Synth) Release(_ context.Context, to uuid.UUID, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged.Lt(amount) {
		return fmt.Errorf("release: only %s staged", s.staged.Dec())
	}
	s.staged.Sub(s.staged, amount)

	cur, ok := s.balances[to]
	if !ok {
		cur = new(uint256.Int)
		s.balances[to] = cur
	}
	cur.Add(cur, amount)
	return nil
}
