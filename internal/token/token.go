package token

import (
	"context"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Custody moves registered collateral assets between holders. Every call
// must be checked: a transfer either succeeds fully or returns an error —
// there is no silent no-op outcome.
type Custody interface {
	Transfer(ctx context.Context, asset string, from, to uuid.UUID, amount *uint256.Int) error
}

// LiabilityToken is the USD-pegged synthetic token ledger. Issue authority
// belongs to the engine; the implementation enforces that, the engine only
// checks results.
type LiabilityToken interface {
	// Issue mints amount to the recipient.
	Issue(ctx context.Context, to uuid.UUID, amount *uint256.Int) error

	// Pull transfers amount from the holder into engine custody, staging it
	// for destruction.
	Pull(ctx context.Context, from uuid.UUID, amount *uint256.Int) error

	// Destroy burns amount of engine-held tokens.
	Destroy(ctx context.Context, amount *uint256.Int) error

	// Release hands engine-held tokens back to a holder, compensating a Pull
	// whose enclosing operation failed after the pull succeeded.
	Release(ctx context.Context, to uuid.UUID, amount *uint256.Int) error

	// BalanceOf returns the holder's balance (a copy).
	BalanceOf(holder uuid.UUID) *uint256.Int
}
