package state

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// PositionKey addresses deposited collateral by (user, asset).
type PositionKey struct {
	UserID uuid.UUID
	Asset  string
}

// Book is the mapping-backed store for all positions and minted-liability
// accounts. It is owned exclusively by the engine — nothing else mutates it,
// and there is no package-level instance. Balances are 18-decimal fixed
// point and never negative: subtraction that would underflow fails without
// touching the stored value.
type Book struct {
	collateral map[PositionKey]*uint256.Int
	minted     map[uuid.UUID]*uint256.Int
}

func NewBook() *Book {
	return &Book{
		collateral: make(map[PositionKey]*uint256.Int),
		minted:     make(map[uuid.UUID]*uint256.Int),
	}
}

// AddCollateral increases a position, creating it on first deposit.
func (b *Book) AddCollateral(user uuid.UUID, asset string, amount *uint256.Int) {
	key := PositionKey{UserID: user, Asset: asset}
	cur, ok := b.collateral[key]
	if !ok {
		cur = new(uint256.Int)
		b.collateral[key] = cur
	}
	cur.Add(cur, amount)
}

// SubCollateral decreases a position. Fails without mutation if the position
// would go negative.
func (b *Book) SubCollateral(user uuid.UUID, asset string, amount *uint256.Int) error {
	key := PositionKey{UserID: user, Asset: asset}
	cur, ok := b.collateral[key]
	if !ok || cur.Lt(amount) {
		return fmt.Errorf("position %s/%s: have %s, need %s",
			user, asset, b.CollateralOf(user, asset).Dec(), amount.Dec())
	}
	cur.Sub(cur, amount)
	return nil
}

// CollateralOf returns a copy of the deposited amount (zero if no position).
func (b *Book) CollateralOf(user uuid.UUID, asset string) *uint256.Int {
	if cur, ok := b.collateral[PositionKey{UserID: user, Asset: asset}]; ok {
		return new(uint256.Int).Set(cur)
	}
	return new(uint256.Int)
}

// AddMinted increases a user's minted-liability account.
func (b *Book) AddMinted(user uuid.UUID, amount *uint256.Int) {
	cur, ok := b.minted[user]
	if !ok {
		cur = new(uint256.Int)
		b.minted[user] = cur
	}
	cur.Add(cur, amount)
}

// SubMinted decreases a user's minted-liability account. Fails without
// mutation if the account would go negative — underflow never wraps.
func (b *Book) SubMinted(user uuid.UUID, amount *uint256.Int) error {
	cur, ok := b.minted[user]
	if !ok || cur.Lt(amount) {
		return fmt.Errorf("account %s: minted %s, burn %s",
			user, b.MintedOf(user).Dec(), amount.Dec())
	}
	cur.Sub(cur, amount)
	return nil
}

// MintedOf returns a copy of the user's minted amount (zero if none).
func (b *Book) MintedOf(user uuid.UUID) *uint256.Int {
	if cur, ok := b.minted[user]; ok {
		return new(uint256.Int).Set(cur)
	}
	return new(uint256.Int)
}

// Snapshot returns serializable copies of both maps, keyed by strings for
// persistence. Collateral keys are "user/asset"; values are decimal strings.
func (b *Book) Snapshot() (collateral map[string]string, minted map[string]string) {
	collateral = make(map[string]string, len(b.collateral))
	for key, amt := range b.collateral {
		if amt.IsZero() {
			continue
		}
		collateral[key.UserID.String()+"/"+key.Asset] = amt.Dec()
	}

	minted = make(map[string]string, len(b.minted))
	for user, amt := range b.minted {
		if amt.IsZero() {
			continue
		}
		minted[user.String()] = amt.Dec()
	}
	return collateral, minted
}

// Restore replaces the book contents from a snapshot produced by Snapshot.
func (b *Book) Restore(collateral map[string]string, minted map[string]string) error {
	b.collateral = make(map[PositionKey]*uint256.Int, len(collateral))
	b.minted = make(map[uuid.UUID]*uint256.Int, len(minted))

	for key, dec := range collateral {
		userStr, asset, ok := strings.Cut(key, "/")
		if !ok {
			return fmt.Errorf("malformed position key %q", key)
		}
		user, err := uuid.Parse(userStr)
		if err != nil {
			return fmt.Errorf("position key %q: %w", key, err)
		}
		amt, err := uint256.FromDecimal(dec)
		if err != nil {
			return fmt.Errorf("position %q amount %q: %w", key, dec, err)
		}
		b.collateral[PositionKey{UserID: user, Asset: asset}] = amt
	}

	for userStr, dec := range minted {
		user, err := uuid.Parse(userStr)
		if err != nil {
			return fmt.Errorf("account key %q: %w", userStr, err)
		}
		amt, err := uint256.FromDecimal(dec)
		if err != nil {
			return fmt.Errorf("account %q amount %q: %w", userStr, dec, err)
		}
		b.minted[user] = amt
	}

	return nil
}
