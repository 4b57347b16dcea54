package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"SynthVault/internal/event"
	"SynthVault/internal/fixedpoint"
	"SynthVault/internal/observability"
	"SynthVault/internal/oracle"
	"SynthVault/internal/registry"
	"SynthVault/internal/state"
	"SynthVault/internal/token"
)

// Policy holds the risk parameters. Threshold/Precision discount collateral
// value before it backs liability: 50/100 means positions must be 200%
// over-collateralized. BonusPct is the liquidator's seizure premium in
// percent. MinHealthFactor is 1e18-scaled; a position at exactly the
// minimum is healthy.
type Policy struct {
	LiquidationThreshold uint64
	LiquidationPrecision uint64
	LiquidationBonusPct  uint64
	MinHealthFactor      *uint256.Int
}

func DefaultPolicy() Policy {
	return Policy{
		LiquidationThreshold: 50,
		LiquidationPrecision: 100,
		LiquidationBonusPct:  10,
		MinHealthFactor:      uint256.NewInt(1_000_000_000_000_000_000),
	}
}

// Config wires an Engine.
type Config struct {
	Registry  *registry.Registry
	Book      *state.Book
	Prices    oracle.PriceOracle
	Custody   token.Custody
	Liability token.LiabilityToken

	// Vault is the custody account that holds all deposited collateral.
	Vault uuid.UUID

	Policy Policy
	Sink   event.Sink

	// StartSequence seeds the event sequence, typically from a restored
	// snapshot. Zero starts a fresh log.
	StartSequence int64

	Logger  zerolog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Engine applies collateral and liability operations atomically: every
// operation either commits all of its book mutations, collaborator legs and
// events, or leaves no trace. Book mutations and risk checks run before any
// collaborator call; collaborator legs that fail trigger compensating
// reversals of everything already done.
//
// Engine is single-writer: callers serialize mutating operations
// themselves. The entered flag is not a lock — it exists to reject a
// collaborator that calls back into the engine mid-operation.
type Engine struct {
	registry  *registry.Registry
	book      *state.Book
	prices    oracle.PriceOracle
	custody   token.Custody
	liability token.LiabilityToken
	vault     uuid.UUID
	policy    Policy
	sink      event.Sink

	log     zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	entered  bool
	sequence int64
}

func New(cfg Config) *Engine {
	if cfg.Policy.MinHealthFactor == nil {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.Book == nil {
		cfg.Book = state.NewBook()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		registry:  cfg.Registry,
		book:      cfg.Book,
		prices:    cfg.Prices,
		custody:   cfg.Custody,
		liability: cfg.Liability,
		vault:     cfg.Vault,
		policy:    cfg.Policy,
		sink:      cfg.Sink,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
		sequence:  cfg.StartSequence,
	}
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// Deposit records collateral for the user and pulls it into vault custody.
func (e *Engine) Deposit(ctx context.Context, user uuid.UUID, asset string, amount *uint256.Int) error {
	if err := e.enter("deposit"); err != nil {
		return err
	}
	defer e.exit()
	start := time.Now()

	if err := validAmount(amount); err != nil {
		return e.reject("deposit", err)
	}
	if !e.registry.Has(asset) {
		return e.reject("deposit", fmt.Errorf("%s: %w", asset, ErrAssetNotRegistered))
	}

	e.book.AddCollateral(user, asset, amount)

	if err := e.custody.Transfer(ctx, asset, user, e.vault, amount); err != nil {
		e.undoAddCollateral(user, asset, amount)
		return e.reject("deposit", fmt.Errorf("%w: custody leg: %v", ErrTransferFailed, err))
	}

	e.emit(&event.CollateralDeposited{
		OpID: uuid.New(), User: user, Asset: asset, Amount: amount.Dec(),
	})
	e.commit("deposit", start)
	return nil
}

// RedeemCollateral returns collateral to the user, provided the position
// stays healthy afterwards.
func (e *Engine) RedeemCollateral(ctx context.Context, user uuid.UUID, asset string, amount *uint256.Int) error {
	if err := e.enter("redeem"); err != nil {
		return err
	}
	defer e.exit()
	start := time.Now()

	if err := validAmount(amount); err != nil {
		return e.reject("redeem", err)
	}

	if err := e.book.SubCollateral(user, asset, amount); err != nil {
		return e.reject("redeem", fmt.Errorf("%w: %v", ErrInsufficientCollateral, err))
	}

	if err := e.revertIfBroken(ctx, user); err != nil {
		e.book.AddCollateral(user, asset, amount)
		return e.reject("redeem", err)
	}

	if err := e.custody.Transfer(ctx, asset, e.vault, user, amount); err != nil {
		e.book.AddCollateral(user, asset, amount)
		return e.reject("redeem", fmt.Errorf("%w: custody leg: %v", ErrTransferFailed, err))
	}

	e.emit(&event.CollateralRedeemed{
		OpID: uuid.New(), From: user, To: user, Asset: asset, Amount: amount.Dec(),
	})
	e.commit("redeem", start)
	return nil
}

// Mint issues liability tokens against the user's collateral. The debt is
// recorded first; if the resulting health factor is below the minimum the
// mint is rejected and the record reverted.
func (e *Engine) Mint(ctx context.Context, user uuid.UUID, amount *uint256.Int) error {
	if err := e.enter("mint"); err != nil {
		return err
	}
	defer e.exit()
	start := time.Now()

	if err := validAmount(amount); err != nil {
		return e.reject("mint", err)
	}

	e.book.AddMinted(user, amount)

	if err := e.revertIfBroken(ctx, user); err != nil {
		e.undoAddMinted(user, amount)
		return e.reject("mint", err)
	}

	if err := e.liability.Issue(ctx, user, amount); err != nil {
		e.undoAddMinted(user, amount)
		return e.reject("mint", fmt.Errorf("%w: %v", ErrMintFailed, err))
	}

	e.emit(&event.LiabilityMinted{OpID: uuid.New(), User: user, Amount: amount.Dec()})
	e.commit("mint", start)
	return nil
}

// Burn retires liability: the user's debt record shrinks, the tokens are
// pulled from the user and destroyed.
func (e *Engine) Burn(ctx context.Context, user uuid.UUID, amount *uint256.Int) error {
	if err := e.enter("burn"); err != nil {
		return err
	}
	defer e.exit()
	start := time.Now()

	if err := validAmount(amount); err != nil {
		return e.reject("burn", err)
	}

	if err := e.book.SubMinted(user, amount); err != nil {
		return e.reject("burn", fmt.Errorf("%w: %v", ErrInsufficientLiability, err))
	}

	// Backstop: burning only lowers debt, so this trips on oracle failure,
	// not on the factor itself.
	if err := e.revertIfBroken(ctx, user); err != nil {
		e.book.AddMinted(user, amount)
		return e.reject("burn", err)
	}

	if err := e.liability.Pull(ctx, user, amount); err != nil {
		e.book.AddMinted(user, amount)
		return e.reject("burn", fmt.Errorf("%w: pull leg: %v", ErrTransferFailed, err))
	}

	if err := e.liability.Destroy(ctx, amount); err != nil {
		e.compensate(func() error { return e.liability.Release(ctx, user, amount) })
		e.book.AddMinted(user, amount)
		return e.reject("burn", fmt.Errorf("%w: destroy leg: %v", ErrTransferFailed, err))
	}

	e.emit(&event.LiabilityBurned{
		OpID: uuid.New(), OnBehalfOf: user, Payer: user, Amount: amount.Dec(),
	})
	e.commit("burn", start)
	return nil
}

// DepositAndMint performs a deposit and a mint as one atomic operation.
func (e *Engine) DepositAndMint(ctx context.Context, user uuid.UUID, asset string, depositAmount, mintAmount *uint256.Int) error {
	if err := e.enter("deposit_and_mint"); err != nil {
		return err
	}
	defer e.exit()
	start := time.Now()

	if err := validAmount(depositAmount); err != nil {
		return e.reject("deposit_and_mint", err)
	}
	if err := validAmount(mintAmount); err != nil {
		return e.reject("deposit_and_mint", err)
	}
	if !e.registry.Has(asset) {
		return e.reject("deposit_and_mint", fmt.Errorf("%s: %w", asset, ErrAssetNotRegistered))
	}

	e.book.AddCollateral(user, asset, depositAmount)
	e.book.AddMinted(user, mintAmount)

	undo := func() {
		e.undoAddMinted(user, mintAmount)
		e.undoAddCollateral(user, asset, depositAmount)
	}

	if err := e.revertIfBroken(ctx, user); err != nil {
		undo()
		return e.reject("deposit_and_mint", err)
	}

	if err := e.custody.Transfer(ctx, asset, user, e.vault, depositAmount); err != nil {
		undo()
		return e.reject("deposit_and_mint", fmt.Errorf("%w: custody leg: %v", ErrTransferFailed, err))
	}

	if err := e.liability.Issue(ctx, user, mintAmount); err != nil {
		e.compensate(func() error { return e.custody.Transfer(ctx, asset, e.vault, user, depositAmount) })
		undo()
		return e.reject("deposit_and_mint", fmt.Errorf("%w: %v", ErrMintFailed, err))
	}

	opID := uuid.New()
	e.emit(
		&event.CollateralDeposited{OpID: opID, User: user, Asset: asset, Amount: depositAmount.Dec()},
		&event.LiabilityMinted{OpID: opID, User: user, Amount: mintAmount.Dec()},
	)
	e.commit("deposit_and_mint", start)
	return nil
}

// RedeemForBurn burns liability and redeems collateral in one atomic
// operation, so a user can unwind without the intermediate state tripping
// the health check.
func (e *Engine) RedeemForBurn(ctx context.Context, user uuid.UUID, asset string, collateralAmount, burnAmount *uint256.Int) error {
	if err := e.enter("redeem_for_burn"); err != nil {
		return err
	}
	defer e.exit()
	start := time.Now()

	if err := validAmount(collateralAmount); err != nil {
		return e.reject("redeem_for_burn", err)
	}
	if err := validAmount(burnAmount); err != nil {
		return e.reject("redeem_for_burn", err)
	}

	if err := e.book.SubMinted(user, burnAmount); err != nil {
		return e.reject("redeem_for_burn", fmt.Errorf("%w: %v", ErrInsufficientLiability, err))
	}
	if err := e.book.SubCollateral(user, asset, collateralAmount); err != nil {
		e.book.AddMinted(user, burnAmount)
		return e.reject("redeem_for_burn", fmt.Errorf("%w: %v", ErrInsufficientCollateral, err))
	}

	undo := func() {
		e.book.AddCollateral(user, asset, collateralAmount)
		e.book.AddMinted(user, burnAmount)
	}

	if err := e.revertIfBroken(ctx, user); err != nil {
		undo()
		return e.reject("redeem_for_burn", err)
	}

	if err := e.custody.Transfer(ctx, asset, e.vault, user, collateralAmount); err != nil {
		undo()
		return e.reject("redeem_for_burn", fmt.Errorf("%w: custody leg: %v", ErrTransferFailed, err))
	}

	if err := e.liability.Pull(ctx, user, burnAmount); err != nil {
		e.compensate(func() error { return e.custody.Transfer(ctx, asset, user, e.vault, collateralAmount) })
		undo()
		return e.reject("redeem_for_burn", fmt.Errorf("%w: pull leg: %v", ErrTransferFailed, err))
	}

	if err := e.liability.Destroy(ctx, burnAmount); err != nil {
		e.compensate(func() error { return e.liability.Release(ctx, user, burnAmount) })
		e.compensate(func() error { return e.custody.Transfer(ctx, asset, user, e.vault, collateralAmount) })
		undo()
		return e.reject("redeem_for_burn", fmt.Errorf("%w: destroy leg: %v", ErrTransferFailed, err))
	}

	opID := uuid.New()
	e.emit(
		&event.LiabilityBurned{OpID: opID, OnBehalfOf: user, Payer: user, Amount: burnAmount.Dec()},
		&event.CollateralRedeemed{OpID: opID, From: user, To: user, Asset: asset, Amount: collateralAmount.Dec()},
	)
	e.commit("redeem_for_burn", start)
	return nil
}

// Liquidate lets a third party repay debtUsd of an unhealthy target's
// liability and seize the equivalent collateral plus the bonus. The target's
// health factor must be below the minimum before, and strictly improved
// after; the liquidator's own position must remain healthy.
func (e *Engine) Liquidate(ctx context.Context, liquidator, target uuid.UUID, asset string, debtUsd *uint256.Int) error {
	if err := e.enter("liquidate"); err != nil {
		return err
	}
	defer e.exit()
	start := time.Now()

	if err := validAmount(debtUsd); err != nil {
		return e.reject("liquidate", err)
	}
	if !e.registry.Has(asset) {
		return e.reject("liquidate", fmt.Errorf("%s: %w", asset, ErrAssetNotRegistered))
	}

	startFactor, err := e.healthFactor(ctx, target)
	if err != nil {
		return e.reject("liquidate", err)
	}
	if !startFactor.Lt(e.policy.MinHealthFactor) {
		return e.reject("liquidate", &HealthFactorError{Kind: ErrHealthFactorOk, Factor: startFactor})
	}

	price, err := e.price(ctx, asset)
	if err != nil {
		return e.reject("liquidate", err)
	}
	tokenAmount := fixedpoint.TokenAmountFromUsd(price, debtUsd)
	seize := new(uint256.Int).Add(tokenAmount, fixedpoint.Bonus(tokenAmount, e.policy.LiquidationBonusPct))

	if err := e.book.SubCollateral(target, asset, seize); err != nil {
		return e.reject("liquidate", fmt.Errorf("%w: %v", ErrInsufficientCollateral, err))
	}
	if err := e.book.SubMinted(target, debtUsd); err != nil {
		e.book.AddCollateral(target, asset, seize)
		return e.reject("liquidate", fmt.Errorf("%w: %v", ErrInsufficientLiability, err))
	}

	undo := func() {
		e.book.AddMinted(target, debtUsd)
		e.book.AddCollateral(target, asset, seize)
	}

	endFactor, err := e.healthFactor(ctx, target)
	if err != nil {
		undo()
		return e.reject("liquidate", err)
	}
	if !endFactor.Gt(startFactor) {
		undo()
		return e.reject("liquidate", &HealthFactorError{Kind: ErrHealthFactorNotImproved, Factor: endFactor})
	}

	if err := e.revertIfBroken(ctx, liquidator); err != nil {
		undo()
		return e.reject("liquidate", err)
	}

	if err := e.custody.Transfer(ctx, asset, e.vault, liquidator, seize); err != nil {
		undo()
		return e.reject("liquidate", fmt.Errorf("%w: custody leg: %v", ErrTransferFailed, err))
	}

	if err := e.liability.Pull(ctx, liquidator, debtUsd); err != nil {
		e.compensate(func() error { return e.custody.Transfer(ctx, asset, liquidator, e.vault, seize) })
		undo()
		return e.reject("liquidate", fmt.Errorf("%w: pull leg: %v", ErrTransferFailed, err))
	}

	if err := e.liability.Destroy(ctx, debtUsd); err != nil {
		e.compensate(func() error { return e.liability.Release(ctx, liquidator, debtUsd) })
		e.compensate(func() error { return e.custody.Transfer(ctx, asset, liquidator, e.vault, seize) })
		undo()
		return e.reject("liquidate", fmt.Errorf("%w: destroy leg: %v", ErrTransferFailed, err))
	}

	if e.metrics != nil {
		e.metrics.Liquidations.WithLabelValues(asset).Inc()
		e.metrics.CollateralSeized.WithLabelValues(asset).Add(float64(wholeUnits(seize)))
	}

	e.emit(&event.PositionLiquidated{
		OpID:             uuid.New(),
		Liquidator:       liquidator,
		Target:           target,
		Asset:            asset,
		DebtCovered:      debtUsd.Dec(),
		CollateralSeized: seize.Dec(),
		FactorBefore:     startFactor.Dec(),
		FactorAfter:      endFactor.Dec(),
	})
	e.commit("liquidate", start)
	return nil
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// HealthFactor returns the user's current health factor.
func (e *Engine) HealthFactor(ctx context.Context, user uuid.UUID) (*uint256.Int, error) {
	return e.healthFactor(ctx, user)
}

// AccountInformation returns the user's minted liability and total
// collateral value in USD.
func (e *Engine) AccountInformation(ctx context.Context, user uuid.UUID) (minted, collateralUsd *uint256.Int, err error) {
	collateralUsd, err = e.collateralValueUsd(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return e.book.MintedOf(user), collateralUsd, nil
}

// AccountCollateralValueUsd totals the user's collateral across all
// registered assets at current oracle prices.
func (e *Engine) AccountCollateralValueUsd(ctx context.Context, user uuid.UUID) (*uint256.Int, error) {
	return e.collateralValueUsd(ctx, user)
}

// UsdValue prices an asset amount in USD.
func (e *Engine) UsdValue(ctx context.Context, asset string, amount *uint256.Int) (*uint256.Int, error) {
	price, err := e.price(ctx, asset)
	if err != nil {
		return nil, err
	}
	return fixedpoint.UsdValue(price, amount), nil
}

// TokenAmountFromUsd converts a USD value into asset tokens.
func (e *Engine) TokenAmountFromUsd(ctx context.Context, asset string, usd *uint256.Int) (*uint256.Int, error) {
	price, err := e.price(ctx, asset)
	if err != nil {
		return nil, err
	}
	return fixedpoint.TokenAmountFromUsd(price, usd), nil
}

// CollateralBalanceOf returns the user's deposited amount of one asset.
func (e *Engine) CollateralBalanceOf(user uuid.UUID, asset string) *uint256.Int {
	return e.book.CollateralOf(user, asset)
}

// MintedOf returns the user's recorded liability.
func (e *Engine) MintedOf(user uuid.UUID) *uint256.Int {
	return e.book.MintedOf(user)
}

// RegisteredAssets returns the approved collateral symbols.
func (e *Engine) RegisteredAssets() []string {
	return e.registry.Symbols()
}

// PriceFeedOf returns the oracle feed for an asset.
func (e *Engine) PriceFeedOf(asset string) (string, error) {
	feed, ok := e.registry.FeedOf(asset)
	if !ok {
		return "", fmt.Errorf("%s: %w", asset, ErrAssetNotRegistered)
	}
	return feed, nil
}

// Policy returns the active risk parameters.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Sequence returns the last assigned event sequence.
func (e *Engine) Sequence() int64 {
	return e.sequence
}

// Snapshot exports the book for persistence.
func (e *Engine) Snapshot() (collateral, minted map[string]string) {
	return e.book.Snapshot()
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

func (e *Engine) healthFactor(ctx context.Context, user uuid.UUID) (*uint256.Int, error) {
	collateralUsd, err := e.collateralValueUsd(ctx, user)
	if err != nil {
		return nil, err
	}
	return fixedpoint.HealthFactor(
		collateralUsd, e.book.MintedOf(user),
		e.policy.LiquidationThreshold, e.policy.LiquidationPrecision,
	), nil
}

func (e *Engine) collateralValueUsd(ctx context.Context, user uuid.UUID) (*uint256.Int, error) {
	total := new(uint256.Int)
	for _, asset := range e.registry.Symbols() {
		amount := e.book.CollateralOf(user, asset)
		if amount.IsZero() {
			continue
		}
		price, err := e.price(ctx, asset)
		if err != nil {
			return nil, err
		}
		total.Add(total, fixedpoint.UsdValue(price, amount))
	}
	return total, nil
}

// price resolves an asset's current oracle price, failing closed on
// stale or missing samples.
func (e *Engine) price(ctx context.Context, asset string) (int64, error) {
	feed, ok := e.registry.FeedOf(asset)
	if !ok {
		return 0, fmt.Errorf("%s: %w", asset, ErrAssetNotRegistered)
	}
	sample, err := e.prices.LatestPrice(ctx, feed)
	if err != nil {
		if errors.Is(err, oracle.ErrStalePrice) && e.metrics != nil {
			e.metrics.StalePrices.WithLabelValues(feed).Inc()
		}
		return 0, fmt.Errorf("price %s: %w", asset, err)
	}
	return sample.Price, nil
}

// revertIfBroken returns a HealthFactorError if the user's factor is below
// the policy minimum.
func (e *Engine) revertIfBroken(ctx context.Context, user uuid.UUID) error {
	factor, err := e.healthFactor(ctx, user)
	if err != nil {
		return err
	}
	if factor.Lt(e.policy.MinHealthFactor) {
		if e.metrics != nil {
			e.metrics.HealthChecksFailed.Inc()
		}
		return &HealthFactorError{Kind: ErrHealthFactorBroken, Factor: factor}
	}
	return nil
}

func (e *Engine) enter(op string) error {
	if e.entered {
		err := fmt.Errorf("%s: %w", op, ErrReentrantCall)
		if e.metrics != nil {
			e.metrics.OpsRejected.WithLabelValues(op, "reentrancy").Inc()
		}
		e.log.Error().Str("op", op).Msg("reentrant call rejected")
		return err
	}
	e.entered = true
	return nil
}

func (e *Engine) exit() {
	e.entered = false
}

func (e *Engine) emit(events ...event.Event) {
	now := e.now()
	for _, ev := range events {
		e.sequence++
		env := event.Envelope{
			Sequence:       e.sequence,
			EventType:      ev.EventType(),
			IdempotencyKey: ev.IdempotencyKey(),
			Timestamp:      now,
			Payload:        ev,
		}
		if e.sink != nil {
			e.sink.Publish(env)
		}
	}
	if e.metrics != nil {
		e.metrics.EngineSequence.Set(float64(e.sequence))
	}
}

func (e *Engine) commit(op string, start time.Time) {
	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(op).Inc()
		e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	e.log.Debug().Str("op", op).Int64("sequence", e.sequence).Msg("operation applied")
}

func (e *Engine) reject(op string, err error) error {
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(op, rejectReason(err)).Inc()
	}
	e.log.Warn().Str("op", op).Err(err).Msg("operation rejected")
	return err
}

// compensate runs a reversal for an already-applied collaborator leg. A
// failed compensation means custody and the book disagree and needs an
// operator; it is logged at error level, not swallowed.
func (e *Engine) compensate(fn func() error) {
	if err := fn(); err != nil {
		e.log.Error().Err(err).Msg("compensating transfer failed; collaborator state diverged")
	}
}

func (e *Engine) undoAddCollateral(user uuid.UUID, asset string, amount *uint256.Int) {
	if err := e.book.SubCollateral(user, asset, amount); err != nil {
		e.log.Error().Err(err).Msg("collateral rollback failed")
	}
}

func (e *Engine) undoAddMinted(user uuid.UUID, amount *uint256.Int) {
	if err := e.book.SubMinted(user, amount); err != nil {
		e.log.Error().Err(err).Msg("minted rollback failed")
	}
}

func validAmount(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	return nil
}

var oneUnit = uint256.NewInt(1_000_000_000_000_000_000)

func wholeUnits(amount *uint256.Int) uint64 {
	return new(uint256.Int).Div(amount, oneUnit).Uint64()
}
