package engine

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	// Input validation — rejected before any state mutation.
	ErrZeroAmount         = errors.New("amount must be positive")
	ErrAssetNotRegistered = errors.New("asset not registered")

	// Insufficient recorded balance — rejected, never truncated or wrapped.
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrInsufficientLiability  = errors.New("burn exceeds minted liability")

	// Collaborator failure — the whole operation rolls back.
	ErrTransferFailed = errors.New("transfer failed")
	ErrMintFailed     = errors.New("liability issuance failed")

	// Risk-policy violations.
	ErrHealthFactorBroken      = errors.New("health factor below minimum")
	ErrHealthFactorOk          = errors.New("health factor not below minimum")
	ErrHealthFactorNotImproved = errors.New("liquidation did not improve health factor")

	// Reentrant invocation from a collaborator callback.
	ErrReentrantCall = errors.New("reentrant call")
)

// HealthFactorError is a risk-policy rejection carrying the offending factor
// for diagnostics. Kind is one of the ErrHealthFactor* sentinels.
type HealthFactorError struct {
	Kind   error
	Factor *uint256.Int
}

func (e *HealthFactorError) Error() string {
	return fmt.Sprintf("%v (factor %s)", e.Kind, e.Factor.Dec())
}

func (e *HealthFactorError) Unwrap() error { return e.Kind }

// rejectReason buckets an operation error for metrics.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrZeroAmount), errors.Is(err, ErrAssetNotRegistered):
		return "validation"
	case errors.Is(err, ErrInsufficientCollateral), errors.Is(err, ErrInsufficientLiability):
		return "balance"
	case errors.Is(err, ErrTransferFailed), errors.Is(err, ErrMintFailed):
		return "collaborator"
	case errors.Is(err, ErrHealthFactorBroken),
		errors.Is(err, ErrHealthFactorOk),
		errors.Is(err, ErrHealthFactorNotImproved):
		return "risk"
	case errors.Is(err, ErrReentrantCall):
		return "reentrancy"
	default:
		return "oracle"
	}
}
