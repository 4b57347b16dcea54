package event

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminator for event payloads.
type Type int32

const (
	TypeUnknown Type = iota
	TypeCollateralDeposited
	TypeCollateralRedeemed
	TypeLiabilityMinted
	TypeLiabilityBurned
	TypePositionLiquidated
)

func (t Type) String() string {
	switch t {
	case TypeCollateralDeposited:
		return "CollateralDeposited"
	case TypeCollateralRedeemed:
		return "CollateralRedeemed"
	case TypeLiabilityMinted:
		return "LiabilityMinted"
	case TypeLiabilityBurned:
		return "LiabilityBurned"
	case TypePositionLiquidated:
		return "PositionLiquidated"
	default:
		return "Unknown"
	}
}

// Event is implemented by all payloads the engine emits.
type Event interface {
	// IdempotencyKey returns the stable dedup key for the operation.
	IdempotencyKey() string

	// EventType returns the discriminator.
	EventType() Type
}

// Envelope wraps every emitted event with its engine-assigned sequence.
// Events are emitted only for operations that fully succeeded — a rolled
// back operation leaves no trace here.
type Envelope struct {
	Sequence       int64
	EventType      Type
	IdempotencyKey string
	Timestamp      time.Time
	Payload        Event
}

// CollateralDeposited is emitted after a successful deposit.
type CollateralDeposited struct {
	OpID   uuid.UUID `json:"op_id"`
	User   uuid.UUID `json:"user"`
	Asset  string    `json:"asset"`
	Amount string    `json:"amount"` // 18-decimal fixed point, decimal string
}

func (e *CollateralDeposited) IdempotencyKey() string { return e.OpID.String() }
func (e *CollateralDeposited) EventType() Type        { return TypeCollateralDeposited }

// CollateralRedeemed is emitted after a successful redemption or a
// liquidation seizure (where From is the liquidated user and To the
// liquidator).
type CollateralRedeemed struct {
	OpID   uuid.UUID `json:"op_id"`
	From   uuid.UUID `json:"from"`
	To     uuid.UUID `json:"to"`
	Asset  string    `json:"asset"`
	Amount string    `json:"amount"`
}

func (e *CollateralRedeemed) IdempotencyKey() string { return e.OpID.String() }
func (e *CollateralRedeemed) EventType() Type        { return TypeCollateralRedeemed }

// LiabilityMinted is emitted after a successful mint.
type LiabilityMinted struct {
	OpID   uuid.UUID `json:"op_id"`
	User   uuid.UUID `json:"user"`
	Amount string    `json:"amount"`
}

func (e *LiabilityMinted) IdempotencyKey() string { return e.OpID.String() }
func (e *LiabilityMinted) EventType() Type        { return TypeLiabilityMinted }

// LiabilityBurned is emitted after a successful burn.
type LiabilityBurned struct {
	OpID       uuid.UUID `json:"op_id"`
	OnBehalfOf uuid.UUID `json:"on_behalf_of"`
	Payer      uuid.UUID `json:"payer"`
	Amount     string    `json:"amount"`
}

func (e *LiabilityBurned) IdempotencyKey() string { return e.OpID.String() }
func (e *LiabilityBurned) EventType() Type        { return TypeLiabilityBurned }

// PositionLiquidated is emitted after a successful liquidation.
type PositionLiquidated struct {
	OpID             uuid.UUID `json:"op_id"`
	Liquidator       uuid.UUID `json:"liquidator"`
	Target           uuid.UUID `json:"target"`
	Asset            string    `json:"asset"`
	DebtCovered      string    `json:"debt_covered"`
	CollateralSeized string    `json:"collateral_seized"`
	FactorBefore     string    `json:"factor_before"`
	FactorAfter      string    `json:"factor_after"`
}

func (e *PositionLiquidated) IdempotencyKey() string { return e.OpID.String() }
func (e *PositionLiquidated) EventType() Type        { return TypePositionLiquidated }
