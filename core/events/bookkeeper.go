package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	TypePoolInitialized    = "bookkeeper.pool_initialized"
	TypePoolParamUpdated   = "bookkeeper.pool_param_updated"
	TypeCollateralAdjusted = "bookkeeper.collateral_adjusted"
	TypeCollateralMoved    = "bookkeeper.collateral_moved"
	TypeStablecoinMoved    = "bookkeeper.stablecoin_moved"
	TypePositionAdjusted   = "bookkeeper.position_adjusted"
	TypePositionMoved      = "bookkeeper.position_moved"
	TypePositionConfiscate = "bookkeeper.position_confiscated"
	TypeStablecoinMinted   = "bookkeeper.unbacked_stablecoin_minted"
	TypeBadDebtSettled     = "bookkeeper.bad_debt_settled"
	TypeStabilityFeeAccrue = "bookkeeper.stability_fee_accrued"
	TypeCaged              = "bookkeeper.caged"
	TypeUncaged            = "bookkeeper.uncaged"
)

// PoolInitialized records the one-time creation of a collateral pool.
type PoolInitialized struct {
	Caller common.Address
	PoolID string
}

func (PoolInitialized) EventType() string { return TypePoolInitialized }

// PoolParamUpdated is the auditable record every configuration setter emits.
type PoolParamUpdated struct {
	Caller common.Address
	PoolID string
	Param  string
	Value  *big.Int
}

func (PoolParamUpdated) EventType() string { return TypePoolParamUpdated }

// CollateralAdjusted records an adapter deposit or withdrawal of free
// collateral.
type CollateralAdjusted struct {
	Caller common.Address
	PoolID string
	Who    common.Address
	Delta  *big.Int // [wad]
}

func (CollateralAdjusted) EventType() string { return TypeCollateralAdjusted }

// CollateralMoved records a transfer between free collateral balances.
type CollateralMoved struct {
	Caller common.Address
	PoolID string
	Src    common.Address
	Dst    common.Address
	Amount *big.Int // [wad]
}

func (CollateralMoved) EventType() string { return TypeCollateralMoved }

// StablecoinMoved records a transfer between stablecoin balances.
type StablecoinMoved struct {
	Caller common.Address
	Src    common.Address
	Dst    common.Address
	Amount *big.Int // [rad]
}

func (StablecoinMoved) EventType() string { return TypeStablecoinMoved }

// PositionAdjusted records the central lock/free/draw/wipe state transition.
type PositionAdjusted struct {
	Caller              common.Address
	PoolID              string
	PositionAddress     common.Address
	CollateralOwner     common.Address
	StablecoinOwner     common.Address
	CollateralDelta     *big.Int // [wad]
	DebtShareDelta      *big.Int // [wad]
	LockedCollateral    *big.Int // [wad] resulting
	DebtShare           *big.Int // [wad] resulting
	PoolTotalDebtShare  *big.Int // [wad] resulting
	StablecoinDelta     *big.Int // [rad] applied to StablecoinOwner
	TotalStablecoinRads *big.Int // [rad] resulting global issuance
}

func (PositionAdjusted) EventType() string { return TypePositionAdjusted }

// PositionMoved records an atomic transfer of both legs between positions.
type PositionMoved struct {
	Caller          common.Address
	PoolID          string
	Src             common.Address
	Dst             common.Address
	CollateralDelta *big.Int // [wad]
	DebtShareDelta  *big.Int // [wad]
}

func (PositionMoved) EventType() string { return TypePositionMoved }

// PositionConfiscated records a liquidation-engine seizure.
type PositionConfiscated struct {
	Caller             common.Address
	PoolID             string
	PositionAddress    common.Address
	CollateralCreditor common.Address
	StablecoinDebtor   common.Address
	CollateralDelta    *big.Int // [wad]
	DebtShareDelta     *big.Int // [wad]
	BadDebtDelta       *big.Int // [rad]
}

func (PositionConfiscated) EventType() string { return TypePositionConfiscate }

// UnbackedStablecoinMinted records creation of stablecoin against system debt.
type UnbackedStablecoinMinted struct {
	Caller    common.Address
	Debtor    common.Address
	Recipient common.Address
	Amount    *big.Int // [rad]
}

func (UnbackedStablecoinMinted) EventType() string { return TypeStablecoinMinted }

// BadDebtSettled records retirement of system bad debt from the caller's own
// stablecoin surplus.
type BadDebtSettled struct {
	Caller common.Address
	Amount *big.Int // [rad]
}

func (BadDebtSettled) EventType() string { return TypeBadDebtSettled }

// StabilityFeeAccrued records a debt-accumulated-rate bump and the stablecoin
// credited to the fee receiver.
type StabilityFeeAccrued struct {
	Caller    common.Address
	PoolID    string
	Receiver  common.Address
	RateDelta *big.Int // [ray]
	FeeValue  *big.Int // [rad]
}

func (StabilityFeeAccrued) EventType() string { return TypeStabilityFeeAccrue }

// Caged records a halt of the ledger's mutating surface.
type Caged struct {
	Caller common.Address
}

func (Caged) EventType() string { return TypeCaged }

// Uncaged records resumption of the ledger's mutating surface.
type Uncaged struct {
	Caller common.Address
}

func (Uncaged) EventType() string { return TypeUncaged }
