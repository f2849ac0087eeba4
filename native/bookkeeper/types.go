package bookkeeper

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CollateralPool captures the per-pool accounting parameters. Amount values
// carry their fixed-point scale in the field comment; the zero value of
// DebtAccumulatedRate doubles as the "not initialised" marker.
type CollateralPool struct {
	// TotalDebtShare is the sum of debt shares across every position in the
	// pool.
	TotalDebtShare *big.Int `json:"totalDebtShare"` // [wad]
	// DebtAccumulatedRate is the monotonic stability fee multiplier. Actual
	// owed value is always debtShare * debtAccumulatedRate, recomputed on
	// read and never stored.
	DebtAccumulatedRate *big.Int `json:"debtAccumulatedRate"` // [ray]
	// PriceWithSafetyMargin is the collateral price after the liquidation
	// ratio haircut, published by the price oracle.
	PriceWithSafetyMargin *big.Int `json:"priceWithSafetyMargin"` // [ray]
	// DebtCeiling bounds the pool's total issued debt value.
	DebtCeiling *big.Int `json:"debtCeiling"` // [rad]
	// DebtFloor is the minimum debt value a non-empty position may hold,
	// preventing uneconomical dust positions.
	DebtFloor *big.Int `json:"debtFloor"` // [rad]
	// CloseFactorBps caps the debt share fraction liquidatable per call.
	CloseFactorBps uint64 `json:"closeFactorBps"`
	// LiquidatorIncentiveBps is the full seizure multiplier: 10000 means no
	// bonus, 10250 means a 2.5% bonus.
	LiquidatorIncentiveBps uint64 `json:"liquidatorIncentiveBps"`
	// TreasuryFeesBps is the cut of seized collateral routed to the system
	// debt engine as protocol surplus.
	TreasuryFeesBps uint64 `json:"treasuryFeesBps"`
	// Adapter routes collateral side effects for this pool.
	Adapter common.Address `json:"adapter"`
}

func newCollateralPool() *CollateralPool {
	return &CollateralPool{
		TotalDebtShare:        new(big.Int),
		DebtAccumulatedRate:   new(big.Int),
		PriceWithSafetyMargin: new(big.Int),
		DebtCeiling:           new(big.Int),
		DebtFloor:             new(big.Int),
	}
}

func (p *CollateralPool) clone() *CollateralPool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.TotalDebtShare = new(big.Int).Set(p.TotalDebtShare)
	clone.DebtAccumulatedRate = new(big.Int).Set(p.DebtAccumulatedRate)
	clone.PriceWithSafetyMargin = new(big.Int).Set(p.PriceWithSafetyMargin)
	clone.DebtCeiling = new(big.Int).Set(p.DebtCeiling)
	clone.DebtFloor = new(big.Int).Set(p.DebtFloor)
	return &clone
}

// Position is one collateralized debt position, keyed by (pool, address).
// Positions are created implicitly on first non-zero adjustment and settle
// back to the zero state on full repayment or liquidation.
type Position struct {
	LockedCollateral *big.Int `json:"lockedCollateral"` // [wad]
	DebtShare        *big.Int `json:"debtShare"`        // [wad]
}

func newPosition() *Position {
	return &Position{LockedCollateral: new(big.Int), DebtShare: new(big.Int)}
}

func (p *Position) clone() *Position {
	if p == nil {
		return newPosition()
	}
	return &Position{
		LockedCollateral: new(big.Int).Set(p.LockedCollateral),
		DebtShare:        new(big.Int).Set(p.DebtShare),
	}
}

// Snapshot is a deep copy of the entire ledger state, used by the storage
// layer and by restart recovery. All nested values are owned by the snapshot.
type Snapshot struct {
	Live                    bool                                       `json:"live"`
	TotalDebtCeiling        *big.Int                                   `json:"totalDebtCeiling"`        // [rad]
	TotalStablecoinIssued   *big.Int                                   `json:"totalStablecoinIssued"`   // [rad]
	TotalUnbackedStablecoin *big.Int                                   `json:"totalUnbackedStablecoin"` // [rad]
	Pools                   map[string]*CollateralPool                 `json:"pools"`
	Positions               map[string]map[common.Address]*Position    `json:"positions"`
	CollateralToken         map[string]map[common.Address]*big.Int     `json:"collateralToken"` // [wad]
	Stablecoin              map[common.Address]*big.Int                `json:"stablecoin"`      // [rad]
	SystemBadDebt           map[common.Address]*big.Int                `json:"systemBadDebt"`   // [rad]
	Whitelist               map[common.Address]map[common.Address]bool `json:"whitelist"`
}
