package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

const (
	TypeFixedSpreadLiquidate = "liquidation.fixed_spread"
	TypePriceUpdated         = "oracle.price_updated"
)

// FixedSpreadLiquidated records one completed fixed-spread liquidation. The
// ID makes each liquidation idempotently identifiable for downstream
// settlement pipelines.
type FixedSpreadLiquidated struct {
	ID                  uuid.UUID
	PoolID              string
	PositionAddress     common.Address
	Liquidator          common.Address
	CollateralRecipient common.Address
	DebtValueRepaid     *big.Int // [rad]
	DebtShareRepaid     *big.Int // [wad]
	CollateralSeized    *big.Int // [wad] total removed from the position
	CollateralPaidOut   *big.Int // [wad] routed to the recipient
	TreasuryFee         *big.Int // [wad] routed to the system debt engine
	FlashLending        bool
}

func (FixedSpreadLiquidated) EventType() string { return TypeFixedSpreadLiquidate }

// PriceUpdated records a safety-margin price publication into the ledger.
type PriceUpdated struct {
	Caller                common.Address
	PoolID                string
	RawPrice              *big.Int // [wad]
	PriceWithSafetyMargin *big.Int // [ray]
}

func (PriceUpdated) EventType() string { return TypePriceUpdated }
