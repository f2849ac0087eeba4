package liquidation

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/leyr1112/alpaca-stablecoin/core/events"
	"github.com/leyr1112/alpaca-stablecoin/native/access"
	"github.com/leyr1112/alpaca-stablecoin/native/bookkeeper"
	"github.com/leyr1112/alpaca-stablecoin/native/fixedpoint"
)

var (
	ErrNotLive        = errors.New("liquidationengine/not-live")
	ErrNotWhitelisted = errors.New("liquidationengine/liquidator-not-whitelisted")
	ErrZeroDebtValue  = errors.New("liquidationengine/zero-debt-value-to-be-liquidated")
	ErrZeroRecipient  = errors.New("liquidationengine/zero-collateral-recipient")
	ErrPositionSafe   = errors.New("liquidationengine/position-is-safe")
	ErrNoStrategy     = errors.New("liquidationengine/no-strategy")
	ErrOverMax        = errors.New("liquidationengine/liquidation-over-max")
	ErrEmptyBatch     = errors.New("liquidationengine/empty-batch")
)

// EngineLedger runs a liquidation as one atomic ledger section: the safety
// check, the strategy's effects, and the rollback on failure all happen while
// no other caller can touch the ledger.
type EngineLedger interface {
	Atomically(fn func(tx *bookkeeper.Tx) error) error
}

// LiquidateParams carries one liquidation request from a whitelisted
// liquidator.
type LiquidateParams struct {
	PoolID              string
	PositionAddress     common.Address
	DebtShareToRepay    *big.Int // [wad]
	MaxDebtShareToRepay *big.Int // [wad] upper bound on what may actually be repaid
	CollateralRecipient common.Address
	Data                []byte
}

// BatchEntry pairs one batch request with its outcome. Entries fail
// independently; a failed entry leaves no trace on the ledger.
type BatchEntry struct {
	Params LiquidateParams
	Result *Result
	Err    error
}

// Engine gates liquidations: only whitelisted liquidators may trigger them,
// only genuinely unsafe positions may be touched, and the pool's strategy
// performs the seizure inside an atomic ledger section.
type Engine struct {
	mu      sync.Mutex
	acl     *access.Registry
	ledger  EngineLedger
	self    common.Address
	emitter events.Emitter
	logger  *slog.Logger

	live        bool
	strategies  map[string]Strategy
	liquidators map[common.Address]bool
}

// NewEngine constructs a live engine operating the given ledger address. The
// address must hold the liquidation-engine capability so strategies accept
// its dispatches.
func NewEngine(acl *access.Registry, ledger EngineLedger, self common.Address) *Engine {
	return &Engine{
		acl:         acl,
		ledger:      ledger,
		self:        self,
		emitter:     events.NoopEmitter{},
		logger:      slog.Default(),
		live:        true,
		strategies:  make(map[string]Strategy),
		liquidators: make(map[common.Address]bool),
	}
}

// SetEmitter wires an event sink. A nil emitter restores the noop sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetLogger wires a structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetStrategy binds a pool to its liquidation strategy.
func (e *Engine) SetStrategy(caller common.Address, poolID string, strategy Strategy) error {
	if err := e.acl.RequireAny(caller, access.RoleOwner, access.RoleGovernance); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[poolID] = strategy
	return nil
}

// AddLiquidator whitelists an address to trigger liquidations.
func (e *Engine) AddLiquidator(caller, liquidator common.Address) error {
	if err := e.acl.RequireAny(caller, access.RoleOwner, access.RoleGovernance); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.liquidators[liquidator] = true
	return nil
}

// RemoveLiquidator revokes a liquidator.
func (e *Engine) RemoveLiquidator(caller, liquidator common.Address) error {
	if err := e.acl.RequireAny(caller, access.RoleOwner, access.RoleGovernance); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.liquidators, liquidator)
	return nil
}

// IsLiquidator reports whether an address may trigger liquidations.
func (e *Engine) IsLiquidator(addr common.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.liquidators[addr]
}

// Cage halts liquidations.
func (e *Engine) Cage(caller common.Address) error {
	if err := e.acl.RequireAny(caller, access.RoleOwner, access.RoleShowStopper); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.live = false
	return nil
}

// Uncage resumes liquidations.
func (e *Engine) Uncage(caller common.Address) error {
	if err := e.acl.RequireAny(caller, access.RoleOwner, access.RoleShowStopper); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.live = true
	return nil
}

// Liquidate repays part of an unsafe position's debt in exchange for
// discounted collateral. The safety check and the strategy run in one atomic
// ledger section, so no other write can slip between them and any failure
// inside the strategy leaves no partial state behind.
func (e *Engine) Liquidate(ctx context.Context, caller common.Address, p LiquidateParams) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live {
		return nil, ErrNotLive
	}
	if !e.liquidators[caller] {
		return nil, ErrNotWhitelisted
	}
	if p.DebtShareToRepay == nil || p.DebtShareToRepay.Sign() <= 0 {
		return nil, ErrZeroDebtValue
	}
	if p.MaxDebtShareToRepay == nil || p.MaxDebtShareToRepay.Sign() <= 0 {
		return nil, ErrZeroDebtValue
	}
	if (p.CollateralRecipient == common.Address{}) {
		return nil, ErrZeroRecipient
	}
	strategy, ok := e.strategies[p.PoolID]
	if !ok {
		return nil, ErrNoStrategy
	}

	var result *Result
	err := e.ledger.Atomically(func(tx *bookkeeper.Tx) error {
		pool, ok := tx.Pool(p.PoolID)
		if !ok {
			return bookkeeper.ErrPoolNotInitialized
		}
		pos := tx.GetPosition(p.PoolID, p.PositionAddress)

		// A position is liquidatable only while its debt value strictly
		// exceeds the haircut collateral value.
		debtValue := fixedpoint.Mul(pos.DebtShare, pool.DebtAccumulatedRate)
		collateralValue := fixedpoint.Mul(pos.LockedCollateral, pool.PriceWithSafetyMargin)
		if debtValue.Cmp(collateralValue) <= 0 {
			return ErrPositionSafe
		}

		r, err := strategy.Execute(ctx, tx, e.self, ExecuteParams{
			PoolID:              p.PoolID,
			PositionAddress:     p.PositionAddress,
			PositionDebtShare:   pos.DebtShare,
			PositionCollateral:  pos.LockedCollateral,
			DebtShareToRepay:    p.DebtShareToRepay,
			Liquidator:          caller,
			CollateralRecipient: p.CollateralRecipient,
			Data:                p.Data,
		})
		if err != nil {
			return err
		}
		if r.DebtShareRepaid.Cmp(p.MaxDebtShareToRepay) > 0 {
			return ErrOverMax
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	evt := events.FixedSpreadLiquidated{
		ID:                  uuid.New(),
		PoolID:              p.PoolID,
		PositionAddress:     p.PositionAddress,
		Liquidator:          caller,
		CollateralRecipient: p.CollateralRecipient,
		DebtValueRepaid:     result.DebtValueRepaid,
		DebtShareRepaid:     result.DebtShareRepaid,
		CollateralSeized:    result.CollateralSeized,
		CollateralPaidOut:   result.CollateralPaidOut,
		TreasuryFee:         result.TreasuryFee,
		FlashLending:        result.FlashLending,
	}
	e.emitter.Emit(evt)
	e.logger.Info("position liquidated",
		"id", evt.ID.String(),
		"pool", p.PoolID,
		"position", p.PositionAddress.Hex(),
		"liquidator", caller.Hex(),
		"debtShareRepaid", result.DebtShareRepaid.String(),
		"collateralSeized", result.CollateralSeized.String(),
	)
	return result, nil
}

// BatchLiquidate runs several liquidations in sequence. Each entry commits or
// rolls back on its own; one bad entry does not poison the rest.
func (e *Engine) BatchLiquidate(ctx context.Context, caller common.Address, params []LiquidateParams) ([]BatchEntry, error) {
	if len(params) == 0 {
		return nil, ErrEmptyBatch
	}
	entries := make([]BatchEntry, len(params))
	for i, p := range params {
		result, err := e.Liquidate(ctx, caller, p)
		entries[i] = BatchEntry{Params: p, Result: result, Err: err}
	}
	return entries, nil
}
