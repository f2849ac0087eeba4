// Package bookkeeper implements the central ledger of the stablecoin core:
// per-pool parameters, per-position balances, free collateral and stablecoin
// balances, system bad debt, and the authorization whitelist. Every other
// component mutates state exclusively through the primitive operations
// exposed here.
//
// All mutating operations execute under a single mutex, giving the strict
// sequential, all-or-nothing semantics the accounting design requires: each
// call validates against staged copies first and commits only when every
// invariant holds.
package bookkeeper

import (
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/leyr1112/alpaca-stablecoin/core/events"
	"github.com/leyr1112/alpaca-stablecoin/native/access"
	"github.com/leyr1112/alpaca-stablecoin/native/fixedpoint"
)

// Basis-point bounds for pool liquidation parameters. The liquidator
// incentive is stored as the full seizure multiplier, so 10000 means no bonus
// and the bonus portion is capped at 2500 bps.
const (
	MaxCloseFactorBps         = 10_000
	MinLiquidatorIncentiveBps = 10_000
	MaxLiquidatorIncentiveBps = 12_500
	MaxTreasuryFeesBps        = 2_500
)

// BookKeeper is the single source of truth for the stablecoin accounting
// state.
type BookKeeper struct {
	mu      sync.Mutex
	acl     *access.Registry
	emitter events.Emitter
	logger  *slog.Logger

	live                    bool
	totalDebtCeiling        *big.Int // [rad]
	totalStablecoinIssued   *big.Int // [rad]
	totalUnbackedStablecoin *big.Int // [rad]

	pools           map[string]*CollateralPool
	positions       map[string]map[common.Address]*Position
	collateralToken map[string]map[common.Address]*big.Int // [wad]
	stablecoin      map[common.Address]*big.Int            // [rad]
	systemBadDebt   map[common.Address]*big.Int            // [rad]
	whitelist       map[common.Address]map[common.Address]bool
}

// NewBookKeeper constructs a live, empty ledger gated by the given capability
// registry.
func NewBookKeeper(acl *access.Registry) *BookKeeper {
	return &BookKeeper{
		acl:                     acl,
		emitter:                 events.NoopEmitter{},
		logger:                  slog.Default(),
		live:                    true,
		totalDebtCeiling:        new(big.Int),
		totalStablecoinIssued:   new(big.Int),
		totalUnbackedStablecoin: new(big.Int),
		pools:                   make(map[string]*CollateralPool),
		positions:               make(map[string]map[common.Address]*Position),
		collateralToken:         make(map[string]map[common.Address]*big.Int),
		stablecoin:              make(map[common.Address]*big.Int),
		systemBadDebt:           make(map[common.Address]*big.Int),
		whitelist:               make(map[common.Address]map[common.Address]bool),
	}
}

// SetEmitter wires an event sink. A nil emitter restores the noop sink.
func (b *BookKeeper) SetEmitter(emitter events.Emitter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	b.emitter = emitter
}

// SetLogger wires a structured logger.
func (b *BookKeeper) SetLogger(logger *slog.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	b.logger = logger
}

func setOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// ---------------------------------------------------------------------------
// Pool administration

// Init creates a collateral pool exactly once, starting its accumulated rate
// at 1.0 ray.
func (b *BookKeeper) Init(caller common.Address, poolID string) error {
	if err := b.acl.Require(access.RoleOwner, caller); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if pool, ok := b.pools[poolID]; ok && pool.DebtAccumulatedRate.Sign() != 0 {
		return ErrPoolAlreadyInitialized
	}
	pool := newCollateralPool()
	pool.DebtAccumulatedRate.Set(fixedpoint.Ray)
	b.pools[poolID] = pool
	b.emitter.Emit(events.PoolInitialized{Caller: caller, PoolID: poolID})
	b.logger.Debug("collateral pool initialised", "pool", poolID)
	return nil
}

// SetTotalDebtCeiling bounds global stablecoin issuance.
func (b *BookKeeper) SetTotalDebtCeiling(caller common.Address, rad *big.Int) error {
	if err := b.acl.Require(access.RoleOwner, caller); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.live {
		return ErrNotLive
	}
	b.totalDebtCeiling = setOrZero(rad)
	b.emitter.Emit(events.PoolParamUpdated{Caller: caller, Param: "totalDebtCeiling", Value: setOrZero(rad)})
	return nil
}

// SetDebtCeiling bounds a pool's issued debt value.
func (b *BookKeeper) SetDebtCeiling(caller common.Address, poolID string, rad *big.Int) error {
	if err := b.acl.Require(access.RoleOwner, caller); err != nil {
		return err
	}
	return b.setPoolParam(caller, poolID, "debtCeiling", rad, func(pool *CollateralPool, v *big.Int) {
		pool.DebtCeiling = v
	})
}

// SetDebtFloor sets the minimum viable debt value for positions in a pool.
func (b *BookKeeper) SetDebtFloor(caller common.Address, poolID string, rad *big.Int) error {
	if err := b.acl.Require(access.RoleOwner, caller); err != nil {
		return err
	}
	return b.setPoolParam(caller, poolID, "debtFloor", rad, func(pool *CollateralPool, v *big.Int) {
		pool.DebtFloor = v
	})
}

// SetPriceWithSafetyMargin publishes a haircut collateral price. Only the
// price oracle holds this capability.
func (b *BookKeeper) SetPriceWithSafetyMargin(caller common.Address, poolID string, ray *big.Int) error {
	if err := b.acl.Require(access.RolePriceOracle, caller); err != nil {
		return err
	}
	return b.setPoolParam(caller, poolID, "priceWithSafetyMargin", ray, func(pool *CollateralPool, v *big.Int) {
		pool.PriceWithSafetyMargin = v
	})
}

func (b *BookKeeper) setPoolParam(caller common.Address, poolID, name string, value *big.Int, apply func(*CollateralPool, *big.Int)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.live {
		return ErrNotLive
	}
	pool, ok := b.pools[poolID]
	if !ok {
		return ErrPoolNotInitialized
	}
	apply(pool, setOrZero(value))
	b.emitter.Emit(events.PoolParamUpdated{Caller: caller, PoolID: poolID, Param: name, Value: setOrZero(value)})
	return nil
}

// SetCloseFactorBps caps the liquidatable debt fraction per call.
func (b *BookKeeper) SetCloseFactorBps(caller common.Address, poolID string, bps uint64) error {
	if err := b.acl.Require(access.RoleOwner, caller); err != nil {
		return err
	}
	if bps > MaxCloseFactorBps {
		return ErrCloseFactorBps
	}
	return b.setPoolParam(caller, poolID, "closeFactorBps", new(big.Int).SetUint64(bps), func(pool *CollateralPool, _ *big.Int) {
		pool.CloseFactorBps = bps
	})
}

// SetLiquidatorIncentiveBps sets a pool's seizure multiplier.
func (b *BookKeeper) SetLiquidatorIncentiveBps(caller common.Address, poolID string, bps uint64) error {
	if err := b.acl.Require(access.RoleOwner, caller); err != nil {
		return err
	}
	if bps < MinLiquidatorIncentiveBps || bps > MaxLiquidatorIncentiveBps {
		return ErrLiquidatorIncentiveBps
	}
	return b.setPoolParam(caller, poolID, "liquidatorIncentiveBps", new(big.Int).SetUint64(bps), func(pool *CollateralPool, _ *big.Int) {
		pool.LiquidatorIncentiveBps = bps
	})
}

// SetTreasuryFeesBps sets the protocol cut of seized collateral.
func (b *BookKeeper) SetTreasuryFeesBps(caller common.Address, poolID string, bps uint64) error {
	if err := b.acl.Require(access.RoleOwner, caller); err != nil {
		return err
	}
	if bps > MaxTreasuryFeesBps {
		return ErrTreasuryFeesBps
	}
	return b.setPoolParam(caller, poolID, "treasuryFeesBps", new(big.Int).SetUint64(bps), func(pool *CollateralPool, _ *big.Int) {
		pool.TreasuryFeesBps = bps
	})
}

// SetAdapter records the adapter address that routes a pool's collateral side
// effects.
func (b *BookKeeper) SetAdapter(caller common.Address, poolID string, adapter common.Address) error {
	if err := b.acl.Require(access.RoleOwner, caller); err != nil {
		return err
	}
	return b.setPoolParam(caller, poolID, "adapter", nil, func(pool *CollateralPool, _ *big.Int) {
		pool.Adapter = adapter
	})
}

// Cage halts the ledger's mutating surface.
func (b *BookKeeper) Cage(caller common.Address) error {
	if err := b.acl.RequireAny(caller, access.RoleOwner, access.RoleShowStopper); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live = false
	b.emitter.Emit(events.Caged{Caller: caller})
	b.logger.Info("bookkeeper caged", "caller", caller.Hex())
	return nil
}

// Uncage resumes the ledger's mutating surface.
func (b *BookKeeper) Uncage(caller common.Address) error {
	if err := b.acl.RequireAny(caller, access.RoleOwner, access.RoleShowStopper); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live = true
	b.emitter.Emit(events.Uncaged{Caller: caller})
	b.logger.Info("bookkeeper uncaged", "caller", caller.Hex())
	return nil
}

// ---------------------------------------------------------------------------
// Authorization whitelist

// Whitelist grants operator the right to act on the caller's balances and
// positions.
func (b *BookKeeper) Whitelist(caller, operator common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	grants, ok := b.whitelist[caller]
	if !ok {
		grants = make(map[common.Address]bool)
		b.whitelist[caller] = grants
	}
	grants[operator] = true
}

// Blacklist revokes a previously granted operator right.
func (b *BookKeeper) Blacklist(caller, operator common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if grants, ok := b.whitelist[caller]; ok {
		delete(grants, operator)
	}
}

// IsAllowed reports whether operator may act on owner's behalf.
func (b *BookKeeper) IsAllowed(owner, operator common.Address) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isAllowed(owner, operator)
}

func (b *BookKeeper) isAllowed(owner, operator common.Address) bool {
	if owner == operator {
		return true
	}
	return b.whitelist[owner][operator]
}

// ---------------------------------------------------------------------------
// Balance primitives

func (b *BookKeeper) collateralBalance(poolID string, addr common.Address) *big.Int {
	if balances, ok := b.collateralToken[poolID]; ok {
		if v, ok := balances[addr]; ok {
			return v
		}
	}
	return new(big.Int)
}

func (b *BookKeeper) setCollateralBalance(poolID string, addr common.Address, v *big.Int) {
	balances, ok := b.collateralToken[poolID]
	if !ok {
		balances = make(map[common.Address]*big.Int)
		b.collateralToken[poolID] = balances
	}
	balances[addr] = v
}

func (b *BookKeeper) stablecoinBalance(addr common.Address) *big.Int {
	if v, ok := b.stablecoin[addr]; ok {
		return v
	}
	return new(big.Int)
}

func (b *BookKeeper) badDebtBalance(addr common.Address) *big.Int {
	if v, ok := b.systemBadDebt[addr]; ok {
		return v
	}
	return new(big.Int)
}

func (b *BookKeeper) position(poolID string, addr common.Address) *Position {
	if byAddr, ok := b.positions[poolID]; ok {
		if pos, ok := byAddr[addr]; ok {
			return pos
		}
	}
	return nil
}

func (b *BookKeeper) setPosition(poolID string, addr common.Address, pos *Position) {
	byAddr, ok := b.positions[poolID]
	if !ok {
		byAddr = make(map[common.Address]*Position)
		b.positions[poolID] = byAddr
	}
	byAddr[addr] = pos
}

// AddCollateral adjusts an address's free collateral balance by a signed Wad
// amount. Only pool adapters hold this capability.
func (b *BookKeeper) AddCollateral(caller common.Address, poolID string, who common.Address, wadDelta *big.Int) error {
	if err := b.acl.Require(access.RoleAdapter, caller); err != nil {
		return err
	}
	delta := setOrZero(wadDelta)
	b.mu.Lock()
	defer b.mu.Unlock()
	next := new(big.Int).Add(b.collateralBalance(poolID, who), delta)
	if next.Sign() < 0 {
		return ErrInsufficientCollateral
	}
	b.setCollateralBalance(poolID, who, next)
	b.emitter.Emit(events.CollateralAdjusted{Caller: caller, PoolID: poolID, Who: who, Delta: delta})
	return nil
}

// MoveCollateral transfers free collateral between addresses. The source must
// be the caller or have whitelisted the caller.
func (b *BookKeeper) MoveCollateral(caller common.Address, poolID string, src, dst common.Address, wad *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.moveCollateralLocked(caller, poolID, src, dst, wad)
}

func (b *BookKeeper) moveCollateralLocked(caller common.Address, poolID string, src, dst common.Address, wad *big.Int) error {
	amount := setOrZero(wad)
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if !b.isAllowed(src, caller) {
		return ErrNotAllowed
	}
	srcNext := new(big.Int).Sub(b.collateralBalance(poolID, src), amount)
	if srcNext.Sign() < 0 {
		return ErrInsufficientCollateral
	}
	b.setCollateralBalance(poolID, src, srcNext)
	b.setCollateralBalance(poolID, dst, new(big.Int).Add(b.collateralBalance(poolID, dst), amount))
	b.emitter.Emit(events.CollateralMoved{Caller: caller, PoolID: poolID, Src: src, Dst: dst, Amount: amount})
	return nil
}

// MoveStablecoin transfers stablecoin value between addresses under the same
// authorization rule as MoveCollateral.
func (b *BookKeeper) MoveStablecoin(caller, src, dst common.Address, rad *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.moveStablecoinLocked(caller, src, dst, rad)
}

func (b *BookKeeper) moveStablecoinLocked(caller, src, dst common.Address, rad *big.Int) error {
	amount := setOrZero(rad)
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if !b.isAllowed(src, caller) {
		return ErrNotAllowed
	}
	srcNext := new(big.Int).Sub(b.stablecoinBalance(src), amount)
	if srcNext.Sign() < 0 {
		return ErrInsufficientStablecoin
	}
	b.stablecoin[src] = srcNext
	b.stablecoin[dst] = new(big.Int).Add(b.stablecoinBalance(dst), amount)
	b.emitter.Emit(events.StablecoinMoved{Caller: caller, Src: src, Dst: dst, Amount: amount})
	return nil
}

// ---------------------------------------------------------------------------
// Position state transitions

// AdjustPosition is the central lock/free/draw/wipe transition. Deltas are
// signed: positive collateralDelta locks free collateral into the position,
// positive debtShareDelta draws new debt and credits stablecoinOwner with the
// debt value.
func (b *BookKeeper) AdjustPosition(caller common.Address, poolID string, positionAddr, collateralOwner, stablecoinOwner common.Address, collateralDelta, debtShareDelta *big.Int) error {
	collateralDelta = setOrZero(collateralDelta)
	debtShareDelta = setOrZero(debtShareDelta)

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.live {
		return ErrNotLive
	}
	pool, ok := b.pools[poolID]
	if !ok || pool.DebtAccumulatedRate.Sign() == 0 {
		return ErrPoolNotInitialized
	}

	pos := b.position(poolID, positionAddr).clone()
	newLocked := new(big.Int).Add(pos.LockedCollateral, collateralDelta)
	if newLocked.Sign() < 0 {
		return ErrInsufficientCollateral
	}
	newShare := new(big.Int).Add(pos.DebtShare, debtShareDelta)
	if newShare.Sign() < 0 {
		return ErrInsufficientDebtShare
	}
	newTotalShare := new(big.Int).Add(pool.TotalDebtShare, debtShareDelta)

	debtValue := fixedpoint.Mul(newShare, pool.DebtAccumulatedRate)            // [rad]
	deltaDebtValue := fixedpoint.Mul(debtShareDelta, pool.DebtAccumulatedRate) // [rad]
	newTotalIssued := new(big.Int).Add(b.totalStablecoinIssued, deltaDebtValue)

	// Ceilings bind only when debt increases.
	if debtShareDelta.Sign() > 0 {
		poolDebtValue := fixedpoint.Mul(newTotalShare, pool.DebtAccumulatedRate)
		if poolDebtValue.Cmp(pool.DebtCeiling) > 0 || newTotalIssued.Cmp(b.totalDebtCeiling) > 0 {
			return ErrCeilingExceeded
		}
	}

	riskier := debtShareDelta.Sign() > 0 || collateralDelta.Sign() < 0
	if riskier {
		collateralValue := fixedpoint.Mul(newLocked, pool.PriceWithSafetyMargin) // [rad]
		if debtValue.Cmp(collateralValue) > 0 {
			return ErrNotSafe
		}
		if !b.isAllowed(positionAddr, caller) {
			return ErrNotAllowedPositionAddress
		}
	}
	if collateralDelta.Sign() > 0 && !b.isAllowed(collateralOwner, caller) {
		return ErrNotAllowedCollateralOwner
	}
	if debtShareDelta.Sign() < 0 && !b.isAllowed(stablecoinOwner, caller) {
		return ErrNotAllowedStablecoinOwner
	}

	// Position either carries no debt or a non-dusty amount.
	if newShare.Sign() > 0 && debtValue.Cmp(pool.DebtFloor) < 0 {
		return ErrDebtFloor
	}

	newFreeCollateral := new(big.Int).Sub(b.collateralBalance(poolID, collateralOwner), collateralDelta)
	if newFreeCollateral.Sign() < 0 {
		return ErrInsufficientCollateral
	}
	newStablecoin := new(big.Int).Add(b.stablecoinBalance(stablecoinOwner), deltaDebtValue)
	if newStablecoin.Sign() < 0 {
		return ErrInsufficientStablecoin
	}

	pos.LockedCollateral = newLocked
	pos.DebtShare = newShare
	b.setPosition(poolID, positionAddr, pos)
	pool.TotalDebtShare = newTotalShare
	b.totalStablecoinIssued = newTotalIssued
	b.setCollateralBalance(poolID, collateralOwner, newFreeCollateral)
	b.stablecoin[stablecoinOwner] = newStablecoin

	b.emitter.Emit(events.PositionAdjusted{
		Caller:              caller,
		PoolID:              poolID,
		PositionAddress:     positionAddr,
		CollateralOwner:     collateralOwner,
		StablecoinOwner:     stablecoinOwner,
		CollateralDelta:     collateralDelta,
		DebtShareDelta:      debtShareDelta,
		LockedCollateral:    new(big.Int).Set(newLocked),
		DebtShare:           new(big.Int).Set(newShare),
		PoolTotalDebtShare:  new(big.Int).Set(newTotalShare),
		StablecoinDelta:     deltaDebtValue,
		TotalStablecoinRads: new(big.Int).Set(newTotalIssued),
	})
	b.logger.Debug("position adjusted",
		"pool", poolID,
		"position", positionAddr.Hex(),
		"collateralDelta", collateralDelta.String(),
		"debtShareDelta", debtShareDelta.String(),
	)
	return nil
}

// MovePosition atomically transfers both legs between two positions of the
// same pool. Both resulting positions must independently satisfy the safety
// and debt floor invariants.
func (b *BookKeeper) MovePosition(caller common.Address, poolID string, src, dst common.Address, collateralWad, debtShareWad *big.Int) error {
	collateralWad = setOrZero(collateralWad)
	debtShareWad = setOrZero(debtShareWad)

	b.mu.Lock()
	defer b.mu.Unlock()
	pool, ok := b.pools[poolID]
	if !ok || pool.DebtAccumulatedRate.Sign() == 0 {
		return ErrPoolNotInitialized
	}
	if !b.isAllowed(src, caller) || !b.isAllowed(dst, caller) {
		return ErrNotAllowed
	}

	srcPos := b.position(poolID, src).clone()
	dstPos := b.position(poolID, dst).clone()
	srcPos.LockedCollateral.Sub(srcPos.LockedCollateral, collateralWad)
	srcPos.DebtShare.Sub(srcPos.DebtShare, debtShareWad)
	dstPos.LockedCollateral.Add(dstPos.LockedCollateral, collateralWad)
	dstPos.DebtShare.Add(dstPos.DebtShare, debtShareWad)
	if srcPos.LockedCollateral.Sign() < 0 || dstPos.LockedCollateral.Sign() < 0 {
		return ErrInsufficientCollateral
	}
	if srcPos.DebtShare.Sign() < 0 || dstPos.DebtShare.Sign() < 0 {
		return ErrInsufficientDebtShare
	}

	srcDebtValue := fixedpoint.Mul(srcPos.DebtShare, pool.DebtAccumulatedRate)
	dstDebtValue := fixedpoint.Mul(dstPos.DebtShare, pool.DebtAccumulatedRate)
	if srcDebtValue.Cmp(fixedpoint.Mul(srcPos.LockedCollateral, pool.PriceWithSafetyMargin)) > 0 {
		return ErrNotSafeSrc
	}
	if dstDebtValue.Cmp(fixedpoint.Mul(dstPos.LockedCollateral, pool.PriceWithSafetyMargin)) > 0 {
		return ErrNotSafeDst
	}
	if srcPos.DebtShare.Sign() > 0 && srcDebtValue.Cmp(pool.DebtFloor) < 0 {
		return ErrDebtFloorSrc
	}
	if dstPos.DebtShare.Sign() > 0 && dstDebtValue.Cmp(pool.DebtFloor) < 0 {
		return ErrDebtFloorDst
	}

	b.setPosition(poolID, src, srcPos)
	b.setPosition(poolID, dst, dstPos)
	b.emitter.Emit(events.PositionMoved{
		Caller:          caller,
		PoolID:          poolID,
		Src:             src,
		Dst:             dst,
		CollateralDelta: collateralWad,
		DebtShareDelta:  debtShareWad,
	})
	return nil
}

// ConfiscatePosition applies signed deltas to a position without the normal
// safety and ceiling checks; the position is by definition already unsafe.
// Seized collateral is credited to collateralCreditor's free balance and the
// removed debt value becomes system bad debt on stablecoinDebtor.
func (b *BookKeeper) ConfiscatePosition(caller common.Address, poolID string, positionAddr, collateralCreditor, stablecoinDebtor common.Address, collateralDelta, debtShareDelta *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.confiscatePositionLocked(caller, poolID, positionAddr, collateralCreditor, stablecoinDebtor, collateralDelta, debtShareDelta)
}

func (b *BookKeeper) confiscatePositionLocked(caller common.Address, poolID string, positionAddr, collateralCreditor, stablecoinDebtor common.Address, collateralDelta, debtShareDelta *big.Int) error {
	if err := b.acl.Require(access.RoleLiquidationEngine, caller); err != nil {
		return err
	}
	collateralDelta = setOrZero(collateralDelta)
	debtShareDelta = setOrZero(debtShareDelta)

	pool, ok := b.pools[poolID]
	if !ok || pool.DebtAccumulatedRate.Sign() == 0 {
		return ErrPoolNotInitialized
	}

	pos := b.position(poolID, positionAddr).clone()
	pos.LockedCollateral.Add(pos.LockedCollateral, collateralDelta)
	pos.DebtShare.Add(pos.DebtShare, debtShareDelta)
	if pos.LockedCollateral.Sign() < 0 {
		return ErrInsufficientCollateral
	}
	if pos.DebtShare.Sign() < 0 {
		return ErrInsufficientDebtShare
	}
	newTotalShare := new(big.Int).Add(pool.TotalDebtShare, debtShareDelta)

	deltaDebtValue := fixedpoint.Mul(debtShareDelta, pool.DebtAccumulatedRate) // [rad], negative on seizure
	badDebtDelta := new(big.Int).Neg(deltaDebtValue)

	newCreditorBalance := new(big.Int).Sub(b.collateralBalance(poolID, collateralCreditor), collateralDelta)
	if newCreditorBalance.Sign() < 0 {
		return ErrInsufficientCollateral
	}
	newBadDebt := new(big.Int).Add(b.badDebtBalance(stablecoinDebtor), badDebtDelta)
	if newBadDebt.Sign() < 0 {
		return ErrInsufficientBadDebt
	}
	newTotalUnbacked := new(big.Int).Add(b.totalUnbackedStablecoin, badDebtDelta)
	if newTotalUnbacked.Sign() < 0 {
		return ErrInsufficientBadDebt
	}

	b.setPosition(poolID, positionAddr, pos)
	pool.TotalDebtShare = newTotalShare
	b.setCollateralBalance(poolID, collateralCreditor, newCreditorBalance)
	b.systemBadDebt[stablecoinDebtor] = newBadDebt
	b.totalUnbackedStablecoin = newTotalUnbacked

	b.emitter.Emit(events.PositionConfiscated{
		Caller:             caller,
		PoolID:             poolID,
		PositionAddress:    positionAddr,
		CollateralCreditor: collateralCreditor,
		StablecoinDebtor:   stablecoinDebtor,
		CollateralDelta:    collateralDelta,
		DebtShareDelta:     debtShareDelta,
		BadDebtDelta:       badDebtDelta,
	})
	b.logger.Debug("position confiscated",
		"pool", poolID,
		"position", positionAddr.Hex(),
		"collateralDelta", collateralDelta.String(),
		"debtShareDelta", debtShareDelta.String(),
	)
	return nil
}

// ---------------------------------------------------------------------------
// System debt

// MintUnbackedStablecoin creates stablecoin against system bad debt.
func (b *BookKeeper) MintUnbackedStablecoin(caller, debtor, recipient common.Address, rad *big.Int) error {
	if err := b.acl.Require(access.RoleMintable, caller); err != nil {
		return err
	}
	amount := setOrZero(rad)
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.systemBadDebt[debtor] = new(big.Int).Add(b.badDebtBalance(debtor), amount)
	b.stablecoin[recipient] = new(big.Int).Add(b.stablecoinBalance(recipient), amount)
	b.totalUnbackedStablecoin = new(big.Int).Add(b.totalUnbackedStablecoin, amount)
	b.totalStablecoinIssued = new(big.Int).Add(b.totalStablecoinIssued, amount)
	b.emitter.Emit(events.UnbackedStablecoinMinted{Caller: caller, Debtor: debtor, Recipient: recipient, Amount: amount})
	return nil
}

// SettleSystemBadDebt retires the caller's own bad debt using the caller's
// own stablecoin balance.
func (b *BookKeeper) SettleSystemBadDebt(caller common.Address, rad *big.Int) error {
	amount := setOrZero(rad)
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	newBadDebt := new(big.Int).Sub(b.badDebtBalance(caller), amount)
	if newBadDebt.Sign() < 0 {
		return ErrInsufficientBadDebt
	}
	newStablecoin := new(big.Int).Sub(b.stablecoinBalance(caller), amount)
	if newStablecoin.Sign() < 0 {
		return ErrInsufficientStablecoin
	}
	b.systemBadDebt[caller] = newBadDebt
	b.stablecoin[caller] = newStablecoin
	b.totalUnbackedStablecoin = new(big.Int).Sub(b.totalUnbackedStablecoin, amount)
	b.totalStablecoinIssued = new(big.Int).Sub(b.totalStablecoinIssued, amount)
	b.emitter.Emit(events.BadDebtSettled{Caller: caller, Amount: amount})
	return nil
}

// AccrueStabilityFee bumps a pool's debt accumulated rate and credits the
// receiver with the newly issued fee value.
func (b *BookKeeper) AccrueStabilityFee(caller common.Address, poolID string, receiver common.Address, rateDelta *big.Int) error {
	if err := b.acl.Require(access.RoleStabilityFeeCollector, caller); err != nil {
		return err
	}
	delta := setOrZero(rateDelta)
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.live {
		return ErrNotLive
	}
	pool, ok := b.pools[poolID]
	if !ok || pool.DebtAccumulatedRate.Sign() == 0 {
		return ErrPoolNotInitialized
	}
	newRate := new(big.Int).Add(pool.DebtAccumulatedRate, delta)
	if newRate.Sign() <= 0 {
		return ErrNegativeRate
	}
	feeValue := fixedpoint.Mul(pool.TotalDebtShare, delta) // [rad]
	pool.DebtAccumulatedRate = newRate
	b.stablecoin[receiver] = new(big.Int).Add(b.stablecoinBalance(receiver), feeValue)
	b.totalStablecoinIssued = new(big.Int).Add(b.totalStablecoinIssued, feeValue)
	b.emitter.Emit(events.StabilityFeeAccrued{Caller: caller, PoolID: poolID, Receiver: receiver, RateDelta: delta, FeeValue: feeValue})
	return nil
}

// ---------------------------------------------------------------------------
// Queries

// Live reports whether the mutating surface is enabled.
func (b *BookKeeper) Live() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

// Pool returns a copy of the pool state.
func (b *BookKeeper) Pool(poolID string) (CollateralPool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.poolLocked(poolID)
}

func (b *BookKeeper) poolLocked(poolID string) (CollateralPool, bool) {
	pool, ok := b.pools[poolID]
	if !ok {
		return CollateralPool{}, false
	}
	return *pool.clone(), true
}

// PoolIDs lists the initialised pools.
func (b *BookKeeper) PoolIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.pools))
	for id := range b.pools {
		ids = append(ids, id)
	}
	return ids
}

// GetPosition returns a copy of a position; absent positions read as zero.
func (b *BookKeeper) GetPosition(poolID string, addr common.Address) Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *b.position(poolID, addr).clone()
}

// CollateralToken returns an address's free collateral balance.
func (b *BookKeeper) CollateralToken(poolID string, addr common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.collateralBalance(poolID, addr))
}

// Stablecoin returns an address's stablecoin balance.
func (b *BookKeeper) Stablecoin(addr common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.stablecoinBalance(addr))
}

// SystemBadDebt returns an address's recognised bad debt.
func (b *BookKeeper) SystemBadDebt(addr common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.badDebtBalance(addr))
}

// TotalStablecoinIssued returns the global issued stablecoin value.
func (b *BookKeeper) TotalStablecoinIssued() *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.totalStablecoinIssued)
}

// TotalUnbackedStablecoin returns the global unbacked stablecoin value.
func (b *BookKeeper) TotalUnbackedStablecoin() *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.totalUnbackedStablecoin)
}

// TotalDebtCeiling returns the global issuance bound.
func (b *BookKeeper) TotalDebtCeiling() *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.totalDebtCeiling)
}

// ---------------------------------------------------------------------------
// Snapshot / restore

// Snapshot deep-copies the full ledger state for persistence.
func (b *BookKeeper) Snapshot() *Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *BookKeeper) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		Live:                    b.live,
		TotalDebtCeiling:        new(big.Int).Set(b.totalDebtCeiling),
		TotalStablecoinIssued:   new(big.Int).Set(b.totalStablecoinIssued),
		TotalUnbackedStablecoin: new(big.Int).Set(b.totalUnbackedStablecoin),
		Pools:                   make(map[string]*CollateralPool, len(b.pools)),
		Positions:               make(map[string]map[common.Address]*Position, len(b.positions)),
		CollateralToken:         make(map[string]map[common.Address]*big.Int, len(b.collateralToken)),
		Stablecoin:              make(map[common.Address]*big.Int, len(b.stablecoin)),
		SystemBadDebt:           make(map[common.Address]*big.Int, len(b.systemBadDebt)),
		Whitelist:               make(map[common.Address]map[common.Address]bool, len(b.whitelist)),
	}
	for id, pool := range b.pools {
		snap.Pools[id] = pool.clone()
	}
	for id, byAddr := range b.positions {
		copied := make(map[common.Address]*Position, len(byAddr))
		for addr, pos := range byAddr {
			copied[addr] = pos.clone()
		}
		snap.Positions[id] = copied
	}
	for id, byAddr := range b.collateralToken {
		copied := make(map[common.Address]*big.Int, len(byAddr))
		for addr, v := range byAddr {
			copied[addr] = new(big.Int).Set(v)
		}
		snap.CollateralToken[id] = copied
	}
	for addr, v := range b.stablecoin {
		snap.Stablecoin[addr] = new(big.Int).Set(v)
	}
	for addr, v := range b.systemBadDebt {
		snap.SystemBadDebt[addr] = new(big.Int).Set(v)
	}
	for owner, grants := range b.whitelist {
		copied := make(map[common.Address]bool, len(grants))
		for operator, ok := range grants {
			copied[operator] = ok
		}
		snap.Whitelist[owner] = copied
	}
	return snap
}

// Restore replaces the ledger state with the snapshot's contents.
func (b *BookKeeper) Restore(snap *Snapshot) {
	if snap == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.restoreLocked(snap)
}

func (b *BookKeeper) restoreLocked(snap *Snapshot) {
	b.live = snap.Live
	b.totalDebtCeiling = setOrZero(snap.TotalDebtCeiling)
	b.totalStablecoinIssued = setOrZero(snap.TotalStablecoinIssued)
	b.totalUnbackedStablecoin = setOrZero(snap.TotalUnbackedStablecoin)
	b.pools = make(map[string]*CollateralPool, len(snap.Pools))
	for id, pool := range snap.Pools {
		b.pools[id] = pool.clone()
	}
	b.positions = make(map[string]map[common.Address]*Position, len(snap.Positions))
	for id, byAddr := range snap.Positions {
		copied := make(map[common.Address]*Position, len(byAddr))
		for addr, pos := range byAddr {
			copied[addr] = pos.clone()
		}
		b.positions[id] = copied
	}
	b.collateralToken = make(map[string]map[common.Address]*big.Int, len(snap.CollateralToken))
	for id, byAddr := range snap.CollateralToken {
		copied := make(map[common.Address]*big.Int, len(byAddr))
		for addr, v := range byAddr {
			copied[addr] = setOrZero(v)
		}
		b.collateralToken[id] = copied
	}
	b.stablecoin = make(map[common.Address]*big.Int, len(snap.Stablecoin))
	for addr, v := range snap.Stablecoin {
		b.stablecoin[addr] = setOrZero(v)
	}
	b.systemBadDebt = make(map[common.Address]*big.Int, len(snap.SystemBadDebt))
	for addr, v := range snap.SystemBadDebt {
		b.systemBadDebt[addr] = setOrZero(v)
	}
	b.whitelist = make(map[common.Address]map[common.Address]bool, len(snap.Whitelist))
	for owner, grants := range snap.Whitelist {
		copied := make(map[common.Address]bool, len(grants))
		for operator, ok := range grants {
			copied[operator] = ok
		}
		b.whitelist[owner] = copied
	}
}
