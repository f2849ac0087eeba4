// Package liquidation implements the liquidation engine and the fixed-spread
// liquidation strategy. The engine validates that a position is unsafe and
// dispatches to the pool's strategy; the strategy prices the seizure, applies
// the liquidator incentive and treasury fee, and performs the ledger effects.
package liquidation

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/leyr1112/alpaca-stablecoin/native/access"
	"github.com/leyr1112/alpaca-stablecoin/native/bookkeeper"
	"github.com/leyr1112/alpaca-stablecoin/native/fixedpoint"
	"github.com/leyr1112/alpaca-stablecoin/native/oracle"
)

var (
	ErrStrategyNotLive     = errors.New("strategy/not-live")
	ErrZeroDebt            = errors.New("strategy/zero-debt")
	ErrZeroCollateral      = errors.New("strategy/zero-collateral-amount")
	ErrZeroPositionAddress = errors.New("strategy/zero-position-address")
	ErrUnknownPool         = errors.New("strategy/unknown-pool")
	ErrCloseFactorExceeded = errors.New("strategy/close-factor-exceeded")
	ErrInvalidPrice        = errors.New("strategy/invalid-price")
	ErrZeroStartingPrice   = errors.New("strategy/zero-starting-price")
	ErrLiquidateTooMuch    = errors.New("strategy/liquidate-too-much")
)

// ExecuteParams carries one liquidation request into a strategy. The engine
// fills the position fields from the ledger before dispatching.
type ExecuteParams struct {
	PoolID              string
	PositionAddress     common.Address
	PositionDebtShare   *big.Int // [wad]
	PositionCollateral  *big.Int // [wad]
	DebtShareToRepay    *big.Int // [wad]
	Liquidator          common.Address
	CollateralRecipient common.Address
	Data                []byte
}

// Result reports what a strategy actually did, which can differ from the
// request when the debt floor forces a full liquidation or collateral runs
// short.
type Result struct {
	DebtValueRepaid   *big.Int // [rad] stablecoin collected from the liquidator
	DebtShareRepaid   *big.Int // [wad] debt share removed from the position
	CollateralSeized  *big.Int // [wad] total collateral removed
	CollateralPaidOut *big.Int // [wad] routed to the recipient
	TreasuryFee       *big.Int // [wad] routed to the system debt engine
	BadDebtValue      *big.Int // [rad] shortfall left as system bad debt
	FlashLending      bool
}

// Strategy converts an unsafe position into stablecoin repayment. The engine
// dispatches Execute with the ledger handle of the atomic section it runs
// under; all ledger effects must go through that handle.
type Strategy interface {
	Execute(ctx context.Context, ledger StrategyLedger, caller common.Address, p ExecuteParams) (*Result, error)
}

// FlashLendingCallee receives seized collateral before payment is due and
// must ensure the liquidator's stablecoin balance covers the repayment by the
// time it returns. The callee runs inside the liquidation's atomic section
// and must fund the repayment through the ledger handle it is given.
type FlashLendingCallee interface {
	FlashLendingCall(ctx context.Context, ledger StrategyLedger, caller common.Address, debtValueToRepay, collateralAmount *big.Int, data []byte) error
}

// ReferencePricer supplies the stablecoin peg reference on the Ray scale.
type ReferencePricer interface {
	StableCoinReferencePrice() *big.Int
}

// StrategyLedger is the slice of the bookkeeper a strategy operates through.
type StrategyLedger interface {
	Pool(poolID string) (bookkeeper.CollateralPool, bool)
	ConfiscatePosition(caller common.Address, poolID string, positionAddr, collateralCreditor, stablecoinDebtor common.Address, collateralDelta, debtShareDelta *big.Int) error
	MoveCollateral(caller common.Address, poolID string, src, dst common.Address, wad *big.Int) error
	MoveStablecoin(caller, src, dst common.Address, rad *big.Int) error
}

// FixedSpreadStrategy seizes collateral worth the repaid debt value times the
// pool's liquidator incentive, deducts the treasury fee from the seizure, and
// collects the repayment from the liquidator at the end of the call.
type FixedSpreadStrategy struct {
	mu     sync.Mutex
	acl    *access.Registry
	self   common.Address
	logger *slog.Logger

	live             bool
	systemDebtEngine common.Address
	refPricer        ReferencePricer
	feeds            map[string]oracle.PriceFeed
	flashCallees     map[common.Address]FlashLendingCallee
}

// NewFixedSpreadStrategy constructs a live strategy acting as the given
// ledger address. The address must hold the liquidation-engine capability so
// it can confiscate, and liquidators must whitelist it to let it collect
// payment.
func NewFixedSpreadStrategy(acl *access.Registry, self, systemDebtEngine common.Address, refPricer ReferencePricer) *FixedSpreadStrategy {
	return &FixedSpreadStrategy{
		acl:              acl,
		self:             self,
		logger:           slog.Default(),
		live:             true,
		systemDebtEngine: systemDebtEngine,
		refPricer:        refPricer,
		feeds:            make(map[string]oracle.PriceFeed),
		flashCallees:     make(map[common.Address]FlashLendingCallee),
	}
}

// SetLogger wires a structured logger.
func (s *FixedSpreadStrategy) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger
}

// SetPriceFeed binds a pool to its raw price feed.
func (s *FixedSpreadStrategy) SetPriceFeed(caller common.Address, poolID string, feed oracle.PriceFeed) error {
	if err := s.acl.RequireAny(caller, access.RoleOwner, access.RoleGovernance); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[poolID] = feed
	return nil
}

// RegisterFlashCallee enables flash lending for a collateral recipient.
func (s *FixedSpreadStrategy) RegisterFlashCallee(caller, recipient common.Address, callee FlashLendingCallee) error {
	if err := s.acl.RequireAny(caller, access.RoleOwner, access.RoleGovernance); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flashCallees[recipient] = callee
	return nil
}

// UnregisterFlashCallee disables flash lending for a recipient.
func (s *FixedSpreadStrategy) UnregisterFlashCallee(caller, recipient common.Address) error {
	if err := s.acl.RequireAny(caller, access.RoleOwner, access.RoleGovernance); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flashCallees, recipient)
	return nil
}

// Cage halts the strategy.
func (s *FixedSpreadStrategy) Cage(caller common.Address) error {
	if err := s.acl.RequireAny(caller, access.RoleOwner, access.RoleShowStopper); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = false
	return nil
}

// Uncage resumes the strategy.
func (s *FixedSpreadStrategy) Uncage(caller common.Address) error {
	if err := s.acl.RequireAny(caller, access.RoleOwner, access.RoleShowStopper); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = true
	return nil
}

// Execute implements Strategy. Only holders of the liquidation-engine
// capability may call it. Rollback on failure is the caller's job: the
// engine runs Execute inside an atomic ledger section and discards its
// partial effects when it errors.
func (s *FixedSpreadStrategy) Execute(ctx context.Context, ledger StrategyLedger, caller common.Address, p ExecuteParams) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.acl.Require(access.RoleLiquidationEngine, caller); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live {
		return nil, ErrStrategyNotLive
	}
	if p.PositionDebtShare == nil || p.PositionDebtShare.Sign() <= 0 {
		return nil, ErrZeroDebt
	}
	if p.PositionCollateral == nil || p.PositionCollateral.Sign() <= 0 {
		return nil, ErrZeroCollateral
	}
	if (p.PositionAddress == common.Address{}) {
		return nil, ErrZeroPositionAddress
	}
	pool, ok := ledger.Pool(p.PoolID)
	if !ok {
		return nil, ErrUnknownPool
	}

	shareToRepay := p.DebtShareToRepay
	if shareToRepay == nil || shareToRepay.Sign() <= 0 {
		return nil, ErrZeroDebt
	}
	if pool.CloseFactorBps == 0 {
		return nil, ErrCloseFactorExceeded
	}
	if shareToRepay.Cmp(fixedpoint.BpsMul(p.PositionDebtShare, pool.CloseFactorBps)) > 0 {
		return nil, ErrCloseFactorExceeded
	}

	feed, ok := s.feeds[p.PoolID]
	if !ok {
		return nil, ErrInvalidPrice
	}
	raw, valid := feed.PeekPrice()
	if !valid {
		return nil, ErrInvalidPrice
	}
	rawWad := raw.ToBig()
	if rawWad.Sign() <= 0 {
		return nil, ErrZeroStartingPrice
	}
	collateralPrice := fixedpoint.RayDiv(fixedpoint.WadToRay(rawWad), s.refPricer.StableCoinReferencePrice())
	if collateralPrice.Sign() <= 0 {
		return nil, ErrZeroStartingPrice
	}

	rate := pool.DebtAccumulatedRate
	full := shareToRepay.Cmp(p.PositionDebtShare) == 0

	// Never leave a position below the debt floor: take it all instead.
	remaining := new(big.Int).Sub(p.PositionDebtShare, shareToRepay)
	if remaining.Sign() > 0 && pool.DebtFloor.Sign() > 0 {
		if fixedpoint.Mul(remaining, rate).Cmp(pool.DebtFloor) < 0 {
			shareToRepay = new(big.Int).Set(p.PositionDebtShare)
			full = true
		}
	}

	debtValueToRepay := fixedpoint.Mul(shareToRepay, rate)                          // [rad]
	seizedValue := fixedpoint.BpsMul(debtValueToRepay, pool.LiquidatorIncentiveBps) // [rad]
	seizedAmount := fixedpoint.DivRay(seizedValue, collateralPrice)                 // [wad]

	actualDebtValue := debtValueToRepay
	actualShare := shareToRepay
	badDebt := new(big.Int)
	if seizedAmount.Cmp(p.PositionCollateral) > 0 {
		if !full {
			return nil, ErrLiquidateTooMuch
		}
		// The whole position cannot cover the incentive-priced seizure:
		// seize everything, charge what the collateral is worth, and leave
		// the shortfall as system bad debt.
		seizedAmount = new(big.Int).Set(p.PositionCollateral)
		collateralValue := fixedpoint.Mul(seizedAmount, collateralPrice) // [rad]
		actualDebtValue = fixedpoint.BpsDiv(collateralValue, pool.LiquidatorIncentiveBps)
		badDebt = new(big.Int).Sub(debtValueToRepay, actualDebtValue)
	}
	treasuryFee := fixedpoint.BpsMul(seizedAmount, pool.TreasuryFeesBps) // [wad]
	payout := new(big.Int).Sub(seizedAmount, treasuryFee)

	if err := ledger.ConfiscatePosition(
		s.self, p.PoolID, p.PositionAddress, s.self, s.systemDebtEngine,
		new(big.Int).Neg(seizedAmount), new(big.Int).Neg(actualShare),
	); err != nil {
		return nil, err
	}
	if err := ledger.MoveCollateral(s.self, p.PoolID, s.self, p.CollateralRecipient, payout); err != nil {
		return nil, err
	}
	if treasuryFee.Sign() > 0 {
		if err := ledger.MoveCollateral(s.self, p.PoolID, s.self, s.systemDebtEngine, treasuryFee); err != nil {
			return nil, err
		}
	}

	flash := false
	if len(p.Data) > 0 {
		if callee, ok := s.flashCallees[p.CollateralRecipient]; ok {
			flash = true
			if err := callee.FlashLendingCall(ctx, ledger, p.Liquidator, actualDebtValue, payout, p.Data); err != nil {
				return nil, err
			}
		}
	}

	// Payment comes last so flash liquidators can fund it from the seized
	// collateral. The liquidator must have whitelisted this strategy.
	if err := ledger.MoveStablecoin(s.self, p.Liquidator, s.systemDebtEngine, actualDebtValue); err != nil {
		return nil, err
	}

	s.logger.Debug("fixed spread liquidation executed",
		"pool", p.PoolID,
		"position", p.PositionAddress.Hex(),
		"debtValueRepaid", actualDebtValue.String(),
		"collateralSeized", seizedAmount.String(),
		"flash", flash,
	)
	return &Result{
		DebtValueRepaid:   actualDebtValue,
		DebtShareRepaid:   actualShare,
		CollateralSeized:  seizedAmount,
		CollateralPaidOut: payout,
		TreasuryFee:       treasuryFee,
		BadDebtValue:      badDebt,
		FlashLending:      flash,
	}, nil
}
