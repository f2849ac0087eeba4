package liquidation

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/leyr1112/alpaca-stablecoin/native/access"
	"github.com/leyr1112/alpaca-stablecoin/native/bookkeeper"
	"github.com/leyr1112/alpaca-stablecoin/native/fixedpoint"
	"github.com/leyr1112/alpaca-stablecoin/native/oracle"
)

const testPool = "WXDC"

var (
	owner        = common.BytesToAddress([]byte{0x01})
	oracleAddr   = common.BytesToAddress([]byte{0x02})
	adapter      = common.BytesToAddress([]byte{0x03})
	minter       = common.BytesToAddress([]byte{0x04})
	feeCollector = common.BytesToAddress([]byte{0x05})
	engineAddr   = common.BytesToAddress([]byte{0x06})
	strategyAddr = common.BytesToAddress([]byte{0x07})
	sysEngine    = common.BytesToAddress([]byte{0x08})
	alice        = common.BytesToAddress([]byte{0x0a})
	liquidator   = common.BytesToAddress([]byte{0x0b})
	recipient    = common.BytesToAddress([]byte{0x0c})
	calleeAddr   = common.BytesToAddress([]byte{0x0d})
	debtSink     = common.BytesToAddress([]byte{0x0e})
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedpoint.Wad)
}

func wadFrac(num, den int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(num), fixedpoint.Wad)
	return v.Div(v, big.NewInt(den))
}

func ray(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedpoint.Ray)
}

func rayFrac(num, den int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(num), fixedpoint.Ray)
	return v.Div(v, big.NewInt(den))
}

func rad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedpoint.Rad)
}

func radFrac(num, den int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(num), fixedpoint.Rad)
	return v.Div(v, big.NewInt(den))
}

func wadWord(wadValue *big.Int) *uint256.Int {
	v, overflow := uint256.FromBig(wadValue)
	if overflow {
		panic("test price overflows")
	}
	return v
}

type fixture struct {
	acl      *access.Registry
	ledger   *bookkeeper.BookKeeper
	feed     *oracle.SimplePriceFeed
	po       *oracle.PriceOracle
	strategy *FixedSpreadStrategy
	engine   *Engine
}

// newFixture wires the full liquidation stack around a real ledger with one
// pool and one funded liquidator.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	acl := access.NewRegistry(owner)
	acl.Grant(access.RolePriceOracle, oracleAddr)
	acl.Grant(access.RoleAdapter, adapter)
	acl.Grant(access.RoleMintable, minter)
	acl.Grant(access.RoleStabilityFeeCollector, feeCollector)
	acl.Grant(access.RoleLiquidationEngine, engineAddr)
	acl.Grant(access.RoleLiquidationEngine, strategyAddr)

	ledger := bookkeeper.NewBookKeeper(acl)
	if err := ledger.Init(owner, testPool); err != nil {
		t.Fatalf("init pool: %v", err)
	}
	if err := ledger.SetTotalDebtCeiling(owner, rad(100_000_000)); err != nil {
		t.Fatalf("total ceiling: %v", err)
	}
	if err := ledger.SetDebtCeiling(owner, testPool, rad(100_000_000)); err != nil {
		t.Fatalf("pool ceiling: %v", err)
	}
	if err := ledger.SetCloseFactorBps(owner, testPool, 5_000); err != nil {
		t.Fatalf("close factor: %v", err)
	}
	if err := ledger.SetLiquidatorIncentiveBps(owner, testPool, 10_250); err != nil {
		t.Fatalf("incentive: %v", err)
	}
	if err := ledger.SetTreasuryFeesBps(owner, testPool, 100); err != nil {
		t.Fatalf("treasury fee: %v", err)
	}

	feed := oracle.NewSimplePriceFeed(acl)
	po := oracle.NewPriceOracle(acl, ledger, oracleAddr)

	strategy := NewFixedSpreadStrategy(acl, strategyAddr, sysEngine, po)
	if err := strategy.SetPriceFeed(owner, testPool, feed); err != nil {
		t.Fatalf("strategy feed: %v", err)
	}

	engine := NewEngine(acl, ledger, engineAddr)
	if err := engine.SetStrategy(owner, testPool, strategy); err != nil {
		t.Fatalf("set strategy: %v", err)
	}
	if err := engine.AddLiquidator(owner, liquidator); err != nil {
		t.Fatalf("add liquidator: %v", err)
	}

	// The strategy collects payment from the liquidator's balance.
	ledger.Whitelist(liquidator, strategyAddr)

	return &fixture{acl: acl, ledger: ledger, feed: feed, po: po, strategy: strategy, engine: engine}
}

// openPosition locks collateral and draws debt for alice at a 1 ray safety
// margin, then moves the margin to leave the position unsafe.
func (f *fixture) openPosition(t *testing.T, collateral, debtShare, unsafeMargin *big.Int) {
	t.Helper()
	if err := f.ledger.SetPriceWithSafetyMargin(oracleAddr, testPool, ray(1_000_000)); err != nil {
		t.Fatalf("open margin: %v", err)
	}
	if err := f.ledger.AddCollateral(adapter, testPool, alice, collateral); err != nil {
		t.Fatalf("collateral: %v", err)
	}
	if err := f.ledger.AdjustPosition(alice, testPool, alice, alice, alice, collateral, debtShare); err != nil {
		t.Fatalf("open position: %v", err)
	}
	if err := f.ledger.SetPriceWithSafetyMargin(oracleAddr, testPool, unsafeMargin); err != nil {
		t.Fatalf("unsafe margin: %v", err)
	}
}

func (f *fixture) fundLiquidator(t *testing.T, amount *big.Int) {
	t.Helper()
	if err := f.ledger.MintUnbackedStablecoin(minter, debtSink, liquidator, amount); err != nil {
		t.Fatalf("fund liquidator: %v", err)
	}
}

func (f *fixture) setRawPrice(t *testing.T, wadPrice *big.Int) {
	t.Helper()
	if err := f.feed.SetPrice(owner, wadWord(wadPrice)); err != nil {
		t.Fatalf("raw price: %v", err)
	}
}

func TestLiquidateFixedSpread(t *testing.T) {
	f := newFixture(t)
	f.openPosition(t, wad(1), wad(1), rayFrac(9, 10))
	f.setRawPrice(t, wad(1))
	f.fundLiquidator(t, radFrac(1, 2))

	result, err := f.engine.Liquidate(context.Background(), liquidator, LiquidateParams{
		PoolID:              testPool,
		PositionAddress:     alice,
		DebtShareToRepay:    wadFrac(1, 2),
		MaxDebtShareToRepay: wadFrac(1, 2),
		CollateralRecipient: recipient,
	})
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// Repaying 0.5 debt at a 2.5% incentive seizes 0.5125 collateral, of
	// which 1% goes to the treasury.
	if result.DebtValueRepaid.Cmp(radFrac(1, 2)) != 0 {
		t.Fatalf("debt value repaid = %s", result.DebtValueRepaid)
	}
	if result.DebtShareRepaid.Cmp(wadFrac(1, 2)) != 0 {
		t.Fatalf("debt share repaid = %s", result.DebtShareRepaid)
	}
	if result.CollateralSeized.Cmp(wadFrac(5_125, 10_000)) != 0 {
		t.Fatalf("seized = %s", result.CollateralSeized)
	}
	if result.CollateralPaidOut.Cmp(wadFrac(507_375, 1_000_000)) != 0 {
		t.Fatalf("paid out = %s", result.CollateralPaidOut)
	}
	if result.TreasuryFee.Cmp(wadFrac(5_125, 1_000_000)) != 0 {
		t.Fatalf("treasury fee = %s", result.TreasuryFee)
	}
	if result.BadDebtValue.Sign() != 0 {
		t.Fatalf("bad debt = %s", result.BadDebtValue)
	}

	pos := f.ledger.GetPosition(testPool, alice)
	if pos.LockedCollateral.Cmp(wadFrac(4_875, 10_000)) != 0 {
		t.Fatalf("remaining collateral = %s", pos.LockedCollateral)
	}
	if pos.DebtShare.Cmp(wadFrac(1, 2)) != 0 {
		t.Fatalf("remaining share = %s", pos.DebtShare)
	}
	if got := f.ledger.CollateralToken(testPool, recipient); got.Cmp(result.CollateralPaidOut) != 0 {
		t.Fatalf("recipient collateral = %s", got)
	}
	if got := f.ledger.CollateralToken(testPool, sysEngine); got.Cmp(result.TreasuryFee) != 0 {
		t.Fatalf("treasury collateral = %s", got)
	}
	if got := f.ledger.Stablecoin(liquidator); got.Sign() != 0 {
		t.Fatalf("liquidator balance = %s", got)
	}
	// The payment exactly covers the bad debt the confiscation created.
	if got := f.ledger.Stablecoin(sysEngine); got.Cmp(radFrac(1, 2)) != 0 {
		t.Fatalf("engine balance = %s", got)
	}
	if got := f.ledger.SystemBadDebt(sysEngine); got.Cmp(radFrac(1, 2)) != 0 {
		t.Fatalf("engine bad debt = %s", got)
	}
}

func TestLiquidateHighRatePosition(t *testing.T) {
	f := newFixture(t)
	if err := f.ledger.SetLiquidatorIncentiveBps(owner, testPool, 10_300); err != nil {
		t.Fatalf("incentive: %v", err)
	}
	if err := f.ledger.SetTreasuryFeesBps(owner, testPool, 700); err != nil {
		t.Fatalf("treasury fee: %v", err)
	}
	f.openPosition(t, wad(98_765), wad(1), rayFrac(1, 10))
	// Accrue the rate from 1 to 12345 after the position is open.
	if err := f.ledger.AccrueStabilityFee(feeCollector, testPool, sysEngine, ray(12_344)); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	f.setRawPrice(t, wad(2))
	f.fundLiquidator(t, rad(4_000))

	result, err := f.engine.Liquidate(context.Background(), liquidator, LiquidateParams{
		PoolID:              testPool,
		PositionAddress:     alice,
		DebtShareToRepay:    wadFrac(1, 4),
		MaxDebtShareToRepay: wadFrac(1, 4),
		CollateralRecipient: recipient,
	})
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// 0.25 share at rate 12345 is 3086.25 debt value; a 3% incentive at
	// price 2 seizes 1589.41875 collateral, 7% of it to the treasury.
	if result.DebtValueRepaid.Cmp(radFrac(308_625, 100)) != 0 {
		t.Fatalf("debt value repaid = %s", result.DebtValueRepaid)
	}
	if result.CollateralSeized.Cmp(wadFrac(158_941_875, 100_000)) != 0 {
		t.Fatalf("seized = %s", result.CollateralSeized)
	}
	if result.TreasuryFee.Cmp(wadFrac(1_112_593_125, 10_000_000)) != 0 {
		t.Fatalf("treasury fee = %s", result.TreasuryFee)
	}
	if result.CollateralPaidOut.Cmp(wadFrac(14_781_594_375, 10_000_000)) != 0 {
		t.Fatalf("paid out = %s", result.CollateralPaidOut)
	}
	pos := f.ledger.GetPosition(testPool, alice)
	if pos.DebtShare.Cmp(wadFrac(3, 4)) != 0 {
		t.Fatalf("remaining share = %s", pos.DebtShare)
	}
}

func TestLiquidateSafePosition(t *testing.T) {
	f := newFixture(t)
	f.openPosition(t, wad(1), wad(1), ray(2))
	f.setRawPrice(t, wad(1))
	f.fundLiquidator(t, rad(1))

	_, err := f.engine.Liquidate(context.Background(), liquidator, LiquidateParams{
		PoolID:              testPool,
		PositionAddress:     alice,
		DebtShareToRepay:    wadFrac(1, 2),
		MaxDebtShareToRepay: wadFrac(1, 2),
		CollateralRecipient: recipient,
	})
	if !errors.Is(err, ErrPositionSafe) {
		t.Fatalf("safe position: %v", err)
	}
}

func TestLiquidateGates(t *testing.T) {
	f := newFixture(t)
	f.openPosition(t, wad(1), wad(1), rayFrac(9, 10))
	f.setRawPrice(t, wad(1))
	ctx := context.Background()

	if _, err := f.engine.Liquidate(ctx, alice, LiquidateParams{
		PoolID: testPool, PositionAddress: alice,
		DebtShareToRepay: wad(1), MaxDebtShareToRepay: wad(1), CollateralRecipient: recipient,
	}); !errors.Is(err, ErrNotWhitelisted) {
		t.Fatalf("whitelist gate: %v", err)
	}
	if _, err := f.engine.Liquidate(ctx, liquidator, LiquidateParams{
		PoolID: testPool, PositionAddress: alice,
		DebtShareToRepay: new(big.Int), MaxDebtShareToRepay: wad(1), CollateralRecipient: recipient,
	}); !errors.Is(err, ErrZeroDebtValue) {
		t.Fatalf("zero debt gate: %v", err)
	}
	if _, err := f.engine.Liquidate(ctx, liquidator, LiquidateParams{
		PoolID: testPool, PositionAddress: alice,
		DebtShareToRepay: wad(1), MaxDebtShareToRepay: wad(1),
	}); !errors.Is(err, ErrZeroRecipient) {
		t.Fatalf("recipient gate: %v", err)
	}
	if err := f.engine.Cage(owner); err != nil {
		t.Fatalf("cage: %v", err)
	}
	if _, err := f.engine.Liquidate(ctx, liquidator, LiquidateParams{
		PoolID: testPool, PositionAddress: alice,
		DebtShareToRepay: wad(1), MaxDebtShareToRepay: wad(1), CollateralRecipient: recipient,
	}); !errors.Is(err, ErrNotLive) {
		t.Fatalf("caged gate: %v", err)
	}
}

func TestLiquidateCloseFactor(t *testing.T) {
	f := newFixture(t)
	f.openPosition(t, wad(1), wad(1), rayFrac(9, 10))
	f.setRawPrice(t, wad(1))
	f.fundLiquidator(t, rad(1))

	// Close factor 50%: repaying 0.6 of 1 share is rejected.
	_, err := f.engine.Liquidate(context.Background(), liquidator, LiquidateParams{
		PoolID:              testPool,
		PositionAddress:     alice,
		DebtShareToRepay:    wadFrac(6, 10),
		MaxDebtShareToRepay: wad(1),
		CollateralRecipient: recipient,
	})
	if !errors.Is(err, ErrCloseFactorExceeded) {
		t.Fatalf("close factor: %v", err)
	}
}

func TestLiquidatePartialShortfallRejected(t *testing.T) {
	f := newFixture(t)
	f.openPosition(t, wad(1), wad(1), rayFrac(9, 10))
	// At price 0.5 the incentive-priced seizure for half the debt already
	// exceeds the whole position.
	f.setRawPrice(t, wadFrac(1, 2))
	f.fundLiquidator(t, rad(1))

	before := f.ledger.GetPosition(testPool, alice)
	_, err := f.engine.Liquidate(context.Background(), liquidator, LiquidateParams{
		PoolID:              testPool,
		PositionAddress:     alice,
		DebtShareToRepay:    wadFrac(1, 2),
		MaxDebtShareToRepay: wadFrac(1, 2),
		CollateralRecipient: recipient,
	})
	if !errors.Is(err, ErrLiquidateTooMuch) {
		t.Fatalf("partial shortfall: %v", err)
	}
	after := f.ledger.GetPosition(testPool, alice)
	if after.LockedCollateral.Cmp(before.LockedCollateral) != 0 || after.DebtShare.Cmp(before.DebtShare) != 0 {
		t.Fatalf("position mutated on failure: %+v", after)
	}
}

func TestLiquidateFullWithBadDebt(t *testing.T) {
	f := newFixture(t)
	if err := f.ledger.SetCloseFactorBps(owner, testPool, 10_000); err != nil {
		t.Fatalf("close factor: %v", err)
	}
	f.openPosition(t, wad(1), wad(1), rayFrac(9, 10))
	f.setRawPrice(t, wadFrac(1, 2))
	f.fundLiquidator(t, rad(1))

	result, err := f.engine.Liquidate(context.Background(), liquidator, LiquidateParams{
		PoolID:              testPool,
		PositionAddress:     alice,
		DebtShareToRepay:    wad(1),
		MaxDebtShareToRepay: wad(1),
		CollateralRecipient: recipient,
	})
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// All collateral is worth 0.5; charging it at the 1.025 incentive
	// multiplier collects 0.5/1.025 and leaves the rest as bad debt.
	if result.CollateralSeized.Cmp(wad(1)) != 0 {
		t.Fatalf("seized = %s", result.CollateralSeized)
	}
	wantDebtValue := new(big.Int).Mul(radFrac(1, 2), big.NewInt(10_000))
	wantDebtValue.Quo(wantDebtValue, big.NewInt(10_250))
	if result.DebtValueRepaid.Cmp(wantDebtValue) != 0 {
		t.Fatalf("debt value repaid = %s, want %s", result.DebtValueRepaid, wantDebtValue)
	}
	wantBadDebt := new(big.Int).Sub(rad(1), wantDebtValue)
	if result.BadDebtValue.Cmp(wantBadDebt) != 0 {
		t.Fatalf("bad debt = %s, want %s", result.BadDebtValue, wantBadDebt)
	}
	pos := f.ledger.GetPosition(testPool, alice)
	if pos.LockedCollateral.Sign() != 0 || pos.DebtShare.Sign() != 0 {
		t.Fatalf("position not closed: %+v", pos)
	}
	// The engine's bad debt exceeds the payment by exactly the shortfall.
	net := new(big.Int).Sub(f.ledger.SystemBadDebt(sysEngine), f.ledger.Stablecoin(sysEngine))
	if net.Cmp(wantBadDebt) != 0 {
		t.Fatalf("net bad debt = %s, want %s", net, wantBadDebt)
	}
}

func TestLiquidateDebtFloorForcesFull(t *testing.T) {
	f := newFixture(t)
	if err := f.ledger.SetDebtFloor(owner, testPool, rad(1)); err != nil {
		t.Fatalf("debt floor: %v", err)
	}
	f.openPosition(t, wad(2), wad(1), rayFrac(9, 10))
	f.setRawPrice(t, wad(1))
	f.fundLiquidator(t, rad(1))

	// Repaying half would leave 0.5 debt below the 1.0 floor, so the whole
	// position goes. The cap still binds: the forced full repay exceeds it.
	before := f.ledger.Snapshot()
	_, err := f.engine.Liquidate(context.Background(), liquidator, LiquidateParams{
		PoolID:              testPool,
		PositionAddress:     alice,
		DebtShareToRepay:    wadFrac(1, 2),
		MaxDebtShareToRepay: wadFrac(1, 2),
		CollateralRecipient: recipient,
	})
	if !errors.Is(err, ErrOverMax) {
		t.Fatalf("forced full over max: %v", err)
	}
	afterPos := f.ledger.GetPosition(testPool, alice)
	if afterPos.DebtShare.Cmp(before.Positions[testPool][alice].DebtShare) != 0 {
		t.Fatalf("rollback failed: %+v", afterPos)
	}

	// With headroom for the full repay the liquidation clears the position.
	result, err := f.engine.Liquidate(context.Background(), liquidator, LiquidateParams{
		PoolID:              testPool,
		PositionAddress:     alice,
		DebtShareToRepay:    wadFrac(1, 2),
		MaxDebtShareToRepay: wad(1),
		CollateralRecipient: recipient,
	})
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.DebtShareRepaid.Cmp(wad(1)) != 0 {
		t.Fatalf("forced repay = %s, want full share", result.DebtShareRepaid)
	}
	pos := f.ledger.GetPosition(testPool, alice)
	if pos.DebtShare.Sign() != 0 {
		t.Fatalf("position debt remains: %s", pos.DebtShare)
	}
}

func TestLiquidateUnfundedLiquidatorRollsBack(t *testing.T) {
	f := newFixture(t)
	f.openPosition(t, wad(1), wad(1), rayFrac(9, 10))
	f.setRawPrice(t, wad(1))

	before := f.ledger.Snapshot()
	_, err := f.engine.Liquidate(context.Background(), liquidator, LiquidateParams{
		PoolID:              testPool,
		PositionAddress:     alice,
		DebtShareToRepay:    wadFrac(1, 2),
		MaxDebtShareToRepay: wadFrac(1, 2),
		CollateralRecipient: recipient,
	})
	if !errors.Is(err, bookkeeper.ErrInsufficientStablecoin) {
		t.Fatalf("unfunded liquidation: %v", err)
	}
	pos := f.ledger.GetPosition(testPool, alice)
	if pos.LockedCollateral.Cmp(before.Positions[testPool][alice].LockedCollateral) != 0 {
		t.Fatalf("confiscation not rolled back: %+v", pos)
	}
	if got := f.ledger.CollateralToken(testPool, recipient); got.Sign() != 0 {
		t.Fatalf("recipient kept collateral after rollback: %s", got)
	}
}

// stallingCallee holds its liquidation open until released, then refuses so
// the whole section rolls back.
type stallingCallee struct {
	entered chan struct{}
	release chan struct{}
}

var errCalleeRefused = errors.New("callee refused")

func (c *stallingCallee) FlashLendingCall(_ context.Context, _ StrategyLedger, _ common.Address, _, _ *big.Int, _ []byte) error {
	close(c.entered)
	<-c.release
	return errCalleeRefused
}

func TestLiquidateRollbackPreservesConcurrentWrites(t *testing.T) {
	f := newFixture(t)
	f.openPosition(t, wad(1), wad(1), rayFrac(9, 10))
	f.setRawPrice(t, wad(1))
	f.fundLiquidator(t, rad(1))

	callee := &stallingCallee{entered: make(chan struct{}), release: make(chan struct{})}
	if err := f.strategy.RegisterFlashCallee(owner, recipient, callee); err != nil {
		t.Fatalf("register callee: %v", err)
	}

	liqErr := make(chan error, 1)
	go func() {
		_, err := f.engine.Liquidate(context.Background(), liquidator, LiquidateParams{
			PoolID:              testPool,
			PositionAddress:     alice,
			DebtShareToRepay:    wadFrac(1, 2),
			MaxDebtShareToRepay: wadFrac(1, 2),
			CollateralRecipient: recipient,
			Data:                []byte{0x01},
		})
		liqErr <- err
	}()
	<-callee.entered

	// A deposit races the open liquidation. However the two serialize, the
	// liquidation's rollback must not erase the committed deposit.
	depositor := common.BytesToAddress([]byte{0x0f})
	depErr := make(chan error, 1)
	go func() {
		depErr <- f.ledger.AddCollateral(adapter, testPool, depositor, wad(7))
	}()
	close(callee.release)

	if err := <-liqErr; !errors.Is(err, errCalleeRefused) {
		t.Fatalf("liquidate: %v", err)
	}
	if err := <-depErr; err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := f.ledger.CollateralToken(testPool, depositor); got.Cmp(wad(7)) != 0 {
		t.Fatalf("deposit lost to rollback: %s, want %s", got, wad(7))
	}
	pos := f.ledger.GetPosition(testPool, alice)
	if pos.DebtShare.Cmp(wad(1)) != 0 {
		t.Fatalf("confiscation not rolled back: %s", pos.DebtShare)
	}
}

// flashRepayer funds the liquidator's repayment out of its own stablecoin
// balance during the flash callback.
type flashRepayer struct {
	self   common.Address
	to     common.Address
	called bool
}

func (c *flashRepayer) FlashLendingCall(_ context.Context, ledger StrategyLedger, _ common.Address, debtValueToRepay, _ *big.Int, _ []byte) error {
	c.called = true
	return ledger.MoveStablecoin(c.self, c.self, c.to, debtValueToRepay)
}

func TestLiquidateFlashLending(t *testing.T) {
	f := newFixture(t)
	f.openPosition(t, wad(1), wad(1), rayFrac(9, 10))
	f.setRawPrice(t, wad(1))

	// The liquidator holds nothing; the callee repays on its behalf.
	callee := &flashRepayer{self: calleeAddr, to: liquidator}
	if err := f.ledger.MintUnbackedStablecoin(minter, debtSink, calleeAddr, rad(1)); err != nil {
		t.Fatalf("fund callee: %v", err)
	}
	if err := f.strategy.RegisterFlashCallee(owner, recipient, callee); err != nil {
		t.Fatalf("register callee: %v", err)
	}

	result, err := f.engine.Liquidate(context.Background(), liquidator, LiquidateParams{
		PoolID:              testPool,
		PositionAddress:     alice,
		DebtShareToRepay:    wadFrac(1, 2),
		MaxDebtShareToRepay: wadFrac(1, 2),
		CollateralRecipient: recipient,
		Data:                []byte{0x01},
	})
	if err != nil {
		t.Fatalf("flash liquidate: %v", err)
	}
	if !result.FlashLending || !callee.called {
		t.Fatalf("flash path not taken: result=%v called=%v", result.FlashLending, callee.called)
	}
	if got := f.ledger.Stablecoin(sysEngine); got.Cmp(radFrac(1, 2)) != 0 {
		t.Fatalf("payment missing: %s", got)
	}
}

func TestBatchLiquidate(t *testing.T) {
	f := newFixture(t)
	f.openPosition(t, wad(1), wad(1), rayFrac(9, 10))
	f.setRawPrice(t, wad(1))
	f.fundLiquidator(t, rad(1))

	entries, err := f.engine.BatchLiquidate(context.Background(), liquidator, []LiquidateParams{
		{
			PoolID:              testPool,
			PositionAddress:     alice,
			DebtShareToRepay:    wadFrac(1, 2),
			MaxDebtShareToRepay: wadFrac(1, 2),
			CollateralRecipient: recipient,
		},
		{
			// No such position: safe, fails, and must not poison entry 0.
			PoolID:              testPool,
			PositionAddress:     debtSink,
			DebtShareToRepay:    wadFrac(1, 2),
			MaxDebtShareToRepay: wadFrac(1, 2),
			CollateralRecipient: recipient,
		},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if entries[0].Err != nil {
		t.Fatalf("entry 0: %v", entries[0].Err)
	}
	if !errors.Is(entries[1].Err, ErrPositionSafe) {
		t.Fatalf("entry 1: %v", entries[1].Err)
	}
	if entries[0].Result.DebtShareRepaid.Cmp(wadFrac(1, 2)) != 0 {
		t.Fatalf("entry 0 repaid = %s", entries[0].Result.DebtShareRepaid)
	}
	if _, err := f.engine.BatchLiquidate(context.Background(), liquidator, nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("empty batch: %v", err)
	}
}

func TestStrategyCaged(t *testing.T) {
	f := newFixture(t)
	f.openPosition(t, wad(1), wad(1), rayFrac(9, 10))
	f.setRawPrice(t, wad(1))
	f.fundLiquidator(t, rad(1))
	if err := f.strategy.Cage(owner); err != nil {
		t.Fatalf("cage: %v", err)
	}
	_, err := f.engine.Liquidate(context.Background(), liquidator, LiquidateParams{
		PoolID:              testPool,
		PositionAddress:     alice,
		DebtShareToRepay:    wadFrac(1, 2),
		MaxDebtShareToRepay: wadFrac(1, 2),
		CollateralRecipient: recipient,
	})
	if !errors.Is(err, ErrStrategyNotLive) {
		t.Fatalf("caged strategy: %v", err)
	}
}
