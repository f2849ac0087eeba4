package systemdebt

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/leyr1112/alpaca-stablecoin/native/access"
	"github.com/leyr1112/alpaca-stablecoin/native/bookkeeper"
	"github.com/leyr1112/alpaca-stablecoin/native/fixedpoint"
)

var (
	owner    = common.BytesToAddress([]byte{0x01})
	minter   = common.BytesToAddress([]byte{0x02})
	treasury = common.BytesToAddress([]byte{0x03})
	engAddr  = common.BytesToAddress([]byte{0x04})
	stranger = common.BytesToAddress([]byte{0x05})
	adapter  = common.BytesToAddress([]byte{0x06})
)

func rad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedpoint.Rad)
}

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedpoint.Wad)
}

func newTestEngine(t *testing.T) (*Engine, *bookkeeper.BookKeeper) {
	t.Helper()
	acl := access.NewRegistry(owner)
	acl.Grant(access.RoleMintable, minter)
	acl.Grant(access.RoleAdapter, adapter)
	ledger := bookkeeper.NewBookKeeper(acl)
	return NewEngine(acl, ledger, engAddr), ledger
}

func TestSettleSystemBadDebt(t *testing.T) {
	e, ledger := newTestEngine(t)
	// Seed 5 rad of bad debt on the engine and 3 rad of surplus elsewhere,
	// then route the surplus home.
	if err := ledger.MintUnbackedStablecoin(minter, engAddr, engAddr, rad(3)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.MintUnbackedStablecoin(minter, engAddr, stranger, rad(2)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if e.BadDebt().Cmp(rad(5)) != 0 {
		t.Fatalf("bad debt = %s, want 5 rad", e.BadDebt())
	}
	if err := e.SettleSystemBadDebt(rad(3)); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if e.BadDebt().Cmp(rad(2)) != 0 {
		t.Fatalf("bad debt = %s, want 2 rad", e.BadDebt())
	}
	if e.StablecoinBalance().Sign() != 0 {
		t.Fatalf("surplus = %s, want 0", e.StablecoinBalance())
	}
	if err := e.SettleSystemBadDebt(rad(1)); !errors.Is(err, bookkeeper.ErrInsufficientStablecoin) {
		t.Fatalf("settle without balance: %v", err)
	}
	if err := e.SettleSystemBadDebt(big.NewInt(-1)); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("negative settle: %v", err)
	}
}

func TestWithdrawStablecoinSurplus(t *testing.T) {
	e, ledger := newTestEngine(t)
	if err := ledger.MintUnbackedStablecoin(minter, engAddr, engAddr, rad(4)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	// Surplus is locked while bad debt is outstanding.
	if err := e.WithdrawStablecoinSurplus(owner, treasury, rad(1)); !errors.Is(err, ErrBadDebtRemaining) {
		t.Fatalf("underwater withdraw: %v", err)
	}
	if err := e.SettleSystemBadDebt(rad(4)); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// Now mint clean surplus onto the engine via a separate debtor.
	if err := ledger.MintUnbackedStablecoin(minter, stranger, engAddr, rad(2)); err != nil {
		t.Fatalf("mint surplus: %v", err)
	}
	if err := e.WithdrawStablecoinSurplus(stranger, treasury, rad(1)); !errors.Is(err, access.ErrNotOwnerOrGovernance) {
		t.Fatalf("withdraw gate: %v", err)
	}
	if err := e.WithdrawStablecoinSurplus(owner, treasury, rad(2)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := ledger.Stablecoin(treasury); got.Cmp(rad(2)) != 0 {
		t.Fatalf("treasury = %s, want 2 rad", got)
	}
}

func TestWithdrawCollateralSurplus(t *testing.T) {
	e, ledger := newTestEngine(t)
	if err := ledger.AddCollateral(adapter, "WXDC", engAddr, wad(3)); err != nil {
		t.Fatalf("seed collateral: %v", err)
	}
	if got := e.CollateralBalance("WXDC"); got.Cmp(wad(3)) != 0 {
		t.Fatalf("treasury collateral = %s, want 3 wad", got)
	}
	if err := e.WithdrawCollateralSurplus(owner, "WXDC", treasury, wad(2)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := ledger.CollateralToken("WXDC", treasury); got.Cmp(wad(2)) != 0 {
		t.Fatalf("treasury = %s, want 2 wad", got)
	}
	if err := e.WithdrawCollateralSurplus(owner, "WXDC", treasury, wad(5)); !errors.Is(err, bookkeeper.ErrInsufficientCollateral) {
		t.Fatalf("overdraw: %v", err)
	}
}

func TestEngineCage(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.Cage(stranger); !errors.Is(err, access.ErrNotOwnerOrShowStopper) {
		t.Fatalf("cage gate: %v", err)
	}
	if err := e.Cage(owner); err != nil {
		t.Fatalf("cage: %v", err)
	}
	if err := e.SettleSystemBadDebt(rad(1)); !errors.Is(err, ErrNotLive) {
		t.Fatalf("caged settle: %v", err)
	}
	if err := e.WithdrawStablecoinSurplus(owner, treasury, rad(1)); !errors.Is(err, ErrNotLive) {
		t.Fatalf("caged withdraw: %v", err)
	}
	if err := e.Uncage(owner); err != nil {
		t.Fatalf("uncage: %v", err)
	}
	if err := e.SettleSystemBadDebt(new(big.Int)); err != nil {
		t.Fatalf("uncaged settle: %v", err)
	}
}
