// Package systemdebt implements the system debt engine: the address that
// accumulates bad debt from confiscated positions, receives stability fees
// and liquidation treasury fees, and retires bad debt against its stablecoin
// surplus.
package systemdebt

import (
	"errors"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/leyr1112/alpaca-stablecoin/native/access"
)

var (
	ErrNotLive          = errors.New("systemdebtengine/not-live")
	ErrNegativeAmount   = errors.New("systemdebtengine/negative-amount")
	ErrBadDebtRemaining = errors.New("systemdebtengine/bad-debt-remaining")
)

// Ledger is the slice of the bookkeeper the engine operates through.
type Ledger interface {
	SettleSystemBadDebt(caller common.Address, rad *big.Int) error
	MoveStablecoin(caller, src, dst common.Address, rad *big.Int) error
	MoveCollateral(caller common.Address, poolID string, src, dst common.Address, wad *big.Int) error
	Stablecoin(addr common.Address) *big.Int
	SystemBadDebt(addr common.Address) *big.Int
	CollateralToken(poolID string, addr common.Address) *big.Int
}

// Engine custodies the system's bad debt and surplus under a single address.
type Engine struct {
	mu     sync.Mutex
	acl    *access.Registry
	ledger Ledger
	self   common.Address
	logger *slog.Logger
	live   bool
}

// NewEngine constructs a live engine operating the given ledger address.
func NewEngine(acl *access.Registry, ledger Ledger, self common.Address) *Engine {
	return &Engine{acl: acl, ledger: ledger, self: self, logger: slog.Default(), live: true}
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

// Address returns the ledger address the engine operates as. Liquidations and
// fee accrual credit this address directly.
func (e *Engine) Address() common.Address { return e.self }

// SettleSystemBadDebt retires the given bad debt value against the engine's
// stablecoin balance. Callable by anyone; it only ever improves the system's
// books.
func (e *Engine) SettleSystemBadDebt(rad *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live {
		return ErrNotLive
	}
	if rad == nil || rad.Sign() < 0 {
		return ErrNegativeAmount
	}
	if err := e.ledger.SettleSystemBadDebt(e.self, rad); err != nil {
		return err
	}
	e.logger.Info("system bad debt settled", "amount", rad.String())
	return nil
}

// WithdrawStablecoinSurplus pays out accumulated surplus. All bad debt must
// be settled first so surplus can never be paid while the system is
// underwater.
func (e *Engine) WithdrawStablecoinSurplus(caller, to common.Address, rad *big.Int) error {
	if err := e.acl.RequireAny(caller, access.RoleOwner, access.RoleGovernance); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live {
		return ErrNotLive
	}
	if rad == nil || rad.Sign() < 0 {
		return ErrNegativeAmount
	}
	if e.ledger.SystemBadDebt(e.self).Sign() != 0 {
		return ErrBadDebtRemaining
	}
	if err := e.ledger.MoveStablecoin(e.self, e.self, to, rad); err != nil {
		return err
	}
	e.logger.Info("stablecoin surplus withdrawn", "to", to.Hex(), "amount", rad.String())
	return nil
}

// WithdrawCollateralSurplus pays out treasury-fee collateral collected from
// liquidations.
func (e *Engine) WithdrawCollateralSurplus(caller common.Address, poolID string, to common.Address, wad *big.Int) error {
	if err := e.acl.RequireAny(caller, access.RoleOwner, access.RoleGovernance); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live {
		return ErrNotLive
	}
	if wad == nil || wad.Sign() < 0 {
		return ErrNegativeAmount
	}
	if err := e.ledger.MoveCollateral(e.self, poolID, e.self, to, wad); err != nil {
		return err
	}
	e.logger.Info("collateral surplus withdrawn", "pool", poolID, "to", to.Hex(), "amount", wad.String())
	return nil
}

// StablecoinBalance returns the engine's surplus balance.
func (e *Engine) StablecoinBalance() *big.Int {
	return e.ledger.Stablecoin(e.self)
}

// BadDebt returns the engine's outstanding bad debt.
func (e *Engine) BadDebt() *big.Int {
	return e.ledger.SystemBadDebt(e.self)
}

// CollateralBalance returns the engine's treasury collateral for a pool.
func (e *Engine) CollateralBalance(poolID string) *big.Int {
	return e.ledger.CollateralToken(poolID, e.self)
}

// Cage halts settlement and withdrawals.
func (e *Engine) Cage(caller common.Address) error {
	if err := e.acl.RequireAny(caller, access.RoleOwner, access.RoleShowStopper); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.live = false
	return nil
}

// Uncage resumes settlement and withdrawals.
func (e *Engine) Uncage(caller common.Address) error {
	if err := e.acl.RequireAny(caller, access.RoleOwner, access.RoleShowStopper); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.live = true
	return nil
}
