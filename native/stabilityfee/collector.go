// Package stabilityfee accrues per-pool stability fees into the ledger. Each
// pool carries a per-second compounding fee rate; Collect folds the elapsed
// compounding into the pool's debt accumulated rate and credits the fee value
// to the system debt engine.
package stabilityfee

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/leyr1112/alpaca-stablecoin/native/access"
	"github.com/leyr1112/alpaca-stablecoin/native/bookkeeper"
	"github.com/leyr1112/alpaca-stablecoin/native/fixedpoint"
)

var (
	ErrNotLive      = errors.New("stabilityfeecollector/not-live")
	ErrUnknownPool  = errors.New("stabilityfeecollector/unknown-pool")
	ErrInvalidNow   = errors.New("stabilityfee/invalid-now")
	ErrWrongFeeRate = errors.New("stabilityfeecollector/wrong-fee-rate")
	ErrNoReceiver   = errors.New("stabilityfeecollector/no-system-debt-engine")
)

// Ledger is the slice of the bookkeeper the collector operates through.
type Ledger interface {
	Pool(poolID string) (bookkeeper.CollateralPool, bool)
	AccrueStabilityFee(caller common.Address, poolID string, receiver common.Address, rateDelta *big.Int) error
}

type poolRate struct {
	feeRate     *big.Int // [ray] per-second multiplier, >= 1 ray
	lastAccrual time.Time
}

// Collector drives stability fee accrual. It writes to the ledger under its
// own address, which must hold the stability-fee-collector capability.
type Collector struct {
	mu     sync.Mutex
	acl    *access.Registry
	ledger Ledger
	self   common.Address
	logger *slog.Logger

	live             bool
	systemDebtEngine common.Address
	pools            map[string]*poolRate
}

// NewCollector constructs a live collector with no pools registered.
func NewCollector(acl *access.Registry, ledger Ledger, self common.Address) *Collector {
	return &Collector{
		acl:    acl,
		ledger: ledger,
		self:   self,
		logger: slog.Default(),
		live:   true,
		pools:  make(map[string]*poolRate),
	}
}

// SetLogger wires a structured logger.
func (c *Collector) SetLogger(logger *slog.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	c.logger = logger
}

// SetSystemDebtEngine sets the fee receiver address.
func (c *Collector) SetSystemDebtEngine(caller, receiver common.Address) error {
	if err := c.acl.Require(access.RoleOwner, caller); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemDebtEngine = receiver
	return nil
}

// SetFeeRate registers or updates a pool's per-second fee rate. The first
// Collect after registration only records its baseline timestamp, so a rate
// change never accrues retroactively.
func (c *Collector) SetFeeRate(caller common.Address, poolID string, feeRate *big.Int) error {
	if err := c.acl.RequireAny(caller, access.RoleOwner, access.RoleGovernance); err != nil {
		return err
	}
	if feeRate == nil || feeRate.Cmp(fixedpoint.Ray) < 0 {
		return ErrWrongFeeRate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live {
		return ErrNotLive
	}
	pr, ok := c.pools[poolID]
	if !ok {
		pr = &poolRate{}
		c.pools[poolID] = pr
	}
	pr.feeRate = new(big.Int).Set(feeRate)
	return nil
}

// FeeRate returns a pool's per-second fee rate.
func (c *Collector) FeeRate(poolID string) (*big.Int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pr, ok := c.pools[poolID]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(pr.feeRate), true
}

// RestoreAccrual seeds a pool's accrual clock from persisted state. It only
// applies before the first collection, so a restart cannot rewind a pool
// that has already accrued in this process.
func (c *Collector) RestoreAccrual(poolID string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pr, ok := c.pools[poolID]
	if !ok || !pr.lastAccrual.IsZero() {
		return
	}
	pr.lastAccrual = at
}

// PoolIDs lists the registered pools.
func (c *Collector) PoolIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.pools))
	for id := range c.pools {
		ids = append(ids, id)
	}
	return ids
}

// Collect accrues the fee compounded since the last collection and returns
// the rate delta pushed into the ledger. Calling twice at the same timestamp
// is a no-op; time must never run backwards.
func (c *Collector) Collect(ctx context.Context, poolID string, now time.Time) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live {
		return nil, ErrNotLive
	}
	pr, ok := c.pools[poolID]
	if !ok {
		return nil, ErrUnknownPool
	}
	if (c.systemDebtEngine == common.Address{}) {
		return nil, ErrNoReceiver
	}

	if pr.lastAccrual.IsZero() {
		pr.lastAccrual = now
		return new(big.Int), nil
	}
	if now.Before(pr.lastAccrual) {
		return nil, ErrInvalidNow
	}
	elapsed := uint64(now.Unix() - pr.lastAccrual.Unix())
	if elapsed == 0 {
		return new(big.Int), nil
	}

	pool, ok := c.ledger.Pool(poolID)
	if !ok {
		return nil, ErrUnknownPool
	}
	prevRate := pool.DebtAccumulatedRate
	newRate := fixedpoint.RayMul(fixedpoint.RPow(pr.feeRate, elapsed), prevRate)
	delta := new(big.Int).Sub(newRate, prevRate)
	if err := c.ledger.AccrueStabilityFee(c.self, poolID, c.systemDebtEngine, delta); err != nil {
		return nil, err
	}
	pr.lastAccrual = now
	c.logger.Debug("stability fee collected",
		"pool", poolID,
		"elapsed", elapsed,
		"rateDelta", delta.String(),
	)
	return delta, nil
}

// Cage halts accrual.
func (c *Collector) Cage(caller common.Address) error {
	if err := c.acl.RequireAny(caller, access.RoleOwner, access.RoleShowStopper); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live = false
	return nil
}

// Uncage resumes accrual.
func (c *Collector) Uncage(caller common.Address) error {
	if err := c.acl.RequireAny(caller, access.RoleOwner, access.RoleShowStopper); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live = true
	return nil
}
