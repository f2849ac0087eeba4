// Package oracle publishes collateral prices into the ledger. A PriceFeed
// supplies raw Wad prices; the PriceOracle applies the stablecoin reference
// price and each pool's liquidation ratio to derive the haircut
// priceWithSafetyMargin the ledger uses for safety checks.
package oracle

import (
	"errors"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/leyr1112/alpaca-stablecoin/core/events"
	"github.com/leyr1112/alpaca-stablecoin/native/access"
	"github.com/leyr1112/alpaca-stablecoin/native/fixedpoint"
)

var (
	ErrNotLive              = errors.New("priceoracle/not-live")
	ErrUnknownPool          = errors.New("priceoracle/unknown-pool")
	ErrZeroLiquidationRatio = errors.New("priceoracle/zero-liquidation-ratio")
	ErrZeroReferencePrice   = errors.New("priceoracle/zero-reference-price")
	ErrFeedNotLive          = errors.New("pricefeed/not-live")
)

// PriceFeed supplies the current raw collateral price on the Wad scale. ok is
// false when the feed cannot vouch for the price; the oracle then publishes a
// zero safety-margin price, freezing new debt against the pool.
type PriceFeed interface {
	PeekPrice() (price *uint256.Int, ok bool)
}

// Ledger is the slice of the bookkeeper the oracle writes through.
type Ledger interface {
	SetPriceWithSafetyMargin(caller common.Address, poolID string, ray *big.Int) error
}

// SimplePriceFeed is an operator-set feed. It reports ok only while live and
// holding a non-zero price.
type SimplePriceFeed struct {
	mu    sync.RWMutex
	acl   *access.Registry
	price *uint256.Int
	live  bool
}

// NewSimplePriceFeed constructs a live feed with no price yet.
func NewSimplePriceFeed(acl *access.Registry) *SimplePriceFeed {
	return &SimplePriceFeed{acl: acl, price: uint256.NewInt(0), live: true}
}

// SetPrice stores a raw Wad price.
func (f *SimplePriceFeed) SetPrice(caller common.Address, wadPrice *uint256.Int) error {
	if err := f.acl.Require(access.RoleOwner, caller); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.live {
		return ErrFeedNotLive
	}
	if wadPrice == nil {
		wadPrice = uint256.NewInt(0)
	}
	f.price = wadPrice.Clone()
	return nil
}

// Cage invalidates the feed until Uncage.
func (f *SimplePriceFeed) Cage(caller common.Address) error {
	if err := f.acl.RequireAny(caller, access.RoleOwner, access.RoleShowStopper); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live = false
	return nil
}

// Uncage re-enables the feed.
func (f *SimplePriceFeed) Uncage(caller common.Address) error {
	if err := f.acl.RequireAny(caller, access.RoleOwner, access.RoleShowStopper); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live = true
	return nil
}

// PeekPrice implements PriceFeed.
func (f *SimplePriceFeed) PeekPrice() (*uint256.Int, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.price.Clone(), f.live && !f.price.IsZero()
}

type poolFeed struct {
	feed             PriceFeed
	liquidationRatio *big.Int // [ray], >= 1 ray
}

// PriceOracle derives and publishes safety-margin prices. It writes to the
// ledger under its own address, which must hold the price-oracle capability.
type PriceOracle struct {
	mu      sync.Mutex
	acl     *access.Registry
	ledger  Ledger
	self    common.Address
	emitter events.Emitter
	logger  *slog.Logger

	live                     bool
	stableCoinReferencePrice *big.Int // [ray]
	feeds                    map[string]*poolFeed
}

// NewPriceOracle constructs a live oracle with the reference price at 1.0 ray.
func NewPriceOracle(acl *access.Registry, ledger Ledger, self common.Address) *PriceOracle {
	return &PriceOracle{
		acl:                      acl,
		ledger:                   ledger,
		self:                     self,
		emitter:                  events.NoopEmitter{},
		logger:                   slog.Default(),
		live:                     true,
		stableCoinReferencePrice: new(big.Int).Set(fixedpoint.Ray),
		feeds:                    make(map[string]*poolFeed),
	}
}

// SetEmitter wires an event sink. A nil emitter restores the noop sink.
func (o *PriceOracle) SetEmitter(emitter events.Emitter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	o.emitter = emitter
}

// SetLogger wires a structured logger.
func (o *PriceOracle) SetLogger(logger *slog.Logger) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	o.logger = logger
}

// SetPriceFeed binds a pool to a feed and liquidation ratio.
func (o *PriceOracle) SetPriceFeed(caller common.Address, poolID string, feed PriceFeed, liquidationRatio *big.Int) error {
	if err := o.acl.RequireAny(caller, access.RoleOwner, access.RoleGovernance); err != nil {
		return err
	}
	if liquidationRatio == nil || liquidationRatio.Sign() <= 0 {
		return ErrZeroLiquidationRatio
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.live {
		return ErrNotLive
	}
	o.feeds[poolID] = &poolFeed{feed: feed, liquidationRatio: new(big.Int).Set(liquidationRatio)}
	return nil
}

// SetLiquidationRatio updates a bound pool's liquidation ratio.
func (o *PriceOracle) SetLiquidationRatio(caller common.Address, poolID string, liquidationRatio *big.Int) error {
	if err := o.acl.RequireAny(caller, access.RoleOwner, access.RoleGovernance); err != nil {
		return err
	}
	if liquidationRatio == nil || liquidationRatio.Sign() <= 0 {
		return ErrZeroLiquidationRatio
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.live {
		return ErrNotLive
	}
	pf, ok := o.feeds[poolID]
	if !ok {
		return ErrUnknownPool
	}
	pf.liquidationRatio = new(big.Int).Set(liquidationRatio)
	return nil
}

// SetStableCoinReferencePrice updates the peg reference on the Ray scale.
func (o *PriceOracle) SetStableCoinReferencePrice(caller common.Address, ray *big.Int) error {
	if err := o.acl.RequireAny(caller, access.RoleOwner, access.RoleGovernance); err != nil {
		return err
	}
	if ray == nil || ray.Sign() <= 0 {
		return ErrZeroReferencePrice
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.live {
		return ErrNotLive
	}
	o.stableCoinReferencePrice = new(big.Int).Set(ray)
	return nil
}

// StableCoinReferencePrice returns the current peg reference.
func (o *PriceOracle) StableCoinReferencePrice() *big.Int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return new(big.Int).Set(o.stableCoinReferencePrice)
}

// Cage halts price publication.
func (o *PriceOracle) Cage(caller common.Address) error {
	if err := o.acl.RequireAny(caller, access.RoleOwner, access.RoleShowStopper); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.live = false
	return nil
}

// Uncage resumes price publication.
func (o *PriceOracle) Uncage(caller common.Address) error {
	if err := o.acl.RequireAny(caller, access.RoleOwner, access.RoleShowStopper); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.live = true
	return nil
}

// SetPrice reads the pool's feed and publishes the derived safety-margin
// price into the ledger. An invalid feed publishes zero, which freezes new
// debt against the pool without reverting.
func (o *PriceOracle) SetPrice(poolID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.live {
		return ErrNotLive
	}
	pf, ok := o.feeds[poolID]
	if !ok {
		return ErrUnknownPool
	}

	raw, valid := pf.feed.PeekPrice()
	rawWad := new(big.Int)
	margin := new(big.Int)
	if valid {
		// An invalid feed may return a nil price, so only convert after
		// the validity check.
		rawWad = raw.ToBig()
		// rawPrice/referencePrice, then haircut by the liquidation ratio.
		pegged := fixedpoint.RayDiv(fixedpoint.WadToRay(rawWad), o.stableCoinReferencePrice)
		margin = fixedpoint.RayDiv(pegged, pf.liquidationRatio)
	}
	if err := o.ledger.SetPriceWithSafetyMargin(o.self, poolID, margin); err != nil {
		return err
	}
	o.emitter.Emit(events.PriceUpdated{
		Caller:                o.self,
		PoolID:                poolID,
		RawPrice:              rawWad,
		PriceWithSafetyMargin: margin,
	})
	o.logger.Debug("price published",
		"pool", poolID,
		"raw", rawWad.String(),
		"priceWithSafetyMargin", margin.String(),
		"valid", valid,
	)
	return nil
}
