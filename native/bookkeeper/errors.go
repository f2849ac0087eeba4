package bookkeeper

import "errors"

// Stable error identifiers surfaced by ledger operations. Every failure is
// categorical and leaves no partial state change behind.
var (
	ErrNotLive                   = errors.New("bookkeeper/not-live")
	ErrPoolNotInitialized        = errors.New("bookkeeper/collateral-pool-not-init")
	ErrPoolAlreadyInitialized    = errors.New("bookkeeper/collateral-pool-already-init")
	ErrNotAllowed                = errors.New("bookkeeper/not-allowed")
	ErrNotAllowedPositionAddress = errors.New("bookkeeper/not-allowed-position-address")
	ErrNotAllowedCollateralOwner = errors.New("bookkeeper/not-allowed-collateral-owner")
	ErrNotAllowedStablecoinOwner = errors.New("bookkeeper/not-allowed-stablecoin-owner")
	ErrCeilingExceeded           = errors.New("bookkeeper/ceiling-exceeded")
	ErrNotSafe                   = errors.New("bookkeeper/not-safe")
	ErrNotSafeSrc                = errors.New("bookkeeper/not-safe-src")
	ErrNotSafeDst                = errors.New("bookkeeper/not-safe-dst")
	ErrDebtFloor                 = errors.New("bookkeeper/debt-floor")
	ErrDebtFloorSrc              = errors.New("bookkeeper/debt-floor-src")
	ErrDebtFloorDst              = errors.New("bookkeeper/debt-floor-dst")
	ErrNegativeAmount            = errors.New("bookkeeper/negative-amount")
	ErrInsufficientCollateral    = errors.New("bookkeeper/insufficient-collateral")
	ErrInsufficientDebtShare     = errors.New("bookkeeper/insufficient-debt-share")
	ErrInsufficientStablecoin    = errors.New("bookkeeper/insufficient-stablecoin")
	ErrInsufficientBadDebt       = errors.New("bookkeeper/insufficient-bad-debt")
	ErrNegativeRate              = errors.New("bookkeeper/negative-debt-accumulated-rate")
	ErrCloseFactorBps            = errors.New("bookkeeper/close-factor-bps-more-10000")
	ErrLiquidatorIncentiveBps    = errors.New("bookkeeper/liquidator-incentive-bps-out-of-range")
	ErrTreasuryFeesBps           = errors.New("bookkeeper/treasury-fees-bps-more-2500")
)
