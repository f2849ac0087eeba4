// Package access implements the capability model shared by the stablecoin
// core. A capability is a named permission bit granted to an address; any
// address holding the bit may invoke the gated operation regardless of what
// else it is. This is deliberately a flat permission set, not a hierarchy.
package access

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Role names the discrete capabilities recognised by the core.
type Role string

const (
	RoleOwner                 Role = "owner"
	RoleGovernance            Role = "governance"
	RolePriceOracle           Role = "price-oracle"
	RoleAdapter               Role = "adapter"
	RoleMintable              Role = "mintable"
	RolePositionManager       Role = "position-manager"
	RoleStabilityFeeCollector Role = "stability-fee-collector"
	RoleLiquidationEngine     Role = "liquidation-engine"
	RoleLiquidationStrategy   Role = "liquidation-strategy"
	RoleShowStopper           Role = "show-stopper"
)

// Stable authorization error identifiers. Callers match with errors.Is.
var (
	ErrNotOwner                 = errors.New("!ownerRole")
	ErrNotGovernance            = errors.New("!govRole")
	ErrNotOwnerOrGovernance     = errors.New("!(ownerRole or govRole)")
	ErrNotOwnerOrShowStopper    = errors.New("!(ownerRole or showStopperRole)")
	ErrNotPriceOracle           = errors.New("!priceOracleRole")
	ErrNotAdapter               = errors.New("!adapterRole")
	ErrNotMintable              = errors.New("!mintableRole")
	ErrNotPositionManager       = errors.New("!positionManagerRole")
	ErrNotStabilityFeeCollector = errors.New("!stabilityFeeCollectorRole")
	ErrNotLiquidationEngine     = errors.New("!liquidationEngineRole")
	ErrNotLiquidationStrategy   = errors.New("!liquidationStrategyRole")
	ErrNotShowStopper           = errors.New("!showStopperRole")
)

var roleErrors = map[Role]error{
	RoleOwner:                 ErrNotOwner,
	RoleGovernance:            ErrNotGovernance,
	RolePriceOracle:           ErrNotPriceOracle,
	RoleAdapter:               ErrNotAdapter,
	RoleMintable:              ErrNotMintable,
	RolePositionManager:       ErrNotPositionManager,
	RoleStabilityFeeCollector: ErrNotStabilityFeeCollector,
	RoleLiquidationEngine:     ErrNotLiquidationEngine,
	RoleLiquidationStrategy:   ErrNotLiquidationStrategy,
	RoleShowStopper:           ErrNotShowStopper,
}

// Registry records which addresses hold which capabilities. It is safe for
// concurrent use; grants are revocable at any time.
type Registry struct {
	mu    sync.RWMutex
	roles map[Role]map[common.Address]struct{}
}

// NewRegistry constructs an empty capability registry. The provided addresses
// are seeded with the owner capability so the system has an administrator from
// the first block.
func NewRegistry(owners ...common.Address) *Registry {
	r := &Registry{roles: make(map[Role]map[common.Address]struct{})}
	for _, owner := range owners {
		r.Grant(RoleOwner, owner)
	}
	return r
}

// Grant gives addr the named capability.
func (r *Registry) Grant(role Role, addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.roles[role]
	if !ok {
		members = make(map[common.Address]struct{})
		r.roles[role] = members
	}
	members[addr] = struct{}{}
}

// Revoke removes the named capability from addr.
func (r *Registry) Revoke(role Role, addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.roles[role]; ok {
		delete(members, addr)
	}
}

// Has reports whether addr holds the named capability.
func (r *Registry) Has(role Role, addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, ok := r.roles[role]
	if !ok {
		return false
	}
	_, ok = members[addr]
	return ok
}

// Require returns the role's stable authorization error when addr does not
// hold the capability, nil otherwise.
func (r *Registry) Require(role Role, addr common.Address) error {
	if r.Has(role, addr) {
		return nil
	}
	if err, ok := roleErrors[role]; ok {
		return err
	}
	return fmt.Errorf("!%sRole", role)
}

// RequireAny returns nil when addr holds at least one of the listed
// capabilities. The composite owner/governance and owner/show-stopper gates
// keep their original error identifiers.
func (r *Registry) RequireAny(addr common.Address, roles ...Role) error {
	for _, role := range roles {
		if r.Has(role, addr) {
			return nil
		}
	}
	switch {
	case len(roles) == 2 && roles[0] == RoleOwner && roles[1] == RoleGovernance:
		return ErrNotOwnerOrGovernance
	case len(roles) == 2 && roles[0] == RoleOwner && roles[1] == RoleShowStopper:
		return ErrNotOwnerOrShowStopper
	case len(roles) == 1:
		return r.Require(roles[0], addr)
	}
	return ErrNotOwner
}
