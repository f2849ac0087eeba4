package access

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func TestGrantRevoke(t *testing.T) {
	registry := NewRegistry(addr(0x01))
	if !registry.Has(RoleOwner, addr(0x01)) {
		t.Fatalf("seed owner missing")
	}
	if registry.Has(RoleOwner, addr(0x02)) {
		t.Fatalf("unexpected owner grant")
	}

	registry.Grant(RoleAdapter, addr(0x02))
	if err := registry.Require(RoleAdapter, addr(0x02)); err != nil {
		t.Fatalf("require adapter: %v", err)
	}
	registry.Revoke(RoleAdapter, addr(0x02))
	if err := registry.Require(RoleAdapter, addr(0x02)); !errors.Is(err, ErrNotAdapter) {
		t.Fatalf("expected !adapterRole, got %v", err)
	}
}

func TestRequireUsesStableIdentifiers(t *testing.T) {
	registry := NewRegistry()
	cases := []struct {
		role Role
		want error
	}{
		{RoleOwner, ErrNotOwner},
		{RolePriceOracle, ErrNotPriceOracle},
		{RoleMintable, ErrNotMintable},
		{RoleStabilityFeeCollector, ErrNotStabilityFeeCollector},
		{RoleLiquidationEngine, ErrNotLiquidationEngine},
		{RoleShowStopper, ErrNotShowStopper},
	}
	for _, tc := range cases {
		if err := registry.Require(tc.role, addr(0x09)); !errors.Is(err, tc.want) {
			t.Fatalf("role %s: expected %v, got %v", tc.role, tc.want, err)
		}
	}
}

func TestRequireAnyCompositeGates(t *testing.T) {
	registry := NewRegistry(addr(0x01))
	registry.Grant(RoleGovernance, addr(0x02))
	registry.Grant(RoleShowStopper, addr(0x03))

	if err := registry.RequireAny(addr(0x02), RoleOwner, RoleGovernance); err != nil {
		t.Fatalf("governance should pass owner-or-gov gate: %v", err)
	}
	if err := registry.RequireAny(addr(0x03), RoleOwner, RoleGovernance); !errors.Is(err, ErrNotOwnerOrGovernance) {
		t.Fatalf("expected owner-or-gov error, got %v", err)
	}
	if err := registry.RequireAny(addr(0x03), RoleOwner, RoleShowStopper); err != nil {
		t.Fatalf("show stopper should pass cage gate: %v", err)
	}
	if err := registry.RequireAny(addr(0x04), RoleOwner, RoleShowStopper); !errors.Is(err, ErrNotOwnerOrShowStopper) {
		t.Fatalf("expected owner-or-show-stopper error, got %v", err)
	}
}
