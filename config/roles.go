package config

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/leyr1112/alpaca-stablecoin/native/access"
)

var knownRoles = map[string]access.Role{
	"owner":                   access.RoleOwner,
	"governance":              access.RoleGovernance,
	"price-oracle":            access.RolePriceOracle,
	"adapter":                 access.RoleAdapter,
	"mintable":                access.RoleMintable,
	"position-manager":        access.RolePositionManager,
	"stability-fee-collector": access.RoleStabilityFeeCollector,
	"liquidation-engine":      access.RoleLiquidationEngine,
	"liquidation-strategy":    access.RoleLiquidationStrategy,
	"show-stopper":            access.RoleShowStopper,
}

// LoadRoles reads a YAML overlay mapping capability names to hex addresses,
// used to seed the registry at startup:
//
//	owner:
//	  - "0xabc..."
//	liquidation-engine:
//	  - "0xdef..."
func LoadRoles(path string) (map[access.Role][]common.Address, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roles file %s: %w", path, err)
	}
	var decoded map[string][]string
	if err := yaml.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode roles file %s: %w", path, err)
	}

	grants := make(map[access.Role][]common.Address, len(decoded))
	for name, addrs := range decoded {
		role, ok := knownRoles[name]
		if !ok {
			return nil, fmt.Errorf("roles file %s: unknown role %q", path, name)
		}
		for _, addr := range addrs {
			if !common.IsHexAddress(addr) {
				return nil, fmt.Errorf("roles file %s: role %q: invalid address %q", path, name, addr)
			}
			grants[role] = append(grants[role], common.HexToAddress(addr))
		}
	}
	if len(grants[access.RoleOwner]) == 0 {
		return nil, fmt.Errorf("roles file %s: at least one owner required", path)
	}
	return grants, nil
}
