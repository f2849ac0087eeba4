package config

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/leyr1112/alpaca-stablecoin/native/access"
	"github.com/leyr1112/alpaca-stablecoin/native/fixedpoint"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stablecoin.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file missing: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1:8646" {
		t.Fatalf("listen address = %q", cfg.ListenAddress)
	}
	if len(cfg.Pools) != 1 || cfg.Pools[0].ID != "WXDC" {
		t.Fatalf("default pools = %+v", cfg.Pools)
	}
	if cfg.SnapshotInterval.Duration != 30*time.Second {
		t.Fatalf("snapshot interval = %s", cfg.SnapshotInterval.Duration)
	}
	rate, err := cfg.Pools[0].FeeRate()
	if err != nil {
		t.Fatalf("fee rate: %v", err)
	}
	if rate.Cmp(fixedpoint.Ray) != 0 {
		t.Fatalf("fee rate = %s, want 1 ray", rate)
	}
}

func TestLoadValidation(t *testing.T) {
	base := `ListenAddress = "127.0.0.1:0"
[[Pools]]
ID = "WXDC"
CloseFactorBps = 5000
LiquidatorIncentiveBps = %d
TreasuryFeesBps = 100
LiquidationRatioBps = 15000
`
	path := writeFile(t, "bad.toml", strings.Replace(base, "%d", "9000", 1))
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "liquidator incentive") {
		t.Fatalf("incentive validation: %v", err)
	}
	path = writeFile(t, "dup.toml", `ListenAddress = "127.0.0.1:0"
[[Pools]]
ID = "WXDC"
LiquidatorIncentiveBps = 10250
LiquidationRatioBps = 10000
[[Pools]]
ID = "WXDC"
LiquidatorIncentiveBps = 10250
LiquidationRatioBps = 10000
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "duplicate pool") {
		t.Fatalf("duplicate validation: %v", err)
	}
}

func TestPoolConversions(t *testing.T) {
	pool := PoolConfig{DebtCeiling: 3, DebtFloor: 2, LiquidationRatioBps: 15_000}
	wantCeiling := new(big.Int).Mul(big.NewInt(3), fixedpoint.Rad)
	if pool.DebtCeilingRad().Cmp(wantCeiling) != 0 {
		t.Fatalf("ceiling = %s", pool.DebtCeilingRad())
	}
	wantFloor := new(big.Int).Mul(big.NewInt(2), fixedpoint.Rad)
	if pool.DebtFloorRad().Cmp(wantFloor) != 0 {
		t.Fatalf("floor = %s", pool.DebtFloorRad())
	}
	wantRatio := new(big.Int).Mul(big.NewInt(3), fixedpoint.Ray)
	wantRatio.Div(wantRatio, big.NewInt(2))
	if pool.LiquidationRatio().Cmp(wantRatio) != 0 {
		t.Fatalf("ratio = %s, want %s", pool.LiquidationRatio(), wantRatio)
	}
}

func TestLoadRoles(t *testing.T) {
	path := writeFile(t, "roles.yaml", `owner:
  - "0x0000000000000000000000000000000000000001"
liquidation-engine:
  - "0x0000000000000000000000000000000000000002"
`)
	grants, err := LoadRoles(path)
	if err != nil {
		t.Fatalf("load roles: %v", err)
	}
	if len(grants[access.RoleOwner]) != 1 || grants[access.RoleOwner][0] != common.HexToAddress("0x01") {
		t.Fatalf("owner grants = %v", grants[access.RoleOwner])
	}
	if len(grants[access.RoleLiquidationEngine]) != 1 {
		t.Fatalf("engine grants = %v", grants[access.RoleLiquidationEngine])
	}

	bad := writeFile(t, "bad-role.yaml", `janitor:
  - "0x0000000000000000000000000000000000000001"
`)
	if _, err := LoadRoles(bad); err == nil || !strings.Contains(err.Error(), "unknown role") {
		t.Fatalf("unknown role: %v", err)
	}
	noOwner := writeFile(t, "no-owner.yaml", `governance:
  - "0x0000000000000000000000000000000000000001"
`)
	if _, err := LoadRoles(noOwner); err == nil || !strings.Contains(err.Error(), "owner required") {
		t.Fatalf("owner required: %v", err)
	}
}
