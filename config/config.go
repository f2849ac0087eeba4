// Package config loads the stablecoin service configuration: the TOML
// service file (listen address, data dir, telemetry, pool definitions) and
// the YAML roles overlay that seeds the capability registry.
package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/leyr1112/alpaca-stablecoin/native/fixedpoint"
)

// Config is the service configuration decoded from TOML.
type Config struct {
	ListenAddress         string   `toml:"ListenAddress"`
	DataDir               string   `toml:"DataDir"`
	Environment           string   `toml:"Environment"`
	AuthTokens            []string `toml:"AuthTokens"`
	SnapshotInterval      duration `toml:"SnapshotInterval"`
	FeeCollectionInterval duration `toml:"FeeCollectionInterval"`
	TotalDebtCeiling      int64    `toml:"TotalDebtCeiling"` // whole stablecoins

	Telemetry TelemetryConfig `toml:"Telemetry"`
	Pools     []PoolConfig    `toml:"Pools"`
}

// TelemetryConfig mirrors the OTLP exporter knobs.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// PoolConfig defines one collateral pool's genesis parameters. Monetary
// bounds are whole stablecoins; the fee rate is a Ray-scale integer string.
type PoolConfig struct {
	ID                     string `toml:"ID"`
	DebtCeiling            int64  `toml:"DebtCeiling"`
	DebtFloor              int64  `toml:"DebtFloor"`
	CloseFactorBps         uint64 `toml:"CloseFactorBps"`
	LiquidatorIncentiveBps uint64 `toml:"LiquidatorIncentiveBps"`
	TreasuryFeesBps        uint64 `toml:"TreasuryFeesBps"`
	LiquidationRatioBps    uint64 `toml:"LiquidationRatioBps"`
	StabilityFeeRate       string `toml:"StabilityFeeRate"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

const defaultConfig = `ListenAddress = "127.0.0.1:8646"
DataDir = "./data"
Environment = "local"
AuthTokens = []
SnapshotInterval = "30s"
FeeCollectionInterval = "15s"
TotalDebtCeiling = 1000000

[Telemetry]
Endpoint = ""
Insecure = true
Headers = ""
Metrics = false
Traces = false

[[Pools]]
ID = "WXDC"
DebtCeiling = 500000
DebtFloor = 100
CloseFactorBps = 5000
LiquidatorIncentiveBps = 10250
TreasuryFeesBps = 100
LiquidationRatioBps = 15000
StabilityFeeRate = "1000000000000000000000000000"
`

// Load reads the configuration at path, writing a commented default file
// first when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(defaultConfig), 0o644)
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = "127.0.0.1:8646"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	if c.SnapshotInterval.Duration == 0 {
		c.SnapshotInterval.Duration = 30 * time.Second
	}
	if c.FeeCollectionInterval.Duration == 0 {
		c.FeeCollectionInterval.Duration = 15 * time.Second
	}
	for i := range c.Pools {
		if strings.TrimSpace(c.Pools[i].StabilityFeeRate) == "" {
			c.Pools[i].StabilityFeeRate = fixedpoint.Ray.String()
		}
	}
}

// Validate rejects configurations the core would refuse at runtime.
func (c *Config) Validate() error {
	if c.TotalDebtCeiling < 0 {
		return fmt.Errorf("config: negative total debt ceiling")
	}
	seen := make(map[string]struct{}, len(c.Pools))
	for _, pool := range c.Pools {
		id := strings.TrimSpace(pool.ID)
		if id == "" {
			return fmt.Errorf("config: pool with empty ID")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("config: duplicate pool %q", id)
		}
		seen[id] = struct{}{}
		if pool.DebtCeiling < 0 || pool.DebtFloor < 0 {
			return fmt.Errorf("config: pool %q has negative debt bounds", id)
		}
		if pool.CloseFactorBps > 10_000 {
			return fmt.Errorf("config: pool %q close factor above 10000 bps", id)
		}
		if pool.LiquidatorIncentiveBps < 10_000 || pool.LiquidatorIncentiveBps > 12_500 {
			return fmt.Errorf("config: pool %q liquidator incentive outside [10000, 12500] bps", id)
		}
		if pool.TreasuryFeesBps > 2_500 {
			return fmt.Errorf("config: pool %q treasury fees above 2500 bps", id)
		}
		if pool.LiquidationRatioBps < 10_000 {
			return fmt.Errorf("config: pool %q liquidation ratio below 10000 bps", id)
		}
		if _, err := pool.FeeRate(); err != nil {
			return fmt.Errorf("config: pool %q: %w", id, err)
		}
	}
	return nil
}

// FeeRate parses the pool's Ray-scale stability fee rate.
func (p PoolConfig) FeeRate() (*big.Int, error) {
	raw := strings.TrimSpace(p.StabilityFeeRate)
	rate, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid stability fee rate %q", raw)
	}
	if rate.Cmp(fixedpoint.Ray) < 0 {
		return nil, fmt.Errorf("stability fee rate %q below 1 ray", raw)
	}
	return rate, nil
}

// LiquidationRatio converts the configured basis points to the Ray scale.
func (p PoolConfig) LiquidationRatio() *big.Int {
	ratio := new(big.Int).Mul(fixedpoint.Ray, new(big.Int).SetUint64(p.LiquidationRatioBps))
	return ratio.Div(ratio, big.NewInt(10_000))
}

// DebtCeilingRad converts the configured whole-coin ceiling to Rad.
func (p PoolConfig) DebtCeilingRad() *big.Int {
	return new(big.Int).Mul(big.NewInt(p.DebtCeiling), fixedpoint.Rad)
}

// DebtFloorRad converts the configured whole-coin floor to Rad.
func (p PoolConfig) DebtFloorRad() *big.Int {
	return new(big.Int).Mul(big.NewInt(p.DebtFloor), fixedpoint.Rad)
}

// TotalDebtCeilingRad converts the configured global ceiling to Rad.
func (c *Config) TotalDebtCeilingRad() *big.Int {
	return new(big.Int).Mul(big.NewInt(c.TotalDebtCeiling), fixedpoint.Rad)
}
