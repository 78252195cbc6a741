// Package config loads bot settings: defaults, then an optional YAML
// file, then environment overrides for secrets and endpoints.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"gridbot/pkg/grid"
)

type GridConfig struct {
	MinSpacing     float64 `yaml:"min_spacing"`
	MaxSpacing     float64 `yaml:"max_spacing"`
	MinRange       float64 `yaml:"min_range"`
	MaxRange       float64 `yaml:"max_range"`
	SafeSpread     float64 `yaml:"safe_spread"`
	OrderSizeUSDT  float64 `yaml:"order_size_usdt"`
	PricePrecision int32   `yaml:"price_precision"`
	// RebalanceSeconds is the minimum interval between grid rebalances.
	RebalanceSeconds int `yaml:"rebalance_seconds"`
}

type ProtectConfig struct {
	StopLossPct        float64 `yaml:"stop_loss_pct"`
	TPOffset           float64 `yaml:"tp_offset"`
	SLTolerance        float64 `yaml:"sl_tolerance"`
	GridPriceTolerance float64 `yaml:"grid_price_tolerance"`
}

type Config struct {
	Symbol    string `yaml:"symbol"`
	Asset     string `yaml:"asset"`
	Leverage  int    `yaml:"leverage"`
	Simulated bool   `yaml:"simulated"`
	Testnet   bool   `yaml:"testnet"`

	Grid    GridConfig    `yaml:"grid"`
	Protect ProtectConfig `yaml:"protect"`

	StateFile   string `yaml:"state_file"`
	JournalFile string `yaml:"journal_file"`
	MetricsAddr string `yaml:"metrics_addr"`

	// Secrets come from the environment only.
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

func Default() Config {
	return Config{
		Symbol:   "ethusdt",
		Asset:    "usdt",
		Leverage: 10,
		Grid: GridConfig{
			MinSpacing:       0.0011,
			MaxSpacing:       0.0039,
			MinRange:         0.0033,
			MaxRange:         0.0160,
			SafeSpread:       0.001,
			OrderSizeUSDT:    10,
			PricePrecision:   2,
			RebalanceSeconds: 180,
		},
		Protect: ProtectConfig{
			StopLossPct:        0.039,
			TPOffset:           0.0002,
			SLTolerance:        0.002,
			GridPriceTolerance: 0.5,
		},
		StateFile:   "state.json",
		JournalFile: "journal.db",
		MetricsAddr: ":9090",
	}
}

// Load builds the config. A missing file is fine; a present but invalid
// one is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: failed to parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.APIKey = os.Getenv("BINANCE_KEY")
	c.APISecret = os.Getenv("BINANCE_SECRET")

	if v := os.Getenv("GRIDBOT_SYMBOL"); v != "" {
		c.Symbol = v
	}
	if v := os.Getenv("GRIDBOT_SIMULATED"); v != "" {
		c.Simulated, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("GRIDBOT_TESTNET"); v != "" {
		c.Testnet, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("GRIDBOT_STATE_FILE"); v != "" {
		c.StateFile = v
	}
	if v := os.Getenv("GRIDBOT_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
}

func (c *Config) validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("config: symbol is required")
	}
	if c.Grid.MinSpacing <= 0 || c.Grid.MaxSpacing < c.Grid.MinSpacing {
		return fmt.Errorf("config: invalid grid spacing range [%v, %v]", c.Grid.MinSpacing, c.Grid.MaxSpacing)
	}
	if c.Grid.MinRange <= 0 || c.Grid.MaxRange < c.Grid.MinRange {
		return fmt.Errorf("config: invalid grid depth range [%v, %v]", c.Grid.MinRange, c.Grid.MaxRange)
	}
	if c.Grid.OrderSizeUSDT <= 0 {
		return fmt.Errorf("config: order size must be positive")
	}
	if c.Protect.StopLossPct <= 0 || c.Protect.StopLossPct >= 1 {
		return fmt.Errorf("config: stop loss pct %v out of (0,1)", c.Protect.StopLossPct)
	}
	if !c.Simulated && (c.APIKey == "" || c.APISecret == "") {
		return fmt.Errorf("config: BINANCE_KEY and BINANCE_SECRET are required outside simulated mode")
	}
	return nil
}

// GridParams converts the float tunables into the planner's decimals.
func (c *Config) GridParams() grid.Params {
	return grid.Params{
		MinSpacing:     decimal.NewFromFloat(c.Grid.MinSpacing),
		MaxSpacing:     decimal.NewFromFloat(c.Grid.MaxSpacing),
		MinRange:       decimal.NewFromFloat(c.Grid.MinRange),
		MaxRange:       decimal.NewFromFloat(c.Grid.MaxRange),
		SafeSpread:     decimal.NewFromFloat(c.Grid.SafeSpread),
		PricePrecision: c.Grid.PricePrecision,
	}
}

// RESTBaseURL returns the futures REST endpoint for the environment.
func (c *Config) RESTBaseURL() string {
	if c.Testnet {
		return "https://testnet.binancefuture.com"
	}
	return "https://fapi.binance.com"
}

// WSBaseURL returns the futures websocket endpoint for the environment.
func (c *Config) WSBaseURL() string {
	if c.Testnet {
		return "wss://stream.binancefuture.com"
	}
	return "wss://fstream.binance.com"
}
