package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsAreValidSimulated(t *testing.T) {
	t.Setenv("GRIDBOT_SIMULATED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Symbol != "ethusdt" {
		t.Errorf("expected default symbol ethusdt, got %q", cfg.Symbol)
	}
	if cfg.Grid.RebalanceSeconds != 180 {
		t.Errorf("expected default rebalance interval 180, got %d", cfg.Grid.RebalanceSeconds)
	}
}

func TestLiveModeRequiresKeys(t *testing.T) {
	t.Setenv("BINANCE_KEY", "")
	t.Setenv("BINANCE_SECRET", "")
	t.Setenv("GRIDBOT_SIMULATED", "")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error without API keys in live mode")
	}
}

func TestYAMLAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("symbol: btcusdt\ngrid:\n  min_spacing: 0.002\n  max_spacing: 0.004\n  min_range: 0.006\n  max_range: 0.02\n  safe_spread: 0.001\n  order_size_usdt: 25\n  price_precision: 2\n  rebalance_seconds: 60\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GRIDBOT_SIMULATED", "true")
	t.Setenv("GRIDBOT_SYMBOL", "solusdt")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	// Env wins over file.
	if cfg.Symbol != "solusdt" {
		t.Errorf("expected env symbol solusdt, got %q", cfg.Symbol)
	}
	if cfg.Grid.OrderSizeUSDT != 25 {
		t.Errorf("expected order size 25 from file, got %v", cfg.Grid.OrderSizeUSDT)
	}
	if cfg.Grid.RebalanceSeconds != 60 {
		t.Errorf("expected rebalance interval 60 from file, got %d", cfg.Grid.RebalanceSeconds)
	}
}

func TestInvalidSpacingRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("grid:\n  min_spacing: 0.004\n  max_spacing: 0.001\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GRIDBOT_SIMULATED", "true")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for inverted spacing range")
	}
}
