package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"datalocker/core/epoch"
)

// Config carries the ledger parameters exposed read-only to callers. Deposit
// minimums are decimal strings in the token's smallest unit so they survive
// TOML round-trips without precision loss.
type Config struct {
	DataDir                   string `toml:"DataDir"`
	OwnerAddress              string `toml:"OwnerAddress"`
	EpochDurationSeconds      uint64 `toml:"EpochDurationSeconds"`
	EpochsPerDay              uint64 `toml:"EpochsPerDay"`
	RenewalThresholdDays      uint64 `toml:"RenewalThresholdDays"`
	RenewalPeriodDays         uint64 `toml:"RenewalPeriodDays"`
	MinimumDepositFIL         string `toml:"MinimumDepositFIL"`
	MinimumDepositUSDFC       string `toml:"MinimumDepositUSDFC"`
	LowBalanceRenewalCycles   uint64 `toml:"LowBalanceRenewalCycles"`
	AutomationIntervalSeconds uint64 `toml:"AutomationIntervalSeconds"`
	MetricsListenAddress      string `toml:"MetricsListenAddress"`
	LogLevel                  string `toml:"LogLevel"`
}

// Default returns the production parameters: 30-second epochs, a 30-day
// renewal threshold, a 180-day renewal period, minimums of 1 FIL and
// 100 USDFC, and a three-cycle low-balance floor.
func Default() *Config {
	return &Config{
		DataDir:                   "./locker-data",
		EpochDurationSeconds:      30,
		EpochsPerDay:              2880,
		RenewalThresholdDays:      30,
		RenewalPeriodDays:         180,
		MinimumDepositFIL:         "1000000000000000000",
		MinimumDepositUSDFC:       "100000000",
		LowBalanceRenewalCycles:   3,
		AutomationIntervalSeconds: 300,
		MetricsListenAddress:      ":9464",
		LogLevel:                  "info",
	}
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the configuration is self-consistent.
func (c *Config) Validate() error {
	if _, err := c.EpochConfig(); err != nil {
		return err
	}
	if _, err := c.MinimumDeposit("FIL"); err != nil {
		return err
	}
	if _, err := c.MinimumDeposit("USDFC"); err != nil {
		return err
	}
	if c.LowBalanceRenewalCycles == 0 {
		return fmt.Errorf("low balance renewal cycles must be greater than zero")
	}
	if c.AutomationIntervalSeconds == 0 {
		return fmt.Errorf("automation interval must be greater than zero")
	}
	if addr := strings.TrimSpace(c.OwnerAddress); addr != "" && !common.IsHexAddress(addr) {
		return fmt.Errorf("config: invalid owner address %q", c.OwnerAddress)
	}
	return nil
}

// Owner parses the configured ledger owner address.
func (c *Config) Owner() ([20]byte, error) {
	addr := strings.TrimSpace(c.OwnerAddress)
	if !common.IsHexAddress(addr) {
		return [20]byte{}, fmt.Errorf("config: invalid owner address %q", c.OwnerAddress)
	}
	return [20]byte(common.HexToAddress(addr)), nil
}

// EpochConfig converts the ledger parameters into a validated epoch
// configuration.
func (c *Config) EpochConfig() (epoch.Config, error) {
	cfg := epoch.Config{
		DurationSeconds:      c.EpochDurationSeconds,
		EpochsPerDay:         c.EpochsPerDay,
		RenewalThresholdDays: c.RenewalThresholdDays,
		RenewalPeriodDays:    c.RenewalPeriodDays,
	}
	if err := cfg.Validate(); err != nil {
		return epoch.Config{}, err
	}
	return cfg, nil
}

// MinimumDeposit parses the configured deposit floor for the supplied token
// symbol.
func (c *Config) MinimumDeposit(token string) (*big.Int, error) {
	var raw string
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "FIL":
		raw = c.MinimumDepositFIL
	case "USDFC":
		raw = c.MinimumDepositUSDFC
	default:
		return nil, fmt.Errorf("config: unsupported payment token %s", token)
	}
	minimum, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || minimum.Sign() <= 0 {
		return nil, fmt.Errorf("config: invalid minimum deposit %q for %s", raw, token)
	}
	return minimum, nil
}
