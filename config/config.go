package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"lendbook/native/common"
	"lendbook/native/lendbook"
)

// Config drives the daemon: listen addresses, data directory, oracle feeds and
// the book's protocol parameters.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	Environment    string `toml:"Environment"`

	Oracle   OracleConfig   `toml:"oracle"`
	Book     BookConfig     `toml:"book"`
	Interest InterestConfig `toml:"interest"`
	Pauses   PausesConfig   `toml:"pauses"`
}

// OracleConfig selects and orders the price feeds consulted by the daemon.
type OracleConfig struct {
	Priority           []string `toml:"Priority"`
	MaxQuoteAgeSeconds int64    `toml:"MaxQuoteAgeSeconds"`
	HTTPEndpoint       string   `toml:"HTTPEndpoint"`
	HTTPAPIKey         string   `toml:"HTTPAPIKey"`
}

// BookConfig exposes the protocol safety limits. Residual floors are given in
// whole units and scaled to 18 decimals when converted.
type BookConfig struct {
	MinResidualQuote   int64  `toml:"MinResidualQuote"`
	MinResidualBase    int64  `toml:"MinResidualBase"`
	MaxRelocations     int    `toml:"MaxRelocations"`
	OracleToleranceBps uint64 `toml:"OracleToleranceBps"`
	LiquidationFeeBps  uint64 `toml:"LiquidationFeeBps"`
	AllowSelfLending   bool   `toml:"AllowSelfLending"`
	PairedPremiumBps   uint64 `toml:"PairedPremiumBps"`
	PairedDiscountBps  uint64 `toml:"PairedDiscountBps"`
}

// InterestConfig sets the per-market rate curve in basis points per year.
type InterestConfig struct {
	BaseRateBps   uint64 `toml:"BaseRateBps"`
	SlopeBps      uint64 `toml:"SlopeBps"`
	CrossSlopeBps uint64 `toml:"CrossSlopeBps"`
}

// PausesConfig disables individual operations for incident response.
type PausesConfig struct {
	Deposit     bool `toml:"Deposit"`
	Withdraw    bool `toml:"Withdraw"`
	Borrow      bool `toml:"Borrow"`
	Repay       bool `toml:"Repay"`
	Take        bool `toml:"Take"`
	Liquidate   bool `toml:"Liquidate"`
	PairedPrice bool `toml:"PairedPrice"`
	Borrowable  bool `toml:"Borrowable"`
}

// Load reads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8545"
	}
	if strings.TrimSpace(c.MetricsAddress) == "" {
		c.MetricsAddress = ":9090"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./lendbook-data"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "local"
	}
	if len(c.Oracle.Priority) == 0 {
		c.Oracle.Priority = []string{"manual"}
	}
	if c.Oracle.MaxQuoteAgeSeconds <= 0 {
		c.Oracle.MaxQuoteAgeSeconds = 120
	}
	defaults := lendbook.DefaultParams()
	if c.Book.MinResidualQuote <= 0 {
		c.Book.MinResidualQuote = 100
	}
	if c.Book.MinResidualBase <= 0 {
		c.Book.MinResidualBase = 2
	}
	if c.Book.MaxRelocations <= 0 {
		c.Book.MaxRelocations = defaults.MaxRelocations
	}
	if c.Book.OracleToleranceBps == 0 {
		c.Book.OracleToleranceBps = defaults.OracleToleranceBps
	}
	if c.Book.LiquidationFeeBps == 0 {
		c.Book.LiquidationFeeBps = defaults.LiquidationFeeBps
	}
	if c.Book.PairedPremiumBps == 0 {
		c.Book.PairedPremiumBps = defaults.PairedPremiumBps
	}
	if c.Book.PairedDiscountBps == 0 {
		c.Book.PairedDiscountBps = defaults.PairedDiscountBps
	}
	if c.Interest.BaseRateBps == 0 && c.Interest.SlopeBps == 0 && c.Interest.CrossSlopeBps == 0 {
		c.Interest = InterestConfig{BaseRateBps: 200, SlopeBps: 1500, CrossSlopeBps: 150}
	}
}

// BookParams converts the configured limits into engine parameters.
func (c *Config) BookParams() lendbook.Params {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return lendbook.Params{
		MinResidualQuote:   new(big.Int).Mul(big.NewInt(c.Book.MinResidualQuote), scale),
		MinResidualBase:    new(big.Int).Mul(big.NewInt(c.Book.MinResidualBase), scale),
		MaxRelocations:     c.Book.MaxRelocations,
		OracleToleranceBps: c.Book.OracleToleranceBps,
		LiquidationFeeBps:  c.Book.LiquidationFeeBps,
		AllowSelfLending:   c.Book.AllowSelfLending,
		PairedPremiumBps:   c.Book.PairedPremiumBps,
		PairedDiscountBps:  c.Book.PairedDiscountBps,
	}
}

// InterestModel converts the configured rate curve into the engine model.
func (c *Config) InterestModel() *lendbook.InterestModel {
	return lendbook.NewInterestModel(c.Interest.BaseRateBps, c.Interest.SlopeBps, c.Interest.CrossSlopeBps)
}

// ActionPauses converts the pause toggles into the guard view.
func (c *Config) ActionPauses() common.ActionPauses {
	return common.ActionPauses{
		Deposit:     c.Pauses.Deposit,
		Withdraw:    c.Pauses.Withdraw,
		Borrow:      c.Pauses.Borrow,
		Repay:       c.Pauses.Repay,
		Take:        c.Pauses.Take,
		Liquidate:   c.Pauses.Liquidate,
		PairedPrice: c.Pauses.PairedPrice,
		Borrowable:  c.Pauses.Borrowable,
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}
