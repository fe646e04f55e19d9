package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"pegstable/native/psm"
)

// LogConfig controls structured log output.
type LogConfig struct {
	Environment string `toml:"Environment"`
	FilePath    string `toml:"FilePath"`
	MaxSizeMB   int    `toml:"MaxSizeMB"`
	MaxBackups  int    `toml:"MaxBackups"`
	MaxAgeDays  int    `toml:"MaxAgeDays"`
}

// OracleConfig points the price adapter at its upstream feeds. Empty URLs
// leave the corresponding slot unset.
type OracleConfig struct {
	PrimaryURL        string  `toml:"PrimaryURL"`
	BackupURL         string  `toml:"BackupURL"`
	APIKey            string  `toml:"APIKey"`
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
}

// GatewayConfig bounds the public read surface.
type GatewayConfig struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// Config is the top-level daemon configuration.
type Config struct {
	ListenAddress string        `toml:"ListenAddress"`
	DataDir       string        `toml:"DataDir"`
	GenesisFile   string        `toml:"GenesisFile"`
	Log           LogConfig     `toml:"log"`
	Oracle        OracleConfig  `toml:"oracle"`
	Gateway       GatewayConfig `toml:"gateway"`
	PSM           psm.Config    `toml:"psm"`
}

// Default returns the configuration used when a field is absent from the
// file.
func Default() Config {
	return Config{
		ListenAddress: ":8080",
		DataDir:       "./data",
		Gateway: GatewayConfig{
			RequestsPerMinute: 600,
			Burst:             30,
		},
		Oracle: OracleConfig{
			RequestsPerSecond: 1,
		},
		PSM: psm.Config{
			ReserveSymbol:       "WNAT",
			IssuedSymbol:        "PEG",
			OracleMaxAgeSeconds: 300,
		},
	}
}

// Load reads and validates the TOML configuration at path. Missing fields
// fall back to defaults; the psm section must parse into valid runtime
// parameters.
func Load(path string) (Config, error) {
	cfg := Default()
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return cfg, fmt.Errorf("config: path required")
	}
	raw, err := os.ReadFile(trimmed)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", trimmed, err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", trimmed, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the cross-field constraints the decoder cannot express.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: listen address required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: data dir required")
	}
	if _, err := c.PSM.Parameters(); err != nil {
		return err
	}
	return nil
}
