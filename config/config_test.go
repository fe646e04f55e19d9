package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pegstable.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[psm]
ModuleAddress = "0x0000000000000000000000000000000000000001"
MintFeeBps = 30
RedeemFeeBps = 30
ReservesThresholdWei = "1e7"
BufferCapWei = "1e7"
ReplenishRateWei = "10000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddress)
	require.Equal(t, "WNAT", cfg.PSM.ReserveSymbol)
	require.Equal(t, uint64(300), cfg.PSM.OracleMaxAgeSeconds)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
ListenAddress = ":9090"
DataDir = "/var/lib/pegstable"

[log]
Environment = "prod"
FilePath = "/var/log/pegstable.log"

[gateway]
RequestsPerMinute = 120.0
Burst = 5

[psm]
ReserveSymbol = "wbase"
IssuedSymbol = "stab"
ModuleAddress = "0x0000000000000000000000000000000000000002"
MintFeeBps = 10
RedeemFeeBps = 20
ReservesThresholdWei = "5_000_000"
BufferCapWei = "2e6"
ReplenishRateWei = "500"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.ListenAddress)
	require.Equal(t, "prod", cfg.Log.Environment)
	require.Equal(t, float64(120), cfg.Gateway.RequestsPerMinute)

	params, err := cfg.PSM.Parameters()
	require.NoError(t, err)
	require.Equal(t, "WBASE", params.ReserveSymbol)
	require.Equal(t, "STAB", params.IssuedSymbol)
	require.EqualValues(t, 10, params.MintFeeBps)
}

func TestLoadRejectsInvalidModuleSection(t *testing.T) {
	path := writeConfig(t, `
[psm]
ModuleAddress = "0x0000000000000000000000000000000000000001"
MintFeeBps = 10000
ReservesThresholdWei = "0"
BufferCapWei = "0"
ReplenishRateWei = "0"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRequiresPath(t *testing.T) {
	_, err := Load("   ")
	require.Error(t, err)
}
