package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"EqaLedger/internal/ledger"
	fpmath "EqaLedger/internal/math"
	"EqaLedger/internal/state"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eqaledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, fpmath.Permille(1), cfg.Fees.BaseFeeRate)
	require.Equal(t, fpmath.Percent(5), cfg.Fees.MaxFeeRate)
	require.Equal(t, uint64(110), cfg.Liquidation.ThresholdRatio)
	require.True(t, cfg.Liquidation.IsActive)
	require.Equal(t, int64(0), cfg.Supply.Cap)
	require.Equal(t, 5, cfg.NATS.MaxDeliver)
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "eqaledger.example.toml"))
	require.NoError(t, err)

	require.Equal(t, Mainnet, cfg.Network.Active)
	require.Equal(t, 10*time.Millisecond, cfg.Engine.PersistFlushTimeout)
	require.Equal(t, fpmath.MustParseDecimal("0.01"), cfg.Fees.DeviationThreshold)
	require.Equal(t, []string{"eqa-admin-1"}, cfg.Admin.Addresses)

	gw, err := cfg.Network.GatewayAddress(ledger.SourceNobleUSDC)
	require.NoError(t, err)
	require.Equal(t, "noble-gateway-mainnet", gw)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[fees]
base_fee_rate = "0.01"

[supply]
cap = 1000000

[liquidation]
threshold_ratio = 150
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, fpmath.Percent(1), cfg.Fees.BaseFeeRate)
	require.Equal(t, fpmath.Percent(5), cfg.Fees.MaxFeeRate)
	require.Equal(t, int64(1_000_000), cfg.Supply.Cap)
	require.Equal(t, uint64(150), cfg.CoreConfig(0).Liquidation.ThresholdRatio)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[server]
grpc_addr = ":7000"
`)
	t.Setenv("EQA_GRPC_ADDR", ":7100")
	t.Setenv("EQA_ADMIN_ADDRESSES", "a1, a2,,")
	t.Setenv("EQA_SUPPLY_CAP", "42")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7100", cfg.Server.GRPCAddr)
	require.Equal(t, []string{"a1", "a2"}, cfg.Admin.Addresses)
	require.Equal(t, int64(42), cfg.Supply.Cap)
}

func TestLoad_RejectsMalformedEnvInt(t *testing.T) {
	for _, key := range []string{"EQA_SUPPLY_CAP", "EQA_PERSIST_BATCH_SIZE", "EQA_SNAPSHOT_INTERVAL"} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, "1e12")
			_, err := Load("")
			require.ErrorContains(t, err, key)
		})
	}
}

func TestCoreConfig_CarriesOracleDenom(t *testing.T) {
	path := writeConfig(t, "[oracle]\ndenom = \"USDC\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "USDC", cfg.CoreConfig(0).PriceDenom)

	t.Setenv("EQA_ORACLE_DENOM", "EQA")
	cfg, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, "EQA", cfg.CoreConfig(0).PriceDenom)
}

func TestLoad_RejectsInvalidEconomics(t *testing.T) {
	cases := map[string]string{
		"threshold below 100": "[liquidation]\nthreshold_ratio = 99\n",
		"liquidation fee":     "[liquidation]\nliquidation_fee = 21\n",
		"fee cap ceiling":     "[fees]\nmax_fee_rate = \"0.2\"\n",
		"base above max":      "[fees]\nbase_fee_rate = \"0.06\"\n",
		"reward above half":   "[arbitrage]\nreward_percentage = \"0.6\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.ErrorIs(t, err, state.ErrInvalidConfiguration)
		})
	}
}

func TestLoad_RejectsMalformedDecimal(t *testing.T) {
	_, err := Load(writeConfig(t, "[fees]\nbase_fee_rate = \"abc\"\n"))
	require.Error(t, err)
}

func TestLoad_RejectsUnknownNetwork(t *testing.T) {
	t.Setenv("EQA_NETWORK", "devnet")
	_, err := Load("")
	require.Error(t, err)
}

func endpoints(tag string) *NetworkEndpoints {
	return &NetworkEndpoints{
		AxelarGateway:       "axelar-" + tag,
		NobleGateway:        "noble-" + tag,
		RegistryAddress:     "registry-" + tag,
		OracleAddress:       "oracle-" + tag,
		FeeCollectorAddress: "fees-" + tag,
	}
}

func TestActiveNetwork_FallbackChain(t *testing.T) {
	tests := []struct {
		name     string
		cfg      NetworkConfig
		expected Environment
	}{
		{
			name:     "mainnet never falls back",
			cfg:      NetworkConfig{Active: Mainnet, FallbackEnabled: true, Mainnet: endpoints("m"), Testnet: endpoints("t")},
			expected: Mainnet,
		},
		{
			name:     "testnet prefers configured mainnet",
			cfg:      NetworkConfig{Active: Testnet, FallbackEnabled: true, Mainnet: endpoints("m"), Testnet: endpoints("t")},
			expected: Mainnet,
		},
		{
			name:     "testnet without mainnet",
			cfg:      NetworkConfig{Active: Testnet, FallbackEnabled: true, Testnet: endpoints("t")},
			expected: Testnet,
		},
		{
			name:     "localnet falls back to testnet",
			cfg:      NetworkConfig{Active: LocalNet, FallbackEnabled: true, Testnet: endpoints("t"), LocalNet: endpoints("l")},
			expected: Testnet,
		},
		{
			name:     "fallback disabled",
			cfg:      NetworkConfig{Active: LocalNet, Mainnet: endpoints("m"), LocalNet: endpoints("l")},
			expected: LocalNet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, _, err := tt.cfg.ActiveNetwork()
			require.NoError(t, err)
			require.Equal(t, tt.expected, env)
		})
	}
}

func TestActiveNetwork_NotConfigured(t *testing.T) {
	cfg := NetworkConfig{Active: Mainnet, Testnet: endpoints("t")}
	_, _, err := cfg.ActiveNetwork()
	require.ErrorIs(t, err, ErrNetworkNotConfigured)
}

func TestGatewayAddress_PerSource(t *testing.T) {
	cfg := NetworkConfig{Active: Testnet, Testnet: endpoints("t")}

	gw, err := cfg.GatewayAddress(ledger.SourceAxelarUSDC)
	require.NoError(t, err)
	require.Equal(t, "axelar-t", gw)

	_, err = cfg.GatewayAddress(ledger.CollateralSource(9))
	require.ErrorIs(t, err, ledger.ErrUnknownSource)
}
