package config

import (
	"errors"
	"fmt"

	"EqaLedger/internal/ledger"
)

var ErrNetworkNotConfigured = errors.New("network not configured")

// Environment is a deployment network.
type Environment string

const (
	Mainnet  Environment = "mainnet"
	Testnet  Environment = "testnet"
	LocalNet Environment = "localnet"
)

func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case Mainnet, Testnet, LocalNet:
		return Environment(s), nil
	default:
		return "", fmt.Errorf("unknown network environment %q", s)
	}
}

// NetworkEndpoints holds the addresses of one environment.
type NetworkEndpoints struct {
	AxelarGateway       string `toml:"axelar_gateway"`
	NobleGateway        string `toml:"noble_gateway"`
	RegistryAddress     string `toml:"registry_address"`
	OracleAddress       string `toml:"oracle_address"`
	FeeCollectorAddress string `toml:"fee_collector_address"`
}

// GatewayAddress resolves the relayer that delivers a collateral source.
func (e NetworkEndpoints) GatewayAddress(source ledger.CollateralSource) (string, error) {
	switch source {
	case ledger.SourceAxelarUSDC:
		return e.AxelarGateway, nil
	case ledger.SourceNobleUSDC:
		return e.NobleGateway, nil
	default:
		return "", fmt.Errorf("gateway: %w: %d", ledger.ErrUnknownSource, int32(source))
	}
}

func (e NetworkEndpoints) validate(env Environment) error {
	fields := []struct{ name, addr string }{
		{"axelar_gateway", e.AxelarGateway},
		{"noble_gateway", e.NobleGateway},
		{"registry_address", e.RegistryAddress},
		{"oracle_address", e.OracleAddress},
		{"fee_collector_address", e.FeeCollectorAddress},
	}
	for _, f := range fields {
		if f.addr == "" {
			return fmt.Errorf("network.%s.%s must be set", env, f.name)
		}
	}
	return nil
}

// NetworkConfig selects the active environment. With FallbackEnabled, testnet
// resolves to a configured mainnet, and localnet to mainnet then testnet.
type NetworkConfig struct {
	Active          Environment       `toml:"active"`
	FallbackEnabled bool              `toml:"fallback_enabled"`
	Mainnet         *NetworkEndpoints `toml:"mainnet"`
	Testnet         *NetworkEndpoints `toml:"testnet"`
	LocalNet        *NetworkEndpoints `toml:"localnet"`
}

func (n NetworkConfig) endpoints(env Environment) *NetworkEndpoints {
	switch env {
	case Mainnet:
		return n.Mainnet
	case Testnet:
		return n.Testnet
	case LocalNet:
		return n.LocalNet
	default:
		return nil
	}
}

// ActiveNetwork follows the fallback chain and returns the resolved environment.
func (n NetworkConfig) ActiveNetwork() (Environment, NetworkEndpoints, error) {
	chain := []Environment{n.Active}
	if n.FallbackEnabled {
		switch n.Active {
		case Testnet:
			chain = []Environment{Mainnet, Testnet}
		case LocalNet:
			chain = []Environment{Mainnet, Testnet, LocalNet}
		}
	}
	for _, env := range chain {
		if ep := n.endpoints(env); ep != nil {
			return env, *ep, nil
		}
	}
	return "", NetworkEndpoints{}, fmt.Errorf("%w: %s", ErrNetworkNotConfigured, n.Active)
}

// GatewayAddress resolves the relayer for source on the active network.
func (n NetworkConfig) GatewayAddress(source ledger.CollateralSource) (string, error) {
	_, ep, err := n.ActiveNetwork()
	if err != nil {
		return "", err
	}
	return ep.GatewayAddress(source)
}

func (n NetworkConfig) Validate() error {
	if _, err := ParseEnvironment(string(n.Active)); err != nil {
		return err
	}
	for _, env := range []Environment{Mainnet, Testnet, LocalNet} {
		if ep := n.endpoints(env); ep != nil {
			if err := ep.validate(env); err != nil {
				return err
			}
		}
	}
	_, _, err := n.ActiveNetwork()
	return err
}
