package config

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/sigweihq/knowpay/pkg/chains"
	"github.com/sigweihq/knowpay/pkg/constants"
)

// cluster markers found in public RPC hostnames
var (
	testnetMarkers = []string{"devnet", "testnet", "sepolia", "goerli"}
	mainnetMarkers = []string{"mainnet"}
)

// CheckNetworkConsistency verifies that the x402 network and the blockchain
// connection settings describe the same chain. It has no side effects.
func CheckNetworkConsistency(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration missing")
	}
	if !chains.IsKnownNetwork(cfg.Network) {
		return &chains.UnsupportedNetworkError{Network: cfg.Network}
	}

	endpoints := cfg.Endpoints()
	if len(endpoints) == 0 {
		return fmt.Errorf("no RPC endpoints for network %s", cfg.Network)
	}

	testnet := constants.TestnetNetworks[cfg.Network]
	for _, endpoint := range endpoints {
		u, err := url.Parse(endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid RPC endpoint %q", endpoint)
		}

		host := strings.ToLower(u.Hostname())
		switch {
		case containsAny(host, testnetMarkers) && !testnet:
			return fmt.Errorf("RPC endpoint %s is a test network but X402_NETWORK is %s", host, cfg.Network)
		case containsAny(host, mainnetMarkers) && testnet:
			return fmt.Errorf("RPC endpoint %s is a mainnet but X402_NETWORK is %s", host, cfg.Network)
		case strings.Contains(host, "solana") && !chains.IsSVMNetwork(cfg.Network):
			return fmt.Errorf("RPC endpoint %s serves Solana but X402_NETWORK is %s", host, cfg.Network)
		}
	}

	if cfg.FeeBasisPoints < 0 || cfg.FeeBasisPoints > constants.BasisPointsDenominator {
		return fmt.Errorf("fee basis points out of range: %d", cfg.FeeBasisPoints)
	}

	return nil
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// Readiness caches the one-time consistency check
type Readiness struct {
	cfg  *Config
	once sync.Once
	err  error
}

func NewReadiness(cfg *Config) *Readiness {
	return &Readiness{cfg: cfg}
}

// Check runs CheckNetworkConsistency on first use and returns the cached result afterwards
func (r *Readiness) Check() error {
	r.once.Do(func() {
		r.err = CheckNetworkConsistency(r.cfg)
	})
	return r.err
}

// Ready reports whether payment endpoints may serve
func (r *Readiness) Ready() bool {
	return r.Check() == nil
}
