package evm

import (
	"log/slog"
	"time"

	"github.com/sigweihq/knowpay/pkg/chains"
	"github.com/sigweihq/knowpay/pkg/constants"
)

// RegisterEVMReaders registers a reader per EVM network with user-provided endpoints.
// If a specific network has no endpoints, falls back to official endpoints if available.
// Networks outside the EVM family are skipped.
func RegisterEVMReaders(registry *chains.Registry, logger *slog.Logger, endpoints map[string][]string, timeout time.Duration) {
	if logger == nil {
		logger = slog.Default()
	}

	for network, eps := range endpoints {
		if !chains.IsEVMNetwork(network) {
			continue
		}

		if len(eps) == 0 {
			officialEps, ok := constants.OfficialRPCEndpoints[network]
			if !ok {
				logger.Warn("no endpoints provided for network", "network", network)
				continue
			}
			eps = officialEps
			logger.Info("using official endpoints for EVM network", "network", network)
		}

		reader, err := NewReader(network, eps, timeout, logger)
		if err != nil {
			logger.Warn("failed to create EVM reader", "network", network, "error", err)
			continue
		}

		registry.Register(reader)
	}
}
